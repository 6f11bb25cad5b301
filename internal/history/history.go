// Package history persists the engine's observability records (ingested GPS
// fixes and route status transitions) to a local sqlite database. It backs
// the ops endpoints and charts; the engine itself never reads it on the hot
// path, and write failures are surfaced as errors for the caller to log.
package history

import (
	"database/sql"
	"fmt"
	"time"

	_ "modernc.org/sqlite"

	"github.com/dispatchgrid/routetrack/internal/track"
)

// Store is a sqlite-backed recorder. It implements track.Recorder.
type Store struct {
	db *sql.DB
}

// Open opens (or creates) the history database at path and ensures the
// schema exists. Use ":memory:" for an ephemeral store.
func Open(path string) (*Store, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open history db: %w", err)
	}

	_, err = db.Exec(`
		CREATE TABLE IF NOT EXISTS gps_fixes (
			id                INTEGER PRIMARY KEY AUTOINCREMENT,
			route_id          TEXT NOT NULL,
			lat               DOUBLE NOT NULL,
			lon               DOUBLE NOT NULL,
			accuracy_m        DOUBLE,
			snapped           INTEGER NOT NULL,
			reject_reason     TEXT,
			progress          DOUBLE,
			snap_distance_m   DOUBLE,
			fix_unix_ms       BIGINT NOT NULL,
			recorded_unix_ms  BIGINT NOT NULL
		);
		CREATE INDEX IF NOT EXISTS idx_gps_fixes_route ON gps_fixes(route_id, fix_unix_ms);
		CREATE TABLE IF NOT EXISTS route_transitions (
			id                INTEGER PRIMARY KEY AUTOINCREMENT,
			route_id          TEXT NOT NULL,
			from_status       TEXT,
			to_status         TEXT NOT NULL,
			progress          DOUBLE,
			at_unix_ms        BIGINT NOT NULL
		);
		CREATE INDEX IF NOT EXISTS idx_route_transitions_route ON route_transitions(route_id, at_unix_ms);
	`)
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("create history schema: %w", err)
	}
	return &Store{db: db}, nil
}

// Close closes the underlying database.
func (s *Store) Close() error {
	return s.db.Close()
}

// RecordFix persists one ingested fix, accepted or rejected.
func (s *Store) RecordFix(rec track.FixRecord) error {
	_, err := s.db.Exec(`
		INSERT INTO gps_fixes (
			route_id, lat, lon, accuracy_m, snapped, reject_reason,
			progress, snap_distance_m, fix_unix_ms, recorded_unix_ms
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		rec.RouteID, rec.Lat, rec.Lon, rec.AccuracyMeters,
		boolToInt(rec.Snapped), string(rec.Reason),
		rec.Progress, rec.SnapDistanceMeters,
		rec.Timestamp.UnixMilli(), time.Now().UnixMilli(),
	)
	if err != nil {
		return fmt.Errorf("insert fix for route %s: %w", rec.RouteID, err)
	}
	return nil
}

// RecordTransition persists one status transition.
func (s *Store) RecordTransition(rec track.TransitionRecord) error {
	_, err := s.db.Exec(`
		INSERT INTO route_transitions (route_id, from_status, to_status, progress, at_unix_ms)
		VALUES (?, ?, ?, ?, ?)`,
		rec.RouteID, string(rec.From), string(rec.To), rec.Progress, rec.At.UnixMilli(),
	)
	if err != nil {
		return fmt.Errorf("insert transition for route %s: %w", rec.RouteID, err)
	}
	return nil
}

// FixRow is one persisted fix, as returned by queries.
type FixRow struct {
	RouteID            string    `json:"route_id"`
	Lat                float64   `json:"lat"`
	Lon                float64   `json:"lon"`
	AccuracyMeters     float64   `json:"accuracy_m"`
	Snapped            bool      `json:"snapped"`
	RejectReason       string    `json:"reject_reason,omitempty"`
	Progress           float64   `json:"progress"`
	SnapDistanceMeters float64   `json:"snap_distance_m"`
	Timestamp          time.Time `json:"timestamp"`
}

// RecentFixes returns up to limit fixes for the route, newest first.
func (s *Store) RecentFixes(routeID string, limit int) ([]FixRow, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := s.db.Query(`
		SELECT route_id, lat, lon, accuracy_m, snapped, reject_reason,
		       progress, snap_distance_m, fix_unix_ms
		FROM gps_fixes
		WHERE route_id = ?
		ORDER BY fix_unix_ms DESC
		LIMIT ?`, routeID, limit)
	if err != nil {
		return nil, fmt.Errorf("query fixes for route %s: %w", routeID, err)
	}
	defer rows.Close()

	var out []FixRow
	for rows.Next() {
		var f FixRow
		var snapped int
		var fixMs int64
		if err := rows.Scan(&f.RouteID, &f.Lat, &f.Lon, &f.AccuracyMeters,
			&snapped, &f.RejectReason, &f.Progress, &f.SnapDistanceMeters, &fixMs); err != nil {
			return nil, fmt.Errorf("scan fix row: %w", err)
		}
		f.Snapped = snapped != 0
		f.Timestamp = time.UnixMilli(fixMs)
		out = append(out, f)
	}
	return out, rows.Err()
}

// ProgressPoint is one (time, progress) sample for charting.
type ProgressPoint struct {
	Timestamp time.Time
	Progress  float64
}

// ProgressSeries returns the accepted-fix progress series for the route in
// chronological order, capped at limit points.
func (s *Store) ProgressSeries(routeID string, limit int) ([]ProgressPoint, error) {
	if limit <= 0 {
		limit = 1000
	}
	rows, err := s.db.Query(`
		SELECT fix_unix_ms, progress
		FROM gps_fixes
		WHERE route_id = ? AND snapped = 1
		ORDER BY fix_unix_ms ASC
		LIMIT ?`, routeID, limit)
	if err != nil {
		return nil, fmt.Errorf("query progress series for route %s: %w", routeID, err)
	}
	defer rows.Close()

	var out []ProgressPoint
	for rows.Next() {
		var ms int64
		var p ProgressPoint
		if err := rows.Scan(&ms, &p.Progress); err != nil {
			return nil, fmt.Errorf("scan progress row: %w", err)
		}
		p.Timestamp = time.UnixMilli(ms)
		out = append(out, p)
	}
	return out, rows.Err()
}

// RejectionCounts returns, per reject reason, how many fixes were rejected
// for the route. Accepted fixes appear under the empty key.
func (s *Store) RejectionCounts(routeID string) (map[string]int64, error) {
	rows, err := s.db.Query(`
		SELECT reject_reason, COUNT(*)
		FROM gps_fixes
		WHERE route_id = ?
		GROUP BY reject_reason`, routeID)
	if err != nil {
		return nil, fmt.Errorf("query rejection counts for route %s: %w", routeID, err)
	}
	defer rows.Close()

	out := make(map[string]int64)
	for rows.Next() {
		var reason string
		var n int64
		if err := rows.Scan(&reason, &n); err != nil {
			return nil, fmt.Errorf("scan rejection count row: %w", err)
		}
		out[reason] = n
	}
	return out, rows.Err()
}

// Transitions returns up to limit transitions for the route, newest first.
func (s *Store) Transitions(routeID string, limit int) ([]track.TransitionRecord, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := s.db.Query(`
		SELECT route_id, from_status, to_status, progress, at_unix_ms
		FROM route_transitions
		WHERE route_id = ?
		ORDER BY at_unix_ms DESC
		LIMIT ?`, routeID, limit)
	if err != nil {
		return nil, fmt.Errorf("query transitions for route %s: %w", routeID, err)
	}
	defer rows.Close()

	var out []track.TransitionRecord
	for rows.Next() {
		var rec track.TransitionRecord
		var from, to string
		var atMs int64
		if err := rows.Scan(&rec.RouteID, &from, &to, &rec.Progress, &atMs); err != nil {
			return nil, fmt.Errorf("scan transition row: %w", err)
		}
		rec.From = track.Status(from)
		rec.To = track.Status(to)
		rec.At = time.UnixMilli(atMs)
		out = append(out, rec)
	}
	return out, rows.Err()
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
