package track

import (
	"time"

	"github.com/dispatchgrid/routetrack/internal/snap"
)

// FixRecord is the observability record of one ingested GPS fix, accepted or
// rejected.
type FixRecord struct {
	RouteID            string
	Lat                float64
	Lon                float64
	AccuracyMeters     float64
	Snapped            bool
	Reason             snap.RejectReason
	Progress           float64
	SnapDistanceMeters float64
	Timestamp          time.Time
}

// TransitionRecord is the observability record of one status transition.
type TransitionRecord struct {
	RouteID  string
	From     Status
	To       Status
	Progress float64
	At       time.Time
}

// Recorder receives observability records from the engine. Recorder failures
// are logged and swallowed: persistence must never halt the tick loop or
// reject a fix.
type Recorder interface {
	RecordFix(rec FixRecord) error
	RecordTransition(rec TransitionRecord) error
}

// nopRecorder is installed when no Recorder is configured.
type nopRecorder struct{}

func (nopRecorder) RecordFix(FixRecord) error               { return nil }
func (nopRecorder) RecordTransition(TransitionRecord) error { return nil }
