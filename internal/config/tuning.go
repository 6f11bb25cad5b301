package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/dispatchgrid/routetrack/internal/track"
)

// TuningConfig holds engine tuning overrides. All fields are pointers so a
// partial JSON file only overrides what it names; the same shape is served
// by the /api/params endpoint for runtime inspection.
type TuningConfig struct {
	MaxSnapDistanceMeters      *float64 `json:"max_snap_distance_m,omitempty"`
	GPSAccuracyThresholdMeters *float64 `json:"gps_accuracy_threshold_m,omitempty"`
	AnimationTickRateHz        *int     `json:"animation_tick_rate_hz,omitempty"`
	GPSStalenessMs             *int64   `json:"gps_staleness_ms,omitempty"`
	AssumedSpeedMps            *float64 `json:"assumed_speed_mps,omitempty"`
}

// maxTuningFileSize caps tuning files; anything larger is misconfiguration.
const maxTuningFileSize = 1 * 1024 * 1024

// LoadTuningConfig loads a TuningConfig from a JSON file.
func LoadTuningConfig(path string) (*TuningConfig, error) {
	cleanPath := filepath.Clean(path)
	if ext := filepath.Ext(cleanPath); ext != ".json" {
		return nil, fmt.Errorf("tuning file must have .json extension, got %q", ext)
	}

	info, err := os.Stat(cleanPath)
	if err != nil {
		return nil, fmt.Errorf("stat tuning file: %w", err)
	}
	if info.Size() > maxTuningFileSize {
		return nil, fmt.Errorf("tuning file too large: %d bytes (max %d)", info.Size(), maxTuningFileSize)
	}

	data, err := os.ReadFile(cleanPath)
	if err != nil {
		return nil, fmt.Errorf("read tuning file: %w", err)
	}
	var cfg TuningConfig
	if err := json.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("parse tuning file %s: %w", cleanPath, err)
	}
	return &cfg, nil
}

// ApplyTo overlays the set fields onto an engine config.
func (t *TuningConfig) ApplyTo(cfg *track.Config) {
	if t == nil {
		return
	}
	if t.MaxSnapDistanceMeters != nil {
		cfg.MaxSnapDistanceMeters = *t.MaxSnapDistanceMeters
	}
	if t.GPSAccuracyThresholdMeters != nil {
		cfg.GPSAccuracyThresholdMeters = *t.GPSAccuracyThresholdMeters
	}
	if t.AnimationTickRateHz != nil {
		cfg.AnimationTickRateHz = *t.AnimationTickRateHz
	}
	if t.GPSStalenessMs != nil {
		cfg.GPSStaleness = time.Duration(*t.GPSStalenessMs) * time.Millisecond
	}
	if t.AssumedSpeedMps != nil {
		cfg.AssumedSpeedMps = *t.AssumedSpeedMps
	}
}

// Effective reports the tuning actually in force for an engine config, with
// every field populated.
func Effective(cfg track.Config) TuningConfig {
	stalenessMs := cfg.GPSStaleness.Milliseconds()
	return TuningConfig{
		MaxSnapDistanceMeters:      &cfg.MaxSnapDistanceMeters,
		GPSAccuracyThresholdMeters: &cfg.GPSAccuracyThresholdMeters,
		AnimationTickRateHz:        &cfg.AnimationTickRateHz,
		GPSStalenessMs:             &stalenessMs,
		AssumedSpeedMps:            &cfg.AssumedSpeedMps,
	}
}
