package track

import (
	"fmt"
	"math"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/dispatchgrid/routetrack/internal/geo"
	"github.com/dispatchgrid/routetrack/internal/monitoring"
	"github.com/dispatchgrid/routetrack/internal/snap"
	"github.com/dispatchgrid/routetrack/internal/timeutil"
)

// Defaults for Config. Staleness sits mid-way in the 3-5s band that keeps
// markers live through ordinary fix gaps without masking a dead transport.
const (
	DefaultMaxSnapDistanceMeters      = 100.0
	DefaultGPSAccuracyThresholdMeters = 20.0
	DefaultAnimationTickRateHz        = 30
	DefaultGPSStaleness               = 4 * time.Second
	DefaultAssumedSpeedMps            = 12.5 // ~45 km/h, urban response driving
)

// Config holds registry-wide tuning. Zero fields take defaults in New.
type Config struct {
	MaxSnapDistanceMeters      float64
	GPSAccuracyThresholdMeters float64
	AnimationTickRateHz        int
	GPSStaleness               time.Duration

	// AssumedSpeedMps derives a route's estimated duration from its length
	// when the caller supplies none.
	AssumedSpeedMps float64

	// Clock defaults to the real clock. Tests inject timeutil.MockClock.
	Clock timeutil.Clock

	// Recorder receives fix and transition records; nil means none.
	Recorder Recorder
}

// DefaultConfig returns the production tuning.
func DefaultConfig() Config {
	return Config{
		MaxSnapDistanceMeters:      DefaultMaxSnapDistanceMeters,
		GPSAccuracyThresholdMeters: DefaultGPSAccuracyThresholdMeters,
		AnimationTickRateHz:        DefaultAnimationTickRateHz,
		GPSStaleness:               DefaultGPSStaleness,
		AssumedSpeedMps:            DefaultAssumedSpeedMps,
	}
}

// RouteOptions are per-route registration options.
type RouteOptions struct {
	// EstimatedDuration is the expected travel time for the whole route.
	// Zero derives it from route length at the registry's assumed speed.
	EstimatedDuration time.Duration

	// SpeedMultiplier scales clock-driven animation. Zero means 1.
	SpeedMultiplier float64
}

// StartOptions are per-start options.
type StartOptions struct {
	// Duration overrides the route's estimated duration for this run.
	Duration time.Duration
}

// Registry is the public face of the engine: it owns every tracked route,
// the shared animation scheduler, and the GPS reconciliation path. One
// mutex serializes scheduler ticks and transport callbacks, preserving the
// ordering discipline progress monotonicity depends on.
type Registry struct {
	cfg   Config
	clock timeutil.Clock
	rec   Recorder

	mu     sync.Mutex
	routes map[string]*route

	// Snap decision counters for GetPerformanceStats.
	fixesAccepted uint64
	fixesRejected uint64

	// Recent tick instants, newest last, for the measured tick rate.
	tickTimes []time.Time

	ticker timeutil.Ticker
	done   chan struct{}
	closed bool
}

// New creates a Registry and starts the shared scheduler. Callers own the
// instance and must Close it to release the scheduler goroutine.
func New(cfg Config) *Registry {
	def := DefaultConfig()
	if cfg.MaxSnapDistanceMeters <= 0 {
		cfg.MaxSnapDistanceMeters = def.MaxSnapDistanceMeters
	}
	if cfg.GPSAccuracyThresholdMeters <= 0 {
		cfg.GPSAccuracyThresholdMeters = def.GPSAccuracyThresholdMeters
	}
	if cfg.AnimationTickRateHz <= 0 {
		cfg.AnimationTickRateHz = def.AnimationTickRateHz
	}
	if cfg.GPSStaleness <= 0 {
		cfg.GPSStaleness = def.GPSStaleness
	}
	if cfg.AssumedSpeedMps <= 0 {
		cfg.AssumedSpeedMps = def.AssumedSpeedMps
	}
	if cfg.Clock == nil {
		cfg.Clock = timeutil.RealClock{}
	}
	if cfg.Recorder == nil {
		cfg.Recorder = nopRecorder{}
	}

	r := &Registry{
		cfg:    cfg,
		clock:  cfg.Clock,
		rec:    cfg.Recorder,
		routes: make(map[string]*route),
		done:   make(chan struct{}),
	}
	r.ticker = r.clock.NewTicker(time.Second / time.Duration(cfg.AnimationTickRateHz))
	go r.run()
	return r
}

// Close stops the scheduler. Routes remain queryable but no longer advance.
func (r *Registry) Close() {
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return
	}
	r.closed = true
	r.mu.Unlock()

	r.ticker.Stop()
	close(r.done)
}

// RegisterRoute indexes the waypoints and creates (or replaces) the route's
// state. Fewer than two waypoints or non-finite coordinates fail with
// ErrInvalidGeometry.
func (r *Registry) RegisterRoute(routeID string, waypoints []geo.Waypoint, opts RouteOptions) (RouteStatus, error) {
	if opts.SpeedMultiplier < 0 || math.IsNaN(opts.SpeedMultiplier) || math.IsInf(opts.SpeedMultiplier, 0) {
		return RouteStatus{}, fmt.Errorf("%w: speed multiplier %v", ErrInvalidArgument, opts.SpeedMultiplier)
	}

	idx, err := geo.NewIndex(waypoints)
	if err != nil {
		return RouteStatus{}, err
	}

	duration := opts.EstimatedDuration
	if duration <= 0 {
		duration = time.Duration(idx.Total() / r.cfg.AssumedSpeedMps * float64(time.Second))
		if duration <= 0 {
			duration = time.Second
		}
	}
	speed := opts.SpeedMultiplier
	if speed == 0 {
		speed = 1
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	now := r.clock.Now()
	if old, ok := r.routes[routeID]; ok {
		// Re-registration replaces the whole state; invalidate the old
		// record so stale subscriptions cannot reach the new one.
		r.setStatus(old, StatusRemoved, now)
		old.gpsSubs = nil
		old.markerSubs = nil
	}

	rt := &route{
		id:         routeID,
		geom:       idx,
		status:     StatusRegistered,
		speed:      speed,
		duration:   duration,
		gpsSubs:    make(map[string]GPSCallback),
		markerSubs: make(map[string]MarkerCallback),
	}
	r.routes[routeID] = rt
	r.record(TransitionRecord{RouteID: routeID, To: StatusRegistered, At: now})
	return rt.snapshot(), nil
}

// StartAnimation begins clock-driven animation. From Registered, Completed or
// stopped state it starts over at progress 0; from Paused it resumes; a route
// already animating is left alone.
func (r *Registry) StartAnimation(routeID string, opts StartOptions) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	rt, ok := r.routes[routeID]
	if !ok {
		return fmt.Errorf("%w: %q", ErrUnknownRoute, routeID)
	}
	if opts.Duration > 0 {
		rt.duration = opts.Duration
	}

	now := r.clock.Now()
	switch rt.status {
	case StatusAnimating:
		return nil
	case StatusPaused:
		rt.rebase(now)
	default:
		rt.progress = 0
		rt.rebase(now)
	}
	r.setStatus(rt, StatusAnimating, now)
	return nil
}

// PauseAnimation freezes the route's clock, retaining progress. Pausing a
// route that is not animating is a no-op.
func (r *Registry) PauseAnimation(routeID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	rt, ok := r.routes[routeID]
	if !ok {
		return fmt.Errorf("%w: %q", ErrUnknownRoute, routeID)
	}
	if rt.status != StatusAnimating {
		return nil
	}
	r.pauseLocked(rt, r.clock.Now())
	return nil
}

func (r *Registry) pauseLocked(rt *route, now time.Time) {
	if !rt.gpsFresh(now, r.cfg.GPSStaleness) {
		rt.advance(now)
	}
	rt.rebase(now)
	r.setStatus(rt, StatusPaused, now)
}

// ResumeAnimation continues a paused route from its frozen progress without a
// jump. Resuming a route that is not paused is a no-op.
func (r *Registry) ResumeAnimation(routeID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	rt, ok := r.routes[routeID]
	if !ok {
		return fmt.Errorf("%w: %q", ErrUnknownRoute, routeID)
	}
	if rt.status != StatusPaused {
		return nil
	}
	rt.rebase(r.clock.Now())
	r.setStatus(rt, StatusAnimating, r.clock.Now())
	return nil
}

// StopAnimation resets the route to Registered with progress 0. This is the
// explicit reset the monotonicity guarantee excludes.
func (r *Registry) StopAnimation(routeID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	rt, ok := r.routes[routeID]
	if !ok {
		return fmt.Errorf("%w: %q", ErrUnknownRoute, routeID)
	}
	if rt.status == StatusRegistered {
		return nil
	}
	now := r.clock.Now()
	rt.progress = 0
	rt.gpsActive = false
	rt.lastFix = nil
	rt.rebase(now)
	r.setStatus(rt, StatusRegistered, now)
	return nil
}

// SetSpeed rescales the remaining animation without a progress discontinuity.
func (r *Registry) SetSpeed(routeID string, multiplier float64) error {
	if multiplier <= 0 || math.IsNaN(multiplier) || math.IsInf(multiplier, 0) {
		return fmt.Errorf("%w: speed multiplier %v", ErrInvalidArgument, multiplier)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	rt, ok := r.routes[routeID]
	if !ok {
		return fmt.Errorf("%w: %q", ErrUnknownRoute, routeID)
	}
	now := r.clock.Now()
	if rt.status == StatusAnimating && !rt.gpsFresh(now, r.cfg.GPSStaleness) {
		rt.advance(now)
	}
	rt.speed = multiplier
	rt.rebase(now)
	return nil
}

// UpdateMarkerAtProgress sets progress directly, bypassing both GPS and the
// scheduler (manual scrubbing). Finite values are clamped to [0, 1];
// non-finite values fail with ErrInvalidArgument.
func (r *Registry) UpdateMarkerAtProgress(routeID string, progress float64) error {
	if math.IsNaN(progress) || math.IsInf(progress, 0) {
		return fmt.Errorf("%w: progress %v", ErrInvalidArgument, progress)
	}
	if progress < 0 {
		progress = 0
	} else if progress > 1 {
		progress = 1
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	rt, ok := r.routes[routeID]
	if !ok {
		return fmt.Errorf("%w: %q", ErrUnknownRoute, routeID)
	}
	rt.progress = progress
	rt.rebase(r.clock.Now())
	return nil
}

// SubscribeToGPS registers cb to be invoked on every accepted fix for the
// route. The returned unsubscribe func is idempotent.
func (r *Registry) SubscribeToGPS(routeID string, cb GPSCallback) (func(), error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	rt, ok := r.routes[routeID]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownRoute, routeID)
	}
	token := uuid.NewString()
	rt.gpsSubs[token] = cb
	return func() {
		r.mu.Lock()
		defer r.mu.Unlock()
		if rt.gpsSubs != nil {
			delete(rt.gpsSubs, token)
		}
	}, nil
}

// OnMarker registers cb to receive the marker state on every scheduler tick
// while the route animates. The returned unsubscribe func is idempotent.
func (r *Registry) OnMarker(routeID string, cb MarkerCallback) (func(), error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	rt, ok := r.routes[routeID]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownRoute, routeID)
	}
	token := uuid.NewString()
	rt.markerSubs[token] = cb
	return func() {
		r.mu.Lock()
		defer r.mu.Unlock()
		if rt.markerSubs != nil {
			delete(rt.markerSubs, token)
		}
	}, nil
}

// RemoveRoute destroys the route's state and invalidates its subscriptions.
func (r *Registry) RemoveRoute(routeID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	rt, ok := r.routes[routeID]
	if !ok {
		return fmt.Errorf("%w: %q", ErrUnknownRoute, routeID)
	}
	r.removeLocked(rt)
	return nil
}

// ClearAll destroys every route.
func (r *Registry) ClearAll() {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, rt := range r.routes {
		r.removeLocked(rt)
	}
}

func (r *Registry) removeLocked(rt *route) {
	r.setStatus(rt, StatusRemoved, r.clock.Now())
	rt.gpsSubs = nil
	rt.markerSubs = nil
	delete(r.routes, rt.id)
}

// EmergencyStop freezes every animating route's clock without altering
// stored progress (global pause, e.g. tab visibility loss). Routes resume
// individually via ResumeAnimation.
func (r *Registry) EmergencyStop() {
	r.mu.Lock()
	defer r.mu.Unlock()

	now := r.clock.Now()
	for _, rt := range r.routes {
		if rt.status == StatusAnimating {
			rt.rebase(now)
			r.setStatus(rt, StatusPaused, now)
		}
	}
}

// GetStatus returns the route's queryable snapshot.
func (r *Registry) GetStatus(routeID string) (RouteStatus, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	rt, ok := r.routes[routeID]
	if !ok {
		return RouteStatus{}, fmt.Errorf("%w: %q", ErrUnknownRoute, routeID)
	}
	return rt.snapshot(), nil
}

// MarkerState returns the current render state for the route.
func (r *Registry) MarkerState(routeID string) (MarkerState, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	rt, ok := r.routes[routeID]
	if !ok {
		return MarkerState{}, fmt.Errorf("%w: %q", ErrUnknownRoute, routeID)
	}
	return rt.marker(), nil
}

// Config returns a copy of the effective registry configuration.
func (r *Registry) Config() Config {
	return r.cfg
}

// RouteIDs returns the ids of all registered routes.
func (r *Registry) RouteIDs() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	ids := make([]string, 0, len(r.routes))
	for id := range r.routes {
		ids = append(ids, id)
	}
	return ids
}

// setStatus transitions, logs and records. Caller holds the mutex.
func (r *Registry) setStatus(rt *route, to Status, now time.Time) {
	if rt.status == to {
		return
	}
	from := rt.status
	rt.status = to
	monitoring.Logf("route %s: %s -> %s (progress %.3f)", rt.id, from, to, rt.progress)
	r.record(TransitionRecord{RouteID: rt.id, From: from, To: to, Progress: rt.progress, At: now})
}

func (r *Registry) record(rec TransitionRecord) {
	if err := r.rec.RecordTransition(rec); err != nil {
		monitoring.Logf("record transition for route %s: %v", rec.RouteID, err)
	}
}

func (r *Registry) snapConfig() snap.Config {
	return snap.Config{
		MaxSnapDistanceMeters:      r.cfg.MaxSnapDistanceMeters,
		GPSAccuracyThresholdMeters: r.cfg.GPSAccuracyThresholdMeters,
	}
}
