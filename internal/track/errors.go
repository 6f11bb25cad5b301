package track

import (
	"errors"

	"github.com/dispatchgrid/routetrack/internal/geo"
)

var (
	// ErrUnknownRoute is returned by any lifecycle call against a route id
	// that is not registered. No internal state changes.
	ErrUnknownRoute = errors.New("unknown route")

	// ErrInvalidArgument is returned for out-of-range arguments such as a
	// non-positive speed multiplier. State is rejected before mutation.
	ErrInvalidArgument = errors.New("invalid argument")

	// ErrInvalidGeometry is returned by RegisterRoute for unusable waypoint
	// lists. It aliases the geometry package sentinel so callers can match
	// either.
	ErrInvalidGeometry = geo.ErrInvalidGeometry
)
