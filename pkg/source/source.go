// Package source defines how raw measurements are pulled from the monitoring
// system. Implementations live in sub-packages: xair talks to the XR
// measurement server over HTTP, csvfile replays exports from disk.
package source

import (
	"context"

	"github.com/airbreizh/didon/pkg/measure"
)

// Request selects the raw readings of one identifier
type Request struct {
	Identifier string
	Window     measure.Window

	// Granularity is the raw granularity asked from the source, H or D.
	// Validity codes are only returned for these two.
	Granularity measure.Granularity
}

// Source is a measurement system
type Source interface {
	// Ping checks the source is reachable
	Ping(ctx context.Context) error

	// Fetch returns the readings of req. An identifier without any reading
	// yields an empty Fetch, not an error.
	Fetch(ctx context.Context, req Request) (*measure.Fetch, error)

	Close() error
}

// WantsCodes reports whether codes are returned for g.
func WantsCodes(g measure.Granularity) bool {
	return g == measure.Hourly || g == measure.Daily
}
