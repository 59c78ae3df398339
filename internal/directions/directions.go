// Package directions resolves route length between two points.
package directions

import (
	"context"
	"errors"

	"tripshare/internal/geo"
)

// ErrNoRoute is returned when a provider cannot produce a route.
var ErrNoRoute = errors.New("no route available")

// Route is a resolved route. DurationSeconds is zero when unknown.
type Route struct {
	DistanceMeters  float64
	DurationSeconds float64
	Approximate     bool
}

// Provider is a source of route lengths, typically a mapping API.
type Provider interface {
	Route(ctx context.Context, from, to geo.Point) (Route, error)
}

// StraightLine estimates routes from the great-circle distance stretched by
// geo.SinuosityFactor. It never fails for valid points.
type StraightLine struct{}

// Route implements Provider.
func (StraightLine) Route(ctx context.Context, from, to geo.Point) (Route, error) {
	if err := ctx.Err(); err != nil {
		return Route{}, err
	}
	if !from.Valid() || !to.Valid() {
		return Route{}, ErrNoRoute
	}
	d, _ := geo.Baseline(0, from, to)
	return Route{DistanceMeters: d, Approximate: true}, nil
}

// Resolve picks the progress baseline: an explicit route length wins, then
// the provider, then the straight-line estimate.
func Resolve(ctx context.Context, p Provider, explicitMeters float64, from, to geo.Point) Route {
	if explicitMeters > 0 {
		d, approx := geo.Baseline(explicitMeters, from, to)
		return Route{DistanceMeters: d, Approximate: approx}
	}
	if p != nil {
		r, err := p.Route(ctx, from, to)
		if err == nil && r.DistanceMeters > 0 {
			return r
		}
	}
	d, _ := geo.Baseline(0, from, to)
	return Route{DistanceMeters: d, Approximate: true}
}

// Ensure StraightLine implements Provider.
var _ Provider = StraightLine{}
