// Package sampler defines the device location contract consumed by trip
// sessions and a push-driven implementation fed by the mobile client.
package sampler

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"
)

var (
	// ErrPermissionDenied means location access was refused for this session.
	ErrPermissionDenied = errors.New("location permission denied")

	// ErrUnavailable means no usable position is available right now.
	ErrUnavailable = errors.New("location unavailable")

	// ErrInvalidSample is returned for out-of-range readings.
	ErrInvalidSample = errors.New("invalid location sample")
)

// SpeedUnit is the unit a sampler reports speed in.
type SpeedUnit string

const (
	MetersPerSecond   SpeedUnit = "mps"
	KilometersPerHour SpeedUnit = "kmh"
	MilesPerHour      SpeedUnit = "mph"
)

const (
	metersPerKilometer = 1000.0
	metersPerMile      = 1609.344
	secondsPerHour     = 3600.0
)

// ParseSpeedUnit parses "mps", "kmh" or "mph".
func ParseSpeedUnit(s string) (SpeedUnit, error) {
	switch u := SpeedUnit(strings.ToLower(strings.TrimSpace(s))); u {
	case MetersPerSecond, KilometersPerHour, MilesPerHour:
		return u, nil
	}
	return "", fmt.Errorf("unknown speed unit %q", s)
}

// ToMetersPerSecond converts v from u to meters per second.
func (u SpeedUnit) ToMetersPerSecond(v float64) float64 {
	switch u {
	case KilometersPerHour:
		return v * metersPerKilometer / secondsPerHour
	case MilesPerHour:
		return v * metersPerMile / secondsPerHour
	default:
		return v
	}
}

// Sample is a normalized position fix. Speed is always meters per second.
type Sample struct {
	Lat      float64
	Lng      float64
	Accuracy *float64 // meters
	Speed    *float64 // meters per second
	Heading  *float64 // degrees
	Time     time.Time
}

// Options bound the delivery rate of a watch: a sample is delivered once
// MinInterval has elapsed since the last delivery or the device moved at least
// MinDistance meters, whichever comes first.
type Options struct {
	MinInterval time.Duration
	MinDistance float64
}

// DefaultOptions matches a one-second / five-meter watch.
var DefaultOptions = Options{MinInterval: time.Second, MinDistance: 5}

// Subscription is a live watch.
type Subscription interface {
	// Cancel stops delivery. No sample is delivered after Cancel returns.
	Cancel()
}

// LocationSampler is the device location API.
type LocationSampler interface {
	// CurrentPosition returns the latest fix, or ErrPermissionDenied / ErrUnavailable.
	CurrentPosition(ctx context.Context) (Sample, error)

	// Watch delivers samples to fn until the subscription is cancelled.
	Watch(opts Options, fn func(Sample)) (Subscription, error)
}
