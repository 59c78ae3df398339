// Package progress derives remaining distance, percent complete and ETA from a
// position sample and a coarse distance baseline.
package progress

import (
	"math"

	"tripshare/internal/geo"
)

// Result is the outcome of Estimate. Nil pointers mean "indeterminate".
type Result struct {
	RemainingMeters float64
	ProgressPercent *float64
	ETASeconds      *float64
}

// Estimate computes progress toward destination.
//
// totalMeters is a rough baseline; when it is zero, negative or not finite the
// progress is nil. speedMps must already be in meters per second; nil or
// non-positive speeds yield a nil ETA rather than zero, which would read as arrival.
func Estimate(current, destination geo.Point, totalMeters float64, speedMps *float64) Result {
	remaining := geo.Distance(current, destination)
	if math.IsNaN(remaining) || remaining < 0 {
		remaining = 0
	}

	res := Result{RemainingMeters: remaining}

	if finite(totalMeters) && totalMeters > 0 {
		pct := clamp((totalMeters-remaining)/totalMeters*100, 0, 100)
		res.ProgressPercent = &pct
	}

	if speedMps != nil && finite(*speedMps) && *speedMps > 0 {
		eta := remaining / *speedMps
		if finite(eta) {
			eta = math.Max(0, eta)
			res.ETASeconds = &eta
		}
	}

	return res
}

func clamp(v, lo, hi float64) float64 {
	if math.IsNaN(v) {
		return lo
	}
	return math.Min(hi, math.Max(lo, v))
}

func finite(v float64) bool {
	return !math.IsNaN(v) && !math.IsInf(v, 0)
}
