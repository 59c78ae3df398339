package domain

import (
	"errors"
	"time"
)

// TripStatus represents the current status of a shared trip.
type TripStatus string

const (
	TripStatusStarted TripStatus = "started"
	TripStatusEnRoute TripStatus = "en_route"
	TripStatusArrived TripStatus = "arrived"
	TripStatusStopped TripStatus = "stopped"
)

// ErrInvalidTransition is returned when a patch would move a trip backwards
// or out of a terminal status.
var ErrInvalidTransition = errors.New("invalid trip status transition")

// IsTerminal reports whether no further transitions are allowed.
func (s TripStatus) IsTerminal() bool {
	return s == TripStatusArrived || s == TripStatusStopped
}

// Valid reports whether s is a known status.
func (s TripStatus) Valid() bool {
	switch s {
	case TripStatusStarted, TripStatusEnRoute, TripStatusArrived, TripStatusStopped:
		return true
	}
	return false
}

// CanTransition reports whether a trip in status from may be written with status to.
// Started -> EnRoute -> {Arrived | Stopped}; Arrived and Stopped are terminal.
func CanTransition(from, to TripStatus) bool {
	if !from.Valid() || !to.Valid() {
		return false
	}
	switch from {
	case TripStatusStarted:
		return true
	case TripStatusEnRoute:
		return to != TripStatusStarted
	default:
		return false
	}
}

// Destination is where the sharer is heading. Set once at creation.
type Destination struct {
	Lat     float64 `json:"lat"`
	Lng     float64 `json:"lng"`
	Address string  `json:"address"`
}

// Location is the last known sharer position.
type Location struct {
	Lat      float64  `json:"lat"`
	Lng      float64  `json:"lng"`
	Accuracy *float64 `json:"accuracy,omitempty"` // meters
}

// RouteProgress carries distances in meters and durations in seconds.
// A nil RemainingDuration means the ETA is indeterminate.
type RouteProgress struct {
	TotalDistance     float64  `json:"totalDistance"`
	RemainingDistance float64  `json:"remainingDistance"`
	EstimatedDuration *float64 `json:"estimatedDuration,omitempty"`
	RemainingDuration *float64 `json:"remainingDuration,omitempty"`
	ProgressPercent   *float64 `json:"progressPercent,omitempty"`
}

// UserInfo is optional sharer identity. Never required, never defaulted.
type UserInfo struct {
	Name  string `json:"name,omitempty"`
	Phone string `json:"phone,omitempty"`
}

// Trip is the record persisted per TripID and read by observers.
type Trip struct {
	TripID          TripID         `json:"tripId"`
	Status          TripStatus     `json:"status"`
	Timestamp       time.Time      `json:"timestamp"`
	Destination     Destination    `json:"destination"`
	CurrentLocation *Location      `json:"currentLocation,omitempty"`
	Route           *RouteProgress `json:"route,omitempty"`
	Speed           *float64       `json:"speed,omitempty"`   // meters per second
	Heading         *float64       `json:"heading,omitempty"` // degrees
	UserInfo        *UserInfo      `json:"userInfo,omitempty"`
}

// Clone returns a deep copy so callers can hand out records without sharing pointers.
func (t *Trip) Clone() *Trip {
	if t == nil {
		return nil
	}
	c := *t
	if t.CurrentLocation != nil {
		loc := *t.CurrentLocation
		loc.Accuracy = cloneFloat(t.CurrentLocation.Accuracy)
		c.CurrentLocation = &loc
	}
	if t.Route != nil {
		r := *t.Route
		r.EstimatedDuration = cloneFloat(t.Route.EstimatedDuration)
		r.RemainingDuration = cloneFloat(t.Route.RemainingDuration)
		r.ProgressPercent = cloneFloat(t.Route.ProgressPercent)
		c.Route = &r
	}
	c.Speed = cloneFloat(t.Speed)
	c.Heading = cloneFloat(t.Heading)
	if t.UserInfo != nil {
		u := *t.UserInfo
		c.UserInfo = &u
	}
	return &c
}

// TripPatch is a partial update. Nil fields are left untouched.
// Destination and TripID are deliberately absent: they are immutable.
type TripPatch struct {
	Status          *TripStatus    `json:"status,omitempty"`
	CurrentLocation *Location      `json:"currentLocation,omitempty"`
	Route           *RouteProgress `json:"route,omitempty"`
	Speed           *float64       `json:"speed,omitempty"`
	Heading         *float64       `json:"heading,omitempty"`
}

// Apply shallow-merges p into t and stamps the write time.
// It fails with ErrInvalidTransition without modifying t.
func (p TripPatch) Apply(t *Trip, now time.Time) error {
	if p.Status != nil {
		if !CanTransition(t.Status, *p.Status) {
			return ErrInvalidTransition
		}
		t.Status = *p.Status
	}
	if p.CurrentLocation != nil {
		loc := *p.CurrentLocation
		t.CurrentLocation = &loc
	}
	if p.Route != nil {
		r := *p.Route
		t.Route = &r
	}
	if p.Speed != nil {
		t.Speed = cloneFloat(p.Speed)
	}
	if p.Heading != nil {
		t.Heading = cloneFloat(p.Heading)
	}
	t.Timestamp = now
	return nil
}

// StatusPatch builds a patch that only changes status.
func StatusPatch(s TripStatus) TripPatch {
	return TripPatch{Status: &s}
}

// Anonymized returns a copy without the sharer's personal details, for
// copies that outlive the retention window.
func (t *Trip) Anonymized() *Trip {
	c := t.Clone()
	if c != nil {
		c.UserInfo = nil
	}
	return c
}

func cloneFloat(f *float64) *float64 {
	if f == nil {
		return nil
	}
	v := *f
	return &v
}
