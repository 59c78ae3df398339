package viewer

import (
	"fmt"
	"math"
	"time"

	"tripshare/internal/domain"
)

// ETAIndeterminate is shown when no remaining duration is known.
const ETAIndeterminate = "indeterminate"

// View is the observer-facing rendering of a trip.
type View struct {
	TripID          domain.TripID     `json:"trip_id"`
	Status          domain.TripStatus `json:"status"`
	Active          bool              `json:"active"`
	Destination     string            `json:"destination"`
	DestinationLat  float64           `json:"destination_lat"`
	DestinationLng  float64           `json:"destination_lng"`
	CurrentLocation *domain.Location  `json:"current_location,omitempty"`
	ProgressPercent *float64          `json:"progress_percent,omitempty"`
	RemainingKm     *float64          `json:"remaining_km,omitempty"`
	ETA             string            `json:"eta"`
	ETASeconds      *float64          `json:"eta_seconds,omitempty"`
	SpeedKmh        *float64          `json:"speed_kmh,omitempty"`
	SharedBy        string            `json:"shared_by,omitempty"`
	UpdatedAt       time.Time         `json:"updated_at"`
	Stale           bool              `json:"stale"`
}

// Render builds the view of trip as of now. A trip still in progress whose
// last write is older than the stale threshold is flagged stale.
func (v *Viewer) Render(trip *domain.Trip, now time.Time) View {
	view := View{
		TripID:         trip.TripID,
		Status:         trip.Status,
		Active:         !trip.Status.IsTerminal(),
		Destination:    trip.Destination.Address,
		DestinationLat: trip.Destination.Lat,
		DestinationLng: trip.Destination.Lng,
		ETA:            ETAIndeterminate,
		UpdatedAt:      trip.Timestamp,
	}

	if trip.CurrentLocation != nil {
		loc := *trip.CurrentLocation
		view.CurrentLocation = &loc
	}

	if r := trip.Route; r != nil {
		km := round(r.RemainingDistance/1000, 2)
		view.RemainingKm = &km
		if r.ProgressPercent != nil {
			pct := round(*r.ProgressPercent, 1)
			view.ProgressPercent = &pct
		}
		if r.RemainingDuration != nil {
			secs := *r.RemainingDuration
			view.ETASeconds = &secs
			view.ETA = FormatETA(time.Duration(secs * float64(time.Second)))
		}
	}

	if trip.Speed != nil {
		kmh := round(*trip.Speed*3.6, 1)
		view.SpeedKmh = &kmh
	}
	if trip.UserInfo != nil {
		view.SharedBy = trip.UserInfo.Name
	}

	if view.Active && v.staleAfter > 0 && now.Sub(trip.Timestamp) > v.staleAfter {
		view.Stale = true
	}
	if trip.Status == domain.TripStatusArrived {
		view.ETA = "arrived"
	}

	return view
}

// FormatETA renders a remaining duration for humans.
func FormatETA(d time.Duration) string {
	if d < 0 {
		return ETAIndeterminate
	}
	if d < time.Minute {
		return "< 1 min"
	}
	mins := int(math.Round(d.Minutes()))
	if mins < 60 {
		return fmt.Sprintf("%d min", mins)
	}
	return fmt.Sprintf("%d h %d min", mins/60, mins%60)
}

func round(v float64, places int) float64 {
	p := math.Pow(10, float64(places))
	return math.Round(v*p) / p
}
