package session

import (
	"context"
	"time"

	"tripshare/internal/domain"
)

// Notifier is told about sharing lifecycle changes.
type Notifier interface {
	NotifySharingStarted(ctx context.Context, trip *domain.Trip, shareLink string) error
	NotifySharingEnded(ctx context.Context, id domain.TripID, status domain.TripStatus) error
	NotifySharingStartFailed(ctx context.Context, cause error) error
	NotifyWriteFailed(ctx context.Context, id domain.TripID, cause error) error
}

// Metrics receives session counters.
type Metrics interface {
	TripStarted()
	TripEnded(status domain.TripStatus)
	WriteCompleted(elapsed time.Duration, err error)
	WriteSuperseded()
}

type nopNotifier struct{}

func (nopNotifier) NotifySharingStarted(context.Context, *domain.Trip, string) error { return nil }
func (nopNotifier) NotifySharingEnded(context.Context, domain.TripID, domain.TripStatus) error {
	return nil
}
func (nopNotifier) NotifySharingStartFailed(context.Context, error) error         { return nil }
func (nopNotifier) NotifyWriteFailed(context.Context, domain.TripID, error) error { return nil }

type nopMetrics struct{}

func (nopMetrics) TripStarted()                        {}
func (nopMetrics) TripEnded(domain.TripStatus)         {}
func (nopMetrics) WriteCompleted(time.Duration, error) {}
func (nopMetrics) WriteSuperseded()                    {}
