package service

import (
	"context"
	"fmt"
	"log"
	"strings"
	"time"

	"github.com/google/uuid"

	"tripshare/internal/domain"
	"tripshare/internal/session"
)

// NotificationType represents the type of notification.
type NotificationType string

const (
	NotificationSharingStarted     NotificationType = "SHARING_STARTED"
	NotificationSharingStopped     NotificationType = "SHARING_STOPPED"
	NotificationTripArrived        NotificationType = "TRIP_ARRIVED"
	NotificationSharingStartFailed NotificationType = "SHARING_START_FAILED"
	NotificationWriteFailed        NotificationType = "WRITE_FAILED"
)

// unassignedToken stands in for the trip id of notifications raised before a
// trip exists.
const unassignedToken = "unassigned"

// Notification represents a notification to be sent.
type Notification struct {
	ID        string           `json:"id"`
	Type      NotificationType `json:"type"`
	TripID    domain.TripID    `json:"tripId,omitempty"`
	Title     string           `json:"title"`
	Message   string           `json:"message"`
	Data      map[string]any   `json:"data,omitempty"`
	CreatedAt time.Time        `json:"createdAt"`
}

// Publisher delivers a notification on a subject.
type Publisher interface {
	Publish(subject string, msg any) error
}

// NotificationService logs sharing lifecycle events and, when a publisher is
// configured, fans them out on <prefix>.<tripId>.<type>.
type NotificationService struct {
	publisher Publisher
	prefix    string
	now       func() time.Time
}

// NewNotificationService creates a new NotificationService. publisher may be nil.
func NewNotificationService(publisher Publisher, subjectPrefix string) *NotificationService {
	return &NotificationService{
		publisher: publisher,
		prefix:    strings.TrimSuffix(subjectPrefix, "."),
		now:       time.Now,
	}
}

// NotifySharingStarted announces a new shared trip and its viewer link.
func (s *NotificationService) NotifySharingStarted(ctx context.Context, trip *domain.Trip, shareLink string) error {
	data := map[string]any{
		"share_link":  shareLink,
		"destination": trip.Destination.Address,
		"dest_lat":    trip.Destination.Lat,
		"dest_lng":    trip.Destination.Lng,
	}
	if trip.Route != nil {
		data["total_distance_m"] = trip.Route.TotalDistance
	}
	if trip.UserInfo != nil && trip.UserInfo.Name != "" {
		data["shared_by"] = trip.UserInfo.Name
	}

	return s.send(ctx, Notification{
		Type:    NotificationSharingStarted,
		TripID:  trip.TripID,
		Title:   "Trip Sharing Started",
		Message: fmt.Sprintf("Follow the trip to %s", destinationLabel(trip.Destination)),
		Data:    data,
	})
}

// NotifySharingEnded announces that a trip was stopped or arrived.
func (s *NotificationService) NotifySharingEnded(ctx context.Context, id domain.TripID, status domain.TripStatus) error {
	n := Notification{
		Type:    NotificationSharingStopped,
		TripID:  id,
		Title:   "Trip Sharing Ended",
		Message: "The sharer stopped sharing this trip.",
		Data:    map[string]any{"status": status},
	}
	if status == domain.TripStatusArrived {
		n.Type = NotificationTripArrived
		n.Title = "Arrived"
		n.Message = "The sharer has arrived at the destination."
	}
	return s.send(ctx, n)
}

// NotifySharingStartFailed reports a start that left the session idle.
func (s *NotificationService) NotifySharingStartFailed(ctx context.Context, cause error) error {
	return s.send(ctx, Notification{
		Type:    NotificationSharingStartFailed,
		Title:   "Trip Sharing Failed",
		Message: "Could not start sharing the trip.",
		Data:    map[string]any{"error": cause.Error()},
	})
}

// NotifyWriteFailed reports a trip record write that did not reach the store.
func (s *NotificationService) NotifyWriteFailed(ctx context.Context, id domain.TripID, cause error) error {
	return s.send(ctx, Notification{
		Type:    NotificationWriteFailed,
		TripID:  id,
		Title:   "Trip Update Failed",
		Message: "A trip update could not be saved.",
		Data:    map[string]any{"error": cause.Error()},
	})
}

// Subject returns the subject a notification of type t about id is published on.
func (s *NotificationService) Subject(id domain.TripID, t NotificationType) string {
	token := unassignedToken
	if id != "" {
		token = subjectToken(id.String())
	}
	return s.prefix + "." + token + "." + strings.ToLower(string(t))
}

// send logs the notification and publishes it. Publish failures are logged and
// returned; callers treat notifications as best effort.
func (s *NotificationService) send(ctx context.Context, notification Notification) error {
	notification.ID = uuid.New().String()
	notification.CreatedAt = s.now()

	log.Printf("[NOTIFICATION] Type=%s, Trip=%s, Title=%s, Message=%s",
		notification.Type, notification.TripID, notification.Title, notification.Message)

	if s.publisher == nil {
		return nil
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	subject := s.Subject(notification.TripID, notification.Type)
	if err := s.publisher.Publish(subject, notification); err != nil {
		log.Printf("[NOTIFICATION] publish %s failed: %v", subject, err)
		return err
	}
	return nil
}

func destinationLabel(d domain.Destination) string {
	if d.Address != "" {
		return d.Address
	}
	return fmt.Sprintf("(%.4f, %.4f)", d.Lat, d.Lng)
}

// Ensure NotificationService implements session.Notifier.
var _ session.Notifier = (*NotificationService)(nil)
