package domain

import (
	"errors"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
)

// TripID identifies a trip for its whole lifetime. Never reused.
type TripID string

const (
	tripIDPrefix    = "trip_"
	maxTripIDLength = 128
)

// ErrInvalidTripID is returned for malformed trip identifiers.
var ErrInvalidTripID = errors.New("invalid trip id")

// NewTripID returns "trip_<unix millis>_<32 hex>", the suffix being the 122 random
// bits of a v4 UUID.
func NewTripID(now time.Time) TripID {
	suffix := strings.ReplaceAll(uuid.NewString(), "-", "")
	return TripID(tripIDPrefix + strconv.FormatInt(now.UnixMilli(), 10) + "_" + suffix)
}

// ParseTripID validates s as a trip identifier.
func ParseTripID(s string) (TripID, error) {
	if s == "" || len(s) > maxTripIDLength {
		return "", ErrInvalidTripID
	}
	for _, r := range s {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '_', r == '-':
		default:
			return "", ErrInvalidTripID
		}
	}
	return TripID(s), nil
}

func (id TripID) String() string { return string(id) }
