// Package link builds and parses share links of the form <base>/track/<TripID>.
package link

import (
	"errors"
	"net/url"
	"strings"

	"tripshare/internal/domain"
)

const trackSegment = "/track/"

// ErrInvalidTripID is returned when a link does not carry a valid trip id.
var ErrInvalidTripID = errors.New("invalid trip link")

// Codec maps trip ids to viewer URLs.
type Codec struct {
	BaseURL string
}

// NewCodec creates a Codec for the given viewer base URL.
func NewCodec(baseURL string) Codec {
	return Codec{BaseURL: strings.TrimRight(baseURL, "/")}
}

// Generate returns the share link for id.
func (c Codec) Generate(id domain.TripID) string {
	return strings.TrimRight(c.BaseURL, "/") + trackSegment + url.PathEscape(string(id))
}

// Parse extracts the trip id from a share link. The host is not checked, so
// links survive a viewer domain move; the path must be <base path>/track/<id>,
// optionally with a trailing slash and a query string.
func (c Codec) Parse(raw string) (domain.TripID, error) {
	u, err := url.Parse(strings.TrimSpace(raw))
	if err != nil {
		return "", ErrInvalidTripID
	}

	prefix := trackSegment
	if base, err := url.Parse(c.BaseURL); err == nil {
		prefix = strings.TrimRight(base.Path, "/") + trackSegment
	}

	path := strings.TrimSuffix(u.Path, "/")
	if !strings.HasPrefix(path, prefix) {
		return "", ErrInvalidTripID
	}
	rest := strings.TrimPrefix(path, prefix)
	if strings.Contains(rest, "/") {
		return "", ErrInvalidTripID
	}

	id, err := domain.ParseTripID(rest)
	if err != nil {
		return "", ErrInvalidTripID
	}
	return id, nil
}
