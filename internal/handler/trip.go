package handler

import (
	"errors"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"

	"tripshare/internal/domain"
	"tripshare/internal/link"
	"tripshare/internal/repository"
	"tripshare/internal/store"
	"tripshare/internal/viewer"
)

const (
	streamHeartbeat     = 15 * time.Second
	defaultArchiveLimit = 50
	maxArchiveLimit     = 500
)

// TripHandler handles HTTP requests from trip observers.
type TripHandler struct {
	viewer      *viewer.Viewer
	links       link.Codec
	archiveRepo repository.TripArchiveRepository
	now         func() time.Time
}

// NewTripHandler creates a new TripHandler. archiveRepo may be nil when no
// database is configured; the archive routes then answer 404.
func NewTripHandler(v *viewer.Viewer, links link.Codec, archiveRepo repository.TripArchiveRepository) *TripHandler {
	return &TripHandler{viewer: v, links: links, archiveRepo: archiveRepo, now: time.Now}
}

// ResolveLinkResponse is the HTTP response for resolving a share link.
type ResolveLinkResponse struct {
	TripID string `json:"trip_id"`
}

// ArchivedTripResponse is the HTTP response for an archived trip.
type ArchivedTripResponse struct {
	Trip       *domain.Trip `json:"trip"`
	ArchivedAt string       `json:"archived_at"`
}

// GetTrip handles GET /v1/trips/:id
func (h *TripHandler) GetTrip(c *gin.Context) {
	trip, ok := h.lookup(c, c.Param("id"))
	if !ok {
		return
	}
	respondJSON(c, http.StatusOK, trip)
}

// GetView handles GET /v1/trips/:id/view
func (h *TripHandler) GetView(c *gin.Context) {
	trip, ok := h.lookup(c, c.Param("id"))
	if !ok {
		return
	}
	respondJSON(c, http.StatusOK, h.viewer.Render(trip, h.now()))
}

// Track handles GET /track/:id, the path a share link points at.
func (h *TripHandler) Track(c *gin.Context) {
	h.GetView(c)
}

// ResolveLink handles GET /v1/links/resolve?url=...
func (h *TripHandler) ResolveLink(c *gin.Context) {
	id, err := h.links.Parse(c.Query("url"))
	if err != nil {
		respondNotFound(c)
		return
	}
	respondJSON(c, http.StatusOK, ResolveLinkResponse{TripID: id.String()})
}

// Stream handles GET /v1/trips/:id/stream as server-sent events: a "trip"
// event per change, then a single "gone" event once the record is deleted.
func (h *TripHandler) Stream(c *gin.Context) {
	id, err := domain.ParseTripID(c.Param("id"))
	if err != nil {
		respondNotFound(c)
		return
	}

	ctx := c.Request.Context()
	updates, err := h.viewer.Watch(ctx, id)
	if err != nil {
		respondError(c, err)
		return
	}

	c.Header("Cache-Control", "no-cache")
	c.Header("X-Accel-Buffering", "no")

	heartbeat := time.NewTicker(streamHeartbeat)
	defer heartbeat.Stop()

	c.Stream(func(w io.Writer) bool {
		select {
		case u, ok := <-updates:
			if !ok {
				return false
			}
			if u.Gone {
				c.SSEvent("gone", gin.H{"trip_id": id.String()})
				return false
			}
			c.SSEvent("trip", h.viewer.Render(u.Trip, h.now()))
			return true
		case <-heartbeat.C:
			c.SSEvent("ping", h.now().Unix())
			return true
		case <-ctx.Done():
			return false
		}
	})
}

// GetArchived handles GET /v1/archive/trips/:id
func (h *TripHandler) GetArchived(c *gin.Context) {
	if h.archiveRepo == nil {
		respondNotFound(c)
		return
	}
	id, err := domain.ParseTripID(c.Param("id"))
	if err != nil {
		respondNotFound(c)
		return
	}

	archived, err := h.archiveRepo.GetByID(c.Request.Context(), id)
	if err != nil {
		respondError(c, err)
		return
	}
	respondJSON(c, http.StatusOK, toArchivedResponse(archived))
}

// ListArchived handles GET /v1/archive/trips?since=RFC3339&limit=N
func (h *TripHandler) ListArchived(c *gin.Context) {
	if h.archiveRepo == nil {
		respondNotFound(c)
		return
	}

	since := h.now().Add(-24 * time.Hour)
	if s := c.Query("since"); s != "" {
		t, err := time.Parse(time.RFC3339, s)
		if err != nil {
			c.JSON(http.StatusBadRequest, ErrorResponse{Error: "since must be RFC3339"})
			return
		}
		since = t
	}

	limit := defaultArchiveLimit
	if s := c.Query("limit"); s != "" {
		n, err := strconv.Atoi(s)
		if err != nil || n <= 0 {
			c.JSON(http.StatusBadRequest, ErrorResponse{Error: "limit must be a positive integer"})
			return
		}
		limit = min(n, maxArchiveLimit)
	}

	archived, err := h.archiveRepo.ListArchivedSince(c.Request.Context(), since, limit)
	if err != nil {
		respondError(c, err)
		return
	}

	response := make([]ArchivedTripResponse, 0, len(archived))
	for _, a := range archived {
		response = append(response, toArchivedResponse(a))
	}
	respondJSON(c, http.StatusOK, response)
}

// lookup resolves and reads a trip; any id or not-found problem is a plain 404.
func (h *TripHandler) lookup(c *gin.Context, raw string) (*domain.Trip, bool) {
	id, err := domain.ParseTripID(raw)
	if err != nil {
		respondNotFound(c)
		return nil, false
	}
	c.Set("trip_id", id.String())

	trip, err := h.viewer.Get(c.Request.Context(), id)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			respondNotFound(c)
		} else {
			respondError(c, err)
		}
		return nil, false
	}
	return trip, true
}

func toArchivedResponse(a *repository.ArchivedTrip) ArchivedTripResponse {
	return ArchivedTripResponse{
		Trip:       a.Trip,
		ArchivedAt: a.ArchivedAt.Format(time.RFC3339),
	}
}
