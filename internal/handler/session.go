package handler

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"tripshare/internal/domain"
	"tripshare/internal/sampler"
	"tripshare/internal/session"
)

// SessionHandler handles HTTP requests from sharing devices.
type SessionHandler struct {
	registry *session.Registry
}

// NewSessionHandler creates a new SessionHandler.
func NewSessionHandler(registry *session.Registry) *SessionHandler {
	return &SessionHandler{registry: registry}
}

// SessionResponse is the HTTP response for session state.
type SessionResponse struct {
	SessionID string `json:"session_id"`
	State     string `json:"state"`
	Sharing   bool   `json:"sharing"`
	TripID    string `json:"trip_id,omitempty"`
	ShareLink string `json:"share_link,omitempty"`
	SpeedUnit string `json:"speed_unit"`
	CreatedAt string `json:"created_at"`
}

// ReportLocationRequest is the HTTP request body for a position fix. Speed is
// in the unit the server is configured with.
type ReportLocationRequest struct {
	Lat       *float64   `json:"lat"`
	Lng       *float64   `json:"lng"`
	Accuracy  *float64   `json:"accuracy"`
	Speed     *float64   `json:"speed"`
	Heading   *float64   `json:"heading"`
	Timestamp *time.Time `json:"timestamp"`
}

// PermissionRequest is the HTTP request body for a location permission change.
type PermissionRequest struct {
	Granted *bool `json:"granted"`
}

// DestinationRequest is the destination of a trip.
type DestinationRequest struct {
	Lat     *float64 `json:"lat"`
	Lng     *float64 `json:"lng"`
	Address string   `json:"address"`
}

// UserInfoRequest is the optional identity of the sharer.
type UserInfoRequest struct {
	Name  string `json:"name"`
	Phone string `json:"phone"`
}

// StartTripRequest is the HTTP request body for starting a shared trip.
type StartTripRequest struct {
	Destination         *DestinationRequest `json:"destination"`
	UserInfo            *UserInfoRequest    `json:"user_info"`
	RouteDistanceMeters float64             `json:"route_distance_meters"`
}

// StartTripResponse is the HTTP response for starting a shared trip.
type StartTripResponse struct {
	TripID    string `json:"trip_id"`
	ShareLink string `json:"share_link"`
	Status    string `json:"status"`
}

// Create handles POST /v1/sessions
func (h *SessionHandler) Create(c *gin.Context) {
	d := h.registry.Create()
	respondJSON(c, http.StatusCreated, h.toResponse(d))
}

// Get handles GET /v1/sessions/:sid
func (h *SessionHandler) Get(c *gin.Context) {
	d, err := h.registry.Get(c.Param("sid"))
	if err != nil {
		respondError(c, err)
		return
	}
	respondJSON(c, http.StatusOK, h.toResponse(d))
}

// Close handles DELETE /v1/sessions/:sid
func (h *SessionHandler) Close(c *gin.Context) {
	if err := h.registry.Close(c.Request.Context(), c.Param("sid")); err != nil {
		respondError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

// ReportLocation handles POST /v1/sessions/:sid/location
func (h *SessionHandler) ReportLocation(c *gin.Context) {
	d, err := h.registry.Get(c.Param("sid"))
	if err != nil {
		respondError(c, err)
		return
	}

	var req ReportLocationRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: "invalid request body"})
		return
	}
	if req.Lat == nil || req.Lng == nil {
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: "lat and lng are required"})
		return
	}

	reading := sampler.Reading{
		Lat:      *req.Lat,
		Lng:      *req.Lng,
		Accuracy: req.Accuracy,
		Speed:    req.Speed,
		Heading:  req.Heading,
	}
	if req.Timestamp != nil {
		reading.Time = *req.Timestamp
	}

	if err := d.Sampler.Push(reading); err != nil {
		respondError(c, err)
		return
	}
	d.Touch(time.Now())

	respondJSON(c, http.StatusAccepted, gin.H{
		"accepted": true,
		"sharing":  d.Session.IsSharing(),
	})
}

// SetPermission handles PUT /v1/sessions/:sid/permission
func (h *SessionHandler) SetPermission(c *gin.Context) {
	d, err := h.registry.Get(c.Param("sid"))
	if err != nil {
		respondError(c, err)
		return
	}

	var req PermissionRequest
	if err := c.ShouldBindJSON(&req); err != nil || req.Granted == nil {
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: "granted is required"})
		return
	}

	if *req.Granted {
		d.Sampler.Grant()
	} else {
		d.Sampler.Deny()
	}
	d.Touch(time.Now())
	c.Status(http.StatusNoContent)
}

// StartTrip handles POST /v1/sessions/:sid/trip
func (h *SessionHandler) StartTrip(c *gin.Context) {
	d, err := h.registry.Get(c.Param("sid"))
	if err != nil {
		respondError(c, err)
		return
	}

	var req StartTripRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: "invalid request body"})
		return
	}
	if req.Destination == nil || req.Destination.Lat == nil || req.Destination.Lng == nil {
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: "destination lat and lng are required"})
		return
	}

	start := session.StartRequest{
		Destination: domain.Destination{
			Lat:     *req.Destination.Lat,
			Lng:     *req.Destination.Lng,
			Address: req.Destination.Address,
		},
		RouteDistanceMeters: req.RouteDistanceMeters,
	}
	if req.UserInfo != nil {
		start.UserInfo = &domain.UserInfo{Name: req.UserInfo.Name, Phone: req.UserInfo.Phone}
	}

	id, err := d.Session.Start(c.Request.Context(), start)
	if err != nil {
		respondError(c, err)
		return
	}
	d.Touch(time.Now())
	c.Set("trip_id", id.String())

	respondJSON(c, http.StatusCreated, StartTripResponse{
		TripID:    id.String(),
		ShareLink: d.Session.ShareLink(id),
		Status:    d.Session.State().String(),
	})
}

// StopTrip handles DELETE /v1/sessions/:sid/trip
func (h *SessionHandler) StopTrip(c *gin.Context) {
	d, err := h.registry.Get(c.Param("sid"))
	if err != nil {
		respondError(c, err)
		return
	}

	if err := d.Session.Stop(c.Request.Context()); err != nil {
		respondError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

func (h *SessionHandler) toResponse(d *session.Device) SessionResponse {
	resp := SessionResponse{
		SessionID: d.ID,
		State:     d.Session.State().String(),
		SpeedUnit: string(d.Sampler.Unit()),
		CreatedAt: d.CreatedAt.Format(time.RFC3339),
	}
	if id := d.Session.TripID(); id != "" {
		resp.Sharing = true
		resp.TripID = id.String()
		resp.ShareLink = d.Session.ShareLink(id)
	}
	return resp
}
