// Package location serves the current location, device reports, manual
// selection, and place search.
package location

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/clicko-app/agent-discovery/internal/domain"
	locationsvc "github.com/clicko-app/agent-discovery/internal/location"
)

// Resolver is the location resolver as used by the handlers.
type Resolver interface {
	Latest(ctx context.Context) (domain.ResolvedLocation, bool)
	Permission() domain.Permission
	RequestPermission(ctx context.Context) domain.Permission
	CaptureDeviceLocation(ctx context.Context, timeout time.Duration) (domain.ResolvedLocation, error)
	SelectManualLocation(ctx context.Context, place locationsvc.ManualPlace) (domain.ResolvedLocation, error)
	SearchPlaces(ctx context.Context, query string) ([]locationsvc.ManualPlace, error)
}

// Device receives what the client reports about its location service.
type Device interface {
	SetPermission(p domain.Permission)
	Report(c domain.Coordinate) error
}

type Handler struct {
	resolver Resolver
	device   Device
	timeout  time.Duration
}

// NewHandler creates the location handler. timeout bounds device captures.
func NewHandler(resolver Resolver, device Device, timeout time.Duration) *Handler {
	return &Handler{resolver: resolver, device: device, timeout: timeout}
}

func (h *Handler) Register(rg *gin.RouterGroup) {
	rg.GET("/location", h.current)
	rg.POST("/location/manual", h.selectManual)
	rg.POST("/location/device", h.reportDevice)
	rg.POST("/location/permission", h.permission)
	rg.POST("/location/refresh", h.refresh)
	rg.GET("/places", h.searchPlaces)
}

type locationResp struct {
	Location   *domain.ResolvedLocation `json:"location"`
	Permission domain.Permission        `json:"permission"`
}

func (h *Handler) current(c *gin.Context) {
	resp := locationResp{Permission: h.resolver.Permission()}
	if loc, ok := h.resolver.Latest(c.Request.Context()); ok {
		resp.Location = &loc
	}
	c.JSON(http.StatusOK, resp)
}

type manualReq struct {
	Latitude  *float64 `json:"latitude" binding:"required"`
	Longitude *float64 `json:"longitude" binding:"required"`
	Name      string   `json:"name"`
	Address   string   `json:"address"`
	City      string   `json:"city"`
	Country   string   `json:"country"`
}

func (h *Handler) selectManual(c *gin.Context) {
	var req manualReq
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	loc, err := h.resolver.SelectManualLocation(c.Request.Context(), locationsvc.ManualPlace{
		Coordinates: domain.Coordinate{Latitude: *req.Latitude, Longitude: *req.Longitude},
		Name:        req.Name,
		Address:     req.Address,
		City:        req.City,
		Country:     req.Country,
	})
	if err != nil {
		c.JSON(statusFor(err), gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, loc)
}

type deviceReq struct {
	Latitude  *float64 `json:"latitude" binding:"required"`
	Longitude *float64 `json:"longitude" binding:"required"`
}

// reportDevice takes the client's fix and resolves it into the current
// location.
func (h *Handler) reportDevice(c *gin.Context) {
	var req deviceReq
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	coord := domain.Coordinate{Latitude: *req.Latitude, Longitude: *req.Longitude}
	if err := h.device.Report(coord); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	h.capture(c)
}

// refresh waits up to the capture timeout for the next device report.
func (h *Handler) refresh(c *gin.Context) {
	h.capture(c)
}

func (h *Handler) capture(c *gin.Context) {
	loc, err := h.resolver.CaptureDeviceLocation(c.Request.Context(), h.timeout)
	if err != nil {
		c.JSON(statusFor(err), gin.H{
			"error":      err.Error(),
			"permission": h.resolver.Permission(),
		})
		return
	}
	c.JSON(http.StatusOK, loc)
}

type permissionReq struct {
	Status domain.Permission `json:"status" binding:"required"`
}

func (h *Handler) permission(c *gin.Context) {
	var req permissionReq
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	switch req.Status {
	case domain.PermissionGranted, domain.PermissionDenied, domain.PermissionUnknown:
	default:
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid status"})
		return
	}

	h.device.SetPermission(req.Status)
	c.JSON(http.StatusOK, gin.H{"permission": h.resolver.RequestPermission(c.Request.Context())})
}

func (h *Handler) searchPlaces(c *gin.Context) {
	places, err := h.resolver.SearchPlaces(c.Request.Context(), c.Query("q"))
	if err != nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"places": places})
}

func statusFor(err error) int {
	switch {
	case errors.Is(err, domain.ErrInvalidCoordinate):
		return http.StatusBadRequest
	case errors.Is(err, domain.ErrPermissionDenied):
		return http.StatusForbidden
	case errors.Is(err, domain.ErrLocationTimeout):
		return http.StatusGatewayTimeout
	default:
		return http.StatusInternalServerError
	}
}
