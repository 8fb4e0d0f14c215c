package handler

import (
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/labreserve/service-booking/internal/application"
	"github.com/labreserve/service-booking/pkg/auth"
	"github.com/labreserve/service-booking/pkg/middleware"
	"github.com/labreserve/service-booking/pkg/response"
)

// ResourceHandler serves the read side of the Resource Directory and the
// availability calendar.
type ResourceHandler struct {
	directory    *application.DirectoryService
	availability *application.AvailabilityService
}

// NewResourceHandler creates a new ResourceHandler.
func NewResourceHandler(directory *application.DirectoryService, availability *application.AvailabilityService) *ResourceHandler {
	return &ResourceHandler{directory: directory, availability: availability}
}

// RegisterRoutes registers directory and availability routes.
func (h *ResourceHandler) RegisterRoutes(r *gin.RouterGroup, jwtManager *auth.JWTManager) {
	authMW := middleware.AuthMiddleware(jwtManager)

	api := r.Group("/api/v1")
	api.Use(authMW)
	{
		api.GET("/labs", h.ListLabs)
		api.GET("/labs/:id/resources", h.ListResources)
		api.GET("/resources/:id", h.GetResource)
		api.GET("/resources/:id/eligibility", h.Eligibility)
		api.GET("/availability", h.Availability)
	}
}

// ListLabs handles GET /api/v1/labs.
func (h *ResourceHandler) ListLabs(c *gin.Context) {
	labs, err := h.directory.ListLabs(c.Request.Context())
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Success(c, labs)
}

// ListResources handles GET /api/v1/labs/:id/resources.
func (h *ResourceHandler) ListResources(c *gin.Context) {
	labID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		response.BadRequest(c, "invalid lab ID")
		return
	}

	resources, err := h.directory.ListResources(c.Request.Context(), labID)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Success(c, resources)
}

// GetResource handles GET /api/v1/resources/:id.
func (h *ResourceHandler) GetResource(c *gin.Context) {
	resourceID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		response.BadRequest(c, "invalid resource ID")
		return
	}

	result, err := h.directory.GetResource(c.Request.Context(), resourceID)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Success(c, result)
}

// Eligibility handles GET /api/v1/resources/:id/eligibility for the caller.
func (h *ResourceHandler) Eligibility(c *gin.Context) {
	resourceID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		response.BadRequest(c, "invalid resource ID")
		return
	}
	who, ok := requester(c)
	if !ok {
		return
	}

	result, err := h.directory.Eligibility(c.Request.Context(), who, resourceID)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Success(c, result)
}

// Availability handles GET /api/v1/availability?resource_id=|lab_id=&from=&to=&status=.
func (h *ResourceHandler) Availability(c *gin.Context) {
	var q application.AvailabilityQuery

	if raw := c.Query("resource_id"); raw != "" {
		id, err := uuid.Parse(raw)
		if err != nil {
			response.BadRequest(c, "invalid resource_id")
			return
		}
		q.ResourceID = &id
	}
	if raw := c.Query("lab_id"); raw != "" {
		id, err := uuid.Parse(raw)
		if err != nil {
			response.BadRequest(c, "invalid lab_id")
			return
		}
		q.LabID = &id
	}

	var err error
	if q.From, err = time.Parse(time.RFC3339, c.Query("from")); err != nil {
		response.BadRequest(c, "from must be an RFC 3339 timestamp")
		return
	}
	if q.To, err = time.Parse(time.RFC3339, c.Query("to")); err != nil {
		response.BadRequest(c, "to must be an RFC 3339 timestamp")
		return
	}
	for _, s := range c.QueryArray("status") {
		for _, part := range strings.Split(s, ",") {
			if part = strings.TrimSpace(part); part != "" {
				q.Statuses = append(q.Statuses, part)
			}
		}
	}

	result, err := h.availability.Query(c.Request.Context(), q)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Success(c, result)
}
