package handler

import (
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/labreserve/service-booking/internal/application"
	"github.com/labreserve/service-booking/pkg/auth"
	"github.com/labreserve/service-booking/pkg/middleware"
	"github.com/labreserve/service-booking/pkg/response"
)

// AdminHandler handles admin HTTP requests: booking oversight, catalog
// seeding, stock, blocks and certification grants.
type AdminHandler struct {
	bookings  *application.BookingService
	directory *application.DirectoryService
	ledger    *application.StockLedger
	intervals *application.IntervalService
}

// NewAdminHandler creates a new AdminHandler.
func NewAdminHandler(
	bookings *application.BookingService,
	directory *application.DirectoryService,
	ledger *application.StockLedger,
	intervals *application.IntervalService,
) *AdminHandler {
	return &AdminHandler{
		bookings:  bookings,
		directory: directory,
		ledger:    ledger,
		intervals: intervals,
	}
}

// RegisterRoutes registers admin routes.
func (h *AdminHandler) RegisterRoutes(r *gin.RouterGroup, jwtManager *auth.JWTManager) {
	authMW := middleware.AuthMiddleware(jwtManager)
	adminRole := middleware.RequireRole(auth.RoleAdmin, auth.RoleLabManager)

	admin := r.Group("/api/v1/admin")
	admin.Use(authMW, adminRole)
	{
		admin.GET("/bookings", h.ListBookings)
		admin.GET("/stats/bookings", h.BookingStats)

		admin.POST("/labs", h.CreateLab)
		admin.POST("/resources", h.CreateResource)
		admin.POST("/resources/:id/stock", h.AdjustStock)
		admin.GET("/resources/:id/movements", h.ListMovements)

		admin.POST("/intervals", h.BlockInterval)
		admin.DELETE("/intervals/:id", h.ReleaseInterval)

		admin.POST("/certifications", h.GrantCertification)
		admin.DELETE("/certifications/:id", h.RevokeCertification)
		admin.GET("/users/:id/certifications", h.ListCertifications)
	}
}

// ListBookings handles GET /api/v1/admin/bookings?status=.
func (h *AdminHandler) ListBookings(c *gin.Context) {
	page, limit := parsePagination(c)

	bookings, total, err := h.bookings.ListAll(c.Request.Context(), c.Query("status"), page, limit)
	if err != nil {
		response.Error(c, err)
		return
	}

	response.Paginated(c, bookings, total, page, limit)
}

// BookingStats handles GET /api/v1/admin/stats/bookings.
func (h *AdminHandler) BookingStats(c *gin.Context) {
	stats, err := h.bookings.Stats(c.Request.Context())
	if err != nil {
		response.Error(c, err)
		return
	}

	response.Success(c, stats)
}

// CreateLab handles POST /api/v1/admin/labs.
func (h *AdminHandler) CreateLab(c *gin.Context) {
	who, ok := requester(c)
	if !ok {
		return
	}
	var req application.CreateLabRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.BadRequest(c, err.Error())
		return
	}

	result, err := h.directory.CreateLab(c.Request.Context(), who, req)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Created(c, result)
}

// CreateResource handles POST /api/v1/admin/resources.
func (h *AdminHandler) CreateResource(c *gin.Context) {
	who, ok := requester(c)
	if !ok {
		return
	}
	var req application.CreateResourceRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.BadRequest(c, err.Error())
		return
	}

	result, err := h.directory.CreateResource(c.Request.Context(), who, req)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Created(c, result)
}

// AdjustStock handles POST /api/v1/admin/resources/:id/stock.
func (h *AdminHandler) AdjustStock(c *gin.Context) {
	resourceID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		response.BadRequest(c, "invalid resource ID")
		return
	}
	who, ok := requester(c)
	if !ok {
		return
	}
	var req application.AdjustStockRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.BadRequest(c, err.Error())
		return
	}

	result, err := h.ledger.Adjust(c.Request.Context(), who, resourceID, req)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Success(c, result)
}

// ListMovements handles GET /api/v1/admin/resources/:id/movements.
func (h *AdminHandler) ListMovements(c *gin.Context) {
	resourceID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		response.BadRequest(c, "invalid resource ID")
		return
	}

	page, limit := parsePagination(c)
	result, err := h.ledger.Movements(c.Request.Context(), resourceID, page, limit)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Paginated(c, result.Items, result.Total, result.Page, result.Limit)
}

// BlockInterval handles POST /api/v1/admin/intervals.
func (h *AdminHandler) BlockInterval(c *gin.Context) {
	who, ok := requester(c)
	if !ok {
		return
	}
	var req application.BlockRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.BadRequest(c, err.Error())
		return
	}

	result, err := h.intervals.Block(c.Request.Context(), who, req)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Created(c, result)
}

// ReleaseInterval handles DELETE /api/v1/admin/intervals/:id.
func (h *AdminHandler) ReleaseInterval(c *gin.Context) {
	intervalID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		response.BadRequest(c, "invalid interval ID")
		return
	}
	who, ok := requester(c)
	if !ok {
		return
	}

	if err := h.intervals.Release(c.Request.Context(), who, intervalID); err != nil {
		response.Error(c, err)
		return
	}
	response.NoContent(c)
}

// GrantCertification handles POST /api/v1/admin/certifications.
func (h *AdminHandler) GrantCertification(c *gin.Context) {
	who, ok := requester(c)
	if !ok {
		return
	}
	var req application.GrantCertificationRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.BadRequest(c, err.Error())
		return
	}

	result, err := h.directory.GrantCertification(c.Request.Context(), who, req)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Created(c, result)
}

// RevokeCertification handles DELETE /api/v1/admin/certifications/:id.
func (h *AdminHandler) RevokeCertification(c *gin.Context) {
	grantID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		response.BadRequest(c, "invalid certification ID")
		return
	}
	who, ok := requester(c)
	if !ok {
		return
	}

	if err := h.directory.RevokeCertification(c.Request.Context(), who, grantID); err != nil {
		response.Error(c, err)
		return
	}
	response.NoContent(c)
}

// ListCertifications handles GET /api/v1/admin/users/:id/certifications.
func (h *AdminHandler) ListCertifications(c *gin.Context) {
	userID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		response.BadRequest(c, "invalid user ID")
		return
	}

	result, err := h.directory.ListCertifications(c.Request.Context(), userID)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Success(c, result)
}
