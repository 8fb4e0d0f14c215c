package response

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/labreserve/service-booking/pkg/domain"
)

// Envelope is the JSON body of every API response.
type Envelope struct {
	Success bool        `json:"success"`
	Data    any         `json:"data,omitempty"`
	Error   *ErrorBody  `json:"error,omitempty"`
	Meta    *Pagination `json:"meta,omitempty"`
}

// ErrorBody carries the structured error for clients.
type ErrorBody struct {
	Code      string `json:"code"`
	Message   string `json:"message"`
	Details   any    `json:"details,omitempty"`
	Retryable bool   `json:"retryable,omitempty"`
}

// Pagination is the paging metadata of list responses.
type Pagination struct {
	Total      int64 `json:"total"`
	Page       int   `json:"page"`
	Limit      int   `json:"limit"`
	TotalPages int   `json:"total_pages"`
}

func Success(c *gin.Context, data any) {
	c.JSON(http.StatusOK, Envelope{Success: true, Data: data})
}

func Created(c *gin.Context, data any) {
	c.JSON(http.StatusCreated, Envelope{Success: true, Data: data})
}

func NoContent(c *gin.Context) {
	c.Status(http.StatusNoContent)
}

// Paginated writes a page of items with paging metadata.
func Paginated[T any](c *gin.Context, items []T, total int64, page, limit int) {
	result := domain.NewPaginatedResult(items, total, page, limit)
	c.JSON(http.StatusOK, Envelope{
		Success: true,
		Data:    result.Items,
		Meta: &Pagination{
			Total:      result.Total,
			Page:       result.Page,
			Limit:      result.Limit,
			TotalPages: result.TotalPages,
		},
	})
}

func BadRequest(c *gin.Context, msg string) {
	c.JSON(http.StatusBadRequest, Envelope{
		Error: &ErrorBody{Code: string(domain.CodeValidation), Message: msg},
	})
}

func Unauthorized(c *gin.Context, msg string) {
	c.AbortWithStatusJSON(http.StatusUnauthorized, Envelope{
		Error: &ErrorBody{Code: "UNAUTHORIZED", Message: msg},
	})
}

// Error maps a domain error to its HTTP status. Unknown errors become 500
// without leaking their message.
func Error(c *gin.Context, err error) {
	de, ok := domain.AsDomainError(err)
	if !ok {
		_ = c.Error(err)
		c.JSON(http.StatusInternalServerError, Envelope{
			Error: &ErrorBody{Code: "INTERNAL_ERROR", Message: "internal server error"},
		})
		return
	}

	status := StatusFor(de.Code)
	if de.Retryable() {
		c.Header("Retry-After", "1")
	}
	c.JSON(status, Envelope{
		Error: &ErrorBody{
			Code:      string(de.Code),
			Message:   de.Message,
			Details:   de.Details,
			Retryable: de.Retryable(),
		},
	})
}

// StatusFor returns the HTTP status for an error code.
func StatusFor(code domain.ErrorCode) int {
	switch code {
	case domain.CodeValidation:
		return http.StatusBadRequest
	case domain.CodeEligibility:
		return http.StatusUnprocessableEntity
	case domain.CodeConflict, domain.CodeInsufficientStock, domain.CodeInvalidState, domain.CodeAlreadyProcessed:
		return http.StatusConflict
	case domain.CodeContention:
		return http.StatusServiceUnavailable
	case domain.CodeNotFound:
		return http.StatusNotFound
	case domain.CodeForbidden:
		return http.StatusForbidden
	default:
		return http.StatusInternalServerError
	}
}
