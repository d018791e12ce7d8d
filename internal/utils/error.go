package utils

import (
	"net/http"
	"strconv"
	"time"

	"github.com/gofiber/fiber/v2"
)

// Machine-readable error codes returned in ErrorResponse.Code
const (
	CodeUnknownDevice           = "unknown_device"
	CodeUnknownItem             = "unknown_item"
	CodeStaleProgress           = "stale_progress"
	CodeInvalidProgress         = "invalid_progress"
	CodeValidationFailed        = "validation_failed"
	CodeInvalidBody             = "invalid_body"
	CodeCollaboratorUnavailable = "collaborator_unavailable"
	CodeRateLimited             = "rate_limited"
	CodeUnauthorized            = "unauthorized"
	CodeInternal                = "internal_error"
)

// ErrorResponse represents a standardized error response format
type ErrorResponse struct {
	Error   string `json:"error"`
	Code    string `json:"code,omitempty"`
	Details string `json:"details,omitempty"`
	Status  int    `json:"status"`
}

// SendErrorResponse sends a standardized error response
func SendErrorResponse(c *fiber.Ctx, httpCode int, code, details string) error {
	return c.Status(httpCode).JSON(ErrorResponse{
		Error:   http.StatusText(httpCode),
		Code:    code,
		Details: details,
		Status:  httpCode,
	})
}

// SendValidationError sends a validation error response
func SendValidationError(c *fiber.Ctx, field string, message string) error {
	return SendErrorResponse(c, http.StatusUnprocessableEntity, CodeValidationFailed, field+": "+message)
}

// SendNotFoundError sends a not found error response
func SendNotFoundError(c *fiber.Ctx, code, resource string) error {
	return SendErrorResponse(c, http.StatusNotFound, code, resource+" does not exist")
}

// SendUnauthorizedError sends an unauthorized error response
func SendUnauthorizedError(c *fiber.Ctx, message string) error {
	return SendErrorResponse(c, http.StatusUnauthorized, CodeUnauthorized, message)
}

// SendTooManyRequests sends a 429 with a Retry-After header
func SendTooManyRequests(c *fiber.Ctx, retryAfter time.Duration) error {
	seconds := int(retryAfter.Round(time.Second).Seconds())
	if seconds < 1 {
		seconds = 1
	}
	c.Set(fiber.HeaderRetryAfter, strconv.Itoa(seconds))
	return SendErrorResponse(c, http.StatusTooManyRequests, CodeRateLimited, "too many requests, slow down")
}

// SendInternalServerError sends an internal server error response
func SendInternalServerError(c *fiber.Ctx, message string) error {
	return SendErrorResponse(c, http.StatusInternalServerError, CodeInternal, message)
}
