package handlers

import (
	"context"
	"strings"

	"github.com/gofiber/fiber/v2"

	"signage/internal/mediasync"
	"signage/internal/utils"
)

// SyncService is the engine surface used by HTTP handlers
type SyncService interface {
	GetSyncPlan(ctx context.Context, deviceID string) (*mediasync.PlanResult, error)
	ReportSyncProgress(ctx context.Context, deviceID, mediaID string, bytes int64) (*mediasync.ItemResult, error)
	ReportSyncAck(ctx context.Context, deviceID, mediaID string) (*mediasync.ItemResult, error)
	ReportSyncFailure(ctx context.Context, deviceID, mediaID, reason string) (*mediasync.ItemResult, error)
	GetSyncStatus(ctx context.Context, deviceID string) (*mediasync.Status, error)
	OnDeviceDeleted(ctx context.Context, deviceID string) error
	NotifyRequirementsChanged(ctx context.Context, deviceIDs []string, reason string) error
}

// ProgressRequest is the body of POST /sync-progress
type ProgressRequest struct {
	MediaID       string `json:"media_id"`
	BytesProgress *int64 `json:"bytes_progress"`
}

// AckRequest is the body of POST /sync-ack
type AckRequest struct {
	MediaID string `json:"media_id"`
}

// FailureRequest is the body of POST /sync-failure
type FailureRequest struct {
	MediaID string `json:"media_id"`
	Error   string `json:"error"`
}

// ItemResponse echoes the tracked state of one item after a report
type ItemResponse struct {
	DeviceID      string  `json:"device_id"`
	MediaID       string  `json:"media_id"`
	Status        string  `json:"status"`
	BytesProgress int64   `json:"bytes_progress"`
	TotalBytes    int64   `json:"total_bytes"`
	RetryCount    int32   `json:"retry_count"`
	LastError     *string `json:"last_error,omitempty"`
	PlanVersion   int64   `json:"plan_version"`
	Applied       bool    `json:"applied"`
}

const defaultFailureReason = "unspecified"

// SyncHandler serves the device-facing sync routes
type SyncHandler struct {
	engine SyncService
}

// NewSyncHandler creates a new sync handler
func NewSyncHandler(engine SyncService) *SyncHandler {
	return &SyncHandler{engine: engine}
}

// GetSyncPlan returns the device's prioritized download plan
func (h *SyncHandler) GetSyncPlan(c *fiber.Ctx) error {
	plan, err := h.engine.GetSyncPlan(c.UserContext(), c.Params("id"))
	if err != nil {
		return sendSyncError(c, err)
	}
	c.Set(fiber.HeaderCacheControl, "no-store")
	return c.JSON(plan)
}

// ReportProgress records partial download progress
func (h *SyncHandler) ReportProgress(c *fiber.Ctx) error {
	var req ProgressRequest
	if err := c.BodyParser(&req); err != nil {
		return sendBodyError(c, err)
	}
	if strings.TrimSpace(req.MediaID) == "" {
		return utils.SendValidationError(c, "media_id", "is required")
	}
	if req.BytesProgress == nil {
		return utils.SendValidationError(c, "bytes_progress", "is required")
	}

	result, err := h.engine.ReportSyncProgress(c.UserContext(), c.Params("id"), req.MediaID, *req.BytesProgress)
	if err != nil {
		return sendSyncError(c, err)
	}
	return c.JSON(newItemResponse(result))
}

// ReportAck marks an item as completely downloaded
func (h *SyncHandler) ReportAck(c *fiber.Ctx) error {
	var req AckRequest
	if err := c.BodyParser(&req); err != nil {
		return sendBodyError(c, err)
	}
	if strings.TrimSpace(req.MediaID) == "" {
		return utils.SendValidationError(c, "media_id", "is required")
	}

	result, err := h.engine.ReportSyncAck(c.UserContext(), c.Params("id"), req.MediaID)
	if err != nil {
		return sendSyncError(c, err)
	}
	return c.JSON(newItemResponse(result))
}

// ReportFailure records a failed download attempt
func (h *SyncHandler) ReportFailure(c *fiber.Ctx) error {
	var req FailureRequest
	if err := c.BodyParser(&req); err != nil {
		return sendBodyError(c, err)
	}
	if strings.TrimSpace(req.MediaID) == "" {
		return utils.SendValidationError(c, "media_id", "is required")
	}
	reason := strings.TrimSpace(req.Error)
	if reason == "" {
		reason = defaultFailureReason
	}

	result, err := h.engine.ReportSyncFailure(c.UserContext(), c.Params("id"), req.MediaID, reason)
	if err != nil {
		return sendSyncError(c, err)
	}
	return c.JSON(newItemResponse(result))
}

// GetSyncStatus returns the readiness projection of the device
func (h *SyncHandler) GetSyncStatus(c *fiber.Ctx) error {
	status, err := h.engine.GetSyncStatus(c.UserContext(), c.Params("id"))
	if err != nil {
		return sendSyncError(c, err)
	}
	c.Set(fiber.HeaderCacheControl, "no-store")
	return c.JSON(status)
}

func newItemResponse(result *mediasync.ItemResult) ItemResponse {
	item := result.Item
	return ItemResponse{
		DeviceID:      item.DeviceID,
		MediaID:       item.MediaID,
		Status:        item.Status,
		BytesProgress: item.BytesProgress,
		TotalBytes:    item.TotalBytes,
		RetryCount:    item.RetryCount,
		LastError:     item.LastError,
		PlanVersion:   item.PlanVersion,
		Applied:       result.Applied,
	}
}
