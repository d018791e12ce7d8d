package handlers

import (
	"context"
	"strings"

	"github.com/gofiber/fiber/v2"
	"github.com/hibiken/asynq"
	"github.com/rs/zerolog"

	"signage/internal/logging"
	"signage/internal/middleware"
	"signage/internal/utils"
)

const defaultNotifyReason = "operator_request"

// JobEnqueuer schedules background sync jobs
type JobEnqueuer interface {
	EnqueueDeviceDeleted(ctx context.Context, deviceID string) (*asynq.TaskInfo, error)
	EnqueueSyncNotify(ctx context.Context, deviceIDs []string, reason string) (*asynq.TaskInfo, error)
}

// NotifyRequest is the body of the sync-notify routes
type NotifyRequest struct {
	DeviceIDs []string `json:"device_ids,omitempty"`
	Reason    string   `json:"reason"`
}

// AdminSyncHandler serves operator routes
type AdminSyncHandler struct {
	engine    SyncService
	enqueuer  JobEnqueuer
	onDeleted func(deviceID string)
}

// NewAdminSyncHandler creates an operator handler. enqueuer may be nil, in
// which case bulk notifications run inline.
func NewAdminSyncHandler(engine SyncService, enqueuer JobEnqueuer) *AdminSyncHandler {
	return &AdminSyncHandler{engine: engine, enqueuer: enqueuer}
}

// OnDeleted registers a callback run after a device's sync state is removed
func (h *AdminSyncHandler) OnDeleted(fn func(deviceID string)) {
	h.onDeleted = fn
}

// NotifyDevice asks one device to re-poll its plan
func (h *AdminSyncHandler) NotifyDevice(c *fiber.Ctx) error {
	var req NotifyRequest
	if len(c.Body()) > 0 {
		if err := c.BodyParser(&req); err != nil {
			return sendBodyError(c, err)
		}
	}
	reason := notifyReason(req.Reason)
	deviceID := c.Params("id")

	if err := h.engine.NotifyRequirementsChanged(c.UserContext(), []string{deviceID}, reason); err != nil {
		return sendSyncError(c, err)
	}

	h.audit(c).Info().Str("device_id", deviceID).Str("reason", reason).Msg("Operator requested sync notification")
	return c.Status(fiber.StatusAccepted).JSON(fiber.Map{
		"device_id": deviceID,
		"reason":    reason,
	})
}

// NotifyDevices fans a notification out to many devices through the job queue
func (h *AdminSyncHandler) NotifyDevices(c *fiber.Ctx) error {
	var req NotifyRequest
	if err := c.BodyParser(&req); err != nil {
		return sendBodyError(c, err)
	}
	if len(req.DeviceIDs) == 0 {
		return utils.SendValidationError(c, "device_ids", "must not be empty")
	}
	reason := notifyReason(req.Reason)

	if h.enqueuer == nil {
		if err := h.engine.NotifyRequirementsChanged(c.UserContext(), req.DeviceIDs, reason); err != nil {
			return sendSyncError(c, err)
		}
		return c.Status(fiber.StatusAccepted).JSON(fiber.Map{
			"devices": len(req.DeviceIDs),
			"reason":  reason,
		})
	}

	info, err := h.enqueuer.EnqueueSyncNotify(c.UserContext(), req.DeviceIDs, reason)
	if err != nil {
		h.audit(c).Error().Err(err).Msg("Failed to enqueue sync notification")
		return utils.SendErrorResponse(c, fiber.StatusServiceUnavailable, utils.CodeCollaboratorUnavailable,
			"job queue unavailable")
	}

	h.audit(c).Info().Str("task_id", info.ID).Int("devices", len(req.DeviceIDs)).Msg("Enqueued sync notification")
	return c.Status(fiber.StatusAccepted).JSON(fiber.Map{
		"task_id": info.ID,
		"queue":   info.Queue,
		"devices": len(req.DeviceIDs),
		"reason":  reason,
	})
}

// DeleteSyncState drops all sync rows of a device. With ?async=true the
// cleanup is handed to the worker.
func (h *AdminSyncHandler) DeleteSyncState(c *fiber.Ctx) error {
	deviceID := c.Params("id")

	if c.QueryBool("async") && h.enqueuer != nil {
		info, err := h.enqueuer.EnqueueDeviceDeleted(c.UserContext(), deviceID)
		if err != nil {
			h.audit(c).Error().Err(err).Msg("Failed to enqueue device cleanup")
			return utils.SendErrorResponse(c, fiber.StatusServiceUnavailable, utils.CodeCollaboratorUnavailable,
				"job queue unavailable")
		}
		if h.onDeleted != nil {
			h.onDeleted(deviceID)
		}
		h.audit(c).Info().Str("device_id", deviceID).Str("task_id", info.ID).Msg("Enqueued device sync cleanup")
		return c.Status(fiber.StatusAccepted).JSON(fiber.Map{
			"task_id": info.ID,
			"queue":   info.Queue,
		})
	}

	if err := h.engine.OnDeviceDeleted(c.UserContext(), deviceID); err != nil {
		return sendSyncError(c, err)
	}
	if h.onDeleted != nil {
		h.onDeleted(deviceID)
	}

	h.audit(c).Info().Str("device_id", deviceID).Msg("Operator removed device sync state")
	return c.SendStatus(fiber.StatusNoContent)
}

func (h *AdminSyncHandler) audit(c *fiber.Ctx) *zerolog.Logger {
	operator, _ := middleware.GetOperator(c)
	logger := logging.WithContext(c.UserContext()).With().Str("operator", operator).Logger()
	return &logger
}

func notifyReason(reason string) string {
	reason = strings.TrimSpace(reason)
	if reason == "" {
		return defaultNotifyReason
	}
	return reason
}
