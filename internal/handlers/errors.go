package handlers

import (
	"errors"

	"github.com/gofiber/fiber/v2"

	"signage/internal/logging"
	"signage/internal/mediasync"
	"signage/internal/utils"
)

// sendSyncError maps engine errors to HTTP responses
func sendSyncError(c *fiber.Ctx, err error) error {
	switch {
	case errors.Is(err, mediasync.ErrUnknownDevice):
		return utils.SendNotFoundError(c, utils.CodeUnknownDevice, "device "+c.Params("id"))
	case errors.Is(err, mediasync.ErrUnknownItem):
		// the device should re-fetch its plan
		return utils.SendErrorResponse(c, fiber.StatusConflict, utils.CodeUnknownItem, err.Error())
	case errors.Is(err, mediasync.ErrStaleProgress):
		return utils.SendErrorResponse(c, fiber.StatusConflict, utils.CodeStaleProgress, err.Error())
	case errors.Is(err, mediasync.ErrInvalidProgress):
		return utils.SendErrorResponse(c, fiber.StatusUnprocessableEntity, utils.CodeInvalidProgress, err.Error())
	case errors.Is(err, mediasync.ErrCollaboratorUnavailable):
		c.Set(fiber.HeaderRetryAfter, "5")
		return utils.SendErrorResponse(c, fiber.StatusServiceUnavailable, utils.CodeCollaboratorUnavailable,
			"requirement sources are unavailable")
	default:
		logging.WithContext(c.UserContext()).Error().Err(err).
			Str("device_id", c.Params("id")).
			Str("path", c.Path()).
			Msg("Sync request failed")
		return utils.SendInternalServerError(c, "internal error")
	}
}

func sendBodyError(c *fiber.Ctx, err error) error {
	return utils.SendErrorResponse(c, fiber.StatusBadRequest, utils.CodeInvalidBody, err.Error())
}
