package handlers

import (
	"bufio"
	"encoding/json"
	"fmt"
	"time"

	"github.com/gofiber/fiber/v2"

	"signage/internal/mediasync"
	"signage/internal/realtime"
	"signage/internal/utils"
)

const (
	eventBuffer      = 16
	defaultHeartbeat = 15 * time.Second
)

// EventsHandler streams realtime hub events to a device as server-sent events
type EventsHandler struct {
	hub       *realtime.Hub
	devices   mediasync.DeviceDirectory
	heartbeat time.Duration
}

// NewEventsHandler creates a new events handler
func NewEventsHandler(hub *realtime.Hub, devices mediasync.DeviceDirectory) *EventsHandler {
	return &EventsHandler{hub: hub, devices: devices, heartbeat: defaultHeartbeat}
}

// Stream subscribes the device to the hub until the client goes away
func (h *EventsHandler) Stream(c *fiber.Ctx) error {
	deviceID := c.Params("id")
	if h.devices != nil {
		ok, err := h.devices.DeviceExists(c.UserContext(), deviceID)
		if err != nil {
			return sendSyncError(c, err)
		}
		if !ok {
			return utils.SendNotFoundError(c, utils.CodeUnknownDevice, "device "+deviceID)
		}
	}

	c.Set(fiber.HeaderContentType, "text/event-stream")
	c.Set(fiber.HeaderCacheControl, "no-cache")
	c.Set(fiber.HeaderConnection, "keep-alive")

	events, cancel := h.hub.Subscribe(deviceID, eventBuffer)
	heartbeat := h.heartbeat

	c.Context().SetBodyStreamWriter(func(w *bufio.Writer) {
		defer cancel()

		ticker := time.NewTicker(heartbeat)
		defer ticker.Stop()

		for {
			select {
			case ev, ok := <-events:
				if !ok {
					return
				}
				if err := writeEvent(w, ev); err != nil {
					return
				}
			case <-ticker.C:
				if _, err := w.WriteString(": ping\n\n"); err != nil {
					return
				}
				if err := w.Flush(); err != nil {
					return
				}
			}
		}
	})
	return nil
}

func writeEvent(w *bufio.Writer, ev realtime.Event) error {
	data, err := json.Marshal(ev)
	if err != nil {
		return err
	}
	if _, err := fmt.Fprintf(w, "id: %d\nevent: %s\ndata: %s\n\n", ev.Revision, ev.Type, data); err != nil {
		return err
	}
	return w.Flush()
}
