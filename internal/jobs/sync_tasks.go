package jobs

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/hibiken/asynq"

	"signage/internal/logging"
	"signage/internal/mediasync"
	"signage/internal/metrics"
	"signage/internal/tracing"
)

// Task types for sync jobs
const (
	TypeDeviceDeleted = "device:deleted"
	TypeSyncNotify    = "sync:notify"
)

// Queues
const (
	QueueCritical = "critical"
	QueueDefault  = "default"
)

// DeviceDeletedPayload is published by the device lifecycle owner after a device row is removed
type DeviceDeletedPayload struct {
	DeviceID string `json:"device_id"`
}

// SyncNotifyPayload asks devices to re-poll their sync plan
type SyncNotifyPayload struct {
	DeviceIDs []string `json:"device_ids"`
	Reason    string   `json:"reason"`
}

// NewDeviceDeletedTask builds a device:deleted task
func NewDeviceDeletedTask(deviceID string) (*asynq.Task, error) {
	payload, err := json.Marshal(DeviceDeletedPayload{DeviceID: deviceID})
	if err != nil {
		return nil, fmt.Errorf("failed to marshal device deleted payload: %w", err)
	}
	return asynq.NewTask(TypeDeviceDeleted, payload, asynq.Queue(QueueCritical), asynq.MaxRetry(10)), nil
}

// NewSyncNotifyTask builds a sync:notify task
func NewSyncNotifyTask(deviceIDs []string, reason string) (*asynq.Task, error) {
	payload, err := json.Marshal(SyncNotifyPayload{DeviceIDs: deviceIDs, Reason: reason})
	if err != nil {
		return nil, fmt.Errorf("failed to marshal sync notify payload: %w", err)
	}
	return asynq.NewTask(TypeSyncNotify, payload, asynq.Queue(QueueDefault), asynq.MaxRetry(3), asynq.Timeout(time.Minute)), nil
}

// SyncEngine is the part of the sync engine that jobs drive
type SyncEngine interface {
	OnDeviceDeleted(ctx context.Context, deviceID string) error
	NotifyRequirementsChanged(ctx context.Context, deviceIDs []string, reason string) error
}

// SyncTaskHandler processes sync jobs
type SyncTaskHandler struct {
	engine SyncEngine
}

// NewSyncTaskHandler creates a new sync task handler
func NewSyncTaskHandler(engine SyncEngine) *SyncTaskHandler {
	return &SyncTaskHandler{engine: engine}
}

// Register attaches the sync handlers to mux
func (h *SyncTaskHandler) Register(mux *asynq.ServeMux) {
	mux.HandleFunc(TypeDeviceDeleted, h.HandleDeviceDeleted)
	mux.HandleFunc(TypeSyncNotify, h.HandleSyncNotify)
}

// HandleDeviceDeleted removes the sync state of a deleted device
func (h *SyncTaskHandler) HandleDeviceDeleted(ctx context.Context, t *asynq.Task) error {
	var payload DeviceDeletedPayload
	if err := json.Unmarshal(t.Payload(), &payload); err != nil {
		return fmt.Errorf("failed to unmarshal device deleted payload: %v: %w", err, asynq.SkipRetry)
	}
	if payload.DeviceID == "" {
		return fmt.Errorf("device deleted payload without device_id: %w", asynq.SkipRetry)
	}

	return h.engine.OnDeviceDeleted(ctx, payload.DeviceID)
}

// HandleSyncNotify notifies each device separately. Unknown devices are
// skipped; any other failure makes the task retry.
func (h *SyncTaskHandler) HandleSyncNotify(ctx context.Context, t *asynq.Task) error {
	var payload SyncNotifyPayload
	if err := json.Unmarshal(t.Payload(), &payload); err != nil {
		return fmt.Errorf("failed to unmarshal sync notify payload: %v: %w", err, asynq.SkipRetry)
	}

	log := logging.WithJob(QueueDefault, TypeSyncNotify)
	var errs []error
	for _, deviceID := range payload.DeviceIDs {
		err := h.engine.NotifyRequirementsChanged(ctx, []string{deviceID}, payload.Reason)
		switch {
		case err == nil:
		case errors.Is(err, mediasync.ErrUnknownDevice):
			log.Info().Str("device_id", deviceID).Msg("Skipping notification for unknown device")
		default:
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// MetricsMiddleware records job duration and logs each processed job
func MetricsMiddleware(m *metrics.Metrics, logger *logging.Logger) asynq.MiddlewareFunc {
	return func(next asynq.Handler) asynq.Handler {
		return asynq.HandlerFunc(func(ctx context.Context, t *asynq.Task) error {
			start := time.Now()
			err := next.ProcessTask(ctx, t)
			duration := time.Since(start)

			queue, _ := asynq.GetQueueName(ctx)
			retried, _ := asynq.GetRetryCount(ctx)

			status := "success"
			errMsg := ""
			if err != nil {
				status = "failed"
				errMsg = err.Error()
			}

			if m != nil {
				m.JobDurationSeconds.WithLabelValues(queue, t.Type(), status).Observe(duration.Seconds())
			}
			if logger != nil {
				logger.LogJobProcessing(queue, t.Type(), retried+1, duration, err == nil, errMsg)
			}
			return err
		})
	}
}

// TracingMiddleware wraps each job in a consumer span
func TracingMiddleware() asynq.MiddlewareFunc {
	return func(next asynq.Handler) asynq.Handler {
		return asynq.HandlerFunc(func(ctx context.Context, t *asynq.Task) error {
			queue, _ := asynq.GetQueueName(ctx)
			retried, _ := asynq.GetRetryCount(ctx)

			ctx, span := tracing.StartJobSpan(ctx, queue, t.Type(), retried+1)
			defer span.End()

			err := next.ProcessTask(ctx, t)
			if err != nil {
				tracing.SetSpanError(ctx, err)
			}
			return err
		})
	}
}

// Enqueuer submits sync jobs to asynq
type Enqueuer struct {
	client *asynq.Client
}

// NewEnqueuer wraps an asynq client
func NewEnqueuer(client *asynq.Client) *Enqueuer {
	return &Enqueuer{client: client}
}

// EnqueueDeviceDeleted schedules sync state cleanup for a device
func (e *Enqueuer) EnqueueDeviceDeleted(ctx context.Context, deviceID string) (*asynq.TaskInfo, error) {
	task, err := NewDeviceDeletedTask(deviceID)
	if err != nil {
		return nil, err
	}
	return e.client.EnqueueContext(ctx, task)
}

// EnqueueSyncNotify schedules plan change notifications
func (e *Enqueuer) EnqueueSyncNotify(ctx context.Context, deviceIDs []string, reason string) (*asynq.TaskInfo, error) {
	task, err := NewSyncNotifyTask(deviceIDs, reason)
	if err != nil {
		return nil, err
	}
	return e.client.EnqueueContext(ctx, task)
}
