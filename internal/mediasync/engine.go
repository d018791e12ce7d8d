package mediasync

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"gorm.io/gorm"

	"signage/internal/logging"
	"signage/internal/metrics"
)

const tracerName = "signage/mediasync"

// Report kinds used in logs and metrics
const (
	ReportProgress = "progress"
	ReportAck      = "ack"
	ReportFailure  = "failure"
)

// Sources bundles the collaborators the engine reads from
type Sources struct {
	FlashSale  FlashSaleSource
	Playlists  PlaylistSource
	Schedules  ScheduleSource
	Background BackgroundSource
	Catalog    MediaCatalog
	Devices    DeviceDirectory
}

// EngineConfig holds optional engine settings
type EngineConfig struct {
	PreloadWindow time.Duration
	Now           func() time.Time
	Logger        *zerolog.Logger
	Metrics       *metrics.Metrics
	Notifier      Notifier
}

// PlanEntry is one item of a returned sync plan together with its tracked state
type PlanEntry struct {
	MediaID       string        `json:"media_id"`
	PriorityClass PriorityClass `json:"priority_class"`
	Reason        Reason        `json:"reason"`
	SizeBytes     int64         `json:"size_bytes"`
	Checksum      string        `json:"checksum,omitempty"`
	Status        string        `json:"status"`
	BytesProgress int64         `json:"bytes_progress"`
}

// PlanResult is the response to a sync plan request
type PlanResult struct {
	DeviceID           string      `json:"device_id"`
	PlanVersion        int64       `json:"plan_version"`
	Items              []PlanEntry `json:"items"`
	Degraded           bool        `json:"degraded"`
	UnavailableSources []string    `json:"unavailable_sources,omitempty"`
	GeneratedAt        time.Time   `json:"generated_at"`
}

// Engine is the media sync facade used by transports and jobs
type Engine struct {
	resolver *Resolver
	store    *Store
	locks    *deviceLocks
	catalog  MediaCatalog
	devices  DeviceDirectory
	notifier Notifier

	now     func() time.Time
	logger  zerolog.Logger
	metrics *metrics.Metrics
	tracer  trace.Tracer
}

// NewEngine wires the engine over db and the given collaborators
func NewEngine(db *gorm.DB, sources Sources, cfg EngineConfig) *Engine {
	now := cfg.Now
	if now == nil {
		now = time.Now
	}

	logger := logging.WithModule("mediasync")
	if cfg.Logger != nil {
		logger = cfg.Logger
	}

	return &Engine{
		resolver: NewResolver(sources, cfg.PreloadWindow, now, *logger, cfg.Metrics),
		store:    NewStore(db, now),
		locks:    newDeviceLocks(),
		catalog:  sources.Catalog,
		devices:  sources.Devices,
		notifier: cfg.Notifier,
		now:      now,
		logger:   *logger,
		metrics:  cfg.Metrics,
		tracer:   otel.Tracer(tracerName),
	}
}

// GetSyncPlan resolves the device's requirements, reconciles them with the
// persisted state and returns the ordered plan
func (e *Engine) GetSyncPlan(ctx context.Context, deviceID string) (*PlanResult, error) {
	ctx, span := e.tracer.Start(ctx, "mediasync.GetSyncPlan",
		trace.WithAttributes(attribute.String("device.id", deviceID)))
	defer span.End()

	start := time.Now()
	result, err := e.getSyncPlan(ctx, deviceID)
	e.observePlan(start, result, err)

	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}

	span.SetAttributes(
		attribute.Int64("sync.plan_version", result.PlanVersion),
		attribute.Int("sync.items", len(result.Items)),
	)
	return result, nil
}

func (e *Engine) getSyncPlan(ctx context.Context, deviceID string) (*PlanResult, error) {
	if err := e.ensureDevice(ctx, deviceID); err != nil {
		return nil, err
	}

	resolution, err := e.resolver.Resolve(ctx, deviceID)
	if err != nil {
		e.logger.Error().Err(err).Str("device_id", deviceID).Msg("All requirement sources unavailable")
		return nil, err
	}

	plan := BuildPlan(resolution.Refs)
	e.attachCatalog(ctx, deviceID, &plan)

	unlock := e.locks.Lock(deviceID)
	defer unlock()

	// the device may have been removed while sources were being queried
	if err := e.ensureDevice(ctx, deviceID); err != nil {
		return nil, err
	}

	state, items, summary, err := e.store.Reconcile(ctx, deviceID, plan)
	if err != nil {
		return nil, fmt.Errorf("failed to reconcile sync plan: %w", err)
	}

	e.observeReconcile(summary)
	e.logger.Debug().
		Str("device_id", deviceID).
		Int64("plan_version", state.LastPlanVersion).
		Int("items", len(items)).
		Int("inserted", summary.Inserted).
		Int("updated", summary.Updated).
		Int("invalidated", summary.Invalidated).
		Int64("deleted", summary.Deleted).
		Msg("Sync plan reconciled")

	result := &PlanResult{
		DeviceID:           deviceID,
		PlanVersion:        state.LastPlanVersion,
		Items:              make([]PlanEntry, len(items)),
		Degraded:           resolution.Degraded(),
		UnavailableSources: resolution.UnavailableSources(),
		GeneratedAt:        e.now(),
	}
	for i, row := range items {
		planned := plan.Items[i]
		result.Items[i] = PlanEntry{
			MediaID:       row.MediaID,
			PriorityClass: planned.PriorityClass,
			Reason:        planned.Reason,
			SizeBytes:     row.TotalBytes,
			Checksum:      planned.Checksum,
			Status:        row.Status,
			BytesProgress: row.BytesProgress,
		}
	}

	return result, nil
}

// attachCatalog adds size and checksum to plan items. A catalog outage leaves
// fingerprints empty so no item is invalidated.
func (e *Engine) attachCatalog(ctx context.Context, deviceID string, plan *SyncPlan) {
	if e.catalog == nil || len(plan.Items) == 0 {
		return
	}

	info, err := e.catalog.LookupMedia(ctx, plan.MediaIDs())
	if err != nil {
		e.logger.Warn().Err(err).Str("device_id", deviceID).Msg("Media catalog unavailable, planning without fingerprints")
		if e.metrics != nil {
			e.metrics.SourceFailuresTotal.WithLabelValues("catalog").Inc()
		}
		return
	}
	applyCatalog(plan, info)
}

// ReportSyncProgress records bytes downloaded for one planned item
func (e *Engine) ReportSyncProgress(ctx context.Context, deviceID, mediaID string, bytes int64) (*ItemResult, error) {
	return e.report(ctx, ReportProgress, deviceID, mediaID, func(ctx context.Context) (*ItemResult, error) {
		return e.store.ApplyProgress(ctx, deviceID, mediaID, bytes)
	})
}

// ReportSyncAck marks an item as fully available on the device
func (e *Engine) ReportSyncAck(ctx context.Context, deviceID, mediaID string) (*ItemResult, error) {
	return e.report(ctx, ReportAck, deviceID, mediaID, func(ctx context.Context) (*ItemResult, error) {
		return e.store.ApplyAck(ctx, deviceID, mediaID)
	})
}

// ReportSyncFailure records a failed download attempt for an item
func (e *Engine) ReportSyncFailure(ctx context.Context, deviceID, mediaID, reason string) (*ItemResult, error) {
	return e.report(ctx, ReportFailure, deviceID, mediaID, func(ctx context.Context) (*ItemResult, error) {
		return e.store.ApplyFailure(ctx, deviceID, mediaID, reason)
	})
}

func (e *Engine) report(ctx context.Context, kind, deviceID, mediaID string, apply func(context.Context) (*ItemResult, error)) (*ItemResult, error) {
	ctx, span := e.tracer.Start(ctx, "mediasync.Report",
		trace.WithAttributes(
			attribute.String("device.id", deviceID),
			attribute.String("media.id", mediaID),
			attribute.String("sync.report", kind),
		))
	defer span.End()

	result, err := e.applyReport(ctx, deviceID, apply)
	e.observeReport(kind, result, err)

	log := e.logger.With().Str("device_id", deviceID).Str("media_id", mediaID).Str("kind", kind).Logger()
	switch {
	case err == nil:
		log.Debug().Bool("applied", result.Applied).Str("status", result.Item.Status).Msg("Sync report processed")
		return result, nil
	case errors.Is(err, ErrStaleProgress):
		log.Info().Err(err).Msg("Rejected out-of-order progress report")
	case errors.Is(err, ErrUnknownItem), errors.Is(err, ErrUnknownDevice), errors.Is(err, ErrInvalidProgress):
		log.Debug().Err(err).Msg("Rejected sync report")
	default:
		log.Error().Err(err).Msg("Failed to apply sync report")
	}

	span.RecordError(err)
	span.SetStatus(codes.Error, err.Error())
	return nil, err
}

func (e *Engine) applyReport(ctx context.Context, deviceID string, apply func(context.Context) (*ItemResult, error)) (*ItemResult, error) {
	if err := e.ensureDevice(ctx, deviceID); err != nil {
		return nil, err
	}

	unlock := e.locks.Lock(deviceID)
	defer unlock()

	return apply(ctx)
}

// GetSyncStatus returns the readiness summary of a device without modifying it
func (e *Engine) GetSyncStatus(ctx context.Context, deviceID string) (*Status, error) {
	ctx, span := e.tracer.Start(ctx, "mediasync.GetSyncStatus",
		trace.WithAttributes(attribute.String("device.id", deviceID)))
	defer span.End()

	if err := e.ensureDevice(ctx, deviceID); err != nil {
		span.RecordError(err)
		return nil, err
	}

	state, items, err := e.store.Snapshot(ctx, deviceID)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, fmt.Errorf("failed to read sync status: %w", err)
	}

	return ProjectStatus(deviceID, state, items), nil
}

// OnDeviceDeleted removes every sync row of a deleted device. Calling it for
// a device without sync state is a no-op.
func (e *Engine) OnDeviceDeleted(ctx context.Context, deviceID string) error {
	ctx, span := e.tracer.Start(ctx, "mediasync.OnDeviceDeleted",
		trace.WithAttributes(attribute.String("device.id", deviceID)))
	defer span.End()

	unlock := e.locks.Lock(deviceID)
	defer unlock()

	removed, err := e.store.DeleteDevice(ctx, deviceID)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return fmt.Errorf("failed to remove sync state for device %s: %w", deviceID, err)
	}

	if e.metrics != nil {
		e.metrics.DeviceCleanupsTotal.Inc()
	}
	e.logger.Info().Str("device_id", deviceID).Int64("items_removed", removed).Msg("Removed sync state of deleted device")
	return nil
}

// NotifyRequirementsChanged asks each device to re-poll its plan. Unknown
// devices and notifier failures are collected and returned together.
func (e *Engine) NotifyRequirementsChanged(ctx context.Context, deviceIDs []string, reason string) error {
	ctx, span := e.tracer.Start(ctx, "mediasync.NotifyRequirementsChanged",
		trace.WithAttributes(
			attribute.Int("devices", len(deviceIDs)),
			attribute.String("reason", reason),
		))
	defer span.End()

	if e.notifier == nil {
		e.logger.Debug().Int("devices", len(deviceIDs)).Msg("No notifier configured, devices will pick up changes on next poll")
		return nil
	}

	var errs []error
	for _, deviceID := range deviceIDs {
		if err := e.ensureDevice(ctx, deviceID); err != nil {
			errs = append(errs, err)
			continue
		}

		if err := e.notifier.NotifyPlanChanged(ctx, deviceID, reason); err != nil {
			e.logger.Warn().Err(err).Str("device_id", deviceID).Msg("Failed to notify device of plan change")
			e.observeNotification("failed")
			errs = append(errs, fmt.Errorf("notify device %s: %w", deviceID, err))
			continue
		}
		e.observeNotification("sent")
	}

	if err := errors.Join(errs...); err != nil {
		span.RecordError(err)
		return err
	}
	return nil
}

func (e *Engine) ensureDevice(ctx context.Context, deviceID string) error {
	if e.devices == nil {
		return nil
	}

	exists, err := e.devices.DeviceExists(ctx, deviceID)
	if err != nil {
		return fmt.Errorf("failed to look up device %s: %w", deviceID, err)
	}
	if !exists {
		return fmt.Errorf("%w: %s", ErrUnknownDevice, deviceID)
	}
	return nil
}

func (e *Engine) observePlan(start time.Time, result *PlanResult, err error) {
	if e.metrics == nil {
		return
	}

	e.metrics.PlanDurationSeconds.Observe(time.Since(start).Seconds())

	outcome := "ok"
	switch {
	case errors.Is(err, ErrUnknownDevice):
		outcome = "unknown_device"
	case errors.Is(err, ErrCollaboratorUnavailable):
		outcome = "unavailable"
	case err != nil:
		outcome = "error"
	case result.Degraded:
		outcome = "degraded"
	}
	e.metrics.PlanRequestsTotal.WithLabelValues(outcome).Inc()

	if result != nil {
		e.metrics.PlanItems.Observe(float64(len(result.Items)))
	}
}

func (e *Engine) observeReconcile(summary ReconcileSummary) {
	if e.metrics == nil {
		return
	}
	e.metrics.ReconcileChangesTotal.WithLabelValues("inserted").Add(float64(summary.Inserted))
	e.metrics.ReconcileChangesTotal.WithLabelValues("updated").Add(float64(summary.Updated))
	e.metrics.ReconcileChangesTotal.WithLabelValues("invalidated").Add(float64(summary.Invalidated))
	e.metrics.ReconcileChangesTotal.WithLabelValues("deleted").Add(float64(summary.Deleted))
}

func (e *Engine) observeReport(kind string, result *ItemResult, err error) {
	if e.metrics == nil {
		return
	}

	outcome := "applied"
	switch {
	case errors.Is(err, ErrUnknownDevice):
		outcome = "unknown_device"
	case errors.Is(err, ErrUnknownItem):
		outcome = "unknown_item"
	case errors.Is(err, ErrStaleProgress):
		outcome = "stale"
	case errors.Is(err, ErrInvalidProgress):
		outcome = "invalid"
	case err != nil:
		outcome = "error"
	case !result.Applied:
		outcome = "noop"
	}
	e.metrics.ReportsTotal.WithLabelValues(kind, outcome).Inc()
}

func (e *Engine) observeNotification(outcome string) {
	if e.metrics != nil {
		e.metrics.NotificationsTotal.WithLabelValues(outcome).Inc()
	}
}
