package mediasync

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/rs/zerolog"

	"signage/internal/metrics"
)

// Requirement source names used in logs, metrics and Resolution.Unavailable
const (
	SourceFlashSale  = "flash_sale"
	SourcePlaylists  = "playlists"
	SourceSchedules  = "schedules"
	SourceBackground = "background"
)

// SourceFailure records a requirement source that could not be queried
type SourceFailure struct {
	Source string
	Err    error
}

// Resolution is the raw output of one resolver pass
type Resolution struct {
	Refs        []RequiredMediaRef
	Unavailable []SourceFailure
}

// Degraded reports whether any source failed
func (r *Resolution) Degraded() bool {
	return len(r.Unavailable) > 0
}

// UnavailableSources lists the failed source names
func (r *Resolution) UnavailableSources() []string {
	names := make([]string, len(r.Unavailable))
	for i, f := range r.Unavailable {
		names[i] = f.Source
	}
	return names
}

// Resolver gathers required media for a device from the requirement sources
type Resolver struct {
	flashSales FlashSaleSource
	playlists  PlaylistSource
	schedules  ScheduleSource
	background BackgroundSource

	preloadWindow time.Duration
	now           func() time.Time
	logger        zerolog.Logger
	metrics       *metrics.Metrics
}

// NewResolver creates a resolver. Nil sources contribute nothing.
func NewResolver(sources Sources, preloadWindow time.Duration, now func() time.Time, logger zerolog.Logger, m *metrics.Metrics) *Resolver {
	if now == nil {
		now = time.Now
	}
	return &Resolver{
		flashSales:    sources.FlashSale,
		playlists:     sources.Playlists,
		schedules:     sources.Schedules,
		background:    sources.Background,
		preloadWindow: preloadWindow,
		now:           now,
		logger:        logger,
		metrics:       m,
	}
}

// Resolve queries every source in a fixed order: flash sale, active
// playlists, upcoming schedules, background. One ref is emitted per source
// and media id. A failing source is skipped; only when every configured
// source fails does Resolve return ErrCollaboratorUnavailable.
func (r *Resolver) Resolve(ctx context.Context, deviceID string) (*Resolution, error) {
	res := &Resolution{}
	configured := 0

	if r.flashSales != nil {
		configured++
		sale, err := r.flashSales.GetActiveFlashSale(ctx, deviceID)
		if err != nil {
			r.degrade(res, deviceID, SourceFlashSale, err)
		} else if sale != nil {
			seen := make(map[string]struct{})
			for _, id := range sale.MediaIDs {
				res.emit(seen, RequiredMediaRef{MediaID: id, Reason: ReasonFlashSale, SourceWindow: sale.StartsAt, SourceID: sale.ID})
			}
		}
	}

	if r.playlists != nil {
		configured++
		playlists, err := r.playlists.GetActivePlaylists(ctx, deviceID)
		if err != nil {
			r.degrade(res, deviceID, SourcePlaylists, err)
		} else {
			seen := make(map[string]struct{})
			for _, pl := range playlists {
				for _, id := range pl.MediaIDs {
					res.emit(seen, RequiredMediaRef{MediaID: id, Reason: ReasonActivePlaylist, SourceID: pl.PlaylistID})
				}
			}
		}
	}

	if r.schedules != nil {
		configured++
		upcoming, err := r.schedules.GetUpcomingSchedules(ctx, deviceID, r.preloadWindow)
		if err != nil {
			r.degrade(res, deviceID, SourceSchedules, err)
		} else {
			seen := make(map[string]struct{})
			for _, sched := range r.withinWindow(upcoming) {
				for _, id := range sched.MediaIDs {
					res.emit(seen, RequiredMediaRef{MediaID: id, Reason: ReasonUpcomingSchedule, SourceWindow: sched.StartsAt, SourceID: sched.ScheduleID})
				}
			}
		}
	}

	if r.background != nil {
		configured++
		ids, err := r.background.GetBackgroundRequiredMedia(ctx)
		if err != nil {
			r.degrade(res, deviceID, SourceBackground, err)
		} else {
			seen := make(map[string]struct{})
			for _, id := range ids {
				res.emit(seen, RequiredMediaRef{MediaID: id, Reason: ReasonBackground})
			}
		}
	}

	if configured > 0 && len(res.Unavailable) == configured {
		causes := make([]error, len(res.Unavailable))
		for i, f := range res.Unavailable {
			causes[i] = fmt.Errorf("%s: %w", f.Source, f.Err)
		}
		return nil, fmt.Errorf("%w: %w", ErrCollaboratorUnavailable, errors.Join(causes...))
	}

	return res, nil
}

// withinWindow keeps schedules starting in [now, now+window], ordered by start
func (r *Resolver) withinWindow(schedules []UpcomingSchedule) []UpcomingSchedule {
	now := r.now()
	horizon := now.Add(r.preloadWindow)

	eligible := make([]UpcomingSchedule, 0, len(schedules))
	for _, s := range schedules {
		if s.StartsAt.Before(now) || s.StartsAt.After(horizon) {
			continue
		}
		eligible = append(eligible, s)
	}

	sort.SliceStable(eligible, func(a, b int) bool {
		return eligible[a].StartsAt.Before(eligible[b].StartsAt)
	})
	return eligible
}

func (r *Resolver) degrade(res *Resolution, deviceID, source string, err error) {
	res.Unavailable = append(res.Unavailable, SourceFailure{Source: source, Err: err})

	r.logger.Warn().
		Err(err).
		Str("device_id", deviceID).
		Str("source", source).
		Msg("Requirement source unavailable, continuing with remaining sources")

	if r.metrics != nil {
		r.metrics.SourceFailuresTotal.WithLabelValues(source).Inc()
	}
}

func (res *Resolution) emit(seen map[string]struct{}, ref RequiredMediaRef) {
	if ref.MediaID == "" {
		return
	}
	if _, dup := seen[ref.MediaID]; dup {
		return
	}
	seen[ref.MediaID] = struct{}{}
	res.Refs = append(res.Refs, ref)
}
