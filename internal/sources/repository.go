package sources

import (
	"context"
	"encoding/json"
	"strings"
	"time"

	"github.com/pkg/errors"
	"github.com/rs/zerolog"
	"gorm.io/gorm"

	"signage/internal/mediasync"
	"signage/internal/models"
)

// Config tunes how configuration rows are interpreted
type Config struct {
	Location        *time.Location
	FlashSaleWarmup time.Duration
	Now             func() time.Time
}

// Repository reads devices, playlists, schedules, flash sales and the media
// catalog from the database and serves them to the sync engine
type Repository struct {
	db     *gorm.DB
	loc    *time.Location
	warmup time.Duration
	now    func() time.Time
	logger zerolog.Logger
}

// NewRepository creates a new collaborator repository
func NewRepository(db *gorm.DB, cfg Config, logger zerolog.Logger) *Repository {
	loc := cfg.Location
	if loc == nil {
		loc = time.UTC
	}
	now := cfg.Now
	if now == nil {
		now = time.Now
	}
	return &Repository{
		db:     db,
		loc:    loc,
		warmup: cfg.FlashSaleWarmup,
		now:    now,
		logger: logger,
	}
}

// Sources exposes the repository as the engine's collaborator set
func (r *Repository) Sources() mediasync.Sources {
	return mediasync.Sources{
		FlashSale:  r,
		Playlists:  r,
		Schedules:  r,
		Background: r,
		Catalog:    r,
		Devices:    r,
	}
}

// DeviceExists reports whether the device is registered
func (r *Repository) DeviceExists(ctx context.Context, deviceID string) (bool, error) {
	var count int64
	if err := r.db.WithContext(ctx).Model(&models.Device{}).Where("id = ?", deviceID).Count(&count).Error; err != nil {
		return false, errors.Wrap(err, "failed to look up device")
	}
	return count > 0, nil
}

type flashSaleProduct struct {
	MediaID string `json:"media_id"`
}

// GetActiveFlashSale returns the device's campaign when it is running now or
// about to start within its warm-up lead
func (r *Repository) GetActiveFlashSale(ctx context.Context, deviceID string) (*mediasync.FlashSale, error) {
	var cfg models.FlashSaleConfig
	err := r.db.WithContext(ctx).Where("device_id = ?", deviceID).Take(&cfg).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, errors.Wrap(err, "failed to load flash sale config")
	}
	if !cfg.Enabled {
		return nil, nil
	}

	mediaIDs, err := parseProducts(cfg.ProductsJSON)
	if err != nil {
		return nil, errors.Wrapf(err, "flash sale %s", cfg.ID)
	}

	now := r.now().In(r.loc)

	if cfg.ScheduleStartTime == nil || cfg.ScheduleEndTime == nil {
		startedAt := cfg.UpdatedAt
		if cfg.ActivatedAt != nil {
			startedAt = *cfg.ActivatedAt
		}
		if cfg.CountdownSec != nil && *cfg.CountdownSec > 0 && cfg.ActivatedAt != nil {
			expires := cfg.ActivatedAt.Add(time.Duration(*cfg.CountdownSec) * time.Second)
			if !now.Before(expires) {
				return nil, nil
			}
		}
		return &mediasync.FlashSale{ID: cfg.ID, MediaIDs: mediaIDs, StartsAt: startedAt}, nil
	}

	var days []time.Weekday
	if cfg.ScheduleDays != nil {
		if days, err = parseDays(*cfg.ScheduleDays); err != nil {
			return nil, errors.Wrapf(err, "flash sale %s", cfg.ID)
		}
	}
	window, err := newWeeklyWindow(days, *cfg.ScheduleStartTime, *cfg.ScheduleEndTime)
	if err != nil {
		return nil, errors.Wrapf(err, "flash sale %s", cfg.ID)
	}

	if start, ok := window.Current(now); ok {
		return &mediasync.FlashSale{ID: cfg.ID, MediaIDs: mediaIDs, StartsAt: start}, nil
	}

	warmup := r.warmup
	if cfg.WarmupMinutes != nil {
		warmup = time.Duration(*cfg.WarmupMinutes) * time.Minute
	}
	if warmup <= 0 {
		return nil, nil
	}

	next := window.NextStart(now)
	if !next.IsZero() && next.Sub(now) <= warmup {
		return &mediasync.FlashSale{ID: cfg.ID, MediaIDs: mediaIDs, StartsAt: next, Warmup: true}, nil
	}
	return nil, nil
}

func parseProducts(raw string) ([]string, error) {
	if strings.TrimSpace(raw) == "" {
		return nil, nil
	}

	var products []flashSaleProduct
	if err := json.Unmarshal([]byte(raw), &products); err != nil {
		return nil, errors.Wrap(err, "invalid products_json")
	}

	ids := make([]string, 0, len(products))
	for _, p := range products {
		if p.MediaID != "" {
			ids = append(ids, p.MediaID)
		}
	}
	return ids, nil
}

// GetActivePlaylists returns each screen's active playlist followed by the
// playlists of schedules whose window contains now
func (r *Repository) GetActivePlaylists(ctx context.Context, deviceID string) ([]mediasync.ActivePlaylist, error) {
	db := r.db.WithContext(ctx)

	var screens []models.Screen
	if err := db.Where("device_id = ?", deviceID).Order("name ASC").Order("id ASC").Find(&screens).Error; err != nil {
		return nil, errors.Wrap(err, "failed to load screens")
	}
	if len(screens) == 0 {
		return nil, nil
	}

	var playlistIDs []string
	for _, s := range screens {
		if s.ActivePlaylistID != nil && *s.ActivePlaylistID != "" {
			playlistIDs = append(playlistIDs, *s.ActivePlaylistID)
		}
	}

	schedules, err := r.loadSchedules(db, screens)
	if err != nil {
		return nil, err
	}
	now := r.now().In(r.loc)
	for _, sched := range schedules {
		window, err := newWeeklyWindow([]time.Weekday{time.Weekday(sched.DayOfWeek)}, sched.StartTime, sched.EndTime)
		if err != nil {
			r.logger.Warn().Err(err).Str("schedule_id", sched.ID).Msg("Skipping schedule with invalid window")
			continue
		}
		if _, ok := window.Current(now); ok {
			playlistIDs = append(playlistIDs, sched.PlaylistID)
		}
	}

	media, err := r.playlistMedia(db, screens, playlistIDs)
	if err != nil {
		return nil, err
	}

	var active []mediasync.ActivePlaylist
	seen := make(map[string]bool)
	for _, id := range playlistIDs {
		ids, visible := media[id]
		if seen[id] || !visible {
			continue
		}
		seen[id] = true
		active = append(active, mediasync.ActivePlaylist{PlaylistID: id, MediaIDs: ids})
	}
	return active, nil
}

// GetUpcomingSchedules returns schedule occurrences of the device's screens
// starting between now and now+window
func (r *Repository) GetUpcomingSchedules(ctx context.Context, deviceID string, window time.Duration) ([]mediasync.UpcomingSchedule, error) {
	db := r.db.WithContext(ctx)

	var screens []models.Screen
	if err := db.Where("device_id = ?", deviceID).Find(&screens).Error; err != nil {
		return nil, errors.Wrap(err, "failed to load screens")
	}
	if len(screens) == 0 {
		return nil, nil
	}

	schedules, err := r.loadSchedules(db, screens)
	if err != nil {
		return nil, err
	}

	now := r.now().In(r.loc)
	horizon := now.Add(window)

	type occurrence struct {
		schedule models.Schedule
		start    time.Time
	}
	var upcoming []occurrence
	var playlistIDs []string

	for _, sched := range schedules {
		w, err := newWeeklyWindow([]time.Weekday{time.Weekday(sched.DayOfWeek)}, sched.StartTime, sched.EndTime)
		if err != nil {
			r.logger.Warn().Err(err).Str("schedule_id", sched.ID).Msg("Skipping schedule with invalid window")
			continue
		}
		next := w.NextStart(now)
		if next.IsZero() || next.After(horizon) {
			continue
		}
		upcoming = append(upcoming, occurrence{schedule: sched, start: next})
		playlistIDs = append(playlistIDs, sched.PlaylistID)
	}
	if len(upcoming) == 0 {
		return nil, nil
	}

	media, err := r.playlistMedia(db, screens, playlistIDs)
	if err != nil {
		return nil, err
	}

	result := make([]mediasync.UpcomingSchedule, 0, len(upcoming))
	for _, o := range upcoming {
		ids, visible := media[o.schedule.PlaylistID]
		if !visible {
			continue
		}
		result = append(result, mediasync.UpcomingSchedule{
			ScheduleID: o.schedule.ID,
			PlaylistID: o.schedule.PlaylistID,
			StartsAt:   o.start,
			MediaIDs:   ids,
		})
	}
	return result, nil
}

// GetBackgroundRequiredMedia returns catalog media flagged as always required
func (r *Repository) GetBackgroundRequiredMedia(ctx context.Context) ([]string, error) {
	var ids []string
	if err := r.db.WithContext(ctx).
		Model(&models.Media{}).
		Where("required = ?", true).
		Order("created_at ASC").
		Order("id ASC").
		Pluck("id", &ids).Error; err != nil {
		return nil, errors.Wrap(err, "failed to load background media")
	}
	return ids, nil
}

// LookupMedia returns size and checksum for the known ids
func (r *Repository) LookupMedia(ctx context.Context, mediaIDs []string) (map[string]mediasync.MediaInfo, error) {
	info := make(map[string]mediasync.MediaInfo, len(mediaIDs))
	if len(mediaIDs) == 0 {
		return info, nil
	}

	var media []models.Media
	if err := r.db.WithContext(ctx).
		Select("id", "size_bytes", "checksum").
		Where("id IN ?", mediaIDs).
		Find(&media).Error; err != nil {
		return nil, errors.Wrap(err, "failed to look up media")
	}

	for _, m := range media {
		info[m.ID] = mediasync.MediaInfo{SizeBytes: m.SizeBytes, Checksum: m.Checksum}
	}
	return info, nil
}

func (r *Repository) loadSchedules(db *gorm.DB, screens []models.Screen) ([]models.Schedule, error) {
	screenIDs := make([]string, len(screens))
	for i, s := range screens {
		screenIDs[i] = s.ID
	}

	var schedules []models.Schedule
	if err := db.Where("screen_id IN ?", screenIDs).
		Order("start_time ASC").
		Order("id ASC").
		Find(&schedules).Error; err != nil {
		return nil, errors.Wrap(err, "failed to load schedules")
	}
	return schedules, nil
}

// playlistMedia loads enabled item media ids, in position order, for the
// playlists visible to the device: centrally owned ones and those owned by its screens
func (r *Repository) playlistMedia(db *gorm.DB, screens []models.Screen, playlistIDs []string) (map[string][]string, error) {
	result := make(map[string][]string)
	if len(playlistIDs) == 0 {
		return result, nil
	}

	owned := make(map[string]bool, len(screens))
	for _, s := range screens {
		owned[s.ID] = true
	}

	var playlists []models.Playlist
	if err := db.Where("id IN ?", playlistIDs).Find(&playlists).Error; err != nil {
		return nil, errors.Wrap(err, "failed to load playlists")
	}

	var visible []string
	for _, p := range playlists {
		if p.ScreenID == nil || owned[*p.ScreenID] {
			visible = append(visible, p.ID)
			result[p.ID] = []string{}
		}
	}
	if len(visible) == 0 {
		return result, nil
	}

	var items []models.PlaylistItem
	if err := db.Where("playlist_id IN ? AND enabled = ?", visible, true).
		Order("position ASC").
		Order("id ASC").
		Find(&items).Error; err != nil {
		return nil, errors.Wrap(err, "failed to load playlist items")
	}

	for _, item := range items {
		result[item.PlaylistID] = append(result[item.PlaylistID], item.MediaID)
	}
	return result, nil
}
