package mediasync

import (
	"context"
	"time"
)

// FlashSale is the campaign currently requiring media on a device
type FlashSale struct {
	ID       string
	MediaIDs []string
	StartsAt time.Time
	// Warmup is set while the campaign window has not opened yet but its
	// media are already required.
	Warmup bool
}

// ActivePlaylist is a playlist currently playing on one of the device's screens
type ActivePlaylist struct {
	PlaylistID string
	MediaIDs   []string
}

// UpcomingSchedule is a schedule occurrence with its playlist media
type UpcomingSchedule struct {
	ScheduleID string
	PlaylistID string
	StartsAt   time.Time
	MediaIDs   []string
}

// MediaInfo is the catalog description used to fingerprint content
type MediaInfo struct {
	SizeBytes int64
	Checksum  string
}

// FlashSaleSource returns the active flash sale for a device, or nil when there is none
type FlashSaleSource interface {
	GetActiveFlashSale(ctx context.Context, deviceID string) (*FlashSale, error)
}

// PlaylistSource returns the playlists currently active on a device,
// including centrally owned playlists referenced by its screens
type PlaylistSource interface {
	GetActivePlaylists(ctx context.Context, deviceID string) ([]ActivePlaylist, error)
}

// ScheduleSource returns schedule occurrences starting within window from now
type ScheduleSource interface {
	GetUpcomingSchedules(ctx context.Context, deviceID string, window time.Duration) ([]UpcomingSchedule, error)
}

// BackgroundSource returns catalog media required on every device
type BackgroundSource interface {
	GetBackgroundRequiredMedia(ctx context.Context) ([]string, error)
}

// MediaCatalog describes media by id. Unknown ids are absent from the result.
type MediaCatalog interface {
	LookupMedia(ctx context.Context, mediaIDs []string) (map[string]MediaInfo, error)
}

// DeviceDirectory answers whether a device is registered
type DeviceDirectory interface {
	DeviceExists(ctx context.Context, deviceID string) (bool, error)
}

// Notifier tells a device its plan changed and it should re-poll
type Notifier interface {
	NotifyPlanChanged(ctx context.Context, deviceID, reason string) error
}
