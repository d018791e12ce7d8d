package mediasync

import (
	"context"
	"sync"
	"time"

	"gorm.io/gorm"

	"signage/internal/models"
)

type fakeFlashSales struct {
	mu   sync.Mutex
	sale map[string]*FlashSale
	err  error
}

func (f *fakeFlashSales) set(deviceID string, sale *FlashSale) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.sale == nil {
		f.sale = make(map[string]*FlashSale)
	}
	f.sale[deviceID] = sale
}

func (f *fakeFlashSales) GetActiveFlashSale(ctx context.Context, deviceID string) (*FlashSale, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return nil, f.err
	}
	return f.sale[deviceID], nil
}

type fakePlaylists struct {
	mu        sync.Mutex
	playlists map[string][]ActivePlaylist
	err       error
}

func (f *fakePlaylists) set(deviceID string, playlists ...ActivePlaylist) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.playlists == nil {
		f.playlists = make(map[string][]ActivePlaylist)
	}
	f.playlists[deviceID] = playlists
}

func (f *fakePlaylists) GetActivePlaylists(ctx context.Context, deviceID string) ([]ActivePlaylist, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return nil, f.err
	}
	return f.playlists[deviceID], nil
}

type fakeSchedules struct {
	mu        sync.Mutex
	schedules []UpcomingSchedule
	err       error
	window    time.Duration
}

func (f *fakeSchedules) GetUpcomingSchedules(ctx context.Context, deviceID string, window time.Duration) ([]UpcomingSchedule, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.window = window
	if f.err != nil {
		return nil, f.err
	}
	return f.schedules, nil
}

type fakeBackground struct {
	ids []string
	err error
}

func (f *fakeBackground) GetBackgroundRequiredMedia(ctx context.Context) ([]string, error) {
	if f.err != nil {
		return nil, f.err
	}
	return f.ids, nil
}

type fakeCatalog struct {
	mu    sync.Mutex
	media map[string]MediaInfo
	err   error
}

func (f *fakeCatalog) set(mediaID string, size int64, checksum string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.media == nil {
		f.media = make(map[string]MediaInfo)
	}
	f.media[mediaID] = MediaInfo{SizeBytes: size, Checksum: checksum}
}

func (f *fakeCatalog) LookupMedia(ctx context.Context, mediaIDs []string) (map[string]MediaInfo, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return nil, f.err
	}
	out := make(map[string]MediaInfo, len(mediaIDs))
	for _, id := range mediaIDs {
		if info, ok := f.media[id]; ok {
			out[id] = info
		}
	}
	return out, nil
}

// dbDevices answers device lookups from the devices table
type dbDevices struct {
	db *gorm.DB
}

func (d dbDevices) DeviceExists(ctx context.Context, deviceID string) (bool, error) {
	var count int64
	err := d.db.WithContext(ctx).Model(&models.Device{}).Where("id = ?", deviceID).Count(&count).Error
	return count > 0, err
}

type staticDevices map[string]bool

func (s staticDevices) DeviceExists(ctx context.Context, deviceID string) (bool, error) {
	return s[deviceID], nil
}

type recordingNotifier struct {
	mu      sync.Mutex
	devices []string
	err     error
}

func (n *recordingNotifier) NotifyPlanChanged(ctx context.Context, deviceID, reason string) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	if n.err != nil {
		return n.err
	}
	n.devices = append(n.devices, deviceID)
	return nil
}

func fixedClock(t time.Time) func() time.Time {
	return func() time.Time { return t }
}
