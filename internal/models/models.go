package models

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// Device represents the devices table
type Device struct {
	ID           string     `gorm:"primaryKey;size:36" json:"id"`
	Name         string     `gorm:"size:255;not null" json:"name"`
	Location     string     `gorm:"size:255" json:"location"`
	OwnerAccount *string    `gorm:"size:255;index" json:"owner_account,omitempty"`
	Orientation  string     `gorm:"size:16;default:'portrait'" json:"orientation"`
	Status       string     `gorm:"size:32;default:'offline'" json:"status"`
	LastSeen     *time.Time `json:"last_seen,omitempty"`
	CreatedAt    time.Time  `json:"created_at"`
}

func (Device) TableName() string {
	return "devices"
}

// BeforeCreate assigns a UUID when none was supplied
func (d *Device) BeforeCreate(tx *gorm.DB) error {
	if d.ID == "" {
		d.ID = uuid.NewString()
	}
	return nil
}

// Screen represents the screens table. A device owns one or more screens.
type Screen struct {
	ID               string  `gorm:"primaryKey;size:36" json:"id"`
	DeviceID         string  `gorm:"size:36;not null;index" json:"device_id"`
	Name             string  `gorm:"size:255;not null" json:"name"`
	ActivePlaylistID *string `gorm:"size:36;index" json:"active_playlist_id,omitempty"` // may reference a central playlist
	GridPreset       string  `gorm:"size:16;default:'1x1'" json:"grid_preset"`
}

func (Screen) TableName() string {
	return "screens"
}

func (s *Screen) BeforeCreate(tx *gorm.DB) error {
	if s.ID == "" {
		s.ID = uuid.NewString()
	}
	return nil
}

// Media represents the media catalog table
type Media struct {
	ID          string    `gorm:"primaryKey;size:36" json:"id"`
	Name        string    `gorm:"size:255;not null" json:"name"`
	Type        string    `gorm:"size:32;not null" json:"type"`
	Path        string    `gorm:"not null" json:"path"`
	DurationSec int32     `gorm:"default:10" json:"duration_sec"`
	SizeBytes   int64     `gorm:"not null;default:0" json:"size_bytes"`
	Checksum    string    `gorm:"size:128;not null;default:''" json:"checksum"`
	Required    bool      `gorm:"default:false;index" json:"required"` // background requirement regardless of playback
	CreatedAt   time.Time `json:"created_at"`
}

func (Media) TableName() string {
	return "media"
}

func (m *Media) BeforeCreate(tx *gorm.DB) error {
	if m.ID == "" {
		m.ID = uuid.NewString()
	}
	return nil
}

// Playlist represents the playlists table. A nil ScreenID marks a centrally
// owned playlist that screens reference through ActivePlaylistID.
type Playlist struct {
	ID       string  `gorm:"primaryKey;size:36" json:"id"`
	ScreenID *string `gorm:"size:36;index" json:"screen_id,omitempty"`
	Name     string  `gorm:"size:255;not null" json:"name"`
}

func (Playlist) TableName() string {
	return "playlists"
}

func (p *Playlist) BeforeCreate(tx *gorm.DB) error {
	if p.ID == "" {
		p.ID = uuid.NewString()
	}
	return nil
}

// PlaylistItem represents the playlist_items junction table
type PlaylistItem struct {
	ID          string `gorm:"primaryKey;size:36" json:"id"`
	PlaylistID  string `gorm:"size:36;not null;index:idx_playlist_items_playlist_pos" json:"playlist_id"`
	MediaID     string `gorm:"size:36;not null;index" json:"media_id"`
	Position    int32  `gorm:"not null;index:idx_playlist_items_playlist_pos" json:"position"`
	DurationSec *int32 `json:"duration_sec,omitempty"`
	Enabled     bool   `gorm:"default:true" json:"enabled"`
}

func (PlaylistItem) TableName() string {
	return "playlist_items"
}

func (i *PlaylistItem) BeforeCreate(tx *gorm.DB) error {
	if i.ID == "" {
		i.ID = uuid.NewString()
	}
	return nil
}

// Schedule represents a weekly recurring time window on a screen.
// DayOfWeek follows time.Weekday (0 = Sunday); times are "HH:MM:SS".
type Schedule struct {
	ID           string `gorm:"primaryKey;size:36" json:"id"`
	ScreenID     string `gorm:"size:36;not null;index" json:"screen_id"`
	PlaylistID   string `gorm:"size:36;not null;index" json:"playlist_id"`
	DayOfWeek    int    `gorm:"not null" json:"day_of_week"`
	StartTime    string `gorm:"size:8;not null" json:"start_time"`
	EndTime      string `gorm:"size:8;not null" json:"end_time"`
	Note         string `json:"note,omitempty"`
	CountdownSec *int32 `json:"countdown_sec,omitempty"`
}

func (Schedule) TableName() string {
	return "schedules"
}

func (s *Schedule) BeforeCreate(tx *gorm.DB) error {
	if s.ID == "" {
		s.ID = uuid.NewString()
	}
	return nil
}

// FlashSaleConfig represents the per-device flash sale campaign
type FlashSaleConfig struct {
	ID                string     `gorm:"primaryKey;size:36" json:"id"`
	DeviceID          string     `gorm:"size:36;not null;uniqueIndex" json:"device_id"`
	Enabled           bool       `gorm:"not null;default:true" json:"enabled"`
	Note              string     `json:"note,omitempty"`
	CountdownSec      *int32     `json:"countdown_sec,omitempty"`
	ProductsJSON      string     `gorm:"type:text" json:"products_json"`
	ScheduleDays      *string    `gorm:"size:32" json:"schedule_days,omitempty"`      // CSV of weekdays, 0 = Sunday
	ScheduleStartTime *string    `gorm:"size:8" json:"schedule_start_time,omitempty"` // HH:MM:SS
	ScheduleEndTime   *string    `gorm:"size:8" json:"schedule_end_time,omitempty"`   // HH:MM:SS
	WarmupMinutes     *int32     `json:"warmup_minutes,omitempty"`                    // pre-download lead before the window opens
	ActivatedAt       *time.Time `json:"activated_at,omitempty"`
	UpdatedAt         time.Time  `json:"updated_at"`
}

func (FlashSaleConfig) TableName() string {
	return "flash_sale_configs"
}

func (f *FlashSaleConfig) BeforeCreate(tx *gorm.DB) error {
	if f.ID == "" {
		f.ID = uuid.NewString()
	}
	return nil
}

// Sync item statuses
const (
	SyncItemPlanned     = "planned"
	SyncItemDownloading = "downloading"
	SyncItemCompleted   = "completed"
	SyncItemFailed      = "failed"
)

// Overall device sync statuses, always derived from the items
const (
	SyncStateIdle     = "idle"
	SyncStateSyncing  = "syncing"
	SyncStateReady    = "ready"
	SyncStateDegraded = "degraded"
)

// DeviceSyncState represents the device_sync_states table
type DeviceSyncState struct {
	DeviceID        string     `gorm:"primaryKey;size:36" json:"device_id"`
	OverallStatus   string     `gorm:"size:32;not null;default:'idle'" json:"overall_status"`
	LastPlanVersion int64      `gorm:"not null;default:0" json:"last_plan_version"`
	LastReportAt    *time.Time `json:"last_report_at,omitempty"`
	LastError       *string    `gorm:"type:text" json:"last_error,omitempty"`
	CreatedAt       time.Time  `json:"created_at"`
	UpdatedAt       time.Time  `json:"updated_at"`

	Device *Device `gorm:"foreignKey:DeviceID;constraint:OnDelete:CASCADE" json:"-"`
}

func (DeviceSyncState) TableName() string {
	return "device_sync_states"
}

// DeviceSyncItem represents the device_sync_items table. The composite
// primary key keeps exactly one row per (device, media) pair.
type DeviceSyncItem struct {
	DeviceID      string    `gorm:"primaryKey;size:36" json:"device_id"`
	MediaID       string    `gorm:"primaryKey;size:36" json:"media_id"`
	PriorityClass int       `gorm:"not null;index" json:"priority_class"`
	Reason        string    `gorm:"size:32;not null" json:"reason"`
	Position      int       `gorm:"not null;default:0" json:"position"`
	Status        string    `gorm:"size:16;not null;default:'planned'" json:"status"`
	BytesProgress int64     `gorm:"not null;default:0" json:"bytes_progress"`
	TotalBytes    int64     `gorm:"not null;default:0" json:"total_bytes"`
	Fingerprint   string    `gorm:"size:160;not null;default:''" json:"fingerprint"`
	RetryCount    int32     `gorm:"not null;default:0" json:"retry_count"`
	LastError     *string   `gorm:"type:text" json:"last_error,omitempty"`
	PlanVersion   int64     `gorm:"not null" json:"plan_version"`
	UpdatedAt     time.Time `json:"updated_at"`

	Device *Device `gorm:"foreignKey:DeviceID;constraint:OnDelete:CASCADE" json:"-"`
}

func (DeviceSyncItem) TableName() string {
	return "device_sync_items"
}
