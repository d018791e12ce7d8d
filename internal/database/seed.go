package database

import (
	"encoding/json"
	"os"
	"time"

	"github.com/pkg/errors"
	"github.com/rs/zerolog"
	"gopkg.in/yaml.v3"
	"gorm.io/gorm"

	"signage/internal/models"
)

// Fixture describes demo content. Entities reference each other by their
// fixture-local keys; database ids are generated on insert.
type Fixture struct {
	Media     []MediaFixture    `yaml:"media"`
	Devices   []DeviceFixture   `yaml:"devices"`
	Playlists []PlaylistFixture `yaml:"playlists"`
}

type MediaFixture struct {
	Key         string `yaml:"key"`
	Name        string `yaml:"name"`
	Type        string `yaml:"type"`
	Path        string `yaml:"path"`
	DurationSec int32  `yaml:"duration_sec"`
	SizeBytes   int64  `yaml:"size_bytes"`
	Checksum    string `yaml:"checksum"`
	Required    bool   `yaml:"required"`
}

type DeviceFixture struct {
	Key       string            `yaml:"key"`
	Name      string            `yaml:"name"`
	Location  string            `yaml:"location"`
	Screens   []ScreenFixture   `yaml:"screens"`
	FlashSale *FlashSaleFixture `yaml:"flash_sale"`
}

type ScreenFixture struct {
	Key            string            `yaml:"key"`
	Name           string            `yaml:"name"`
	ActivePlaylist string            `yaml:"active_playlist"`
	Schedules      []ScheduleFixture `yaml:"schedules"`
}

// ScheduleFixture expands into one schedule row per day
type ScheduleFixture struct {
	Playlist string `yaml:"playlist"`
	Days     []int  `yaml:"days"`
	Start    string `yaml:"start"`
	End      string `yaml:"end"`
	Note     string `yaml:"note"`
}

// PlaylistFixture with an empty Screen is a central playlist
type PlaylistFixture struct {
	Key    string   `yaml:"key"`
	Name   string   `yaml:"name"`
	Screen string   `yaml:"screen"`
	Items  []string `yaml:"items"`
}

type FlashSaleFixture struct {
	Enabled       *bool    `yaml:"enabled"`
	Media         []string `yaml:"media"`
	Days          string   `yaml:"days"`
	Start         string   `yaml:"start"`
	End           string   `yaml:"end"`
	CountdownSec  *int32   `yaml:"countdown_sec"`
	WarmupMinutes *int32   `yaml:"warmup_minutes"`
	Note          string   `yaml:"note"`
}

// SeedResult maps fixture keys to the ids that were created
type SeedResult struct {
	Skipped   bool
	Media     map[string]string
	Devices   map[string]string
	Screens   map[string]string
	Playlists map[string]string
	Schedules int
}

// LoadFixture reads a YAML fixture from disk
func LoadFixture(path string) (*Fixture, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to read fixture %s", path)
	}

	var fixture Fixture
	if err := yaml.Unmarshal(data, &fixture); err != nil {
		return nil, errors.Wrapf(err, "failed to parse fixture %s", path)
	}
	return &fixture, nil
}

// SeedFixture inserts the fixture in one transaction. It does nothing when
// devices already exist.
func SeedFixture(db *gorm.DB, fixture *Fixture, logger *zerolog.Logger) (*SeedResult, error) {
	if logger == nil {
		nop := zerolog.Nop()
		logger = &nop
	}

	result := &SeedResult{
		Media:     make(map[string]string),
		Devices:   make(map[string]string),
		Screens:   make(map[string]string),
		Playlists: make(map[string]string),
	}

	var count int64
	if err := db.Model(&models.Device{}).Count(&count).Error; err != nil {
		return nil, errors.Wrap(err, "failed to count devices")
	}
	if count > 0 {
		logger.Info().Int64("devices", count).Msg("Devices already exist, skipping seed")
		result.Skipped = true
		return result, nil
	}

	err := db.Transaction(func(tx *gorm.DB) error {
		if err := seedMedia(tx, fixture, result); err != nil {
			return err
		}
		if err := seedDevices(tx, fixture, result); err != nil {
			return err
		}
		if err := seedPlaylists(tx, fixture, result); err != nil {
			return err
		}
		if err := seedScreenLinks(tx, fixture, result); err != nil {
			return err
		}
		return seedFlashSales(tx, fixture, result)
	})
	if err != nil {
		return nil, err
	}

	logger.Info().
		Int("media", len(result.Media)).
		Int("devices", len(result.Devices)).
		Int("screens", len(result.Screens)).
		Int("playlists", len(result.Playlists)).
		Int("schedules", result.Schedules).
		Msg("Fixture seeded successfully")
	return result, nil
}

func seedMedia(tx *gorm.DB, fixture *Fixture, result *SeedResult) error {
	for _, m := range fixture.Media {
		media := models.Media{
			Name:        m.Name,
			Type:        m.Type,
			Path:        m.Path,
			DurationSec: m.DurationSec,
			SizeBytes:   m.SizeBytes,
			Checksum:    m.Checksum,
			Required:    m.Required,
		}
		if media.Type == "" {
			media.Type = "image"
		}
		if err := tx.Create(&media).Error; err != nil {
			return errors.Wrapf(err, "failed to seed media %q", m.Key)
		}
		result.Media[m.Key] = media.ID
	}
	return nil
}

func seedDevices(tx *gorm.DB, fixture *Fixture, result *SeedResult) error {
	for _, d := range fixture.Devices {
		device := models.Device{Name: d.Name, Location: d.Location}
		if err := tx.Create(&device).Error; err != nil {
			return errors.Wrapf(err, "failed to seed device %q", d.Key)
		}
		result.Devices[d.Key] = device.ID

		for _, s := range d.Screens {
			screen := models.Screen{DeviceID: device.ID, Name: s.Name}
			if err := tx.Create(&screen).Error; err != nil {
				return errors.Wrapf(err, "failed to seed screen %q", s.Key)
			}
			result.Screens[s.Key] = screen.ID
		}
	}
	return nil
}

func seedPlaylists(tx *gorm.DB, fixture *Fixture, result *SeedResult) error {
	for _, p := range fixture.Playlists {
		playlist := models.Playlist{Name: p.Name}
		if p.Screen != "" {
			screenID, ok := result.Screens[p.Screen]
			if !ok {
				return errors.Errorf("playlist %q references unknown screen %q", p.Key, p.Screen)
			}
			playlist.ScreenID = &screenID
		}
		if err := tx.Create(&playlist).Error; err != nil {
			return errors.Wrapf(err, "failed to seed playlist %q", p.Key)
		}
		result.Playlists[p.Key] = playlist.ID

		for i, mediaKey := range p.Items {
			mediaID, ok := result.Media[mediaKey]
			if !ok {
				return errors.Errorf("playlist %q references unknown media %q", p.Key, mediaKey)
			}
			item := models.PlaylistItem{
				PlaylistID: playlist.ID,
				MediaID:    mediaID,
				Position:   int32(i),
				Enabled:    true,
			}
			if err := tx.Create(&item).Error; err != nil {
				return errors.Wrapf(err, "failed to seed item %d of playlist %q", i, p.Key)
			}
		}
	}
	return nil
}

// seedScreenLinks sets active playlists and schedules once playlists exist
func seedScreenLinks(tx *gorm.DB, fixture *Fixture, result *SeedResult) error {
	for _, d := range fixture.Devices {
		for _, s := range d.Screens {
			screenID := result.Screens[s.Key]

			if s.ActivePlaylist != "" {
				playlistID, ok := result.Playlists[s.ActivePlaylist]
				if !ok {
					return errors.Errorf("screen %q references unknown playlist %q", s.Key, s.ActivePlaylist)
				}
				if err := tx.Model(&models.Screen{}).Where("id = ?", screenID).
					Update("active_playlist_id", playlistID).Error; err != nil {
					return errors.Wrapf(err, "failed to link screen %q", s.Key)
				}
			}

			for _, sch := range s.Schedules {
				playlistID, ok := result.Playlists[sch.Playlist]
				if !ok {
					return errors.Errorf("schedule on screen %q references unknown playlist %q", s.Key, sch.Playlist)
				}
				for _, day := range sch.Days {
					if day < 0 || day > 6 {
						return errors.Errorf("schedule on screen %q has invalid day %d", s.Key, day)
					}
					schedule := models.Schedule{
						ScreenID:   screenID,
						PlaylistID: playlistID,
						DayOfWeek:  day,
						StartTime:  normalizeClock(sch.Start),
						EndTime:    normalizeClock(sch.End),
						Note:       sch.Note,
					}
					if err := tx.Create(&schedule).Error; err != nil {
						return errors.Wrapf(err, "failed to seed schedule on screen %q", s.Key)
					}
					result.Schedules++
				}
			}
		}
	}
	return nil
}

type flashSaleProduct struct {
	MediaID string `json:"media_id"`
}

func seedFlashSales(tx *gorm.DB, fixture *Fixture, result *SeedResult) error {
	for _, d := range fixture.Devices {
		fs := d.FlashSale
		if fs == nil {
			continue
		}

		products := make([]flashSaleProduct, 0, len(fs.Media))
		for _, key := range fs.Media {
			mediaID, ok := result.Media[key]
			if !ok {
				return errors.Errorf("flash sale of device %q references unknown media %q", d.Key, key)
			}
			products = append(products, flashSaleProduct{MediaID: mediaID})
		}
		productsJSON, err := json.Marshal(products)
		if err != nil {
			return errors.Wrap(err, "failed to encode flash sale products")
		}

		cfg := models.FlashSaleConfig{
			DeviceID:      result.Devices[d.Key],
			Note:          fs.Note,
			CountdownSec:  fs.CountdownSec,
			ProductsJSON:  string(productsJSON),
			WarmupMinutes: fs.WarmupMinutes,
		}
		if fs.Days != "" {
			days, start, end := fs.Days, normalizeClock(fs.Start), normalizeClock(fs.End)
			cfg.ScheduleDays = &days
			cfg.ScheduleStartTime = &start
			cfg.ScheduleEndTime = &end
		} else {
			activated := time.Now().UTC()
			cfg.ActivatedAt = &activated
		}

		if err := tx.Create(&cfg).Error; err != nil {
			return errors.Wrapf(err, "failed to seed flash sale of device %q", d.Key)
		}
		// enabled has a column default, so false must be written explicitly
		if fs.Enabled != nil && !*fs.Enabled {
			if err := tx.Model(&cfg).Update("enabled", false).Error; err != nil {
				return errors.Wrapf(err, "failed to disable flash sale of device %q", d.Key)
			}
		}
	}
	return nil
}

// normalizeClock turns "HH:MM" into "HH:MM:SS"
func normalizeClock(s string) string {
	if len(s) == len("15:04") {
		return s + ":00"
	}
	return s
}
