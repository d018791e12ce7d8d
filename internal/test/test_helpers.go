package test

import (
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"

	"signage/internal/database"
	"signage/internal/models"
)

// GetTestDB creates an isolated in-memory SQLite database with the full schema migrated
func GetTestDB(t *testing.T) (*gorm.DB, func()) {
	t.Helper()

	name := strings.NewReplacer("/", "_", " ", "_", "#", "_").Replace(t.Name())
	dsn := fmt.Sprintf("file:%s_%d?mode=memory&cache=shared&_foreign_keys=1", name, time.Now().UnixNano())

	db, err := gorm.Open(sqlite.Open(dsn), database.NewGORMConfig())
	require.NoError(t, err)

	sqlDB, err := db.DB()
	require.NoError(t, err)
	sqlDB.SetMaxOpenConns(1)

	require.NoError(t, database.NewMigrationManager(db, nil).Migrate())

	tearDown := func() {
		_ = sqlDB.Close()
	}

	return db, tearDown
}

// CreateTestDevice inserts a device row
func CreateTestDevice(t *testing.T, db *gorm.DB, name string) *models.Device {
	t.Helper()

	device := &models.Device{Name: name, Location: "test"}
	require.NoError(t, db.Create(device).Error)
	return device
}

// CreateTestMedia inserts a media row with the given size and checksum
func CreateTestMedia(t *testing.T, db *gorm.DB, name string, size int64, checksum string) *models.Media {
	t.Helper()

	media := &models.Media{
		Name:      name,
		Type:      "image",
		Path:      "/media/" + name,
		SizeBytes: size,
		Checksum:  checksum,
	}
	require.NoError(t, db.Create(media).Error)
	return media
}

// CreateTestPlaylist creates a playlist owned by screenID (nil for a central playlist)
// with one enabled item per media id, in order
func CreateTestPlaylist(t *testing.T, db *gorm.DB, screenID *string, mediaIDs ...string) *models.Playlist {
	t.Helper()

	playlist := &models.Playlist{ScreenID: screenID, Name: "playlist"}
	require.NoError(t, db.Create(playlist).Error)

	for i, mediaID := range mediaIDs {
		item := &models.PlaylistItem{
			PlaylistID: playlist.ID,
			MediaID:    mediaID,
			Position:   int32(i),
			Enabled:    true,
		}
		require.NoError(t, db.Create(item).Error)
	}
	return playlist
}

// CreateTestScreen inserts a screen for a device, optionally pointing at an active playlist
func CreateTestScreen(t *testing.T, db *gorm.DB, deviceID string, activePlaylistID *string) *models.Screen {
	t.Helper()

	screen := &models.Screen{DeviceID: deviceID, Name: "main", ActivePlaylistID: activePlaylistID}
	require.NoError(t, db.Create(screen).Error)
	return screen
}

// StrPtr returns a pointer to s
func StrPtr(s string) *string {
	return &s
}
