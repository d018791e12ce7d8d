package mediasync

import (
	"context"
	"errors"
	"fmt"
	"time"

	"gorm.io/gorm"

	"signage/internal/models"
)

// deviceLockNamespace is the first key of the Postgres advisory locks taken per device
const deviceLockNamespace int32 = 0x5347

// Store persists per-device sync state and items. Every mutating method runs
// in a single transaction that first takes the device's database lock, so API
// instances and workers sharing the database never interleave on one device.
type Store struct {
	db  *gorm.DB
	now func() time.Time
}

// NewStore creates a new sync state store
func NewStore(db *gorm.DB, now func() time.Time) *Store {
	if now == nil {
		now = time.Now
	}
	return &Store{db: db, now: now}
}

// Snapshot reads the device state (nil when never planned) and its items
// ordered by priority class, then plan position
func (s *Store) Snapshot(ctx context.Context, deviceID string) (*models.DeviceSyncState, []models.DeviceSyncItem, error) {
	var state *models.DeviceSyncState
	var items []models.DeviceSyncItem

	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var st models.DeviceSyncState
		err := tx.Where("device_id = ?", deviceID).Take(&st).Error
		switch {
		case errors.Is(err, gorm.ErrRecordNotFound):
		case err != nil:
			return fmt.Errorf("failed to load sync state: %w", err)
		default:
			state = &st
		}

		if err := tx.Where("device_id = ?", deviceID).
			Order("priority_class ASC").
			Order("position ASC").
			Find(&items).Error; err != nil {
			return fmt.Errorf("failed to load sync items: %w", err)
		}
		return nil
	})
	if err != nil {
		return nil, nil, err
	}

	return state, items, nil
}

// DeleteDevice removes all sync rows for a device and reports how many items were dropped
func (s *Store) DeleteDevice(ctx context.Context, deviceID string) (int64, error) {
	var removed int64

	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := lockDevice(tx, deviceID); err != nil {
			return err
		}

		result := tx.Where("device_id = ?", deviceID).Delete(&models.DeviceSyncItem{})
		if result.Error != nil {
			return fmt.Errorf("failed to delete sync items: %w", result.Error)
		}
		removed = result.RowsAffected

		if err := tx.Where("device_id = ?", deviceID).Delete(&models.DeviceSyncState{}).Error; err != nil {
			return fmt.Errorf("failed to delete sync state: %w", err)
		}
		return nil
	})

	return removed, err
}

// lockDevice holds a transaction-scoped lock on deviceID until commit or
// rollback. On Postgres this is pg_advisory_xact_lock; SQLite allows a single
// writer at a time and conflicting writers fail with SQLITE_BUSY.
func lockDevice(tx *gorm.DB, deviceID string) error {
	if tx.Dialector.Name() != "postgres" {
		return nil
	}
	if err := tx.Exec("SELECT pg_advisory_xact_lock(?, hashtext(?))", deviceLockNamespace, deviceID).Error; err != nil {
		return fmt.Errorf("failed to lock device %s: %w", deviceID, err)
	}
	return nil
}

func (s *Store) findItem(tx *gorm.DB, deviceID, mediaID string) (*models.DeviceSyncItem, error) {
	var item models.DeviceSyncItem
	err := tx.Where("device_id = ? AND media_id = ?", deviceID, mediaID).Take(&item).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, fmt.Errorf("%w: media %s is not planned for device %s", ErrUnknownItem, mediaID, deviceID)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load sync item: %w", err)
	}
	return &item, nil
}

// touchState recomputes the derived overall status after a device report
func (s *Store) touchState(tx *gorm.DB, deviceID string, now time.Time, lastError *string) error {
	var statuses []string
	if err := tx.Model(&models.DeviceSyncItem{}).
		Where("device_id = ?", deviceID).
		Pluck("status", &statuses).Error; err != nil {
		return fmt.Errorf("failed to load item statuses: %w", err)
	}

	updates := map[string]interface{}{
		"overall_status": deriveOverallStatus(statuses),
		"last_report_at": now,
		"updated_at":     now,
	}
	if lastError != nil {
		updates["last_error"] = *lastError
	}

	if err := tx.Model(&models.DeviceSyncState{}).
		Where("device_id = ?", deviceID).
		Updates(updates).Error; err != nil {
		return fmt.Errorf("failed to update sync state: %w", err)
	}
	return nil
}

// deriveOverallStatus summarizes item statuses. A device with nothing
// to hold is ready; any failed item makes it degraded.
func deriveOverallStatus(statuses []string) string {
	if len(statuses) == 0 {
		return models.SyncStateReady
	}

	var completed, started int
	for _, st := range statuses {
		switch st {
		case models.SyncItemFailed:
			return models.SyncStateDegraded
		case models.SyncItemCompleted:
			completed++
		case models.SyncItemDownloading:
			started++
		}
	}

	switch {
	case completed == len(statuses):
		return models.SyncStateReady
	case completed > 0 || started > 0:
		return models.SyncStateSyncing
	default:
		return models.SyncStateIdle
	}
}

func itemStatuses(items []models.DeviceSyncItem) []string {
	statuses := make([]string, len(items))
	for i, item := range items {
		statuses[i] = item.Status
	}
	return statuses
}
