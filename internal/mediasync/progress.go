package mediasync

import (
	"context"
	"fmt"

	"gorm.io/gorm"

	"signage/internal/models"
)

// ItemResult is the outcome of a device report on one item
type ItemResult struct {
	Item models.DeviceSyncItem `json:"item"`
	// Applied is false when the report was accepted as a no-op
	Applied bool `json:"applied"`
}

// ApplyProgress records downloaded bytes. Progress never decreases: a lower
// value than stored is rejected with ErrStaleProgress, a value above a known
// size with ErrInvalidProgress. Completed items are left untouched.
func (s *Store) ApplyProgress(ctx context.Context, deviceID, mediaID string, bytes int64) (*ItemResult, error) {
	if bytes < 0 {
		return nil, fmt.Errorf("%w: bytes_progress must not be negative, got %d", ErrInvalidProgress, bytes)
	}

	var result ItemResult
	now := s.now()

	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := lockDevice(tx, deviceID); err != nil {
			return err
		}

		item, err := s.findItem(tx, deviceID, mediaID)
		if err != nil {
			return err
		}
		result.Item = *item

		if item.Status == models.SyncItemCompleted {
			return nil
		}
		if item.TotalBytes > 0 && bytes > item.TotalBytes {
			return fmt.Errorf("%w: reported %d bytes, size is %d", ErrInvalidProgress, bytes, item.TotalBytes)
		}
		if bytes < item.BytesProgress {
			return fmt.Errorf("%w: reported %d bytes, stored %d", ErrStaleProgress, bytes, item.BytesProgress)
		}

		item.Status = models.SyncItemDownloading
		item.BytesProgress = bytes
		item.UpdatedAt = now

		// guarded so that stored progress cannot move backwards even without the device lock
		updated := tx.Model(&models.DeviceSyncItem{}).
			Where("device_id = ? AND media_id = ? AND status <> ? AND bytes_progress <= ?",
				deviceID, mediaID, models.SyncItemCompleted, bytes).
			Updates(map[string]interface{}{
				"status":         item.Status,
				"bytes_progress": item.BytesProgress,
				"updated_at":     now,
			})
		if updated.Error != nil {
			return fmt.Errorf("failed to record progress: %w", updated.Error)
		}
		if updated.RowsAffected == 0 {
			return fmt.Errorf("%w: media %s advanced concurrently", ErrStaleProgress, mediaID)
		}

		result.Item = *item
		result.Applied = true
		return s.touchState(tx, deviceID, now, nil)
	})
	if err != nil {
		return nil, err
	}

	return &result, nil
}

// ApplyAck marks an item completed regardless of its previous status.
// Acking a completed item is a no-op.
func (s *Store) ApplyAck(ctx context.Context, deviceID, mediaID string) (*ItemResult, error) {
	var result ItemResult
	now := s.now()

	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := lockDevice(tx, deviceID); err != nil {
			return err
		}

		item, err := s.findItem(tx, deviceID, mediaID)
		if err != nil {
			return err
		}
		result.Item = *item

		if item.Status == models.SyncItemCompleted {
			return nil
		}

		item.Status = models.SyncItemCompleted
		if item.TotalBytes > item.BytesProgress {
			item.BytesProgress = item.TotalBytes
		}
		item.LastError = nil
		item.UpdatedAt = now

		if err := tx.Model(&models.DeviceSyncItem{}).
			Where("device_id = ? AND media_id = ?", deviceID, mediaID).
			Updates(map[string]interface{}{
				"status":         item.Status,
				"bytes_progress": item.BytesProgress,
				"last_error":     nil,
				"updated_at":     now,
			}).Error; err != nil {
			return fmt.Errorf("failed to record ack: %w", err)
		}

		result.Item = *item
		result.Applied = true
		return s.touchState(tx, deviceID, now, nil)
	})
	if err != nil {
		return nil, err
	}

	return &result, nil
}

// ApplyFailure records a failed download attempt and resets progress so the
// device can retry from the first byte. Completed items ignore failures.
func (s *Store) ApplyFailure(ctx context.Context, deviceID, mediaID, reason string) (*ItemResult, error) {
	var result ItemResult
	now := s.now()

	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := lockDevice(tx, deviceID); err != nil {
			return err
		}

		item, err := s.findItem(tx, deviceID, mediaID)
		if err != nil {
			return err
		}
		result.Item = *item

		if item.Status == models.SyncItemCompleted {
			return nil
		}

		item.Status = models.SyncItemFailed
		item.BytesProgress = 0
		item.RetryCount++
		item.LastError = &reason
		item.UpdatedAt = now

		if err := tx.Model(&models.DeviceSyncItem{}).
			Where("device_id = ? AND media_id = ?", deviceID, mediaID).
			Updates(map[string]interface{}{
				"status":         item.Status,
				"bytes_progress": 0,
				"retry_count":    item.RetryCount,
				"last_error":     reason,
				"updated_at":     now,
			}).Error; err != nil {
			return fmt.Errorf("failed to record failure: %w", err)
		}

		result.Item = *item
		result.Applied = true
		return s.touchState(tx, deviceID, now, &reason)
	})
	if err != nil {
		return nil, err
	}

	return &result, nil
}
