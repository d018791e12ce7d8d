package mediasync

import (
	"context"
	"errors"
	"fmt"

	"gorm.io/gorm"

	"signage/internal/models"
)

// ReconcileSummary counts what a reconciliation changed
type ReconcileSummary struct {
	Inserted    int
	Updated     int
	Invalidated int
	Deleted     int64
}

// Reconcile merges a fresh plan into the persisted state of a device.
// Existing rows keep their status; they are reset to planned only when the
// catalog fingerprint changed underneath them. Rows absent from the plan are
// deleted. The plan version advances on every call, even for identical plans.
func (s *Store) Reconcile(ctx context.Context, deviceID string, plan SyncPlan) (*models.DeviceSyncState, []models.DeviceSyncItem, ReconcileSummary, error) {
	var (
		state   models.DeviceSyncState
		items   []models.DeviceSyncItem
		summary ReconcileSummary
	)
	now := s.now()

	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := lockDevice(tx, deviceID); err != nil {
			return err
		}

		err := tx.Where("device_id = ?", deviceID).Take(&state).Error
		if errors.Is(err, gorm.ErrRecordNotFound) {
			state = models.DeviceSyncState{
				DeviceID:      deviceID,
				OverallStatus: models.SyncStateIdle,
				CreatedAt:     now,
				UpdatedAt:     now,
			}
			if err := tx.Create(&state).Error; err != nil {
				return fmt.Errorf("failed to create sync state: %w", err)
			}
		} else if err != nil {
			return fmt.Errorf("failed to load sync state: %w", err)
		}

		var existing []models.DeviceSyncItem
		if err := tx.Where("device_id = ?", deviceID).Find(&existing).Error; err != nil {
			return fmt.Errorf("failed to load sync items: %w", err)
		}
		byMedia := make(map[string]models.DeviceSyncItem, len(existing))
		for _, row := range existing {
			byMedia[row.MediaID] = row
		}

		version := state.LastPlanVersion + 1
		items = make([]models.DeviceSyncItem, 0, len(plan.Items))

		for pos, planned := range plan.Items {
			fingerprint := planned.Fingerprint()

			row, ok := byMedia[planned.MediaID]
			if !ok {
				row = models.DeviceSyncItem{
					DeviceID:      deviceID,
					MediaID:       planned.MediaID,
					PriorityClass: int(planned.PriorityClass),
					Reason:        string(planned.Reason),
					Position:      pos,
					Status:        models.SyncItemPlanned,
					TotalBytes:    planned.SizeBytes,
					Fingerprint:   fingerprint,
					PlanVersion:   version,
					UpdatedAt:     now,
				}
				if err := tx.Create(&row).Error; err != nil {
					return fmt.Errorf("failed to insert sync item %s: %w", planned.MediaID, err)
				}
				summary.Inserted++
				items = append(items, row)
				continue
			}

			row.PriorityClass = int(planned.PriorityClass)
			row.Reason = string(planned.Reason)
			row.Position = pos
			row.PlanVersion = version
			row.UpdatedAt = now
			if planned.SizeBytes > 0 {
				row.TotalBytes = planned.SizeBytes
			}

			if row.Fingerprint != "" && fingerprint != "" && row.Fingerprint != fingerprint {
				row.Status = models.SyncItemPlanned
				row.BytesProgress = 0
				row.LastError = nil
				summary.Invalidated++
			}
			if fingerprint != "" {
				row.Fingerprint = fingerprint
			}

			updated := tx.Model(&models.DeviceSyncItem{}).
				Where("device_id = ? AND media_id = ?", deviceID, row.MediaID).
				Updates(map[string]interface{}{
					"priority_class": row.PriorityClass,
					"reason":         row.Reason,
					"position":       row.Position,
					"status":         row.Status,
					"bytes_progress": row.BytesProgress,
					"total_bytes":    row.TotalBytes,
					"fingerprint":    row.Fingerprint,
					"last_error":     row.LastError,
					"plan_version":   row.PlanVersion,
					"updated_at":     row.UpdatedAt,
				})
			if updated.Error != nil {
				return fmt.Errorf("failed to update sync item %s: %w", row.MediaID, updated.Error)
			}
			if updated.RowsAffected == 0 {
				return fmt.Errorf("%w: sync item %s", errStateRemoved, row.MediaID)
			}
			summary.Updated++
			items = append(items, row)
		}

		result := tx.Where("device_id = ? AND plan_version < ?", deviceID, version).
			Delete(&models.DeviceSyncItem{})
		if result.Error != nil {
			return fmt.Errorf("failed to retire sync items: %w", result.Error)
		}
		summary.Deleted = result.RowsAffected

		state.LastPlanVersion = version
		state.OverallStatus = deriveOverallStatus(itemStatuses(items))
		state.UpdatedAt = now

		updated := tx.Model(&models.DeviceSyncState{}).
			Where("device_id = ?", deviceID).
			Updates(map[string]interface{}{
				"last_plan_version": state.LastPlanVersion,
				"overall_status":    state.OverallStatus,
				"updated_at":        now,
			})
		if updated.Error != nil {
			return fmt.Errorf("failed to update sync state: %w", updated.Error)
		}
		if updated.RowsAffected == 0 {
			return fmt.Errorf("%w: sync state of device %s", errStateRemoved, deviceID)
		}
		return nil
	})
	if err != nil {
		return nil, nil, ReconcileSummary{}, err
	}

	return &state, items, summary, nil
}
