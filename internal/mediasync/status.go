package mediasync

import (
	"time"

	"signage/internal/models"
)

// ItemStatus is the per-item view of a device's sync state
type ItemStatus struct {
	MediaID       string        `json:"media_id"`
	PriorityClass PriorityClass `json:"priority_class"`
	Reason        Reason        `json:"reason"`
	Status        string        `json:"status"`
	BytesProgress int64         `json:"bytes_progress"`
	TotalBytes    int64         `json:"total_bytes"`
	RetryCount    int32         `json:"retry_count"`
	LastError     *string       `json:"last_error,omitempty"`
	PlanVersion   int64         `json:"plan_version"`
	UpdatedAt     time.Time     `json:"updated_at"`
}

// Status is the readiness summary of one device
type Status struct {
	DeviceID        string       `json:"device_id"`
	Ready           bool         `json:"ready"`
	OverallStatus   string       `json:"overall_status"`
	PlanVersion     int64        `json:"plan_version"`
	MissingCount    int          `json:"missing_count"`
	MissingMediaIDs []string     `json:"missing_media_ids"`
	CompletedCount  int          `json:"completed_count"`
	FailedCount     int          `json:"failed_count"`
	TotalBytes      int64        `json:"total_bytes"`
	DownloadedBytes int64        `json:"downloaded_bytes"`
	PerItem         []ItemStatus `json:"per_item"`
	LastReportAt    *time.Time   `json:"last_report_at,omitempty"`
	UpdatedAt       *time.Time   `json:"updated_at,omitempty"`
}

// ProjectStatus builds the readiness summary. items must already be ordered by
// priority class then plan position. A nil state means the device was never planned.
func ProjectStatus(deviceID string, state *models.DeviceSyncState, items []models.DeviceSyncItem) *Status {
	status := &Status{
		DeviceID:        deviceID,
		Ready:           true,
		OverallStatus:   models.SyncStateIdle,
		MissingMediaIDs: []string{},
		PerItem:         make([]ItemStatus, 0, len(items)),
	}

	if state != nil {
		status.PlanVersion = state.LastPlanVersion
		status.OverallStatus = deriveOverallStatus(itemStatuses(items))
		status.LastReportAt = state.LastReportAt
		updated := state.UpdatedAt
		status.UpdatedAt = &updated
	}

	for _, item := range items {
		status.PerItem = append(status.PerItem, ItemStatus{
			MediaID:       item.MediaID,
			PriorityClass: PriorityClass(item.PriorityClass),
			Reason:        Reason(item.Reason),
			Status:        item.Status,
			BytesProgress: item.BytesProgress,
			TotalBytes:    item.TotalBytes,
			RetryCount:    item.RetryCount,
			LastError:     item.LastError,
			PlanVersion:   item.PlanVersion,
			UpdatedAt:     item.UpdatedAt,
		})

		status.TotalBytes += item.TotalBytes
		status.DownloadedBytes += item.BytesProgress

		switch item.Status {
		case models.SyncItemCompleted:
			status.CompletedCount++
			continue
		case models.SyncItemFailed:
			status.FailedCount++
		}

		status.Ready = false
		status.MissingMediaIDs = append(status.MissingMediaIDs, item.MediaID)
	}
	status.MissingCount = len(status.MissingMediaIDs)

	return status
}
