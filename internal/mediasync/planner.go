package mediasync

import "sort"

// BuildPlan merges resolved refs into a SyncPlan. Each media id appears once
// with the most urgent class among its reasons; within a class items keep
// the order in which the resolver first emitted them.
func BuildPlan(refs []RequiredMediaRef) SyncPlan {
	index := make(map[string]int, len(refs))
	items := make([]PlanItem, 0, len(refs))

	for _, ref := range refs {
		if ref.MediaID == "" {
			continue
		}
		class, _ := ClassForReason(ref.Reason)

		if i, seen := index[ref.MediaID]; seen {
			if class < items[i].PriorityClass {
				items[i].PriorityClass = class
				items[i].Reason = ref.Reason
			}
			continue
		}

		index[ref.MediaID] = len(items)
		items = append(items, PlanItem{
			MediaID:       ref.MediaID,
			PriorityClass: class,
			Reason:        ref.Reason,
		})
	}

	sort.SliceStable(items, func(a, b int) bool {
		return items[a].PriorityClass < items[b].PriorityClass
	})

	return SyncPlan{Items: items}
}

// applyCatalog fills size and checksum from the catalog lookup
func applyCatalog(plan *SyncPlan, info map[string]MediaInfo) {
	for i := range plan.Items {
		if mi, ok := info[plan.Items[i].MediaID]; ok {
			plan.Items[i].SizeBytes = mi.SizeBytes
			plan.Items[i].Checksum = mi.Checksum
		}
	}
}
