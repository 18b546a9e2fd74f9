package models

import (
	"context"
	"fmt"

	"bitbucket.org/mmdatafocus/thread_backend/config"
	"bitbucket.org/mmdatafocus/thread_backend/notify"
)

// CheckLowStock raises a STOCK_ALERT for every thread type whose AVAILABLE length dropped
// below its reorder level. It runs after commit and never fails the caller.
func CheckLowStock(ctx context.Context, threadTypeIds ...int) {
	db := config.GetDB().WithContext(ctx)
	for _, id := range threadTypeIds {
		threadTypeId := id
		summaries, err := availabilitySummary(db, &threadTypeId)
		if err != nil {
			config.LogError(config.GetLogger(), "Stock", "CheckLowStock", "availability summary", threadTypeId, err)
			continue
		}
		for _, summary := range summaries {
			if !summary.BelowReorderLevel {
				continue
			}
			notify.Dispatch(ctx, notify.Event{
				Type:  notify.TypeStockAlert,
				Title: fmt.Sprintf("Low stock: %s", summary.ThreadTypeCode),
				Body: fmt.Sprintf("%s meters available, reorder level is %s meters",
					summary.TotalMeters.String(), summary.ReorderLevelMeters.String()),
				Metadata: map[string]any{
					"thread_type_id":       summary.ThreadTypeId,
					"total_meters":         summary.TotalMeters.String(),
					"reorder_level_meters": summary.ReorderLevelMeters.String(),
					"full_cones":           summary.FullCones,
					"partial_cones":        summary.PartialCones,
				},
			})
		}
	}
}
