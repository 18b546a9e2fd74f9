package models

import (
	"context"
	"fmt"
	"strings"
	"time"

	"bitbucket.org/mmdatafocus/thread_backend/config"
	"bitbucket.org/mmdatafocus/thread_backend/metrics"
	"bitbucket.org/mmdatafocus/thread_backend/utils"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"gorm.io/gorm"
)

// Warehouse requests share the allocation table. They are approved by the source warehouse,
// staged from its stock and handed over to the requesting warehouse on receipt.

func ApproveAllocation(ctx context.Context, id int, approvedBy string) (*Allocation, error) {
	actor := utils.ResolveActor(ctx, approvedBy)
	if actor == "" {
		return nil, utils.NewValidationError("approver is required")
	}
	now := time.Now().UTC()
	allocation, err := updateRequest(ctx, id, AllocationStatusApproved, map[string]interface{}{
		"approved_by": actor,
		"approved_at": now,
	})
	metrics.RecordAllocationOperation("approve", err)
	if err != nil {
		return nil, err
	}
	notifyAllocation(ctx, allocation, "approve")
	return allocation, nil
}

func RejectAllocation(ctx context.Context, id int, rejectedBy string, reason string) (*Allocation, error) {
	reason = strings.TrimSpace(reason)
	if reason == "" {
		return nil, utils.NewValidationError("rejection reason is required")
	}
	actor := utils.ResolveActor(ctx, rejectedBy)
	allocation, err := updateRequest(ctx, id, AllocationStatusRejected, map[string]interface{}{
		"rejection_reason": reason,
		"approved_by":      actor,
	})
	metrics.RecordAllocationOperation("reject", err)
	if err != nil {
		return nil, err
	}
	notifyAllocation(ctx, allocation, "reject")
	return allocation, nil
}

// MarkAllocationReady reserves cones in the source warehouse and stages them for pickup.
// A request with nothing to stage fails instead of waitlisting.
func MarkAllocationReady(ctx context.Context, id int) (*ExecutionResult, error) {
	ctx, span := tracer.Start(ctx, "allocation.mark_ready", trace.WithAttributes(attribute.Int("allocation.id", id)))
	defer span.End()

	allocation, err := utils.FetchModel[Allocation](config.GetDB().WithContext(ctx), id)
	if err != nil {
		return nil, err
	}
	if !allocation.IsRequest() {
		return nil, utils.NewValidationError("allocation is not a warehouse request", fmt.Sprint(id))
	}
	result, err := runReservation(ctx, id, "mark_ready", AllocationStatusReadyForPickup)
	metrics.RecordAllocationOperation("mark_ready", err)
	if err != nil {
		span.RecordError(err)
		return nil, err
	}
	return result, nil
}

// ConfirmAllocationReceived closes a request once the requesting warehouse has the cones; like an
// issue, the staged cones go into production.
func ConfirmAllocationReceived(ctx context.Context, id int, receivedBy string) (*Allocation, error) {
	ctx, span := tracer.Start(ctx, "allocation.confirm_received", trace.WithAttributes(attribute.Int("allocation.id", id)))
	defer span.End()

	actor := utils.ResolveActor(ctx, receivedBy)
	if actor == "" {
		return nil, utils.NewValidationError("receiver is required")
	}

	var allocation *Allocation
	db := config.GetDB()
	err := db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var err error
		allocation, err = utils.FetchModelForUpdate[Allocation](tx, id)
		if err != nil {
			return err
		}
		if !allocation.IsRequest() {
			return utils.NewValidationError("allocation is not a warehouse request", fmt.Sprint(id))
		}
		if err := allocation.checkTransition(AllocationStatusReceived); err != nil {
			return err
		}

		links, err := allocationLinks(tx, id)
		if err != nil {
			return err
		}
		if len(links) == 0 {
			return utils.NewValidationError("allocation holds no cones", fmt.Sprint(id))
		}
		cones, err := moveConesToProduction(tx, linkConeIds(links))
		if err != nil {
			return err
		}

		now := time.Now().UTC()
		err = tx.Model(&Allocation{}).Where("id = ?", id).Updates(map[string]interface{}{
			"status":      AllocationStatusReceived,
			"received_by": actor,
			"received_at": now,
		}).Error
		if err != nil {
			return utils.SystemError("update allocation", err)
		}
		if err := RecomputeLotCounts(tx, lotIdsOf(cones)...); err != nil {
			return err
		}
		allocation.Status = AllocationStatusReceived
		allocation.ReceivedBy = actor
		allocation.ReceivedAt = &now
		allocation.Links = links
		return nil
	})
	metrics.RecordAllocationOperation("confirm_received", err)
	if err != nil {
		span.RecordError(err)
		return nil, err
	}
	notifyAllocation(ctx, allocation, "receive")
	return allocation, nil
}

func updateRequest(ctx context.Context, id int, status AllocationStatus, updates map[string]interface{}) (*Allocation, error) {
	var allocation *Allocation
	db := config.GetDB()
	err := db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var err error
		allocation, err = utils.FetchModelForUpdate[Allocation](tx, id)
		if err != nil {
			return err
		}
		if !allocation.IsRequest() {
			return utils.NewValidationError("allocation is not a warehouse request", fmt.Sprint(id))
		}
		if err := allocation.checkTransition(status); err != nil {
			return err
		}
		updates["status"] = status
		if err := tx.Model(&Allocation{}).Where("id = ?", id).Updates(updates).Error; err != nil {
			return utils.SystemError("update allocation", err)
		}
		allocation, err = utils.FetchModel[Allocation](tx, id)
		return err
	})
	if err != nil {
		return nil, err
	}
	return allocation, nil
}
