package models

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"

	"bitbucket.org/mmdatafocus/thread_backend/config"
	"bitbucket.org/mmdatafocus/thread_backend/metrics"
	"bitbucket.org/mmdatafocus/thread_backend/notify"
	"bitbucket.org/mmdatafocus/thread_backend/utils"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"
)

// AllocationConflict is raised when a reservation falls short and stays open until demand
// for the thread type fits supply again.
type AllocationConflict struct {
	ID               int             `gorm:"primary_key" json:"id"`
	ThreadTypeId     int             `gorm:"index;not null" json:"thread_type_id"`
	TotalRequested   decimal.Decimal `gorm:"type:decimal(20,4);not null" json:"total_requested"`
	TotalAvailable   decimal.Decimal `gorm:"type:decimal(20,4);not null" json:"total_available"`
	Shortage         decimal.Decimal `gorm:"type:decimal(20,4);not null" json:"shortage"`
	Status           ConflictStatus  `gorm:"size:16;index;not null" json:"status"`
	ResolutionAction ConflictAction  `gorm:"size:32" json:"resolution_action"`
	ResolutionNotes  string          `gorm:"type:text" json:"resolution_notes"`
	ResolvedBy       string          `gorm:"size:100" json:"resolved_by"`
	ResolvedAt       *time.Time      `json:"resolved_at"`
	CreatedAt        time.Time       `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt        time.Time       `gorm:"autoUpdateTime" json:"updated_at"`
}

// ConflictReport is computed on demand. Supply counts AVAILABLE cones plus cones already held
// by the competing allocations, so reserving stock never creates or hides a shortage.
type ConflictReport struct {
	ThreadTypeId         int             `json:"thread_type_id"`
	TotalRequested       decimal.Decimal `json:"total_requested"`
	TotalAvailable       decimal.Decimal `json:"total_available"`
	Shortage             decimal.Decimal `json:"shortage"`
	CompetingAllocations []*Allocation   `json:"competing_allocations"`
}

type ConflictResolution struct {
	ConflictId   int                 `json:"conflict_id" validate:"required"`
	Action       ConflictAction      `json:"action" validate:"required"`
	AllocationId *int                `json:"allocation_id"`
	NewPriority  *AllocationPriority `json:"new_priority"`
	SplitMeters  *decimal.Decimal    `json:"split_meters"`
	Notes        string              `json:"notes"`
	ResolvedBy   string              `json:"resolved_by"`
}

type ConflictFilter struct {
	ThreadTypeId *int            `json:"thread_type_id"`
	Status       *ConflictStatus `json:"status"`
}

// DetectConflicts reports every thread type whose active demand exceeds supply.
func DetectConflicts(ctx context.Context, threadTypeId *int) ([]*ConflictReport, error) {
	return detectConflicts(config.GetDB().WithContext(ctx), threadTypeId)
}

type meterTotal struct {
	ThreadTypeId int
	Total        decimal.Decimal
}

func detectConflicts(db *gorm.DB, threadTypeId *int) ([]*ConflictReport, error) {
	scoped := func(q *gorm.DB, column string) *gorm.DB {
		if threadTypeId != nil {
			return q.Where(column+" = ?", *threadTypeId)
		}
		return q
	}

	var requested []meterTotal
	err := scoped(db.Model(&Allocation{}), "thread_type_id").
		Select("thread_type_id, COALESCE(SUM(requested_meters), 0) AS total").
		Where("status IN ?", activeAllocationStatuses).
		Group("thread_type_id").
		Scan(&requested).Error
	if err != nil {
		return nil, utils.SystemError("sum requested meters", err)
	}
	if len(requested) == 0 {
		return nil, nil
	}

	var available []meterTotal
	err = scoped(db.Model(&Cone{}), "thread_type_id").
		Select("thread_type_id, COALESCE(SUM(quantity_meters), 0) AS total").
		Where("status = ?", ConeStatusAvailable).
		Group("thread_type_id").
		Scan(&available).Error
	if err != nil {
		return nil, utils.SystemError("sum available meters", err)
	}

	// a held cone counts only for its linked length
	var held []meterTotal
	err = scoped(db.Model(&AllocationConeLink{}), "allocations.thread_type_id").
		Select("allocations.thread_type_id AS thread_type_id, COALESCE(SUM(allocation_cone_links.allocated_meters), 0) AS total").
		Joins("JOIN allocations ON allocations.id = allocation_cone_links.allocation_id").
		Where("allocations.status IN ?", activeAllocationStatuses).
		Group("allocations.thread_type_id").
		Scan(&held).Error
	if err != nil {
		return nil, utils.SystemError("sum held meters", err)
	}

	supply := make(map[int]decimal.Decimal)
	for _, rows := range [][]meterTotal{available, held} {
		for _, r := range rows {
			supply[r.ThreadTypeId] = supply[r.ThreadTypeId].Add(r.Total)
		}
	}

	var reports []*ConflictReport
	for _, r := range requested {
		shortage := r.Total.Sub(supply[r.ThreadTypeId])
		if !shortage.IsPositive() {
			continue
		}
		var competing []*Allocation
		err := db.Where("thread_type_id = ? AND status IN ?", r.ThreadTypeId, activeAllocationStatuses).
			Scopes(tieBreakOrder).
			Find(&competing).Error
		if err != nil {
			return nil, utils.SystemError("list competing allocations", err)
		}
		reports = append(reports, &ConflictReport{
			ThreadTypeId:         r.ThreadTypeId,
			TotalRequested:       r.Total,
			TotalAvailable:       supply[r.ThreadTypeId],
			Shortage:             shortage,
			CompetingAllocations: competing,
		})
	}
	sort.Slice(reports, func(i, j int) bool { return reports[i].ThreadTypeId < reports[j].ThreadTypeId })
	return reports, nil
}

// raiseConflict records the current shortage of a thread type. An open record is refreshed
// rather than duplicated.
func raiseConflict(ctx context.Context, threadTypeId int) (*AllocationConflict, error) {
	db := config.GetDB().WithContext(ctx)
	reports, err := detectConflicts(db, &threadTypeId)
	if err != nil {
		return nil, err
	}
	if len(reports) == 0 {
		return nil, nil
	}
	report := reports[0]

	var record AllocationConflict
	var created bool
	err = db.Transaction(func(tx *gorm.DB) error {
		var open []*AllocationConflict
		err := tx.Where("thread_type_id = ? AND status IN ?", threadTypeId,
			[]ConflictStatus{ConflictStatusPending, ConflictStatusEscalated}).
			Order("id DESC").Limit(1).Find(&open).Error
		if err != nil {
			return utils.SystemError("find open conflict", err)
		}
		if len(open) > 0 {
			record = *open[0]
			record.TotalRequested = report.TotalRequested
			record.TotalAvailable = report.TotalAvailable
			record.Shortage = report.Shortage
			err = tx.Model(&AllocationConflict{}).Where("id = ?", record.ID).Updates(map[string]interface{}{
				"total_requested": report.TotalRequested,
				"total_available": report.TotalAvailable,
				"shortage":        report.Shortage,
			}).Error
			if err != nil {
				return utils.SystemError("refresh conflict", err)
			}
			return nil
		}
		record = AllocationConflict{
			ThreadTypeId:   threadTypeId,
			TotalRequested: report.TotalRequested,
			TotalAvailable: report.TotalAvailable,
			Shortage:       report.Shortage,
			Status:         ConflictStatusPending,
		}
		if err := tx.Create(&record).Error; err != nil {
			return utils.SystemError("create conflict", err)
		}
		created = true
		return nil
	})
	if err != nil {
		return nil, err
	}

	if created {
		metrics.ConflictsRaisedTotal.Inc()
		notify.Dispatch(ctx, notify.Event{
			Type:  notify.TypeConflict,
			Title: fmt.Sprintf("Allocation conflict on thread type %d", threadTypeId),
			Body: fmt.Sprintf("%s meters requested, %s meters in stock, short by %s meters",
				report.TotalRequested.String(), report.TotalAvailable.String(), report.Shortage.String()),
			Metadata: map[string]any{
				"conflict_id":    record.ID,
				"thread_type_id": threadTypeId,
				"shortage":       report.Shortage.String(),
				"allocations":    len(report.CompetingAllocations),
			},
		})
	}
	return &record, nil
}

// ResolveConflict applies one resolution action, then closes the conflict if the shortage is gone.
func ResolveConflict(ctx context.Context, input *ConflictResolution) (*AllocationConflict, error) {
	if err := utils.ValidateInput(input); err != nil {
		return nil, err
	}
	db := config.GetDB().WithContext(ctx)
	record, err := utils.FetchModel[AllocationConflict](db, input.ConflictId)
	if err != nil {
		return nil, err
	}
	if record.Status == ConflictStatusResolved {
		return nil, utils.NewConflictError("conflict is already resolved", fmt.Sprint(record.ID))
	}
	actor := utils.ResolveActor(ctx, input.ResolvedBy)
	notes := strings.TrimSpace(input.Notes)

	switch input.Action {
	case ConflictActionAdjustPriority, ConflictActionCancel, ConflictActionSplit:
		allocation, err := conflictAllocation(db, record, input.AllocationId)
		if err != nil {
			return nil, err
		}
		switch input.Action {
		case ConflictActionAdjustPriority:
			if input.NewPriority == nil {
				return nil, utils.NewValidationError("new priority is required")
			}
			_, err = UpdateAllocationPriority(ctx, allocation.ID, *input.NewPriority)
		case ConflictActionCancel:
			_, err = CancelAllocation(ctx, allocation.ID, actor, notes)
		case ConflictActionSplit:
			if input.SplitMeters == nil {
				return nil, utils.NewValidationError("split meters are required")
			}
			_, _, err = SplitAllocation(ctx, allocation.ID, *input.SplitMeters, actor)
		}
		if err != nil {
			return nil, err
		}
		err = db.Model(&AllocationConflict{}).Where("id = ?", record.ID).Updates(map[string]interface{}{
			"resolution_action": input.Action,
			"resolution_notes":  notes,
		}).Error
		if err != nil {
			return nil, utils.SystemError("update conflict", err)
		}
	case ConflictActionEscalate:
		err = db.Model(&AllocationConflict{}).Where("id = ?", record.ID).Updates(map[string]interface{}{
			"status":            ConflictStatusEscalated,
			"resolution_action": input.Action,
			"resolution_notes":  notes,
		}).Error
		if err != nil {
			return nil, utils.SystemError("escalate conflict", err)
		}
		notify.Dispatch(ctx, notify.Event{
			Type:  notify.TypeConflict,
			Title: fmt.Sprintf("Allocation conflict %d escalated", record.ID),
			Body:  notes,
			Metadata: map[string]any{
				"conflict_id":    record.ID,
				"thread_type_id": record.ThreadTypeId,
				"escalated_by":   actor,
			},
		})
	default:
		return nil, utils.NewValidationError("unknown resolution action", string(input.Action))
	}

	if err := settleConflicts(db, record.ThreadTypeId, input.Action, actor, notes); err != nil {
		return nil, err
	}
	return utils.FetchModel[AllocationConflict](db, record.ID)
}

func conflictAllocation(db *gorm.DB, record *AllocationConflict, allocationId *int) (*Allocation, error) {
	if allocationId == nil {
		return nil, utils.NewValidationError("allocation is required for this action")
	}
	allocation, err := utils.FetchModel[Allocation](db, *allocationId)
	if err != nil {
		return nil, err
	}
	if allocation.ThreadTypeId != record.ThreadTypeId {
		return nil, utils.NewValidationError("allocation is not part of this conflict", fmt.Sprint(allocation.ID))
	}
	return allocation, nil
}

// settleConflicts marks the open records of a thread type RESOLVED once detection no longer
// reports a shortage.
func settleConflicts(db *gorm.DB, threadTypeId int, action ConflictAction, actor string, notes string) error {
	reports, err := detectConflicts(db, &threadTypeId)
	if err != nil {
		return err
	}
	if len(reports) > 0 {
		return nil
	}
	now := time.Now().UTC()
	err = db.Model(&AllocationConflict{}).
		Where("thread_type_id = ? AND status IN ?", threadTypeId, []ConflictStatus{ConflictStatusPending, ConflictStatusEscalated}).
		Updates(map[string]interface{}{
			"status":            ConflictStatusResolved,
			"resolution_action": action,
			"resolution_notes":  notes,
			"resolved_by":       actor,
			"resolved_at":       now,
		}).Error
	if err != nil {
		return utils.SystemError("resolve conflicts", err)
	}
	return nil
}

// settleConflictRecords runs after an allocation change has committed; failures are only logged.
func settleConflictRecords(ctx context.Context, threadTypeId int, action ConflictAction, actor string, notes string) {
	err := settleConflicts(config.GetDB().WithContext(ctx), threadTypeId, action, actor, notes)
	if err != nil {
		config.LogError(config.GetLogger(), "AllocationConflict", "settleConflictRecords", "settle conflicts", threadTypeId, err)
	}
}

func GetConflictRecord(ctx context.Context, id int) (*AllocationConflict, error) {
	return utils.FetchModel[AllocationConflict](config.GetDB().WithContext(ctx), id)
}

func ListConflictRecords(ctx context.Context, filter *ConflictFilter) ([]*AllocationConflict, error) {
	dbCtx := config.GetDB().WithContext(ctx)
	if filter != nil {
		if filter.ThreadTypeId != nil {
			dbCtx = dbCtx.Where("thread_type_id = ?", *filter.ThreadTypeId)
		}
		if filter.Status != nil {
			dbCtx = dbCtx.Where("status = ?", *filter.Status)
		}
	}
	var results []*AllocationConflict
	if err := dbCtx.Order("id DESC").Find(&results).Error; err != nil {
		return nil, utils.SystemError("list conflicts", err)
	}
	return results, nil
}
