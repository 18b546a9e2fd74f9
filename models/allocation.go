package models

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"bitbucket.org/mmdatafocus/thread_backend/config"
	"bitbucket.org/mmdatafocus/thread_backend/metrics"
	"bitbucket.org/mmdatafocus/thread_backend/notify"
	"bitbucket.org/mmdatafocus/thread_backend/utils"
	"github.com/shopspring/decimal"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

var tracer = otel.Tracer("bitbucket.org/mmdatafocus/thread_backend/models")

// a reservation that loses a cone to a concurrent writer starts over this many times
const maxReservationAttempts = 3

// Allocation reserves thread length of one thread type for an order, or for a warehouse
// request when RequestingWarehouseId is set.
type Allocation struct {
	ID                    int                   `gorm:"primary_key" json:"id"`
	OrderId               string                `gorm:"size:100;index;not null" json:"order_id"`
	OrderReference        string                `gorm:"size:255" json:"order_reference"`
	ThreadTypeId          int                   `gorm:"index;not null" json:"thread_type_id"`
	RequestedMeters       decimal.Decimal       `gorm:"type:decimal(20,4);not null" json:"requested_meters"`
	AllocatedMeters       decimal.Decimal       `gorm:"type:decimal(20,4);not null;default:0" json:"allocated_meters"`
	Status                AllocationStatus      `gorm:"size:32;index;not null" json:"status"`
	Priority              AllocationPriority    `gorm:"size:16;not null" json:"priority"`
	PriorityScore         int                   `gorm:"index;not null" json:"priority_score"`
	RequestedDate         time.Time             `gorm:"index;not null" json:"requested_date"`
	DueDate               *time.Time            `json:"due_date"`
	Notes                 string                `gorm:"type:text" json:"notes"`
	CreatedBy             string                `gorm:"size:100" json:"created_by"`
	SplitFromId           *int                  `gorm:"index" json:"split_from_id"`
	RequestingWarehouseId *int                  `gorm:"index" json:"requesting_warehouse_id"`
	SourceWarehouseId     *int                  `json:"source_warehouse_id"`
	RequestedBy           string                `gorm:"size:100" json:"requested_by"`
	ApprovedBy            string                `gorm:"size:100" json:"approved_by"`
	ApprovedAt            *time.Time            `json:"approved_at"`
	RejectionReason       string                `gorm:"type:text" json:"rejection_reason"`
	ReceivedBy            string                `gorm:"size:100" json:"received_by"`
	ReceivedAt            *time.Time            `json:"received_at"`
	IssuedBy              string                `gorm:"size:100" json:"issued_by"`
	IssuedAt              *time.Time            `json:"issued_at"`
	CancelledBy           string                `gorm:"size:100" json:"cancelled_by"`
	CancelledAt           *time.Time            `json:"cancelled_at"`
	Links                 []*AllocationConeLink `gorm:"foreignKey:AllocationId" json:"links,omitempty"`
	CreatedAt             time.Time             `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt             time.Time             `gorm:"autoUpdateTime" json:"updated_at"`
}

// AllocationConeLink records how much of one cone's length is reserved for an allocation.
type AllocationConeLink struct {
	ID              int             `gorm:"primary_key" json:"id"`
	AllocationId    int             `gorm:"index;not null" json:"allocation_id"`
	ConeId          int             `gorm:"index;not null" json:"cone_id"`
	AllocatedMeters decimal.Decimal `gorm:"type:decimal(20,4);not null" json:"allocated_meters"`
	CreatedAt       time.Time       `gorm:"autoCreateTime" json:"created_at"`
}

type NewAllocation struct {
	OrderId               string             `json:"order_id" validate:"required,max=100"`
	OrderReference        string             `json:"order_reference"`
	ThreadTypeId          int                `json:"thread_type_id" validate:"required"`
	RequestedMeters       decimal.Decimal    `json:"requested_meters"`
	Priority              AllocationPriority `json:"priority"`
	RequestedDate         *time.Time         `json:"requested_date"`
	DueDate               *time.Time         `json:"due_date"`
	Notes                 string             `json:"notes"`
	CreatedBy             string             `json:"created_by"`
	RequestingWarehouseId *int               `json:"requesting_warehouse_id"`
	SourceWarehouseId     *int               `json:"source_warehouse_id"`
	RequestedBy           string             `json:"requested_by"`
}

type AllocationFilter struct {
	OrderId      *string             `json:"order_id"`
	ThreadTypeId *int                `json:"thread_type_id"`
	Status       *AllocationStatus   `json:"status"`
	Priority     *AllocationPriority `json:"priority"`
	RequestsOnly bool                `json:"requests_only"`
}

// ExecutionResult reports what a reservation achieved. A shortfall is not an error: the
// allocation stays partially filled or WAITLISTED and a conflict is raised.
type ExecutionResult struct {
	Allocation      *Allocation         `json:"allocation"`
	ReservedMeters  decimal.Decimal     `json:"reserved_meters"`
	ShortfallMeters decimal.Decimal     `json:"shortfall_meters"`
	Conflict        *AllocationConflict `json:"conflict,omitempty"`
}

func (a *Allocation) IsRequest() bool {
	return a.RequestingWarehouseId != nil
}

func (a *Allocation) outstandingMeters() decimal.Decimal {
	return a.RequestedMeters.Sub(a.AllocatedMeters)
}

func (input *NewAllocation) validate(db *gorm.DB) error {
	input.OrderId = strings.TrimSpace(input.OrderId)
	if err := utils.ValidateInput(input); err != nil {
		return err
	}
	if !input.RequestedMeters.IsPositive() {
		return utils.NewValidationError("requested meters must be positive")
	}
	if input.Priority == "" {
		input.Priority = AllocationPriorityNormal
	}
	if !input.Priority.IsValid() {
		return utils.NewValidationError("unknown priority", string(input.Priority))
	}
	if err := utils.ValidateResourceId[ThreadType](db, input.ThreadTypeId); err != nil {
		return err
	}
	if (input.RequestingWarehouseId == nil) != (input.SourceWarehouseId == nil) {
		return utils.NewValidationError("a request needs both requesting and source warehouse")
	}
	if input.RequestingWarehouseId != nil {
		if *input.RequestingWarehouseId == *input.SourceWarehouseId {
			return utils.NewValidationError("requesting and source warehouse must differ")
		}
		if err := utils.ValidateResourcesId[Warehouse](db, []int{*input.RequestingWarehouseId, *input.SourceWarehouseId}); err != nil {
			return err
		}
	}
	return nil
}

func CreateAllocation(ctx context.Context, input *NewAllocation) (*Allocation, error) {
	db := config.GetDB().WithContext(ctx)
	if err := input.validate(db); err != nil {
		return nil, err
	}

	requestedDate := time.Now().UTC()
	if input.RequestedDate != nil {
		requestedDate = *input.RequestedDate
	}
	createdBy := utils.ResolveActor(ctx, input.CreatedBy)

	allocation := Allocation{
		OrderId:               input.OrderId,
		OrderReference:        input.OrderReference,
		ThreadTypeId:          input.ThreadTypeId,
		RequestedMeters:       input.RequestedMeters,
		AllocatedMeters:       decimal.Zero,
		Status:                AllocationStatusPending,
		Priority:              input.Priority,
		PriorityScore:         input.Priority.Score(),
		RequestedDate:         requestedDate,
		DueDate:               input.DueDate,
		Notes:                 input.Notes,
		CreatedBy:             createdBy,
		RequestingWarehouseId: input.RequestingWarehouseId,
		SourceWarehouseId:     input.SourceWarehouseId,
	}
	if allocation.IsRequest() {
		allocation.RequestedBy = utils.ResolveActor(ctx, input.RequestedBy)
		if allocation.RequestedBy == "" {
			allocation.RequestedBy = createdBy
		}
	}

	if err := db.Create(&allocation).Error; err != nil {
		metrics.RecordAllocationOperation("create", err)
		return nil, utils.SystemError("create allocation", err)
	}
	metrics.RecordAllocationOperation("create", nil)
	return &allocation, nil
}

// ExecuteAllocation soft-reserves AVAILABLE cones, earliest received first, until the
// outstanding length is covered or supply runs out.
func ExecuteAllocation(ctx context.Context, id int) (*ExecutionResult, error) {
	ctx, span := tracer.Start(ctx, "allocation.execute", trace.WithAttributes(attribute.Int("allocation.id", id)))
	defer span.End()

	result, err := runReservation(ctx, id, "execute", AllocationStatusSoft)
	metrics.RecordAllocationOperation("execute", err)
	if err != nil {
		span.RecordError(err)
	}
	return result, err
}

// ExecutePendingAllocations serves every PENDING or WAITLISTED direct allocation of a thread
// type, highest priority first, then earliest requested, then lowest id.
func ExecutePendingAllocations(ctx context.Context, threadTypeId int) ([]*ExecutionResult, error) {
	db := config.GetDB().WithContext(ctx)
	if err := utils.ValidateResourceId[ThreadType](db, threadTypeId); err != nil {
		return nil, err
	}

	var queue []*Allocation
	err := db.Where("thread_type_id = ? AND status IN ? AND requesting_warehouse_id IS NULL", threadTypeId,
		[]AllocationStatus{AllocationStatusPending, AllocationStatusWaitlisted}).
		Scopes(tieBreakOrder).
		Find(&queue).Error
	if err != nil {
		return nil, utils.SystemError("list pending allocations", err)
	}

	results := make([]*ExecutionResult, 0, len(queue))
	for _, allocation := range queue {
		result, err := ExecuteAllocation(ctx, allocation.ID)
		if err != nil {
			return results, err
		}
		results = append(results, result)
	}
	return results, nil
}

// runReservation wraps reserveOnce with the thread type lock, the retry loop and the
// post-commit side effects.
func runReservation(ctx context.Context, id int, operation string, target AllocationStatus) (*ExecutionResult, error) {
	start := time.Now()
	defer metrics.ObserveReservation(operation, start)

	db := config.GetDB().WithContext(ctx)
	allocation, err := utils.FetchModel[Allocation](db, id)
	if err != nil {
		return nil, err
	}

	release := utils.ThreadTypeLock(ctx, allocation.ThreadTypeId, "Allocation", operation)
	defer release()

	var result *ExecutionResult
	for attempt := 1; ; attempt++ {
		result, err = reserveOnce(ctx, id, target)
		if err != nil && errors.Is(err, errConcurrentConeChange) && attempt < maxReservationAttempts {
			metrics.ReservationRetriesTotal.Inc()
			continue
		}
		break
	}
	if err != nil {
		return nil, err
	}

	if result.ShortfallMeters.IsPositive() {
		conflict, cerr := raiseConflict(ctx, allocation.ThreadTypeId)
		if cerr != nil {
			config.LogError(config.GetLogger(), "Allocation", operation, "raise conflict", id, cerr)
		}
		result.Conflict = conflict
	}
	notifyAllocation(ctx, result.Allocation, operation)
	CheckLowStock(ctx, allocation.ThreadTypeId)
	return result, nil
}

func reserveOnce(ctx context.Context, id int, target AllocationStatus) (*ExecutionResult, error) {
	var result *ExecutionResult
	db := config.GetDB()
	err := db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		allocation, err := utils.FetchModelForUpdate[Allocation](tx, id)
		if err != nil {
			return err
		}
		if allocation.Status == target {
			// topping up a partially filled reservation
			if !allocation.outstandingMeters().IsPositive() {
				return utils.NewValidationError("allocation is already fully reserved", fmt.Sprint(id))
			}
		} else if err := allocation.checkTransition(target); err != nil {
			return err
		}

		cones, reserved, err := reserveCones(tx, allocation)
		if err != nil {
			return err
		}

		allocated := allocation.AllocatedMeters.Add(reserved)
		shortfall := allocation.RequestedMeters.Sub(allocated)
		if shortfall.IsPositive() {
			if config.StrictAllocationSupply() {
				return utils.NewInsufficientSupplyError(
					fmt.Sprintf("only %s of %s meters available", allocated.String(), allocation.RequestedMeters.String()), fmt.Sprint(id))
			}
			if allocated.IsZero() && target != AllocationStatusSoft {
				return utils.NewInsufficientSupplyError("no cones available in source warehouse", fmt.Sprint(id))
			}
		}

		status := target
		if allocated.IsZero() {
			status = AllocationStatusWaitlisted
		}
		err = tx.Model(&Allocation{}).Where("id = ?", id).Updates(map[string]interface{}{
			"allocated_meters": allocated,
			"status":           status,
		}).Error
		if err != nil {
			return utils.SystemError("update allocation", err)
		}
		if err := RecomputeLotCounts(tx, lotIdsOf(cones)...); err != nil {
			return err
		}

		allocation.AllocatedMeters = allocated
		allocation.Status = status
		allocation.Links, err = allocationLinks(tx, id)
		if err != nil {
			return err
		}
		result = &ExecutionResult{
			Allocation:      allocation,
			ReservedMeters:  reserved,
			ShortfallMeters: decimal.Max(shortfall, decimal.Zero),
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return result, nil
}

// reserveCones picks AVAILABLE cones for the outstanding length and flips them to
// SOFT_ALLOCATED. The last cone may cover only part of its length.
func reserveCones(tx *gorm.DB, allocation *Allocation) ([]*Cone, decimal.Decimal, error) {
	outstanding := allocation.outstandingMeters()
	if !outstanding.IsPositive() {
		return nil, decimal.Zero, nil
	}

	query := tx.Clauses(clause.Locking{Strength: "UPDATE"}).
		Where("thread_type_id = ? AND status = ?", allocation.ThreadTypeId, ConeStatusAvailable)
	if allocation.SourceWarehouseId != nil {
		query = query.Where("warehouse_id = ?", *allocation.SourceWarehouseId)
	}
	var candidates []*Cone
	if err := query.Order("received_at ASC, id ASC").Find(&candidates).Error; err != nil {
		return nil, decimal.Zero, utils.SystemError("select cones", err)
	}

	var picked []*Cone
	var links []*AllocationConeLink
	reserved := decimal.Zero
	for _, cone := range candidates {
		if !outstanding.IsPositive() {
			break
		}
		take := utils.MinDecimal(cone.QuantityMeters, outstanding)
		links = append(links, &AllocationConeLink{
			AllocationId:    allocation.ID,
			ConeId:          cone.ID,
			AllocatedMeters: take,
		})
		picked = append(picked, cone)
		outstanding = outstanding.Sub(take)
		reserved = reserved.Add(take)
	}
	if len(picked) == 0 {
		return nil, decimal.Zero, nil
	}

	if _, err := SetConeStatus(tx, coneIdsOf(picked), ConeStatusSoftAllocated); err != nil {
		return nil, decimal.Zero, err
	}
	if err := tx.Create(&links).Error; err != nil {
		return nil, decimal.Zero, utils.SystemError("link cones", err)
	}
	return picked, reserved, nil
}

// releaseAllocationCones puts every linked cone back to AVAILABLE and drops the links.
func releaseAllocationCones(tx *gorm.DB, allocationId int) ([]*Cone, error) {
	links, err := allocationLinks(tx, allocationId)
	if err != nil {
		return nil, err
	}
	if len(links) == 0 {
		return nil, nil
	}
	cones, err := SetConeStatus(tx, linkConeIds(links), ConeStatusAvailable)
	if err != nil {
		return nil, err
	}
	if err := tx.Where("allocation_id = ?", allocationId).Delete(&AllocationConeLink{}).Error; err != nil {
		return nil, utils.SystemError("delete allocation links", err)
	}
	return cones, nil
}

func allocationLinks(tx *gorm.DB, allocationId int) ([]*AllocationConeLink, error) {
	var links []*AllocationConeLink
	if err := tx.Where("allocation_id = ?", allocationId).Order("id").Find(&links).Error; err != nil {
		return nil, utils.SystemError("load allocation links", err)
	}
	return links, nil
}

func linkConeIds(links []*AllocationConeLink) []int {
	ids := make([]int, 0, len(links))
	for _, link := range links {
		ids = append(ids, link.ConeId)
	}
	return ids
}

// HardAllocate promotes a soft reservation so its cones are committed to the order.
func HardAllocate(ctx context.Context, id int) (*Allocation, error) {
	ctx, span := tracer.Start(ctx, "allocation.hard_allocate", trace.WithAttributes(attribute.Int("allocation.id", id)))
	defer span.End()

	var allocation *Allocation
	db := config.GetDB()
	err := db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var err error
		allocation, err = utils.FetchModelForUpdate[Allocation](tx, id)
		if err != nil {
			return err
		}
		if err := allocation.checkTransition(AllocationStatusHard); err != nil {
			return err
		}
		links, err := allocationLinks(tx, id)
		if err != nil {
			return err
		}
		if len(links) == 0 {
			return utils.NewValidationError("allocation holds no cones", fmt.Sprint(id))
		}
		if _, err := SetConeStatus(tx, linkConeIds(links), ConeStatusHardAllocated); err != nil {
			return err
		}
		if err := tx.Model(&Allocation{}).Where("id = ?", id).Update("status", AllocationStatusHard).Error; err != nil {
			return utils.SystemError("update allocation", err)
		}
		allocation.Status = AllocationStatusHard
		allocation.Links = links
		return nil
	})
	metrics.RecordAllocationOperation("hard_allocate", err)
	if err != nil {
		return nil, err
	}
	return allocation, nil
}

// IssueAllocation hands the reserved cones to production.
func IssueAllocation(ctx context.Context, id int, issuedBy string) (*Allocation, error) {
	ctx, span := tracer.Start(ctx, "allocation.issue", trace.WithAttributes(attribute.Int("allocation.id", id)))
	defer span.End()

	actor := utils.ResolveActor(ctx, issuedBy)
	var allocation *Allocation
	db := config.GetDB()
	err := db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var err error
		allocation, err = utils.FetchModelForUpdate[Allocation](tx, id)
		if err != nil {
			return err
		}
		if err := allocation.checkTransition(AllocationStatusIssued); err != nil {
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
			"status":    AllocationStatusIssued,
			"issued_by": actor,
			"issued_at": now,
		}).Error
		if err != nil {
			return utils.SystemError("update allocation", err)
		}
		if err := RecomputeLotCounts(tx, lotIdsOf(cones)...); err != nil {
			return err
		}
		allocation.Status = AllocationStatusIssued
		allocation.IssuedBy = actor
		allocation.IssuedAt = &now
		allocation.Links = links
		return nil
	})
	metrics.RecordAllocationOperation("issue", err)
	if err != nil {
		span.RecordError(err)
		return nil, err
	}
	notifyAllocation(ctx, allocation, "issue")
	return allocation, nil
}

// moveConesToProduction walks soft cones through HARD_ALLOCATED and puts all of them IN_PRODUCTION.
func moveConesToProduction(tx *gorm.DB, coneIds []int) ([]*Cone, error) {
	cones, err := lockCones(tx, coneIds)
	if err != nil {
		return nil, err
	}
	var soft []int
	for _, cone := range cones {
		if cone.Status == ConeStatusSoftAllocated {
			soft = append(soft, cone.ID)
		}
	}
	if len(soft) > 0 {
		if _, err := SetConeStatus(tx, soft, ConeStatusHardAllocated); err != nil {
			return nil, err
		}
	}
	return SetConeStatus(tx, coneIds, ConeStatusInProduction)
}

// CancelAllocation releases every linked cone. Cancelling a cancelled allocation is a no-op.
func CancelAllocation(ctx context.Context, id int, cancelledBy string, reason string) (*Allocation, error) {
	ctx, span := tracer.Start(ctx, "allocation.cancel", trace.WithAttributes(attribute.Int("allocation.id", id)))
	defer span.End()

	actor := utils.ResolveActor(ctx, cancelledBy)
	var allocation *Allocation
	var alreadyCancelled bool
	db := config.GetDB()
	err := db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var err error
		allocation, err = utils.FetchModelForUpdate[Allocation](tx, id)
		if err != nil {
			return err
		}
		if allocation.Status == AllocationStatusCancelled {
			alreadyCancelled = true
			return nil
		}
		if err := allocation.checkTransition(AllocationStatusCancelled); err != nil {
			return err
		}

		cones, err := releaseAllocationCones(tx, id)
		if err != nil {
			return err
		}

		now := time.Now().UTC()
		updates := map[string]interface{}{
			"status":           AllocationStatusCancelled,
			"allocated_meters": decimal.Zero,
			"cancelled_by":     actor,
			"cancelled_at":     now,
		}
		if strings.TrimSpace(reason) != "" {
			updates["notes"] = appendNote(allocation.Notes, "cancelled: "+strings.TrimSpace(reason))
		}
		if err := tx.Model(&Allocation{}).Where("id = ?", id).Updates(updates).Error; err != nil {
			return utils.SystemError("update allocation", err)
		}
		if err := RecomputeLotCounts(tx, lotIdsOf(cones)...); err != nil {
			return err
		}
		allocation, err = utils.FetchModel[Allocation](tx, id)
		return err
	})
	metrics.RecordAllocationOperation("cancel", err)
	if err != nil {
		return nil, err
	}
	if !alreadyCancelled {
		settleConflictRecords(ctx, allocation.ThreadTypeId, ConflictActionCancel, actor, fmt.Sprintf("allocation %d cancelled", id))
	}
	return allocation, nil
}

// SplitAllocation moves splitMeters of a reservation into a new PENDING allocation. Both
// halves release their cones and wait to be executed again; their requested lengths add up
// to the original request.
func SplitAllocation(ctx context.Context, id int, splitMeters decimal.Decimal, splitBy string) (*Allocation, *Allocation, error) {
	ctx, span := tracer.Start(ctx, "allocation.split", trace.WithAttributes(attribute.Int("allocation.id", id)))
	defer span.End()

	actor := utils.ResolveActor(ctx, splitBy)
	var original, split *Allocation
	db := config.GetDB()
	err := db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var err error
		original, err = utils.FetchModelForUpdate[Allocation](tx, id)
		if err != nil {
			return err
		}
		if !splitMeters.IsPositive() || !splitMeters.LessThan(original.AllocatedMeters) {
			return utils.NewValidationError(
				fmt.Sprintf("split must be between 0 and %s meters", original.AllocatedMeters.String()), fmt.Sprint(id))
		}
		if err := original.checkTransition(AllocationStatusPending); err != nil {
			return err
		}

		cones, err := releaseAllocationCones(tx, id)
		if err != nil {
			return err
		}

		remaining := original.RequestedMeters.Sub(splitMeters)
		err = tx.Model(&Allocation{}).Where("id = ?", id).Updates(map[string]interface{}{
			"requested_meters": remaining,
			"allocated_meters": decimal.Zero,
			"status":           AllocationStatusPending,
		}).Error
		if err != nil {
			return utils.SystemError("update allocation", err)
		}

		splitFrom := original.ID
		split = &Allocation{
			OrderId:         original.OrderId,
			OrderReference:  original.OrderReference,
			ThreadTypeId:    original.ThreadTypeId,
			RequestedMeters: splitMeters,
			AllocatedMeters: decimal.Zero,
			Status:          AllocationStatusPending,
			Priority:        original.Priority,
			PriorityScore:   original.PriorityScore,
			RequestedDate:   original.RequestedDate,
			DueDate:         original.DueDate,
			Notes:           fmt.Sprintf("split from allocation %d", original.ID),
			CreatedBy:       actor,
			SplitFromId:     &splitFrom,
		}
		if err := tx.Create(split).Error; err != nil {
			return utils.SystemError("create split allocation", err)
		}
		if err := RecomputeLotCounts(tx, lotIdsOf(cones)...); err != nil {
			return err
		}
		original, err = utils.FetchModel[Allocation](tx, id)
		return err
	})
	metrics.RecordAllocationOperation("split", err)
	if err != nil {
		return nil, nil, err
	}
	settleConflictRecords(ctx, original.ThreadTypeId, ConflictActionSplit, actor, fmt.Sprintf("allocation %d split", id))
	return original, split, nil
}

// UpdateAllocationPriority changes the tie-break order used on the next execute.
func UpdateAllocationPriority(ctx context.Context, id int, priority AllocationPriority) (*Allocation, error) {
	if !priority.IsValid() {
		return nil, utils.NewValidationError("unknown priority", string(priority))
	}
	var allocation *Allocation
	db := config.GetDB()
	err := db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var err error
		allocation, err = utils.FetchModelForUpdate[Allocation](tx, id)
		if err != nil {
			return err
		}
		if allocation.Status.IsTerminal() {
			return utils.NewConflictError("allocation is closed", fmt.Sprint(id))
		}
		err = tx.Model(&Allocation{}).Where("id = ?", id).Updates(map[string]interface{}{
			"priority":       priority,
			"priority_score": priority.Score(),
		}).Error
		if err != nil {
			return utils.SystemError("update allocation priority", err)
		}
		allocation.Priority = priority
		allocation.PriorityScore = priority.Score()
		return nil
	})
	metrics.RecordAllocationOperation("adjust_priority", err)
	if err != nil {
		return nil, err
	}
	return allocation, nil
}

func GetAllocation(ctx context.Context, id int) (*Allocation, error) {
	return utils.FetchModel[Allocation](config.GetDB().WithContext(ctx), id, "Links")
}

func ListAllocations(ctx context.Context, filter *AllocationFilter) ([]*Allocation, error) {
	dbCtx := config.GetDB().WithContext(ctx)
	if filter != nil {
		if filter.OrderId != nil {
			dbCtx = dbCtx.Where("order_id = ?", *filter.OrderId)
		}
		if filter.ThreadTypeId != nil {
			dbCtx = dbCtx.Where("thread_type_id = ?", *filter.ThreadTypeId)
		}
		if filter.Status != nil {
			dbCtx = dbCtx.Where("status = ?", *filter.Status)
		}
		if filter.Priority != nil {
			dbCtx = dbCtx.Where("priority = ?", *filter.Priority)
		}
		if filter.RequestsOnly {
			dbCtx = dbCtx.Where("requesting_warehouse_id IS NOT NULL")
		}
	}
	var results []*Allocation
	if err := dbCtx.Scopes(tieBreakOrder).Find(&results).Error; err != nil {
		return nil, utils.SystemError("list allocations", err)
	}
	return results, nil
}

// tieBreakOrder: higher priority, then earlier requested date, then lower id.
func tieBreakOrder(db *gorm.DB) *gorm.DB {
	return db.Order("priority_score DESC").Order("requested_date ASC").Order("id ASC")
}

func appendNote(notes string, note string) string {
	if strings.TrimSpace(notes) == "" {
		return note
	}
	return notes + "\n" + note
}

func notifyAllocation(ctx context.Context, allocation *Allocation, operation string) {
	if allocation == nil {
		return
	}
	notify.Dispatch(ctx, notify.Event{
		Type:  notify.TypeAllocation,
		Title: fmt.Sprintf("Allocation %d for order %s is %s", allocation.ID, allocation.OrderId, allocation.Status),
		Body: fmt.Sprintf("%s: %s of %s meters reserved", operation,
			allocation.AllocatedMeters.String(), allocation.RequestedMeters.String()),
		Metadata: map[string]any{
			"allocation_id":  allocation.ID,
			"order_id":       allocation.OrderId,
			"thread_type_id": allocation.ThreadTypeId,
			"status":         allocation.Status,
			"operation":      operation,
		},
	})
}
