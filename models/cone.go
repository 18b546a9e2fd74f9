package models

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"bitbucket.org/mmdatafocus/thread_backend/config"
	"bitbucket.org/mmdatafocus/thread_backend/metrics"
	"bitbucket.org/mmdatafocus/thread_backend/utils"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// Cone is one physical spool of thread and the unit the ledger tracks. Rows are never deleted;
// retired cones end in CONSUMED or WRITTEN_OFF.
type Cone struct {
	ID             int                 `gorm:"primary_key" json:"id"`
	ScanCode       string              `gorm:"size:100;uniqueIndex;not null" json:"scan_code"`
	ThreadTypeId   int                 `gorm:"index;not null" json:"thread_type_id"`
	WarehouseId    int                 `gorm:"index;not null" json:"warehouse_id"`
	LotId          *int                `gorm:"index" json:"lot_id"`
	LotNumber      string              `gorm:"size:100" json:"lot_number"`
	QuantityCones  int                 `gorm:"not null;default:1" json:"quantity_cones"`
	QuantityMeters decimal.Decimal     `gorm:"type:decimal(20,4);not null" json:"quantity_meters"`
	WeightGrams    decimal.NullDecimal `gorm:"type:decimal(20,4)" json:"weight_grams"`
	IsPartial      bool                `gorm:"not null;default:false" json:"is_partial"`
	Status         ConeStatus          `gorm:"size:32;index;not null" json:"status"`
	ExpiryDate     *time.Time          `json:"expiry_date"`
	ReceivedAt     time.Time           `gorm:"index;not null" json:"received_at"`
	Location       string              `gorm:"size:100" json:"location"`
	CreatedAt      time.Time           `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt      time.Time           `gorm:"autoUpdateTime" json:"updated_at"`
}

type NewConeSpec struct {
	ScanCode       string           `json:"scan_code" validate:"required,max=100"`
	QuantityMeters decimal.Decimal  `json:"quantity_meters"`
	WeightGrams    *decimal.Decimal `json:"weight_grams"`
	ExpiryDate     *time.Time       `json:"expiry_date"`
	Location       string           `json:"location"`
}

// ConeReceipt describes cones arriving together at one warehouse.
type ConeReceipt struct {
	ThreadTypeId int           `json:"thread_type_id" validate:"required"`
	WarehouseId  int           `json:"warehouse_id" validate:"required"`
	LotId        *int          `json:"lot_id"`
	LotNumber    string        `json:"lot_number"`
	ReceivedAt   time.Time     `json:"received_at"`
	Cones        []NewConeSpec `json:"cones" validate:"required,min=1,dive"`
}

type ConeFilter struct {
	ThreadTypeId *int        `json:"thread_type_id"`
	WarehouseId  *int        `json:"warehouse_id"`
	LotId        *int        `json:"lot_id"`
	Status       *ConeStatus `json:"status"`
	Limit        int         `json:"limit"`
	Offset       int         `json:"offset"`
}

type AvailabilitySummary struct {
	ThreadTypeId       int             `json:"thread_type_id"`
	ThreadTypeCode     string          `json:"thread_type_code"`
	TotalMeters        decimal.Decimal `json:"total_meters"`
	FullCones          int64           `json:"full_cones"`
	PartialCones       int64           `json:"partial_cones"`
	ReorderLevelMeters decimal.Decimal `json:"reorder_level_meters"`
	BelowReorderLevel  bool            `json:"below_reorder_level"`
}

var errConcurrentConeChange = errors.New("cone status changed concurrently")

// statuses an operator may set directly; the rest belong to allocation and recovery
var manualConeStatuses = []ConeStatus{
	ConeStatusInspected, ConeStatusAvailable, ConeStatusQuarantine, ConeStatusWrittenOff, ConeStatusConsumed,
}

// ReceiveCones inserts new cones in RECEIVED. The whole receipt is rejected if any scan
// code is repeated or already known to the ledger.
func ReceiveCones(tx *gorm.DB, receipt *ConeReceipt) ([]*Cone, error) {
	if err := utils.ValidateInput(receipt); err != nil {
		return nil, err
	}

	codes := make([]string, 0, len(receipt.Cones))
	for i := range receipt.Cones {
		receipt.Cones[i].ScanCode = strings.TrimSpace(receipt.Cones[i].ScanCode)
		if !receipt.Cones[i].QuantityMeters.IsPositive() {
			return nil, utils.NewValidationError("cone length must be positive", receipt.Cones[i].ScanCode)
		}
		codes = append(codes, receipt.Cones[i].ScanCode)
	}
	if dups := utils.Duplicates(codes); len(dups) > 0 {
		return nil, utils.NewConflictError("duplicate scan codes in request", dups...)
	}

	var existing []string
	if err := tx.Model(&Cone{}).Where("scan_code IN ?", codes).Pluck("scan_code", &existing).Error; err != nil {
		return nil, utils.SystemError("check scan codes", err)
	}
	if len(existing) > 0 {
		sort.Strings(existing)
		return nil, utils.NewConflictError("cones already exist", existing...)
	}

	if err := utils.ValidateResourceId[ThreadType](tx, receipt.ThreadTypeId); err != nil {
		return nil, err
	}
	if err := utils.ValidateResourceId[Warehouse](tx, receipt.WarehouseId); err != nil {
		return nil, err
	}
	if receipt.LotId != nil {
		if err := utils.ValidateResourceId[Lot](tx, *receipt.LotId); err != nil {
			return nil, err
		}
	}

	receivedAt := receipt.ReceivedAt
	if receivedAt.IsZero() {
		receivedAt = time.Now().UTC()
	}

	cones := make([]*Cone, 0, len(receipt.Cones))
	for _, spec := range receipt.Cones {
		cone := &Cone{
			ScanCode:       spec.ScanCode,
			ThreadTypeId:   receipt.ThreadTypeId,
			WarehouseId:    receipt.WarehouseId,
			LotId:          receipt.LotId,
			LotNumber:      receipt.LotNumber,
			QuantityCones:  1,
			QuantityMeters: spec.QuantityMeters,
			Status:         ConeStatusReceived,
			ExpiryDate:     spec.ExpiryDate,
			ReceivedAt:     receivedAt,
			Location:       spec.Location,
		}
		if spec.WeightGrams != nil {
			cone.WeightGrams = decimal.NewNullDecimal(*spec.WeightGrams)
		}
		cones = append(cones, cone)
	}

	if err := tx.CreateInBatches(cones, 100).Error; err != nil {
		return nil, utils.SystemError("insert cones", err)
	}
	metrics.ConesReceivedTotal.Add(float64(len(cones)))
	return cones, nil
}

// TransferCones moves cones between warehouses. Every cone must sit in fromWarehouseId in a
// transferable status, otherwise nothing moves and the offenders are reported.
func TransferCones(tx *gorm.DB, coneIds []int, fromWarehouseId int, toWarehouseId int) ([]*Cone, error) {
	if fromWarehouseId == toWarehouseId {
		return nil, utils.NewValidationError("source and destination warehouse must differ")
	}
	if err := utils.ValidateResourceId[Warehouse](tx, fromWarehouseId); err != nil {
		return nil, err
	}
	if err := utils.ValidateResourceId[Warehouse](tx, toWarehouseId); err != nil {
		return nil, err
	}

	cones, err := lockCones(tx, coneIds)
	if err != nil {
		return nil, err
	}

	var offending []int
	for _, cone := range cones {
		if cone.WarehouseId != fromWarehouseId || !containsStatus(transferableConeStatuses, cone.Status) {
			offending = append(offending, cone.ID)
		}
	}
	if len(offending) > 0 {
		return nil, utils.NewConflictError(fmt.Sprintf("%d cones cannot be transferred", len(offending)), utils.IntIds(offending)...)
	}

	ids := coneIdsOf(cones)
	result := tx.Model(&Cone{}).
		Where("id IN ? AND warehouse_id = ? AND status IN ?", ids, fromWarehouseId, transferableConeStatuses).
		Update("warehouse_id", toWarehouseId)
	if result.Error != nil {
		return nil, utils.SystemError("transfer cones", result.Error)
	}
	if result.RowsAffected != int64(len(ids)) {
		return nil, utils.NewConflictError("cones changed during transfer", utils.IntIds(ids)...)
	}
	for _, cone := range cones {
		cone.WarehouseId = toWarehouseId
	}
	return cones, nil
}

// SetConeStatus validates every transition before touching any row, then flips each cone
// with a compare-and-swap on its current status.
func SetConeStatus(tx *gorm.DB, coneIds []int, newStatus ConeStatus) ([]*Cone, error) {
	if !newStatus.IsValid() {
		return nil, utils.NewValidationError("unknown cone status", string(newStatus))
	}
	cones, err := lockCones(tx, coneIds)
	if err != nil {
		return nil, err
	}

	var offending []int
	byStatus := make(map[ConeStatus][]int)
	for _, cone := range cones {
		if !CanTransitionCone(cone.Status, newStatus) {
			offending = append(offending, cone.ID)
			continue
		}
		byStatus[cone.Status] = append(byStatus[cone.Status], cone.ID)
	}
	if len(offending) > 0 {
		return nil, utils.NewConflictError(fmt.Sprintf("illegal cone transition to %s", newStatus), utils.IntIds(offending)...)
	}

	for from, ids := range byStatus {
		result := tx.Model(&Cone{}).Where("id IN ? AND status = ?", ids, from).Update("status", newStatus)
		if result.Error != nil {
			return nil, utils.SystemError("update cone status", result.Error)
		}
		if result.RowsAffected != int64(len(ids)) {
			return nil, &utils.CoreError{
				Kind:        utils.ErrorKindConflict,
				Message:     "cone status changed concurrently",
				Identifiers: utils.IntIds(ids),
				Err:         errConcurrentConeChange,
			}
		}
		metrics.ConeTransitionsTotal.WithLabelValues(string(from), string(newStatus)).Add(float64(len(ids)))
	}
	for _, cone := range cones {
		cone.Status = newStatus
	}
	return cones, nil
}

// AdvanceConeStatus walks every cone through path, one legal step at a time.
func AdvanceConeStatus(tx *gorm.DB, coneIds []int, path ...ConeStatus) ([]*Cone, error) {
	var cones []*Cone
	var err error
	for _, step := range path {
		cones, err = SetConeStatus(tx, coneIds, step)
		if err != nil {
			return nil, err
		}
	}
	return cones, nil
}

// lockCones loads cones FOR UPDATE in id order, failing with the ids that do not exist.
func lockCones(tx *gorm.DB, coneIds []int) ([]*Cone, error) {
	ids := utils.UniqueSlice(coneIds)
	if len(ids) == 0 {
		return nil, utils.NewValidationError("at least one cone is required")
	}
	var cones []*Cone
	err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).
		Where("id IN ?", ids).
		Order("id").
		Find(&cones).Error
	if err != nil {
		return nil, utils.SystemError("load cones", err)
	}
	if len(cones) != len(ids) {
		return nil, utils.NewNotFoundError("Cone", utils.IntIds(utils.MissingIds(ids, coneIdsOf(cones)))...)
	}
	return cones, nil
}

// ListConesForUpdate locks and returns the cones for a caller composing its own ledger change.
func ListConesForUpdate(tx *gorm.DB, coneIds []int) ([]*Cone, error) {
	return lockCones(tx, coneIds)
}

func coneIdsOf(cones []*Cone) []int {
	ids := make([]int, 0, len(cones))
	for _, cone := range cones {
		ids = append(ids, cone.ID)
	}
	return ids
}

func lotIdsOf(cones []*Cone) []int {
	var ids []int
	for _, cone := range cones {
		if cone.LotId != nil {
			ids = append(ids, *cone.LotId)
		}
	}
	return utils.UniqueSlice(ids)
}

func threadTypeIdsOf(cones []*Cone) []int {
	ids := make([]int, 0, len(cones))
	for _, cone := range cones {
		ids = append(ids, cone.ThreadTypeId)
	}
	return utils.UniqueSlice(ids)
}

// HeldConeIds returns which of coneIds are reserved by an allocation that is still active.
func HeldConeIds(tx *gorm.DB, coneIds []int) ([]int, error) {
	var held []int
	err := tx.Model(&AllocationConeLink{}).
		Joins("JOIN allocations ON allocations.id = allocation_cone_links.allocation_id").
		Where("allocation_cone_links.cone_id IN ? AND allocations.status IN ?", coneIds, activeAllocationStatuses).
		Pluck("allocation_cone_links.cone_id", &held).Error
	if err != nil {
		return nil, utils.SystemError("check reserved cones", err)
	}
	held = utils.UniqueSlice(held)
	sort.Ints(held)
	return held, nil
}

// ChangeConeStatus applies an operator-driven status change (inspect, shelve, quarantine,
// consume, write off) and recomputes the affected lots.
func ChangeConeStatus(ctx context.Context, coneIds []int, newStatus ConeStatus) ([]*Cone, error) {
	if !containsStatus(manualConeStatuses, newStatus) {
		return nil, utils.NewValidationError("status cannot be set manually", string(newStatus))
	}

	var cones []*Cone
	db := config.GetDB()
	err := db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		held, err := HeldConeIds(tx, coneIds)
		if err != nil {
			return err
		}
		if len(held) > 0 {
			return utils.NewConflictError("cones are reserved by an active allocation", utils.IntIds(held)...)
		}
		recovering, err := RecoveringConeIds(tx, coneIds)
		if err != nil {
			return err
		}
		if len(recovering) > 0 {
			return utils.NewConflictError("cones are being recovered, finish the recovery instead", utils.IntIds(recovering)...)
		}
		cones, err = SetConeStatus(tx, coneIds, newStatus)
		if err != nil {
			return err
		}
		return RecomputeLotCounts(tx, lotIdsOf(cones)...)
	})
	if err != nil {
		return nil, err
	}
	if newStatus == ConeStatusWrittenOff || newStatus == ConeStatusQuarantine || newStatus == ConeStatusConsumed {
		CheckLowStock(ctx, threadTypeIdsOf(cones)...)
	}
	return cones, nil
}

// ShelveCones makes received or inspected cones AVAILABLE, inspecting them first when needed.
func ShelveCones(ctx context.Context, coneIds []int) ([]*Cone, error) {
	var cones []*Cone
	db := config.GetDB()
	err := db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		current, err := lockCones(tx, coneIds)
		if err != nil {
			return err
		}
		var received, offending []int
		for _, cone := range current {
			switch cone.Status {
			case ConeStatusReceived:
				received = append(received, cone.ID)
			case ConeStatusInspected:
			default:
				offending = append(offending, cone.ID)
			}
		}
		if len(offending) > 0 {
			return utils.NewConflictError("only received or inspected cones can be shelved", utils.IntIds(offending)...)
		}
		if len(received) > 0 {
			if _, err := SetConeStatus(tx, received, ConeStatusInspected); err != nil {
				return err
			}
		}
		cones, err = SetConeStatus(tx, coneIdsOf(current), ConeStatusAvailable)
		if err != nil {
			return err
		}
		return RecomputeLotCounts(tx, lotIdsOf(cones)...)
	})
	if err != nil {
		return nil, err
	}
	return cones, nil
}

func GetCone(ctx context.Context, id int) (*Cone, error) {
	return utils.FetchModel[Cone](config.GetDB().WithContext(ctx), id)
}

func GetConeByScanCode(ctx context.Context, scanCode string) (*Cone, error) {
	return findConeByScanCode(config.GetDB().WithContext(ctx), scanCode)
}

func findConeByScanCode(db *gorm.DB, scanCode string) (*Cone, error) {
	code := strings.TrimSpace(scanCode)
	if code == "" {
		return nil, utils.NewValidationError("scan code is required")
	}
	var cones []*Cone
	if err := db.Where("scan_code = ?", code).Limit(1).Find(&cones).Error; err != nil {
		return nil, utils.SystemError("find cone", err)
	}
	if len(cones) == 0 {
		return nil, utils.NewNotFoundError("Cone", code)
	}
	return cones[0], nil
}

func ListCones(ctx context.Context, filter *ConeFilter) ([]*Cone, error) {
	dbCtx := config.GetDB().WithContext(ctx)
	if filter != nil {
		if filter.ThreadTypeId != nil {
			dbCtx = dbCtx.Where("thread_type_id = ?", *filter.ThreadTypeId)
		}
		if filter.WarehouseId != nil {
			dbCtx = dbCtx.Where("warehouse_id = ?", *filter.WarehouseId)
		}
		if filter.LotId != nil {
			dbCtx = dbCtx.Where("lot_id = ?", *filter.LotId)
		}
		if filter.Status != nil {
			dbCtx = dbCtx.Where("status = ?", *filter.Status)
		}
		if filter.Limit > 0 {
			dbCtx = dbCtx.Limit(filter.Limit).Offset(filter.Offset)
		}
	}
	var results []*Cone
	if err := dbCtx.Order("id").Find(&results).Error; err != nil {
		return nil, utils.SystemError("list cones", err)
	}
	return results, nil
}

// GetAvailabilitySummary totals AVAILABLE stock per thread type; types without stock report zero.
func GetAvailabilitySummary(ctx context.Context, threadTypeId *int) ([]*AvailabilitySummary, error) {
	return availabilitySummary(config.GetDB().WithContext(ctx), threadTypeId)
}

func availabilitySummary(db *gorm.DB, threadTypeId *int) ([]*AvailabilitySummary, error) {
	var threadTypes []*ThreadType
	typeQuery := db.Model(&ThreadType{})
	if threadTypeId != nil {
		typeQuery = typeQuery.Where("id = ?", *threadTypeId)
	}
	if err := typeQuery.Order("id").Find(&threadTypes).Error; err != nil {
		return nil, utils.SystemError("list thread types", err)
	}
	if threadTypeId != nil && len(threadTypes) == 0 {
		return nil, utils.NewNotFoundError("ThreadType", fmt.Sprint(*threadTypeId))
	}

	type row struct {
		ThreadTypeId int
		TotalMeters  decimal.Decimal
		FullCones    int64
		PartialCones int64
	}
	var rows []row
	aggQuery := db.Model(&Cone{}).
		Select("thread_type_id, COALESCE(SUM(quantity_meters), 0) AS total_meters, "+
			"COALESCE(SUM(CASE WHEN is_partial = ? THEN 0 ELSE 1 END), 0) AS full_cones, "+
			"COALESCE(SUM(CASE WHEN is_partial = ? THEN 1 ELSE 0 END), 0) AS partial_cones", true, true).
		Where("status = ?", ConeStatusAvailable).
		Group("thread_type_id")
	if threadTypeId != nil {
		aggQuery = aggQuery.Where("thread_type_id = ?", *threadTypeId)
	}
	if err := aggQuery.Scan(&rows).Error; err != nil {
		return nil, utils.SystemError("summarize availability", err)
	}
	byType := make(map[int]row, len(rows))
	for _, r := range rows {
		byType[r.ThreadTypeId] = r
	}

	results := make([]*AvailabilitySummary, 0, len(threadTypes))
	for _, t := range threadTypes {
		r := byType[t.ID]
		summary := &AvailabilitySummary{
			ThreadTypeId:       t.ID,
			ThreadTypeCode:     t.Code,
			TotalMeters:        r.TotalMeters,
			FullCones:          r.FullCones,
			PartialCones:       r.PartialCones,
			ReorderLevelMeters: t.ReorderLevelMeters,
		}
		summary.BelowReorderLevel = t.ReorderLevelMeters.IsPositive() && summary.TotalMeters.LessThan(t.ReorderLevelMeters)
		results = append(results, summary)
	}
	return results, nil
}
