package workflow

import (
	"context"
	"fmt"
	"strings"
	"time"

	"bitbucket.org/mmdatafocus/thread_backend/config"
	"bitbucket.org/mmdatafocus/thread_backend/metrics"
	"bitbucket.org/mmdatafocus/thread_backend/models"
	"bitbucket.org/mmdatafocus/thread_backend/notify"
	"bitbucket.org/mmdatafocus/thread_backend/utils"
	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"
	"gorm.io/gorm"
)

// MaxBatchSize bounds every bulk call.
const MaxBatchSize = 500

type BatchReceiveCone struct {
	ScanCode       string           `json:"scan_code" validate:"required,max=100"`
	QuantityMeters *decimal.Decimal `json:"quantity_meters"`
	WeightGrams    *decimal.Decimal `json:"weight_grams"`
	ExpiryDate     *time.Time       `json:"expiry_date"`
	Location       string           `json:"location"`
}

type BatchReceiveInput struct {
	ThreadTypeId    int                `json:"thread_type_id" validate:"required"`
	WarehouseId     int                `json:"warehouse_id" validate:"required"`
	LotNumber       string             `json:"lot_number"`
	ProductionDate  *time.Time         `json:"production_date"`
	ExpiryDate      *time.Time         `json:"expiry_date"`
	Supplier        string             `json:"supplier"`
	MetersPerCone   *decimal.Decimal   `json:"meters_per_cone"`
	Cones           []BatchReceiveCone `json:"cones" validate:"required,min=1,dive"`
	ReferenceNumber string             `json:"reference_number"`
	Notes           string             `json:"notes"`
	PerformedBy     string             `json:"performed_by"`
}

type BatchTransferInput struct {
	ConeIds         []int  `json:"cone_ids"`
	LotId           *int   `json:"lot_id"`
	FromWarehouseId int    `json:"from_warehouse_id" validate:"required"`
	ToWarehouseId   int    `json:"to_warehouse_id" validate:"required"`
	ReferenceNumber string `json:"reference_number"`
	Notes           string `json:"notes"`
	PerformedBy     string `json:"performed_by"`
}

type BatchIssueInput struct {
	ConeIds         []int  `json:"cone_ids"`
	LotId           *int   `json:"lot_id"`
	WarehouseId     int    `json:"warehouse_id" validate:"required"`
	Recipient       string `json:"recipient" validate:"required"`
	ReferenceNumber string `json:"reference_number"`
	Notes           string `json:"notes"`
	PerformedBy     string `json:"performed_by"`
}

type BatchReturnInput struct {
	ConeIds         []int  `json:"cone_ids" validate:"required,min=1"`
	ToWarehouseId   int    `json:"to_warehouse_id" validate:"required"`
	ReferenceNumber string `json:"reference_number"`
	Notes           string `json:"notes"`
	PerformedBy     string `json:"performed_by"`
}

type BatchResult struct {
	Transaction *models.BatchTransaction `json:"transaction"`
	Cones       []*models.Cone           `json:"cones"`
	Lot         *models.Lot              `json:"lot,omitempty"`
}

// BatchReceive registers a delivery of cones, creating the lot on first use.
func BatchReceive(ctx context.Context, input *BatchReceiveInput) (*BatchResult, error) {
	input.LotNumber = strings.TrimSpace(input.LotNumber)
	if err := utils.ValidateInput(input); err != nil {
		return nil, err
	}
	if err := checkBatchSize(len(input.Cones)); err != nil {
		return nil, err
	}
	codes := make([]string, 0, len(input.Cones))
	for i := range input.Cones {
		input.Cones[i].ScanCode = strings.TrimSpace(input.Cones[i].ScanCode)
		codes = append(codes, input.Cones[i].ScanCode)
	}
	if dups := utils.Duplicates(codes); len(dups) > 0 {
		return nil, utils.NewConflictError("duplicate scan codes in request", dups...)
	}
	if input.MetersPerCone != nil && !input.MetersPerCone.IsPositive() {
		return nil, utils.NewValidationError("meters per cone must be positive", input.MetersPerCone.String())
	}
	for _, c := range input.Cones {
		if c.QuantityMeters != nil && !c.QuantityMeters.IsPositive() {
			return nil, utils.NewValidationError("quantity meters must be positive", c.ScanCode)
		}
		if c.WeightGrams != nil && !c.WeightGrams.IsPositive() {
			return nil, utils.NewValidationError("weight grams must be positive", c.ScanCode)
		}
	}

	var cones []*models.Cone
	var lot *models.Lot
	db := config.GetDB()
	err := db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		threadType, err := utils.FetchModel[models.ThreadType](tx, input.ThreadTypeId)
		if err != nil {
			return err
		}
		receipt := &models.ConeReceipt{
			ThreadTypeId: input.ThreadTypeId,
			WarehouseId:  input.WarehouseId,
			LotNumber:    input.LotNumber,
		}
		if input.LotNumber != "" {
			lot, err = models.GetOrCreateLot(tx, &models.NewLot{
				LotNumber:      input.LotNumber,
				ThreadTypeId:   input.ThreadTypeId,
				WarehouseId:    input.WarehouseId,
				ProductionDate: input.ProductionDate,
				ExpiryDate:     input.ExpiryDate,
				Supplier:       input.Supplier,
			})
			if err != nil {
				return err
			}
			receipt.LotId = &lot.ID
		}
		for _, c := range input.Cones {
			explicit := c.QuantityMeters
			if explicit == nil {
				explicit = input.MetersPerCone
			}
			expiry := c.ExpiryDate
			if expiry == nil {
				expiry = input.ExpiryDate
			}
			receipt.Cones = append(receipt.Cones, models.NewConeSpec{
				ScanCode:       c.ScanCode,
				QuantityMeters: threadType.ReceiveLength(explicit, c.WeightGrams),
				WeightGrams:    c.WeightGrams,
				ExpiryDate:     expiry,
				Location:       c.Location,
			})
		}
		cones, err = models.ReceiveCones(tx, receipt)
		if err != nil {
			return err
		}
		if lot != nil {
			if err := models.RecomputeLotCounts(tx, lot.ID); err != nil {
				return err
			}
			lot, err = utils.FetchModel[models.Lot](tx, lot.ID)
		}
		return err
	})
	if err != nil {
		cones = nil
	}

	audit := &models.NewBatchTransaction{
		OperationType:   models.BatchOperationReceive,
		ConeIds:         coneIds(cones),
		ToWarehouseId:   &input.WarehouseId,
		ReferenceNumber: input.ReferenceNumber,
		Notes:           input.Notes,
		PerformedBy:     input.PerformedBy,
		Err:             err,
	}
	if err == nil && lot != nil {
		audit.LotId = &lot.ID
	}
	record := finishBatch(ctx, audit, len(input.Cones))
	if err != nil {
		return nil, err
	}

	notify.Dispatch(ctx, notify.Event{
		Type:  notify.TypeBatchReceive,
		Title: fmt.Sprintf("%d cones received", len(cones)),
		Body:  fmt.Sprintf("lot %s into warehouse %d", input.LotNumber, input.WarehouseId),
		Metadata: map[string]any{
			"thread_type_id": input.ThreadTypeId,
			"warehouse_id":   input.WarehouseId,
			"lot_number":     input.LotNumber,
			"cone_count":     len(cones),
		},
	})
	return &BatchResult{Transaction: record, Cones: cones, Lot: lot}, nil
}

// BatchTransfer moves cones between warehouses. Either every cone moves or none does.
func BatchTransfer(ctx context.Context, input *BatchTransferInput) (*BatchResult, error) {
	if err := utils.ValidateInput(input); err != nil {
		return nil, err
	}
	if err := checkSelection(input.ConeIds, input.LotId); err != nil {
		return nil, err
	}
	if input.FromWarehouseId == input.ToWarehouseId {
		return nil, utils.NewValidationError("source and destination warehouse must differ")
	}

	ids := input.ConeIds
	var cones []*models.Cone
	db := config.GetDB()
	err := db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var err error
		if input.LotId != nil {
			ids, err = lotSelection(tx, *input.LotId, input.FromWarehouseId,
				[]models.ConeStatus{models.ConeStatusReceived, models.ConeStatusInspected, models.ConeStatusAvailable})
			if err != nil {
				return err
			}
		}
		cones, err = models.TransferCones(tx, ids, input.FromWarehouseId, input.ToWarehouseId)
		if err != nil {
			return err
		}
		lotIds := lotIdsOf(cones)
		for _, lotId := range lotIds {
			if _, err := models.RelocateLotIfEmptied(tx, lotId, input.FromWarehouseId, input.ToWarehouseId); err != nil {
				return err
			}
		}
		return models.RecomputeLotCounts(tx, lotIds...)
	})

	record := finishBatch(ctx, &models.NewBatchTransaction{
		OperationType:   models.BatchOperationTransfer,
		ConeIds:         ids,
		LotId:           input.LotId,
		FromWarehouseId: &input.FromWarehouseId,
		ToWarehouseId:   &input.ToWarehouseId,
		ReferenceNumber: input.ReferenceNumber,
		Notes:           input.Notes,
		PerformedBy:     input.PerformedBy,
		Err:             err,
	}, len(ids))
	if err != nil {
		return nil, err
	}
	return &BatchResult{Transaction: record, Cones: cones}, nil
}

// BatchIssue hands AVAILABLE cones to a recipient outside any allocation. Issued cones are
// left HARD_ALLOCATED.
func BatchIssue(ctx context.Context, input *BatchIssueInput) (*BatchResult, error) {
	input.Recipient = strings.TrimSpace(input.Recipient)
	if err := utils.ValidateInput(input); err != nil {
		return nil, err
	}
	if err := checkSelection(input.ConeIds, input.LotId); err != nil {
		return nil, err
	}

	ids := input.ConeIds
	var cones []*models.Cone
	db := config.GetDB()
	err := db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var err error
		if input.LotId != nil {
			ids, err = lotSelection(tx, *input.LotId, input.WarehouseId, []models.ConeStatus{models.ConeStatusAvailable})
			if err != nil {
				return err
			}
		}
		current, err := models.ListConesForUpdate(tx, ids)
		if err != nil {
			return err
		}
		var offending []int
		for _, cone := range current {
			if cone.WarehouseId != input.WarehouseId || cone.Status != models.ConeStatusAvailable {
				offending = append(offending, cone.ID)
			}
		}
		if len(offending) > 0 {
			return utils.NewConflictError(fmt.Sprintf("%d cones cannot be issued", len(offending)), utils.IntIds(offending)...)
		}
		cones, err = models.AdvanceConeStatus(tx, ids, models.ConeStatusSoftAllocated, models.ConeStatusHardAllocated)
		if err != nil {
			return err
		}
		return models.RecomputeLotCounts(tx, lotIdsOf(cones)...)
	})

	record := finishBatch(ctx, &models.NewBatchTransaction{
		OperationType:   models.BatchOperationIssue,
		ConeIds:         ids,
		LotId:           input.LotId,
		FromWarehouseId: &input.WarehouseId,
		Recipient:       input.Recipient,
		ReferenceNumber: input.ReferenceNumber,
		Notes:           input.Notes,
		PerformedBy:     input.PerformedBy,
		Err:             err,
	}, len(ids))
	if err != nil {
		return nil, err
	}

	notify.Dispatch(ctx, notify.Event{
		Type:  notify.TypeBatchIssue,
		Title: fmt.Sprintf("%d cones issued to %s", len(cones), input.Recipient),
		Body:  fmt.Sprintf("from warehouse %d, reference %s", input.WarehouseId, input.ReferenceNumber),
		Metadata: map[string]any{
			"warehouse_id": input.WarehouseId,
			"recipient":    input.Recipient,
			"cone_count":   len(cones),
		},
	})
	models.CheckLowStock(ctx, threadTypeIdsOf(cones)...)
	return &BatchResult{Transaction: record, Cones: cones}, nil
}

// BatchReturn puts issued cones back on the shelf in ToWarehouseId. Cones still reserved by an
// active allocation must be released through the allocation instead.
func BatchReturn(ctx context.Context, input *BatchReturnInput) (*BatchResult, error) {
	if err := utils.ValidateInput(input); err != nil {
		return nil, err
	}
	if err := checkBatchSize(len(input.ConeIds)); err != nil {
		return nil, err
	}

	ids := utils.UniqueSlice(input.ConeIds)
	var cones []*models.Cone
	db := config.GetDB()
	err := db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := utils.ValidateResourceId[models.Warehouse](tx, input.ToWarehouseId); err != nil {
			return err
		}
		current, err := models.ListConesForUpdate(tx, ids)
		if err != nil {
			return err
		}
		var offending []int
		for _, cone := range current {
			if cone.Status != models.ConeStatusSoftAllocated && cone.Status != models.ConeStatusHardAllocated {
				offending = append(offending, cone.ID)
			}
		}
		if len(offending) > 0 {
			return utils.NewConflictError(fmt.Sprintf("%d cones are not issued", len(offending)), utils.IntIds(offending)...)
		}
		held, err := models.HeldConeIds(tx, ids)
		if err != nil {
			return err
		}
		if len(held) > 0 {
			return utils.NewConflictError("cones are reserved by an active allocation", utils.IntIds(held)...)
		}

		if _, err := models.SetConeStatus(tx, ids, models.ConeStatusAvailable); err != nil {
			return err
		}
		byWarehouse := make(map[int][]int)
		for _, cone := range current {
			if cone.WarehouseId != input.ToWarehouseId {
				byWarehouse[cone.WarehouseId] = append(byWarehouse[cone.WarehouseId], cone.ID)
			}
		}
		for from, moving := range byWarehouse {
			if _, err := models.TransferCones(tx, moving, from, input.ToWarehouseId); err != nil {
				return err
			}
		}
		cones, err = models.ListConesForUpdate(tx, ids)
		if err != nil {
			return err
		}
		return models.RecomputeLotCounts(tx, lotIdsOf(cones)...)
	})

	record := finishBatch(ctx, &models.NewBatchTransaction{
		OperationType:   models.BatchOperationReturn,
		ConeIds:         ids,
		ToWarehouseId:   &input.ToWarehouseId,
		ReferenceNumber: input.ReferenceNumber,
		Notes:           input.Notes,
		PerformedBy:     input.PerformedBy,
		Err:             err,
	}, len(ids))
	if err != nil {
		return nil, err
	}
	return &BatchResult{Transaction: record, Cones: cones}, nil
}

// finishBatch writes the audit row after the business transaction. A failed audit write is
// logged and never changes the outcome of the batch itself.
func finishBatch(ctx context.Context, audit *models.NewBatchTransaction, size int) *models.BatchTransaction {
	outcome := models.BatchOutcomeSucceeded
	if audit.Err != nil {
		outcome = models.BatchOutcomeFailed
	}
	metrics.RecordBatch(string(audit.OperationType), string(outcome), size)

	record, err := models.LogBatchTransaction(ctx, audit)
	if err != nil {
		config.LogError(config.GetLogger(), "Batch", string(audit.OperationType), "write batch transaction", audit.ConeIds, err)
		return nil
	}
	if audit.Err != nil {
		config.GetLogger().WithFields(logrus.Fields{
			"operation":            audit.OperationType,
			"batch_transaction_id": record.ID,
			"cone_count":           record.ConeCount,
		}).Warn(audit.Err.Error())
	}
	return record
}

func checkBatchSize(n int) error {
	if n == 0 {
		return utils.NewValidationError("at least one cone is required")
	}
	if n > MaxBatchSize {
		return utils.NewValidationError(fmt.Sprintf("batch of %d cones exceeds the limit of %d", n, MaxBatchSize))
	}
	return nil
}

func checkSelection(ids []int, lotId *int) error {
	if lotId != nil {
		if len(ids) > 0 {
			return utils.NewValidationError("give either cone ids or a lot, not both")
		}
		return nil
	}
	return checkBatchSize(len(ids))
}

func lotSelection(tx *gorm.DB, lotId int, warehouseId int, statuses []models.ConeStatus) ([]int, error) {
	if err := utils.ValidateResourceId[models.Lot](tx, lotId); err != nil {
		return nil, err
	}
	ids, err := models.LotConeIds(tx, lotId, warehouseId, statuses)
	if err != nil {
		return nil, err
	}
	if len(ids) == 0 {
		return nil, utils.NewValidationError("lot has no eligible cones in this warehouse", fmt.Sprint(lotId))
	}
	if err := checkBatchSize(len(ids)); err != nil {
		return nil, err
	}
	return ids, nil
}

func coneIds(cones []*models.Cone) []int {
	ids := make([]int, 0, len(cones))
	for _, cone := range cones {
		ids = append(ids, cone.ID)
	}
	return ids
}

func lotIdsOf(cones []*models.Cone) []int {
	var ids []int
	for _, cone := range cones {
		if cone.LotId != nil {
			ids = append(ids, *cone.LotId)
		}
	}
	return utils.UniqueSlice(ids)
}

func threadTypeIdsOf(cones []*models.Cone) []int {
	ids := make([]int, 0, len(cones))
	for _, cone := range cones {
		ids = append(ids, cone.ThreadTypeId)
	}
	return utils.UniqueSlice(ids)
}
