package models

import (
	"context"
	"errors"
	"time"

	"bitbucket.org/mmdatafocus/thread_backend/config"
	"bitbucket.org/mmdatafocus/thread_backend/utils"
	"gorm.io/gorm"
)

// BatchTransaction is the audit row of one bulk warehouse operation. Rows are append-only.
type BatchTransaction struct {
	ID              int                `gorm:"primary_key" json:"id"`
	OperationType   BatchOperationType `gorm:"size:16;index;not null" json:"operation_type"`
	ConeIds         string             `gorm:"type:text" json:"cone_ids"`
	ConeCount       int                `gorm:"not null;default:0" json:"cone_count"`
	LotId           *int               `gorm:"index" json:"lot_id"`
	FromWarehouseId *int               `json:"from_warehouse_id"`
	ToWarehouseId   *int               `json:"to_warehouse_id"`
	Recipient       string             `gorm:"size:255" json:"recipient"`
	ReferenceNumber string             `gorm:"size:100;index" json:"reference_number"`
	Notes           string             `gorm:"type:text" json:"notes"`
	PerformedBy     string             `gorm:"size:100" json:"performed_by"`
	Outcome         BatchOutcome       `gorm:"size:16;index;not null" json:"outcome"`
	ErrorMessage    string             `gorm:"type:text" json:"error_message"`
	PerformedAt     time.Time          `gorm:"index;not null" json:"performed_at"`
	CreatedAt       time.Time          `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt       time.Time          `gorm:"autoUpdateTime" json:"updated_at"`
}

type NewBatchTransaction struct {
	OperationType   BatchOperationType
	ConeIds         []int
	LotId           *int
	FromWarehouseId *int
	ToWarehouseId   *int
	Recipient       string
	ReferenceNumber string
	Notes           string
	PerformedBy     string
	Err             error
}

type BatchTransactionFilter struct {
	OperationType *BatchOperationType `json:"operation_type"`
	Outcome       *BatchOutcome       `json:"outcome"`
	LotId         *int                `json:"lot_id"`
	WarehouseId   *int                `json:"warehouse_id"`
	Limit         int                 `json:"limit"`
}

func (t *BatchTransaction) BeforeUpdate(tx *gorm.DB) error {
	return errors.New("batch_transactions are append-only")
}

func (t *BatchTransaction) BeforeDelete(tx *gorm.DB) error {
	return errors.New("batch_transactions are append-only")
}

// ConeIdList decodes the stored cone ids.
func (t *BatchTransaction) ConeIdList() ([]int, error) {
	var ids []int
	if t.ConeIds == "" {
		return ids, nil
	}
	err := utils.UnmarshalFromJSON([]byte(t.ConeIds), &ids)
	return ids, err
}

// LogBatchTransaction appends the audit row for a finished batch call. An Err on the input
// records the call as FAILED.
func LogBatchTransaction(ctx context.Context, input *NewBatchTransaction) (*BatchTransaction, error) {
	coneIds := input.ConeIds
	if coneIds == nil {
		coneIds = []int{}
	}
	encoded, err := utils.MarshalToJSON(coneIds)
	if err != nil {
		return nil, utils.SystemError("encode cone ids", err)
	}

	record := BatchTransaction{
		OperationType:   input.OperationType,
		ConeIds:         encoded,
		ConeCount:       len(input.ConeIds),
		LotId:           input.LotId,
		FromWarehouseId: input.FromWarehouseId,
		ToWarehouseId:   input.ToWarehouseId,
		Recipient:       input.Recipient,
		ReferenceNumber: input.ReferenceNumber,
		Notes:           input.Notes,
		PerformedBy:     utils.ResolveActor(ctx, input.PerformedBy),
		Outcome:         BatchOutcomeSucceeded,
		PerformedAt:     time.Now().UTC(),
	}
	if input.Err != nil {
		record.Outcome = BatchOutcomeFailed
		record.ErrorMessage = input.Err.Error()
	}
	if err := config.GetDB().WithContext(ctx).Create(&record).Error; err != nil {
		return nil, utils.SystemError("create batch transaction", err)
	}
	return &record, nil
}

func GetBatchTransaction(ctx context.Context, id int) (*BatchTransaction, error) {
	return utils.FetchModel[BatchTransaction](config.GetDB().WithContext(ctx), id)
}

func ListBatchTransactions(ctx context.Context, filter *BatchTransactionFilter) ([]*BatchTransaction, error) {
	dbCtx := config.GetDB().WithContext(ctx)
	if filter != nil {
		if filter.OperationType != nil {
			dbCtx = dbCtx.Where("operation_type = ?", *filter.OperationType)
		}
		if filter.Outcome != nil {
			dbCtx = dbCtx.Where("outcome = ?", *filter.Outcome)
		}
		if filter.LotId != nil {
			dbCtx = dbCtx.Where("lot_id = ?", *filter.LotId)
		}
		if filter.WarehouseId != nil {
			dbCtx = dbCtx.Where("from_warehouse_id = ? OR to_warehouse_id = ?", *filter.WarehouseId, *filter.WarehouseId)
		}
		if filter.Limit > 0 {
			dbCtx = dbCtx.Limit(filter.Limit)
		}
	}
	var results []*BatchTransaction
	if err := dbCtx.Order("performed_at DESC, id DESC").Find(&results).Error; err != nil {
		return nil, utils.SystemError("list batch transactions", err)
	}
	return results, nil
}
