package models

import (
	"context"
	"fmt"
	"strings"
	"time"

	"bitbucket.org/mmdatafocus/thread_backend/config"
	"bitbucket.org/mmdatafocus/thread_backend/utils"
	"gorm.io/gorm"
)

// Lot groups cones received together. Its counters are derived from member cones and
// only change through RecomputeLotCounts.
type Lot struct {
	ID             int        `gorm:"primary_key" json:"id"`
	LotNumber      string     `gorm:"size:100;uniqueIndex;not null" json:"lot_number"`
	ThreadTypeId   int        `gorm:"index;not null" json:"thread_type_id"`
	WarehouseId    int        `gorm:"index;not null" json:"warehouse_id"`
	ProductionDate *time.Time `json:"production_date"`
	ExpiryDate     *time.Time `json:"expiry_date"`
	Supplier       string     `gorm:"size:255" json:"supplier"`
	Notes          string     `gorm:"type:text" json:"notes"`
	TotalCones     int        `gorm:"not null;default:0" json:"total_cones"`
	AvailableCones int        `gorm:"not null;default:0" json:"available_cones"`
	Status         LotStatus  `gorm:"size:32;index;not null" json:"status"`
	CreatedAt      time.Time  `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt      time.Time  `gorm:"autoUpdateTime" json:"updated_at"`
}

type NewLot struct {
	LotNumber      string     `json:"lot_number" validate:"required,max=100"`
	ThreadTypeId   int        `json:"thread_type_id" validate:"required"`
	WarehouseId    int        `json:"warehouse_id" validate:"required"`
	ProductionDate *time.Time `json:"production_date"`
	ExpiryDate     *time.Time `json:"expiry_date"`
	Supplier       string     `json:"supplier"`
	Notes          string     `json:"notes"`
}

type UpdateLotInput struct {
	ProductionDate *time.Time `json:"production_date"`
	ExpiryDate     *time.Time `json:"expiry_date"`
	Supplier       *string    `json:"supplier"`
	Notes          *string    `json:"notes"`
	Status         *LotStatus `json:"status"`
}

type LotFilter struct {
	ThreadTypeId *int       `json:"thread_type_id"`
	WarehouseId  *int       `json:"warehouse_id"`
	Status       *LotStatus `json:"status"`
	LotNumber    *string    `json:"lot_number"`
}

// CreateLot inserts an empty ACTIVE lot. A repeated lot number is a conflict.
func CreateLot(tx *gorm.DB, input *NewLot) (*Lot, error) {
	input.LotNumber = strings.TrimSpace(input.LotNumber)
	if err := utils.ValidateInput(input); err != nil {
		return nil, err
	}
	if input.ProductionDate != nil && input.ExpiryDate != nil && input.ExpiryDate.Before(*input.ProductionDate) {
		return nil, utils.NewValidationError("expiry date is before production date")
	}
	if err := utils.ValidateUnique[Lot](tx, "lot_number", input.LotNumber, 0); err != nil {
		return nil, err
	}
	if err := utils.ValidateResourceId[ThreadType](tx, input.ThreadTypeId); err != nil {
		return nil, err
	}
	if err := utils.ValidateResourceId[Warehouse](tx, input.WarehouseId); err != nil {
		return nil, err
	}

	lot := Lot{
		LotNumber:      input.LotNumber,
		ThreadTypeId:   input.ThreadTypeId,
		WarehouseId:    input.WarehouseId,
		ProductionDate: input.ProductionDate,
		ExpiryDate:     input.ExpiryDate,
		Supplier:       input.Supplier,
		Notes:          input.Notes,
		Status:         LotStatusActive,
	}
	if err := tx.Create(&lot).Error; err != nil {
		return nil, utils.SystemError("create lot", err)
	}
	return &lot, nil
}

// RecomputeLotCounts recounts member cones of each lot. A lot with nothing usable becomes
// DEPLETED; QUARANTINE and EXPIRED are manual states and are left alone.
func RecomputeLotCounts(tx *gorm.DB, lotIds ...int) error {
	for _, lotId := range utils.UniqueSlice(lotIds) {
		lot, err := utils.FetchModelForUpdate[Lot](tx, lotId)
		if err != nil {
			return err
		}

		var total, available int64
		if err := tx.Model(&Cone{}).Where("lot_id = ?", lotId).Count(&total).Error; err != nil {
			return utils.SystemError("count lot cones", err)
		}
		if err := tx.Model(&Cone{}).Where("lot_id = ? AND status IN ?", lotId, usableConeStatuses).Count(&available).Error; err != nil {
			return utils.SystemError("count usable lot cones", err)
		}

		status := lot.Status
		if status != LotStatusQuarantine && status != LotStatusExpired {
			status = LotStatusActive
			if available == 0 {
				status = LotStatusDepleted
			}
		}

		err = tx.Model(&Lot{}).Where("id = ?", lotId).Updates(map[string]interface{}{
			"total_cones":     total,
			"available_cones": available,
			"status":          status,
		}).Error
		if err != nil {
			return utils.SystemError("update lot counts", err)
		}
	}
	return nil
}

// GetOrCreateLot reuses the lot with lotNumber when it belongs to the same thread type and
// warehouse, otherwise creates it.
func GetOrCreateLot(tx *gorm.DB, input *NewLot) (*Lot, error) {
	var lots []*Lot
	if err := tx.Where("lot_number = ?", strings.TrimSpace(input.LotNumber)).Limit(1).Find(&lots).Error; err != nil {
		return nil, utils.SystemError("find lot", err)
	}
	if len(lots) == 0 {
		return CreateLot(tx, input)
	}
	lot := lots[0]
	if lot.ThreadTypeId != input.ThreadTypeId || lot.WarehouseId != input.WarehouseId {
		return nil, utils.NewConflictError("lot belongs to another thread type or warehouse", lot.LotNumber)
	}
	return lot, nil
}

func UpdateLot(ctx context.Context, id int, input *UpdateLotInput) (*Lot, error) {
	if input.Status != nil && !input.Status.IsValid() {
		return nil, utils.NewValidationError("unknown lot status", string(*input.Status))
	}

	var lot *Lot
	db := config.GetDB()
	err := db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var err error
		lot, err = utils.FetchModelForUpdate[Lot](tx, id)
		if err != nil {
			return err
		}

		updates := map[string]interface{}{}
		if input.ProductionDate != nil {
			updates["production_date"] = *input.ProductionDate
		}
		if input.ExpiryDate != nil {
			updates["expiry_date"] = *input.ExpiryDate
		}
		if input.Supplier != nil {
			updates["supplier"] = *input.Supplier
		}
		if input.Notes != nil {
			updates["notes"] = *input.Notes
		}
		if input.Status != nil {
			updates["status"] = *input.Status
		}
		if len(updates) > 0 {
			if err := tx.Model(&Lot{}).Where("id = ?", id).Updates(updates).Error; err != nil {
				return utils.SystemError("update lot", err)
			}
		}
		// leaving a manual state hands control back to the counters
		if input.Status != nil && (*input.Status == LotStatusActive || *input.Status == LotStatusDepleted) {
			if err := RecomputeLotCounts(tx, id); err != nil {
				return err
			}
		}
		lot, err = utils.FetchModel[Lot](tx, id)
		return err
	})
	if err != nil {
		return nil, err
	}
	return lot, nil
}

func GetLot(ctx context.Context, id int) (*Lot, error) {
	return utils.FetchModel[Lot](config.GetDB().WithContext(ctx), id)
}

func GetLotByNumber(ctx context.Context, lotNumber string) (*Lot, error) {
	var lots []*Lot
	if err := config.GetDB().WithContext(ctx).Where("lot_number = ?", strings.TrimSpace(lotNumber)).Limit(1).Find(&lots).Error; err != nil {
		return nil, utils.SystemError("find lot", err)
	}
	if len(lots) == 0 {
		return nil, utils.NewNotFoundError("Lot", lotNumber)
	}
	return lots[0], nil
}

func ListLots(ctx context.Context, filter *LotFilter) ([]*Lot, error) {
	dbCtx := config.GetDB().WithContext(ctx)
	if filter != nil {
		if filter.ThreadTypeId != nil {
			dbCtx = dbCtx.Where("thread_type_id = ?", *filter.ThreadTypeId)
		}
		if filter.WarehouseId != nil {
			dbCtx = dbCtx.Where("warehouse_id = ?", *filter.WarehouseId)
		}
		if filter.Status != nil {
			dbCtx = dbCtx.Where("status = ?", *filter.Status)
		}
		if filter.LotNumber != nil && len(*filter.LotNumber) > 0 {
			dbCtx = dbCtx.Where("lot_number LIKE ?", "%"+*filter.LotNumber+"%")
		}
	}
	var results []*Lot
	if err := dbCtx.Order("created_at DESC, id DESC").Find(&results).Error; err != nil {
		return nil, utils.SystemError("list lots", err)
	}
	return results, nil
}

func ListLotCones(ctx context.Context, lotId int) ([]*Cone, error) {
	db := config.GetDB().WithContext(ctx)
	if err := utils.ValidateResourceId[Lot](db, lotId); err != nil {
		return nil, err
	}
	return ListCones(ctx, &ConeFilter{LotId: &lotId})
}

// LotConeIds returns the ids of the lot's cones in warehouseId whose status is one of statuses.
func LotConeIds(tx *gorm.DB, lotId int, warehouseId int, statuses []ConeStatus) ([]int, error) {
	var ids []int
	err := tx.Model(&Cone{}).
		Where("lot_id = ? AND warehouse_id = ? AND status IN ?", lotId, warehouseId, statuses).
		Order("id").
		Pluck("id", &ids).Error
	if err != nil {
		return nil, utils.SystemError(fmt.Sprintf("list cones of lot %d", lotId), err)
	}
	return ids, nil
}

// ListLotIds lists every lot id, oldest first, for maintenance recounts.
func ListLotIds(db *gorm.DB) ([]int, error) {
	var ids []int
	if err := db.Model(&Lot{}).Order("id").Pluck("id", &ids).Error; err != nil {
		return nil, utils.SystemError("list lots", err)
	}
	return ids, nil
}

// RelocateLotIfEmptied moves the lot record to toWarehouseId once none of its live cones are
// left in fromWarehouseId. It reports whether the lot moved.
func RelocateLotIfEmptied(tx *gorm.DB, lotId int, fromWarehouseId int, toWarehouseId int) (bool, error) {
	lot, err := utils.FetchModelForUpdate[Lot](tx, lotId)
	if err != nil {
		return false, err
	}
	if lot.WarehouseId != fromWarehouseId {
		return false, nil
	}
	left, err := utils.ResourceCountWhere[Cone](tx, "lot_id = ? AND warehouse_id = ? AND status NOT IN ?",
		lotId, fromWarehouseId, []ConeStatus{ConeStatusConsumed, ConeStatusWrittenOff})
	if err != nil {
		return false, err
	}
	if left > 0 {
		return false, nil
	}
	if err := tx.Model(&Lot{}).Where("id = ?", lotId).Update("warehouse_id", toWarehouseId).Error; err != nil {
		return false, utils.SystemError("move lot", err)
	}
	return true, nil
}
