package models

import (
	"context"
	"strings"
	"time"

	"bitbucket.org/mmdatafocus/thread_backend/config"
	"bitbucket.org/mmdatafocus/thread_backend/utils"
)

type Warehouse struct {
	ID        int       `gorm:"primary_key" json:"id"`
	Code      string    `gorm:"size:50;uniqueIndex;not null" json:"code"`
	Name      string    `gorm:"size:100;not null" json:"name"`
	Location  string    `gorm:"size:255" json:"location"`
	IsActive  *bool     `gorm:"not null;default:true" json:"is_active"`
	CreatedAt time.Time `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt time.Time `gorm:"autoUpdateTime" json:"updated_at"`
}

type NewWarehouse struct {
	Code     string `json:"code" validate:"required,max=50"`
	Name     string `json:"name" validate:"required,max=100"`
	Location string `json:"location"`
}

// validate input for both create & update. (id = 0 for create)
func (input *NewWarehouse) validate(ctx context.Context, id int) error {
	if err := utils.ValidateInput(input); err != nil {
		return err
	}
	return utils.ValidateUnique[Warehouse](config.GetDB().WithContext(ctx), "code", strings.TrimSpace(input.Code), id)
}

func CreateWarehouse(ctx context.Context, input *NewWarehouse) (*Warehouse, error) {
	if err := input.validate(ctx, 0); err != nil {
		return nil, err
	}

	warehouse := Warehouse{
		Code:     strings.TrimSpace(input.Code),
		Name:     input.Name,
		Location: input.Location,
		IsActive: utils.NewTrue(),
	}

	// db action
	db := config.GetDB()
	if err := db.WithContext(ctx).Create(&warehouse).Error; err != nil {
		return nil, utils.SystemError("create warehouse", err)
	}
	return &warehouse, nil
}

func UpdateWarehouse(ctx context.Context, id int, input *NewWarehouse) (*Warehouse, error) {
	if err := input.validate(ctx, id); err != nil {
		return nil, err
	}

	db := config.GetDB().WithContext(ctx)
	warehouse, err := utils.FetchModel[Warehouse](db, id)
	if err != nil {
		return nil, err
	}

	err = db.Model(warehouse).Updates(map[string]interface{}{
		"Code":     strings.TrimSpace(input.Code),
		"Name":     input.Name,
		"Location": input.Location,
	}).Error
	if err != nil {
		return nil, utils.SystemError("update warehouse", err)
	}
	return warehouse, nil
}

func ToggleActiveWarehouse(ctx context.Context, id int, isActive bool) (*Warehouse, error) {
	db := config.GetDB().WithContext(ctx)
	warehouse, err := utils.FetchModel[Warehouse](db, id)
	if err != nil {
		return nil, err
	}
	if err := db.Model(warehouse).Update("IsActive", isActive).Error; err != nil {
		return nil, utils.SystemError("toggle warehouse", err)
	}
	return warehouse, nil
}

func GetWarehouse(ctx context.Context, id int) (*Warehouse, error) {
	return utils.FetchModel[Warehouse](config.GetDB().WithContext(ctx), id)
}

func ListWarehouse(ctx context.Context, name *string) ([]*Warehouse, error) {
	var results []*Warehouse
	dbCtx := config.GetDB().WithContext(ctx)
	if name != nil && len(*name) > 0 {
		dbCtx = dbCtx.Where("name LIKE ?", "%"+*name+"%")
	}
	if err := dbCtx.Order("name").Find(&results).Error; err != nil {
		return nil, utils.SystemError("list warehouses", err)
	}
	return results, nil
}
