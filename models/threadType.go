package models

import (
	"context"
	"strings"
	"time"

	"bitbucket.org/mmdatafocus/thread_backend/config"
	"bitbucket.org/mmdatafocus/thread_backend/utils"
	"github.com/shopspring/decimal"
)

// ThreadType is the catalog entry every cone belongs to. Density converts weight to length.
type ThreadType struct {
	ID                   int                 `gorm:"primary_key" json:"id"`
	Code                 string              `gorm:"size:50;uniqueIndex;not null" json:"code"`
	Name                 string              `gorm:"size:100;not null" json:"name"`
	Color                string              `gorm:"size:50" json:"color"`
	Material             string              `gorm:"size:50" json:"material"`
	DensityGramsPerMeter decimal.Decimal     `gorm:"type:decimal(20,6);not null" json:"density_grams_per_meter"`
	MetersPerCone        decimal.NullDecimal `gorm:"type:decimal(20,4)" json:"meters_per_cone"`
	TareWeightGrams      decimal.Decimal     `gorm:"type:decimal(20,4);default:0" json:"tare_weight_grams"`
	ReorderLevelMeters   decimal.Decimal     `gorm:"type:decimal(20,4);default:0" json:"reorder_level_meters"`
	IsActive             *bool               `gorm:"not null;default:true" json:"is_active"`
	CreatedAt            time.Time           `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt            time.Time           `gorm:"autoUpdateTime" json:"updated_at"`
}

type NewThreadType struct {
	Code                 string           `json:"code" validate:"required,max=50"`
	Name                 string           `json:"name" validate:"required,max=100"`
	Color                string           `json:"color"`
	Material             string           `json:"material"`
	DensityGramsPerMeter decimal.Decimal  `json:"density_grams_per_meter"`
	MetersPerCone        *decimal.Decimal `json:"meters_per_cone"`
	TareWeightGrams      decimal.Decimal  `json:"tare_weight_grams"`
	ReorderLevelMeters   decimal.Decimal  `json:"reorder_level_meters"`
}

func (input *NewThreadType) validate(ctx context.Context, id int) error {
	if err := utils.ValidateInput(input); err != nil {
		return err
	}
	if !input.DensityGramsPerMeter.IsPositive() {
		return utils.NewValidationError("density must be positive")
	}
	if input.MetersPerCone != nil && !input.MetersPerCone.IsPositive() {
		return utils.NewValidationError("meters per cone must be positive")
	}
	if input.TareWeightGrams.IsNegative() || input.ReorderLevelMeters.IsNegative() {
		return utils.NewValidationError("tare weight and reorder level cannot be negative")
	}
	return utils.ValidateUnique[ThreadType](config.GetDB().WithContext(ctx), "code", strings.TrimSpace(input.Code), id)
}

func CreateThreadType(ctx context.Context, input *NewThreadType) (*ThreadType, error) {
	if err := input.validate(ctx, 0); err != nil {
		return nil, err
	}

	threadType := ThreadType{
		Code:                 strings.TrimSpace(input.Code),
		Name:                 input.Name,
		Color:                input.Color,
		Material:             input.Material,
		DensityGramsPerMeter: input.DensityGramsPerMeter,
		TareWeightGrams:      input.TareWeightGrams,
		ReorderLevelMeters:   input.ReorderLevelMeters,
		IsActive:             utils.NewTrue(),
	}
	if input.MetersPerCone != nil {
		threadType.MetersPerCone = decimal.NewNullDecimal(*input.MetersPerCone)
	}

	db := config.GetDB()
	if err := db.WithContext(ctx).Create(&threadType).Error; err != nil {
		return nil, utils.SystemError("create thread type", err)
	}
	return &threadType, nil
}

func UpdateThreadType(ctx context.Context, id int, input *NewThreadType) (*ThreadType, error) {
	if err := input.validate(ctx, id); err != nil {
		return nil, err
	}

	db := config.GetDB().WithContext(ctx)
	threadType, err := utils.FetchModel[ThreadType](db, id)
	if err != nil {
		return nil, err
	}

	metersPerCone := decimal.NullDecimal{}
	if input.MetersPerCone != nil {
		metersPerCone = decimal.NewNullDecimal(*input.MetersPerCone)
	}
	err = db.Model(threadType).Updates(map[string]interface{}{
		"Code":                 strings.TrimSpace(input.Code),
		"Name":                 input.Name,
		"Color":                input.Color,
		"Material":             input.Material,
		"DensityGramsPerMeter": input.DensityGramsPerMeter,
		"MetersPerCone":        metersPerCone,
		"TareWeightGrams":      input.TareWeightGrams,
		"ReorderLevelMeters":   input.ReorderLevelMeters,
	}).Error
	if err != nil {
		return nil, utils.SystemError("update thread type", err)
	}
	return utils.FetchModel[ThreadType](db, id)
}

func GetThreadType(ctx context.Context, id int) (*ThreadType, error) {
	return utils.FetchModel[ThreadType](config.GetDB().WithContext(ctx), id)
}

func ListThreadTypes(ctx context.Context, code *string) ([]*ThreadType, error) {
	var results []*ThreadType
	dbCtx := config.GetDB().WithContext(ctx)
	if code != nil && len(*code) > 0 {
		dbCtx = dbCtx.Where("code LIKE ?", "%"+*code+"%")
	}
	if err := dbCtx.Order("code").Find(&results).Error; err != nil {
		return nil, utils.SystemError("list thread types", err)
	}
	return results, nil
}

// LengthFromWeight converts a gross cone weight to meters of thread on it.
func (t *ThreadType) LengthFromWeight(grossGrams decimal.Decimal) decimal.Decimal {
	net := grossGrams.Sub(t.TareWeightGrams)
	if !net.IsPositive() {
		return decimal.Zero
	}
	return net.DivRound(t.DensityGramsPerMeter, 4)
}

// ReceiveLength picks the length of a newly received cone: an explicit length first, then the
// net weight converted by density, then the catalog length, then the configured default.
func (t *ThreadType) ReceiveLength(explicit *decimal.Decimal, weightGrams *decimal.Decimal) decimal.Decimal {
	if explicit != nil && explicit.IsPositive() {
		return *explicit
	}
	if weightGrams != nil {
		if length := t.LengthFromWeight(*weightGrams); length.IsPositive() {
			return length
		}
	}
	if t.MetersPerCone.Valid && t.MetersPerCone.Decimal.IsPositive() {
		return t.MetersPerCone.Decimal
	}
	return config.DefaultMetersPerCone()
}
