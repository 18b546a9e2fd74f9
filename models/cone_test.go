package models_test

import (
	"errors"
	"testing"

	"bitbucket.org/mmdatafocus/thread_backend/models"
	"bitbucket.org/mmdatafocus/thread_backend/notify"
	"bitbucket.org/mmdatafocus/thread_backend/testsupport"
	"bitbucket.org/mmdatafocus/thread_backend/utils"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
)

func TestReceiveCones_RejectsKnownScanCodes(t *testing.T) {
	env := testsupport.OpenTestDB(t)
	tt := env.ThreadType(t, "T40", "0.05", "0")
	wh := env.Warehouse(t, "WH1")

	receipt := func(codes ...string) *models.ConeReceipt {
		r := &models.ConeReceipt{ThreadTypeId: tt.ID, WarehouseId: wh.ID}
		for _, code := range codes {
			r.Cones = append(r.Cones, models.NewConeSpec{ScanCode: code, QuantityMeters: testsupport.Meters(5000)})
		}
		return r
	}

	err := env.DB.Transaction(func(tx *gorm.DB) error {
		cones, err := models.ReceiveCones(tx, receipt("A1", "A2"))
		if err == nil {
			assert.Len(t, cones, 2)
			assert.Equal(t, models.ConeStatusReceived, cones[0].Status)
		}
		return err
	})
	require.NoError(t, err)

	err = env.DB.Transaction(func(tx *gorm.DB) error {
		_, err := models.ReceiveCones(tx, receipt("A3", "A1"))
		return err
	})
	require.True(t, errors.Is(err, utils.ErrConflict))
	var coreErr *utils.CoreError
	require.True(t, errors.As(err, &coreErr))
	assert.Equal(t, []string{"A1"}, coreErr.Identifiers)

	// nothing from the rejected receipt was written
	_, err = models.GetConeByScanCode(env.Ctx, "A3")
	assert.True(t, errors.Is(err, utils.ErrNotFound))

	err = env.DB.Transaction(func(tx *gorm.DB) error {
		_, err := models.ReceiveCones(tx, receipt("B1", "B1"))
		return err
	})
	assert.True(t, errors.Is(err, utils.ErrConflict))
}

func TestSetConeStatus_ValidatesAllBeforeWriting(t *testing.T) {
	env := testsupport.OpenTestDB(t)
	tt := env.ThreadType(t, "T40", "0.05", "0")
	wh := env.Warehouse(t, "WH1")
	available := env.AvailableCones(t, tt.ID, wh.ID, nil, 5000)
	received := env.ReceivedCones(t, tt.ID, wh.ID, nil, 5000)

	err := env.DB.Transaction(func(tx *gorm.DB) error {
		_, err := models.SetConeStatus(tx, []int{available[0].ID, received[0].ID}, models.ConeStatusSoftAllocated)
		return err
	})
	require.True(t, errors.Is(err, utils.ErrConflict))
	var coreErr *utils.CoreError
	require.True(t, errors.As(err, &coreErr))
	assert.Equal(t, utils.IntIds([]int{received[0].ID}), coreErr.Identifiers)

	assert.Equal(t, models.ConeStatusAvailable, env.Cone(t, available[0].ID).Status)
	assert.Equal(t, models.ConeStatusReceived, env.Cone(t, received[0].ID).Status)
}

func TestSetConeStatus_UnknownCone(t *testing.T) {
	env := testsupport.OpenTestDB(t)
	err := env.DB.Transaction(func(tx *gorm.DB) error {
		_, err := models.SetConeStatus(tx, []int{999}, models.ConeStatusAvailable)
		return err
	})
	assert.True(t, errors.Is(err, utils.ErrNotFound))
}

func TestTransferCones(t *testing.T) {
	env := testsupport.OpenTestDB(t)
	tt := env.ThreadType(t, "T40", "0.05", "0")
	wh1 := env.Warehouse(t, "WH1")
	wh2 := env.Warehouse(t, "WH2")
	cones := env.AvailableCones(t, tt.ID, wh1.ID, nil, 5000, 5000)
	env.InProduction(t, cones[1].ID)

	err := env.DB.Transaction(func(tx *gorm.DB) error {
		_, err := models.TransferCones(tx, []int{cones[0].ID, cones[1].ID}, wh1.ID, wh2.ID)
		return err
	})
	require.True(t, errors.Is(err, utils.ErrConflict))
	assert.Contains(t, err.Error(), "1 cones cannot be transferred")
	assert.Equal(t, wh1.ID, env.Cone(t, cones[0].ID).WarehouseId)

	err = env.DB.Transaction(func(tx *gorm.DB) error {
		moved, err := models.TransferCones(tx, []int{cones[0].ID}, wh1.ID, wh2.ID)
		if err == nil {
			assert.Equal(t, wh2.ID, moved[0].WarehouseId)
		}
		return err
	})
	require.NoError(t, err)
	assert.Equal(t, wh2.ID, env.Cone(t, cones[0].ID).WarehouseId)

	err = env.DB.Transaction(func(tx *gorm.DB) error {
		_, err := models.TransferCones(tx, []int{cones[0].ID}, wh2.ID, wh2.ID)
		return err
	})
	assert.True(t, errors.Is(err, utils.ErrValidation))
}

func TestChangeConeStatus(t *testing.T) {
	env := testsupport.OpenTestDB(t)
	tt := env.ThreadType(t, "T40", "0.05", "0")
	wh := env.Warehouse(t, "WH1")
	cones := env.AvailableCones(t, tt.ID, wh.ID, nil, 5000, 5000)

	_, err := models.ChangeConeStatus(env.Ctx, []int{cones[0].ID}, models.ConeStatusSoftAllocated)
	assert.True(t, errors.Is(err, utils.ErrValidation))

	changed, err := models.ChangeConeStatus(env.Ctx, []int{cones[0].ID}, models.ConeStatusQuarantine)
	require.NoError(t, err)
	assert.Equal(t, models.ConeStatusQuarantine, changed[0].Status)

	changed, err = models.ChangeConeStatus(env.Ctx, []int{cones[0].ID}, models.ConeStatusAvailable)
	require.NoError(t, err)
	assert.Equal(t, models.ConeStatusAvailable, changed[0].Status)

	// a reserved cone cannot be pulled out from under its allocation
	allocation, err := models.CreateAllocation(env.Ctx, &models.NewAllocation{
		OrderId: "PO-1", ThreadTypeId: tt.ID, RequestedMeters: testsupport.Meters(1000),
	})
	require.NoError(t, err)
	_, err = models.ExecuteAllocation(env.Ctx, allocation.ID)
	require.NoError(t, err)
	_, err = models.ChangeConeStatus(env.Ctx, []int{cones[0].ID}, models.ConeStatusWrittenOff)
	assert.True(t, errors.Is(err, utils.ErrConflict))
}

func TestGetAvailabilitySummary(t *testing.T) {
	env := testsupport.OpenTestDB(t)
	tt := env.ThreadType(t, "T40", "0.05", "0")
	other := env.ThreadType(t, "T60", "0.04", "0")
	wh := env.Warehouse(t, "WH1")
	cones := env.AvailableCones(t, tt.ID, wh.ID, nil, 5000, 5000, 3000)
	env.ReceivedCones(t, tt.ID, wh.ID, nil, 5000)
	require.NoError(t, env.DB.Model(&models.Cone{}).Where("id = ?", cones[2].ID).Update("is_partial", true).Error)

	summaries, err := models.GetAvailabilitySummary(env.Ctx, nil)
	require.NoError(t, err)
	require.Len(t, summaries, 2)

	assert.Equal(t, tt.ID, summaries[0].ThreadTypeId)
	assert.True(t, decimal.NewFromInt(13000).Equal(summaries[0].TotalMeters), summaries[0].TotalMeters.String())
	assert.EqualValues(t, 2, summaries[0].FullCones)
	assert.EqualValues(t, 1, summaries[0].PartialCones)

	assert.Equal(t, other.ID, summaries[1].ThreadTypeId)
	assert.True(t, summaries[1].TotalMeters.IsZero())

	_, err = models.GetAvailabilitySummary(env.Ctx, func() *int { id := 999; return &id }())
	assert.True(t, errors.Is(err, utils.ErrNotFound))
}

func TestChangeConeStatus_LowStockAlert(t *testing.T) {
	env := testsupport.OpenTestDB(t)
	tt, err := models.CreateThreadType(env.Ctx, &models.NewThreadType{
		Code: "T80", Name: "Thread 80", DensityGramsPerMeter: decimal.RequireFromString("0.03"),
		ReorderLevelMeters: testsupport.Meters(6000),
	})
	require.NoError(t, err)
	wh := env.Warehouse(t, "WH1")
	cones := env.AvailableCones(t, tt.ID, wh.ID, nil, 5000, 5000)

	_, err = models.ChangeConeStatus(env.Ctx, []int{cones[0].ID}, models.ConeStatusWrittenOff)
	require.NoError(t, err)

	alerts := env.Events(notify.TypeStockAlert)
	require.Len(t, alerts, 1)
	assert.Equal(t, tt.ID, alerts[0].Metadata["thread_type_id"])
}
