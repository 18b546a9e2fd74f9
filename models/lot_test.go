package models_test

import (
	"errors"
	"testing"
	"time"

	"bitbucket.org/mmdatafocus/thread_backend/models"
	"bitbucket.org/mmdatafocus/thread_backend/testsupport"
	"bitbucket.org/mmdatafocus/thread_backend/utils"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
)

func createLot(t *testing.T, env *testsupport.Env, input *models.NewLot) *models.Lot {
	t.Helper()
	var lot *models.Lot
	err := env.DB.Transaction(func(tx *gorm.DB) error {
		var err error
		lot, err = models.CreateLot(tx, input)
		return err
	})
	require.NoError(t, err)
	return lot
}

func TestCreateLot(t *testing.T) {
	env := testsupport.OpenTestDB(t)
	tt := env.ThreadType(t, "T40", "0.05", "0")
	wh := env.Warehouse(t, "WH1")

	lot := createLot(t, env, &models.NewLot{LotNumber: " LOT-1 ", ThreadTypeId: tt.ID, WarehouseId: wh.ID})
	assert.Equal(t, "LOT-1", lot.LotNumber)
	assert.Equal(t, models.LotStatusActive, lot.Status)
	assert.Zero(t, lot.TotalCones)

	err := env.DB.Transaction(func(tx *gorm.DB) error {
		_, err := models.CreateLot(tx, &models.NewLot{LotNumber: "LOT-1", ThreadTypeId: tt.ID, WarehouseId: wh.ID})
		return err
	})
	assert.True(t, errors.Is(err, utils.ErrConflict))

	produced := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)
	expires := produced.AddDate(0, -1, 0)
	err = env.DB.Transaction(func(tx *gorm.DB) error {
		_, err := models.CreateLot(tx, &models.NewLot{
			LotNumber: "LOT-2", ThreadTypeId: tt.ID, WarehouseId: wh.ID,
			ProductionDate: &produced, ExpiryDate: &expires,
		})
		return err
	})
	assert.True(t, errors.Is(err, utils.ErrValidation))

	err = env.DB.Transaction(func(tx *gorm.DB) error {
		_, err := models.CreateLot(tx, &models.NewLot{LotNumber: "LOT-3", ThreadTypeId: 999, WarehouseId: wh.ID})
		return err
	})
	assert.True(t, errors.Is(err, utils.ErrNotFound))
}

func TestGetOrCreateLot_RejectsForeignLot(t *testing.T) {
	env := testsupport.OpenTestDB(t)
	tt := env.ThreadType(t, "T40", "0.05", "0")
	wh1 := env.Warehouse(t, "WH1")
	wh2 := env.Warehouse(t, "WH2")
	lot := createLot(t, env, &models.NewLot{LotNumber: "LOT-1", ThreadTypeId: tt.ID, WarehouseId: wh1.ID})

	err := env.DB.Transaction(func(tx *gorm.DB) error {
		same, err := models.GetOrCreateLot(tx, &models.NewLot{LotNumber: "LOT-1", ThreadTypeId: tt.ID, WarehouseId: wh1.ID})
		if err == nil {
			assert.Equal(t, lot.ID, same.ID)
		}
		return err
	})
	require.NoError(t, err)

	err = env.DB.Transaction(func(tx *gorm.DB) error {
		_, err := models.GetOrCreateLot(tx, &models.NewLot{LotNumber: "LOT-1", ThreadTypeId: tt.ID, WarehouseId: wh2.ID})
		return err
	})
	assert.True(t, errors.Is(err, utils.ErrConflict))
}

func TestRecomputeLotCounts(t *testing.T) {
	env := testsupport.OpenTestDB(t)
	tt := env.ThreadType(t, "T40", "0.05", "0")
	wh := env.Warehouse(t, "WH1")
	lot := createLot(t, env, &models.NewLot{LotNumber: "LOT-1", ThreadTypeId: tt.ID, WarehouseId: wh.ID})

	cones := env.AvailableCones(t, tt.ID, wh.ID, &lot.ID, 5000, 5000, 5000)
	refreshed, err := models.GetLot(env.Ctx, lot.ID)
	require.NoError(t, err)
	assert.Equal(t, 3, refreshed.TotalCones)
	assert.Equal(t, 3, refreshed.AvailableCones)

	env.InProduction(t, cones[0].ID)
	require.NoError(t, env.DB.Transaction(func(tx *gorm.DB) error {
		return models.RecomputeLotCounts(tx, lot.ID)
	}))
	refreshed, err = models.GetLot(env.Ctx, lot.ID)
	require.NoError(t, err)
	assert.Equal(t, 3, refreshed.TotalCones)
	assert.Equal(t, 2, refreshed.AvailableCones)

	_, err = models.ChangeConeStatus(env.Ctx, []int{cones[1].ID, cones[2].ID}, models.ConeStatusWrittenOff)
	require.NoError(t, err)
	refreshed, err = models.GetLot(env.Ctx, lot.ID)
	require.NoError(t, err)
	assert.Equal(t, 0, refreshed.AvailableCones)
	assert.Equal(t, models.LotStatusDepleted, refreshed.Status)
}

func TestUpdateLot(t *testing.T) {
	env := testsupport.OpenTestDB(t)
	tt := env.ThreadType(t, "T40", "0.05", "0")
	wh := env.Warehouse(t, "WH1")
	lot := createLot(t, env, &models.NewLot{LotNumber: "LOT-1", ThreadTypeId: tt.ID, WarehouseId: wh.ID})
	env.AvailableCones(t, tt.ID, wh.ID, &lot.ID, 5000)

	quarantine := models.LotStatusQuarantine
	supplier := "Coats"
	updated, err := models.UpdateLot(env.Ctx, lot.ID, &models.UpdateLotInput{Status: &quarantine, Supplier: &supplier})
	require.NoError(t, err)
	assert.Equal(t, models.LotStatusQuarantine, updated.Status)
	assert.Equal(t, "Coats", updated.Supplier)

	// a manual state survives recounts
	require.NoError(t, env.DB.Transaction(func(tx *gorm.DB) error {
		return models.RecomputeLotCounts(tx, lot.ID)
	}))
	refreshed, err := models.GetLot(env.Ctx, lot.ID)
	require.NoError(t, err)
	assert.Equal(t, models.LotStatusQuarantine, refreshed.Status)

	active := models.LotStatusActive
	updated, err = models.UpdateLot(env.Ctx, lot.ID, &models.UpdateLotInput{Status: &active})
	require.NoError(t, err)
	assert.Equal(t, models.LotStatusActive, updated.Status)
	assert.Equal(t, 1, updated.AvailableCones)

	bogus := models.LotStatus("GONE")
	_, err = models.UpdateLot(env.Ctx, lot.ID, &models.UpdateLotInput{Status: &bogus})
	assert.True(t, errors.Is(err, utils.ErrValidation))

	_, err = models.UpdateLot(env.Ctx, 999, &models.UpdateLotInput{Supplier: &supplier})
	assert.True(t, errors.Is(err, utils.ErrNotFound))
}

func TestRelocateLotIfEmptied(t *testing.T) {
	env := testsupport.OpenTestDB(t)
	tt := env.ThreadType(t, "T40", "0.05", "0")
	wh1 := env.Warehouse(t, "WH1")
	wh2 := env.Warehouse(t, "WH2")
	lot := createLot(t, env, &models.NewLot{LotNumber: "LOT-1", ThreadTypeId: tt.ID, WarehouseId: wh1.ID})
	cones := env.AvailableCones(t, tt.ID, wh1.ID, &lot.ID, 5000, 5000)

	move := func(ids ...int) bool {
		var moved bool
		require.NoError(t, env.DB.Transaction(func(tx *gorm.DB) error {
			if _, err := models.TransferCones(tx, ids, wh1.ID, wh2.ID); err != nil {
				return err
			}
			var err error
			moved, err = models.RelocateLotIfEmptied(tx, lot.ID, wh1.ID, wh2.ID)
			return err
		}))
		return moved
	}

	assert.False(t, move(cones[0].ID))
	assert.True(t, move(cones[1].ID))
	refreshed, err := models.GetLot(env.Ctx, lot.ID)
	require.NoError(t, err)
	assert.Equal(t, wh2.ID, refreshed.WarehouseId)
}
