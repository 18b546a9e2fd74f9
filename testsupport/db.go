// Package testsupport wires an in-memory store and a recording notifier for package tests.
package testsupport

import (
	"context"
	"fmt"
	"testing"
	"time"

	"bitbucket.org/mmdatafocus/thread_backend/config"
	"bitbucket.org/mmdatafocus/thread_backend/models"
	"bitbucket.org/mmdatafocus/thread_backend/notify"
	"bitbucket.org/mmdatafocus/thread_backend/utils"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
)

type Env struct {
	Ctx        context.Context
	DB         *gorm.DB
	Recorder   *notify.Recorder
	Dispatcher *notify.Dispatcher
}

// OpenTestDB installs a fresh in-memory SQLite database as the global connection, migrates
// the schema and routes notifications to a Recorder. Everything is undone on cleanup.
func OpenTestDB(t testing.TB) *Env {
	t.Helper()

	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared", uuid.NewString())
	require.NoError(t, config.OpenDatabase(config.DriverSQLite, dsn))
	require.NoError(t, models.AutoMigrate(config.GetDB()))

	recorder := &notify.Recorder{}
	dispatcher := notify.NewDispatcher(recorder)
	prev := notify.SetDefault(dispatcher)
	t.Cleanup(func() {
		dispatcher.Wait()
		notify.SetDefault(prev)
		_ = config.CloseDatabase()
	})

	ctx := utils.SetUserNameInContext(context.Background(), "tester")
	return &Env{Ctx: ctx, DB: config.GetDB(), Recorder: recorder, Dispatcher: dispatcher}
}

// Events waits for in-flight deliveries and returns what was recorded for t.
func (e *Env) Events(t notify.Type) []notify.Event {
	e.Dispatcher.Wait()
	return e.Recorder.OfType(t)
}

func Meters(v int64) decimal.Decimal {
	return decimal.NewFromInt(v)
}

func (e *Env) ThreadType(t testing.TB, code string, density string, tare string) *models.ThreadType {
	t.Helper()
	threadType, err := models.CreateThreadType(e.Ctx, &models.NewThreadType{
		Code:                 code,
		Name:                 "Thread " + code,
		DensityGramsPerMeter: decimal.RequireFromString(density),
		TareWeightGrams:      decimal.RequireFromString(tare),
	})
	require.NoError(t, err)
	return threadType
}

func (e *Env) Warehouse(t testing.TB, code string) *models.Warehouse {
	t.Helper()
	warehouse, err := models.CreateWarehouse(e.Ctx, &models.NewWarehouse{Code: code, Name: "Warehouse " + code})
	require.NoError(t, err)
	return warehouse
}

// AvailableCones receives one cone per length and shelves them. Cones are received one second
// apart in the given order so selection order is deterministic.
func (e *Env) AvailableCones(t testing.TB, threadTypeId int, warehouseId int, lotId *int, lengths ...int64) []*models.Cone {
	t.Helper()
	cones := e.ReceivedCones(t, threadTypeId, warehouseId, lotId, lengths...)
	ids := make([]int, 0, len(cones))
	for _, cone := range cones {
		ids = append(ids, cone.ID)
	}
	shelved, err := models.ShelveCones(e.Ctx, ids)
	require.NoError(t, err)
	return shelved
}

func (e *Env) ReceivedCones(t testing.TB, threadTypeId int, warehouseId int, lotId *int, lengths ...int64) []*models.Cone {
	t.Helper()
	base := time.Now().UTC().Add(-time.Hour)
	var cones []*models.Cone
	err := e.DB.WithContext(e.Ctx).Transaction(func(tx *gorm.DB) error {
		for i, length := range lengths {
			received, err := models.ReceiveCones(tx, &models.ConeReceipt{
				ThreadTypeId: threadTypeId,
				WarehouseId:  warehouseId,
				LotId:        lotId,
				ReceivedAt:   base.Add(time.Duration(i) * time.Second),
				Cones: []models.NewConeSpec{{
					ScanCode:       "SC-" + uuid.NewString()[:8],
					QuantityMeters: Meters(length),
				}},
			})
			if err != nil {
				return err
			}
			cones = append(cones, received...)
		}
		if lotId != nil {
			return models.RecomputeLotCounts(tx, *lotId)
		}
		return nil
	})
	require.NoError(t, err)
	return cones
}

// InProduction walks cones from AVAILABLE to IN_PRODUCTION directly on the ledger.
func (e *Env) InProduction(t testing.TB, coneIds ...int) {
	t.Helper()
	err := e.DB.WithContext(e.Ctx).Transaction(func(tx *gorm.DB) error {
		_, err := models.AdvanceConeStatus(tx, coneIds,
			models.ConeStatusSoftAllocated, models.ConeStatusHardAllocated, models.ConeStatusInProduction)
		return err
	})
	require.NoError(t, err)
}

func (e *Env) Cone(t testing.TB, id int) *models.Cone {
	t.Helper()
	cone, err := models.GetCone(e.Ctx, id)
	require.NoError(t, err)
	return cone
}

// LinkSum totals the cone links of an allocation.
func (e *Env) LinkSum(t testing.TB, allocationId int) decimal.Decimal {
	t.Helper()
	var links []*models.AllocationConeLink
	require.NoError(t, e.DB.Where("allocation_id = ?", allocationId).Find(&links).Error)
	sum := decimal.Zero
	for _, link := range links {
		sum = sum.Add(link.AllocatedMeters)
	}
	return sum
}
