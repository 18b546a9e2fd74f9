package workflow_test

import (
	"errors"
	"fmt"
	"testing"

	"bitbucket.org/mmdatafocus/thread_backend/models"
	"bitbucket.org/mmdatafocus/thread_backend/notify"
	"bitbucket.org/mmdatafocus/thread_backend/testsupport"
	"bitbucket.org/mmdatafocus/thread_backend/utils"
	"bitbucket.org/mmdatafocus/thread_backend/workflow"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func receiveCones(codes ...string) []workflow.BatchReceiveCone {
	cones := make([]workflow.BatchReceiveCone, 0, len(codes))
	for _, code := range codes {
		cones = append(cones, workflow.BatchReceiveCone{ScanCode: code})
	}
	return cones
}

func batchRecords(t *testing.T, env *testsupport.Env, op models.BatchOperationType) []*models.BatchTransaction {
	t.Helper()
	records, err := models.ListBatchTransactions(env.Ctx, &models.BatchTransactionFilter{OperationType: &op})
	require.NoError(t, err)
	return records
}

func TestBatchReceive_CreatesLotAndAudit(t *testing.T) {
	env := testsupport.OpenTestDB(t)
	tt := env.ThreadType(t, "T40", "0.05", "50")
	wh := env.Warehouse(t, "WH1")

	explicit := decimal.NewFromInt(3000)
	weight := decimal.NewFromInt(250)
	input := &workflow.BatchReceiveInput{
		ThreadTypeId: tt.ID,
		WarehouseId:  wh.ID,
		LotNumber:    "LOT-2026-01",
		Supplier:     "Coats",
		Cones: []workflow.BatchReceiveCone{
			{ScanCode: "C-1", QuantityMeters: &explicit},
			{ScanCode: "C-2", WeightGrams: &weight},
			{ScanCode: "C-3"},
		},
		ReferenceNumber: "GRN-7",
		PerformedBy:     "receiver",
	}

	result, err := workflow.BatchReceive(env.Ctx, input)
	require.NoError(t, err)
	require.Len(t, result.Cones, 3)
	assert.True(t, decimal.NewFromInt(3000).Equal(result.Cones[0].QuantityMeters))
	// (250 - 50) / 0.05
	assert.True(t, decimal.NewFromInt(4000).Equal(result.Cones[1].QuantityMeters))
	assert.True(t, decimal.NewFromInt(5000).Equal(result.Cones[2].QuantityMeters), "falls back to the default length")
	for _, cone := range result.Cones {
		assert.Equal(t, models.ConeStatusReceived, cone.Status)
		require.NotNil(t, cone.LotId)
		assert.Equal(t, result.Lot.ID, *cone.LotId)
	}

	require.NotNil(t, result.Lot)
	assert.Equal(t, "LOT-2026-01", result.Lot.LotNumber)
	assert.Equal(t, 3, result.Lot.TotalCones)
	assert.Equal(t, 3, result.Lot.AvailableCones)

	require.NotNil(t, result.Transaction)
	assert.Equal(t, models.BatchOutcomeSucceeded, result.Transaction.Outcome)
	assert.Equal(t, 3, result.Transaction.ConeCount)
	assert.Equal(t, "receiver", result.Transaction.PerformedBy)
	require.NotNil(t, result.Transaction.LotId)
	ids, err := result.Transaction.ConeIdList()
	require.NoError(t, err)
	assert.Len(t, ids, 3)

	events := env.Events(notify.TypeBatchReceive)
	require.Len(t, events, 1)
	assert.Equal(t, 3, events[0].Metadata["cone_count"])
}

func TestBatchReceive_MetersPerConeFallbacks(t *testing.T) {
	env := testsupport.OpenTestDB(t)
	catalogLength := decimal.NewFromInt(2500)
	tt, err := models.CreateThreadType(env.Ctx, &models.NewThreadType{
		Code: "T80", Name: "Thread 80", DensityGramsPerMeter: decimal.RequireFromString("0.03"), MetersPerCone: &catalogLength,
	})
	require.NoError(t, err)
	wh := env.Warehouse(t, "WH1")

	result, err := workflow.BatchReceive(env.Ctx, &workflow.BatchReceiveInput{
		ThreadTypeId: tt.ID, WarehouseId: wh.ID, Cones: receiveCones("A-1"),
	})
	require.NoError(t, err)
	assert.True(t, catalogLength.Equal(result.Cones[0].QuantityMeters))
	assert.Nil(t, result.Lot)

	perCone := decimal.NewFromInt(1800)
	result, err = workflow.BatchReceive(env.Ctx, &workflow.BatchReceiveInput{
		ThreadTypeId: tt.ID, WarehouseId: wh.ID, MetersPerCone: &perCone, Cones: receiveCones("A-2"),
	})
	require.NoError(t, err)
	assert.True(t, perCone.Equal(result.Cones[0].QuantityMeters))

	t.Setenv("DEFAULT_METERS_PER_CONE", "4200")
	bare := env.ThreadType(t, "T100", "0.02", "0")
	result, err = workflow.BatchReceive(env.Ctx, &workflow.BatchReceiveInput{
		ThreadTypeId: bare.ID, WarehouseId: wh.ID, Cones: receiveCones("A-3"),
	})
	require.NoError(t, err)
	assert.True(t, decimal.NewFromInt(4200).Equal(result.Cones[0].QuantityMeters))
}

func TestBatchReceive_AllOrNothing(t *testing.T) {
	env := testsupport.OpenTestDB(t)
	tt := env.ThreadType(t, "T40", "0.05", "0")
	wh := env.Warehouse(t, "WH1")

	_, err := workflow.BatchReceive(env.Ctx, &workflow.BatchReceiveInput{
		ThreadTypeId: tt.ID, WarehouseId: wh.ID, Cones: receiveCones("X-1"),
	})
	require.NoError(t, err)

	_, err = workflow.BatchReceive(env.Ctx, &workflow.BatchReceiveInput{
		ThreadTypeId: tt.ID, WarehouseId: wh.ID, LotNumber: "LOT-9", Cones: receiveCones("X-2", "X-1", "X-3"),
	})
	require.True(t, errors.Is(err, utils.ErrConflict))
	var coreErr *utils.CoreError
	require.True(t, errors.As(err, &coreErr))
	assert.Equal(t, []string{"X-1"}, coreErr.Identifiers)

	for _, code := range []string{"X-2", "X-3"} {
		_, err := models.GetConeByScanCode(env.Ctx, code)
		assert.True(t, errors.Is(err, utils.ErrNotFound), code)
	}
	_, err = models.GetLotByNumber(env.Ctx, "LOT-9")
	assert.True(t, errors.Is(err, utils.ErrNotFound), "the lot is rolled back with the cones")

	failed := models.BatchOutcomeFailed
	records, err := models.ListBatchTransactions(env.Ctx, &models.BatchTransactionFilter{Outcome: &failed})
	require.NoError(t, err)
	require.Len(t, records, 1)
	assert.Equal(t, models.BatchOperationReceive, records[0].OperationType)
	assert.Nil(t, records[0].LotId)
	assert.Zero(t, records[0].ConeCount)
	assert.Contains(t, records[0].ErrorMessage, "X-1")
	assert.Len(t, env.Events(notify.TypeBatchReceive), 1)
}

func TestBatchReceive_DuplicateCodesInRequest(t *testing.T) {
	env := testsupport.OpenTestDB(t)
	tt := env.ThreadType(t, "T40", "0.05", "0")
	wh := env.Warehouse(t, "WH1")

	_, err := workflow.BatchReceive(env.Ctx, &workflow.BatchReceiveInput{
		ThreadTypeId: tt.ID, WarehouseId: wh.ID, Cones: receiveCones("D-1", " D-1"),
	})
	assert.True(t, errors.Is(err, utils.ErrConflict))
	assert.Empty(t, batchRecords(t, env, models.BatchOperationReceive), "rejected before any work is attempted")
}

func TestBatchOperations_SizeLimit(t *testing.T) {
	env := testsupport.OpenTestDB(t)
	tt := env.ThreadType(t, "T40", "0.05", "0")
	wh := env.Warehouse(t, "WH1")
	wh2 := env.Warehouse(t, "WH2")

	codes := make([]string, workflow.MaxBatchSize+1)
	ids := make([]int, workflow.MaxBatchSize+1)
	for i := range codes {
		codes[i] = fmt.Sprintf("BULK-%04d", i)
		ids[i] = i + 1
	}

	_, err := workflow.BatchReceive(env.Ctx, &workflow.BatchReceiveInput{
		ThreadTypeId: tt.ID, WarehouseId: wh.ID, Cones: receiveCones(codes...),
	})
	assert.True(t, errors.Is(err, utils.ErrValidation))

	_, err = workflow.BatchTransfer(env.Ctx, &workflow.BatchTransferInput{ConeIds: ids, FromWarehouseId: wh.ID, ToWarehouseId: wh2.ID})
	assert.True(t, errors.Is(err, utils.ErrValidation))
	_, err = workflow.BatchIssue(env.Ctx, &workflow.BatchIssueInput{ConeIds: ids, WarehouseId: wh.ID, Recipient: "line 1"})
	assert.True(t, errors.Is(err, utils.ErrValidation))
	_, err = workflow.BatchReturn(env.Ctx, &workflow.BatchReturnInput{ConeIds: ids, ToWarehouseId: wh.ID})
	assert.True(t, errors.Is(err, utils.ErrValidation))

	result, err := workflow.BatchReceive(env.Ctx, &workflow.BatchReceiveInput{
		ThreadTypeId: tt.ID, WarehouseId: wh.ID, Cones: receiveCones(codes[:workflow.MaxBatchSize]...),
	})
	require.NoError(t, err)
	assert.Len(t, result.Cones, workflow.MaxBatchSize)
}

func TestBatchTransfer_LotFollowsItsCones(t *testing.T) {
	env := testsupport.OpenTestDB(t)
	tt := env.ThreadType(t, "T40", "0.05", "0")
	wh1 := env.Warehouse(t, "WH1")
	wh2 := env.Warehouse(t, "WH2")
	received, err := workflow.BatchReceive(env.Ctx, &workflow.BatchReceiveInput{
		ThreadTypeId: tt.ID, WarehouseId: wh1.ID, LotNumber: "LOT-1", Cones: receiveCones("L-1", "L-2", "L-3"),
	})
	require.NoError(t, err)
	lotId := received.Lot.ID

	_, err = workflow.BatchTransfer(env.Ctx, &workflow.BatchTransferInput{
		ConeIds: []int{received.Cones[0].ID}, LotId: &lotId, FromWarehouseId: wh1.ID, ToWarehouseId: wh2.ID,
	})
	assert.True(t, errors.Is(err, utils.ErrValidation), "ids and lot are exclusive")

	result, err := workflow.BatchTransfer(env.Ctx, &workflow.BatchTransferInput{
		ConeIds: []int{received.Cones[0].ID}, FromWarehouseId: wh1.ID, ToWarehouseId: wh2.ID, ReferenceNumber: "TR-1",
	})
	require.NoError(t, err)
	assert.Equal(t, wh2.ID, result.Cones[0].WarehouseId)
	lot, err := models.GetLot(env.Ctx, lotId)
	require.NoError(t, err)
	assert.Equal(t, wh1.ID, lot.WarehouseId, "two cones are still in WH1")

	result, err = workflow.BatchTransfer(env.Ctx, &workflow.BatchTransferInput{
		LotId: &lotId, FromWarehouseId: wh1.ID, ToWarehouseId: wh2.ID,
	})
	require.NoError(t, err)
	assert.Len(t, result.Cones, 2)
	lot, err = models.GetLot(env.Ctx, lotId)
	require.NoError(t, err)
	assert.Equal(t, wh2.ID, lot.WarehouseId)
	assert.Equal(t, 3, lot.TotalCones)

	// the rejected selection never reached the ledger and left no audit row
	records := batchRecords(t, env, models.BatchOperationTransfer)
	require.Len(t, records, 2)
	assert.Equal(t, models.BatchOutcomeSucceeded, records[0].Outcome)
	assert.Equal(t, 2, records[0].ConeCount)
	assert.Equal(t, lotId, *records[0].LotId)
	assert.Equal(t, "TR-1", records[1].ReferenceNumber)
}

func TestBatchTransfer_RejectsWholeBatch(t *testing.T) {
	env := testsupport.OpenTestDB(t)
	tt := env.ThreadType(t, "T40", "0.05", "0")
	wh1 := env.Warehouse(t, "WH1")
	wh2 := env.Warehouse(t, "WH2")
	cones := env.AvailableCones(t, tt.ID, wh1.ID, nil, 5000, 5000, 5000)
	env.InProduction(t, cones[2].ID)

	_, err := workflow.BatchTransfer(env.Ctx, &workflow.BatchTransferInput{
		ConeIds: []int{cones[0].ID, cones[1].ID, cones[2].ID}, FromWarehouseId: wh1.ID, ToWarehouseId: wh2.ID,
	})
	require.True(t, errors.Is(err, utils.ErrConflict))
	var coreErr *utils.CoreError
	require.True(t, errors.As(err, &coreErr))
	assert.Equal(t, utils.IntIds([]int{cones[2].ID}), coreErr.Identifiers)
	for _, cone := range cones {
		assert.Equal(t, wh1.ID, env.Cone(t, cone.ID).WarehouseId)
	}

	_, err = workflow.BatchTransfer(env.Ctx, &workflow.BatchTransferInput{
		ConeIds: []int{cones[0].ID}, FromWarehouseId: wh1.ID, ToWarehouseId: wh1.ID,
	})
	assert.True(t, errors.Is(err, utils.ErrValidation))
}

func TestBatchIssueAndReturn(t *testing.T) {
	env := testsupport.OpenTestDB(t)
	tt := env.ThreadType(t, "T40", "0.05", "0")
	wh1 := env.Warehouse(t, "WH1")
	wh2 := env.Warehouse(t, "WH2")
	cones := env.AvailableCones(t, tt.ID, wh1.ID, nil, 5000, 5000, 5000)
	ids := []int{cones[0].ID, cones[1].ID}

	_, err := workflow.BatchIssue(env.Ctx, &workflow.BatchIssueInput{ConeIds: ids, WarehouseId: wh2.ID, Recipient: "line 3"})
	assert.True(t, errors.Is(err, utils.ErrConflict), "cones are not in WH2")

	_, err = workflow.BatchIssue(env.Ctx, &workflow.BatchIssueInput{ConeIds: ids, WarehouseId: wh1.ID, Recipient: " "})
	assert.True(t, errors.Is(err, utils.ErrValidation))

	issued, err := workflow.BatchIssue(env.Ctx, &workflow.BatchIssueInput{
		ConeIds: ids, WarehouseId: wh1.ID, Recipient: "line 3", ReferenceNumber: "ISS-1",
	})
	require.NoError(t, err)
	assert.Equal(t, "line 3", issued.Transaction.Recipient)
	for _, id := range ids {
		assert.Equal(t, models.ConeStatusHardAllocated, env.Cone(t, id).Status)
	}
	require.Len(t, env.Events(notify.TypeBatchIssue), 1)

	_, err = workflow.BatchReturn(env.Ctx, &workflow.BatchReturnInput{ConeIds: []int{cones[2].ID}, ToWarehouseId: wh1.ID})
	assert.True(t, errors.Is(err, utils.ErrConflict), "cone was never issued")

	returned, err := workflow.BatchReturn(env.Ctx, &workflow.BatchReturnInput{ConeIds: ids, ToWarehouseId: wh2.ID})
	require.NoError(t, err)
	require.Len(t, returned.Cones, 2)
	for _, cone := range returned.Cones {
		assert.Equal(t, models.ConeStatusAvailable, cone.Status)
		assert.Equal(t, wh2.ID, cone.WarehouseId)
	}
}

func TestBatchReturn_RefusesReservedCones(t *testing.T) {
	env := testsupport.OpenTestDB(t)
	tt := env.ThreadType(t, "T40", "0.05", "0")
	wh := env.Warehouse(t, "WH1")
	cones := env.AvailableCones(t, tt.ID, wh.ID, nil, 5000)
	allocation, err := models.CreateAllocation(env.Ctx, &models.NewAllocation{
		OrderId: "PO-1", ThreadTypeId: tt.ID, RequestedMeters: testsupport.Meters(1000),
	})
	require.NoError(t, err)
	_, err = models.ExecuteAllocation(env.Ctx, allocation.ID)
	require.NoError(t, err)

	_, err = workflow.BatchReturn(env.Ctx, &workflow.BatchReturnInput{ConeIds: []int{cones[0].ID}, ToWarehouseId: wh.ID})
	assert.True(t, errors.Is(err, utils.ErrConflict))
	assert.Equal(t, models.ConeStatusSoftAllocated, env.Cone(t, cones[0].ID).Status)
}

func TestBatchIssue_ByLot(t *testing.T) {
	env := testsupport.OpenTestDB(t)
	tt := env.ThreadType(t, "T40", "0.05", "0")
	wh := env.Warehouse(t, "WH1")
	received, err := workflow.BatchReceive(env.Ctx, &workflow.BatchReceiveInput{
		ThreadTypeId: tt.ID, WarehouseId: wh.ID, LotNumber: "LOT-1", Cones: receiveCones("I-1", "I-2"),
	})
	require.NoError(t, err)
	lotId := received.Lot.ID

	_, err = workflow.BatchIssue(env.Ctx, &workflow.BatchIssueInput{LotId: &lotId, WarehouseId: wh.ID, Recipient: "line 1"})
	assert.True(t, errors.Is(err, utils.ErrValidation), "nothing in the lot is shelved yet")

	_, err = models.ShelveCones(env.Ctx, []int{received.Cones[0].ID, received.Cones[1].ID})
	require.NoError(t, err)
	issued, err := workflow.BatchIssue(env.Ctx, &workflow.BatchIssueInput{LotId: &lotId, WarehouseId: wh.ID, Recipient: "line 1"})
	require.NoError(t, err)
	assert.Len(t, issued.Cones, 2)
	require.NotNil(t, issued.Transaction.LotId)
	assert.Equal(t, lotId, *issued.Transaction.LotId)

	lot, err := models.GetLot(env.Ctx, lotId)
	require.NoError(t, err)
	assert.Equal(t, 2, lot.AvailableCones, "hard allocated cones still count as usable")
}

func TestBatchTransaction_AppendOnly(t *testing.T) {
	env := testsupport.OpenTestDB(t)
	record, err := models.LogBatchTransaction(env.Ctx, &models.NewBatchTransaction{
		OperationType: models.BatchOperationReceive, ConeIds: []int{1, 2},
	})
	require.NoError(t, err)
	assert.Equal(t, "tester", record.PerformedBy)

	assert.Error(t, env.DB.Model(record).Update("notes", "edited").Error)
	assert.Error(t, env.DB.Delete(record).Error)

	stored, err := models.GetBatchTransaction(env.Ctx, record.ID)
	require.NoError(t, err)
	assert.Empty(t, stored.Notes)
}

func TestBatchReceive_RejectsNonPositiveQuantities(t *testing.T) {
	env := testsupport.OpenTestDB(t)
	tt := env.ThreadType(t, "T40", "0.05", "0")
	wh := env.Warehouse(t, "WH1")
	negative := decimal.NewFromInt(-100)
	zero := decimal.Zero

	cases := map[string]*workflow.BatchReceiveInput{
		"negative quantity": {
			ThreadTypeId: tt.ID, WarehouseId: wh.ID,
			Cones: []workflow.BatchReceiveCone{{ScanCode: "N-1", QuantityMeters: &negative}},
		},
		"zero weight": {
			ThreadTypeId: tt.ID, WarehouseId: wh.ID,
			Cones: []workflow.BatchReceiveCone{{ScanCode: "N-2", WeightGrams: &zero}},
		},
		"zero meters per cone": {
			ThreadTypeId: tt.ID, WarehouseId: wh.ID, MetersPerCone: &zero, Cones: receiveCones("N-3"),
		},
	}
	for name, input := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := workflow.BatchReceive(env.Ctx, input)
			assert.True(t, errors.Is(err, utils.ErrValidation), "%v", err)
		})
	}

	cones, err := models.ListCones(env.Ctx, nil)
	require.NoError(t, err)
	assert.Empty(t, cones)
	assert.Empty(t, batchRecords(t, env, models.BatchOperationReceive))
}
