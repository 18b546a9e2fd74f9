package workflow_test

import (
	"bytes"
	"errors"
	"testing"

	"bitbucket.org/mmdatafocus/thread_backend/models"
	"bitbucket.org/mmdatafocus/thread_backend/testsupport"
	"bitbucket.org/mmdatafocus/thread_backend/utils"
	"bitbucket.org/mmdatafocus/thread_backend/workflow"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/xuri/excelize/v2"
)

func deliverySheet(t *testing.T, rows ...[]interface{}) *bytes.Buffer {
	t.Helper()
	f := excelize.NewFile()
	defer f.Close()
	sheet := f.GetSheetName(0)
	for i, row := range rows {
		cell, err := excelize.CoordinatesToCellName(1, i+1)
		require.NoError(t, err)
		require.NoError(t, f.SetSheetRow(sheet, cell, &row))
	}
	buf, err := f.WriteToBuffer()
	require.NoError(t, err)
	return buf
}

func TestParseReceiveSheet(t *testing.T) {
	buf := deliverySheet(t,
		[]interface{}{"Scan_Code", "quantity_meters", "weight_grams", "expiry_date", "location"},
		[]interface{}{"D-1", "3000", "", "2027-01-31", "Rack A"},
		[]interface{}{"D-2", "", "250", "", ""},
		[]interface{}{"", "", "", "", ""},
		[]interface{}{"D-3"},
	)

	cones, err := workflow.ParseReceiveSheet(buf)
	require.NoError(t, err)
	require.Len(t, cones, 3)
	assert.Equal(t, "D-1", cones[0].ScanCode)
	require.NotNil(t, cones[0].QuantityMeters)
	assert.True(t, decimal.NewFromInt(3000).Equal(*cones[0].QuantityMeters))
	require.NotNil(t, cones[0].ExpiryDate)
	assert.Equal(t, "Rack A", cones[0].Location)
	assert.Nil(t, cones[1].QuantityMeters)
	require.NotNil(t, cones[1].WeightGrams)
	assert.Nil(t, cones[2].WeightGrams)
}

func TestParseReceiveSheet_Rejects(t *testing.T) {
	cases := map[string]*bytes.Buffer{
		"no scan code column": deliverySheet(t, []interface{}{"code"}, []interface{}{"D-1"}),
		"missing scan code":   deliverySheet(t, []interface{}{"scan_code", "location"}, []interface{}{"", "Rack A"}),
		"bad meters":          deliverySheet(t, []interface{}{"scan_code", "quantity_meters"}, []interface{}{"D-1", "lots"}),
		"bad expiry":          deliverySheet(t, []interface{}{"scan_code", "expiry_date"}, []interface{}{"D-1", "31/01/2027"}),
		"no cones":            deliverySheet(t, []interface{}{"scan_code"}),
		"not a workbook":      bytes.NewBufferString("scan_code\nD-1\n"),
	}
	for name, buf := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := workflow.ParseReceiveSheet(buf)
			assert.True(t, errors.Is(err, utils.ErrValidation), "%v", err)
		})
	}
}

func TestWriteBatchTransactionsSheet(t *testing.T) {
	env := testsupport.OpenTestDB(t)
	tt := env.ThreadType(t, "T40", "0.05", "0")
	wh := env.Warehouse(t, "WH1")
	_, err := workflow.BatchReceive(env.Ctx, &workflow.BatchReceiveInput{
		ThreadTypeId: tt.ID, WarehouseId: wh.ID, LotNumber: "LOT-X", ReferenceNumber: "GRN-1", Cones: receiveCones("X-1", "X-2"),
	})
	require.NoError(t, err)
	records, err := models.ListBatchTransactions(env.Ctx, nil)
	require.NoError(t, err)

	var buf bytes.Buffer
	require.NoError(t, workflow.WriteBatchTransactionsSheet(&buf, records))

	f, err := excelize.OpenReader(&buf)
	require.NoError(t, err)
	defer f.Close()
	rows, err := f.GetRows(f.GetSheetName(0))
	require.NoError(t, err)
	require.Len(t, rows, 2)
	assert.Equal(t, "Operation", rows[0][1])
	assert.Equal(t, string(models.BatchOperationReceive), rows[1][1])
	assert.Equal(t, "2", rows[1][3])
	assert.Equal(t, "GRN-1", rows[1][8])
	assert.Equal(t, "tester", rows[1][9])
}
