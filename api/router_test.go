package api_test

import (
	"bytes"
	"encoding/json"
	"fmt"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"testing"

	"bitbucket.org/mmdatafocus/thread_backend/api"
	"bitbucket.org/mmdatafocus/thread_backend/models"
	"bitbucket.org/mmdatafocus/thread_backend/testsupport"
	"bitbucket.org/mmdatafocus/thread_backend/utils"
	"github.com/gin-gonic/gin"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/xuri/excelize/v2"
)

func init() {
	gin.SetMode(gin.TestMode)
}

type client struct {
	t      *testing.T
	router *gin.Engine
}

func newClient(t *testing.T) (*client, *testsupport.Env) {
	env := testsupport.OpenTestDB(t)
	return &client{t: t, router: api.NewRouter()}, env
}

func (c *client) do(method, path string, body any, out any) *httptest.ResponseRecorder {
	c.t.Helper()
	var payload bytes.Buffer
	if body != nil {
		require.NoError(c.t, json.NewEncoder(&payload).Encode(body))
	}
	req := httptest.NewRequest(method, path, &payload)
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-User-Name", "kyaw")
	w := httptest.NewRecorder()
	c.router.ServeHTTP(w, req)
	if out != nil && w.Code < 300 {
		require.NoError(c.t, json.Unmarshal(w.Body.Bytes(), out), w.Body.String())
	}
	return w
}

func decodeError(t *testing.T, w *httptest.ResponseRecorder) utils.CoreError {
	t.Helper()
	var coreErr utils.CoreError
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &coreErr), w.Body.String())
	return coreErr
}

func TestReceiveAllocateIssue(t *testing.T) {
	c, env := newClient(t)
	tt := env.ThreadType(t, "T40", "0.05", "0")
	wh := env.Warehouse(t, "WH1")

	var received struct {
		Cones []models.Cone `json:"cones"`
		Lot   models.Lot    `json:"lot"`
	}
	w := c.do(http.MethodPost, "/api/v1/batch/receive", gin.H{
		"thread_type_id":  tt.ID,
		"warehouse_id":    wh.ID,
		"lot_number":      "LOT-7",
		"meters_per_cone": "5000",
		"cones":           []gin.H{{"scan_code": "C-1"}, {"scan_code": "C-2"}},
	}, &received)
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	require.Len(t, received.Cones, 2)
	assert.Equal(t, 2, received.Lot.AvailableCones)
	assert.NotEmpty(t, w.Header().Get("X-Correlation-Id"))

	var allocation models.Allocation
	w = c.do(http.MethodPost, "/api/v1/allocations", gin.H{
		"order_id":         "PO-9",
		"thread_type_id":   tt.ID,
		"requested_meters": 7000,
	}, &allocation)
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	assert.Equal(t, "kyaw", allocation.CreatedBy)

	var result models.ExecutionResult
	w = c.do(http.MethodPost, fmt.Sprintf("/api/v1/allocations/%d/execute", allocation.ID), nil, &result)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	assert.Equal(t, models.AllocationStatusSoft, result.Allocation.Status)
	assert.True(t, decimal.NewFromInt(7000).Equal(result.ReservedMeters))

	w = c.do(http.MethodPost, fmt.Sprintf("/api/v1/allocations/%d/issue", allocation.ID), nil, &allocation)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	assert.Equal(t, models.AllocationStatusIssued, allocation.Status)
	assert.Equal(t, "kyaw", allocation.IssuedBy)

	w = c.do(http.MethodPost, fmt.Sprintf("/api/v1/allocations/%d/cancel", allocation.ID), gin.H{"reason": "late"}, nil)
	assert.Equal(t, http.StatusConflict, w.Code)

	var summary []models.AvailabilitySummary
	w = c.do(http.MethodGet, fmt.Sprintf("/api/v1/availability?thread_type_id=%d", tt.ID), nil, &summary)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	require.Len(t, summary, 1)
	assert.True(t, summary[0].TotalMeters.IsZero())
}

func TestErrorKindsMapToStatus(t *testing.T) {
	c, env := newClient(t)
	tt := env.ThreadType(t, "T40", "0.05", "0")
	wh := env.Warehouse(t, "WH1")
	env.AvailableCones(t, tt.ID, wh.ID, nil, 5000)

	w := c.do(http.MethodGet, "/api/v1/lots/999", nil, nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
	assert.Equal(t, utils.ErrorKindNotFound, decodeError(t, w).Kind)

	w = c.do(http.MethodGet, "/api/v1/lots/abc", nil, nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = c.do(http.MethodPost, "/api/v1/thread-types", gin.H{"code": "T40", "name": "again", "density_grams_per_meter": "0.05"}, nil)
	assert.Equal(t, http.StatusConflict, w.Code)

	w = c.do(http.MethodPost, "/api/v1/batch/receive", gin.H{
		"thread_type_id": tt.ID, "warehouse_id": wh.ID, "cones": []gin.H{{"scan_code": "S-1"}, {"scan_code": "S-1"}},
	}, nil)
	assert.Equal(t, http.StatusConflict, w.Code)
	assert.Equal(t, []string{"S-1"}, decodeError(t, w).Identifiers)

	t.Setenv("STRICT_ALLOCATION_SUPPLY", "true")
	var allocation models.Allocation
	w = c.do(http.MethodPost, "/api/v1/allocations", gin.H{
		"order_id": "PO-1", "thread_type_id": tt.ID, "requested_meters": 9000,
	}, &allocation)
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	w = c.do(http.MethodPost, fmt.Sprintf("/api/v1/allocations/%d/execute", allocation.ID), nil, nil)
	assert.Equal(t, http.StatusUnprocessableEntity, w.Code)
	assert.Equal(t, utils.ErrorKindInsufficientSupply, decodeError(t, w).Kind)

	w = c.do(http.MethodGet, "/api/v1/nowhere", nil, nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestRecoveryEndpoints(t *testing.T) {
	c, env := newClient(t)
	tt := env.ThreadType(t, "T40", "0.05", "50")
	wh := env.Warehouse(t, "WH1")
	cones := env.AvailableCones(t, tt.ID, wh.ID, nil, 5000)
	env.InProduction(t, cones[0].ID)

	var calc models.RemainingLength
	w := c.do(http.MethodPost, "/api/v1/recoveries/calculate", gin.H{
		"gross_weight_grams": "175", "tare_weight_grams": "50", "density_grams_per_meter": "0.05", "original_meters": "5000",
	}, &calc)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	assert.True(t, decimal.NewFromInt(2500).Equal(calc.RemainingMeters))
	assert.False(t, calc.IsAnomaly)

	var recovery models.Recovery
	w = c.do(http.MethodPost, "/api/v1/recoveries", gin.H{"scan_code": cones[0].ScanCode}, &recovery)
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	assert.Equal(t, "kyaw", recovery.ReturnedBy)

	w = c.do(http.MethodPost, fmt.Sprintf("/api/v1/recoveries/%d/weigh", recovery.ID), gin.H{"gross_weight_grams": "175"}, &recovery)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	assert.True(t, decimal.NewFromInt(2500).Equal(recovery.RemainingMeters.Decimal))

	w = c.do(http.MethodPost, fmt.Sprintf("/api/v1/recoveries/%d/confirm", recovery.ID), nil, &recovery)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	assert.Equal(t, models.RecoveryStatusConfirmed, recovery.Status)

	w = c.do(http.MethodPost, fmt.Sprintf("/api/v1/recoveries/%d/photo", recovery.ID), nil, nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestBatchReceiveSheet(t *testing.T) {
	c, env := newClient(t)
	tt := env.ThreadType(t, "T40", "0.05", "0")
	wh := env.Warehouse(t, "WH1")

	f := excelize.NewFile()
	sheet := f.GetSheetName(0)
	require.NoError(t, f.SetSheetRow(sheet, "A1", &[]interface{}{"scan_code", "quantity_meters"}))
	require.NoError(t, f.SetSheetRow(sheet, "A2", &[]interface{}{"X-1", "4000"}))
	require.NoError(t, f.SetSheetRow(sheet, "A3", &[]interface{}{"X-2", "4500"}))
	workbook, err := f.WriteToBuffer()
	require.NoError(t, err)
	require.NoError(t, f.Close())

	var body bytes.Buffer
	mw := multipart.NewWriter(&body)
	require.NoError(t, mw.WriteField("thread_type_id", fmt.Sprint(tt.ID)))
	require.NoError(t, mw.WriteField("warehouse_id", fmt.Sprint(wh.ID)))
	require.NoError(t, mw.WriteField("lot_number", "LOT-XL"))
	part, err := mw.CreateFormFile("sheet", "delivery.xlsx")
	require.NoError(t, err)
	_, err = part.Write(workbook.Bytes())
	require.NoError(t, err)
	require.NoError(t, mw.Close())

	req := httptest.NewRequest(http.MethodPost, "/api/v1/batch/receive/xlsx", &body)
	req.Header.Set("Content-Type", mw.FormDataContentType())
	w := httptest.NewRecorder()
	c.router.ServeHTTP(w, req)
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())

	var result struct {
		Cones []models.Cone `json:"cones"`
		Lot   models.Lot    `json:"lot"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &result))
	require.Len(t, result.Cones, 2)
	assert.True(t, decimal.NewFromInt(4500).Equal(result.Cones[1].QuantityMeters))
	assert.Equal(t, "LOT-XL", result.Lot.LotNumber)

	w = c.do(http.MethodGet, "/api/v1/batch/export", nil, nil)
	require.Equal(t, http.StatusOK, w.Code)
	exported, err := excelize.OpenReader(w.Body)
	require.NoError(t, err)
	defer exported.Close()
	rows, err := exported.GetRows(exported.GetSheetName(0))
	require.NoError(t, err)
	assert.Len(t, rows, 2)
}
