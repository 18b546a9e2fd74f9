package api

import (
	"net/http"
	"strconv"
	"strings"

	"bitbucket.org/mmdatafocus/thread_backend/models"
	"bitbucket.org/mmdatafocus/thread_backend/utils"
	"bitbucket.org/mmdatafocus/thread_backend/workflow"
	"github.com/gin-gonic/gin"
)

func batchReceive(c *gin.Context) {
	var input workflow.BatchReceiveInput
	if !bindJSON(c, &input) {
		return
	}
	result, err := workflow.BatchReceive(c.Request.Context(), &input)
	respond(c, http.StatusCreated, result, err)
}

// batchReceiveSheet takes a multipart delivery sheet ("sheet") plus the receive fields as form values.
func batchReceiveSheet(c *gin.Context) {
	file, header, err := c.Request.FormFile("sheet")
	if err != nil {
		respondError(c, utils.NewValidationError("sheet file is required", err.Error()))
		return
	}
	defer file.Close()
	if !strings.HasSuffix(strings.ToLower(header.Filename), ".xlsx") {
		respondError(c, utils.NewValidationError("only .xlsx files are allowed", header.Filename))
		return
	}

	threadTypeId, err := strconv.Atoi(c.PostForm("thread_type_id"))
	if err != nil {
		respondError(c, utils.NewValidationError("invalid thread_type_id", c.PostForm("thread_type_id")))
		return
	}
	warehouseId, err := strconv.Atoi(c.PostForm("warehouse_id"))
	if err != nil {
		respondError(c, utils.NewValidationError("invalid warehouse_id", c.PostForm("warehouse_id")))
		return
	}
	cones, err := workflow.ParseReceiveSheet(file)
	if err != nil {
		respondError(c, err)
		return
	}

	result, err := workflow.BatchReceive(c.Request.Context(), &workflow.BatchReceiveInput{
		ThreadTypeId:    threadTypeId,
		WarehouseId:     warehouseId,
		LotNumber:       c.PostForm("lot_number"),
		Supplier:        c.PostForm("supplier"),
		ReferenceNumber: c.PostForm("reference_number"),
		Notes:           c.PostForm("notes"),
		Cones:           cones,
	})
	respond(c, http.StatusCreated, result, err)
}

func batchTransfer(c *gin.Context) {
	var input workflow.BatchTransferInput
	if !bindJSON(c, &input) {
		return
	}
	result, err := workflow.BatchTransfer(c.Request.Context(), &input)
	respond(c, http.StatusOK, result, err)
}

func batchIssue(c *gin.Context) {
	var input workflow.BatchIssueInput
	if !bindJSON(c, &input) {
		return
	}
	result, err := workflow.BatchIssue(c.Request.Context(), &input)
	respond(c, http.StatusOK, result, err)
}

func batchReturn(c *gin.Context) {
	var input workflow.BatchReturnInput
	if !bindJSON(c, &input) {
		return
	}
	result, err := workflow.BatchReturn(c.Request.Context(), &input)
	respond(c, http.StatusOK, result, err)
}

func listBatchTransactions(c *gin.Context) {
	filter := &models.BatchTransactionFilter{
		OperationType: stringQuery[models.BatchOperationType](c, "operation_type"),
		Outcome:       stringQuery[models.BatchOutcome](c, "outcome"),
	}
	var ok bool
	if filter.LotId, ok = intQuery(c, "lot_id"); !ok {
		return
	}
	if filter.WarehouseId, ok = intQuery(c, "warehouse_id"); !ok {
		return
	}
	limit, ok := intQuery(c, "limit")
	if !ok {
		return
	}
	if limit != nil {
		filter.Limit = *limit
	}
	records, err := models.ListBatchTransactions(c.Request.Context(), filter)
	respond(c, http.StatusOK, records, err)
}

func exportBatchTransactions(c *gin.Context) {
	records, err := models.ListBatchTransactions(c.Request.Context(), &models.BatchTransactionFilter{
		OperationType: stringQuery[models.BatchOperationType](c, "operation_type"),
		Outcome:       stringQuery[models.BatchOutcome](c, "outcome"),
	})
	if err != nil {
		respondError(c, err)
		return
	}
	c.Header("Content-Type", "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet")
	c.Header("Content-Disposition", "attachment; filename=batch_transactions.xlsx")
	if err := workflow.WriteBatchTransactionsSheet(c.Writer, records); err != nil {
		_ = c.Error(err)
		c.Status(http.StatusInternalServerError)
	}
}

func getBatchTransaction(c *gin.Context) {
	id, ok := idParam(c, "id")
	if !ok {
		return
	}
	record, err := models.GetBatchTransaction(c.Request.Context(), id)
	respond(c, http.StatusOK, record, err)
}
