package api

import (
	"net/http"

	"bitbucket.org/mmdatafocus/thread_backend/models"
	"github.com/gin-gonic/gin"
	"github.com/shopspring/decimal"
)

type actorRequest struct {
	Actor  string `json:"actor"`
	Reason string `json:"reason"`
}

func createAllocation(c *gin.Context) {
	var input models.NewAllocation
	if !bindJSON(c, &input) {
		return
	}
	allocation, err := models.CreateAllocation(c.Request.Context(), &input)
	respond(c, http.StatusCreated, allocation, err)
}

func listAllocations(c *gin.Context) {
	filter := &models.AllocationFilter{
		OrderId:      stringQuery[string](c, "order_id"),
		Status:       stringQuery[models.AllocationStatus](c, "status"),
		Priority:     stringQuery[models.AllocationPriority](c, "priority"),
		RequestsOnly: c.Query("requests_only") == "true",
	}
	var ok bool
	if filter.ThreadTypeId, ok = intQuery(c, "thread_type_id"); !ok {
		return
	}
	allocations, err := models.ListAllocations(c.Request.Context(), filter)
	respond(c, http.StatusOK, allocations, err)
}

func getAllocation(c *gin.Context) {
	id, ok := idParam(c, "id")
	if !ok {
		return
	}
	allocation, err := models.GetAllocation(c.Request.Context(), id)
	respond(c, http.StatusOK, allocation, err)
}

func executeAllocation(c *gin.Context) {
	id, ok := idParam(c, "id")
	if !ok {
		return
	}
	result, err := models.ExecuteAllocation(c.Request.Context(), id)
	respond(c, http.StatusOK, result, err)
}

func executePendingAllocations(c *gin.Context) {
	threadTypeId, ok := idParam(c, "id")
	if !ok {
		return
	}
	results, err := models.ExecutePendingAllocations(c.Request.Context(), threadTypeId)
	respond(c, http.StatusOK, results, err)
}

func hardAllocate(c *gin.Context) {
	id, ok := idParam(c, "id")
	if !ok {
		return
	}
	allocation, err := models.HardAllocate(c.Request.Context(), id)
	respond(c, http.StatusOK, allocation, err)
}

func issueAllocation(c *gin.Context) {
	id, ok := idParam(c, "id")
	if !ok {
		return
	}
	var req actorRequest
	if !bindOptionalJSON(c, &req) {
		return
	}
	allocation, err := models.IssueAllocation(c.Request.Context(), id, req.Actor)
	respond(c, http.StatusOK, allocation, err)
}

func cancelAllocation(c *gin.Context) {
	id, ok := idParam(c, "id")
	if !ok {
		return
	}
	var req actorRequest
	if !bindOptionalJSON(c, &req) {
		return
	}
	allocation, err := models.CancelAllocation(c.Request.Context(), id, req.Actor, req.Reason)
	respond(c, http.StatusOK, allocation, err)
}

func splitAllocation(c *gin.Context) {
	id, ok := idParam(c, "id")
	if !ok {
		return
	}
	var req struct {
		SplitMeters decimal.Decimal `json:"split_meters"`
		Actor       string          `json:"actor"`
	}
	if !bindJSON(c, &req) {
		return
	}
	original, split, err := models.SplitAllocation(c.Request.Context(), id, req.SplitMeters, req.Actor)
	respond(c, http.StatusOK, gin.H{"original": original, "split": split}, err)
}

func updateAllocationPriority(c *gin.Context) {
	id, ok := idParam(c, "id")
	if !ok {
		return
	}
	var req struct {
		Priority models.AllocationPriority `json:"priority"`
	}
	if !bindJSON(c, &req) {
		return
	}
	allocation, err := models.UpdateAllocationPriority(c.Request.Context(), id, req.Priority)
	respond(c, http.StatusOK, allocation, err)
}

func approveAllocation(c *gin.Context) {
	id, ok := idParam(c, "id")
	if !ok {
		return
	}
	var req actorRequest
	if !bindOptionalJSON(c, &req) {
		return
	}
	allocation, err := models.ApproveAllocation(c.Request.Context(), id, req.Actor)
	respond(c, http.StatusOK, allocation, err)
}

func rejectAllocation(c *gin.Context) {
	id, ok := idParam(c, "id")
	if !ok {
		return
	}
	var req actorRequest
	if !bindOptionalJSON(c, &req) {
		return
	}
	allocation, err := models.RejectAllocation(c.Request.Context(), id, req.Actor, req.Reason)
	respond(c, http.StatusOK, allocation, err)
}

func markAllocationReady(c *gin.Context) {
	id, ok := idParam(c, "id")
	if !ok {
		return
	}
	result, err := models.MarkAllocationReady(c.Request.Context(), id)
	respond(c, http.StatusOK, result, err)
}

func confirmAllocationReceived(c *gin.Context) {
	id, ok := idParam(c, "id")
	if !ok {
		return
	}
	var req actorRequest
	if !bindOptionalJSON(c, &req) {
		return
	}
	allocation, err := models.ConfirmAllocationReceived(c.Request.Context(), id, req.Actor)
	respond(c, http.StatusOK, allocation, err)
}

func detectConflicts(c *gin.Context) {
	threadTypeId, ok := intQuery(c, "thread_type_id")
	if !ok {
		return
	}
	reports, err := models.DetectConflicts(c.Request.Context(), threadTypeId)
	respond(c, http.StatusOK, reports, err)
}

func listConflicts(c *gin.Context) {
	filter := &models.ConflictFilter{Status: stringQuery[models.ConflictStatus](c, "status")}
	var ok bool
	if filter.ThreadTypeId, ok = intQuery(c, "thread_type_id"); !ok {
		return
	}
	records, err := models.ListConflictRecords(c.Request.Context(), filter)
	respond(c, http.StatusOK, records, err)
}

func getConflict(c *gin.Context) {
	id, ok := idParam(c, "id")
	if !ok {
		return
	}
	record, err := models.GetConflictRecord(c.Request.Context(), id)
	respond(c, http.StatusOK, record, err)
}

func resolveConflict(c *gin.Context) {
	id, ok := idParam(c, "id")
	if !ok {
		return
	}
	var input models.ConflictResolution
	if !bindJSON(c, &input) {
		return
	}
	input.ConflictId = id
	record, err := models.ResolveConflict(c.Request.Context(), &input)
	respond(c, http.StatusOK, record, err)
}
