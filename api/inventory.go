package api

import (
	"net/http"

	"bitbucket.org/mmdatafocus/thread_backend/models"
	"bitbucket.org/mmdatafocus/thread_backend/workflow"
	"github.com/gin-gonic/gin"
)

func createThreadType(c *gin.Context) {
	var input models.NewThreadType
	if !bindJSON(c, &input) {
		return
	}
	threadType, err := models.CreateThreadType(c.Request.Context(), &input)
	respond(c, http.StatusCreated, threadType, err)
}

func updateThreadType(c *gin.Context) {
	id, ok := idParam(c, "id")
	if !ok {
		return
	}
	var input models.NewThreadType
	if !bindJSON(c, &input) {
		return
	}
	threadType, err := models.UpdateThreadType(c.Request.Context(), id, &input)
	respond(c, http.StatusOK, threadType, err)
}

func getThreadType(c *gin.Context) {
	id, ok := idParam(c, "id")
	if !ok {
		return
	}
	threadType, err := models.GetThreadType(c.Request.Context(), id)
	respond(c, http.StatusOK, threadType, err)
}

func listThreadTypes(c *gin.Context) {
	threadTypes, err := models.ListThreadTypes(c.Request.Context(), stringQuery[string](c, "code"))
	respond(c, http.StatusOK, threadTypes, err)
}

func createWarehouse(c *gin.Context) {
	var input models.NewWarehouse
	if !bindJSON(c, &input) {
		return
	}
	warehouse, err := models.CreateWarehouse(c.Request.Context(), &input)
	respond(c, http.StatusCreated, warehouse, err)
}

func updateWarehouse(c *gin.Context) {
	id, ok := idParam(c, "id")
	if !ok {
		return
	}
	var input models.NewWarehouse
	if !bindJSON(c, &input) {
		return
	}
	warehouse, err := models.UpdateWarehouse(c.Request.Context(), id, &input)
	respond(c, http.StatusOK, warehouse, err)
}

func toggleActiveWarehouse(c *gin.Context) {
	id, ok := idParam(c, "id")
	if !ok {
		return
	}
	var req struct {
		IsActive bool `json:"is_active"`
	}
	if !bindJSON(c, &req) {
		return
	}
	warehouse, err := models.ToggleActiveWarehouse(c.Request.Context(), id, req.IsActive)
	respond(c, http.StatusOK, warehouse, err)
}

func getWarehouse(c *gin.Context) {
	id, ok := idParam(c, "id")
	if !ok {
		return
	}
	warehouse, err := models.GetWarehouse(c.Request.Context(), id)
	respond(c, http.StatusOK, warehouse, err)
}

func listWarehouses(c *gin.Context) {
	warehouses, err := models.ListWarehouse(c.Request.Context(), stringQuery[string](c, "name"))
	respond(c, http.StatusOK, warehouses, err)
}

func listCones(c *gin.Context) {
	filter := &models.ConeFilter{Status: stringQuery[models.ConeStatus](c, "status")}
	var ok bool
	if filter.ThreadTypeId, ok = intQuery(c, "thread_type_id"); !ok {
		return
	}
	if filter.WarehouseId, ok = intQuery(c, "warehouse_id"); !ok {
		return
	}
	if filter.LotId, ok = intQuery(c, "lot_id"); !ok {
		return
	}
	limit, ok := intQuery(c, "limit")
	if !ok {
		return
	}
	offset, ok := intQuery(c, "offset")
	if !ok {
		return
	}
	if limit != nil {
		filter.Limit = *limit
	}
	if offset != nil {
		filter.Offset = *offset
	}
	cones, err := models.ListCones(c.Request.Context(), filter)
	respond(c, http.StatusOK, cones, err)
}

func getCone(c *gin.Context) {
	id, ok := idParam(c, "id")
	if !ok {
		return
	}
	cone, err := models.GetCone(c.Request.Context(), id)
	respond(c, http.StatusOK, cone, err)
}

func getConeByScanCode(c *gin.Context) {
	cone, err := models.GetConeByScanCode(c.Request.Context(), c.Param("code"))
	respond(c, http.StatusOK, cone, err)
}

type coneStatusRequest struct {
	ConeIds []int             `json:"cone_ids"`
	Status  models.ConeStatus `json:"status"`
}

func changeConeStatus(c *gin.Context) {
	var req coneStatusRequest
	if !bindJSON(c, &req) {
		return
	}
	cones, err := models.ChangeConeStatus(c.Request.Context(), req.ConeIds, req.Status)
	respond(c, http.StatusOK, cones, err)
}

func shelveCones(c *gin.Context) {
	var req coneStatusRequest
	if !bindJSON(c, &req) {
		return
	}
	cones, err := models.ShelveCones(c.Request.Context(), req.ConeIds)
	respond(c, http.StatusOK, cones, err)
}

func availabilitySummary(c *gin.Context) {
	threadTypeId, ok := intQuery(c, "thread_type_id")
	if !ok {
		return
	}
	summary, err := models.GetAvailabilitySummary(c.Request.Context(), threadTypeId)
	respond(c, http.StatusOK, summary, err)
}

func listLots(c *gin.Context) {
	filter := &models.LotFilter{
		Status:    stringQuery[models.LotStatus](c, "status"),
		LotNumber: stringQuery[string](c, "lot_number"),
	}
	var ok bool
	if filter.ThreadTypeId, ok = intQuery(c, "thread_type_id"); !ok {
		return
	}
	if filter.WarehouseId, ok = intQuery(c, "warehouse_id"); !ok {
		return
	}
	lots, err := models.ListLots(c.Request.Context(), filter)
	respond(c, http.StatusOK, lots, err)
}

func getLot(c *gin.Context) {
	id, ok := idParam(c, "id")
	if !ok {
		return
	}
	lot, err := models.GetLot(c.Request.Context(), id)
	respond(c, http.StatusOK, lot, err)
}

func updateLot(c *gin.Context) {
	id, ok := idParam(c, "id")
	if !ok {
		return
	}
	var input models.UpdateLotInput
	if !bindJSON(c, &input) {
		return
	}
	lot, err := models.UpdateLot(c.Request.Context(), id, &input)
	respond(c, http.StatusOK, lot, err)
}

func listLotCones(c *gin.Context) {
	id, ok := idParam(c, "id")
	if !ok {
		return
	}
	cones, err := models.ListLotCones(c.Request.Context(), id)
	respond(c, http.StatusOK, cones, err)
}

func recountLots(c *gin.Context) {
	var req struct {
		ContinueOnError bool `json:"continue_on_error"`
	}
	if !bindOptionalJSON(c, &req) {
		return
	}
	result, err := workflow.RecountAllLots(c.Request.Context(), nil, req.ContinueOnError)
	respond(c, http.StatusOK, result, err)
}
