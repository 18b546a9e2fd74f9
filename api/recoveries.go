package api

import (
	"io"
	"net/http"

	"bitbucket.org/mmdatafocus/thread_backend/models"
	"bitbucket.org/mmdatafocus/thread_backend/utils"
	"github.com/gin-gonic/gin"
	"github.com/shopspring/decimal"
)

const maxPhotoBytes = 10 << 20

func initiateRecovery(c *gin.Context) {
	var input models.NewRecovery
	if !bindJSON(c, &input) {
		return
	}
	recovery, err := models.InitiateRecovery(c.Request.Context(), &input)
	respond(c, http.StatusCreated, recovery, err)
}

func listRecoveries(c *gin.Context) {
	filter := &models.RecoveryFilter{Status: stringQuery[models.RecoveryStatus](c, "status")}
	var ok bool
	if filter.ConeId, ok = intQuery(c, "cone_id"); !ok {
		return
	}
	if filter.ThreadTypeId, ok = intQuery(c, "thread_type_id"); !ok {
		return
	}
	recoveries, err := models.ListRecoveries(c.Request.Context(), filter)
	respond(c, http.StatusOK, recoveries, err)
}

func getRecovery(c *gin.Context) {
	id, ok := idParam(c, "id")
	if !ok {
		return
	}
	recovery, err := models.GetRecovery(c.Request.Context(), id)
	respond(c, http.StatusOK, recovery, err)
}

func queueRecovery(c *gin.Context) {
	id, ok := idParam(c, "id")
	if !ok {
		return
	}
	recovery, err := models.QueueRecoveryForWeighing(c.Request.Context(), id)
	respond(c, http.StatusOK, recovery, err)
}

func weighRecovery(c *gin.Context) {
	id, ok := idParam(c, "id")
	if !ok {
		return
	}
	var input models.WeighInput
	if !bindJSON(c, &input) {
		return
	}
	recovery, err := models.WeighRecovery(c.Request.Context(), id, &input)
	respond(c, http.StatusOK, recovery, err)
}

func confirmRecovery(c *gin.Context) {
	id, ok := idParam(c, "id")
	if !ok {
		return
	}
	var req actorRequest
	if !bindOptionalJSON(c, &req) {
		return
	}
	recovery, err := models.ConfirmRecovery(c.Request.Context(), id, req.Actor)
	respond(c, http.StatusOK, recovery, err)
}

func writeOffRecovery(c *gin.Context) {
	id, ok := idParam(c, "id")
	if !ok {
		return
	}
	var req actorRequest
	if !bindJSON(c, &req) {
		return
	}
	recovery, err := models.WriteOffRecovery(c.Request.Context(), id, req.Reason, req.Actor)
	respond(c, http.StatusOK, recovery, err)
}

func rejectRecovery(c *gin.Context) {
	id, ok := idParam(c, "id")
	if !ok {
		return
	}
	var req actorRequest
	if !bindOptionalJSON(c, &req) {
		return
	}
	recovery, err := models.RejectRecovery(c.Request.Context(), id, req.Reason)
	respond(c, http.StatusOK, recovery, err)
}

func uploadRecoveryPhoto(c *gin.Context) {
	id, ok := idParam(c, "id")
	if !ok {
		return
	}
	file, _, err := c.Request.FormFile("photo")
	if err != nil {
		respondError(c, utils.NewValidationError("photo file is required", err.Error()))
		return
	}
	defer file.Close()

	data, err := io.ReadAll(io.LimitReader(file, maxPhotoBytes+1))
	if err != nil {
		respondError(c, utils.SystemError("read photo", err))
		return
	}
	if len(data) > maxPhotoBytes {
		respondError(c, utils.NewValidationError("photo exceeds 10MB"))
		return
	}
	recovery, err := models.AttachRecoveryPhoto(c.Request.Context(), id, data)
	respond(c, http.StatusOK, recovery, err)
}

type remainingLengthRequest struct {
	GrossWeightGrams     decimal.Decimal `json:"gross_weight_grams"`
	TareWeightGrams      decimal.Decimal `json:"tare_weight_grams"`
	DensityGramsPerMeter decimal.Decimal `json:"density_grams_per_meter"`
	OriginalMeters       decimal.Decimal `json:"original_meters"`
}

func calculateRemainingMeters(c *gin.Context) {
	var req remainingLengthRequest
	if !bindJSON(c, &req) {
		return
	}
	result, err := models.CalculateRemainingMeters(req.GrossWeightGrams, req.TareWeightGrams, req.DensityGramsPerMeter, req.OriginalMeters)
	respond(c, http.StatusOK, result, err)
}
