// Package api exposes the inventory engine over HTTP.
package api

import (
	"errors"
	"io"
	"net/http"
	"strconv"

	"bitbucket.org/mmdatafocus/thread_backend/config"
	"bitbucket.org/mmdatafocus/thread_backend/utils"
	"github.com/gin-gonic/gin"
)

var statusByKind = map[utils.ErrorKind]int{
	utils.ErrorKindValidation:         http.StatusBadRequest,
	utils.ErrorKindNotFound:           http.StatusNotFound,
	utils.ErrorKindConflict:           http.StatusConflict,
	utils.ErrorKindInsufficientSupply: http.StatusUnprocessableEntity,
	utils.ErrorKindSystem:             http.StatusInternalServerError,
}

func respondError(c *gin.Context, err error) {
	kind := utils.KindOf(err)
	status := statusByKind[kind]

	var coreErr *utils.CoreError
	if !errors.As(err, &coreErr) || kind == utils.ErrorKindSystem {
		// store errors stay in the log
		_ = c.Error(err)
		config.LogError(config.GetLogger(), "api", c.FullPath(), c.Request.Method, nil, err)
		c.JSON(status, gin.H{"kind": utils.ErrorKindSystem, "message": "internal error"})
		return
	}
	c.JSON(status, coreErr)
}

func respond(c *gin.Context, status int, data any, err error) {
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(status, data)
}

func bindJSON(c *gin.Context, obj any) bool {
	if err := c.ShouldBindJSON(obj); err != nil {
		respondError(c, utils.NewValidationError("invalid request body", err.Error()))
		return false
	}
	return true
}

// bindOptionalJSON accepts an empty body for actions whose fields are all optional.
func bindOptionalJSON(c *gin.Context, obj any) bool {
	if err := c.ShouldBindJSON(obj); err != nil && !errors.Is(err, io.EOF) {
		respondError(c, utils.NewValidationError("invalid request body", err.Error()))
		return false
	}
	return true
}

func idParam(c *gin.Context, name string) (int, bool) {
	id, err := strconv.Atoi(c.Param(name))
	if err != nil || id <= 0 {
		respondError(c, utils.NewValidationError("invalid "+name, c.Param(name)))
		return 0, false
	}
	return id, true
}

func intQuery(c *gin.Context, key string) (*int, bool) {
	raw, ok := c.GetQuery(key)
	if !ok || raw == "" {
		return nil, true
	}
	v, err := strconv.Atoi(raw)
	if err != nil {
		respondError(c, utils.NewValidationError("invalid "+key, raw))
		return nil, false
	}
	return &v, true
}

func stringQuery[T ~string](c *gin.Context, key string) *T {
	raw, ok := c.GetQuery(key)
	if !ok || raw == "" {
		return nil
	}
	v := T(raw)
	return &v
}
