package api

import (
	"net/http"

	"bitbucket.org/mmdatafocus/thread_backend/middlewares"
	"github.com/gin-gonic/gin"
)

// NewRouter builds the engine's HTTP surface without process-level concerns (CORS, metrics,
// readiness), which server.go layers on top.
func NewRouter() *gin.Engine {
	r := gin.New()
	r.Use(middlewares.CorrelationMiddleware())
	r.Use(middlewares.SessionMiddleware())
	r.Use(gin.Recovery())
	RegisterRoutes(r)
	r.NoRoute(func(c *gin.Context) {
		c.JSON(http.StatusNotFound, gin.H{"error": "route not found"})
	})
	return r
}

func RegisterRoutes(r gin.IRouter) {
	v1 := r.Group("/api/v1")

	threadTypes := v1.Group("/thread-types")
	threadTypes.POST("", createThreadType)
	threadTypes.GET("", listThreadTypes)
	threadTypes.GET("/:id", getThreadType)
	threadTypes.PUT("/:id", updateThreadType)
	threadTypes.POST("/:id/execute-pending", executePendingAllocations)

	warehouses := v1.Group("/warehouses")
	warehouses.POST("", createWarehouse)
	warehouses.GET("", listWarehouses)
	warehouses.GET("/:id", getWarehouse)
	warehouses.PUT("/:id", updateWarehouse)
	warehouses.PUT("/:id/active", toggleActiveWarehouse)

	cones := v1.Group("/cones")
	cones.GET("", listCones)
	cones.GET("/:id", getCone)
	cones.POST("/status", changeConeStatus)
	cones.POST("/shelve", shelveCones)
	v1.GET("/scan/:code", getConeByScanCode)
	v1.GET("/availability", availabilitySummary)

	lots := v1.Group("/lots")
	lots.GET("", listLots)
	lots.GET("/:id", getLot)
	lots.PUT("/:id", updateLot)
	lots.GET("/:id/cones", listLotCones)
	lots.POST("/recount", recountLots)

	batch := v1.Group("/batch")
	batch.POST("/receive", batchReceive)
	batch.POST("/receive/xlsx", batchReceiveSheet)
	batch.POST("/transfer", batchTransfer)
	batch.POST("/issue", batchIssue)
	batch.POST("/return", batchReturn)
	batch.GET("/transactions", listBatchTransactions)
	batch.GET("/transactions/:id", getBatchTransaction)
	batch.GET("/export", exportBatchTransactions)

	allocations := v1.Group("/allocations")
	allocations.POST("", createAllocation)
	allocations.GET("", listAllocations)
	allocations.GET("/:id", getAllocation)
	allocations.POST("/:id/execute", executeAllocation)
	allocations.POST("/:id/hard-allocate", hardAllocate)
	allocations.POST("/:id/issue", issueAllocation)
	allocations.POST("/:id/cancel", cancelAllocation)
	allocations.POST("/:id/split", splitAllocation)
	allocations.PUT("/:id/priority", updateAllocationPriority)
	allocations.POST("/:id/approve", approveAllocation)
	allocations.POST("/:id/reject", rejectAllocation)
	allocations.POST("/:id/ready", markAllocationReady)
	allocations.POST("/:id/receive", confirmAllocationReceived)

	conflicts := v1.Group("/conflicts")
	conflicts.GET("", listConflicts)
	conflicts.GET("/detect", detectConflicts)
	conflicts.GET("/:id", getConflict)
	conflicts.POST("/:id/resolve", resolveConflict)

	recoveries := v1.Group("/recoveries")
	recoveries.POST("", initiateRecovery)
	recoveries.GET("", listRecoveries)
	recoveries.POST("/calculate", calculateRemainingMeters)
	recoveries.GET("/:id", getRecovery)
	recoveries.POST("/:id/queue", queueRecovery)
	recoveries.POST("/:id/weigh", weighRecovery)
	recoveries.POST("/:id/confirm", confirmRecovery)
	recoveries.POST("/:id/write-off", writeOffRecovery)
	recoveries.POST("/:id/reject", rejectRecovery)
	recoveries.POST("/:id/photo", uploadRecoveryPhoto)
}
