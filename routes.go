package main

import (
	"bitbucket.org/meditrustlab/trace_backend/middlewares"
	"bitbucket.org/meditrustlab/trace_backend/models"
	"bitbucket.org/meditrustlab/trace_backend/workflow"
	"github.com/gin-gonic/gin"
)

func registerRoutes(r *gin.Engine, scanWF *workflow.ScanWorkflow) {
	api := r.Group("/api")

	api.POST("/auth/register", registerHandler())
	api.POST("/auth/login", loginHandler())

	// Scanning is open: anonymous verification is the product's front door.
	api.POST("/scan", scanHandler(scanWF))
	api.GET("/verify/:code", verifyHandler(scanWF))
	api.GET("/scan/history", scanHistoryHandler())

	admin := api.Group("", middlewares.RequireRoles(models.UserRoleAdmin))
	admin.POST("/manufacturers", createManufacturerHandler())
	admin.POST("/manufacturers/:id/verify", verifyManufacturerHandler())
	admin.POST("/alerts/:id/resolve", resolveAlertHandler())

	staff := api.Group("", middlewares.RequireRoles(models.UserRoleAdmin, models.UserRoleManufacturer))
	staff.GET("/manufacturers", listManufacturersHandler())
	staff.POST("/medicines", createMedicineHandler())
	staff.GET("/medicines", searchMedicinesHandler())
	staff.POST("/batches", createBatchHandler())
	staff.GET("/batches", listBatchesHandler())
	staff.GET("/batches/:id", getBatchHandler())
	staff.GET("/batches/:id/audit", batchAuditHandler())
	staff.POST("/batches/:id/recall", recallBatchHandler())
	staff.PUT("/batches/:id/lifecycle", updateLifecycleHandler())
	staff.POST("/batches/:id/qrcodes", generateQRCodesHandler())
	staff.GET("/batches/:id/qrcodes", listQRCodesHandler())
	staff.GET("/qrcodes/:code/png", qrCodePNGHandler())
	staff.POST("/qrcodes/:id/deactivate", deactivateQRCodeHandler())
	staff.GET("/alerts", listAlertsHandler())
	staff.GET("/reports/alerts/export", exportAlertsHandler())
	staff.GET("/reports/scans/export", exportScanLogsHandler())
	staff.POST("/batches/:id/documents", uploadBatchDocumentHandler())
}
