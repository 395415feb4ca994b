package main

import (
	"errors"
	"net/http"
	"strconv"

	"bitbucket.org/meditrustlab/trace_backend/config"
	"bitbucket.org/meditrustlab/trace_backend/models"
	"bitbucket.org/meditrustlab/trace_backend/utils"
	"github.com/gin-gonic/gin"
	"gorm.io/gorm"
)

func createManufacturerHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		logger := config.GetLogger()

		var input models.NewManufacturer
		if err := c.ShouldBindJSON(&input); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		manufacturer, err := models.CreateManufacturer(c.Request.Context(), &input)
		if err != nil {
			config.LogError(logger, "adminHandlers.go", "createManufacturerHandler", "CreateManufacturer", input.Name, err)
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		c.JSON(http.StatusCreated, manufacturer)
	}
}

func verifyManufacturerHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		logger := config.GetLogger()

		id := c.Param("id")
		if err := models.VerifyManufacturer(c.Request.Context(), id); err != nil {
			if errors.Is(err, utils.ErrorRecordNotFound) {
				c.JSON(http.StatusNotFound, gin.H{"error": "manufacturer not found"})
				return
			}
			config.LogError(logger, "adminHandlers.go", "verifyManufacturerHandler", "VerifyManufacturer", id, err)
			c.JSON(http.StatusInternalServerError, gin.H{"error": "verification failed"})
			return
		}
		c.JSON(http.StatusOK, gin.H{"verified": true})
	}
}

func listManufacturersHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		logger := config.GetLogger()

		limit, offset := paginationParams(c)
		manufacturers, total, err := models.ListManufacturers(c.Request.Context(), c.Query("q"), limit, offset)
		if err != nil {
			config.LogError(logger, "adminHandlers.go", "listManufacturersHandler", "ListManufacturers", nil, err)
			c.JSON(http.StatusInternalServerError, gin.H{"error": "could not list manufacturers"})
			return
		}
		c.JSON(http.StatusOK, gin.H{"manufacturers": manufacturers, "total": total})
	}
}

func createMedicineHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		logger := config.GetLogger()

		var input models.NewMedicine
		if err := c.ShouldBindJSON(&input); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		medicine, err := models.CreateMedicine(c.Request.Context(), &input)
		if err != nil {
			config.LogError(logger, "adminHandlers.go", "createMedicineHandler", "CreateMedicine", input.Name, err)
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		c.JSON(http.StatusCreated, medicine)
	}
}

func searchMedicinesHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		logger := config.GetLogger()

		limit, offset := paginationParams(c)
		medicines, total, err := models.SearchMedicines(c.Request.Context(), c.Query("q"), limit, offset)
		if err != nil {
			config.LogError(logger, "adminHandlers.go", "searchMedicinesHandler", "SearchMedicines", c.Query("q"), err)
			c.JSON(http.StatusInternalServerError, gin.H{"error": "could not search medicines"})
			return
		}
		c.JSON(http.StatusOK, gin.H{"medicines": medicines, "total": total})
	}
}

func createBatchHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		logger := config.GetLogger()

		var input models.NewBatch
		if err := c.ShouldBindJSON(&input); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		batch, err := models.CreateBatch(c.Request.Context(), &input)
		if err != nil {
			config.LogError(logger, "adminHandlers.go", "createBatchHandler", "CreateBatch", input.BatchNumber, err)
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		c.JSON(http.StatusCreated, batch)
	}
}

func listBatchesHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		logger := config.GetLogger()

		limit, offset := paginationParams(c)
		batches, total, err := models.ListBatches(c.Request.Context(), c.Query("manufacturer_id"), limit, offset)
		if err != nil {
			config.LogError(logger, "adminHandlers.go", "listBatchesHandler", "ListBatches", nil, err)
			c.JSON(http.StatusInternalServerError, gin.H{"error": "could not list batches"})
			return
		}
		c.JSON(http.StatusOK, gin.H{"batches": batches, "total": total})
	}
}

func getBatchHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		logger := config.GetLogger()

		id := c.Param("id")
		batch, err := models.GetBatch(c.Request.Context(), id)
		if err != nil {
			if errors.Is(err, utils.ErrorRecordNotFound) {
				c.JSON(http.StatusNotFound, gin.H{"error": "batch not found"})
				return
			}
			config.LogError(logger, "adminHandlers.go", "getBatchHandler", "GetBatch", id, err)
			c.JSON(http.StatusInternalServerError, gin.H{"error": "could not load batch"})
			return
		}
		c.JSON(http.StatusOK, batch)
	}
}

func batchAuditHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		logger := config.GetLogger()

		id := c.Param("id")
		entries, err := models.ListAuditTrail(c.Request.Context(), "Batch", id, 100)
		if err != nil {
			config.LogError(logger, "adminHandlers.go", "batchAuditHandler", "ListAuditTrail", id, err)
			c.JSON(http.StatusInternalServerError, gin.H{"error": "could not load audit trail"})
			return
		}
		c.JSON(http.StatusOK, gin.H{"entries": entries})
	}
}

func recallBatchHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		logger := config.GetLogger()

		ctx := c.Request.Context()
		id := c.Param("id")
		userId, _ := utils.GetUserIdFromContext(ctx)
		role, _ := utils.GetUserRoleFromContext(ctx)

		db := config.GetDB()
		err := db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
			return models.RecallBatch(ctx, tx, id, userId, role)
		})
		if err != nil {
			if errors.Is(err, utils.ErrorRecordNotFound) {
				c.JSON(http.StatusNotFound, gin.H{"error": "batch not found"})
				return
			}
			config.LogError(logger, "adminHandlers.go", "recallBatchHandler", "RecallBatch", id, err)
			c.JSON(http.StatusInternalServerError, gin.H{"error": "recall failed"})
			return
		}
		c.JSON(http.StatusOK, gin.H{"recalled": true})
	}
}

func updateLifecycleHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		logger := config.GetLogger()

		ctx := c.Request.Context()
		id := c.Param("id")
		var body struct {
			LifecycleStatus models.LifecycleStatus `json:"lifecycle_status" binding:"required"`
		}
		if err := c.ShouldBindJSON(&body); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		if !body.LifecycleStatus.IsValid() {
			c.JSON(http.StatusBadRequest, gin.H{"error": "unknown lifecycle status"})
			return
		}
		userId, _ := utils.GetUserIdFromContext(ctx)
		role, _ := utils.GetUserRoleFromContext(ctx)

		db := config.GetDB()
		err := db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
			return models.SetLifecycleStatus(ctx, tx, id, body.LifecycleStatus, userId, role)
		})
		if err != nil {
			switch {
			case errors.Is(err, utils.ErrorRecordNotFound):
				c.JSON(http.StatusNotFound, gin.H{"error": "batch not found"})
			case errors.Is(err, models.ErrInvalidLifecycleTransition):
				c.JSON(http.StatusUnprocessableEntity, gin.H{"error": err.Error()})
			case errors.Is(err, utils.ErrorScanNotCommitted):
				c.JSON(http.StatusConflict, gin.H{"error": "batch moved concurrently; retry"})
			default:
				config.LogError(logger, "adminHandlers.go", "updateLifecycleHandler", "SetLifecycleStatus", id, err)
				c.JSON(http.StatusInternalServerError, gin.H{"error": "lifecycle update failed"})
			}
			return
		}
		c.JSON(http.StatusOK, gin.H{"lifecycle_status": body.LifecycleStatus})
	}
}

func generateQRCodesHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		logger := config.GetLogger()

		ctx := c.Request.Context()
		id := c.Param("id")
		var body struct {
			Quantity int `json:"quantity" binding:"required,gt=0,lte=100000"`
		}
		if err := c.ShouldBindJSON(&body); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		userId, _ := utils.GetUserIdFromContext(ctx)
		role, _ := utils.GetUserRoleFromContext(ctx)

		codes, err := models.GenerateQRCodes(ctx, id, body.Quantity, userId, role)
		if err != nil {
			if errors.Is(err, utils.ErrorRecordNotFound) {
				c.JSON(http.StatusNotFound, gin.H{"error": "batch not found"})
				return
			}
			config.LogError(logger, "adminHandlers.go", "generateQRCodesHandler", "GenerateQRCodes", id, err)
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		c.JSON(http.StatusCreated, gin.H{"generated": len(codes), "qr_codes": codes})
	}
}

func listQRCodesHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		logger := config.GetLogger()

		limit, offset := paginationParams(c)
		codes, total, err := models.ListQRCodesForBatch(c.Request.Context(), c.Param("id"), limit, offset)
		if err != nil {
			config.LogError(logger, "adminHandlers.go", "listQRCodesHandler", "ListQRCodesForBatch", c.Param("id"), err)
			c.JSON(http.StatusInternalServerError, gin.H{"error": "could not list qr codes"})
			return
		}
		c.JSON(http.StatusOK, gin.H{"qr_codes": codes, "total": total})
	}
}

func qrCodePNGHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		logger := config.GetLogger()

		code := c.Param("code")
		size := 256
		if v := c.Query("size"); v != "" {
			if n, err := strconv.Atoi(v); err == nil && n >= 64 && n <= 1024 {
				size = n
			}
		}
		png, err := models.RenderQRCodePNG(code, size)
		if err != nil {
			config.LogError(logger, "adminHandlers.go", "qrCodePNGHandler", "RenderQRCodePNG", code, err)
			c.JSON(http.StatusInternalServerError, gin.H{"error": "could not render qr code"})
			return
		}
		c.Data(http.StatusOK, "image/png", png)
	}
}

func deactivateQRCodeHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		logger := config.GetLogger()

		ctx := c.Request.Context()
		id := c.Param("id")
		userId, _ := utils.GetUserIdFromContext(ctx)
		role, _ := utils.GetUserRoleFromContext(ctx)

		if err := models.DeactivateQRCode(ctx, id, userId, role); err != nil {
			if errors.Is(err, utils.ErrorRecordNotFound) {
				c.JSON(http.StatusNotFound, gin.H{"error": "qr code not found"})
				return
			}
			config.LogError(logger, "adminHandlers.go", "deactivateQRCodeHandler", "DeactivateQRCode", id, err)
			c.JSON(http.StatusInternalServerError, gin.H{"error": "could not deactivate qr code"})
			return
		}
		c.JSON(http.StatusOK, gin.H{"deactivated": true})
	}
}

func listAlertsHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		logger := config.GetLogger()

		limit, offset := paginationParams(c)
		filter := models.FraudAlertFilter{Limit: limit, Offset: offset}
		if v := c.Query("alert_type"); v != "" {
			t := models.FraudAlertType(v)
			filter.AlertType = &t
		}
		if v := c.Query("severity"); v != "" {
			s := models.FraudSeverity(v)
			filter.Severity = &s
		}
		if v := c.Query("batch_id"); v != "" {
			filter.BatchId = &v
		}
		if v := c.Query("resolved"); v != "" {
			resolved := v == "true"
			filter.IsResolved = &resolved
		}

		alerts, total, err := models.ListFraudAlerts(c.Request.Context(), &filter)
		if err != nil {
			config.LogError(logger, "adminHandlers.go", "listAlertsHandler", "ListFraudAlerts", nil, err)
			c.JSON(http.StatusInternalServerError, gin.H{"error": "could not list alerts"})
			return
		}
		c.JSON(http.StatusOK, gin.H{"alerts": alerts, "total": total})
	}
}

func resolveAlertHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		logger := config.GetLogger()

		ctx := c.Request.Context()
		id := c.Param("id")
		var body struct {
			Note string `json:"note"`
		}
		if err := c.ShouldBindJSON(&body); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		userId, _ := utils.GetUserIdFromContext(ctx)

		alert, err := models.ResolveFraudAlert(ctx, id, userId, body.Note)
		if err != nil {
			if errors.Is(err, utils.ErrorRecordNotFound) {
				c.JSON(http.StatusNotFound, gin.H{"error": "alert not found"})
				return
			}
			config.LogError(logger, "adminHandlers.go", "resolveAlertHandler", "ResolveFraudAlert", id, err)
			c.JSON(http.StatusInternalServerError, gin.H{"error": "could not resolve alert"})
			return
		}
		c.JSON(http.StatusOK, alert)
	}
}
