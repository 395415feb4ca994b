package main

import (
	"errors"
	"net/http"
	"strconv"

	"bitbucket.org/meditrustlab/trace_backend/config"
	"bitbucket.org/meditrustlab/trace_backend/models"
	"bitbucket.org/meditrustlab/trace_backend/utils"
	"bitbucket.org/meditrustlab/trace_backend/workflow"
	"github.com/gin-gonic/gin"
	"github.com/shopspring/decimal"
)

type scanRequestBody struct {
	Code            string          `json:"code" binding:"required"`
	ScanType        models.ScanType `json:"scan_type"`
	DeviceId        string          `json:"device_id"`
	DeviceModel     string          `json:"device_model"`
	DeviceOS        string          `json:"device_os"`
	AppVersion      string          `json:"app_version"`
	LocationLat     *string         `json:"location_lat"`
	LocationLng     *string         `json:"location_lng"`
	LocationAddress string          `json:"location_address"`
}

func scanHandler(scanWF *workflow.ScanWorkflow) gin.HandlerFunc {
	return func(c *gin.Context) {
		logger := config.GetLogger()

		var body scanRequestBody
		if err := c.ShouldBindJSON(&body); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		if body.ScanType == "" {
			body.ScanType = models.ScanTypeVerification
		}

		lat, err := parseCoord(body.LocationLat)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid location_lat"})
			return
		}
		lng, err := parseCoord(body.LocationLng)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid location_lng"})
			return
		}

		ctx := c.Request.Context()
		req := workflow.ScanRequest{
			Code:             body.Code,
			ScanType:         body.ScanType,
			IdempotencyToken: c.GetHeader("x-idempotency-token"),
			DeviceId:         body.DeviceId,
			DeviceModel:      body.DeviceModel,
			DeviceOS:         body.DeviceOS,
			AppVersion:       body.AppVersion,
			Lat:              lat,
			Lng:              lng,
			LocationAddress:  body.LocationAddress,
		}
		if cid, ok := utils.GetCorrelationIdFromContext(ctx); ok {
			req.CorrelationId = cid
		}
		if userId, ok := utils.GetUserIdFromContext(ctx); ok {
			req.UserId = &userId
			req.Authenticated = true
			if role, ok := utils.GetUserRoleFromContext(ctx); ok {
				req.Role = models.UserRole(role)
			}
		}

		spanCtx, span := tracer.Start(ctx, "scan.process")
		result, err := scanWF.ProcessScan(spanCtx, &req)
		span.End()
		if err != nil {
			switch {
			case errors.Is(err, models.ErrDuplicateInFlight):
				c.JSON(http.StatusConflict, gin.H{"error": err.Error()})
			case errors.Is(err, utils.ErrorScanNotCommitted):
				c.JSON(http.StatusConflict, gin.H{"error": err.Error()})
			default:
				config.LogError(logger, "scanHandler.go", "scanHandler", "ProcessScan", body.Code, err)
				c.JSON(http.StatusInternalServerError, gin.H{"error": "scan processing failed"})
			}
			return
		}
		c.JSON(http.StatusOK, result)
	}
}

// verifyHandler runs a plain anonymous verification from a GET, for QR
// deep links that open in a browser rather than the app.
func verifyHandler(scanWF *workflow.ScanWorkflow) gin.HandlerFunc {
	return func(c *gin.Context) {
		logger := config.GetLogger()

		ctx := c.Request.Context()
		req := workflow.ScanRequest{
			Code:     c.Param("code"),
			ScanType: models.ScanTypeVerification,
		}
		if cid, ok := utils.GetCorrelationIdFromContext(ctx); ok {
			req.CorrelationId = cid
		}
		if userId, ok := utils.GetUserIdFromContext(ctx); ok {
			req.UserId = &userId
			req.Authenticated = true
			if role, ok := utils.GetUserRoleFromContext(ctx); ok {
				req.Role = models.UserRole(role)
			}
		}

		result, err := scanWF.ProcessScan(ctx, &req)
		if err != nil {
			config.LogError(logger, "scanHandler.go", "verifyHandler", "ProcessScan", req.Code, err)
			c.JSON(http.StatusInternalServerError, gin.H{"error": "verification failed"})
			return
		}
		c.JSON(http.StatusOK, result)
	}
}

func scanHistoryHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		logger := config.GetLogger()

		ctx := c.Request.Context()
		userId, ok := utils.GetUserIdFromContext(ctx)
		if !ok {
			c.JSON(http.StatusUnauthorized, gin.H{"error": "authentication required"})
			return
		}
		limit, offset := paginationParams(c)

		scans, total, err := models.ListScanHistory(ctx, userId, limit, offset)
		if err != nil {
			config.LogError(logger, "scanHandler.go", "scanHistoryHandler", "ListScanHistory", userId, err)
			c.JSON(http.StatusInternalServerError, gin.H{"error": "could not load scan history"})
			return
		}
		c.JSON(http.StatusOK, gin.H{"scans": scans, "total": total})
	}
}

func parseCoord(s *string) (*decimal.Decimal, error) {
	if s == nil || *s == "" {
		return nil, nil
	}
	d, err := decimal.NewFromString(*s)
	if err != nil {
		return nil, err
	}
	return &d, nil
}

func paginationParams(c *gin.Context) (limit int, offset int) {
	limit = 20
	if v := c.Query("limit"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 && n <= 100 {
			limit = n
		}
	}
	if v := c.Query("offset"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n >= 0 {
			offset = n
		}
	}
	return limit, offset
}
