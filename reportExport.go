package main

import (
	"fmt"
	"net/http"

	"bitbucket.org/meditrustlab/trace_backend/config"
	"bitbucket.org/meditrustlab/trace_backend/models"
	"github.com/gin-gonic/gin"
	"github.com/xuri/excelize/v2"
)

// exportAlertsHandler streams the current fraud alert list as an xlsx
// workbook, honoring the same query filters as the JSON listing.
func exportAlertsHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		logger := config.GetLogger()

		filter := models.FraudAlertFilter{Limit: 100}
		if v := c.Query("alert_type"); v != "" {
			t := models.FraudAlertType(v)
			filter.AlertType = &t
		}
		if v := c.Query("severity"); v != "" {
			s := models.FraudSeverity(v)
			filter.Severity = &s
		}
		if v := c.Query("resolved"); v != "" {
			resolved := v == "true"
			filter.IsResolved = &resolved
		}

		alerts, _, err := models.ListFraudAlerts(c.Request.Context(), &filter)
		if err != nil {
			config.LogError(logger, "reportExport.go", "exportAlertsHandler", "ListFraudAlerts", nil, err)
			c.JSON(http.StatusInternalServerError, gin.H{"error": "could not load alerts"})
			return
		}

		f := excelize.NewFile()
		if _, err := f.NewSheet("Sheet1"); err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": "could not build workbook"})
			return
		}

		// Add headers
		f.SetCellValue("Sheet1", "A1", "AlertType")
		f.SetCellValue("Sheet1", "B1", "Severity")
		f.SetCellValue("Sheet1", "C1", "Description")
		f.SetCellValue("Sheet1", "D1", "BatchNumber")
		f.SetCellValue("Sheet1", "E1", "Medicine")
		f.SetCellValue("Sheet1", "F1", "Resolved")
		f.SetCellValue("Sheet1", "G1", "CreatedAt")

		for i, a := range alerts {
			row := fmt.Sprint(i + 2)
			f.SetCellValue("Sheet1", "A"+row, string(a.AlertType))
			f.SetCellValue("Sheet1", "B"+row, string(a.Severity))
			f.SetCellValue("Sheet1", "C"+row, a.Description)
			if a.Batch != nil {
				f.SetCellValue("Sheet1", "D"+row, a.Batch.BatchNumber)
				if a.Batch.Medicine != nil {
					f.SetCellValue("Sheet1", "E"+row, a.Batch.Medicine.Name)
				}
			}
			f.SetCellValue("Sheet1", "F"+row, a.IsResolved)
			f.SetCellValue("Sheet1", "G"+row, a.CreatedAt.Format("2006-01-02 15:04:05"))
		}

		c.Header("Content-Type", "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet")
		c.Header("Content-Disposition", "attachment; filename=fraud_alerts.xlsx")
		c.Status(http.StatusOK)
		if err := f.Write(c.Writer); err != nil {
			config.LogError(logger, "reportExport.go", "exportAlertsHandler", "f.Write", nil, err)
		}
	}
}

// exportScanLogsHandler streams recent scan logs as an xlsx workbook,
// optionally scoped to one batch via ?batch_id=.
func exportScanLogsHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		logger := config.GetLogger()

		scans, err := models.ListScanLogs(c.Request.Context(), c.Query("batch_id"), 1000)
		if err != nil {
			config.LogError(logger, "reportExport.go", "exportScanLogsHandler", "ListScanLogs", nil, err)
			c.JSON(http.StatusInternalServerError, gin.H{"error": "could not load scan logs"})
			return
		}

		f := excelize.NewFile()
		if _, err := f.NewSheet("Sheet1"); err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": "could not build workbook"})
			return
		}

		// Add headers
		f.SetCellValue("Sheet1", "A1", "ScanType")
		f.SetCellValue("Sheet1", "B1", "RawCode")
		f.SetCellValue("Sheet1", "C1", "BatchNumber")
		f.SetCellValue("Sheet1", "D1", "Medicine")
		f.SetCellValue("Sheet1", "E1", "BlockchainStatus")
		f.SetCellValue("Sheet1", "F1", "DeviceModel")
		f.SetCellValue("Sheet1", "G1", "Location")
		f.SetCellValue("Sheet1", "H1", "CreatedAt")

		for i, s := range scans {
			row := fmt.Sprint(i + 2)
			f.SetCellValue("Sheet1", "A"+row, string(s.ScanType))
			f.SetCellValue("Sheet1", "B"+row, s.RawCode)
			if s.Batch != nil {
				f.SetCellValue("Sheet1", "C"+row, s.Batch.BatchNumber)
				if s.Batch.Medicine != nil {
					f.SetCellValue("Sheet1", "D"+row, s.Batch.Medicine.Name)
				}
			}
			f.SetCellValue("Sheet1", "E"+row, s.BlockchainStatus)
			f.SetCellValue("Sheet1", "F"+row, s.DeviceModel)
			f.SetCellValue("Sheet1", "G"+row, s.LocationAddress)
			f.SetCellValue("Sheet1", "H"+row, s.CreatedAt.Format("2006-01-02 15:04:05"))
		}

		c.Header("Content-Type", "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet")
		c.Header("Content-Disposition", "attachment; filename=scan_logs.xlsx")
		c.Status(http.StatusOK)
		if err := f.Write(c.Writer); err != nil {
			config.LogError(logger, "reportExport.go", "exportScanLogsHandler", "f.Write", nil, err)
		}
	}
}
