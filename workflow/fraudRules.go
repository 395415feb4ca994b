package workflow

import (
	"fmt"
	"math"
	"time"

	"bitbucket.org/meditrustlab/trace_backend/models"
	"github.com/shopspring/decimal"
)

// ScanContext is everything the detectors may look at for one scan. It is
// assembled once by the orchestrator so every rule sees the same snapshot.
type ScanContext struct {
	Now      time.Time
	RawCode  string
	ScanType models.ScanType

	Resolved   bool
	CodeActive bool
	QRCode     *models.QRCode
	Batch      *models.Batch

	Role          models.UserRole
	Authenticated bool

	HashValid  bool
	Ledger     models.LedgerResult
	Transition Transition

	RecentScans           int
	FrequentScanThreshold int
	FrequentScanWindow    time.Duration

	Lat, Lng         *decimal.Decimal
	PrevLat, PrevLng *decimal.Decimal
	PrevScanAt       *time.Time
}

// Finding is one triggered detector, pre-escalation or post-escalation.
type Finding struct {
	AlertType   models.FraudAlertType
	Severity    models.FraudSeverity
	Description string
	Evidence    map[string]any
}

// maxPlausibleSpeedKmh bounds how fast one physical unit can move between
// two located scans. Faster than a commercial flight means two units are
// sharing a code.
const maxPlausibleSpeedKmh = 800.0

type detector func(sc *ScanContext) *Finding

// detectors run in a fixed order and never short-circuit: a scan that trips
// three rules yields three alerts, and the escalation pass needs the full
// triggered set.
var detectors = []detector{
	detectDuplicateQRCode,
	detectInvalidBatchHash,
	detectExpiredMedicine,
	detectRecalledBatch,
	detectLocationMismatch,
	detectFrequentScans,
	detectUnauthorizedAccess,
	detectBlockchainMismatch,
}

// EvaluateFraud runs every detector over the snapshot, then applies the
// escalation rules to the triggered set.
func EvaluateFraud(sc *ScanContext) []Finding {
	var findings []Finding
	for _, d := range detectors {
		if f := d(sc); f != nil {
			findings = append(findings, *f)
		}
	}
	return escalate(findings)
}

// escalate upgrades severities when certain detectors co-occur. A location
// anomaly alongside a broken hash means active cloning, not a logistics
// hiccup; a scan burst alongside any critical finding is part of the attack.
func escalate(findings []Finding) []Finding {
	triggered := map[models.FraudAlertType]bool{}
	anyCritical := false
	for _, f := range findings {
		triggered[f.AlertType] = true
		if f.Severity == models.SeverityCritical {
			anyCritical = true
		}
	}

	for i := range findings {
		switch findings[i].AlertType {
		case models.FraudLocationMismatch:
			if triggered[models.FraudInvalidBatchHash] || triggered[models.FraudBlockchainMismatch] {
				findings[i].Severity = models.SeverityCritical
				findings[i].Evidence["escalated"] = true
			}
		case models.FraudFrequentScans:
			if anyCritical && findings[i].Severity.Rank() < models.SeverityHigh.Rank() {
				findings[i].Severity = models.SeverityHigh
				findings[i].Evidence["escalated"] = true
			}
		}
	}
	return findings
}

// ComputeVerdict folds findings and the ledger answer into the response
// verdict. An unresolvable code is INVALID outright; a critical finding is
// INVALID; anything else anomalous, including an unreachable ledger, is
// SUSPECT.
func ComputeVerdict(sc *ScanContext, findings []Finding) models.VerificationVerdict {
	if !sc.Resolved {
		return models.VerdictInvalid
	}
	for _, f := range findings {
		if f.Severity == models.SeverityCritical {
			return models.VerdictInvalid
		}
	}
	if len(findings) > 0 || sc.Ledger == models.LedgerUnverifiable {
		return models.VerdictSuspect
	}
	return models.VerdictGenuine
}

func detectDuplicateQRCode(sc *ScanContext) *Finding {
	if !sc.Resolved {
		return &Finding{
			AlertType:   models.FraudDuplicateQRCode,
			Severity:    models.SeverityHigh,
			Description: "scanned code was never issued",
			Evidence:    map[string]any{"reason": "code_not_issued", "raw_code": sc.RawCode},
		}
	}
	if !sc.CodeActive {
		return &Finding{
			AlertType:   models.FraudDuplicateQRCode,
			Severity:    models.SeverityHigh,
			Description: "scanned code has been deactivated",
			Evidence:    map[string]any{"reason": "code_deactivated", "raw_code": sc.RawCode},
		}
	}
	if sc.Batch != nil && sc.Batch.LifecycleStatus == models.LifecycleSold && sc.ScanType.Mutating() {
		return &Finding{
			AlertType:   models.FraudDuplicateQRCode,
			Severity:    models.SeverityHigh,
			Description: "mutating scan on a unit already sold",
			Evidence: map[string]any{
				"reason":    "already_sold",
				"scan_type": string(sc.ScanType),
			},
		}
	}
	return nil
}

func detectInvalidBatchHash(sc *ScanContext) *Finding {
	if !sc.Resolved || sc.Batch == nil || sc.HashValid {
		return nil
	}
	return &Finding{
		AlertType:   models.FraudInvalidBatchHash,
		Severity:    models.SeverityCritical,
		Description: "batch hash does not match recomputed manufacturing fingerprint",
		Evidence: map[string]any{
			"stored_hash": sc.Batch.BatchHash,
			"batch_id":    sc.Batch.ID,
		},
	}
}

func detectExpiredMedicine(sc *ScanContext) *Finding {
	if !sc.Resolved || sc.Batch == nil {
		return nil
	}
	if !sc.Batch.ExpiryDate.Before(sc.Now) {
		return nil
	}
	return &Finding{
		AlertType:   models.FraudExpiredMedicine,
		Severity:    models.SeverityMedium,
		Description: "medicine expired on " + sc.Batch.ExpiryDate.Format("2006-01-02"),
		Evidence: map[string]any{
			"expiry_date":  sc.Batch.ExpiryDate.Format(time.RFC3339),
			"days_overdue": int(sc.Now.Sub(sc.Batch.ExpiryDate).Hours() / 24),
		},
	}
}

func detectRecalledBatch(sc *ScanContext) *Finding {
	if !sc.Resolved || sc.Batch == nil {
		return nil
	}
	if sc.Batch.Status != models.BatchStatusRecalled && sc.Batch.LifecycleStatus != models.LifecycleRecalled {
		return nil
	}
	return &Finding{
		AlertType:   models.FraudRecalledBatch,
		Severity:    models.SeverityCritical,
		Description: "batch is under recall",
		Evidence: map[string]any{
			"batch_id":     sc.Batch.ID,
			"batch_number": sc.Batch.BatchNumber,
		},
	}
}

// detectLocationMismatch flags ordering anomalies two ways: a rejected
// stage transition (the unit claims a custody position the chain does not
// support), and geo-velocity violations where the same code is seen at two
// locations no single unit could travel between in the elapsed time.
func detectLocationMismatch(sc *ScanContext) *Finding {
	if !sc.Resolved {
		return nil
	}
	if sc.ScanType.Mutating() && !sc.Transition.Allowed {
		return &Finding{
			AlertType:   models.FraudLocationMismatch,
			Severity:    models.SeverityMedium,
			Description: "stage transition rejected: " + sc.Transition.Reason,
			Evidence: map[string]any{
				"reason":    "ordering_violation",
				"from":      string(sc.Transition.From),
				"scan_type": string(sc.ScanType),
			},
		}
	}
	if sc.Lat == nil || sc.Lng == nil {
		return nil
	}
	if sc.PrevLat == nil || sc.PrevLng == nil || sc.PrevScanAt == nil {
		return nil
	}
	elapsed := sc.Now.Sub(*sc.PrevScanAt)
	if elapsed <= 0 {
		elapsed = time.Second
	}
	distKm := haversineKm(
		sc.PrevLat.InexactFloat64(), sc.PrevLng.InexactFloat64(),
		sc.Lat.InexactFloat64(), sc.Lng.InexactFloat64(),
	)
	speed := distKm / elapsed.Hours()
	if speed <= maxPlausibleSpeedKmh {
		return nil
	}
	return &Finding{
		AlertType:   models.FraudLocationMismatch,
		Severity:    models.SeverityMedium,
		Description: fmt.Sprintf("code moved %.0f km in %s", distKm, elapsed.Round(time.Second)),
		Evidence: map[string]any{
			"distance_km":       math.Round(distKm),
			"elapsed_seconds":   int(elapsed.Seconds()),
			"implied_speed_kmh": math.Round(speed),
		},
	}
}

func detectFrequentScans(sc *ScanContext) *Finding {
	if !sc.Resolved || sc.RecentScans < sc.FrequentScanThreshold {
		return nil
	}
	return &Finding{
		AlertType:   models.FraudFrequentScans,
		Severity:    models.SeverityMedium,
		Description: fmt.Sprintf("code scanned %d times within %s", sc.RecentScans, sc.FrequentScanWindow),
		Evidence: map[string]any{
			"scan_count":     sc.RecentScans,
			"window_seconds": int(sc.FrequentScanWindow.Seconds()),
			"threshold":      sc.FrequentScanThreshold,
		},
	}
}

func detectUnauthorizedAccess(sc *ScanContext) *Finding {
	if RoleMayScan(sc.ScanType, sc.Role, sc.Authenticated) {
		return nil
	}
	role := string(sc.Role)
	if !sc.Authenticated {
		role = "anonymous"
	}
	return &Finding{
		AlertType:   models.FraudUnauthorizedAccess,
		Severity:    models.SeverityHigh,
		Description: fmt.Sprintf("%s caller attempted %s scan", role, sc.ScanType),
		Evidence: map[string]any{
			"role":      role,
			"scan_type": string(sc.ScanType),
		},
	}
}

func detectBlockchainMismatch(sc *ScanContext) *Finding {
	if !sc.Resolved || sc.Ledger != models.LedgerMismatch {
		return nil
	}
	return &Finding{
		AlertType:   models.FraudBlockchainMismatch,
		Severity:    models.SeverityCritical,
		Description: "on-chain batch record does not match local batch",
		Evidence: map[string]any{
			"batch_id": sc.Batch.ID,
			"pda":      derefStr(sc.Batch.BlockchainPda),
		},
	}
}

func derefStr(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}

func haversineKm(lat1, lng1, lat2, lng2 float64) float64 {
	const earthRadiusKm = 6371.0
	toRad := func(deg float64) float64 { return deg * math.Pi / 180 }
	dLat := toRad(lat2 - lat1)
	dLng := toRad(lng2 - lng1)
	a := math.Sin(dLat/2)*math.Sin(dLat/2) +
		math.Cos(toRad(lat1))*math.Cos(toRad(lat2))*math.Sin(dLng/2)*math.Sin(dLng/2)
	return 2 * earthRadiusKm * math.Asin(math.Sqrt(a))
}
