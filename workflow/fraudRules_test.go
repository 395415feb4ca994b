package workflow

import (
	"testing"
	"time"

	"bitbucket.org/meditrustlab/trace_backend/models"
	"github.com/shopspring/decimal"
)

func cleanContext(now time.Time) *ScanContext {
	batch := &models.Batch{
		ID:              "batch-1",
		BatchNumber:     "B-100",
		BatchHash:       "abc",
		Status:          models.BatchStatusValid,
		LifecycleStatus: models.LifecycleAtPharmacy,
		ExpiryDate:      now.Add(365 * 24 * time.Hour),
	}
	return &ScanContext{
		Now:                   now,
		RawCode:               "QR-test",
		ScanType:              models.ScanTypeVerification,
		Resolved:              true,
		CodeActive:            true,
		QRCode:                &models.QRCode{ID: "qr-1", BatchId: batch.ID, IsActive: true},
		Batch:                 batch,
		HashValid:             true,
		Ledger:                models.LedgerMatch,
		Transition:            Transition{Allowed: true},
		FrequentScanThreshold: 5,
		FrequentScanWindow:    time.Hour,
	}
}

func findingTypes(findings []Finding) map[models.FraudAlertType]Finding {
	out := map[models.FraudAlertType]Finding{}
	for _, f := range findings {
		out[f.AlertType] = f
	}
	return out
}

func TestEvaluateFraud_CleanScanHasNoFindings(t *testing.T) {
	sc := cleanContext(time.Now())
	findings := EvaluateFraud(sc)
	if len(findings) != 0 {
		t.Fatalf("expected no findings, got %+v", findings)
	}
	if v := ComputeVerdict(sc, findings); v != models.VerdictGenuine {
		t.Fatalf("expected GENUINE, got %s", v)
	}
}

func TestEvaluateFraud_UnknownCode(t *testing.T) {
	sc := cleanContext(time.Now())
	sc.Resolved = false
	sc.QRCode = nil
	sc.Batch = nil

	findings := EvaluateFraud(sc)
	byType := findingTypes(findings)
	f, ok := byType[models.FraudDuplicateQRCode]
	if !ok {
		t.Fatalf("expected DUPLICATE_QR_CODE, got %+v", findings)
	}
	if f.Evidence["reason"] != "code_not_issued" {
		t.Fatalf("expected code_not_issued evidence, got %v", f.Evidence)
	}
	if v := ComputeVerdict(sc, findings); v != models.VerdictInvalid {
		t.Fatalf("unresolved code: expected INVALID, got %s", v)
	}
}

func TestEvaluateFraud_DeactivatedCode(t *testing.T) {
	sc := cleanContext(time.Now())
	sc.CodeActive = false

	byType := findingTypes(EvaluateFraud(sc))
	f, ok := byType[models.FraudDuplicateQRCode]
	if !ok || f.Evidence["reason"] != "code_deactivated" {
		t.Fatalf("expected code_deactivated finding, got %+v", f)
	}
}

func TestEvaluateFraud_ExpiredMedicine(t *testing.T) {
	now := time.Now()
	sc := cleanContext(now)
	sc.Batch.ExpiryDate = now.Add(-48 * time.Hour)

	findings := EvaluateFraud(sc)
	byType := findingTypes(findings)
	f, ok := byType[models.FraudExpiredMedicine]
	if !ok {
		t.Fatalf("expected EXPIRED_MEDICINE, got %+v", findings)
	}
	if f.Severity != models.SeverityMedium {
		t.Fatalf("expected MEDIUM severity, got %s", f.Severity)
	}
	if v := ComputeVerdict(sc, findings); v != models.VerdictSuspect {
		t.Fatalf("expired only: expected SUSPECT, got %s", v)
	}
}

func TestEvaluateFraud_RecalledBatchIsInvalid(t *testing.T) {
	sc := cleanContext(time.Now())
	sc.Batch.Status = models.BatchStatusRecalled

	findings := EvaluateFraud(sc)
	byType := findingTypes(findings)
	if _, ok := byType[models.FraudRecalledBatch]; !ok {
		t.Fatalf("expected RECALLED_BATCH, got %+v", findings)
	}
	if v := ComputeVerdict(sc, findings); v != models.VerdictInvalid {
		t.Fatalf("recalled: expected INVALID, got %s", v)
	}
}

func TestEvaluateFraud_InvalidHashIsCritical(t *testing.T) {
	sc := cleanContext(time.Now())
	sc.HashValid = false

	findings := EvaluateFraud(sc)
	byType := findingTypes(findings)
	f, ok := byType[models.FraudInvalidBatchHash]
	if !ok || f.Severity != models.SeverityCritical {
		t.Fatalf("expected CRITICAL INVALID_BATCH_HASH, got %+v", findings)
	}
	if v := ComputeVerdict(sc, findings); v != models.VerdictInvalid {
		t.Fatalf("invalid hash: expected INVALID, got %s", v)
	}
}

func TestEvaluateFraud_BlockchainMismatch(t *testing.T) {
	sc := cleanContext(time.Now())
	sc.Ledger = models.LedgerMismatch

	byType := findingTypes(EvaluateFraud(sc))
	f, ok := byType[models.FraudBlockchainMismatch]
	if !ok || f.Severity != models.SeverityCritical {
		t.Fatalf("expected CRITICAL BLOCKCHAIN_MISMATCH, got %+v", f)
	}
}

func TestEvaluateFraud_LedgerUnverifiableDegradesVerdictOnly(t *testing.T) {
	sc := cleanContext(time.Now())
	sc.Ledger = models.LedgerUnverifiable

	findings := EvaluateFraud(sc)
	if len(findings) != 0 {
		t.Fatalf("unverifiable ledger must not raise alerts, got %+v", findings)
	}
	if v := ComputeVerdict(sc, findings); v != models.VerdictSuspect {
		t.Fatalf("unverifiable ledger: expected SUSPECT, got %s", v)
	}
}

func TestEvaluateFraud_FrequentScans(t *testing.T) {
	sc := cleanContext(time.Now())
	sc.RecentScans = 5

	byType := findingTypes(EvaluateFraud(sc))
	f, ok := byType[models.FraudFrequentScans]
	if !ok || f.Severity != models.SeverityMedium {
		t.Fatalf("expected MEDIUM FREQUENT_SCANS, got %+v", f)
	}

	sc.RecentScans = 4
	if _, ok := findingTypes(EvaluateFraud(sc))[models.FraudFrequentScans]; ok {
		t.Fatal("below threshold must not trigger FREQUENT_SCANS")
	}
}

func TestEvaluateFraud_UnauthorizedAnonymousMutation(t *testing.T) {
	sc := cleanContext(time.Now())
	sc.ScanType = models.ScanTypePurchase
	sc.Authenticated = false

	byType := findingTypes(EvaluateFraud(sc))
	f, ok := byType[models.FraudUnauthorizedAccess]
	if !ok || f.Severity != models.SeverityHigh {
		t.Fatalf("expected HIGH UNAUTHORIZED_ACCESS, got %+v", f)
	}
}

func TestEvaluateFraud_RejectedTransitionIsOrderingAnomaly(t *testing.T) {
	sc := cleanContext(time.Now())
	sc.ScanType = models.ScanTypePurchase
	sc.Authenticated = true
	sc.Role = models.UserRolePharmacy
	sc.Batch.LifecycleStatus = models.LifecycleInTransit
	sc.Transition = AdvanceLifecycle(sc.Batch.LifecycleStatus, sc.ScanType)

	findings := EvaluateFraud(sc)
	byType := findingTypes(findings)
	f, ok := byType[models.FraudLocationMismatch]
	if !ok {
		t.Fatalf("purchase against IN_TRANSIT must raise LOCATION_MISMATCH, got %+v", findings)
	}
	if f.Severity != models.SeverityMedium {
		t.Fatalf("expected MEDIUM severity, got %s", f.Severity)
	}
	if f.Evidence["reason"] != "ordering_violation" {
		t.Fatalf("expected ordering_violation evidence, got %v", f.Evidence)
	}
	if v := ComputeVerdict(sc, findings); v != models.VerdictSuspect {
		t.Fatalf("ordering anomaly alone: expected SUSPECT, got %s", v)
	}

	// The same anomaly alongside a broken hash escalates to CRITICAL.
	sc.HashValid = false
	byType = findingTypes(EvaluateFraud(sc))
	if f := byType[models.FraudLocationMismatch]; f.Severity != models.SeverityCritical {
		t.Fatalf("ordering anomaly with broken hash: expected CRITICAL, got %s", f.Severity)
	}
}

func TestEvaluateFraud_GeoVelocity(t *testing.T) {
	now := time.Now()
	sc := cleanContext(now)

	delhi := decimal.NewFromFloat(28.6139)
	delhiLng := decimal.NewFromFloat(77.2090)
	mumbai := decimal.NewFromFloat(19.0760)
	mumbaiLng := decimal.NewFromFloat(72.8777)

	sc.Lat, sc.Lng = &mumbai, &mumbaiLng
	sc.PrevLat, sc.PrevLng = &delhi, &delhiLng
	prevAt := now.Add(-10 * time.Minute)
	sc.PrevScanAt = &prevAt

	byType := findingTypes(EvaluateFraud(sc))
	if _, ok := byType[models.FraudLocationMismatch]; !ok {
		t.Fatal("Delhi to Mumbai in 10 minutes should trigger LOCATION_MISMATCH")
	}

	// Same trip over two days is unremarkable.
	prevAt = now.Add(-48 * time.Hour)
	sc.PrevScanAt = &prevAt
	if _, ok := findingTypes(EvaluateFraud(sc))[models.FraudLocationMismatch]; ok {
		t.Fatal("plausible travel must not trigger LOCATION_MISMATCH")
	}
}

func TestEscalation_LocationPlusHashMismatchGoesCritical(t *testing.T) {
	now := time.Now()
	sc := cleanContext(now)
	sc.HashValid = false

	lat := decimal.NewFromFloat(28.6139)
	lng := decimal.NewFromFloat(77.2090)
	prevLat := decimal.NewFromFloat(19.0760)
	prevLng := decimal.NewFromFloat(72.8777)
	sc.Lat, sc.Lng = &lat, &lng
	sc.PrevLat, sc.PrevLng = &prevLat, &prevLng
	prevAt := now.Add(-5 * time.Minute)
	sc.PrevScanAt = &prevAt

	byType := findingTypes(EvaluateFraud(sc))
	f, ok := byType[models.FraudLocationMismatch]
	if !ok {
		t.Fatal("expected LOCATION_MISMATCH finding")
	}
	if f.Severity != models.SeverityCritical {
		t.Fatalf("location mismatch with broken hash: expected CRITICAL, got %s", f.Severity)
	}
}

func TestEscalation_FrequentScansAlongsideCritical(t *testing.T) {
	sc := cleanContext(time.Now())
	sc.RecentScans = 10
	sc.Batch.Status = models.BatchStatusRecalled

	byType := findingTypes(EvaluateFraud(sc))
	f, ok := byType[models.FraudFrequentScans]
	if !ok {
		t.Fatal("expected FREQUENT_SCANS finding")
	}
	if f.Severity != models.SeverityHigh {
		t.Fatalf("frequent scans alongside critical: expected HIGH, got %s", f.Severity)
	}
}
