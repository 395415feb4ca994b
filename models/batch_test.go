package models

import (
	"strings"
	"testing"
	"time"
)

func TestComputeBatchHash_Deterministic(t *testing.T) {
	mfg := time.Date(2025, 3, 1, 0, 0, 0, 0, time.UTC)
	expiry := time.Date(2027, 3, 1, 0, 0, 0, 0, time.UTC)

	a := ComputeBatchHash("m-1", "med-1", "B-100", mfg, expiry, 500)
	b := ComputeBatchHash("m-1", "med-1", "B-100", mfg, expiry, 500)
	if a != b {
		t.Fatalf("hash not deterministic: %s vs %s", a, b)
	}
	if len(a) != 32 {
		t.Fatalf("expected 32 hex chars, got %d", len(a))
	}
	for _, c := range a {
		if !strings.ContainsRune("0123456789abcdef", c) {
			t.Fatalf("non-hex character %q in hash", c)
		}
	}
}

func TestComputeBatchHash_SensitiveToEveryField(t *testing.T) {
	mfg := time.Date(2025, 3, 1, 0, 0, 0, 0, time.UTC)
	expiry := time.Date(2027, 3, 1, 0, 0, 0, 0, time.UTC)
	base := ComputeBatchHash("m-1", "med-1", "B-100", mfg, expiry, 500)

	variants := []string{
		ComputeBatchHash("m-2", "med-1", "B-100", mfg, expiry, 500),
		ComputeBatchHash("m-1", "med-2", "B-100", mfg, expiry, 500),
		ComputeBatchHash("m-1", "med-1", "B-101", mfg, expiry, 500),
		ComputeBatchHash("m-1", "med-1", "B-100", mfg.Add(time.Hour), expiry, 500),
		ComputeBatchHash("m-1", "med-1", "B-100", mfg, expiry.Add(time.Hour), 500),
		ComputeBatchHash("m-1", "med-1", "B-100", mfg, expiry, 501),
	}
	for i, v := range variants {
		if v == base {
			t.Fatalf("variant %d did not change the hash", i)
		}
	}
}

func TestComputeBatchHash_TimezoneInsensitive(t *testing.T) {
	ist := time.FixedZone("IST", 5*3600+1800)
	mfgUTC := time.Date(2025, 3, 1, 0, 0, 0, 0, time.UTC)
	mfgIST := mfgUTC.In(ist)
	expiry := time.Date(2027, 3, 1, 0, 0, 0, 0, time.UTC)

	if ComputeBatchHash("m-1", "med-1", "B-100", mfgUTC, expiry, 500) !=
		ComputeBatchHash("m-1", "med-1", "B-100", mfgIST, expiry, 500) {
		t.Fatal("same instant in different zones must hash identically")
	}
}

func TestGenerateCodeString_Format(t *testing.T) {
	code := generateCodeString("0a1b2c3d-4e5f-6789-abcd-ef0123456789", 42)
	parts := strings.Split(code, "-")
	if parts[0] != "QR" {
		t.Fatalf("expected QR prefix, got %q", code)
	}
	if parts[1] != "0a1b2c3d" {
		t.Fatalf("expected 8-char batch prefix, got %q", parts[1])
	}
	if parts[2] != "42" {
		t.Fatalf("expected unit number segment, got %q", parts[2])
	}
	suffix := parts[len(parts)-1]
	if len(suffix) != 16 {
		t.Fatalf("expected 16 hex chars of randomness, got %q", suffix)
	}

	if generateCodeString("0a1b2c3d", 42) == code {
		t.Fatal("two generated codes must differ")
	}
}

func TestLifecycleStatusIsTerminal(t *testing.T) {
	terminal := []LifecycleStatus{LifecycleSold, LifecycleExpired, LifecycleRecalled}
	for _, s := range terminal {
		if !s.IsTerminal() {
			t.Errorf("%s should be terminal", s)
		}
	}
	open := []LifecycleStatus{LifecycleInProduction, LifecycleInTransit, LifecycleAtDistributor, LifecycleAtPharmacy}
	for _, s := range open {
		if s.IsTerminal() {
			t.Errorf("%s should not be terminal", s)
		}
	}
}

func TestScanTypeMutating(t *testing.T) {
	if !ScanTypePurchase.Mutating() || !ScanTypeDistribution.Mutating() {
		t.Fatal("PURCHASE and DISTRIBUTION move the supply chain")
	}
	if ScanTypeVerification.Mutating() || ScanTypeRecallCheck.Mutating() {
		t.Fatal("VERIFICATION and RECALL_CHECK are read-only")
	}
}

func TestSeverityRank(t *testing.T) {
	order := []FraudSeverity{SeverityLow, SeverityMedium, SeverityHigh, SeverityCritical}
	for i := 1; i < len(order); i++ {
		if order[i].Rank() <= order[i-1].Rank() {
			t.Fatalf("%s must outrank %s", order[i], order[i-1])
		}
	}
}
