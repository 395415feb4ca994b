package workflow

import (
	"context"
	"testing"
	"time"

	"bitbucket.org/meditrustlab/trace_backend/ledger"
	"bitbucket.org/meditrustlab/trace_backend/models"
	"github.com/sirupsen/logrus"
)

type fakeOracle struct {
	records map[string]*ledger.Record
	errs    []error
	calls   int
}

func (f *fakeOracle) FetchRecord(ctx context.Context, pda string) (*ledger.Record, error) {
	f.calls++
	if len(f.errs) > 0 {
		err := f.errs[0]
		f.errs = f.errs[1:]
		if err != nil {
			return nil, err
		}
	}
	rec, ok := f.records[pda]
	if !ok {
		return nil, ledger.ErrAccountNotFound
	}
	return rec, nil
}

func testBatch() *models.Batch {
	pda := "pda-1"
	return &models.Batch{
		ID:                "batch-1",
		BatchHash:         "hash-1",
		Status:            models.BatchStatusValid,
		LifecycleStatus:   models.LifecycleAtPharmacy,
		BlockchainPda:     &pda,
		ManufacturingDate: time.Now().Add(-30 * 24 * time.Hour),
		ExpiryDate:        time.Now().Add(365 * 24 * time.Hour),
	}
}

func TestVerifyHash(t *testing.T) {
	batch := testBatch()
	batch.ManufacturerId = "m-1"
	batch.MedicineId = "med-1"
	batch.BatchNumber = "B-1"
	batch.Quantity = 100
	batch.BatchHash = models.ComputeBatchHash(
		batch.ManufacturerId, batch.MedicineId, batch.BatchNumber,
		batch.ManufacturingDate, batch.ExpiryDate, batch.Quantity,
	)

	v := NewVerifier(&fakeOracle{}, logrus.New())
	if !v.VerifyHash(batch) {
		t.Fatal("expected recomputed hash to match")
	}

	batch.Quantity = 101
	if v.VerifyHash(batch) {
		t.Fatal("tampered quantity must break the hash")
	}
}

func TestVerifyLedger_Match(t *testing.T) {
	batch := testBatch()
	oracle := &fakeOracle{records: map[string]*ledger.Record{
		"pda-1": {BatchHash: "hash-1", Status: ledger.RecordActive},
	}}
	v := NewVerifier(oracle, logrus.New())

	if got := v.VerifyLedger(context.Background(), batch); got != models.LedgerMatch {
		t.Fatalf("expected MATCH, got %s", got)
	}
}

func TestVerifyLedger_HashMismatch(t *testing.T) {
	batch := testBatch()
	oracle := &fakeOracle{records: map[string]*ledger.Record{
		"pda-1": {BatchHash: "other-hash", Status: ledger.RecordActive},
	}}
	v := NewVerifier(oracle, logrus.New())

	if got := v.VerifyLedger(context.Background(), batch); got != models.LedgerMismatch {
		t.Fatalf("expected MISMATCH, got %s", got)
	}
}

func TestVerifyLedger_RecallDisagreement(t *testing.T) {
	batch := testBatch()
	oracle := &fakeOracle{records: map[string]*ledger.Record{
		"pda-1": {BatchHash: "hash-1", Status: ledger.RecordRecalled},
	}}
	v := NewVerifier(oracle, logrus.New())

	if got := v.VerifyLedger(context.Background(), batch); got != models.LedgerMismatch {
		t.Fatalf("chain recalled but local valid: expected MISMATCH, got %s", got)
	}
}

func TestVerifyLedger_AccountMissing(t *testing.T) {
	batch := testBatch()
	oracle := &fakeOracle{records: map[string]*ledger.Record{}}
	v := NewVerifier(oracle, logrus.New())

	if got := v.VerifyLedger(context.Background(), batch); got != models.LedgerMismatch {
		t.Fatalf("missing account: expected MISMATCH, got %s", got)
	}
}

func TestVerifyLedger_RetriesOnceThenUnverifiable(t *testing.T) {
	batch := testBatch()
	oracle := &fakeOracle{errs: []error{ledger.ErrUnavailable, ledger.ErrUnavailable}}
	v := NewVerifier(oracle, logrus.New())

	if got := v.VerifyLedger(context.Background(), batch); got != models.LedgerUnverifiable {
		t.Fatalf("expected UNVERIFIABLE, got %s", got)
	}
	if oracle.calls != 2 {
		t.Fatalf("expected exactly one retry (2 calls), got %d", oracle.calls)
	}
}

func TestVerifyLedger_RecoversOnRetry(t *testing.T) {
	batch := testBatch()
	oracle := &fakeOracle{
		errs:    []error{ledger.ErrUnavailable, nil},
		records: map[string]*ledger.Record{"pda-1": {BatchHash: "hash-1", Status: ledger.RecordActive}},
	}
	v := NewVerifier(oracle, logrus.New())

	if got := v.VerifyLedger(context.Background(), batch); got != models.LedgerMatch {
		t.Fatalf("expected MATCH after retry, got %s", got)
	}
}

func TestVerifyLedger_NoPdaIsUnverifiable(t *testing.T) {
	batch := testBatch()
	batch.BlockchainPda = nil
	oracle := &fakeOracle{}
	v := NewVerifier(oracle, logrus.New())

	if got := v.VerifyLedger(context.Background(), batch); got != models.LedgerUnverifiable {
		t.Fatalf("unanchored batch: expected UNVERIFIABLE, got %s", got)
	}
	if oracle.calls != 0 {
		t.Fatal("unanchored batch must not hit the oracle")
	}
}
