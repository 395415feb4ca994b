package workflow

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"bitbucket.org/meditrustlab/trace_backend/ledger"
	"bitbucket.org/meditrustlab/trace_backend/models"
	"bitbucket.org/meditrustlab/trace_backend/utils"
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
)

// NOTE: These tests are intentionally DB-free. They validate the scan
// orchestration semantics end to end: durable idempotency, compare-and-swap
// lifecycle commits, and detector evaluation against the committed snapshot.
// Full DB integration tests need an environment that can run MySQL.

type fakeStore struct {
	mu          sync.Mutex
	codes       map[string]*models.QRCode
	batches     map[string]*models.Batch
	idem        map[string]*models.IdempotencyKey
	scanLogs    []models.ScanLog
	alerts      []models.FraudAlert
	events      []models.AlertEvent
	audits      []models.NewAuditTrail
	recentScans int
	countCalls  int
	decrements  int
	beforeCAS   func() // runs once before the first CAS, to simulate a racing writer
}

func newFakeStore() *fakeStore {
	return &fakeStore{
		codes:   map[string]*models.QRCode{},
		batches: map[string]*models.Batch{},
		idem:    map[string]*models.IdempotencyKey{},
	}
}

func (s *fakeStore) addBatch(batch *models.Batch, code string) {
	s.batches[batch.ID] = batch
	s.codes[code] = &models.QRCode{
		ID:       "qr-" + batch.ID,
		Code:     code,
		BatchId:  batch.ID,
		IsActive: true,
		Batch:    batch,
	}
}

func (s *fakeStore) ResolveCode(ctx context.Context, code string) (*models.QRCode, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	qr, ok := s.codes[code]
	if !ok {
		return nil, utils.ErrorRecordNotFound
	}
	// Copies: the workflow mutates its snapshot during CAS retries.
	qrCopy := *qr
	batchCopy := *s.batches[qr.BatchId]
	qrCopy.Batch = &batchCopy
	return &qrCopy, nil
}

func (s *fakeStore) CountRecentScans(ctx context.Context, qrCodeId string, window time.Duration) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.countCalls++
	return s.recentScans, nil
}

func (s *fakeStore) LastLocatedScan(ctx context.Context, qrCodeId string) (*models.ScanLog, error) {
	return nil, utils.ErrorRecordNotFound
}

func (s *fakeStore) InTransaction(ctx context.Context, fn func(tx ScanTx) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	snapshot := s.snapshotLocked()
	if err := fn(&fakeTx{s: s}); err != nil {
		s.restoreLocked(snapshot)
		return err
	}
	return nil
}

type storeSnapshot struct {
	idem     map[string]*models.IdempotencyKey
	batches  map[string]models.Batch
	logs     int
	alerts   int
	events   int
	audits   int
	decrs    int
}

func (s *fakeStore) snapshotLocked() storeSnapshot {
	snap := storeSnapshot{
		idem:    map[string]*models.IdempotencyKey{},
		batches: map[string]models.Batch{},
		logs:    len(s.scanLogs),
		alerts:  len(s.alerts),
		events:  len(s.events),
		audits:  len(s.audits),
		decrs:   s.decrements,
	}
	for k, v := range s.idem {
		cp := *v
		snap.idem[k] = &cp
	}
	for k, v := range s.batches {
		snap.batches[k] = *v
	}
	return snap
}

func (s *fakeStore) restoreLocked(snap storeSnapshot) {
	s.idem = snap.idem
	for k, v := range snap.batches {
		cp := v
		s.batches[k] = &cp
	}
	s.scanLogs = s.scanLogs[:snap.logs]
	s.alerts = s.alerts[:snap.alerts]
	s.events = s.events[:snap.events]
	s.audits = s.audits[:snap.audits]
	s.decrements = snap.decrs
}

type fakeTx struct {
	s *fakeStore
}

func (t *fakeTx) BeginIdempotency(ctx context.Context, handler string, token string) (*models.IdempotencyKey, error) {
	key := handler + "|" + token
	if existing, ok := t.s.idem[key]; ok {
		if existing.Status == models.IdempotencyStatusStarted {
			return nil, models.ErrDuplicateInFlight
		}
		cp := *existing
		return &cp, nil
	}
	t.s.idem[key] = &models.IdempotencyKey{
		ID:      uuid.NewString(),
		Handler: handler,
		Token:   token,
		Status:  models.IdempotencyStatusStarted,
	}
	return nil, nil
}

func (t *fakeTx) MarkIdempotencySucceeded(ctx context.Context, handler string, token string, result []byte) error {
	key := handler + "|" + token
	row, ok := t.s.idem[key]
	if !ok {
		return errors.New("idempotency row missing")
	}
	row.Status = models.IdempotencyStatusSucceeded
	row.Result = result
	return nil
}

func (t *fakeTx) ReloadBatch(ctx context.Context, batchId string) (*models.Batch, error) {
	batch, ok := t.s.batches[batchId]
	if !ok {
		return nil, utils.ErrorRecordNotFound
	}
	cp := *batch
	return &cp, nil
}

func (t *fakeTx) CASLifecycle(ctx context.Context, batchId string, expected models.LifecycleStatus, next models.LifecycleStatus) (bool, error) {
	if t.s.beforeCAS != nil {
		t.s.beforeCAS()
		t.s.beforeCAS = nil
	}
	batch, ok := t.s.batches[batchId]
	if !ok {
		return false, utils.ErrorRecordNotFound
	}
	if batch.LifecycleStatus != expected {
		return false, nil
	}
	batch.LifecycleStatus = next
	return true, nil
}

func (t *fakeTx) DecrementRemaining(ctx context.Context, batchId string) error {
	t.s.decrements++
	t.s.batches[batchId].RemainingQuantity--
	return nil
}

func (t *fakeTx) CreateScanLog(ctx context.Context, input *models.NewScanLog) (*models.ScanLog, error) {
	entry := models.ScanLog{
		ID:       uuid.NewString(),
		QRCodeId: input.QRCodeId,
		BatchId:  input.BatchId,
		UserId:   input.UserId,
		RawCode:  input.RawCode,
		ScanType: input.ScanType,
	}
	t.s.scanLogs = append(t.s.scanLogs, entry)
	return &entry, nil
}

func (t *fakeTx) CreateFraudAlert(ctx context.Context, input *models.NewFraudAlert) (*models.FraudAlert, error) {
	alert := models.FraudAlert{
		ID:          uuid.NewString(),
		BatchId:     input.BatchId,
		QRCodeId:    input.QRCodeId,
		UserId:      input.UserId,
		ScanLogId:   input.ScanLogId,
		AlertType:   input.AlertType,
		Severity:    input.Severity,
		Description: input.Description,
	}
	t.s.alerts = append(t.s.alerts, alert)
	return &alert, nil
}

func (t *fakeTx) CreateAlertEvent(ctx context.Context, input *models.NewAlertEvent) (*models.AlertEvent, error) {
	event := models.AlertEvent{
		ID:        uuid.NewString(),
		AlertType: input.AlertType,
		Severity:  input.Severity,
	}
	t.s.events = append(t.s.events, event)
	return &event, nil
}

func (t *fakeTx) CreateAuditTrail(ctx context.Context, input *models.NewAuditTrail) error {
	t.s.audits = append(t.s.audits, *input)
	return nil
}

func pharmacyBatch() *models.Batch {
	pda := "pda-1"
	batch := &models.Batch{
		ID:                "batch-1",
		BatchNumber:       "B-100",
		ManufacturerId:    "m-1",
		MedicineId:        "med-1",
		ManufacturingDate: time.Now().Add(-60 * 24 * time.Hour),
		ExpiryDate:        time.Now().Add(300 * 24 * time.Hour),
		Quantity:          100,
		RemainingQuantity: 100,
		Status:            models.BatchStatusValid,
		LifecycleStatus:   models.LifecycleAtPharmacy,
		BlockchainPda:     &pda,
	}
	batch.BatchHash = models.ComputeBatchHash(
		batch.ManufacturerId, batch.MedicineId, batch.BatchNumber,
		batch.ManufacturingDate, batch.ExpiryDate, batch.Quantity,
	)
	return batch
}

func newTestWorkflow(store *fakeStore, batch *models.Batch) *ScanWorkflow {
	oracle := &fakeOracle{records: map[string]*ledger.Record{}}
	if batch != nil && batch.BlockchainPda != nil {
		oracle.records[*batch.BlockchainPda] = &ledger.Record{
			BatchHash: batch.BatchHash,
			Status:    ledger.RecordActive,
		}
	}
	logger := logrus.New()
	return NewScanWorkflow(store, NewVerifier(oracle, logger), nil, logger)
}

func consumerPurchase(code string, token string) *ScanRequest {
	userId := "user-1"
	return &ScanRequest{
		Code:             code,
		ScanType:         models.ScanTypePurchase,
		IdempotencyToken: token,
		UserId:           &userId,
		Role:             models.UserRoleConsumer,
		Authenticated:    true,
	}
}

func TestProcessScan_GenuinePurchase(t *testing.T) {
	store := newFakeStore()
	batch := pharmacyBatch()
	store.addBatch(batch, "QR-1")
	wf := newTestWorkflow(store, batch)

	result, err := wf.ProcessScan(context.Background(), consumerPurchase("QR-1", "tok-1"))
	if err != nil {
		t.Fatalf("ProcessScan: %v", err)
	}
	if result.Verdict != models.VerdictGenuine {
		t.Fatalf("expected GENUINE, got %s (alerts %+v)", result.Verdict, result.Alerts)
	}
	if !result.TransitionApplied || result.LifecycleStatus != models.LifecycleSold {
		t.Fatalf("expected applied transition to SOLD, got %+v", result)
	}
	if store.batches["batch-1"].LifecycleStatus != models.LifecycleSold {
		t.Fatal("batch not committed to SOLD")
	}
	if store.decrements != 1 {
		t.Fatalf("expected 1 remaining-quantity decrement, got %d", store.decrements)
	}
	if len(store.scanLogs) != 1 {
		t.Fatalf("expected 1 scan log, got %d", len(store.scanLogs))
	}
	if len(store.alerts) != 0 {
		t.Fatalf("expected no alerts, got %+v", store.alerts)
	}
	if len(store.audits) != 1 || store.audits[0].Action != "LIFECYCLE_TRANSITION" {
		t.Fatalf("expected one lifecycle audit entry, got %+v", store.audits)
	}
	if row := store.idem["scan|tok-1"]; row == nil || row.Status != models.IdempotencyStatusSucceeded {
		t.Fatal("idempotency row not marked succeeded")
	}
}

func TestProcessScan_IdempotentReplay(t *testing.T) {
	store := newFakeStore()
	batch := pharmacyBatch()
	store.addBatch(batch, "QR-1")
	wf := newTestWorkflow(store, batch)

	first, err := wf.ProcessScan(context.Background(), consumerPurchase("QR-1", "tok-1"))
	if err != nil {
		t.Fatalf("first scan: %v", err)
	}
	second, err := wf.ProcessScan(context.Background(), consumerPurchase("QR-1", "tok-1"))
	if err != nil {
		t.Fatalf("replay: %v", err)
	}
	if !second.Replayed {
		t.Fatal("expected replay to be flagged")
	}
	if second.Verdict != first.Verdict || second.ScanLogId != first.ScanLogId {
		t.Fatalf("replay must return the original outcome: first %+v second %+v", first, second)
	}
	if len(store.scanLogs) != 1 {
		t.Fatalf("replay must not write a second scan log, got %d", len(store.scanLogs))
	}
	if store.decrements != 1 {
		t.Fatalf("replay must not decrement again, got %d", store.decrements)
	}
}

func TestProcessScan_InFlightDuplicateRejected(t *testing.T) {
	store := newFakeStore()
	batch := pharmacyBatch()
	store.addBatch(batch, "QR-1")
	store.idem["scan|tok-1"] = &models.IdempotencyKey{
		Handler: "scan", Token: "tok-1", Status: models.IdempotencyStatusStarted,
	}
	wf := newTestWorkflow(store, batch)

	_, err := wf.ProcessScan(context.Background(), consumerPurchase("QR-1", "tok-1"))
	if !errors.Is(err, models.ErrDuplicateInFlight) {
		t.Fatalf("expected ErrDuplicateInFlight, got %v", err)
	}
}

func TestProcessScan_UnknownCode(t *testing.T) {
	store := newFakeStore()
	wf := newTestWorkflow(store, nil)

	result, err := wf.ProcessScan(context.Background(), &ScanRequest{
		Code:     "QR-never-issued",
		ScanType: models.ScanTypeVerification,
	})
	if err != nil {
		t.Fatalf("ProcessScan: %v", err)
	}
	if result.Verdict != models.VerdictInvalid {
		t.Fatalf("unknown code: expected INVALID, got %s", result.Verdict)
	}
	if len(store.scanLogs) != 1 {
		t.Fatal("unresolved scans must still leave a scan log")
	}
	if store.scanLogs[0].BatchId != nil || store.scanLogs[0].QRCodeId != nil {
		t.Fatal("unresolved scan log must carry nil batch and qr references")
	}
	if len(store.alerts) != 1 || store.alerts[0].AlertType != models.FraudDuplicateQRCode {
		t.Fatalf("expected one DUPLICATE_QR_CODE alert, got %+v", store.alerts)
	}
}

func TestProcessScan_ExpiredPurchaseParksBatch(t *testing.T) {
	store := newFakeStore()
	batch := pharmacyBatch()
	batch.ExpiryDate = time.Now().Add(-24 * time.Hour)
	batch.BatchHash = models.ComputeBatchHash(
		batch.ManufacturerId, batch.MedicineId, batch.BatchNumber,
		batch.ManufacturingDate, batch.ExpiryDate, batch.Quantity,
	)
	store.addBatch(batch, "QR-1")
	wf := newTestWorkflow(store, batch)

	result, err := wf.ProcessScan(context.Background(), consumerPurchase("QR-1", "tok-1"))
	if err != nil {
		t.Fatalf("ProcessScan: %v", err)
	}
	if result.Verdict != models.VerdictSuspect {
		t.Fatalf("expired purchase: expected SUSPECT, got %s", result.Verdict)
	}
	if result.TransitionApplied {
		t.Fatal("expired batch must not advance to SOLD")
	}
	if store.batches["batch-1"].LifecycleStatus != models.LifecycleExpired {
		t.Fatalf("expected batch parked at EXPIRED, got %s", store.batches["batch-1"].LifecycleStatus)
	}
	if store.decrements != 0 {
		t.Fatal("expired purchase must not decrement remaining quantity")
	}
	found := false
	for _, a := range store.alerts {
		if a.AlertType == models.FraudExpiredMedicine {
			found = true
		}
	}
	if !found {
		t.Fatalf("expected EXPIRED_MEDICINE alert, got %+v", store.alerts)
	}
}

func TestProcessScan_RejectedTransitionRaisesAlert(t *testing.T) {
	store := newFakeStore()
	batch := pharmacyBatch()
	batch.LifecycleStatus = models.LifecycleInTransit
	store.addBatch(batch, "QR-1")
	wf := newTestWorkflow(store, batch)

	result, err := wf.ProcessScan(context.Background(), consumerPurchase("QR-1", "tok-1"))
	if err != nil {
		t.Fatalf("ProcessScan: %v", err)
	}
	if result.TransitionApplied {
		t.Fatal("purchase against IN_TRANSIT must not apply a transition")
	}
	if store.batches["batch-1"].LifecycleStatus != models.LifecycleInTransit {
		t.Fatalf("batch must stay IN_TRANSIT, got %s", store.batches["batch-1"].LifecycleStatus)
	}
	found := false
	for _, a := range store.alerts {
		if a.AlertType == models.FraudLocationMismatch {
			found = true
		}
	}
	if !found {
		t.Fatalf("rejected stage transition must raise LOCATION_MISMATCH, got %+v", store.alerts)
	}
	if result.Verdict != models.VerdictSuspect {
		t.Fatalf("ordering anomaly: expected SUSPECT, got %s", result.Verdict)
	}
}

func TestProcessScan_SupplyChainScansSkipRateCounter(t *testing.T) {
	store := newFakeStore()
	batch := pharmacyBatch()
	batch.LifecycleStatus = models.LifecycleInProduction
	store.addBatch(batch, "QR-1")
	wf := newTestWorkflow(store, batch)

	userId := "dist-1"
	result, err := wf.ProcessScan(context.Background(), &ScanRequest{
		Code:             "QR-1",
		ScanType:         models.ScanTypeDistribution,
		IdempotencyToken: "tok-1",
		UserId:           &userId,
		Role:             models.UserRoleDistributor,
		Authenticated:    true,
	})
	if err != nil {
		t.Fatalf("ProcessScan: %v", err)
	}
	if !result.TransitionApplied || result.LifecycleStatus != models.LifecycleInTransit {
		t.Fatalf("expected applied transition to IN_TRANSIT, got %+v", result)
	}
	if store.countCalls != 0 {
		t.Fatalf("distribution scan must not touch the rate counter, got %d calls", store.countCalls)
	}

	if _, err := wf.ProcessScan(context.Background(), &ScanRequest{
		Code:     "QR-1",
		ScanType: models.ScanTypeVerification,
	}); err != nil {
		t.Fatalf("verification scan: %v", err)
	}
	if store.countCalls != 1 {
		t.Fatalf("verification scan must consult the rate counter once, got %d calls", store.countCalls)
	}
}

func TestProcessScan_CASConflictRecomputesDetectors(t *testing.T) {
	store := newFakeStore()
	batch := pharmacyBatch()
	store.addBatch(batch, "QR-1")
	// A racing purchase lands between our read and our commit.
	store.beforeCAS = func() {
		store.batches["batch-1"].LifecycleStatus = models.LifecycleSold
	}
	wf := newTestWorkflow(store, batch)

	result, err := wf.ProcessScan(context.Background(), consumerPurchase("QR-1", "tok-1"))
	if err != nil {
		t.Fatalf("ProcessScan: %v", err)
	}
	if result.TransitionApplied {
		t.Fatal("losing racer must not apply a transition")
	}
	if store.batches["batch-1"].LifecycleStatus != models.LifecycleSold {
		t.Fatal("winner's SOLD state must survive")
	}
	// The rerun detectors must see the unit as already sold.
	found := false
	for _, a := range store.alerts {
		if a.AlertType == models.FraudDuplicateQRCode {
			found = true
		}
	}
	if !found {
		t.Fatalf("expected DUPLICATE_QR_CODE after conflict recompute, got %+v", store.alerts)
	}
	if result.Verdict != models.VerdictSuspect {
		t.Fatalf("losing purchase: expected SUSPECT, got %s", result.Verdict)
	}
	if store.decrements != 0 {
		t.Fatal("losing purchase must not decrement remaining quantity")
	}
}

func TestProcessScan_ConcurrentPurchases_OneWins(t *testing.T) {
	store := newFakeStore()
	batch := pharmacyBatch()
	store.addBatch(batch, "QR-1")
	wf := newTestWorkflow(store, batch)

	const workers = 8
	results := make([]*ScanResult, workers)
	errs := make([]error, workers)
	var wg sync.WaitGroup
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			results[i], errs[i] = wf.ProcessScan(context.Background(),
				consumerPurchase("QR-1", "tok-"+uuid.NewString()))
		}(i)
	}
	wg.Wait()

	wins := 0
	for i := 0; i < workers; i++ {
		if errs[i] != nil {
			t.Fatalf("worker %d: %v", i, errs[i])
		}
		if results[i].TransitionApplied {
			wins++
		}
	}
	if wins != 1 {
		t.Fatalf("expected exactly one applied transition, got %d", wins)
	}
	if store.decrements != 1 {
		t.Fatalf("expected exactly one decrement, got %d", store.decrements)
	}
	if store.batches["batch-1"].LifecycleStatus != models.LifecycleSold {
		t.Fatal("batch must end SOLD")
	}
}
