package workflow

import (
	"context"
	"errors"
	"time"

	"bitbucket.org/meditrustlab/trace_backend/config"
	"bitbucket.org/meditrustlab/trace_backend/models"
	"bitbucket.org/meditrustlab/trace_backend/utils"
	"github.com/bsm/redislock"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"
	"gorm.io/datatypes"
)

const (
	scanHandlerName = "scan"
	maxCASRetries   = 3
)

// ScanRequest is one verification attempt as the transport layer hands it
// over: raw code, caller identity (possibly anonymous) and device context.
type ScanRequest struct {
	Code             string
	ScanType         models.ScanType
	IdempotencyToken string

	UserId        *string
	Role          models.UserRole
	Authenticated bool

	DeviceId        string
	DeviceModel     string
	DeviceOS        string
	AppVersion      string
	Lat             *decimal.Decimal
	Lng             *decimal.Decimal
	LocationAddress string

	CorrelationId string
}

// AlertSummary is the client-facing slice of a fraud alert.
type AlertSummary struct {
	AlertType   models.FraudAlertType `json:"alert_type"`
	Severity    models.FraudSeverity  `json:"severity"`
	Description string                `json:"description"`
}

// ScanResult is the verdict plus enough product context for the scanning
// app to render it. It is also the payload cached under the idempotency
// token, so replays return it byte for byte.
type ScanResult struct {
	Verdict         models.VerificationVerdict `json:"verdict"`
	LedgerResult    models.LedgerResult        `json:"ledger_result"`
	LifecycleStatus models.LifecycleStatus     `json:"lifecycle_status"`

	TransitionApplied bool   `json:"transition_applied"`
	TransitionReason  string `json:"transition_reason,omitempty"`

	Alerts   []AlertSummary `json:"alerts,omitempty"`
	Replayed bool           `json:"replayed"`

	MedicineName     string     `json:"medicine_name,omitempty"`
	BatchNumber      string     `json:"batch_number,omitempty"`
	ManufacturerName string     `json:"manufacturer_name,omitempty"`
	ExpiryDate       *time.Time `json:"expiry_date,omitempty"`
	ExpiresSoon      bool       `json:"expires_soon"`

	ScanLogId string `json:"scan_log_id"`
}

// ScanWorkflow orchestrates one scan end to end: resolve, verify, run the
// detectors, commit the lifecycle transition with compare-and-swap, and
// persist log, alerts and outbox rows in a single transaction keyed by the
// idempotency token.
type ScanWorkflow struct {
	store    ScanStore
	verifier *Verifier
	locker   *redislock.Client
	logger   *logrus.Logger
}

func NewScanWorkflow(store ScanStore, verifier *Verifier, locker *redislock.Client, logger *logrus.Logger) *ScanWorkflow {
	return &ScanWorkflow{store: store, verifier: verifier, locker: locker, logger: logger}
}

func (w *ScanWorkflow) ProcessScan(ctx context.Context, req *ScanRequest) (*ScanResult, error) {
	now := time.Now()
	if req.IdempotencyToken == "" {
		// No token means no dedup intent; key the attempt by itself.
		req.IdempotencyToken = uuid.NewString()
	}

	qr, err := w.store.ResolveCode(ctx, req.Code)
	resolved := err == nil
	if err != nil && !errors.Is(err, utils.ErrorRecordNotFound) {
		return nil, err
	}

	sc := &ScanContext{
		Now:                   now,
		RawCode:               req.Code,
		ScanType:              req.ScanType,
		Resolved:              resolved,
		Role:                  req.Role,
		Authenticated:         req.Authenticated,
		Ledger:                models.LedgerUnverifiable,
		FrequentScanThreshold: config.FrequentScanThreshold(),
		FrequentScanWindow:    config.FrequentScanWindow(),
		Lat:                   req.Lat,
		Lng:                   req.Lng,
	}

	if resolved {
		sc.QRCode = qr
		sc.CodeActive = qr.IsActive
		sc.Batch = qr.Batch

		// Integrity checks run before any lock or transaction is taken:
		// the ledger round trip must never extend a write lock.
		sc.HashValid = w.verifier.VerifyHash(qr.Batch)
		sc.Ledger = w.verifier.VerifyLedger(ctx, qr.Batch)

		// The rate anomaly is scoped to consumer-facing traffic; supply
		// chain scans never touch the counter.
		if sc.ScanType == models.ScanTypeVerification || sc.ScanType == models.ScanTypePurchase {
			count, err := w.store.CountRecentScans(ctx, qr.ID, sc.FrequentScanWindow)
			if err != nil {
				w.logger.WithFields(logrus.Fields{"qr_code_id": qr.ID, "error": err.Error()}).
					Warn("recent scan count unavailable")
			} else {
				sc.RecentScans = count
			}
		}

		if req.Lat != nil && req.Lng != nil {
			prev, err := w.store.LastLocatedScan(ctx, qr.ID)
			if err == nil {
				sc.PrevLat = prev.LocationLat
				sc.PrevLng = prev.LocationLng
				at := prev.CreatedAt
				sc.PrevScanAt = &at
			} else if !errors.Is(err, utils.ErrorRecordNotFound) {
				return nil, err
			}
		}

		if req.ScanType.Mutating() {
			w.lockBatch(ctx, qr.Batch.ID)
		}
	}

	var result *ScanResult
	txErr := w.store.InTransaction(ctx, func(tx ScanTx) error {
		prior, err := tx.BeginIdempotency(ctx, scanHandlerName, req.IdempotencyToken)
		if err != nil {
			return err
		}
		if prior != nil {
			var cached ScanResult
			if err := utils.UnmarshalFromJSON(prior.Result, &cached); err != nil {
				return err
			}
			cached.Replayed = true
			result = &cached
			return nil
		}

		result, err = w.commitScan(ctx, tx, req, sc)
		if err != nil {
			return err
		}

		payload, err := utils.MarshalToJSON(result)
		if err != nil {
			return err
		}
		return tx.MarkIdempotencySucceeded(ctx, scanHandlerName, req.IdempotencyToken, []byte(payload))
	})
	if txErr != nil {
		return nil, txErr
	}
	return result, nil
}

// commitScan runs the detector evaluation and lifecycle commit inside the
// transaction. On a compare-and-swap conflict the batch is reloaded and the
// transition and detectors recomputed against the fresh position; after the
// retry budget the transaction is abandoned so the client can resubmit the
// same token.
func (w *ScanWorkflow) commitScan(ctx context.Context, tx ScanTx, req *ScanRequest, sc *ScanContext) (*ScanResult, error) {
	var findings []Finding
	applied := false

	if sc.Resolved {
		committed := false
		for attempt := 0; attempt < maxCASRetries; attempt++ {
			sc.Transition = AdvanceLifecycle(sc.Batch.LifecycleStatus, sc.ScanType)
			findings = EvaluateFraud(sc)

			target, wantCAS := w.lifecycleTarget(sc)
			if !wantCAS {
				committed = true
				break
			}
			ok, err := tx.CASLifecycle(ctx, sc.Batch.ID, sc.Batch.LifecycleStatus, target)
			if err != nil {
				return nil, err
			}
			if ok {
				applied = sc.Transition.Changed && target == sc.Transition.To
				sc.Batch.LifecycleStatus = target
				committed = true
				break
			}
			fresh, err := tx.ReloadBatch(ctx, sc.Batch.ID)
			if err != nil {
				return nil, err
			}
			sc.Batch.LifecycleStatus = fresh.LifecycleStatus
			sc.Batch.Status = fresh.Status
		}
		if !committed {
			return nil, utils.ErrorScanNotCommitted
		}
	} else {
		findings = EvaluateFraud(sc)
	}

	scanLog, err := w.writeScanLog(ctx, tx, req, sc)
	if err != nil {
		return nil, err
	}

	if err := w.writeAlerts(ctx, tx, req, sc, scanLog, findings); err != nil {
		return nil, err
	}

	if applied && sc.ScanType == models.ScanTypePurchase {
		if err := tx.DecrementRemaining(ctx, sc.Batch.ID); err != nil {
			return nil, err
		}
	}

	if applied {
		err := tx.CreateAuditTrail(ctx, &models.NewAuditTrail{
			EntityType:      "Batch",
			EntityId:        sc.Batch.ID,
			Action:          "LIFECYCLE_TRANSITION",
			FieldName:       "lifecycle_status",
			OldValue:        string(sc.Transition.From),
			NewValue:        string(sc.Transition.To),
			PerformedBy:     derefStr(req.UserId),
			PerformedByRole: string(req.Role),
		})
		if err != nil {
			return nil, err
		}
	}

	return w.buildResult(sc, scanLog, findings, applied), nil
}

// lifecycleTarget decides whether this scan moves the batch and where.
// Expiry wins over any custody advance: an expired non-terminal batch is
// parked at EXPIRED no matter what the scan asked for.
func (w *ScanWorkflow) lifecycleTarget(sc *ScanContext) (models.LifecycleStatus, bool) {
	if sc.Batch.ExpiryDate.Before(sc.Now) && !sc.Batch.LifecycleStatus.IsTerminal() {
		return models.LifecycleExpired, true
	}
	if sc.Transition.Changed && sc.Transition.Allowed {
		return sc.Transition.To, true
	}
	return sc.Batch.LifecycleStatus, false
}

func (w *ScanWorkflow) writeScanLog(ctx context.Context, tx ScanTx, req *ScanRequest, sc *ScanContext) (*models.ScanLog, error) {
	input := models.NewScanLog{
		UserId:             req.UserId,
		RawCode:            req.Code,
		DeviceId:           req.DeviceId,
		DeviceModel:        req.DeviceModel,
		DeviceOS:           req.DeviceOS,
		AppVersion:         req.AppVersion,
		LocationLat:        req.Lat,
		LocationLng:        req.Lng,
		LocationAddress:    req.LocationAddress,
		ScanType:           sc.ScanType,
		BlockchainVerified: sc.Ledger == models.LedgerMatch,
		BlockchainStatus:   string(sc.Ledger),
	}
	if sc.Resolved {
		input.QRCodeId = &sc.QRCode.ID
		input.BatchId = &sc.Batch.ID
	}
	return tx.CreateScanLog(ctx, &input)
}

func (w *ScanWorkflow) writeAlerts(ctx context.Context, tx ScanTx, req *ScanRequest, sc *ScanContext, scanLog *models.ScanLog, findings []Finding) error {
	emitEvents := config.AlertEventsEnabled()
	for _, f := range findings {
		alertInput := models.NewFraudAlert{
			UserId:      req.UserId,
			ScanLogId:   &scanLog.ID,
			AlertType:   f.AlertType,
			Severity:    f.Severity,
			Description: f.Description,
			Evidence:    f.Evidence,
		}
		if sc.Resolved {
			alertInput.BatchId = &sc.Batch.ID
			alertInput.QRCodeId = &sc.QRCode.ID
		}
		alert, err := tx.CreateFraudAlert(ctx, &alertInput)
		if err != nil {
			return err
		}
		if !emitEvents {
			continue
		}
		_, err = tx.CreateAlertEvent(ctx, &models.NewAlertEvent{
			BatchId:       alert.BatchId,
			QRCodeId:      alert.QRCodeId,
			UserId:        alert.UserId,
			AlertType:     alert.AlertType,
			Severity:      alert.Severity,
			Description:   alert.Description,
			Evidence:      datatypes.JSON(alert.Evidence),
			CorrelationId: req.CorrelationId,
		})
		if err != nil {
			return err
		}
	}
	return nil
}

func (w *ScanWorkflow) buildResult(sc *ScanContext, scanLog *models.ScanLog, findings []Finding, applied bool) *ScanResult {
	result := ScanResult{
		Verdict:           ComputeVerdict(sc, findings),
		LedgerResult:      sc.Ledger,
		TransitionApplied: applied,
		ScanLogId:         scanLog.ID,
	}
	if sc.Resolved {
		result.LifecycleStatus = sc.Batch.LifecycleStatus
		result.BatchNumber = sc.Batch.BatchNumber
		expiry := sc.Batch.ExpiryDate
		result.ExpiryDate = &expiry
		soonWindow := time.Duration(config.ExpiringSoonDays()) * 24 * time.Hour
		result.ExpiresSoon = expiry.After(sc.Now) && expiry.Before(sc.Now.Add(soonWindow))
		if sc.Batch.Medicine != nil {
			result.MedicineName = sc.Batch.Medicine.Name
		}
		if sc.Batch.Manufacturer != nil {
			result.ManufacturerName = sc.Batch.Manufacturer.Name
		}
		if !sc.Transition.Allowed {
			result.TransitionReason = sc.Transition.Reason
		}
	}
	for _, f := range findings {
		result.Alerts = append(result.Alerts, AlertSummary{
			AlertType:   f.AlertType,
			Severity:    f.Severity,
			Description: f.Description,
		})
	}
	return &result
}

// lockBatch takes a best-effort advisory lock so concurrent mutating scans
// of one batch usually serialize before hitting the compare-and-swap. Lock
// failure is not an error; the CAS is the correctness guard.
func (w *ScanWorkflow) lockBatch(ctx context.Context, batchId string) {
	locker := w.locker
	if locker == nil {
		// Redis may have connected after the workflow was built.
		locker = config.GetRedisLock()
	}
	if locker == nil {
		return
	}
	lock, err := locker.Obtain(ctx, "batch_lock:"+batchId, 5*time.Second, nil)
	if err != nil {
		return
	}
	// Held for the request only; TTL covers the crash path.
	go func() {
		<-ctx.Done()
		releaseCtx, cancel := context.WithTimeout(context.Background(), time.Second)
		defer cancel()
		_ = lock.Release(releaseCtx)
	}()
}
