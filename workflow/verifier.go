package workflow

import (
	"context"
	"errors"
	"time"

	"bitbucket.org/meditrustlab/trace_backend/config"
	"bitbucket.org/meditrustlab/trace_backend/ledger"
	"bitbucket.org/meditrustlab/trace_backend/models"
	"github.com/sirupsen/logrus"
)

// Verifier checks batch integrity two ways: a local recompute of the batch
// hash, and a bounded lookup of the on-chain attestation. The ledger answer
// is tri-state and advisory; a dead RPC node degrades the verdict, it never
// blocks the scan.
type Verifier struct {
	oracle ledger.Oracle
	logger *logrus.Logger
}

func NewVerifier(oracle ledger.Oracle, logger *logrus.Logger) *Verifier {
	return &Verifier{oracle: oracle, logger: logger}
}

// VerifyHash recomputes the manufacturing fingerprint and compares it to the
// stored value.
func (v *Verifier) VerifyHash(batch *models.Batch) bool {
	recomputed := models.ComputeBatchHash(
		batch.ManufacturerId,
		batch.MedicineId,
		batch.BatchNumber,
		batch.ManufacturingDate,
		batch.ExpiryDate,
		batch.Quantity,
	)
	return recomputed == batch.BatchHash
}

// VerifyLedger resolves the batch's on-chain record. One retry on transient
// failure, then UNVERIFIABLE. The whole call is bounded by the configured
// ledger timeout.
func (v *Verifier) VerifyLedger(ctx context.Context, batch *models.Batch) models.LedgerResult {
	if batch.BlockchainPda == nil || *batch.BlockchainPda == "" {
		return models.LedgerUnverifiable
	}

	ctx, cancel := context.WithTimeout(ctx, config.LedgerTimeout())
	defer cancel()

	rec, err := v.oracle.FetchRecord(ctx, *batch.BlockchainPda)
	if errors.Is(err, ledger.ErrUnavailable) {
		select {
		case <-ctx.Done():
			return models.LedgerUnverifiable
		case <-time.After(200 * time.Millisecond):
		}
		rec, err = v.oracle.FetchRecord(ctx, *batch.BlockchainPda)
	}
	switch {
	case err == nil:
	case errors.Is(err, ledger.ErrAccountNotFound):
		// The chain answered: nothing is anchored at this address.
		v.logger.WithFields(logrus.Fields{"batch_id": batch.ID, "pda": *batch.BlockchainPda}).
			Warn("no ledger account at batch pda")
		return models.LedgerMismatch
	default:
		v.logger.WithFields(logrus.Fields{"batch_id": batch.ID, "error": err.Error()}).
			Warn("ledger lookup failed")
		return models.LedgerUnverifiable
	}

	if rec.BatchHash != batch.BatchHash {
		return models.LedgerMismatch
	}
	recalledOnChain := rec.Status == ledger.RecordRecalled
	recalledLocally := batch.Status == models.BatchStatusRecalled ||
		batch.LifecycleStatus == models.LifecycleRecalled
	if recalledOnChain != recalledLocally {
		return models.LedgerMismatch
	}
	return models.LedgerMatch
}
