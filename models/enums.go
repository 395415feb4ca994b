package models

import (
	"encoding/json"
	"errors"
)

type UserRole string

const (
	UserRoleAdmin        UserRole = "ADMIN"
	UserRoleManufacturer UserRole = "MANUFACTURER"
	UserRoleDistributor  UserRole = "DISTRIBUTOR"
	UserRolePharmacy     UserRole = "PHARMACY"
	UserRoleScanner      UserRole = "SCANNER"
	UserRoleConsumer     UserRole = "CONSUMER"
)

// convert input to enum type
func (r *UserRole) UnmarshalJSON(b []byte) error {
	var str string
	if err := json.Unmarshal(b, &str); err != nil {
		return errors.New("user role must be string")
	}
	switch str {
	case "ADMIN":
		*r = UserRoleAdmin
	case "MANUFACTURER":
		*r = UserRoleManufacturer
	case "DISTRIBUTOR":
		*r = UserRoleDistributor
	case "PHARMACY":
		*r = UserRolePharmacy
	case "SCANNER":
		*r = UserRoleScanner
	case "CONSUMER":
		*r = UserRoleConsumer
	default:
		return errors.New("invalid user role")
	}
	return nil
}

type BatchStatus string

const (
	BatchStatusValid    BatchStatus = "VALID"
	BatchStatusRecalled BatchStatus = "RECALLED"
)

type LifecycleStatus string

const (
	LifecycleInProduction  LifecycleStatus = "IN_PRODUCTION"
	LifecycleInTransit     LifecycleStatus = "IN_TRANSIT"
	LifecycleAtDistributor LifecycleStatus = "AT_DISTRIBUTOR"
	LifecycleAtPharmacy    LifecycleStatus = "AT_PHARMACY"
	LifecycleSold          LifecycleStatus = "SOLD"
	LifecycleExpired       LifecycleStatus = "EXPIRED"
	LifecycleRecalled      LifecycleStatus = "RECALLED"
)

func (s LifecycleStatus) IsValid() bool {
	switch s {
	case LifecycleInProduction, LifecycleInTransit, LifecycleAtDistributor,
		LifecycleAtPharmacy, LifecycleSold, LifecycleExpired, LifecycleRecalled:
		return true
	}
	return false
}

// IsTerminal reports whether the batch position admits no further
// transitions. SOLD, EXPIRED and RECALLED are absorbing.
func (s LifecycleStatus) IsTerminal() bool {
	switch s {
	case LifecycleSold, LifecycleExpired, LifecycleRecalled:
		return true
	}
	return false
}

type ScanType string

const (
	ScanTypeVerification ScanType = "VERIFICATION"
	ScanTypePurchase     ScanType = "PURCHASE"
	ScanTypeDistribution ScanType = "DISTRIBUTION"
	ScanTypeRecallCheck  ScanType = "RECALL_CHECK"
)

func (t *ScanType) UnmarshalJSON(b []byte) error {
	var str string
	if err := json.Unmarshal(b, &str); err != nil {
		return errors.New("scan type must be string")
	}
	switch str {
	case "VERIFICATION", "":
		*t = ScanTypeVerification
	case "PURCHASE":
		*t = ScanTypePurchase
	case "DISTRIBUTION":
		*t = ScanTypeDistribution
	case "RECALL_CHECK":
		*t = ScanTypeRecallCheck
	default:
		return errors.New("invalid scan type")
	}
	return nil
}

// Mutating reports whether the scan type may move a batch through the
// supply chain. VERIFICATION and RECALL_CHECK are read-only audits.
func (t ScanType) Mutating() bool {
	return t == ScanTypePurchase || t == ScanTypeDistribution
}

type FraudAlertType string

const (
	FraudDuplicateQRCode    FraudAlertType = "DUPLICATE_QR_CODE"
	FraudInvalidBatchHash   FraudAlertType = "INVALID_BATCH_HASH"
	FraudExpiredMedicine    FraudAlertType = "EXPIRED_MEDICINE"
	FraudRecalledBatch      FraudAlertType = "RECALLED_BATCH"
	FraudLocationMismatch   FraudAlertType = "LOCATION_MISMATCH"
	FraudFrequentScans      FraudAlertType = "FREQUENT_SCANS"
	FraudUnauthorizedAccess FraudAlertType = "UNAUTHORIZED_ACCESS"
	FraudBlockchainMismatch FraudAlertType = "BLOCKCHAIN_MISMATCH"
)

type FraudSeverity string

const (
	SeverityLow      FraudSeverity = "LOW"
	SeverityMedium   FraudSeverity = "MEDIUM"
	SeverityHigh     FraudSeverity = "HIGH"
	SeverityCritical FraudSeverity = "CRITICAL"
)

// Rank orders severities for escalation comparisons.
func (s FraudSeverity) Rank() int {
	switch s {
	case SeverityLow:
		return 1
	case SeverityMedium:
		return 2
	case SeverityHigh:
		return 3
	case SeverityCritical:
		return 4
	}
	return 0
}

type VerificationVerdict string

const (
	VerdictGenuine VerificationVerdict = "GENUINE"
	VerdictSuspect VerificationVerdict = "SUSPECT"
	VerdictInvalid VerificationVerdict = "INVALID"
)

// LedgerResult classifies the blockchain oracle's answer for a batch.
type LedgerResult string

const (
	LedgerMatch        LedgerResult = "MATCH"
	LedgerMismatch     LedgerResult = "MISMATCH"
	LedgerUnverifiable LedgerResult = "UNVERIFIABLE"
)

type IdempotencyStatus string

const (
	IdempotencyStatusStarted   IdempotencyStatus = "STARTED"
	IdempotencyStatusSucceeded IdempotencyStatus = "SUCCEEDED"
)

type AlertEventStatus string

const (
	AlertEventStatusPending    AlertEventStatus = "PENDING"
	AlertEventStatusProcessing AlertEventStatus = "PROCESSING"
	AlertEventStatusSent       AlertEventStatus = "SENT"
	AlertEventStatusFailed     AlertEventStatus = "FAILED"
	AlertEventStatusDead       AlertEventStatus = "DEAD"
)
