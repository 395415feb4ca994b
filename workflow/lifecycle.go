// Package workflow implements scan verification: code resolution, hash and
// ledger checks, the batch lifecycle state machine and the fraud detectors,
// tied together by the scan orchestrator.
package workflow

import (
	"bitbucket.org/meditrustlab/trace_backend/models"
)

// Transition is the computed outcome of applying one scan to a lifecycle
// position. When Allowed is false the batch stays put and Reason says why.
type Transition struct {
	From    models.LifecycleStatus
	To      models.LifecycleStatus
	Changed bool
	Allowed bool
	Reason  string
}

// distributionNext maps each forward custody stage to its successor.
// Distribution scans always advance exactly one stage; there are no skips
// and no backward hops.
var distributionNext = map[models.LifecycleStatus]models.LifecycleStatus{
	models.LifecycleInProduction:  models.LifecycleInTransit,
	models.LifecycleInTransit:     models.LifecycleAtDistributor,
	models.LifecycleAtDistributor: models.LifecycleAtPharmacy,
}

// AdvanceLifecycle computes the transition one scan implies for the current
// lifecycle position. Pure function: callers commit the result with a
// compare-and-swap against the position it was computed from.
func AdvanceLifecycle(current models.LifecycleStatus, scanType models.ScanType) Transition {
	t := Transition{From: current, To: current, Allowed: true}

	if !scanType.Mutating() {
		return t
	}
	if current.IsTerminal() {
		t.Allowed = false
		t.Reason = "batch is in terminal state " + string(current)
		return t
	}

	switch scanType {
	case models.ScanTypeDistribution:
		next, ok := distributionNext[current]
		if !ok {
			t.Allowed = false
			t.Reason = "no distribution stage after " + string(current)
			return t
		}
		t.To = next
		t.Changed = true
	case models.ScanTypePurchase:
		if current != models.LifecycleAtPharmacy {
			t.Allowed = false
			t.Reason = "purchase requires batch at pharmacy, found " + string(current)
			return t
		}
		t.To = models.LifecycleSold
		t.Changed = true
	}
	return t
}

// roleAuthority lists the roles allowed to submit each scan type.
// VERIFICATION is absent: anyone, including anonymous scanners, may verify.
var roleAuthority = map[models.ScanType][]models.UserRole{
	models.ScanTypeDistribution: {models.UserRoleAdmin, models.UserRoleManufacturer, models.UserRoleDistributor},
	models.ScanTypePurchase:     {models.UserRoleAdmin, models.UserRolePharmacy, models.UserRoleConsumer},
	models.ScanTypeRecallCheck:  {models.UserRoleAdmin, models.UserRoleManufacturer},
}

// RoleMayScan reports whether role is entitled to submit scanType.
// Anonymous callers (authenticated=false) may only run plain verification.
func RoleMayScan(scanType models.ScanType, role models.UserRole, authenticated bool) bool {
	allowed, restricted := roleAuthority[scanType]
	if !restricted {
		return true
	}
	if !authenticated {
		return false
	}
	for _, r := range allowed {
		if r == role {
			return true
		}
	}
	return false
}
