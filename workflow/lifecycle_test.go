package workflow

import (
	"testing"

	"bitbucket.org/meditrustlab/trace_backend/models"
)

func TestAdvanceLifecycle_DistributionAdvancesOneStage(t *testing.T) {
	cases := []struct {
		from models.LifecycleStatus
		to   models.LifecycleStatus
	}{
		{models.LifecycleInProduction, models.LifecycleInTransit},
		{models.LifecycleInTransit, models.LifecycleAtDistributor},
		{models.LifecycleAtDistributor, models.LifecycleAtPharmacy},
	}
	for _, c := range cases {
		tr := AdvanceLifecycle(c.from, models.ScanTypeDistribution)
		if !tr.Allowed || !tr.Changed {
			t.Fatalf("distribution from %s: expected allowed transition, got %+v", c.from, tr)
		}
		if tr.To != c.to {
			t.Fatalf("distribution from %s: expected %s, got %s", c.from, c.to, tr.To)
		}
	}
}

func TestAdvanceLifecycle_DistributionStopsAtPharmacy(t *testing.T) {
	tr := AdvanceLifecycle(models.LifecycleAtPharmacy, models.ScanTypeDistribution)
	if tr.Allowed || tr.Changed {
		t.Fatalf("expected disallowed transition past AT_PHARMACY, got %+v", tr)
	}
	if tr.Reason == "" {
		t.Fatal("expected a reason for the rejected transition")
	}
}

func TestAdvanceLifecycle_PurchaseOnlyFromPharmacy(t *testing.T) {
	tr := AdvanceLifecycle(models.LifecycleAtPharmacy, models.ScanTypePurchase)
	if !tr.Allowed || !tr.Changed || tr.To != models.LifecycleSold {
		t.Fatalf("purchase at pharmacy: expected SOLD, got %+v", tr)
	}

	for _, from := range []models.LifecycleStatus{
		models.LifecycleInProduction,
		models.LifecycleInTransit,
		models.LifecycleAtDistributor,
	} {
		tr := AdvanceLifecycle(from, models.ScanTypePurchase)
		if tr.Allowed {
			t.Fatalf("purchase from %s: expected rejection, got %+v", from, tr)
		}
	}
}

func TestAdvanceLifecycle_TerminalStatesAbsorb(t *testing.T) {
	for _, from := range []models.LifecycleStatus{
		models.LifecycleSold,
		models.LifecycleExpired,
		models.LifecycleRecalled,
	} {
		for _, scanType := range []models.ScanType{models.ScanTypeDistribution, models.ScanTypePurchase} {
			tr := AdvanceLifecycle(from, scanType)
			if tr.Allowed || tr.Changed {
				t.Fatalf("%s from %s: expected no transition, got %+v", scanType, from, tr)
			}
		}
	}
}

func TestAdvanceLifecycle_ReadOnlyScansNeverMove(t *testing.T) {
	for _, scanType := range []models.ScanType{models.ScanTypeVerification, models.ScanTypeRecallCheck} {
		tr := AdvanceLifecycle(models.LifecycleInTransit, scanType)
		if tr.Changed || !tr.Allowed {
			t.Fatalf("%s: expected allowed no-op, got %+v", scanType, tr)
		}
	}
}

func TestRoleMayScan(t *testing.T) {
	cases := []struct {
		scanType models.ScanType
		role     models.UserRole
		authed   bool
		want     bool
	}{
		{models.ScanTypeVerification, "", false, true},
		{models.ScanTypeVerification, models.UserRoleConsumer, true, true},
		{models.ScanTypeDistribution, models.UserRoleDistributor, true, true},
		{models.ScanTypeDistribution, models.UserRoleConsumer, true, false},
		{models.ScanTypeDistribution, "", false, false},
		{models.ScanTypePurchase, models.UserRolePharmacy, true, true},
		{models.ScanTypePurchase, models.UserRoleConsumer, true, true},
		{models.ScanTypePurchase, models.UserRoleDistributor, true, false},
		{models.ScanTypePurchase, "", false, false},
		{models.ScanTypeRecallCheck, models.UserRoleManufacturer, true, true},
		{models.ScanTypeRecallCheck, models.UserRolePharmacy, true, false},
	}
	for _, c := range cases {
		got := RoleMayScan(c.scanType, c.role, c.authed)
		if got != c.want {
			t.Errorf("RoleMayScan(%s, %q, %v) = %v, want %v", c.scanType, c.role, c.authed, got, c.want)
		}
	}
}
