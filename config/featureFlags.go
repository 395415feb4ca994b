package config

import (
	"os"
	"strings"
	"time"
)

// FrequentScanThreshold is the number of VERIFICATION/PURCHASE scans of the
// same QR code inside the recency window that trips the FREQUENT_SCANS
// detector. Thresholds are deployment policy, not code.
//
// Set via env:
// - FRAUD_FREQUENT_SCAN_THRESHOLD=5
func FrequentScanThreshold() int {
	return intFromEnv("FRAUD_FREQUENT_SCAN_THRESHOLD", 5)
}

// FrequentScanWindow is the rolling recency window for the FREQUENT_SCANS
// detector.
//
// Set via env:
// - FRAUD_FREQUENT_SCAN_WINDOW_SECONDS=3600
func FrequentScanWindow() time.Duration {
	return time.Duration(intFromEnv("FRAUD_FREQUENT_SCAN_WINDOW_SECONDS", 3600)) * time.Second
}

// LedgerTimeout bounds a single blockchain oracle call. The oracle gets one
// retry; scans never wait on the ledger beyond 2*LedgerTimeout + backoff.
//
// Set via env:
// - LEDGER_TIMEOUT_SECONDS=2
func LedgerTimeout() time.Duration {
	return time.Duration(intFromEnv("LEDGER_TIMEOUT_SECONDS", 2)) * time.Second
}

// ExpiringSoonDays is the warning band surfaced in the scan verdict for
// medicine close to expiry. Not a fraud signal.
//
// Set via env:
// - EXPIRING_SOON_DAYS=30
func ExpiringSoonDays() int {
	return intFromEnv("EXPIRING_SOON_DAYS", 30)
}

// AlertEventsEnabled gates the post-commit Pub/Sub fan-out of fraud alert
// events. Alerts are always persisted; only the event publication is
// switchable.
//
// Set via env:
// - ALERT_EVENTS_ENABLED=true
func AlertEventsEnabled() bool {
	v := strings.ToLower(strings.TrimSpace(os.Getenv("ALERT_EVENTS_ENABLED")))
	return v == "1" || v == "true" || v == "yes" || v == "y"
}
