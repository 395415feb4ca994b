package models

import (
	"log"

	"bitbucket.org/meditrustlab/trace_backend/config"
)

func MigrateTable() {
	db := config.GetDB()

	err := db.AutoMigrate(
		&Manufacturer{}, &Medicine{}, &Batch{}, &QRCode{},
		&User{},
		&ScanLog{}, &FraudAlert{},
		&AuditTrail{},
		&IdempotencyKey{}, &AlertEvent{},
	)
	if err != nil {
		log.Fatal("Failed to migrate tables: ", err)
	}
}
