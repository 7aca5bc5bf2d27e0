package models

import (
	"log"

	"bitbucket.org/mmdatafocus/shopsync_backend/config"
)

func MigrateTable() {
	db := config.GetDB()

	err := db.AutoMigrate(
		&StorefrontConnection{},
		&SyncProgress{}, &SyncHistory{},
		&Product{},
		&Order{}, &OrderItem{},
		&Customer{},
		&User{},
	)
	if err != nil {
		log.Fatal(err)
	}
}
