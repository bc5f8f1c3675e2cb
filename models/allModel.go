package models

import (
	"log"

	"bitbucket.org/intellihub/hub_backend/config"
)

// MigrateTable runs AutoMigrate for every table the core owns.
func MigrateTable() {
	db := config.GetDB()
	err := db.AutoMigrate(
		&Company{},
		&Contact{},
		&Activity{},
		&Ticket{},
		&Task{},
		&TicketCodeCounter{},
		&TicketTemplate{},
		&TicketTemplateItem{},
		&TaskTemplate{},
		&CatalogItem{},
		&AuditLog{},
		&SyncRun{},
		&SyncRunError{},
		&HubUser{},
	)
	if err != nil {
		log.Printf("auto migrate failed: %v", err)
	}
}
