package models

import (
	"log"

	"bitbucket.org/mmdatafocus/kanban_backend/config"
)

func MigrateTable() {
	db := config.GetDB()

	err := db.AutoMigrate(
		&Loop{}, &Card{},
		&StageTransition{},
		&AuditEntry{},
	)
	if err != nil {
		log.Fatal(err)
	}
}
