package models

import (
	"log"

	"bitbucket.org/gigvora/support_backend/config"
	"gorm.io/gorm"
)

func MigrateTable() {
	if err := AutoMigrate(config.GetDB()); err != nil {
		log.Fatal(err)
	}
}

func AutoMigrate(db *gorm.DB) error {
	return db.AutoMigrate(
		&User{},
		&Thread{}, &ThreadParticipant{},
		&ThreadMessage{}, &ThreadMessageAttachment{},
		&SupportCase{},
	)
}
