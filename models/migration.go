package models

import (
	"log"

	"bitbucket.org/mmdatafocus/thread_backend/config"
	"gorm.io/gorm"
)

func MigrateTable() {
	if err := AutoMigrate(config.GetDB()); err != nil {
		log.Fatal(err)
	}
}

func AutoMigrate(db *gorm.DB) error {
	return db.AutoMigrate(
		&ThreadType{}, &Warehouse{},
		&Lot{}, &Cone{},
		&Allocation{}, &AllocationConeLink{}, &AllocationConflict{},
		&Recovery{},
		&BatchTransaction{},
	)
}
