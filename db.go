package main

import (
	"log"

	"kumbara/models"

	"gorm.io/driver/postgres"
	"gorm.io/gorm"
)

var db *gorm.DB

func initDB() {
	var err error
	if cfg.DatabaseDSN == "" {
		log.Fatal("DB_DSN is not set. This project requires a Postgres DSN in DB_DSN.")
	}
	db, err = gorm.Open(postgres.Open(cfg.DatabaseDSN), &gorm.Config{})
	if err != nil {
		log.Fatal("failed to connect postgres database:", err)
	}
	// Migrate models individually so a failure on one doesn't block others
	if err := db.AutoMigrate(&models.User{}); err != nil {
		log.Printf("migration warning (users): %v", err)
	}
	if err := db.AutoMigrate(&models.RefreshToken{}); err != nil {
		log.Printf("migration warning (refresh_tokens): %v", err)
	}
	if err := db.AutoMigrate(&models.RecurringRule{}); err != nil {
		log.Printf("migration warning (recurring_rules): %v", err)
	}
	if err := db.AutoMigrate(&models.Transaction{}); err != nil {
		log.Printf("migration warning (transactions): %v", err)
	}
	if err := db.AutoMigrate(&models.Balance{}); err != nil {
		log.Printf("migration warning (balances): %v", err)
	}
}
