package main

import (
	"points-service/internal/config"
	"points-service/internal/database"
	"points-service/internal/logger"

	log "github.com/sirupsen/logrus"
)

func main() {
	cfg := config.LoadConfig()
	logger.Setup(cfg.Environment, cfg.LogLevel)

	db, err := database.Connect(cfg.Database)
	if err != nil {
		log.Fatalf("Failed to connect to database: %v", err)
	}

	// Run Migrations
	log.Info("Running database migrations...")
	if err := database.Migrate(db); err != nil {
		log.Fatalf("Migration failed: %v", err)
	}
	log.Info("Migrations completed successfully!")
}
