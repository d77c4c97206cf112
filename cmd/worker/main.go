package main

import (
	"points-service/internal/app"
	"points-service/internal/config"
	"points-service/internal/consumers"
	"points-service/internal/database"
	"points-service/internal/logger"
	"points-service/internal/metrics"
	"points-service/internal/worker"

	"github.com/hibiken/asynq"
	log "github.com/sirupsen/logrus"
)

func main() {
	cfg := config.LoadConfig()
	logger.Setup(cfg.Environment, cfg.LogLevel)
	metrics.Init()

	// Connect DB
	db, err := database.Connect(cfg.Database)
	if err != nil {
		log.Fatalf("Failed to connect to database: %v", err)
	}

	redisOpt := asynq.RedisClientOpt{
		Addr:     cfg.Redis.Addr,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	}
	client := asynq.NewClient(redisOpt)
	defer client.Close()

	svc := app.NewServices(cfg, db, client)
	processor := consumers.NewProcessor(svc.Redemptions, svc.Purchases)

	log.Info("Starting Asynq Worker...")
	if err := worker.StartWorker(redisOpt, processor, cfg.Worker.Concurrency); err != nil {
		log.Fatalf("could not run worker: %v", err)
	}
}
