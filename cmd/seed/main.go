package main

import (
	"flag"
	"fmt"
	"os"

	"signage/internal/config"
	"signage/internal/database"
	"signage/internal/logging"
)

func main() {
	fixturePath := flag.String("fixture", "config/seed.yaml", "path to the YAML fixture")
	flag.Parse()

	cfg, err := config.LoadConfig()
	if err != nil {
		fmt.Fprintln(os.Stderr, "Failed to load config:", err)
		os.Exit(1)
	}
	logging.InitGlobalLogger(logging.LogLevel(cfg.Logging.Level), cfg.Logging.Format)
	logger := logging.WithModule("seed")

	fixture, err := database.LoadFixture(*fixturePath)
	if err != nil {
		logging.Fatalf("Failed to load fixture: %v", err)
	}

	dbManager, err := database.NewDatabaseManager(&cfg.Database, logger)
	if err != nil {
		logging.Fatalf("Failed to connect to database: %v", err)
	}
	defer dbManager.Close()

	if err := database.NewMigrationManager(dbManager.GetGormDB(), logger).Migrate(); err != nil {
		logging.Fatalf("Failed to run migrations: %v", err)
	}

	result, err := database.SeedFixture(dbManager.GetGormDB(), fixture, logger)
	if err != nil {
		logging.Fatalf("Failed to seed fixture: %v", err)
	}

	for key, id := range result.Devices {
		logger.Info().Str("key", key).Str("device_id", id).Msg("Seeded device")
	}
}
