package main

// Apply the ledger_entries schema:
//   go run ./cmd/migrate

import (
	"context"
	"os"

	"ledger-backend/internal/shared/config"
	"ledger-backend/internal/shared/storage/db"
	"ledger-backend/internal/shared/telemetry"
)

func main() {
	defer telemetry.Sync()

	cfg := config.Load()
	ctx := context.Background()

	opts := db.OptionsFromEnv(db.DefaultMigrateOptions())
	sqlDB, err := db.Connect(ctx, cfg.DatabaseURL, opts)
	if err != nil {
		telemetry.Error("migrate.connect_failed", map[string]any{"err": err.Error()})
		os.Exit(1)
	}
	defer sqlDB.Close()

	if err := db.RunMigrations(ctx, sqlDB); err != nil {
		telemetry.Error("migrate.failed", map[string]any{"err": err.Error()})
		os.Exit(1)
	}

	version, err := db.MigrationVersion(ctx, sqlDB)
	if err != nil {
		telemetry.Error("migrate.version_failed", map[string]any{"err": err.Error()})
		os.Exit(1)
	}
	telemetry.Info("migrate.done", map[string]any{"version": version})
}
