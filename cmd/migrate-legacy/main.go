// Command migrate-legacy runs the legacy data shims against the configured
// database and prints the result as JSON. It exits 1 when a run fails.
package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"go.uber.org/zap"

	"github.com/anzac2cdo/roster-api/internal/models"
	"github.com/anzac2cdo/roster-api/internal/repository"
	"github.com/anzac2cdo/roster-api/internal/service"
	"github.com/anzac2cdo/roster-api/pkg/config"
	"github.com/anzac2cdo/roster-api/pkg/database"
	"github.com/anzac2cdo/roster-api/pkg/logger"
)

func main() {
	shimFlag := flag.String("shim", string(service.ShimAll), "migration to run: roles, identities or all")
	schema := flag.Bool("schema", false, "apply schema migrations before running the shim")
	flag.Parse()

	os.Exit(run(*shimFlag, *schema))
}

func run(shimName string, schema bool) int {
	shim, err := service.ParseShim(shimName)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		return 2
	}

	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load config: %v\n", err)
		return 1
	}
	logr, err := logger.New(cfg)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to init logger: %v\n", err)
		return 1
	}
	defer logr.Sync() //nolint:errcheck

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if schema {
		if err := database.Migrate(cfg.Database.URL(), logr); err != nil {
			logr.Error("schema migration failed", zap.Error(err))
			return 1
		}
	}

	db, err := database.NewPostgres(cfg.Database)
	if err != nil {
		logr.Error("failed to connect database", zap.Error(err))
		return 1
	}
	defer db.Close() //nolint:errcheck

	metrics := service.NewMetricsService()
	catalog := service.NewRoleCatalogService(repository.NewRoleRepository(db), service.CatalogConfig{}, metrics, logr)
	if _, err := catalog.SeedDefaults(ctx); err != nil {
		logr.Error("failed to seed role catalog", zap.Error(err))
		return 1
	}
	migrations := service.NewMigrationService(repository.NewMigrationRepository(db), catalog, repository.NewAuditRepository(db), metrics, logr)

	result, err := migrations.Run(ctx, shim, "")
	if err != nil {
		result = &models.MigrationResult{Message: err.Error(), Log: []string{}, Stats: map[string]int{}}
	}

	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	if encErr := enc.Encode(result); encErr != nil {
		logr.Error("failed to write result", zap.Error(encErr))
		return 1
	}
	if err != nil || !result.Success {
		return 1
	}
	return 0
}
