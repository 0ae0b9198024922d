package main

import (
	"flag"
	"fmt"
	"os"

	"github.com/noah-isme/backend-erp/internal/config"
	"github.com/noah-isme/backend-erp/internal/obs"
	"github.com/noah-isme/backend-erp/internal/store"
)

// migrate applies or rolls back the document schema.
// Exit code 0 = ok, 1 = migration failed, 2 = bad usage or config.
func main() {
	var (
		down    = flag.Int("down", 0, "roll back this many migrations instead of applying")
		version = flag.Bool("version", false, "print the applied schema version and exit")
	)
	flag.Parse()

	logger := obs.NewLogger("console", "info").With().Str("component", "migrate").Logger()

	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "migrate: %v\n", err)
		os.Exit(2)
	}
	if cfg.PersistenceProvider != config.PersistenceProviderPostgres {
		fmt.Fprintf(os.Stderr, "migrate: PERSISTENCE_PROVIDER=%s has no schema\n", cfg.PersistenceProvider)
		os.Exit(2)
	}

	switch {
	case *version:
		v, dirty, err := store.Version(cfg.DatabaseURL)
		if err != nil {
			logger.Error().Err(err).Msg("read schema version")
			os.Exit(1)
		}
		logger.Info().Uint("version", v).Bool("dirty", dirty).Msg("schema version")
	case *down > 0:
		if err := store.Rollback(cfg.DatabaseURL, *down); err != nil {
			logger.Error().Err(err).Msg("rollback")
			os.Exit(1)
		}
		logger.Info().Int("steps", *down).Msg("rolled back")
	default:
		if err := store.Migrate(cfg.DatabaseURL); err != nil {
			logger.Error().Err(err).Msg("migrate")
			os.Exit(1)
		}
		logger.Info().Msg("migrations applied")
	}
}
