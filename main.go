package main

import (
	"fmt"
	"os"
	"time"
	_ "time/tzdata"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"

	"pricewatch/config"
	"pricewatch/services"
	"pricewatch/storage"
	"pricewatch/utils"
)

var (
	cfg    *config.Config
	logger *utils.Logger
)

var rootCmd = &cobra.Command{
	Use:           "pricewatch",
	Short:         "Competitor price and stock tracking for collectible card products",
	Long:          "Ingests scraped competitor listings, reconciles product identities across websites, keeps price/stock history and reports price, availability and sales-velocity analytics.",
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		cfg = config.Load()

		l, err := utils.NewLogger(cfg.LogLevel, cfg.LogFormat)
		if err != nil {
			return eris.Wrap(err, "init logger")
		}
		logger = l
		return nil
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		if logger != nil {
			_ = logger.Sync()
		}
	},
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		if logger != nil {
			logger.Error("%v", err)
		} else {
			fmt.Fprintln(os.Stderr, err)
		}
		os.Exit(1)
	}
}

// app bundles the services every command needs.
type app struct {
	store       *storage.Store
	pipeline    *services.Pipeline
	overrides   *services.OverrideResolver
	analytics   *services.AnalyticsService
	reprocessor *services.Reprocessor
	maintenance *services.MaintenanceService
	report      *services.ReportService
}

func openApp() (*app, error) {
	loc, err := time.LoadLocation(cfg.Timezone)
	if err != nil {
		return nil, eris.Wrapf(err, "load timezone %q", cfg.Timezone)
	}

	st, err := storage.Open(cfg, logger)
	if err != nil {
		logger.Error("Failed to open %s storage: %v", cfg.DBDriver, err)
		if cfg.DBDriver == "postgres" {
			logger.Error("Make sure PostgreSQL is running: docker compose up -d")
		}
		return nil, err
	}

	overrides := services.NewOverrideResolver(logger)
	pipeline := services.NewPipeline(
		services.NewNormalizer(),
		services.NewCanonicalizer(cfg.CanonicalThreshold, cfg.CandidateLimit, logger),
		overrides,
		loc,
		logger,
	)
	return &app{
		store:       st,
		pipeline:    pipeline,
		overrides:   overrides,
		analytics:   services.NewAnalyticsService(st, loc, cfg.InStockLabel, cfg.OutOfStockLabels, logger),
		reprocessor: services.NewReprocessor(st, pipeline, cfg.Denylist, cfg.AllowedBrands, logger),
		maintenance: services.NewMaintenanceService(st, logger),
		report:      services.NewReportService(os.Stdout),
	}, nil
}

func (a *app) Close() {
	if err := a.store.Close(); err != nil {
		logger.Warn("Closing storage: %v", err)
	}
}
