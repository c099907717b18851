package main

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"

	"pricewatch/ingest"
	"pricewatch/models"
	"pricewatch/services"
	"pricewatch/storage"
)

func init() {
	ingestCmd.Flags().Int("batch-size", 0, "rows per committed batch (default from INGEST_BATCH_SIZE)")
	ingestCmd.Flags().Int("concurrency", 0, "websites processed in parallel (default from MAX_CONCURRENCY)")

	reprocessCmd.Flags().String("website", "", "only reprocess this website")
	reprocessCmd.Flags().Bool("only-missing", false, "only rows lacking identity, category or brand")
	reprocessCmd.Flags().Bool("remove-denylisted", false, "delete denylisted rows and rows failing the brand allow-list")
	reprocessCmd.Flags().Int("limit", 0, "maximum rows scanned (default from REPROCESS_LIMIT)")

	for _, c := range []*cobra.Command{statsCmd, availabilityCmd} {
		c.Flags().String("category", "", "restrict to category")
		c.Flags().String("brand", "", "restrict to brand")
	}
	velocityCmd.Flags().Int("days", services.DefaultVelocityDays, "days of history to analyse")
	trendCmd.Flags().Int("days", services.DefaultVelocityDays, "days of history to analyse")
	categoryCmd.Flags().String("website", "", "restrict to website")

	overrideAddCmd.Flags().String("category", "", "category scope of the override (empty matches uncategorised products)")
	overrideAddCmd.Flags().String("website", "", "website scope (empty = global)")
	overrideAddCmd.Flags().String("set-category", "", "category to assign")
	overrideAddCmd.Flags().String("set-brand", "", "brand to assign")
	overrideAddCmd.Flags().String("set-language", "", "language code to assign")
	overrideAddCmd.Flags().String("notes", "", "free-text note")
	overrideCmd.AddCommand(overrideAddCmd, overrideListCmd, overrideDeleteCmd)

	cleanupCmd.Flags().Duration("older-than", 30*24*time.Hour, "delete products not scraped within this duration")
	exportCmd.Flags().String("website", "", "restrict to website")
	exportCmd.Flags().Int("days", 0, "only points from the last N days (0 = all)")

	rootCmd.AddCommand(
		migrateCmd, ingestCmd, reprocessCmd, statsCmd, availabilityCmd, velocityCmd,
		categoryCmd, overrideCmd, trendCmd, cleanupCmd, exportCmd,
	)
}

// withApp opens the services, runs fn and closes storage.
func withApp(fn func(ctx context.Context, a *app, cmd *cobra.Command, args []string) error) func(*cobra.Command, []string) error {
	return func(cmd *cobra.Command, args []string) error {
		a, err := openApp()
		if err != nil {
			return err
		}
		defer a.Close()
		return fn(cmd.Context(), a, cmd, args)
	}
}

// optional returns the flag value, or nil when the flag was not given.
func optional(cmd *cobra.Command, name string) *string {
	if !cmd.Flags().Changed(name) {
		return nil
	}
	v, _ := cmd.Flags().GetString(name)
	return &v
}

func parseID(arg string) (int64, error) {
	id, err := strconv.ParseInt(arg, 10, 64)
	if err != nil || id <= 0 {
		return 0, eris.Errorf("invalid id %q", arg)
	}
	return id, nil
}

var migrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Create or update the database schema",
	RunE: withApp(func(ctx context.Context, a *app, cmd *cobra.Command, args []string) error {
		logger.Info("[migrate] Schema ready on %s", a.store.Dialect())
		return nil
	}),
}

var ingestCmd = &cobra.Command{
	Use:   "ingest <file.csv>...",
	Short: "Upsert scraped rows from CSV files",
	Args:  cobra.MinimumNArgs(1),
	RunE: withApp(func(ctx context.Context, a *app, cmd *cobra.Command, args []string) error {
		var items []models.ScrapedItem
		for _, path := range args {
			batch, err := ingest.ReadFile(path)
			if err != nil {
				return err
			}
			logger.Info("[ingest] Read %d rows from %s", len(batch), path)
			items = append(items, batch...)
		}

		batchSize, _ := cmd.Flags().GetInt("batch-size")
		if batchSize <= 0 {
			batchSize = cfg.BatchSize
		}
		concurrency, _ := cmd.Flags().GetInt("concurrency")
		if concurrency <= 0 {
			concurrency = cfg.MaxConcurrency
		}

		runner := ingest.NewRunner(a.store, a.pipeline, batchSize, concurrency, logger)
		report, err := runner.Run(ctx, items)
		a.report.Ingest(report)
		return err
	}),
}

var reprocessCmd = &cobra.Command{
	Use:   "reprocess",
	Short: "Re-run classification over stored products",
	RunE: withApp(func(ctx context.Context, a *app, cmd *cobra.Command, args []string) error {
		onlyMissing, _ := cmd.Flags().GetBool("only-missing")
		remove, _ := cmd.Flags().GetBool("remove-denylisted")
		limit, _ := cmd.Flags().GetInt("limit")
		if limit <= 0 {
			limit = cfg.ReprocessLimit
		}

		res, err := a.reprocessor.Run(ctx, services.ReprocessOptions{
			Website:          optional(cmd, "website"),
			OnlyMissing:      onlyMissing,
			RemoveDenylisted: remove,
			Limit:            limit,
		})
		if err != nil {
			return err
		}
		a.report.Reprocess(res)
		return nil
	}),
}

var statsCmd = &cobra.Command{
	Use:   "stats <identity>",
	Short: "Price statistics across competitors for one product identity",
	Args:  cobra.ExactArgs(1),
	RunE: withApp(func(ctx context.Context, a *app, cmd *cobra.Command, args []string) error {
		st, err := a.analytics.PriceStatistics(ctx, args[0], optional(cmd, "category"), optional(cmd, "brand"))
		if err != nil {
			return err
		}
		a.report.PriceStatistics(st)
		return nil
	}),
}

var availabilityCmd = &cobra.Command{
	Use:   "availability <identity>",
	Short: "Stock availability across competitors for one product identity",
	Args:  cobra.ExactArgs(1),
	RunE: withApp(func(ctx context.Context, a *app, cmd *cobra.Command, args []string) error {
		av, err := a.analytics.AvailabilityStatus(ctx, args[0], optional(cmd, "category"), optional(cmd, "brand"))
		if err != nil {
			return err
		}
		a.report.Availability(av)
		return nil
	}),
}

var velocityCmd = &cobra.Command{
	Use:   "velocity <product-id>",
	Short: "Estimate sales velocity from daily stock levels",
	Args:  cobra.ExactArgs(1),
	RunE: withApp(func(ctx context.Context, a *app, cmd *cobra.Command, args []string) error {
		id, err := parseID(args[0])
		if err != nil {
			return err
		}
		days, _ := cmd.Flags().GetInt("days")
		v, err := a.analytics.SalesVelocity(ctx, id, days)
		if err != nil {
			return err
		}
		a.report.Velocity(v)
		return nil
	}),
}

var trendCmd = &cobra.Command{
	Use:   "trend <product-id>",
	Short: "Price trend of one product over its price history",
	Args:  cobra.ExactArgs(1),
	RunE: withApp(func(ctx context.Context, a *app, cmd *cobra.Command, args []string) error {
		id, err := parseID(args[0])
		if err != nil {
			return err
		}
		days, _ := cmd.Flags().GetInt("days")
		tr, err := a.analytics.PriceTrend(ctx, id, days)
		if err != nil {
			return err
		}
		a.report.Trend(tr)
		return nil
	}),
}

var categoryCmd = &cobra.Command{
	Use:   "category <category>",
	Short: "List competitor products in a category",
	Args:  cobra.ExactArgs(1),
	RunE: withApp(func(ctx context.Context, a *app, cmd *cobra.Command, args []string) error {
		products, err := a.analytics.ProductsByCategory(ctx, args[0], optional(cmd, "website"))
		if err != nil {
			return err
		}
		a.report.Products("CATEGORY: "+args[0], products)
		return nil
	}),
}

var overrideCmd = &cobra.Command{
	Use:   "override",
	Short: "Manage manual classification overrides",
}

var overrideAddCmd = &cobra.Command{
	Use:   "add <identity>",
	Short: "Add an override for a product identity",
	Args:  cobra.ExactArgs(1),
	RunE: withApp(func(ctx context.Context, a *app, cmd *cobra.Command, args []string) error {
		notes, _ := cmd.Flags().GetString("notes")
		o := &models.CompetitorProductOverride{
			NormalizedName: args[0],
			Category:       optional(cmd, "category"),
			Website:        optional(cmd, "website"),
			SetCategory:    optional(cmd, "set-category"),
			SetBrand:       optional(cmd, "set-brand"),
			SetLanguage:    optional(cmd, "set-language"),
			Notes:          notes,
		}
		if err := a.overrides.CreateOverride(ctx, a.store, o); err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "override %d created\n", o.ID)
		return nil
	}),
}

var overrideListCmd = &cobra.Command{
	Use:   "list",
	Short: "List overrides",
	RunE: withApp(func(ctx context.Context, a *app, cmd *cobra.Command, args []string) error {
		list, err := a.overrides.ListOverrides(ctx, a.store)
		if err != nil {
			return err
		}
		a.report.Overrides(list)
		return nil
	}),
}

var overrideDeleteCmd = &cobra.Command{
	Use:   "delete <id>",
	Short: "Delete an override",
	Args:  cobra.ExactArgs(1),
	RunE: withApp(func(ctx context.Context, a *app, cmd *cobra.Command, args []string) error {
		id, err := parseID(args[0])
		if err != nil {
			return err
		}
		if err := a.overrides.DeleteOverride(ctx, a.store, id); err != nil {
			if storage.IsNotFound(err) {
				return eris.Wrapf(err, "override %d not found", id)
			}
			return err
		}
		return nil
	}),
}

var cleanupCmd = &cobra.Command{
	Use:   "cleanup <website>",
	Short: "Delete a website's products that have not been scraped recently",
	Args:  cobra.ExactArgs(1),
	RunE: withApp(func(ctx context.Context, a *app, cmd *cobra.Command, args []string) error {
		olderThan, _ := cmd.Flags().GetDuration("older-than")
		n, err := a.maintenance.CleanupStale(ctx, args[0], olderThan)
		if err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "removed %d products\n", n)
		return nil
	}),
}

var exportCmd = &cobra.Command{
	Use:   "export-history <out.csv>",
	Short: "Export price history to CSV",
	Args:  cobra.ExactArgs(1),
	RunE: withApp(func(ctx context.Context, a *app, cmd *cobra.Command, args []string) error {
		var since time.Time
		if days, _ := cmd.Flags().GetInt("days"); days > 0 {
			since = time.Now().AddDate(0, 0, -days)
		}

		w, err := storage.NewCSVWriter(args[0])
		if err != nil {
			return err
		}
		n, err := a.maintenance.ExportHistory(ctx, optional(cmd, "website"), since, w)
		if cerr := w.Close(); err == nil {
			err = cerr
		}
		if err != nil {
			return err
		}
		logger.Info("[export] History saved to %s (%d points)", args[0], n)
		return nil
	}),
}
