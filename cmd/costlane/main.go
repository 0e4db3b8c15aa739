package main

import (
	"context"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/costlane/costlane/internal/catalog"
	"github.com/costlane/costlane/internal/clock"
	"github.com/costlane/costlane/internal/collector"
	"github.com/costlane/costlane/internal/config"
	"github.com/costlane/costlane/internal/costnode"
	"github.com/costlane/costlane/internal/migration"
	"github.com/costlane/costlane/internal/observability"
	"github.com/costlane/costlane/internal/partition"
	"github.com/costlane/costlane/internal/price"
	"github.com/costlane/costlane/internal/pricingservice"
	"github.com/costlane/costlane/internal/redis"
	"github.com/costlane/costlane/internal/report"
	"github.com/costlane/costlane/internal/seed"
	"github.com/costlane/costlane/internal/server"
	"github.com/costlane/costlane/internal/teambilling"
	"github.com/costlane/costlane/internal/usage"
	"github.com/costlane/costlane/internal/worker"
	"github.com/costlane/costlane/pkg/db"
	"github.com/spf13/cobra"
	"go.uber.org/fx"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:     "costlane",
		Short:   "Cost collection and distribution engine",
		Version: readVersionFromEnv(),
	}
	root.AddCommand(newMigrateCmd(), newServeCmd(), newWorkerCmd(), newCollectCmd(), newSeedCmd())
	return root
}

// coreModules is everything the engine itself needs, without any surface.
func coreModules() fx.Option {
	return fx.Options(
		config.Module,
		observability.Module,
		fx.Provide(registerSnowflake),
		db.Module,
		clock.Module,
		catalog.Module,
		usage.Module,
		price.Module,
		costnode.Module,
		teambilling.Module,
		pricingservice.Module,
		collector.Module,
	)
}

func newMigrateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Apply database migrations",
		RunE: func(cmd *cobra.Command, args []string) error {
			app := fx.New(
				config.Module,
				observability.Module,
				fx.Provide(registerSnowflake),
				db.Module,
				migration.Module,
			)
			return startStop(app)
		},
	}
}

func newServeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP API",
		RunE: func(cmd *cobra.Command, args []string) error {
			app := fx.New(
				coreModules(),
				redis.Module,
				report.Module,
				worker.Module,
				server.Module,
			)
			app.Run()
			return nil
		},
	}
}

func newWorkerCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "worker",
		Short: "Run the collection job pool",
		RunE: func(cmd *cobra.Command, args []string) error {
			app := fx.New(
				coreModules(),
				redis.Module,
				report.Module,
				worker.Module,
				fx.Invoke(startPool),
			)
			app.Run()
			return nil
		},
	}
}

func newCollectCmd() *cobra.Command {
	var (
		dateStr        string
		startStr       string
		endStr         string
		forecast       bool
		deleteVerified bool
	)

	cmd := &cobra.Command{
		Use:   "collect",
		Short: "Collect one day or a period synchronously",
		RunE: func(cmd *cobra.Command, args []string) error {
			var coll *collector.Collector
			app := fx.New(
				coreModules(),
				fx.Populate(&coll),
			)

			startCtx, cancel := context.WithTimeout(context.Background(), time.Minute)
			defer cancel()
			if err := app.Start(startCtx); err != nil {
				return err
			}
			defer func() { _ = app.Stop(context.Background()) }()

			ctx := context.Background()
			if dateStr != "" {
				day, err := time.Parse("2006-01-02", dateStr)
				if err != nil {
					return fmt.Errorf("invalid --date: %w", err)
				}
				nodes, err := coll.Process(ctx, day, forecast, deleteVerified)
				if err != nil {
					return err
				}
				fmt.Printf("%s: %d nodes\n", partition.Day(day).Format("2006-01-02"), len(nodes))
				return nil
			}

			start, err := time.Parse("2006-01-02", startStr)
			if err != nil {
				return fmt.Errorf("invalid --start: %w", err)
			}
			end, err := time.Parse("2006-01-02", endStr)
			if err != nil {
				return fmt.Errorf("invalid --end: %w", err)
			}
			results, err := coll.ProcessPeriod(ctx, start, end, forecast)
			if err != nil {
				return err
			}
			for _, r := range results {
				if r.Err != nil {
					fmt.Printf("%s: %v\n", r.Date.Format("2006-01-02"), r.Err)
					continue
				}
				fmt.Printf("%s: %d nodes\n", r.Date.Format("2006-01-02"), r.Nodes)
			}
			return nil
		},
	}

	cmd.Flags().StringVar(&dateStr, "date", "", "single day (YYYY-MM-DD)")
	cmd.Flags().StringVar(&startStr, "start", "", "period start (YYYY-MM-DD)")
	cmd.Flags().StringVar(&endStr, "end", "", "period end (YYYY-MM-DD)")
	cmd.Flags().BoolVar(&forecast, "forecast", false, "compute forecast costs")
	cmd.Flags().BoolVar(&deleteVerified, "delete-verified", false, "recompute accepted days")
	return cmd
}

func newSeedCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "seed",
		Short: "Load the demo dataset",
		RunE: func(cmd *cobra.Command, args []string) error {
			var seeder *seed.Seeder
			app := fx.New(
				coreModules(),
				seed.Module,
				fx.Populate(&seeder),
			)

			startCtx, cancel := context.WithTimeout(context.Background(), time.Minute)
			defer cancel()
			if err := app.Start(startCtx); err != nil {
				return err
			}
			defer func() { _ = app.Stop(context.Background()) }()

			return seeder.Run(context.Background())
		},
	}
}

func startStop(app *fx.App) error {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
	defer cancel()
	if err := app.Start(ctx); err != nil {
		return err
	}
	return app.Stop(context.Background())
}

func startPool(lc fx.Lifecycle, pool *worker.Pool) {
	lc.Append(fx.Hook{
		OnStart: pool.Start,
		OnStop:  pool.Stop,
	})
}

func registerSnowflake() *snowflake.Node {
	node, err := snowflake.NewNode(1)
	if err != nil {
		panic(err)
	}
	return node
}

func readVersionFromEnv() string {
	if v := strings.TrimSpace(os.Getenv("APP_VERSION")); v != "" {
		return v
	}
	return "dev"
}
