// Command numstock manages the phone number stock database.
//
// Usage:
//
//	numstock <command>
//
// Commands:
//
//	setup       Create the schema and the upcoming pool partitions
//	partitions  Create pool partitions for a range of days
//	ingest      Stream one or more CSV files into the pool
//	order       Reserve numbers for a customer
//	watch       Block until new stock of a provider is ingested
//
// The numstock command respects standard PostgreSQL environment variables:
//   - DATABASE_URL: Full connection string (overrides all other variables)
//   - PGHOST: Database host (default: localhost)
//   - PGPORT: Database port (default: 5432)
//   - PGUSER: Database user (default: postgres)
//   - PGPASSWORD: Database password (default: postgres)
//   - PGDATABASE: Database name (default: postgres)
//
// Engine tunables come from NUMSTOCK_* variables; see the numstock package
// documentation. NUMSTOCK_LOG_LEVEL sets the log level (debug, info, warn,
// error).
//
// Example:
//
//	# Create schema and partitions, ingest today's feed, sell 100 numbers
//	numstock setup
//	numstock ingest --file data_2026-08-22.csv
//	numstock order --customer acme --require tsel=100
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/prasetyo/numstock"
	"github.com/prasetyo/numstock/internal"
)

func main() {
	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
		Level: logLevel(),
	})))

	rootCmd := &cobra.Command{
		Use:           "numstock",
		Short:         "Manage the phone number stock",
		Long:          "numstock ingests scraped phone numbers into a partitioned PostgreSQL pool and reserves them for customer orders.",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	rootCmd.AddCommand(
		newSetupCmd(),
		newPartitionsCmd(),
		newIngestCmd(),
		newOrderCmd(),
		newWatchCmd(),
	)

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func logLevel() slog.Level {
	var level slog.Level
	if s := os.Getenv("NUMSTOCK_LOG_LEVEL"); s != "" {
		if err := level.UnmarshalText([]byte(s)); err != nil {
			return slog.LevelInfo
		}
	}
	return level
}

// loadConfig builds the engine configuration from defaults and NUMSTOCK_*
// variables.
func loadConfig() (numstock.Config, error) {
	cfg := numstock.DefaultConfig()
	if err := cfg.FromEnv(); err != nil {
		return numstock.Config{}, err
	}
	if err := cfg.Validate(); err != nil {
		return numstock.Config{}, err
	}
	return cfg, nil
}

func signalContext() (context.Context, context.CancelFunc) {
	return signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
}

func newSetupCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "setup",
		Short: "Create the schema and the upcoming pool partitions",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := signalContext()
			defer cancel()

			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			db, err := internal.GetPool(ctx)
			if err != nil {
				return err
			}
			defer db.Close()

			if err := numstock.Setup(ctx, db); err != nil {
				return fmt.Errorf("failed to setup database: %w", err)
			}
			pool, err := numstock.NewPool(numstock.PoolConfig{DB: db, Prefixes: cfg.Prefixes})
			if err != nil {
				return err
			}
			if err := pool.EnsurePartitions(ctx, time.Now(), cfg.PartitionLookaheadDays); err != nil {
				return err
			}
			fmt.Println("Setup completed successfully")
			return nil
		},
	}
}

func newPartitionsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "partitions",
		Short: "Create pool partitions for a range of days",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := signalContext()
			defer cancel()

			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			fromStr, _ := cmd.Flags().GetString("from")
			days, _ := cmd.Flags().GetInt("days")
			if days == 0 {
				days = cfg.PartitionLookaheadDays
			}
			from := time.Now()
			if fromStr != "" {
				from, err = time.Parse("2006-01-02", fromStr)
				if err != nil {
					return fmt.Errorf("invalid --from date: %w", err)
				}
			}

			db, err := internal.GetPool(ctx)
			if err != nil {
				return err
			}
			defer db.Close()

			pool, err := numstock.NewPool(numstock.PoolConfig{DB: db, Prefixes: cfg.Prefixes})
			if err != nil {
				return err
			}
			if err := pool.EnsurePartitions(ctx, from, days); err != nil {
				return err
			}
			fmt.Printf("Partitions ready for %d day(s) from %s\n", days, numstock.PartitionName(from))
			return nil
		},
	}
	cmd.Flags().String("from", "", "first day to cover, as YYYY-MM-DD (default today)")
	cmd.Flags().Int("days", 0, "number of days to cover (default from config)")
	return cmd
}

func newIngestCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "ingest",
		Short: "Stream one or more CSV files into the pool",
		Long: "Ingest CSV files with a phone,url,timestamp header into the pool. " +
			"Files are ingested concurrently, each in its own transaction with its path as batch label.",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := signalContext()
			defer cancel()

			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			files, _ := cmd.Flags().GetStringArray("file")
			if len(files) == 0 {
				return fmt.Errorf("at least one --file is required")
			}

			db, err := internal.GetPool(ctx)
			if err != nil {
				return err
			}
			defer db.Close()

			pool, err := numstock.NewPool(numstock.PoolConfig{DB: db, Prefixes: cfg.Prefixes})
			if err != nil {
				return err
			}

			g, ctx := errgroup.WithContext(ctx)
			results := make([]numstock.IngestResult, len(files))
			for i, file := range files {
				g.Go(func() error {
					f, err := os.Open(file)
					if err != nil {
						return err
					}
					defer f.Close()

					src, err := newCSVSource(f)
					if err != nil {
						return fmt.Errorf("%s: %w", file, err)
					}
					res, err := pool.Append(ctx, src, numstock.WithBatch(file))
					if err != nil {
						return err
					}
					results[i] = res
					return nil
				})
			}
			if err := g.Wait(); err != nil {
				return err
			}

			for _, res := range results {
				fmt.Printf("Ingested %d rows from %s in %s (providers %v)\n",
					res.Rows, res.Batch, res.Elapsed.Round(time.Millisecond), res.Providers)
			}
			return nil
		},
	}
	cmd.Flags().StringArray("file", nil, "CSV file to ingest (repeatable)")
	return cmd
}

func newOrderCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "order",
		Short: "Reserve numbers for a customer",
		Long: "Reserve numbers for a customer and record the sales. " +
			"Each --require asks for a quantity of one provider, e.g. --require tsel=100. " +
			"The result is printed as JSON keyed by provider.",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := signalContext()
			defer cancel()

			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			customer, _ := cmd.Flags().GetString("customer")
			specs, _ := cmd.Flags().GetStringArray("require")
			freshDays, _ := cmd.Flags().GetInt("freshness-days")
			reuseDays, _ := cmd.Flags().GetInt("reuse-days")

			requirements, err := parseRequirements(specs)
			if err != nil {
				return err
			}

			db, err := internal.GetPool(ctx)
			if err != nil {
				return err
			}
			defer db.Close()

			allocator, err := numstock.NewAllocator(numstock.AllocatorConfig{
				DB:              db,
				FreshnessWindow: cfg.FreshnessWindow(),
				ReuseWindow:     cfg.ReuseWindow(),
				MaxAttempts:     cfg.MaxAttempts,
				OrderTimeout:    cfg.OrderTimeout,
			})
			if err != nil {
				return err
			}

			var opts []numstock.OrderOption
			if freshDays > 0 {
				opts = append(opts, numstock.WithFreshnessWindow(time.Duration(freshDays)*24*time.Hour))
			}
			if reuseDays > 0 {
				opts = append(opts, numstock.WithReuseWindow(time.Duration(reuseDays)*24*time.Hour))
			}

			result, err := allocator.ProcessOrder(ctx, numstock.Order{
				Customer:     customer,
				Requirements: requirements,
			}, opts...)
			if err != nil {
				return err
			}

			enc := json.NewEncoder(os.Stdout)
			enc.SetIndent("", "  ")
			if err := enc.Encode(result.PerProvider()); err != nil {
				return err
			}
			if result.Shortage() {
				fmt.Fprintln(os.Stderr, "Warning: one or more requirements came up short")
			}
			return nil
		},
	}
	cmd.Flags().String("customer", "", "customer the order is for (required)")
	cmd.Flags().StringArray("require", nil, "requirement as provider=quantity (repeatable)")
	cmd.Flags().Int("freshness-days", 0, "override the freshness window for this order")
	cmd.Flags().Int("reuse-days", 0, "override the reuse window for this order")
	_ = cmd.MarkFlagRequired("customer")
	_ = cmd.MarkFlagRequired("require")
	return cmd
}

func newWatchCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "watch",
		Short: "Block until new stock of a provider is ingested",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := signalContext()
			defer cancel()

			provider, _ := cmd.Flags().GetString("provider")
			timeout, _ := cmd.Flags().GetDuration("timeout")
			if provider == "" {
				return fmt.Errorf("--provider is required")
			}

			db, err := internal.GetPool(ctx)
			if err != nil {
				return err
			}
			defer db.Close()

			watcher, err := numstock.NewWatcher(numstock.WatcherConfig{DB: db})
			if err != nil {
				return err
			}

			listenCtx, stopListen := context.WithCancel(ctx)
			defer stopListen()
			listenErr := make(chan error, 1)
			go func() {
				listenErr <- watcher.Listen(listenCtx)
			}()

			waitCtx := ctx
			if timeout > 0 {
				var cancelWait context.CancelFunc
				waitCtx, cancelWait = context.WithTimeout(ctx, timeout)
				defer cancelWait()
			}
			if err := watcher.WaitForStock(waitCtx, numstock.Provider(provider)); err != nil {
				select {
				case lerr := <-listenErr:
					return fmt.Errorf("listener stopped: %w", lerr)
				default:
				}
				return err
			}
			fmt.Printf("New %s stock ingested\n", provider)
			return nil
		},
	}
	cmd.Flags().String("provider", "", "provider to watch (required)")
	cmd.Flags().Duration("timeout", 0, "give up after this long (default: wait forever)")
	return cmd
}

// parseRequirements parses provider=quantity pairs from --require flags.
func parseRequirements(pairs []string) ([]numstock.Requirement, error) {
	requirements := make([]numstock.Requirement, 0, len(pairs))
	for _, pair := range pairs {
		provider, qtyStr, ok := strings.Cut(pair, "=")
		if !ok {
			return nil, fmt.Errorf("invalid requirement %q: want provider=quantity", pair)
		}
		qty, err := strconv.Atoi(qtyStr)
		if err != nil {
			return nil, fmt.Errorf("invalid quantity in %q: %w", pair, err)
		}
		requirements = append(requirements, numstock.Requirement{
			Provider: numstock.Provider(strings.TrimSpace(provider)),
			Quantity: qty,
		})
	}
	return requirements, nil
}
