package cmd

import (
	"context"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/spf13/afero"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/xkilldash9x/listfill/internal/account"
	"github.com/xkilldash9x/listfill/internal/action"
	"github.com/xkilldash9x/listfill/internal/browser"
	"github.com/xkilldash9x/listfill/internal/catalog"
	"github.com/xkilldash9x/listfill/internal/config"
	"github.com/xkilldash9x/listfill/internal/diagnostics"
	"github.com/xkilldash9x/listfill/internal/observability"
	"github.com/xkilldash9x/listfill/internal/orchestrator"
	"github.com/xkilldash9x/listfill/internal/retry"
	"github.com/xkilldash9x/listfill/internal/session"
	"github.com/xkilldash9x/listfill/internal/site"
	"github.com/xkilldash9x/listfill/internal/store"
)

const dbConnectTimeout = 15 * time.Second

// newRunComponents is swapped out in tests to avoid launching Chrome.
var newRunComponents = initializeRunComponents

// newRunCmd creates and configures the `run` command.
func newRunCmd() *cobra.Command {
	runCmd := &cobra.Command{
		Use:   "run",
		Short: "Adds catalog entries to the list of every account in the accounts file",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			logger := observability.GetLogger()

			cfg, err := getConfigFromContext(ctx)
			if err != nil {
				return err
			}

			accounts, err := account.Load(cfg.Run.AccountsFile)
			if err != nil {
				return err
			}
			logger.Info("Loaded accounts.",
				zap.Int("accounts", len(accounts)),
				zap.Int("task_budget", cfg.Run.TaskBudget),
				zap.Int("max_pages", cfg.Run.MaxPages),
			)

			components, err := newRunComponents(ctx, cfg, logger)
			if err != nil {
				if components != nil {
					components.Shutdown()
				}
				return fmt.Errorf("failed to initialize run components: %w", err)
			}
			defer components.Shutdown()

			summary, runErr := components.Orchestrator.Run(ctx, accounts)
			if summary != nil {
				if cfg.Run.SummaryFile != "" {
					if err := summary.WriteFile(cfg.Run.SummaryFile); err != nil {
						logger.Error("Could not write run summary.", zap.Error(err))
					} else {
						logger.Info("Run summary written.", zap.String("path", cfg.Run.SummaryFile))
					}
				}
				printSummary(cmd.OutOrStdout(), summary)
			}

			if runErr != nil {
				if errors.Is(runErr, context.Canceled) {
					logger.Warn("Run aborted gracefully.")
				}
				return runErr
			}
			return nil
		},
	}

	flags := runCmd.Flags()
	flags.String("accounts", "", "Accounts file, one 'identifier|secret|proxy' per line. (Overrides config/env)")
	flags.Int("budget", 0, "Entries dequeued per account. (Overrides config/env)")
	flags.Int("pages", 0, "Catalog pages scanned per account. (Overrides config/env)")
	flags.Bool("headless", true, "Run the browser without a window. (Overrides config/env)")
	bindConfigKey(flags, "accounts", "run.accounts_file")
	bindConfigKey(flags, "budget", "run.task_budget")
	bindConfigKey(flags, "pages", "run.max_pages")
	bindConfigKey(flags, "headless", "browser.headless")

	return runCmd
}

// runComponents holds the initialized services of one run.
type runComponents struct {
	Orchestrator *orchestrator.Orchestrator
	DBPool       *pgxpool.Pool
}

// Shutdown releases what the components hold.
func (rc *runComponents) Shutdown() {
	if rc.DBPool != nil {
		rc.DBPool.Close()
	}
}

// initializeRunComponents handles dependency injection.
func initializeRunComponents(ctx context.Context, cfg *config.Config, logger *zap.Logger) (*runComponents, error) {
	components := &runComponents{}

	s, err := site.New(cfg.Site)
	if err != nil {
		return nil, fmt.Errorf("invalid site configuration: %w", err)
	}

	clock := retry.SystemClock{}
	nav := browser.Navigator{
		Timeout: cfg.Network.NavigationTimeout,
		Limiter: browser.NewLimiter(cfg.Network.MaxNavigationsPerSecond),
		Logger:  logger,
	}

	fs := afero.NewOsFs()
	snapshots := store.NewSnapshotStore(fs, cfg.Session.SnapshotDir, logger)
	sessions := session.NewManager(s, nav, snapshots, cfg.Session, cfg.Network.NavigationTimeout, clock, logger)

	deps := orchestrator.Dependencies{
		Driver:   browser.NewChromeDriver(logger, cfg.Browser.LaunchTimeout),
		Sessions: sessions,
		Scanner:  catalog.NewScanner(s, nav, cfg.Catalog.Navigation, logger),
		Executor: action.NewExecutor(s, nav, sessions, cfg.Action, clock, logger),
		Sweeper:  diagnostics.NewSweeper(fs, logger),
		Clock:    clock,
	}

	if cfg.Database.URL != "" {
		pool, err := connectDatabase(ctx, cfg.Database.URL)
		if err != nil {
			return components, err
		}
		components.DBPool = pool

		outcomes := store.NewOutcomeStore(pool, logger)
		if err := outcomes.EnsureSchema(ctx); err != nil {
			return components, err
		}
		deps.Recorder = outcomes
		logger.Info("Recording outcomes to database.")
	}

	orch, err := orchestrator.New(cfg, logger, deps)
	if err != nil {
		return components, fmt.Errorf("failed to create orchestrator: %w", err)
	}
	components.Orchestrator = orch
	return components, nil
}

func connectDatabase(ctx context.Context, url string) (*pgxpool.Pool, error) {
	pool, err := pgxpool.New(ctx, url)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}
	pingCtx, cancel := context.WithTimeout(ctx, dbConnectTimeout)
	defer cancel()
	if err := pool.Ping(pingCtx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to reach database: %w", err)
	}
	return pool, nil
}

func printSummary(w io.Writer, summary *orchestrator.RunSummary) {
	fmt.Fprintf(w, "\nRun complete. Run ID: %s\n", summary.RunID)
	for _, a := range summary.Accounts {
		status := "ok"
		if a.Err != nil {
			status = a.Err.Error()
		}
		fmt.Fprintf(w, "  %-24s tasks=%d added=%d already=%d failed=%d (%s)\n",
			a.AccountID, a.TasksCompleted, a.Added, a.AlreadyApplied, a.Failed, status)
	}
}
