// Command advisor runs the online index advisor's round loop against a
// configured PostgreSQL or MySQL database (§4.6), using a cobra-based
// single-binary CLI. The round loop follows a processor Start/Shutdown
// idiom, called here synchronously round by round (see DESIGN.md).
package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/sylph520/indexadvisor/internal/bandit"
	"github.com/sylph520/indexadvisor/internal/config"
	"github.com/sylph520/indexadvisor/internal/dbport/mysql"
	"github.com/sylph520/indexadvisor/internal/dbport/postgres"
	"github.com/sylph520/indexadvisor/internal/health"
	"github.com/sylph520/indexadvisor/internal/report"
	"github.com/sylph520/indexadvisor/internal/workload"
)

var configPath string

func main() {
	root := &cobra.Command{
		Use:   "advisor",
		Short: "Online contextual-bandit secondary index advisor",
		RunE:  run,
	}
	root.PersistentFlags().StringVar(&configPath, "config", "advisor.yaml", "path to the advisor's YAML configuration file")

	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func run(cmd *cobra.Command, _ []string) error {
	logger, err := zap.NewProduction()
	if err != nil {
		return fmt.Errorf("advisor: building logger: %w", err)
	}
	defer logger.Sync()

	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}

	ctx, cancel := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	port, healthCheckable, err := openPort(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer closePort(port, logger)

	catalog, err := bandit.LoadCatalog(ctx, port)
	if err != nil {
		return fmt.Errorf("advisor: loading catalog: %w", err)
	}

	dim := bandit.Dimension(catalog, cfg.Context.ContextUniqueness, cfg.Context.ContextIncludes)
	encoder := bandit.NewContextEncoder(catalog, cfg.Context.ContextUniqueness, cfg.Context.ContextIncludes)

	armStore := bandit.NewArmStore()
	armFactory := bandit.NewArmFactory(cfg.ArmFactoryConfig(), catalog, port, armStore)

	store, err := bandit.NewQueryStore(port, cfg.Context.SelectivityMemoSize, cfg.Context.TableScanTimeLength)
	if err != nil {
		return fmt.Errorf("advisor: building query store: %w", err)
	}

	model, err := bandit.NewBandit(cfg.C2UCBConfig(dim), logger)
	if err != nil {
		return fmt.Errorf("advisor: building bandit model: %w", err)
	}
	oracle := bandit.NewOracle(cfg.Run.MaxIndexesPerTable)

	driver := bandit.NewRoundDriver(bandit.RoundDriverDeps{
		Catalog:    catalog,
		Store:      store,
		ArmStore:   armStore,
		ArmFactory: armFactory,
		Encoder:    encoder,
		Model:      model,
		Oracle:     oracle,
		Port:       port,
		Logger:     logger,
	}, cfg.RoundConfig())

	windower, err := loadWindower(cfg.Workload, logger)
	if err != nil {
		return err
	}

	registry := prometheus.NewRegistry()
	sink, _, err := report.NewMultiSink(cfg.Report, registry, logger)
	if err != nil {
		return err
	}
	defer sink.Close()

	healthSrv := health.NewServer(logger, "dev", healthCheckable)
	go serveAmbient(ctx, cfg, registry, healthSrv, logger)

	return runRounds(ctx, driver, windower, sink, armStore, cfg.Run.Rounds, healthSrv, logger)
}

// openPort connects the configured database driver and returns it both
// as a bandit.Port and as the narrower health.Checkable the health
// server gates readiness on.
func openPort(ctx context.Context, cfg config.Config, logger *zap.Logger) (bandit.Port, health.Checkable, error) {
	switch cfg.Database.Driver {
	case "postgres":
		conn, err := postgres.Connect(ctx, postgres.Config{
			DSN:     cfg.Database.DSN,
			Pool:    cfg.Database.Pool,
			Breaker: cfg.Database.Breaker,
		}, logger)
		if err != nil {
			return nil, nil, fmt.Errorf("advisor: connecting to postgres: %w", err)
		}
		adapter := postgres.NewAdapter(conn)
		return adapter, adapter, nil
	case "mysql":
		adapter, err := mysql.Connect(ctx, cfg.Database.Schema, mysql.Config{
			DSN:     cfg.Database.DSN,
			Pool:    cfg.Database.Pool,
			Breaker: cfg.Database.Breaker,
		}, logger)
		if err != nil {
			return nil, nil, fmt.Errorf("advisor: connecting to mysql: %w", err)
		}
		if cfg.Run.HypRounds > 0 {
			logger.Warn("advisor: hyp_rounds configured but the mysql adapter has no hypothetical-index support; hypothetical rounds will fall back to real execution")
		}
		return adapter, adapter, nil
	default:
		return nil, nil, fmt.Errorf("advisor: unknown database.driver %q", cfg.Database.Driver)
	}
}

func closePort(port bandit.Port, logger *zap.Logger) {
	type closer interface{ Close() error }
	if c, ok := port.(closer); ok {
		if err := c.Close(); err != nil {
			logger.Warn("advisor: closing database port", zap.Error(err))
		}
	}
}

func loadWindower(cfg config.WorkloadConfig, logger *zap.Logger) (*workload.Windower, error) {
	f, err := os.Open(cfg.Path)
	if err != nil {
		return nil, fmt.Errorf("advisor: opening workload file: %w", err)
	}
	defer f.Close()

	queries, err := workload.Load(f, logger)
	if err != nil {
		return nil, err
	}
	windower, err := workload.NewWindower(queries, cfg.WorkloadShifts, cfg.QueriesStart, cfg.QueriesEnd)
	if err != nil {
		return nil, fmt.Errorf("advisor: building workload windower: %w", err)
	}
	return windower, nil
}

// serveAmbient runs the health and Prometheus metrics HTTP servers
// until ctx is cancelled. They listen on independent addresses, mirroring
// most operators' convention of keeping the scrape endpoint separate
// from the liveness/readiness surface.
func serveAmbient(ctx context.Context, cfg config.Config, registry *prometheus.Registry, healthSrv *health.Server, logger *zap.Logger) {
	if cfg.Server.MetricsAddr != "" {
		metricsSrv := &http.Server{
			Addr:    cfg.Server.MetricsAddr,
			Handler: promhttp.HandlerFor(registry, promhttp.HandlerOpts{}),
		}
		go func() {
			<-ctx.Done()
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			metricsSrv.Shutdown(shutdownCtx)
		}()
		go func() {
			logger.Info("advisor: metrics server listening", zap.String("addr", cfg.Server.MetricsAddr))
			if err := metricsSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				logger.Error("advisor: metrics server stopped", zap.Error(err))
			}
		}()
	}

	if err := healthSrv.ListenAndServe(ctx, cfg.Server.HealthAddr); err != nil {
		logger.Error("advisor: health server stopped", zap.Error(err))
	}
}

// runRounds drives the round loop to completion or until ctx is
// cancelled, per §4.6: one RunRound call per round, fed by the
// workload windower, reported to sink.
func runRounds(
	ctx context.Context,
	driver *bandit.RoundDriver,
	windower *workload.Windower,
	sink report.Sink,
	armStore *bandit.ArmStore,
	rounds int,
	healthSrv *health.Server,
	logger *zap.Logger,
) error {
	for round := 0; round < rounds; round++ {
		select {
		case <-ctx.Done():
			logger.Info("advisor: shutdown requested, dropping indexes and exiting")
			return driver.Shutdown(context.Background())
		default:
		}

		batch, _ := windower.BatchForRound(round)
		rep, err := driver.RunRound(ctx, batch)
		if err != nil {
			logger.Error("advisor: round failed", zap.Int("round", round), zap.Error(err))
			continue
		}
		if err := sink.Write(rep, armStore.Len()); err != nil {
			logger.Warn("advisor: writing round report", zap.Error(err))
		}
		healthSrv.RecordRound(rep.Round)
	}
	return driver.Shutdown(context.Background())
}
