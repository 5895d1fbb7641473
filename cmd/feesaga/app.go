package main

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"

	"github.com/fortressi/feesaga"
	"github.com/fortressi/feesaga/compliance"
	"github.com/fortressi/feesaga/config"
	"github.com/fortressi/feesaga/gateway"
	"github.com/fortressi/feesaga/transaction"
	"github.com/fortressi/feesaga/workflow"
	"github.com/nats-io/nats.go"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
)

// app is the wired service: stores, transport, workflows and metrics.
type app struct {
	transactions transaction.Store
	router       *gateway.Router
	workflow     *workflow.FeeWorkflow
	runner       *workflow.Runner
	registry     *prometheus.Registry

	db   *sql.DB
	nc   *nats.Conn
	subs *nats.Subscription
}

func newApp(ctx context.Context, cfg config.Config, logger *slog.Logger) (a *app, err error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	a = &app{registry: prometheus.NewRegistry()}
	defer func() {
		if err != nil {
			a.Close()
		}
	}()
	a.registry.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))

	if a.transactions, err = a.openTransactions(ctx, cfg, logger); err != nil {
		return nil, err
	}

	var journal workflow.Journal = feesaga.NewMemoryStore[transaction.Request]()
	if cfg.StateDir != "" {
		if journal, err = feesaga.NewFileStore[transaction.Request](cfg.StateDir); err != nil {
			return nil, fmt.Errorf("failed to create journal store: %w", err)
		}
	}

	a.router = gateway.NewRouter(cfg.CallTimeout, logger)
	if err = compliance.NewWorkflow(compliance.NewEvaluator(nil, logger)).Register(a.router); err != nil {
		return nil, err
	}

	var gw gateway.Gateway = a.router
	if cfg.NATSURL != "" {
		if a.nc, err = nats.Connect(cfg.NATSURL, nats.Name("feesaga")); err != nil {
			return nil, fmt.Errorf("failed to connect to NATS: %w", err)
		}
		if a.subs, err = gateway.ServeNATS(a.nc, cfg.NATSPrefix, a.router, logger); err != nil {
			return nil, fmt.Errorf("failed to serve workflows on NATS: %w", err)
		}
		gw = gateway.NewNATSGateway(a.nc, cfg.NATSPrefix, cfg.CallTimeout)
		logger.Info("cross-workflow calls over NATS", "url", cfg.NATSURL, "prefix", cfg.NATSPrefix)
	}

	a.workflow, err = workflow.New(workflow.Config{
		Gateway:      gw,
		Transactions: a.transactions,
		Journal:      journal,
		MaxFailures:  cfg.MaxFailures,
		Metrics:      workflow.NewMetrics(a.registry),
		Logger:       logger,
	})
	if err != nil {
		return nil, err
	}
	a.runner = workflow.NewRunner(a.workflow,
		workflow.WithMaxAttempts(cfg.MaxAttempts),
		workflow.WithRunnerLogger(logger))
	return a, nil
}

func (a *app) openTransactions(ctx context.Context, cfg config.Config, logger *slog.Logger) (transaction.Store, error) {
	if cfg.DSN == "" {
		logger.Info("transactions kept in memory")
		return transaction.NewMemoryStore(), nil
	}

	var secrets config.SecretReader
	if cfg.VaultAddr != "" {
		vs, err := config.NewVaultSecrets(cfg.VaultAddr)
		if err != nil {
			return nil, err
		}
		secrets = vs
	}
	dsn, err := cfg.DatabaseDSN(ctx, secrets)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve database credentials: %w", err)
	}

	if a.db, err = transaction.OpenPostgres(ctx, dsn); err != nil {
		return nil, err
	}
	store := transaction.NewPostgresStore(a.db)
	if err := store.Migrate(ctx); err != nil {
		return nil, err
	}
	logger.Info("transactions stored in postgres")
	return store, nil
}

// Close releases connections in reverse order of creation.
func (a *app) Close() {
	if a.subs != nil {
		_ = a.subs.Unsubscribe()
	}
	if a.nc != nil {
		a.nc.Close()
	}
	if a.router != nil {
		a.router.Close()
	}
	if a.db != nil {
		a.db.Close()
	}
}
