package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"log"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/fortressi/feesaga"
	"github.com/fortressi/feesaga/api"
	"github.com/fortressi/feesaga/config"
	"github.com/fortressi/feesaga/transaction"
	"github.com/fortressi/feesaga/workflow"
	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/shopspring/decimal"
)

func main() {
	if len(os.Args) < 2 {
		printUsage()
		os.Exit(1)
	}

	cfg, err := config.FromEnv(os.Getenv)
	if err != nil {
		log.Fatalf("Invalid environment: %v", err)
	}
	logger := slog.New(slog.NewJSONHandler(os.Stderr, nil))
	slog.SetDefault(logger)

	switch os.Args[1] {
	case "serve":
		serveCmd := flag.NewFlagSet("serve", flag.ExitOnError)
		cfg.RegisterFlags(serveCmd)
		serveCmd.Parse(os.Args[2:])
		if err := runServe(cfg, logger); err != nil {
			log.Fatalf("Serve failed: %v", err)
		}
	case "run":
		runCmd := flag.NewFlagSet("run", flag.ExitOnError)
		cfg.RegisterFlags(runCmd)
		id := runCmd.String("id", "", "Transaction ID (generated if not provided)")
		amount := runCmd.String("amount", "", "Transaction amount (required)")
		asset := runCmd.String("asset", "USD", "Asset code")
		assetType := runCmd.String("asset-type", string(transaction.AssetFiat), "Asset class: FIAT or CRYPTO")
		typ := runCmd.String("type", string(transaction.MobileTopUp), "Transaction type")
		runCmd.Parse(os.Args[2:])

		req, err := buildRequest(*id, *amount, *asset, *assetType, *typ)
		if err != nil {
			log.Fatal(err)
		}
		if err := runOnce(cfg, logger, req); err != nil {
			log.Fatalf("Run failed: %v", err)
		}
	case "dot":
		if err := printDot(logger); err != nil {
			log.Fatalf("Dot failed: %v", err)
		}
	case "list":
		listCmd := flag.NewFlagSet("list", flag.ExitOnError)
		stateDir := listCmd.String("state-dir", cfg.StateDir, "Directory containing saga journals")
		listCmd.Parse(os.Args[2:])
		if *stateDir == "" {
			log.Fatal("--state-dir is required for list command")
		}
		if err := listSagas(*stateDir); err != nil {
			log.Fatalf("List failed: %v", err)
		}
	default:
		printUsage()
		os.Exit(1)
	}
}

func printUsage() {
	fmt.Println("Fee saga service")
	fmt.Println("\nUsage:")
	fmt.Println("  feesaga serve [flags]  - Serve the HTTP API, metrics and the compliance workflow")
	fmt.Println("  feesaga run [flags]    - Run one fee saga and print the response")
	fmt.Println("  feesaga dot            - Print the fee saga DAG in Graphviz format")
	fmt.Println("  feesaga list [flags]   - List saga journals in a state directory")
	fmt.Println("\nRun flags:")
	fmt.Println("  --amount       Transaction amount (required)")
	fmt.Println("  --type         MOBILE_TOP_UP, BANK_TRANSFER or CASH_OUT (default: MOBILE_TOP_UP)")
	fmt.Println("  --asset-type   FIAT or CRYPTO (default: FIAT)")
	fmt.Println("  --id           Transaction ID (generated if not provided)")
	fmt.Println("\nSettings are read from FEESAGA_* environment variables and can be overridden by flags.")
}

func buildRequest(id, amount, asset, assetType, typ string) (transaction.Request, error) {
	if amount == "" {
		return transaction.Request{}, errors.New("--amount is required for run command")
	}
	value, err := decimal.NewFromString(amount)
	if err != nil {
		return transaction.Request{}, fmt.Errorf("invalid --amount: %w", err)
	}
	at, err := transaction.ParseAssetType(assetType)
	if err != nil {
		return transaction.Request{}, err
	}
	t, err := transaction.ParseType(typ)
	if err != nil {
		return transaction.Request{}, err
	}
	if id == "" {
		id = uuid.NewString()
	}
	return transaction.Request{
		TransactionID: id,
		Amount:        value,
		Asset:         asset,
		AssetType:     at,
		Type:          t,
		State:         transaction.StateSettledPendingFee,
		CreatedAt:     transaction.Timestamp(time.Now()),
	}, nil
}

func runServe(cfg config.Config, logger *slog.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	a, err := newApp(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer a.Close()

	env := &api.Env{
		Transactions: transaction.NewService(a.transactions),
		Sagas:        a.runner,
		Logger:       logger,
	}
	mux := http.NewServeMux()
	env.Register(mux)
	mux.Handle("GET /metrics", promhttp.HandlerFor(a.registry, promhttp.HandlerOpts{}))

	srv := &http.Server{
		Addr:              cfg.HTTPAddr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	errc := make(chan error, 1)
	go func() {
		logger.Info("listening", "addr", cfg.HTTPAddr)
		errc <- srv.ListenAndServe()
	}()

	select {
	case err := <-errc:
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutdown: %w", err)
	}
	return nil
}

func runOnce(cfg config.Config, logger *slog.Logger, req transaction.Request) error {
	ctx := context.Background()

	a, err := newApp(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer a.Close()

	resp, err := a.runner.Run(ctx, req)
	if err != nil {
		return err
	}

	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(resp)
}

func printDot(logger *slog.Logger) error {
	a, err := newApp(context.Background(), config.Default(), logger)
	if err != nil {
		return err
	}
	defer a.Close()

	out, err := a.workflow.Dag().ExportToDot()
	if err != nil {
		return err
	}
	fmt.Println(out)
	return nil
}

func listSagas(stateDir string) error {
	ctx := context.Background()

	store, err := feesaga.NewFileStore[transaction.Request](stateDir)
	if err != nil {
		return fmt.Errorf("failed to open journal directory: %w", err)
	}
	ids, err := store.List(ctx)
	if err != nil {
		return err
	}

	if len(ids) == 0 {
		fmt.Println("No saga journals found")
		return nil
	}
	for _, id := range ids {
		state, err := store.Load(ctx, id)
		if err != nil {
			fmt.Printf("%-40s  unreadable: %v\n", id, err)
			continue
		}
		fmt.Printf("%-40s  %-10s  invocations=%d  steps=%d/%d  updated=%s\n",
			id, state.Status, state.Invocations, len(state.CompletedActions), len(workflow.Steps),
			state.UpdatedAt.Format(time.RFC3339))
	}
	return nil
}
