package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/devblac/certiblock/internal/api"
	"github.com/devblac/certiblock/internal/health"
	"github.com/devblac/certiblock/internal/metadata"
	"github.com/devblac/certiblock/internal/metrics"
	"github.com/devblac/certiblock/internal/storage"
	"github.com/devblac/certiblock/internal/verify"
	"github.com/spf13/cobra"
)

var (
	flagAddr    string
	flagHealth  string
	flagMetrics string
)

func init() {
	serveCmd.Flags().StringVar(&flagAddr, "addr", "", "API listen address (overrides server.addr)")
	serveCmd.Flags().StringVar(&flagHealth, "health", "", "Health check HTTP address (e.g., :8081)")
	serveCmd.Flags().StringVar(&flagMetrics, "metrics", "", "Metrics HTTP address (e.g., :9090)")
}

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Serve the verification API",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		var mtr *metrics.Metrics
		if flagMetrics != "" {
			mtr = metrics.Init()
		}
		a, err := newApp(mtr)
		if err != nil {
			return err
		}
		defer a.Close()
		log := a.log

		store, err := storage.Open(a.cfg.Global.DBPath)
		if err != nil {
			return fmt.Errorf("open storage: %w", err)
		}
		defer store.Close()

		warnContractMismatch(ctx, a, store)

		verifier := verify.NewVerifier(a.contract, log, mtr)
		lookup := verify.NewLookup(a.contract, a.fetcher,
			verify.WithLedger(store),
			verify.WithExplorer(a.cfg.Chain.ExplorerURL),
			verify.WithLogger(log),
			verify.WithMetrics(mtr),
		)

		checker := health.Checker{
			DBPing:      store.Ping,
			RPCPing:     health.NewChainChecker(a.rpc, a.cfg.Chain.ChainID).Ping,
			GatewayPing: health.NewGatewayChecker(nil, a.resolver.Gateways()).Ping,
		}
		opts := []api.Option{
			api.WithLookup(lookup),
			api.WithHealth(health.Handler(checker)),
			api.WithLogger(log),
		}
		if dir := a.cfg.Server.MetadataDir; dir != "" {
			opts = append(opts, api.WithListing(func() ([]metadata.Entry, error) {
				return metadata.LoadDir(dir, a.resolver, log)
			}))
		}

		if flagHealth != "" {
			healthSrv := health.Serve(flagHealth, checker)
			log.Info("health check enabled", "addr", flagHealth)
			defer func() {
				shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
				defer cancel()
				_ = health.Shutdown(shutdownCtx, healthSrv)
			}()
		}

		if flagMetrics != "" {
			log.Info("metrics enabled", "addr", flagMetrics)
			go func() {
				mux := http.NewServeMux()
				mux.Handle("/metrics", metrics.Handler())
				srv := &http.Server{Addr: flagMetrics, Handler: mux, ReadHeaderTimeout: 3 * time.Second}
				if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
					log.Error("metrics server error", "error", err)
				}
			}()
		}

		addr := a.cfg.Server.Addr
		if flagAddr != "" {
			addr = flagAddr
		}
		srv := api.NewServer(verifier, opts...).HTTPServer(addr)

		errCh := make(chan error, 1)
		go func() { errCh <- srv.ListenAndServe() }()
		log.Info("api listening", "addr", addr, "contract", a.contract.Address().Hex())

		select {
		case err := <-errCh:
			if err != nil && !errors.Is(err, http.ErrServerClosed) {
				return fmt.Errorf("api server: %w", err)
			}
			return nil
		case <-ctx.Done():
		}

		log.Info("shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	},
}

// warnContractMismatch logs every ledger contract that differs from the configured one.
func warnContractMismatch(ctx context.Context, a *app, store *storage.Store) {
	contracts, err := store.MintedContracts(ctx)
	if err != nil {
		a.log.Warn("read mint ledger", "err", err)
		return
	}
	configured := a.contract.Address().Hex()
	for _, c := range contracts {
		if !strings.EqualFold(c, configured) {
			a.log.Warn("mint ledger references a different contract", "minted_on", c, "configured", configured)
		}
	}
}
