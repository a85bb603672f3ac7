package main

import (
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"

	"github.com/devblac/certiblock/internal/chain"
	"github.com/devblac/certiblock/internal/config"
	"github.com/devblac/certiblock/internal/ipfs"
	"github.com/devblac/certiblock/internal/logging"
	"github.com/devblac/certiblock/internal/metadata"
	"github.com/devblac/certiblock/internal/metrics"
	"github.com/ethereum/go-ethereum/common"
)

// app holds the components every command builds from the config file.
type app struct {
	cfg      *config.Config
	log      *slog.Logger
	metrics  *metrics.Metrics
	rpc      *chain.RPCClient
	contract *chain.Contract
	resolver *ipfs.Resolver
	fetcher  *metadata.Fetcher
}

func newLogger() *slog.Logger {
	logLevel := os.Getenv("LOG_LEVEL")
	if logLevel == "" {
		logLevel = "info"
	}
	return logging.NewWithLevel(logLevel)
}

// newApp loads the config and wires chain and storage network access. mtr may be nil.
func newApp(mtr *metrics.Metrics) (*app, error) {
	log := newLogger()

	cfg, err := loadConfig()
	if err != nil {
		return nil, err
	}

	parsed, err := chain.LoadABI(cfg.Chain.ABIPath)
	if err != nil {
		return nil, err
	}
	rpc, err := chain.NewRPCClient(cfg.Chain.RPCURL)
	if err != nil {
		return nil, err
	}
	contract := chain.NewContract(
		common.HexToAddress(cfg.Chain.ContractAddress),
		parsed,
		rpc,
		rpc,
		cfg.Chain.CallTimeoutDuration(),
	)

	timeout := cfg.IPFS.TimeoutDuration()
	client := &http.Client{Timeout: timeout}
	resolver := ipfs.NewResolver(cfg.IPFS.Gateways, cfg.IPFS.StrictCID)
	prober := ipfs.NewProber(client, timeout,
		ipfs.WithParallel(cfg.IPFS.ParallelProbes),
		ipfs.WithLogger(log),
		ipfs.WithMetrics(mtr),
	)
	fetcher := metadata.NewFetcher(resolver, prober, client, timeout,
		metadata.WithBaseURISource(contract),
		metadata.WithLogger(log),
		metadata.WithMetrics(mtr),
	)

	return &app{
		cfg:      cfg,
		log:      log,
		metrics:  mtr,
		rpc:      rpc,
		contract: contract,
		resolver: resolver,
		fetcher:  fetcher,
	}, nil
}

func (a *app) Close() {
	if a.rpc != nil {
		a.rpc.Close()
	}
}

func printJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func loadConfig() (*config.Config, error) {
	cfg, err := config.Load(cfgPath)
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	return cfg, nil
}

func sameAddress(a, b string) bool {
	return common.IsHexAddress(a) && common.IsHexAddress(b) && common.HexToAddress(a) == common.HexToAddress(b)
}
