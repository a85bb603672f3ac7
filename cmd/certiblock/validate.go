package main

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/devblac/certiblock/internal/chain"
	"github.com/devblac/certiblock/internal/health"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/ethclient"
	"github.com/spf13/cobra"
)

const defaultHTTPTimeout = 8 * time.Second

var validateCmd = &cobra.Command{
	Use:   "validate",
	Short: "Validate config and ping the chain and gateways",
	RunE: func(cmd *cobra.Command, args []string) error {
		out := cmd.OutOrStdout()
		ctx := cmd.Context()

		cfg, err := loadConfig()
		if err != nil {
			return fmt.Errorf("config invalid: %w", err)
		}
		fmt.Fprintf(out, "config OK (version %d)\n", cfg.Version)

		if _, err := chain.LoadABI(cfg.Chain.ABIPath); err != nil {
			return fmt.Errorf("abi invalid: %w", err)
		}

		client := &http.Client{Timeout: defaultHTTPTimeout}
		failures := 0

		chainID, err := pingEVM(ctx, client, cfg.Chain.RPCURL)
		switch {
		case err != nil:
			failures++
			fmt.Fprintf(out, "- chain rpc: ERROR %v\n", err)
		case cfg.Chain.ChainID != 0 && chainID != cfg.Chain.ChainID:
			failures++
			fmt.Fprintf(out, "- chain rpc: chainId %d does not match configured %d\n", chainID, cfg.Chain.ChainID)
		default:
			fmt.Fprintf(out, "- chain rpc: chainId %d OK\n", chainID)
		}

		if err == nil {
			if err := checkContractCode(ctx, cfg.Chain.RPCURL, common.HexToAddress(cfg.Chain.ContractAddress)); err != nil {
				failures++
				fmt.Fprintf(out, "- contract %s: ERROR %v\n", cfg.Chain.ContractAddress, err)
			} else {
				fmt.Fprintf(out, "- contract %s: code present OK\n", cfg.Chain.ContractAddress)
			}
		}

		gw := health.NewGatewayChecker(client, cfg.IPFS.Gateways)
		if err := gw.Ping(ctx); err != nil {
			failures++
			fmt.Fprintf(out, "- gateways: ERROR %v\n", err)
		} else {
			fmt.Fprintf(out, "- gateways: %d configured, reachable OK\n", len(cfg.IPFS.Gateways))
		}

		if failures > 0 {
			return fmt.Errorf("validate: %d check(s) failed", failures)
		}

		fmt.Fprintln(out, "validate: success")
		return nil
	},
}

func pingEVM(ctx context.Context, client *http.Client, url string) (uint64, error) {
	payload := map[string]any{
		"jsonrpc": "2.0",
		"id":      1,
		"method":  "eth_chainId",
		"params":  []any{},
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return 0, fmt.Errorf("marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return 0, fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := client.Do(req)
	if err != nil {
		return 0, fmt.Errorf("call eth_chainId: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		return 0, fmt.Errorf("rpc status %d", resp.StatusCode)
	}

	var rpcResp struct {
		Result string `json:"result"`
		Error  *struct {
			Message string `json:"message"`
		} `json:"error"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&rpcResp); err != nil {
		return 0, fmt.Errorf("decode rpc response: %w", err)
	}

	if rpcResp.Error != nil {
		return 0, fmt.Errorf("rpc error: %s", rpcResp.Error.Message)
	}
	if rpcResp.Result == "" {
		return 0, fmt.Errorf("empty chainId result")
	}

	id, err := hexutil.DecodeUint64(rpcResp.Result)
	if err != nil {
		return 0, fmt.Errorf("decode chainId %q: %w", rpcResp.Result, err)
	}
	return id, nil
}

func checkContractCode(ctx context.Context, url string, addr common.Address) error {
	ctx, cancel := context.WithTimeout(ctx, defaultHTTPTimeout)
	defer cancel()

	cli, err := ethclient.DialContext(ctx, url)
	if err != nil {
		return err
	}
	defer cli.Close()

	code, err := cli.CodeAt(ctx, addr, nil)
	if err != nil {
		return err
	}
	if len(code) == 0 {
		return fmt.Errorf("no contract code at address")
	}
	return nil
}
