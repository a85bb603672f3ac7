package health

import (
	"context"
	"fmt"
	"math/big"
	"net/http"
	"time"
)

// ChainClient is the subset of ethclient used for liveness checks.
type ChainClient interface {
	BlockNumber(ctx context.Context) (uint64, error)
	ChainID(ctx context.Context) (*big.Int, error)
}

// ChainChecker pings the read endpoint and, when wantChainID is set, confirms the network.
type ChainChecker struct {
	client      ChainClient
	wantChainID uint64
}

// NewChainChecker creates a checker for the configured chain endpoint.
func NewChainChecker(client ChainClient, wantChainID uint64) *ChainChecker {
	return &ChainChecker{client: client, wantChainID: wantChainID}
}

// Ping reads the head block and the chain id.
func (c *ChainChecker) Ping(ctx context.Context) error {
	if _, err := c.client.BlockNumber(ctx); err != nil {
		return fmt.Errorf("chain rpc: %w", err)
	}
	if c.wantChainID == 0 {
		return nil
	}
	id, err := c.client.ChainID(ctx)
	if err != nil {
		return fmt.Errorf("chain id: %w", err)
	}
	if id.Uint64() != c.wantChainID {
		return fmt.Errorf("chain id mismatch: node reports %s, config expects %d", id, c.wantChainID)
	}
	return nil
}

// GatewayChecker reports healthy when at least one storage gateway answers.
type GatewayChecker struct {
	client   *http.Client
	gateways []string
}

// NewGatewayChecker creates a checker over gateway base URLs. A nil client uses a 3s timeout.
func NewGatewayChecker(client *http.Client, gateways []string) *GatewayChecker {
	if client == nil {
		client = &http.Client{Timeout: 3 * time.Second}
	}
	return &GatewayChecker{client: client, gateways: gateways}
}

// Ping issues a HEAD to each gateway until one responds below 500.
func (g *GatewayChecker) Ping(ctx context.Context) error {
	var lastErr error
	for _, base := range g.gateways {
		req, err := http.NewRequestWithContext(ctx, http.MethodHead, base, nil)
		if err != nil {
			lastErr = err
			continue
		}
		resp, err := g.client.Do(req)
		if err != nil {
			lastErr = fmt.Errorf("gateway %s: %w", base, err)
			continue
		}
		resp.Body.Close()
		if resp.StatusCode < http.StatusInternalServerError {
			return nil
		}
		lastErr = fmt.Errorf("gateway %s: status %d", base, resp.StatusCode)
	}
	if lastErr == nil {
		lastErr = fmt.Errorf("no gateways configured")
	}
	return lastErr
}
