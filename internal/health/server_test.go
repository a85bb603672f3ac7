package health

import (
	"context"
	"encoding/json"
	"errors"
	"math/big"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"
)

func TestHealthEndpoint(t *testing.T) {
	tests := []struct {
		name     string
		checker  Checker
		wantCode int
		wantDB   string
		wantRPC  string
		wantGW   string
	}{
		{
			name: "all_ok",
			checker: Checker{
				DBPing:  func(ctx context.Context) error { return nil },
				RPCPing: func(ctx context.Context) error { return nil },
			},
			wantCode: http.StatusOK,
			wantDB:   "ok",
			wantRPC:  "ok",
		},
		{
			name: "db_fail",
			checker: Checker{
				DBPing:  func(ctx context.Context) error { return context.DeadlineExceeded },
				RPCPing: func(ctx context.Context) error { return nil },
			},
			wantCode: http.StatusServiceUnavailable,
			wantDB:   "fail",
			wantRPC:  "ok",
		},
		{
			name: "rpc_fail",
			checker: Checker{
				DBPing:  func(ctx context.Context) error { return nil },
				RPCPing: func(ctx context.Context) error { return context.DeadlineExceeded },
			},
			wantCode: http.StatusServiceUnavailable,
			wantDB:   "ok",
			wantRPC:  "fail",
		},
		{
			name: "both_fail",
			checker: Checker{
				DBPing:  func(ctx context.Context) error { return context.DeadlineExceeded },
				RPCPing: func(ctx context.Context) error { return context.DeadlineExceeded },
			},
			wantCode: http.StatusServiceUnavailable,
			wantDB:   "fail",
			wantRPC:  "fail",
		},
		{
			name: "gateway_fail",
			checker: Checker{
				DBPing:      func(ctx context.Context) error { return nil },
				RPCPing:     func(ctx context.Context) error { return nil },
				GatewayPing: func(ctx context.Context) error { return context.DeadlineExceeded },
			},
			wantCode: http.StatusServiceUnavailable,
			wantDB:   "ok",
			wantRPC:  "ok",
			wantGW:   "fail",
		},
		{
			name: "no_checkers",
			checker: Checker{
				DBPing:  nil,
				RPCPing: nil,
			},
			wantCode: http.StatusOK,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := Serve(":0", tt.checker)
			defer func() {
				ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
				defer cancel()
				_ = Shutdown(ctx, srv)
			}()

			time.Sleep(50 * time.Millisecond)

			req := httptest.NewRequest(http.MethodGet, "http://localhost/healthz", nil)
			w := httptest.NewRecorder()

			srv.Handler.ServeHTTP(w, req)

			if w.Code != tt.wantCode {
				t.Errorf("status code = %d, want %d", w.Code, tt.wantCode)
			}

			var resp map[string]string
			if err := json.NewDecoder(w.Body).Decode(&resp); err != nil {
				t.Fatalf("decode response: %v", err)
			}

			if resp["status"] != "ok" {
				t.Errorf("status = %q, want ok", resp["status"])
			}

			if tt.wantDB != "" && resp["db"] != tt.wantDB {
				t.Errorf("db = %q, want %q", resp["db"], tt.wantDB)
			}
			if tt.wantRPC != "" && resp["rpc"] != tt.wantRPC {
				t.Errorf("rpc = %q, want %q", resp["rpc"], tt.wantRPC)
			}
			if tt.wantGW != "" && resp["gateway"] != tt.wantGW {
				t.Errorf("gateway = %q, want %q", resp["gateway"], tt.wantGW)
			}
		})
	}
}

type fakeChainClient struct {
	head    uint64
	chainID int64
	err     error
}

func (f fakeChainClient) BlockNumber(context.Context) (uint64, error) { return f.head, f.err }

func (f fakeChainClient) ChainID(context.Context) (*big.Int, error) {
	return big.NewInt(f.chainID), f.err
}

func TestChainChecker(t *testing.T) {
	ctx := context.Background()
	if err := NewChainChecker(fakeChainClient{head: 10, chainID: 11155111}, 11155111).Ping(ctx); err != nil {
		t.Fatalf("expected healthy chain: %v", err)
	}
	if err := NewChainChecker(fakeChainClient{head: 10, chainID: 1}, 0).Ping(ctx); err != nil {
		t.Fatalf("chain id should be ignored when unset: %v", err)
	}
	if err := NewChainChecker(fakeChainClient{head: 10, chainID: 1}, 11155111).Ping(ctx); err == nil {
		t.Fatalf("expected chain id mismatch")
	}
	if err := NewChainChecker(fakeChainClient{err: errors.New("connection refused")}, 0).Ping(ctx); err == nil {
		t.Fatalf("expected rpc failure")
	}
}

func TestGatewayChecker(t *testing.T) {
	down := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer down.Close()
	up := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	}))
	defer up.Close()

	ctx := context.Background()
	if err := NewGatewayChecker(nil, []string{down.URL + "/ipfs/", up.URL + "/ipfs/"}).Ping(ctx); err != nil {
		t.Fatalf("one responsive gateway should be healthy: %v", err)
	}
	if err := NewGatewayChecker(nil, []string{down.URL + "/ipfs/"}).Ping(ctx); err == nil {
		t.Fatalf("expected failure when every gateway is down")
	}
	if err := NewGatewayChecker(nil, nil).Ping(ctx); err == nil {
		t.Fatalf("expected failure with no gateways")
	}
}
