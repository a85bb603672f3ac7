package health

import (
	"context"
	"encoding/json"
	"net/http"
	"time"
)

type Checker struct {
	DBPing      func(ctx context.Context) error
	RPCPing     func(ctx context.Context) error
	GatewayPing func(ctx context.Context) error
}

// Handler reports each configured dependency; any failure turns the response into a 503.
func Handler(checker Checker) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ctx, cancel := context.WithTimeout(r.Context(), 3*time.Second)
		defer cancel()

		status := map[string]string{"status": "ok"}
		code := http.StatusOK

		check := func(name string, ping func(ctx context.Context) error) {
			if ping == nil {
				return
			}
			if err := ping(ctx); err != nil {
				status[name] = "fail"
				code = http.StatusServiceUnavailable
				return
			}
			status[name] = "ok"
		}
		check("db", checker.DBPing)
		check("rpc", checker.RPCPing)
		check("gateway", checker.GatewayPing)

		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(code)
		_ = json.NewEncoder(w).Encode(status)
	})
}

// Serve starts a minimal /healthz handler.
func Serve(addr string, checker Checker) *http.Server {
	mux := http.NewServeMux()
	mux.Handle("/healthz", Handler(checker))

	srv := &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadHeaderTimeout: 3 * time.Second,
	}
	go func() { _ = srv.ListenAndServe() }()
	return srv
}

// Shutdown gracefully shuts down the health server.
func Shutdown(ctx context.Context, srv *http.Server) error {
	return srv.Shutdown(ctx)
}
