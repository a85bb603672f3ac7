package api

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/devblac/certiblock/internal/logging"
	"github.com/devblac/certiblock/internal/metadata"
	"github.com/devblac/certiblock/internal/verify"
	"github.com/gorilla/mux"
)

// Verifier answers ownership queries. *verify.Verifier satisfies it.
type Verifier interface {
	Verify(ctx context.Context, tokenID, claimedOwner string) (verify.Result, error)
}

// CertificateLookup loads a full certificate view. *verify.Lookup satisfies it.
type CertificateLookup interface {
	Certificate(ctx context.Context, tokenID string) (verify.Certificate, error)
}

// ListFunc returns the locally known certificate documents.
type ListFunc func() ([]metadata.Entry, error)

// Server exposes the verification engine over HTTP.
type Server struct {
	verifier Verifier
	lookup   CertificateLookup
	list     ListFunc
	health   http.Handler
	metrics  http.Handler
	log      *slog.Logger
}

// Option configures a Server.
type Option func(*Server)

// WithLookup enables GET /certificates/{tokenId}.
func WithLookup(l CertificateLookup) Option { return func(s *Server) { s.lookup = l } }

// WithListing enables GET /certificates.
func WithListing(fn ListFunc) Option { return func(s *Server) { s.list = fn } }

// WithHealth mounts h on /healthz.
func WithHealth(h http.Handler) Option { return func(s *Server) { s.health = h } }

// WithMetrics mounts h on /metrics.
func WithMetrics(h http.Handler) Option { return func(s *Server) { s.metrics = h } }

// WithLogger sets the request logger.
func WithLogger(log *slog.Logger) Option {
	return func(s *Server) {
		if log != nil {
			s.log = log
		}
	}
}

// NewServer builds the API around verifier.
func NewServer(verifier Verifier, opts ...Option) *Server {
	s := &Server{verifier: verifier, log: logging.Discard()}
	for _, o := range opts {
		o(s)
	}
	return s
}

// Router returns the route table.
func (s *Server) Router() *mux.Router {
	r := mux.NewRouter()
	r.HandleFunc("/verify", s.handleVerify).Methods(http.MethodGet)
	if s.list != nil {
		r.HandleFunc("/certificates", s.handleList).Methods(http.MethodGet)
	}
	if s.lookup != nil {
		r.HandleFunc("/certificates/{tokenId}", s.handleCertificate).Methods(http.MethodGet)
	}
	if s.health != nil {
		r.Handle("/healthz", s.health).Methods(http.MethodGet)
	}
	if s.metrics != nil {
		r.Handle("/metrics", s.metrics).Methods(http.MethodGet)
	}
	r.NotFoundHandler = http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		writeJSONError(w, http.StatusNotFound, "not found", "")
	})
	r.MethodNotAllowedHandler = http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		writeJSONError(w, http.StatusMethodNotAllowed, "method not allowed", "")
	})
	return r
}

// HTTPServer wraps the router in an http.Server with conservative timeouts.
func (s *Server) HTTPServer(addr string) *http.Server {
	return &http.Server{
		Addr:              addr,
		Handler:           s.Router(),
		ReadHeaderTimeout: 5 * time.Second,
	}
}

func (s *Server) handleVerify(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	res, err := s.verifier.Verify(r.Context(), q.Get("tokenId"), q.Get("owner"))
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

func (s *Server) handleCertificate(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)
	cert, err := s.lookup.Certificate(r.Context(), vars["tokenId"])
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, cert)
}

func (s *Server) handleList(w http.ResponseWriter, r *http.Request) {
	entries, err := s.list()
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	if entries == nil {
		entries = []metadata.Entry{}
	}
	writeJSON(w, http.StatusOK, entries)
}

func (s *Server) writeError(w http.ResponseWriter, r *http.Request, err error) {
	if verify.IsInputError(err) {
		writeJSONError(w, http.StatusBadRequest, err.Error(), "tokenId must be a non-negative integer")
		return
	}
	if errors.Is(err, context.Canceled) {
		s.log.Debug("request cancelled", "path", r.URL.Path)
	} else {
		s.log.Error("request failed", "path", r.URL.Path, "err", err)
	}
	writeJSONError(w, http.StatusInternalServerError, err.Error(), "")
}
