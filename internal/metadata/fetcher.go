package metadata

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"math/big"
	"net/http"
	"net/url"
	"path"
	"strings"
	"time"

	"github.com/devblac/certiblock/internal/ipfs"
	"github.com/devblac/certiblock/internal/logging"
	"github.com/devblac/certiblock/internal/metrics"
)

// MaxDocumentSize caps how much of a metadata response is read.
const MaxDocumentSize = 1 << 20

// SynthesizedExts are appended to base URI + token id, in order, when no image field resolves.
var SynthesizedExts = []string{"", ".png", ".jpg", ".jpeg", ".json"}

// BaseURISource supplies a contract-level base URI when the document declares none.
type BaseURISource interface {
	BaseTokenURI(ctx context.Context) (string, error)
}

// Resolution is the outcome of resolving one token URI. An empty ImageURL means the image is
// unresolvable; Metadata is nil when no document could be fetched.
type Resolution struct {
	Metadata *Metadata `json:"metadata"`
	ImageURL string    `json:"imageUrl,omitempty"`
}

// Fetcher resolves token URIs to metadata and a reachable image URL.
type Fetcher struct {
	resolver *ipfs.Resolver
	prober   *ipfs.Prober
	client   *http.Client
	timeout  time.Duration
	base     BaseURISource
	log      *slog.Logger
	metrics  *metrics.Metrics
}

// FetcherOption configures a Fetcher.
type FetcherOption func(*Fetcher)

// WithBaseURISource sets the contract fallback for base URI synthesis.
func WithBaseURISource(src BaseURISource) FetcherOption {
	return func(f *Fetcher) { f.base = src }
}

// WithLogger sets the fetcher logger.
func WithLogger(log *slog.Logger) FetcherOption {
	return func(f *Fetcher) {
		if log != nil {
			f.log = log
		}
	}
}

// WithMetrics records unresolved images.
func WithMetrics(m *metrics.Metrics) FetcherOption {
	return func(f *Fetcher) { f.metrics = m }
}

// NewFetcher builds a fetcher. A nil client uses http.DefaultClient; timeout <= 0 uses ipfs.DefaultTimeout.
func NewFetcher(resolver *ipfs.Resolver, prober *ipfs.Prober, client *http.Client, timeout time.Duration, opts ...FetcherOption) *Fetcher {
	if client == nil {
		client = http.DefaultClient
	}
	if timeout <= 0 {
		timeout = ipfs.DefaultTimeout
	}
	f := &Fetcher{
		resolver: resolver,
		prober:   prober,
		client:   client,
		timeout:  timeout,
		log:      logging.Discard(),
	}
	for _, o := range opts {
		o(f)
	}
	return f
}

// Resolve tries, in order: the token URI as a direct image, the token URI as a metadata document
// with an image field, and image names synthesized from a base URI. tokenID may be nil, which
// disables synthesis. Failures are never returned as errors; an unresolved image is an empty ImageURL.
func (f *Fetcher) Resolve(ctx context.Context, tokenURI string, tokenID *big.Int) Resolution {
	tokenURI = strings.TrimSpace(tokenURI)
	var res Resolution

	if looksLikeImage(tokenURI) {
		if u, ok := f.probeRef(ctx, tokenURI); ok {
			res.ImageURL = u
			return res
		}
	}
	if ctx.Err() != nil {
		return f.unresolved(tokenURI, res)
	}

	md, docURL, err := f.fetchDocument(ctx, tokenURI)
	if err != nil {
		f.log.Debug("metadata fetch failed", "token_uri", tokenURI, "err", err)
	}
	res.Metadata = md

	if ref := md.ImageRef(); ref != "" {
		if u, ok := f.probeRef(ctx, resolveRelative(docURL, ref)); ok {
			res.ImageURL = u
			return res
		}
	}

	if tokenID != nil && ctx.Err() == nil {
		if u, ok := f.synthesize(ctx, md, tokenID); ok {
			res.ImageURL = u
			return res
		}
	}
	return f.unresolved(tokenURI, res)
}

// Fetch loads and parses the metadata document at ref, trying each gateway in order.
func (f *Fetcher) Fetch(ctx context.Context, ref string) (*Metadata, error) {
	md, _, err := f.fetchDocument(ctx, ref)
	return md, err
}

func (f *Fetcher) unresolved(tokenURI string, res Resolution) Resolution {
	f.metrics.Unresolved()
	f.log.Info("certificate image unresolved", "token_uri", tokenURI, "has_metadata", res.Metadata != nil)
	return res
}

func (f *Fetcher) probeRef(ctx context.Context, ref string) (string, bool) {
	candidates := f.resolver.Candidates(ref)
	if len(candidates) == 0 {
		return "", false
	}
	return f.prober.First(ctx, candidates)
}

func (f *Fetcher) synthesize(ctx context.Context, md *Metadata, tokenID *big.Int) (string, bool) {
	base := md.BaseURI()
	if base == "" && f.base != nil {
		b, err := f.base.BaseTokenURI(ctx)
		if err != nil {
			f.log.Debug("base token uri unavailable", "err", err)
		}
		base = strings.TrimSpace(b)
	}
	if base == "" {
		return "", false
	}

	id := tokenID.String()
	for _, ext := range SynthesizedExts {
		if ctx.Err() != nil {
			return "", false
		}
		ref := base + id + ext
		if ext == ".json" {
			doc, docURL, err := f.fetchDocument(ctx, ref)
			if err != nil {
				continue
			}
			if img := doc.ImageRef(); img != "" {
				if u, ok := f.probeRef(ctx, resolveRelative(docURL, img)); ok {
					return u, true
				}
			}
			continue
		}
		if u, ok := f.probeRef(ctx, ref); ok {
			return u, true
		}
	}
	return "", false
}

// fetchDocument returns the first candidate that downloads and parses. Per-candidate failures
// only move on to the next gateway; the last one is returned when all fail.
func (f *Fetcher) fetchDocument(ctx context.Context, ref string) (*Metadata, string, error) {
	candidates := f.resolver.DocumentCandidates(ref)
	if len(candidates) == 0 {
		return nil, "", fmt.Errorf("unresolvable reference %q", ref)
	}

	var lastErr error
	for _, u := range candidates {
		if err := ctx.Err(); err != nil {
			return nil, "", err
		}
		md, err := f.get(ctx, u)
		if err == nil {
			return md, u, nil
		}
		f.log.Debug("metadata candidate failed", "url", u, "err", err)
		lastErr = err
	}
	return nil, "", lastErr
}

func (f *Fetcher) get(ctx context.Context, u string) (*Metadata, error) {
	ctx, cancel := context.WithTimeout(ctx, f.timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Accept", "application/json")
	resp, err := f.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, fmt.Errorf("status %d", resp.StatusCode)
	}
	body, err := io.ReadAll(io.LimitReader(resp.Body, MaxDocumentSize+1))
	if err != nil {
		return nil, err
	}
	if len(body) > MaxDocumentSize {
		return nil, errors.New("metadata document too large")
	}
	return Parse(body)
}

// looksLikeImage reports whether ref should be probed directly as an image: any http(s) URL with
// an image extension, or a content reference that does not name a JSON document.
func looksLikeImage(ref string) bool {
	if ipfs.HasImageExt(ref) {
		return true
	}
	if !ipfs.IsContentRef(ref) {
		return false
	}
	return !strings.EqualFold(path.Ext(ref), ".json")
}

// resolveRelative resolves a scheme-less image reference against the document it came from.
func resolveRelative(docURL, ref string) string {
	if docURL == "" || ipfs.IsHTTP(ref) || ipfs.IsContentRef(ref) {
		return ref
	}
	base, err := url.Parse(docURL)
	if err != nil {
		return ref
	}
	rel, err := url.Parse(ref)
	if err != nil {
		return ref
	}
	return base.ResolveReference(rel).String()
}
