package ipfs

import (
	"context"
	"io"
	"log/slog"
	"mime"
	"net/http"
	"net/url"
	"path"
	"strings"
	"time"

	"github.com/devblac/certiblock/internal/logging"
	"github.com/devblac/certiblock/internal/metrics"
)

// DefaultTimeout bounds a single probe or fetch when the caller configures none.
const DefaultTimeout = 8 * time.Second

// sniffLen is how much of a GET body is read to detect an unlabeled image.
const sniffLen = 512

var imageExts = map[string]struct{}{
	".png":  {},
	".jpg":  {},
	".jpeg": {},
	".gif":  {},
	".webp": {},
	".svg":  {},
	".avif": {},
	".bmp":  {},
}

// Prober checks whether a URL serves an image. Each probe is one attempt with a bounded
// timeout; failures of any kind are reported as false.
type Prober struct {
	client   *http.Client
	timeout  time.Duration
	parallel bool
	log      *slog.Logger
	metrics  *metrics.Metrics
}

// Option configures a Prober.
type Option func(*Prober)

// WithParallel probes all candidates at once while still reporting the highest-priority success.
func WithParallel(parallel bool) Option {
	return func(p *Prober) { p.parallel = parallel }
}

// WithLogger sets the logger used for per-probe debug records.
func WithLogger(log *slog.Logger) Option {
	return func(p *Prober) {
		if log != nil {
			p.log = log
		}
	}
}

// WithMetrics records probe outcomes.
func WithMetrics(m *metrics.Metrics) Option {
	return func(p *Prober) { p.metrics = m }
}

// NewProber builds a prober. A nil client uses http.DefaultClient; timeout <= 0 uses DefaultTimeout.
func NewProber(client *http.Client, timeout time.Duration, opts ...Option) *Prober {
	if client == nil {
		client = http.DefaultClient
	}
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	p := &Prober{client: client, timeout: timeout, log: logging.Discard()}
	for _, o := range opts {
		o(p)
	}
	return p
}

// Probe reports whether u serves an image. A HEAD request is tried first; when the gateway
// rejects HEAD or the request fails, a GET is classified by content type, sniffed bytes, or
// file extension.
func (p *Prober) Probe(ctx context.Context, u string) bool {
	ctx, cancel := context.WithTimeout(ctx, p.timeout)
	defer cancel()

	ok, fallback := p.head(ctx, u)
	if fallback && ctx.Err() == nil {
		ok = p.get(ctx, u)
	}
	p.metrics.Probe(ok)
	p.log.Debug("gateway probe", "url", u, "ok", ok)
	return ok
}

// First returns the first candidate, in order, that probes successfully.
func (p *Prober) First(ctx context.Context, candidates []string) (string, bool) {
	if p.parallel && len(candidates) > 1 {
		return p.firstParallel(ctx, candidates)
	}
	for _, c := range candidates {
		if ctx.Err() != nil {
			return "", false
		}
		if p.Probe(ctx, c) {
			return c, true
		}
	}
	return "", false
}

// firstParallel starts every probe at once but decides strictly in candidate order, waiting on
// a pending higher-priority probe before accepting a lower-priority success.
func (p *Prober) firstParallel(ctx context.Context, candidates []string) (string, bool) {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	results := make([]chan bool, len(candidates))
	for i, c := range candidates {
		ch := make(chan bool, 1)
		results[i] = ch
		go func(u string) { ch <- p.Probe(ctx, u) }(c)
	}
	for i, ch := range results {
		select {
		case ok := <-ch:
			if ok {
				return candidates[i], true
			}
		case <-ctx.Done():
			return "", false
		}
	}
	return "", false
}

func (p *Prober) head(ctx context.Context, u string) (ok bool, fallback bool) {
	req, err := http.NewRequestWithContext(ctx, http.MethodHead, u, nil)
	if err != nil {
		return false, false
	}
	resp, err := p.client.Do(req)
	if err != nil {
		return false, true
	}
	resp.Body.Close()

	switch resp.StatusCode {
	case http.StatusMethodNotAllowed, http.StatusNotImplemented, http.StatusForbidden:
		return false, true
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return false, false
	}
	ct := resp.Header.Get("Content-Type")
	if IsImageContentType(ct) || HasImageExt(u) {
		return true, false
	}
	// Unlabeled content is worth a GET so the body can be sniffed.
	return false, isUnlabeled(ct)
}

func (p *Prober) get(ctx context.Context, u string) bool {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return false
	}
	resp, err := p.client.Do(req)
	if err != nil {
		return false
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return false
	}
	ct := resp.Header.Get("Content-Type")
	if IsImageContentType(ct) || HasImageExt(u) {
		return true
	}
	if !isUnlabeled(ct) {
		return false
	}
	head, err := io.ReadAll(io.LimitReader(resp.Body, sniffLen))
	if err != nil || len(head) == 0 {
		return false
	}
	return IsImageContentType(http.DetectContentType(head))
}

// IsImageContentType reports whether a Content-Type header names an image media type.
func IsImageContentType(ct string) bool {
	if ct == "" {
		return false
	}
	mt, _, err := mime.ParseMediaType(ct)
	if err != nil {
		return false
	}
	return strings.HasPrefix(mt, "image/")
}

// HasImageExt reports whether the path of u ends in a recognized image extension.
func HasImageExt(u string) bool {
	p := u
	if parsed, err := url.Parse(u); err == nil && parsed.Path != "" {
		p = parsed.Path
	}
	_, ok := imageExts[strings.ToLower(path.Ext(p))]
	return ok
}

func isUnlabeled(ct string) bool {
	if ct == "" {
		return true
	}
	mt, _, err := mime.ParseMediaType(ct)
	return err == nil && mt == "application/octet-stream"
}
