package metrics

import (
	"io"
	"net/http/httptest"
	"strings"
	"testing"
)

func TestNilMetricsAreNoops(t *testing.T) {
	var m *Metrics
	m.Verification("verified")
	m.TokenNotFound()
	m.Probe(false)
	m.Unresolved()
	m.Minted()
	m.Errors()
}

func TestInitIsIdempotentAndExported(t *testing.T) {
	m := Init()
	if Init() != m {
		t.Fatalf("Init should return the same instance")
	}
	m.Verification("mismatch")
	m.Probe(false)
	m.Minted()

	rec := httptest.NewRecorder()
	Handler().ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))
	body, _ := io.ReadAll(rec.Body)
	out := string(body)

	for _, name := range []string{
		`certiblock_verifications_total{outcome="mismatch"}`,
		"certiblock_gateway_probe_failures_total",
		"certiblock_mints_total",
	} {
		if !strings.Contains(out, name) {
			t.Errorf("metrics output missing %s", name)
		}
	}
}
