package sink

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/devblac/certiblock/internal/config"
)

func captureServer(t *testing.T, got *string) *httptest.Server {
	t.Helper()
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		var msg map[string]string
		_ = json.Unmarshal(body, &msg)
		*got = msg["text"]
		w.WriteHeader(http.StatusOK)
	}))
	t.Cleanup(server.Close)
	return server
}

func TestSlackSenderRendersTemplate(t *testing.T) {
	var got string
	server := captureServer(t, &got)

	sender, err := NewSlackSender(server.URL, "CERT {{.TokenID}} {{.Course}} {{short_addr .Owner}}")
	if err != nil {
		t.Fatalf("sender: %v", err)
	}

	err = sender.Send(context.Background(), MintPayload{
		TokenID: "7", Course: "NFT", Owner: "0x1234567890abcdef",
	})
	if err != nil {
		t.Fatalf("send: %v", err)
	}

	if got != "CERT 7 NFT 0x1234...cdef" {
		t.Fatalf("unexpected payload: %q", got)
	}
}

func TestDefaultTemplateWithoutTokenID(t *testing.T) {
	var got string
	server := captureServer(t, &got)

	sender, err := NewWebhookSender(server.URL, "", "", nil)
	if err != nil {
		t.Fatalf("sender: %v", err)
	}
	if err := sender.Send(context.Background(), MintPayload{TxHash: "0xfeed", Owner: "0xaa"}); err != nil {
		t.Fatalf("send: %v", err)
	}
	if !strings.Contains(got, "(id unavailable)") || !strings.Contains(got, "0xfeed") {
		t.Fatalf("unexpected payload: %q", got)
	}
}

func TestWebhookStatusFailure(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer server.Close()

	sender, err := NewWebhookSender(server.URL, http.MethodPost, "msg", nil)
	if err != nil {
		t.Fatalf("sender: %v", err)
	}
	err = sender.Send(context.Background(), MintPayload{TokenID: "1"})
	if err == nil {
		t.Fatalf("expected error on 502")
	}
}

func TestFromConfig(t *testing.T) {
	senders, err := FromConfig([]config.Sink{
		{ID: "a", Type: "slack", WebhookURL: "http://hooks"},
		{ID: "b", Type: "webhook", URL: "http://hook", Method: "PUT"},
		{ID: "c", Type: "unknown"},
	})
	if err != nil {
		t.Fatalf("from config: %v", err)
	}
	if len(senders) != 2 {
		t.Fatalf("expected 2 senders, got %d", len(senders))
	}

	if _, err := FromConfig([]config.Sink{{ID: "bad", Type: "slack"}}); err == nil {
		t.Fatalf("expected missing webhook url to fail")
	}
}
