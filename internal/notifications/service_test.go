package notifications_test

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"tarchive/internal/notifications"
	"tarchive/internal/testsupport"
)

func TestNewServiceReturnsNoopWhenURLMissing(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	cfg.Notifications.WebhookURL = ""
	svc := notifications.NewService(cfg)
	if err := svc.NotifyQuarantine(context.Background(), "TAPE001", "stuck cartridge"); err != nil {
		t.Fatalf("expected noop notifier to return nil, got %v", err)
	}
}

func TestWebhookServiceFormatsPayloads(t *testing.T) {
	var captured struct {
		title    string
		tags     string
		priority string
		body     string
	}

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			t.Fatalf("unexpected method: %s", r.Method)
		}
		captured.title = r.Header.Get("Title")
		captured.tags = r.Header.Get("Tags")
		captured.priority = r.Header.Get("Priority")
		body, err := io.ReadAll(r.Body)
		if err != nil {
			t.Fatalf("read body: %v", err)
		}
		captured.body = string(body)
		_ = r.Body.Close()
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	cfg := testsupport.NewConfig(t)
	cfg.Notifications.WebhookURL = server.URL
	cfg.Notifications.RequestTimeout = 5
	cfg.Notifications.Quarantine = true

	svc := notifications.NewService(cfg)
	if err := svc.NotifyQuarantine(context.Background(), "TAPE001", "unload failed with sense 3B/0D"); err != nil {
		t.Fatalf("notification returned error: %v", err)
	}

	if captured.title != "Tarchive - Drive Quarantined" {
		t.Fatalf("unexpected title %q", captured.title)
	}
	if captured.tags != "tarchive,quarantine,alert" {
		t.Fatalf("unexpected tags %q", captured.tags)
	}
	if captured.priority != "high" {
		t.Fatalf("unexpected priority %q", captured.priority)
	}
	expected := "Tape drive quarantined with TAPE001 loaded: unload failed with sense 3B/0D\nOperator intervention required."
	if captured.body != expected {
		t.Fatalf("unexpected body %q", captured.body)
	}
}

func TestWebhookServiceHonorsEventGates(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		t.Fatalf("unexpected call for disabled event: %s", r.URL.String())
	}))
	defer server.Close()

	cfg := testsupport.NewConfig(t)
	cfg.Notifications.WebhookURL = server.URL
	cfg.Notifications.Verification = false
	cfg.Notifications.Quarantine = false
	cfg.Notifications.Inventory = false
	cfg.Notifications.Errors = false

	svc := notifications.NewService(cfg)
	ctx := context.Background()
	if err := svc.NotifyArchiveVerified(ctx, "/srv/a", "TAPE001", 1024); err != nil {
		t.Fatalf("expected gated event to be dropped, got %v", err)
	}
	if err := svc.NotifyQuarantine(ctx, "TAPE001", "reason"); err != nil {
		t.Fatalf("expected gated event to be dropped, got %v", err)
	}
	if err := svc.NotifyInventoryCompleted(ctx, 10, 1<<30); err != nil {
		t.Fatalf("expected gated event to be dropped, got %v", err)
	}
	if err := svc.NotifyTaskFailed(ctx, "archive", "/srv/a", errors.New("boom")); err != nil {
		t.Fatalf("expected gated event to be dropped, got %v", err)
	}
}

func TestWebhookServiceReportsHTTPFailure(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "nope", http.StatusBadGateway)
	}))
	defer server.Close()

	cfg := testsupport.NewConfig(t)
	cfg.Notifications.WebhookURL = server.URL

	svc := notifications.NewService(cfg)
	if err := svc.TestNotification(context.Background()); err == nil {
		t.Fatal("expected error for HTTP 502 response")
	}
}
