package notifications

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/dustin/go-humanize"

	"tarchive/internal/config"
)

const userAgent = "tarchived/1.0"

// Service defines the notification surface exposed to workflow components.
type Service interface {
	NotifyArchiveVerified(ctx context.Context, folder, tapeID string, bytes int64) error
	NotifyVerificationFailed(ctx context.Context, folder, tapeID string, mismatches int) error
	NotifyRestoreCompleted(ctx context.Context, folder, destination string) error
	NotifyQuarantine(ctx context.Context, tapeID, reason string) error
	NotifyInventoryCompleted(ctx context.Context, folders int, bytes int64) error
	NotifyTaskFailed(ctx context.Context, kind, target string, err error) error
	TestNotification(ctx context.Context) error
}

// NewService builds a webhook-backed notification service. When no webhook
// URL is configured, a noop implementation is returned.
func NewService(cfg *config.Config) Service {
	endpoint := strings.TrimSpace(cfg.Notifications.WebhookURL)
	if endpoint == "" {
		return noopService{}
	}

	timeout := time.Duration(cfg.Notifications.RequestTimeout) * time.Second
	if timeout <= 0 {
		timeout = 10 * time.Second
	}

	return &webhookService{
		endpoint: endpoint,
		client:   &http.Client{Timeout: timeout},
		events:   cfg.Notifications,
	}
}

type payload struct {
	title    string
	message  string
	tags     []string
	priority string
}

type webhookService struct {
	endpoint string
	client   *http.Client
	events   config.Notifications
}

func (w *webhookService) NotifyArchiveVerified(ctx context.Context, folder, tapeID string, bytes int64) error {
	if !w.events.Verification {
		return nil
	}
	data := payload{
		title: "Tarchive - Archive Verified",
		message: fmt.Sprintf("%s written to %s and verified (%s)",
			folder, tapeID, humanize.IBytes(uint64(bytes))),
		tags: []string{"tarchive", "archive", "verified"},
	}
	return w.send(ctx, data)
}

func (w *webhookService) NotifyVerificationFailed(ctx context.Context, folder, tapeID string, mismatches int) error {
	if !w.events.Verification {
		return nil
	}
	data := payload{
		title: "Tarchive - Verification FAILED",
		message: fmt.Sprintf("%s on %s diverges from source: %d mismatched files. Source data kept.",
			folder, tapeID, mismatches),
		tags:     []string{"tarchive", "archive", "verification-failed"},
		priority: "high",
	}
	return w.send(ctx, data)
}

func (w *webhookService) NotifyRestoreCompleted(ctx context.Context, folder, destination string) error {
	data := payload{
		title:   "Tarchive - Restore Complete",
		message: fmt.Sprintf("%s restored to %s", folder, destination),
		tags:    []string{"tarchive", "restore", "completed"},
	}
	return w.send(ctx, data)
}

func (w *webhookService) NotifyQuarantine(ctx context.Context, tapeID, reason string) error {
	if !w.events.Quarantine {
		return nil
	}
	message := fmt.Sprintf("Tape drive quarantined: %s", reason)
	if tapeID != "" {
		message = fmt.Sprintf("Tape drive quarantined with %s loaded: %s", tapeID, reason)
	}
	data := payload{
		title:    "Tarchive - Drive Quarantined",
		message:  message + "\nOperator intervention required.",
		tags:     []string{"tarchive", "quarantine", "alert"},
		priority: "high",
	}
	return w.send(ctx, data)
}

func (w *webhookService) NotifyInventoryCompleted(ctx context.Context, folders int, bytes int64) error {
	if !w.events.Inventory {
		return nil
	}
	data := payload{
		title: "Tarchive - Inventory Complete",
		message: fmt.Sprintf("Scanned %d candidate folders totaling %s",
			folders, humanize.IBytes(uint64(bytes))),
		tags: []string{"tarchive", "inventory", "completed"},
	}
	return w.send(ctx, data)
}

func (w *webhookService) NotifyTaskFailed(ctx context.Context, kind, target string, err error) error {
	if !w.events.Errors {
		return nil
	}
	var builder strings.Builder
	builder.WriteString("Task failed: ")
	builder.WriteString(kind)
	if target = strings.TrimSpace(target); target != "" {
		builder.WriteString(" ")
		builder.WriteString(target)
	}
	builder.WriteString(": ")
	if err != nil {
		builder.WriteString(strings.TrimSpace(err.Error()))
	} else {
		builder.WriteString("unknown")
	}
	data := payload{
		title:    "Tarchive - Task Failed",
		message:  builder.String(),
		tags:     []string{"tarchive", "error", "alert"},
		priority: "high",
	}
	return w.send(ctx, data)
}

func (w *webhookService) TestNotification(ctx context.Context) error {
	data := payload{
		title:    "Tarchive - Test",
		message:  "Notification system test",
		tags:     []string{"tarchive", "test"},
		priority: "low",
	}
	return w.send(ctx, data)
}

func (w *webhookService) send(ctx context.Context, data payload) error {
	if w == nil || w.client == nil {
		return nil
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, w.endpoint, strings.NewReader(data.message))
	if err != nil {
		return fmt.Errorf("build webhook request: %w", err)
	}
	req.Header.Set("User-Agent", userAgent)
	req.Header.Set("Content-Type", "text/plain; charset=utf-8")
	if data.title != "" {
		req.Header.Set("Title", data.title)
	}
	if len(data.tags) > 0 {
		req.Header.Set("Tags", strings.Join(data.tags, ","))
	}
	if data.priority != "" && data.priority != "default" {
		req.Header.Set("Priority", data.priority)
	}

	resp, err := w.client.Do(req)
	if err != nil {
		return fmt.Errorf("send webhook notification: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 2048))
		return fmt.Errorf("webhook returned %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))
	}
	_, _ = io.Copy(io.Discard, resp.Body)
	return nil
}

type noopService struct{}

func (noopService) NotifyArchiveVerified(context.Context, string, string, int64) error    { return nil }
func (noopService) NotifyVerificationFailed(context.Context, string, string, int) error   { return nil }
func (noopService) NotifyRestoreCompleted(context.Context, string, string) error          { return nil }
func (noopService) NotifyQuarantine(context.Context, string, string) error                { return nil }
func (noopService) NotifyInventoryCompleted(context.Context, int, int64) error            { return nil }
func (noopService) NotifyTaskFailed(context.Context, string, string, error) error         { return nil }
func (noopService) TestNotification(context.Context) error                                { return nil }
