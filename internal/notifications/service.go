package notifications

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"curator/internal/config"
)

const userAgent = "Curator/0.1.0"

// Service is the notification surface exposed to pipeline components.
type Service interface {
	NotifyRecordComplete(ctx context.Context, asset, businessKey, description string) error
	NotifyRecordParked(ctx context.Context, asset, businessKey, note string) error
	NotifyDaemonStarted(ctx context.Context) error
	NotifyDaemonStopped(ctx context.Context) error
	TestNotification(ctx context.Context) error
}

// NewService builds a notifier backed by ntfy when a topic is configured,
// and a no-op otherwise.
func NewService(cfg config.Notifications) Service {
	topic := strings.TrimSpace(cfg.NtfyTopic)
	if topic == "" {
		return noopService{}
	}

	timeout := time.Duration(cfg.NtfyRequestTimeout) * time.Second
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &ntfyService{
		endpoint: topic,
		client:   &http.Client{Timeout: timeout},
	}
}

type payload struct {
	title    string
	message  string
	tags     []string
	priority string
}

type ntfyService struct {
	endpoint string
	client   *http.Client
}

func (n *ntfyService) NotifyRecordComplete(ctx context.Context, asset, businessKey, description string) error {
	message := fmt.Sprintf("Cataloged %s record %s", asset, businessKey)
	if description = strings.TrimSpace(description); description != "" {
		message = fmt.Sprintf("%s\n%s", message, description)
	}
	return n.send(ctx, payload{
		title:   "Curator - Record Complete",
		message: message,
		tags:    []string{"curator", asset, "completed"},
	})
}

func (n *ntfyService) NotifyRecordParked(ctx context.Context, asset, businessKey, note string) error {
	message := fmt.Sprintf("Record %s (%s) needs attention", businessKey, asset)
	if note = strings.TrimSpace(note); note != "" {
		message = fmt.Sprintf("%s\n%s", message, note)
	}
	return n.send(ctx, payload{
		title:    "Curator - Record Parked",
		message:  message,
		tags:     []string{"curator", asset, "parked"},
		priority: "high",
	})
}

func (n *ntfyService) NotifyDaemonStarted(ctx context.Context) error {
	return n.send(ctx, payload{
		title:   "Curator - Daemon Started",
		message: "curatord is polling for records",
		tags:    []string{"curator", "daemon", "started"},
	})
}

func (n *ntfyService) NotifyDaemonStopped(ctx context.Context) error {
	return n.send(ctx, payload{
		title:   "Curator - Daemon Stopped",
		message: "curatord shut down",
		tags:    []string{"curator", "daemon", "stopped"},
	})
}

func (n *ntfyService) TestNotification(ctx context.Context) error {
	return n.send(ctx, payload{
		title:    "Curator - Test",
		message:  "Notification system test",
		tags:     []string{"curator", "test"},
		priority: "low",
	})
}

func (n *ntfyService) send(ctx context.Context, data payload) error {
	if n == nil || n.client == nil {
		return nil
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, n.endpoint, strings.NewReader(data.message))
	if err != nil {
		return fmt.Errorf("build ntfy request: %w", err)
	}
	req.Header.Set("User-Agent", userAgent)
	req.Header.Set("Content-Type", "text/plain; charset=utf-8")
	if data.title != "" {
		req.Header.Set("Title", data.title)
	}
	if len(data.tags) > 0 {
		req.Header.Set("Tags", strings.Join(data.tags, ","))
	}
	if data.priority != "" {
		req.Header.Set("Priority", data.priority)
	}

	resp, err := n.client.Do(req)
	if err != nil {
		return fmt.Errorf("send ntfy notification: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 2048))
		return fmt.Errorf("ntfy returned %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))
	}
	_, _ = io.Copy(io.Discard, resp.Body)
	return nil
}

type noopService struct{}

func (noopService) NotifyRecordComplete(context.Context, string, string, string) error { return nil }
func (noopService) NotifyRecordParked(context.Context, string, string, string) error  { return nil }
func (noopService) NotifyDaemonStarted(context.Context) error                         { return nil }
func (noopService) NotifyDaemonStopped(context.Context) error                         { return nil }
func (noopService) TestNotification(context.Context) error                            { return nil }
