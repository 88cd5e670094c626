package notifications

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"pdfile/internal/config"
)

const userAgent = "pdfile/0.1.0"

// Event identifies an operator-facing occurrence.
type Event string

const (
	EventDaemonStarted Event = "daemon_started"
	EventDaemonStopped Event = "daemon_stopped"
	EventJobFailed     Event = "job_failed"
	EventPreflight     Event = "preflight_failed"
	EventTest          Event = "test"
)

// Payload carries event details keyed by field name.
type Payload map[string]any

// Service publishes events to operators.
type Service interface {
	Publish(ctx context.Context, event Event, payload Payload) error
}

// NewService builds a notification service backed by ntfy when configured.
// When no ntfy topic is configured, a noop implementation is returned.
func NewService(cfg *config.Config) Service {
	topic := strings.TrimSpace(cfg.Notifications.NtfyTopic)
	if topic == "" {
		return noopService{}
	}

	timeout := time.Duration(cfg.Notifications.RequestTimeout) * time.Second
	if timeout <= 0 {
		timeout = 10 * time.Second
	}

	return &ntfyService{
		endpoint:    topic,
		client:      &http.Client{Timeout: timeout},
		daemonStart: cfg.Notifications.DaemonStart,
		jobFailures: cfg.Notifications.JobFailures,
	}
}

type message struct {
	title    string
	body     string
	tags     []string
	priority string
}

type ntfyService struct {
	endpoint    string
	client      *http.Client
	daemonStart bool
	jobFailures bool
}

// Publish formats and sends event. Events switched off in configuration are
// dropped silently.
func (n *ntfyService) Publish(ctx context.Context, event Event, payload Payload) error {
	msg, ok := n.format(event, payload)
	if !ok {
		return nil
	}
	return n.send(ctx, msg)
}

func (n *ntfyService) format(event Event, payload Payload) (message, bool) {
	switch event {
	case EventDaemonStarted:
		if !n.daemonStart {
			return message{}, false
		}
		body := "pdfile is running"
		if transports := payloadString(payload, "transports"); transports != "" {
			body += " (" + transports + ")"
		}
		return message{
			title: "pdfile - Started",
			body:  body,
			tags:  []string{"pdfile", "daemon", "started"},
		}, true
	case EventDaemonStopped:
		if !n.daemonStart {
			return message{}, false
		}
		return message{
			title: "pdfile - Stopped",
			body:  "pdfile shut down",
			tags:  []string{"pdfile", "daemon", "stopped"},
		}, true
	case EventJobFailed:
		if !n.jobFailures {
			return message{}, false
		}
		op := payloadString(payload, "operation")
		if op == "" {
			op = "job"
		}
		var body strings.Builder
		fmt.Fprintf(&body, "%s failed", op)
		if user := payloadString(payload, "user_id"); user != "" {
			fmt.Fprintf(&body, " for user %s", user)
		}
		if files := payloadString(payload, "files"); files != "" {
			fmt.Fprintf(&body, " (%s files)", files)
		}
		if errText := payloadString(payload, "error"); errText != "" {
			body.WriteString(": ")
			body.WriteString(errText)
		}
		return message{
			title:    "pdfile - Job Failed",
			body:     body.String(),
			tags:     []string{"pdfile", "job", "failed"},
			priority: "high",
		}, true
	case EventPreflight:
		return message{
			title:    "pdfile - Preflight",
			body:     "Failed checks: " + payloadString(payload, "checks"),
			tags:     []string{"pdfile", "preflight", "warning"},
			priority: "high",
		}, true
	case EventTest:
		return message{
			title:    "pdfile - Test",
			body:     "Notification system test",
			tags:     []string{"pdfile", "test"},
			priority: "low",
		}, true
	default:
		return message{}, false
	}
}

func payloadString(payload Payload, key string) string {
	if payload == nil {
		return ""
	}
	switch v := payload[key].(type) {
	case nil:
		return ""
	case string:
		return strings.TrimSpace(v)
	case error:
		return strings.TrimSpace(v.Error())
	default:
		return strings.TrimSpace(fmt.Sprint(v))
	}
}

func (n *ntfyService) send(ctx context.Context, msg message) error {
	if n == nil || n.client == nil {
		return nil
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, n.endpoint, strings.NewReader(msg.body))
	if err != nil {
		return fmt.Errorf("build ntfy request: %w", err)
	}
	req.Header.Set("User-Agent", userAgent)
	req.Header.Set("Content-Type", "text/plain; charset=utf-8")
	if msg.title != "" {
		req.Header.Set("Title", msg.title)
	}
	if len(msg.tags) > 0 {
		req.Header.Set("Tags", strings.Join(msg.tags, ","))
	}
	if msg.priority != "" && msg.priority != "default" {
		req.Header.Set("Priority", msg.priority)
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

func (noopService) Publish(context.Context, Event, Payload) error { return nil }
