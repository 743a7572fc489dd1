package notifications

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"taxwire/internal/config"
)

const userAgent = "taxwire/0.1.0"

// FailureCategory classifies a FAILED confirmation for downstream consumers.
type FailureCategory string

const (
	// CategoryTransmission covers failures while shipping the bundle.
	CategoryTransmission FailureCategory = "TRANSMISSION"
	// CategoryToolkit covers data-attributable failures of the external toolkit.
	CategoryToolkit FailureCategory = "TOOLKIT"
)

// Service defines the notification surface exposed to pipeline components.
// One message is published per submission on batch success or failure, and
// one per submission id on acknowledgement resolution.
type Service interface {
	NotifySubmitted(ctx context.Context, submissionID, receipt string) error
	NotifySubmissionFailed(ctx context.Context, submissionID string, category FailureCategory, detail string) error
	NotifyAccepted(ctx context.Context, submissionID string) error
	NotifyRejected(ctx context.Context, submissionID string, codes []string) error
	NotifyOfflineMode(ctx context.Context, reason string) error
	NotifyOnline(ctx context.Context) error
	TestNotification(ctx context.Context) error
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

func (n *ntfyService) NotifySubmitted(ctx context.Context, submissionID, receipt string) error {
	message := fmt.Sprintf("Submitted: %s", submissionID)
	if receipt = strings.TrimSpace(receipt); receipt != "" {
		message = fmt.Sprintf("%s\nReceipt: %s", message, receipt)
	}
	return n.send(ctx, payload{
		title:   "taxwire - Submitted",
		message: message,
		tags:    []string{"taxwire", "submission", "submitted"},
	})
}

func (n *ntfyService) NotifySubmissionFailed(ctx context.Context, submissionID string, category FailureCategory, detail string) error {
	message := fmt.Sprintf("Failed: %s (%s)", submissionID, category)
	if detail = strings.TrimSpace(detail); detail != "" {
		message = fmt.Sprintf("%s\n%s", message, detail)
	}
	return n.send(ctx, payload{
		title:    "taxwire - Submission Failed",
		message:  message,
		tags:     []string{"taxwire", "submission", "failed"},
		priority: "high",
	})
}

func (n *ntfyService) NotifyAccepted(ctx context.Context, submissionID string) error {
	return n.send(ctx, payload{
		title:   "taxwire - Accepted",
		message: fmt.Sprintf("Accepted by filing service: %s", submissionID),
		tags:    []string{"taxwire", "acknowledgement", "accepted"},
	})
}

func (n *ntfyService) NotifyRejected(ctx context.Context, submissionID string, codes []string) error {
	message := fmt.Sprintf("Rejected by filing service: %s", submissionID)
	if len(codes) > 0 {
		message = fmt.Sprintf("%s\nCodes: %s", message, strings.Join(codes, ", "))
	}
	return n.send(ctx, payload{
		title:    "taxwire - Rejected",
		message:  message,
		tags:     []string{"taxwire", "acknowledgement", "rejected"},
		priority: "high",
	})
}

func (n *ntfyService) NotifyOfflineMode(ctx context.Context, reason string) error {
	message := "Dispatch suspended: filing service connectivity failed"
	if reason = strings.TrimSpace(reason); reason != "" {
		message = fmt.Sprintf("%s\n%s", message, reason)
	}
	return n.send(ctx, payload{
		title:    "taxwire - Offline Mode",
		message:  message,
		tags:     []string{"taxwire", "offline", "alert"},
		priority: "high",
	})
}

func (n *ntfyService) NotifyOnline(ctx context.Context) error {
	return n.send(ctx, payload{
		title:   "taxwire - Online",
		message: "Filing service connectivity restored, dispatch resumed",
		tags:    []string{"taxwire", "online"},
	})
}

func (n *ntfyService) TestNotification(ctx context.Context) error {
	return n.send(ctx, payload{
		title:    "taxwire - Test",
		message:  "Notification system test",
		tags:     []string{"taxwire", "test"},
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
	if data.priority != "" && data.priority != "default" {
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

func (noopService) NotifySubmitted(context.Context, string, string) error { return nil }
func (noopService) NotifySubmissionFailed(context.Context, string, FailureCategory, string) error {
	return nil
}
func (noopService) NotifyAccepted(context.Context, string) error           { return nil }
func (noopService) NotifyRejected(context.Context, string, []string) error { return nil }
func (noopService) NotifyOfflineMode(context.Context, string) error        { return nil }
func (noopService) NotifyOnline(context.Context) error                     { return nil }
func (noopService) TestNotification(context.Context) error                 { return nil }
