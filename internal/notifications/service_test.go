package notifications_test

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"taxwire/internal/config"
	"taxwire/internal/notifications"
)

func TestNewServiceReturnsNoopWhenTopicMissing(t *testing.T) {
	cfg := config.Default()
	cfg.Notifications.NtfyTopic = ""
	svc := notifications.NewService(&cfg)
	if err := svc.NotifySubmitted(context.Background(), "sub-1", "receipt-1"); err != nil {
		t.Fatalf("expected noop notifier to return nil, got %v", err)
	}
}

func TestNtfyServiceFormatsMessages(t *testing.T) {
	type captured struct {
		title    string
		tags     string
		priority string
		body     string
	}
	var got captured

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		got = captured{
			title:    r.Header.Get("Title"),
			tags:     r.Header.Get("Tags"),
			priority: r.Header.Get("Priority"),
			body:     string(body),
		}
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	cfg := config.Default()
	cfg.Notifications.NtfyTopic = server.URL
	svc := notifications.NewService(&cfg)
	ctx := context.Background()

	if err := svc.NotifySubmitted(ctx, "sub-42", "TT-9001"); err != nil {
		t.Fatalf("NotifySubmitted: %v", err)
	}
	if got.title != "taxwire - Submitted" {
		t.Fatalf("unexpected title: %q", got.title)
	}
	if got.body != "Submitted: sub-42\nReceipt: TT-9001" {
		t.Fatalf("unexpected body: %q", got.body)
	}

	if err := svc.NotifyRejected(ctx, "sub-42", []string{"610001", "610002"}); err != nil {
		t.Fatalf("NotifyRejected: %v", err)
	}
	if got.priority != "high" {
		t.Fatalf("expected high priority for rejection, got %q", got.priority)
	}
	if got.body != "Rejected by filing service: sub-42\nCodes: 610001, 610002" {
		t.Fatalf("unexpected body: %q", got.body)
	}

	if err := svc.NotifySubmissionFailed(ctx, "sub-43", notifications.CategoryTransmission, "submit failed"); err != nil {
		t.Fatalf("NotifySubmissionFailed: %v", err)
	}
	if got.tags != "taxwire,submission,failed" {
		t.Fatalf("unexpected tags: %q", got.tags)
	}
}

func TestNtfyServiceSurfacesServerErrors(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "topic over quota", http.StatusTooManyRequests)
	}))
	defer server.Close()

	cfg := config.Default()
	cfg.Notifications.NtfyTopic = server.URL
	svc := notifications.NewService(&cfg)
	if err := svc.NotifyOnline(context.Background()); err == nil {
		t.Fatal("expected error from non-2xx response")
	}
}
