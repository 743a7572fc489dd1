package filing_test

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"taxwire/internal/filing"
)

func newFilingServer(t *testing.T) (*httptest.Server, *filing.HTTPClient) {
	t.Helper()
	mux := http.NewServeMux()
	mux.HandleFunc("/sessions", func(w http.ResponseWriter, r *http.Request) {
		var creds map[string]string
		if err := json.NewDecoder(r.Body).Decode(&creds); err != nil || creds["username"] != "alma" {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		_ = json.NewEncoder(w).Encode(map[string]string{"token": "tok-1"})
	})
	mux.HandleFunc("/sessions/current", func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Authorization") != "Bearer tok-1" {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		w.WriteHeader(http.StatusNoContent)
	})
	mux.HandleFunc("/bundles", func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Authorization") != "Bearer tok-1" {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		_ = json.NewEncoder(w).Encode(map[string]any{
			"receipts": map[string]string{"sub-1": "TT-9001"},
		})
	})
	mux.HandleFunc("/acknowledgements", func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(map[string]any{
			"acknowledgements": []map[string]any{
				{"submission_id": "sub-1", "accepted": true},
				{
					"submission_id": "sub-2",
					"accepted":      false,
					"errors": []map[string]string{
						{"code": "F-231", "message": "invalid owner identifier"},
					},
				},
			},
		})
	})

	server := httptest.NewServer(mux)
	t.Cleanup(server.Close)
	client := filing.NewHTTPClientWithDoer(server.URL, "alma", "secret", server.Client())
	return server, client
}

func TestLoginSubmitLogoutSession(t *testing.T) {
	_, client := newFilingServer(t)
	ctx := context.Background()

	if err := client.Login(ctx); err != nil {
		t.Fatalf("login: %v", err)
	}
	result, err := client.Submit(ctx, &filing.Bundle{
		SubmissionIDs: []string{"sub-1"},
		Payload:       []byte("<TransferBundle/>"),
	})
	if err != nil {
		t.Fatalf("submit: %v", err)
	}
	if result.Receipts["sub-1"] != "TT-9001" {
		t.Fatalf("unexpected receipts: %+v", result.Receipts)
	}
	if err := client.Logout(ctx); err != nil {
		t.Fatalf("logout: %v", err)
	}
}

func TestLoginFailureIsTransient(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	t.Cleanup(server.Close)
	client := filing.NewHTTPClientWithDoer(server.URL, "alma", "secret", server.Client())

	err := client.Login(context.Background())
	if !errors.Is(err, filing.ErrTransient) {
		t.Fatalf("expected transient error on 502, got %v", err)
	}
}

func TestSubmitClientErrorIsToolkit(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusUnprocessableEntity)
	}))
	t.Cleanup(server.Close)
	client := filing.NewHTTPClientWithDoer(server.URL, "alma", "secret", server.Client())

	_, err := client.Submit(context.Background(), &filing.Bundle{
		SubmissionIDs: []string{"sub-1"},
		Payload:       []byte("<TransferBundle/>"),
	})
	if !errors.Is(err, filing.ErrToolkit) {
		t.Fatalf("expected toolkit error on 422, got %v", err)
	}
}

func TestSubmitRejectsEmptyBundle(t *testing.T) {
	client := filing.NewHTTPClientWithDoer("http://127.0.0.1:9", "alma", "secret", http.DefaultClient)
	_, err := client.Submit(context.Background(), &filing.Bundle{})
	if !errors.Is(err, filing.ErrToolkit) {
		t.Fatalf("expected toolkit error for empty bundle, got %v", err)
	}
}

func TestAcknowledgementsDecodesRejections(t *testing.T) {
	_, client := newFilingServer(t)

	acksList, err := client.Acknowledgements(context.Background(), []string{"sub-1", "sub-2"})
	if err != nil {
		t.Fatalf("acknowledgements: %v", err)
	}
	if len(acksList) != 2 {
		t.Fatalf("expected 2 acknowledgements, got %d", len(acksList))
	}
	if !acksList[0].Accepted || acksList[0].SubmissionID != "sub-1" {
		t.Fatalf("unexpected first acknowledgement: %+v", acksList[0])
	}
	second := acksList[1]
	if second.Accepted || len(second.Errors) != 1 || second.Errors[0].Code != "F-231" {
		t.Fatalf("unexpected second acknowledgement: %+v", second)
	}
}
