package filing

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"
	"time"

	"taxwire/internal/config"
)

// HTTPDoer describes the HTTP client used by the filing service adapter.
type HTTPDoer interface {
	Do(req *http.Request) (*http.Response, error)
}

// HTTPClient is the REST-backed adapter to the external filing service. It
// holds the session token issued by Login; Submit and Acknowledgements send
// it, Logout invalidates it.
type HTTPClient struct {
	baseURL  string
	username string
	password string
	client   HTTPDoer

	mu    sync.Mutex
	token string
}

// NewHTTPClient builds an adapter from the filing configuration section.
func NewHTTPClient(cfg *config.Config) (*HTTPClient, error) {
	endpoint := strings.TrimRight(strings.TrimSpace(cfg.Filing.Endpoint), "/")
	if endpoint == "" {
		return nil, Wrap(ErrConfiguration, "filing", "new client", "filing.endpoint must be set", nil)
	}
	timeout := time.Duration(cfg.Filing.RequestTimeout) * time.Second
	if timeout <= 0 {
		timeout = 120 * time.Second
	}
	return &HTTPClient{
		baseURL:  endpoint,
		username: cfg.Filing.Username,
		password: cfg.Filing.Password,
		client:   &http.Client{Timeout: timeout},
	}, nil
}

// NewHTTPClientWithDoer builds an adapter with an injected HTTP client, used
// in tests.
func NewHTTPClientWithDoer(baseURL, username, password string, client HTTPDoer) *HTTPClient {
	return &HTTPClient{
		baseURL:  strings.TrimRight(strings.TrimSpace(baseURL), "/"),
		username: username,
		password: password,
		client:   client,
	}
}

func (c *HTTPClient) Login(ctx context.Context) error {
	body, err := json.Marshal(map[string]string{
		"username": c.username,
		"password": c.password,
	})
	if err != nil {
		return Wrap(ErrTransient, "filing", "login", "encode credentials", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/sessions", bytes.NewReader(body))
	if err != nil {
		return Wrap(ErrTransient, "filing", "login", "build request", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.client.Do(req)
	if err != nil {
		return Wrap(ErrTransient, "filing", "login", "send request", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode >= http.StatusMultipleChoices {
		return c.statusError("login", resp)
	}

	var session struct {
		Token string `json:"token"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&session); err != nil {
		return Wrap(ErrTransient, "filing", "login", "decode session", err)
	}
	if session.Token == "" {
		return Wrap(ErrTransient, "filing", "login", "service returned empty session token", nil)
	}

	c.mu.Lock()
	c.token = session.Token
	c.mu.Unlock()
	return nil
}

func (c *HTTPClient) Logout(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodDelete, c.baseURL+"/sessions/current", nil)
	if err != nil {
		return Wrap(ErrTransient, "filing", "logout", "build request", err)
	}
	c.authorize(req)

	resp, err := c.client.Do(req)
	if err != nil {
		return Wrap(ErrTransient, "filing", "logout", "send request", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode >= http.StatusMultipleChoices {
		return c.statusError("logout", resp)
	}

	c.mu.Lock()
	c.token = ""
	c.mu.Unlock()
	return nil
}

func (c *HTTPClient) Submit(ctx context.Context, bundle *Bundle) (*SubmitResult, error) {
	if bundle == nil || len(bundle.Payload) == 0 {
		return nil, Wrap(ErrToolkit, "filing", "submit", "bundle is empty", nil)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/bundles", bytes.NewReader(bundle.Payload))
	if err != nil {
		return nil, Wrap(ErrTransient, "filing", "submit", "build request", err)
	}
	req.Header.Set("Content-Type", "application/xml")
	c.authorize(req)

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, Wrap(ErrTransient, "filing", "submit", "send request", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode >= http.StatusMultipleChoices {
		return nil, c.statusError("submit", resp)
	}

	var result struct {
		Receipts map[string]string `json:"receipts"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return nil, Wrap(ErrTransient, "filing", "submit", "decode result", err)
	}
	return &SubmitResult{Receipts: result.Receipts}, nil
}

func (c *HTTPClient) Acknowledgements(ctx context.Context, submissionIDs []string) ([]Acknowledgement, error) {
	body, err := json.Marshal(map[string][]string{"submission_ids": submissionIDs})
	if err != nil {
		return nil, Wrap(ErrTransient, "filing", "acknowledgements", "encode ids", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/acknowledgements", bytes.NewReader(body))
	if err != nil {
		return nil, Wrap(ErrTransient, "filing", "acknowledgements", "build request", err)
	}
	req.Header.Set("Content-Type", "application/json")
	c.authorize(req)

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, Wrap(ErrTransient, "filing", "acknowledgements", "send request", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode >= http.StatusMultipleChoices {
		return nil, c.statusError("acknowledgements", resp)
	}

	var payload struct {
		Acknowledgements []struct {
			SubmissionID string `json:"submission_id"`
			Accepted     bool   `json:"accepted"`
			Errors       []struct {
				Code    string `json:"code"`
				Message string `json:"message"`
			} `json:"errors"`
		} `json:"acknowledgements"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
		return nil, Wrap(ErrTransient, "filing", "acknowledgements", "decode result", err)
	}

	acks := make([]Acknowledgement, 0, len(payload.Acknowledgements))
	for _, entry := range payload.Acknowledgements {
		ack := Acknowledgement{SubmissionID: entry.SubmissionID, Accepted: entry.Accepted}
		for _, rejection := range entry.Errors {
			ack.Errors = append(ack.Errors, RejectionError{Code: rejection.Code, Message: rejection.Message})
		}
		acks = append(acks, ack)
	}
	return acks, nil
}

func (c *HTTPClient) authorize(req *http.Request) {
	c.mu.Lock()
	token := c.token
	c.mu.Unlock()
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
}

// statusError classifies an HTTP failure. 4xx responses are toolkit errors
// attributable to the transmitted data; everything else is transient.
func (c *HTTPClient) statusError(operation string, resp *http.Response) error {
	body, _ := io.ReadAll(io.LimitReader(resp.Body, 2048))
	detail := strings.TrimSpace(string(body))
	marker := ErrTransient
	if resp.StatusCode >= http.StatusBadRequest && resp.StatusCode < http.StatusInternalServerError {
		marker = ErrToolkit
	}
	return Wrap(marker, "filing", operation, fmt.Sprintf("service returned %d: %s", resp.StatusCode, detail), nil)
}
