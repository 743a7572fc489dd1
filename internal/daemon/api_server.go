package daemon

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"strings"
	"time"

	"taxwire/internal/config"
	"taxwire/internal/logging"
	"taxwire/internal/submission"
)

type apiServer struct {
	bind   string
	logger *slog.Logger
	daemon *Daemon

	listener net.Listener
	server   *http.Server
}

func newAPIServer(cfg *config.Config, d *Daemon, logger *slog.Logger) *apiServer {
	bind := strings.TrimSpace(cfg.Paths.APIBind)
	if bind == "" {
		return nil
	}

	srv := &apiServer{
		bind:   bind,
		logger: logging.NewComponentLogger(logger, "api"),
		daemon: d,
	}

	mux := http.NewServeMux()
	mux.HandleFunc("/api/status", srv.handleStatus)
	mux.HandleFunc("/api/submissions", srv.handleSubmissions)
	mux.HandleFunc("/healthz", srv.handleHealth)
	mux.Handle("/metrics", d.metrics.Handler())

	srv.server = &http.Server{
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       60 * time.Second,
	}
	return srv
}

func (s *apiServer) start(ctx context.Context) error {
	if s == nil {
		return nil
	}
	listener, err := net.Listen("tcp", s.bind)
	if err != nil {
		return fmt.Errorf("api listen: %w", err)
	}
	s.listener = listener

	go func() {
		if err := s.server.Serve(listener); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.Error("api server error", logging.Error(err))
		}
	}()

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = s.server.Shutdown(shutdownCtx)
	}()

	s.logger.Info("api server listening",
		logging.String("address", listener.Addr().String()))
	return nil
}

func (s *apiServer) stop() {
	if s == nil {
		return
	}
	if s.server != nil {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = s.server.Shutdown(shutdownCtx)
	}
	if s.listener != nil {
		_ = s.listener.Close()
		s.listener = nil
	}
}

// addr reports the bound listen address, for tests using port 0.
func (s *apiServer) addr() string {
	if s == nil || s.listener == nil {
		return ""
	}
	return s.listener.Addr().String()
}

type statusResponse struct {
	Running       bool           `json:"running"`
	Offline       bool           `json:"offline"`
	StartedAt     string         `json:"started_at,omitempty"`
	QueuePending  int            `json:"queue_pending"`
	QueueActive   int            `json:"queue_in_progress"`
	InFlight      int            `json:"batches_in_flight"`
	PendingAcks   int            `json:"pending_acknowledgements"`
	CompletedAcks map[string]int `json:"completed_acknowledgements,omitempty"`
}

func (s *apiServer) handleStatus(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		s.writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	status := s.daemon.Status(r.Context())
	resp := statusResponse{
		Running:      status.Running,
		Offline:      status.Offline,
		QueuePending: status.Queue.Pending,
		QueueActive:  status.Queue.InProgress,
		InFlight:     status.InFlight,
		PendingAcks:  status.PendingAcks,
	}
	if !status.StartedAt.IsZero() {
		resp.StartedAt = status.StartedAt.UTC().Format(time.RFC3339)
	}
	if len(status.CompletedAcks) > 0 {
		resp.CompletedAcks = make(map[string]int, len(status.CompletedAcks))
		for ackStatus, count := range status.CompletedAcks {
			resp.CompletedAcks[string(ackStatus)] = count
		}
	}
	s.writeJSON(w, http.StatusOK, resp)
}

type submissionRequest struct {
	ID           string `json:"id"`
	OwnerID      string `json:"owner_id"`
	Manifest     string `json:"manifest"`
	Body         string `json:"body"`
	Context      string `json:"context"`
	TaxIDType    string `json:"tax_id_type"`
	RemoteOrigin string `json:"remote_origin"`
}

type submissionResponse struct {
	SubmissionID string `json:"submission_id"`
	Batch        string `json:"batch"`
}

func (s *apiServer) handleSubmissions(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		s.writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}

	var req submissionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	sub := &submission.Submission{
		ID:           req.ID,
		OwnerID:      req.OwnerID,
		Manifest:     []byte(req.Manifest),
		Body:         []byte(req.Body),
		Context:      []byte(req.Context),
		TaxIDType:    submission.TaxIdentifierType(req.TaxIDType),
		RemoteOrigin: req.RemoteOrigin,
		SignedAt:     time.Now().UTC(),
	}
	if err := sub.Validate(); err != nil {
		s.writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	// Duplicate acknowledgement records would mean the submission was
	// already transmitted once; refuse the re-submission.
	if completed, err := s.daemon.ackStore.Completed(r.Context(), sub.ID); err == nil && completed != nil {
		s.writeError(w, http.StatusConflict, "submission already resolved")
		return
	}

	batch, err := s.daemon.AddSubmission(r.Context(), sub)
	if err != nil {
		s.logger.Error("submission intake failed",
			logging.String(logging.FieldSubmissionID, sub.ID),
			logging.Error(err))
		s.writeError(w, http.StatusInternalServerError, "submission intake failed")
		return
	}
	s.writeJSON(w, http.StatusAccepted, submissionResponse{
		SubmissionID: sub.ID,
		Batch:        batch.String(),
	})
}

func (s *apiServer) handleHealth(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		s.writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *apiServer) writeJSON(w http.ResponseWriter, code int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		s.logger.Debug("write response failed", logging.Error(err))
	}
}

func (s *apiServer) writeError(w http.ResponseWriter, code int, message string) {
	s.writeJSON(w, code, map[string]string{"error": message})
}
