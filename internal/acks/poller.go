package acks

import (
	"context"
	"fmt"
	"log/slog"

	"taxwire/internal/config"
	"taxwire/internal/filing"
	"taxwire/internal/logging"
	"taxwire/internal/metrics"
	"taxwire/internal/notifications"
)

// Poller resolves pending acknowledgements against the filing system.
type Poller struct {
	store     *Store
	client    filing.Client
	gate      *filing.OfflineGate
	notifier  notifications.Service
	metrics   *metrics.Metrics
	logger    *slog.Logger
	podID     string
	batchSize int
}

// NewPoller wires an acknowledgement poller.
func NewPoller(cfg *config.Config, store *Store, client filing.Client, gate *filing.OfflineGate, notifier notifications.Service, m *metrics.Metrics, logger *slog.Logger) *Poller {
	return &Poller{
		store:     store,
		client:    client,
		gate:      gate,
		notifier:  notifier,
		metrics:   m,
		logger:    logging.NewComponentLogger(logger, "ack-poller"),
		podID:     cfg.Acknowledgements.PodID,
		batchSize: cfg.Acknowledgements.LookupBatchSize,
	}
}

// Poll runs one resolution cycle. The poller is never gated on the
// offline flag: its login doubles as the reconnect probe, so a cycle
// runs even with nothing pending while the pipeline is offline, and a
// successful login clears the flag. A transient failure aborts the
// cycle; pending rows stay untouched and the next tick retries them.
func (p *Poller) Poll(ctx context.Context) error {
	pending, err := p.store.Pending(ctx, p.podID)
	if err != nil {
		return fmt.Errorf("load pending acknowledgements: %w", err)
	}
	if len(pending) == 0 && !p.gate.Enabled() {
		return nil
	}

	if err := p.client.Login(ctx); err != nil {
		p.goOffline(ctx, "login failed during acknowledgement poll")
		return fmt.Errorf("login for acknowledgement poll: %w", err)
	}
	if p.gate.Enabled() {
		p.gate.Clear()
		p.metrics.OfflineMode.Set(0)
		p.logger.Info("offline mode cleared after successful login")
		p.notify(ctx, p.notifier.NotifyOnline)
	}
	defer func() {
		if err := p.client.Logout(ctx); err != nil {
			p.goOffline(ctx, "logout failed during acknowledgement poll")
			p.logger.Error("logout after acknowledgement poll failed", logging.Error(err))
		}
	}()

	if len(pending) == 0 {
		return nil
	}

	ids := make([]string, len(pending))
	for i, row := range pending {
		ids[i] = row.SubmissionID
	}

	for start := 0; start < len(ids); start += p.batchSize {
		end := start + p.batchSize
		if end > len(ids) {
			end = len(ids)
		}
		if err := p.resolveChunk(ctx, ids[start:end]); err != nil {
			return err
		}
	}
	return nil
}

func (p *Poller) resolveChunk(ctx context.Context, ids []string) error {
	result, err := Resolve(ctx, ids, p.client.Acknowledgements)
	if err != nil {
		return fmt.Errorf("resolve acknowledgements: %w", err)
	}

	for _, ack := range result.Acknowledged {
		if err := p.recordAcknowledged(ctx, ack); err != nil {
			return err
		}
	}
	for _, id := range result.Poisoned {
		if err := p.recordPoisoned(ctx, id); err != nil {
			return err
		}
	}
	return nil
}

func (p *Poller) recordAcknowledged(ctx context.Context, ack filing.Acknowledgement) error {
	if ack.Accepted {
		if err := p.store.Complete(ctx, ack.SubmissionID, StatusAccepted, nil); err != nil {
			return fmt.Errorf("record accepted acknowledgement: %w", err)
		}
		p.metrics.AcksResolved.WithLabelValues(string(StatusAccepted)).Inc()
		p.notify(ctx, func(ctx context.Context) error {
			return p.notifier.NotifyAccepted(ctx, ack.SubmissionID)
		})
		p.logger.Info("submission accepted",
			logging.String(logging.FieldSubmissionID, ack.SubmissionID))
		return nil
	}

	details := make([]RejectionDetail, len(ack.Errors))
	codes := make([]string, len(ack.Errors))
	for i, rejection := range ack.Errors {
		details[i] = RejectionDetail{Code: rejection.Code, Message: rejection.Message}
		codes[i] = rejection.Code
	}
	if err := p.store.Complete(ctx, ack.SubmissionID, StatusRejected, details); err != nil {
		return fmt.Errorf("record rejected acknowledgement: %w", err)
	}
	p.metrics.AcksResolved.WithLabelValues(string(StatusRejected)).Inc()
	p.notify(ctx, func(ctx context.Context) error {
		return p.notifier.NotifyRejected(ctx, ack.SubmissionID, codes)
	})
	p.logger.Warn("submission rejected",
		logging.String(logging.FieldSubmissionID, ack.SubmissionID),
		logging.Any("rejection_codes", codes))
	return nil
}

func (p *Poller) recordPoisoned(ctx context.Context, submissionID string) error {
	if err := p.store.Complete(ctx, submissionID, StatusToolkitError, nil); err != nil {
		return fmt.Errorf("record poisoned acknowledgement: %w", err)
	}
	p.metrics.AcksResolved.WithLabelValues(string(StatusToolkitError)).Inc()
	p.metrics.ToolkitErrors.Inc()
	p.notify(ctx, func(ctx context.Context) error {
		return p.notifier.NotifySubmissionFailed(ctx, submissionID, notifications.CategoryToolkit,
			"acknowledgement lookup fails whenever this submission is included")
	})
	p.logger.Error("submission poisoned acknowledgement lookups",
		logging.String(logging.FieldSubmissionID, submissionID))
	return nil
}

// goOffline trips the gate once; repeated failures while already
// offline do not re-notify on every tick.
func (p *Poller) goOffline(ctx context.Context, reason string) {
	if p.gate.Enabled() {
		return
	}
	p.gate.Enable()
	p.metrics.OfflineMode.Set(1)
	p.logger.Warn("offline mode enabled", logging.String("reason", reason))
	p.notify(ctx, func(ctx context.Context) error {
		return p.notifier.NotifyOfflineMode(ctx, reason)
	})
}

func (p *Poller) notify(ctx context.Context, send func(context.Context) error) {
	if err := send(ctx); err != nil {
		p.logger.Debug("notification failed", logging.Error(err))
	}
}
