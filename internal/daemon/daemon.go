package daemon

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"path/filepath"
	"sync/atomic"
	"time"

	"github.com/gofrs/flock"
	"golang.org/x/sync/errgroup"

	"taxwire/internal/acks"
	"taxwire/internal/actions"
	"taxwire/internal/batcher"
	"taxwire/internal/batchstore"
	"taxwire/internal/config"
	"taxwire/internal/filing"
	"taxwire/internal/inflight"
	"taxwire/internal/logging"
	"taxwire/internal/metrics"
	"taxwire/internal/notifications"
	"taxwire/internal/objectstore"
	"taxwire/internal/submission"
)

// Daemon owns every long-running component of the pipeline.
type Daemon struct {
	cfg      *config.Config
	logger   *slog.Logger
	store    *batchstore.Store
	ackStore *acks.Store
	queue    *actions.Queue
	gate     *filing.OfflineGate
	inflight *inflight.Set
	metrics  *metrics.Metrics
	notifier notifications.Service

	assembler   *batcher.Assembler
	processor   *batcher.Processor
	errorPoller *batcher.ErrorPoller
	ackPoller   *acks.Poller
	handler     *actions.Handler
	api         *apiServer

	lockPath  string
	lock      *flock.Flock
	running   atomic.Bool
	startedAt time.Time
	cancel    context.CancelFunc
	group     *errgroup.Group
}

// Status represents daemon runtime information for CLI and API surfaces.
type Status struct {
	Running       bool
	Offline       bool
	StartedAt     time.Time
	Queue         actions.QueueStats
	InFlight      int
	PendingAcks   int
	CompletedAcks map[acks.Status]int
	AckDBPath     string
	LockFilePath  string
}

// New constructs a daemon with all collaborators wired. The returned
// daemon owns the acknowledgement store and closes it on Close.
func New(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*Daemon, error) {
	if cfg == nil || logger == nil {
		return nil, errors.New("daemon requires config and logger")
	}
	if err := cfg.EnsureDirectories(); err != nil {
		return nil, fmt.Errorf("ensure directories: %w", err)
	}

	objects, err := objectstore.Open(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("open object store: %w", err)
	}
	store := batchstore.New(objects, cfg.Batching.ApplicationID, logger)

	ackStore, err := acks.Open(cfg)
	if err != nil {
		return nil, fmt.Errorf("open acknowledgement store: %w", err)
	}

	client, err := filing.NewHTTPClient(cfg)
	if err != nil {
		_ = ackStore.Close()
		return nil, fmt.Errorf("build filing client: %w", err)
	}

	queue := actions.NewQueue()
	gate := filing.NewOfflineGate()
	inProgress := inflight.NewSet()
	m := metrics.New()
	notifier := notifications.NewService(cfg)

	processor := batcher.NewProcessor(store, queue, gate, inProgress, logger)
	d := &Daemon{
		cfg:         cfg,
		logger:      logging.NewComponentLogger(logger, "daemon"),
		store:       store,
		ackStore:    ackStore,
		queue:       queue,
		gate:        gate,
		inflight:    inProgress,
		metrics:     m,
		notifier:    notifier,
		assembler:   batcher.NewAssembler(cfg, store, processor, m, logger),
		processor:   processor,
		errorPoller: batcher.NewErrorPoller(store, queue, gate, inProgress, logger),
		ackPoller:   acks.NewPoller(cfg, ackStore, client, gate, notifier, m, logger),
		handler: actions.NewHandler(actions.HandlerDeps{
			Queue:    queue,
			Store:    store,
			AckStore: ackStore,
			Client:   client,
			Gate:     gate,
			Inflight: inProgress,
			Notifier: notifier,
			Metrics:  m,
			Logger:   logger,
			PodID:    cfg.Acknowledgements.PodID,
		}),
		lockPath: filepath.Join(cfg.Paths.DataDir, "taxwire.lock"),
	}
	d.lock = flock.New(d.lockPath)
	d.api = newAPIServer(cfg, d, logger)
	return d, nil
}

// Start acquires the instance lock, recovers batches left over from a
// previous run, and launches the workers and tickers.
func (d *Daemon) Start(ctx context.Context) error {
	if d.running.Load() {
		return errors.New("daemon already running")
	}

	ok, err := d.lock.TryLock()
	if err != nil {
		return fmt.Errorf("acquire lock: %w", err)
	}
	if !ok {
		return errors.New("another taxwire instance is already running")
	}

	runCtx, cancel := context.WithCancel(ctx)
	d.cancel = cancel

	// Batches durably appended before a crash were never dispatched;
	// pick all of them up before accepting new work.
	controlYear := batchstore.ControlYear(time.Now())
	if err := d.processor.ProcessOldBatches(runCtx, controlYear, d.assembler.CurrentBatchID()); err != nil {
		d.logger.Error("startup batch recovery failed", logging.Error(err))
	}

	if err := d.api.start(runCtx); err != nil {
		cancel()
		_ = d.lock.Unlock()
		return err
	}

	group, groupCtx := errgroup.WithContext(runCtx)
	d.group = group

	for i := 0; i < d.cfg.Workflow.HandlerWorkers; i++ {
		group.Go(func() error {
			return d.handler.Run(groupCtx)
		})
	}
	group.Go(func() error {
		return d.runTicker(groupCtx, time.Duration(d.cfg.Batching.AssemblyCheckInterval)*time.Second, d.assemblyTick)
	})
	group.Go(func() error {
		return d.runTicker(groupCtx, time.Duration(d.cfg.Workflow.ErrorPollInterval)*time.Second, d.errorPoller.Poll)
	})
	group.Go(func() error {
		return d.runTicker(groupCtx, time.Duration(d.cfg.Acknowledgements.PollInterval)*time.Second, d.ackPoller.Poll)
	})

	d.startedAt = time.Now()
	d.running.Store(true)
	d.logger.Info("taxwire daemon started",
		logging.String("lock", d.lockPath),
		logging.Int("handler_workers", d.cfg.Workflow.HandlerWorkers))
	return nil
}

// Stop halts background processing and releases the instance lock.
func (d *Daemon) Stop() {
	if !d.running.Load() {
		return
	}
	if d.cancel != nil {
		d.cancel()
		d.cancel = nil
	}
	if d.group != nil {
		_ = d.group.Wait()
		d.group = nil
	}
	d.api.stop()
	if err := d.lock.Unlock(); err != nil {
		d.logger.Warn("failed to release daemon lock", logging.Error(err))
	}
	d.running.Store(false)
	d.logger.Info("taxwire daemon stopped")
}

// Close stops the daemon and releases held resources.
func (d *Daemon) Close() error {
	d.Stop()
	return d.ackStore.Close()
}

// AddSubmission feeds one submission into the assembler. Exposed to the
// intake API.
func (d *Daemon) AddSubmission(ctx context.Context, sub *submission.Submission) (batchstore.Batch, error) {
	return d.assembler.AddSubmission(ctx, sub)
}

// APIAddr reports the status API's bound address, or "" when the API
// is disabled or not started.
func (d *Daemon) APIAddr() string {
	return d.api.addr()
}

// Status reports a snapshot of the pipeline.
func (d *Daemon) Status(ctx context.Context) Status {
	status := Status{
		Running:      d.running.Load(),
		Offline:      d.gate.Enabled(),
		StartedAt:    d.startedAt,
		Queue:        d.queue.Stats(),
		InFlight:     d.inflight.Len(),
		AckDBPath:    d.ackStore.Path(),
		LockFilePath: d.lockPath,
	}
	pending, completed, err := d.ackStore.Stats(ctx, d.cfg.Acknowledgements.PodID)
	if err != nil {
		d.logger.Warn("acknowledgement stats unavailable", logging.Error(err))
		return status
	}
	status.PendingAcks = pending
	status.CompletedAcks = completed
	return status
}

// assemblyTick ages out the writing batch and drains any batches left
// in storage while the pipeline was offline.
func (d *Daemon) assemblyTick(ctx context.Context) error {
	d.assembler.CheckTimeout(ctx)
	controlYear := batchstore.ControlYear(time.Now())
	if err := d.processor.ProcessOldBatches(ctx, controlYear, d.assembler.CurrentBatchID()); err != nil {
		d.logger.Warn("old batch scan failed", logging.Error(err))
	}
	return nil
}

// runTicker drives a poll function at the given cadence until the
// context ends. Poll errors are logged, never fatal: the next tick
// retries.
func (d *Daemon) runTicker(ctx context.Context, interval time.Duration, poll func(context.Context) error) error {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			if err := poll(ctx); err != nil {
				d.logger.Warn("poll cycle failed", logging.Error(err))
			}
		}
	}
}
