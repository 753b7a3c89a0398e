package keeper

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/lanternfi/lantern-keeper/internal/domain"
	"github.com/lanternfi/lantern-keeper/internal/ports"
)

// Config holds the engine's timing and limits.
type Config struct {
	MaxRetries          int
	RetryDelay          time.Duration
	PollInterval        time.Duration
	StepPollInterval    time.Duration
	DispatchInterval    time.Duration
	BatchSize           int
	ConfirmationTimeout time.Duration
	EventPageSize       int
}

// DefaultConfig returns the production defaults.
func DefaultConfig() Config {
	return Config{
		MaxRetries:          3,
		RetryDelay:          5 * time.Second,
		PollInterval:        10 * time.Second,
		StepPollInterval:    20 * time.Second,
		DispatchInterval:    5 * time.Second,
		BatchSize:           5,
		ConfirmationTimeout: 60 * time.Second,
		EventPageSize:       50,
	}
}

// Keeper is the background engine: it discovers plans needing execution,
// dispatches bounded-concurrency batches through the orchestrator, and
// applies retry bookkeeping to the outcomes.
type Keeper struct {
	cfg       Config
	queue     *Queue
	retry     *RetryController
	executor  *Executor
	discovery *Discovery
	notifier  ports.Notifier
}

// New wires the full engine from its injected collaborators.
func New(
	cfg Config,
	ledger ports.LedgerClient,
	venue ports.VenueClient,
	store ports.Storage,
	notifier ports.Notifier,
) *Keeper {
	queue := NewQueue()
	retry := NewRetryController(cfg.MaxRetries, cfg.RetryDelay, queue)
	trigger := NewTriggerEvaluator(venue)
	executor := NewExecutor(ledger, venue, store, trigger, retry, queue, cfg.ConfirmationTimeout)
	discovery := NewDiscovery(ledger, venue, store, queue,
		cfg.PollInterval, cfg.StepPollInterval, cfg.EventPageSize)

	return &Keeper{
		cfg:       cfg,
		queue:     queue,
		retry:     retry,
		executor:  executor,
		discovery: discovery,
		notifier:  notifier,
	}
}

// Queue exposes the execution queue (used by tests and the API).
func (k *Keeper) Queue() *Queue { return k.queue }

// Run starts discovery and the dispatch loop, blocking until the context
// is cancelled. Nothing in here crashes the process: every failure funnels
// into status transitions or retry bookkeeping.
func (k *Keeper) Run(ctx context.Context) error {
	slog.Info("keeper starting",
		"dispatch_interval", k.cfg.DispatchInterval,
		"poll_interval", k.cfg.PollInterval,
		"batch_size", k.cfg.BatchSize,
		"max_retries", k.cfg.MaxRetries,
	)

	k.discovery.Start(ctx)

	ticker := time.NewTicker(k.cfg.DispatchInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			slog.Info("keeper stopped")
			return nil
		case <-ticker.C:
			k.dispatchOnce(ctx)
		}
	}
}

// dispatchOnce drains one batch and runs the orchestrator concurrently
// across it. The batch completes before the next tick is taken, so a plan
// id can never be in two running batches at once: the queue dedupes while
// waiting, and dispatch is serialized by this loop.
func (k *Keeper) dispatchOnce(ctx context.Context) {
	batch := k.queue.DequeueBatch(k.cfg.BatchSize)
	mtxQueueDepth.Set(float64(k.queue.Len()))
	if len(batch) == 0 {
		return
	}

	slog.Info("processing batch", "size", len(batch), "remaining", k.queue.Len())

	type outcome struct {
		planID  string
		trade   *domain.Trade
		handled bool
	}
	results := make([]outcome, len(batch))

	var wg sync.WaitGroup
	for i, planID := range batch {
		wg.Add(1)
		go func(i int, planID string) {
			defer wg.Done()
			trade, handled := k.executor.Execute(ctx, planID)
			results[i] = outcome{planID: planID, trade: trade, handled: handled}
		}(i, planID)
	}
	wg.Wait()

	var trades []domain.Trade
	for _, res := range results {
		if res.trade != nil {
			trades = append(trades, *res.trade)
		}
		if !res.handled && k.retry.HasBudget(res.planID) {
			k.retry.ScheduleRequeue(ctx, res.planID)
		}
	}

	if len(trades) > 0 && k.notifier != nil {
		if err := k.notifier.Notify(ctx, trades); err != nil {
			slog.Warn("notifier error", "err", err)
		}
	}
}
