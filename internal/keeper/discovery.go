package keeper

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/lanternfi/lantern-keeper/internal/domain"
	"github.com/lanternfi/lantern-keeper/internal/ports"
)

// Cursor keys, one per poll channel. Never deleted.
const (
	cursorKeyPlanEvents = "plan_events_cursor"
	cursorKeyStepEvents = "step_events_cursor"
)

// Discovery feeds plan ids into the execution queue from two channels:
// a live push subscription (primary) and cursor-based polling of the
// ledger's event log (backstop of record). Both are idempotent producers —
// the queue dedupes, so double discovery is a no-op by construction.
type Discovery struct {
	ledger ports.LedgerClient
	venue  ports.VenueClient
	store  ports.Storage
	queue  *Queue

	pollInterval     time.Duration
	stepPollInterval time.Duration
	pageSize         int
}

// NewDiscovery wires the discovery channels.
func NewDiscovery(
	ledger ports.LedgerClient,
	venue ports.VenueClient,
	store ports.Storage,
	queue *Queue,
	pollInterval, stepPollInterval time.Duration,
	pageSize int,
) *Discovery {
	return &Discovery{
		ledger:           ledger,
		venue:            venue,
		store:            store,
		queue:            queue,
		pollInterval:     pollInterval,
		stepPollInterval: stepPollInterval,
		pageSize:         pageSize,
	}
}

// Start opens the push subscriptions and launches both poll loops.
// Subscription failure is logged and tolerated: polling alone is a correct
// (if slower) discovery channel, so the process never aborts here.
func (d *Discovery) Start(ctx context.Context) {
	if _, err := d.ledger.Subscribe(ctx, domain.EventPlanCreated, func(ev domain.LedgerEvent) {
		d.handlePlanCreated(ctx, ev)
	}); err != nil {
		slog.Warn("plan subscription failed, falling back to polling only", "err", err)
	}

	if _, err := d.ledger.Subscribe(ctx, domain.EventStepExecuted, func(ev domain.LedgerEvent) {
		d.handleStepExecuted(ctx, ev)
	}); err != nil {
		slog.Warn("step subscription failed, falling back to polling only", "err", err)
	}

	go d.pollLoop(ctx, "plans", d.pollInterval, d.pollPlans)
	go d.pollLoop(ctx, "steps", d.stepPollInterval, d.pollSteps)
}

// pollLoop ejecuta fn en cada tick hasta que el contexto se cancela.
// Un fallo de poll se loguea y se reintenta al siguiente tick con el
// mismo cursor — nunca tumba el proceso.
func (d *Discovery) pollLoop(ctx context.Context, name string, interval time.Duration, fn func(context.Context) error) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			slog.Debug("poll loop stopped", "channel", name)
			return
		case <-ticker.C:
			if err := fn(ctx); err != nil {
				slog.Error("poll failed", "channel", name, "err", err)
			}
		}
	}
}

// handlePlanCreated processes one PlanCreated notification from the push
// channel: cache the plan projection if unknown, then enqueue.
func (d *Discovery) handlePlanCreated(ctx context.Context, ev domain.LedgerEvent) {
	if ev.PlanID == "" {
		return
	}
	log := slog.With("plan", ev.PlanID, "channel", "push")

	_, err := d.store.GetPlan(ctx, ev.PlanID)
	switch {
	case errors.Is(err, ports.ErrNotFound):
		if err := d.cachePlan(ctx, ev.PlanID); err != nil {
			log.Warn("caching discovered plan failed", "err", err)
			// aún así lo encolamos: el executor refresca la proyección
		}
	case err != nil:
		log.Warn("plan lookup failed", "err", err)
	}

	if d.queue.Enqueue(ev.PlanID) {
		mtxDiscovered.WithLabelValues("push").Inc()
		mtxQueueDepth.Set(float64(d.queue.Len()))
		log.Info("plan enqueued", "queue_len", d.queue.Len())
	}
}

// handleStepExecuted reconciles queue state with an execution confirmation:
// once a plan has no steps left, it no longer belongs in the queue. A
// transient fetch failure se devuelve al caller — el poll no debe avanzar
// el cursor por encima de un evento sin reconciliar.
func (d *Discovery) handleStepExecuted(ctx context.Context, ev domain.LedgerEvent) error {
	if ev.PlanID == "" {
		return nil
	}
	log := slog.With("plan", ev.PlanID, "step", ev.StepIndex)
	log.Debug("step executed", "amount_in", ev.AmountIn, "amount_out", ev.AmountOut)

	plan, err := d.ledger.GetPlanState(ctx, ev.PlanID)
	if errors.Is(err, ports.ErrNotFound) {
		d.queue.Remove(ev.PlanID)
		return nil
	}
	if err != nil {
		log.Warn("plan fetch failed on step confirmation", "err", err)
		return err
	}

	if plan.Finished() {
		if d.queue.Remove(ev.PlanID) {
			log.Info("plan completed, removed from queue")
		}
		if err := d.store.UpdatePlanStatus(ctx, ev.PlanID, domain.StatusCompleted); err != nil {
			log.Warn("update status failed", "err", err)
		}
		mtxQueueDepth.Set(float64(d.queue.Len()))
	}
	return nil
}

// cachePlan fetches authoritative state and persists the local projection.
func (d *Discovery) cachePlan(ctx context.Context, planID string) error {
	plan, err := d.ledger.GetPlanState(ctx, planID)
	if err != nil {
		return err
	}
	return d.store.UpsertPlan(ctx, buildProjection(ctx, d.venue, plan))
}

// pollPlans scans the PlanCreated log from the saved cursor.
//
// Cursor discipline: events are processed oldest-first, and the cursor only
// advances after the whole page is processed. A crash mid-page therefore
// re-processes, never loses — and re-processing is a no-op because the
// enqueue is idempotent.
func (d *Discovery) pollPlans(ctx context.Context) error {
	cursor, err := d.store.LoadCursor(ctx, cursorKeyPlanEvents)
	if err != nil {
		return err
	}

	events, err := d.ledger.QueryEventsSince(ctx, domain.EventPlanCreated, cursor, d.pageSize)
	if err != nil {
		return err
	}
	if len(events) == 0 {
		return nil
	}

	for _, ev := range events {
		if ev.PlanID == "" {
			continue
		}
		if _, err := d.store.GetPlan(ctx, ev.PlanID); errors.Is(err, ports.ErrNotFound) {
			if cerr := d.cachePlan(ctx, ev.PlanID); cerr != nil {
				slog.Warn("caching polled plan failed", "plan", ev.PlanID, "err", cerr)
			}
		}
		if d.queue.Enqueue(ev.PlanID) {
			mtxDiscovered.WithLabelValues("poll").Inc()
			slog.Info("plan enqueued", "plan", ev.PlanID, "channel", "poll")
		}
	}
	mtxQueueDepth.Set(float64(d.queue.Len()))

	// Solo después de procesar toda la página
	newest := events[len(events)-1].Cursor
	return d.store.SaveCursor(ctx, cursorKeyPlanEvents, newest)
}

// pollSteps applies the same cursor discipline to StepExecuted events,
// purely to reconcile the queue when the push channel missed a confirmation.
func (d *Discovery) pollSteps(ctx context.Context) error {
	cursor, err := d.store.LoadCursor(ctx, cursorKeyStepEvents)
	if err != nil {
		return err
	}

	events, err := d.ledger.QueryEventsSince(ctx, domain.EventStepExecuted, cursor, d.pageSize)
	if err != nil {
		return err
	}
	if len(events) == 0 {
		return nil
	}

	// El cursor solo avanza hasta el último evento reconciliado: si uno
	// falla, cortamos ahí y el siguiente tick reintenta desde ese punto.
	var newest domain.EventCursor
	handled := 0
	for _, ev := range events {
		if err := d.handleStepExecuted(ctx, ev); err != nil {
			break
		}
		newest = ev.Cursor
		handled++
	}
	if handled == 0 {
		return nil
	}
	return d.store.SaveCursor(ctx, cursorKeyStepEvents, newest)
}
