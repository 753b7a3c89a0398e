package keeper

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/lanternfi/lantern-keeper/internal/domain"
	"github.com/lanternfi/lantern-keeper/internal/ports"
)

// Executor drives one plan through a full execution attempt: authoritative
// state fetch, trigger check, on-ledger step advance, off-ledger swap, and
// idempotent trade recording.
//
// Known limitation, preserved on purpose: once the advance transaction
// confirms, the on-ledger step has moved forward no matter what happens to
// the swap. A failed swap is recorded as a zero-output trade instead of
// aborting — forward progress wins over swap atomicity here.
type Executor struct {
	ledger  ports.LedgerClient
	venue   ports.VenueClient
	store   ports.Storage
	trigger *TriggerEvaluator
	retry   *RetryController
	queue   *Queue

	confirmTimeout time.Duration
}

// NewExecutor wires the orchestrator with its collaborators.
func NewExecutor(
	ledger ports.LedgerClient,
	venue ports.VenueClient,
	store ports.Storage,
	trigger *TriggerEvaluator,
	retry *RetryController,
	queue *Queue,
	confirmTimeout time.Duration,
) *Executor {
	return &Executor{
		ledger:         ledger,
		venue:          venue,
		store:          store,
		trigger:        trigger,
		retry:          retry,
		queue:          queue,
		confirmTimeout: confirmTimeout,
	}
}

// Execute runs one attempt for the plan id. handled=true means the plan is
// done with retry bookkeeping (success or terminal failure); handled=false
// means the attempt should be retried later. The returned trade is non-nil
// only when a step actually executed.
func (e *Executor) Execute(ctx context.Context, planID string) (*domain.Trade, bool) {
	log := slog.With("plan", planID)

	// 1. Authoritative state. A vanished plan is dropped, not retried.
	plan, err := e.ledger.GetPlanState(ctx, planID)
	if errors.Is(err, ports.ErrNotFound) {
		log.Warn("plan not found on ledger, dropping")
		e.retry.Clear(planID)
		mtxExecutions.WithLabelValues(outcomeNotFound).Inc()
		return nil, true
	}
	if err != nil {
		log.Error("fetch plan state failed", "err", err)
		return nil, e.countFailure(ctx, planID, log)
	}

	// 2. Already finished on the ledger → mark completed locally.
	if plan.Finished() {
		log.Info("plan completed")
		if err := e.store.UpdatePlanStatus(ctx, planID, domain.StatusCompleted); err != nil {
			log.Warn("update status failed", "err", err)
		}
		e.retry.Clear(planID)
		mtxExecutions.WithLabelValues(outcomeCompleted).Inc()
		return nil, true
	}

	// 3. Trigger check. Not met is benign — re-checked next tick.
	fire, err := e.trigger.ShouldExecute(ctx, plan)
	if err != nil {
		// Un trigger ilegible consume presupuesto: si no, reencola infinito.
		log.Warn("trigger evaluation failed", "err", err)
		return nil, e.countFailureAs(ctx, planID, outcomeTriggerError, log)
	}
	if !fire {
		log.Debug("trigger not met, skipping")
		mtxExecutions.WithLabelValues(outcomeTriggerNotMet).Inc()
		return nil, false
	}

	step, _ := plan.Current()
	amount := step.InputAmount
	if amount == 0 {
		amount = plan.TotalAmount
	}
	log.Info("executing step", "step", step.Index, "amount", amount, "trigger", step.Trigger.String())

	// 4+5. Build and submit the advance transaction.
	tx, err := e.ledger.BuildAdvanceTransaction(plan)
	if err != nil {
		log.Error("build advance tx failed", "err", err)
		return nil, e.countFailure(ctx, planID, log)
	}

	result, err := e.ledger.SubmitTransaction(ctx, tx)
	if errors.Is(err, ports.ErrNoCredentials) {
		// Observe-only mode: the attempt is abandoned without burning budget.
		log.Debug("no keeper credentials, skipping execution")
		mtxExecutions.WithLabelValues(outcomeObserveOnly).Inc()
		return nil, false
	}
	if err != nil {
		log.Error("submit failed", "err", err)
		return nil, e.countFailure(ctx, planID, log)
	}
	if !result.Success {
		log.Error("advance rejected by ledger", "digest", result.Digest, "reason", result.Err)
		return nil, e.countFailure(ctx, planID, log)
	}

	e.retry.SetLastDigest(planID, result.Digest)
	log.Info("advance submitted", "digest", result.Digest)

	// 6. Wait for ledger finality. A timeout converts to a retry, not a
	// cancel — the transaction may still land, and re-execution is safe
	// because the trade write is keyed on the digest.
	start := time.Now()
	confirmed, err := e.ledger.WaitForConfirmation(ctx, result.Digest, e.confirmTimeout)
	mtxConfirmSeconds.Observe(time.Since(start).Seconds())
	if err != nil {
		log.Error("confirmation wait aborted", "digest", result.Digest, "err", err)
		return nil, false
	}
	if !confirmed {
		log.Warn("transaction not confirmed in time, will retry", "digest", result.Digest)
		return nil, e.countFailureAs(ctx, planID, outcomeConfirmTimeout, log)
	}

	// 7. Off-ledger swap. Failure here is non-fatal: the step already
	// advanced on the ledger, so we record zero output and move on.
	trade := e.performSwap(ctx, plan, step, amount, result.Digest, log)

	// 8. Idempotent trade record, keyed on the advance digest.
	inserted, err := e.store.InsertTradeIfAbsent(ctx, *trade)
	if err != nil {
		log.Error("trade insert failed", "digest", result.Digest, "err", err)
	} else if inserted {
		mtxTradesRecorded.Inc()
		log.Info("trade recorded", "digest", result.Digest, "out", trade.OutputAmount)
	}

	// 9. Aggregate counters on the projection.
	if err := e.store.IncrementPlanStats(ctx, planID, 1, time.Now().UTC()); err != nil {
		log.Warn("stats update failed", "err", err)
	}

	// 10. Re-fetch: the advance may have finished the plan. Un plan con
	// steps pendientes vuelve directo a la cola — el evento PlanCreated ya
	// se consumió una vez y nadie más lo va a reencolar.
	updated, err := e.ledger.GetPlanState(ctx, planID)
	switch {
	case err == nil:
		e.refreshProjection(ctx, updated, log)
		if updated.Finished() {
			log.Info("plan fully completed")
			if err := e.store.UpdatePlanStatus(ctx, planID, domain.StatusCompleted); err != nil {
				log.Warn("update status failed", "err", err)
			}
		} else {
			e.queue.Enqueue(planID)
			log.Debug("plan requeued for next step", "next_step", updated.CurrentStep)
		}
	case !errors.Is(err, ports.ErrNotFound):
		// Estado ilegible tras el advance: reencolar y decidir en el
		// siguiente tick con un fetch limpio.
		e.queue.Enqueue(planID)
	}

	// 11. Done — clear bookkeeping.
	e.retry.Clear(planID)
	mtxExecutions.WithLabelValues(outcomeExecuted).Inc()
	return trade, true
}

// countFailure burns one unit of retry budget. Exhausting it is terminal:
// the plan is marked failed and reported handled so it leaves the queue.
func (e *Executor) countFailure(ctx context.Context, planID string, log *slog.Logger) (handled bool) {
	return e.countFailureAs(ctx, planID, outcomeSubmitFailed, log)
}

func (e *Executor) countFailureAs(ctx context.Context, planID, outcome string, log *slog.Logger) (handled bool) {
	mtxRetries.Inc()
	if !e.retry.RecordFailure(planID) {
		mtxExecutions.WithLabelValues(outcome).Inc()
		return false
	}

	log.Error("max retries reached, marking plan failed")
	if err := e.store.UpdatePlanStatus(ctx, planID, domain.StatusFailed); err != nil {
		log.Warn("update status failed", "err", err)
	}
	e.retry.Clear(planID)
	mtxExecutions.WithLabelValues(outcomeFailedTerminal).Inc()
	return true
}

// performSwap builds and submits the venue swap for the step amount and
// returns the trade row to record. Output amount is zero when the swap
// fails or when no price is available to value the fill.
func (e *Executor) performSwap(ctx context.Context, plan *domain.Plan, step domain.Step, amount uint64, digest string, log *slog.Logger) *domain.Trade {
	// Sin digest no hay clave de dedupe: generamos un id propio.
	tradeID := digest
	if tradeID == "" {
		tradeID = uuid.New().String()
	}
	trade := &domain.Trade{
		TradeID:    tradeID,
		PlanID:     plan.ID,
		Owner:      plan.Owner,
		StepIndex:  step.Index,
		InputCoin:  plan.InputCoin,
		OutputCoin: plan.OutputCoin,
		TxDigest:   digest,
		CreatedAt:  time.Now().UTC(),
	}

	inDec, err := e.venue.GetCoinDecimals(ctx, plan.InputCoin)
	if err != nil {
		log.Warn("input decimals unavailable, recording raw amount", "err", err)
	}
	trade.InputAmount = humanAmount(amount, inDec)

	price, priceErr := e.venue.GetPrice(ctx, plan.InputCoin, plan.OutputCoin)
	if priceErr == nil {
		trade.PriceAtExecution = price
	}

	swapTx, err := e.venue.BuildSwap(ctx, plan.InputCoin, plan.OutputCoin, amount, step.SlippageBps)
	if err != nil {
		log.Warn("swap build failed, recording zero output", "err", err)
		return trade
	}

	result, err := e.ledger.SubmitTransaction(ctx, swapTx)
	if err != nil || !result.Success {
		reason := ""
		if err != nil {
			reason = err.Error()
		} else {
			reason = result.Err
		}
		log.Warn("swap execution failed, recording zero output", "reason", reason)
		return trade
	}

	log.Info("swap executed", "swap_digest", result.Digest)
	if priceErr == nil {
		// Estimación del fill: precio spot menos la tolerancia de slippage.
		trade.OutputAmount = trade.InputAmount * price * (1 - float64(step.SlippageBps)/10000)
	}
	return trade
}
