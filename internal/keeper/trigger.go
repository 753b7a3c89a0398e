package keeper

import (
	"context"
	"fmt"
	"log/slog"
	"math"

	"github.com/lanternfi/lantern-keeper/internal/domain"
	"github.com/lanternfi/lantern-keeper/internal/ports"
)

// TriggerEvaluator decides whether a plan's current step should fire.
// It is a pure decision component: the only I/O is the venue price lookup,
// and any failure there evaluates to "do not fire" (fail closed).
type TriggerEvaluator struct {
	venue ports.VenueClient
}

// NewTriggerEvaluator creates an evaluator backed by the given venue.
func NewTriggerEvaluator(venue ports.VenueClient) *TriggerEvaluator {
	return &TriggerEvaluator{venue: venue}
}

// ShouldExecute evaluates the plan's current step.
//
// Time triggers always pass locally: elapsed-time validation belongs to the
// ledger's own check when the advance transaction is submitted, and
// duplicating clock logic here would only let the two drift apart.
func (t *TriggerEvaluator) ShouldExecute(ctx context.Context, plan *domain.Plan) (bool, error) {
	step, ok := plan.Current()
	if !ok {
		return false, nil
	}

	switch step.Trigger {
	case domain.TriggerTime:
		return true, nil
	case domain.TriggerPriceBelow, domain.TriggerPriceAbove:
		return t.evalPrice(ctx, plan, step)
	default:
		return false, fmt.Errorf("trigger: plan %s step %d: unknown trigger kind %d", plan.ID, step.Index, step.Trigger)
	}
}

// evalPrice compares the venue price against the step's threshold.
func (t *TriggerEvaluator) evalPrice(ctx context.Context, plan *domain.Plan, step domain.Step) (bool, error) {
	if plan.InputCoin == "" || plan.OutputCoin == "" {
		return false, fmt.Errorf("trigger: plan %s missing coin types", plan.ID)
	}

	price, err := t.venue.GetPrice(ctx, plan.InputCoin, plan.OutputCoin)
	if err != nil {
		// fail closed: no price, no fire
		slog.Debug("price unavailable for trigger check", "plan", plan.ID, "err", err)
		return false, nil
	}

	inDec, err := t.venue.GetCoinDecimals(ctx, plan.InputCoin)
	if err != nil {
		return false, nil
	}
	outDec, err := t.venue.GetCoinDecimals(ctx, plan.OutputCoin)
	if err != nil {
		return false, nil
	}

	target := NormalizeThreshold(float64(step.TriggerValue), inDec, outDec)

	switch step.Trigger {
	case domain.TriggerPriceAbove:
		return price >= target, nil
	default: // TriggerPriceBelow — "buy the dip"
		return price <= target, nil
	}
}

// NormalizeThreshold brings a raw on-chain threshold into the same scale as
// the venue price by compensating for the decimal difference between the two
// assets: input-heavier pairs divide, output-heavier pairs multiply.
func NormalizeThreshold(raw float64, inputDecimals, outputDecimals int) float64 {
	if inputDecimals >= outputDecimals {
		return raw / math.Pow(10, float64(inputDecimals-outputDecimals))
	}
	return raw * math.Pow(10, float64(outputDecimals-inputDecimals))
}
