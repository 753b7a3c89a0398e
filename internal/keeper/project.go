package keeper

import (
	"context"
	"log/slog"
	"math"

	"github.com/lanternfi/lantern-keeper/internal/domain"
)

// humanAmount normalizes a ledger-native amount by the asset's decimals.
func humanAmount(raw uint64, decimals int) float64 {
	if decimals <= 0 {
		return float64(raw)
	}
	return float64(raw) / math.Pow(10, float64(decimals))
}

// refreshProjection upserts the local plan projection from authoritative
// ledger state, normalizing amounts with the venue's decimal metadata.
// Projection writes are best-effort: a failed write is logged, never fatal.
func (e *Executor) refreshProjection(ctx context.Context, plan *domain.Plan, log *slog.Logger) {
	proj := buildProjection(ctx, e.venue, plan)
	if err := e.store.UpsertPlan(ctx, proj); err != nil {
		log.Warn("projection upsert failed", "err", err)
	}
}

// decimalsSource is the slice of the venue the projection builder needs.
type decimalsSource interface {
	GetCoinDecimals(ctx context.Context, coin string) (int, error)
}

// buildProjection maps authoritative plan state to the persisted row.
func buildProjection(ctx context.Context, venue decimalsSource, plan *domain.Plan) domain.PlanProjection {
	inDec, err := venue.GetCoinDecimals(ctx, plan.InputCoin)
	if err != nil {
		slog.Debug("decimals unavailable for projection, storing raw", "coin", plan.InputCoin, "err", err)
		inDec = 0
	}

	status := domain.StatusActive
	if plan.Finished() {
		status = domain.StatusCompleted
	}

	return domain.PlanProjection{
		PlanID:          plan.ID,
		Owner:           plan.Owner,
		InputCoin:       plan.InputCoin,
		OutputCoin:      plan.OutputCoin,
		InputAmount:     humanAmount(plan.TotalAmount, inDec),
		RemainingAmount: humanAmount(plan.RemainingAmount, inDec),
		CurrentStep:     plan.CurrentStep,
		Steps:           plan.Steps,
		Status:          status,
	}
}
