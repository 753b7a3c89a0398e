package keeper_test

import (
	"context"
	"testing"

	"github.com/lanternfi/lantern-keeper/internal/domain"
	"github.com/lanternfi/lantern-keeper/internal/keeper"
	"github.com/lanternfi/lantern-keeper/internal/ports"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const (
	coinUSDC = "0x5d4b::usdc::USDC" // 6 decimales
	coinSUI  = "0x2::sui::SUI"      // 9 decimales
)

func makePlan(trigger domain.TriggerKind, threshold uint64) *domain.Plan {
	return &domain.Plan{
		ID:          "0xplan",
		Owner:       "0xowner",
		InputCoin:   coinUSDC,
		OutputCoin:  coinSUI,
		TotalAmount: 100_000_000,
		CurrentStep: 0,
		Active:      true,
		Steps: []domain.Step{
			{Index: 0, Trigger: trigger, TriggerValue: threshold, InputAmount: 10_000_000, SlippageBps: 100},
		},
	}
}

func TestTrigger_TimeAlwaysFires(t *testing.T) {
	venue := newFakeVenue()
	ev := keeper.NewTriggerEvaluator(venue)

	// El ledger valida el intervalo; localmente siempre pasa.
	fire, err := ev.ShouldExecute(context.Background(), makePlan(domain.TriggerTime, 86_400_000))
	require.NoError(t, err)
	assert.True(t, fire)
}

func TestTrigger_FinishedPlanNeverFires(t *testing.T) {
	venue := newFakeVenue()
	ev := keeper.NewTriggerEvaluator(venue)

	plan := makePlan(domain.TriggerTime, 0)
	plan.CurrentStep = 1 // más allá del último step

	fire, err := ev.ShouldExecute(context.Background(), plan)
	require.NoError(t, err)
	assert.False(t, fire)
}

func TestTrigger_PriceBelow(t *testing.T) {
	venue := newFakeVenue()
	ev := keeper.NewTriggerEvaluator(venue)
	ctx := context.Background()

	// Con decimales iguales el umbral raw no se reescala: target = 2.
	plan := makePlan(domain.TriggerPriceBelow, 2)
	venue.decimals[coinSUI] = 6

	venue.prices[pairKey(coinUSDC, coinSUI)] = 2.5
	fire, err := ev.ShouldExecute(ctx, plan)
	require.NoError(t, err)
	assert.False(t, fire, "precio por encima del umbral no debe disparar")

	venue.prices[pairKey(coinUSDC, coinSUI)] = 2.0
	fire, err = ev.ShouldExecute(ctx, plan)
	require.NoError(t, err)
	assert.True(t, fire, "precio igual al umbral dispara")

	venue.prices[pairKey(coinUSDC, coinSUI)] = 1.7
	fire, err = ev.ShouldExecute(ctx, plan)
	require.NoError(t, err)
	assert.True(t, fire, "precio por debajo del umbral dispara")
}

func TestTrigger_PriceAbove(t *testing.T) {
	venue := newFakeVenue()
	venue.decimals[coinSUI] = 6
	ev := keeper.NewTriggerEvaluator(venue)
	ctx := context.Background()

	plan := makePlan(domain.TriggerPriceAbove, 3)

	venue.prices[pairKey(coinUSDC, coinSUI)] = 2.9
	fire, err := ev.ShouldExecute(ctx, plan)
	require.NoError(t, err)
	assert.False(t, fire)

	venue.prices[pairKey(coinUSDC, coinSUI)] = 3.0
	fire, err = ev.ShouldExecute(ctx, plan)
	require.NoError(t, err)
	assert.True(t, fire)
}

func TestTrigger_PriceUnavailableFailsClosed(t *testing.T) {
	venue := newFakeVenue()
	venue.priceErr = ports.ErrPriceUnavailable
	ev := keeper.NewTriggerEvaluator(venue)

	fire, err := ev.ShouldExecute(context.Background(), makePlan(domain.TriggerPriceBelow, 1))
	require.NoError(t, err, "fallo de precio no es un error del evaluador")
	assert.False(t, fire)
}

func TestTrigger_UnknownKind(t *testing.T) {
	venue := newFakeVenue()
	ev := keeper.NewTriggerEvaluator(venue)

	_, err := ev.ShouldExecute(context.Background(), makePlan(domain.TriggerKind(99), 1))
	assert.Error(t, err)
}

func TestNormalizeThreshold(t *testing.T) {
	// input con más decimales que output: divide
	assert.InDelta(t, 2.5, keeper.NormalizeThreshold(2_500, 9, 6), 1e-9)
	// mismos decimales: identidad
	assert.InDelta(t, 42.0, keeper.NormalizeThreshold(42, 6, 6), 1e-9)
	// output con más decimales: multiplica
	assert.InDelta(t, 3_000.0, keeper.NormalizeThreshold(3, 6, 9), 1e-9)
}
