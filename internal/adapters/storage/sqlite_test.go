package storage_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/lanternfi/lantern-keeper/internal/adapters/storage"
	"github.com/lanternfi/lantern-keeper/internal/domain"
	"github.com/lanternfi/lantern-keeper/internal/ports"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func makeProjection(planID string) domain.PlanProjection {
	return domain.PlanProjection{
		PlanID:          planID,
		Owner:           "0xowner",
		InputCoin:       "0x5d4b::usdc::USDC",
		OutputCoin:      "0x2::sui::SUI",
		InputAmount:     100,
		RemainingAmount: 80,
		CurrentStep:     1,
		Steps: []domain.Step{
			{Index: 0, Trigger: domain.TriggerTime, TriggerValue: 86_400_000, InputAmount: 20_000_000},
			{Index: 1, Trigger: domain.TriggerPriceBelow, TriggerValue: 2, InputAmount: 20_000_000, SlippageBps: 100},
		},
		Status: domain.StatusActive,
	}
}

func makeTrade(tradeID string) domain.Trade {
	return domain.Trade{
		TradeID:          tradeID,
		PlanID:           "0xplan",
		Owner:            "0xowner",
		StepIndex:        0,
		InputAmount:      20,
		OutputAmount:     39.6,
		InputCoin:        "0x5d4b::usdc::USDC",
		OutputCoin:       "0x2::sui::SUI",
		TxDigest:         tradeID,
		PriceAtExecution: 2.0,
		CreatedAt:        time.Now().UTC().Truncate(time.Second),
	}
}

func TestSQLiteStorage_UpsertAndGetPlan(t *testing.T) {
	db, err := storage.NewSQLiteStorage(":memory:")
	require.NoError(t, err)
	defer db.Close()
	ctx := context.Background()

	p := makeProjection("0xplan")
	require.NoError(t, db.UpsertPlan(ctx, p))

	got, err := db.GetPlan(ctx, "0xplan")
	require.NoError(t, err)
	assert.Equal(t, p.Owner, got.Owner)
	assert.Equal(t, 1, got.CurrentStep)
	assert.InDelta(t, 100.0, got.InputAmount, 1e-9)
	require.Len(t, got.Steps, 2)
	assert.Equal(t, domain.TriggerPriceBelow, got.Steps[1].Trigger)
	assert.False(t, got.CreatedAt.IsZero())
}

func TestSQLiteStorage_GetPlanNotFound(t *testing.T) {
	db, err := storage.NewSQLiteStorage(":memory:")
	require.NoError(t, err)
	defer db.Close()

	_, err = db.GetPlan(context.Background(), "0xnope")
	assert.True(t, errors.Is(err, ports.ErrNotFound))
}

func TestSQLiteStorage_UpsertPreservesCreatedAt(t *testing.T) {
	db, err := storage.NewSQLiteStorage(":memory:")
	require.NoError(t, err)
	defer db.Close()
	ctx := context.Background()

	require.NoError(t, db.UpsertPlan(ctx, makeProjection("0xplan")))
	first, err := db.GetPlan(ctx, "0xplan")
	require.NoError(t, err)

	// Reescritura con datos nuevos
	p := makeProjection("0xplan")
	p.CurrentStep = 2
	require.NoError(t, db.UpsertPlan(ctx, p))

	second, err := db.GetPlan(ctx, "0xplan")
	require.NoError(t, err)
	assert.Equal(t, 2, second.CurrentStep)
	assert.Equal(t, first.CreatedAt, second.CreatedAt)
}

func TestSQLiteStorage_UpdatePlanStatus(t *testing.T) {
	db, err := storage.NewSQLiteStorage(":memory:")
	require.NoError(t, err)
	defer db.Close()
	ctx := context.Background()

	require.NoError(t, db.UpsertPlan(ctx, makeProjection("0xplan")))
	require.NoError(t, db.UpdatePlanStatus(ctx, "0xplan", domain.StatusCompleted))

	got, err := db.GetPlan(ctx, "0xplan")
	require.NoError(t, err)
	assert.Equal(t, domain.StatusCompleted, got.Status)
}

func TestSQLiteStorage_IncrementPlanStats(t *testing.T) {
	db, err := storage.NewSQLiteStorage(":memory:")
	require.NoError(t, err)
	defer db.Close()
	ctx := context.Background()

	require.NoError(t, db.UpsertPlan(ctx, makeProjection("0xplan")))

	now := time.Now().UTC().Truncate(time.Second)
	require.NoError(t, db.IncrementPlanStats(ctx, "0xplan", 1, now))
	require.NoError(t, db.IncrementPlanStats(ctx, "0xplan", 1, now.Add(time.Minute)))

	got, err := db.GetPlan(ctx, "0xplan")
	require.NoError(t, err)
	assert.Equal(t, 2, got.TotalTrades)
	require.NotNil(t, got.LastExecutedAt)
	assert.Equal(t, now.Add(time.Minute), got.LastExecutedAt.UTC())
}

func TestSQLiteStorage_InsertTradeIdempotent(t *testing.T) {
	db, err := storage.NewSQLiteStorage(":memory:")
	require.NoError(t, err)
	defer db.Close()
	ctx := context.Background()

	inserted, err := db.InsertTradeIfAbsent(ctx, makeTrade("DIG1"))
	require.NoError(t, err)
	assert.True(t, inserted)

	// Mismo digest: no-op
	inserted, err = db.InsertTradeIfAbsent(ctx, makeTrade("DIG1"))
	require.NoError(t, err)
	assert.False(t, inserted)

	trades, err := db.TradesByOwner(ctx, "0xowner")
	require.NoError(t, err)
	require.Len(t, trades, 1)
	assert.Equal(t, "DIG1", trades[0].TradeID)
	assert.InDelta(t, 39.6, trades[0].OutputAmount, 1e-9)
}

func TestSQLiteStorage_TradesByOwnerOrder(t *testing.T) {
	db, err := storage.NewSQLiteStorage(":memory:")
	require.NoError(t, err)
	defer db.Close()
	ctx := context.Background()

	old := makeTrade("DIG1")
	old.CreatedAt = time.Now().UTC().Add(-time.Hour)
	recent := makeTrade("DIG2")

	_, err = db.InsertTradeIfAbsent(ctx, old)
	require.NoError(t, err)
	_, err = db.InsertTradeIfAbsent(ctx, recent)
	require.NoError(t, err)

	trades, err := db.TradesByOwner(ctx, "0xowner")
	require.NoError(t, err)
	require.Len(t, trades, 2)
	// Más reciente primero
	assert.Equal(t, "DIG2", trades[0].TradeID)
	assert.Equal(t, "DIG1", trades[1].TradeID)
}

func TestSQLiteStorage_CursorRoundTrip(t *testing.T) {
	db, err := storage.NewSQLiteStorage(":memory:")
	require.NoError(t, err)
	defer db.Close()
	ctx := context.Background()

	// Sin guardar: cursor zero, sin error
	cur, err := db.LoadCursor(ctx, "plan_events_cursor")
	require.NoError(t, err)
	assert.True(t, cur.IsZero())

	want := domain.EventCursor{TxDigest: "TX1", EventSeq: "3"}
	require.NoError(t, db.SaveCursor(ctx, "plan_events_cursor", want))

	cur, err = db.LoadCursor(ctx, "plan_events_cursor")
	require.NoError(t, err)
	assert.Equal(t, want, cur)

	// El upsert avanza la posición
	want = domain.EventCursor{TxDigest: "TX2", EventSeq: "0"}
	require.NoError(t, db.SaveCursor(ctx, "plan_events_cursor", want))

	cur, err = db.LoadCursor(ctx, "plan_events_cursor")
	require.NoError(t, err)
	assert.Equal(t, want, cur)
}

func TestSQLiteStorage_PlansByOwner(t *testing.T) {
	db, err := storage.NewSQLiteStorage(":memory:")
	require.NoError(t, err)
	defer db.Close()
	ctx := context.Background()

	require.NoError(t, db.UpsertPlan(ctx, makeProjection("0xaaa")))
	other := makeProjection("0xbbb")
	other.Owner = "0xother"
	require.NoError(t, db.UpsertPlan(ctx, other))

	plans, err := db.PlansByOwner(ctx, "0xowner")
	require.NoError(t, err)
	require.Len(t, plans, 1)
	assert.Equal(t, "0xaaa", plans[0].PlanID)
}
