package keeper_test

import (
	"context"
	"testing"
	"time"

	"github.com/lanternfi/lantern-keeper/internal/domain"
	"github.com/lanternfi/lantern-keeper/internal/keeper"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newDiscoveryEnv() (*fakeLedger, *fakeVenue, *fakeStore, *keeper.Queue, *keeper.Discovery) {
	ledger := newFakeLedger()
	venue := newFakeVenue()
	store := newFakeStore()
	queue := keeper.NewQueue()
	d := keeper.NewDiscovery(ledger, venue, store, queue,
		10*time.Millisecond, 10*time.Millisecond, 50)
	return ledger, venue, store, queue, d
}

func planCreatedEvent(planID, digest string) domain.LedgerEvent {
	return domain.LedgerEvent{
		Kind:      domain.EventPlanCreated,
		PlanID:    planID,
		Cursor:    domain.EventCursor{TxDigest: digest, EventSeq: "0"},
		Timestamp: time.Now().UTC(),
	}
}

func TestDiscovery_PushEnqueuesAndCaches(t *testing.T) {
	ledger, _, store, queue, d := newDiscoveryEnv()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	plan := makePlan(domain.TriggerTime, 0)
	ledger.plans[plan.ID] = plan

	d.Start(ctx)
	ledger.push(planCreatedEvent(plan.ID, "TX1"))

	assert.True(t, queue.Contains(plan.ID))

	cached, err := store.GetPlan(ctx, plan.ID)
	require.NoError(t, err)
	assert.Equal(t, plan.Owner, cached.Owner)
	// 100 USDC con 6 decimales, proyección a escala humana
	assert.InDelta(t, 100.0, cached.InputAmount, 1e-9)
	assert.Equal(t, domain.StatusActive, cached.Status)
}

func TestDiscovery_PushRedeliveryIsNoop(t *testing.T) {
	ledger, _, _, queue, d := newDiscoveryEnv()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	plan := makePlan(domain.TriggerTime, 0)
	ledger.plans[plan.ID] = plan

	d.Start(ctx)
	ev := planCreatedEvent(plan.ID, "TX1")
	ledger.push(ev)
	ledger.push(ev) // redelivery

	assert.Equal(t, 1, queue.Len())
}

func TestDiscovery_PollAdvancesCursorAfterPage(t *testing.T) {
	ledger, _, store, queue, d := newDiscoveryEnv()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	planA := makePlan(domain.TriggerTime, 0)
	planA.ID = "0xplanA"
	planB := makePlan(domain.TriggerTime, 0)
	planB.ID = "0xplanB"
	ledger.plans[planA.ID] = planA
	ledger.plans[planB.ID] = planB

	ledger.events[domain.EventPlanCreated] = []domain.LedgerEvent{
		planCreatedEvent(planA.ID, "TX1"),
		planCreatedEvent(planB.ID, "TX2"),
	}

	d.Start(ctx)

	require.Eventually(t, func() bool {
		return queue.Contains(planA.ID) && queue.Contains(planB.ID)
	}, time.Second, 5*time.Millisecond)

	// El cursor apunta al último evento de la página procesada.
	require.Eventually(t, func() bool {
		cur, _ := store.LoadCursor(ctx, "plan_events_cursor")
		return cur.TxDigest == "TX2"
	}, time.Second, 5*time.Millisecond)
}

func TestDiscovery_PollResumesFromCursor(t *testing.T) {
	ledger, _, store, queue, d := newDiscoveryEnv()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	planA := makePlan(domain.TriggerTime, 0)
	planA.ID = "0xplanA"
	planC := makePlan(domain.TriggerTime, 0)
	planC.ID = "0xplanC"
	ledger.plans[planA.ID] = planA
	ledger.plans[planC.ID] = planC

	// Cursor ya posicionado tras TX1: un reinicio no reprocesa lo anterior.
	require.NoError(t, store.SaveCursor(ctx, "plan_events_cursor",
		domain.EventCursor{TxDigest: "TX1", EventSeq: "0"}))

	ledger.events[domain.EventPlanCreated] = []domain.LedgerEvent{
		planCreatedEvent(planA.ID, "TX1"),
		planCreatedEvent(planC.ID, "TX2"),
	}

	d.Start(ctx)

	require.Eventually(t, func() bool {
		return queue.Contains(planC.ID)
	}, time.Second, 5*time.Millisecond)
	assert.False(t, queue.Contains(planA.ID), "eventos anteriores al cursor no se reprocesan")
}

func TestDiscovery_PollRepeatsPageWhenCursorSaveFails(t *testing.T) {
	ledger, _, store, queue, d := newDiscoveryEnv()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	planA := makePlan(domain.TriggerTime, 0)
	planA.ID = "0xplanA"
	planB := makePlan(domain.TriggerTime, 0)
	planB.ID = "0xplanB"
	ledger.plans[planA.ID] = planA
	ledger.plans[planB.ID] = planB

	ledger.events[domain.EventPlanCreated] = []domain.LedgerEvent{
		planCreatedEvent(planA.ID, "TX1"),
		planCreatedEvent(planB.ID, "TX2"),
	}

	// El primer SaveCursor falla: equivale a morir a mitad de página. El
	// siguiente tick relee la misma página desde el cursor anterior.
	store.failNextCursorSave("plan_events_cursor")

	d.Start(ctx)

	require.Eventually(t, func() bool {
		cur, _ := store.LoadCursor(ctx, "plan_events_cursor")
		return cur.TxDigest == "TX2"
	}, time.Second, 5*time.Millisecond)

	// Se intentó guardar al menos dos veces y la relectura fue idempotente:
	// cada plan está encolado exactamente una vez.
	assert.GreaterOrEqual(t, store.cursorSaves("plan_events_cursor"), 2)
	assert.Equal(t, 2, queue.Len())
	assert.True(t, queue.Contains(planA.ID))
	assert.True(t, queue.Contains(planB.ID))
}

func TestDiscovery_StepPollHoldsCursorOnFetchFailure(t *testing.T) {
	ledger, _, store, queue, d := newDiscoveryEnv()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	planA := makePlan(domain.TriggerTime, 0)
	planA.ID = "0xplanA"
	planA.CurrentStep = 1 // terminado en el ledger
	planB := makePlan(domain.TriggerTime, 0)
	planB.ID = "0xplanB"
	planB.CurrentStep = 1
	ledger.plans[planA.ID] = planA
	ledger.plans[planB.ID] = planB
	queue.Enqueue(planA.ID)
	queue.Enqueue(planB.ID)

	ledger.events[domain.EventStepExecuted] = []domain.LedgerEvent{
		{Kind: domain.EventStepExecuted, PlanID: planA.ID, StepIndex: 0,
			Cursor: domain.EventCursor{TxDigest: "TX1", EventSeq: "0"}},
		{Kind: domain.EventStepExecuted, PlanID: planB.ID, StepIndex: 0,
			Cursor: domain.EventCursor{TxDigest: "TX2", EventSeq: "0"}},
	}

	// El fetch de planA falla una vez: el cursor no puede saltarse ese
	// evento, el siguiente tick reintenta desde el mismo punto.
	ledger.failNextState(planA.ID)

	d.Start(ctx)

	require.Eventually(t, func() bool {
		cur, _ := store.LoadCursor(ctx, "step_events_cursor")
		return cur.TxDigest == "TX2"
	}, time.Second, 5*time.Millisecond)

	// Tras el reintento ambos planes quedaron reconciliados.
	assert.False(t, queue.Contains(planA.ID))
	assert.False(t, queue.Contains(planB.ID))
	assert.Equal(t, domain.StatusCompleted, store.status(planA.ID))
	assert.Equal(t, domain.StatusCompleted, store.status(planB.ID))
}

func TestDiscovery_StepExecutedRemovesFinishedPlan(t *testing.T) {
	ledger, _, store, queue, d := newDiscoveryEnv()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	plan := makePlan(domain.TriggerTime, 0)
	plan.CurrentStep = 1 // sin steps pendientes
	ledger.plans[plan.ID] = plan
	queue.Enqueue(plan.ID)

	d.Start(ctx)
	ledger.push(domain.LedgerEvent{
		Kind:      domain.EventStepExecuted,
		PlanID:    plan.ID,
		StepIndex: 0,
		Cursor:    domain.EventCursor{TxDigest: "TX9", EventSeq: "0"},
	})

	assert.False(t, queue.Contains(plan.ID))
	assert.Equal(t, domain.StatusCompleted, store.status(plan.ID))
}

func TestDiscovery_StepExecutedVanishedPlan(t *testing.T) {
	ledger, _, _, queue, d := newDiscoveryEnv()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	queue.Enqueue("0xgone")
	d.Start(ctx)
	ledger.push(domain.LedgerEvent{
		Kind:   domain.EventStepExecuted,
		PlanID: "0xgone",
		Cursor: domain.EventCursor{TxDigest: "TX9", EventSeq: "0"},
	})

	assert.False(t, queue.Contains("0xgone"))
}
