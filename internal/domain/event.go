package domain

import "time"

// EventKind identifica el tipo de evento on-chain que nos interesa.
type EventKind string

const (
	EventPlanCreated  EventKind = "PlanCreated"
	EventStepExecuted EventKind = "StepExecuted"
)

// EventCursor es la posición de un evento dentro del log append-only del ledger.
// Sirve como bookmark durable para el polling resumible.
type EventCursor struct {
	TxDigest string `json:"txDigest"`
	EventSeq string `json:"eventSeq"`
}

// IsZero indica si el cursor todavía no apunta a ningún evento.
func (c EventCursor) IsZero() bool {
	return c.TxDigest == ""
}

// LedgerEvent es un evento ya parseado del log del ledger.
type LedgerEvent struct {
	Kind      EventKind
	PlanID    string
	StepIndex int    // solo StepExecuted
	AmountIn  uint64 // solo StepExecuted, unidades nativas
	AmountOut uint64
	Cursor    EventCursor
	Timestamp time.Time
}
