package ports

import (
	"context"
	"errors"
	"time"

	"github.com/lanternfi/lantern-keeper/internal/domain"
)

// ErrNotFound indica que el objeto pedido no existe en el ledger.
var ErrNotFound = errors.New("not found on ledger")

// ErrNoCredentials indica que no hay clave de keeper configurada.
// No es un fallo: el engine funciona en modo observación.
var ErrNoCredentials = errors.New("keeper credentials not configured")

// SubmitResult es el resultado de enviar una transacción al ledger.
type SubmitResult struct {
	Digest  string
	Success bool
	Err     string // razón del fallo reportada por el nodo, si Success es false
}

// Unsubscribe cancela una suscripción de eventos activa.
type Unsubscribe func()

// LedgerClient es el contrato con el ledger (nodo full de la blockchain).
// Todas las llamadas son bloqueantes y respetan el contexto.
type LedgerClient interface {
	// GetPlanState lee el estado autoritativo de un plan.
	// Devuelve ErrNotFound si el objeto no existe o fue eliminado.
	GetPlanState(ctx context.Context, planID string) (*domain.Plan, error)

	// Subscribe abre una suscripción push para un tipo de evento.
	// El handler se invoca por cada evento recibido; el transporte reintenta
	// la conexión por su cuenta. Un error aquí significa que la suscripción
	// no pudo establecerse — el caller degrada a solo-polling.
	Subscribe(ctx context.Context, kind domain.EventKind, handler func(domain.LedgerEvent)) (Unsubscribe, error)

	// QueryEventsSince devuelve hasta limit eventos estrictamente posteriores
	// al cursor dado, ordenados del más antiguo al más nuevo. Un cursor zero
	// empieza desde el principio del log.
	QueryEventsSince(ctx context.Context, kind domain.EventKind, after domain.EventCursor, limit int) ([]domain.LedgerEvent, error)

	// BuildAdvanceTransaction construye la transacción que avanza el step
	// actual del plan en el ledger.
	BuildAdvanceTransaction(plan *domain.Plan) (domain.Transaction, error)

	// SubmitTransaction firma y envía una transacción.
	// Devuelve ErrNoCredentials si no hay clave de keeper configurada.
	SubmitTransaction(ctx context.Context, tx domain.Transaction) (SubmitResult, error)

	// WaitForConfirmation bloquea hasta que la transacción alcanza finalidad
	// o expira el timeout. false sin error significa no-confirmada a tiempo.
	WaitForConfirmation(ctx context.Context, digest string, timeout time.Duration) (bool, error)
}
