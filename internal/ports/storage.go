package ports

import (
	"context"
	"time"

	"github.com/lanternfi/lantern-keeper/internal/domain"
)

// Storage persiste proyecciones de planes, trades idempotentes y cursores.
// Todas las escrituras son idempotentes por clave — no hace falta transacción
// multi-documento en ningún punto del engine.
type Storage interface {
	// UpsertPlan inserta o actualiza la proyección local de un plan.
	UpsertPlan(ctx context.Context, p domain.PlanProjection) error

	// GetPlan devuelve la proyección de un plan, o ErrNotFound.
	GetPlan(ctx context.Context, planID string) (domain.PlanProjection, error)

	// PlansByOwner lista los planes de un owner, más reciente primero.
	PlansByOwner(ctx context.Context, owner string) ([]domain.PlanProjection, error)

	// UpdatePlanStatus cambia solo el estado persistido del plan.
	UpdatePlanStatus(ctx context.Context, planID string, status domain.PlanStatus) error

	// IncrementPlanStats suma trades al contador del plan y actualiza
	// el timestamp de última ejecución.
	IncrementPlanStats(ctx context.Context, planID string, trades int, executedAt time.Time) error

	// InsertTradeIfAbsent inserta el trade si no existe ya uno con ese
	// TradeID. Devuelve false si ya existía (escritura idempotente).
	InsertTradeIfAbsent(ctx context.Context, t domain.Trade) (bool, error)

	// TradesByOwner lista los trades de un owner, más reciente primero.
	TradesByOwner(ctx context.Context, owner string) ([]domain.Trade, error)

	// LoadCursor devuelve el cursor guardado para la clave, o un cursor
	// zero si nunca se guardó.
	LoadCursor(ctx context.Context, key string) (domain.EventCursor, error)

	// SaveCursor guarda (upsert) la posición del cursor.
	SaveCursor(ctx context.Context, key string, cur domain.EventCursor) error

	// Close cierra la conexión limpiamente.
	Close() error
}
