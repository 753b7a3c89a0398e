package ports

import (
	"context"

	"github.com/lanternfi/lantern-keeper/internal/domain"
)

// Notifier recibe los trades ejecutados en un ciclo de dispatch.
type Notifier interface {
	Notify(ctx context.Context, trades []domain.Trade) error
}
