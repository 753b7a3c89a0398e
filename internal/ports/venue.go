package ports

import (
	"context"
	"errors"
	"time"

	"github.com/lanternfi/lantern-keeper/internal/domain"
)

// ErrPriceUnavailable indica que el venue no pudo dar un precio para el par.
// El evaluador de triggers trata esto como "no disparar" (fail closed).
var ErrPriceUnavailable = errors.New("price unavailable")

// ErrNoPool indica que no existe pool para el par pedido.
var ErrNoPool = errors.New("no pool for pair")

// PairInfo es la información pública de un pool del venue.
type PairInfo struct {
	Name        string    `json:"name"`
	Base        string    `json:"base"`
	Quote       string    `json:"quote"`
	Price       *float64  `json:"price"` // nil si el pool no respondió
	Liquidity   *float64  `json:"liquidity"`
	FeeRatePct  *float64  `json:"feeRate"`
	PoolID      string    `json:"poolAddress"`
	LastUpdated time.Time `json:"lastUpdated"`
}

// VenueClient es el contrato con el swap venue (pool de liquidez on-chain).
type VenueClient interface {
	// GetPrice devuelve el precio spot de inputCoin expresado en outputCoin.
	// Devuelve ErrPriceUnavailable si el pool no existe o no responde.
	GetPrice(ctx context.Context, inputCoin, outputCoin string) (float64, error)

	// GetCoinDecimals devuelve los decimales del asset.
	GetCoinDecimals(ctx context.Context, coin string) (int, error)

	// BuildSwap construye la transacción de swap para la cantidad dada
	// (unidades nativas del input) con la tolerancia de slippage configurada.
	BuildSwap(ctx context.Context, inputCoin, outputCoin string, amount uint64, slippageBps int) (domain.Transaction, error)

	// AllPairs devuelve la información de todos los pares configurados.
	AllPairs(ctx context.Context) ([]PairInfo, error)
}
