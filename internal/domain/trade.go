package domain

import "time"

// Trade es el registro idempotente de un swap ejecutado.
// TradeID es el digest de la transacción de avance — la clave natural de dedupe.
type Trade struct {
	TradeID          string
	PlanID           string
	Owner            string
	StepIndex        int
	InputAmount      float64 // escala humana
	OutputAmount     float64 // 0 si el swap falló tras avanzar el step
	InputCoin        string
	OutputCoin       string
	TxDigest         string
	PriceAtExecution float64
	CreatedAt        time.Time
}
