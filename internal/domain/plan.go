package domain

import "time"

// PlanStatus es el estado local de un plan DCA.
type PlanStatus string

const (
	StatusActive    PlanStatus = "active"
	StatusPaused    PlanStatus = "paused"
	StatusCompleted PlanStatus = "completed"
	StatusFailed    PlanStatus = "failed"
)

// TriggerKind identifica la condición que dispara un step.
// Los valores coinciden con el tag del enum on-chain.
type TriggerKind int

const (
	TriggerTime       TriggerKind = 0 // intervalo de tiempo — lo valida el ledger
	TriggerPriceBelow TriggerKind = 1 // precio actual <= umbral ("buy the dip")
	TriggerPriceAbove TriggerKind = 2 // precio actual >= umbral
)

func (t TriggerKind) String() string {
	switch t {
	case TriggerTime:
		return "time"
	case TriggerPriceBelow:
		return "price_below"
	case TriggerPriceAbove:
		return "price_above"
	}
	return "unknown"
}

// Step es una unidad de ejecución configurada dentro de un Plan.
// Los steps son inmutables una vez creado el plan.
type Step struct {
	Index        int
	Trigger      TriggerKind
	TriggerValue uint64 // intervalo en ms (Time) o umbral de precio en unidades raw del input (Price*)
	InputAmount  uint64 // cantidad a invertir en este step, en unidades nativas del ledger
	SlippageBps  int
	ExecutedAt   *time.Time
	CompletedAt  *time.Time
}

// Plan es el estado autoritativo de un plan tal y como vive en el ledger.
// El ledger es la única autoridad sobre CurrentStep, Active y las cantidades;
// lo local es siempre una proyección de lectura.
type Plan struct {
	ID              string // object id en el ledger
	Owner           string
	InputCoin       string // tipo del asset invertido (p.ej. 0x...::usdc::USDC)
	OutputCoin      string // tipo del asset comprado
	TotalAmount     uint64 // unidades nativas
	RemainingAmount uint64
	CurrentStep     int
	Steps           []Step
	Active          bool
}

// Finished indica si el plan no tiene más steps que ejecutar.
func (p *Plan) Finished() bool {
	return !p.Active || p.CurrentStep >= len(p.Steps)
}

// Current devuelve el step actual, o false si el plan ya terminó.
func (p *Plan) Current() (Step, bool) {
	if p.CurrentStep < 0 || p.CurrentStep >= len(p.Steps) {
		return Step{}, false
	}
	return p.Steps[p.CurrentStep], true
}

// PlanProjection es la fila que persistimos para la API y el listado local.
// Las cantidades están normalizadas a escala humana (divididas por 10^decimals).
type PlanProjection struct {
	PlanID          string
	Owner           string
	InputCoin       string
	OutputCoin      string
	InputAmount     float64 // total invertido, escala humana
	RemainingAmount float64
	CurrentStep     int
	Steps           []Step
	Status          PlanStatus
	TotalTrades     int
	LastExecutedAt  *time.Time
	CreatedAt       time.Time
	UpdatedAt       time.Time
}
