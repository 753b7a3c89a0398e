package domain

// Transaction es una transacción construida y lista para firmar.
// El payload es opaco para el engine: lo construye un adapter y lo
// firma/envía el cliente del ledger.
type Transaction struct {
	Kind      string // "advance_step" | "swap"
	Payload   []byte
	GasBudget uint64
}
