package notify

import (
	"context"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/olekukonko/tablewriter"

	"github.com/lanternfi/lantern-keeper/internal/domain"
)

// Console implementa ports.Notifier escribiendo los trades ejecutados
// en stdout: una línea compacta por defecto, tabla completa con --table.
type Console struct {
	out   io.Writer
	table bool
}

// NewConsole crea un notificador que escribe a stdout.
func NewConsole(table bool) *Console {
	return &Console{out: os.Stdout, table: table}
}

// NewConsoleWriter crea un notificador para tests.
func NewConsoleWriter(w io.Writer, table bool) *Console {
	return &Console{out: w, table: table}
}

// Notify imprime los trades del ciclo en el modo configurado.
func (c *Console) Notify(_ context.Context, trades []domain.Trade) error {
	if len(trades) == 0 {
		return nil
	}

	if c.table {
		c.printTable(trades)
	} else {
		c.printCompact(trades)
	}
	return nil
}

// printCompact imprime una línea por trade.
func (c *Console) printCompact(trades []domain.Trade) {
	now := time.Now().Format("15:04:05")
	for _, t := range trades {
		fmt.Fprintf(c.out, "[%s] plan %s step %d: %.6f %s → %.6f %s (px %.6f) %s\n",
			now, shortID(t.PlanID), t.StepIndex,
			t.InputAmount, coinSymbol(t.InputCoin),
			t.OutputAmount, coinSymbol(t.OutputCoin),
			t.PriceAtExecution, shortID(t.TxDigest))
	}
}

// printTable imprime la tabla completa del batch.
func (c *Console) printTable(trades []domain.Trade) {
	fmt.Fprintf(c.out, "\n[%s] %d trade(s) executed\n", time.Now().Format("15:04:05"), len(trades))

	table := tablewriter.NewWriter(c.out)
	table.Header("Plan", "Step", "In", "Out", "Price", "Digest")

	for _, t := range trades {
		out := fmt.Sprintf("%.6f %s", t.OutputAmount, coinSymbol(t.OutputCoin))
		if t.OutputAmount == 0 {
			out = "swap failed" // step avanzado pero swap sin ejecutar
		}
		table.Append(
			shortID(t.PlanID),
			fmt.Sprintf("%d", t.StepIndex),
			fmt.Sprintf("%.6f %s", t.InputAmount, coinSymbol(t.InputCoin)),
			out,
			fmt.Sprintf("%.6f", t.PriceAtExecution),
			shortID(t.TxDigest),
		)
	}

	table.Render()
}

// shortID acorta un object id / digest para el log humano.
func shortID(id string) string {
	if len(id) <= 10 {
		return id
	}
	return id[:6] + "…" + id[len(id)-4:]
}

// coinSymbol extrae el último segmento del coin type: "0x..::usdc::USDC" → "USDC".
func coinSymbol(coinType string) string {
	for i := len(coinType) - 1; i >= 2; i-- {
		if coinType[i-1] == ':' && coinType[i-2] == ':' {
			return coinType[i:]
		}
	}
	return coinType
}
