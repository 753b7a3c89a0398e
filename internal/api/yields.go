package api

import (
	"fmt"
	"log/slog"
	"net/http"
)

// YieldBreakdown es el desglose por asset comprado.
type YieldBreakdown struct {
	Coin         string  `json:"coin"`
	Amount       float64 `json:"amount"`
	Invested     float64 `json:"invested"`
	CurrentValue float64 `json:"currentValue"`
	ROI          string  `json:"roi"`
}

// YieldResponse es el resumen de rendimiento del DCA de un usuario.
type YieldResponse struct {
	Message           string           `json:"message,omitempty"`
	TotalInvested     string           `json:"totalInvested"`
	TotalCurrentValue string           `json:"totalCurrentValue"`
	ROI               string           `json:"roi"`
	Breakdown         []YieldBreakdown `json:"breakdown"`
}

// handleYields agrupa los trades del usuario por asset comprado y valora
// la posición acumulada al precio actual del venue contra el stablecoin.
func (s *Server) handleYields(w http.ResponseWriter, r *http.Request) {
	user := r.URL.Query().Get("user")
	if user == "" {
		writeError(w, http.StatusBadRequest, "missing 'user' address")
		return
	}

	trades, err := s.store.TradesByOwner(r.Context(), user)
	if err != nil {
		slog.Error("yields query failed", "user", user, "err", err)
		writeError(w, http.StatusInternalServerError, "query failed")
		return
	}

	if len(trades) == 0 {
		writeJSON(w, http.StatusOK, YieldResponse{
			Message:           "No DCA history found for this user.",
			TotalInvested:     "0.00",
			TotalCurrentValue: "0.00",
			ROI:               "0.00%",
			Breakdown:         []YieldBreakdown{},
		})
		return
	}

	type position struct {
		amount   float64
		invested float64
	}
	positions := make(map[string]*position)
	for _, t := range trades {
		p, ok := positions[t.OutputCoin]
		if !ok {
			p = &position{}
			positions[t.OutputCoin] = p
		}
		p.amount += t.OutputAmount
		// El input del DCA se asume anclado a USD (el caso soportado:
		// stablecoin → asset). Para otros pares es una aproximación.
		p.invested += t.InputAmount
	}

	var totalInvested, totalValue float64
	breakdown := make([]YieldBreakdown, 0, len(positions))
	for coin, p := range positions {
		value := p.amount
		if coin != s.stableCoin {
			price, err := s.venue.GetPrice(r.Context(), coin, s.stableCoin)
			if err != nil {
				slog.Warn("no price for yield valuation", "coin", coin, "err", err)
				price = 0
			}
			value = p.amount * price
		}

		totalInvested += p.invested
		totalValue += value
		breakdown = append(breakdown, YieldBreakdown{
			Coin:         coin,
			Amount:       p.amount,
			Invested:     p.invested,
			CurrentValue: value,
			ROI:          roiPercent(p.invested, value),
		})
	}

	writeJSON(w, http.StatusOK, YieldResponse{
		TotalInvested:     fmt.Sprintf("%.2f", totalInvested),
		TotalCurrentValue: fmt.Sprintf("%.2f", totalValue),
		ROI:               roiPercent(totalInvested, totalValue),
		Breakdown:         breakdown,
	})
}

func roiPercent(invested, value float64) string {
	if invested <= 0 {
		return "0.00%"
	}
	return fmt.Sprintf("%.2f%%", (value-invested)/invested*100)
}
