package sui

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/lanternfi/lantern-keeper/internal/domain"
	"github.com/lanternfi/lantern-keeper/internal/ports"
)

// objectResponse es la respuesta parcial de sui_getObject que nos interesa.
type objectResponse struct {
	Data *struct {
		ObjectID string `json:"objectId"`
		Content  *struct {
			Type   string          `json:"type"`
			Fields json.RawMessage `json:"fields"`
		} `json:"content"`
	} `json:"data"`
	Error *struct {
		Code string `json:"code"`
	} `json:"error"`
}

// planFields es el layout on-chain del objeto Plan.
type planFields struct {
	Owner            string       `json:"owner"`
	CurrentStepIndex json.Number  `json:"current_step_index"`
	Active           bool         `json:"active"`
	Principal        balanceField `json:"principal"`
	AccumulatedOut   balanceField `json:"accumulated_output"`
	Steps            []stepField  `json:"steps"`
}

type balanceField struct {
	Fields struct {
		Value json.Number `json:"value"`
	} `json:"fields"`
}

type stepField struct {
	Fields struct {
		Trigger struct {
			Fields struct {
				Tag json.Number `json:"tag"`
			} `json:"fields"`
		} `json:"trigger"`
		TriggerVal        json.Number `json:"trigger_val"`
		InputAmount       json.Number `json:"input_amount"`
		SlippageTolerance json.Number `json:"slippage_tolerance"`
	} `json:"fields"`
}

// GetPlanState lee el objeto Plan del ledger y lo convierte al dominio.
// Los tipos de input/output salen de los type params del objeto:
// 0xPKG::dca_plan::Plan<CoinIn, CoinOut>.
func (c *Client) GetPlanState(ctx context.Context, planID string) (*domain.Plan, error) {
	var resp objectResponse
	params := []any{planID, map[string]any{"showContent": true}}
	if err := c.call(ctx, "sui_getObject", params, &resp); err != nil {
		return nil, fmt.Errorf("sui.GetPlanState: %w", err)
	}

	if resp.Error != nil || resp.Data == nil || resp.Data.Content == nil {
		return nil, ports.ErrNotFound
	}

	var fields planFields
	if err := json.Unmarshal(resp.Data.Content.Fields, &fields); err != nil {
		return nil, fmt.Errorf("sui.GetPlanState: parse fields: %w", err)
	}

	inCoin, outCoin, err := coinTypesFromObjectType(resp.Data.Content.Type)
	if err != nil {
		return nil, fmt.Errorf("sui.GetPlanState: %w", err)
	}

	plan := &domain.Plan{
		ID:              planID,
		Owner:           fields.Owner,
		InputCoin:       inCoin,
		OutputCoin:      outCoin,
		TotalAmount:     numberToUint64(fields.Principal.Fields.Value),
		RemainingAmount: numberToUint64(fields.AccumulatedOut.Fields.Value),
		CurrentStep:     int(numberToUint64(fields.CurrentStepIndex)),
		Active:          fields.Active,
	}

	plan.Steps = make([]domain.Step, 0, len(fields.Steps))
	for i, s := range fields.Steps {
		plan.Steps = append(plan.Steps, domain.Step{
			Index:        i,
			Trigger:      domain.TriggerKind(numberToUint64(s.Fields.Trigger.Fields.Tag)),
			TriggerValue: numberToUint64(s.Fields.TriggerVal),
			InputAmount:  numberToUint64(s.Fields.InputAmount),
			SlippageBps:  int(numberToUint64(s.Fields.SlippageTolerance)),
		})
	}

	return plan, nil
}

// coinTypesFromObjectType extrae los dos type params de un tipo genérico
// "0xPKG::dca_plan::Plan<0x..::usdc::USDC, 0x2::sui::SUI>".
func coinTypesFromObjectType(objType string) (string, string, error) {
	open := strings.Index(objType, "<")
	end := strings.LastIndex(objType, ">")
	if open < 0 || end <= open {
		return "", "", fmt.Errorf("object type %q has no type params", objType)
	}

	inner := objType[open+1 : end]
	parts := splitTypeParams(inner)
	if len(parts) != 2 {
		return "", "", fmt.Errorf("object type %q: expected 2 type params, got %d", objType, len(parts))
	}
	return strings.TrimSpace(parts[0]), strings.TrimSpace(parts[1]), nil
}

// splitTypeParams separa por comas al nivel superior, respetando genéricos anidados.
func splitTypeParams(s string) []string {
	var parts []string
	depth, start := 0, 0
	for i, r := range s {
		switch r {
		case '<':
			depth++
		case '>':
			depth--
		case ',':
			if depth == 0 {
				parts = append(parts, s[start:i])
				start = i + 1
			}
		}
	}
	parts = append(parts, s[start:])
	return parts
}

func numberToUint64(n json.Number) uint64 {
	v, err := strconv.ParseUint(n.String(), 10, 64)
	if err != nil {
		return 0
	}
	return v
}

// eventPage es la respuesta de suix_queryEvents.
type eventPage struct {
	Data []rawEvent `json:"data"`
}

type rawEvent struct {
	ID struct {
		TxDigest string `json:"txDigest"`
		EventSeq string `json:"eventSeq"`
	} `json:"id"`
	ParsedJSON  json.RawMessage `json:"parsedJson"`
	TimestampMs json.Number     `json:"timestampMs"`
}

// planCreatedPayload es el parsedJson de un evento PlanCreated.
type planCreatedPayload struct {
	PlanID string `json:"plan_id"`
}

// stepExecutedPayload es el parsedJson de un evento StepExecuted.
type stepExecutedPayload struct {
	PlanID    string      `json:"plan_id"`
	StepIndex json.Number `json:"step_index"`
	AmountIn  json.Number `json:"amount_in"`
	AmountOut json.Number `json:"amount_out"`
}

// QueryEventsSince pagina el log de eventos estrictamente después del cursor,
// en orden ascendente (el más antiguo primero). Un cursor zero empieza desde
// el principio del log.
func (c *Client) QueryEventsSince(ctx context.Context, kind domain.EventKind, after domain.EventCursor, limit int) ([]domain.LedgerEvent, error) {
	filter := map[string]any{"MoveEventType": c.eventType(string(kind))}

	var cursor any
	if !after.IsZero() {
		cursor = map[string]string{"txDigest": after.TxDigest, "eventSeq": after.EventSeq}
	}

	var page eventPage
	// params: filter, cursor, limit, descending=false → ascendente, después del cursor
	params := []any{filter, cursor, limit, false}
	if err := c.call(ctx, "suix_queryEvents", params, &page); err != nil {
		return nil, fmt.Errorf("sui.QueryEventsSince(%s): %w", kind, err)
	}

	events := make([]domain.LedgerEvent, 0, len(page.Data))
	for _, raw := range page.Data {
		ev, err := parseEvent(kind, raw)
		if err != nil {
			// Evento malformado: se loguea arriba, no rompe la página
			continue
		}
		events = append(events, ev)
	}
	return events, nil
}

func parseEvent(kind domain.EventKind, raw rawEvent) (domain.LedgerEvent, error) {
	ev := domain.LedgerEvent{
		Kind: kind,
		Cursor: domain.EventCursor{
			TxDigest: raw.ID.TxDigest,
			EventSeq: raw.ID.EventSeq,
		},
	}
	if ms := numberToUint64(raw.TimestampMs); ms > 0 {
		ev.Timestamp = time.UnixMilli(int64(ms)).UTC()
	}

	switch kind {
	case domain.EventPlanCreated:
		var p planCreatedPayload
		if err := json.Unmarshal(raw.ParsedJSON, &p); err != nil || p.PlanID == "" {
			return ev, fmt.Errorf("parse PlanCreated: %v", err)
		}
		ev.PlanID = p.PlanID

	case domain.EventStepExecuted:
		var p stepExecutedPayload
		if err := json.Unmarshal(raw.ParsedJSON, &p); err != nil || p.PlanID == "" {
			return ev, fmt.Errorf("parse StepExecuted: %v", err)
		}
		ev.PlanID = p.PlanID
		ev.StepIndex = int(numberToUint64(p.StepIndex))
		ev.AmountIn = numberToUint64(p.AmountIn)
		ev.AmountOut = numberToUint64(p.AmountOut)

	default:
		return ev, fmt.Errorf("unknown event kind %q", kind)
	}

	return ev, nil
}
