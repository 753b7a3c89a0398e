package sui

import (
	"context"
	"crypto/ed25519"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"time"

	"github.com/lanternfi/lantern-keeper/internal/domain"
	"github.com/lanternfi/lantern-keeper/internal/ports"
)

// clockObjectID es el objeto Clock compartido del ledger.
const clockObjectID = "0x0000000000000000000000000000000000000000000000000000000000000006"

// moveCall es el envelope serializado en Transaction.Payload.
type moveCall struct {
	Target    string   `json:"target"`
	TypeArgs  []string `json:"typeArguments"`
	Arguments []any    `json:"arguments"`
	Sender    string   `json:"sender"`
	GasBudget uint64   `json:"gasBudget"`
}

// BuildAdvanceTransaction construye la llamada advance_step para el plan.
// El contrato solo avanza el índice de step — el swap real lo hace el keeper
// off-chain contra el venue.
func (c *Client) BuildAdvanceTransaction(plan *domain.Plan) (domain.Transaction, error) {
	if plan.InputCoin == "" || plan.OutputCoin == "" {
		return domain.Transaction{}, fmt.Errorf("sui.BuildAdvanceTransaction: plan %s missing coin types", plan.ID)
	}

	call := moveCall{
		Target:   fmt.Sprintf("%s::%s::advance_step", c.pkg, c.module),
		TypeArgs: []string{plan.InputCoin, plan.OutputCoin},
		Arguments: []any{
			plan.ID,
			fmt.Sprintf("%d", time.Now().UnixMilli()),
			clockObjectID,
		},
		Sender:    c.address,
		GasBudget: c.gas,
	}

	payload, err := json.Marshal(call)
	if err != nil {
		return domain.Transaction{}, fmt.Errorf("sui.BuildAdvanceTransaction: %w", err)
	}

	return domain.Transaction{Kind: "advance_step", Payload: payload, GasBudget: c.gas}, nil
}

// executeResponse es la respuesta parcial de sui_executeTransactionBlock.
type executeResponse struct {
	Digest  string `json:"digest"`
	Effects *struct {
		Status struct {
			Status string `json:"status"` // "success" | "failure"
			Error  string `json:"error"`
		} `json:"status"`
	} `json:"effects"`
}

// SubmitTransaction firma el payload y lo envía al nodo.
// En modo observación devuelve ErrNoCredentials sin tocar la red.
func (c *Client) SubmitTransaction(ctx context.Context, tx domain.Transaction) (ports.SubmitResult, error) {
	if c.signer == nil {
		return ports.SubmitResult{}, ports.ErrNoCredentials
	}

	sig := base64.StdEncoding.EncodeToString(ed25519.Sign(c.signer, tx.Payload))
	txBytes := base64.StdEncoding.EncodeToString(tx.Payload)

	var resp executeResponse
	params := []any{
		txBytes,
		[]string{sig},
		map[string]any{"showEffects": true, "showEvents": true},
		"WaitForLocalExecution",
	}
	if err := c.call(ctx, "sui_executeTransactionBlock", params, &resp); err != nil {
		// Fallo de transporte o rechazo del nodo: cuenta como submission failure
		return ports.SubmitResult{Success: false, Err: err.Error()}, nil
	}

	if resp.Effects != nil && resp.Effects.Status.Status == "failure" {
		return ports.SubmitResult{
			Digest:  resp.Digest,
			Success: false,
			Err:     resp.Effects.Status.Error,
		}, nil
	}

	return ports.SubmitResult{Digest: resp.Digest, Success: true}, nil
}

// txStatusResponse es la respuesta parcial de sui_getTransactionBlock.
type txStatusResponse struct {
	Effects *struct {
		Status struct {
			Status string `json:"status"`
		} `json:"status"`
	} `json:"effects"`
}

// WaitForConfirmation hace polling del estado de la transacción cada 2s
// hasta que alcanza finalidad o expira el timeout. false sin error = timeout.
func (c *Client) WaitForConfirmation(ctx context.Context, digest string, timeout time.Duration) (bool, error) {
	if digest == "" {
		return false, nil
	}

	deadline := time.Now().Add(timeout)
	ticker := time.NewTicker(confirmPollInterval)
	defer ticker.Stop()

	for {
		var resp txStatusResponse
		params := []any{digest, map[string]any{"showEffects": true}}
		err := c.call(ctx, "sui_getTransactionBlock", params, &resp)
		if err == nil && resp.Effects != nil {
			return resp.Effects.Status.Status == "success", nil
		}
		// not-yet-indexed o fallo transitorio: seguir esperando

		if time.Now().After(deadline) {
			return false, nil
		}
		select {
		case <-ctx.Done():
			return false, ctx.Err()
		case <-ticker.C:
		}
	}
}
