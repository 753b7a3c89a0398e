package sui

import (
	"bytes"
	"context"
	"crypto/ed25519"
	"encoding/base64"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"sync/atomic"
	"time"

	"golang.org/x/time/rate"
)

const (
	// Rate limit conservador para el fullnode público: 100 req/10s → 10/s al 60%.
	rpcRatePerSec = 6

	maxRetries    = 3
	baseRetryWait = 500 * time.Millisecond

	confirmPollInterval = 2 * time.Second
)

// Config contiene lo necesario para hablar con el nodo.
type Config struct {
	RPCURL    string
	WSURL     string
	PackageID string
	DCAModule string
	KeeperKey string // hex o base64 del seed ed25519; vacío = modo observación
	GasBudget uint64
}

// Client es el cliente JSON-RPC del ledger con rate limiting y retries.
type Client struct {
	http    *http.Client
	rpcURL  string
	wsURL   string
	pkg     string
	module  string
	gas     uint64
	limiter *rate.Limiter
	signer  ed25519.PrivateKey // nil en modo observación
	address string
	reqID   atomic.Int64
}

// NewClient crea un Client para el nodo dado. Si cfg.KeeperKey está vacío,
// el cliente funciona en modo observación: todo excepto SubmitTransaction.
func NewClient(cfg Config) (*Client, error) {
	c := &Client{
		http:    &http.Client{Timeout: 15 * time.Second},
		rpcURL:  cfg.RPCURL,
		wsURL:   cfg.WSURL,
		pkg:     cfg.PackageID,
		module:  cfg.DCAModule,
		gas:     cfg.GasBudget,
		limiter: rate.NewLimiter(rpcRatePerSec, 10),
	}
	if c.module == "" {
		c.module = "dca_plan"
	}

	if cfg.KeeperKey != "" {
		key, err := parseKeeperKey(cfg.KeeperKey)
		if err != nil {
			return nil, fmt.Errorf("sui.NewClient: parse keeper key: %w", err)
		}
		c.signer = key
		c.address = keeperAddress(key)
		slog.Info("keeper keypair loaded", "address", c.address)
	} else {
		slog.Warn("KEEPER_PRIVATE_KEY not set — running in observe-only mode")
	}

	return c, nil
}

// Address devuelve la dirección del keeper, o "" en modo observación.
func (c *Client) Address() string { return c.address }

// CanSubmit indica si el cliente tiene credenciales para ejecutar.
func (c *Client) CanSubmit() bool { return c.signer != nil }

// parseKeeperKey acepta el seed ed25519 en hex (con o sin 0x) o base64.
func parseKeeperKey(raw string) (ed25519.PrivateKey, error) {
	s := strings.TrimPrefix(strings.TrimSpace(raw), "0x")

	if b, err := hex.DecodeString(s); err == nil && len(b) == ed25519.SeedSize {
		return ed25519.NewKeyFromSeed(b), nil
	}
	if b, err := base64.StdEncoding.DecodeString(s); err == nil && len(b) == ed25519.SeedSize {
		return ed25519.NewKeyFromSeed(b), nil
	}
	return nil, fmt.Errorf("key is not a %d-byte ed25519 seed in hex or base64", ed25519.SeedSize)
}

// keeperAddress deriva la dirección a partir de la clave pública.
func keeperAddress(key ed25519.PrivateKey) string {
	pub := key.Public().(ed25519.PublicKey)
	return "0x" + hex.EncodeToString(pub)[:64]
}

type rpcRequest struct {
	Jsonrpc string `json:"jsonrpc"`
	ID      int64  `json:"id"`
	Method  string `json:"method"`
	Params  []any  `json:"params"`
}

type rpcError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

func (e *rpcError) Error() string {
	return fmt.Sprintf("rpc error %d: %s", e.Code, e.Message)
}

type rpcResponse struct {
	Result json.RawMessage `json:"result"`
	Error  *rpcError       `json:"error"`
}

// call hace una llamada JSON-RPC con rate limiting y backoff exponencial.
// Los errores RPC del nodo no se reintentan — solo fallos de transporte y 5xx.
func (c *Client) call(ctx context.Context, method string, params []any, out any) error {
	body, err := json.Marshal(rpcRequest{
		Jsonrpc: "2.0",
		ID:      c.reqID.Add(1),
		Method:  method,
		Params:  params,
	})
	if err != nil {
		return fmt.Errorf("sui: marshal %s: %w", method, err)
	}

	var lastErr error
	for attempt := 0; attempt <= maxRetries; attempt++ {
		if err := c.limiter.Wait(ctx); err != nil {
			return fmt.Errorf("sui: rate limiter: %w", err)
		}

		req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.rpcURL, bytes.NewReader(body))
		if err != nil {
			return fmt.Errorf("sui: build request: %w", err)
		}
		req.Header.Set("Content-Type", "application/json")

		resp, err := c.http.Do(req)
		if err != nil {
			lastErr = err
		} else {
			lastErr = c.decode(resp, method, out)
			if lastErr == nil {
				return nil
			}
			// Errores del protocolo RPC son definitivos
			var re *rpcError
			if errors.As(lastErr, &re) {
				return lastErr
			}
		}

		if attempt < maxRetries {
			wait := baseRetryWait * (1 << attempt)
			slog.Debug("rpc retry", "method", method, "attempt", attempt+1, "wait", wait, "err", lastErr)
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(wait):
			}
		}
	}
	return fmt.Errorf("sui: %s after %d retries: %w", method, maxRetries, lastErr)
}

func (c *Client) decode(resp *http.Response, method string, out any) error {
	defer resp.Body.Close()
	data, err := io.ReadAll(io.LimitReader(resp.Body, 4<<20))
	if err != nil {
		return fmt.Errorf("read body: %w", err)
	}
	if resp.StatusCode >= 500 {
		return fmt.Errorf("node returned %d", resp.StatusCode)
	}
	if resp.StatusCode != http.StatusOK {
		return &rpcError{Code: resp.StatusCode, Message: string(data)}
	}

	var rr rpcResponse
	if err := json.Unmarshal(data, &rr); err != nil {
		return fmt.Errorf("decode %s response: %w", method, err)
	}
	if rr.Error != nil {
		return rr.Error
	}
	if out != nil {
		if err := json.Unmarshal(rr.Result, out); err != nil {
			return fmt.Errorf("decode %s result: %w", method, err)
		}
	}
	return nil
}

// eventType devuelve el MoveEventType completo para un evento del módulo DCA.
func (c *Client) eventType(name string) string {
	return fmt.Sprintf("%s::%s::%s", c.pkg, c.module, name)
}
