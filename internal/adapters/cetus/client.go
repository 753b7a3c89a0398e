package cetus

// client.go — cliente del venue de swaps (pools CLMM estilo Cetus).
//
// El registro de pares es estático (viene del YAML): en testnet los pools
// no cambian y consultarlos dinámicamente era la mayor fuente de latencia
// del keeper original. El precio sí se lee del pool on-chain en cada consulta.

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"math"
	"net/http"
	"strconv"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/lanternfi/lantern-keeper/internal/domain"
	"github.com/lanternfi/lantern-keeper/internal/ports"
)

const (
	rpcRatePerSec = 6
	maxRetries    = 3
	baseRetryWait = 500 * time.Millisecond
)

// Pair es un pool conocido del venue.
type Pair struct {
	Name          string
	PoolID        string
	Base          string
	BaseDecimals  int
	Quote         string
	QuoteDecimals int
}

// Client habla con el venue vía el nodo: lee pools y construye swaps.
type Client struct {
	http    *http.Client
	rpcURL  string
	limiter *rate.Limiter
	pairs   []Pair

	mu       sync.RWMutex
	decimals map[string]int // coin type → decimales
	reqID    int64
}

// NewClient crea un Client con el registro de pares dado.
// Los decimales de los pares configurados se cachean de entrada.
func NewClient(rpcURL string, pairs []Pair) *Client {
	c := &Client{
		http:     &http.Client{Timeout: 10 * time.Second},
		rpcURL:   rpcURL,
		limiter:  rate.NewLimiter(rpcRatePerSec, 10),
		pairs:    pairs,
		decimals: make(map[string]int),
	}
	for _, p := range pairs {
		c.decimals[p.Base] = p.BaseDecimals
		c.decimals[p.Quote] = p.QuoteDecimals
	}
	return c
}

// findPool busca un pool para el par, en cualquier dirección.
// Devuelve el par y si la dirección pedida coincide con base→quote.
func (c *Client) findPool(inputCoin, outputCoin string) (Pair, bool, error) {
	for _, p := range c.pairs {
		if p.Base == inputCoin && p.Quote == outputCoin {
			return p, true, nil
		}
		if p.Base == outputCoin && p.Quote == inputCoin {
			return p, false, nil
		}
	}
	return Pair{}, false, ports.ErrNoPool
}

// GetCoinDecimals devuelve los decimales del asset, consultando los
// metadatos on-chain si no están en cache.
func (c *Client) GetCoinDecimals(ctx context.Context, coin string) (int, error) {
	c.mu.RLock()
	d, ok := c.decimals[coin]
	c.mu.RUnlock()
	if ok {
		return d, nil
	}

	var meta struct {
		Decimals int `json:"decimals"`
	}
	if err := c.call(ctx, "suix_getCoinMetadata", []any{coin}, &meta); err != nil {
		return 0, fmt.Errorf("cetus.GetCoinDecimals(%s): %w", coin, err)
	}

	c.mu.Lock()
	c.decimals[coin] = meta.Decimals
	c.mu.Unlock()
	return meta.Decimals, nil
}

// poolFields es el layout parcial del objeto pool que nos interesa.
type poolFields struct {
	CurrentSqrtPrice string      `json:"current_sqrt_price"`
	Liquidity        string      `json:"liquidity"`
	FeeRate          json.Number `json:"fee_rate"` // ppm
}

// GetPrice devuelve el precio spot de inputCoin en outputCoin leyendo el
// sqrt-price del pool. Cualquier fallo se traduce a ErrPriceUnavailable:
// el evaluador de triggers hace fail-closed con eso.
func (c *Client) GetPrice(ctx context.Context, inputCoin, outputCoin string) (float64, error) {
	pair, direct, err := c.findPool(inputCoin, outputCoin)
	if err != nil {
		return 0, fmt.Errorf("cetus.GetPrice %s/%s: %w", inputCoin, outputCoin, ports.ErrPriceUnavailable)
	}

	fields, err := c.poolState(ctx, pair.PoolID)
	if err != nil {
		return 0, fmt.Errorf("cetus.GetPrice %s: %w", pair.Name, ports.ErrPriceUnavailable)
	}

	price, err := sqrtPriceToPrice(fields.CurrentSqrtPrice, pair.BaseDecimals, pair.QuoteDecimals)
	if err != nil {
		return 0, fmt.Errorf("cetus.GetPrice %s: %w", pair.Name, ports.ErrPriceUnavailable)
	}

	if !direct {
		if price == 0 {
			return 0, fmt.Errorf("cetus.GetPrice %s: zero price: %w", pair.Name, ports.ErrPriceUnavailable)
		}
		price = 1 / price
	}
	return price, nil
}

// sqrtPriceToPrice convierte el sqrt-price X64 del pool a precio humano:
// (sqrt / 2^64)^2 ajustado por la diferencia de decimales base/quote.
func sqrtPriceToPrice(sqrtX64 string, baseDecimals, quoteDecimals int) (float64, error) {
	sp, err := strconv.ParseFloat(sqrtX64, 64)
	if err != nil {
		return 0, fmt.Errorf("parse sqrt price %q: %w", sqrtX64, err)
	}
	ratio := sp / math.Pow(2, 64)
	return ratio * ratio * math.Pow(10, float64(baseDecimals-quoteDecimals)), nil
}

// poolState lee los campos del objeto pool.
func (c *Client) poolState(ctx context.Context, poolID string) (*poolFields, error) {
	var resp struct {
		Data *struct {
			Content *struct {
				Fields poolFields `json:"fields"`
			} `json:"content"`
		} `json:"data"`
	}
	params := []any{poolID, map[string]any{"showContent": true}}
	if err := c.call(ctx, "sui_getObject", params, &resp); err != nil {
		return nil, err
	}
	if resp.Data == nil || resp.Data.Content == nil {
		return nil, fmt.Errorf("pool %s not found", poolID)
	}
	return &resp.Data.Content.Fields, nil
}

// swapCall es el envelope del swap serializado en Transaction.Payload.
type swapCall struct {
	PoolID      string `json:"poolId"`
	InputCoin   string `json:"inputCoin"`
	OutputCoin  string `json:"outputCoin"`
	Amount      uint64 `json:"amount"`
	SlippageBps int    `json:"slippageBps"`
	AToB        bool   `json:"aToB"`
}

// BuildSwap construye la transacción de swap para el par y cantidad dados.
func (c *Client) BuildSwap(ctx context.Context, inputCoin, outputCoin string, amount uint64, slippageBps int) (domain.Transaction, error) {
	pair, direct, err := c.findPool(inputCoin, outputCoin)
	if err != nil {
		return domain.Transaction{}, fmt.Errorf("cetus.BuildSwap %s/%s: %w", inputCoin, outputCoin, err)
	}

	payload, err := json.Marshal(swapCall{
		PoolID:      pair.PoolID,
		InputCoin:   inputCoin,
		OutputCoin:  outputCoin,
		Amount:      amount,
		SlippageBps: slippageBps,
		AToB:        direct,
	})
	if err != nil {
		return domain.Transaction{}, fmt.Errorf("cetus.BuildSwap: %w", err)
	}

	return domain.Transaction{Kind: "swap", Payload: payload}, nil
}

// AllPairs consulta en paralelo el estado de todos los pares configurados.
// Los pools que no responden salen con Price nil, no rompen la respuesta.
func (c *Client) AllPairs(ctx context.Context) ([]ports.PairInfo, error) {
	infos := make([]ports.PairInfo, len(c.pairs))

	var wg sync.WaitGroup
	for i, pair := range c.pairs {
		wg.Add(1)
		go func(i int, pair Pair) {
			defer wg.Done()
			infos[i] = c.pairInfo(ctx, pair)
		}(i, pair)
	}
	wg.Wait()

	return infos, nil
}

func (c *Client) pairInfo(ctx context.Context, pair Pair) ports.PairInfo {
	info := ports.PairInfo{
		Name:        pair.Name,
		Base:        pair.Base,
		Quote:       pair.Quote,
		PoolID:      pair.PoolID,
		LastUpdated: time.Now().UTC(),
	}

	fields, err := c.poolState(ctx, pair.PoolID)
	if err != nil {
		return info
	}

	if price, err := sqrtPriceToPrice(fields.CurrentSqrtPrice, pair.BaseDecimals, pair.QuoteDecimals); err == nil {
		info.Price = &price
	}
	if liq, err := strconv.ParseFloat(fields.Liquidity, 64); err == nil {
		info.Liquidity = &liq
	}
	if ppm, err := fields.FeeRate.Float64(); err == nil {
		pct := ppm / 10000 // ppm → porcentaje
		info.FeeRatePct = &pct
	}
	return info
}

// ---- transporte JSON-RPC (mismo esquema que el cliente del ledger) ----

type rpcRequest struct {
	Jsonrpc string `json:"jsonrpc"`
	ID      int64  `json:"id"`
	Method  string `json:"method"`
	Params  []any  `json:"params"`
}

type rpcResponse struct {
	Result json.RawMessage `json:"result"`
	Error  *struct {
		Code    int    `json:"code"`
		Message string `json:"message"`
	} `json:"error"`
}

func (c *Client) call(ctx context.Context, method string, params []any, out any) error {
	c.mu.Lock()
	c.reqID++
	id := c.reqID
	c.mu.Unlock()

	body, err := json.Marshal(rpcRequest{Jsonrpc: "2.0", ID: id, Method: method, Params: params})
	if err != nil {
		return fmt.Errorf("marshal %s: %w", method, err)
	}

	var lastErr error
	for attempt := 0; attempt <= maxRetries; attempt++ {
		if err := c.limiter.Wait(ctx); err != nil {
			return fmt.Errorf("rate limiter: %w", err)
		}

		req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.rpcURL, bytes.NewReader(body))
		if err != nil {
			return err
		}
		req.Header.Set("Content-Type", "application/json")

		resp, err := c.http.Do(req)
		if err == nil {
			lastErr = decodeRPC(resp, out)
			if lastErr == nil {
				return nil
			}
		} else {
			lastErr = err
		}

		if attempt < maxRetries {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(baseRetryWait * (1 << attempt)):
			}
		}
	}
	return fmt.Errorf("%s after %d retries: %w", method, maxRetries, lastErr)
}

func decodeRPC(resp *http.Response, out any) error {
	defer resp.Body.Close()
	data, err := io.ReadAll(io.LimitReader(resp.Body, 4<<20))
	if err != nil {
		return fmt.Errorf("read body: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("node returned %d", resp.StatusCode)
	}

	var rr rpcResponse
	if err := json.Unmarshal(data, &rr); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	if rr.Error != nil {
		return fmt.Errorf("rpc error %d: %s", rr.Error.Code, rr.Error.Message)
	}
	if out != nil {
		return json.Unmarshal(rr.Result, out)
	}
	return nil
}
