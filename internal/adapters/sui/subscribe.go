package sui

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"nhooyr.io/websocket"

	"github.com/lanternfi/lantern-keeper/internal/domain"
	"github.com/lanternfi/lantern-keeper/internal/ports"
)

const (
	dialTimeout       = 30 * time.Second
	baseReconnectWait = 5 * time.Second
	maxReconnectWait  = 5 * time.Minute
)

// wsNotification es el frame que el nodo manda por cada evento suscrito.
type wsNotification struct {
	Method string `json:"method"`
	Params struct {
		Result rawEvent `json:"result"`
	} `json:"params"`
}

// Subscribe abre una suscripción websocket para el tipo de evento dado.
// Si el dial inicial falla, devuelve error — el caller degrada a polling.
// Una vez establecida, las caídas se reconectan en background con backoff
// exponencial con tope; los eventos perdidos durante la reconexión los
// recupera el canal de polling.
func (c *Client) Subscribe(ctx context.Context, kind domain.EventKind, handler func(domain.LedgerEvent)) (ports.Unsubscribe, error) {
	subCtx, cancel := context.WithCancel(ctx)

	conn, err := c.dialAndSubscribe(subCtx, kind)
	if err != nil {
		cancel()
		return nil, fmt.Errorf("sui.Subscribe(%s): %w", kind, err)
	}

	go c.readLoop(subCtx, conn, kind, handler)

	return func() { cancel() }, nil
}

// dialAndSubscribe conecta y manda la petición suix_subscribeEvent.
func (c *Client) dialAndSubscribe(ctx context.Context, kind domain.EventKind) (*websocket.Conn, error) {
	dialCtx, cancel := context.WithTimeout(ctx, dialTimeout)
	defer cancel()

	conn, _, err := websocket.Dial(dialCtx, c.wsURL, nil)
	if err != nil {
		return nil, fmt.Errorf("dial %s: %w", c.wsURL, err)
	}
	conn.SetReadLimit(1 << 20)

	sub := rpcRequest{
		Jsonrpc: "2.0",
		ID:      c.reqID.Add(1),
		Method:  "suix_subscribeEvent",
		Params:  []any{map[string]any{"MoveEventType": c.eventType(string(kind))}},
	}
	body, err := json.Marshal(sub)
	if err != nil {
		conn.Close(websocket.StatusInternalError, "marshal")
		return nil, err
	}
	if err := conn.Write(ctx, websocket.MessageText, body); err != nil {
		conn.Close(websocket.StatusInternalError, "subscribe write")
		return nil, fmt.Errorf("send subscribe: %w", err)
	}

	// Primera respuesta: el id de suscripción (o un error del nodo)
	_, resp, err := conn.Read(ctx)
	if err != nil {
		conn.Close(websocket.StatusInternalError, "subscribe read")
		return nil, fmt.Errorf("read subscribe ack: %w", err)
	}
	var ack rpcResponse
	if err := json.Unmarshal(resp, &ack); err == nil && ack.Error != nil {
		conn.Close(websocket.StatusNormalClosure, "rejected")
		return nil, ack.Error
	}

	slog.Info("event subscription active", "kind", kind)
	return conn, nil
}

// readLoop lee notificaciones hasta que el contexto se cancela,
// reconectando con backoff si la conexión se cae.
func (c *Client) readLoop(ctx context.Context, conn *websocket.Conn, kind domain.EventKind, handler func(domain.LedgerEvent)) {
	defer func() {
		if conn != nil {
			conn.Close(websocket.StatusNormalClosure, "unsubscribed")
		}
	}()

	wait := baseReconnectWait
	for {
		if ctx.Err() != nil {
			return
		}

		if conn == nil {
			select {
			case <-ctx.Done():
				return
			case <-time.After(wait):
			}
			if wait *= 2; wait > maxReconnectWait {
				wait = maxReconnectWait
			}

			next, err := c.dialAndSubscribe(ctx, kind)
			if err != nil {
				slog.Warn("resubscribe failed", "kind", kind, "wait", wait, "err", err)
				continue
			}
			conn = next
		}

		_, msg, err := conn.Read(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			slog.Warn("subscription dropped, reconnecting", "kind", kind, "err", err)
			conn.Close(websocket.StatusAbnormalClosure, "read failed")
			conn = nil
			continue
		}

		wait = baseReconnectWait // conexión sana: resetear backoff

		var note wsNotification
		if err := json.Unmarshal(msg, &note); err != nil || note.Method == "" {
			continue // ack u otro frame de control
		}
		ev, err := parseEvent(kind, note.Params.Result)
		if err != nil {
			slog.Debug("skipping malformed event", "kind", kind, "err", err)
			continue
		}
		handler(ev)
	}
}
