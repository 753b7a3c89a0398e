package storage

// sqlite.go — persistencia del keeper: proyecciones de planes, trades
// idempotentes y cursores de polling.
//
// Estrategia:
//   - `plans`: una fila por plan (UPSERT). Proyección de lectura para la API;
//     el ledger sigue siendo la autoridad sobre el estado real.
//   - `trades`: append-only con PRIMARY KEY en trade_id (el digest de la tx
//     de avance). INSERT OR IGNORE hace la escritura idempotente.
//   - `cursors`: un (key, posición) por canal de polling. Upsert simple.
//   - Prune al arrancar: planes terminados sin actividad en 90 días.

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	_ "modernc.org/sqlite"

	"github.com/lanternfi/lantern-keeper/internal/domain"
	"github.com/lanternfi/lantern-keeper/internal/ports"
)

const schema = `
-- Proyección local de cada plan DCA
CREATE TABLE IF NOT EXISTS plans (
    plan_id          TEXT PRIMARY KEY,
    owner            TEXT NOT NULL,
    input_coin       TEXT NOT NULL,
    output_coin      TEXT NOT NULL,
    input_amount     REAL NOT NULL DEFAULT 0,
    remaining_amount REAL NOT NULL DEFAULT 0,
    current_step     INTEGER NOT NULL DEFAULT 0,
    steps            TEXT NOT NULL DEFAULT '[]',
    status           TEXT NOT NULL DEFAULT 'active',
    total_trades     INTEGER NOT NULL DEFAULT 0,
    last_executed_at DATETIME,
    created_at       DATETIME NOT NULL,
    updated_at       DATETIME NOT NULL
);

-- Registro idempotente de swaps ejecutados
CREATE TABLE IF NOT EXISTS trades (
    trade_id           TEXT PRIMARY KEY,
    plan_id            TEXT NOT NULL,
    owner              TEXT NOT NULL,
    step_index         INTEGER NOT NULL,
    input_amount       REAL NOT NULL,
    output_amount      REAL NOT NULL,
    input_coin         TEXT NOT NULL,
    output_coin        TEXT NOT NULL,
    tx_digest          TEXT NOT NULL,
    price_at_execution REAL NOT NULL DEFAULT 0,
    created_at         DATETIME NOT NULL
);

-- Bookmark durable por canal de polling
CREATE TABLE IF NOT EXISTS cursors (
    key        TEXT PRIMARY KEY,
    tx_digest  TEXT NOT NULL,
    event_seq  TEXT NOT NULL,
    updated_at DATETIME NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_plans_owner   ON plans(owner, created_at DESC);
CREATE INDEX IF NOT EXISTS idx_trades_owner  ON trades(owner, created_at DESC);
CREATE INDEX IF NOT EXISTS idx_trades_plan   ON trades(plan_id, created_at DESC);
`

// retentionFinished: planes completed/failed sin actividad se eliminan al arrancar.
const retentionFinished = 90 * 24 * time.Hour

// SQLiteStorage implementa ports.Storage usando SQLite (pure Go, sin CGo).
type SQLiteStorage struct {
	db *sql.DB
}

var _ ports.Storage = (*SQLiteStorage)(nil)

// NewSQLiteStorage abre (o crea) la base de datos en la ruta dada.
// Aplica el schema y limpia planes terminados antiguos.
func NewSQLiteStorage(path string) (*SQLiteStorage, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("storage.NewSQLiteStorage: open %q: %w", path, err)
	}
	db.SetMaxOpenConns(1) // SQLite es single-writer
	db.SetMaxIdleConns(1)

	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("storage.NewSQLiteStorage: apply schema: %w", err)
	}

	s := &SQLiteStorage{db: db}
	s.pruneOld(context.Background())
	return s, nil
}

// pruneOld elimina planes terminados sin actividad reciente.
// Los trades se conservan: son el histórico financiero del usuario.
func (s *SQLiteStorage) pruneOld(ctx context.Context) {
	cutoff := time.Now().UTC().Add(-retentionFinished)
	res, err := s.db.ExecContext(ctx,
		`DELETE FROM plans WHERE status IN ('completed', 'failed') AND updated_at < ?`, cutoff)
	if err != nil {
		slog.Warn("storage prune failed", "err", err)
		return
	}
	if n, _ := res.RowsAffected(); n > 0 {
		slog.Info("pruned finished plans", "count", n)
	}
}

// UpsertPlan inserta o actualiza la proyección de un plan.
// created_at se conserva en el upsert; status solo se pisa si viene informado.
func (s *SQLiteStorage) UpsertPlan(ctx context.Context, p domain.PlanProjection) error {
	steps, err := json.Marshal(p.Steps)
	if err != nil {
		return fmt.Errorf("storage.UpsertPlan: marshal steps: %w", err)
	}

	now := time.Now().UTC()
	created := p.CreatedAt
	if created.IsZero() {
		created = now
	}
	status := p.Status
	if status == "" {
		status = domain.StatusActive
	}

	_, err = s.db.ExecContext(ctx, `
INSERT INTO plans (plan_id, owner, input_coin, output_coin, input_amount, remaining_amount,
                   current_step, steps, status, created_at, updated_at)
VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
ON CONFLICT(plan_id) DO UPDATE SET
    owner            = excluded.owner,
    input_coin       = excluded.input_coin,
    output_coin      = excluded.output_coin,
    input_amount     = excluded.input_amount,
    remaining_amount = excluded.remaining_amount,
    current_step     = excluded.current_step,
    steps            = excluded.steps,
    status           = excluded.status,
    updated_at       = excluded.updated_at`,
		p.PlanID, p.Owner, p.InputCoin, p.OutputCoin, p.InputAmount, p.RemainingAmount,
		p.CurrentStep, string(steps), string(status), created, now,
	)
	if err != nil {
		return fmt.Errorf("storage.UpsertPlan %s: %w", p.PlanID, err)
	}
	return nil
}

// GetPlan devuelve la proyección de un plan, o ports.ErrNotFound.
func (s *SQLiteStorage) GetPlan(ctx context.Context, planID string) (domain.PlanProjection, error) {
	row := s.db.QueryRowContext(ctx, `
SELECT plan_id, owner, input_coin, output_coin, input_amount, remaining_amount,
       current_step, steps, status, total_trades, last_executed_at, created_at, updated_at
FROM plans WHERE plan_id = ?`, planID)

	p, err := scanPlan(row)
	if err == sql.ErrNoRows {
		return domain.PlanProjection{}, ports.ErrNotFound
	}
	if err != nil {
		return domain.PlanProjection{}, fmt.Errorf("storage.GetPlan %s: %w", planID, err)
	}
	return p, nil
}

// PlansByOwner lista los planes de un owner, más reciente primero.
func (s *SQLiteStorage) PlansByOwner(ctx context.Context, owner string) ([]domain.PlanProjection, error) {
	rows, err := s.db.QueryContext(ctx, `
SELECT plan_id, owner, input_coin, output_coin, input_amount, remaining_amount,
       current_step, steps, status, total_trades, last_executed_at, created_at, updated_at
FROM plans WHERE owner = ? ORDER BY created_at DESC`, owner)
	if err != nil {
		return nil, fmt.Errorf("storage.PlansByOwner: %w", err)
	}
	defer rows.Close()

	var plans []domain.PlanProjection
	for rows.Next() {
		p, err := scanPlan(rows)
		if err != nil {
			return nil, fmt.Errorf("storage.PlansByOwner: scan: %w", err)
		}
		plans = append(plans, p)
	}
	return plans, rows.Err()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanPlan(row rowScanner) (domain.PlanProjection, error) {
	var p domain.PlanProjection
	var steps, status string
	var lastExecuted sql.NullTime

	err := row.Scan(&p.PlanID, &p.Owner, &p.InputCoin, &p.OutputCoin,
		&p.InputAmount, &p.RemainingAmount, &p.CurrentStep, &steps, &status,
		&p.TotalTrades, &lastExecuted, &p.CreatedAt, &p.UpdatedAt)
	if err != nil {
		return p, err
	}

	p.Status = domain.PlanStatus(status)
	if lastExecuted.Valid {
		t := lastExecuted.Time
		p.LastExecutedAt = &t
	}
	if err := json.Unmarshal([]byte(steps), &p.Steps); err != nil {
		return p, fmt.Errorf("unmarshal steps: %w", err)
	}
	return p, nil
}

// UpdatePlanStatus cambia solo el estado persistido del plan.
func (s *SQLiteStorage) UpdatePlanStatus(ctx context.Context, planID string, status domain.PlanStatus) error {
	_, err := s.db.ExecContext(ctx,
		`UPDATE plans SET status = ?, updated_at = ? WHERE plan_id = ?`,
		string(status), time.Now().UTC(), planID)
	if err != nil {
		return fmt.Errorf("storage.UpdatePlanStatus %s: %w", planID, err)
	}
	return nil
}

// IncrementPlanStats suma trades al contador y actualiza la última ejecución.
func (s *SQLiteStorage) IncrementPlanStats(ctx context.Context, planID string, trades int, executedAt time.Time) error {
	_, err := s.db.ExecContext(ctx, `
UPDATE plans SET total_trades = total_trades + ?, last_executed_at = ?, updated_at = ?
WHERE plan_id = ?`,
		trades, executedAt.UTC(), time.Now().UTC(), planID)
	if err != nil {
		return fmt.Errorf("storage.IncrementPlanStats %s: %w", planID, err)
	}
	return nil
}

// InsertTradeIfAbsent inserta el trade solo si no existe el trade_id.
// Devuelve false si ya existía — así la ejecución duplicada es un no-op.
func (s *SQLiteStorage) InsertTradeIfAbsent(ctx context.Context, t domain.Trade) (bool, error) {
	created := t.CreatedAt
	if created.IsZero() {
		created = time.Now().UTC()
	}

	res, err := s.db.ExecContext(ctx, `
INSERT INTO trades (trade_id, plan_id, owner, step_index, input_amount, output_amount,
                    input_coin, output_coin, tx_digest, price_at_execution, created_at)
VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
ON CONFLICT(trade_id) DO NOTHING`,
		t.TradeID, t.PlanID, t.Owner, t.StepIndex, t.InputAmount, t.OutputAmount,
		t.InputCoin, t.OutputCoin, t.TxDigest, t.PriceAtExecution, created,
	)
	if err != nil {
		return false, fmt.Errorf("storage.InsertTradeIfAbsent %s: %w", t.TradeID, err)
	}

	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("storage.InsertTradeIfAbsent %s: rows affected: %w", t.TradeID, err)
	}
	return n > 0, nil
}

// TradesByOwner lista los trades de un owner, más reciente primero.
func (s *SQLiteStorage) TradesByOwner(ctx context.Context, owner string) ([]domain.Trade, error) {
	rows, err := s.db.QueryContext(ctx, `
SELECT trade_id, plan_id, owner, step_index, input_amount, output_amount,
       input_coin, output_coin, tx_digest, price_at_execution, created_at
FROM trades WHERE owner = ? ORDER BY created_at DESC`, owner)
	if err != nil {
		return nil, fmt.Errorf("storage.TradesByOwner: %w", err)
	}
	defer rows.Close()

	var trades []domain.Trade
	for rows.Next() {
		var t domain.Trade
		if err := rows.Scan(&t.TradeID, &t.PlanID, &t.Owner, &t.StepIndex,
			&t.InputAmount, &t.OutputAmount, &t.InputCoin, &t.OutputCoin,
			&t.TxDigest, &t.PriceAtExecution, &t.CreatedAt); err != nil {
			return nil, fmt.Errorf("storage.TradesByOwner: scan: %w", err)
		}
		trades = append(trades, t)
	}
	return trades, rows.Err()
}

// LoadCursor devuelve el cursor guardado, o un cursor zero si nunca se guardó.
func (s *SQLiteStorage) LoadCursor(ctx context.Context, key string) (domain.EventCursor, error) {
	var cur domain.EventCursor
	err := s.db.QueryRowContext(ctx,
		`SELECT tx_digest, event_seq FROM cursors WHERE key = ?`, key,
	).Scan(&cur.TxDigest, &cur.EventSeq)
	if err == sql.ErrNoRows {
		return domain.EventCursor{}, nil
	}
	if err != nil {
		return domain.EventCursor{}, fmt.Errorf("storage.LoadCursor %s: %w", key, err)
	}
	return cur, nil
}

// SaveCursor guarda (upsert) la posición del cursor.
func (s *SQLiteStorage) SaveCursor(ctx context.Context, key string, cur domain.EventCursor) error {
	_, err := s.db.ExecContext(ctx, `
INSERT INTO cursors (key, tx_digest, event_seq, updated_at) VALUES (?, ?, ?, ?)
ON CONFLICT(key) DO UPDATE SET
    tx_digest  = excluded.tx_digest,
    event_seq  = excluded.event_seq,
    updated_at = excluded.updated_at`,
		key, cur.TxDigest, cur.EventSeq, time.Now().UTC())
	if err != nil {
		return fmt.Errorf("storage.SaveCursor %s: %w", key, err)
	}
	return nil
}

// Close cierra la conexión limpiamente.
func (s *SQLiteStorage) Close() error {
	return s.db.Close()
}
