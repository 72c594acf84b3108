package storage

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq"
	"github.com/shopspring/decimal"

	"github.com/atlas-desktop/structure-core/pkg/types"
)

// PostgresStore is the production PersistentStore, backed by a `positions`
// table. Every write commits inside its own transaction so a failure leaves
// prior state intact; PositionManager treats in-memory state as the source
// of truth if a commit fails.
type PostgresStore struct {
	db *sqlx.DB
}

// NewPostgresStore opens and pings dsn, then returns a ready PostgresStore.
func NewPostgresStore(ctx context.Context, dsn string) (*PostgresStore, error) {
	db, err := sqlx.ConnectContext(ctx, "postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}
	return &PostgresStore{db: db}, nil
}

type positionRow struct {
	ID               string         `db:"id"`
	Symbol           string         `db:"symbol"`
	Strategy         string         `db:"strategy"`
	Side             string         `db:"side"`
	Size             string         `db:"size"`
	EntryPrice       string         `db:"entry_price"`
	CurrentPrice     string         `db:"current_price"`
	Leverage         int            `db:"leverage"`
	UnrealizedPnL    string         `db:"unrealized_pnl"`
	UnrealizedPnLPct float64        `db:"unrealized_pnl_pct"`
	RealizedPnL      string         `db:"realized_pnl"`
	TotalFees        string         `db:"total_fees"`
	StopLoss         string         `db:"stop_loss"`
	TakeProfit       string         `db:"take_profit"`
	Status           string         `db:"status"`
	OpenedAt         time.Time      `db:"opened_at"`
	ClosedAt         sql.NullTime   `db:"closed_at"`
}

func toRow(pos *types.Position) positionRow {
	row := positionRow{
		ID: pos.ID, Symbol: pos.Symbol, Strategy: pos.Strategy, Side: string(pos.Side),
		Size: pos.Size.String(), EntryPrice: pos.EntryPrice.String(), CurrentPrice: pos.CurrentPrice.String(),
		Leverage: pos.Leverage, UnrealizedPnL: pos.UnrealizedPnL.String(), UnrealizedPnLPct: pos.UnrealizedPnLPct,
		RealizedPnL: pos.RealizedPnL.String(), TotalFees: pos.TotalFees.String(),
		StopLoss: pos.StopLoss.String(), TakeProfit: pos.TakeProfit.String(),
		Status: string(pos.Status), OpenedAt: pos.OpenedAt,
	}
	if pos.ClosedAt != nil {
		row.ClosedAt = sql.NullTime{Time: *pos.ClosedAt, Valid: true}
	}
	return row
}

func fromRow(row positionRow) *types.Position {
	pos := &types.Position{
		ID: row.ID, Symbol: row.Symbol, Strategy: row.Strategy, Side: types.PositionSide(row.Side),
		Size: mustDecimal(row.Size), EntryPrice: mustDecimal(row.EntryPrice), CurrentPrice: mustDecimal(row.CurrentPrice),
		Leverage: row.Leverage, UnrealizedPnL: mustDecimal(row.UnrealizedPnL), UnrealizedPnLPct: row.UnrealizedPnLPct,
		RealizedPnL: mustDecimal(row.RealizedPnL), TotalFees: mustDecimal(row.TotalFees),
		StopLoss: mustDecimal(row.StopLoss), TakeProfit: mustDecimal(row.TakeProfit),
		Status: types.PositionStatus(row.Status), OpenedAt: row.OpenedAt,
	}
	if row.ClosedAt.Valid {
		t := row.ClosedAt.Time
		pos.ClosedAt = &t
	}
	return pos
}

func mustDecimal(s string) decimal.Decimal {
	d, err := decimal.NewFromString(s)
	if err != nil {
		return decimal.Zero
	}
	return d
}

const upsertPositionSQL = `
INSERT INTO positions (
	id, symbol, strategy, side, size, entry_price, current_price, leverage,
	unrealized_pnl, unrealized_pnl_pct, realized_pnl, total_fees,
	stop_loss, take_profit, status, opened_at, closed_at
) VALUES (
	:id, :symbol, :strategy, :side, :size, :entry_price, :current_price, :leverage,
	:unrealized_pnl, :unrealized_pnl_pct, :realized_pnl, :total_fees,
	:stop_loss, :take_profit, :status, :opened_at, :closed_at
)
ON CONFLICT (id) DO UPDATE SET
	size = EXCLUDED.size,
	current_price = EXCLUDED.current_price,
	unrealized_pnl = EXCLUDED.unrealized_pnl,
	unrealized_pnl_pct = EXCLUDED.unrealized_pnl_pct,
	realized_pnl = EXCLUDED.realized_pnl,
	total_fees = EXCLUDED.total_fees,
	status = EXCLUDED.status,
	closed_at = EXCLUDED.closed_at
`

func (s *PostgresStore) SavePosition(ctx context.Context, pos *types.Position) error {
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	if _, err := tx.NamedExecContext(ctx, upsertPositionSQL, toRow(pos)); err != nil {
		tx.Rollback()
		return fmt.Errorf("upsert position: %w", err)
	}
	return tx.Commit()
}

func (s *PostgresStore) UpdatePosition(ctx context.Context, pos *types.Position) error {
	return s.SavePosition(ctx, pos)
}

func (s *PostgresStore) LoadOpenPositions(ctx context.Context) ([]*types.Position, error) {
	var rows []positionRow
	if err := s.db.SelectContext(ctx, &rows, `SELECT * FROM positions WHERE status = $1`, string(types.PositionStatusOpen)); err != nil {
		return nil, fmt.Errorf("load open positions: %w", err)
	}
	out := make([]*types.Position, 0, len(rows))
	for _, r := range rows {
		out = append(out, fromRow(r))
	}
	return out, nil
}

func (s *PostgresStore) DeletePosition(ctx context.Context, id string) error {
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	if _, err := tx.ExecContext(ctx, `DELETE FROM positions WHERE id = $1`, id); err != nil {
		tx.Rollback()
		return fmt.Errorf("delete position: %w", err)
	}
	return tx.Commit()
}

func (s *PostgresStore) Close() error { return s.db.Close() }
