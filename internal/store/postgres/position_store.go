package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/cachelabs/solsniper/internal/domain"
)

// PositionStore implements domain.PositionStore using PostgreSQL.
type PositionStore struct {
	pool *pgxpool.Pool
}

// NewPositionStore creates a new PositionStore backed by the given connection pool.
func NewPositionStore(pool *pgxpool.Pool) *PositionStore {
	return &PositionStore{pool: pool}
}

const positionSelectCols = `id, address, ticker, source,
	entry_price, entry_mc, entry_amount_sol, entry_liquidity, entry_volume_24h,
	dex_id, token_age_mins,
	status, pnl_percent, highest_price, stop_loss, sold_fraction, peak_mc, meta,
	opened_at, updated_at, closed_at`

func scanPosition(row pgx.Row) (domain.Position, error) {
	var p domain.Position
	var status string
	var meta []byte

	err := row.Scan(
		&p.ID, &p.Address, &p.Ticker, &p.Source,
		&p.EntryPrice, &p.EntryMarketCap, &p.EntryAmountSOL, &p.EntryLiquidity, &p.EntryVolume24h,
		&p.DexID, &p.TokenAgeMins,
		&status, &p.PnLPercent, &p.HighestPrice, &p.StopLoss, &p.SoldFraction, &p.PeakMarketCap, &meta,
		&p.OpenedAt, &p.UpdatedAt, &p.ClosedAt,
	)
	if err != nil {
		return domain.Position{}, err
	}
	p.Status = domain.PositionStatus(status)
	if len(meta) > 0 {
		if err := json.Unmarshal(meta, &p.Meta); err != nil {
			return domain.Position{}, fmt.Errorf("decode meta for %s: %w", p.Address, err)
		}
	}
	return p, nil
}

func scanPositions(rows pgx.Rows) ([]domain.Position, error) {
	var positions []domain.Position
	for rows.Next() {
		p, err := scanPosition(rows)
		if err != nil {
			return nil, err
		}
		positions = append(positions, p)
	}
	return positions, rows.Err()
}

// Create inserts a new position. A live position already existing for the
// same token address surfaces as domain.ErrAlreadyExists.
func (s *PositionStore) Create(ctx context.Context, p domain.Position) error {
	meta, err := json.Marshal(p.Meta)
	if err != nil {
		return fmt.Errorf("postgres: encode meta for %s: %w", p.Address, err)
	}

	const query = `
		INSERT INTO positions (
			id, address, ticker, source,
			entry_price, entry_mc, entry_amount_sol, entry_liquidity, entry_volume_24h,
			dex_id, token_age_mins,
			status, pnl_percent, highest_price, stop_loss, sold_fraction, peak_mc, meta,
			opened_at, updated_at, closed_at
		) VALUES (
			$1, $2, $3, $4,
			$5, $6, $7, $8, $9,
			$10, $11,
			$12, $13, $14, $15, $16, $17, $18,
			$19, NOW(), $20
		)`

	_, err = s.pool.Exec(ctx, query,
		p.ID, p.Address, p.Ticker, p.Source,
		p.EntryPrice, p.EntryMarketCap, p.EntryAmountSOL, p.EntryLiquidity, p.EntryVolume24h,
		p.DexID, p.TokenAgeMins,
		string(p.Status), p.PnLPercent, p.HighestPrice, p.StopLoss, p.SoldFraction, p.PeakMarketCap, meta,
		p.OpenedAt, p.ClosedAt,
	)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23505" {
			return domain.ErrAlreadyExists
		}
		return fmt.Errorf("postgres: create position %s: %w", p.Address, err)
	}
	return nil
}

// Get retrieves a position by token address.
func (s *PositionStore) Get(ctx context.Context, address string) (domain.Position, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT `+positionSelectCols+` FROM positions WHERE address = $1`, address)

	p, err := scanPosition(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return domain.Position{}, domain.ErrNotFound
		}
		return domain.Position{}, fmt.Errorf("postgres: get position %s: %w", address, err)
	}
	return p, nil
}

// Update replaces every mutable field of a position in one statement, so a
// reader never observes a half-written exit decision.
func (s *PositionStore) Update(ctx context.Context, p domain.Position) error {
	meta, err := json.Marshal(p.Meta)
	if err != nil {
		return fmt.Errorf("postgres: encode meta for %s: %w", p.Address, err)
	}

	const query = `
		UPDATE positions SET
			ticker        = $2,
			status        = $3,
			pnl_percent   = $4,
			highest_price = $5,
			stop_loss     = $6,
			sold_fraction = $7,
			peak_mc       = $8,
			meta          = $9,
			closed_at     = $10,
			updated_at    = NOW()
		WHERE address = $1`

	tag, err := s.pool.Exec(ctx, query,
		p.Address, p.Ticker,
		string(p.Status), p.PnLPercent, p.HighestPrice, p.StopLoss, p.SoldFraction, p.PeakMarketCap, meta,
		p.ClosedAt,
	)
	if err != nil {
		return fmt.Errorf("postgres: update position %s: %w", p.Address, err)
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrNotFound
	}
	return nil
}

// SetStatus flips only the status column. Terminal positions are left alone.
func (s *PositionStore) SetStatus(ctx context.Context, address string, status domain.PositionStatus) error {
	const query = `
		UPDATE positions SET
			status     = $2,
			updated_at = NOW()
		WHERE address = $1 AND status <> 'CLOSED'`

	tag, err := s.pool.Exec(ctx, query, address, string(status))
	if err != nil {
		return fmt.Errorf("postgres: set status %s for %s: %w", status, address, err)
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrNotFound
	}
	return nil
}

// ListActive returns all non-terminal positions, oldest first, so crash
// recovery reattaches monitors in opening order.
func (s *PositionStore) ListActive(ctx context.Context) ([]domain.Position, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT `+positionSelectCols+` FROM positions
		 WHERE status <> 'CLOSED'
		 ORDER BY opened_at ASC`)
	if err != nil {
		return nil, fmt.Errorf("postgres: list active positions: %w", err)
	}
	defer rows.Close()

	positions, err := scanPositions(rows)
	if err != nil {
		return nil, fmt.Errorf("postgres: scan active positions: %w", err)
	}
	return positions, nil
}

// ListClosedBefore returns positions closed strictly before the cutoff.
func (s *PositionStore) ListClosedBefore(ctx context.Context, before time.Time) ([]domain.Position, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT `+positionSelectCols+` FROM positions
		 WHERE status = 'CLOSED' AND closed_at IS NOT NULL AND closed_at < $1
		 ORDER BY closed_at ASC`, before)
	if err != nil {
		return nil, fmt.Errorf("postgres: list closed positions: %w", err)
	}
	defer rows.Close()

	positions, err := scanPositions(rows)
	if err != nil {
		return nil, fmt.Errorf("postgres: scan closed positions: %w", err)
	}
	return positions, nil
}

// AppendSell inserts one ledger record and bumps the position's cumulative
// sold fraction in the same transaction.
func (s *PositionStore) AppendSell(ctx context.Context, rec domain.SellRecord) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("postgres: begin sell tx for %s: %w", rec.Address, err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	const insert = `
		INSERT INTO sell_transactions (
			id, address, sell_price, sell_mc, amount_received,
			fraction, reason, tx_signature, sold_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`

	if _, err := tx.Exec(ctx, insert,
		rec.ID, rec.Address, rec.Price, rec.MarketCap, rec.AmountReceived,
		rec.Fraction, rec.Reason, rec.TxSignature, rec.At,
	); err != nil {
		return fmt.Errorf("postgres: insert sell for %s: %w", rec.Address, err)
	}

	const bump = `
		UPDATE positions SET
			sold_fraction = LEAST(sold_fraction + $2, 1.0),
			updated_at    = NOW()
		WHERE address = $1`

	tag, err := tx.Exec(ctx, bump, rec.Address, rec.Fraction)
	if err != nil {
		return fmt.Errorf("postgres: bump sold fraction for %s: %w", rec.Address, err)
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrNotFound
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("postgres: commit sell for %s: %w", rec.Address, err)
	}
	return nil
}

// ListSells returns a position's full sell ledger, oldest first.
func (s *PositionStore) ListSells(ctx context.Context, address string) ([]domain.SellRecord, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT id, address, sell_price, sell_mc, amount_received,
		        fraction, reason, tx_signature, sold_at
		 FROM sell_transactions
		 WHERE address = $1
		 ORDER BY sold_at ASC`, address)
	if err != nil {
		return nil, fmt.Errorf("postgres: list sells for %s: %w", address, err)
	}
	defer rows.Close()

	var records []domain.SellRecord
	for rows.Next() {
		var r domain.SellRecord
		if err := rows.Scan(
			&r.ID, &r.Address, &r.Price, &r.MarketCap, &r.AmountReceived,
			&r.Fraction, &r.Reason, &r.TxSignature, &r.At,
		); err != nil {
			return nil, fmt.Errorf("postgres: scan sell for %s: %w", address, err)
		}
		records = append(records, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("postgres: iterate sells for %s: %w", address, err)
	}
	return records, nil
}

// AddSnapshot records one time-series observation for a monitored position.
func (s *PositionStore) AddSnapshot(ctx context.Context, snap domain.Snapshot) error {
	const query = `
		INSERT INTO price_snapshots (
			address, taken_at, price, market_cap, buys_5m, sells_5m, pnl_percent
		) VALUES ($1, $2, $3, $4, $5, $6, $7)`

	_, err := s.pool.Exec(ctx, query,
		snap.Address, snap.At, snap.Price, snap.MarketCap,
		snap.Buys5m, snap.Sells5m, snap.PnLPercent,
	)
	if err != nil {
		return fmt.Errorf("postgres: add snapshot for %s: %w", snap.Address, err)
	}
	return nil
}
