package journal

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/rustyeddy/tradecore/broker"
	"github.com/rustyeddy/tradecore/portfolio"
)

const runColumns = `run_id, strategy, state, halt_reason, started, finished,
	initial_cash, final_equity, net_pnl, events, orders, fills`

type scanner interface {
	Scan(dest ...any) error
}

func scanRun(s scanner) (Run, error) {
	var (
		r        Run
		finished sql.NullTime
	)
	err := s.Scan(&r.RunID, &r.Strategy, &r.State, &r.HaltReason, &r.Started, &finished,
		&r.InitialCash, &r.FinalEquity, &r.NetPnL, &r.Events, &r.Orders, &r.Fills)
	if err != nil {
		return Run{}, err
	}
	if finished.Valid {
		r.Finished = finished.Time
	}
	return r, nil
}

// GetRun returns one run by id.
func (j *SQLite) GetRun(ctx context.Context, runID string) (Run, error) {
	row := j.db.QueryRowContext(ctx, `SELECT `+runColumns+` FROM runs WHERE run_id = ?`, runID)
	r, err := scanRun(row)
	if errors.Is(err, sql.ErrNoRows) {
		return Run{}, fmt.Errorf("%w: %q", ErrRunNotFound, runID)
	}
	return r, err
}

// ListRuns returns runs, newest first. A limit <= 0 returns all of them.
func (j *SQLite) ListRuns(ctx context.Context, limit int) ([]Run, error) {
	q := `SELECT ` + runColumns + ` FROM runs ORDER BY started DESC, run_id DESC`
	args := []any{}
	if limit > 0 {
		q += ` LIMIT ?`
		args = append(args, limit)
	}
	rows, err := j.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Run
	for rows.Next() {
		r, err := scanRun(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return out, nil
}

// ListOrders returns the final state of every order in a run, by id.
func (j *SQLite) ListOrders(ctx context.Context, runID string) ([]broker.Order, error) {
	rows, err := j.db.QueryContext(ctx, `
		SELECT order_id, instrument, side, type, qty, limit_price, status, filled, avg_price, created, updated, reason, tag
		FROM orders
		WHERE run_id = ?
		ORDER BY order_id ASC`, runID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []broker.Order
	for rows.Next() {
		var (
			o                 broker.Order
			id                int64
			side, typ, status string
		)
		if err := rows.Scan(&id, &o.Instrument, &side, &typ, &o.Qty, &o.LimitPrice, &status,
			&o.Filled, &o.AvgPrice, &o.Created, &o.Updated, &o.Reason, &o.Tag); err != nil {
			return nil, err
		}
		o.ID = uint64(id)
		if err := o.Side.UnmarshalText([]byte(side)); err != nil {
			return nil, fmt.Errorf("order %d: %w", o.ID, err)
		}
		if err := o.Type.UnmarshalText([]byte(typ)); err != nil {
			return nil, fmt.Errorf("order %d: %w", o.ID, err)
		}
		if err := o.Status.UnmarshalText([]byte(status)); err != nil {
			return nil, fmt.Errorf("order %d: %w", o.ID, err)
		}
		out = append(out, o)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return out, nil
}

// ListFills returns a run's fills in time order.
func (j *SQLite) ListFills(ctx context.Context, runID string) ([]broker.Fill, error) {
	rows, err := j.db.QueryContext(ctx, `
		SELECT fill_id, order_id, instrument, side, qty, price, fee, time
		FROM fills
		WHERE run_id = ?
		ORDER BY time ASC, rowid ASC`, runID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []broker.Fill
	for rows.Next() {
		var (
			f    broker.Fill
			id   int64
			side string
		)
		if err := rows.Scan(&f.ID, &id, &f.Instrument, &side, &f.Qty, &f.Price, &f.Fee, &f.Time); err != nil {
			return nil, err
		}
		f.OrderID = uint64(id)
		if err := f.Side.UnmarshalText([]byte(side)); err != nil {
			return nil, fmt.Errorf("fill %s: %w", f.ID, err)
		}
		out = append(out, f)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return out, nil
}

// ListSnapshots returns a run's equity curve. Positions are not stored.
func (j *SQLite) ListSnapshots(ctx context.Context, runID string) ([]portfolio.Snapshot, error) {
	rows, err := j.db.QueryContext(ctx, `
		SELECT time, cash, equity, realized, unrealized, fees, net_pnl
		FROM snapshots
		WHERE run_id = ?
		ORDER BY time ASC, rowid ASC`, runID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []portfolio.Snapshot
	for rows.Next() {
		var s portfolio.Snapshot
		if err := rows.Scan(&s.Time, &s.Cash, &s.Equity, &s.Realized, &s.Unrealized, &s.Fees, &s.NetPnL); err != nil {
			return nil, err
		}
		out = append(out, s)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return out, nil
}
