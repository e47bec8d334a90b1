package journal

import (
	"database/sql"
	"fmt"

	_ "github.com/mattn/go-sqlite3"

	"github.com/rustyeddy/tradecore/broker"
	"github.com/rustyeddy/tradecore/portfolio"
)

type SQLite struct {
	db *sql.DB
}

var _ Journal = (*SQLite)(nil)

func NewSQLite(path string) (*SQLite, error) {
	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, err
	}
	// sqlite allows one writer at a time.
	db.SetMaxOpenConns(1)

	if _, err := db.Exec(Schema); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("journal schema: %w", err)
	}
	return &SQLite{db: db}, nil
}

func (j *SQLite) StartRun(r Run) error {
	_, err := j.db.Exec(`
		INSERT OR REPLACE INTO runs
		(run_id, strategy, state, halt_reason, started, initial_cash)
		VALUES (?, ?, ?, ?, ?, ?)`,
		r.RunID, r.Strategy, r.State, r.HaltReason, r.Started, r.InitialCash,
	)
	return err
}

func (j *SQLite) FinishRun(r Run) error {
	res, err := j.db.Exec(`
		UPDATE runs SET
			state = ?, halt_reason = ?, started = ?, finished = ?, initial_cash = ?,
			final_equity = ?, net_pnl = ?, events = ?, orders = ?, fills = ?
		WHERE run_id = ?`,
		r.State, r.HaltReason, r.Started, r.Finished, r.InitialCash,
		r.FinalEquity, r.NetPnL, r.Events, r.Orders, r.Fills,
		r.RunID,
	)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("finish run %q: %w", r.RunID, ErrRunNotFound)
	}
	return nil
}

func (j *SQLite) RecordOrder(runID string, o broker.Order) error {
	_, err := j.db.Exec(`
		INSERT OR REPLACE INTO orders
		(run_id, order_id, instrument, side, type, qty, limit_price, status, filled, avg_price, created, updated, reason, tag)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		runID, int64(o.ID), o.Instrument, o.Side.String(), o.Type.String(),
		o.Qty, o.LimitPrice, o.Status.String(), o.Filled, o.AvgPrice,
		o.Created, o.Updated, o.Reason, o.Tag,
	)
	return err
}

func (j *SQLite) RecordFill(runID string, f broker.Fill) error {
	_, err := j.db.Exec(`
		INSERT OR IGNORE INTO fills
		(run_id, fill_id, order_id, instrument, side, qty, price, fee, time)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		runID, f.ID, int64(f.OrderID), f.Instrument, f.Side.String(),
		f.Qty, f.Price, f.Fee, f.Time,
	)
	return err
}

func (j *SQLite) RecordSnapshot(runID string, s portfolio.Snapshot) error {
	_, err := j.db.Exec(`
		INSERT INTO snapshots
		(run_id, time, cash, equity, realized, unrealized, fees, net_pnl)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		runID, s.Time, s.Cash, s.Equity, s.Realized, s.Unrealized, s.Fees, s.NetPnL,
	)
	return err
}

func (j *SQLite) Close() error {
	return j.db.Close()
}
