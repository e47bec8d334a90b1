package journal

import (
	"encoding/csv"
	"errors"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/rustyeddy/tradecore/broker"
	"github.com/rustyeddy/tradecore/portfolio"
)

// CSV appends journal rows to runs.csv, orders.csv, fills.csv and
// equity.csv in one directory. Order rows are a log of state changes, so an
// order appears once per transition.
type CSV struct {
	runs, orders, fills, equity *csv.Writer
	files                       []*os.File
}

var _ Journal = (*CSV)(nil)

var csvHeaders = map[string][]string{
	"runs.csv":   {"run_id", "strategy", "state", "halt_reason", "started", "finished", "initial_cash", "final_equity", "net_pnl", "events", "orders", "fills"},
	"orders.csv": {"run_id", "order_id", "instrument", "side", "type", "qty", "limit_price", "status", "filled", "avg_price", "updated", "reason", "tag"},
	"fills.csv":  {"run_id", "fill_id", "order_id", "instrument", "side", "qty", "price", "fee", "time"},
	"equity.csv": {"run_id", "time", "cash", "equity", "realized", "unrealized", "fees", "net_pnl"},
}

func NewCSV(dir string) (*CSV, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, err
	}
	j := &CSV{}
	open := func(name string) (*csv.Writer, error) {
		path := filepath.Join(dir, name)
		_, statErr := os.Stat(path)
		fresh := errors.Is(statErr, os.ErrNotExist)

		fh, err := os.OpenFile(path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
		if err != nil {
			return nil, err
		}
		j.files = append(j.files, fh)
		w := csv.NewWriter(fh)
		if fresh {
			if err := w.Write(csvHeaders[name]); err != nil {
				return nil, err
			}
			w.Flush()
			if err := w.Error(); err != nil {
				return nil, err
			}
		}
		return w, nil
	}

	var err error
	if j.runs, err = open("runs.csv"); err != nil {
		_ = j.Close()
		return nil, err
	}
	if j.orders, err = open("orders.csv"); err != nil {
		_ = j.Close()
		return nil, err
	}
	if j.fills, err = open("fills.csv"); err != nil {
		_ = j.Close()
		return nil, err
	}
	if j.equity, err = open("equity.csv"); err != nil {
		_ = j.Close()
		return nil, err
	}
	return j, nil
}

func write(w *csv.Writer, row []string) error {
	if err := w.Write(row); err != nil {
		return err
	}
	w.Flush()
	return w.Error()
}

func ts(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.UTC().Format(time.RFC3339Nano)
}

func (j *CSV) runRow(r Run) []string {
	return []string{
		r.RunID, r.Strategy, r.State, r.HaltReason,
		ts(r.Started), ts(r.Finished),
		r.InitialCash.String(), r.FinalEquity.String(), r.NetPnL.String(),
		strconv.Itoa(r.Events), strconv.Itoa(r.Orders), strconv.Itoa(r.Fills),
	}
}

func (j *CSV) StartRun(r Run) error  { return write(j.runs, j.runRow(r)) }
func (j *CSV) FinishRun(r Run) error { return write(j.runs, j.runRow(r)) }

func (j *CSV) RecordOrder(runID string, o broker.Order) error {
	return write(j.orders, []string{
		runID,
		strconv.FormatUint(o.ID, 10),
		o.Instrument,
		o.Side.String(),
		o.Type.String(),
		o.Qty.String(),
		o.LimitPrice.String(),
		o.Status.String(),
		o.Filled.String(),
		o.AvgPrice.String(),
		ts(o.Updated),
		o.Reason,
		o.Tag,
	})
}

func (j *CSV) RecordFill(runID string, f broker.Fill) error {
	return write(j.fills, []string{
		runID,
		f.ID,
		strconv.FormatUint(f.OrderID, 10),
		f.Instrument,
		f.Side.String(),
		f.Qty.String(),
		f.Price.String(),
		f.Fee.String(),
		ts(f.Time),
	})
}

func (j *CSV) RecordSnapshot(runID string, s portfolio.Snapshot) error {
	return write(j.equity, []string{
		runID,
		ts(s.Time),
		s.Cash.String(),
		s.Equity.String(),
		s.Realized.String(),
		s.Unrealized.String(),
		s.Fees.String(),
		s.NetPnL.String(),
	})
}

func (j *CSV) Close() error {
	var errs []error
	for _, w := range []*csv.Writer{j.runs, j.orders, j.fills, j.equity} {
		if w != nil {
			w.Flush()
			errs = append(errs, w.Error())
		}
	}
	for _, fh := range j.files {
		errs = append(errs, fh.Close())
	}
	return errors.Join(errs...)
}
