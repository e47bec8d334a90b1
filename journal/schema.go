package journal

// Decimal columns are TEXT so values round-trip exactly.
const Schema = `
CREATE TABLE IF NOT EXISTS runs (
	run_id TEXT PRIMARY KEY,
	strategy TEXT NOT NULL,
	state TEXT NOT NULL,
	halt_reason TEXT NOT NULL DEFAULT '',
	started DATETIME NOT NULL,
	finished DATETIME,
	initial_cash TEXT NOT NULL DEFAULT '0',
	final_equity TEXT NOT NULL DEFAULT '0',
	net_pnl TEXT NOT NULL DEFAULT '0',
	events INTEGER NOT NULL DEFAULT 0,
	orders INTEGER NOT NULL DEFAULT 0,
	fills INTEGER NOT NULL DEFAULT 0
);

CREATE TABLE IF NOT EXISTS orders (
	run_id TEXT NOT NULL,
	order_id INTEGER NOT NULL,
	instrument TEXT NOT NULL,
	side TEXT NOT NULL,
	type TEXT NOT NULL,
	qty TEXT NOT NULL,
	limit_price TEXT NOT NULL,
	status TEXT NOT NULL,
	filled TEXT NOT NULL,
	avg_price TEXT NOT NULL,
	created DATETIME NOT NULL,
	updated DATETIME NOT NULL,
	reason TEXT NOT NULL,
	tag TEXT NOT NULL,
	PRIMARY KEY (run_id, order_id)
);

CREATE TABLE IF NOT EXISTS fills (
	run_id TEXT NOT NULL,
	fill_id TEXT NOT NULL,
	order_id INTEGER NOT NULL,
	instrument TEXT NOT NULL,
	side TEXT NOT NULL,
	qty TEXT NOT NULL,
	price TEXT NOT NULL,
	fee TEXT NOT NULL,
	time DATETIME NOT NULL,
	PRIMARY KEY (run_id, fill_id)
);

CREATE TABLE IF NOT EXISTS snapshots (
	run_id TEXT NOT NULL,
	time DATETIME NOT NULL,
	cash TEXT NOT NULL,
	equity TEXT NOT NULL,
	realized TEXT NOT NULL,
	unrealized TEXT NOT NULL,
	fees TEXT NOT NULL,
	net_pnl TEXT NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_fills_run_time ON fills(run_id, time);
CREATE INDEX IF NOT EXISTS idx_snapshots_run_time ON snapshots(run_id, time);
`
