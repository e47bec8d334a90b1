package journal

import (
	"io"
	"text/template"
	"time"

	"github.com/shopspring/decimal"

	"github.com/rustyeddy/tradecore/broker"
)

// Report is everything an org-mode run report shows.
type Report struct {
	Run    Run
	Orders []broker.Order
	Fills  []broker.Fill
	Notes  []string
}

var orgFuncs = template.FuncMap{
	"pct": func(d decimal.Decimal) string { return d.StringFixed(2) },
	"ts": func(t time.Time) string {
		if t.IsZero() {
			return "-"
		}
		return t.UTC().Format("2006-01-02 15:04:05")
	},
	"day": func(t time.Time) string {
		if t.IsZero() {
			return "(date?)"
		}
		return t.UTC().Format("2006-01-02 Mon 15:04")
	},
}

var orgTemplate = template.Must(template.New("run").Funcs(orgFuncs).Parse(RunOrgTemplate))

// WriteOrg renders the report as an org-mode entry.
func (r Report) WriteOrg(w io.Writer) error {
	return orgTemplate.Execute(w, r)
}

const RunOrgTemplate = `* RUN: {{.Run.Strategy}} {{.Run.RunID}}
:PROPERTIES:
:RUN_ID:      {{.Run.RunID}}
:STRATEGY:    {{if .Run.Strategy}}{{.Run.Strategy}}{{else}}(strategy?){{end}}
:STATE:       {{.Run.State}}
{{- if .Run.HaltReason}}
:HALT_REASON: {{.Run.HaltReason}}
{{- end}}
:STARTED:     [{{day .Run.Started}}]
:FINISHED:    [{{day .Run.Finished}}]
:START_CASH:  {{.Run.InitialCash.StringFixed 2}}
:END_EQUITY:  {{.Run.FinalEquity.StringFixed 2}}
:NET_PNL:     {{.Run.NetPnL.StringFixed 2}}
:RETURN_PCT:  {{pct .Run.ReturnPct}}
:EVENTS:      {{.Run.Events}}
:ORDERS:      {{.Run.Orders}}
:FILLS:       {{.Run.Fills}}
:END:

** Performance Summary
- Net PnL:  *{{.Run.NetPnL.StringFixed 2}}*
- Return:   *{{pct .Run.ReturnPct}}%*

** Orders
| ID | Instrument | Side | Type | Qty | Filled | Avg | Status | Reason |
|----+------------+------+------+-----+--------+-----+--------+--------|
{{- range .Orders}}
| {{.ID}} | {{.Instrument}} | {{.Side}} | {{.Type}} | {{.Qty}} | {{.Filled}} | {{.AvgPrice}} | {{.Status}} | {{.Reason}} |
{{- end}}

** Fills
| Time | Order | Side | Qty | Price | Fee |
|------+-------+------+-----+-------+-----|
{{- range .Fills}}
| {{ts .Time}} | {{.OrderID}} | {{.Side}} | {{.Qty}} | {{.Price}} | {{.Fee}} |
{{- end}}
{{- if .Notes}}

** Observations
{{- range .Notes}}
- {{.}}
{{- end}}
{{- end}}
`
