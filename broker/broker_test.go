package broker

import (
	"encoding/json"
	"fmt"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStatusTerminalAndWorking(t *testing.T) {
	t.Parallel()

	tests := []struct {
		status   Status
		terminal bool
		working  bool
	}{
		{StatusNew, false, false},
		{StatusSubmitted, false, true},
		{StatusPartiallyFilled, false, true},
		{StatusFilled, true, false},
		{StatusCancelled, true, false},
		{StatusRejected, true, false},
		{StatusUnknown, false, true},
	}

	for _, tt := range tests {
		tt := tt
		t.Run(tt.status.String(), func(t *testing.T) {
			t.Parallel()
			assert.Equal(t, tt.terminal, tt.status.Terminal())
			assert.Equal(t, tt.working, tt.status.Working())
		})
	}
}

func TestOrderRemaining(t *testing.T) {
	t.Parallel()

	o := Order{Side: Sell, Qty: decimal.NewFromInt(10), Filled: decimal.NewFromInt(4)}
	assert.True(t, o.Remaining().Equal(decimal.NewFromInt(6)))
	assert.True(t, o.SignedRemaining().Equal(decimal.NewFromInt(-6)))

	o.Filled = decimal.NewFromInt(12)
	assert.True(t, o.Remaining().IsZero())
}

func TestOrderJSONUsesNames(t *testing.T) {
	t.Parallel()

	o := Order{ID: 7, Instrument: "X", Side: Buy, Type: Limit, Status: StatusPartiallyFilled}
	b, err := json.Marshal(o)
	require.NoError(t, err)
	s := string(b)
	assert.Contains(t, s, `"side":"buy"`)
	assert.Contains(t, s, `"type":"limit"`)
	assert.Contains(t, s, `"status":"partially_filled"`)

	var back Order
	require.NoError(t, json.Unmarshal(b, &back))
	assert.Equal(t, Buy, back.Side)
	assert.Equal(t, Limit, back.Type)
	assert.Equal(t, StatusPartiallyFilled, back.Status)
}

func TestRejectError(t *testing.T) {
	t.Parallel()

	err := Reject(3, "unknown instrument %q", "FOO")
	assert.True(t, IsReject(err))
	assert.True(t, IsReject(fmt.Errorf("submit: %w", err)))
	assert.False(t, IsReject(ErrVenueUnavailable))
	assert.Equal(t, `order 3 rejected: unknown instrument "FOO"`, err.Error())
}
