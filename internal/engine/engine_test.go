package engine_test

import (
	"errors"
	"strings"
	"sync"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/atmx/papertrader/internal/engine"
	"github.com/atmx/papertrader/internal/ledger"
	"github.com/atmx/papertrader/internal/model"
)

func d(f float64) decimal.Decimal {
	return decimal.NewFromFloat(f)
}

func newTestEngine(t *testing.T, balance float64) (*engine.Engine, *ledger.Ledger) {
	t.Helper()
	l := ledger.New(d(balance))
	return engine.New(l), l
}

func submit(t *testing.T, e *engine.Engine, price float64) model.DecisionResult {
	t.Helper()
	res, err := e.SubmitPrice(d(price))
	require.NoError(t, err)
	return res
}

func TestSubmitPrice_Baseline(t *testing.T) {
	e, l := newTestEngine(t, 1_000_000)

	res := submit(t, e, 1000)

	assert.Equal(t, model.ActionHold, res.Action)
	assert.Equal(t, engine.BaselineReason, res.Reason)
	assert.False(t, res.LastPrice.Valid)
	assert.Nil(t, res.PriceDifference)
	assert.Nil(t, res.Transaction)
	assert.True(t, res.CurrentPrice.Equal(d(1000)))

	// The baseline carries the full snapshot.
	require.NotNil(t, res.State.Snapshot)
	snap := res.State.Snapshot
	assert.Equal(t, ledger.StateInfo, snap.StateInfo)
	assert.NotNil(t, snap.TransactionLogs)
	assert.Empty(t, snap.TransactionLogs)
	assert.Equal(t, int64(0), snap.TotalTransactions)
	assert.True(t, snap.LastPrice.Decimal.Equal(d(1000)))
	assert.True(t, res.State.Balance.Equal(d(1_000_000)))

	last, ok := l.LastPrice()
	require.True(t, ok)
	assert.True(t, last.Equal(d(1000)))
	assert.Equal(t, 0, e.Logs().TotalLogs, "baseline does not log")
}

func TestSubmitPrice_InvalidPrice(t *testing.T) {
	e, l := newTestEngine(t, 1_000_000)

	for _, p := range []float64{0, -1, -0.01} {
		_, err := e.SubmitPrice(d(p))
		assert.True(t, errors.Is(err, engine.ErrInvalidPrice), "price %v", p)
	}

	_, ok := l.LastPrice()
	assert.False(t, ok, "invalid price must not set a baseline")
}

func TestSubmitPrice_PriceOutsideSupportedPrecision(t *testing.T) {
	e, l := newTestEngine(t, 1_000_000)
	submit(t, e, 1000)

	for _, p := range []string{
		"1e3000000",
		"1e30",
		"1234567890123456789012345678901",
		"0.0000000000000000001",
		"1e-19",
		"-1e3000000",
	} {
		_, err := e.SubmitPrice(decimal.RequireFromString(p))
		assert.ErrorIs(t, err, engine.ErrInvalidPrice, "price %s", p)
		assert.Less(t, len(err.Error()), 200, "error must not render the price %s", p)
	}

	last, _ := l.LastPrice()
	assert.True(t, last.Equal(d(1000)), "rejected prices must not move the baseline")
	assert.Equal(t, 0, e.Logs().TotalLogs)

	// The edges of the range are accepted.
	for _, p := range []string{"1e29", "0.000000000000000001", "123456789012.123456789012345678"} {
		_, err := e.SubmitPrice(decimal.RequireFromString(p))
		assert.NoError(t, err, "price %s", p)
	}
}

func TestSubmitPrice_LaterDecisionsCarryTrimmedState(t *testing.T) {
	e, _ := newTestEngine(t, 1_000_000)
	submit(t, e, 1000)

	res := submit(t, e, 900)
	assert.Nil(t, res.State.Snapshot)
	assert.Equal(t, model.ActionBuy, res.State.Position)
}

func TestSubmitPrice_Scenario(t *testing.T) {
	e, _ := newTestEngine(t, 1_000_000)

	submit(t, e, 1000)

	res := submit(t, e, 900)
	assert.Equal(t, model.ActionBuy, res.Action)
	assert.True(t, res.State.Balance.Equal(d(999_100)))
	assert.Equal(t, int64(1), res.State.Holdings)
	assert.Equal(t, model.ActionBuy, res.State.Position)
	assert.True(t, res.LastPrice.Decimal.Equal(d(1000)))
	assert.True(t, res.PriceDifference.Equal(d(-100)))
	require.NotNil(t, res.Transaction)
	assert.True(t, res.Transaction.Cost.Equal(d(900)))

	res = submit(t, e, 950)
	assert.Equal(t, model.ActionSell, res.Action)
	assert.True(t, res.State.Balance.Equal(d(1_000_050)))
	assert.Equal(t, int64(0), res.State.Holdings)
	assert.True(t, res.Transaction.Revenue.Equal(d(950)))

	res = submit(t, e, 950)
	assert.Equal(t, model.ActionHold, res.Action)
	assert.True(t, res.PriceDifference.IsZero())
	assert.Equal(t, ledger.HoldReason, res.Transaction.Reason)

	status := e.Status()
	assert.True(t, status.Performance.ProfitLoss.Equal(d(50)))
	assert.Equal(t, "0.01%", status.Performance.ProfitLossPercent)
	assert.Equal(t, model.ActionHold, status.CurrentPosition)

	logs := e.Logs()
	require.Equal(t, 3, logs.TotalLogs)
	for i, entry := range logs.Logs {
		assert.Equal(t, int64(i+1), entry.ID)
	}
}

func TestSubmitPrice_SellWithoutHoldingsDowngrades(t *testing.T) {
	e, l := newTestEngine(t, 1_000_000)
	submit(t, e, 100)

	res := submit(t, e, 110)

	assert.Equal(t, model.ActionHold, res.Action)
	assert.True(t, strings.HasPrefix(res.Reason, "SELL signal"), res.Reason)
	assert.Contains(t, res.Reason, "insufficient holdings")
	require.NotNil(t, res.Transaction)
	assert.Equal(t, model.ActionHold, res.Transaction.Action)
	assert.True(t, res.State.Balance.Equal(d(1_000_000)))

	last, _ := l.LastPrice()
	assert.True(t, last.Equal(d(110)), "downgraded price still becomes the baseline")
	assert.Equal(t, model.ActionHold, l.View().Position)
}

func TestSubmitPrice_BuyWithoutFundsDowngrades(t *testing.T) {
	e, _ := newTestEngine(t, 2_500)

	submit(t, e, 1000)
	// Each falling price buys one unit until the cash runs out.
	assert.Equal(t, model.ActionBuy, submit(t, e, 999).Action)
	assert.Equal(t, model.ActionBuy, submit(t, e, 998).Action)

	before := e.Status()
	res := submit(t, e, 997)

	assert.Equal(t, model.ActionHold, res.Action)
	assert.True(t, strings.HasPrefix(res.Reason, "BUY signal"), res.Reason)
	assert.Contains(t, res.Reason, "insufficient funds")
	assert.True(t, res.State.Balance.Equal(before.Balance))
	assert.Equal(t, before.Holdings, res.State.Holdings)
	assert.True(t, res.State.Balance.Equal(d(503)))
	assert.Equal(t, int64(2), res.State.Holdings)

	// Downgrades are accepted observations and are logged.
	assert.Equal(t, 3, e.Logs().TotalLogs)
}

func TestSubmitPrice_BalanceNeverNegative(t *testing.T) {
	e, _ := newTestEngine(t, 5_000)
	prices := []float64{1000, 900, 800, 1200, 700, 600, 500, 500, 400, 300, 200, 100, 50, 2000, 1}

	for _, p := range prices {
		res := submit(t, e, p)
		assert.False(t, res.State.Balance.IsNegative(), "price %v", p)
		assert.GreaterOrEqual(t, res.State.Holdings, int64(0), "price %v", p)
	}
	assert.Equal(t, len(prices)-1, e.Logs().TotalLogs)
}

func TestReset(t *testing.T) {
	e, _ := newTestEngine(t, 1_000_000)
	submit(t, e, 1000)
	submit(t, e, 900)

	res := e.Reset()

	assert.Equal(t, engine.ResetMessage, res.Message)
	assert.True(t, res.State.Balance.Equal(d(1_000_000)))
	assert.Equal(t, int64(0), res.State.Holdings)
	assert.False(t, res.State.LastPrice.Valid)
	assert.Equal(t, 0, e.Logs().TotalLogs)

	// The next price is a fresh baseline.
	assert.Equal(t, engine.BaselineReason, submit(t, e, 500).Reason)
}

func TestSubmitPrice_ConcurrentSubmissionsSerialize(t *testing.T) {
	e, _ := newTestEngine(t, 1_000_000)
	submit(t, e, 500)

	var wg sync.WaitGroup
	for i := 0; i < 100; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, _ = e.SubmitPrice(d(float64(400 + (i%3)*100)))
		}(i)
	}
	wg.Wait()

	logs := e.Logs()
	require.Equal(t, 100, logs.TotalLogs)

	var holdings int64
	for i, entry := range logs.Logs {
		assert.Equal(t, int64(i+1), entry.ID)
		switch entry.Action {
		case model.ActionBuy:
			holdings++
		case model.ActionSell:
			holdings--
		}
		assert.GreaterOrEqual(t, holdings, int64(0))
	}
	assert.Equal(t, holdings, e.Status().Holdings)
}
