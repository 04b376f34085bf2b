// Package ledger owns the virtual portfolio: cash balance, holdings of the
// single synthetic asset, the last observed price and the append-only
// transaction log.
//
// Every mutation either applies completely or leaves the state untouched.
// All methods are safe for concurrent use.
package ledger

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"github.com/atmx/papertrader/internal/model"
)

// DefaultInitialBalance is the starting cash balance of a fresh portfolio.
var DefaultInitialBalance = decimal.NewFromInt(1_000_000)

const (
	// HoldReason is recorded on every HOLD log entry.
	HoldReason = "price unchanged or conditions do not meet trading criteria"

	// StateInfo is attached to every snapshot.
	StateInfo = "state is held in memory and is lost when the server restarts"
)

var (
	// ErrInsufficientFunds is returned by RecordBuy when the balance cannot
	// cover the cost.
	ErrInsufficientFunds = errors.New("ledger: insufficient funds")

	// ErrInsufficientHoldings is returned by RecordSell when fewer units are
	// held than requested.
	ErrInsufficientHoldings = errors.New("ledger: insufficient holdings")

	// ErrInvalidPrice is returned when a record operation gets a price <= 0.
	ErrInvalidPrice = errors.New("ledger: price must be positive")

	// ErrInvalidQuantity is returned when a trade quantity is < 1.
	ErrInvalidQuantity = errors.New("ledger: quantity must be positive")
)

var hundred = decimal.NewFromInt(100)

// state is the mutable portfolio. Guarded by Ledger.mu.
type state struct {
	balance    decimal.Decimal
	holdings   int64
	lastPrice  decimal.NullDecimal
	position   model.Action
	logs       []model.LogEntry
	counter    int64
	profitLoss decimal.Decimal
}

// Ledger is the sole owner of the portfolio state.
type Ledger struct {
	mu      sync.Mutex
	initial decimal.Decimal
	st      state
	now     func() time.Time
}

// New creates a ledger holding initialBalance in cash and nothing else.
// A non-positive initialBalance falls back to DefaultInitialBalance.
func New(initialBalance decimal.Decimal) *Ledger {
	if !initialBalance.IsPositive() {
		initialBalance = DefaultInitialBalance
	}
	l := &Ledger{
		initial: initialBalance,
		now:     func() time.Time { return time.Now().UTC() },
	}
	l.st = l.freshState()
	return l
}

func (l *Ledger) freshState() state {
	return state{
		balance:  l.initial,
		position: model.ActionHold,
	}
}

// InitialBalance returns the balance the ledger starts from and resets to.
func (l *Ledger) InitialBalance() decimal.Decimal {
	return l.initial
}

// RecordBuy spends price*quantity of cash on quantity units.
func (l *Ledger) RecordBuy(price decimal.Decimal, quantity int64) (model.LogEntry, error) {
	if err := checkTrade(price, quantity); err != nil {
		return model.LogEntry{}, err
	}
	cost := price.Mul(decimal.NewFromInt(quantity))

	l.mu.Lock()
	defer l.mu.Unlock()

	if l.st.balance.LessThan(cost) {
		return model.LogEntry{}, fmt.Errorf("%w: balance %s cannot cover cost %s",
			ErrInsufficientFunds, l.st.balance, cost)
	}

	l.st.balance = l.st.balance.Sub(cost)
	l.st.holdings += quantity

	balanceAfter := l.st.balance
	holdingsAfter := l.st.holdings
	return l.appendLocked(model.LogEntry{
		Action:        model.ActionBuy,
		Price:         price,
		Quantity:      quantity,
		Cost:          &cost,
		BalanceAfter:  &balanceAfter,
		HoldingsAfter: &holdingsAfter,
	}), nil
}

// RecordSell sells quantity units for price*quantity of cash.
func (l *Ledger) RecordSell(price decimal.Decimal, quantity int64) (model.LogEntry, error) {
	if err := checkTrade(price, quantity); err != nil {
		return model.LogEntry{}, err
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	if l.st.holdings < quantity {
		return model.LogEntry{}, fmt.Errorf("%w: holding %d, cannot sell %d",
			ErrInsufficientHoldings, l.st.holdings, quantity)
	}

	revenue := price.Mul(decimal.NewFromInt(quantity))
	l.st.balance = l.st.balance.Add(revenue)
	l.st.holdings -= quantity

	balanceAfter := l.st.balance
	holdingsAfter := l.st.holdings
	return l.appendLocked(model.LogEntry{
		Action:        model.ActionSell,
		Price:         price,
		Quantity:      quantity,
		Revenue:       &revenue,
		BalanceAfter:  &balanceAfter,
		HoldingsAfter: &holdingsAfter,
	}), nil
}

// RecordHold logs a HOLD at price. It never fails.
func (l *Ledger) RecordHold(price decimal.Decimal) model.LogEntry {
	l.mu.Lock()
	defer l.mu.Unlock()

	return l.appendLocked(model.LogEntry{
		Action: model.ActionHold,
		Price:  price,
		Reason: HoldReason,
	})
}

// appendLocked stamps id and timestamp and appends e. Caller holds mu.
func (l *Ledger) appendLocked(e model.LogEntry) model.LogEntry {
	l.st.counter++
	e.ID = l.st.counter
	e.Timestamp = l.now()
	l.st.logs = append(l.st.logs, e)
	return e
}

func checkTrade(price decimal.Decimal, quantity int64) error {
	if !price.IsPositive() {
		return fmt.Errorf("%w: got %s", ErrInvalidPrice, price)
	}
	if quantity < 1 {
		return fmt.Errorf("%w: got %d", ErrInvalidQuantity, quantity)
	}
	return nil
}

// SetLastPrice records price as the baseline for the next comparison.
func (l *Ledger) SetLastPrice(price decimal.Decimal) {
	l.mu.Lock()
	l.st.lastPrice = decimal.NewNullDecimal(price)
	l.mu.Unlock()
}

// SetPosition records the action taken on the latest observation.
func (l *Ledger) SetPosition(position model.Action) {
	l.mu.Lock()
	l.st.position = position
	l.mu.Unlock()
}

// LastPrice returns the last observed price and whether one exists.
func (l *Ledger) LastPrice() (decimal.Decimal, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.st.lastPrice.Decimal, l.st.lastPrice.Valid
}

// View returns the trimmed balance/holdings/position triple.
func (l *Ledger) View() model.StateView {
	l.mu.Lock()
	defer l.mu.Unlock()
	return model.StateView{
		Balance:  l.st.balance,
		Holdings: l.st.holdings,
		Position: l.st.position,
	}
}

// Snapshot returns a copy of the full state.
func (l *Ledger) Snapshot() model.Snapshot {
	l.mu.Lock()
	defer l.mu.Unlock()
	return model.Snapshot{
		Balance:           l.st.balance,
		LastPrice:         l.st.lastPrice,
		CurrentPosition:   l.st.position,
		Holdings:          l.st.holdings,
		TransactionLogs:   l.logsLocked(),
		TotalTransactions: l.st.counter,
		ProfitLoss:        l.st.profitLoss,
		StateInfo:         StateInfo,
	}
}

// AllLogs returns every log entry in insertion order.
func (l *Ledger) AllLogs() model.LogPage {
	l.mu.Lock()
	defer l.mu.Unlock()
	return model.LogPage{
		TotalLogs: len(l.st.logs),
		Logs:      l.logsLocked(),
	}
}

func (l *Ledger) logsLocked() []model.LogEntry {
	out := make([]model.LogEntry, len(l.st.logs))
	copy(out, l.st.logs)
	return out
}

// ProfitAndLoss marks the holdings to the last price and compares the
// portfolio value with the initial balance. The resulting profit/loss is
// cached on the state and shows up in later snapshots.
func (l *Ledger) ProfitAndLoss() model.Performance {
	l.mu.Lock()
	defer l.mu.Unlock()

	mark := decimal.Zero
	if l.st.lastPrice.Valid {
		mark = l.st.lastPrice.Decimal
	}
	value := l.st.balance.Add(mark.Mul(decimal.NewFromInt(l.st.holdings)))
	pnl := value.Sub(l.initial)
	l.st.profitLoss = pnl

	return model.Performance{
		InitialBalance:    l.initial,
		CurrentBalance:    l.st.balance,
		Holdings:          l.st.holdings,
		LastPrice:         l.st.lastPrice,
		PortfolioValue:    value,
		ProfitLoss:        pnl,
		ProfitLossPercent: pnl.Div(l.initial).Mul(hundred).StringFixed(2) + "%",
	}
}

// Reset discards the whole state, including the log and the counter.
func (l *Ledger) Reset() {
	l.mu.Lock()
	l.st = l.freshState()
	l.mu.Unlock()
}
