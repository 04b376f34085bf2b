// Package engine turns successive price observations into BUY/SELL/HOLD
// decisions and applies them to a ledger.
//
// Rule: a falling price buys one unit, a rising price sells one unit and an
// unchanged price holds. The first price after start or reset only sets the
// baseline. A BUY or SELL the ledger cannot honour is downgraded to HOLD.
package engine

import (
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/shopspring/decimal"

	"github.com/atmx/papertrader/internal/ledger"
	"github.com/atmx/papertrader/internal/model"
)

// ErrInvalidPrice is returned by SubmitPrice for a price that is not
// strictly positive or lies outside the supported precision. No state is
// touched when it is returned.
var ErrInvalidPrice = errors.New("engine: price must be a positive number")

const (
	// MaxPriceScale is the most decimal places a price may carry.
	MaxPriceScale = 18

	// MaxPriceDigits bounds both the significant digits of a price and the
	// digits before its decimal point.
	MaxPriceDigits = 30

	// TradeQuantity is the number of units bought or sold per signal.
	TradeQuantity int64 = 1

	BaselineReason = "first price used as baseline"
	ResetMessage   = "portfolio reset to its initial state"
)

// Ledger is the portfolio the engine drives. *ledger.Ledger implements it.
type Ledger interface {
	RecordBuy(price decimal.Decimal, quantity int64) (model.LogEntry, error)
	RecordSell(price decimal.Decimal, quantity int64) (model.LogEntry, error)
	RecordHold(price decimal.Decimal) model.LogEntry
	SetLastPrice(price decimal.Decimal)
	SetPosition(position model.Action)
	LastPrice() (decimal.Decimal, bool)
	View() model.StateView
	Snapshot() model.Snapshot
	AllLogs() model.LogPage
	ProfitAndLoss() model.Performance
	Reset()
}

var _ Ledger = (*ledger.Ledger)(nil)

// Engine classifies prices and applies the resulting decisions. Every
// operation holds mu, so one submission is classified, applied and becomes
// the new baseline before the next one starts.
type Engine struct {
	mu     sync.Mutex
	ledger Ledger
}

// New creates an engine driving l.
func New(l Ledger) *Engine {
	return &Engine{ledger: l}
}

// SubmitPrice applies one price observation.
func (e *Engine) SubmitPrice(price decimal.Decimal) (model.DecisionResult, error) {
	if err := checkPrice(price); err != nil {
		return model.DecisionResult{}, err
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	last, ok := e.ledger.LastPrice()
	if !ok {
		e.ledger.SetLastPrice(price)
		e.ledger.SetPosition(model.ActionHold)
		snap := e.ledger.Snapshot()
		return model.DecisionResult{
			Action:       model.ActionHold,
			Reason:       BaselineReason,
			CurrentPrice: price,
			State:        model.DecisionState{StateView: e.ledger.View(), Snapshot: &snap},
		}, nil
	}

	var (
		action model.Action
		reason string
		entry  model.LogEntry
		err    error
	)

	switch price.Cmp(last) {
	case -1:
		action = model.ActionBuy
		reason = fmt.Sprintf("price fell from %s to %s: BUY signal", last, price)
		entry, err = e.ledger.RecordBuy(price, TradeQuantity)
		if errors.Is(err, ledger.ErrInsufficientFunds) {
			action, reason = model.ActionHold, "BUY signal, but "+rejection(err)
		}
	case 1:
		action = model.ActionSell
		reason = fmt.Sprintf("price rose from %s to %s: SELL signal", last, price)
		entry, err = e.ledger.RecordSell(price, TradeQuantity)
		if errors.Is(err, ledger.ErrInsufficientHoldings) {
			action, reason = model.ActionHold, "SELL signal, but "+rejection(err)
		}
	default:
		action = model.ActionHold
		reason = fmt.Sprintf("price unchanged at %s: HOLD", price)
		entry = e.ledger.RecordHold(price)
	}

	switch {
	case err == nil:
	case action == model.ActionHold:
		// Downgraded; the observation still counts.
		entry = e.ledger.RecordHold(price)
	default:
		return model.DecisionResult{}, err
	}

	e.ledger.SetLastPrice(price)
	e.ledger.SetPosition(action)

	diff := price.Sub(last)
	return model.DecisionResult{
		Action:          action,
		Reason:          reason,
		CurrentPrice:    price,
		LastPrice:       decimal.NewNullDecimal(last),
		PriceDifference: &diff,
		Transaction:     &entry,
		State:           model.DecisionState{StateView: e.ledger.View()},
	}, nil
}

// checkPrice bounds the exponent and digit count before any arithmetic, so
// an input like 1e3000000 never gets rescaled. The price is only printed
// once it is known to be small.
func checkPrice(price decimal.Decimal) error {
	exp := int(price.Exponent())
	if exp < -MaxPriceScale {
		return fmt.Errorf("%w: at most %d decimal places are supported", ErrInvalidPrice, MaxPriceScale)
	}
	digits := price.NumDigits()
	if digits > MaxPriceDigits || digits+exp > MaxPriceDigits {
		return fmt.Errorf("%w: at most %d digits are supported", ErrInvalidPrice, MaxPriceDigits)
	}
	if !price.IsPositive() {
		return fmt.Errorf("%w: got %s", ErrInvalidPrice, price)
	}
	return nil
}

// rejection renders a ledger rejection without the package prefix.
func rejection(err error) string {
	switch {
	case errors.Is(err, ledger.ErrInsufficientFunds):
		return "insufficient funds" + detail(err, ledger.ErrInsufficientFunds)
	case errors.Is(err, ledger.ErrInsufficientHoldings):
		return "insufficient holdings" + detail(err, ledger.ErrInsufficientHoldings)
	}
	return err.Error()
}

func detail(err, sentinel error) string {
	msg := strings.TrimPrefix(err.Error(), sentinel.Error()+": ")
	if msg == err.Error() {
		return ""
	}
	return " (" + msg + ")"
}

// Status returns the full snapshot with the performance block.
func (e *Engine) Status() model.Status {
	e.mu.Lock()
	defer e.mu.Unlock()

	perf := e.ledger.ProfitAndLoss()
	return model.Status{
		Snapshot:    e.ledger.Snapshot(),
		Performance: perf,
	}
}

// Logs returns the full transaction log.
func (e *Engine) Logs() model.LogPage {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.ledger.AllLogs()
}

// Reset reinitializes the portfolio.
func (e *Engine) Reset() model.ResetResult {
	e.mu.Lock()
	defer e.mu.Unlock()

	e.ledger.Reset()
	return model.ResetResult{
		Message: ResetMessage,
		State:   e.ledger.Snapshot(),
	}
}
