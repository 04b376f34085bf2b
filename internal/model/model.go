// Package model defines the core domain types shared across the paper trader.
// All monetary values use shopspring/decimal, never float64.
package model

import (
	"encoding/json"
	"time"

	"github.com/shopspring/decimal"
)

// Action is the outcome of one price observation.
type Action string

const (
	ActionHold Action = "HOLD"
	ActionBuy  Action = "BUY"
	ActionSell Action = "SELL"
)

// Valid reports whether a is one of the three known actions.
func (a Action) Valid() bool {
	switch a {
	case ActionHold, ActionBuy, ActionSell:
		return true
	}
	return false
}

// LogEntry is an immutable record of one accepted observation.
// Once created, entries are never modified; the pointer fields are shared
// between copies and must be treated as read-only.
//
// BUY entries carry Quantity, Cost, BalanceAfter and HoldingsAfter.
// SELL entries carry Quantity, Revenue, BalanceAfter and HoldingsAfter.
// HOLD entries carry only Reason.
type LogEntry struct {
	ID            int64            `json:"id"`
	Timestamp     time.Time        `json:"timestamp"`
	Action        Action           `json:"action"`
	Price         decimal.Decimal  `json:"price"`
	Quantity      int64            `json:"quantity,omitempty"`
	Cost          *decimal.Decimal `json:"cost,omitempty"`
	Revenue       *decimal.Decimal `json:"revenue,omitempty"`
	BalanceAfter  *decimal.Decimal `json:"balanceAfter,omitempty"`
	HoldingsAfter *int64           `json:"holdingsAfter,omitempty"`
	Reason        string           `json:"reason,omitempty"`
}

// Snapshot is a point-in-time copy of the whole portfolio state.
type Snapshot struct {
	Balance           decimal.Decimal     `json:"balance"`
	LastPrice         decimal.NullDecimal `json:"lastPrice"`
	CurrentPosition   Action              `json:"currentPosition"`
	Holdings          int64               `json:"holdings"`
	TransactionLogs   []LogEntry          `json:"transactionLogs"`
	TotalTransactions int64               `json:"totalTransactions"`
	ProfitLoss        decimal.Decimal     `json:"profitLoss"`
	StateInfo         string              `json:"stateInfo"`
}

// Performance is the profit/loss report against the initial balance.
type Performance struct {
	InitialBalance    decimal.Decimal     `json:"initialBalance"`
	CurrentBalance    decimal.Decimal     `json:"currentBalance"`
	Holdings          int64               `json:"holdings"`
	LastPrice         decimal.NullDecimal `json:"lastPrice"`
	PortfolioValue    decimal.Decimal     `json:"portfolioValue"`
	ProfitLoss        decimal.Decimal     `json:"profitLoss"`
	ProfitLossPercent string              `json:"profitLossPercent"` // e.g. "0.01%"
}

// LogPage is the full, ordered transaction log.
type LogPage struct {
	TotalLogs int        `json:"totalLogs"`
	Logs      []LogEntry `json:"logs"`
}

// Status is the snapshot plus the performance block.
type Status struct {
	Snapshot
	Performance Performance `json:"performance"`
}

// StateView is the trimmed state returned with every decision.
type StateView struct {
	Balance  decimal.Decimal `json:"balance"`
	Holdings int64           `json:"holdings"`
	Position Action          `json:"position"`
}

// DecisionResult describes what the engine did with one submitted price.
type DecisionResult struct {
	Action          Action              `json:"action"`
	Reason          string              `json:"reason"`
	CurrentPrice    decimal.Decimal     `json:"currentPrice"`
	LastPrice       decimal.NullDecimal `json:"lastPrice"`                 // price before this update
	PriceDifference *decimal.Decimal    `json:"priceDifference,omitempty"` // absent on the baseline
	Transaction     *LogEntry           `json:"transaction"`
	State           DecisionState       `json:"state"`
}

// DecisionState is the state attached to a decision. The baseline
// observation carries the full snapshot; every other decision carries the
// trimmed view. StateView is filled in both cases.
type DecisionState struct {
	StateView
	Snapshot *Snapshot
}

// MarshalJSON writes the snapshot when present, the trimmed view otherwise.
func (s DecisionState) MarshalJSON() ([]byte, error) {
	if s.Snapshot != nil {
		return json.Marshal(s.Snapshot)
	}
	return json.Marshal(s.StateView)
}

// UnmarshalJSON accepts both shapes; a snapshot is recognised by stateInfo.
func (s *DecisionState) UnmarshalJSON(b []byte) error {
	var shape struct {
		StateInfo *string `json:"stateInfo"`
	}
	if err := json.Unmarshal(b, &shape); err != nil {
		return err
	}
	if shape.StateInfo == nil {
		*s = DecisionState{}
		return json.Unmarshal(b, &s.StateView)
	}

	var snap Snapshot
	if err := json.Unmarshal(b, &snap); err != nil {
		return err
	}
	*s = DecisionState{
		StateView: StateView{
			Balance:  snap.Balance,
			Holdings: snap.Holdings,
			Position: snap.CurrentPosition,
		},
		Snapshot: &snap,
	}
	return nil
}

// ResetResult is returned after the portfolio has been reinitialized.
type ResetResult struct {
	Message string   `json:"message"`
	State   Snapshot `json:"state"`
}
