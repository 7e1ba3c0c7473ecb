// Package statemachine drives the trade lifecycle: crossing detection,
// exclusive Open → closed transitions, and duplicate-notification
// suppression across the process lifetime.
package statemachine

import (
	"fmt"
	"log"
	"sync"
	"time"

	"market-scanner/database"
)

// ActionType identifies what should happen to an open trade.
type ActionType string

const (
	ActionCloseBySl   ActionType = "close_by_sl"
	ActionCloseByTp   ActionType = "close_by_tp"
	ActionCloseManual ActionType = "close_manual"
	ActionUpdateSLTP  ActionType = "update_sl_tp"
)

// Action is a pending trade update. ClosePrice and Reason apply to close
// actions; NewSL/NewTP apply to ActionUpdateSLTP (nil leaves a field as is).
type Action struct {
	Type       ActionType
	ClosePrice float64
	Reason     string
	NewSL      *float64
	NewTP      *float64
}

// TradeStore is the persistence surface the state machine needs.
// database.TradeRepository satisfies it.
type TradeStore interface {
	UpdateTradeState(tradeID int64, newState database.TradeState, closeTimeUTC time.Time, closePrice float64, closeReason string) (*database.Trade, error)
	UpdateTradeSLTP(tradeID int64, newSL, newTP *float64) (*database.Trade, error)
	GetClosedTradeIDs() ([]int64, error)
}

// StateMachine enforces the exclusive-transition invariant: a trade leaves
// Open exactly once, and no later candle may retrigger a notification for
// it. The in-memory closed set is the authority within a process; the
// database is authoritative across restarts.
type StateMachine struct {
	store TradeStore

	mu         sync.Mutex
	closed     map[int64]struct{}
	tpNotified map[int64]struct{}

	now func() time.Time
}

// New creates a state machine over the given store.
func New(store TradeStore) *StateMachine {
	return &StateMachine{
		store:      store,
		closed:     make(map[int64]struct{}),
		tpNotified: make(map[int64]struct{}),
		now:        func() time.Time { return time.Now().UTC() },
	}
}

// LoadClosedFromDB seeds the closed set from every non-Open trade, so a
// restart never re-notifies an already closed trade.
func (m *StateMachine) LoadClosedFromDB() error {
	ids, err := m.store.GetClosedTradeIDs()
	if err != nil {
		return fmt.Errorf("seed closed set: %w", err)
	}

	m.mu.Lock()
	for _, id := range ids {
		m.closed[id] = struct{}{}
		m.tpNotified[id] = struct{}{}
	}
	m.mu.Unlock()

	log.Printf("✅ State machine seeded with %d closed trades", len(ids))
	return nil
}

// DetectCrossing reports whether the observed candle range crosses the
// trade's SL or TP. SL takes precedence when both lie within the range.
// Pure function, no state consulted.
func DetectCrossing(trade *database.Trade, candleHigh, candleLow float64) *Action {
	if trade.Direction == database.DirectionBuy {
		if candleLow <= trade.StopLoss {
			return &Action{Type: ActionCloseBySl, ClosePrice: trade.StopLoss, Reason: "Stop loss hit"}
		}
		if candleHigh >= trade.TakeProfit {
			return &Action{Type: ActionCloseByTp, ClosePrice: trade.TakeProfit, Reason: "Take profit hit"}
		}
		return nil
	}

	if candleHigh >= trade.StopLoss {
		return &Action{Type: ActionCloseBySl, ClosePrice: trade.StopLoss, Reason: "Stop loss hit"}
	}
	if candleLow <= trade.TakeProfit {
		return &Action{Type: ActionCloseByTp, ClosePrice: trade.TakeProfit, Reason: "Take profit hit"}
	}
	return nil
}

// CheckAndUpdate returns the close action implied by the observed candle,
// or nil when the trade is not Open (or already in the closed set). The
// trade is never mutated here.
func (m *StateMachine) CheckAndUpdate(trade *database.Trade, currentPrice, candleHigh, candleLow float64) *Action {
	if trade.State != database.StateOpen {
		return nil
	}
	if m.IsTradeClosed(trade.ID) {
		return nil
	}
	return DetectCrossing(trade, candleHigh, candleLow)
}

// Apply executes an action against the store. Close actions transition the
// trade atomically and record it in the closed set; unknown trade ids and
// unsupported action types are runtime errors.
func (m *StateMachine) Apply(tradeID int64, action *Action) (*database.Trade, error) {
	if action == nil {
		return nil, fmt.Errorf("apply on trade %d: nil action", tradeID)
	}

	switch action.Type {
	case ActionCloseBySl, ActionCloseByTp, ActionCloseManual:
		newState := stateForAction(action.Type)
		trade, err := m.store.UpdateTradeState(tradeID, newState, m.now(), action.ClosePrice, action.Reason)
		if err != nil {
			return nil, err
		}

		m.mu.Lock()
		m.closed[tradeID] = struct{}{}
		m.mu.Unlock()

		log.Printf("📊 Trade %d: Open → %s (%s)", tradeID, newState, action.Reason)
		return trade, nil

	case ActionUpdateSLTP:
		trade, err := m.store.UpdateTradeSLTP(tradeID, action.NewSL, action.NewTP)
		if err != nil {
			return nil, err
		}
		log.Printf("📊 Trade %d: SL/TP updated (%s)", tradeID, action.Reason)
		return trade, nil

	default:
		return nil, fmt.Errorf("apply on trade %d: unsupported action %q", tradeID, action.Type)
	}
}

// IsTradeClosed reports whether the trade has left Open within this process
// or was already closed at startup.
func (m *StateMachine) IsTradeClosed(tradeID int64) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := m.closed[tradeID]
	return ok
}

// ShouldSendTpNotification returns true exactly once per trade, on the
// Open → ClosedByTp transition. Any later call for the same trade returns
// false regardless of candle movement.
func (m *StateMachine) ShouldSendTpNotification(tradeID int64, newState database.TradeState) bool {
	if newState != database.StateClosedByTp {
		return false
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if _, done := m.tpNotified[tradeID]; done {
		return false
	}
	m.tpNotified[tradeID] = struct{}{}
	return true
}

func stateForAction(t ActionType) database.TradeState {
	switch t {
	case ActionCloseByTp:
		return database.StateClosedByTp
	case ActionCloseBySl:
		return database.StateClosedBySl
	default:
		return database.StateClosedManual
	}
}
