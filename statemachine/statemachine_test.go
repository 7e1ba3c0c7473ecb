package statemachine

import (
	"fmt"
	"testing"
	"time"

	"market-scanner/database"
)

type fakeStore struct {
	trades    map[int64]*database.Trade
	closedIDs []int64
}

func newFakeStore(trades ...*database.Trade) *fakeStore {
	s := &fakeStore{trades: make(map[int64]*database.Trade)}
	for _, t := range trades {
		s.trades[t.ID] = t
	}
	return s
}

func (s *fakeStore) UpdateTradeState(id int64, state database.TradeState, closeTime time.Time, closePrice float64, reason string) (*database.Trade, error) {
	t, ok := s.trades[id]
	if !ok {
		return nil, fmt.Errorf("trade %d not found", id)
	}
	// The real repository keys the UPDATE on id AND state = Open.
	if t.State != database.StateOpen {
		return nil, fmt.Errorf("trade %d not found", id)
	}
	t.State = state
	t.CloseTimeUTC = &closeTime
	t.ClosePrice = &closePrice
	t.CloseReason = &reason
	return t, nil
}

func (s *fakeStore) UpdateTradeSLTP(id int64, newSL, newTP *float64) (*database.Trade, error) {
	t, ok := s.trades[id]
	if !ok {
		return nil, fmt.Errorf("trade %d not found", id)
	}
	if newSL != nil {
		t.StopLoss = *newSL
	}
	if newTP != nil {
		t.TakeProfit = *newTP
	}
	return t, nil
}

func (s *fakeStore) GetClosedTradeIDs() ([]int64, error) {
	return s.closedIDs, nil
}

func openTrade(id int64, direction string, entry, sl, tp float64) *database.Trade {
	return &database.Trade{
		ID:          id,
		SignalID:    id,
		SymbolAlias: "XAU",
		Direction:   direction,
		ActualEntry: entry,
		StopLoss:    sl,
		TakeProfit:  tp,
		State:       database.StateOpen,
		OpenTimeUTC: time.Now().UTC().Add(-time.Hour),
	}
}

func TestDetectCrossing(t *testing.T) {
	tests := []struct {
		name       string
		trade      *database.Trade
		high, low  float64
		wantType   ActionType
		wantPrice  float64
		wantNoHit  bool
	}{
		{
			name:  "buy SL hit",
			trade: openTrade(1, database.DirectionBuy, 100, 99, 110),
			high:  99.5, low: 98.5,
			wantType: ActionCloseBySl, wantPrice: 99,
		},
		{
			name:  "buy TP hit",
			trade: openTrade(2, database.DirectionBuy, 100, 99, 110),
			high:  111, low: 105,
			wantType: ActionCloseByTp, wantPrice: 110,
		},
		{
			name:  "sell TP hit",
			trade: openTrade(3, database.DirectionSell, 100, 102, 95),
			high:  96, low: 94,
			wantType: ActionCloseByTp, wantPrice: 95,
		},
		{
			name:  "sell SL hit",
			trade: openTrade(4, database.DirectionSell, 100, 102, 95),
			high:  103, low: 101,
			wantType: ActionCloseBySl, wantPrice: 102,
		},
		{
			name:  "SL precedence when both cross",
			trade: openTrade(5, database.DirectionBuy, 100, 99, 101),
			high:  102, low: 98,
			wantType: ActionCloseBySl, wantPrice: 99,
		},
		{
			name:  "no crossing",
			trade: openTrade(6, database.DirectionBuy, 100, 99, 110),
			high:  101, low: 99.5,
			wantNoHit: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			action := DetectCrossing(tt.trade, tt.high, tt.low)
			if tt.wantNoHit {
				if action != nil {
					t.Fatalf("expected no action, got %+v", action)
				}
				return
			}
			if action == nil {
				t.Fatal("expected an action, got nil")
			}
			if action.Type != tt.wantType {
				t.Errorf("expected %s, got %s", tt.wantType, action.Type)
			}
			if action.ClosePrice != tt.wantPrice {
				t.Errorf("expected close price %f, got %f", tt.wantPrice, action.ClosePrice)
			}
		})
	}
}

func TestCheckAndUpdateIgnoresClosedTrades(t *testing.T) {
	trade := openTrade(1, database.DirectionBuy, 100, 99, 110)
	m := New(newFakeStore(trade))

	// Non-Open state
	trade.State = database.StateClosedManual
	if action := m.CheckAndUpdate(trade, 98, 99, 98); action != nil {
		t.Errorf("expected nil for non-Open trade, got %+v", action)
	}

	// Open in DB snapshot but already in the closed set
	trade.State = database.StateOpen
	m.closed[trade.ID] = struct{}{}
	if action := m.CheckAndUpdate(trade, 98, 99, 98); action != nil {
		t.Errorf("expected nil for closed-set trade, got %+v", action)
	}
}

func TestApplyCloseBySl(t *testing.T) {
	trade := openTrade(2, database.DirectionBuy, 100, 99, 110)
	store := newFakeStore(trade)
	m := New(store)

	action := m.CheckAndUpdate(trade, 98.5, 99.2, 98.5)
	if action == nil || action.Type != ActionCloseBySl {
		t.Fatalf("expected close_by_sl, got %+v", action)
	}

	updated, err := m.Apply(trade.ID, action)
	if err != nil {
		t.Fatalf("apply failed: %v", err)
	}
	if updated.State != database.StateClosedBySl {
		t.Errorf("expected ClosedBySl, got %s", updated.State)
	}
	if updated.ClosePrice == nil || *updated.ClosePrice != 99 {
		t.Errorf("expected close price 99, got %v", updated.ClosePrice)
	}
	if !m.IsTradeClosed(trade.ID) {
		t.Error("trade should be in the closed set after apply")
	}
}

func TestApplyUpdateSLTP(t *testing.T) {
	trade := openTrade(3, database.DirectionBuy, 100, 98, 110)
	store := newFakeStore(trade)
	m := New(store)

	newSL := 100.0
	updated, err := m.Apply(trade.ID, &Action{Type: ActionUpdateSLTP, NewSL: &newSL, Reason: "breakeven"})
	if err != nil {
		t.Fatalf("apply failed: %v", err)
	}
	if updated.StopLoss != 100 {
		t.Errorf("expected SL 100, got %f", updated.StopLoss)
	}
	if updated.TakeProfit != 110 {
		t.Errorf("TP should be untouched, got %f", updated.TakeProfit)
	}
	if m.IsTradeClosed(trade.ID) {
		t.Error("SL/TP update must not close the trade")
	}
}

func TestApplyRejectsSecondClose(t *testing.T) {
	trade := openTrade(5, database.DirectionBuy, 100, 99, 110)
	store := newFakeStore(trade)
	m := New(store)

	if _, err := m.Apply(trade.ID, &Action{Type: ActionCloseByTp, ClosePrice: 110, Reason: "Take profit hit"}); err != nil {
		t.Fatalf("first close failed: %v", err)
	}
	if _, err := m.Apply(trade.ID, &Action{Type: ActionCloseBySl, ClosePrice: 99, Reason: "Stop loss hit"}); err == nil {
		t.Error("expected error closing an already closed trade")
	}
	if trade.State != database.StateClosedByTp {
		t.Errorf("first transition must stand, got %s", trade.State)
	}
}

func TestApplyErrors(t *testing.T) {
	m := New(newFakeStore())

	if _, err := m.Apply(42, &Action{Type: ActionCloseByTp, ClosePrice: 1}); err == nil {
		t.Error("expected error for unknown trade id")
	}
	if _, err := m.Apply(42, &Action{Type: "bogus"}); err == nil {
		t.Error("expected error for unsupported action")
	}
	if _, err := m.Apply(42, nil); err == nil {
		t.Error("expected error for nil action")
	}
}

func TestNoDuplicateTpNotification(t *testing.T) {
	trade := openTrade(4, database.DirectionBuy, 100, 99, 110)
	store := newFakeStore(trade)
	m := New(store)

	// Close manually first; later candles crossing the old TP must stay
	// silent.
	if _, err := m.Apply(trade.ID, &Action{Type: ActionCloseManual, ClosePrice: 105, Reason: "Trade open > 7 days"}); err != nil {
		t.Fatalf("apply failed: %v", err)
	}

	if action := m.CheckAndUpdate(trade, 112, 112, 108); action != nil {
		t.Errorf("expected no action after manual close, got %+v", action)
	}
	if m.ShouldSendTpNotification(trade.ID, trade.State) {
		t.Error("no TP notification after a manual close")
	}
}

func TestShouldSendTpNotificationOnce(t *testing.T) {
	m := New(newFakeStore())

	if !m.ShouldSendTpNotification(7, database.StateClosedByTp) {
		t.Error("first ClosedByTp transition should notify")
	}
	if m.ShouldSendTpNotification(7, database.StateClosedByTp) {
		t.Error("second call must be suppressed")
	}
	if m.ShouldSendTpNotification(8, database.StateClosedBySl) {
		t.Error("non-TP state never notifies")
	}
}

func TestLoadClosedFromDB(t *testing.T) {
	store := newFakeStore()
	store.closedIDs = []int64{10, 11}
	m := New(store)

	if err := m.LoadClosedFromDB(); err != nil {
		t.Fatalf("seed failed: %v", err)
	}
	if !m.IsTradeClosed(10) || !m.IsTradeClosed(11) {
		t.Error("seeded ids should be closed")
	}
	if m.ShouldSendTpNotification(10, database.StateClosedByTp) {
		t.Error("seeded trades must never re-notify")
	}
}
