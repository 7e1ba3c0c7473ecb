package strategy

import (
	"testing"
	"time"

	"market-scanner/database"
	"market-scanner/marketdata"
	"market-scanner/sltp"
	"market-scanner/statemachine"
)

var testBase = time.Date(2025, 5, 1, 0, 0, 0, 0, time.UTC)

func h4Candle(i int, o, h, l, c float64) marketdata.Candle {
	return marketdata.Candle{
		Timestamp: testBase.Add(time.Duration(i) * 4 * time.Hour),
		Open:      o, High: h, Low: l, Close: c, Volume: 1000,
	}
}

// bullishGappedH4 produces a series where every middle candle is a bullish
// FVG (each candle's low clears the previous candle's high).
func bullishGappedH4(n int) marketdata.Series {
	s := make(marketdata.Series, n)
	for i := range s {
		low := 100 + 3*float64(i)
		s[i] = h4Candle(i, low, low+2, low, low+2)
	}
	return s
}

func flatH1(n int, price float64) marketdata.Series {
	s := make(marketdata.Series, n)
	for i := range s {
		s[i] = marketdata.Candle{
			Timestamp: testBase.Add(time.Duration(i) * time.Hour),
			Open:      price, High: price + 1, Low: price - 1, Close: price,
		}
	}
	return s
}

// breakoutH1 is a flat range with the final candle closing above the prior
// high, producing a bullish BOS.
func breakoutH1(price float64) marketdata.Series {
	s := flatH1(30, price)
	s = append(s, marketdata.Candle{
		Timestamp: testBase.Add(31 * time.Hour),
		Open:      price, High: price + 5, Low: price, Close: price + 4,
	})
	return s
}

// rejectionM5 ends with a strong lower-wick rejection candle.
func rejectionM5(n int) marketdata.Series {
	s := make(marketdata.Series, n)
	for i := range s {
		s[i] = marketdata.Candle{
			Timestamp: testBase.Add(time.Duration(i) * 5 * time.Minute),
			Open:      100, High: 101, Low: 99.8, Close: 100.2,
		}
	}
	s[n-1] = marketdata.Candle{
		Timestamp: testBase.Add(time.Duration(n-1) * 5 * time.Minute),
		Open:      100.5, High: 101, Low: 99, Close: 100.8, // wick 1.5 > 2 * body 0.3
	}
	return s
}

func buyContext() *MultiTimeframeContext {
	return NewContext("XAU", "GC=F", testBase.Add(200*time.Hour),
		bullishGappedH4(30), breakoutH1(100), flatH1(30, 100), flatH1(30, 100), rejectionM5(10), nil)
}

func newTestStrategy() *H4FvgStrategy {
	return NewH4FvgStrategy(sltp.NewDynamicEstimator(nil, 0.01, 10000))
}

func TestEvaluateNewSignalBuy(t *testing.T) {
	strat := newTestStrategy()
	ctx := buyContext()

	signal := strat.EvaluateNewSignal(ctx)
	if signal == nil {
		t.Fatal("expected a buy signal")
	}
	if signal.Direction != database.DirectionBuy {
		t.Errorf("expected buy, got %s", signal.Direction)
	}
	if signal.StrategyName != StrategyName {
		t.Errorf("unexpected strategy name %q", signal.StrategyName)
	}
	if !(signal.InitialSL < signal.EntryPrice && signal.EntryPrice < signal.InitialTP) {
		t.Errorf("expected sl < entry < tp, got sl=%f entry=%f tp=%f",
			signal.InitialSL, signal.EntryPrice, signal.InitialTP)
	}
	if signal.EstimatedRR == nil || *signal.EstimatedRR <= 0 {
		t.Errorf("expected positive estimated RR, got %v", signal.EstimatedRR)
	}
	if signal.EntryPrice != ctx.CurrentPrice {
		t.Errorf("entry should be the current price %f, got %f", ctx.CurrentPrice, signal.EntryPrice)
	}
}

func TestH4CloseGate(t *testing.T) {
	strat := newTestStrategy()
	ctx := buyContext()

	if strat.EvaluateNewSignal(ctx) == nil {
		t.Fatal("first evaluation should emit a signal")
	}
	if strat.EvaluateNewSignal(ctx) != nil {
		t.Error("same H4 close must not emit a second signal")
	}

	// A newer H4 candle reopens the gate.
	next := buyContext()
	last := next.H4.Last()
	next.H4 = append(next.H4, marketdata.Candle{
		Timestamp: last.Timestamp.Add(4 * time.Hour),
		Open:      last.Close, High: last.Close + 5, Low: last.Close, Close: last.Close + 5,
	})
	if strat.EvaluateNewSignal(next) == nil {
		t.Error("new H4 close should emit again")
	}
}

func TestNoSignalWithoutBias(t *testing.T) {
	strat := newTestStrategy()
	ctx := buyContext()
	ctx.H4 = flatH1(30, 100) // no FVGs, no OBs

	if signal := strat.EvaluateNewSignal(ctx); signal != nil {
		t.Errorf("expected no signal without bias, got %+v", signal)
	}
}

func TestNoSignalWithoutStructure(t *testing.T) {
	strat := newTestStrategy()
	ctx := buyContext()
	ctx.H1 = flatH1(31, 100)                // no BOS, no CHOCH
	ctx.CurrentPrice = ctx.H1.Last().Close  // keep a valid price
	ctx.M15 = flatH1(30, 100)               // no sweeps

	if signal := strat.EvaluateNewSignal(ctx); signal != nil {
		t.Errorf("expected no signal without structure confirmation, got %+v", signal)
	}
}

func TestNoSignalOnEmptyContext(t *testing.T) {
	strat := newTestStrategy()
	ctx := NewContext("XAU", "GC=F", testBase, nil, nil, nil, nil, nil, nil)
	if signal := strat.EvaluateNewSignal(ctx); signal != nil {
		t.Errorf("expected no signal on empty context, got %+v", signal)
	}
}

func TestEntryConfirmFallbackTrend(t *testing.T) {
	strat := newTestStrategy()

	// Rising closes, no wick rejections: the 5-candle trend accepts a buy.
	m5 := make(marketdata.Series, 10)
	for i := range m5 {
		price := 100 + float64(i)*0.1
		m5[i] = marketdata.Candle{
			Timestamp: testBase.Add(time.Duration(i) * 5 * time.Minute),
			Open:      price, High: price + 0.05, Low: price - 0.05, Close: price + 0.04,
		}
	}
	if !strat.entryConfirms(m5, database.DirectionBuy) {
		t.Error("expected trend fallback to accept a buy")
	}
	if strat.entryConfirms(m5, database.DirectionSell) {
		t.Error("rising closes must reject a sell")
	}
}

func TestEvaluateOpenTradeSlFirst(t *testing.T) {
	strat := newTestStrategy()
	ctx := buyContext()
	// Latest M1 candle spans both SL and TP: SL wins.
	ctx.M1 = marketdata.Series{{
		Timestamp: testBase, Open: 100, High: 102, Low: 98, Close: 100,
	}}

	trade := &database.Trade{
		ID: 1, Direction: database.DirectionBuy, State: database.StateOpen,
		ActualEntry: 100, StopLoss: 99, TakeProfit: 101,
		OpenTimeUTC: ctx.NowUTC.Add(-time.Hour),
	}

	action := strat.EvaluateOpenTrade(trade, ctx)
	if action == nil || action.Type != statemachine.ActionCloseBySl {
		t.Fatalf("expected close_by_sl, got %+v", action)
	}
	if action.ClosePrice != 99 {
		t.Errorf("expected close price 99, got %f", action.ClosePrice)
	}
}

func TestEvaluateOpenTradeTimeStop(t *testing.T) {
	strat := newTestStrategy()
	ctx := buyContext()
	// Candle stays inside the SL/TP band.
	ctx.M1 = marketdata.Series{{
		Timestamp: testBase, Open: 100, High: 100.5, Low: 99.8, Close: 100,
	}}

	trade := &database.Trade{
		ID: 2, Direction: database.DirectionBuy, State: database.StateOpen,
		ActualEntry: 104, StopLoss: 90, TakeProfit: 200,
		OpenTimeUTC: ctx.NowUTC.Add(-8 * 24 * time.Hour),
	}

	action := strat.EvaluateOpenTrade(trade, ctx)
	if action == nil || action.Type != statemachine.ActionCloseManual {
		t.Fatalf("expected close_manual, got %+v", action)
	}
	if action.Reason != sltp.ReasonTimeStop {
		t.Errorf("expected reason %q, got %q", sltp.ReasonTimeStop, action.Reason)
	}
}

func TestEvaluateOpenTradeIgnoresClosed(t *testing.T) {
	strat := newTestStrategy()
	ctx := buyContext()

	trade := &database.Trade{
		ID: 3, Direction: database.DirectionBuy, State: database.StateClosedByTp,
		ActualEntry: 100, StopLoss: 99, TakeProfit: 101,
	}
	if action := strat.EvaluateOpenTrade(trade, ctx); action != nil {
		t.Errorf("expected nil for a closed trade, got %+v", action)
	}
}
