// Package strategy evaluates the multi-timeframe H4 FVG / Order Block
// strategy: H4 bias, H1/M15 structure confirmation, M5 entry confirmation.
package strategy

import (
	"fmt"
	"math"
	"time"

	"market-scanner/database"
	"market-scanner/indicators"
	"market-scanner/marketdata"
	"market-scanner/sltp"
	"market-scanner/statemachine"
)

// StrategyName is recorded on every emitted signal.
const StrategyName = "H4 FVG / OB + structure"

// Detection parameters.
const (
	biasLookback      = 20
	structureLookback = 20
	obThreshold       = 0.01
	swingWindow       = 5
)

// MultiTimeframeContext bundles one symbol's candle series for a single
// scan cycle. CurrentPrice is the last H1 close, or 0 when H1 is empty.
type MultiTimeframeContext struct {
	Alias        string
	VendorSymbol string
	NowUTC       time.Time

	H4  marketdata.Series
	H1  marketdata.Series
	M30 marketdata.Series
	M15 marketdata.Series
	M5  marketdata.Series
	M1  marketdata.Series

	CurrentPrice float64
}

// NewContext assembles a context and derives the current price.
func NewContext(alias, vendorSymbol string, nowUTC time.Time, h4, h1, m30, m15, m5, m1 marketdata.Series) *MultiTimeframeContext {
	currentPrice := 0.0
	if len(h1) > 0 {
		currentPrice = h1.Last().Close
	}
	return &MultiTimeframeContext{
		Alias:        alias,
		VendorSymbol: vendorSymbol,
		NowUTC:       nowUTC,
		H4:           h4,
		H1:           h1,
		M30:          m30,
		M15:          m15,
		M5:           m5,
		M1:           m1,
		CurrentPrice: currentPrice,
	}
}

// H4FvgStrategy emits at most one signal per symbol per H4 candle close.
// Not safe for concurrent use on the same alias; the orchestrator partitions
// symbols across workers.
type H4FvgStrategy struct {
	estimator sltp.Estimator
	lastH4    map[string]time.Time
}

// NewH4FvgStrategy creates a strategy over the given SL/TP estimator.
func NewH4FvgStrategy(estimator sltp.Estimator) *H4FvgStrategy {
	return &H4FvgStrategy{
		estimator: estimator,
		lastH4:    make(map[string]time.Time),
	}
}

// EvaluateNewSignal runs the full pipeline and returns a signal, or nil when
// any stage declines. The first observation of a symbol counts as a fresh
// H4 close.
func (s *H4FvgStrategy) EvaluateNewSignal(ctx *MultiTimeframeContext) *database.Signal {
	if len(ctx.H4) == 0 || ctx.CurrentPrice <= 0 {
		return nil
	}

	// H4-close gate
	lastTS := ctx.H4.Last().Timestamp
	prev, seen := s.lastH4[ctx.Alias]
	s.lastH4[ctx.Alias] = lastTS
	if seen && !lastTS.After(prev) {
		return nil
	}

	direction, fvgCount, obCount := s.bias(ctx.H4)
	if direction == "" {
		return nil
	}

	if !s.structureConfirms(ctx, direction) {
		return nil
	}

	if !s.entryConfirms(ctx.M5, direction) {
		return nil
	}

	entry := ctx.CurrentPrice
	swingHighs, swingLows := indicators.SwingPoints(ctx.H4, swingWindow)
	sl, tp := s.estimator.EstimateForNewSignal(ctx.Alias, direction, entry, ctx.H4, ctx.H1, swingHighs, swingLows)

	var estimatedRR *float64
	if slDist := math.Abs(entry - sl); slDist > 0 {
		rr := math.Abs(tp-entry) / slDist
		estimatedRR = &rr
	}

	return &database.Signal{
		SymbolAlias:      ctx.Alias,
		VendorSymbol:     ctx.VendorSymbol,
		Direction:        direction,
		TimeGeneratedUTC: ctx.NowUTC,
		EntryPrice:       entry,
		InitialSL:        sl,
		InitialTP:        tp,
		StrategyName:     StrategyName,
		Notes:            fmt.Sprintf("bias=%s h4_fvgs=%d h4_obs=%d", direction, fvgCount, obCount),
		EstimatedRR:      estimatedRR,
	}
}

// bias derives trade direction from the last 3 H4 FVGs and last 3 order
// blocks: buy when bullish counts strictly dominate twice the bearish
// counts, sell on the mirror, otherwise none.
func (s *H4FvgStrategy) bias(h4 marketdata.Series) (direction string, fvgCount, obCount int) {
	fvgs := indicators.FVGs(h4, biasLookback)
	obs := indicators.OrderBlocks(h4, biasLookback, obThreshold)

	bullish, bearish := 0, 0
	for _, f := range lastFVGs(fvgs, 3) {
		if f.Direction == indicators.Bullish {
			bullish++
		} else {
			bearish++
		}
	}
	for _, ob := range lastOBs(obs, 3) {
		if ob.Direction == indicators.Bullish {
			bullish++
		} else {
			bearish++
		}
	}

	switch {
	case bullish > 2*bearish && bullish > 0:
		return database.DirectionBuy, len(fvgs), len(obs)
	case bearish > 2*bullish && bearish > 0:
		return database.DirectionSell, len(fvgs), len(obs)
	default:
		return "", len(fvgs), len(obs)
	}
}

// structureConfirms requires at least one bias-aligned H1 BOS, H1 CHOCH or
// M15 liquidity sweep.
func (s *H4FvgStrategy) structureConfirms(ctx *MultiTimeframeContext, direction string) bool {
	var events []indicators.StructureEvent
	events = append(events, indicators.BOS(ctx.H1, structureLookback)...)
	events = append(events, indicators.CHOCH(ctx.H1, structureLookback)...)
	events = append(events, indicators.LiquiditySweeps(ctx.M15, structureLookback)...)

	side := indicators.Bullish
	if direction == database.DirectionSell {
		side = indicators.Bearish
	}

	return indicators.HasEvent(events, side+"_bos") ||
		indicators.HasEvent(events, side+"_choch") ||
		indicators.HasEvent(events, side+"_sweep")
}

// entryConfirms accepts a wick-rejection on any of the last 3 M5 candles;
// failing that, it falls back to the 5-candle close trend.
func (s *H4FvgStrategy) entryConfirms(m5 marketdata.Series, direction string) bool {
	for _, c := range m5.Tail(3) {
		body := math.Abs(c.Close - c.Open)
		if direction == database.DirectionBuy {
			lowerWick := math.Min(c.Open, c.Close) - c.Low
			if lowerWick > 2*body && c.Close > c.Open {
				return true
			}
		} else {
			upperWick := c.High - math.Max(c.Open, c.Close)
			if upperWick > 2*body && c.Close < c.Open {
				return true
			}
		}
	}

	if len(m5) < 5 {
		return false
	}
	closes := m5.Closes()
	last := closes[len(closes)-1]
	ref := closes[len(closes)-5]
	if direction == database.DirectionBuy {
		return last > ref
	}
	return last <= ref
}

// EvaluateOpenTrade returns at most one action for an open trade: SL
// crossing first, then TP, then an estimator adjustment translated to an
// SL/TP update or a manual close. Nil when the trade is not Open or no
// price is observable.
func (s *H4FvgStrategy) EvaluateOpenTrade(trade *database.Trade, ctx *MultiTimeframeContext) *statemachine.Action {
	if trade.State != database.StateOpen || ctx.CurrentPrice <= 0 {
		return nil
	}

	if high, low, ok := latestExtremes(ctx); ok {
		if action := statemachine.DetectCrossing(trade, high, low); action != nil {
			return action
		}
	}

	adj := s.estimator.EvaluateAdjustment(
		trade.Direction, trade.ActualEntry, trade.StopLoss, ctx.CurrentPrice,
		trade.OpenTimeUTC, ctx.H4, ctx.NowUTC)
	if adj == nil {
		return nil
	}

	switch adj.Type {
	case sltp.AdjustMoveSL:
		newSL := adj.NewSL
		return &statemachine.Action{Type: statemachine.ActionUpdateSLTP, NewSL: &newSL, Reason: adj.Reason}
	case sltp.AdjustCloseEarly:
		return &statemachine.Action{Type: statemachine.ActionCloseManual, ClosePrice: ctx.CurrentPrice, Reason: adj.Reason}
	default:
		return nil
	}
}

// latestExtremes picks the crossing-detection candle from the most granular
// available series.
func latestExtremes(ctx *MultiTimeframeContext) (high, low float64, ok bool) {
	for _, series := range []marketdata.Series{ctx.M1, ctx.M5} {
		if len(series) > 0 {
			c := series.Last()
			return c.High, c.Low, true
		}
	}
	return 0, 0, false
}

func lastFVGs(fvgs []indicators.FVG, n int) []indicators.FVG {
	if len(fvgs) <= n {
		return fvgs
	}
	return fvgs[len(fvgs)-n:]
}

func lastOBs(obs []indicators.OrderBlock, n int) []indicators.OrderBlock {
	if len(obs) <= n {
		return obs
	}
	return obs[len(obs)-n:]
}
