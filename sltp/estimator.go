// Package sltp computes stop-loss / take-profit placement for new signals
// and rule-based adjustments for open trades.
package sltp

import (
	"log"
	"math"
	"time"

	"market-scanner/database"
	"market-scanner/indicators"
	"market-scanner/marketdata"
)

// Placement multipliers and the trade age limit.
const (
	atrPeriod    = 14
	atrMultSL    = 1.5
	atrMultTP    = 2.5
	atrMultTrail = 1.0

	maxTradeAge = 7 * 24 * time.Hour
)

// Adjustment reasons carried into close_reason / notifications.
const (
	ReasonBreakeven = "Move SL to breakeven (1R profit)"
	ReasonTrail     = "Trail SL (2R profit)"
	ReasonTimeStop  = "Trade open > 7 days"
)

// AdjustmentType distinguishes an SL move from an early close.
type AdjustmentType string

const (
	AdjustMoveSL     AdjustmentType = "move_sl"
	AdjustCloseEarly AdjustmentType = "close_early"
)

// Adjustment is the estimator's verdict for an open trade. NewSL is only
// meaningful for AdjustMoveSL.
type Adjustment struct {
	Type   AdjustmentType
	NewSL  float64
	Reason string
}

// StatsProvider supplies MAE/MFE aggregates over recent closed trades.
// database.TradeRepository satisfies it; tests use a fake.
type StatsProvider interface {
	GetMaeMfeStats(symbolAlias, direction string, limit int) (database.MaeMfeStats, error)
}

// Estimator is the SL/TP placement contract used by the strategy engine.
type Estimator interface {
	EstimateForNewSignal(alias, direction string, entry float64, h4, h1 marketdata.Series, swingHighs, swingLows []float64) (sl, tp float64)
	EvaluateAdjustment(direction string, entry, currentSL, currentPrice float64, openTimeUTC time.Time, h4 marketdata.Series, nowUTC time.Time) *Adjustment
	RiskAndLotSize(entry, sl float64) (riskAmount, lotSize float64)
}

// DynamicEstimator anchors SL on the deepest swing beyond entry (lowest
// swing low for a buy, highest swing high for a sell) padded by ATR, and
// places TP at the historical median favourable excursion when enough
// closed trades exist, falling back to an ATR multiple.
type DynamicEstimator struct {
	stats        StatsProvider
	riskFraction float64
	equity       float64
}

// NewDynamicEstimator creates an estimator. stats may be nil, in which case
// the ATR fallback is always used for TP.
func NewDynamicEstimator(stats StatsProvider, riskFraction, equity float64) *DynamicEstimator {
	return &DynamicEstimator{
		stats:        stats,
		riskFraction: riskFraction,
		equity:       equity,
	}
}

// EstimateForNewSignal returns (sl, tp) for a fresh signal. For a buy the
// invariant sl < entry < tp holds; mirrored for a sell.
func (e *DynamicEstimator) EstimateForNewSignal(alias, direction string, entry float64, h4, h1 marketdata.Series, swingHighs, swingLows []float64) (sl, tp float64) {
	avgATR := (indicators.LastATR(h4, atrPeriod) + indicators.LastATR(h1, atrPeriod)) / 2

	medianMFE := e.medianMFE(alias, direction)

	if direction == database.DirectionBuy {
		anchorLow := minBelow(swingLows, entry)
		if anchorLow == 0 {
			anchorLow = entry * 0.98
		}
		sl = anchorLow - avgATR*atrMultSL

		if medianMFE != nil && *medianMFE > 0 {
			tp = entry + *medianMFE
		} else {
			tp = entry + avgATR*atrMultTP
		}

		if sl >= entry {
			sl = entry * 0.98
		}
		if tp <= entry {
			tp = entry * 1.02
		}
		return sl, tp
	}

	anchorHigh := maxAbove(swingHighs, entry)
	if anchorHigh == 0 {
		anchorHigh = entry * 1.02
	}
	sl = anchorHigh + avgATR*atrMultSL

	if medianMFE != nil && *medianMFE > 0 {
		tp = entry - *medianMFE
	} else {
		tp = entry - avgATR*atrMultTP
	}

	if sl <= entry {
		sl = entry * 1.02
	}
	if tp >= entry {
		tp = entry * 0.98
	}
	return sl, tp
}

// EvaluateAdjustment inspects an open trade and returns at most one action:
// breakeven shift at 1R, ATR trail beyond 2R (only when it strictly improves
// the stop), or a time-stop after 7 days.
func (e *DynamicEstimator) EvaluateAdjustment(direction string, entry, currentSL, currentPrice float64, openTimeUTC time.Time, h4 marketdata.Series, nowUTC time.Time) *Adjustment {
	slDistance := math.Abs(entry - currentSL)

	profit := currentPrice - entry
	if direction == database.DirectionSell {
		profit = entry - currentPrice
	}

	profitR := 0.0
	if slDistance > 0 && profit > 0 {
		profitR = profit / slDistance
	}

	atBreakeven := currentSL >= entry
	if direction == database.DirectionSell {
		atBreakeven = currentSL <= entry
	}

	if profitR >= 1.0 && !atBreakeven {
		return &Adjustment{Type: AdjustMoveSL, NewSL: entry, Reason: ReasonBreakeven}
	}

	if profitR > 2.0 {
		atr := indicators.LastATR(h4, atrPeriod)
		trail := currentPrice - atr*atrMultTrail
		improves := trail > currentSL
		if direction == database.DirectionSell {
			trail = currentPrice + atr*atrMultTrail
			improves = trail < currentSL
		}
		if improves {
			return &Adjustment{Type: AdjustMoveSL, NewSL: trail, Reason: ReasonTrail}
		}
		return nil
	}

	if nowUTC.Sub(openTimeUTC) > maxTradeAge {
		return &Adjustment{Type: AdjustCloseEarly, Reason: ReasonTimeStop}
	}

	return nil
}

// RiskAndLotSize sizes a position: risk is a fixed fraction of equity and
// lot size is risk divided by SL distance, rounded to 2 decimals. A zero SL
// distance yields the minimum lot 0.01.
func (e *DynamicEstimator) RiskAndLotSize(entry, sl float64) (riskAmount, lotSize float64) {
	riskAmount = e.equity * e.riskFraction
	slDistance := math.Abs(entry - sl)
	if slDistance > 0 {
		lotSize = math.Round(riskAmount/slDistance*100) / 100
	} else {
		lotSize = 0.01
	}
	return riskAmount, lotSize
}

func (e *DynamicEstimator) medianMFE(alias, direction string) *float64 {
	if e.stats == nil {
		return nil
	}
	stats, err := e.stats.GetMaeMfeStats(alias, direction, 100)
	if err != nil {
		log.Printf("⚠️ MAE/MFE lookup failed for %s %s: %v", alias, direction, err)
		return nil
	}
	return stats.MedianMFE
}

// minBelow returns the smallest value strictly below limit, or 0 when no
// value qualifies.
func minBelow(values []float64, limit float64) float64 {
	best := 0.0
	found := false
	for _, v := range values {
		if v < limit && (!found || v < best) {
			best = v
			found = true
		}
	}
	if !found {
		return 0
	}
	return best
}

// maxAbove returns the largest value strictly above limit, or 0 when no
// value qualifies.
func maxAbove(values []float64, limit float64) float64 {
	best := 0.0
	found := false
	for _, v := range values {
		if v > limit && (!found || v > best) {
			best = v
			found = true
		}
	}
	if !found {
		return 0
	}
	return best
}
