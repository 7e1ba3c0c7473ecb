// Package indicators implements price-action indicators over candle series.
// All functions are pure and return empty results on short input.
package indicators

import (
	"math"
	"time"

	"market-scanner/marketdata"
)

// Direction of a detected pattern.
const (
	Bullish = "bullish"
	Bearish = "bearish"
)

// FVG is a three-candle fair value gap. GapLow < GapHigh always holds.
type FVG struct {
	Direction string
	GapHigh   float64
	GapLow    float64
	Timestamp time.Time
}

// OrderBlock is the pre-move candle of a strong directional move.
type OrderBlock struct {
	Direction string
	High      float64
	Low       float64
	Timestamp time.Time
}

// StructureEvent is a BOS, CHOCH or liquidity-sweep occurrence.
type StructureEvent struct {
	Type      string // e.g. "bullish_bos", "bearish_choch", "bullish_sweep"
	Price     float64
	Timestamp time.Time
}

// ATR computes the Average True Range as an exponential moving average of
// the true range with smoothing span equal to period. The first true range
// uses only high-low. Returns one value per candle.
func ATR(series marketdata.Series, period int) []float64 {
	if len(series) == 0 || period <= 0 {
		return nil
	}

	alpha := 2.0 / (float64(period) + 1.0)
	out := make([]float64, len(series))

	for i, c := range series {
		tr := c.High - c.Low
		if i > 0 {
			prevClose := series[i-1].Close
			tr = math.Max(tr, math.Max(
				math.Abs(c.High-prevClose),
				math.Abs(c.Low-prevClose),
			))
		}
		if i == 0 {
			out[i] = tr
		} else {
			out[i] = (1-alpha)*out[i-1] + alpha*tr
		}
	}
	return out
}

// LastATR returns the most recent ATR value, or 0 on empty input.
func LastATR(series marketdata.Series, period int) float64 {
	atr := ATR(series, period)
	if len(atr) == 0 {
		return 0
	}
	return atr[len(atr)-1]
}

// SwingPoints identifies swing highs and lows: a high is a swing high when
// it is the maximum of the window candles on either side. Requires at least
// 2*window+1 candles; otherwise both lists are empty.
func SwingPoints(series marketdata.Series, window int) (highs, lows []float64) {
	if window <= 0 || len(series) < 2*window+1 {
		return nil, nil
	}

	for i := window; i < len(series)-window; i++ {
		isHigh := true
		isLow := true
		for j := i - window; j <= i+window; j++ {
			if series[j].High > series[i].High {
				isHigh = false
			}
			if series[j].Low < series[i].Low {
				isLow = false
			}
		}
		if isHigh {
			highs = append(highs, series[i].High)
		}
		if isLow {
			lows = append(lows, series[i].Low)
		}
	}
	return highs, lows
}

// FVGs detects fair value gaps over the last lookback candles. A bullish
// FVG is a gap between the previous high and the next low; bearish is the
// mirror. Fewer than 3 candles yields no gaps.
func FVGs(series marketdata.Series, lookback int) []FVG {
	if len(series) < 3 {
		return nil
	}
	recent := series.Tail(lookback)

	var out []FVG
	for i := 1; i < len(recent)-1; i++ {
		prev := recent[i-1]
		next := recent[i+1]

		if prev.High < next.Low {
			out = append(out, FVG{
				Direction: Bullish,
				GapHigh:   next.Low,
				GapLow:    prev.High,
				Timestamp: recent[i].Timestamp,
			})
		} else if prev.Low > next.High {
			out = append(out, FVG{
				Direction: Bearish,
				GapHigh:   prev.Low,
				GapLow:    next.High,
				Timestamp: recent[i].Timestamp,
			})
		}
	}
	return out
}

// OrderBlocks detects order blocks: a bearish-body candle followed two
// candles later by an up-move larger than threshold marks a bullish block,
// mirrored for bearish. Threshold is a fraction of the block's close.
func OrderBlocks(series marketdata.Series, lookback int, threshold float64) []OrderBlock {
	if len(series) < 5 {
		return nil
	}
	recent := series.Tail(lookback)

	var out []OrderBlock
	for i := 2; i < len(recent)-2; i++ {
		curr := recent[i]
		next2 := recent[i+2]
		if curr.Close == 0 {
			continue
		}
		moveSize := math.Abs(next2.Close-curr.Close) / curr.Close

		if curr.Close < curr.Open && next2.Close > curr.Close && moveSize > threshold {
			out = append(out, OrderBlock{
				Direction: Bullish,
				High:      curr.High,
				Low:       curr.Low,
				Timestamp: curr.Timestamp,
			})
		} else if curr.Close > curr.Open && next2.Close < curr.Close && moveSize > threshold {
			out = append(out, OrderBlock{
				Direction: Bearish,
				High:      curr.High,
				Low:       curr.Low,
				Timestamp: curr.Timestamp,
			})
		}
	}
	return out
}

// BOS detects a break of structure: the latest candle making a new extreme
// beyond the range of the lookback candles preceding it. Needs lookback+5
// candles.
func BOS(series marketdata.Series, lookback int) []StructureEvent {
	if len(series) < lookback+5 {
		return nil
	}

	latest := series[len(series)-1]
	// Reference range excludes the candle being tested, so a fresh extreme
	// can register as a break.
	prior := series[:len(series)-1].Tail(lookback)
	recentHigh, recentLow := rangeExtremes(prior)

	var out []StructureEvent
	if latest.High > recentHigh {
		out = append(out, StructureEvent{Type: "bullish_bos", Price: latest.High, Timestamp: latest.Timestamp})
	}
	if latest.Low < recentLow {
		out = append(out, StructureEvent{Type: "bearish_bos", Price: latest.Low, Timestamp: latest.Timestamp})
	}
	return out
}

// CHOCH detects a change of character: a dominant trend over the lookback
// window flipping in the last 5 candles. Needs lookback+10 candles.
func CHOCH(series marketdata.Series, lookback int) []StructureEvent {
	if len(series) < lookback+10 {
		return nil
	}

	ups, downs := bodyCounts(series.Tail(lookback))
	recentUps, recentDowns := bodyCounts(series.Tail(5))
	latest := series[len(series)-1]

	var out []StructureEvent
	if float64(ups) > 1.5*float64(downs) && recentDowns > recentUps {
		out = append(out, StructureEvent{Type: "bearish_choch", Timestamp: latest.Timestamp})
	}
	if float64(downs) > 1.5*float64(ups) && recentUps > recentDowns {
		out = append(out, StructureEvent{Type: "bullish_choch", Timestamp: latest.Timestamp})
	}
	return out
}

// LiquiditySweeps detects a wick piercing a prior extreme with a reversal
// close, over the last 3 candles against the lookback range before them.
// Needs lookback+3 candles.
func LiquiditySweeps(series marketdata.Series, lookback int) []StructureEvent {
	if len(series) < lookback+3 {
		return nil
	}

	last3 := series.Tail(3)
	prior := series[:len(series)-3].Tail(lookback)
	recentHigh, recentLow := rangeExtremes(prior)
	latest := series[len(series)-1]

	var out []StructureEvent
	if last3[0].Low < recentLow && last3[2].Close > last3[0].Open {
		out = append(out, StructureEvent{Type: "bullish_sweep", Price: last3[0].Low, Timestamp: latest.Timestamp})
	}
	if last3[0].High > recentHigh && last3[2].Close < last3[0].Open {
		out = append(out, StructureEvent{Type: "bearish_sweep", Price: last3[0].High, Timestamp: latest.Timestamp})
	}
	return out
}

// HasEvent reports whether any event of the given type is present.
func HasEvent(events []StructureEvent, eventType string) bool {
	for _, e := range events {
		if e.Type == eventType {
			return true
		}
	}
	return false
}

func rangeExtremes(series marketdata.Series) (high, low float64) {
	high = math.Inf(-1)
	low = math.Inf(1)
	for _, c := range series {
		if c.High > high {
			high = c.High
		}
		if c.Low < low {
			low = c.Low
		}
	}
	return high, low
}

func bodyCounts(series marketdata.Series) (ups, downs int) {
	for _, c := range series {
		if c.Close > c.Open {
			ups++
		} else if c.Close < c.Open {
			downs++
		}
	}
	return ups, downs
}
