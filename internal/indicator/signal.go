package indicator

import (
	"math"

	"github.com/wolverine-quant/trinity-engine/pkg/types"
	"github.com/wolverine-quant/trinity-engine/pkg/utils"
)

// Confirmation thresholds for the scoring factors.
const (
	rsiOversold      = 30.0
	rsiOverbought    = 70.0
	volumeTrendMult  = 1.5
	volumeRangeMult  = 1.2
	trendScoreMin    = 5    // all 5 factors
	rangingScoreMin  = 4    // all 4 factors
	histStrengthNorm = 0.01 // histogram at 1% of price saturates the sub-factor
	emaStrengthNorm  = 0.02 // 2% fast/slow spread saturates the sub-factor
)

// score evaluates the regime-specific confirmation factors against the
// current bar and returns the cycle's signal. Every applicable factor must
// confirm: trend regimes count five, the ranging regime counts four. Chaos
// emits no direction.
func (e *Engine) score(bar types.Bar, regime types.Regime) types.Signal {
	s := &e.state
	signal := types.Signal{
		Instrument: e.instrument,
		Direction:  types.DirectionFlat,
		Regime:     regime,
		Price:      bar.Close,
		Timestamp:  bar.Timestamp,
	}

	switch regime {
	case types.RegimeChaos:
		return signal

	case types.RegimeUptrend:
		points := 0
		if s.EMAFast > s.EMASlow && s.EMASlow > s.EMATrend {
			points++
		}
		if s.MACD > s.MACDSignal {
			points++
		}
		if s.RSI < rsiOversold {
			points++
		}
		if bar.Volume > s.VolumeEMA*volumeTrendMult {
			points++
		}
		if bar.Close <= s.BBLower {
			points++
		}
		if points >= trendScoreMin {
			signal.Direction = types.DirectionLong
			signal.Confidence = utils.Clamp((rsiOversold-s.RSI)/rsiOversold, 0, 1)
			signal.Strength = e.strength(bar)
		}

	case types.RegimeDowntrend:
		points := 0
		if s.EMAFast < s.EMASlow && s.EMASlow < s.EMATrend {
			points++
		}
		if s.MACD < s.MACDSignal {
			points++
		}
		if s.RSI > rsiOverbought {
			points++
		}
		if bar.Volume > s.VolumeEMA*volumeTrendMult {
			points++
		}
		if bar.Close >= s.BBUpper {
			points++
		}
		if points >= trendScoreMin {
			signal.Direction = types.DirectionShort
			signal.Confidence = utils.Clamp((s.RSI-rsiOverbought)/(100-rsiOverbought), 0, 1)
			signal.Strength = e.strength(bar)
		}

	case types.RegimeRanging:
		// Mean reversion at the lower band.
		buyPoints := 0
		if bar.Close <= s.BBLower {
			buyPoints++
		}
		if s.RSI < rsiOversold {
			buyPoints++
		}
		if bar.Volume > s.VolumeEMA*volumeRangeMult {
			buyPoints++
		}
		if bar.Close > bar.Low {
			buyPoints++
		}
		if buyPoints >= rangingScoreMin {
			signal.Direction = types.DirectionLong
			signal.Confidence = e.bandConfidence(s.BBMiddle - bar.Close)
			signal.Strength = e.strength(bar)
			return signal
		}

		// Mean reversion at the upper band.
		sellPoints := 0
		if bar.Close >= s.BBUpper {
			sellPoints++
		}
		if s.RSI > rsiOverbought {
			sellPoints++
		}
		if bar.Volume > s.VolumeEMA*volumeRangeMult {
			sellPoints++
		}
		if bar.Close < bar.High {
			sellPoints++
		}
		if sellPoints >= rangingScoreMin {
			signal.Direction = types.DirectionShort
			signal.Confidence = e.bandConfidence(bar.Close - s.BBMiddle)
			signal.Strength = e.strength(bar)
		}
	}

	return signal
}

// bandConfidence maps the close's distance from the mid-band to [0,1],
// falling back to 0.5 when the band range is degenerate.
func (e *Engine) bandConfidence(distance float64) float64 {
	bandRange := e.state.BBUpper - e.state.BBLower
	if bandRange <= 0 {
		return 0.5
	}
	return utils.Clamp(distance/bandRange, 0, 1)
}

// strength averages the applicable normalized sub-factors. A sub-factor
// whose denominator is degenerate is excluded from the average rather than
// counted as zero.
func (e *Engine) strength(bar types.Bar) float64 {
	s := &e.state
	sum, count := 0.0, 0

	// RSI distance from neutral.
	sum += utils.Clamp(math.Abs(s.RSI-50.0)/50.0, 0, 1)
	count++

	// MACD histogram magnitude relative to price.
	if bar.Close > 0 {
		sum += utils.Clamp(math.Abs(s.MACDHistogram)/(bar.Close*histStrengthNorm), 0, 1)
		count++
	}

	// Fast/slow EMA percentage spread.
	if s.EMASlow > 0 {
		sum += utils.Clamp(math.Abs(s.EMAFast-s.EMASlow)/(s.EMASlow*emaStrengthNorm), 0, 1)
		count++
	}

	// Positional distance inside the Bollinger band.
	if bandRange := s.BBUpper - s.BBLower; bandRange > 0 {
		sum += utils.Clamp(math.Abs(bar.Close-s.BBMiddle)/bandRange, 0, 1)
		count++
	}

	if count == 0 {
		return 0
	}
	return sum / float64(count)
}
