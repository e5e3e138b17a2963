package indicator

import "github.com/wolverine-quant/trinity-engine/pkg/types"

// Volatility thresholds relative to the ATR running mean.
const (
	chaosATRMultiple  = 1.5
	chaosBBWidthPct   = 5.0
	normalATRMultiple = 1.2
)

// Classify maps indicator state plus the latest close to exactly one
// regime. Chaos is checked first and short-circuits the trend predicates;
// everything that is neither chaotic nor trending is ranging.
func Classify(s *State, close float64) types.Regime {
	if isChaos(s) {
		return types.RegimeChaos
	}
	if isUptrend(s, close) {
		return types.RegimeUptrend
	}
	if isDowntrend(s, close) {
		return types.RegimeDowntrend
	}
	return types.RegimeRanging
}

func isChaos(s *State) bool {
	if s.MeanATR == 0 {
		return false
	}
	return s.ATR > s.MeanATR*chaosATRMultiple || s.BBWidthPct > chaosBBWidthPct
}

func isUptrend(s *State, close float64) bool {
	if s.MeanATR == 0 {
		return false
	}
	trendAligned := s.EMAFast > s.EMASlow && s.EMASlow > s.EMATrend
	momentumBullish := s.MACD > s.MACDSignal && s.MACDHistogram > 0
	priceAbove := close > s.EMASlow
	volatilityNormal := s.ATR <= s.MeanATR*normalATRMultiple
	return trendAligned && momentumBullish && priceAbove && volatilityNormal
}

func isDowntrend(s *State, close float64) bool {
	if s.MeanATR == 0 {
		return false
	}
	trendAligned := s.EMAFast < s.EMASlow && s.EMASlow < s.EMATrend
	momentumBearish := s.MACD < s.MACDSignal && s.MACDHistogram < 0
	priceBelow := close < s.EMASlow
	volatilityNormal := s.ATR <= s.MeanATR*normalATRMultiple
	return trendAligned && momentumBearish && priceBelow && volatilityNormal
}
