package indicator

import (
	"math"

	"go.uber.org/zap"

	"github.com/wolverine-quant/trinity-engine/pkg/types"
)

// Engine maintains the online indicator state for a single instrument and
// produces one Signal per bar. It owns its State exclusively; callers feed
// bars strictly in order.
type Engine struct {
	logger     *zap.Logger
	instrument string
	config     types.IndicatorConfig

	alphaFast   float64
	alphaSlow   float64
	alphaTrend  float64
	alphaSignal float64
	alphaRSI    float64
	alphaVolume float64

	state State
}

// NewEngine creates an indicator engine for one instrument.
func NewEngine(logger *zap.Logger, instrument string, config types.IndicatorConfig) *Engine {
	return &Engine{
		logger:      logger.Named("indicator").With(zap.String("instrument", instrument)),
		instrument:  instrument,
		config:      config,
		alphaFast:   2.0 / float64(config.EMAFastPeriod+1),
		alphaSlow:   2.0 / float64(config.EMASlowPeriod+1),
		alphaTrend:  2.0 / float64(config.EMATrendPeriod+1),
		alphaSignal: 2.0 / float64(config.MACDSignalSpan+1),
		alphaRSI:    2.0 / float64(config.RSIPeriod+1),
		alphaVolume: 2.0 / float64(config.VolumeEMAPeriod+1),
	}
}

// State returns a copy of the persisted indicator state.
func (e *Engine) State() State {
	return e.state
}

// Restore replaces the engine state with a previously persisted snapshot.
func (e *Engine) Restore(s State) {
	e.state = s
}

// Update ingests one bar, advances all indicator state, classifies the
// regime, and returns the cycle's signal. The first bar only seeds state and
// emits a neutral signal. A bar with non-finite fields is ignored.
func (e *Engine) Update(bar types.Bar) types.Signal {
	neutral := types.Signal{
		Instrument: e.instrument,
		Direction:  types.DirectionFlat,
		Regime:     types.RegimeRanging,
		Price:      e.state.PrevClose,
		Timestamp:  bar.Timestamp,
	}

	if !finiteBar(bar) {
		e.logger.Warn("discarding bar with non-finite fields",
			zap.Int64("timestamp", bar.Timestamp))
		return neutral
	}

	if !e.state.Initialized {
		e.seed(bar)
		neutral.Price = bar.Close
		return neutral
	}

	s := &e.state
	s.BarIndex++

	// Update order matters: each stage reads the previous stage's output.
	e.updateEMAs(bar.Close)
	e.updateMACD()
	e.updateRSI(bar.Close)
	e.updateBollinger(bar.Close)
	e.updateATR(bar.High, bar.Low, bar.Close)
	s.VolumeEMA = e.alphaVolume*bar.Volume + (1-e.alphaVolume)*s.VolumeEMA

	regime := Classify(s, bar.Close)
	signal := e.score(bar, regime)
	s.PrevClose = bar.Close

	if signal.Direction != types.DirectionFlat {
		e.logger.Debug("signal emitted",
			zap.Int64("bar", s.BarIndex),
			zap.String("regime", regime.String()),
			zap.Int("direction", int(signal.Direction)),
			zap.Float64("confidence", signal.Confidence),
			zap.Float64("strength", signal.Strength))
	}
	return signal
}

// seed initializes every accumulator from the first sample.
func (e *Engine) seed(bar types.Bar) {
	s := &e.state
	s.Initialized = true
	s.BarIndex = 0

	s.EMAFast = bar.Close
	s.EMASlow = bar.Close
	s.EMATrend = bar.Close
	s.MACD = 0
	s.MACDSignal = 0
	s.MACDHistogram = 0

	s.RSI = 50.0
	s.GainEMA = 0
	s.LossEMA = 0

	s.BBCount = 1
	s.BBMean = bar.Close
	s.BBM2 = 0
	s.BBVariance = 0
	s.BBStdDev = 0
	s.BBUpper = bar.Close
	s.BBMiddle = bar.Close
	s.BBLower = bar.Close
	s.BBWidthPct = 0

	if bar.High > bar.Low {
		s.ATR = bar.High - bar.Low
	} else {
		s.ATR = 1.0
	}
	s.MeanATR = s.ATR
	s.ATRCount = 1
	s.PrevCloseATR = bar.Close

	s.VolumeEMA = bar.Volume
	s.PrevClose = bar.Close
}

func (e *Engine) updateEMAs(close float64) {
	s := &e.state
	s.EMAFast = e.alphaFast*close + (1-e.alphaFast)*s.EMAFast
	s.EMASlow = e.alphaSlow*close + (1-e.alphaSlow)*s.EMASlow
	s.EMATrend = e.alphaTrend*close + (1-e.alphaTrend)*s.EMATrend
}

func (e *Engine) updateMACD() {
	s := &e.state
	s.MACD = s.EMAFast - s.EMASlow
	s.MACDSignal = e.alphaSignal*s.MACD + (1-e.alphaSignal)*s.MACDSignal
	s.MACDHistogram = s.MACD - s.MACDSignal
}

func (e *Engine) updateRSI(close float64) {
	s := &e.state
	change := close - s.PrevClose
	gain := math.Max(change, 0)
	loss := math.Max(-change, 0)

	s.GainEMA = e.alphaRSI*gain + (1-e.alphaRSI)*s.GainEMA
	s.LossEMA = e.alphaRSI*loss + (1-e.alphaRSI)*s.LossEMA

	if s.LossEMA > 0 {
		rs := s.GainEMA / s.LossEMA
		s.RSI = 100.0 - 100.0/(1.0+rs)
	} else {
		// No losses observed within the smoothing horizon.
		s.RSI = 100.0
	}
}

func (e *Engine) updateBollinger(close float64) {
	s := &e.state
	s.BBCount++
	n := s.BBCount
	if n > int64(e.config.BollingerWindow) {
		n = int64(e.config.BollingerWindow)
	}

	delta := close - s.BBMean
	s.BBMean += delta / float64(n)
	delta2 := close - s.BBMean
	s.BBM2 += delta * delta2

	if n > 1 {
		s.BBVariance = s.BBM2 / float64(n-1)
		s.BBStdDev = math.Sqrt(s.BBVariance)
	} else {
		s.BBVariance = 0
		s.BBStdDev = 0
	}

	k := e.config.BollingerStdDev
	s.BBMiddle = s.BBMean
	s.BBUpper = s.BBMean + k*s.BBStdDev
	s.BBLower = s.BBMean - k*s.BBStdDev
	if s.BBMiddle > 0 {
		s.BBWidthPct = (s.BBUpper - s.BBLower) / s.BBMiddle * 100.0
	} else {
		s.BBWidthPct = 0
	}
}

func (e *Engine) updateATR(high, low, close float64) {
	s := &e.state

	tr1 := high - low
	tr2, tr3 := 0.0, 0.0
	if s.PrevCloseATR > 0 {
		tr2 = math.Abs(high - s.PrevCloseATR)
		tr3 = math.Abs(low - s.PrevCloseATR)
	}
	tr := math.Max(tr1, math.Max(tr2, tr3))

	alpha := 2.0 / float64(e.config.ATRPeriod+1)
	s.ATR = alpha*tr + (1-alpha)*s.ATR

	s.ATRCount++
	window := s.ATRCount
	if window > int64(e.config.ATRMeanWindow) {
		window = int64(e.config.ATRMeanWindow)
	}
	s.MeanATR += (s.ATR - s.MeanATR) / float64(window)

	s.PrevCloseATR = close
}

func finiteBar(bar types.Bar) bool {
	for _, v := range [...]float64{bar.Open, bar.High, bar.Low, bar.Close, bar.Volume} {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return false
		}
	}
	return true
}
