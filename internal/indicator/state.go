// Package indicator implements the per-instrument online indicator engine:
// incremental EMA/MACD/RSI/Bollinger/ATR state, regime classification, and
// signal scoring. All state is O(1) per instrument and fully persisted so a
// restored engine continues bit-identically.
package indicator

// State holds every persisted intermediate for one instrument. Each field is
// updated in place once per bar; no sliding buffers are kept.
type State struct {
	BarIndex    int64 `json:"bar_index"`
	Initialized bool  `json:"initialized"`

	EMAFast  float64 `json:"ema_fast"`
	EMASlow  float64 `json:"ema_slow"`
	EMATrend float64 `json:"ema_trend"`

	MACD          float64 `json:"macd"`
	MACDSignal    float64 `json:"macd_signal"`
	MACDHistogram float64 `json:"macd_histogram"`

	RSI     float64 `json:"rsi"`
	GainEMA float64 `json:"gain_ema"`
	LossEMA float64 `json:"loss_ema"`

	// Bollinger accumulators use Welford's method with the sample count
	// capped at the window size, which blends exact incremental statistics
	// with bounded-memory decay once the cap is reached.
	BBCount    int64   `json:"bb_count"`
	BBMean     float64 `json:"bb_mean"`
	BBM2       float64 `json:"bb_m2"`
	BBVariance float64 `json:"bb_variance"`
	BBStdDev   float64 `json:"bb_std_dev"`
	BBUpper    float64 `json:"bb_upper"`
	BBMiddle   float64 `json:"bb_middle"`
	BBLower    float64 `json:"bb_lower"`
	BBWidthPct float64 `json:"bb_width_pct"`

	ATR          float64 `json:"atr"`
	MeanATR      float64 `json:"mean_atr"`
	ATRCount     int64   `json:"atr_count"`
	PrevCloseATR float64 `json:"prev_close_atr"`

	VolumeEMA float64 `json:"volume_ema"`

	PrevClose float64 `json:"prev_close"`
}
