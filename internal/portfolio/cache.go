package portfolio

import "github.com/wolverine-quant/trinity-engine/pkg/types"

// cachedSignal pairs a signal with the cycle it arrived in, so stale
// entries can be skipped without being forgotten.
type cachedSignal struct {
	Signal    types.Signal `json:"signal"`
	SeenCycle int64        `json:"seen_cycle"`
}

// SignalCache holds the latest signal per instrument. Each new signal
// overwrites the prior one; there is no history.
type SignalCache struct {
	signals map[string]cachedSignal
}

// NewSignalCache creates an empty cache.
func NewSignalCache() *SignalCache {
	return &SignalCache{signals: make(map[string]cachedSignal)}
}

// Put stores the latest signal for an instrument, stamped with the cycle it
// was observed in.
func (c *SignalCache) Put(signal types.Signal, cycle int64) {
	c.signals[signal.Instrument] = cachedSignal{Signal: signal, SeenCycle: cycle}
}

// Fresh returns the instrument's signal if one arrived in the given cycle.
func (c *SignalCache) Fresh(instrument string, cycle int64) (types.Signal, bool) {
	entry, ok := c.signals[instrument]
	if !ok || entry.SeenCycle != cycle {
		return types.Signal{}, false
	}
	return entry.Signal, true
}

// Latest returns the most recent signal regardless of age.
func (c *SignalCache) Latest(instrument string) (types.Signal, bool) {
	entry, ok := c.signals[instrument]
	return entry.Signal, ok
}

func (c *SignalCache) snapshot() map[string]cachedSignal {
	out := make(map[string]cachedSignal, len(c.signals))
	for k, v := range c.signals {
		out[k] = v
	}
	return out
}

func (c *SignalCache) restore(signals map[string]cachedSignal) {
	c.signals = make(map[string]cachedSignal, len(signals))
	for k, v := range signals {
		c.signals[k] = v
	}
}
