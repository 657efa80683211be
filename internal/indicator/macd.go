package indicator

import "strconv"

// MACD is the difference of a fast and a slow EMA of close.
//
// The signal line is deliberately the MACD line itself, so the histogram is
// always zero. Entry filters compare the histogram sign with the trade
// direction, so changing this changes which signals are emitted.
type MACD struct {
	fast *EMA
	slow *EMA
}

// NewMACD creates a MACD over the given EMA lengths.
func NewMACD(fast, slow int) *MACD {
	return &MACD{fast: NewEMA(fast), slow: NewEMA(slow)}
}

func (m *MACD) Name() string {
	return "MACD_" + strconv.Itoa(m.fast.period) + "_" + strconv.Itoa(m.slow.period)
}

func (m *MACD) Add(price float64) {
	m.fast.Add(price)
	m.slow.Add(price)
}

// Value returns the MACD line.
func (m *MACD) Value() float64 {
	if !m.Ready() {
		return 0
	}
	return m.fast.Value() - m.slow.Value()
}

// Signal returns the signal line (equal to the MACD line).
func (m *MACD) Signal() float64 { return m.Value() }

// Histogram returns MACD minus signal, which is always zero.
func (m *MACD) Histogram() float64 { return m.Value() - m.Signal() }

func (m *MACD) Ready() bool { return m.fast.Ready() && m.slow.Ready() }

// Reset clears the MACD state for reuse.
func (m *MACD) Reset() {
	m.fast.Reset()
	m.slow.Reset()
}
