// Package indicator provides technical indicator calculations over candle data.
//
// Each calculator is a streaming state machine fed one value at a time. The
// Engine recomputes every calculator over the retained candle window on each
// step and produces a Snapshot for the latest candle.
package indicator

// Indicator is the interface for the single-input streaming calculators.
type Indicator interface {
	// Name returns the indicator name (e.g., "EMA_15", "RSI_14").
	Name() string

	// Add feeds the next value and recalculates.
	Add(v float64)

	// Value returns the current calculated value. Returns 0 if not enough data.
	Value() float64

	// Ready returns true when enough data has been accumulated.
	Ready() bool

	// Reset clears the state for reuse.
	Reset()
}
