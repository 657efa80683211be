package backtest

import (
	"crypto/sha256"
	"encoding/binary"
	"encoding/json"
	"hash"
	"math"

	"github.com/google/uuid"

	"trading-simv1/internal/model"
	"trading-simv1/internal/strategy"
)

// Result is the outcome of one pass over one candle series.
type Result struct {
	RunID    string              `json:"run_id"`
	Symbol   string              `json:"symbol,omitempty"`
	Config   strategy.Config     `json:"config"`
	Trades   []model.TradeEvent  `json:"trades"`
	Equity   []model.EquityPoint `json:"equity"`
	Drawdown Drawdown            `json:"drawdown"`
	Stats    Stats               `json:"stats"`
}

// JSON returns the JSON encoding of the result.
func (r *Result) JSON() ([]byte, error) {
	return json.Marshal(r)
}

// runNamespace scopes run ids generated by this package.
var runNamespace = uuid.MustParse("6f0d2a52-3c1e-4b8e-9a57-8d1f6b2c4e10")

// runHasher derives a deterministic run id from the config, the symbol and
// every accepted candle, so identical inputs give identical results.
type runHasher struct {
	h   hash.Hash
	buf [8]byte
}

func newRunHasher() *runHasher {
	return &runHasher{h: sha256.New()}
}

func (r *runHasher) reset(cfg strategy.Config, symbol string) {
	r.h.Reset()
	b, _ := json.Marshal(cfg)
	r.h.Write(b)
	r.h.Write([]byte(symbol))
}

func (r *runHasher) candle(c model.Candle) {
	r.u64(uint64(c.OpenTime.UnixNano()))
	for _, f := range [...]float64{c.Open, c.High, c.Low, c.Close, c.Volume} {
		r.u64(math.Float64bits(f))
	}
}

func (r *runHasher) u64(v uint64) {
	binary.BigEndian.PutUint64(r.buf[:], v)
	r.h.Write(r.buf[:])
}

func (r *runHasher) id() string {
	return uuid.NewSHA1(runNamespace, r.h.Sum(nil)).String()
}
