package redis

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	goredis "github.com/go-redis/redis/v8"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"trading-simv1/internal/backtest"
	"trading-simv1/internal/indicator"
	"trading-simv1/internal/model"
	"trading-simv1/internal/strategy"
)

var t0 = time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)

// fakeRedis records commands. When down is set every command fails.
type fakeRedis struct {
	mu      sync.Mutex
	down    bool
	xadds   map[string][]string
	sets    map[string]string
	pubs    map[string]int
	reads   [][]goredis.XStream
	acked   []string
	groupOK bool
}

func newFakeRedis() *fakeRedis {
	return &fakeRedis{xadds: map[string][]string{}, sets: map[string]string{}, pubs: map[string]int{}}
}

var errDown = errors.New("connection refused")

func (f *fakeRedis) XAdd(_ context.Context, a *goredis.XAddArgs) *goredis.StringCmd {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.down {
		return goredis.NewStringResult("", errDown)
	}
	values := a.Values.(map[string]interface{})
	f.xadds[a.Stream] = append(f.xadds[a.Stream], values["data"].(string))
	return goredis.NewStringResult("1-0", nil)
}

func (f *fakeRedis) Set(_ context.Context, key string, value interface{}, _ time.Duration) *goredis.StatusCmd {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.down {
		return goredis.NewStatusResult("", errDown)
	}
	f.sets[key] = value.(string)
	return goredis.NewStatusResult("OK", nil)
}

func (f *fakeRedis) Publish(_ context.Context, channel string, _ interface{}) *goredis.IntCmd {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.down {
		return goredis.NewIntResult(0, errDown)
	}
	f.pubs[channel]++
	return goredis.NewIntResult(1, nil)
}

func (f *fakeRedis) XGroupCreateMkStream(_ context.Context, _, _, _ string) *goredis.StatusCmd {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.groupOK {
		return goredis.NewStatusResult("", errors.New("BUSYGROUP Consumer Group name already exists"))
	}
	f.groupOK = true
	return goredis.NewStatusResult("OK", nil)
}

func (f *fakeRedis) XReadGroup(ctx context.Context, _ *goredis.XReadGroupArgs) *goredis.XStreamSliceCmd {
	f.mu.Lock()
	if len(f.reads) > 0 {
		batch := f.reads[0]
		f.reads = f.reads[1:]
		f.mu.Unlock()
		return goredis.NewXStreamSliceCmdResult(batch, nil)
	}
	f.mu.Unlock()
	<-ctx.Done()
	return goredis.NewXStreamSliceCmdResult(nil, ctx.Err())
}

func (f *fakeRedis) XAck(_ context.Context, _, _ string, ids ...string) *goredis.IntCmd {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.acked = append(f.acked, ids...)
	return goredis.NewIntResult(int64(len(ids)), nil)
}

func (f *fakeRedis) setDown(v bool) {
	f.mu.Lock()
	f.down = v
	f.mu.Unlock()
}

func sampleStep() backtest.Step {
	return backtest.Step{
		Symbol:   "BTCUSDT",
		Candle:   model.Candle{OpenTime: t0, Open: 100, High: 102, Low: 99, Close: 101, Volume: 5},
		Snapshot: indicator.Snapshot{Time: t0, Close: 101, Ready: true},
		Signal:   &strategy.Signal{StrategyName: strategy.Name, Action: strategy.ActionBuy, Time: t0, Price: 101},
		Events: []model.TradeEvent{
			{PositionID: 1, Type: model.EventEntry, Reason: model.ReasonSignal, Direction: model.Long, Price: 101, Time: t0, Size: 1000},
		},
		Equity:   9999,
		Exposure: model.Long,
	}
}

func TestPublisher_OnStep(t *testing.T) {
	fr := newFakeRedis()
	p := NewPublisher(context.Background(), fr, NewCircuitBreaker(3, time.Second), PublisherConfig{Timeframe: "1h"}, nil)

	p.OnStep(sampleStep())

	require.Len(t, fr.xadds["signal:BTCUSDT:1h"], 1)
	require.Len(t, fr.xadds["trade:BTCUSDT:1h"], 1)

	var trade tradeMessage
	require.NoError(t, json.Unmarshal([]byte(fr.xadds["trade:BTCUSDT:1h"][0]), &trade))
	assert.Equal(t, "BTCUSDT", trade.Symbol)
	assert.Equal(t, model.EventEntry, trade.Event.Type)
	assert.Equal(t, model.Long, trade.Event.Direction)

	assert.Contains(t, fr.sets, "snapshot:latest:BTCUSDT:1h")
	assert.Equal(t, 1, fr.pubs["pub:snapshot:latest:BTCUSDT:1h"])
}

func TestPublisher_BuffersWhileOpen(t *testing.T) {
	fr := newFakeRedis()
	cb, _ := newTestBreaker(1)
	p := NewPublisher(context.Background(), fr, cb, PublisherConfig{Timeframe: "1h", MaxBuffer: 2}, nil)
	var buffered, errs int
	p.OnBuffer = func() { buffered++ }
	p.OnError = func() { errs++ }

	fr.setDown(true)
	ev := model.TradeEvent{PositionID: 1, Type: model.EventExit, Reason: model.ReasonTP3}
	assert.Error(t, p.PublishTrade(context.Background(), "BTCUSDT", ev), "failure that trips the breaker")
	require.Equal(t, StateOpen, cb.CurrentState())

	for i := 0; i < 3; i++ {
		ev.PositionID = int64(i + 2)
		require.NoError(t, p.PublishTrade(context.Background(), "BTCUSDT", ev))
	}
	assert.Equal(t, 1, errs)
	assert.Equal(t, 3, buffered)
	assert.Equal(t, 2, p.PendingCount(), "oldest dropped beyond MaxBuffer")

	fr.setDown(false)
	p.Flush(context.Background())
	assert.Zero(t, p.PendingCount())
	require.Len(t, fr.xadds["trade:BTCUSDT:1h"], 2)

	var first tradeMessage
	require.NoError(t, json.Unmarshal([]byte(fr.xadds["trade:BTCUSDT:1h"][0]), &first))
	assert.Equal(t, int64(3), first.Event.PositionID)
}

func TestPublisher_Summary(t *testing.T) {
	fr := newFakeRedis()
	p := NewPublisher(context.Background(), fr, NewCircuitBreaker(3, time.Second), PublisherConfig{}, nil)
	res := &backtest.Result{RunID: "abc", Symbol: "ETHUSDT", Stats: backtest.Stats{TotalTrades: 4, ProfitFactor: backtest.NewProfitFactor(10, 0)}}
	require.NoError(t, p.PublishSummary(context.Background(), res))

	require.Len(t, fr.xadds[SummaryStream], 1)
	var msg summaryMessage
	require.NoError(t, json.Unmarshal([]byte(fr.xadds[SummaryStream][0]), &msg))
	assert.Equal(t, "abc", msg.RunID)
	assert.Equal(t, 4, msg.Stats.TotalTrades)
	assert.True(t, msg.Stats.ProfitFactor.IsInf())
}

func TestStreamKey(t *testing.T) {
	assert.Equal(t, "candle:BTCUSDT:15m", StreamKey("candle:{symbol}:{tf}", "BTCUSDT", "15m"))
}

func TestParseCandle(t *testing.T) {
	want := model.Candle{OpenTime: t0, Open: 100, High: 102, Low: 99, Close: 101, Volume: 5}

	got, err := ParseCandle(map[string]interface{}{"data": string(want.JSON())})
	require.NoError(t, err)
	assert.Equal(t, want, got)

	got, err = ParseCandle(map[string]interface{}{
		"ts": "1704067200", "open": "100", "high": "102", "low": "99", "close": "101", "volume": "5",
	})
	require.NoError(t, err)
	assert.Equal(t, want, got)

	cases := map[string]map[string]interface{}{
		"bad json":       {"data": "{"},
		"missing field":  {"ts": "1704067200", "open": "100"},
		"not a number":   {"ts": "1704067200", "open": "x", "high": "1", "low": "1", "close": "1", "volume": "1"},
		"high below low": {"ts": "1704067200", "open": "100", "high": "90", "low": "99", "close": "95", "volume": "1"},
	}
	for name, values := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := ParseCandle(values)
			assert.Error(t, err)
		})
	}
}

func TestCandleConsumer_Consume(t *testing.T) {
	good := model.Candle{OpenTime: t0, Open: 100, High: 102, Low: 99, Close: 101, Volume: 5}
	fr := newFakeRedis()
	fr.reads = [][]goredis.XStream{{{
		Stream: "candle:BTCUSDT:1h",
		Messages: []goredis.XMessage{
			{ID: "1-0", Values: map[string]interface{}{"data": string(good.JSON())}},
			{ID: "2-0", Values: map[string]interface{}{"data": "garbage"}},
		},
	}}}

	c := NewCandleConsumer(fr, ConsumerConfig{}, nil)
	rejected := 0
	c.OnReject = func() { rejected++ }

	ctx, cancel := context.WithCancel(context.Background())
	out := make(chan model.Candle, 4)
	done := make(chan error, 1)
	go func() { done <- c.Consume(ctx, "BTCUSDT", "1h", out) }()

	select {
	case got := <-out:
		assert.Equal(t, good, got)
	case <-time.After(2 * time.Second):
		t.Fatal("no candle consumed")
	}
	cancel()
	assert.ErrorIs(t, <-done, context.Canceled)

	assert.Equal(t, 1, rejected)
	assert.ElementsMatch(t, []string{"1-0", "2-0"}, fr.acked, "bad messages are acked too")
}
