package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	goredis "github.com/go-redis/redis/v8"
	"go.uber.org/zap"

	"trading-simv1/internal/model"
)

// StreamReader is the subset of *goredis.Client the consumer uses.
type StreamReader interface {
	XGroupCreateMkStream(ctx context.Context, stream, group, start string) *goredis.StatusCmd
	XReadGroup(ctx context.Context, a *goredis.XReadGroupArgs) *goredis.XStreamSliceCmd
	XAck(ctx context.Context, stream, group string, ids ...string) *goredis.IntCmd
}

// ConsumerConfig configures the CandleConsumer.
type ConsumerConfig struct {
	StreamPattern string        // e.g. "candle:{symbol}:{tf}"
	Group         string        // consumer group name
	Name          string        // unique consumer name, e.g. hostname
	Block         time.Duration // XREADGROUP block time
	Count         int64         // max messages per read
}

// CandleConsumer reads closed candles from a Redis stream through a consumer
// group. Satisfies model.CandleStream.
type CandleConsumer struct {
	client StreamReader
	cfg    ConsumerConfig
	log    *zap.Logger

	OnReject func() // called for messages that cannot be parsed
}

// NewCandleConsumer creates a consumer.
func NewCandleConsumer(client StreamReader, cfg ConsumerConfig, log *zap.Logger) *CandleConsumer {
	if log == nil {
		log = zap.NewNop()
	}
	if cfg.StreamPattern == "" {
		cfg.StreamPattern = "candle:{symbol}:{tf}"
	}
	if cfg.Group == "" {
		cfg.Group = "sigengine"
	}
	if cfg.Name == "" {
		cfg.Name = "worker-1"
	}
	if cfg.Block <= 0 {
		cfg.Block = 2 * time.Second
	}
	if cfg.Count <= 0 {
		cfg.Count = 100
	}
	return &CandleConsumer{client: client, cfg: cfg, log: log.Named("redis-consumer")}
}

// ensureGroup creates the consumer group on stream if it doesn't exist,
// reading only new messages.
func (c *CandleConsumer) ensureGroup(ctx context.Context, stream string) error {
	err := c.client.XGroupCreateMkStream(ctx, stream, c.cfg.Group, "$").Err()
	if err != nil && !strings.HasPrefix(err.Error(), "BUSYGROUP") {
		return fmt.Errorf("xgroup create %s: %w", stream, err)
	}
	return nil
}

// Consume reads candles for symbol/timeframe and sends them to out in stream
// order. Unparseable messages are acknowledged and dropped. Blocks until ctx
// is cancelled.
func (c *CandleConsumer) Consume(ctx context.Context, symbol, timeframe string, out chan<- model.Candle) error {
	stream := StreamKey(c.cfg.StreamPattern, symbol, timeframe)
	if err := c.ensureGroup(ctx, stream); err != nil {
		return err
	}
	c.log.Info("consuming", zap.String("stream", stream), zap.String("group", c.cfg.Group), zap.String("consumer", c.cfg.Name))

	for {
		if ctx.Err() != nil {
			return ctx.Err()
		}

		results, err := c.client.XReadGroup(ctx, &goredis.XReadGroupArgs{
			Group:    c.cfg.Group,
			Consumer: c.cfg.Name,
			Streams:  []string{stream, ">"},
			Count:    c.cfg.Count,
			Block:    c.cfg.Block,
		}).Result()
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			if errors.Is(err, goredis.Nil) {
				continue
			}
			c.log.Warn("xreadgroup failed", zap.Error(err))
			select {
			case <-time.After(500 * time.Millisecond):
			case <-ctx.Done():
				return ctx.Err()
			}
			continue
		}

		for _, st := range results {
			for _, msg := range st.Messages {
				candle, err := ParseCandle(msg.Values)
				if err != nil {
					c.log.Warn("dropping candle message", zap.String("id", msg.ID), zap.Error(err))
					if c.OnReject != nil {
						c.OnReject()
					}
					// ACK even on bad message to avoid poison pill
					c.client.XAck(ctx, st.Stream, c.cfg.Group, msg.ID)
					continue
				}

				select {
				case out <- candle:
				case <-ctx.Done():
					return ctx.Err()
				}
				c.client.XAck(ctx, st.Stream, c.cfg.Group, msg.ID)
			}
		}
	}
}

// ParseCandle decodes a stream entry. It accepts either a JSON candle under
// "data" or flat fields ts (unix seconds), open, high, low, close, volume.
func ParseCandle(values map[string]interface{}) (model.Candle, error) {
	var c model.Candle
	if data, ok := values["data"]; ok {
		s, ok := data.(string)
		if !ok {
			return c, fmt.Errorf("data field is %T", data)
		}
		if err := json.Unmarshal([]byte(s), &c); err != nil {
			return c, fmt.Errorf("unmarshal candle: %w", err)
		}
	} else {
		ts, err := intField(values, "ts")
		if err != nil {
			return c, err
		}
		c.OpenTime = time.Unix(ts, 0).UTC()
		for _, f := range []struct {
			name string
			dst  *float64
		}{
			{"open", &c.Open}, {"high", &c.High}, {"low", &c.Low}, {"close", &c.Close}, {"volume", &c.Volume},
		} {
			if *f.dst, err = floatField(values, f.name); err != nil {
				return c, err
			}
		}
	}
	if err := c.Validate(); err != nil {
		return c, err
	}
	return c, nil
}

func stringField(values map[string]interface{}, name string) (string, error) {
	v, ok := values[name]
	if !ok {
		return "", fmt.Errorf("missing field %q", name)
	}
	s, ok := v.(string)
	if !ok {
		return "", fmt.Errorf("field %q is %T", name, v)
	}
	return s, nil
}

func floatField(values map[string]interface{}, name string) (float64, error) {
	s, err := stringField(values, name)
	if err != nil {
		return 0, err
	}
	f, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return 0, fmt.Errorf("field %q: %w", name, err)
	}
	return f, nil
}

func intField(values map[string]interface{}, name string) (int64, error) {
	s, err := stringField(values, name)
	if err != nil {
		return 0, err
	}
	n, err := strconv.ParseInt(s, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("field %q: %w", name, err)
	}
	return n, nil
}
