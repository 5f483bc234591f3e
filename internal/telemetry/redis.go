package telemetry

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	goredis "github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/danielpatrickdp/adaptive-rehab/go-controller/internal/logging"
)

// DefaultRedisChannel is used when no channel is configured.
const DefaultRedisChannel = "adaptrehab.telemetry"

// #region redis-sink
// RedisSink publishes events as JSON on a pub/sub channel.
type RedisSink struct {
	rdb     *goredis.Client
	channel string
	log     *zap.Logger
}

// NewRedisSink publishes on channel through rdb. The caller owns rdb.
func NewRedisSink(rdb *goredis.Client, channel string, log *zap.Logger) *RedisSink {
	if channel == "" {
		channel = DefaultRedisChannel
	}
	return &RedisSink{rdb: rdb, channel: channel, log: logging.OrNop(log)}
}

func (r *RedisSink) Emit(ctx context.Context, ev Event) error {
	if r == nil || r.rdb == nil {
		return errors.New("redis sink not initialized")
	}
	raw, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("encode event: %w", err)
	}
	return r.rdb.Publish(ctx, r.channel, raw).Err()
}

// Forward subscribes to the channel and calls onEvent for each decoded event
// until ctx is done. It returns once the subscription is confirmed.
func (r *RedisSink) Forward(ctx context.Context, onEvent func(Event)) error {
	if onEvent == nil {
		return errors.New("onEvent callback required")
	}
	sub := r.rdb.Subscribe(ctx, r.channel)
	if _, err := sub.Receive(ctx); err != nil {
		_ = sub.Close()
		return fmt.Errorf("redis subscribe: %w", err)
	}

	go func() {
		defer sub.Close()
		ch := sub.Channel()
		for {
			select {
			case <-ctx.Done():
				return
			case m, ok := <-ch:
				if !ok || m == nil {
					return
				}
				var ev Event
				if err := json.Unmarshal([]byte(m.Payload), &ev); err != nil {
					r.log.Warn("bad telemetry payload", zap.Error(err))
					continue
				}
				onEvent(ev)
			}
		}
	}()
	return nil
}

// #endregion redis-sink
