package chat

import (
	"context"
	"log/slog"
	"time"
)

// listen is swapped out in tests.
var listen = Listen

// DefaultReconnectInterval is the initial wait before rejoining a channel
// after the IRC connection drops.
const DefaultReconnectInterval = 5 * time.Second

const maxReconnectInterval = 2 * time.Minute

// StartAutoListener keeps an anonymous chat listener joined to channel until
// ctx is cancelled. A dropped connection is retried with a doubling delay
// starting at interval (DefaultReconnectInterval when zero), capped at two
// minutes. A connection that stayed up longer than the cap resets the delay.
func StartAutoListener(ctx context.Context, channel string, n Normalizer, sink Sink, opts ListenOptions, interval time.Duration) {
	if channel == "" {
		slog.Info("auto chat: channel empty; abort", slog.String("component", "chat"))
		return
	}
	if interval <= 0 {
		interval = DefaultReconnectInterval
	}
	delay := interval
	slog.Info("auto chat: started listener", slog.String("channel", channel), slog.Bool("dev_mode", n.DevMode))
	for {
		started := time.Now()
		err := listen(ctx, channel, n, sink, opts)
		if ctx.Err() != nil {
			slog.Info("auto chat: listener stopped", slog.String("channel", channel))
			return
		}
		if time.Since(started) > maxReconnectInterval {
			delay = interval
		}
		slog.Warn("auto chat: connection lost; reconnecting",
			slog.String("channel", channel),
			slog.Any("err", err),
			slog.Duration("retry_in", delay))
		select {
		case <-ctx.Done():
			return
		case <-time.After(delay):
		}
		delay = min(delay*2, maxReconnectInterval)
	}
}
