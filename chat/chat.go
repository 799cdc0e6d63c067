package chat

import (
	"context"
	"log/slog"

	twitch "github.com/gempir/go-twitch-irc/v4"

	"github.com/onnwee/combo-overlay/backend/combo"
)

// Sink receives normalized events. It must not block for long; the IRC
// client delivers messages from a single goroutine.
type Sink func(channel string, ev combo.Event)

// ListenOptions tunes the IRC connection. The zero value connects to Twitch.
type ListenOptions struct {
	// Addr overrides the IRC server address (host:port).
	Addr string
	// Insecure disables TLS, for local test servers.
	Insecure bool
}

// Listen joins channel anonymously and forwards every combo event to sink
// until ctx is cancelled or the connection fails. It returns the connection
// error, or nil after a cancellation.
func Listen(ctx context.Context, channel string, n Normalizer, sink Sink, opts ListenOptions) error {
	client := twitch.NewAnonymousClient()
	if opts.Addr != "" {
		client.IrcAddress = opts.Addr
	}
	if opts.Insecure {
		client.TLS = false
	}

	client.OnPrivateMessage(func(msg twitch.PrivateMessage) {
		if ev, ok := n.FromPrivateMessage(msg); ok {
			sink(msg.Channel, ev)
		}
	})
	client.OnUserNoticeMessage(func(msg twitch.UserNoticeMessage) {
		if ev, ok := n.FromUserNotice(msg); ok {
			sink(msg.Channel, ev)
		}
	})
	client.OnConnect(func() {
		slog.Info("twitch chat connected", slog.String("channel", channel), slog.String("component", "chat"))
	})

	// Handle context cancellation by closing the client
	done := make(chan struct{})
	defer close(done)
	go func() {
		select {
		case <-ctx.Done():
			_ = client.Disconnect()
		case <-done:
		}
	}()

	client.Join(channel)
	err := client.Connect()
	if ctx.Err() != nil {
		return nil
	}
	return err
}
