package notify

import (
	"fmt"
	"log/slog"
	"time"

	"github.com/goccy/go-json"
	"github.com/google/uuid"
	"github.com/nats-io/nats.go"
)

// DefaultSubjectPrefix is prepended to the channel name to form the subject.
const DefaultSubjectPrefix = "overlay.events"

// Broadcaster is satisfied by Registry and NATSBridge.
type Broadcaster interface {
	Broadcast(Message) int
}

// Connect opens a NATS connection with keep-alive pings and error logging.
func Connect(url string) (*nats.Conn, error) {
	errorHandler := func(conn *nats.Conn, sub *nats.Subscription, err error) {
		subject := ""
		if sub != nil {
			subject = sub.Subject
		}
		slog.Error("nats error", slog.Any("err", err), slog.String("conn_url", conn.ConnectedUrlRedacted()), slog.String("subject", subject), slog.String("component", "notify_nats"))
	}
	nc, err := nats.Connect(url,
		nats.Name("combo-overlay"),
		nats.PingInterval(20*time.Second),
		nats.MaxReconnects(-1),
		nats.ErrorHandler(errorHandler),
	)
	if err != nil {
		return nil, fmt.Errorf("connect nats: %w", err)
	}
	return nc, nil
}

type wireMessage struct {
	Type      string          `json:"type"`
	Channel   string          `json:"channel"`
	Timestamp int64           `json:"timestamp"`
	Data      json.RawMessage `json:"data,omitempty"`
	Origin    string          `json:"origin"`
}

// NATSBridge mirrors a Registry across processes: every local broadcast is
// also published to NATS, and messages published by other processes are
// delivered to the local listeners. Messages carry the publishing instance id
// so a process never re-delivers its own messages.
type NATSBridge struct {
	nc     *nats.Conn
	reg    *Registry
	prefix string
	origin string
	sub    *nats.Subscription
}

// NewNATSBridge subscribes to prefix.* and returns the bridge. An empty
// prefix uses DefaultSubjectPrefix.
func NewNATSBridge(nc *nats.Conn, reg *Registry, prefix string) (*NATSBridge, error) {
	if prefix == "" {
		prefix = DefaultSubjectPrefix
	}
	b := &NATSBridge{nc: nc, reg: reg, prefix: prefix, origin: uuid.NewString()}
	sub, err := nc.Subscribe(prefix+".*", b.handle)
	if err != nil {
		return nil, fmt.Errorf("subscribe %s.*: %w", prefix, err)
	}
	b.sub = sub
	slog.Info("nats bridge started", slog.String("subject", prefix+".*"), slog.String("origin", b.origin), slog.String("component", "notify_nats"))
	return b, nil
}

// Origin returns this process's instance id.
func (b *NATSBridge) Origin() string { return b.origin }

// Broadcast delivers locally and publishes to NATS. A publish failure is
// logged; local delivery is not affected.
func (b *NATSBridge) Broadcast(msg Message) int {
	if msg.Timestamp == 0 {
		msg.Timestamp = time.Now().UnixMilli()
	}
	n := b.reg.Broadcast(msg)
	if msg.Origin != "" {
		return n
	}
	data, err := encodeWire(msg, b.origin)
	if err == nil {
		err = b.nc.Publish(b.Subject(msg.Channel), data)
	}
	if err != nil {
		slog.Warn("nats publish failed", slog.String("channel", msg.Channel), slog.Any("err", err), slog.String("component", "notify_nats"))
	}
	return n
}

// Subject returns the subject used for channel.
func (b *NATSBridge) Subject(channel string) string { return b.prefix + "." + key(channel) }

func (b *NATSBridge) handle(m *nats.Msg) {
	msg, origin, err := decodeWire(m.Data)
	if err != nil {
		slog.Warn("nats message malformed", slog.String("subject", m.Subject), slog.Any("err", err), slog.String("component", "notify_nats"))
		return
	}
	if origin == b.origin {
		return
	}
	msg.Origin = origin
	b.reg.Broadcast(msg)
}

// Close stops receiving remote messages. The connection stays open.
func (b *NATSBridge) Close() error {
	if b.sub == nil {
		return nil
	}
	return b.sub.Unsubscribe()
}

func encodeWire(msg Message, origin string) ([]byte, error) {
	w := wireMessage{Type: msg.Type, Channel: key(msg.Channel), Timestamp: msg.Timestamp, Origin: origin}
	if msg.Data != nil {
		raw, err := json.Marshal(msg.Data)
		if err != nil {
			return nil, fmt.Errorf("encode message data: %w", err)
		}
		w.Data = raw
	}
	return json.Marshal(w)
}

func decodeWire(b []byte) (Message, string, error) {
	var w wireMessage
	if err := json.Unmarshal(b, &w); err != nil {
		return Message{}, "", err
	}
	if w.Type == "" || w.Channel == "" {
		return Message{}, "", fmt.Errorf("message without type or channel")
	}
	msg := Message{Type: w.Type, Channel: w.Channel, Timestamp: w.Timestamp}
	if len(w.Data) > 0 {
		msg.Data = w.Data
	}
	return msg, w.Origin, nil
}
