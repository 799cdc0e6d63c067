// Package notify fans messages out to the listeners of a channel.
//
// A Registry is created by main and passed to whoever needs to publish or
// listen; there is no package-level registry. Delivery never blocks the
// publisher: a listener whose buffer is full misses the message.
package notify

import (
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/onnwee/combo-overlay/backend/telemetry"
)

// Message types published on the events registry.
const (
	TypeConnected    = "connected"
	TypePing         = "ping"
	TypeComboEvent   = "combo_event"
	TypeStreamOnline = "stream_online"
	TypeCleared      = "cleared"
	TypeFrame        = "frame"
)

// Message is one notification for a channel.
type Message struct {
	Type      string `json:"type"`
	Channel   string `json:"channel,omitempty"`
	Timestamp int64  `json:"timestamp,omitempty"`
	Data      any    `json:"data,omitempty"`
	// Origin identifies the process that produced the message. Empty for
	// local messages.
	Origin string `json:"-"`
}

// Client is one open listener.
type Client struct {
	ch      chan Message
	channel string
	once    sync.Once
}

// C returns the delivery channel. It is closed when the client is closed.
func (c *Client) C() <-chan Message { return c.ch }

// Channel returns the channel the client listens to.
func (c *Client) Channel() string { return c.channel }

// Registry tracks listeners per channel.
type Registry struct {
	name string

	mu        sync.RWMutex
	clients   map[string]map[*Client]struct{}
	recent    map[string]Message
	listeners []func(Message)
}

// NewRegistry returns an empty registry. name labels its metrics
// (for example "events" or "frames").
func NewRegistry(name string) *Registry {
	return &Registry{
		name:    name,
		clients: map[string]map[*Client]struct{}{},
		recent:  map[string]Message{},
	}
}

func key(channel string) string { return strings.ToLower(strings.TrimSpace(channel)) }

// Open registers a listener for channel with a buffer of buf messages.
func (r *Registry) Open(channel string, buf int) *Client {
	if buf < 1 {
		buf = 1
	}
	c := &Client{ch: make(chan Message, buf), channel: key(channel)}
	r.mu.Lock()
	set, ok := r.clients[c.channel]
	if !ok {
		set = map[*Client]struct{}{}
		r.clients[c.channel] = set
	}
	set[c] = struct{}{}
	n := r.totalLocked()
	r.mu.Unlock()
	telemetry.SetListeners(r.name, n)
	slog.Debug("listener opened", slog.String("channel", c.channel), slog.String("registry", r.name), slog.String("component", "notify"))
	return c
}

// Close unregisters the listener and closes its delivery channel. Closing
// twice is a no-op.
func (r *Registry) Close(c *Client) {
	if c == nil {
		return
	}
	c.once.Do(func() {
		r.mu.Lock()
		if set, ok := r.clients[c.channel]; ok {
			delete(set, c)
			if len(set) == 0 {
				delete(r.clients, c.channel)
			}
		}
		close(c.ch)
		n := r.totalLocked()
		r.mu.Unlock()
		telemetry.SetListeners(r.name, n)
	})
}

// Broadcast delivers msg to every listener of msg.Channel and to every
// subscribed func. It returns the number of clients that received it.
func (r *Registry) Broadcast(msg Message) int {
	msg.Channel = key(msg.Channel)
	if msg.Timestamp == 0 {
		msg.Timestamp = time.Now().UnixMilli()
	}
	r.mu.Lock()
	if msg.Type != TypePing && msg.Type != TypeFrame {
		r.recent[msg.Channel] = msg
	}
	delivered, dropped := 0, 0
	for c := range r.clients[msg.Channel] {
		select {
		case c.ch <- msg:
			delivered++
		default:
			dropped++
		}
	}
	listeners := r.listeners
	r.mu.Unlock()

	telemetry.AddCounter(telemetry.BroadcastsDropped, dropped)
	for _, fn := range listeners {
		fn(msg)
	}
	return delivered
}

// Subscribe registers fn to be called for every broadcast message, after
// client delivery. fn must not block.
func (r *Registry) Subscribe(fn func(Message)) {
	r.mu.Lock()
	r.listeners = append(r.listeners, fn)
	r.mu.Unlock()
}

// Recent returns the last non-ping message broadcast on channel, used to
// replay state to a listener that just connected.
func (r *Registry) Recent(channel string) (Message, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	m, ok := r.recent[key(channel)]
	return m, ok
}

// Count returns the number of listeners of channel.
func (r *Registry) Count(channel string) int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.clients[key(channel)])
}

// Total returns the number of listeners across all channels.
func (r *Registry) Total() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.totalLocked()
}

func (r *Registry) totalLocked() int {
	n := 0
	for _, set := range r.clients {
		n += len(set)
	}
	return n
}
