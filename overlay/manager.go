package overlay

import (
	"context"
	"errors"
	"log/slog"
	"regexp"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/onnwee/combo-overlay/backend/combo"
	"github.com/onnwee/combo-overlay/backend/notify"
	"github.com/onnwee/combo-overlay/backend/telemetry"
)

var channelPattern = regexp.MustCompile(`^[a-z0-9_]{1,25}$`)

// ValidChannel reports whether name is a Twitch login.
func ValidChannel(name string) bool {
	return channelPattern.MatchString(strings.ToLower(strings.TrimSpace(name)))
}

// slot is a channel entry. ch is nil while the channel is still loading;
// ready is closed once loading finished either way.
type slot struct {
	ch     *Channel
	ready  chan struct{}
	pinned bool
	used   time.Time
}

// Manager owns the running channels of the process. Every channel shares
// the manager's sequence so identifiers stay unique across channels.
//
// Channels opened with Open are pinned: they run until shutdown. Channels
// opened with OpenWith on behalf of clients count toward MaxChannels and
// stop after IdleTimeout without use or listeners.
type Manager struct {
	ctx   context.Context
	base  Options
	clock Clock

	mu       sync.Mutex
	channels map[string]*slot
	onOpen   []func(*Channel)
	closed   bool
}

// NewManager returns a manager whose channels run until ctx is done. base
// provides the collaborators and default settings of every channel.
func NewManager(ctx context.Context, base Options) *Manager {
	if base.Sequence == nil {
		base.Sequence = &combo.Sequence{}
	}
	base.Rand = nil
	clock := base.Clock
	if clock == nil {
		clock = SystemClock
	}
	m := &Manager{ctx: ctx, base: base, clock: clock, channels: map[string]*slot{}}
	if base.IdleTimeout > 0 {
		go m.evictLoop(max(base.IdleTimeout/2, time.Second))
	}
	return m
}

// Defaults returns the settings used for channels opened without overrides.
func (m *Manager) Defaults() Settings { return m.base.Settings.normalized() }

// OnOpen registers fn to run after a channel starts for the first time.
func (m *Manager) OnOpen(fn func(*Channel)) {
	m.mu.Lock()
	m.onOpen = append(m.onOpen, fn)
	m.mu.Unlock()
}

// Open returns the running channel for name, starting it with the default
// settings when needed. The channel is pinned and never evicted.
func (m *Manager) Open(ctx context.Context, name string) (*Channel, error) {
	return m.open(ctx, name, m.base.Settings, true)
}

// OpenWith starts a channel on demand. Settings only apply when this call
// starts the channel; an already running channel keeps its own. It returns
// ErrTooManyChannels when the on-demand limit is reached.
func (m *Manager) OpenWith(ctx context.Context, name string, s Settings) (*Channel, error) {
	return m.open(ctx, name, s, false)
}

func (m *Manager) open(ctx context.Context, name string, s Settings, pinned bool) (*Channel, error) {
	if !ValidChannel(name) {
		return nil, ErrInvalidChannel
	}
	name = strings.ToLower(strings.TrimSpace(name))

	for {
		m.mu.Lock()
		if m.closed {
			m.mu.Unlock()
			return nil, ErrChannelClosed
		}
		sl, ok := m.channels[name]
		if !ok {
			break
		}
		if pinned {
			sl.pinned = true
		}
		if sl.ch != nil {
			sl.used = m.clock.Now()
			m.mu.Unlock()
			return sl.ch, nil
		}
		// Another caller is loading this channel.
		m.mu.Unlock()
		select {
		case <-sl.ready:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}

	if !pinned && m.base.MaxChannels > 0 && m.onDemandLocked() >= m.base.MaxChannels {
		m.mu.Unlock()
		if telemetry.ChannelsRefused != nil {
			telemetry.ChannelsRefused.Inc()
		}
		return nil, ErrTooManyChannels
	}
	sl := &slot{ready: make(chan struct{}), pinned: pinned}
	m.channels[name] = sl
	m.mu.Unlock()

	opts := m.base
	opts.Settings = s
	ch := NewChannel(name, opts)
	err := ch.Start(m.ctx)

	m.mu.Lock()
	if err == nil && m.closed {
		err = ErrChannelClosed
	}
	if err != nil {
		if m.channels[name] == sl {
			delete(m.channels, name)
		}
		close(sl.ready)
		m.mu.Unlock()
		_ = ch.Close()
		return nil, err
	}
	sl.ch = ch
	sl.used = m.clock.Now()
	close(sl.ready)
	hooks := slices.Clone(m.onOpen)
	n := m.runningLocked()
	m.mu.Unlock()

	telemetry.SetActiveChannels(n)
	for _, fn := range hooks {
		fn(ch)
	}
	return ch, nil
}

func (m *Manager) onDemandLocked() int {
	n := 0
	for _, sl := range m.channels {
		if !sl.pinned {
			n++
		}
	}
	return n
}

func (m *Manager) runningLocked() int {
	n := 0
	for _, sl := range m.channels {
		if sl.ch != nil {
			n++
		}
	}
	return n
}

// Get returns a running channel without starting it. A channel that is
// still loading is reported as absent.
func (m *Manager) Get(name string) (*Channel, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	sl, ok := m.channels[strings.ToLower(strings.TrimSpace(name))]
	if !ok || sl.ch == nil {
		return nil, false
	}
	sl.used = m.clock.Now()
	return sl.ch, true
}

// Names lists the running channels.
func (m *Manager) Names() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	names := make([]string, 0, len(m.channels))
	for name, sl := range m.channels {
		if sl.ch != nil {
			names = append(names, name)
		}
	}
	slices.Sort(names)
	return names
}

// EvictIdle stops the on-demand channels unused for IdleTimeout that have
// no listeners and returns their names.
func (m *Manager) EvictIdle() []string {
	if m.base.IdleTimeout <= 0 {
		return nil
	}
	now := m.clock.Now()
	candidates := map[string]*slot{}
	m.mu.Lock()
	for name, sl := range m.channels {
		if !sl.pinned && sl.ch != nil && now.Sub(sl.used) >= m.base.IdleTimeout {
			candidates[name] = sl
		}
	}
	m.mu.Unlock()
	if len(candidates) == 0 {
		return nil
	}

	// Listener counts come from registries that call back into the
	// manager, so they are read without the lock.
	busy := map[string]bool{}
	if m.base.Listeners != nil {
		for name := range candidates {
			busy[name] = m.base.Listeners(name) > 0
		}
	}

	var victims []*Channel
	var names []string
	m.mu.Lock()
	for name, sl := range candidates {
		if m.channels[name] != sl || sl.pinned || now.Sub(sl.used) < m.base.IdleTimeout {
			continue
		}
		if busy[name] {
			sl.used = now
			continue
		}
		delete(m.channels, name)
		victims = append(victims, sl.ch)
		names = append(names, name)
	}
	n := m.runningLocked()
	m.mu.Unlock()

	for _, ch := range victims {
		_ = ch.Close()
		telemetry.ForgetChannel(ch.Name())
		if telemetry.ChannelsEvicted != nil {
			telemetry.ChannelsEvicted.Inc()
		}
	}
	if len(names) > 0 {
		telemetry.SetActiveChannels(n)
		slices.Sort(names)
		slog.Info("idle overlay channels stopped", slog.Any("channels", names), slog.String("component", "overlay_manager"))
	}
	return names
}

func (m *Manager) evictLoop(every time.Duration) {
	t := time.NewTicker(every)
	defer t.Stop()
	for {
		select {
		case <-m.ctx.Done():
			return
		case <-t.C:
			m.EvictIdle()
		}
	}
}

// HandleNotification clears a channel when its stream goes online. It is
// meant to be subscribed to the events registry and never blocks the caller.
func (m *Manager) HandleNotification(msg notify.Message) {
	if msg.Type != notify.TypeStreamOnline {
		return
	}
	ch, ok := m.Get(msg.Channel)
	if !ok {
		return
	}
	go func() {
		ctx, cancel := context.WithTimeout(m.ctx, 10*time.Second)
		defer cancel()
		if err := ch.Clear(ctx); err != nil && !errors.Is(err, ErrChannelClosed) {
			slog.Warn("clear on stream online failed", slog.String("channel", ch.Name()), slog.Any("err", err))
			return
		}
		slog.Info("stream online; overlay cleared", slog.String("channel", ch.Name()))
	}()
}

// Shutdown stops every channel and writes their pending state. Channels
// still loading are closed by their opener.
func (m *Manager) Shutdown(ctx context.Context) error {
	m.mu.Lock()
	m.closed = true
	var chans []*Channel
	for _, sl := range m.channels {
		if sl.ch != nil {
			chans = append(chans, sl.ch)
		}
	}
	m.channels = map[string]*slot{}
	m.mu.Unlock()

	done := make(chan struct{})
	go func() {
		var wg sync.WaitGroup
		for _, ch := range chans {
			wg.Add(1)
			go func() {
				defer wg.Done()
				_ = ch.Close()
			}()
		}
		wg.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-ctx.Done():
		return ctx.Err()
	}
	telemetry.SetActiveChannels(0)
	return nil
}
