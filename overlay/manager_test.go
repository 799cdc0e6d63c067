package overlay

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/onnwee/combo-overlay/backend/combo"
	"github.com/onnwee/combo-overlay/backend/notify"
	"github.com/onnwee/combo-overlay/backend/persist"
)

type failingStore struct{ persist.MemoryStore }

func (*failingStore) Load(context.Context, string) ([]byte, error) {
	return nil, errors.New("store unavailable")
}

// slowStore holds every Load until release is closed.
type slowStore struct {
	*persist.MemoryStore
	loading chan string
	release chan struct{}
}

func (s *slowStore) Load(ctx context.Context, key string) ([]byte, error) {
	s.loading <- key
	<-s.release
	return s.MemoryStore.Load(ctx, key)
}

func newTestManager(t *testing.T, store persist.Store) *Manager {
	return newManagerWith(t, func(o *Options) { o.Store = store })
}

func newManagerWith(t *testing.T, mutate func(*Options)) *Manager {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	opts := Options{
		Settings:      DefaultSettings(),
		Store:         persist.NewMemoryStore(),
		SweepInterval: time.Hour,
		FrameInterval: time.Hour,
	}
	mutate(&opts)
	m := NewManager(ctx, opts)
	t.Cleanup(func() {
		_ = m.Shutdown(context.Background())
		cancel()
	})
	return m
}

func TestManagerOpenReusesChannel(t *testing.T) {
	m := newTestManager(t, persist.NewMemoryStore())
	var opened []string
	m.OnOpen(func(ch *Channel) { opened = append(opened, ch.Name()) })

	a, err := m.Open(context.Background(), "Streamer")
	require.NoError(t, err)
	b, err := m.Open(context.Background(), "streamer")
	require.NoError(t, err)
	assert.Same(t, a, b)
	assert.Equal(t, []string{"streamer"}, opened)
	assert.Equal(t, []string{"streamer"}, m.Names())

	got, ok := m.Get("STREAMER")
	assert.True(t, ok)
	assert.Same(t, a, got)
	_, ok = m.Get("other")
	assert.False(t, ok)
}

func TestManagerSharesSequence(t *testing.T) {
	m := newTestManager(t, persist.NewMemoryStore())
	a, err := m.Open(context.Background(), "one")
	require.NoError(t, err)
	b, err := m.Open(context.Background(), "two")
	require.NoError(t, err)

	e1, _, err := a.AddEvent(context.Background(), combo.Event{Type: combo.CategoryPrimary, Username: "x"})
	require.NoError(t, err)
	e2, _, err := b.AddEvent(context.Background(), combo.Event{Type: combo.CategoryPrimary, Username: "x"})
	require.NoError(t, err)
	assert.Greater(t, e2.ID, e1.ID)
}

func TestManagerRejectsInvalidNames(t *testing.T) {
	m := newTestManager(t, persist.NewMemoryStore())
	for _, name := range []string{"", "has space", "way_too_long_for_a_twitch_login", "semi;colon"} {
		_, err := m.Open(context.Background(), name)
		assert.ErrorIs(t, err, ErrInvalidChannel, name)
	}
}

func TestManagerOpenPropagatesLoadError(t *testing.T) {
	m := newTestManager(t, &failingStore{})
	_, err := m.Open(context.Background(), "streamer")
	require.Error(t, err)
	assert.Empty(t, m.Names())
}

func TestManagerClearsOnStreamOnline(t *testing.T) {
	store := persist.NewMemoryStore()
	m := newTestManager(t, store)
	ch, err := m.Open(context.Background(), "streamer")
	require.NoError(t, err)
	_, _, err = ch.AddEvent(context.Background(), combo.Event{Type: combo.CategoryPrimary, Username: "alice"})
	require.NoError(t, err)

	reg := notify.NewRegistry("events")
	reg.Subscribe(m.HandleNotification)
	reg.Broadcast(notify.Message{Type: notify.TypeComboEvent, Channel: "streamer"})
	assert.False(t, ch.Snapshot().IsEmpty())

	reg.Broadcast(notify.Message{Type: notify.TypeStreamOnline, Channel: "Streamer"})
	assert.Eventually(t, func() bool { return ch.Snapshot().IsEmpty() }, 2*time.Second, 10*time.Millisecond)
}

func TestManagerShutdown(t *testing.T) {
	store := persist.NewMemoryStore()
	m := newTestManager(t, store)
	ch, err := m.Open(context.Background(), "streamer")
	require.NoError(t, err)
	_, _, err = ch.AddEvent(context.Background(), combo.Event{Type: combo.CategorySecondary, Username: "alice"})
	require.NoError(t, err)

	require.NoError(t, m.Shutdown(context.Background()))
	assert.Empty(t, m.Names())
	assert.Contains(t, store.Keys(), combo.StorageKey("streamer"))

	_, err = m.Open(context.Background(), "streamer")
	assert.ErrorIs(t, err, ErrChannelClosed)
}

func TestManagerCapsOnDemandChannels(t *testing.T) {
	m := newManagerWith(t, func(o *Options) { o.MaxChannels = 2 })
	ctx := context.Background()

	_, err := m.OpenWith(ctx, "one", m.Defaults())
	require.NoError(t, err)
	_, err = m.OpenWith(ctx, "two", m.Defaults())
	require.NoError(t, err)
	_, err = m.OpenWith(ctx, "three", m.Defaults())
	assert.ErrorIs(t, err, ErrTooManyChannels)

	// Running channels are still served at the limit.
	_, err = m.OpenWith(ctx, "one", m.Defaults())
	assert.NoError(t, err)

	// Pinned channels neither count nor get refused.
	_, err = m.Open(ctx, "main")
	require.NoError(t, err)
	assert.Equal(t, []string{"main", "one", "two"}, m.Names())
}

func TestManagerEvictsIdleChannels(t *testing.T) {
	clock := NewFakeClock(time.Unix(1_700_000_000, 0))
	listeners := map[string]int{"watched": 1}
	m := newManagerWith(t, func(o *Options) {
		o.Clock = clock
		o.IdleTimeout = time.Hour
		o.MaxChannels = 2
		o.Listeners = func(ch string) int { return listeners[ch] }
	})
	ctx := context.Background()

	_, err := m.Open(ctx, "main")
	require.NoError(t, err)
	idle, err := m.OpenWith(ctx, "idle", m.Defaults())
	require.NoError(t, err)
	_, err = m.OpenWith(ctx, "watched", m.Defaults())
	require.NoError(t, err)

	clock.Advance(30 * time.Minute)
	assert.Empty(t, m.EvictIdle())

	clock.Advance(31 * time.Minute)
	assert.Equal(t, []string{"idle"}, m.EvictIdle())
	assert.Equal(t, []string{"main", "watched"}, m.Names())
	_, _, err = idle.AddEvent(ctx, combo.Event{Type: combo.CategoryPrimary, Username: "x"})
	assert.ErrorIs(t, err, ErrChannelClosed)

	// The freed slot can be reused.
	_, err = m.OpenWith(ctx, "fresh", m.Defaults())
	assert.NoError(t, err)
}

func TestManagerGetDuringSlowLoad(t *testing.T) {
	store := &slowStore{
		MemoryStore: persist.NewMemoryStore(),
		loading:     make(chan string, 1),
		release:     make(chan struct{}),
	}
	m := newTestManager(t, store)
	ctx := context.Background()

	type result struct {
		ch  *Channel
		err error
	}
	results := make(chan result, 2)
	for range 2 {
		go func() {
			ch, err := m.Open(ctx, "slow")
			results <- result{ch, err}
		}()
	}
	select {
	case <-store.loading:
	case <-time.After(2 * time.Second):
		t.Fatal("store load never started")
	}

	done := make(chan struct{})
	go func() {
		_, ok := m.Get("slow")
		assert.False(t, ok)
		assert.Empty(t, m.Names())
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Get blocked behind a channel load")
	}

	close(store.release)
	a, b := <-results, <-results
	require.NoError(t, a.err)
	require.NoError(t, b.err)
	assert.Same(t, a.ch, b.ch)
	assert.Len(t, store.loading, 0)
}
