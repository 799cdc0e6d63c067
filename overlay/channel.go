// Package overlay runs the combo engine of each channel: one goroutine per
// channel applies commands, expiry sweeps and animation frames in order, and
// publishes the results to listeners.
package overlay

import (
	"context"
	"fmt"
	"log/slog"
	"math/rand/v2"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/samber/lo"

	"github.com/onnwee/combo-overlay/backend/combo"
	"github.com/onnwee/combo-overlay/backend/lifecycle"
	"github.com/onnwee/combo-overlay/backend/notify"
	"github.com/onnwee/combo-overlay/backend/persist"
	"github.com/onnwee/combo-overlay/backend/physics"
	"github.com/onnwee/combo-overlay/backend/placement"
	"github.com/onnwee/combo-overlay/backend/telemetry"
)

// Default loop periods.
const (
	DefaultSweepInterval = time.Second
	DefaultFrameInterval = 50 * time.Millisecond
)

// LeaderboardSize is how many users a leaderboard lists.
const LeaderboardSize = 10

// maxRestoredBodies caps the bodies recreated from stored counters.
const maxRestoredBodies = 500

// maxStep bounds one simulation step so a stalled loop does not teleport bodies.
const maxStep = 0.1

// Options wire a channel to its collaborators. Zero fields get defaults.
type Options struct {
	Settings Settings
	Store    persist.Store
	// Events receives combo_event and cleared notifications.
	Events notify.Broadcaster
	// Frames receives one frame per frame tick.
	Frames        notify.Broadcaster
	Sequence      *combo.Sequence
	Placer        combo.Placer
	Clock         Clock
	Rand          *rand.Rand
	SweepInterval time.Duration
	FrameInterval time.Duration

	// The remaining fields are read by Manager only.

	// MaxChannels bounds the channels started on demand; zero means no limit.
	// Pinned channels neither count nor are refused.
	MaxChannels int
	// IdleTimeout stops on-demand channels nobody opened or listened to for
	// that long; zero disables eviction.
	IdleTimeout time.Duration
	// Listeners reports how many clients follow a channel. Channels with
	// listeners are never evicted.
	Listeners func(channel string) int
}

type command struct {
	fn   func()
	done chan struct{}
}

// Channel is the engine of one overlay channel. All state changes run on
// the channel goroutine; Snapshot and LastFrame are safe to call from anywhere.
type Channel struct {
	name     string
	settings Settings
	mode     combo.Mode
	store    persist.Store
	events   notify.Broadcaster
	frames   notify.Broadcaster
	seq      *combo.Sequence
	placer   combo.Placer
	clock    Clock
	rng      *rand.Rand
	log      *slog.Logger

	sweepEvery time.Duration
	frameEvery time.Duration

	snap atomic.Pointer[combo.Snapshot]
	last atomic.Pointer[Frame]

	// loop-owned
	seen     combo.IDSet
	anim     *lifecycle.Animator
	sim      *physics.Simulator
	drops    []physics.Drop
	pending  []lifecycle.Transition
	lastStep time.Time

	persist *persister
	cmds    chan command
	quit    chan struct{}
	exited  chan struct{}
	started atomic.Bool
	once    sync.Once
}

// NewChannel builds a stopped channel. Call Start to load state and run it.
func NewChannel(name string, opts Options) *Channel {
	name = strings.ToLower(strings.TrimSpace(name))
	s := opts.Settings.normalized()
	if opts.Store == nil {
		opts.Store = persist.NewMemoryStore()
	}
	if opts.Sequence == nil {
		opts.Sequence = &combo.Sequence{}
	}
	if opts.Placer == nil {
		opts.Placer = placement.New()
	}
	if opts.Clock == nil {
		opts.Clock = SystemClock
	}
	if opts.Rand == nil {
		opts.Rand = rand.New(rand.NewPCG(rand.Uint64(), rand.Uint64()))
	}
	if opts.SweepInterval <= 0 {
		opts.SweepInterval = DefaultSweepInterval
	}
	if opts.FrameInterval <= 0 {
		opts.FrameInterval = DefaultFrameInterval
	}
	c := &Channel{
		name:       name,
		settings:   s,
		mode:       s.Mode(),
		store:      opts.Store,
		events:     opts.Events,
		frames:     opts.Frames,
		seq:        opts.Sequence,
		placer:     opts.Placer,
		clock:      opts.Clock,
		rng:        opts.Rand,
		log:        slog.Default().With(slog.String("component", "overlay"), slog.String("channel", name)),
		sweepEvery: opts.SweepInterval,
		frameEvery: opts.FrameInterval,
		anim:       lifecycle.NewAnimator(),
		sim:        physics.NewSimulator(s.Field, s.SizeMultiplier(), opts.Rand),
		cmds:       make(chan command),
		quit:       make(chan struct{}),
		exited:     make(chan struct{}),
	}
	c.persist = newPersister(c.store, combo.StorageKey(name), c.Snapshot, c.log)
	return c
}

// Name returns the lowercased channel name.
func (c *Channel) Name() string { return c.name }

// Settings returns the channel configuration.
func (c *Channel) Settings() Settings { return c.settings }

// Snapshot returns the current state. The value is shared and must not be
// mutated.
func (c *Channel) Snapshot() combo.Snapshot {
	if p := c.snap.Load(); p != nil {
		return *p
	}
	return combo.Empty()
}

// LastFrame returns the most recently published frame.
func (c *Channel) LastFrame() (Frame, bool) {
	if p := c.last.Load(); p != nil {
		return *p, true
	}
	return Frame{}, false
}

// Start loads the stored state and runs the channel loop until ctx is done
// or Close is called.
func (c *Channel) Start(ctx context.Context) error {
	if !c.started.CompareAndSwap(false, true) {
		return nil
	}
	loadCtx, cancel := context.WithTimeout(ctx, persistTimeout)
	data, err := c.store.Load(loadCtx, combo.StorageKey(c.name))
	cancel()
	if err != nil {
		c.started.Store(false)
		return fmt.Errorf("load overlay state for %s: %w", c.name, err)
	}
	snap := combo.Decode(data)
	now := c.clock.Now()
	c.snap.Store(&snap)
	c.lastStep = now
	if c.settings.Persistent {
		c.anim.Seed(snap.Entities, now.UnixMilli())
	} else {
		c.restoreBodies(snap.Aggregate.Total)
	}
	c.log.Info("overlay channel started",
		slog.Int("entities", len(snap.Entities)),
		slog.Int("records", len(snap.Records)),
		slog.Int("total", snap.Aggregate.Total),
		slog.Bool("persistent", c.settings.Persistent))

	go c.persist.run()
	go c.run(ctx)
	return nil
}

// restoreBodies recreates one uncoloured body per counted primary event.
func (c *Channel) restoreBodies(total int) {
	n := min(total, maxRestoredBodies)
	for range n {
		c.sim.Spawn(c.seq.Next(), "")
	}
	if total > n {
		c.log.Info("restored bodies capped", slog.Int("total", total), slog.Int("restored", n))
	}
}

func (c *Channel) run(ctx context.Context) {
	defer close(c.exited)
	defer c.persist.close()

	sweep := time.NewTicker(c.sweepEvery)
	defer sweep.Stop()
	frame := time.NewTicker(c.frameEvery)
	defer frame.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-c.quit:
			return
		case cmd := <-c.cmds:
			cmd.fn()
			close(cmd.done)
		case <-sweep.C:
			c.sweep()
		case <-frame.C:
			c.frame()
		}
	}
}

// Close stops the loop and writes any pending state.
func (c *Channel) Close() error {
	if !c.started.Load() {
		return nil
	}
	c.once.Do(func() { close(c.quit) })
	<-c.exited
	return nil
}

// do runs fn on the channel goroutine and waits for it.
func (c *Channel) do(ctx context.Context, fn func()) error {
	if !c.started.Load() {
		return ErrChannelClosed
	}
	done := make(chan struct{})
	select {
	case c.cmds <- command{fn: fn, done: done}:
	case <-c.exited:
		return ErrChannelClosed
	case <-ctx.Done():
		return ctx.Err()
	}
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (c *Channel) commit(next combo.Snapshot) {
	c.snap.Store(&next)
	c.persist.schedule()
}

func (c *Channel) syncAnimator(next combo.Snapshot, now int64) {
	if c.settings.Persistent {
		c.pending = append(c.pending, c.anim.Sync(next.Entities, now)...)
	}
}

func (c *Channel) publish(typ string, ts int64, data any) {
	if c.events == nil {
		return
	}
	c.events.Broadcast(notify.Message{Type: typ, Channel: c.name, Timestamp: ts, Data: data})
}

// AddEvent applies one combo event. Events without an ID get the next
// sequence number; an event whose ID was already applied is reported as not
// applied and changes nothing. A missing timestamp means now.
func (c *Channel) AddEvent(ctx context.Context, ev combo.Event) (combo.Event, bool, error) {
	if !ev.Type.Valid() {
		telemetry.IncEventIgnored("unknown_category")
		return ev, false, ErrUnknownCategory
	}
	ev = ev.Normalize()
	if ev.ID == 0 {
		ev.ID = c.seq.Next()
	}
	if ev.Timestamp <= 0 {
		ev.Timestamp = c.clock.Now().UnixMilli()
	}
	var applied bool
	err := c.do(ctx, func() { applied = c.apply(ev) })
	return ev, applied, err
}

func (c *Channel) apply(ev combo.Event) bool {
	if !c.seen.Add(ev.ID) {
		telemetry.AddCounter(telemetry.EventsDuplicate, 1)
		return false
	}
	now := c.clock.Now().UnixMilli()
	next := c.Snapshot().AddEvent(ev, c.mode, c.placer)
	c.commit(next)
	switch ev.Type {
	case combo.CategoryPrimary:
		if c.settings.Persistent {
			c.syncAnimator(next, now)
		} else {
			c.sim.Spawn(ev.ID, ev.Color)
		}
	case combo.CategorySecondary:
		if c.settings.HeartFall {
			c.drops = append(c.drops, physics.NewDrop(c.seq.Next(), ev.Color, c.settings.Field, c.settings.SizeMultiplier(), now, c.rng))
		}
	}
	telemetry.IncEventIngested(string(ev.Type))
	c.publish(notify.TypeComboEvent, now, ev)
	return true
}

// Clear resets the channel and deletes its stored state before returning.
func (c *Channel) Clear(ctx context.Context) error {
	if err := c.do(ctx, c.clear); err != nil {
		return err
	}
	return c.persist.Flush(ctx)
}

func (c *Channel) clear() {
	c.commit(combo.Empty())
	c.anim.Clear()
	c.sim.Clear()
	c.drops = nil
	c.pending = nil
	telemetry.SetBodies(c.name, 0)
	c.log.Info("overlay cleared")
	c.publish(notify.TypeCleared, c.clock.Now().UnixMilli(), nil)
}

// ForceExpire starts the expiry of a user's entity now. It reports false when
// the user has no entity or it is already expiring.
func (c *Channel) ForceExpire(ctx context.Context, username string) (bool, error) {
	username = strings.ToLower(strings.TrimSpace(username))
	var changed bool
	err := c.do(ctx, func() {
		snap := c.Snapshot()
		e, ok := snap.Entity(username)
		if !ok || e.Expiring {
			return
		}
		now := c.clock.Now().UnixMilli()
		next := snap.MarkExpiring(username, now)
		c.commit(next)
		c.syncAnimator(next, now)
		telemetry.AddCounter(telemetry.EntitiesExpired, 1)
		changed = true
	})
	return changed, err
}

// RemoveEntity deletes a user's entity, typically once its burst animation
// completed. It reports false when the user has no entity.
func (c *Channel) RemoveEntity(ctx context.Context, username string) (bool, error) {
	username = strings.ToLower(strings.TrimSpace(username))
	var changed bool
	err := c.do(ctx, func() { changed = c.remove([]string{username}) > 0 })
	return changed, err
}

// CompleteEntity removes a user's entity once a renderer reports that its
// burst animation finished. Only expiring entities are removed; it reports
// false for any other entity and for absent users.
func (c *Channel) CompleteEntity(ctx context.Context, username string) (bool, error) {
	username = strings.ToLower(strings.TrimSpace(username))
	var changed bool
	err := c.do(ctx, func() {
		if e, ok := c.Snapshot().Entity(username); !ok || !e.Expiring {
			return
		}
		changed = c.remove([]string{username}) > 0
	})
	return changed, err
}

func (c *Channel) remove(names []string) int {
	snap := c.Snapshot()
	next := snap
	n := 0
	for _, name := range names {
		if _, ok := next.Entity(name); !ok {
			continue
		}
		next = next.RemoveEntity(name)
		n++
	}
	if n == 0 {
		return 0
	}
	c.commit(next)
	c.syncAnimator(next, c.clock.Now().UnixMilli())
	telemetry.AddCounter(telemetry.EntitiesRemoved, n)
	return n
}

// Sweep runs one expiry pass immediately.
func (c *Channel) Sweep(ctx context.Context) (combo.SweepResult, error) {
	var res combo.SweepResult
	err := c.do(ctx, func() { res = c.sweep() })
	return res, err
}

func (c *Channel) sweep() combo.SweepResult {
	now := c.clock.Now().UnixMilli()
	var res combo.SweepResult
	telemetry.TimeFunc(telemetry.SweepDuration, func() {
		var next combo.Snapshot
		next, res = c.Snapshot().Sweep(now)
		if !res.Changed() {
			return
		}
		c.commit(next)
		c.syncAnimator(next, now)
	})
	telemetry.AddCounter(telemetry.EntitiesExpired, len(res.MarkedExpiring))
	telemetry.AddCounter(telemetry.EntitiesRemoved, len(res.Removed))
	telemetry.AddCounter(telemetry.RecordsPruned, res.RecordsPruned)
	if res.Changed() {
		c.log.Debug("expiry sweep",
			slog.Int("marked_expiring", len(res.MarkedExpiring)),
			slog.Int("removed", len(res.Removed)),
			slog.Int("records_pruned", res.RecordsPruned))
	}
	return res
}

// Tick advances the simulation and animations to the clock's current time
// and publishes the resulting frame.
func (c *Channel) Tick(ctx context.Context) (Frame, error) {
	var f Frame
	err := c.do(ctx, func() { f = c.frame() })
	return f, err
}

func (c *Channel) frame() Frame {
	now := c.clock.Now()
	ms := now.UnixMilli()
	dt := max(0, min(now.Sub(c.lastStep).Seconds(), maxStep))
	c.lastStep = now

	updates := c.sim.Step(dt)
	trans, gone := c.anim.Advance(ms)
	c.pending = append(c.pending, trans...)
	if len(gone) > 0 {
		snap := c.Snapshot()
		gone = lo.Filter(gone, func(name string, _ int) bool {
			e, ok := snap.Entity(name)
			return ok && e.Expiring
		})
		c.remove(gone)
	}
	c.drops = lo.Reject(c.drops, func(d physics.Drop, _ int) bool { return d.Done(ms) })

	snap := c.Snapshot()
	primary, secondary := snap.Totals()
	f := Frame{
		Channel:     c.name,
		Timestamp:   ms,
		Settings:    c.settings,
		Entities:    buildEntityViews(snap, c.anim.States(), c.settings.SizeMultiplier()),
		Bodies:      c.sim.Bodies(),
		Updates:     updates,
		Drops:       buildDropViews(c.drops, ms, c.settings.Field),
		Transitions: c.pending,
		Totals:      Totals{Primary: primary, Secondary: secondary},
	}
	if c.settings.ShowUsers {
		f.Leaders = combo.Leaderboard(snap.Aggregate, LeaderboardSize)
	}
	c.pending = nil
	c.last.Store(&f)
	telemetry.SetBodies(c.name, len(f.Bodies))
	if c.frames != nil {
		c.frames.Broadcast(notify.Message{Type: notify.TypeFrame, Channel: c.name, Timestamp: ms, Data: f})
	}
	return f
}

// Flush waits until the current state is written to the store.
func (c *Channel) Flush(ctx context.Context) error {
	if !c.started.Load() {
		return ErrChannelClosed
	}
	return c.persist.Flush(ctx)
}
