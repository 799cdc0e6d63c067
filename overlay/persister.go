package overlay

import (
	"context"
	"log/slog"
	"time"

	"github.com/onnwee/combo-overlay/backend/combo"
	"github.com/onnwee/combo-overlay/backend/persist"
	"github.com/onnwee/combo-overlay/backend/telemetry"
)

const persistTimeout = 5 * time.Second

// persister writes the latest snapshot of a channel in the background.
// Requests made while a write is in flight coalesce into one follow-up write
// of whatever state is current by then. An empty snapshot deletes the key.
type persister struct {
	store persist.Store
	key   string
	load  func() combo.Snapshot
	log   *slog.Logger

	kick  chan struct{}
	flush chan chan struct{}
	stop  chan struct{}
	done  chan struct{}
}

func newPersister(store persist.Store, key string, load func() combo.Snapshot, log *slog.Logger) *persister {
	return &persister{
		store: store,
		key:   key,
		load:  load,
		log:   log,
		kick:  make(chan struct{}, 1),
		flush: make(chan chan struct{}),
		stop:  make(chan struct{}),
		done:  make(chan struct{}),
	}
}

func (p *persister) schedule() {
	select {
	case p.kick <- struct{}{}:
	default:
	}
}

func (p *persister) run() {
	defer close(p.done)
	for {
		select {
		case <-p.kick:
			p.write()
		case ack := <-p.flush:
			p.drain()
			p.write()
			close(ack)
		case <-p.stop:
			if p.drain() {
				p.write()
			}
			return
		}
	}
}

func (p *persister) drain() bool {
	select {
	case <-p.kick:
		return true
	default:
		return false
	}
}

// Flush writes the current state and waits for the write to finish.
func (p *persister) Flush(ctx context.Context) error {
	ack := make(chan struct{})
	select {
	case p.flush <- ack:
	case <-p.done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
	select {
	case <-ack:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (p *persister) close() {
	close(p.stop)
	<-p.done
}

func (p *persister) write() {
	snap := p.load()
	ctx, cancel := context.WithTimeout(context.Background(), persistTimeout)
	defer cancel()
	ctx, span := telemetry.StartSpan(ctx, "overlay", "persist", telemetry.ChannelAttr(p.key))
	defer span.End()
	var err error
	telemetry.TimeFunc(telemetry.PersistDuration, func() {
		if snap.IsEmpty() {
			err = p.store.Delete(ctx, p.key)
			return
		}
		var b []byte
		if b, err = combo.Encode(snap); err != nil {
			return
		}
		err = p.store.Save(ctx, p.key, b)
	})
	if err != nil {
		telemetry.RecordError(span, err)
		telemetry.AddCounter(telemetry.PersistFailures, 1)
		p.log.Warn("persist overlay state failed", slog.String("key", p.key), slog.Any("err", err))
	}
}
