package audit

import (
	"context"
	"sync"
	"sync/atomic"
	"time"
)

// Config controls dispatcher buffering behavior.
type Config struct {
	Enabled    bool
	BufferSize int
	DropIfFull bool
}

// Stats counts what happened to emitted events.
type Stats struct {
	Delivered uint64
	Dropped   uint64
}

// Dispatcher relays events to a Sink from a single goroutine, so sinks see
// events in emission order. A nil Dispatcher accepts every call and does
// nothing.
type Dispatcher struct {
	sink       Sink
	dropIfFull bool
	now        func() time.Time

	queue chan Event
	stop  chan struct{}
	idle  sync.WaitGroup

	stopped   atomic.Bool
	stopOnce  sync.Once
	delivered atomic.Uint64
	dropped   atomic.Uint64
}

// NewDispatcher starts the delivery goroutine. It returns nil when cfg is
// disabled.
func NewDispatcher(cfg Config, sink Sink) *Dispatcher {
	if !cfg.Enabled {
		return nil
	}
	if sink == nil {
		sink = NoOpSink{}
	}

	d := &Dispatcher{
		sink:       sink,
		dropIfFull: cfg.DropIfFull,
		now:        func() time.Time { return time.Now().UTC() },
		queue:      make(chan Event, max(cfg.BufferSize, 1)),
		stop:       make(chan struct{}),
	}
	d.idle.Add(1)
	go d.loop()
	return d
}

func (d *Dispatcher) loop() {
	defer d.idle.Done()
	for {
		select {
		case ev := <-d.queue:
			d.deliver(ev)
		case <-d.stop:
			for {
				select {
				case ev := <-d.queue:
					d.deliver(ev)
				default:
					return
				}
			}
		}
	}
}

func (d *Dispatcher) deliver(ev Event) {
	d.sink.Emit(context.Background(), ev)
	d.delivered.Add(1)
}

// Emit queues ev, stamping it when Timestamp is zero. With DropIfFull a full
// buffer drops the event and counts it; otherwise Emit waits for room until
// ctx is done or the dispatcher closes.
func (d *Dispatcher) Emit(ctx context.Context, ev Event) {
	if d == nil || d.stopped.Load() {
		return
	}
	if ev.Timestamp.IsZero() {
		ev.Timestamp = d.now()
	}
	if ctx == nil {
		ctx = context.Background()
	}

	if d.dropIfFull {
		select {
		case d.queue <- ev:
		case <-d.stop:
		default:
			d.dropped.Add(1)
		}
		return
	}

	select {
	case d.queue <- ev:
	case <-ctx.Done():
		d.dropped.Add(1)
	case <-d.stop:
	}
}

// Close stops accepting events, delivers what is queued and waits for the
// delivery goroutine.
func (d *Dispatcher) Close() {
	if d == nil {
		return
	}
	d.stopOnce.Do(func() {
		d.stopped.Store(true)
		close(d.stop)
		d.idle.Wait()
	})
}

// Dropped is the number of events lost to a full buffer or an expired
// context.
func (d *Dispatcher) Dropped() uint64 {
	return d.Stats().Dropped
}

func (d *Dispatcher) Stats() Stats {
	if d == nil {
		return Stats{}
	}
	return Stats{Delivered: d.delivered.Load(), Dropped: d.dropped.Load()}
}
