package telemetry

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/danielpatrickdp/adaptive-rehab/go-controller/internal/logging"
)

const emitTimeout = 2 * time.Second

// #region bus
// Bus buffers published events and fans them out to sinks from a single
// goroutine. Publish never blocks: when the buffer is full the event is dropped.
type Bus struct {
	ch    chan Event
	sinks []Sink
	log   *zap.Logger

	mu     sync.RWMutex
	closed bool

	published atomic.Uint64
	dropped   atomic.Uint64
	failed    atomic.Uint64
}

// BusStats counts bus traffic.
type BusStats struct {
	Published uint64 `json:"published"`
	Dropped   uint64 `json:"dropped"`
	Failed    uint64 `json:"failed"`
}

// NewBus creates a bus with the given buffer size.
func NewBus(buffer int, log *zap.Logger, sinks ...Sink) *Bus {
	if buffer < 1 {
		buffer = 1
	}
	return &Bus{
		ch:    make(chan Event, buffer),
		sinks: sinks,
		log:   logging.OrNop(log).With(zap.String("component", "telemetry_bus")),
	}
}

// Publish enqueues ev or drops it when the buffer is full or the bus is closed.
func (b *Bus) Publish(ev Event) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	if b.closed {
		b.dropped.Add(1)
		return
	}
	select {
	case b.ch <- ev:
		b.published.Add(1)
	default:
		b.dropped.Add(1)
	}
}

// Run delivers events until Close is called or ctx is done, then drains
// whatever is still buffered.
func (b *Bus) Run(ctx context.Context) error {
	for {
		select {
		case ev, ok := <-b.ch:
			if !ok {
				return nil
			}
			b.deliver(ev)
		case <-ctx.Done():
			b.drain()
			return nil
		}
	}
}

func (b *Bus) drain() {
	for {
		select {
		case ev, ok := <-b.ch:
			if !ok {
				return
			}
			b.deliver(ev)
		default:
			return
		}
	}
}

func (b *Bus) deliver(ev Event) {
	for _, s := range b.sinks {
		ctx, cancel := context.WithTimeout(context.Background(), emitTimeout)
		err := s.Emit(ctx, ev)
		cancel()
		if err != nil {
			b.failed.Add(1)
			b.log.Warn("telemetry sink failed",
				zap.String("event_type", string(ev.Type)),
				zap.String("session_id", ev.SessionID),
				zap.Error(err))
		}
	}
}

// Close stops accepting events. Run returns after delivering the backlog.
func (b *Bus) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return
	}
	b.closed = true
	close(b.ch)
}

// Stats returns traffic counters.
func (b *Bus) Stats() BusStats {
	return BusStats{
		Published: b.published.Load(),
		Dropped:   b.dropped.Load(),
		Failed:    b.failed.Load(),
	}
}

// #endregion bus
