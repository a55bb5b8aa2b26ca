// Package notify delivers one-way session notifications (elapsed ticks,
// recording and playback events) to UI collaborators. Delivery is best
// effort: slow subscribers lose events rather than stall the publisher.
package notify

import (
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/time/rate"
)

// Kind identifies the type of a notification.
type Kind int

const (
	// KindElapsed carries the elapsed time of a live recording.
	KindElapsed Kind = iota
	// KindRecordingStarted is published once a capture is live.
	KindRecordingStarted
	// KindRecordingStopped is published when a capture ends, successfully or not.
	KindRecordingStopped
	// KindPlaybackStarted is published when a stream starts playing.
	KindPlaybackStarted
	// KindPlaybackPaused is published when a stream is paused.
	KindPlaybackPaused
	// KindPlaybackResumed is published when a paused stream resumes.
	KindPlaybackResumed
	// KindPlaybackCompleted is published exactly once per naturally finished stream.
	KindPlaybackCompleted
	// KindPlaybackStopped is published when a stream is stopped or superseded.
	KindPlaybackStopped
	// KindRouteChanged is published when the device routing changes.
	KindRouteChanged
)

// String returns the string representation of the kind.
func (k Kind) String() string {
	switch k {
	case KindElapsed:
		return "elapsed"
	case KindRecordingStarted:
		return "recording_started"
	case KindRecordingStopped:
		return "recording_stopped"
	case KindPlaybackStarted:
		return "playback_started"
	case KindPlaybackPaused:
		return "playback_paused"
	case KindPlaybackResumed:
		return "playback_resumed"
	case KindPlaybackCompleted:
		return "playback_completed"
	case KindPlaybackStopped:
		return "playback_stopped"
	case KindRouteChanged:
		return "route_changed"
	default:
		return "unknown"
	}
}

// Event is a single notification.
type Event struct {
	Kind      Kind
	SessionID string
	ClipID    string
	TakeIndex int
	Elapsed   time.Duration
	Detail    string
	At        time.Time
}

// Sink receives events. Implementations must not block.
type Sink interface {
	Publish(ev Event)
}

// Discard is a Sink that drops every event.
var Discard Sink = discard{}

type discard struct{}

func (discard) Publish(Event) {}

// Bus fans events out to subscribers.
type Bus struct {
	mu       sync.RWMutex
	subs     map[int]chan Event
	nextID   int
	limiters map[Kind]*rate.Limiter
	closed   bool

	dropped   atomic.Int64
	published atomic.Int64
}

// NewBus creates an empty bus.
func NewBus() *Bus {
	return &Bus{
		subs:     make(map[int]chan Event),
		limiters: make(map[Kind]*rate.Limiter),
	}
}

// Limit caps how often events of the given kind are delivered. Events over
// the limit are dropped. A zero interval removes the limit.
func (b *Bus) Limit(kind Kind, every time.Duration) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if every <= 0 {
		delete(b.limiters, kind)
		return
	}
	b.limiters[kind] = rate.NewLimiter(rate.Every(every), 1)
}

// Subscribe registers a new subscriber with the given buffer size. The
// returned function unsubscribes and closes the channel.
func (b *Bus) Subscribe(buffer int) (<-chan Event, func()) {
	if buffer < 1 {
		buffer = 1
	}
	ch := make(chan Event, buffer)

	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		close(ch)
		return ch, func() {}
	}
	id := b.nextID
	b.nextID++
	b.subs[id] = ch
	b.mu.Unlock()

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			b.mu.Lock()
			defer b.mu.Unlock()
			if sub, ok := b.subs[id]; ok {
				delete(b.subs, id)
				close(sub)
			}
		})
	}
}

// Publish delivers ev to every subscriber without blocking.
func (b *Bus) Publish(ev Event) {
	if ev.At.IsZero() {
		ev.At = time.Now()
	}

	b.mu.RLock()
	defer b.mu.RUnlock()

	if b.closed {
		return
	}
	if lim, ok := b.limiters[ev.Kind]; ok && !lim.Allow() {
		b.dropped.Add(1)
		return
	}

	b.published.Add(1)
	for _, ch := range b.subs {
		select {
		case ch <- ev:
		default:
			b.dropped.Add(1)
		}
	}
}

// Dropped returns the number of events lost to rate limits or full buffers.
func (b *Bus) Dropped() int64 {
	return b.dropped.Load()
}

// Published returns the number of events accepted for delivery.
func (b *Bus) Published() int64 {
	return b.published.Load()
}

// Close closes every subscriber channel. Later publishes are ignored.
func (b *Bus) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return
	}
	b.closed = true
	for id, ch := range b.subs {
		delete(b.subs, id)
		close(ch)
	}
}
