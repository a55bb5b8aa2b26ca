package device

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/charmbracelet/log"

	"github.com/dgnsrekt/voicebooth/internal/notify"
)

// DefaultSettleDelay is how long the device needs after switching from record
// to playback routing before output is glitch free on some hardware.
const DefaultSettleDelay = 60 * time.Millisecond

// Router switches the physical routing of the audio device.
type Router interface {
	Route(ctx context.Context, mode Mode) error
}

// Handle is the exclusive right to operate the device. Handles are only
// meaningful by identity; a released handle never becomes valid again.
type Handle struct {
	id         uint64
	owner      string
	acquiredAt time.Time

	session *Session
}

// ID returns the handle identifier.
func (h *Handle) ID() uint64 {
	return h.id
}

// Owner returns the name of the component that acquired the handle.
func (h *Handle) Owner() string {
	return h.owner
}

// Held reports whether the handle still holds the device.
func (h *Handle) Held() bool {
	if h == nil || h.session == nil {
		return false
	}
	h.session.mu.Lock()
	defer h.session.mu.Unlock()
	return h.session.holder == h
}

// Session guards the single audio device.
type Session struct {
	router   Router
	settle   time.Duration
	sleep    func(time.Duration)
	notifier notify.Sink

	mu     sync.Mutex
	holder *Handle
	mode   Mode
	route  Mode
	nextID uint64

	acquisitions int
	settles      int
}

// Option configures a Session.
type Option func(*Session)

// WithSettleDelay overrides DefaultSettleDelay for every switch made by the session.
func WithSettleDelay(d time.Duration) Option {
	return func(s *Session) {
		if d >= 0 {
			s.settle = d
		}
	}
}

// WithNotifier publishes route changes to n.
func WithNotifier(n notify.Sink) Option {
	return func(s *Session) {
		if n != nil {
			s.notifier = n
		}
	}
}

// NewSession creates a device session on top of router.
func NewSession(router Router, opts ...Option) *Session {
	s := &Session{
		router:   router,
		settle:   DefaultSettleDelay,
		sleep:    time.Sleep,
		notifier: notify.Discard,
		mode:     ModeIdle,
		route:    ModeIdle,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// AcquireForRecording binds the device for capture.
func (s *Session) AcquireForRecording(ctx context.Context, owner string) (*Handle, error) {
	return s.acquire(ctx, owner, ModeRecordReady)
}

// AcquireForPlayback binds the device for playback. If the device was last
// routed for recording, the settle delay elapses before the handle is returned.
func (s *Session) AcquireForPlayback(ctx context.Context, owner string) (*Handle, error) {
	return s.acquire(ctx, owner, ModePlaybackReady)
}

func (s *Session) acquire(ctx context.Context, owner string, mode Mode) (*Handle, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	s.mu.Lock()
	if s.holder != nil {
		holder := s.holder.owner
		s.mu.Unlock()
		return nil, fmt.Errorf("%w: held by %s", ErrDeviceBusy, holder)
	}
	s.nextID++
	h := &Handle{
		id:         s.nextID,
		owner:      owner,
		acquiredAt: time.Now(),
		session:    s,
	}
	// Reserve before routing so a concurrent acquire sees the device as busy.
	s.holder = h
	s.mode = mode
	s.acquisitions++
	s.mu.Unlock()

	if err := s.switchRoute(ctx, h, mode); err != nil {
		s.Release(h)
		return nil, err
	}

	log.Debug("Audio device acquired", "owner", owner, "mode", mode, "handle", h.id)
	return h, nil
}

// Reroute switches the routing of a held handle, e.g. a recorder returning
// the device to playback routing before it releases it.
func (s *Session) Reroute(ctx context.Context, h *Handle, mode Mode) error {
	s.mu.Lock()
	if h == nil || s.holder != h {
		s.mu.Unlock()
		return ErrStaleHandle
	}
	s.mu.Unlock()

	return s.switchRoute(ctx, h, mode)
}

func (s *Session) switchRoute(ctx context.Context, h *Handle, mode Mode) error {
	if mode != ModeRecordReady && mode != ModePlaybackReady {
		return fmt.Errorf("%w: %v", ErrInvalidMode, mode)
	}

	s.mu.Lock()
	prev := s.route
	s.mu.Unlock()

	// Routing is always reapplied; backends may have been moved by other apps.
	if err := s.router.Route(ctx, mode); err != nil {
		return fmt.Errorf("%w to %s: %v", ErrRouteFailed, mode, err)
	}

	settle := prev == ModeRecordReady && mode == ModePlaybackReady && s.settle > 0
	if settle {
		s.sleep(s.settle)
	}

	s.mu.Lock()
	s.route = mode
	if s.holder == h {
		s.mode = mode
	}
	if settle {
		s.settles++
	}
	s.mu.Unlock()

	if prev != mode {
		log.Debug("Audio device rerouted", "from", prev, "to", mode, "settled", settle)
		s.notifier.Publish(notify.Event{Kind: notify.KindRouteChanged, Detail: mode.String()})
	}
	return nil
}

// Release gives up h. Releasing a nil, stale or already released handle is a no-op.
func (s *Session) Release(h *Handle) {
	if h == nil {
		return
	}

	s.mu.Lock()
	if s.holder != h {
		s.mu.Unlock()
		return
	}
	s.holder = nil
	s.mode = ModeIdle
	held := time.Since(h.acquiredAt)
	s.mu.Unlock()

	log.Debug("Audio device released", "owner", h.owner, "handle", h.id, "held", held)
}

// Reset forcibly releases any outstanding handle. It reports whether a
// handle was released.
func (s *Session) Reset() bool {
	s.mu.Lock()
	h := s.holder
	s.mu.Unlock()

	if h == nil {
		return false
	}
	log.Debug("Resetting audio device", "owner", h.owner)
	s.Release(h)
	return true
}

// Mode returns the mode of the current holder, or ModeIdle when unbound.
func (s *Session) Mode() Mode {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.mode
}

// Route returns the last physical routing applied to the device.
func (s *Session) Route() Mode {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.route
}

// Holder returns the owner of the outstanding handle, or "" when unbound.
func (s *Session) Holder() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.holder == nil {
		return ""
	}
	return s.holder.owner
}

// SettleDelay returns the configured settle delay.
func (s *Session) SettleDelay() time.Duration {
	return s.settle
}

// Stats holds device usage counters.
type Stats struct {
	Acquisitions int
	Settles      int
	Holder       string
	Mode         Mode
	Route        Mode
}

// Stats returns a snapshot of the device counters.
func (s *Session) Stats() Stats {
	s.mu.Lock()
	defer s.mu.Unlock()

	st := Stats{
		Acquisitions: s.acquisitions,
		Settles:      s.settles,
		Mode:         s.mode,
		Route:        s.route,
	}
	if s.holder != nil {
		st.Holder = s.holder.owner
	}
	return st
}
