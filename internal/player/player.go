// Package player plays one clip at a time through the device session.
//
// A new Play supersedes whatever is live or still starting. Each accepted
// play returns a Session whose Done channel closes exactly once, when the
// stream completes, is stopped or is superseded.
package player

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/charmbracelet/log"

	"github.com/dgnsrekt/voicebooth/internal/audio"
	"github.com/dgnsrekt/voicebooth/internal/device"
	"github.com/dgnsrekt/voicebooth/internal/media"
	"github.com/dgnsrekt/voicebooth/internal/notify"
	"github.com/dgnsrekt/voicebooth/internal/session"
)

const component = "player"

var (
	ErrPlaybackFailure = session.ErrPlaybackFailure
	ErrSuperseded      = session.ErrSuperseded
)

// EndReason records why a session ended.
type EndReason int

const (
	// EndNone means the session is still live.
	EndNone EndReason = iota
	// EndCompleted means the stream played to the end.
	EndCompleted
	// EndStopped means the session was stopped explicitly.
	EndStopped
	// EndSuperseded means a newer play replaced the session.
	EndSuperseded
)

func (r EndReason) String() string {
	switch r {
	case EndNone:
		return "live"
	case EndCompleted:
		return "completed"
	case EndStopped:
		return "stopped"
	case EndSuperseded:
		return "superseded"
	default:
		return "unknown"
	}
}

// Session is one accepted play request.
type Session struct {
	ID        string
	ClipID    string
	StartedAt time.Time
	Duration  time.Duration

	done   chan struct{}
	stream audio.Stream
	handle *device.Handle

	mu     sync.Mutex
	paused bool
	reason EndReason
}

// Done is closed once the session ends for any reason.
func (s *Session) Done() <-chan struct{} {
	return s.done
}

// Reason returns why the session ended, or EndNone while it is live.
func (s *Session) Reason() EndReason {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.reason
}

// Paused reports whether the session is paused.
func (s *Session) Paused() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.paused
}

// Player owns at most one live playback session.
type Player struct {
	device   *device.Session
	output   audio.Output
	store    media.Store
	notifier notify.Sink

	// opMu serializes device acquisition and stream creation.
	opMu sync.Mutex

	mu      sync.Mutex
	machine *session.Machine
	gen     uint64
	current *Session
}

// Option configures a Player.
type Option func(*Player)

// WithNotifier publishes playback events to n.
func WithNotifier(n notify.Sink) Option {
	return func(p *Player) {
		if n != nil {
			p.notifier = n
		}
	}
}

// New creates a player that loads clips from store and plays them on output.
func New(dev *device.Session, output audio.Output, store media.Store, opts ...Option) *Player {
	p := &Player{
		device:   dev,
		output:   output,
		store:    store,
		notifier: notify.Discard,
		machine:  session.NewMachine(session.PlayerTransitions),
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Play stops whatever is live and starts clip. A Play that is itself
// superseded before its stream starts returns ErrSuperseded.
func (p *Player) Play(ctx context.Context, clip media.Clip) (*Session, error) {
	// A cancelled caller must not supersede the live session.
	if err := ctx.Err(); err != nil {
		return nil, session.NewError(err, component, "play").WithContext("clip", clip.ID)
	}

	p.mu.Lock()
	p.gen++
	gen := p.gen
	prev := p.current
	p.current = nil
	_ = p.machine.Transition(session.StateStarting)
	p.mu.Unlock()

	sess, err := p.start(ctx, gen, clip, prev)
	if err != nil {
		p.mu.Lock()
		if p.gen == gen {
			_ = p.machine.Transition(session.StateIdle)
		}
		p.mu.Unlock()

		log.Debug("Playback not started", "clip", clip.ID, "error", err)
		return nil, session.NewError(err, component, "play").WithContext("clip", clip.ID)
	}
	return sess, nil
}

func (p *Player) start(ctx context.Context, gen uint64, clip media.Clip, prev *Session) (*Session, error) {
	p.opMu.Lock()
	defer p.opMu.Unlock()

	// The previous session must have released the device before the next
	// acquisition.
	if prev != nil {
		p.finish(prev, EndSuperseded)
	}
	if p.superseded(gen) {
		return nil, ErrSuperseded
	}

	pcm, err := p.store.Get(clip.Media)
	if err != nil {
		return nil, fmt.Errorf("%w: load %s: %v", ErrPlaybackFailure, clip.ID, err)
	}

	h, err := p.device.AcquireForPlayback(ctx, component)
	if err != nil {
		return nil, err
	}
	if p.superseded(gen) {
		p.device.Release(h)
		return nil, ErrSuperseded
	}

	stream, err := p.output.NewStream(pcm)
	if err != nil {
		p.device.Release(h)
		return nil, fmt.Errorf("%w: %v", ErrPlaybackFailure, err)
	}

	sess := &Session{
		ID:        session.NewID(),
		ClipID:    clip.ID,
		StartedAt: time.Now(),
		Duration:  audio.Duration(pcm),
		done:      make(chan struct{}),
		stream:    stream,
		handle:    h,
	}

	p.mu.Lock()
	if p.gen != gen {
		p.mu.Unlock()
		_ = stream.Close()
		p.device.Release(h)
		return nil, ErrSuperseded
	}
	p.current = sess
	_ = p.machine.Transition(session.StateActive)
	p.mu.Unlock()

	stream.Play()
	go p.watch(sess)

	log.Debug("Playback started", "session", sess.ID, "clip", clip.ID, "duration", sess.Duration)
	p.notifier.Publish(notify.Event{
		Kind:      notify.KindPlaybackStarted,
		SessionID: sess.ID,
		ClipID:    clip.ID,
		At:        sess.StartedAt,
	})
	return sess, nil
}

func (p *Player) watch(sess *Session) {
	select {
	case <-sess.stream.Done():
		p.finish(sess, EndCompleted)
	case <-sess.done:
	}
}

// finish ends sess once. It reports whether this call ended it. Later
// callers wait until the first one has released the device.
func (p *Player) finish(sess *Session, reason EndReason) bool {
	sess.mu.Lock()
	if sess.reason != EndNone {
		sess.mu.Unlock()
		<-sess.done
		return false
	}
	sess.reason = reason
	sess.mu.Unlock()

	if err := sess.stream.Close(); err != nil {
		log.Debug("Failed to close stream", "session", sess.ID, "error", err)
	}
	p.device.Release(sess.handle)

	p.mu.Lock()
	if p.current == sess {
		p.current = nil
		_ = p.machine.Transition(session.StateIdle)
	}
	p.mu.Unlock()

	close(sess.done)

	kind := notify.KindPlaybackStopped
	if reason == EndCompleted {
		kind = notify.KindPlaybackCompleted
	}
	log.Debug("Playback ended", "session", sess.ID, "clip", sess.ClipID, "reason", reason)
	p.notifier.Publish(notify.Event{
		Kind:      kind,
		SessionID: sess.ID,
		ClipID:    sess.ClipID,
		Elapsed:   time.Since(sess.StartedAt),
		Detail:    reason.String(),
		At:        time.Now(),
	})
	return true
}

// Pause pauses sess. Pausing an ended or already paused session is a no-op.
func (p *Player) Pause(sess *Session) error {
	if sess == nil {
		return nil
	}

	sess.mu.Lock()
	if sess.reason != EndNone || sess.paused {
		sess.mu.Unlock()
		return nil
	}
	sess.paused = true
	sess.mu.Unlock()

	sess.stream.Pause()

	p.mu.Lock()
	if p.current == sess {
		_ = p.machine.Transition(session.StatePaused)
	}
	p.mu.Unlock()

	p.notifier.Publish(notify.Event{
		Kind:      notify.KindPlaybackPaused,
		SessionID: sess.ID,
		ClipID:    sess.ClipID,
		At:        time.Now(),
	})
	return nil
}

// Resume resumes a paused sess. Anything else is a no-op.
func (p *Player) Resume(sess *Session) error {
	if sess == nil {
		return nil
	}

	sess.mu.Lock()
	if sess.reason != EndNone || !sess.paused {
		sess.mu.Unlock()
		return nil
	}
	sess.paused = false
	sess.mu.Unlock()

	sess.stream.Play()

	p.mu.Lock()
	if p.current == sess {
		_ = p.machine.Transition(session.StateActive)
	}
	p.mu.Unlock()

	p.notifier.Publish(notify.Event{
		Kind:      notify.KindPlaybackResumed,
		SessionID: sess.ID,
		ClipID:    sess.ClipID,
		At:        time.Now(),
	})
	return nil
}

// Stop ends sess. Stopping an ended session is a no-op.
func (p *Player) Stop(sess *Session) error {
	if sess == nil {
		return nil
	}

	p.mu.Lock()
	if p.current == sess {
		_ = p.machine.Transition(session.StateStopping)
	}
	p.mu.Unlock()

	p.finish(sess, EndStopped)
	return nil
}

// StopAll stops the live session and cancels any play still starting.
func (p *Player) StopAll() {
	p.mu.Lock()
	p.gen++
	// current stays set until finish has released the device, so a
	// concurrent Play waits for it.
	sess := p.current
	if p.machine.Current() != session.StateIdle {
		_ = p.machine.Transition(session.StateIdle)
	}
	p.mu.Unlock()

	if sess != nil {
		p.finish(sess, EndStopped)
	}
}

// Current returns the live session, or nil.
func (p *Player) Current() *Session {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.current
}

// State returns the player state.
func (p *Player) State() session.State {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.machine.Current()
}

func (p *Player) superseded(gen uint64) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.gen != gen
}
