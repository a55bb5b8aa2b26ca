// Package recorder captures one take at a time through the device session.
package recorder

import (
	"context"
	"errors"
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

// DefaultTickInterval is how often elapsed time is published while recording.
const DefaultTickInterval = 200 * time.Millisecond

const component = "recorder"

var (
	ErrPermissionDenied = session.ErrPermissionDenied
	ErrAlreadyRecording = session.ErrAlreadyRecording
	ErrNotRecording     = session.ErrNotRecording
	ErrEncodeFailure    = session.ErrEncodeFailure

	// ErrAborted is returned by a Start that was cancelled by Abort.
	ErrAborted = errors.New("recording start aborted")
)

// Session is one live capture.
type Session struct {
	ID        string
	TakeIndex int
	StartedAt time.Time
}

// Elapsed returns the wall-clock time since the capture started.
func (s *Session) Elapsed() time.Duration {
	return time.Since(s.StartedAt)
}

// Recorder owns at most one live recording session.
type Recorder struct {
	device   *device.Session
	capture  audio.Capture
	store    media.Store
	gate     *PermissionGate
	notifier notify.Sink
	tick     time.Duration

	mu      sync.Mutex
	machine *session.Machine
	gen     uint64
	live    *Session
	handle  *device.Handle
	stream  audio.CaptureStream
	ticker  *ticker
}

// Option configures a Recorder.
type Option func(*Recorder)

// WithTickInterval sets how often elapsed ticks are published.
func WithTickInterval(d time.Duration) Option {
	return func(r *Recorder) {
		if d > 0 {
			r.tick = d
		}
	}
}

// WithNotifier publishes recording events to n.
func WithNotifier(n notify.Sink) Option {
	return func(r *Recorder) {
		if n != nil {
			r.notifier = n
		}
	}
}

// WithPermissionGate replaces the default gate, which probes capture for an
// input device.
func WithPermissionGate(g *PermissionGate) Option {
	return func(r *Recorder) {
		if g != nil {
			r.gate = g
		}
	}
}

// New creates a recorder that captures through dev and stores takes in store.
func New(dev *device.Session, capture audio.Capture, store media.Store, opts ...Option) *Recorder {
	r := &Recorder{
		device:   dev,
		capture:  capture,
		store:    store,
		gate:     NewPermissionGate(DevicePermission{Capture: capture}),
		notifier: notify.Discard,
		tick:     DefaultTickInterval,
		machine:  session.NewMachine(session.RecorderTransitions),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Start begins capturing the take at takeIndex. It is rejected while another
// capture is live or a start or stop is still in flight.
func (r *Recorder) Start(ctx context.Context, takeIndex int) (*Session, error) {
	r.mu.Lock()
	if err := r.machine.Transition(session.StateStarting); err != nil {
		state := r.machine.Current()
		r.mu.Unlock()
		return nil, session.NewError(ErrAlreadyRecording, component, "start").
			WithContext("state", state.String())
	}
	r.gen++
	gen := r.gen
	r.mu.Unlock()

	sess, err := r.start(ctx, gen, takeIndex)
	if err != nil {
		r.mu.Lock()
		if r.machine.Current() == session.StateStarting {
			_ = r.machine.Transition(session.StateIdle)
		}
		r.mu.Unlock()

		log.Debug("Recording failed to start", "take", takeIndex, "error", err)
		return nil, session.NewError(err, component, "start").WithContext("take", takeIndex)
	}
	return sess, nil
}

func (r *Recorder) start(ctx context.Context, gen uint64, takeIndex int) (*Session, error) {
	granted, err := r.gate.Check(ctx)
	if err != nil {
		return nil, fmt.Errorf("request capture permission: %w", err)
	}
	if !granted {
		return nil, ErrPermissionDenied
	}
	if r.superseded(gen) {
		return nil, ErrAborted
	}

	h, err := r.device.AcquireForRecording(ctx, component)
	if err != nil {
		return nil, err
	}

	stream, err := r.capture.Open(ctx)
	if err != nil {
		r.device.Release(h)
		return nil, fmt.Errorf("%w: open capture: %v", ErrEncodeFailure, err)
	}
	if err := stream.Start(); err != nil {
		_, _ = stream.Stop()
		r.device.Release(h)
		return nil, fmt.Errorf("%w: start capture: %v", ErrEncodeFailure, err)
	}

	sess := &Session{
		ID:        session.NewID(),
		TakeIndex: takeIndex,
		StartedAt: time.Now(),
	}

	r.mu.Lock()
	if r.gen != gen || r.machine.Current() != session.StateStarting {
		r.mu.Unlock()
		_, _ = stream.Stop()
		r.device.Release(h)
		return nil, ErrAborted
	}
	_ = r.machine.Transition(session.StateActive)
	r.live = sess
	r.handle = h
	r.stream = stream
	r.ticker = startTicker(r.tick, sess, r.notifier)
	r.mu.Unlock()

	log.Debug("Recording started", "session", sess.ID, "take", takeIndex)
	r.notifier.Publish(notify.Event{
		Kind:      notify.KindRecordingStarted,
		SessionID: sess.ID,
		TakeIndex: takeIndex,
		At:        sess.StartedAt,
	})
	return sess, nil
}

// Stop ends the live capture and stores it. Whatever the outcome, the device
// is routed back for playback once and released.
func (r *Recorder) Stop(ctx context.Context, sess *Session) (media.Clip, error) {
	r.mu.Lock()
	if sess == nil || r.live != sess || r.machine.Current() != session.StateActive {
		r.mu.Unlock()
		return media.Clip{}, session.NewError(ErrNotRecording, component, "stop")
	}
	_ = r.machine.Transition(session.StateStopping)
	h, stream, tk := r.handle, r.stream, r.ticker
	r.mu.Unlock()

	tk.stop()
	pcm, err := stream.Stop()
	clip, err := r.finalize(sess, pcm, err)
	r.returnDevice(ctx, h)

	r.mu.Lock()
	r.clear()
	r.mu.Unlock()

	ev := notify.Event{
		Kind:      notify.KindRecordingStopped,
		SessionID: sess.ID,
		ClipID:    clip.ID,
		TakeIndex: sess.TakeIndex,
		Elapsed:   clip.Duration,
		At:        time.Now(),
	}
	if err != nil {
		ev.Detail = err.Error()
		r.notifier.Publish(ev)
		log.Debug("Recording failed to finalize", "session", sess.ID, "error", err)
		return media.Clip{}, session.NewError(err, component, "stop").WithContext("take", sess.TakeIndex)
	}
	r.notifier.Publish(ev)
	log.Debug("Recording stopped", "session", sess.ID, "take", sess.TakeIndex, "duration", clip.Duration)
	return clip, nil
}

func (r *Recorder) finalize(sess *Session, pcm []byte, stopErr error) (media.Clip, error) {
	if stopErr != nil {
		return media.Clip{}, fmt.Errorf("%w: stop capture: %v", ErrEncodeFailure, stopErr)
	}
	if err := audio.ValidatePCM(pcm); err != nil {
		return media.Clip{}, fmt.Errorf("%w: %v", ErrEncodeFailure, err)
	}
	h, err := r.store.Put(pcm)
	if err != nil {
		return media.Clip{}, fmt.Errorf("%w: %v", ErrEncodeFailure, err)
	}
	return media.Clip{
		ID:       sess.ID,
		Media:    h,
		Duration: audio.Duration(pcm),
	}, nil
}

// returnDevice routes back to playback and releases h. The reroute must run
// even when ctx is already cancelled.
func (r *Recorder) returnDevice(ctx context.Context, h *device.Handle) {
	if err := r.device.Reroute(context.WithoutCancel(ctx), h, device.ModePlaybackReady); err != nil {
		log.Warn("Failed to route device back to playback", "error", err)
	}
	r.device.Release(h)
}

// Abort discards a live capture or cancels a start in flight. It is safe to
// call at any time.
func (r *Recorder) Abort(ctx context.Context) {
	r.mu.Lock()
	switch r.machine.Current() {
	case session.StateStarting:
		// The in-flight start notices the new generation and unwinds.
		r.gen++
		r.mu.Unlock()
		log.Debug("Recording start aborted")
		return
	case session.StateActive:
	default:
		r.mu.Unlock()
		return
	}

	_ = r.machine.Transition(session.StateStopping)
	sess, h, stream, tk := r.live, r.handle, r.stream, r.ticker
	r.mu.Unlock()

	tk.stop()
	if _, err := stream.Stop(); err != nil {
		log.Debug("Discarded capture failed to stop cleanly", "error", err)
	}
	r.returnDevice(ctx, h)

	r.mu.Lock()
	r.clear()
	r.mu.Unlock()

	log.Debug("Recording aborted", "session", sess.ID)
	r.notifier.Publish(notify.Event{
		Kind:      notify.KindRecordingStopped,
		SessionID: sess.ID,
		TakeIndex: sess.TakeIndex,
		Detail:    "aborted",
		At:        time.Now(),
	})
}

// State returns the recorder state.
func (r *Recorder) State() session.State {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.machine.Current()
}

// Live returns the live session, or nil.
func (r *Recorder) Live() *Session {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.live
}

// Permission returns the recorder's permission gate.
func (r *Recorder) Permission() *PermissionGate {
	return r.gate
}

func (r *Recorder) superseded(gen uint64) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.gen != gen
}

// clear must be called with lock held.
func (r *Recorder) clear() {
	r.live = nil
	r.handle = nil
	r.stream = nil
	r.ticker = nil
	_ = r.machine.Transition(session.StateIdle)
}

// ticker publishes elapsed time for one session.
type ticker struct {
	done chan struct{}
	quit chan struct{}
	once sync.Once
}

func startTicker(every time.Duration, sess *Session, sink notify.Sink) *ticker {
	tk := &ticker{
		done: make(chan struct{}),
		quit: make(chan struct{}),
	}
	go func() {
		defer close(tk.done)
		t := time.NewTicker(every)
		defer t.Stop()
		for {
			select {
			case <-tk.quit:
				return
			case now := <-t.C:
				sink.Publish(notify.Event{
					Kind:      notify.KindElapsed,
					SessionID: sess.ID,
					TakeIndex: sess.TakeIndex,
					Elapsed:   now.Sub(sess.StartedAt),
					At:        now,
				})
			}
		}
	}()
	return tk
}

func (tk *ticker) stop() {
	if tk == nil {
		return
	}
	tk.once.Do(func() { close(tk.quit) })
	<-tk.done
}
