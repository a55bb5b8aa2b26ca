// Package takes sequences a multi-take recording: one take per prompt, in
// order, with redo of any take.
package takes

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/charmbracelet/log"

	"github.com/dgnsrekt/voicebooth/internal/media"
	"github.com/dgnsrekt/voicebooth/internal/recorder"
	"github.com/dgnsrekt/voicebooth/internal/session"
)

const component = "takes"

// ErrNoPrompts is returned when a sequencer is created without prompts.
var ErrNoPrompts = errors.New("at least one prompt is required")

// Status is the state of a single take.
type Status int

const (
	// StatusPending means the take has not been captured.
	StatusPending Status = iota
	// StatusRecording means the take is being captured.
	StatusRecording
	// StatusCaptured means the take holds a recording.
	StatusCaptured
)

func (s Status) String() string {
	switch s {
	case StatusPending:
		return "pending"
	case StatusRecording:
		return "recording"
	case StatusCaptured:
		return "captured"
	default:
		return "unknown"
	}
}

// Take is one prompt and its recording. Clip is zero unless the take is
// captured.
type Take struct {
	Index  int
	Prompt string
	Status Status
	Clip   media.Clip
}

// ClipID returns the identifier used to audition the take.
func (t Take) ClipID() string {
	return ClipID(t.Index)
}

// ClipID returns the clip identifier of the take at index.
func ClipID(index int) string {
	return fmt.Sprintf("clip_%d", index)
}

// Recorder is the capture side the sequencer drives.
type Recorder interface {
	Start(ctx context.Context, takeIndex int) (*recorder.Session, error)
	Stop(ctx context.Context, sess *recorder.Session) (media.Clip, error)
	State() session.State
}

// Sequencer owns the take list.
type Sequencer struct {
	rec   Recorder
	store media.Store

	mu     sync.Mutex
	takes  []Take
	cursor int
	busy   bool
	live   *recorder.Session
}

// New creates a sequencer with one pending take per prompt.
func New(rec Recorder, store media.Store, prompts []string) (*Sequencer, error) {
	if len(prompts) == 0 {
		return nil, ErrNoPrompts
	}
	takes := make([]Take, len(prompts))
	for i, p := range prompts {
		takes[i] = Take{Index: i, Prompt: p}
	}
	return &Sequencer{rec: rec, store: store, takes: takes}, nil
}

// BeginCurrent starts capturing the take under the cursor.
func (s *Sequencer) BeginCurrent(ctx context.Context) (Take, error) {
	s.mu.Lock()
	if s.busy || s.live != nil {
		s.mu.Unlock()
		return Take{}, session.NewError(session.ErrAlreadyRecording, component, "begin")
	}
	idx := s.cursor
	if s.takes[idx].Status != StatusPending {
		status := s.takes[idx].Status
		s.mu.Unlock()
		return Take{}, session.NewError(
			fmt.Errorf("%w: take %d is %s", session.ErrInvalidState, idx, status),
			component, "begin")
	}
	s.busy = true
	s.mu.Unlock()

	sess, err := s.rec.Start(ctx, idx)

	s.mu.Lock()
	defer s.mu.Unlock()
	s.busy = false
	if err != nil {
		return Take{}, err
	}
	s.live = sess
	s.takes[idx].Status = StatusRecording

	log.Debug("Take recording", "take", idx)
	return s.takes[idx], nil
}

// EndCurrent stops the live capture. On success the take is captured and
// the cursor advances; on failure the take goes back to pending.
func (s *Sequencer) EndCurrent(ctx context.Context) (Take, error) {
	s.mu.Lock()
	if s.busy || s.live == nil {
		s.mu.Unlock()
		return Take{}, session.NewError(session.ErrNotRecording, component, "end")
	}
	sess := s.live
	idx := sess.TakeIndex
	if s.takes[idx].Status != StatusRecording {
		s.mu.Unlock()
		return Take{}, session.NewError(session.ErrNotRecording, component, "end")
	}
	s.busy = true
	s.mu.Unlock()

	clip, err := s.rec.Stop(ctx, sess)

	s.mu.Lock()
	defer s.mu.Unlock()
	s.busy = false
	s.live = nil
	if err != nil {
		s.takes[idx].Status = StatusPending
		log.Debug("Take reverted to pending", "take", idx, "error", err)
		return Take{}, err
	}

	clip.ID = ClipID(idx)
	s.takes[idx].Status = StatusCaptured
	s.takes[idx].Clip = clip
	s.cursor = s.nextCursor(idx)

	log.Debug("Take captured", "take", idx, "duration", clip.Duration, "cursor", s.cursor)
	return s.takes[idx], nil
}

// nextCursor returns the first uncaptured take after idx, wrapping to the
// start. When every take is captured it stays within bounds.
// Must be called with lock held.
func (s *Sequencer) nextCursor(idx int) int {
	n := len(s.takes)
	for i := 1; i < n; i++ {
		j := (idx + i) % n
		if s.takes[j].Status != StatusCaptured {
			return j
		}
	}
	return min(idx+1, n-1)
}

// Redo resets take i to pending, discards its recording and moves the
// cursor to it. It is rejected while any capture is in progress.
func (s *Sequencer) Redo(i int) error {
	s.mu.Lock()
	if i < 0 || i >= len(s.takes) {
		s.mu.Unlock()
		return session.NewError(
			fmt.Errorf("%w: %d", session.ErrIndexOutOfRange, i), component, "redo")
	}
	if s.busy || s.live != nil || s.rec.State() != session.StateIdle {
		s.mu.Unlock()
		return session.NewError(session.ErrAlreadyRecording, component, "redo")
	}

	old := s.takes[i].Clip.Media
	s.takes[i].Status = StatusPending
	s.takes[i].Clip = media.Clip{}
	s.cursor = i
	s.mu.Unlock()

	if !old.IsZero() {
		if err := s.store.Delete(old); err != nil {
			log.Warn("Failed to discard redone take", "take", i, "error", err)
		}
	}
	log.Debug("Take reset for redo", "take", i)
	return nil
}

// AllCaptured reports whether every take is captured.
func (s *Sequencer) AllCaptured() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, t := range s.takes {
		if t.Status != StatusCaptured {
			return false
		}
	}
	return true
}

// Takes returns a snapshot of the take list.
func (s *Sequencer) Takes() []Take {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]Take, len(s.takes))
	copy(out, s.takes)
	return out
}

// Cursor returns the index of the take the next BeginCurrent targets.
func (s *Sequencer) Cursor() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.cursor
}

// Current returns the take under the cursor.
func (s *Sequencer) Current() Take {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.takes[s.cursor]
}

// Recording reports whether a take is being captured or a begin/end is in
// flight.
func (s *Sequencer) Recording() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.busy || s.live != nil
}

// Lookup returns the clip of a captured take by its clip ID.
func (s *Sequencer) Lookup(clipID string) (media.Clip, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, t := range s.takes {
		if t.Status == StatusCaptured && t.ClipID() == clipID {
			return t.Clip, true
		}
	}
	return media.Clip{}, false
}

// CapturedClipIDs returns the clip IDs of captured takes in prompt order.
func (s *Sequencer) CapturedClipIDs() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	var ids []string
	for _, t := range s.takes {
		if t.Status == StatusCaptured {
			ids = append(ids, t.ClipID())
		}
	}
	return ids
}

// Discard drops every recording and resets all takes. The recorder must
// already be stopped or aborted.
func (s *Sequencer) Discard() {
	s.mu.Lock()
	var handles []media.Handle
	for i := range s.takes {
		if h := s.takes[i].Clip.Media; !h.IsZero() {
			handles = append(handles, h)
		}
		s.takes[i].Status = StatusPending
		s.takes[i].Clip = media.Clip{}
	}
	s.cursor = 0
	s.live = nil
	s.mu.Unlock()

	for _, h := range handles {
		_ = s.store.Delete(h)
	}
	log.Debug("Takes discarded", "count", len(handles))
}
