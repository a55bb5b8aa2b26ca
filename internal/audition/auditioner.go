// Package audition toggles playback of captured takes and catalog clips,
// one clip at a time.
package audition

import (
	"context"
	"fmt"
	"sync"

	"github.com/charmbracelet/log"

	"github.com/dgnsrekt/voicebooth/internal/media"
	"github.com/dgnsrekt/voicebooth/internal/player"
	"github.com/dgnsrekt/voicebooth/internal/session"
)

const component = "audition"

// ErrClipNotFound is returned when no resolver knows a clip.
var ErrClipNotFound = session.ErrClipNotFound

// Resolver finds a clip by ID.
type Resolver interface {
	Lookup(clipID string) (media.Clip, bool)
}

// Chain tries each resolver in order.
type Chain []Resolver

// Lookup implements Resolver.
func (c Chain) Lookup(clipID string) (media.Clip, bool) {
	for _, r := range c {
		if r == nil {
			continue
		}
		if clip, ok := r.Lookup(clipID); ok {
			return clip, true
		}
	}
	return media.Clip{}, false
}

// Player is the playback side the auditioner drives.
type Player interface {
	Play(ctx context.Context, clip media.Clip) (*player.Session, error)
	Pause(sess *player.Session) error
	Resume(sess *player.Session) error
	Stop(sess *player.Session) error
}

// Auditioner tracks which clip is currently playing. A paused session keeps
// the device until it is resumed, replaced or stopped.
type Auditioner struct {
	player   Player
	resolver Resolver

	mu         sync.Mutex
	gen        uint64
	marker     string
	current    *player.Session
	paused     *player.Session
	pausedClip string
	preview    *previewRun
}

type previewRun struct {
	cancel context.CancelFunc
	done   chan struct{}
}

// New creates an auditioner.
func New(p Player, r Resolver) *Auditioner {
	return &Auditioner{player: p, resolver: r}
}

// Toggle pauses clipID if it is playing, resumes it if it is paused and
// otherwise plays it. Toggling cancels a running preview.
func (a *Auditioner) Toggle(ctx context.Context, clipID string) error {
	a.mu.Lock()
	a.cancelPreview()
	if a.marker == clipID && a.current != nil {
		sess := a.current
		a.marker = ""
		a.current = nil
		a.paused = sess
		a.pausedClip = clipID
		a.mu.Unlock()

		log.Debug("Audition paused", "clip", clipID)
		if err := a.player.Pause(sess); err != nil {
			return session.NewError(err, component, "pause")
		}
		return nil
	}
	if a.pausedClip == clipID && a.paused != nil {
		sess := a.paused
		a.paused = nil
		a.pausedClip = ""
		a.marker = clipID
		a.current = sess
		a.mu.Unlock()

		log.Debug("Audition resumed", "clip", clipID)
		if err := a.player.Resume(sess); err != nil {
			return session.NewError(err, component, "resume")
		}
		if sess.Reason() != player.EndNone {
			// Ended while paused; watch may already have run.
			a.mu.Lock()
			if a.current == sess {
				a.marker = ""
				a.current = nil
			}
			a.mu.Unlock()
		}
		return nil
	}
	a.mu.Unlock()

	_, err := a.start(ctx, clipID)
	return err
}

// start plays clipID and marks it as playing once the player accepts it.
func (a *Auditioner) start(ctx context.Context, clipID string) (*player.Session, error) {
	clip, ok := a.resolver.Lookup(clipID)
	if !ok {
		return nil, session.NewError(fmt.Errorf("%w: %s", ErrClipNotFound, clipID), component, "play")
	}
	clip.ID = clipID

	a.mu.Lock()
	a.gen++
	gen := a.gen
	paused := a.paused
	a.paused = nil
	a.pausedClip = ""
	a.mu.Unlock()

	if paused != nil {
		_ = a.player.Stop(paused)
	}

	sess, err := a.player.Play(ctx, clip)
	if err != nil {
		return nil, err
	}

	a.mu.Lock()
	if a.gen != gen {
		// A newer request is on its way and will supersede this one.
		a.mu.Unlock()
		return sess, nil
	}
	a.marker = clipID
	a.current = sess
	a.mu.Unlock()

	go a.watch(sess)
	log.Debug("Audition playing", "clip", clipID, "session", sess.ID)
	return sess, nil
}

// watch clears the marker when sess ends, unless a newer session took over.
func (a *Auditioner) watch(sess *player.Session) {
	<-sess.Done()

	a.mu.Lock()
	defer a.mu.Unlock()
	if a.current == sess {
		a.marker = ""
		a.current = nil
	}
	if a.paused == sess {
		a.paused = nil
		a.pausedClip = ""
	}
}

// Playing returns the ID of the clip currently playing, or "".
func (a *Auditioner) Playing() string {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.marker
}

// Stop cancels any preview and stops the playing or paused clip.
func (a *Auditioner) Stop() {
	a.mu.Lock()
	a.cancelPreview()
	a.gen++
	sess, paused := a.current, a.paused
	a.marker = ""
	a.current = nil
	a.paused = nil
	a.pausedClip = ""
	a.mu.Unlock()

	for _, s := range []*player.Session{sess, paused} {
		if s != nil {
			_ = a.player.Stop(s)
		}
	}
}

// Preview plays ids in order, advancing when each clip completes. The
// returned channel closes when the preview ends or is cancelled by Toggle,
// Stop or another Preview.
func (a *Auditioner) Preview(ctx context.Context, ids []string) (<-chan struct{}, error) {
	if len(ids) == 0 {
		return nil, session.NewError(fmt.Errorf("%w: nothing to preview", ErrClipNotFound), component, "preview")
	}
	for _, id := range ids {
		if _, ok := a.resolver.Lookup(id); !ok {
			return nil, session.NewError(fmt.Errorf("%w: %s", ErrClipNotFound, id), component, "preview")
		}
	}

	pctx, cancel := context.WithCancel(ctx)
	run := &previewRun{cancel: cancel, done: make(chan struct{})}

	a.mu.Lock()
	a.cancelPreview()
	a.preview = run
	a.mu.Unlock()

	go a.runPreview(pctx, run, ids)
	return run.done, nil
}

func (a *Auditioner) runPreview(ctx context.Context, run *previewRun, ids []string) {
	defer func() {
		a.mu.Lock()
		if a.preview == run {
			a.preview = nil
		}
		a.mu.Unlock()
		run.cancel()
		close(run.done)
	}()

	for i, id := range ids {
		if ctx.Err() != nil {
			return
		}
		sess, err := a.start(ctx, id)
		if err != nil {
			log.Warn("Preview stopped", "clip", id, "position", i, "error", err)
			return
		}
		select {
		case <-sess.Done():
			if sess.Reason() != player.EndCompleted {
				return
			}
		case <-ctx.Done():
			return
		}
	}
	log.Debug("Preview finished", "clips", len(ids))
}

// Previewing reports whether a preview is running.
func (a *Auditioner) Previewing() bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.preview != nil
}

// cancelPreview must be called with lock held.
func (a *Auditioner) cancelPreview() {
	if a.preview != nil {
		a.preview.cancel()
		a.preview = nil
	}
}
