// Package flow wires the device, recorder, player, take sequencer and
// auditioner of one recording session together and tears them down in a
// fixed order.
package flow

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/charmbracelet/log"

	"github.com/dgnsrekt/voicebooth/internal/audio"
	"github.com/dgnsrekt/voicebooth/internal/audition"
	"github.com/dgnsrekt/voicebooth/internal/catalog"
	"github.com/dgnsrekt/voicebooth/internal/config"
	"github.com/dgnsrekt/voicebooth/internal/device"
	"github.com/dgnsrekt/voicebooth/internal/media"
	"github.com/dgnsrekt/voicebooth/internal/notify"
	"github.com/dgnsrekt/voicebooth/internal/player"
	"github.com/dgnsrekt/voicebooth/internal/recorder"
	"github.com/dgnsrekt/voicebooth/internal/session"
	"github.com/dgnsrekt/voicebooth/internal/takes"
)

const component = "flow"

// DefaultElapsedThrottle caps how often elapsed ticks reach subscribers.
const DefaultElapsedThrottle = 100 * time.Millisecond

// ErrDisposed is returned by every operation after Dispose.
var ErrDisposed = session.ErrDisposed

// Options configures a Flow.
type Options struct {
	Backend *audio.Backend
	Prompts []string

	SettleDelay  time.Duration
	TickInterval time.Duration
	Media        media.Options

	CatalogDir      string
	CatalogFallback bool
	WatchCatalog    bool

	// Permission overrides the capture device probe.
	Permission recorder.PermissionRequester

	ElapsedThrottle time.Duration
}

// Flow is one recording session.
type Flow struct {
	backend *audio.Backend
	bus     *notify.Bus
	store   *media.Tiered

	device     *device.Session
	recorder   *recorder.Recorder
	player     *player.Player
	sequencer  *takes.Sequencer
	catalog    *catalog.Catalog
	auditioner *audition.Auditioner

	watchCancel context.CancelFunc
	watchDone   chan struct{}

	mu       sync.Mutex
	disposed bool
	once     sync.Once
	err      error
}

// FromConfig builds a Flow from a loaded configuration.
func FromConfig(cfg *config.Config) (*Flow, error) {
	backend, err := audio.NewBackend(cfg.Backend())
	if err != nil {
		return nil, err
	}
	prompts, err := cfg.Prompts()
	if err != nil {
		return nil, err
	}
	return New(Options{
		Backend:         backend,
		Prompts:         prompts,
		SettleDelay:     cfg.Device.SettleDelay,
		TickInterval:    cfg.Recorder.TickInterval,
		Media:           cfg.MediaOptions(),
		CatalogDir:      cfg.Catalog.Dir,
		CatalogFallback: cfg.Catalog.Fallback,
		WatchCatalog:    cfg.Catalog.Watch,
	})
}

// New wires a Flow. Empty prompts use takes.DefaultPrompts.
func New(opts Options) (*Flow, error) {
	if opts.Backend == nil {
		return nil, errors.New("flow requires an audio backend")
	}
	if len(opts.Prompts) == 0 {
		opts.Prompts = takes.DefaultPrompts
	}
	if opts.ElapsedThrottle == 0 {
		opts.ElapsedThrottle = DefaultElapsedThrottle
	}

	store, err := media.New(opts.Media)
	if err != nil {
		return nil, fmt.Errorf("failed to create media store: %w", err)
	}

	bus := notify.NewBus()
	bus.Limit(notify.KindElapsed, opts.ElapsedThrottle)

	dev := device.NewSession(opts.Backend.Router,
		device.WithSettleDelay(opts.SettleDelay),
		device.WithNotifier(bus))

	recOpts := []recorder.Option{recorder.WithNotifier(bus)}
	if opts.TickInterval > 0 {
		recOpts = append(recOpts, recorder.WithTickInterval(opts.TickInterval))
	}
	if opts.Permission != nil {
		recOpts = append(recOpts, recorder.WithPermissionGate(recorder.NewPermissionGate(opts.Permission)))
	}
	rec := recorder.New(dev, opts.Backend.Capture, store, recOpts...)

	seq, err := takes.New(rec, store, opts.Prompts)
	if err != nil {
		_ = store.Close()
		return nil, err
	}

	cat, err := catalog.New(opts.CatalogDir, store, catalog.WithFallback(opts.CatalogFallback))
	if err != nil {
		_ = store.Close()
		return nil, err
	}

	p := player.New(dev, opts.Backend.Output, store, player.WithNotifier(bus))

	f := &Flow{
		backend:    opts.Backend,
		bus:        bus,
		store:      store,
		device:     dev,
		recorder:   rec,
		player:     p,
		sequencer:  seq,
		catalog:    cat,
		auditioner: audition.New(p, audition.Chain{seq, cat}),
	}

	if opts.WatchCatalog && cat.Dir() != "" {
		ctx, cancel := context.WithCancel(context.Background())
		f.watchCancel = cancel
		f.watchDone = make(chan struct{})
		go func() {
			defer close(f.watchDone)
			if err := cat.Watch(ctx); err != nil {
				log.Warn("Catalog watch stopped", "error", err)
			}
		}()
	}

	log.Debug("Flow ready",
		"backend", opts.Backend.Name,
		"prompts", len(opts.Prompts),
		"settle_delay", dev.SettleDelay(),
		"media_dir", store.Dir())
	return f, nil
}

func (f *Flow) guard(action string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.disposed {
		return session.NewError(ErrDisposed, component, action)
	}
	return nil
}

// BeginTake stops any audition and starts recording the current take.
func (f *Flow) BeginTake(ctx context.Context) (takes.Take, error) {
	if err := f.guard("begin take"); err != nil {
		return takes.Take{}, err
	}
	f.auditioner.Stop()
	return f.sequencer.BeginCurrent(ctx)
}

// EndTake stops the live recording.
func (f *Flow) EndTake(ctx context.Context) (takes.Take, error) {
	if err := f.guard("end take"); err != nil {
		return takes.Take{}, err
	}
	return f.sequencer.EndCurrent(ctx)
}

// Redo clears take i so it can be recorded again.
func (f *Flow) Redo(i int) error {
	if err := f.guard("redo"); err != nil {
		return err
	}
	if f.auditioner.Playing() == takes.ClipID(i) || f.auditioner.Previewing() {
		f.auditioner.Stop()
	}
	return f.sequencer.Redo(i)
}

// Toggle plays or pauses a take or catalog clip.
func (f *Flow) Toggle(ctx context.Context, clipID string) error {
	if err := f.guard("toggle"); err != nil {
		return err
	}
	return f.auditioner.Toggle(ctx, clipID)
}

// Preview plays every captured take in order.
func (f *Flow) Preview(ctx context.Context) (<-chan struct{}, error) {
	if err := f.guard("preview"); err != nil {
		return nil, err
	}
	return f.auditioner.Preview(ctx, f.sequencer.CapturedClipIDs())
}

// StopAudition stops the playing clip and any preview.
func (f *Flow) StopAudition() {
	f.auditioner.Stop()
}

// Playing returns the clip currently auditioned, or "".
func (f *Flow) Playing() string {
	return f.auditioner.Playing()
}

// Takes returns a snapshot of the take list.
func (f *Flow) Takes() []takes.Take {
	return f.sequencer.Takes()
}

// Current returns the take under the cursor.
func (f *Flow) Current() takes.Take {
	return f.sequencer.Current()
}

// Complete reports whether every take is captured.
func (f *Flow) Complete() bool {
	return f.sequencer.AllCaptured()
}

// Catalog returns the bundled clip catalog.
func (f *Flow) Catalog() *catalog.Catalog {
	return f.catalog
}

// Device returns the device session.
func (f *Flow) Device() *device.Session {
	return f.device
}

// Backend returns the audio backend in use.
func (f *Flow) Backend() *audio.Backend {
	return f.backend
}

// Subscribe returns a channel of session events and a function to cancel it.
func (f *Flow) Subscribe(buffer int) (<-chan notify.Event, func()) {
	return f.bus.Subscribe(buffer)
}

// Dispose aborts recording, drops the takes, stops playback, resets the
// device and removes the session media. It is safe to call more than once.
func (f *Flow) Dispose(ctx context.Context) error {
	f.once.Do(func() {
		f.mu.Lock()
		f.disposed = true
		f.mu.Unlock()

		log.Debug("Disposing flow")

		f.recorder.Abort(ctx)
		f.sequencer.Discard()
		f.auditioner.Stop()
		f.player.StopAll()
		if f.device.Reset() {
			log.Warn("Audio device was still held at dispose")
		}

		if f.watchCancel != nil {
			f.watchCancel()
			<-f.watchDone
		}

		var errs []error
		if err := f.store.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close media store: %w", err))
		}
		if c, ok := f.backend.Capture.(io.Closer); ok {
			if err := c.Close(); err != nil {
				errs = append(errs, fmt.Errorf("close capture: %w", err))
			}
		}
		f.bus.Close()
		f.err = errors.Join(errs...)
	})
	return f.err
}

// Name implements lifecycle.Component.
func (f *Flow) Name() string {
	return "Recording Flow"
}

// Shutdown implements lifecycle.Component.
func (f *Flow) Shutdown(ctx context.Context) error {
	return f.Dispose(ctx)
}

// ForceStop implements lifecycle.Component.
func (f *Flow) ForceStop() error {
	f.device.Reset()
	return nil
}

// FormatElapsed renders d as mm:ss.
func FormatElapsed(d time.Duration) string {
	if d < 0 {
		d = 0
	}
	secs := int(d / time.Second)
	return fmt.Sprintf("%02d:%02d", secs/60, secs%60)
}
