package recorder

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/dgnsrekt/voicebooth/internal/audio"
	"github.com/dgnsrekt/voicebooth/internal/device"
	"github.com/dgnsrekt/voicebooth/internal/media"
	"github.com/dgnsrekt/voicebooth/internal/notify"
	"github.com/dgnsrekt/voicebooth/internal/session"
)

type fixture struct {
	rec     *Recorder
	dev     *device.Session
	router  *audio.MockRouter
	capture *audio.MockCapture
	store   *media.MemoryStore
}

func newFixture(t *testing.T, opts ...Option) *fixture {
	t.Helper()
	router := audio.NewMockRouter()
	capture := audio.NewMockCapture()
	store := media.NewMemoryStore(0)
	dev := device.NewSession(router, device.WithSettleDelay(0))
	return &fixture{
		rec:     New(dev, capture, store, opts...),
		dev:     dev,
		router:  router,
		capture: capture,
		store:   store,
	}
}

func countRoutes(calls []device.Mode, mode device.Mode) int {
	n := 0
	for _, c := range calls {
		if c == mode {
			n++
		}
	}
	return n
}

func TestRecorder_StartStop(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	sess, err := f.rec.Start(ctx, 2)
	if err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	if sess.TakeIndex != 2 || sess.ID == "" {
		t.Errorf("Unexpected session: %+v", sess)
	}
	if f.rec.State() != session.StateActive {
		t.Errorf("Expected active, got %v", f.rec.State())
	}
	if f.dev.Mode() != device.ModeRecordReady {
		t.Errorf("Expected record-ready, got %v", f.dev.Mode())
	}

	clip, err := f.rec.Stop(ctx, sess)
	if err != nil {
		t.Fatalf("Stop failed: %v", err)
	}
	if clip.Media.IsZero() || clip.Duration <= 0 {
		t.Errorf("Unexpected clip: %+v", clip)
	}
	if _, err := f.store.Get(clip.Media); err != nil {
		t.Errorf("Clip media not stored: %v", err)
	}

	if f.rec.State() != session.StateIdle || f.rec.Live() != nil {
		t.Errorf("Recorder should be idle, got %v", f.rec.State())
	}
	if f.dev.Mode() != device.ModeIdle || f.dev.Route() != device.ModePlaybackReady {
		t.Errorf("Device should be released in playback routing, mode=%v route=%v", f.dev.Mode(), f.dev.Route())
	}
	if n := countRoutes(f.router.Calls(), device.ModePlaybackReady); n != 1 {
		t.Errorf("Expected exactly one playback reroute, got %d", n)
	}
}

func TestRecorder_DoubleStartRejected(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	entered := make(chan struct{})
	release := make(chan struct{})
	var once sync.Once
	f.capture.SetCallbacks(audio.MockCallbacks{OnOpen: func() {
		once.Do(func() { close(entered) })
		<-release
	}})

	type result struct {
		sess *Session
		err  error
	}
	first := make(chan result, 1)
	go func() {
		s, err := f.rec.Start(ctx, 0)
		first <- result{s, err}
	}()

	<-entered
	if _, err := f.rec.Start(ctx, 0); !errors.Is(err, ErrAlreadyRecording) {
		t.Errorf("Second start should fail with ErrAlreadyRecording, got %v", err)
	}
	close(release)

	r := <-first
	if r.err != nil {
		t.Fatalf("First start failed: %v", r.err)
	}
	if f.rec.Live() != r.sess {
		t.Error("The first session should be the live one")
	}
	if f.capture.Opens() != 1 {
		t.Errorf("Expected exactly one capture open, got %d", f.capture.Opens())
	}

	if _, err := f.rec.Start(ctx, 1); !errors.Is(err, ErrAlreadyRecording) {
		t.Errorf("Start while active should fail, got %v", err)
	}
}

func TestRecorder_ConcurrentStarts(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	var wg sync.WaitGroup
	var ok, rejected atomic.Int32
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := f.rec.Start(ctx, 0)
			switch {
			case err == nil:
				ok.Add(1)
			case errors.Is(err, ErrAlreadyRecording):
				rejected.Add(1)
			default:
				t.Errorf("Unexpected error: %v", err)
			}
		}()
	}
	wg.Wait()

	if ok.Load() != 1 || rejected.Load() != 15 {
		t.Errorf("Expected 1 success and 15 rejections, got %d and %d", ok.Load(), rejected.Load())
	}
	if f.capture.Active() != 1 {
		t.Errorf("Expected one active capture, got %d", f.capture.Active())
	}
}

func TestRecorder_PermissionDenied(t *testing.T) {
	f := newFixture(t)
	f.capture.SetHasDevice(false, nil)
	ctx := context.Background()

	for i := 0; i < 2; i++ {
		_, err := f.rec.Start(ctx, 0)
		if !errors.Is(err, ErrPermissionDenied) {
			t.Fatalf("Attempt %d: expected ErrPermissionDenied, got %v", i, err)
		}
		if session.IsRecoverable(err) {
			t.Error("Permission denial should not be retryable")
		}
	}

	if f.capture.Probes() != 1 {
		t.Errorf("Denial should be cached, probes = %d", f.capture.Probes())
	}
	if f.dev.Holder() != "" || f.rec.State() != session.StateIdle {
		t.Error("A denied start must not hold the device")
	}
}

func TestPermissionGate_Singleflight(t *testing.T) {
	release := make(chan struct{})
	var calls atomic.Int32
	gate := NewPermissionGate(PermissionFunc(func(ctx context.Context) (bool, error) {
		calls.Add(1)
		<-release
		return true, nil
	}))

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			granted, err := gate.Check(context.Background())
			if err != nil || !granted {
				t.Errorf("Expected grant, got %v %v", granted, err)
			}
		}()
	}

	time.Sleep(20 * time.Millisecond)
	close(release)
	wg.Wait()

	if calls.Load() != 1 || gate.Requests() != 1 {
		t.Errorf("Expected one request, got %d", calls.Load())
	}

	gate.Reset()
	if _, err := gate.Check(context.Background()); err != nil {
		t.Fatalf("Check after reset failed: %v", err)
	}
	if gate.Requests() != 2 {
		t.Errorf("Reset should force a new request, got %d", gate.Requests())
	}
}

func TestPermissionGate_ErrorsNotCached(t *testing.T) {
	var calls atomic.Int32
	gate := NewPermissionGate(PermissionFunc(func(ctx context.Context) (bool, error) {
		if calls.Add(1) == 1 {
			return false, errors.New("probe failed")
		}
		return true, nil
	}))

	if _, err := gate.Check(context.Background()); err == nil {
		t.Fatal("Expected first check to fail")
	}
	granted, err := gate.Check(context.Background())
	if err != nil || !granted {
		t.Errorf("Second check should succeed, got %v %v", granted, err)
	}
}

func TestRecorder_EncodeFailureOnStop(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	sess, err := f.rec.Start(ctx, 0)
	if err != nil {
		t.Fatalf("Start failed: %v", err)
	}

	f.capture.SetErrors(nil, nil, errors.New("encoder exploded"))
	_, err = f.rec.Stop(ctx, sess)
	if !errors.Is(err, ErrEncodeFailure) {
		t.Fatalf("Expected ErrEncodeFailure, got %v", err)
	}
	var se *session.Error
	if !errors.As(err, &se) || se.Action != "stop" || !se.IsRecoverable() {
		t.Errorf("Expected recoverable stop error, got %#v", err)
	}

	if f.dev.Route() != device.ModePlaybackReady {
		t.Errorf("Device should be back in playback routing, got %v", f.dev.Route())
	}
	if f.dev.Holder() != "" || f.rec.State() != session.StateIdle {
		t.Error("Failed stop must still release the device")
	}
	if f.store.Stats().Items != 0 {
		t.Error("Nothing should be stored for a failed take")
	}

	f.capture.SetErrors(nil, nil, nil)
	sess, err = f.rec.Start(ctx, 0)
	if err != nil {
		t.Fatalf("Start after failure should succeed: %v", err)
	}
	if _, err := f.rec.Stop(ctx, sess); err != nil {
		t.Errorf("Stop after retry failed: %v", err)
	}
}

func TestRecorder_EmptyCapture(t *testing.T) {
	f := newFixture(t)
	f.capture.SetData([]byte{})
	ctx := context.Background()

	sess, err := f.rec.Start(ctx, 0)
	if err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	if _, err := f.rec.Stop(ctx, sess); !errors.Is(err, ErrEncodeFailure) {
		t.Errorf("Empty capture should be an encode failure, got %v", err)
	}
}

func TestRecorder_StartUnwinds(t *testing.T) {
	tests := []struct {
		name  string
		open  error
		start error
	}{
		{"open fails", errors.New("no mic"), nil},
		{"start fails", nil, errors.New("stream refused")},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t)
			f.capture.SetErrors(tt.open, tt.start, nil)

			_, err := f.rec.Start(context.Background(), 0)
			if !errors.Is(err, ErrEncodeFailure) {
				t.Fatalf("Expected ErrEncodeFailure, got %v", err)
			}
			if f.dev.Holder() != "" {
				t.Error("Device should be released")
			}
			if f.rec.State() != session.StateIdle {
				t.Errorf("Expected idle, got %v", f.rec.State())
			}
			if f.capture.Active() != 0 {
				t.Error("No capture should be left running")
			}
		})
	}
}

func TestRecorder_DeviceBusy(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	h, err := f.dev.AcquireForPlayback(ctx, "player")
	if err != nil {
		t.Fatalf("Acquire failed: %v", err)
	}

	if _, err := f.rec.Start(ctx, 0); !errors.Is(err, device.ErrDeviceBusy) {
		t.Errorf("Expected ErrDeviceBusy, got %v", err)
	}
	if f.rec.State() != session.StateIdle {
		t.Errorf("Expected idle, got %v", f.rec.State())
	}

	f.dev.Release(h)
	if _, err := f.rec.Start(ctx, 0); err != nil {
		t.Errorf("Start after release failed: %v", err)
	}
}

func TestRecorder_StopRejections(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	if _, err := f.rec.Stop(ctx, nil); !errors.Is(err, ErrNotRecording) {
		t.Errorf("Stop(nil) should fail with ErrNotRecording, got %v", err)
	}

	sess, err := f.rec.Start(ctx, 0)
	if err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	if _, err := f.rec.Stop(ctx, &Session{ID: "other"}); !errors.Is(err, ErrNotRecording) {
		t.Errorf("Stop of a foreign session should fail, got %v", err)
	}
	if _, err := f.rec.Stop(ctx, sess); err != nil {
		t.Fatalf("Stop failed: %v", err)
	}
	if _, err := f.rec.Stop(ctx, sess); !errors.Is(err, ErrNotRecording) {
		t.Errorf("Second stop should fail with ErrNotRecording, got %v", err)
	}
}

func TestRecorder_ElapsedTicks(t *testing.T) {
	bus := notify.NewBus()
	defer bus.Close()
	events, unsubscribe := bus.Subscribe(64)
	defer unsubscribe()

	f := newFixture(t, WithNotifier(bus), WithTickInterval(10*time.Millisecond))
	ctx := context.Background()

	sess, err := f.rec.Start(ctx, 1)
	if err != nil {
		t.Fatalf("Start failed: %v", err)
	}

	ticks := 0
	timeout := time.After(time.Second)
	for ticks < 2 {
		select {
		case ev := <-events:
			if ev.Kind == notify.KindElapsed {
				if ev.SessionID != sess.ID || ev.TakeIndex != 1 || ev.Elapsed <= 0 {
					t.Errorf("Unexpected tick: %+v", ev)
				}
				ticks++
			}
		case <-timeout:
			t.Fatalf("Only saw %d ticks", ticks)
		}
	}

	if _, err := f.rec.Stop(ctx, sess); err != nil {
		t.Fatalf("Stop failed: %v", err)
	}
}

func TestRecorder_AbortActive(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	if _, err := f.rec.Start(ctx, 0); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	f.rec.Abort(ctx)

	if f.rec.State() != session.StateIdle || f.rec.Live() != nil {
		t.Errorf("Expected idle after abort, got %v", f.rec.State())
	}
	if f.dev.Holder() != "" || f.dev.Route() != device.ModePlaybackReady {
		t.Error("Abort should return and release the device")
	}
	if f.store.Stats().Items != 0 {
		t.Error("Aborted capture must be discarded")
	}

	// Idempotent
	f.rec.Abort(ctx)
}

func TestRecorder_AbortStartInFlight(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	entered := make(chan struct{})
	release := make(chan struct{})
	f.capture.SetCallbacks(audio.MockCallbacks{OnOpen: func() {
		close(entered)
		<-release
	}})

	errCh := make(chan error, 1)
	go func() {
		_, err := f.rec.Start(ctx, 0)
		errCh <- err
	}()

	<-entered
	f.rec.Abort(ctx)
	close(release)

	if err := <-errCh; !errors.Is(err, ErrAborted) {
		t.Fatalf("Expected ErrAborted, got %v", err)
	}
	if f.dev.Holder() != "" || f.rec.State() != session.StateIdle {
		t.Error("Aborted start must fully unwind")
	}
	if f.capture.Active() != 0 {
		t.Error("Aborted start must stop the capture")
	}
}
