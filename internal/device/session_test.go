package device

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/dgnsrekt/voicebooth/internal/notify"
)

type fakeRouter struct {
	mu     sync.Mutex
	routes []Mode
	err    error
}

func (r *fakeRouter) Route(_ context.Context, mode Mode) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.err != nil {
		return r.err
	}
	r.routes = append(r.routes, mode)
	return nil
}

func (r *fakeRouter) calls() []Mode {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]Mode(nil), r.routes...)
}

// newTestSession returns a session whose settle sleeps are recorded instead of slept.
func newTestSession(router Router, opts ...Option) (*Session, *[]time.Duration) {
	s := NewSession(router, opts...)
	var slept []time.Duration
	var mu sync.Mutex
	s.sleep = func(d time.Duration) {
		mu.Lock()
		slept = append(slept, d)
		mu.Unlock()
	}
	return s, &slept
}

func TestAcquireIsExclusive(t *testing.T) {
	s, _ := newTestSession(&fakeRouter{})
	ctx := context.Background()

	h, err := s.AcquireForRecording(ctx, "recorder")
	if err != nil {
		t.Fatalf("AcquireForRecording failed: %v", err)
	}
	if s.Mode() != ModeRecordReady {
		t.Errorf("expected mode record-ready, got %v", s.Mode())
	}
	if s.Holder() != "recorder" {
		t.Errorf("expected holder recorder, got %q", s.Holder())
	}

	if _, err := s.AcquireForPlayback(ctx, "player"); !errors.Is(err, ErrDeviceBusy) {
		t.Fatalf("expected ErrDeviceBusy, got %v", err)
	}
	if _, err := s.AcquireForRecording(ctx, "recorder"); !errors.Is(err, ErrDeviceBusy) {
		t.Fatalf("expected ErrDeviceBusy for second record acquire, got %v", err)
	}

	s.Release(h)
	if s.Mode() != ModeIdle {
		t.Errorf("expected idle after release, got %v", s.Mode())
	}

	h2, err := s.AcquireForPlayback(ctx, "player")
	if err != nil {
		t.Fatalf("acquire after release failed: %v", err)
	}
	if h2.ID() == h.ID() {
		t.Error("expected a fresh handle identity")
	}
}

func TestReleaseIsIdempotent(t *testing.T) {
	s, _ := newTestSession(&fakeRouter{})
	ctx := context.Background()

	s.Release(nil)

	h, err := s.AcquireForPlayback(ctx, "player")
	if err != nil {
		t.Fatalf("acquire failed: %v", err)
	}
	s.Release(h)
	route := s.Route()
	s.Release(h)
	s.Release(h)

	if s.Mode() != ModeIdle {
		t.Errorf("expected idle, got %v", s.Mode())
	}
	if s.Route() != route {
		t.Errorf("release changed route from %v to %v", route, s.Route())
	}
	if h.Held() {
		t.Error("released handle still reports Held")
	}

	// A stale handle must not release the new holder.
	h2, err := s.AcquireForRecording(ctx, "recorder")
	if err != nil {
		t.Fatalf("acquire failed: %v", err)
	}
	s.Release(h)
	if !h2.Held() {
		t.Fatal("stale release dropped the current holder")
	}
}

func TestSettleDelay(t *testing.T) {
	tests := []struct {
		name   string
		first  Mode
		second Mode
		settle bool
	}{
		{"record to playback", ModeRecordReady, ModePlaybackReady, true},
		{"playback to playback", ModePlaybackReady, ModePlaybackReady, false},
		{"playback to record", ModePlaybackReady, ModeRecordReady, false},
		{"record to record", ModeRecordReady, ModeRecordReady, false},
	}

	acquire := func(s *Session, m Mode) (*Handle, error) {
		if m == ModeRecordReady {
			return s.AcquireForRecording(context.Background(), "test")
		}
		return s.AcquireForPlayback(context.Background(), "test")
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s, slept := newTestSession(&fakeRouter{}, WithSettleDelay(40*time.Millisecond))

			h, err := acquire(s, tt.first)
			if err != nil {
				t.Fatalf("first acquire failed: %v", err)
			}
			s.Release(h)
			*slept = nil

			h, err = acquire(s, tt.second)
			if err != nil {
				t.Fatalf("second acquire failed: %v", err)
			}
			defer s.Release(h)

			if tt.settle {
				if len(*slept) != 1 || (*slept)[0] != 40*time.Millisecond {
					t.Errorf("expected one 40ms settle, got %v", *slept)
				}
			} else if len(*slept) != 0 {
				t.Errorf("expected no settle, got %v", *slept)
			}
		})
	}
}

func TestSettleDelayDefault(t *testing.T) {
	s := NewSession(&fakeRouter{})
	if s.SettleDelay() != DefaultSettleDelay {
		t.Errorf("expected default settle %v, got %v", DefaultSettleDelay, s.SettleDelay())
	}

	s = NewSession(&fakeRouter{}, WithSettleDelay(-1))
	if s.SettleDelay() != DefaultSettleDelay {
		t.Errorf("negative settle should be ignored, got %v", s.SettleDelay())
	}
}

func TestRealSettleDelayElapses(t *testing.T) {
	s := NewSession(&fakeRouter{}, WithSettleDelay(30*time.Millisecond))
	ctx := context.Background()

	h, err := s.AcquireForRecording(ctx, "recorder")
	if err != nil {
		t.Fatalf("acquire failed: %v", err)
	}

	start := time.Now()
	if err := s.Reroute(ctx, h, ModePlaybackReady); err != nil {
		t.Fatalf("Reroute failed: %v", err)
	}
	if elapsed := time.Since(start); elapsed < 30*time.Millisecond {
		t.Errorf("expected reroute to wait for settle, took %v", elapsed)
	}
	if s.Route() != ModePlaybackReady || s.Mode() != ModePlaybackReady {
		t.Errorf("expected playback-ready, got mode=%v route=%v", s.Mode(), s.Route())
	}
	s.Release(h)
	if s.Route() != ModePlaybackReady {
		t.Errorf("route should survive release, got %v", s.Route())
	}
}

func TestRerouteStaleHandle(t *testing.T) {
	s, _ := newTestSession(&fakeRouter{})
	ctx := context.Background()

	h, err := s.AcquireForRecording(ctx, "recorder")
	if err != nil {
		t.Fatalf("acquire failed: %v", err)
	}
	s.Release(h)

	if err := s.Reroute(ctx, h, ModePlaybackReady); !errors.Is(err, ErrStaleHandle) {
		t.Fatalf("expected ErrStaleHandle, got %v", err)
	}
	if err := s.Reroute(ctx, nil, ModePlaybackReady); !errors.Is(err, ErrStaleHandle) {
		t.Fatalf("expected ErrStaleHandle for nil handle, got %v", err)
	}
}

func TestRouteFailureReleases(t *testing.T) {
	router := &fakeRouter{err: errors.New("boom")}
	s, _ := newTestSession(router)

	if _, err := s.AcquireForRecording(context.Background(), "recorder"); !errors.Is(err, ErrRouteFailed) {
		t.Fatalf("expected ErrRouteFailed, got %v", err)
	}
	if s.Holder() != "" || s.Mode() != ModeIdle {
		t.Fatalf("failed acquire left holder=%q mode=%v", s.Holder(), s.Mode())
	}

	router.err = nil
	h, err := s.AcquireForRecording(context.Background(), "recorder")
	if err != nil {
		t.Fatalf("acquire after failure should succeed: %v", err)
	}
	s.Release(h)
}

func TestAcquireCanceledContext(t *testing.T) {
	s, _ := newTestSession(&fakeRouter{})
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	if _, err := s.AcquireForPlayback(ctx, "player"); !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
	if s.Holder() != "" {
		t.Fatal("canceled acquire must not bind a holder")
	}
}

func TestConcurrentAcquireSingleHolder(t *testing.T) {
	s, _ := newTestSession(&fakeRouter{})

	var wg sync.WaitGroup
	var wins atomic.Int32
	for i := 0; i < 32; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := s.AcquireForPlayback(context.Background(), "player"); err == nil {
				wins.Add(1)
			} else if !errors.Is(err, ErrDeviceBusy) {
				t.Errorf("unexpected error: %v", err)
			}
		}()
	}
	wg.Wait()

	if wins.Load() != 1 {
		t.Fatalf("expected exactly one winner, got %d", wins.Load())
	}
}

func TestResetAndStats(t *testing.T) {
	bus := notify.NewBus()
	defer bus.Close()
	events, cancel := bus.Subscribe(8)
	defer cancel()

	router := &fakeRouter{}
	s, _ := newTestSession(router, WithNotifier(bus))

	if s.Reset() {
		t.Error("Reset on idle device should report false")
	}

	h, err := s.AcquireForRecording(context.Background(), "recorder")
	if err != nil {
		t.Fatalf("acquire failed: %v", err)
	}
	if !s.Reset() {
		t.Error("Reset should report a released handle")
	}
	if h.Held() {
		t.Error("handle still held after Reset")
	}

	st := s.Stats()
	if st.Acquisitions != 1 || st.Holder != "" || st.Mode != ModeIdle || st.Route != ModeRecordReady {
		t.Errorf("unexpected stats: %+v", st)
	}
	if got := router.calls(); len(got) != 1 || got[0] != ModeRecordReady {
		t.Errorf("unexpected route calls: %v", got)
	}

	select {
	case ev := <-events:
		if ev.Kind != notify.KindRouteChanged || ev.Detail != "record-ready" {
			t.Errorf("unexpected event %+v", ev)
		}
	default:
		t.Error("expected a route change notification")
	}
}

func TestModeString(t *testing.T) {
	tests := []struct {
		mode Mode
		want string
	}{
		{ModeIdle, "idle"},
		{ModeRecordReady, "record-ready"},
		{ModePlaybackReady, "playback-ready"},
		{Mode(42), "unknown"},
	}
	for _, tt := range tests {
		if got := tt.mode.String(); got != tt.want {
			t.Errorf("Mode(%d).String() = %q, want %q", tt.mode, got, tt.want)
		}
	}
}
