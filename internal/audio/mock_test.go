package audio

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/dgnsrekt/voicebooth/internal/device"
)

func TestMockStream_NaturalEnd(t *testing.T) {
	out := NewMockOutput()
	pcm := GenerateTone(50*time.Millisecond, 440)

	s, err := out.NewStream(pcm)
	if err != nil {
		t.Fatalf("NewStream failed: %v", err)
	}
	defer s.Close()

	if s.IsPlaying() {
		t.Error("Stream should not play before Play()")
	}

	s.Play()
	if !s.IsPlaying() {
		t.Error("Stream should be playing after Play()")
	}

	select {
	case <-s.Done():
	case <-time.After(time.Second):
		t.Fatal("Stream did not finish")
	}

	if s.IsPlaying() {
		t.Error("Stream should not be playing after it finished")
	}
}

func TestMockStream_PauseHoldsCompletion(t *testing.T) {
	out := NewMockOutput()
	s, err := out.NewStream(GenerateTone(80*time.Millisecond, 440))
	if err != nil {
		t.Fatalf("NewStream failed: %v", err)
	}
	ms := out.Last()

	s.Play()
	time.Sleep(20 * time.Millisecond)
	s.Pause()

	if ms.State() != StatePaused {
		t.Errorf("State should be paused, got %v", ms.State())
	}

	select {
	case <-s.Done():
		t.Fatal("Paused stream should not finish")
	case <-time.After(150 * time.Millisecond):
	}

	s.Play()
	select {
	case <-s.Done():
	case <-time.After(time.Second):
		t.Fatal("Resumed stream did not finish")
	}

	if ms.PlayCount() != 2 || ms.PauseCount() != 1 {
		t.Errorf("Unexpected counts: play=%d pause=%d", ms.PlayCount(), ms.PauseCount())
	}
}

func TestMockStream_CloseSuppressesCompletion(t *testing.T) {
	out := NewMockOutput()
	out.SetManualFinish(true)

	s, err := out.NewStream(GenerateTone(10*time.Millisecond, 440))
	if err != nil {
		t.Fatalf("NewStream failed: %v", err)
	}
	ms := out.Last()

	s.Play()
	if err := s.Close(); err != nil {
		t.Fatalf("Close failed: %v", err)
	}
	ms.Finish()

	select {
	case <-s.Done():
		t.Fatal("Closed stream should never signal completion")
	default:
	}
	if ms.State() != StateClosed {
		t.Errorf("State should be closed, got %v", ms.State())
	}
}

func TestMockOutput_Errors(t *testing.T) {
	out := NewMockOutput()

	if _, err := out.NewStream(nil); !errors.Is(err, ErrEmptyAudio) {
		t.Errorf("Expected ErrEmptyAudio, got %v", err)
	}
	if _, err := out.NewStream([]byte{1, 2, 3}); !errors.Is(err, ErrInvalidAudioFormat) {
		t.Errorf("Expected ErrInvalidAudioFormat, got %v", err)
	}

	boom := errors.New("boom")
	out.SetNewStreamErr(boom)
	if _, err := out.NewStream(make([]byte, 4)); !errors.Is(err, boom) {
		t.Errorf("Expected configured error, got %v", err)
	}
	if len(out.Streams()) != 0 {
		t.Errorf("No streams should have been created, got %d", len(out.Streams()))
	}
}

func TestMockRouter(t *testing.T) {
	r := NewMockRouter()
	ctx := context.Background()

	var hooked []device.Mode
	r.SetCallbacks(MockCallbacks{OnRoute: func(m device.Mode) { hooked = append(hooked, m) }})

	if err := r.Route(ctx, device.ModeRecordReady); err != nil {
		t.Fatalf("Route failed: %v", err)
	}

	boom := errors.New("route boom")
	r.SetErr(device.ModePlaybackReady, boom)
	if err := r.Route(ctx, device.ModePlaybackReady); !errors.Is(err, boom) {
		t.Errorf("Expected route error, got %v", err)
	}

	want := []device.Mode{device.ModeRecordReady, device.ModePlaybackReady}
	calls := r.Calls()
	if len(calls) != len(want) || len(hooked) != len(want) {
		t.Fatalf("Expected %d calls, got %d (hooked %d)", len(want), len(calls), len(hooked))
	}
	for i := range want {
		if calls[i] != want[i] {
			t.Errorf("Call %d: expected %v, got %v", i, want[i], calls[i])
		}
	}
}

func TestMockCapture(t *testing.T) {
	ctx := context.Background()

	t.Run("default data", func(t *testing.T) {
		c := NewMockCapture()
		s, err := c.Open(ctx)
		if err != nil {
			t.Fatalf("Open failed: %v", err)
		}
		if err := s.Start(); err != nil {
			t.Fatalf("Start failed: %v", err)
		}
		if c.Active() != 1 {
			t.Errorf("Expected 1 active stream, got %d", c.Active())
		}
		pcm, err := s.Stop()
		if err != nil {
			t.Fatalf("Stop failed: %v", err)
		}
		if Duration(pcm) < MinMockCapture-time.Millisecond {
			t.Errorf("Capture too short: %v", Duration(pcm))
		}
		if c.Active() != 0 {
			t.Errorf("Expected 0 active streams, got %d", c.Active())
		}
		if _, err := s.Stop(); !errors.Is(err, ErrStreamClosed) {
			t.Errorf("Second Stop should fail with ErrStreamClosed, got %v", err)
		}
	})

	t.Run("fixed empty data", func(t *testing.T) {
		c := NewMockCapture()
		c.SetData([]byte{})
		s, _ := c.Open(ctx)
		_ = s.Start()
		pcm, err := s.Stop()
		if err != nil {
			t.Fatalf("Stop failed: %v", err)
		}
		if len(pcm) != 0 {
			t.Errorf("Expected empty capture, got %d bytes", len(pcm))
		}
	})

	t.Run("configured errors", func(t *testing.T) {
		openErr := errors.New("open")
		c := NewMockCapture()
		c.SetErrors(openErr, nil, nil)
		if _, err := c.Open(ctx); !errors.Is(err, openErr) {
			t.Errorf("Expected open error, got %v", err)
		}

		startErr := errors.New("start")
		c.SetErrors(nil, startErr, nil)
		s, _ := c.Open(ctx)
		if err := s.Start(); !errors.Is(err, startErr) {
			t.Errorf("Expected start error, got %v", err)
		}
		if c.Opens() != 2 {
			t.Errorf("Expected 2 opens, got %d", c.Opens())
		}
	})

	t.Run("probe", func(t *testing.T) {
		c := NewMockCapture()
		c.SetHasDevice(false, nil)
		has, err := c.HasInputDevice(ctx)
		if err != nil || has {
			t.Errorf("Expected no device, got has=%v err=%v", has, err)
		}
		if c.Probes() != 1 {
			t.Errorf("Expected 1 probe, got %d", c.Probes())
		}
	})
}

func TestMockStream_ConcurrentControl(t *testing.T) {
	out := NewMockOutput()
	out.SetManualFinish(true)
	s, err := out.NewStream(GenerateTone(time.Second, 440))
	if err != nil {
		t.Fatalf("NewStream failed: %v", err)
	}

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func(n int) {
			defer wg.Done()
			if n%2 == 0 {
				s.Play()
			} else {
				s.Pause()
			}
			_ = s.IsPlaying()
		}(i)
	}
	wg.Wait()

	if err := s.Close(); err != nil {
		t.Errorf("Close failed: %v", err)
	}
}

func TestBackendHelpers(t *testing.T) {
	tests := []struct {
		in      string
		want    Kind
		wantErr bool
	}{
		{"", KindAuto, false},
		{"auto", KindAuto, false},
		{"oto", KindHardware, false},
		{"hardware", KindHardware, false},
		{"mock", KindMock, false},
		{"alsa", KindAuto, true},
	}
	for _, tt := range tests {
		got, err := ParseKind(tt.in)
		if (err != nil) != tt.wantErr {
			t.Errorf("ParseKind(%q) error = %v, wantErr %v", tt.in, err, tt.wantErr)
		}
		if got != tt.want {
			t.Errorf("ParseKind(%q) = %v, want %v", tt.in, got, tt.want)
		}
	}

	b, err := NewBackend(KindMock)
	if err != nil {
		t.Fatalf("NewBackend(mock) failed: %v", err)
	}
	if b.Name != "mock" || b.Router == nil || b.Output == nil || b.Capture == nil {
		t.Errorf("Incomplete mock backend: %+v", b)
	}

	if d := Duration(make([]byte, SampleRate*BytesPerSample)); d != time.Second {
		t.Errorf("Duration of one second of PCM = %v", d)
	}
}
