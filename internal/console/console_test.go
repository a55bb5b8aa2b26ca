package console

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/dgnsrekt/voicebooth/internal/audio"
	"github.com/dgnsrekt/voicebooth/internal/flow"
	"github.com/dgnsrekt/voicebooth/internal/media"
	"github.com/dgnsrekt/voicebooth/internal/notify"
	"github.com/dgnsrekt/voicebooth/internal/session"
)

func newConsole(t *testing.T) (*Console, *bytes.Buffer) {
	t.Helper()

	backend := audio.NewMockBackend()
	backend.Output.(*audio.MockOutput).SetManualFinish(true)

	f, err := flow.New(flow.Options{
		Backend: backend,
		Prompts: []string{"Say hello", "Say goodbye"},
		Media:   media.Options{Dir: t.TempDir(), MemoryCapacity: 1 << 20},
	})
	if err != nil {
		t.Fatalf("flow.New failed: %v", err)
	}
	t.Cleanup(func() { _ = f.Dispose(context.Background()) })

	var out bytes.Buffer
	return New(f, &out, false), &out
}

func TestConsole_Exec(t *testing.T) {
	c, out := newConsole(t)
	ctx := context.Background()

	steps := []struct {
		line string
		want string
	}{
		{"", "Recording"},
		{"r", "Captured take 1"},
		{"l", "Say goodbye"},
		{"p 1", ""},
		{"s", ""},
		{"redo 1", "1st take: Say hello"},
		{"c", "default"},
		{"help", "Commands:"},
	}
	for _, step := range steps {
		out.Reset()
		quit, err := c.Exec(ctx, step.line)
		if err != nil {
			t.Fatalf("Exec(%q) failed: %v", step.line, err)
		}
		if quit {
			t.Fatalf("Exec(%q) should not quit", step.line)
		}
		if !strings.Contains(out.String(), step.want) {
			t.Errorf("Exec(%q) output %q, want it to contain %q", step.line, out.String(), step.want)
		}
	}

	quit, err := c.Exec(ctx, "q")
	if err != nil || !quit {
		t.Errorf("q should quit, got quit=%v err=%v", quit, err)
	}
}

func TestConsole_ExecErrors(t *testing.T) {
	c, _ := newConsole(t)
	ctx := context.Background()

	tests := []struct {
		line string
		want error
	}{
		{"dance", ErrUnknownCommand},
		{"p", ErrUnknownCommand},
		{"redo", ErrUnknownCommand},
		{"redo x", ErrUnknownCommand},
		{"redo 9", session.ErrIndexOutOfRange},
		{"p 2", session.ErrClipNotFound},
		{"preview", session.ErrClipNotFound},
	}
	for _, tt := range tests {
		t.Run(tt.line, func(t *testing.T) {
			if _, err := c.Exec(ctx, tt.line); !errors.Is(err, tt.want) {
				t.Errorf("Exec(%q) = %v, want %v", tt.line, err, tt.want)
			}
		})
	}
}

func TestConsole_Run(t *testing.T) {
	c, out := newConsole(t)

	in := strings.NewReader("r\nr\nr\nr\nq\n")
	if err := c.Run(context.Background(), in); err != nil {
		t.Fatalf("Run failed: %v", err)
	}

	for _, want := range []string{"1st take: Say hello", "Captured take 1", "Captured take 2", "All takes captured"} {
		if !strings.Contains(out.String(), want) {
			t.Errorf("Output missing %q:\n%s", want, out.String())
		}
	}
}

func TestConsole_RunStopsOnCancel(t *testing.T) {
	c, _ := newConsole(t)
	ctx, cancel := context.WithCancel(context.Background())

	// A reader that never returns keeps the scanner blocked.
	blocked, unblock := newBlockingReader()
	t.Cleanup(unblock)
	done := make(chan error, 1)
	go func() { done <- c.Run(ctx, blocked) }()

	cancel()
	select {
	case err := <-done:
		if err != nil {
			t.Errorf("Run returned %v", err)
		}
	case <-time.After(time.Second):
		t.Fatal("Run did not return after cancel")
	}
}

func TestConsole_Watch(t *testing.T) {
	c, out := newConsole(t)
	c.tty = true

	events := make(chan notify.Event, 3)
	events <- notify.Event{Kind: notify.KindElapsed, Elapsed: 3 * time.Second}
	events <- notify.Event{Kind: notify.KindPlaybackCompleted, ClipID: "clip_0"}
	events <- notify.Event{Kind: notify.KindRouteChanged}
	close(events)

	c.Watch(events)

	got := out.String()
	if !strings.Contains(got, "00:03") {
		t.Errorf("Elapsed not shown: %q", got)
	}
	if !strings.Contains(got, "clip_0 finished") {
		t.Errorf("Completion not shown: %q", got)
	}
}

func TestDescribe(t *testing.T) {
	tests := []struct {
		err  error
		want string
	}{
		{session.NewError(session.ErrPermissionDenied, "recorder", "start"), "denied"},
		{fmt.Errorf("wrapped: %w", session.ErrInvalidState), "redo"},
		{session.ErrClipNotFound, "No such take or clip"},
		{errors.New("boom"), "boom"},
	}
	for _, tt := range tests {
		if got := describe(tt.err); !strings.Contains(got, tt.want) {
			t.Errorf("describe(%v) = %q, want it to contain %q", tt.err, got, tt.want)
		}
	}
}

type blockingReader struct {
	unblock chan struct{}
}

func newBlockingReader() (*blockingReader, func()) {
	r := &blockingReader{unblock: make(chan struct{})}
	return r, func() { close(r.unblock) }
}

func (r *blockingReader) Read([]byte) (int, error) {
	<-r.unblock
	return 0, nil
}
