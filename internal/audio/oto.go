//go:build !nocgo
// +build !nocgo

package audio

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"runtime"
	"sync"
	"sync/atomic"
	"time"

	"github.com/charmbracelet/log"
	"github.com/ebitengine/oto/v3"

	"github.com/dgnsrekt/voicebooth/internal/device"
)

// Format specifies the oto sample format.
const Format = oto.FormatSignedInt16LE

// drainPollInterval is how often a stream checks whether its data has played out.
const drainPollInterval = 20 * time.Millisecond

var (
	globalOutput *OtoOutput
	outputOnce   sync.Once
	outputErr    error
)

// OtoOutput plays streams through the process-wide oto context. oto allows
// only one context per process, so it is created once and shared.
type OtoOutput struct {
	context   *oto.Context
	mu        sync.Mutex
	suspended bool
}

// GetOtoOutput returns the global oto output, initializing it if needed.
func GetOtoOutput() (*OtoOutput, error) {
	outputOnce.Do(func() {
		globalOutput, outputErr = newOtoOutput()
	})
	if outputErr != nil {
		return nil, outputErr
	}
	return globalOutput, nil
}

func newOtoOutput() (*OtoOutput, error) {
	options := &oto.NewContextOptions{
		SampleRate:   SampleRate,
		ChannelCount: Channels,
		Format:       Format,
	}

	// Platform-specific buffer size adjustments
	switch runtime.GOOS {
	case "darwin":
		options.BufferSize = 100 * time.Millisecond
	case "windows":
		options.BufferSize = 80 * time.Millisecond
	default:
		options.BufferSize = 50 * time.Millisecond
	}

	log.Debug("Initializing oto audio context",
		"sample_rate", options.SampleRate,
		"channels", options.ChannelCount,
		"buffer_size", options.BufferSize)

	ctx, readyChan, err := oto.NewContext(options)
	if err != nil {
		return nil, fmt.Errorf("failed to create audio context: %w", err)
	}

	select {
	case <-readyChan:
	case <-time.After(5 * time.Second):
		return nil, errors.New("audio context initialization timeout")
	}

	log.Debug("Oto audio context ready")
	return &OtoOutput{context: ctx}, nil
}

// Route suspends output while the device is routed for capture and resumes
// it for playback.
func (o *OtoOutput) Route(_ context.Context, mode device.Mode) error {
	o.mu.Lock()
	defer o.mu.Unlock()

	switch mode {
	case device.ModeRecordReady:
		if o.suspended {
			return nil
		}
		if err := o.context.Suspend(); err != nil {
			return fmt.Errorf("suspend output: %w", err)
		}
		o.suspended = true
	case device.ModePlaybackReady:
		if !o.suspended {
			return nil
		}
		if err := o.context.Resume(); err != nil {
			return fmt.Errorf("resume output: %w", err)
		}
		o.suspended = false
	default:
		return fmt.Errorf("%w: %v", device.ErrInvalidMode, mode)
	}
	return nil
}

// NewStream creates a paused stream over a copy of pcm.
func (o *OtoOutput) NewStream(pcm []byte) (Stream, error) {
	if err := ValidatePCM(pcm); err != nil {
		return nil, err
	}

	// Keep our own copy alive for the lifetime of the player.
	data := make([]byte, len(pcm))
	copy(data, pcm)
	reader := newTrackingReader(data)

	o.mu.Lock()
	player := o.context.NewPlayer(reader)
	o.mu.Unlock()

	s := &otoStream{
		player: player,
		reader: reader,
		done:   make(chan struct{}),
		stop:   make(chan struct{}),
	}
	go s.watch()
	return s, nil
}

// trackingReader wraps a bytes.Reader so the remaining length can be read
// while oto consumes it from its own goroutine.
type trackingReader struct {
	mu     sync.Mutex
	reader *bytes.Reader
}

func newTrackingReader(data []byte) *trackingReader {
	return &trackingReader{reader: bytes.NewReader(data)}
}

func (r *trackingReader) Read(p []byte) (int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.reader.Read(p)
}

func (r *trackingReader) Remaining() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.reader.Len()
}

type otoStream struct {
	player *oto.Player
	reader *trackingReader

	started atomic.Bool
	paused  atomic.Bool
	closed  atomic.Bool

	done      chan struct{}
	stop      chan struct{}
	doneOnce  sync.Once
	closeOnce sync.Once
}

func (s *otoStream) Play() {
	if s.closed.Load() {
		return
	}
	s.paused.Store(false)
	s.started.Store(true)
	s.player.Play()
}

func (s *otoStream) Pause() {
	if s.closed.Load() {
		return
	}
	s.paused.Store(true)
	s.player.Pause()
}

func (s *otoStream) IsPlaying() bool {
	return !s.closed.Load() && s.player.IsPlaying()
}

func (s *otoStream) Done() <-chan struct{} {
	return s.done
}

// watch closes done once every byte was handed to oto and the player drained.
func (s *otoStream) watch() {
	ticker := time.NewTicker(drainPollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-s.stop:
			return
		case <-ticker.C:
			if !s.started.Load() || s.paused.Load() {
				continue
			}
			if s.reader.Remaining() == 0 && !s.player.IsPlaying() {
				s.doneOnce.Do(func() { close(s.done) })
				return
			}
		}
	}
}

func (s *otoStream) Close() error {
	var err error
	s.closeOnce.Do(func() {
		s.closed.Store(true)
		close(s.stop)
		s.player.Pause()
		err = s.player.Close()
	})
	return err
}
