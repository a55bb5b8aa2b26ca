package audio

import (
	"context"
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/charmbracelet/log"

	"github.com/dgnsrekt/voicebooth/internal/device"
)

// Audio format used for capture and playback.
const (
	// SampleRate is the audio sample rate in Hz.
	SampleRate = 44100
	// Channels is the number of audio channels (1 = mono).
	Channels = 1
	// BitDepth is the bit depth per sample.
	BitDepth = 16
	// BytesPerSample is the number of bytes per sample.
	BytesPerSample = BitDepth / 8
)

var (
	// ErrBackendUnavailable is returned when no hardware backend can be created.
	ErrBackendUnavailable = errors.New("audio backend unavailable")
	// ErrStreamClosed is returned for operations on a closed stream.
	ErrStreamClosed = errors.New("audio stream is closed")
	// ErrEmptyAudio is returned when a stream is created without data.
	ErrEmptyAudio = errors.New("empty audio data")
	// ErrInvalidAudioFormat is returned for PCM data that is not 16-bit aligned.
	ErrInvalidAudioFormat = errors.New("invalid audio format")
)

// Stream is a single playback stream.
type Stream interface {
	// Play starts or resumes playback.
	Play()
	// Pause pauses playback.
	Pause()
	// IsPlaying returns whether audio is currently audible.
	IsPlaying() bool
	// Done is closed once the stream reaches the end of its data.
	Done() <-chan struct{}
	// Close stops playback and releases the stream.
	Close() error
}

// Output creates playback streams.
type Output interface {
	NewStream(pcm []byte) (Stream, error)
}

// CaptureStream is a single in-progress capture.
type CaptureStream interface {
	// Start begins capturing.
	Start() error
	// Stop ends the capture and returns the recorded PCM data.
	Stop() ([]byte, error)
}

// Capture opens capture streams.
type Capture interface {
	Open(ctx context.Context) (CaptureStream, error)
	// HasInputDevice reports whether an input device can be used.
	HasInputDevice(ctx context.Context) (bool, error)
}

// Backend bundles the routing, output and capture implementations that
// share one physical device.
type Backend struct {
	Name    string
	Router  device.Router
	Output  Output
	Capture Capture
}

// Kind selects a backend implementation.
type Kind int

const (
	// KindAuto uses hardware when available and falls back to mocks.
	KindAuto Kind = iota
	// KindHardware requires the oto/malgo backend.
	KindHardware
	// KindMock uses simulated audio.
	KindMock
)

// ParseKind converts a config value into a Kind.
func ParseKind(s string) (Kind, error) {
	switch s {
	case "", "auto":
		return KindAuto, nil
	case "hardware", "oto":
		return KindHardware, nil
	case "mock":
		return KindMock, nil
	default:
		return KindAuto, fmt.Errorf("unknown audio backend %q", s)
	}
}

// IsCI detects if we're running in a CI environment.
func IsCI() bool {
	ciVars := []string{
		"CI",
		"CONTINUOUS_INTEGRATION",
		"GITHUB_ACTIONS",
		"GITLAB_CI",
		"JENKINS_URL",
		"BUILDKITE",
	}

	for _, envVar := range ciVars {
		if val := os.Getenv(envVar); val != "" && val != "false" {
			log.Debug("CI environment detected", "variable", envVar)
			return true
		}
	}
	return false
}

// NewBackend creates a backend of the requested kind.
func NewBackend(kind Kind) (*Backend, error) {
	switch kind {
	case KindMock:
		log.Debug("Creating mock audio backend")
		return NewMockBackend(), nil

	case KindHardware:
		return newHardwareBackend()

	case KindAuto:
		if IsCI() {
			log.Info("Using mock audio backend", "reason", "CI environment")
			return NewMockBackend(), nil
		}
		b, err := newHardwareBackend()
		if err != nil {
			log.Warn("Failed to create hardware audio backend, falling back to mock", "error", err)
			return NewMockBackend(), nil
		}
		return b, nil

	default:
		return nil, fmt.Errorf("unknown audio backend kind: %v", kind)
	}
}

func newHardwareBackend() (*Backend, error) {
	out, err := GetOtoOutput()
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrBackendUnavailable, err)
	}
	capture, err := NewMalgoCapture()
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrBackendUnavailable, err)
	}
	return &Backend{
		Name:    "hardware",
		Router:  out,
		Output:  out,
		Capture: capture,
	}, nil
}

// Duration returns the playback duration of 16-bit mono PCM data.
func Duration(pcm []byte) time.Duration {
	samples := len(pcm) / (BytesPerSample * Channels)
	return time.Duration(samples) * time.Second / SampleRate
}

// ValidatePCM checks that data is non-empty and sample aligned.
func ValidatePCM(pcm []byte) error {
	if len(pcm) == 0 {
		return ErrEmptyAudio
	}
	if len(pcm)%BytesPerSample != 0 {
		return fmt.Errorf("%w: %d bytes is not %d-bit aligned", ErrInvalidAudioFormat, len(pcm), BitDepth)
	}
	return nil
}
