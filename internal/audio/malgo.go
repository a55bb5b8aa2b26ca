//go:build !nocgo
// +build !nocgo

package audio

import (
	"context"
	"fmt"
	"sync"

	"github.com/charmbracelet/log"
	"github.com/gen2brain/malgo"
)

// MalgoCapture records from the default input device using miniaudio.
type MalgoCapture struct {
	mu  sync.Mutex
	ctx *malgo.AllocatedContext
}

// NewMalgoCapture initializes a miniaudio context for capture.
func NewMalgoCapture() (*MalgoCapture, error) {
	ctx, err := malgo.InitContext(nil, malgo.ContextConfig{}, func(message string) {
		log.Debug("miniaudio", "message", message)
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create capture context: %w", err)
	}
	return &MalgoCapture{ctx: ctx}, nil
}

// HasInputDevice reports whether at least one capture device is present.
func (c *MalgoCapture) HasInputDevice(_ context.Context) (bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	infos, err := c.ctx.Devices(malgo.Capture)
	if err != nil {
		return false, fmt.Errorf("failed to list capture devices: %w", err)
	}
	log.Debug("Capture devices detected", "count", len(infos))
	return len(infos) > 0, nil
}

// Open prepares a capture stream on the default input device.
func (c *MalgoCapture) Open(ctx context.Context) (CaptureStream, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	cfg := malgo.DefaultDeviceConfig(malgo.Capture)
	cfg.Capture.Format = malgo.FormatS16
	cfg.Capture.Channels = Channels
	cfg.SampleRate = SampleRate

	s := &malgoStream{}
	callbacks := malgo.DeviceCallbacks{
		Data: func(_, input []byte, _ uint32) {
			s.mu.Lock()
			s.buf = append(s.buf, input...)
			s.mu.Unlock()
		},
	}

	c.mu.Lock()
	dev, err := malgo.InitDevice(c.ctx.Context, cfg, callbacks)
	c.mu.Unlock()
	if err != nil {
		return nil, fmt.Errorf("failed to open capture device: %w", err)
	}
	s.device = dev
	return s, nil
}

// Close releases the miniaudio context.
func (c *MalgoCapture) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.ctx == nil {
		return nil
	}
	err := c.ctx.Uninit()
	c.ctx.Free()
	c.ctx = nil
	return err
}

type malgoStream struct {
	device *malgo.Device

	mu  sync.Mutex
	buf []byte

	stopOnce sync.Once
	stopErr  error
}

func (s *malgoStream) Start() error {
	if err := s.device.Start(); err != nil {
		return fmt.Errorf("failed to start capture: %w", err)
	}
	return nil
}

func (s *malgoStream) Stop() ([]byte, error) {
	s.stopOnce.Do(func() {
		if err := s.device.Stop(); err != nil {
			s.stopErr = fmt.Errorf("failed to stop capture: %w", err)
		}
		s.device.Uninit()
	})

	s.mu.Lock()
	defer s.mu.Unlock()

	// Drop a trailing partial sample so the result is always aligned.
	n := len(s.buf) - len(s.buf)%BytesPerSample
	out := make([]byte, n)
	copy(out, s.buf[:n])
	return out, s.stopErr
}
