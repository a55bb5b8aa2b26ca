//go:build nocgo
// +build nocgo

package audio

import (
	"context"
	"errors"

	"github.com/dgnsrekt/voicebooth/internal/device"
)

var errNoCGO = errors.New("built without cgo audio support")

// OtoOutput is unavailable in nocgo builds.
type OtoOutput struct{}

// GetOtoOutput always fails in nocgo builds.
func GetOtoOutput() (*OtoOutput, error) {
	return nil, errNoCGO
}

// Route always fails in nocgo builds.
func (o *OtoOutput) Route(context.Context, device.Mode) error {
	return errNoCGO
}

// NewStream always fails in nocgo builds.
func (o *OtoOutput) NewStream([]byte) (Stream, error) {
	return nil, errNoCGO
}

// MalgoCapture is unavailable in nocgo builds.
type MalgoCapture struct{}

// NewMalgoCapture always fails in nocgo builds.
func NewMalgoCapture() (*MalgoCapture, error) {
	return nil, errNoCGO
}

// HasInputDevice always fails in nocgo builds.
func (c *MalgoCapture) HasInputDevice(context.Context) (bool, error) {
	return false, errNoCGO
}

// Open always fails in nocgo builds.
func (c *MalgoCapture) Open(context.Context) (CaptureStream, error) {
	return nil, errNoCGO
}

// Close is a no-op in nocgo builds.
func (c *MalgoCapture) Close() error {
	return nil
}
