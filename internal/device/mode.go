package device

import "errors"

// Mode represents the routing the device is bound in.
type Mode int

const (
	// ModeIdle indicates no holder is bound.
	ModeIdle Mode = iota
	// ModeRecordReady routes the device for capture.
	ModeRecordReady
	// ModePlaybackReady routes the device to the main output.
	ModePlaybackReady
)

// String returns the string representation of the mode.
func (m Mode) String() string {
	switch m {
	case ModeIdle:
		return "idle"
	case ModeRecordReady:
		return "record-ready"
	case ModePlaybackReady:
		return "playback-ready"
	default:
		return "unknown"
	}
}

var (
	// ErrDeviceBusy is returned when a handle is already outstanding.
	ErrDeviceBusy = errors.New("audio device is busy")
	// ErrStaleHandle is returned when a handle no longer holds the device.
	ErrStaleHandle = errors.New("device handle is no longer held")
	// ErrRouteFailed is returned when the backend cannot switch routing.
	ErrRouteFailed = errors.New("failed to switch device routing")
	// ErrInvalidMode is returned for routing requests to ModeIdle or unknown modes.
	ErrInvalidMode = errors.New("invalid device mode")
)
