package media

import (
	"errors"
	"time"

	"github.com/google/uuid"
)

var (
	// ErrNotFound is returned when a handle has no stored media.
	ErrNotFound = errors.New("media not found")

	// ErrItemTooLarge is returned when an item exceeds the store capacity.
	ErrItemTooLarge = errors.New("item too large for store")

	// ErrClosed is returned for operations on a closed store.
	ErrClosed = errors.New("media store is closed")

	// ErrInvalidHandle is returned for the zero handle.
	ErrInvalidHandle = errors.New("invalid media handle")
)

// Handle is an opaque reference to stored media.
type Handle string

// NewHandle returns a fresh random handle.
func NewHandle() Handle {
	return Handle(uuid.NewString())
}

// String implements fmt.Stringer.
func (h Handle) String() string {
	return string(h)
}

// IsZero reports whether h is the empty handle.
func (h Handle) IsZero() bool {
	return h == ""
}

// Clip is a playable piece of stored audio.
type Clip struct {
	ID       string
	Media    Handle
	Duration time.Duration
}

// Level identifies a storage tier.
type Level int

const (
	// LevelMemory is the in-memory LRU.
	LevelMemory Level = iota

	// LevelDisk is the compressed scratch directory.
	LevelDisk

	// LevelTiered is the combined store.
	LevelTiered
)

func (l Level) String() string {
	switch l {
	case LevelMemory:
		return "memory"
	case LevelDisk:
		return "disk"
	case LevelTiered:
		return "tiered"
	default:
		return "unknown"
	}
}

// Stats holds store metrics.
type Stats struct {
	Level     Level
	Capacity  int64 // 0 means unbounded
	Size      int64 // bytes held by this tier
	Items     int64
	Hits      int64
	Misses    int64
	Evictions int64
}

// HitRate returns hits / (hits + misses).
func (s Stats) HitRate() float64 {
	if s.Hits+s.Misses == 0 {
		return 0
	}
	return float64(s.Hits) / float64(s.Hits+s.Misses)
}

// Store keeps PCM addressed by handle.
type Store interface {
	// Put stores pcm under a new handle.
	Put(pcm []byte) (Handle, error)
	// PutAs stores pcm under h, replacing what was there.
	PutAs(h Handle, pcm []byte) error
	// Get returns the stored pcm or ErrNotFound.
	Get(h Handle) ([]byte, error)
	// Delete removes h. Deleting an unknown handle is not an error.
	Delete(h Handle) error
	// Close releases the store and everything in it.
	Close() error
}
