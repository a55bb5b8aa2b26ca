package media

import (
	"errors"
	"fmt"
	"sync"

	"github.com/charmbracelet/log"
)

// Options configures a Tiered store.
type Options struct {
	// Dir is where the scratch directory is created. Empty uses the system
	// temp dir.
	Dir string
	// MemoryCapacity bounds the memory tier in bytes.
	MemoryCapacity int64
	// DiskCapacity bounds the disk tier in bytes. 0 means unbounded.
	DiskCapacity int64
	// CompressionLevel is the zstd level for the disk tier. 0 disables it.
	CompressionLevel int
}

// DefaultOptions returns the default store options.
func DefaultOptions() Options {
	return Options{
		MemoryCapacity:   64 << 20,
		CompressionLevel: 3,
	}
}

// Tiered keeps every item on disk and the most recently used ones in memory.
type Tiered struct {
	memory *MemoryStore
	disk   *DiskStore

	mu         sync.Mutex
	promotions int64
	closeOnce  sync.Once
	closeErr   error
}

// New creates a Tiered store.
func New(opts Options) (*Tiered, error) {
	disk, err := NewDiskStore(opts.Dir, opts.DiskCapacity, opts.CompressionLevel)
	if err != nil {
		return nil, err
	}
	return &Tiered{
		memory: NewMemoryStore(opts.MemoryCapacity),
		disk:   disk,
	}, nil
}

// Put implements Store.
func (t *Tiered) Put(pcm []byte) (Handle, error) {
	h := NewHandle()
	if err := t.PutAs(h, pcm); err != nil {
		return "", err
	}
	return h, nil
}

// PutAs implements Store. The disk write must succeed; the memory copy is
// best effort.
func (t *Tiered) PutAs(h Handle, pcm []byte) error {
	if err := t.disk.PutAs(h, pcm); err != nil {
		return fmt.Errorf("store media: %w", err)
	}
	if err := t.memory.PutAs(h, pcm); err != nil && !errors.Is(err, ErrItemTooLarge) {
		log.Debug("Memory tier rejected media", "handle", h, "error", err)
	}
	return nil
}

// Get implements Store.
func (t *Tiered) Get(h Handle) ([]byte, error) {
	if data, err := t.memory.Get(h); err == nil {
		return data, nil
	}

	data, err := t.disk.Get(h)
	if err != nil {
		return nil, err
	}

	// Promote for faster future access
	if err := t.memory.PutAs(h, data); err == nil {
		t.mu.Lock()
		t.promotions++
		t.mu.Unlock()
	}
	return data, nil
}

// Delete implements Store.
func (t *Tiered) Delete(h Handle) error {
	_ = t.memory.Delete(h)
	return t.disk.Delete(h)
}

// Close releases both tiers.
func (t *Tiered) Close() error {
	t.closeOnce.Do(func() {
		_ = t.memory.Close()
		t.closeErr = t.disk.Close()
	})
	return t.closeErr
}

// Dir returns the disk tier's scratch directory.
func (t *Tiered) Dir() string {
	return t.disk.Dir()
}

// TieredStats reports both tiers.
type TieredStats struct {
	Memory     Stats
	Disk       Stats
	Promotions int64
}

// Stats returns metrics for both tiers.
func (t *Tiered) Stats() TieredStats {
	t.mu.Lock()
	promotions := t.promotions
	t.mu.Unlock()
	return TieredStats{
		Memory:     t.memory.Stats(),
		Disk:       t.disk.Stats(),
		Promotions: promotions,
	}
}
