package media

import (
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/charmbracelet/log"
	"github.com/dustin/go-humanize"
	"github.com/klauspost/compress/zstd"
)

// compressThreshold is the smallest payload worth compressing.
const compressThreshold = 1024

// DiskStore keeps media in a private scratch directory, optionally zstd
// compressed. The directory and everything in it is removed on Close.
type DiskStore struct {
	dir      string
	capacity int64 // 0 means unbounded
	size     int64

	encoder *zstd.Encoder
	decoder *zstd.Decoder

	index map[Handle]*diskEntry

	mu     sync.Mutex
	closed bool
	stats  Stats
}

type diskEntry struct {
	path         string
	size         int64 // on disk
	originalSize int64
	stored       time.Time
	lastAccess   time.Time
	compressed   bool
}

// NewDiskStore creates a scratch directory under base (the system temp dir
// when empty). A compressionLevel of 0 stores raw PCM.
func NewDiskStore(base string, capacity int64, compressionLevel int) (*DiskStore, error) {
	if base != "" {
		if err := os.MkdirAll(base, 0o755); err != nil {
			return nil, fmt.Errorf("failed to create media directory: %w", err)
		}
	}
	dir, err := os.MkdirTemp(base, "voicebooth-*")
	if err != nil {
		return nil, fmt.Errorf("failed to create scratch directory: %w", err)
	}

	ds := &DiskStore{
		dir:      dir,
		capacity: capacity,
		index:    make(map[Handle]*diskEntry),
		stats:    Stats{Level: LevelDisk, Capacity: capacity},
	}

	if compressionLevel > 0 {
		ds.encoder, err = zstd.NewWriter(nil,
			zstd.WithEncoderLevel(zstd.EncoderLevelFromZstd(compressionLevel)))
		if err != nil {
			os.RemoveAll(dir)
			return nil, fmt.Errorf("failed to create zstd encoder: %w", err)
		}
		ds.decoder, err = zstd.NewReader(nil)
		if err != nil {
			os.RemoveAll(dir)
			return nil, fmt.Errorf("failed to create zstd decoder: %w", err)
		}
	}

	log.Debug("Media scratch directory created", "dir", dir, "compression", compressionLevel)
	return ds, nil
}

// Dir returns the scratch directory.
func (d *DiskStore) Dir() string {
	return d.dir
}

// Put implements Store.
func (d *DiskStore) Put(pcm []byte) (Handle, error) {
	h := NewHandle()
	if err := d.PutAs(h, pcm); err != nil {
		return "", err
	}
	return h, nil
}

// PutAs implements Store.
func (d *DiskStore) PutAs(h Handle, pcm []byte) error {
	if h.IsZero() {
		return ErrInvalidHandle
	}

	d.mu.Lock()
	defer d.mu.Unlock()

	if d.closed {
		return ErrClosed
	}

	data := pcm
	compressed := false
	if d.encoder != nil && len(pcm) > compressThreshold {
		// Only keep the compressed form if it is actually smaller
		if c := d.encoder.EncodeAll(pcm, nil); len(c) < len(pcm) {
			data = c
			compressed = true
		}
	}
	diskSize := int64(len(data))

	if d.capacity > 0 && diskSize > d.capacity {
		return ErrItemTooLarge
	}

	if existing, ok := d.index[h]; ok {
		d.remove(h, existing)
	}

	for d.capacity > 0 && d.size+diskSize > d.capacity && len(d.index) > 0 {
		d.evictOldest()
	}

	path := filepath.Join(d.dir, h.String()+".pcm")
	if err := writeFile(path, data); err != nil {
		return fmt.Errorf("failed to write media file: %w", err)
	}

	now := time.Now()
	d.index[h] = &diskEntry{
		path:         path,
		size:         diskSize,
		originalSize: int64(len(pcm)),
		stored:       now,
		lastAccess:   now,
		compressed:   compressed,
	}
	d.size += diskSize

	log.Debug("Media stored",
		"handle", h,
		"size", humanize.Bytes(uint64(len(pcm))),
		"on_disk", humanize.Bytes(uint64(diskSize)))
	return nil
}

// Get implements Store.
func (d *DiskStore) Get(h Handle) ([]byte, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.closed {
		return nil, ErrClosed
	}

	entry, ok := d.index[h]
	if !ok {
		d.stats.Misses++
		return nil, ErrNotFound
	}

	data, err := os.ReadFile(entry.path)
	if err != nil {
		d.remove(h, entry)
		d.stats.Misses++
		return nil, fmt.Errorf("%w: %v", ErrNotFound, err)
	}

	if entry.compressed {
		data, err = d.decoder.DecodeAll(data, nil)
		if err != nil {
			d.remove(h, entry)
			d.stats.Misses++
			return nil, fmt.Errorf("%w: corrupted media: %v", ErrNotFound, err)
		}
	}

	entry.lastAccess = time.Now()
	d.stats.Hits++
	return data, nil
}

// Delete implements Store.
func (d *DiskStore) Delete(h Handle) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if entry, ok := d.index[h]; ok {
		d.remove(h, entry)
	}
	return nil
}

// Close removes the scratch directory. It is safe to call more than once.
func (d *DiskStore) Close() error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.closed {
		return nil
	}
	d.closed = true
	d.index = make(map[Handle]*diskEntry)
	d.size = 0

	if d.encoder != nil {
		d.encoder.Close()
	}
	if d.decoder != nil {
		d.decoder.Close()
	}

	if err := os.RemoveAll(d.dir); err != nil {
		return fmt.Errorf("failed to remove scratch directory: %w", err)
	}
	log.Debug("Media scratch directory removed", "dir", d.dir)
	return nil
}

// Stats returns store metrics.
func (d *DiskStore) Stats() Stats {
	d.mu.Lock()
	defer d.mu.Unlock()

	stats := d.stats
	stats.Size = d.size
	stats.Items = int64(len(d.index))
	return stats
}

// remove must be called with lock held.
func (d *DiskStore) remove(h Handle, entry *diskEntry) {
	os.Remove(entry.path)
	delete(d.index, h)
	d.size -= entry.size
}

// evictOldest must be called with lock held.
func (d *DiskStore) evictOldest() {
	var oldest Handle
	var oldestTime time.Time
	for h, entry := range d.index {
		if oldest.IsZero() || entry.lastAccess.Before(oldestTime) {
			oldest = h
			oldestTime = entry.lastAccess
		}
	}
	if !oldest.IsZero() {
		d.remove(oldest, d.index[oldest])
		d.stats.Evictions++
	}
}

// writeFile writes to a temp file first, then renames it into place.
func writeFile(path string, data []byte) error {
	tempPath := path + ".tmp"

	file, err := os.Create(tempPath)
	if err != nil {
		return err
	}

	_, err = file.Write(data)
	closeErr := file.Close()

	if err != nil {
		os.Remove(tempPath)
		return err
	}
	if closeErr != nil {
		os.Remove(tempPath)
		return closeErr
	}
	return os.Rename(tempPath, path)
}
