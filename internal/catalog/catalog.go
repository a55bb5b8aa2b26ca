// Package catalog exposes bundled sample clips that can be auditioned next
// to captured takes. Clips are read from a directory on demand and kept in
// the session media store once loaded.
package catalog

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/charmbracelet/log"
	"github.com/dustin/go-humanize"
	"github.com/fsnotify/fsnotify"
	"github.com/mitchellh/go-homedir"

	"github.com/dgnsrekt/voicebooth/internal/audio"
	"github.com/dgnsrekt/voicebooth/internal/media"
)

// DefaultID is the clip used when a requested clip is unknown and fallback
// is enabled. A generated tone stands in when the directory has no default file.
const DefaultID = "default"

const builtinToneFreq = 440

var builtinDuration = 1500 * time.Millisecond

// ErrNoDirectory is returned by Watch when the catalog has no directory.
var ErrNoDirectory = errors.New("catalog has no directory")

var extensions = map[string]bool{
	".wav": true,
	".pcm": true,
	".raw": true,
}

// Entry describes one catalog clip.
type Entry struct {
	ID      string
	Title   string
	Path    string
	Size    int64
	Builtin bool
}

// Catalog resolves catalog clip IDs to stored media.
type Catalog struct {
	dir      string
	store    media.Store
	fallback bool

	mu      sync.RWMutex
	entries map[string]Entry
	loaded  map[string]media.Clip
	reloads int
}

// Option configures a Catalog.
type Option func(*Catalog)

// WithFallback makes unknown IDs resolve to DefaultID.
func WithFallback(enabled bool) Option {
	return func(c *Catalog) {
		c.fallback = enabled
	}
}

// New creates a catalog over dir. An empty dir yields a catalog with only
// the built-in default clip.
func New(dir string, store media.Store, opts ...Option) (*Catalog, error) {
	if dir != "" {
		expanded, err := homedir.Expand(dir)
		if err != nil {
			return nil, fmt.Errorf("expand catalog dir: %w", err)
		}
		dir = expanded
	}

	c := &Catalog{
		dir:     dir,
		store:   store,
		loaded:  make(map[string]media.Clip),
		entries: make(map[string]Entry),
	}
	for _, opt := range opts {
		opt(c)
	}

	if err := c.Reload(); err != nil {
		return nil, err
	}
	return c, nil
}

// Dir returns the expanded catalog directory.
func (c *Catalog) Dir() string {
	return c.dir
}

// Reload rescans the directory and drops every loaded clip.
func (c *Catalog) Reload() error {
	entries, err := c.scan()
	if err != nil {
		return err
	}

	c.mu.Lock()
	stale := c.loaded
	c.entries = entries
	c.loaded = make(map[string]media.Clip)
	c.reloads++
	c.mu.Unlock()

	for id, clip := range stale {
		if err := c.store.Delete(clip.Media); err != nil && !errors.Is(err, media.ErrNotFound) {
			log.Debug("Failed to drop catalog clip", "id", id, "error", err)
		}
	}

	log.Debug("Catalog loaded", "dir", c.dir, "entries", len(entries))
	return nil
}

func (c *Catalog) scan() (map[string]Entry, error) {
	entries := make(map[string]Entry)

	if c.dir != "" {
		files, err := os.ReadDir(c.dir)
		switch {
		case errors.Is(err, os.ErrNotExist):
			log.Debug("Catalog directory missing", "dir", c.dir)
		case err != nil:
			return nil, fmt.Errorf("read catalog dir: %w", err)
		}

		for _, f := range files {
			if f.IsDir() || !extensions[strings.ToLower(filepath.Ext(f.Name()))] {
				continue
			}
			info, err := f.Info()
			if err != nil {
				continue
			}
			id := clipID(f.Name())
			entries[id] = Entry{
				ID:    id,
				Title: title(id),
				Path:  filepath.Join(c.dir, f.Name()),
				Size:  info.Size(),
			}
		}
	}

	if _, ok := entries[DefaultID]; !ok {
		entries[DefaultID] = Entry{ID: DefaultID, Title: title(DefaultID), Builtin: true}
	}
	return entries, nil
}

// Entries returns all clips sorted by ID.
func (c *Catalog) Entries() []Entry {
	c.mu.RLock()
	defer c.mu.RUnlock()

	out := make([]Entry, 0, len(c.entries))
	for _, e := range c.entries {
		out = append(out, e)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// Reloads returns how many times the directory was scanned.
func (c *Catalog) Reloads() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.reloads
}

// Lookup resolves id, loading the clip into the store on first use.
func (c *Catalog) Lookup(id string) (media.Clip, bool) {
	c.mu.RLock()
	clip, ok := c.loaded[id]
	entry, known := c.entries[id]
	c.mu.RUnlock()
	if ok {
		return clip, true
	}

	if !known {
		if !c.fallback || id == DefaultID {
			return media.Clip{}, false
		}
		log.Debug("Unknown catalog clip, using default", "id", id)
		return c.Lookup(DefaultID)
	}

	clip, err := c.load(entry)
	if err != nil {
		log.Warn("Failed to load catalog clip", "id", id, "path", entry.Path, "error", err)
		return media.Clip{}, false
	}

	c.mu.Lock()
	// A concurrent lookup may have won; keep the first and drop ours.
	if existing, ok := c.loaded[id]; ok {
		c.mu.Unlock()
		_ = c.store.Delete(clip.Media)
		return existing, true
	}
	if current, ok := c.entries[id]; !ok || current != entry {
		// Reloaded while loading
		c.mu.Unlock()
		_ = c.store.Delete(clip.Media)
		return c.Lookup(id)
	}
	c.loaded[id] = clip
	c.mu.Unlock()

	return clip, true
}

func (c *Catalog) load(e Entry) (media.Clip, error) {
	var pcm []byte
	if e.Builtin {
		pcm = audio.GenerateTone(builtinDuration, builtinToneFreq)
	} else {
		data, err := os.ReadFile(e.Path)
		if err != nil {
			return media.Clip{}, err
		}
		if audio.IsWAV(data) {
			if data, err = audio.DecodeWAV(data); err != nil {
				return media.Clip{}, err
			}
		}
		if err := audio.ValidatePCM(data); err != nil {
			return media.Clip{}, err
		}
		pcm = data
	}

	h, err := c.store.Put(pcm)
	if err != nil {
		return media.Clip{}, fmt.Errorf("store catalog clip: %w", err)
	}

	log.Debug("Catalog clip loaded", "id", e.ID, "size", humanize.Bytes(uint64(len(pcm))))
	return media.Clip{ID: e.ID, Media: h, Duration: audio.Duration(pcm)}, nil
}

// Watch reloads the catalog whenever an audio file in the directory changes.
// It blocks until ctx is done.
func (c *Catalog) Watch(ctx context.Context) error {
	if c.dir == "" {
		return ErrNoDirectory
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("create catalog watcher: %w", err)
	}
	defer watcher.Close()

	if err := watcher.Add(c.dir); err != nil {
		return fmt.Errorf("watch catalog dir: %w", err)
	}
	log.Info("fsnotify watching dir", "dir", c.dir)

	for {
		select {
		case <-ctx.Done():
			return nil
		case event, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if !extensions[strings.ToLower(filepath.Ext(event.Name))] {
				continue
			}
			if !event.Has(fsnotify.Write) && !event.Has(fsnotify.Create) &&
				!event.Has(fsnotify.Remove) && !event.Has(fsnotify.Rename) {
				continue
			}

			log.Debug("fsnotify event", "file", event.Name, "event", event.Op)
			if err := c.Reload(); err != nil {
				log.Error("Catalog reload failed", "error", err)
			}
		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			log.Debug("fsnotify error", "dir", c.dir, "error", err)
		}
	}
}

func clipID(name string) string {
	return strings.ToLower(strings.TrimSuffix(name, filepath.Ext(name)))
}

func title(id string) string {
	words := strings.FieldsFunc(id, func(r rune) bool { return r == '_' || r == '-' || r == ' ' })
	for i, w := range words {
		words[i] = strings.ToUpper(w[:1]) + w[1:]
	}
	return strings.Join(words, " ")
}
