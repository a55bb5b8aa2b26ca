// Package media stores the PCM behind every recorded take and bundled clip.
//
// Audio is addressed by an opaque Handle. A Tiered store keeps recently used
// audio in a memory LRU and spills everything to a zstd-compressed scratch
// directory that is removed when the store is closed.
package media
