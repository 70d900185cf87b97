// Package media converts uploaded design images into the transport encoding
// the AI providers accept, and downscales oversized uploads before they are
// persisted.
package media

import (
	"encoding/base64"
	"errors"
	"fmt"
	"net/http"
	"os"
	"strings"
	"sync"
)

// ErrUnsupportedFormat marks files whose content is not a recognized image.
var ErrUnsupportedFormat = errors.New("unsupported image format")

// EncodingError reports a file that could not be read or encoded. Other
// images in the same request may still proceed.
type EncodingError struct {
	Path string
	Err  error
}

func (e *EncodingError) Error() string {
	return fmt.Sprintf("encoding image %s: %v", e.Path, e.Err)
}

func (e *EncodingError) Unwrap() error { return e.Err }

var supportedTypes = map[string]bool{
	"image/jpeg": true,
	"image/png":  true,
	"image/gif":  true,
	"image/webp": true,
}

type cacheKey struct {
	path string
	size int64
}

// Codec produces base64 transport encodings of image files, memoized by
// (path, size) in a bounded LRU. The cache is shared across all students in
// the process; eviction only forces recomputation on the next call.
type Codec struct {
	mu       sync.Mutex
	capacity int
	entries  map[cacheKey]string
	order    []cacheKey // access order, least recently used first
}

// NewCodec creates a Codec whose cache holds at most capacity encodings.
// If capacity <= 0 a default of 50 is used.
func NewCodec(capacity int) *Codec {
	if capacity <= 0 {
		capacity = 50
	}
	return &Codec{
		capacity: capacity,
		entries:  make(map[cacheKey]string),
	}
}

// Encode returns the base64 encoding of the file's bytes. A cache hit by
// (path, size) skips re-reading the file; a size change bypasses the stale
// entry and recomputes.
func (c *Codec) Encode(path string) (string, error) {
	info, err := os.Stat(path)
	if err != nil {
		return "", &EncodingError{Path: path, Err: err}
	}
	key := cacheKey{path: path, size: info.Size()}

	if enc, ok := c.get(key); ok {
		return enc, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return "", &EncodingError{Path: path, Err: err}
	}
	if _, err := Sniff(data); err != nil {
		return "", &EncodingError{Path: path, Err: err}
	}

	enc := base64.StdEncoding.EncodeToString(data)
	c.put(key, enc)
	return enc, nil
}

// Sniff detects the media type of raw bytes. Content outside the accepted
// image formats fails with ErrUnsupportedFormat.
func Sniff(data []byte) (string, error) {
	contentType := http.DetectContentType(data)
	if i := strings.Index(contentType, ";"); i >= 0 {
		contentType = contentType[:i]
	}
	if !supportedTypes[contentType] {
		return "", fmt.Errorf("detected %s: %w", contentType, ErrUnsupportedFormat)
	}
	return contentType, nil
}

func (c *Codec) get(key cacheKey) (string, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	enc, ok := c.entries[key]
	if ok {
		c.touch(key)
	}
	return enc, ok
}

func (c *Codec) put(key cacheKey, enc string) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if _, exists := c.entries[key]; !exists && len(c.entries) >= c.capacity {
		evict := c.order[0]
		c.order = c.order[1:]
		delete(c.entries, evict)
	}
	c.entries[key] = enc
	c.touch(key)
}

// touch moves key to the most-recently-used end. Callers hold c.mu.
func (c *Codec) touch(key cacheKey) {
	for i, k := range c.order {
		if k == key {
			c.order = append(c.order[:i], c.order[i+1:]...)
			break
		}
	}
	c.order = append(c.order, key)
}
