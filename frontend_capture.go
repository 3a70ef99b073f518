package cachemanager

import (
	"bytes"
	"context"
	"encoding/hex"
	"errors"
	"io"
)

// Capture is a page frontend: it serves cached output or captures freshly
// rendered output into the cache. Pair it with the Static backend.
type Capture struct {
	*Core
}

func newCaptureFrontend(backend Backend, opts Options) (Frontend, error) {
	core, err := NewCore(backend, opts)
	if err != nil {
		return nil, err
	}
	return &Capture{Core: core}, nil
}

// PageID returns the cache id for a request URI. Static decodes it back
// into a file path under its public directory.
func PageID(uri string) string {
	return hex.EncodeToString([]byte(uri))
}

// Capture writes the page cached under id to w. On a miss it calls render
// with a writer teeing to w and then stores what was rendered under tags.
// hit reports whether the cached copy was served.
func (c *Capture) Capture(ctx context.Context, id string, tags []string, w io.Writer, render func(io.Writer) error) (hit bool, err error) {
	if render == nil {
		return false, errors.New("cache capture requires a render callback")
	}
	body, ok, err := c.Load(ctx, id)
	if err != nil {
		return false, err
	}
	if ok {
		_, err := w.Write(body)
		return true, err
	}
	var buf bytes.Buffer
	if err := render(io.MultiWriter(w, &buf)); err != nil {
		return false, err
	}
	return false, c.Save(ctx, id, buf.Bytes(), tags, DefaultLifetime)
}
