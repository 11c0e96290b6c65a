package storage

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"strings"
)

// HTTP is a Source over a plain web server. Refs are resolved against the
// base URL.
type HTTP struct {
	base   string
	client *http.Client
}

// NewHTTP creates a source rooted at base (e.g. "https://decks.example.com").
func NewHTTP(base string, client *http.Client) *HTTP {
	if client == nil {
		client = http.DefaultClient
	}
	return &HTTP{base: strings.TrimRight(base, "/"), client: client}
}

func (h *HTTP) resolve(ref string) string {
	return h.base + "/" + url.PathEscape(strings.TrimLeft(ref, "/"))
}

// Open implements Source.
func (h *HTTP) Open(ctx context.Context, ref string) (io.ReadCloser, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, h.resolve(ref), nil)
	if err != nil {
		return nil, err
	}
	resp, err := h.client.Do(req)
	if err != nil {
		return nil, err
	}
	switch {
	case resp.StatusCode == http.StatusNotFound:
		resp.Body.Close()
		return nil, fmt.Errorf("storage: open %s: %w", ref, os.ErrNotExist)
	case resp.StatusCode != http.StatusOK:
		resp.Body.Close()
		return nil, fmt.Errorf("storage: open %s: status %d", ref, resp.StatusCode)
	}
	return resp.Body, nil
}

// Exists implements Source.
func (h *HTTP) Exists(ctx context.Context, ref string) (bool, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodHead, h.resolve(ref), nil)
	if err != nil {
		return false, err
	}
	resp, err := h.client.Do(req)
	if err != nil {
		return false, err
	}
	resp.Body.Close()
	switch {
	case resp.StatusCode == http.StatusOK:
		return true, nil
	case resp.StatusCode == http.StatusNotFound:
		return false, nil
	default:
		return false, fmt.Errorf("storage: head %s: status %d", ref, resp.StatusCode)
	}
}

var _ Source = (*HTTP)(nil)
