// Package launch prepares a session's external pieces: it resolves the deck
// reference to a local PDF, spawns and supervises configured server
// processes, waits for the perception and presenter servers to accept
// connections, and opens the operator's browser on the UI.
package launch

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/url"
	"os"
	"os/exec"
	"path"
	"path/filepath"
	"runtime"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"

	"github.com/deckd/deckd/pkg/storage"
)

// ResolveDeck fetches the referenced deck to the local filesystem and
// returns its absolute path. Supported forms:
//
//	/path/to/deck.pdf          local file, used in place
//	s3://bucket/key/deck.pdf   fetched through the S3 API
//	https://host/deck.pdf      fetched over HTTP
//
// Remote decks are cached under cacheDir.
func ResolveDeck(ctx context.Context, ref, cacheDir string) (string, error) {
	u, err := url.Parse(ref)
	if err != nil || u.Scheme == "" || u.Scheme == "file" {
		return resolveLocal(strings.TrimPrefix(ref, "file://"))
	}

	cache, err := storage.NewCache(cacheDir)
	if err != nil {
		return "", err
	}

	switch u.Scheme {
	case "s3":
		client := s3.New(s3.Options{
			Region:      "us-east-1",
			Credentials: aws.AnonymousCredentials{},
		})
		src := storage.NewS3(client, u.Host, "")
		return cache.Materialize(ctx, src, strings.TrimPrefix(u.Path, "/"))

	case "http", "https":
		base := u.Scheme + "://" + u.Host + path.Dir(u.Path)
		src := storage.NewHTTP(base, nil)
		return cache.Materialize(ctx, src, path.Base(u.Path))

	default:
		return "", fmt.Errorf("launch: unsupported deck scheme %q", u.Scheme)
	}
}

func resolveLocal(p string) (string, error) {
	abs, err := filepath.Abs(p)
	if err != nil {
		return "", err
	}
	if _, err := os.Stat(abs); err != nil {
		return "", err
	}
	return abs, nil
}

// WaitPort blocks until addr accepts TCP connections or the timeout expires.
func WaitPort(ctx context.Context, addr string, timeout time.Duration) error {
	deadline := time.Now().Add(timeout)
	for {
		conn, err := net.DialTimeout("tcp", addr, time.Second)
		if err == nil {
			conn.Close()
			return nil
		}
		if time.Now().After(deadline) {
			return fmt.Errorf("launch: %s not reachable after %s: %w", addr, timeout, err)
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(250 * time.Millisecond):
		}
	}
}

// WaitAll waits for every address, logging each as it comes up. Addresses
// that stay down are reported together; the caller decides whether that is
// fatal.
func WaitAll(ctx context.Context, timeout time.Duration, addrs ...string) error {
	var down []string
	for _, addr := range addrs {
		if err := WaitPort(ctx, addr, timeout); err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			slog.Warn("server not reachable", "addr", addr)
			down = append(down, addr)
			continue
		}
		slog.Info("server reachable", "addr", addr)
	}
	if len(down) > 0 {
		return errors.New("launch: not reachable: " + strings.Join(down, ", "))
	}
	return nil
}

// OpenBrowser opens the operator's default browser on the given URL.
// Best effort; a headless host just logs the URL.
func OpenBrowser(rawURL string) {
	var cmd *exec.Cmd
	switch runtime.GOOS {
	case "darwin":
		cmd = exec.Command("open", rawURL)
	case "windows":
		cmd = exec.Command("rundll32", "url.dll,FileProtocolHandler", rawURL)
	default:
		cmd = exec.Command("xdg-open", rawURL)
	}
	if err := cmd.Start(); err != nil {
		slog.Info("open this URL in a browser", "url", rawURL)
		return
	}
	go cmd.Wait()
}
