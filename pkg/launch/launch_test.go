package launch

import (
	"context"
	"net"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func TestResolveDeckLocal(t *testing.T) {
	dir := t.TempDir()
	p := filepath.Join(dir, "talk.pdf")
	if err := os.WriteFile(p, []byte("%PDF"), 0o644); err != nil {
		t.Fatal(err)
	}

	got, err := ResolveDeck(context.Background(), p, t.TempDir())
	if err != nil {
		t.Fatal(err)
	}
	if got != p {
		t.Fatalf("got %q, want %q", got, p)
	}
}

func TestResolveDeckLocalMissing(t *testing.T) {
	_, err := ResolveDeck(context.Background(), "/no/such/deck.pdf", t.TempDir())
	if err == nil {
		t.Fatal("expected error")
	}
}

func TestResolveDeckHTTP(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if strings.HasSuffix(r.URL.Path, "talk.pdf") {
			w.Write([]byte("remote deck"))
			return
		}
		http.NotFound(w, r)
	}))
	defer ts.Close()

	got, err := ResolveDeck(context.Background(), ts.URL+"/decks/talk.pdf", t.TempDir())
	if err != nil {
		t.Fatal(err)
	}
	data, err := os.ReadFile(got)
	if err != nil {
		t.Fatal(err)
	}
	if string(data) != "remote deck" {
		t.Fatalf("got %q", data)
	}
}

func TestResolveDeckUnknownScheme(t *testing.T) {
	_, err := ResolveDeck(context.Background(), "ftp://host/deck.pdf", t.TempDir())
	if err == nil {
		t.Fatal("expected error")
	}
}

func TestWaitPort(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatal(err)
	}
	defer ln.Close()

	if err := WaitPort(context.Background(), ln.Addr().String(), time.Second); err != nil {
		t.Fatal(err)
	}
}

func TestWaitPortTimesOut(t *testing.T) {
	err := WaitPort(context.Background(), "127.0.0.1:1", 300*time.Millisecond)
	if err == nil {
		t.Fatal("expected timeout error")
	}
}

func TestStartAllRunsAndStops(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	marker := filepath.Join(t.TempDir(), "started")
	g, err := StartAll(ctx, []Server{{
		Name:    "fake-server",
		Command: []string{"sh", "-c", "touch " + marker + " && sleep 30"},
	}})
	if err != nil {
		t.Fatal(err)
	}
	defer g.Stop()

	deadline := time.Now().Add(2 * time.Second)
	for {
		if _, err := os.Stat(marker); err == nil {
			break
		}
		if time.Now().After(deadline) {
			t.Fatal("process never started")
		}
		time.Sleep(10 * time.Millisecond)
	}
	g.Stop()
}

func TestStartAllBadBinary(t *testing.T) {
	_, err := StartAll(context.Background(), []Server{
		{Name: "broken", Command: []string{"/no/such/binary"}},
	})
	if err == nil {
		t.Fatal("expected error")
	}
}

func TestStartAllEmptyCommand(t *testing.T) {
	_, err := StartAll(context.Background(), []Server{{Name: "empty"}})
	if err == nil {
		t.Fatal("expected error")
	}
}

func TestWaitPortHonorsContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	err := WaitPort(ctx, "127.0.0.1:1", 10*time.Second)
	if err == nil {
		t.Fatal("expected context error")
	}
}
