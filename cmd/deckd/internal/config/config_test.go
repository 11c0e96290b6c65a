package config

import (
	"os"
	"path/filepath"
	"reflect"
	"testing"
	"time"
)

func TestLoadFromMissingGivesDefaults(t *testing.T) {
	cfg, err := LoadFrom(filepath.Join(t.TempDir(), "config.yaml"))
	if err != nil {
		t.Fatal(err)
	}
	def := Default()
	if !reflect.DeepEqual(cfg, def) {
		t.Fatalf("cfg = %+v, want defaults %+v", cfg, def)
	}
	if cfg.UIAddr != ":9001" || cfg.PresenterURL != "ws://127.0.0.1:9002/control" {
		t.Fatalf("defaults = %+v", cfg)
	}
}

func TestLoadFromOverrides(t *testing.T) {
	p := filepath.Join(t.TempDir(), "config.yaml")
	raw := `
audio_url: ws://stt.local:2700
deck: s3://decks/q3.pdf
servers:
  - name: gesture
    command: [python3, gesture_server.py]
    dir: /opt/perception
fusion:
  window: 200ms
  base_confidence: 0.6
dispatch:
  query_timeout: 45s
`
	if err := os.WriteFile(p, []byte(raw), 0o644); err != nil {
		t.Fatal(err)
	}

	cfg, err := LoadFrom(p)
	if err != nil {
		t.Fatal(err)
	}
	if cfg.AudioURL != "ws://stt.local:2700" {
		t.Fatalf("audio = %q", cfg.AudioURL)
	}
	if cfg.Deck != "s3://decks/q3.pdf" {
		t.Fatalf("deck = %q", cfg.Deck)
	}
	// Untouched fields keep their defaults.
	if cfg.GestureURL != Default().GestureURL {
		t.Fatalf("gesture = %q", cfg.GestureURL)
	}
	if cfg.Fusion.Window != "200ms" || cfg.Fusion.BaseConfidence != 0.6 {
		t.Fatalf("fusion = %+v", cfg.Fusion)
	}
	if cfg.Dispatch.QueryTimeout != "45s" {
		t.Fatalf("dispatch = %+v", cfg.Dispatch)
	}
	want := []Server{{Name: "gesture", Command: []string{"python3", "gesture_server.py"}, Dir: "/opt/perception"}}
	if !reflect.DeepEqual(cfg.Servers, want) {
		t.Fatalf("servers = %+v", cfg.Servers)
	}
}

func TestLoadFromMalformed(t *testing.T) {
	p := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(p, []byte(":\n  - ::"), 0o644); err != nil {
		t.Fatal(err)
	}
	if _, err := LoadFrom(p); err == nil {
		t.Fatal("expected parse error")
	}
}

func TestParseDuration(t *testing.T) {
	d, err := ParseDuration("fusion.window", "300ms")
	if err != nil || d != 300*time.Millisecond {
		t.Fatalf("d = %v, err = %v", d, err)
	}
	d, err = ParseDuration("fusion.window", "")
	if err != nil || d != 0 {
		t.Fatalf("empty: d = %v, err = %v", d, err)
	}
	if _, err = ParseDuration("fusion.window", "fast"); err == nil {
		t.Fatal("expected error")
	}
}
