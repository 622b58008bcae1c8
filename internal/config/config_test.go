package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func TestDefaultIsValid(t *testing.T) {
	cfg := Default()
	if err := cfg.Validate(); err != nil {
		t.Fatalf("default invalid: %v", err)
	}
	want := []time.Duration{10 * time.Second, 30 * time.Second, time.Minute, 5 * time.Minute, 15 * time.Minute}
	if len(cfg.Outbox.Backoff) != len(want) {
		t.Fatalf("backoff = %v", cfg.Outbox.Backoff)
	}
	for i := range want {
		if cfg.Outbox.Backoff[i] != want[i] {
			t.Fatalf("backoff[%d] = %v", i, cfg.Outbox.Backoff[i])
		}
	}
	if cfg.Outbox.PollInterval != 5*time.Second || cfg.Outbox.BatchSize != 10 {
		t.Fatalf("worker defaults = %v %d", cfg.Outbox.PollInterval, cfg.Outbox.BatchSize)
	}
}

func TestFromYAMLOverlaysDefaults(t *testing.T) {
	cfg, err := FromYAML([]byte(`
outbox:
  backoff: [1s, 2s]
dispatcher:
  kind: webhook
  webhook:
    url: http://gateway.local/send
`))
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if len(cfg.Outbox.Backoff) != 2 || cfg.Outbox.Backoff[1] != 2*time.Second {
		t.Fatalf("backoff = %v", cfg.Outbox.Backoff)
	}
	if cfg.Dispatcher.Webhook.Timeout != 5*time.Second || cfg.Database.Driver != "sqlite" {
		t.Fatalf("defaults lost: %+v", cfg)
	}
}

func TestValidateRejects(t *testing.T) {
	cases := map[string]string{
		"driver":   "database:\n  driver: oracle\n",
		"dsn":      "database:\n  driver: postgres\n",
		"batch":    "outbox:\n  batch_size: 0\n",
		"backoff":  "outbox:\n  backoff: [10s, 0s]\n",
		"no-delay": "outbox:\n  backoff: []\n",
		"kind":     "dispatcher:\n  kind: pigeon\n",
		"webhook":  "dispatcher:\n  kind: webhook\n",
		"amqp":     "dispatcher:\n  kind: amqp\n",
		"throttle": "dispatcher:\n  throttle:\n    enabled: true\n    limit: 0\n",
		"level":    "log:\n  level: loud\n",
		"links":    "links:\n  base_url: not-a-url\n",
	}
	for name, doc := range cases {
		if _, err := FromYAML([]byte(doc)); err == nil {
			t.Errorf("%s: expected error", name)
		}
	}
}

func TestLoadFallsBackToDefault(t *testing.T) {
	dir := t.TempDir()
	cfg, err := Load(dir)
	if err != nil || cfg.Dispatcher.Kind != "log" {
		t.Fatalf("load = %+v, %v", cfg, err)
	}
	if err := os.WriteFile(filepath.Join(dir, FileName), []byte("log:\n  format: text\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	cfg, err = Load(dir)
	if err != nil || cfg.Log.Format != "text" {
		t.Fatalf("load file = %+v, %v", cfg, err)
	}
}

func TestRenderRoundTrip(t *testing.T) {
	out, err := Default().Render()
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(out, "poll_interval: 5s") {
		t.Fatalf("render = %s", out)
	}
	if _, err := FromYAML([]byte(out)); err != nil {
		t.Fatalf("reparse: %v", err)
	}
}

func TestBackoffOmittedKeepsDefault(t *testing.T) {
	cfg, err := FromYAML([]byte("outbox:\n  batch_size: 20\n"))
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if len(cfg.Outbox.Backoff) != 5 || cfg.Outbox.Backoff[0] != 10*time.Second {
		t.Fatalf("backoff = %v", cfg.Outbox.Backoff)
	}
}
