package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte(body), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return path
}

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load(writeConfig(t, "app:\n  name: test\n"))
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Reader.MaxOffer != 8_000_000_000 {
		t.Fatalf("max offer = %d", cfg.Reader.MaxOffer)
	}
	if cfg.Crawl.Settle != 1500*time.Millisecond || cfg.Crawl.MaxDriftRetries != 10 {
		t.Fatalf("crawl = %+v", cfg.Crawl)
	}
	if cfg.Layout.Slots != 32 || cfg.Layout.CountDelta != -24 {
		t.Fatalf("layout = %+v", cfg.Layout)
	}
	if got := strings.Join(cfg.Scheduler.Times, ","); got != "06:00,18:00" {
		t.Fatalf("times = %s", got)
	}
	if cfg.Database.Driver != "sqlite" {
		t.Fatalf("driver = %s", cfg.Database.Driver)
	}
}

func TestLoadFileOverrides(t *testing.T) {
	path := writeConfig(t, `
crawl:
  categories: [helmets, "body armor"]
  anti_idle_interval: 5m
reader:
  price_ceilings:
    Golden Helmet: 20000000000
ui:
  commands:
    open_category: [ui-helper, open, "{category}"]
`)
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if len(cfg.Crawl.Categories) != 2 || cfg.Crawl.Categories[1] != "body armor" {
		t.Fatalf("categories = %v", cfg.Crawl.Categories)
	}
	if cfg.Crawl.AntiIdleInterval != 5*time.Minute {
		t.Fatalf("anti idle = %v", cfg.Crawl.AntiIdleInterval)
	}
	if got := cfg.Reader.PriceCeilings["golden helmet"]; got != 20_000_000_000 {
		t.Fatalf("ceiling = %d (%v)", got, cfg.Reader.PriceCeilings)
	}
	if got := strings.Join(cfg.UI.Commands.OpenCategory, " "); got != "ui-helper open {category}" {
		t.Fatalf("open_category = %q", got)
	}
}

func TestLoadEnvOverride(t *testing.T) {
	t.Setenv("MARKETSCAN_PROCESS_PID", "4242")
	cfg, err := Load(writeConfig(t, "{}\n"))
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Process.Pid != 4242 {
		t.Fatalf("pid = %d", cfg.Process.Pid)
	}
}

func TestValidateRejects(t *testing.T) {
	tests := map[string]string{
		"bad clock":       "scheduler:\n  times: [\"25:00\"]\n",
		"bad driver":      "database:\n  driver: mysql\n",
		"postgres no dsn": "database:\n  driver: postgres\n",
		"telegram token":  "alerting:\n  telegram:\n    enabled: true\n    chat_id: \"1\"\n",
		"zero slots":      "layout:\n  slots: 0\n",
		"id reads":        "reader:\n  id_reads: 0\n",
	}
	for name, body := range tests {
		t.Run(name, func(t *testing.T) {
			if _, err := Load(writeConfig(t, body)); err == nil {
				t.Fatal("expected validation error")
			}
		})
	}
}

func TestResolveMaxPoints(t *testing.T) {
	cfg := &Config{Export: ExportConfig{MaxDataPoints: 100}}
	if got := cfg.ResolveMaxPoints(0); got != 100 {
		t.Fatalf("default = %d", got)
	}
	if got := cfg.ResolveMaxPoints(7); got != 7 {
		t.Fatalf("override = %d", got)
	}
}
