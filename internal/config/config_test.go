package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"docgate/internal/folders"
)

func TestLoadDefaultsAndOverrides(t *testing.T) {
	t.Setenv("DOCGATE_DATA_DIR", "/srv/docgate")
	t.Setenv("DOCGATE_SYNC_INTERVAL", "90")
	t.Setenv("DOCGATE_RETRY_INITIAL_DELAY", "250ms")
	t.Setenv("DOCGATE_PROFILES", "customer, executive ,")
	t.Setenv("OPENAI_TEMPERATURE", "0.7")
	t.Setenv("DOCGATE_BREAKER_THRESHOLD", "not-a-number")
	t.Setenv("S3_USE_SSL", "false")

	cfg := Load()
	if cfg.ReviewFile != filepath.Join("/srv/docgate", "reviews.json") {
		t.Fatalf("review file = %q", cfg.ReviewFile)
	}
	if cfg.SyncInterval != 90*time.Second {
		t.Fatalf("sync interval = %v", cfg.SyncInterval)
	}
	if cfg.RetryInitialDelay != 250*time.Millisecond {
		t.Fatalf("retry delay = %v", cfg.RetryInitialDelay)
	}
	if len(cfg.Profiles) != 2 || cfg.Profiles[1] != "executive" {
		t.Fatalf("profiles = %v", cfg.Profiles)
	}
	if cfg.OpenAITemperature != 0.7 {
		t.Fatalf("temperature = %v", cfg.OpenAITemperature)
	}
	if cfg.BreakerThreshold != 5 {
		t.Fatalf("invalid int should fall back, got %d", cfg.BreakerThreshold)
	}
	if cfg.S3UseSSL {
		t.Fatal("S3_USE_SSL=false ignored")
	}
	if cfg.ReviewMaxHistory != 100 {
		t.Fatalf("max history = %d", cfg.ReviewMaxHistory)
	}
}

func TestLoadWhitelist(t *testing.T) {
	dir := t.TempDir()
	cases := []struct {
		name    string
		body    string
		want    []string
		mode    folders.Mode
		wantErr bool
	}{
		{
			name: "block by default",
			body: "folders:\n  - /Engineering/**\n  - Product/Specs\n",
			want: []string{"engineering/**", "product/specs"},
			mode: folders.ModeBlock,
		},
		{
			name: "alert mode",
			body: "mode: alert\nfolders: [\"Finance/*\"]\n",
			want: []string{"finance/*"},
			mode: folders.ModeAlert,
		},
		{name: "empty", body: "folders: []\n", wantErr: true},
		{name: "bad mode", body: "mode: panic\nfolders: [a]\n", wantErr: true},
		{name: "bad yaml", body: "folders: [\n", wantErr: true},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			path := filepath.Join(dir, tc.name+".yaml")
			if err := os.WriteFile(path, []byte(tc.body), 0o644); err != nil {
				t.Fatalf("write: %v", err)
			}
			wl, err := LoadWhitelist(path)
			if tc.wantErr {
				if err == nil {
					t.Fatalf("expected error, got %+v", wl)
				}
				return
			}
			if err != nil {
				t.Fatalf("LoadWhitelist() error = %v", err)
			}
			if wl.Mode != tc.mode || len(wl.Folders) != len(tc.want) {
				t.Fatalf("unexpected whitelist %+v", wl)
			}
			for i := range tc.want {
				if wl.Folders[i] != tc.want[i] {
					t.Fatalf("folder %d = %q, want %q", i, wl.Folders[i], tc.want[i])
				}
			}
		})
	}

	if _, err := LoadWhitelist(filepath.Join(dir, "missing.yaml")); err == nil {
		t.Fatal("expected error for missing file")
	}
}
