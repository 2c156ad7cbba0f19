package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
)

func TestLoad_Defaults(t *testing.T) {
	for _, k := range []string{"FEED_MODE", "POLL_INTERVAL", "REDIS_ADDR", "SIM_SYMBOLS", "NATIVE_TF"} {
		t.Setenv(k, "")
	}
	cfg, err := Load("")
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.FeedMode != FeedSim {
		t.Errorf("FeedMode = %q, want %q", cfg.FeedMode, FeedSim)
	}
	if cfg.PollInterval != 30*time.Second {
		t.Errorf("PollInterval = %v, want 30s", cfg.PollInterval)
	}
	if cfg.RedisAddr != "" {
		t.Errorf("RedisAddr = %q, want empty (L2 disabled)", cfg.RedisAddr)
	}
	if cfg.NativeTF != "1m" {
		t.Errorf("NativeTF = %q, want 1m", cfg.NativeTF)
	}
}

func TestLoad_Overrides(t *testing.T) {
	t.Setenv("POLL_INTERVAL", "5s")
	t.Setenv("MIN_REFRESH_INTERVAL", "3")
	t.Setenv("RECOMPUTE_WORKERS", "8")
	t.Setenv("CACHE_MAX_ENTRIES", "not-a-number")
	t.Setenv("FEED_MODE", "HTTP")
	t.Setenv("FEED_BASE_URL", "https://example.test/api/v3")

	cfg, err := Load("")
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	tests := []struct {
		name string
		got  any
		want any
	}{
		{"PollInterval", cfg.PollInterval, 5 * time.Second},
		{"MinRefresh bare seconds", cfg.MinRefresh, 3 * time.Second},
		{"RecomputeWorkers", cfg.RecomputeWorkers, 8},
		{"CacheMaxEntries falls back", cfg.CacheMaxEntries, 10000},
		{"FeedMode lowercased", cfg.FeedMode, FeedHTTP},
	}
	for _, tt := range tests {
		if tt.got != tt.want {
			t.Errorf("%s = %v, want %v", tt.name, tt.got, tt.want)
		}
	}
}

func TestLoad_EnvFile(t *testing.T) {
	t.Setenv("SERVICE_NAME", "")
	os.Unsetenv("SERVICE_NAME")
	path := filepath.Join(t.TempDir(), ".env")
	if err := os.WriteFile(path, []byte("SERVICE_NAME=from-file\n"), 0o600); err != nil {
		t.Fatal(err)
	}
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.ServiceName != "from-file" {
		t.Errorf("ServiceName = %q, want from-file", cfg.ServiceName)
	}
}

func TestLoad_MissingEnvFileIsFine(t *testing.T) {
	if _, err := Load(filepath.Join(t.TempDir(), "absent.env")); err != nil {
		t.Fatalf("Load with missing file: %v", err)
	}
}

func TestLoad_RejectsInvalidConfig(t *testing.T) {
	t.Setenv("FEED_MODE", "http")
	t.Setenv("FEED_BASE_URL", "")

	if _, err := Load(""); err == nil {
		t.Fatal("Load accepted FEED_MODE=http without FEED_BASE_URL")
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		cfg     Config
		wantErr bool
	}{
		{"sim ok", Config{FeedMode: FeedSim, SimSymbols: "AAPL:100", PollInterval: time.Second}, false},
		{"sim without symbols", Config{FeedMode: FeedSim, SimSymbols: "junk", PollInterval: time.Second}, true},
		{"http without url", Config{FeedMode: FeedHTTP, PollInterval: time.Second}, true},
		{"unknown mode", Config{FeedMode: "carrier-pigeon", PollInterval: time.Second}, true},
		{"zero interval", Config{FeedMode: FeedSim, SimSymbols: "AAPL:100"}, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.cfg.Validate()
			if (err != nil) != tt.wantErr {
				t.Errorf("Validate() err = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestParseSimSymbols(t *testing.T) {
	cfg := Config{SimSymbols: " aapl:190.5, MSFT:410 ,bad,NEG:-1,:5,"}
	want := map[string]float64{"AAPL": 190.5, "MSFT": 410}
	if diff := cmp.Diff(want, cfg.ParseSimSymbols()); diff != "" {
		t.Errorf("ParseSimSymbols mismatch (-want +got):\n%s", diff)
	}
}
