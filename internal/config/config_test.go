package config

import (
	"os"
	"path/filepath"
	"reflect"
	"testing"
	"time"

	"github.com/opensource-finance/kestrel/internal/domain"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "kestrel.yaml")
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatalf("failed to write config: %v", err)
	}
	return path
}

func TestLoadDefaults(t *testing.T) {
	t.Setenv(EnvConfigFile, "")

	cfg, err := Load("")
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}

	want := domain.DefaultConfig()
	if !reflect.DeepEqual(cfg, want) {
		t.Errorf("expected community defaults\n got: %+v\nwant: %+v", cfg, want)
	}
}

func TestLoadEnvOverrides(t *testing.T) {
	t.Setenv(EnvConfigFile, "")
	t.Setenv("KESTREL_SCORING_REMOTE_URL", "http://scorer:8000/predict")
	t.Setenv("KESTREL_SCORING_TIMEOUT", "2s")
	t.Setenv("KESTREL_SERVER_PORT", "9090")
	t.Setenv("KESTREL_CACHE_COUNTER_WINDOW", "1h")
	t.Setenv("KESTREL_LOGGING_LEVEL", "debug")
	t.Setenv("KESTREL_REPOSITORY_SQLITEPATH", "/tmp/other.db")
	t.Setenv("KESTREL_WORKER_ENABLED", "false")

	cfg, err := Load("")
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}

	if cfg.Scoring.RemoteURL != "http://scorer:8000/predict" {
		t.Errorf("unexpected remote url %q", cfg.Scoring.RemoteURL)
	}
	if cfg.Scoring.Timeout != 2*time.Second {
		t.Errorf("unexpected timeout %v", cfg.Scoring.Timeout)
	}
	if cfg.Server.Port != 9090 {
		t.Errorf("unexpected port %d", cfg.Server.Port)
	}
	if cfg.Cache.CounterWindow != time.Hour {
		t.Errorf("unexpected counter window %v", cfg.Cache.CounterWindow)
	}
	if cfg.Logging.Level != "debug" {
		t.Errorf("unexpected level %q", cfg.Logging.Level)
	}
	if cfg.Repository.SQLitePath != "/tmp/other.db" {
		t.Errorf("unexpected sqlite path %q", cfg.Repository.SQLitePath)
	}
	if cfg.Worker.Enabled {
		t.Error("expected worker disabled by env")
	}
}

func TestLoadProTier(t *testing.T) {
	t.Setenv(EnvConfigFile, "")
	t.Setenv("KESTREL_TIER", "pro")

	cfg, err := Load("")
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}

	if cfg.Tier != domain.TierPro || cfg.Repository.Driver != "postgres" {
		t.Errorf("expected pro preset, got tier=%s driver=%s", cfg.Tier, cfg.Repository.Driver)
	}
	if cfg.EventBus.Type != "nats" || cfg.EventBus.QueueGroup != "kestrel-workers" {
		t.Errorf("unexpected event bus %+v", cfg.EventBus)
	}
	if !cfg.Worker.Enabled {
		t.Error("expected worker enabled in pro tier")
	}
}

func TestLoadFile(t *testing.T) {
	path := writeConfig(t, `
server:
  port: 7070
scoring:
  remoteUrl: http://localhost:8000/predict
  timeout: 1500ms
repository:
  sqlitePath: ./data/churn.db
playbook: ignored
`)

	t.Run("FileValues", func(t *testing.T) {
		cfg, err := Load(path)
		if err != nil {
			t.Fatalf("Load failed: %v", err)
		}
		if cfg.Server.Port != 7070 {
			t.Errorf("unexpected port %d", cfg.Server.Port)
		}
		if cfg.Scoring.Timeout != 1500*time.Millisecond {
			t.Errorf("unexpected timeout %v", cfg.Scoring.Timeout)
		}
		if cfg.Repository.SQLitePath != "./data/churn.db" {
			t.Errorf("unexpected sqlite path %q", cfg.Repository.SQLitePath)
		}
		// untouched keys keep the preset
		if cfg.Server.Host != "0.0.0.0" || cfg.Cache.Type != "memory" {
			t.Errorf("expected preset values, got host=%q cache=%q", cfg.Server.Host, cfg.Cache.Type)
		}
	})

	t.Run("EnvBeatsFile", func(t *testing.T) {
		t.Setenv("KESTREL_SERVER_PORT", "6060")
		cfg, err := Load(path)
		if err != nil {
			t.Fatalf("Load failed: %v", err)
		}
		if cfg.Server.Port != 6060 {
			t.Errorf("expected env override, got %d", cfg.Server.Port)
		}
	})

	t.Run("PathFromEnv", func(t *testing.T) {
		t.Setenv(EnvConfigFile, path)
		cfg, err := Load("")
		if err != nil {
			t.Fatalf("Load failed: %v", err)
		}
		if cfg.Server.Port != 7070 {
			t.Errorf("expected file port, got %d", cfg.Server.Port)
		}
	})
}

func TestLoadFileSelectsProTier(t *testing.T) {
	t.Setenv(EnvConfigFile, "")
	path := writeConfig(t, "tier: pro\ncache:\n  redisAddr: redis:6379\n")

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if cfg.Repository.Driver != "postgres" || cfg.Cache.RedisAddr != "redis:6379" {
		t.Errorf("expected pro preset with file override, got %+v / %+v", cfg.Repository, cfg.Cache)
	}
}

func TestLoadErrors(t *testing.T) {
	t.Setenv(EnvConfigFile, "")

	t.Run("MissingFile", func(t *testing.T) {
		if _, err := Load(filepath.Join(t.TempDir(), "absent.yaml")); err == nil {
			t.Error("expected error for missing file")
		}
	})

	t.Run("UnsupportedDriver", func(t *testing.T) {
		t.Setenv("KESTREL_REPOSITORY_DRIVER", "mysql")
		if _, err := Load(""); err == nil {
			t.Error("expected validation error")
		}
	})

	t.Run("UnknownTier", func(t *testing.T) {
		t.Setenv("KESTREL_TIER", "enterprise")
		if _, err := Load(""); err == nil {
			t.Error("expected validation error")
		}
	})
}

func TestEnvNames(t *testing.T) {
	tests := []struct {
		key  string
		want []string
	}{
		{"tier", []string{"KESTREL_TIER"}},
		{"server.port", []string{"KESTREL_SERVER_PORT"}},
		{"scoring.remoteUrl", []string{"KESTREL_SCORING_REMOTE_URL", "KESTREL_SCORING_REMOTEURL"}},
		{"repository.postgresDB", []string{"KESTREL_REPOSITORY_POSTGRES_DB", "KESTREL_REPOSITORY_POSTGRESDB"}},
		{"cache.localTTL", []string{"KESTREL_CACHE_LOCAL_TTL", "KESTREL_CACHE_LOCALTTL"}},
	}

	for _, tt := range tests {
		t.Run(tt.key, func(t *testing.T) {
			if got := envNames(tt.key); !reflect.DeepEqual(got, tt.want) {
				t.Errorf("envNames(%q) = %v, want %v", tt.key, got, tt.want)
			}
		})
	}
}
