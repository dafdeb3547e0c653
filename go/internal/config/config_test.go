package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/rs/zerolog"
)

func TestFromEnvDefaults(t *testing.T) {
	cfg, err := FromEnv(map[string]string{"JWT_SECRET": "s3cret"})
	if err != nil {
		t.Fatalf("FromEnv failed: %v", err)
	}
	if cfg.Port != "8080" || cfg.RoomID != "main" || cfg.DurableDriver != DriverSQLite {
		t.Errorf("Unexpected defaults: %+v", cfg)
	}
	if cfg.Postgres.Database != "minority" || cfg.Postgres.Port != 5432 {
		t.Errorf("Unexpected postgres defaults: %+v", cfg.Postgres)
	}
	if len(cfg.AllowedOrigins) != 1 || cfg.AllowedOrigins[0] != "*" {
		t.Errorf("Expected wildcard origin, got %v", cfg.AllowedOrigins)
	}
	if cfg.NATSURL != "" {
		t.Errorf("Expected event feed disabled by default, got %q", cfg.NATSURL)
	}
	if cfg.Level() != zerolog.InfoLevel {
		t.Errorf("Expected info level, got %s", cfg.Level())
	}
}

func TestFromEnvOverrides(t *testing.T) {
	cfg, err := FromEnv(map[string]string{
		"JWT_SECRET":           "s3cret",
		"PORT":                 "9090",
		"ROOM_ID":              "finals",
		"DURABLE_DRIVER":       " Postgres ",
		"DB_HOST":              "pg",
		"LOG_LEVEL":            "debug",
		"CORS_ALLOWED_ORIGINS": "https://a.example,https://b.example",
		"NATS_URL":             "nats://nats:4222",
	})
	if err != nil {
		t.Fatalf("FromEnv failed: %v", err)
	}
	if cfg.Port != "9090" || cfg.RoomID != "finals" || cfg.DurableDriver != DriverPostgres {
		t.Errorf("Unexpected config: %+v", cfg)
	}
	if cfg.Postgres.Host != "pg" {
		t.Errorf("Expected DB_HOST pg, got %s", cfg.Postgres.Host)
	}
	if len(cfg.AllowedOrigins) != 2 {
		t.Errorf("Expected 2 origins, got %v", cfg.AllowedOrigins)
	}
	if cfg.Level() != zerolog.DebugLevel {
		t.Errorf("Expected debug level, got %s", cfg.Level())
	}
}

func TestFromEnvErrors(t *testing.T) {
	tests := []struct {
		name    string
		environ map[string]string
		want    string
	}{
		{"missing secret", map[string]string{}, "JWT_SECRET"},
		{"unknown driver", map[string]string{"JWT_SECRET": "x", "DURABLE_DRIVER": "mongo"}, "DURABLE_DRIVER"},
		{"bad level", map[string]string{"JWT_SECRET": "x", "LOG_LEVEL": "loud"}, "LOG_LEVEL"},
		{"blank room", map[string]string{"JWT_SECRET": "x", "ROOM_ID": " "}, "ROOM_ID"},
		{"bad redis db", map[string]string{"JWT_SECRET": "x", "REDIS_DB": "zero"}, "parse env"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := FromEnv(tt.environ)
			if err == nil {
				t.Fatal("Expected error")
			}
			if !strings.Contains(err.Error(), tt.want) {
				t.Errorf("Expected error mentioning %s, got %v", tt.want, err)
			}
		})
	}
}

func writeGame(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "game.yaml")
	if err := os.WriteFile(path, []byte(body), 0o600); err != nil {
		t.Fatalf("write game config: %v", err)
	}
	return path
}

func TestLoadGame(t *testing.T) {
	g, err := LoadGame("")
	if err != nil {
		t.Fatalf("LoadGame defaults failed: %v", err)
	}
	if len(g.Countdown.Tiers) != 3 || g.Countdown.FallbackSeconds != 40 || g.RecoveryBatchSize != 500 {
		t.Errorf("Unexpected defaults: %+v", g)
	}

	path := writeGame(t, `
countdown:
  tiers:
    - max_survivors: 10
      seconds: 8
    - max_survivors: 100
      seconds: 25
  fallback_seconds: 60
durable_write_timeout: 3s
`)
	g, err = LoadGame(path)
	if err != nil {
		t.Fatalf("LoadGame failed: %v", err)
	}
	if len(g.Countdown.Tiers) != 2 || g.Countdown.Tiers[1].Seconds != 25 {
		t.Errorf("Expected overridden tiers, got %+v", g.Countdown.Tiers)
	}
	if g.DurableWriteTimeout != 3*time.Second {
		t.Errorf("Expected 3s write timeout, got %s", g.DurableWriteTimeout)
	}
	if g.RecoveryBatchSize != 500 {
		t.Errorf("Expected default batch size kept, got %d", g.RecoveryBatchSize)
	}

	engine := g.EngineConfig("finals")
	if engine.RoomID != "finals" || engine.CountdownSeconds(5) != 8 || engine.CountdownSeconds(500) != 60 {
		t.Errorf("Unexpected engine config: %+v", engine)
	}
	if rc := g.RecoveryConfig("finals"); rc.RoomID != "finals" || rc.BatchSize != 500 || rc.DurableLimit != 3*time.Second {
		t.Errorf("Unexpected recovery config: %+v", rc)
	}
	if wc := g.WriterConfig("finals"); wc.WriteTimeout != 3*time.Second {
		t.Errorf("Unexpected writer config: %+v", wc)
	}
}

func TestLoadGameRejectsInvalid(t *testing.T) {
	tests := []struct {
		name string
		body string
	}{
		{"descending tiers", "countdown:\n  tiers:\n    - {max_survivors: 50, seconds: 10}\n    - {max_survivors: 20, seconds: 5}\n"},
		{"zero seconds", "countdown:\n  tiers:\n    - {max_survivors: 50, seconds: 0}\n"},
		{"zero batch", "recovery_batch_size: 0\n"},
		{"not yaml", "countdown: [\n"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := LoadGame(writeGame(t, tt.body)); err == nil {
				t.Error("Expected error")
			}
		})
	}

	if _, err := LoadGame(filepath.Join(t.TempDir(), "missing.yaml")); err == nil {
		t.Error("Expected error for missing file")
	}
}
