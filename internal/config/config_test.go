package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func writeConfig(t *testing.T, yaml string) string {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	if err := os.WriteFile(path, []byte(yaml), 0644); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestLoad(t *testing.T) {
	path := writeConfig(t, `
server:
  port: 9001
  host: "127.0.0.1"
  auth_token: "secret"
  allowed_origins:
    - "https://app.example.com"
kafka:
  brokers:
    - "kafka-1:9092"
    - "kafka-2:9092"
redis:
  enabled: true
  addr: "redis:6379"
gateway:
  send_buffer: 128
  pong_wait: 90s
`)

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load() error: %v", err)
	}

	if cfg.Server.Port != 9001 {
		t.Errorf("Server.Port = %d, want 9001", cfg.Server.Port)
	}
	if cfg.Server.AuthToken != "secret" {
		t.Errorf("Server.AuthToken = %q", cfg.Server.AuthToken)
	}
	if len(cfg.Kafka.Brokers) != 2 {
		t.Errorf("Kafka.Brokers = %v, want 2 entries", cfg.Kafka.Brokers)
	}
	// Unset fields keep their defaults.
	if cfg.Kafka.Topic != "task-updates" {
		t.Errorf("Kafka.Topic = %q, want task-updates", cfg.Kafka.Topic)
	}
	if cfg.Kafka.Group != "websocket-service" {
		t.Errorf("Kafka.Group = %q, want websocket-service", cfg.Kafka.Group)
	}
	if !cfg.Redis.Enabled || cfg.Redis.Addr != "redis:6379" {
		t.Errorf("Redis = %+v", cfg.Redis)
	}
	if cfg.Gateway.SendBuffer != 128 {
		t.Errorf("Gateway.SendBuffer = %d, want 128", cfg.Gateway.SendBuffer)
	}
	if cfg.Gateway.PongWait != 90*time.Second {
		t.Errorf("Gateway.PongWait = %v, want 90s", cfg.Gateway.PongWait)
	}
	if cfg.Gateway.WriteWait != 10*time.Second {
		t.Errorf("Gateway.WriteWait = %v, want default 10s", cfg.Gateway.WriteWait)
	}
}

func TestLoadMissingFile(t *testing.T) {
	if _, err := Load(filepath.Join(t.TempDir(), "nope.yaml")); err == nil {
		t.Error("Load of missing file succeeded")
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name string
		yaml string
	}{
		{"EmptyBrokers", "kafka:\n  brokers: []\n"},
		{"EmptyTopic", "kafka:\n  topic: \"\"\n  brokers: [\"localhost:9092\"]\n"},
		{"RedisEnabledNoAddr", "redis:\n  enabled: true\n  addr: \"\"\n"},
		{"PongShorterThanWrite", "gateway:\n  write_wait: 30s\n  pong_wait: 20s\n"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := Load(writeConfig(t, tt.yaml)); err == nil {
				t.Errorf("Load accepted invalid config:\n%s", tt.yaml)
			}
		})
	}
}

func TestPingPeriod(t *testing.T) {
	cfg := defaultConfig()
	if got := cfg.PingPeriod(); got >= cfg.Gateway.PongWait {
		t.Errorf("PingPeriod %v must be shorter than PongWait %v", got, cfg.Gateway.PongWait)
	}
}
