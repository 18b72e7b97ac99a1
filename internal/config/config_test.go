// ABOUTME: Tests for configuration loading and parsing
// ABOUTME: Covers YAML loading, env var expansion, duration parsing, and defaults

package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	configPath := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(configPath, []byte(content), 0644); err != nil {
		t.Fatalf("writing config: %v", err)
	}
	return configPath
}

func TestLoad_ValidConfig(t *testing.T) {
	configPath := writeConfig(t, `
server:
  http_addr: "0.0.0.0:8080"

database:
  path: "./test.db"

auth:
  jwt_secret: "test-secret"

chat:
  idle_timeout: "45m"
  idle_sweep_interval: "30s"
  typing_ceiling: "3s"
  typing_sweep_interval: "500ms"
  reconnect_grace_period: "90s"
  send_buffer: 128
  history_limit: 500
  dedupe_size: 5000

logging:
  level: "debug"
  format: "json"
`)

	cfg, err := Load(configPath)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}

	if cfg.Server.HTTPAddr != "0.0.0.0:8080" {
		t.Errorf("HTTPAddr = %q", cfg.Server.HTTPAddr)
	}
	if cfg.Chat.IdleTimeout != 45*time.Minute {
		t.Errorf("IdleTimeout = %v, want 45m", cfg.Chat.IdleTimeout)
	}
	if cfg.Chat.TypingCeiling != 3*time.Second {
		t.Errorf("TypingCeiling = %v, want 3s", cfg.Chat.TypingCeiling)
	}
	if cfg.Chat.TypingSweepInterval != 500*time.Millisecond {
		t.Errorf("TypingSweepInterval = %v, want 500ms", cfg.Chat.TypingSweepInterval)
	}
	if cfg.Chat.ReconnectGracePeriod != 90*time.Second {
		t.Errorf("ReconnectGracePeriod = %v, want 90s", cfg.Chat.ReconnectGracePeriod)
	}
	if cfg.Chat.SendBuffer != 128 {
		t.Errorf("SendBuffer = %d, want 128", cfg.Chat.SendBuffer)
	}
	if cfg.Chat.HistoryLimit != 500 {
		t.Errorf("HistoryLimit = %d, want 500", cfg.Chat.HistoryLimit)
	}
	if cfg.Chat.DedupeSize != 5000 {
		t.Errorf("DedupeSize = %d, want 5000", cfg.Chat.DedupeSize)
	}
	if cfg.Logging.Level != "debug" {
		t.Errorf("Logging.Level = %q", cfg.Logging.Level)
	}
}

func TestLoad_Defaults(t *testing.T) {
	configPath := writeConfig(t, `
server:
  http_addr: ":8080"
database:
  path: "./test.db"
auth:
  jwt_secret: "test-secret"
`)

	cfg, err := Load(configPath)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}

	if cfg.Chat.IdleTimeout != DefaultIdleTimeout {
		t.Errorf("IdleTimeout = %v, want default %v", cfg.Chat.IdleTimeout, DefaultIdleTimeout)
	}
	if cfg.Chat.TypingCeiling != DefaultTypingCeiling {
		t.Errorf("TypingCeiling = %v, want default %v", cfg.Chat.TypingCeiling, DefaultTypingCeiling)
	}
	if cfg.Chat.SendBuffer != DefaultSendBuffer {
		t.Errorf("SendBuffer = %d, want default %d", cfg.Chat.SendBuffer, DefaultSendBuffer)
	}
	if cfg.Chat.DedupeTTL != DefaultDedupeTTL {
		t.Errorf("DedupeTTL = %v, want default %v", cfg.Chat.DedupeTTL, DefaultDedupeTTL)
	}
	if cfg.Chat.DedupeSize != DefaultDedupeSize {
		t.Errorf("DedupeSize = %d, want default %d", cfg.Chat.DedupeSize, DefaultDedupeSize)
	}
}

func TestLoad_EnvExpansion(t *testing.T) {
	t.Setenv("LIVECHAT_TEST_SECRET", "expanded-secret")

	configPath := writeConfig(t, `
server:
  http_addr: ":8080"
database:
  path: "./test.db"
auth:
  jwt_secret: "${LIVECHAT_TEST_SECRET}"
`)

	cfg, err := Load(configPath)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if cfg.Auth.JWTSecret != "expanded-secret" {
		t.Errorf("JWTSecret = %q, want %q", cfg.Auth.JWTSecret, "expanded-secret")
	}
}

func TestLoad_MissingRequiredFields(t *testing.T) {
	tests := []struct {
		name    string
		content string
		wantErr string
	}{
		{
			name: "missing http_addr",
			content: `
database:
  path: "./test.db"
auth:
  jwt_secret: "s"
`,
			wantErr: "server.http_addr",
		},
		{
			name: "missing database path",
			content: `
server:
  http_addr: ":8080"
auth:
  jwt_secret: "s"
`,
			wantErr: "database.path",
		},
		{
			name: "missing jwt secret",
			content: `
server:
  http_addr: ":8080"
database:
  path: "./test.db"
`,
			wantErr: "auth.jwt_secret",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			configPath := writeConfig(t, tt.content)
			_, err := Load(configPath)
			if err == nil || !strings.Contains(err.Error(), tt.wantErr) {
				t.Errorf("Load error = %v, want mention of %q", err, tt.wantErr)
			}
		})
	}
}

func TestLoad_BadDuration(t *testing.T) {
	configPath := writeConfig(t, `
server:
  http_addr: ":8080"
database:
  path: "./test.db"
auth:
  jwt_secret: "s"
chat:
  idle_timeout: "half an hour"
`)

	if _, err := Load(configPath); err == nil || !strings.Contains(err.Error(), "idle_timeout") {
		t.Errorf("Load error = %v, want idle_timeout parse failure", err)
	}
}

func TestLoad_FileNotFound(t *testing.T) {
	if _, err := Load("/nonexistent/config.yaml"); err == nil {
		t.Error("expected error for missing file")
	}
}
