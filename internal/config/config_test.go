// ABOUTME: Tests for configuration loading and validation
// ABOUTME: Covers YAML parsing, env expansion, durations, and required fields

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
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("writing config: %v", err)
	}
	return path
}

func TestLoadFullConfig(t *testing.T) {
	path := writeConfig(t, `
server:
  http_addr: ":8080"
database:
  path: "/tmp/parley.db"
auth:
  jwt_secret: "super-secret"
  session_lifetime: "12h"
messaging:
  edit_window: "60s"
  snapshot_interval: "30s"
  send_rate: 5
  send_burst: 10
logging:
  level: "debug"
  format: "json"
metrics:
  enabled: true
  path: "/metrics"
`)

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}

	if cfg.Server.HTTPAddr != ":8080" {
		t.Errorf("expected http_addr :8080, got %q", cfg.Server.HTTPAddr)
	}
	if cfg.Auth.SessionLifetime != 12*time.Hour {
		t.Errorf("expected session_lifetime 12h, got %v", cfg.Auth.SessionLifetime)
	}
	if cfg.Messaging.EditWindow != 60*time.Second {
		t.Errorf("expected edit_window 60s, got %v", cfg.Messaging.EditWindow)
	}
	if cfg.Messaging.SnapshotInterval != 30*time.Second {
		t.Errorf("expected snapshot_interval 30s, got %v", cfg.Messaging.SnapshotInterval)
	}
	if cfg.Messaging.SendRate != 5 {
		t.Errorf("expected send_rate 5, got %v", cfg.Messaging.SendRate)
	}
	if cfg.Messaging.SendBurst != 10 {
		t.Errorf("expected send_burst 10, got %v", cfg.Messaging.SendBurst)
	}
	if !cfg.Metrics.Enabled || cfg.Metrics.Path != "/metrics" {
		t.Errorf("unexpected metrics config: %+v", cfg.Metrics)
	}
}

func TestLoadExpandsEnvVars(t *testing.T) {
	t.Setenv("PARLEY_TEST_SECRET", "from-env")

	path := writeConfig(t, `
server:
  http_addr: ":8080"
database:
  path: "/tmp/parley.db"
auth:
  jwt_secret: "${PARLEY_TEST_SECRET}"
`)

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if cfg.Auth.JWTSecret != "from-env" {
		t.Errorf("expected expanded secret, got %q", cfg.Auth.JWTSecret)
	}
}

func TestLoadUnsetEnvVarBecomesEmpty(t *testing.T) {
	path := writeConfig(t, `
server:
  http_addr: ":8080"
database:
  path: "/tmp/parley.db"
auth:
  jwt_secret: "${PARLEY_DEFINITELY_NOT_SET}"
`)

	_, err := Load(path)
	if err == nil || !strings.Contains(err.Error(), "jwt_secret") {
		t.Errorf("expected jwt_secret validation error, got %v", err)
	}
}

func TestLoadMissingRequiredFields(t *testing.T) {
	tests := []struct {
		name    string
		content string
		want    string
	}{
		{
			name: "missing http_addr",
			content: `
database:
  path: "/tmp/parley.db"
auth:
  jwt_secret: "s"
`,
			want: "http_addr",
		},
		{
			name: "missing database path",
			content: `
server:
  http_addr: ":8080"
auth:
  jwt_secret: "s"
`,
			want: "database.path",
		},
		{
			name: "missing jwt secret",
			content: `
server:
  http_addr: ":8080"
database:
  path: "/tmp/parley.db"
`,
			want: "jwt_secret",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			path := writeConfig(t, tt.content)
			_, err := Load(path)
			if err == nil || !strings.Contains(err.Error(), tt.want) {
				t.Errorf("expected error mentioning %q, got %v", tt.want, err)
			}
		})
	}
}

func TestLoadBadDuration(t *testing.T) {
	path := writeConfig(t, `
server:
  http_addr: ":8080"
database:
  path: "/tmp/parley.db"
auth:
  jwt_secret: "s"
messaging:
  edit_window: "sixty seconds"
`)

	_, err := Load(path)
	if err == nil || !strings.Contains(err.Error(), "edit_window") {
		t.Errorf("expected edit_window parse error, got %v", err)
	}
}

func TestLoadNonexistentFile(t *testing.T) {
	if _, err := Load("/nonexistent/config.yaml"); err == nil {
		t.Error("expected error for missing file")
	}
}

func TestLoadNegativeSendRate(t *testing.T) {
	path := writeConfig(t, `
server:
  http_addr: ":8080"
database:
  path: "/tmp/parley.db"
auth:
  jwt_secret: "s"
messaging:
  send_rate: -1
`)

	_, err := Load(path)
	if err == nil || !strings.Contains(err.Error(), "send_rate") {
		t.Errorf("expected send_rate validation error, got %v", err)
	}
}
