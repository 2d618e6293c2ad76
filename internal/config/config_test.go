package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

const minimalYAML = `
database:
  user: parley
  name: parley_sessions
`

func TestParse_Minimal_Defaults(t *testing.T) {
	cfg, err := Parse([]byte(minimalYAML))
	if err != nil {
		t.Fatalf("Parse() error: %v", err)
	}

	if cfg.Database.Host != "127.0.0.1" {
		t.Errorf("Database.Host = %q, want 127.0.0.1", cfg.Database.Host)
	}
	if cfg.Database.Port != 3306 {
		t.Errorf("Database.Port = %d, want 3306", cfg.Database.Port)
	}
	if cfg.Database.Charset != "utf8mb4" {
		t.Errorf("Database.Charset = %q, want utf8mb4", cfg.Database.Charset)
	}
	if cfg.Redis.Port != 6379 {
		t.Errorf("Redis.Port = %d, want 6379", cfg.Redis.Port)
	}
	if cfg.API.Port != 8000 {
		t.Errorf("API.Port = %d, want 8000", cfg.API.Port)
	}
	if cfg.Session.MaxInactiveMinutes != 120 {
		t.Errorf("Session.MaxInactiveMinutes = %d, want 120", cfg.Session.MaxInactiveMinutes)
	}
	if cfg.Session.DefaultLevel != "level3" {
		t.Errorf("Session.DefaultLevel = %q, want level3", cfg.Session.DefaultLevel)
	}
}

func TestParse_Full(t *testing.T) {
	yaml := `
database:
  host: db.internal
  port: 3307
  user: svc
  password: pw
  name: sessions
redis:
  host: cache.internal
  port: 7379
  db: 4
  password: redispw
  token_db: 11
api:
  port: 9000
session:
  max_inactive_minutes: 30
  default_level: level2
  operator_nicknames:
    - t-2217567810350-0
    - t-2220262859798-0
  sweep_cron: "*/5 * * * *"
marketplace:
  gateway_url: https://api.example.test/rest
  app_key: "501176"
  app_secret: sekrit
notify:
  slack:
    bot_token: xoxb-test
    channel_id: C123
`
	cfg, err := Parse([]byte(yaml))
	if err != nil {
		t.Fatalf("Parse() error: %v", err)
	}
	if cfg.Redis.Addr() != "cache.internal:7379" {
		t.Errorf("Redis.Addr() = %q, want cache.internal:7379", cfg.Redis.Addr())
	}
	if len(cfg.Session.OperatorNicknames) != 2 {
		t.Errorf("OperatorNicknames len = %d, want 2", len(cfg.Session.OperatorNicknames))
	}
	if cfg.Session.SweepCron != "*/5 * * * *" {
		t.Errorf("SweepCron = %q", cfg.Session.SweepCron)
	}
	if cfg.Marketplace.AppKey != "501176" {
		t.Errorf("Marketplace.AppKey = %q", cfg.Marketplace.AppKey)
	}
	if cfg.Notify.Slack.ChannelID != "C123" {
		t.Errorf("Notify.Slack.ChannelID = %q", cfg.Notify.Slack.ChannelID)
	}
}

func TestParse_MissingRequired(t *testing.T) {
	tests := []struct {
		name    string
		yaml    string
		wantErr string
	}{
		{
			name:    "no database user",
			yaml:    "database:\n  name: x\n",
			wantErr: "database.user is required",
		},
		{
			name:    "no database name",
			yaml:    "database:\n  user: x\n",
			wantErr: "database.name is required",
		},
		{
			name:    "bad default level",
			yaml:    "database:\n  user: x\n  name: y\nsession:\n  default_level: level9\n",
			wantErr: "level9",
		},
		{
			name:    "negative inactivity",
			yaml:    "database:\n  user: x\n  name: y\nsession:\n  max_inactive_minutes: -5\n",
			wantErr: "must not be negative",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Parse([]byte(tt.yaml))
			if err == nil {
				t.Fatal("Parse() succeeded, want error")
			}
			if !strings.Contains(err.Error(), tt.wantErr) {
				t.Errorf("error %q does not mention %q", err, tt.wantErr)
			}
		})
	}
}

func TestParse_InvalidYAML(t *testing.T) {
	_, err := Parse([]byte("database: [not a map"))
	if err == nil {
		t.Fatal("Parse() succeeded on invalid YAML")
	}
}

func TestLoad_File(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "parley.yaml")
	if err := os.WriteFile(path, []byte(minimalYAML), 0o644); err != nil {
		t.Fatal(err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load() error: %v", err)
	}
	if cfg.Database.User != "parley" {
		t.Errorf("Database.User = %q, want parley", cfg.Database.User)
	}
}

func TestLoad_MissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "absent.yaml"))
	if err == nil {
		t.Fatal("Load() succeeded on missing file")
	}
}
