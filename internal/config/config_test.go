package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestSaveAndLoad(t *testing.T) {
	tmpDir := t.TempDir()
	path := filepath.Join(tmpDir, "config.toml")

	cfg := Default()
	cfg.ServerURL = "wss://chat.example.com/ws"
	cfg.APIBaseURL = "https://chat.example.com/api"
	cfg.Token = "tok"
	if err := Save(path, cfg); err != nil {
		t.Fatalf("Save() error = %v", err)
	}

	loaded, err := Load(path)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if loaded.ServerURL != "wss://chat.example.com/ws" {
		t.Errorf("ServerURL = %q", loaded.ServerURL)
	}
	if loaded.TypingTTL.Std() != 3*time.Second {
		t.Errorf("TypingTTL = %v, want 3s", loaded.TypingTTL.Std())
	}
}

func TestLoadAppliesDefaults(t *testing.T) {
	tmpDir := t.TempDir()
	path := filepath.Join(tmpDir, "config.toml")
	content := "server_url = \"wss://h/ws\"\nreconnect_base_delay = \"1s\"\n"
	if err := os.WriteFile(path, []byte(content), 0600); err != nil {
		t.Fatal(err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatal(err)
	}
	if cfg.ReconnectBaseDelay.Std() != time.Second {
		t.Errorf("ReconnectBaseDelay = %v, want 1s (overridden)", cfg.ReconnectBaseDelay.Std())
	}
	if cfg.MaxReconnectAttempts != 5 {
		t.Errorf("MaxReconnectAttempts = %d, want 5 (default)", cfg.MaxReconnectAttempts)
	}
	if cfg.PresenceDebounce.Std() != 500*time.Millisecond {
		t.Errorf("PresenceDebounce = %v, want 500ms (default)", cfg.PresenceDebounce.Std())
	}
}

func TestLoadMissing(t *testing.T) {
	_, err := Load("/nonexistent/config.toml")
	if err == nil {
		t.Error("Load() expected error for missing file")
	}
}

func TestResolveTokenFile(t *testing.T) {
	tmpDir := t.TempDir()
	tokenPath := filepath.Join(tmpDir, "token")
	if err := os.WriteFile(tokenPath, []byte("secret\n"), 0600); err != nil {
		t.Fatal(err)
	}

	cfg := &Config{Token: "inline", TokenFile: tokenPath}
	tok, err := cfg.ResolveToken()
	if err != nil {
		t.Fatal(err)
	}
	if tok != "secret" {
		t.Errorf("token = %q, want %q (file wins, trimmed)", tok, "secret")
	}
}

func TestSavePermissions(t *testing.T) {
	tmpDir := t.TempDir()
	path := filepath.Join(tmpDir, "config.toml")

	if err := Save(path, Default()); err != nil {
		t.Fatal(err)
	}

	info, err := os.Stat(path)
	if err != nil {
		t.Fatal(err)
	}
	perm := info.Mode().Perm()
	if perm != 0600 {
		t.Errorf("file permission = %o, want 0600", perm)
	}
}
