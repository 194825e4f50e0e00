package config

import (
	"testing"
	"time"
)

func TestTypingTimeout(t *testing.T) {
	cfg := &Config{}
	if got := cfg.TypingTimeout(); got != 3000*time.Millisecond {
		t.Errorf("default TypingTimeout = %v, want 3s", got)
	}
	cfg.TypingTimeoutMS = 1500
	if got := cfg.TypingTimeout(); got != 1500*time.Millisecond {
		t.Errorf("TypingTimeout = %v, want 1.5s", got)
	}
	cfg.TypingTimeoutMS = -10
	if got := cfg.TypingTimeout(); got != 3000*time.Millisecond {
		t.Errorf("negative timeout should fall back to default, got %v", got)
	}
}

func TestDBMaxConnections(t *testing.T) {
	cfg := &Config{}
	if got := cfg.DBMaxConnections(); got != 20 {
		t.Errorf("default DBMaxConnections = %d, want 20", got)
	}
	cfg.Database.MaxConnections = 7
	if got := cfg.DBMaxConnections(); got != 7 {
		t.Errorf("DBMaxConnections = %d, want 7", got)
	}
}

func TestLoadEnvPriority(t *testing.T) {
	t.Setenv("PUSH_VAPID_PUBLIC_KEY", "test-key")
	t.Setenv("SERVER_ADDR", ":9099")
	t.Setenv("TYPING_TIMEOUT_MS", "2000")
	t.Setenv("RECENT_MESSAGES_LIMIT", "7")
	t.Setenv("DATABASE_URL", "postgres://u:p@db:5432/portal")

	cfg := Load()
	if cfg.ServerAddr != ":9099" {
		t.Errorf("ServerAddr = %q, want :9099", cfg.ServerAddr)
	}
	if cfg.TypingTimeout() != 2*time.Second {
		t.Errorf("TypingTimeout = %v, want 2s", cfg.TypingTimeout())
	}
	if cfg.RecentMessagesLimit != 7 {
		t.Errorf("RecentMessagesLimit = %d, want 7", cfg.RecentMessagesLimit)
	}
	if cfg.DatabaseURL() != "postgres://u:p@db:5432/portal" {
		t.Errorf("DatabaseURL = %q", cfg.DatabaseURL())
	}
	if cfg.PushVAPIDPublicKey != "test-key" {
		t.Errorf("PushVAPIDPublicKey = %q, want env value", cfg.PushVAPIDPublicKey)
	}
}

func TestLoadDefaults(t *testing.T) {
	t.Setenv("PUSH_VAPID_PUBLIC_KEY", "test-key")
	t.Setenv("SERVER_ADDR", "")
	t.Setenv("TYPING_TIMEOUT_MS", "")
	t.Setenv("RECENT_MESSAGES_LIMIT", "")

	cfg := Load()
	if cfg.TypingTimeoutMS != 3000 {
		t.Errorf("default TypingTimeoutMS = %d, want 3000", cfg.TypingTimeoutMS)
	}
	if cfg.RecentMessagesLimit != 5 {
		t.Errorf("default RecentMessagesLimit = %d, want 5", cfg.RecentMessagesLimit)
	}
	if cfg.MaxUploadSize != 20<<20 {
		t.Errorf("default MaxUploadSize = %d, want 20MB", cfg.MaxUploadSize)
	}
}
