package config

import (
	"testing"
	"time"
)

func TestLoadDefaults(t *testing.T) {
	t.Setenv("CONFIG_ENV", "test-does-not-exist")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Port != 8080 {
		t.Errorf("Port = %d, want 8080", cfg.Port)
	}
	if cfg.HeartbeatInterval != 30*time.Second {
		t.Errorf("HeartbeatInterval = %s, want 30s", cfg.HeartbeatInterval)
	}
	if cfg.ConnectionTimeout != 90*time.Second {
		t.Errorf("ConnectionTimeout = %s, want 90s", cfg.ConnectionTimeout)
	}
	if cfg.MaxSessionDuration != 2*time.Hour {
		t.Errorf("MaxSessionDuration = %s, want 2h", cfg.MaxSessionDuration)
	}
	if cfg.ReconnectGracePeriod != 30*time.Second {
		t.Errorf("ReconnectGracePeriod = %s, want 30s", cfg.ReconnectGracePeriod)
	}
	if len(cfg.AllowedOrigins) == 0 {
		t.Errorf("AllowedOrigins empty")
	}
	if len(cfg.ICEServers) == 0 || len(cfg.ICEServers[0].URLs) == 0 {
		t.Errorf("ICEServers = %+v, want at least one STUN entry", cfg.ICEServers)
	}
}

func TestLoadEnvOverrides(t *testing.T) {
	t.Setenv("CONFIG_ENV", "test-does-not-exist")
	t.Setenv("SIGNALING_PORT", "9090")
	t.Setenv("SIGNALING_HEARTBEAT_INTERVAL", "5s")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Port != 9090 {
		t.Errorf("Port = %d, want 9090 from env", cfg.Port)
	}
	if cfg.HeartbeatInterval != 5*time.Second {
		t.Errorf("HeartbeatInterval = %s, want 5s from env", cfg.HeartbeatInterval)
	}
}
