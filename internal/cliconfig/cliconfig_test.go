package cliconfig

import "testing"

func TestResolveAppliesListenDefault(t *testing.T) {
	cfg, err := Resolve(Flags{Command: "/bin/sh"})
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	if cfg.Listen != DefaultListen {
		t.Fatalf("Listen = %q, want %q", cfg.Listen, DefaultListen)
	}
}

func TestResolveEnvFallback(t *testing.T) {
	t.Setenv("PTYSHARE_LISTEN", "0.0.0.0:9000")
	cfg, err := Resolve(Flags{Command: "/bin/sh"})
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	if cfg.Listen != "0.0.0.0:9000" {
		t.Fatalf("Listen = %q, want env override", cfg.Listen)
	}
}

func TestResolveFlagOverridesEnv(t *testing.T) {
	t.Setenv("PTYSHARE_LISTEN", "0.0.0.0:9000")
	cfg, err := Resolve(Flags{Command: "/bin/sh", Listen: "127.0.0.1:1234"})
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	if cfg.Listen != "127.0.0.1:1234" {
		t.Fatalf("Listen = %q, want explicit flag value", cfg.Listen)
	}
}

func TestResolveRequiresCommand(t *testing.T) {
	t.Setenv("PTYSHARE_COMMAND", "")
	t.Setenv("SHELL", "")
	_, err := Resolve(Flags{})
	if err == nil {
		t.Fatal("expected error when no command and no SHELL is available")
	}
}
