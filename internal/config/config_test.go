package config

import (
	"os"
	"path/filepath"
	"testing"
)

func TestDefaultValidates(t *testing.T) {
	if err := Default().Validate(); err != nil {
		t.Fatalf("default config invalid: %v", err)
	}
}

func TestFromYAMLOverridesDefaults(t *testing.T) {
	cfg, err := FromYAML([]byte("server:\n  addr: 0.0.0.0:9000\nmetrics:\n  velocity_window: 3\n"))
	if err != nil {
		t.Fatal(err)
	}
	if cfg.Server.Addr != "0.0.0.0:9000" {
		t.Fatalf("addr = %s", cfg.Server.Addr)
	}
	if cfg.Metrics.VelocityWindow != 3 {
		t.Fatalf("velocity window = %d", cfg.Metrics.VelocityWindow)
	}
	// untouched fields keep defaults
	if cfg.Server.BasePath != "/v1" || cfg.Activity.PageSize != 20 {
		t.Fatalf("defaults lost: %+v", cfg)
	}
}

func TestFromYAMLRejectsUnknownPermission(t *testing.T) {
	_, err := FromYAML([]byte("rbac:\n  roles:\n    owner:\n      permissions: [sprints.fly]\n"))
	if err == nil {
		t.Fatalf("unknown permission accepted")
	}
}

func TestLoadMissingFileFallsBack(t *testing.T) {
	cfg, err := Load(t.TempDir())
	if err != nil {
		t.Fatal(err)
	}
	if cfg.Server.Addr != "127.0.0.1:8390" {
		t.Fatalf("expected defaults, got %+v", cfg.Server)
	}
}

func TestLoadReadsWorkspaceFile(t *testing.T) {
	ws := t.TempDir()
	if err := os.MkdirAll(filepath.Join(ws, ".sprintline"), 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(Path(ws), []byte("activity:\n  page_size: 5\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	cfg, err := Load(ws)
	if err != nil {
		t.Fatal(err)
	}
	if cfg.Activity.PageSize != 5 {
		t.Fatalf("page size = %d", cfg.Activity.PageSize)
	}
}
