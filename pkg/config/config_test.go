package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestDefault(t *testing.T) {
	cfg := Default()
	if cfg.Debounce != 500*time.Millisecond {
		t.Errorf("expected 500ms debounce, got %s", cfg.Debounce)
	}
	if cfg.Activation.MaxFileSize != 4<<20 {
		t.Errorf("expected 4 MiB activation file bound, got %d", cfg.Activation.MaxFileSize)
	}
	if !cfg.Activation.KernelControl {
		t.Error("expected kernel control enabled by default")
	}
	if cfg.RetentionPolicy.KeepMinStates != 10 {
		t.Errorf("expected keep_min_states 10, got %d", cfg.RetentionPolicy.KeepMinStates)
	}
}

func TestLoad_NotExists(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "missing.yaml"))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.Log.Level != "info" {
		t.Errorf("expected default level info, got %s", cfg.Log.Level)
	}
	if cfg.Debounce != 500*time.Millisecond {
		t.Errorf("expected default debounce, got %s", cfg.Debounce)
	}
}

func TestLoad_Exists(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	content := `
socket: /tmp/pkgfsd.sock
debounce: 250ms
log:
  level: debug
roots:
  - path: /boot
    volumes:
      - mount_point: /boot/system
        type: system
      - mount_point: /boot/home/config
        type: home
retention_policy:
  keep_min_states: 3
  keep_min_age: 1h
`
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatal(err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.Socket != "/tmp/pkgfsd.sock" {
		t.Errorf("unexpected socket %s", cfg.Socket)
	}
	if cfg.Debounce != 250*time.Millisecond {
		t.Errorf("unexpected debounce %s", cfg.Debounce)
	}
	if cfg.Log.Level != "debug" || cfg.Log.Format != "json" {
		t.Errorf("unexpected log config %+v", cfg.Log)
	}
	if len(cfg.Roots) != 1 || len(cfg.Roots[0].Volumes) != 2 {
		t.Fatalf("unexpected roots %+v", cfg.Roots)
	}
	if cfg.Roots[0].Volumes[1].Type != "home" {
		t.Errorf("unexpected volume type %s", cfg.Roots[0].Volumes[1].Type)
	}
	if cfg.RetentionPolicy.KeepMinStates != 3 || cfg.RetentionPolicy.KeepMinAge != time.Hour {
		t.Errorf("unexpected retention %+v", cfg.RetentionPolicy)
	}
	if !cfg.Activation.KernelControl {
		t.Error("defaults must survive a partial file")
	}
}

func TestLoad_EnvOverride(t *testing.T) {
	t.Setenv("PKGFSD_LOG__LEVEL", "warn")
	t.Setenv("PKGFSD_SOCKET", "/run/other.sock")

	cfg, err := Load("")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.Log.Level != "warn" {
		t.Errorf("expected env override, got %s", cfg.Log.Level)
	}
	if cfg.Socket != "/run/other.sock" {
		t.Errorf("expected env socket, got %s", cfg.Socket)
	}
}

func TestLoad_InvalidYAML(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte("roots: [unclosed"), 0644); err != nil {
		t.Fatal(err)
	}
	if _, err := Load(path); err == nil {
		t.Error("expected parse error")
	}
}

func TestValidate_DuplicateSystemVolume(t *testing.T) {
	cfg := Default()
	cfg.Roots = []RootConfig{{
		Path: "/boot",
		Volumes: []VolumeConfig{
			{MountPoint: "/boot/a", Type: "system"},
			{MountPoint: "/boot/b", Type: "system"},
		},
	}}
	if err := cfg.Validate(); err == nil {
		t.Error("expected error for two system volumes")
	}
}

func TestSaveLoadRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "sub", "config.yaml")
	cfg := Default()
	cfg.Roots = []RootConfig{{Path: "/boot", Volumes: []VolumeConfig{{MountPoint: "/boot/system", Type: "system"}}}}

	if err := Save(path, cfg); err != nil {
		t.Fatalf("save: %v", err)
	}
	loaded, err := Load(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if loaded.Roots[0].Volumes[0].MountPoint != "/boot/system" {
		t.Errorf("unexpected roots after round trip: %+v", loaded.Roots)
	}
	if loaded.Debounce != cfg.Debounce {
		t.Errorf("debounce lost in round trip: %s", loaded.Debounce)
	}
}

func TestVolumeConfig_PackagesPath(t *testing.T) {
	cases := []struct {
		vol  VolumeConfig
		want string
	}{
		{VolumeConfig{MountPoint: "/boot/system"}, "/boot/system/packages"},
		{VolumeConfig{MountPoint: "/boot/home", PackagesDir: "pkgs"}, "/boot/home/pkgs"},
		{VolumeConfig{MountPoint: "/boot/home", PackagesDir: "/srv/packages"}, "/srv/packages"},
	}
	for _, c := range cases {
		if got := c.vol.PackagesPath(); got != c.want {
			t.Errorf("PackagesPath(%+v) = %s, want %s", c.vol, got, c.want)
		}
	}
}
