package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestLoadConfigDefaults(t *testing.T) {
	t.Parallel()
	cfg, err := LoadConfig(nil)
	if err != nil {
		t.Fatalf("LoadConfig: %v", err)
	}
	if cfg.Dev != defaultDev {
		t.Fatalf("Dev = %q, want %q", cfg.Dev, defaultDev)
	}
	if cfg.GRPC != defaultGRPC {
		t.Fatalf("GRPC = %d, want %d", cfg.GRPC, defaultGRPC)
	}
	if cfg.TCP != defaultTCP {
		t.Fatalf("TCP = %d, want %d", cfg.TCP, defaultTCP)
	}
	if cfg.ConfigWatchDebounce != 500*time.Millisecond {
		t.Fatalf("ConfigWatchDebounce = %v, want 500ms", cfg.ConfigWatchDebounce)
	}
}

func TestLoadConfigFlagsOverrideDefaults(t *testing.T) {
	t.Parallel()
	cfg, err := LoadConfig([]string{"--ip", "10.0.0.5", "--grpc", "9001"})
	if err != nil {
		t.Fatalf("LoadConfig: %v", err)
	}
	if cfg.IP != "10.0.0.5" {
		t.Fatalf("IP = %q, want 10.0.0.5", cfg.IP)
	}
	if cfg.GRPC != 9001 {
		t.Fatalf("GRPC = %d, want 9001", cfg.GRPC)
	}
}

func TestLoadConfigEnvOverridesDefaultButNotFlag(t *testing.T) {
	t.Setenv("MEDIAPROXY_IP", "172.16.0.1")
	t.Setenv("MEDIAPROXY_GRPC", "9500")

	cfg, err := LoadConfig([]string{"--grpc", "9600"})
	if err != nil {
		t.Fatalf("LoadConfig: %v", err)
	}
	if cfg.IP != "172.16.0.1" {
		t.Fatalf("IP = %q, want env override 172.16.0.1", cfg.IP)
	}
	if cfg.GRPC != 9600 {
		t.Fatalf("GRPC = %d, want flag override 9600, not env value", cfg.GRPC)
	}
}

func TestLoadConfigReadsConfigFile(t *testing.T) {
	t.Parallel()
	dir := t.TempDir()
	path := filepath.Join(dir, "mediaproxy.yaml")
	if err := os.WriteFile(path, []byte("ip: 192.168.50.50\ngrpc: 8100\n"), 0o644); err != nil {
		t.Fatalf("write config file: %v", err)
	}

	cfg, err := LoadConfig([]string{"--config_file", path})
	if err != nil {
		t.Fatalf("LoadConfig: %v", err)
	}
	if cfg.IP != "192.168.50.50" {
		t.Fatalf("IP = %q, want value from config file", cfg.IP)
	}
	if cfg.GRPC != 8100 {
		t.Fatalf("GRPC = %d, want 8100 from config file", cfg.GRPC)
	}
}

func TestLoadConfigKahawaiEnvOverridesST2110Path(t *testing.T) {
	t.Setenv("KAHAWAI_CFG_PATH", "/tmp/custom-imtl.json")

	cfg, err := LoadConfig(nil)
	if err != nil {
		t.Fatalf("LoadConfig: %v", err)
	}
	if cfg.ST2110ConfigPath != "/tmp/custom-imtl.json" {
		t.Fatalf("ST2110ConfigPath = %q, want override from KAHAWAI_CFG_PATH", cfg.ST2110ConfigPath)
	}
}

func TestLoadConfigRejectsUnknownFlag(t *testing.T) {
	t.Parallel()
	if _, err := LoadConfig([]string{"--not-a-real-flag", "x"}); err == nil {
		t.Fatal("expected an error for an unrecognized flag")
	}
}

func TestWatchFileDebouncesRapidWrites(t *testing.T) {
	t.Parallel()
	dir := t.TempDir()
	path := filepath.Join(dir, "watched.json")
	if err := os.WriteFile(path, []byte("{}"), 0o644); err != nil {
		t.Fatalf("write watched file: %v", err)
	}

	fired := make(chan struct{}, 8)
	stop, err := WatchFile(path, 30*time.Millisecond, nil, func() { fired <- struct{}{} })
	if err != nil {
		t.Fatalf("WatchFile: %v", err)
	}
	defer stop()

	for i := 0; i < 3; i++ {
		if err := os.WriteFile(path, []byte("{}"), 0o644); err != nil {
			t.Fatalf("rewrite watched file: %v", err)
		}
		time.Sleep(5 * time.Millisecond)
	}

	select {
	case <-fired:
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for debounced callback")
	}

	select {
	case <-fired:
		t.Fatal("three rapid writes within the debounce window should collapse to one callback")
	case <-time.After(100 * time.Millisecond):
	}
}
