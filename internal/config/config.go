// Package config loads the proxy's process-wide configuration from CLI
// flags, environment variables and an optional config file, in the
// teacher's viper+pflag idiom (spec.md was retrieved without the
// teacher's own config.LoadConfig implementation, so this package is
// authored fresh in the same shape rather than copied — see
// DESIGN.md).
package config

import (
	"fmt"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

// Config is the single struct every component in cmd/fx.go's DI graph
// is constructed from.
type Config struct {
	// CLI flags, spec.md §6.
	Dev  string `mapstructure:"dev"`
	IP   string `mapstructure:"ip"`
	GRPC int    `mapstructure:"grpc"`
	TCP  int    `mapstructure:"tcp"`

	// KAHAWAI_CFG_PATH, spec.md §6 Environment.
	ST2110ConfigPath string `mapstructure:"st2110_config_path"`

	// Debug HTTP surface (§11 domain stack: chi router, websocket
	// stream), not named in spec.md's CLI but needed to serve it.
	DebugHTTPAddr string `mapstructure:"debug_http_addr"`

	// Consul service registration (§11: replaces the teacher's private
	// discovery module).
	ConsulAddr        string `mapstructure:"consul_addr"`
	ServiceRegisterID string `mapstructure:"service_register_id"`

	// AMQP export target for the event broker (§4.7/§11).
	AMQPURI string `mapstructure:"amqp_uri"`

	// Logging (§10).
	LogLevel    string `mapstructure:"log_level"`
	LogFilePath string `mapstructure:"log_file_path"`

	// OTel (§10/§11).
	OTelEndpoint string `mapstructure:"otel_endpoint"`

	// ConfigWatchDebounce bounds how often fsnotify-driven reloads are
	// allowed to fire in a row, guarding against a flapping filesystem
	// (e.g. an editor doing save-via-rename twice quickly).
	ConfigWatchDebounce time.Duration `mapstructure:"config_watch_debounce"`
}

const (
	defaultDev   = "0000:31:00.1"
	defaultIP    = "192.168.1.20"
	defaultGRPC  = 8001
	defaultTCP   = 8002
	defaultST2110Cfg = "/usr/local/etc/imtl.json"
)

// LoadConfig builds a Config from flags, the environment, and an
// optional file named by --config_file or $MEDIAPROXY_CONFIG_FILE. CLI flag
// values win over the environment, which wins over the file, which
// wins over the defaults — viper's own precedence order.
func LoadConfig(args []string) (*Config, error) {
	v := viper.New()
	v.SetEnvPrefix("mediaproxy")
	v.AutomaticEnv()
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))

	v.SetDefault("dev", defaultDev)
	v.SetDefault("ip", defaultIP)
	v.SetDefault("grpc", defaultGRPC)
	v.SetDefault("tcp", defaultTCP)
	v.SetDefault("st2110_config_path", defaultST2110Cfg)
	v.SetDefault("debug_http_addr", ":9090")
	v.SetDefault("log_level", "info")
	v.SetDefault("config_watch_debounce", 500*time.Millisecond)

	fs := pflag.NewFlagSet("mediaproxy", pflag.ContinueOnError)
	fs.String("dev", defaultDev, "PCI BDF of the NIC device")
	fs.String("ip", defaultIP, "local interface IP")
	fs.Int("grpc", defaultGRPC, "gRPC control-plane port")
	fs.Int("tcp", defaultTCP, "TCP control-plane port")
	fs.String("config_file", "", "path to a YAML/JSON config file")
	if err := fs.Parse(args); err != nil {
		return nil, fmt.Errorf("config: parse flags: %w", err)
	}
	if err := v.BindPFlags(fs); err != nil {
		return nil, fmt.Errorf("config: bind flags: %w", err)
	}

	if p := v.GetString("config_file"); p != "" {
		v.SetConfigFile(p)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("config: read %s: %w", p, err)
		}
	}

	if envPath := os.Getenv("KAHAWAI_CFG_PATH"); envPath != "" {
		v.Set("st2110_config_path", envPath)
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("config: unmarshal: %w", err)
	}
	return &cfg, nil
}

// WatchFile arranges for fn to be invoked (debounced by debounce)
// whenever path changes on disk. Nothing in the server wires it up:
// neither the config file nor the ST 2110 device JSON named by
// KAHAWAI_CFG_PATH is watched unless a caller does so explicitly.
func WatchFile(path string, debounce time.Duration, logger *slog.Logger, fn func()) (func() error, error) {
	if logger == nil {
		logger = slog.Default()
	}
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("config: new watcher: %w", err)
	}
	if err := w.Add(path); err != nil {
		w.Close()
		return nil, fmt.Errorf("config: watch %s: %w", path, err)
	}

	go func() {
		var timer *time.Timer
		for {
			select {
			case ev, ok := <-w.Events:
				if !ok {
					return
				}
				if ev.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename) == 0 {
					continue
				}
				if timer != nil {
					timer.Stop()
				}
				timer = time.AfterFunc(debounce, fn)
			case err, ok := <-w.Errors:
				if !ok {
					return
				}
				logger.Warn("config watcher error", "path", path, "error", err)
			}
		}
	}()

	return w.Close, nil
}
