// Package config provides configuration file support for pkgfsd.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/adrg/xdg"
	"github.com/go-viper/mapstructure/v2"
	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/confmap"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"
	yamlv3 "gopkg.in/yaml.v3"
)

// EnvPrefix is the prefix of environment overrides. Nested keys are
// separated by a double underscore: PKGFSD_LOG__LEVEL=debug.
const EnvPrefix = "PKGFSD_"

// Config represents the daemon configuration.
type Config struct {
	Socket          string                `yaml:"socket"`
	MetricsAddress  string                `yaml:"metrics_address"`
	Log             LoggingConfig         `yaml:"log"`
	Debounce        time.Duration         `yaml:"debounce"`
	Activation      ActivationConfig      `yaml:"activation"`
	Roots           []RootConfig          `yaml:"roots"`
	RetentionPolicy RetentionPolicyConfig `yaml:"retention_policy"`
	Webhooks        []WebhookConfig       `yaml:"webhooks"`
}

// LoggingConfig configures logging behavior.
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"` // json, console
}

// ActivationConfig configures how activation changes reach the kernel.
type ActivationConfig struct {
	MaxFileSize   int64 `yaml:"max_file_size"`
	KernelControl bool  `yaml:"kernel_control"`
}

// RootConfig describes one root directory and the volumes mounted below it.
type RootConfig struct {
	Path    string         `yaml:"path"`
	Volumes []VolumeConfig `yaml:"volumes"`
}

// VolumeConfig describes one package volume.
type VolumeConfig struct {
	MountPoint  string `yaml:"mount_point"`
	Type        string `yaml:"type"` // system, home, custom
	PackagesDir string `yaml:"packages_dir"`
	OldState    string `yaml:"old_state"`
}

// RetentionPolicyConfig configures old-state pruning.
type RetentionPolicyConfig struct {
	KeepMinStates int           `yaml:"keep_min_states"`
	KeepMinAge    time.Duration `yaml:"keep_min_age"`
}

// WebhookConfig configures one activation-change webhook.
type WebhookConfig struct {
	URL     string        `yaml:"url"`
	Secret  string        `yaml:"secret"`
	Events  []string      `yaml:"events"`
	Timeout time.Duration `yaml:"timeout"`
}

// DefaultPackagesDir is the packages directory of a volume relative to its
// mount point.
const DefaultPackagesDir = "packages"

// PackagesPath returns the absolute packages directory of the volume.
func (v VolumeConfig) PackagesPath() string {
	dir := v.PackagesDir
	if dir == "" {
		dir = DefaultPackagesDir
	}
	if filepath.IsAbs(dir) {
		return dir
	}
	return filepath.Join(v.MountPoint, dir)
}

// Default returns the default configuration.
func Default() *Config {
	return &Config{
		Socket:   "/run/pkgfsd/pkgfsd.sock",
		Debounce: 500 * time.Millisecond,
		Log: LoggingConfig{
			Level:  "info",
			Format: "json",
		},
		Activation: ActivationConfig{
			MaxFileSize:   4 << 20,
			KernelControl: true,
		},
		RetentionPolicy: RetentionPolicyConfig{
			KeepMinStates: 10,
			KeepMinAge:    24 * time.Hour,
		},
	}
}

func defaultsMap() map[string]any {
	d := Default()
	return map[string]any{
		"socket":                           d.Socket,
		"metrics_address":                  d.MetricsAddress,
		"debounce":                         d.Debounce.String(),
		"log.level":                        d.Log.Level,
		"log.format":                       d.Log.Format,
		"activation.max_file_size":         d.Activation.MaxFileSize,
		"activation.kernel_control":        d.Activation.KernelControl,
		"retention_policy.keep_min_states": d.RetentionPolicy.KeepMinStates,
		"retention_policy.keep_min_age":    d.RetentionPolicy.KeepMinAge.String(),
	}
}

// DefaultPath returns the first existing pkgfsd/config.yaml in the XDG
// config directories, or the path where one would be created.
func DefaultPath() string {
	if p, err := xdg.SearchConfigFile(filepath.Join("pkgfsd", "config.yaml")); err == nil {
		return p
	}
	return filepath.Join(xdg.ConfigHome, "pkgfsd", "config.yaml")
}

// Load loads configuration from path layered over the defaults and under
// environment overrides. A missing file is not an error.
func Load(path string) (*Config, error) {
	k := koanf.New(".")

	if err := k.Load(confmap.Provider(defaultsMap(), "."), nil); err != nil {
		return nil, fmt.Errorf("load defaults: %w", err)
	}

	if path != "" {
		if _, err := os.Stat(path); err == nil {
			if err := k.Load(file.Provider(path), yaml.Parser()); err != nil {
				return nil, fmt.Errorf("parse config: %w", err)
			}
		} else if !os.IsNotExist(err) {
			return nil, fmt.Errorf("read config: %w", err)
		}
	}

	err := k.Load(env.Provider(EnvPrefix, ".", func(s string) string {
		return strings.ReplaceAll(strings.ToLower(strings.TrimPrefix(s, EnvPrefix)), "__", ".")
	}), nil)
	if err != nil {
		return nil, fmt.Errorf("load env: %w", err)
	}

	var cfg Config
	unmarshalConf := koanf.UnmarshalConf{
		Tag: "yaml",
		DecoderConfig: &mapstructure.DecoderConfig{
			Result:           &cfg,
			TagName:          "yaml",
			WeaklyTypedInput: true,
			DecodeHook: mapstructure.ComposeDecodeHookFunc(
				mapstructure.StringToTimeDurationHookFunc(),
				mapstructure.StringToSliceHookFunc(","),
			),
		},
	}
	if err := k.UnmarshalWithConf("", &cfg, unmarshalConf); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate checks cross-field constraints.
func (c *Config) Validate() error {
	for _, r := range c.Roots {
		if r.Path == "" {
			return fmt.Errorf("config: root without path")
		}
		var system, home int
		for _, v := range r.Volumes {
			if v.MountPoint == "" {
				return fmt.Errorf("config: volume without mount_point under root %s", r.Path)
			}
			switch v.Type {
			case "system":
				system++
			case "home":
				home++
			case "custom", "":
			default:
				return fmt.Errorf("config: unknown volume type %q", v.Type)
			}
		}
		if system > 1 || home > 1 {
			return fmt.Errorf("config: root %s has more than one system or home volume", r.Path)
		}
	}
	if c.Debounce < 0 {
		return fmt.Errorf("config: negative debounce")
	}
	return nil
}

// Save writes configuration as YAML to path.
func Save(path string, cfg *Config) error {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("create config dir: %w", err)
	}

	data, err := yamlv3.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("marshal config: %w", err)
	}

	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("write config: %w", err)
	}

	return nil
}
