// Package config loads pwvault's process configuration. Values come, in
// increasing precedence, from built-in defaults, pwvault.yaml, PWVAULT_*
// environment variables and command line flags.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"

	"github.com/forest6511/pwvault/internal/logging"
	"github.com/forest6511/pwvault/pkg/lockout"
	"github.com/forest6511/pwvault/pkg/password"
	"github.com/forest6511/pwvault/pkg/vault"
)

const (
	// FileName is the config file name without extension.
	FileName = "pwvault"
	// EnvPrefix prefixes every environment override.
	EnvPrefix = "PWVAULT"
	// VaultDirName is the default vault directory under the home directory.
	VaultDirName = ".pwvault"
)

// ErrConfigExists is returned by WriteFile when it would overwrite a file.
var ErrConfigExists = errors.New("config: file already exists")

// Config is the resolved configuration.
type Config struct {
	VaultDir        string          `mapstructure:"vault_dir"`
	LogLevel        string          `mapstructure:"log_level"`
	LogFormat       string          `mapstructure:"log_format"`
	AutoLockMinutes int             `mapstructure:"auto_lock_minutes"`
	Lockout         LockoutConfig   `mapstructure:"lockout"`
	Generator       GeneratorConfig `mapstructure:"generator"`
}

// LockoutConfig tunes the failed-attempt lock.
type LockoutConfig struct {
	MaxAttempts int           `mapstructure:"max_attempts"`
	Duration    time.Duration `mapstructure:"duration"`
}

// GeneratorConfig sets the defaults of "pwvault generate".
type GeneratorConfig struct {
	Length           int  `mapstructure:"length"`
	ExcludeAmbiguous bool `mapstructure:"exclude_ambiguous"`
}

// Defaults returns the built-in configuration. VaultDir is left empty and
// resolved to ~/.pwvault by Load.
func Defaults() Config {
	return Config{
		LogLevel:        "warn",
		LogFormat:       logging.FormatConsole,
		AutoLockMinutes: vault.DefaultSettings().AutoLock,
		Lockout: LockoutConfig{
			MaxAttempts: lockout.DefaultMaxAttempts,
			Duration:    lockout.DefaultDuration,
		},
		Generator: GeneratorConfig{
			Length: password.DefaultLength,
		},
	}
}

// flagKeys maps command line flags to config keys.
var flagKeys = map[string]string{
	"vault-dir":  "vault_dir",
	"log-level":  "log_level",
	"log-format": "log_format",
}

// Load resolves the configuration. configFile, when set, must exist;
// otherwise pwvault.yaml is looked up in the user config directory and the
// working directory and may be absent. cmd may be nil.
func Load(cmd *cobra.Command, configFile string) (Config, error) {
	v := viper.New()

	// 1. Defaults
	for key, value := range defaultMap(Defaults()) {
		v.SetDefault(key, value)
	}

	// 2. Config file
	v.SetConfigType("yaml")
	if configFile != "" {
		v.SetConfigFile(configFile)
	} else {
		v.SetConfigName(FileName)
		if dir, err := userConfigDir(); err == nil {
			v.AddConfigPath(dir)
		}
		v.AddConfigPath(".")
	}
	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if configFile != "" || !errors.As(err, &notFound) {
			return Config{}, fmt.Errorf("config: failed to read config file: %w", err)
		}
	}

	// 3. Environment
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// 4. Flags
	if cmd != nil {
		for name, key := range flagKeys {
			if f := cmd.Flags().Lookup(name); f != nil {
				if err := v.BindPFlag(key, f); err != nil {
					return Config{}, fmt.Errorf("config: failed to bind flag %s: %w", name, err)
				}
			}
		}
	}

	var c Config
	if err := v.Unmarshal(&c); err != nil {
		return Config{}, fmt.Errorf("config: failed to parse: %w", err)
	}

	dir, err := resolveVaultDir(c.VaultDir)
	if err != nil {
		return Config{}, err
	}
	c.VaultDir = dir

	if err := c.Validate(); err != nil {
		return Config{}, err
	}
	return c, nil
}

// Validate checks every range.
func (c Config) Validate() error {
	switch {
	case c.AutoLockMinutes < 1 || c.AutoLockMinutes > vault.MaxAutoLockMinutes:
		return fmt.Errorf("config: auto_lock_minutes must be between 1 and %d", vault.MaxAutoLockMinutes)
	case c.Lockout.MaxAttempts < 1:
		return errors.New("config: lockout.max_attempts must be at least 1")
	case c.Lockout.Duration <= 0:
		return errors.New("config: lockout.duration must be positive")
	case c.Generator.Length < password.MinLength || c.Generator.Length > password.MaxLength:
		return fmt.Errorf("config: generator.length must be between %d and %d", password.MinLength, password.MaxLength)
	}
	return logging.Validate(c.LogLevel, c.LogFormat)
}

// Settings returns the vault defaults derived from c.
func (c Config) Settings() vault.Settings {
	s := vault.DefaultSettings()
	s.AutoLock = c.AutoLockMinutes
	return s
}

// GeneratorOptions returns the password generator defaults derived from c.
func (c Config) GeneratorOptions() password.Options {
	o := password.DefaultOptions()
	o.Length = c.Generator.Length
	o.ExcludeAmbiguous = c.Generator.ExcludeAmbiguous
	return o
}

// Path returns the user config file path.
func Path() (string, error) {
	dir, err := userConfigDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, FileName+".yaml"), nil
}

// WriteFile writes c as YAML to path with owner-only permissions. An
// existing file is kept unless force is set.
func WriteFile(path string, c Config, force bool) error {
	data, err := Marshal(c)
	if err != nil {
		return err
	}

	if err := os.MkdirAll(filepath.Dir(path), 0700); err != nil {
		return fmt.Errorf("config: could not create directory: %w", err)
	}

	flags := os.O_WRONLY | os.O_CREATE | os.O_TRUNC
	if !force {
		flags = os.O_WRONLY | os.O_CREATE | os.O_EXCL
	}
	f, err := os.OpenFile(path, flags, 0600)
	if err != nil {
		if os.IsExist(err) {
			return fmt.Errorf("%w: %s", ErrConfigExists, path)
		}
		return fmt.Errorf("config: failed to create file: %w", err)
	}
	if _, err := f.Write(data); err != nil {
		f.Close()
		return fmt.Errorf("config: failed to write file: %w", err)
	}
	return f.Close()
}

// Marshal renders c as the YAML Load reads.
func Marshal(c Config) ([]byte, error) {
	root := make(map[string]any)
	for key, value := range defaultMap(c) {
		section, leaf, nested := strings.Cut(key, ".")
		if !nested {
			root[key] = value
			continue
		}
		m, _ := root[section].(map[string]any)
		if m == nil {
			m = make(map[string]any)
			root[section] = m
		}
		m[leaf] = value
	}

	data, err := yaml.Marshal(root)
	if err != nil {
		return nil, fmt.Errorf("config: failed to marshal: %w", err)
	}
	return data, nil
}

// defaultMap flattens c into viper keys. Durations are rendered as
// strings so the YAML stays readable.
func defaultMap(c Config) map[string]any {
	return map[string]any{
		"vault_dir":                   c.VaultDir,
		"log_level":                   c.LogLevel,
		"log_format":                  c.LogFormat,
		"auto_lock_minutes":           c.AutoLockMinutes,
		"lockout.max_attempts":        c.Lockout.MaxAttempts,
		"lockout.duration":            c.Lockout.Duration.String(),
		"generator.length":            c.Generator.Length,
		"generator.exclude_ambiguous": c.Generator.ExcludeAmbiguous,
	}
}

func userConfigDir() (string, error) {
	dir, err := os.UserConfigDir()
	if err != nil {
		return "", fmt.Errorf("config: could not get user config directory: %w", err)
	}
	return filepath.Join(dir, FileName), nil
}

// resolveVaultDir expands "~" and fills in the default directory.
func resolveVaultDir(dir string) (string, error) {
	if dir != "" && dir != "~" && !strings.HasPrefix(dir, "~/") {
		return filepath.Clean(dir), nil
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("config: failed to get user home directory: %w", err)
	}
	if dir == "" {
		return filepath.Join(home, VaultDirName), nil
	}
	return filepath.Join(home, strings.TrimPrefix(strings.TrimPrefix(dir, "~"), "/")), nil
}
