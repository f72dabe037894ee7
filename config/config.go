package config

import (
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/bmatcuk/doublestar/v4"
	"github.com/tidwall/jsonc"
	"gopkg.in/yaml.v3"

	"github.com/m4xw311/kernelio/errors"
	"github.com/m4xw311/kernelio/transport"
)

// EnvLogLevel overrides Log.Level when set.
const EnvLogLevel = "KERNELIO_LOG_LEVEL"

type Kernel struct {
	Command          string   `yaml:"command" toml:"command"`
	Args             []string `yaml:"args" toml:"args"`
	WorkingDirectory string   `yaml:"working_directory" toml:"working_directory"`
	Env              []string `yaml:"env" toml:"env"`
}

// Profile overrides the default kernel for notebooks whose path matches
// Match, a doublestar glob.
type Profile struct {
	Match  string `yaml:"match" toml:"match"`
	Kernel `yaml:",inline"`
}

type Tunnel struct {
	Timeout time.Duration `yaml:"timeout" toml:"timeout"`
}

type Log struct {
	Level string `yaml:"level" toml:"level"`
}

type Config struct {
	Kernel   Kernel    `yaml:"kernel" toml:"kernel"`
	Profiles []Profile `yaml:"profiles" toml:"profiles"`
	Tunnel   Tunnel    `yaml:"tunnel" toml:"tunnel"`
	Log      Log       `yaml:"log" toml:"log"`
}

// Default is used when no configuration file sets a kernel.
func Default() *Config {
	return &Config{
		Kernel: Kernel{
			Command: "dotnet",
			Args:    []string{"interactive", "stdio"},
		},
		Tunnel: Tunnel{Timeout: 10 * time.Second},
		Log:    Log{Level: "info"},
	}
}

// LoadConfig loads configuration from the user's home directory and the current
// working directory, with the latter taking precedence. In each directory
// the first of config.yaml, config.yml, config.toml, config.jsonc and
// config.json found under .kernelio is used.
func LoadConfig() (*Config, error) {
	cfg := Default()

	home, err := os.UserHomeDir()
	if err == nil {
		if path, ok := findConfigFile(filepath.Join(home, ".kernelio")); ok {
			if err := LoadFile(path, cfg); err != nil {
				return nil, errors.Wrapf(err, "error loading user config")
			}
		}
	}

	wd, err := os.Getwd()
	if err != nil {
		return nil, errors.Wrapf(err, "could not get working directory")
	}
	if path, ok := findConfigFile(filepath.Join(wd, ".kernelio")); ok {
		if err := LoadFile(path, cfg); err != nil {
			return nil, errors.Wrapf(err, "error loading project config")
		}
	}

	cfg.applyEnv()
	return cfg, nil
}

func findConfigFile(dir string) (string, bool) {
	for _, name := range []string{"config.yaml", "config.yml", "config.toml", "config.jsonc", "config.json"} {
		path := filepath.Join(dir, name)
		if _, err := os.Stat(path); err == nil {
			return path, true
		}
	}
	return "", false
}

// LoadFile decodes path into cfg. Fields present in the file replace the
// ones already in cfg. The format follows the extension: .toml, .json or
// .jsonc (comments and trailing commas allowed), anything else is YAML.
func LoadFile(path string, cfg *Config) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return err
	}
	switch strings.ToLower(filepath.Ext(path)) {
	case ".toml":
		if _, err := toml.Decode(string(data), cfg); err != nil {
			return errors.Wrapf(err, "parsing %s", path)
		}
		return cfg.validate()
	case ".json", ".jsonc":
		// JSON is valid YAML once comments and trailing commas are gone.
		data = jsonc.ToJSON(data)
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return errors.Wrapf(err, "parsing %s", path)
	}
	return cfg.validate()
}

func (c *Config) validate() error {
	for _, p := range c.Profiles {
		if !doublestar.ValidatePattern(p.Match) {
			return errors.New("invalid profile pattern '%s'", p.Match)
		}
	}
	return nil
}

func (c *Config) applyEnv() {
	if level := strings.TrimSpace(os.Getenv(EnvLogLevel)); level != "" {
		c.Log.Level = level
	}
}

// KernelFor returns the kernel launch for notebookPath: the first profile
// whose pattern matches, or the default kernel.
func (c *Config) KernelFor(notebookPath string) Kernel {
	slashed := filepath.ToSlash(notebookPath)
	for _, p := range c.Profiles {
		if match, _ := doublestar.Match(p.Match, slashed); match {
			return p.Kernel
		}
	}
	return c.Kernel
}

// ProcessStartFor builds the transport launch for notebookPath. An empty
// working directory defaults to the notebook's directory.
func (c *Config) ProcessStartFor(notebookPath string) transport.ProcessStart {
	k := c.KernelFor(notebookPath)
	wd := k.WorkingDirectory
	if wd == "" && notebookPath != "" {
		wd = filepath.Dir(notebookPath)
	}
	return transport.ProcessStart{
		Command:          k.Command,
		Args:             append([]string(nil), k.Args...),
		WorkingDirectory: wd,
		Env:              append([]string(nil), k.Env...),
	}
}
