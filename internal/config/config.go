package config

import (
	"errors"
	"fmt"
	"io/fs"
	"net/url"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/joho/godotenv"
	"go.uber.org/zap/zapcore"
)

// EnvPrefix prefixes every environment override.
const EnvPrefix = "GROUPCHAT_"

// DefaultEnvFile is read by Resolve when present in the working directory.
const DefaultEnvFile = ".env"

// Config is the shared ~/.groupchat/config.toml used by the client tools and
// the development server.
type Config struct {
	Server    ServerConfig    `toml:"server"`
	Transport TransportConfig `toml:"transport"`
	History   HistoryConfig   `toml:"history"`
	Client    ClientConfig    `toml:"client"`
	Log       LogConfig       `toml:"log"`
	Daemon    DaemonConfig    `toml:"daemon"`
}

type ServerConfig struct {
	URL string `toml:"url"`
}

type TransportConfig struct {
	Mode         string   `toml:"mode"`
	PollInterval Duration `toml:"poll_interval"`
	PollLimit    int      `toml:"poll_limit"`
}

type HistoryConfig struct {
	InitialLimit int `toml:"initial_limit"`
	PageSize     int `toml:"page_size"`
}

// ClientConfig pins the participant id. Empty means a fresh id per session.
type ClientConfig struct {
	ID string `toml:"id,omitempty"`
}

type LogConfig struct {
	Level string `toml:"level"`
	Path  string `toml:"path,omitempty"`
}

type DaemonConfig struct {
	Listen        string  `toml:"listen"`
	DataDir       string  `toml:"data_dir,omitempty"`
	RatePerSecond float64 `toml:"rate_per_second"`
	Burst         int     `toml:"burst"`
}

// Duration is a time.Duration written as text ("3s") in TOML.
type Duration struct {
	time.Duration
}

func (d Duration) MarshalText() ([]byte, error) {
	return []byte(d.String()), nil
}

func (d *Duration) UnmarshalText(text []byte) error {
	v, err := time.ParseDuration(string(text))
	if err != nil {
		return err
	}
	d.Duration = v
	return nil
}

// Default returns the built-in configuration.
func Default() *Config {
	return &Config{
		Server:    ServerConfig{URL: "http://127.0.0.1:8080"},
		Transport: TransportConfig{Mode: "push", PollInterval: Duration{3 * time.Second}, PollLimit: 10},
		History:   HistoryConfig{InitialLimit: 10, PageSize: 20},
		Log:       LogConfig{Level: "info"},
		Daemon:    DaemonConfig{Listen: "127.0.0.1:8080", RatePerSecond: 5, Burst: 10},
	}
}

// Load decodes the file at path over the defaults. Returns an error if the
// file is missing.
func Load(path string) (*Config, error) {
	cfg := Default()
	if _, err := toml.DecodeFile(path, cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Save writes config to the given path, creating parent dirs as needed.
func Save(path string, cfg *Config) error {
	if err := os.MkdirAll(filepath.Dir(path), 0700); err != nil {
		return err
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0600)
	if err != nil {
		return err
	}
	encErr := toml.NewEncoder(f).Encode(cfg)
	if closeErr := f.Close(); closeErr != nil && encErr == nil {
		return closeErr
	}
	return encErr
}

// Resolve layers defaults, the TOML file at path (optional), ./.env and
// GROUPCHAT_* environment variables, then validates the result.
func Resolve(path string) (*Config, error) {
	return resolve(path, DefaultEnvFile, os.LookupEnv)
}

func resolve(path, envFile string, lookup func(string) (string, bool)) (*Config, error) {
	cfg := Default()
	if path != "" {
		loaded, err := Load(path)
		switch {
		case err == nil:
			cfg = loaded
		case errors.Is(err, fs.ErrNotExist):
		default:
			return nil, fmt.Errorf("load %s: %w", path, err)
		}
	}

	dotenv := map[string]string{}
	if envFile != "" {
		vals, err := godotenv.Read(envFile)
		switch {
		case err == nil:
			dotenv = vals
		case errors.Is(err, fs.ErrNotExist):
		default:
			return nil, fmt.Errorf("read %s: %w", envFile, err)
		}
	}
	get := func(key string) (string, bool) {
		if v, ok := lookup(EnvPrefix + key); ok {
			return v, true
		}
		v, ok := dotenv[EnvPrefix+key]
		return v, ok
	}

	if err := cfg.applyEnv(get); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) applyEnv(get func(string) (string, bool)) error {
	strs := map[string]*string{
		"SERVER_URL":      &c.Server.URL,
		"TRANSPORT_MODE":  &c.Transport.Mode,
		"CLIENT_ID":       &c.Client.ID,
		"LOG_LEVEL":       &c.Log.Level,
		"LOG_PATH":        &c.Log.Path,
		"DAEMON_LISTEN":   &c.Daemon.Listen,
		"DAEMON_DATA_DIR": &c.Daemon.DataDir,
	}
	for key, dst := range strs {
		if v, ok := get(key); ok {
			*dst = v
		}
	}

	ints := map[string]*int{
		"POLL_LIMIT":            &c.Transport.PollLimit,
		"HISTORY_INITIAL_LIMIT": &c.History.InitialLimit,
		"HISTORY_PAGE_SIZE":     &c.History.PageSize,
		"DAEMON_BURST":          &c.Daemon.Burst,
	}
	for key, dst := range ints {
		v, ok := get(key)
		if !ok {
			continue
		}
		n, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("%s%s: %w", EnvPrefix, key, err)
		}
		*dst = n
	}

	if v, ok := get("POLL_INTERVAL"); ok {
		if err := c.Transport.PollInterval.UnmarshalText([]byte(v)); err != nil {
			return fmt.Errorf("%sPOLL_INTERVAL: %w", EnvPrefix, err)
		}
	}
	if v, ok := get("DAEMON_RATE"); ok {
		f, err := strconv.ParseFloat(v, 64)
		if err != nil {
			return fmt.Errorf("%sDAEMON_RATE: %w", EnvPrefix, err)
		}
		c.Daemon.RatePerSecond = f
	}
	return nil
}

// Validate reports the first invalid setting.
func (c *Config) Validate() error {
	u, err := url.Parse(c.Server.URL)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return fmt.Errorf("server.url %q must be an http(s) URL", c.Server.URL)
	}
	switch c.Transport.Mode {
	case "push", "poll":
	default:
		return fmt.Errorf("transport.mode %q must be push or poll", c.Transport.Mode)
	}
	if c.Transport.PollInterval.Duration < 100*time.Millisecond {
		return fmt.Errorf("transport.poll_interval %s is below 100ms", c.Transport.PollInterval)
	}
	for name, v := range map[string]int{
		"transport.poll_limit":  c.Transport.PollLimit,
		"history.initial_limit": c.History.InitialLimit,
		"history.page_size":     c.History.PageSize,
	} {
		if v < 1 || v > 100 {
			return fmt.Errorf("%s %d must be between 1 and 100", name, v)
		}
	}
	if _, err := zapcore.ParseLevel(c.Log.Level); err != nil {
		return fmt.Errorf("log.level: %w", err)
	}
	if c.Daemon.Listen == "" {
		return errors.New("daemon.listen is empty")
	}
	if c.Daemon.RatePerSecond <= 0 || c.Daemon.Burst < 1 {
		return fmt.Errorf("daemon rate %.2f/s burst %d must be positive", c.Daemon.RatePerSecond, c.Daemon.Burst)
	}
	return nil
}
