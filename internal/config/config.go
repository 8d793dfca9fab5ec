package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"net/mail"
	"net/url"
	"os"
	"path/filepath"
	"regexp"
	"strings"

	"github.com/joho/godotenv"
)

// Config is the root configuration for SupportDesk.
type Config struct {
	General   GeneralConfig   `json:"general"`
	Web       WebConfig       `json:"web"`
	Timeline  TimelineConfig  `json:"timeline"`
	Directory DirectoryConfig `json:"directory"`
	Login     LoginConfig     `json:"login"`
	Metrics   MetricsConfig   `json:"metrics"`
	Client    ClientConfig    `json:"client"`
}

type GeneralConfig struct {
	LogLevel  string `json:"logLevel"`
	LogFile   string `json:"logFile,omitempty"` // optional JSON log file next to stderr output
	AgentName string `json:"agentName"`         // display name on staff messages
}

type WebConfig struct {
	Host string  `json:"host"`
	Port int     `json:"port"`
	Auth WebAuth `json:"auth"`
}

type WebAuth struct {
	Enabled      bool   `json:"enabled"`
	Username     string `json:"username"`
	PasswordHash string `json:"passwordHash"` // hex SHA-256
}

// TimelineConfig holds the simulated delivery delays, in milliseconds.
type TimelineConfig struct {
	DeliverDelayMs  int `json:"deliverDelayMs"`
	TypingDelayMs   int `json:"typingDelayMs"`
	TakeOverDelayMs int `json:"takeOverDelayMs"`
}

type DirectoryConfig struct {
	DBPath   string `json:"dbPath"`             // "" or ":memory:" keeps the data in memory
	SeedFile string `json:"seedFile,omitempty"` // YAML fixture; the embedded demo data when empty
}

type LoginConfig struct {
	Email         string  `json:"email"`
	Password      string  `json:"password"`
	DelayMs       int     `json:"delayMs"`
	RatePerSecond float64 `json:"ratePerSecond"`
	Burst         int     `json:"burst"`
}

type MetricsConfig struct {
	Enabled  bool   `json:"enabled"`
	Endpoint string `json:"endpoint"`
}

type ClientConfig struct {
	BaseURL        string `json:"baseUrl"`
	Token          string `json:"token,omitempty"`
	TimeoutSeconds int    `json:"timeoutSeconds"`
	Retries        int    `json:"retries"`
}

// DefaultConfigDir returns the default config directory (~/.supportdesk).
func DefaultConfigDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ".supportdesk"
	}
	return filepath.Join(home, ".supportdesk")
}

func DefaultConfigPath() string {
	return filepath.Join(DefaultConfigDir(), "config.json")
}

// LoadDotEnv loads variables from .env files into the process environment.
// Variables already set are kept. Missing files are not an error.
func LoadDotEnv(files ...string) error {
	if len(files) == 0 {
		files = []string{".env"}
	}
	for _, f := range files {
		if err := godotenv.Load(f); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return fmt.Errorf("load %s: %w", f, err)
		}
	}
	return nil
}

func Load(path string) (*Config, error) {
	path = ExpandPath(path)

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("cannot read config file %s: %w", path, err)
	}

	// Substitute environment variables: ${VAR} and ${VAR:-default}
	data = []byte(ExpandEnvVars(string(data)))

	cfg := Defaults()
	if err := json.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("cannot parse config file %s: %w", path, err)
	}

	cfg.Directory.DBPath = ExpandPath(cfg.Directory.DBPath)
	cfg.Directory.SeedFile = ExpandPath(cfg.Directory.SeedFile)
	cfg.General.LogFile = ExpandPath(cfg.General.LogFile)

	if err := Validate(cfg); err != nil {
		return nil, fmt.Errorf("config validation: %w", err)
	}

	return cfg, nil
}

// LoadOrDefaults loads path when it exists and falls back to Defaults otherwise.
// A file that exists but cannot be parsed or validated is still an error.
func LoadOrDefaults(path string) (*Config, bool, error) {
	if _, err := os.Stat(ExpandPath(path)); errors.Is(err, fs.ErrNotExist) {
		cfg := Defaults()
		applyEnvOverrides(cfg)
		return cfg, false, nil
	}
	cfg, err := Load(path)
	if err != nil {
		return nil, false, err
	}
	applyEnvOverrides(cfg)
	return cfg, true, nil
}

// applyEnvOverrides lets a few well-known variables win over the file.
func applyEnvOverrides(cfg *Config) {
	if v := os.Getenv("SUPPORTDESK_API_URL"); v != "" {
		cfg.Client.BaseURL = v
	}
	if v := os.Getenv("SUPPORTDESK_TOKEN"); v != "" {
		cfg.Client.Token = v
	}
	if v := os.Getenv("SUPPORTDESK_LOG_LEVEL"); v != "" {
		cfg.General.LogLevel = v
	}
}

// envVarPattern matches ${VAR} and ${VAR:-default} patterns in config strings.
var envVarPattern = regexp.MustCompile(`\$\{([A-Za-z_][A-Za-z0-9_]*)(?::-(.*?))?\}`)

// ExpandEnvVars replaces ${VAR} with the environment variable value.
// ${VAR:-default} uses "default" when VAR is unset or empty.
func ExpandEnvVars(input string) string {
	return envVarPattern.ReplaceAllStringFunc(input, func(match string) string {
		groups := envVarPattern.FindStringSubmatch(match)
		if len(groups) < 2 {
			return match
		}
		hasDefault := len(groups) >= 3 && groups[2] != ""

		val, exists := os.LookupEnv(groups[1])
		if !exists || val == "" {
			if hasDefault {
				return groups[2]
			}
			return match
		}
		return val
	})
}

func Save(path string, cfg *Config) error {
	path = ExpandPath(path)
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("cannot create config directory: %w", err)
	}

	data, err := json.MarshalIndent(cfg, "", "  ")
	if err != nil {
		return fmt.Errorf("cannot marshal config: %w", err)
	}

	return os.WriteFile(path, data, 0o600)
}

// Validate checks that the config has valid values.
func Validate(cfg *Config) error {
	var errs []string

	if _, err := ParseLevel(cfg.General.LogLevel); err != nil {
		errs = append(errs, "general.logLevel must be one of: debug, info, warn, error")
	}
	if strings.TrimSpace(cfg.General.AgentName) == "" {
		errs = append(errs, "general.agentName is required")
	}

	if cfg.Web.Port < 0 || cfg.Web.Port > 65535 {
		errs = append(errs, "web.port must be between 0 and 65535")
	}
	if cfg.Web.Auth.Enabled && (cfg.Web.Auth.Username == "" || cfg.Web.Auth.PasswordHash == "") {
		errs = append(errs, "web.auth requires username and passwordHash when enabled")
	}

	if cfg.Timeline.DeliverDelayMs < 1 {
		errs = append(errs, "timeline.deliverDelayMs must be >= 1")
	}
	if cfg.Timeline.TypingDelayMs < 1 {
		errs = append(errs, "timeline.typingDelayMs must be >= 1")
	}
	if cfg.Timeline.TakeOverDelayMs < 0 {
		errs = append(errs, "timeline.takeOverDelayMs must be >= 0")
	}

	if _, err := mail.ParseAddress(cfg.Login.Email); err != nil {
		errs = append(errs, "login.email must be a valid address")
	}
	if len(cfg.Login.Password) < 6 {
		errs = append(errs, "login.password must be at least 6 characters")
	}
	if cfg.Login.DelayMs < 0 {
		errs = append(errs, "login.delayMs must be >= 0")
	}
	if cfg.Login.RatePerSecond <= 0 || cfg.Login.Burst < 1 {
		errs = append(errs, "login.ratePerSecond must be > 0 and login.burst >= 1")
	}

	if cfg.Metrics.Enabled && !strings.HasPrefix(cfg.Metrics.Endpoint, "/") {
		errs = append(errs, "metrics.endpoint must start with /")
	}

	if u, err := url.Parse(cfg.Client.BaseURL); err != nil || u.Scheme == "" || u.Host == "" {
		errs = append(errs, "client.baseUrl must be an absolute URL")
	}
	if cfg.Client.TimeoutSeconds < 1 {
		errs = append(errs, "client.timeoutSeconds must be >= 1")
	}
	if cfg.Client.Retries < 0 || cfg.Client.Retries > 5 {
		errs = append(errs, "client.retries must be between 0 and 5")
	}

	if len(errs) > 0 {
		return fmt.Errorf("config validation errors:\n  - %s", strings.Join(errs, "\n  - "))
	}
	return nil
}

// ExpandPath resolves ~/ to the user's home directory.
func ExpandPath(path string) string {
	if strings.HasPrefix(path, "~/") {
		home, err := os.UserHomeDir()
		if err != nil {
			return path
		}
		return filepath.Join(home, path[2:])
	}
	return path
}
