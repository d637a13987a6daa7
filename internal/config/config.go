package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// BasicAuthConfig holds HTTP Basic Auth credentials.
type BasicAuthConfig struct {
	Username string `yaml:"username" json:"username"`
	Password string `yaml:"password" json:"password"`
}

// CacheConfig controls the single on-disk calendar cache.
type CacheConfig struct {
	// File is the cache file path. Relative paths resolve against the working
	// directory. An empty value keeps the cache in memory only.
	File string `yaml:"file" json:"file"`

	// TTLSeconds is how long a written payload stays fresh.
	TTLSeconds int `yaml:"ttl_seconds" json:"ttl_seconds"`
}

// TelemetryConfig selects OpenTelemetry exporters.
type TelemetryConfig struct {
	// MetricsExporter is one of prometheus, stdout, otlp, none.
	MetricsExporter string `yaml:"metrics_exporter" json:"metrics_exporter"`
	// TracingExporter is one of stdout, otlp, none.
	TracingExporter string `yaml:"tracing_exporter" json:"tracing_exporter"`
}

// Config is the top-level application configuration.
type Config struct {
	// Listen is the HTTP listen address.
	Listen string `yaml:"listen" json:"listen"`

	// ServerURL is the CalDAV endpoint: either a calendar collection or any
	// URL from which the principal can be discovered.
	ServerURL string `yaml:"server_url" json:"server_url"`

	// Username / Password are sent upstream as HTTP Basic credentials.
	// Both support ${VAR} environment expansion.
	Username string `yaml:"username" json:"username"`
	Password string `yaml:"password" json:"password"`

	// Timezone is the TZID attached to DTSTART/DTEND lines that carry none
	// (e.g. "Europe/Paris").
	Timezone string `yaml:"timezone" json:"timezone"`

	Cache CacheConfig `yaml:"cache" json:"cache"`

	// RefreshCron is a cron-style schedule (e.g. "*/30 * * * *") used to
	// pre-warm the cache. Empty disables the warm-up.
	RefreshCron string `yaml:"refresh" json:"refresh"`

	// LogLevel is debug, info or error.
	LogLevel string `yaml:"log_level" json:"log_level"`

	Telemetry TelemetryConfig `yaml:"telemetry" json:"telemetry"`

	// HTTPAuth, if non-nil, enables HTTP Basic Authentication on all endpoints
	// except /health.
	HTTPAuth *BasicAuthConfig `yaml:"http_auth,omitempty" json:"http_auth,omitempty"`
}

const (
	defaultListen    = ":3000"
	defaultTimezone  = "Europe/Paris"
	defaultCacheFile = ".cached_calendar"
	defaultCacheTTL  = 3600
)

// DefaultConfig returns an in-memory default configuration.
func DefaultConfig() *Config {
	return &Config{
		Listen:   defaultListen,
		Timezone: defaultTimezone,
		Cache: CacheConfig{
			File:       defaultCacheFile,
			TTLSeconds: defaultCacheTTL,
		},
		LogLevel: "info",
		Telemetry: TelemetryConfig{
			MetricsExporter: "prometheus",
			TracingExporter: "none",
		},
	}
}

// Normalize fills in missing/zero values with defaults so that
// partially-filled configs still behave correctly.
func (c *Config) Normalize() {
	if c.Listen == "" {
		c.Listen = defaultListen
	}
	if c.Timezone == "" {
		c.Timezone = defaultTimezone
	}
	if c.Cache.TTLSeconds <= 0 {
		c.Cache.TTLSeconds = defaultCacheTTL
	}
	if c.LogLevel == "" {
		c.LogLevel = "info"
	}
	if c.Telemetry.MetricsExporter == "" {
		c.Telemetry.MetricsExporter = "prometheus"
	}
	if c.Telemetry.TracingExporter == "" {
		c.Telemetry.TracingExporter = "none"
	}
}

// CacheTTL returns the cache freshness window as a duration.
func (c *Config) CacheTTL() time.Duration {
	return time.Duration(c.Cache.TTLSeconds) * time.Second
}

// Validate reports settings the service cannot start without.
func (c *Config) Validate() error {
	if c.ServerURL == "" {
		return errors.New("config: server_url is required")
	}
	if c.Username == "" {
		return errors.New("config: username is required")
	}
	if c.HTTPAuth != nil && (c.HTTPAuth.Username == "" || c.HTTPAuth.Password == "") {
		return errors.New("config: http_auth requires username and password")
	}
	return nil
}

// Load loads configuration from the given YAML path.
//
// Behavior:
//   - If the file does not exist, a default config is written with 0600
//     perms and returned.
//   - If the file exists, it is unmarshalled, ${VAR} references in
//     credentials are expanded and defaults are filled in.
func Load(path string) (*Config, error) {
	if path == "" {
		return nil, errors.New("config path is empty")
	}

	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			// First run: create default config file.
			cfg := DefaultConfig()
			if err := Save(path, cfg); err != nil {
				return cfg, err
			}
			return cfg, nil
		}
		return nil, err
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, err
	}
	for _, field := range []*string{&cfg.ServerURL, &cfg.Username, &cfg.Password} {
		expanded, err := ExpandEnvStrict(*field)
		if err != nil {
			return nil, fmt.Errorf("config %s: %w", path, err)
		}
		*field = expanded
	}
	cfg.Normalize()

	return &cfg, nil
}

var envVarPattern = regexp.MustCompile(`\$\{([A-Za-z_][A-Za-z0-9_]*)\}`)

// ExpandEnvStrict expands ${VAR} references in s. A ${VAR} that is not set
// in the environment is an error. A bare "$" or "$name" is kept literally,
// so passwords may contain "$"; "$$" emits a literal "$".
func ExpandEnvStrict(s string) (string, error) {
	const dollarSentinel = "\x00CALDAVICS_DOLLAR\x00"
	s = strings.ReplaceAll(s, "$$", dollarSentinel)

	var missing []string
	for _, match := range envVarPattern.FindAllStringSubmatch(s, -1) {
		if _, ok := os.LookupEnv(match[1]); !ok {
			missing = append(missing, match[1])
		}
	}
	if len(missing) > 0 {
		sort.Strings(missing)
		return "", fmt.Errorf("missing required environment variables: %s", strings.Join(missing, ", "))
	}

	s = envVarPattern.ReplaceAllStringFunc(s, func(ref string) string {
		return os.Getenv(ref[2 : len(ref)-1])
	})
	return strings.ReplaceAll(s, dollarSentinel, "$"), nil
}

// Save writes the given configuration to the specified path atomically
// (temp file + rename) with 0600 permissions.
func Save(path string, cfg *Config) error {
	if path == "" {
		return errors.New("config path is empty")
	}
	if cfg == nil {
		return errors.New("config is nil")
	}

	cfg.Normalize()

	data, err := yaml.Marshal(cfg)
	if err != nil {
		return err
	}
	return writeFileAtomic(path, data, 0o600)
}

// writeFileAtomic writes data to a temp file in the target directory, syncs
// it, applies perm and renames it over path.
func writeFileAtomic(path string, data []byte, perm os.FileMode) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return err
	}

	tmp, err := os.CreateTemp(dir, "."+filepath.Base(path)+"-*.tmp")
	if err != nil {
		return err
	}
	tmpName := tmp.Name()
	defer os.Remove(tmpName)

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	if err := os.Chmod(tmpName, perm); err != nil {
		return err
	}
	return os.Rename(tmpName, path)
}
