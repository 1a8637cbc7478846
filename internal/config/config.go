package config

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"
)

// Config represents the signportal site configuration.
type Config struct {
	Title       string                  `yaml:"title"`
	Description string                  `yaml:"description"`
	Product     ProductConfig           `yaml:"product"`
	Server      ServerConfig            `yaml:"server"`
	Database    DatabaseConfig          `yaml:"database"`
	Security    *SecurityConfig         `yaml:"security,omitempty"`
	Features    FeaturesConfig          `yaml:"features"`
	Ignore      []string                 `yaml:"ignore"`
	Sources     map[string]SourceConfig  `yaml:"sources,omitempty"`
	Outputs     map[string]*OutputConfig `yaml:"outputs,omitempty"`
	Digests     []DigestConfig           `yaml:"digests,omitempty"`
	Webhooks    map[string]*Webhook      `yaml:"webhooks,omitempty"`
}

// ProductConfig is the product identity rendered into the page shell.
type ProductConfig struct {
	Name    string `yaml:"name"`
	Tagline string `yaml:"tagline"`
}

// ServerConfig holds server-related configuration.
type ServerConfig struct {
	Port      int    `yaml:"port"`
	Host      string `yaml:"host"`
	BasePath  string `yaml:"base_path"`  // mount prefix, e.g. "/portal"
	AccessLog string `yaml:"access_log"` // access log file, "" disables
	Debug     bool   `yaml:"debug"`
}

// Addr returns the host:port the server binds to.
func (c ServerConfig) Addr() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}

// DatabaseConfig selects and configures the users store.
type DatabaseConfig struct {
	Driver string `yaml:"driver"`         // "sqlite" (default) or "postgres"
	Path   string `yaml:"path,omitempty"` // sqlite file path
	DSN    string `yaml:"dsn,omitempty"`  // postgres connection string (env vars expanded)
}

// GetDriver returns the configured driver, defaulting to sqlite.
func (c DatabaseConfig) GetDriver() string {
	if c.Driver == "" {
		return "sqlite"
	}
	return c.Driver
}

// GetDSN returns the driver-appropriate connection value: the file path for
// sqlite, the expanded connection string for postgres.
func (c DatabaseConfig) GetDSN() string {
	if c.GetDriver() == "sqlite" {
		if c.Path == "" {
			return "./signportal.db"
		}
		return c.Path
	}
	return os.ExpandEnv(c.DSN)
}

// SecurityConfig holds API authentication and rate limiting.
type SecurityConfig struct {
	Auth      *AuthConfig      `yaml:"auth,omitempty"`
	RateLimit *RateLimitConfig `yaml:"rate_limit,omitempty"`
}

// AuthConfig holds API-key authentication for the JSON endpoints.
type AuthConfig struct {
	// APIKeys are the accepted keys. Environment variable expansion is
	// supported (e.g. "${PORTAL_API_KEY}").
	APIKeys []string `yaml:"api_keys,omitempty"`
	// HeaderName is the HTTP header carrying the key (default: "X-API-Key").
	HeaderName string `yaml:"header_name,omitempty"`
}

// RateLimitConfig holds per-IP rate limiting for the public endpoints.
type RateLimitConfig struct {
	RequestsPerSecond float64 `yaml:"requests_per_second,omitempty"` // default: 10
	Burst             int     `yaml:"burst,omitempty"`               // default: 20
}

// GetRateLimitRPS returns the rate limit in requests per second (default: 10).
func (c *SecurityConfig) GetRateLimitRPS() float64 {
	if c == nil || c.RateLimit == nil || c.RateLimit.RequestsPerSecond <= 0 {
		return 10
	}
	return c.RateLimit.RequestsPerSecond
}

// GetRateLimitBurst returns the burst size (default: 20).
func (c *SecurityConfig) GetRateLimitBurst() int {
	if c == nil || c.RateLimit == nil || c.RateLimit.Burst <= 0 {
		return 20
	}
	return c.RateLimit.Burst
}

// IsAuthEnabled returns true if at least one API key is configured.
func (c *SecurityConfig) IsAuthEnabled() bool {
	if c == nil || c.Auth == nil {
		return false
	}
	return len(c.Auth.GetAPIKeys()) > 0
}

// GetAPIKeys returns the configured API keys with environment variable
// expansion. Keys that expand to "" are dropped.
func (c *AuthConfig) GetAPIKeys() []string {
	if c == nil {
		return nil
	}
	var keys []string
	for _, k := range c.APIKeys {
		if expanded := os.ExpandEnv(k); expanded != "" {
			keys = append(keys, expanded)
		}
	}
	return keys
}

// GetHeaderName returns the header name for authentication (default: "X-API-Key").
func (c *AuthConfig) GetHeaderName() string {
	if c == nil || c.HeaderName == "" {
		return "X-API-Key"
	}
	return c.HeaderName
}

// FeaturesConfig holds feature flags.
type FeaturesConfig struct {
	HotReload   bool `yaml:"hot_reload"`
	Compression bool `yaml:"compression"`
	Headless    bool `yaml:"headless"` // no browser auto-open
}

// SourceConfig defines a content source for landing-page strips.
type SourceConfig struct {
	Type    string            `yaml:"type"`              // "json", "csv", "wasm"
	File    string            `yaml:"file,omitempty"`    // for json/csv: file path
	Path    string            `yaml:"path,omitempty"`    // for wasm: path to .wasm file
	Options map[string]string `yaml:"options,omitempty"` // type-specific options
	Timeout string            `yaml:"timeout,omitempty"` // fetch timeout (default: 10s)
	Cache   *CacheConfig      `yaml:"cache,omitempty"`
}

// CacheConfig configures caching behavior for a source.
type CacheConfig struct {
	TTL      string `yaml:"ttl,omitempty"`      // e.g. "5m"; empty disables caching
	Strategy string `yaml:"strategy,omitempty"` // "simple" or "stale-while-revalidate"
	MaxRows  int    `yaml:"max_rows,omitempty"`
	MaxBytes int    `yaml:"max_bytes,omitempty"`
}

// GetTimeout returns the parsed fetch timeout (default: 10s).
func (c SourceConfig) GetTimeout() time.Duration {
	if c.Timeout == "" {
		return 10 * time.Second
	}
	d, err := time.ParseDuration(c.Timeout)
	if err != nil {
		return 10 * time.Second
	}
	return d
}

// IsCacheEnabled returns true if caching is enabled for this source.
func (c SourceConfig) IsCacheEnabled() bool {
	return c.Cache != nil && c.Cache.TTL != ""
}

// GetCacheTTL returns the cache TTL (0 if caching is disabled).
func (c SourceConfig) GetCacheTTL() time.Duration {
	if c.Cache == nil || c.Cache.TTL == "" {
		return 0
	}
	d, err := time.ParseDuration(c.Cache.TTL)
	if err != nil {
		return 0
	}
	return d
}

// GetCacheStrategy returns the cache strategy (default: "simple").
func (c SourceConfig) GetCacheStrategy() string {
	if c.Cache == nil || c.Cache.Strategy == "" {
		return "simple"
	}
	return c.Cache.Strategy
}

// IsStaleWhileRevalidate returns true if using the stale-while-revalidate strategy.
func (c SourceConfig) IsStaleWhileRevalidate() bool {
	return c.GetCacheStrategy() == "stale-while-revalidate"
}

// GetCacheMaxRows returns the max rows limit (0 = unlimited).
func (c SourceConfig) GetCacheMaxRows() int {
	if c.Cache == nil {
		return 0
	}
	return c.Cache.MaxRows
}

// GetCacheMaxBytes returns the max bytes limit (0 = unlimited).
func (c SourceConfig) GetCacheMaxBytes() int {
	if c.Cache == nil {
		return 0
	}
	return c.Cache.MaxBytes
}

// OutputConfig defines a notification output for signups and digests.
type OutputConfig struct {
	Type    string `yaml:"type"`              // "slack", "email", or "webhook"
	URL     string `yaml:"url,omitempty"`     // for slack/webhook: endpoint URL (env vars expanded)
	Channel string `yaml:"channel,omitempty"` // for slack: "#channel-name"
	To      string `yaml:"to,omitempty"`      // for email: recipient address
	Subject string `yaml:"subject,omitempty"` // for email: subject line
}

// GetURL returns the output URL with environment variable expansion.
func (o *OutputConfig) GetURL() string {
	if o == nil || o.URL == "" {
		return ""
	}
	return os.ExpandEnv(o.URL)
}

// GetChannel returns the Slack channel with environment variable expansion.
func (o *OutputConfig) GetChannel() string {
	if o == nil || o.Channel == "" {
		return ""
	}
	return os.ExpandEnv(o.Channel)
}

// GetTo returns the email recipient with environment variable expansion.
func (o *OutputConfig) GetTo() string {
	if o == nil || o.To == "" {
		return ""
	}
	return os.ExpandEnv(o.To)
}

// Validate checks that the output configuration is usable.
func (o *OutputConfig) Validate(name string) error {
	if o == nil {
		return fmt.Errorf("output %q is nil", name)
	}

	switch o.Type {
	case "slack":
		if o.Channel == "" {
			return fmt.Errorf("output %q: channel is required for slack outputs", name)
		}
	case "email":
		if o.To == "" {
			return fmt.Errorf("output %q: to is required for email outputs", name)
		}
	case "webhook":
		if o.URL == "" {
			return fmt.Errorf("output %q: url is required for webhook outputs", name)
		}
	default:
		return fmt.Errorf("output %q: unsupported type %q (valid types: slack, email, webhook)", name, o.Type)
	}

	return nil
}

// DigestConfig declares a scheduled signup digest.
type DigestConfig struct {
	Name    string   `yaml:"name"`
	Every   string   `yaml:"every"`             // schedule spec, e.g. "@daily:9am"
	Outputs []string `yaml:"outputs,omitempty"` // output names; empty means all
}

// Webhook defines a content-refresh webhook reachable at /webhook/{name}.
//
// External services (a CMS, a deploy pipeline) POST to the endpoint to
// invalidate a source's cache and push reloaded content to connected
// sessions. Requests authenticate with a shared secret sent in the
// X-Webhook-Secret header or the ?secret= query parameter.
type Webhook struct {
	// Source is the source whose cache is invalidated. Empty refreshes
	// every source.
	Source string `yaml:"source,omitempty"`
	// Secret is the shared secret (supports env var expansion). Required:
	// webhooks without a secret are rejected at validation.
	Secret string `yaml:"secret,omitempty"`
}

// GetSecret returns the webhook secret with environment variable expansion.
func (w *Webhook) GetSecret() string {
	if w == nil || w.Secret == "" {
		return ""
	}
	return os.ExpandEnv(w.Secret)
}

// Validate checks that the webhook configuration is usable.
func (w *Webhook) Validate(name string, sources map[string]SourceConfig) error {
	if w == nil {
		return fmt.Errorf("webhook %q is nil", name)
	}

	if w.Secret == "" {
		return fmt.Errorf("webhook %q: secret is required", name)
	}

	if w.Source != "" {
		if _, exists := sources[w.Source]; !exists {
			return fmt.Errorf("webhook %q: references unknown source %q", name, w.Source)
		}
	}

	return nil
}

// Validate cross-checks what the unmarshaler cannot: webhook source
// references, output types, source types, digest wiring, the database
// driver.
func (c *Config) Validate() error {
	switch c.Database.GetDriver() {
	case "sqlite", "postgres":
	default:
		return fmt.Errorf("database: unsupported driver %q (valid: sqlite, postgres)", c.Database.Driver)
	}

	for name, src := range c.Sources {
		switch src.Type {
		case "json", "csv", "wasm":
		default:
			return fmt.Errorf("source %q: unsupported type %q (valid types: json, csv, wasm)", name, src.Type)
		}
	}

	if err := c.ValidateOutputs(); err != nil {
		return err
	}

	seen := make(map[string]bool)
	for _, d := range c.Digests {
		if d.Name == "" {
			return fmt.Errorf("digest: name is required")
		}
		if seen[d.Name] {
			return fmt.Errorf("digest %q: duplicate name", d.Name)
		}
		seen[d.Name] = true
		if d.Every == "" {
			return fmt.Errorf("digest %q: every is required", d.Name)
		}
		for _, out := range d.Outputs {
			if _, exists := c.Outputs[out]; !exists {
				return fmt.Errorf("digest %q: references unknown output %q", d.Name, out)
			}
		}
	}

	return c.ValidateWebhooks()
}

// ValidateOutputs validates all output configurations in the config.
func (c *Config) ValidateOutputs() error {
	if c.Outputs == nil {
		return nil
	}

	for name, output := range c.Outputs {
		if err := output.Validate(name); err != nil {
			return err
		}
	}

	return nil
}

// ValidateWebhooks validates all webhook configurations in the config.
// Returns an error if any webhook has invalid configuration.
func (c *Config) ValidateWebhooks() error {
	if c.Webhooks == nil {
		return nil
	}

	for name, webhook := range c.Webhooks {
		if err := webhook.Validate(name, c.Sources); err != nil {
			return err
		}
	}

	return nil
}

// DefaultConfig returns the default configuration.
func DefaultConfig() *Config {
	return &Config{
		Title:       "SignPortal",
		Description: "The signing portal your sales team already knows",
		Product: ProductConfig{
			Name: "SignPortal",
		},
		Server: ServerConfig{
			Port:      8080,
			Host:      "localhost",
			AccessLog: "server.log",
			Debug:     false,
		},
		Database: DatabaseConfig{
			Driver: "sqlite",
			Path:   "./signportal.db",
		},
		Features: FeaturesConfig{
			HotReload:   true,
			Compression: true,
		},
		Ignore: []string{
			"drafts/**",
			"_*.md",
		},
	}
}

// Load loads configuration from a YAML file.
// If the file doesn't exist, returns the default configuration.
func Load(configPath string) (*Config, error) {
	if configPath == "" {
		return DefaultConfig(), nil
	}

	if _, err := os.Stat(configPath); os.IsNotExist(err) {
		return DefaultConfig(), nil
	}

	data, err := os.ReadFile(configPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	config := DefaultConfig() // Start with defaults
	if err := yaml.Unmarshal(data, config); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	return config, nil
}

// LoadStrict parses the file with unknown keys treated as errors, then runs
// Validate. The check command uses it; Load stays tolerant so an old config
// never refuses to serve.
func LoadStrict(configPath string) (*Config, error) {
	data, err := os.ReadFile(configPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	config := DefaultConfig()
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(config); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	if err := config.Validate(); err != nil {
		return nil, err
	}

	return config, nil
}

// LoadFromDir looks for signportal.yaml or config.yaml in the given
// directory, in that order. If neither is found, returns the default
// configuration.
func LoadFromDir(dir string) (*Config, error) {
	portalPath := filepath.Join(dir, "signportal.yaml")
	if _, err := os.Stat(portalPath); err == nil {
		return Load(portalPath)
	}

	return Load(filepath.Join(dir, "config.yaml"))
}

// Save writes the configuration to a YAML file.
func (c *Config) Save(configPath string) error {
	data, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	if err := os.WriteFile(configPath, data, 0644); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}

	return nil
}
