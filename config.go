package denyproxy

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/spf13/viper"
)

// Default policy list locations, relative to the working directory.
const (
	DefaultForbiddenHostsPath = "resources/forbidden-hosts.txt"
	DefaultBannedWordsPath    = "resources/banned-words.txt"
)

// Config represents the complete proxy configuration.
type Config struct {
	// Server configuration
	Server ServerConfig `mapstructure:"server"`

	// Policy list sources
	Policy PolicyConfig `mapstructure:"policy"`

	// Upstream client for the forward path
	Upstream UpstreamConfig `mapstructure:"upstream"`

	// CONNECT tunnel settings
	Tunnel TunnelConfig `mapstructure:"tunnel"`

	// Admin listener configuration
	Admin AdminConfig `mapstructure:"admin"`

	// Access log configuration
	AccessLog AccessLogConfig `mapstructure:"access_log"`

	// Logging configuration
	Logging LoggingConfig `mapstructure:"logging"`
}

// ServerConfig contains proxy listener settings.
type ServerConfig struct {
	// Address to listen on (e.g., "0.0.0.0:8000")
	Addr string `mapstructure:"addr"`

	// ReadHeaderTimeout bounds reading a request head (0 = no limit)
	ReadHeaderTimeout time.Duration `mapstructure:"read_header_timeout"`
}

// PolicyConfig lists where forbidden hosts and banned words come from.
// Sources of the same list are concatenated in the order files, URLs,
// database.
type PolicyConfig struct {
	// ForbiddenHostsFiles are line-delimited host files
	ForbiddenHostsFiles []string `mapstructure:"forbidden_hosts_files"`

	// BannedWordsFiles are line-delimited word files
	BannedWordsFiles []string `mapstructure:"banned_words_files"`

	// ForbiddenHostsURLs are remote line-delimited host lists
	ForbiddenHostsURLs []string `mapstructure:"forbidden_hosts_urls"`

	// BannedWordsURLs are remote line-delimited word lists
	BannedWordsURLs []string `mapstructure:"banned_words_urls"`

	// Database is an optional SQL source for both lists
	Database DatabaseConfig `mapstructure:"database"`

	// HostMatch is the host comparison mode: contains, suffix, exact
	HostMatch string `mapstructure:"host_match"`

	// ReloadInterval for all sources (0 = load once at startup)
	ReloadInterval time.Duration `mapstructure:"reload_interval"`
}

// DatabaseConfig describes a SQL policy source.
type DatabaseConfig struct {
	// Driver is the database/sql driver name (e.g., "postgres")
	Driver string `mapstructure:"driver"`

	// DSN is the data source name; empty disables the database source
	DSN string `mapstructure:"dsn"`

	// HostsQuery selects one string column of forbidden hosts
	HostsQuery string `mapstructure:"hosts_query"`

	// WordsQuery selects one string column of banned words
	WordsQuery string `mapstructure:"words_query"`
}

// UpstreamConfig tunes the shared forward-path client.
type UpstreamConfig struct {
	MaxIdleConns          int           `mapstructure:"max_idle_conns"`
	MaxIdleConnsPerHost   int           `mapstructure:"max_idle_conns_per_host"`
	IdleConnTimeout       time.Duration `mapstructure:"idle_conn_timeout"`
	DialTimeout           time.Duration `mapstructure:"dial_timeout"`
	TLSHandshakeTimeout   time.Duration `mapstructure:"tls_handshake_timeout"`
	ResponseHeaderTimeout time.Duration `mapstructure:"response_header_timeout"`

	// Timeout bounds the whole upstream exchange (0 = no limit)
	Timeout time.Duration `mapstructure:"timeout"`

	// MaxBodySize bounds the buffered upstream body in bytes (0 = no limit)
	MaxBodySize int64 `mapstructure:"max_body_size"`
}

// TunnelConfig contains CONNECT tunnel settings.
type TunnelConfig struct {
	// DialTimeout bounds the upstream dial
	DialTimeout time.Duration `mapstructure:"dial_timeout"`

	// IdleTimeout closes quiet tunnels (0 = never)
	IdleTimeout time.Duration `mapstructure:"idle_timeout"`
}

// AdminConfig contains admin listener settings.
type AdminConfig struct {
	// Enabled starts the admin listener
	Enabled bool `mapstructure:"enabled"`

	// Addr is the admin listen address
	Addr string `mapstructure:"addr"`

	// PathPrefix for the admin API routes
	PathPrefix string `mapstructure:"path_prefix"`
}

// AccessLogConfig contains access log settings.
type AccessLogConfig struct {
	// Enabled turns on one JSON entry per request
	Enabled bool `mapstructure:"enabled"`

	// Path is stdout, stderr, or a file path
	Path string `mapstructure:"path"`
}

// LoggingConfig contains logging settings.
type LoggingConfig struct {
	// Level is the log level: debug, info, warn, error
	Level string `mapstructure:"level"`

	// Format is the log format: text, json
	Format string `mapstructure:"format"`

	// Output is where to write logs: stdout, stderr, or file path
	Output string `mapstructure:"output"`

	// TraceOutput receives the per-request trace lines
	TraceOutput string `mapstructure:"trace_output"`
}

// DefaultConfig returns a Config with sensible defaults.
func DefaultConfig() Config {
	pool := NewUpstreamPool()
	return Config{
		Server: ServerConfig{
			Addr:              DefaultAddr,
			ReadHeaderTimeout: 10 * time.Second,
		},
		Policy: PolicyConfig{
			ForbiddenHostsFiles: []string{DefaultForbiddenHostsPath},
			BannedWordsFiles:    []string{DefaultBannedWordsPath},
			Database: DatabaseConfig{
				Driver:     "postgres",
				HostsQuery: DefaultHostsQuery,
				WordsQuery: DefaultWordsQuery,
			},
			HostMatch: string(MatchContains),
		},
		Upstream: UpstreamConfig{
			MaxIdleConns:        pool.MaxIdleConns,
			MaxIdleConnsPerHost: pool.MaxIdleConnsPerHost,
			IdleConnTimeout:     pool.IdleConnTimeout,
			DialTimeout:         pool.DialTimeout,
			TLSHandshakeTimeout: pool.TLSHandshakeTimeout,
			MaxBodySize:         DefaultMaxBodySize,
		},
		Tunnel: TunnelConfig{
			DialTimeout: DefaultTunnelDialTimeout,
		},
		Admin: AdminConfig{
			Addr:       "127.0.0.1:9090",
			PathPrefix: "/api",
		},
		AccessLog: AccessLogConfig{
			Path: "stderr",
		},
		Logging: LoggingConfig{
			Level:       "info",
			Format:      "text",
			Output:      "stderr",
			TraceOutput: "stdout",
		},
	}
}

// LoadConfig loads configuration from file, environment, and defaults.
// It searches for config files in the following order:
// 1. Explicit path (if provided)
// 2. ./denyproxy.yaml (or .yml, .json, .toml)
// 3. $HOME/.denyproxy/denyproxy.yaml
// 4. /etc/denyproxy/denyproxy.yaml
//
// The returned bool reports whether a config file was read.
func LoadConfig(configPath string) (*Config, bool, error) {
	v := viper.New()

	setDefaults(v)

	v.SetConfigName("denyproxy")
	v.SetConfigType("yaml")

	v.AddConfigPath(".")
	v.AddConfigPath("$HOME/.denyproxy")
	v.AddConfigPath("/etc/denyproxy")

	v.SetEnvPrefix("DENYPROXY")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if configPath != "" {
		v.SetConfigFile(configPath)
	}

	found := true
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, false, fmt.Errorf("read config: %w", err)
		}
		found = false
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, false, fmt.Errorf("unmarshal config: %w", err)
	}

	return &cfg, found, nil
}

// LoadConfigFromReader loads configuration from in-memory data.
// Useful for testing or embedded configs.
func LoadConfigFromReader(configType string, data []byte) (*Config, error) {
	v := viper.New()

	setDefaults(v)
	v.SetConfigType(configType)

	if err := v.ReadConfig(strings.NewReader(string(data))); err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}

	return &cfg, nil
}

func setDefaults(v *viper.Viper) {
	d := DefaultConfig()

	v.SetDefault("server.addr", d.Server.Addr)
	v.SetDefault("server.read_header_timeout", d.Server.ReadHeaderTimeout)

	v.SetDefault("policy.forbidden_hosts_files", d.Policy.ForbiddenHostsFiles)
	v.SetDefault("policy.banned_words_files", d.Policy.BannedWordsFiles)
	v.SetDefault("policy.database.driver", d.Policy.Database.Driver)
	v.SetDefault("policy.database.hosts_query", d.Policy.Database.HostsQuery)
	v.SetDefault("policy.database.words_query", d.Policy.Database.WordsQuery)
	v.SetDefault("policy.host_match", d.Policy.HostMatch)
	v.SetDefault("policy.reload_interval", d.Policy.ReloadInterval)

	v.SetDefault("upstream.max_idle_conns", d.Upstream.MaxIdleConns)
	v.SetDefault("upstream.max_idle_conns_per_host", d.Upstream.MaxIdleConnsPerHost)
	v.SetDefault("upstream.idle_conn_timeout", d.Upstream.IdleConnTimeout)
	v.SetDefault("upstream.dial_timeout", d.Upstream.DialTimeout)
	v.SetDefault("upstream.tls_handshake_timeout", d.Upstream.TLSHandshakeTimeout)
	v.SetDefault("upstream.response_header_timeout", d.Upstream.ResponseHeaderTimeout)
	v.SetDefault("upstream.timeout", d.Upstream.Timeout)
	v.SetDefault("upstream.max_body_size", d.Upstream.MaxBodySize)

	v.SetDefault("tunnel.dial_timeout", d.Tunnel.DialTimeout)
	v.SetDefault("tunnel.idle_timeout", d.Tunnel.IdleTimeout)

	v.SetDefault("admin.enabled", d.Admin.Enabled)
	v.SetDefault("admin.addr", d.Admin.Addr)
	v.SetDefault("admin.path_prefix", d.Admin.PathPrefix)

	v.SetDefault("access_log.enabled", d.AccessLog.Enabled)
	v.SetDefault("access_log.path", d.AccessLog.Path)

	v.SetDefault("logging.level", d.Logging.Level)
	v.SetDefault("logging.format", d.Logging.Format)
	v.SetDefault("logging.output", d.Logging.Output)
	v.SetDefault("logging.trace_output", d.Logging.TraceOutput)
}

// OpenDatabase connects to the configured policy database. It returns nil
// when no DSN is set. The driver must be registered by the caller.
func (c *Config) OpenDatabase() (*sqlx.DB, error) {
	db := c.Policy.Database
	if db.DSN == "" {
		return nil, nil
	}
	conn, err := sqlx.Open(db.Driver, db.DSN)
	if err != nil {
		return nil, fmt.Errorf("open policy database: %w", err)
	}
	return conn, nil
}

// BuildPolicyStore creates an unloaded PolicyStore from the policy sources.
// db may be nil when no database source is configured.
func (c *Config) BuildPolicyStore(db *sqlx.DB) (*PolicyStore, error) {
	var hosts, words []ListLoader

	for _, path := range c.Policy.ForbiddenHostsFiles {
		hosts = append(hosts, NewFileLoader(path))
	}
	for _, path := range c.Policy.BannedWordsFiles {
		words = append(words, NewFileLoader(path))
	}
	for _, u := range c.Policy.ForbiddenHostsURLs {
		hosts = append(hosts, NewURLLoader(u))
	}
	for _, u := range c.Policy.BannedWordsURLs {
		words = append(words, NewURLLoader(u))
	}

	if db != nil {
		hq, wq := c.Policy.Database.HostsQuery, c.Policy.Database.WordsQuery
		if hq == "" || wq == "" {
			return nil, fmt.Errorf("policy database requires hosts_query and words_query")
		}
		hosts = append(hosts, NewSQLLoader(db, hq))
		words = append(words, NewSQLLoader(db, wq))
	}

	return NewPolicyStore(combineLoaders(hosts), combineLoaders(words)), nil
}

func combineLoaders(loaders []ListLoader) ListLoader {
	switch len(loaders) {
	case 0:
		return NewStaticLoader()
	case 1:
		return loaders[0]
	default:
		return NewMultiLoader(loaders...)
	}
}

// BuildHostGate creates the HostGate for the configured match mode.
func (c *Config) BuildHostGate() (HostGate, error) {
	mode, err := ParseMatchMode(c.Policy.HostMatch)
	if err != nil {
		return HostGate{}, err
	}
	return HostGate{Mode: mode}, nil
}

// BuildUpstreamPool creates the forward-path client pool.
func (c *Config) BuildUpstreamPool() *UpstreamPool {
	pool := NewUpstreamPool()
	u := c.Upstream
	if u.MaxIdleConns > 0 {
		pool.MaxIdleConns = u.MaxIdleConns
	}
	if u.MaxIdleConnsPerHost > 0 {
		pool.MaxIdleConnsPerHost = u.MaxIdleConnsPerHost
	}
	if u.IdleConnTimeout > 0 {
		pool.IdleConnTimeout = u.IdleConnTimeout
	}
	if u.DialTimeout > 0 {
		pool.DialTimeout = u.DialTimeout
	}
	if u.TLSHandshakeTimeout > 0 {
		pool.TLSHandshakeTimeout = u.TLSHandshakeTimeout
	}
	pool.ResponseHeaderTimeout = u.ResponseHeaderTimeout
	pool.Timeout = u.Timeout
	return pool
}

// BuildForwarder creates a Forwarder using the given pool.
func (c *Config) BuildForwarder(pool *UpstreamPool) *Forwarder {
	f := NewForwarder(pool.Client())
	f.MaxBodySize = c.Upstream.MaxBodySize
	return f
}

// BuildTunnelRelay creates the CONNECT relay.
func (c *Config) BuildTunnelRelay() *TunnelRelay {
	return &TunnelRelay{
		DialTimeout: c.Tunnel.DialTimeout,
		IdleTimeout: c.Tunnel.IdleTimeout,
	}
}

// NewLogger builds the operational logger. The returned close function
// releases the output file, if any.
func (c *Config) NewLogger() (*slog.Logger, func() error, error) {
	var level slog.Level
	if err := level.UnmarshalText([]byte(c.Logging.Level)); err != nil {
		return nil, nil, fmt.Errorf("logging level: %w", err)
	}

	w, closeFn, err := OpenOutput(c.Logging.Output)
	if err != nil {
		return nil, nil, fmt.Errorf("logging output: %w", err)
	}

	opts := &slog.HandlerOptions{Level: level}
	switch strings.ToLower(c.Logging.Format) {
	case "", "text":
		return slog.New(slog.NewTextHandler(w, opts)), closeFn, nil
	case "json":
		return slog.New(slog.NewJSONHandler(w, opts)), closeFn, nil
	default:
		_ = closeFn()
		return nil, nil, fmt.Errorf("unknown logging format %q", c.Logging.Format)
	}
}

// OpenOutput resolves "stdout", "stderr", or a file path opened for append.
func OpenOutput(name string) (io.Writer, func() error, error) {
	noop := func() error { return nil }
	switch name {
	case "", "stdout":
		return os.Stdout, noop, nil
	case "stderr":
		return os.Stderr, noop, nil
	}

	f, err := os.OpenFile(name, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
	if err != nil {
		return nil, nil, err
	}
	return f, f.Close, nil
}

// WriteExampleConfig writes an example configuration file.
func WriteExampleConfig(path string) error {
	example := `# denyproxy configuration

server:
  # Address to listen on
  addr: "0.0.0.0:8000"

  # Bound on reading a request head (0 = no limit)
  read_header_timeout: 0s

policy:
  # Line-delimited lists, one entry per line
  forbidden_hosts_files:
    - "resources/forbidden-hosts.txt"
  banned_words_files:
    - "resources/banned-words.txt"

  # Remote lists (optional)
  # forbidden_hosts_urls:
  #   - "https://lists.example.com/hosts.txt"
  # banned_words_urls:
  #   - "https://lists.example.com/words.txt"

  # SQL source (optional, empty dsn disables it)
  database:
    driver: "postgres"
    dsn: ""
    hosts_query: "SELECT entry FROM forbidden_hosts WHERE enabled = true ORDER BY id"
    words_query: "SELECT entry FROM banned_words WHERE enabled = true ORDER BY id"

  # Host comparison: contains, suffix, exact
  host_match: "contains"

  # Reload interval for all sources (0 = load once; SIGHUP always reloads)
  reload_interval: 0s

upstream:
  max_idle_conns: 200
  max_idle_conns_per_host: 10
  idle_conn_timeout: 90s
  dial_timeout: 30s
  tls_handshake_timeout: 10s
  response_header_timeout: 0s
  timeout: 0s

  # Largest upstream body buffered for screening, in bytes
  max_body_size: 10485760

tunnel:
  dial_timeout: 10s
  idle_timeout: 0s

admin:
  # Serves /healthz, /readyz, /metrics and the admin API
  enabled: false
  addr: "127.0.0.1:9090"
  path_prefix: "/api"

access_log:
  enabled: false
  path: "stderr"

logging:
  # Log level: debug, info, warn, error
  level: "info"

  # Log format: text, json
  format: "text"

  # Output: stdout, stderr, or file path
  output: "stderr"

  # Where the per-request trace lines go
  trace_output: "stdout"
`

	dir := filepath.Dir(path)
	if dir != "." && dir != "" {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return fmt.Errorf("create directory: %w", err)
		}
	}

	return os.WriteFile(path, []byte(example), 0644)
}
