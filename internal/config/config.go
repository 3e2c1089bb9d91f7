// Package config handles configuration loading and validation for nlagent.
package config

import (
	"errors"
	"fmt"
	"net"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"gopkg.in/yaml.v3"

	"github.com/nlagent/nlagent/pkg/bytesize"
)

// Defaults applied when a key is absent from the file.
const (
	DefaultSocketPath    = "/run/nlagent.sock"
	DefaultSysfsRoot     = "/sys/class/net"
	DefaultTick          = time.Second
	DefaultInterval      = 5 * time.Second
	DefaultQueryTimeout  = 2 * time.Second
	DefaultMaxRequest    = 256
	DefaultMaxInterfaces = 256
	DefaultMaxAddresses  = 8
	DefaultErrorLimit    = 10

	// MinReceiveBuffer is the smallest useful netlink receive buffer.
	MinReceiveBuffer = 4 * bytesize.KB
)

// Counter sources accepted by poll.counter_source.
const (
	CounterSourceSysfs   = "sysfs"
	CounterSourceNetlink = "netlink"
)

// Config is the daemon configuration.
type Config struct {
	Log      LogConfig      `yaml:"log"`
	Netlink  NetlinkConfig  `yaml:"netlink"`
	Registry RegistryConfig `yaml:"registry"`
	Query    QueryConfig    `yaml:"query"`
	Poll     PollConfig     `yaml:"poll"`
	Alert    AlertConfig    `yaml:"alert"`
	Admin    AdminConfig    `yaml:"admin"`
}

// LogConfig holds logging settings.
type LogConfig struct {
	Level  string     `yaml:"level"`  // debug, info, warn, error
	Format string     `yaml:"format"` // console or json
	Audit  bool       `yaml:"audit"`  // log each query and trace dump with caller credentials
	Loki   LokiConfig `yaml:"loki"`
}

// LokiConfig ships log lines to a Loki push endpoint. An empty URL
// disables shipping.
type LokiConfig struct {
	URL           string            `yaml:"url"`
	Labels        map[string]string `yaml:"labels"`
	BatchSize     int               `yaml:"batch_size"`
	FlushInterval string            `yaml:"flush_interval"`
}

// NetlinkConfig holds settings for the notification socket.
type NetlinkConfig struct {
	Routes           bool          `yaml:"routes"`            // subscribe to route groups too
	ReceiveBuffer    bytesize.Size `yaml:"receive_buffer"`    // user-space read buffer
	SocketBuffer     bytesize.Size `yaml:"socket_buffer"`     // SO_RCVBUF, 0 keeps the kernel default
	IgnoreInterfaces []string      `yaml:"ignore_interfaces"` // names or trailing-* prefixes
	Namespace        string        `yaml:"namespace"`         // netns name or path, empty for the current one
}

// RegistryConfig holds interface registry limits.
type RegistryConfig struct {
	MaxAddresses int `yaml:"max_addresses"` // 0 means unlimited
}

// QueryConfig holds query socket settings.
type QueryConfig struct {
	SocketPath      string `yaml:"socket_path"`
	MaxRequestBytes int    `yaml:"max_request_bytes"`
	MaxInterfaces   int    `yaml:"max_interfaces"`
	Timeout         string `yaml:"timeout"` // duration string, e.g. "2s"
}

// PollConfig holds reactor timing and counter polling settings.
type PollConfig struct {
	Tick          string `yaml:"tick"`           // reactor wait timeout
	Interval      string `yaml:"interval"`       // counter poll period
	CounterSource string `yaml:"counter_source"` // sysfs or netlink
	SysfsRoot     string `yaml:"sysfs_root"`
}

// AlertConfig holds alert thresholds. Zero disables a check.
type AlertConfig struct {
	ErrorThreshold uint64        `yaml:"error_threshold"`
	RxRate         bytesize.Rate `yaml:"rx_rate"`
	TxRate         bytesize.Rate `yaml:"tx_rate"`
}

// AdminConfig holds the optional HTTP admin interface settings.
type AdminConfig struct {
	Listen string      `yaml:"listen"` // host:port, empty disables
	Trace  TraceConfig `yaml:"trace"`
}

// TraceConfig controls the runtime flight recorder.
type TraceConfig struct {
	Enabled    bool          `yaml:"enabled"`
	BufferSize bytesize.Size `yaml:"buffer_size"`
	DumpDir    string        `yaml:"dump_dir"` // overrun traces are written here
}

// Default returns the configuration used when no file is given.
func Default() *Config {
	return &Config{
		Log: LogConfig{Level: "info", Format: "console"},
		Netlink: NetlinkConfig{
			Routes:        true,
			ReceiveBuffer: bytesize.Size(32 * bytesize.KB),
		},
		Registry: RegistryConfig{MaxAddresses: DefaultMaxAddresses},
		Query: QueryConfig{
			SocketPath:      DefaultSocketPath,
			MaxRequestBytes: DefaultMaxRequest,
			MaxInterfaces:   DefaultMaxInterfaces,
			Timeout:         DefaultQueryTimeout.String(),
		},
		Poll: PollConfig{
			Tick:          DefaultTick.String(),
			Interval:      DefaultInterval.String(),
			CounterSource: CounterSourceSysfs,
			SysfsRoot:     DefaultSysfsRoot,
		},
		Alert: AlertConfig{
			ErrorThreshold: DefaultErrorLimit,
			RxRate:         bytesize.Rate(10 * bytesize.MB),
		},
	}
}

// Load reads a YAML file over the defaults. An empty path returns the
// defaults.
func Load(path string) (*Config, error) {
	cfg := Default()
	if path == "" {
		return cfg, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config file: %w", err)
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parse config file: %w", err)
	}

	cfg.Query.SocketPath = expandHome(cfg.Query.SocketPath)
	cfg.Admin.Trace.DumpDir = expandHome(cfg.Admin.Trace.DumpDir)
	return cfg, nil
}

func expandHome(path string) string {
	if !strings.HasPrefix(path, "~/") {
		return path
	}
	homeDir, err := os.UserHomeDir()
	if err != nil {
		return path
	}
	return filepath.Join(homeDir, path[2:])
}

// Validate checks the configuration and reports every problem found.
func (c *Config) Validate() error {
	var errs []error
	add := func(format string, args ...any) {
		errs = append(errs, fmt.Errorf(format, args...))
	}

	if _, err := zerolog.ParseLevel(strings.ToLower(c.Log.Level)); err != nil || c.Log.Level == "" {
		add("log.level %q is not a valid level", c.Log.Level)
	}
	switch c.Log.Format {
	case "console", "json":
	default:
		add("log.format must be console or json, got %q", c.Log.Format)
	}
	if c.Log.Loki.URL != "" {
		if u, err := url.Parse(c.Log.Loki.URL); err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
			add("log.loki.url must be an http(s) URL, got %q", c.Log.Loki.URL)
		}
		if c.Log.Loki.BatchSize < 0 {
			add("log.loki.batch_size must not be negative")
		}
		if c.Log.Loki.FlushInterval != "" {
			checkDuration(add, "log.loki.flush_interval", c.Log.Loki.FlushInterval)
		}
	}

	if c.Netlink.ReceiveBuffer.Bytes() < MinReceiveBuffer {
		add("netlink.receive_buffer must be at least %s", bytesize.Format(MinReceiveBuffer))
	}
	if c.Netlink.SocketBuffer < 0 {
		add("netlink.socket_buffer must not be negative")
	}
	for _, name := range c.Netlink.IgnoreInterfaces {
		if name == "" || name == "*" {
			add("netlink.ignore_interfaces entry %q would match every interface", name)
		}
	}

	if c.Registry.MaxAddresses < 0 {
		add("registry.max_addresses must not be negative")
	}

	if c.Query.SocketPath == "" {
		add("query.socket_path is required")
	}
	if c.Query.MaxRequestBytes <= 0 {
		add("query.max_request_bytes must be positive")
	}
	if c.Query.MaxInterfaces <= 0 {
		add("query.max_interfaces must be positive")
	}
	checkDuration(add, "query.timeout", c.Query.Timeout)

	tick := checkDuration(add, "poll.tick", c.Poll.Tick)
	interval := checkDuration(add, "poll.interval", c.Poll.Interval)
	if tick > 0 && interval > 0 && interval < tick {
		add("poll.interval (%s) must not be shorter than poll.tick (%s)", interval, tick)
	}
	switch c.Poll.CounterSource {
	case CounterSourceSysfs:
		if c.Poll.SysfsRoot == "" {
			add("poll.sysfs_root is required for the sysfs counter source")
		}
		// sysfs reflects the agent's own namespace, not the monitored one.
		if c.Netlink.Namespace != "" {
			add("netlink.namespace %q requires poll.counter_source %s", c.Netlink.Namespace, CounterSourceNetlink)
		}
	case CounterSourceNetlink:
	default:
		add("poll.counter_source must be %s or %s, got %q", CounterSourceSysfs, CounterSourceNetlink, c.Poll.CounterSource)
	}

	if c.Alert.RxRate < 0 || c.Alert.TxRate < 0 {
		add("alert rates must not be negative")
	}

	if c.Admin.Listen != "" {
		if _, _, err := net.SplitHostPort(c.Admin.Listen); err != nil {
			add("admin.listen: %v", err)
		}
	}
	if c.Admin.Trace.BufferSize < 0 {
		add("admin.trace.buffer_size must not be negative")
	}

	return errors.Join(errs...)
}

func checkDuration(add func(string, ...any), key, value string) time.Duration {
	d, err := time.ParseDuration(value)
	if err != nil {
		add("%s: invalid duration %q", key, value)
		return 0
	}
	if d <= 0 {
		add("%s must be positive", key)
		return 0
	}
	return d
}

func durationOr(value string, def time.Duration) time.Duration {
	d, err := time.ParseDuration(value)
	if err != nil || d <= 0 {
		return def
	}
	return d
}

// TimeoutDuration returns the per-connection deadline.
func (q QueryConfig) TimeoutDuration() time.Duration {
	return durationOr(q.Timeout, DefaultQueryTimeout)
}

// TickDuration returns the reactor wait timeout.
func (p PollConfig) TickDuration() time.Duration {
	return durationOr(p.Tick, DefaultTick)
}

// IntervalDuration returns the counter poll period.
func (p PollConfig) IntervalDuration() time.Duration {
	return durationOr(p.Interval, DefaultInterval)
}

// FlushIntervalDuration returns the Loki flush period, zero when unset.
func (l LokiConfig) FlushIntervalDuration() time.Duration {
	return durationOr(l.FlushInterval, 0)
}

// LogLevel returns the configured zerolog level, defaulting to info.
func (l LogConfig) LogLevel() zerolog.Level {
	level, err := zerolog.ParseLevel(strings.ToLower(l.Level))
	if err != nil || l.Level == "" {
		return zerolog.InfoLevel
	}
	return level
}
