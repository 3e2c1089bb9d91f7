package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nlagent/nlagent/pkg/bytesize"
	"github.com/nlagent/nlagent/testutil"
)

func TestDefault(t *testing.T) {
	cfg := Default()
	require.NoError(t, cfg.Validate())

	assert.Equal(t, "info", cfg.Log.Level)
	assert.Equal(t, "console", cfg.Log.Format)
	assert.True(t, cfg.Netlink.Routes)
	assert.Equal(t, int64(32*1024), cfg.Netlink.ReceiveBuffer.Bytes())
	assert.Equal(t, 8, cfg.Registry.MaxAddresses)
	assert.Equal(t, "/run/nlagent.sock", cfg.Query.SocketPath)
	assert.Equal(t, 256, cfg.Query.MaxRequestBytes)
	assert.Equal(t, 2*time.Second, cfg.Query.TimeoutDuration())
	assert.Equal(t, time.Second, cfg.Poll.TickDuration())
	assert.Equal(t, 5*time.Second, cfg.Poll.IntervalDuration())
	assert.Equal(t, CounterSourceSysfs, cfg.Poll.CounterSource)
	assert.Equal(t, uint64(10), cfg.Alert.ErrorThreshold)
	assert.Equal(t, float64(10*bytesize.MB), cfg.Alert.RxRate.BytesPerSecond())
	assert.Zero(t, cfg.Alert.TxRate)
	assert.Empty(t, cfg.Admin.Listen)
}

func TestLoadEmptyPath(t *testing.T) {
	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, Default(), cfg)
}

func TestLoad(t *testing.T) {
	dir, cleanup := testutil.TempDir(t)
	defer cleanup()

	content := `
log:
  level: debug
  format: json
netlink:
  routes: false
  receive_buffer: 64KiB
  socket_buffer: 1MiB
  ignore_interfaces: [docker0, "veth*"]
  namespace: blue
registry:
  max_addresses: 0
query:
  socket_path: /tmp/nl.sock
  timeout: 500ms
poll:
  interval: 10s
  counter_source: netlink
alert:
  error_threshold: 3
  rx_rate: ""
  tx_rate: 100Mbps
admin:
  listen: 127.0.0.1:9477
  trace:
    enabled: true
    buffer_size: 4MiB
    dump_dir: /tmp/traces
`
	path := testutil.TempFile(t, dir, "nlagent.yaml", content)

	cfg, err := Load(path)
	require.NoError(t, err)
	require.NoError(t, cfg.Validate())

	assert.Equal(t, zerolog.DebugLevel, cfg.Log.LogLevel())
	assert.Equal(t, "json", cfg.Log.Format)
	assert.False(t, cfg.Netlink.Routes)
	assert.Equal(t, int64(64*1024), cfg.Netlink.ReceiveBuffer.Bytes())
	assert.Equal(t, int64(1024*1024), cfg.Netlink.SocketBuffer.Bytes())
	assert.Equal(t, []string{"docker0", "veth*"}, cfg.Netlink.IgnoreInterfaces)
	assert.Equal(t, "blue", cfg.Netlink.Namespace)
	assert.Zero(t, cfg.Registry.MaxAddresses)
	assert.Equal(t, "/tmp/nl.sock", cfg.Query.SocketPath)
	assert.Equal(t, 500*time.Millisecond, cfg.Query.TimeoutDuration())
	// Unset keys keep their defaults.
	assert.Equal(t, 256, cfg.Query.MaxInterfaces)
	assert.Equal(t, time.Second, cfg.Poll.TickDuration())
	assert.Equal(t, 10*time.Second, cfg.Poll.IntervalDuration())
	assert.Equal(t, CounterSourceNetlink, cfg.Poll.CounterSource)
	assert.Equal(t, uint64(3), cfg.Alert.ErrorThreshold)
	assert.Zero(t, cfg.Alert.RxRate)
	assert.Equal(t, float64(100*bytesize.Mbps), cfg.Alert.TxRate.BytesPerSecond())
	assert.Equal(t, "127.0.0.1:9477", cfg.Admin.Listen)
	assert.True(t, cfg.Admin.Trace.Enabled)
	assert.Equal(t, int64(4*1024*1024), cfg.Admin.Trace.BufferSize.Bytes())
	assert.Equal(t, "/tmp/traces", cfg.Admin.Trace.DumpDir)
}

func TestLoadExpandsHome(t *testing.T) {
	home, err := os.UserHomeDir()
	if err != nil {
		t.Skip("no home directory")
	}
	dir, cleanup := testutil.TempDir(t)
	defer cleanup()

	path := testutil.TempFile(t, dir, "nlagent.yaml", "query:\n  socket_path: ~/nlagent.sock\n")
	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(home, "nlagent.sock"), cfg.Query.SocketPath)
}

func TestLoadFileNotFound(t *testing.T) {
	_, err := Load("/nonexistent/path/nlagent.yaml")
	assert.Error(t, err)
}

func TestLoadInvalidYAML(t *testing.T) {
	dir, cleanup := testutil.TempDir(t)
	defer cleanup()

	path := testutil.TempFile(t, dir, "bad.yaml", "log: [unterminated\n")
	_, err := Load(path)
	assert.ErrorContains(t, err, "parse config file")
}

func TestLoadInvalidSize(t *testing.T) {
	dir, cleanup := testutil.TempDir(t)
	defer cleanup()

	path := testutil.TempFile(t, dir, "bad.yaml", "netlink:\n  receive_buffer: lots\n")
	_, err := Load(path)
	assert.Error(t, err)
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr string
	}{
		{"bad level", func(c *Config) { c.Log.Level = "loud" }, "log.level"},
		{"empty level", func(c *Config) { c.Log.Level = "" }, "log.level"},
		{"bad format", func(c *Config) { c.Log.Format = "xml" }, "log.format"},
		{"loki not http", func(c *Config) { c.Log.Loki.URL = "udp://10.0.0.1:3100" }, "log.loki.url"},
		{"loki bad flush", func(c *Config) {
			c.Log.Loki.URL = "http://loki:3100"
			c.Log.Loki.FlushInterval = "often"
		}, "log.loki.flush_interval"},
		{"tiny receive buffer", func(c *Config) { c.Netlink.ReceiveBuffer = 100 }, "netlink.receive_buffer"},
		{"ignore everything", func(c *Config) { c.Netlink.IgnoreInterfaces = []string{"*"} }, "ignore_interfaces"},
		{"negative addresses", func(c *Config) { c.Registry.MaxAddresses = -1 }, "registry.max_addresses"},
		{"no socket", func(c *Config) { c.Query.SocketPath = "" }, "query.socket_path"},
		{"zero request", func(c *Config) { c.Query.MaxRequestBytes = 0 }, "query.max_request_bytes"},
		{"zero interfaces", func(c *Config) { c.Query.MaxInterfaces = 0 }, "query.max_interfaces"},
		{"bad timeout", func(c *Config) { c.Query.Timeout = "soon" }, "query.timeout"},
		{"zero tick", func(c *Config) { c.Poll.Tick = "0s" }, "poll.tick"},
		{"interval below tick", func(c *Config) { c.Poll.Interval = "500ms" }, "poll.interval"},
		{"bad source", func(c *Config) { c.Poll.CounterSource = "procfs" }, "poll.counter_source"},
		{"no sysfs root", func(c *Config) { c.Poll.SysfsRoot = "" }, "poll.sysfs_root"},
		{"namespace with sysfs counters", func(c *Config) { c.Netlink.Namespace = "blue" }, "netlink.namespace"},
		{"bad admin listen", func(c *Config) { c.Admin.Listen = "localhost" }, "admin.listen"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			tt.mutate(cfg)
			err := cfg.Validate()
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

func TestValidateNamespaceWithNetlinkCounters(t *testing.T) {
	cfg := Default()
	cfg.Netlink.Namespace = "blue"
	cfg.Poll.CounterSource = CounterSourceNetlink
	assert.NoError(t, cfg.Validate())
}

func TestValidateReportsAllProblems(t *testing.T) {
	cfg := Default()
	cfg.Log.Format = "xml"
	cfg.Query.MaxInterfaces = 0

	err := cfg.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "log.format")
	assert.Contains(t, err.Error(), "query.max_interfaces")
}

func TestDurationFallbacks(t *testing.T) {
	q := QueryConfig{Timeout: "garbage"}
	assert.Equal(t, DefaultQueryTimeout, q.TimeoutDuration())

	p := PollConfig{Tick: "", Interval: "-1s"}
	assert.Equal(t, DefaultTick, p.TickDuration())
	assert.Equal(t, DefaultInterval, p.IntervalDuration())

	assert.Equal(t, zerolog.InfoLevel, LogConfig{Level: "nope"}.LogLevel())
	assert.Zero(t, LokiConfig{}.FlushIntervalDuration())
	assert.Equal(t, 2*time.Second, LokiConfig{FlushInterval: "2s"}.FlushIntervalDuration())
}
