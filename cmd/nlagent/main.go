// Command nlagent tracks the host's network interfaces from kernel
// notifications and answers queries about them on a local socket.
package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"runtime"
	"strings"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/nlagent/nlagent/internal/agent"
	"github.com/nlagent/nlagent/internal/config"
	"github.com/nlagent/nlagent/internal/control"
	"github.com/nlagent/nlagent/internal/logging/loki"
	"github.com/nlagent/nlagent/internal/svc"
)

var (
	Version   = "dev"
	Commit    = "unknown"
	BuildTime = "unknown"
)

var (
	cfgFile    string
	logLevel   string
	socketPath string

	// Hidden, set by the service manager.
	serviceRun bool
)

func main() {
	if svc.IsServiceMode(os.Args) {
		runAsService()
		return
	}

	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:   "nlagent",
		Short: "nlagent - network interface monitor",
		Long: `nlagent follows the kernel's rtnetlink notifications to keep a live table
of network interfaces, their status and addresses, polls traffic counters,
and answers queries on a local Unix socket.

Examples:
  # Run in the foreground
  sudo nlagent run --config /etc/nlagent/nlagent.yaml

  # Ask a running agent for its interface table
  nlagent list

  # Send any query command
  nlagent query show counters`,
		SilenceUsage: true,
	}

	rootCmd.PersistentFlags().StringVarP(&cfgFile, "config", "c", "", "config file path")
	rootCmd.PersistentFlags().StringVarP(&logLevel, "log-level", "l", "", "log level (overrides config)")
	rootCmd.PersistentFlags().BoolVar(&serviceRun, "service-run", false, "Run as a service (internal use)")
	_ = rootCmd.PersistentFlags().MarkHidden("service-run")

	runCmd := &cobra.Command{
		Use:   "run",
		Short: "Run the agent in the foreground",
		Args:  cobra.NoArgs,
		RunE:  runDaemon,
	}
	rootCmd.AddCommand(runCmd)

	listCmd := &cobra.Command{
		Use:   "list",
		Short: "List interfaces known to a running agent",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return sendQuery(cmd, control.CmdList)
		},
	}
	listCmd.Flags().StringVarP(&socketPath, "socket", "s", "", "query socket path (default from config)")
	rootCmd.AddCommand(listCmd)

	queryCmd := &cobra.Command{
		Use:   "query <command...>",
		Short: "Send a raw command to the query socket",
		Long: `Send a command to a running agent and print the response.

Commands:
  list              interfaces with status and addresses
  show interfaces   same as list
  show counters     last polled traffic counters`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return sendQuery(cmd, strings.Join(args, " "))
		},
	}
	queryCmd.Flags().StringVarP(&socketPath, "socket", "s", "", "query socket path (default from config)")
	rootCmd.AddCommand(queryCmd)

	versionCmd := &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Run: func(cmd *cobra.Command, args []string) {
			out := cmd.OutOrStdout()
			_, _ = fmt.Fprintf(out, "nlagent %s\n", Version)
			_, _ = fmt.Fprintf(out, "  Commit:     %s\n", Commit)
			_, _ = fmt.Fprintf(out, "  Build Time: %s\n", BuildTime)
			_, _ = fmt.Fprintf(out, "  Go:         %s\n", runtime.Version())
		},
	}
	rootCmd.AddCommand(versionCmd)

	rootCmd.AddCommand(newServiceCmd())

	return rootCmd
}

func runDaemon(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig(cfgFile)
	if err != nil {
		return err
	}
	if logLevel != "" {
		cfg.Log.Level = logLevel
	}
	stopLogs := setupLogging(cfg.Log, os.Stderr)
	defer stopLogs()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	return runAgent(ctx, cfg)
}

func runAgent(ctx context.Context, cfg *config.Config) error {
	instanceID := uuid.NewString()
	log.Info().
		Str("version", Version).
		Str("instance", instanceID).
		Msg("starting nlagent")

	a := agent.New(cfg, agent.Options{
		Version:    Version,
		InstanceID: instanceID,
		Logger:     log.Logger,
	})
	return a.Run(ctx)
}

// loadConfig loads and validates the configuration. An empty path uses
// the defaults.
func loadConfig(path string) (*config.Config, error) {
	cfg, err := config.Load(path)
	if err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	return cfg, nil
}

func sendQuery(cmd *cobra.Command, command string) error {
	path := socketPath
	if path == "" {
		cfg, err := loadConfig(cfgFile)
		if err != nil {
			return err
		}
		path = cfg.Query.SocketPath
	}

	resp, err := control.NewClient(path).Send(command)
	if err != nil {
		return fmt.Errorf("query %s: %w", path, err)
	}
	_, err = io.WriteString(cmd.OutOrStdout(), resp)
	return err
}

// setupLogging installs the global logger and returns a function that
// flushes any log shipper.
func setupLogging(cfg config.LogConfig, w io.Writer) func() {
	zerolog.TimeFieldFormat = zerolog.TimeFormatUnix
	zerolog.SetGlobalLevel(cfg.LogLevel())
	var stop func()
	log.Logger, stop = buildLogger(formatWriter(cfg.Format, w), cfg.Loki, w)
	return stop
}

func formatWriter(format string, w io.Writer) io.Writer {
	if format == "json" {
		return w
	}
	return zerolog.ConsoleWriter{Out: w, TimeFormat: time.RFC3339}
}

// buildLogger tees out to Loki when a push URL is configured. Loki always
// receives the raw JSON records.
func buildLogger(out io.Writer, cfg config.LokiConfig, errLog io.Writer) (zerolog.Logger, func()) {
	if cfg.URL == "" {
		return zerolog.New(out).With().Timestamp().Logger(), func() {}
	}

	labels := make(map[string]string, len(cfg.Labels)+1)
	if host, err := os.Hostname(); err == nil {
		labels["host"] = host
	}
	for k, v := range cfg.Labels {
		labels[k] = v
	}
	lw := loki.NewWriter(loki.Config{
		URL:           cfg.URL,
		Labels:        labels,
		BatchSize:     cfg.BatchSize,
		FlushInterval: cfg.FlushIntervalDuration(),
		ErrorLog:      errLog,
	})
	lw.Start()
	return zerolog.New(zerolog.MultiLevelWriter(out, lw)).With().Timestamp().Logger(), lw.Stop
}

// runAsService runs under the service manager, which starts the binary
// with RunFlag and the config path.
func runAsService() {
	zerolog.TimeFieldFormat = zerolog.TimeFormatUnix
	zerolog.SetGlobalLevel(zerolog.InfoLevel)
	log.Logger = zerolog.New(journalWriter())

	configPath := serviceConfigArg(os.Args)
	if configPath == "" {
		configPath = svc.DefaultConfigPath
	}
	log.Info().Str("config", configPath).Msg("starting as service")

	cfg := svc.DefaultServiceConfig()
	cfg.ConfigPath = configPath
	prg := &svc.Program{ConfigPath: configPath, Run: runFromService}

	if err := svc.Run(prg, cfg); err != nil {
		log.Fatal().Err(err).Msg("service error")
	}
}

// journalWriter formats for journald, which adds its own timestamps and
// does not render colour.
func journalWriter() io.Writer {
	return zerolog.ConsoleWriter{Out: os.Stderr, NoColor: true, PartsExclude: []string{zerolog.TimestampFieldName}}
}

func serviceConfigArg(args []string) string {
	for i, arg := range args {
		if (arg == "--config" || arg == "-c") && i+1 < len(args) {
			return args[i+1]
		}
		if v, ok := strings.CutPrefix(arg, "--config="); ok {
			return v
		}
	}
	return ""
}

func runFromService(ctx context.Context, configPath string) error {
	if _, err := os.Stat(configPath); errors.Is(err, os.ErrNotExist) {
		log.Warn().Str("config", configPath).Msg("config file not found, using defaults")
		configPath = ""
	}
	cfg, err := loadConfig(configPath)
	if err != nil {
		return err
	}
	zerolog.SetGlobalLevel(cfg.Log.LogLevel())
	var out io.Writer = journalWriter()
	if cfg.Log.Format == "json" {
		out = os.Stderr
	}
	var stopLogs func()
	log.Logger, stopLogs = buildLogger(out, cfg.Log.Loki, os.Stderr)
	defer stopLogs()
	return runAgent(ctx, cfg)
}
