package main

import (
	"fmt"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/nlagent/nlagent/internal/logging/audit"
	"github.com/nlagent/nlagent/internal/svc"
)

var (
	serviceName  string
	serviceUser  string
	forceInstall bool
	logsFollow   bool
	logsLines    int
	logsSince    string
)

func newServiceCmd() *cobra.Command {
	serviceCmd := &cobra.Command{
		Use:   "service",
		Short: "Manage the nlagent systemd service",
		Long: `Install, control, and inspect nlagent as a systemd service.

Examples:
  sudo nlagent service install --config /etc/nlagent/nlagent.yaml
  sudo nlagent service start
  sudo nlagent service status
  sudo nlagent service logs --follow`,
	}

	installCmd := &cobra.Command{
		Use:   "install",
		Short: "Install nlagent as a system service",
		RunE:  runServiceInstall,
	}
	installCmd.Flags().StringVar(&serviceUser, "user", "", "Run service as this user")
	installCmd.Flags().BoolVarP(&forceInstall, "force", "f", false, "Force reinstall if service already exists")
	serviceCmd.AddCommand(installCmd)

	for _, c := range []struct {
		use, short string
		run        func(*svc.ServiceConfig) error
		done       string
	}{
		{"uninstall", "Remove the nlagent service", svc.Uninstall, "uninstalled"},
		{"start", "Start the nlagent service", svc.Start, "started"},
		{"stop", "Stop the nlagent service", svc.Stop, "stopped"},
		{"restart", "Restart the nlagent service", svc.Restart, "restarted"},
	} {
		serviceCmd.AddCommand(&cobra.Command{
			Use:   c.use,
			Short: c.short,
			RunE: func(cmd *cobra.Command, args []string) error {
				if err := svc.CheckPrivileges(); err != nil {
					return err
				}
				cfg := getServiceConfig()
				if err := c.run(cfg); err != nil {
					auditService(c.use, cfg.Name, err)
					return err
				}
				auditService(c.use, cfg.Name, nil)
				_, _ = fmt.Fprintf(cmd.OutOrStdout(), "Service %q %s\n", cfg.Name, c.done)
				return nil
			},
		})
	}

	statusCmd := &cobra.Command{
		Use:   "status",
		Short: "Show nlagent service status",
		RunE:  runServiceStatus,
	}
	serviceCmd.AddCommand(statusCmd)

	logsCmd := &cobra.Command{
		Use:   "logs",
		Short: "View nlagent service logs (journalctl)",
		RunE:  runServiceLogs,
	}
	logsCmd.Flags().BoolVarP(&logsFollow, "follow", "f", false, "Follow log output (like tail -f)")
	logsCmd.Flags().IntVar(&logsLines, "lines", 50, "Number of log lines to show")
	logsCmd.Flags().StringVar(&logsSince, "since", "", "Show entries since this time (journalctl syntax)")
	serviceCmd.AddCommand(logsCmd)

	serviceCmd.PersistentFlags().StringVarP(&serviceName, "name", "n", "", "Service name (default: nlagent)")

	return serviceCmd
}

func getServiceConfig() *svc.ServiceConfig {
	cfg := svc.DefaultServiceConfig()
	if serviceName != "" {
		cfg.Name = serviceName
	}
	if cfgFile != "" {
		cfg.ConfigPath = cfgFile
	}
	cfg.UserName = serviceUser
	return cfg
}

func runServiceInstall(cmd *cobra.Command, args []string) error {
	if err := svc.CheckPrivileges(); err != nil {
		return err
	}
	cfg := getServiceConfig()

	if _, err := loadConfig(cfg.ConfigPath); err != nil {
		log.Warn().Err(err).Str("config", cfg.ConfigPath).Msg("service config not usable yet; defaults apply until it is")
	}

	if err := svc.Install(cfg, forceInstall); err != nil {
		auditService("install", cfg.Name, err)
		return err
	}
	auditService("install", cfg.Name, nil)

	out := cmd.OutOrStdout()
	_, _ = fmt.Fprintf(out, "Service %q installed\n", cfg.Name)
	_, _ = fmt.Fprintf(out, "  Config: %s\n", cfg.ConfigPath)
	_, _ = fmt.Fprintf(out, "\nStart it with: sudo nlagent service start\n")
	return nil
}

func auditService(action, name string, err error) {
	l := audit.NewLogger(log.Logger)
	if err != nil {
		l.LogService(action, name, audit.ResultFailed, err.Error())
		return
	}
	l.LogService(action, name, audit.ResultOK, "")
}

func runServiceStatus(cmd *cobra.Command, args []string) error {
	cfg := getServiceConfig()
	status, err := svc.Status(cfg)
	if err != nil {
		return fmt.Errorf("get status: %w", err)
	}
	_, _ = fmt.Fprintf(cmd.OutOrStdout(), "Service %q: %s\n", cfg.Name, svc.StatusString(status))
	return nil
}

func runServiceLogs(cmd *cobra.Command, args []string) error {
	cfg := getServiceConfig()
	return svc.ViewLogs(svc.LogOptions{
		ServiceName: cfg.Name,
		Follow:      logsFollow,
		Lines:       logsLines,
		Since:       logsSince,
		Stdout:      cmd.OutOrStdout(),
		Stderr:      cmd.ErrOrStderr(),
	})
}
