// Package svc installs and runs nlagent as a system service.
package svc

import (
	"context"
	"errors"
	"fmt"
	"os"
	"runtime"

	"github.com/kardianos/service"
	"github.com/rs/zerolog/log"
)

// Service defaults.
const (
	DefaultName        = "nlagent"
	DefaultDisplayName = "nlagent network interface monitor"
	DefaultDescription = "Tracks kernel network interfaces and addresses and answers local queries"
	DefaultConfigPath  = "/etc/nlagent/nlagent.yaml"

	// RunFlag marks an invocation by the service manager.
	RunFlag = "--service-run"
)

// RunFunc runs the daemon until ctx is cancelled.
type RunFunc func(ctx context.Context, configPath string) error

// Program implements service.Interface for the kardianos/service library.
type Program struct {
	ConfigPath string
	Run        RunFunc

	ctx    context.Context
	cancel context.CancelFunc
	done   chan error
}

// Start is called when the service starts. It must not block.
func (p *Program) Start(s service.Service) error {
	p.ctx, p.cancel = context.WithCancel(context.Background())
	p.done = make(chan error, 1)

	go func() {
		if p.Run == nil {
			p.done <- errors.New("run function not configured")
			return
		}
		p.done <- p.Run(p.ctx, p.ConfigPath)
	}()

	return nil
}

// Stop cancels the running daemon and waits for it to return.
func (p *Program) Stop(s service.Service) error {
	if p.cancel != nil {
		p.cancel()
	}
	if p.done != nil {
		err := <-p.done
		if err != nil && !errors.Is(err, context.Canceled) {
			return err
		}
	}
	return nil
}

// ServiceConfig holds configuration for service installation.
type ServiceConfig struct {
	Name        string
	DisplayName string
	Description string
	ConfigPath  string
	UserName    string // empty runs as root
}

// DefaultServiceConfig returns the stock service definition.
func DefaultServiceConfig() *ServiceConfig {
	return &ServiceConfig{
		Name:        DefaultName,
		DisplayName: DefaultDisplayName,
		Description: DefaultDescription,
		ConfigPath:  DefaultConfigPath,
	}
}

// NewServiceConfig creates a service.Config for the unit.
func NewServiceConfig(cfg *ServiceConfig) *service.Config {
	args := []string{RunFlag, "run"}
	if cfg.ConfigPath != "" {
		args = append(args, "--config", cfg.ConfigPath)
	}

	svcCfg := &service.Config{
		Name:         cfg.Name,
		DisplayName:  cfg.DisplayName,
		Description:  cfg.Description,
		Arguments:    args,
		UserName:     cfg.UserName,
		Dependencies: []string{"After=network-pre.target", "Before=network.target"},
		Option: service.KeyValue{
			"Restart":    "on-failure",
			"RestartSec": "5",
		},
	}
	return svcCfg
}

// CreateService creates a new service instance.
func CreateService(prg *Program, cfg *ServiceConfig) (service.Service, error) {
	return service.New(prg, NewServiceConfig(cfg))
}

func manage(cfg *ServiceConfig, action string, fn func(service.Service) error) error {
	s, err := CreateService(&Program{ConfigPath: cfg.ConfigPath}, cfg)
	if err != nil {
		return fmt.Errorf("create service: %w", err)
	}
	if err := fn(s); err != nil {
		return fmt.Errorf("%s service: %w", action, err)
	}
	return nil
}

// Install installs the service. An existing installation is replaced only
// with force.
func Install(cfg *ServiceConfig, force bool) error {
	return manage(cfg, "install", func(s service.Service) error {
		status, err := s.Status()
		if err == nil {
			switch status {
			case service.StatusRunning:
				if !force {
					return fmt.Errorf("%q is running; stop it first or use --force", cfg.Name)
				}
				if err := s.Stop(); err != nil {
					log.Warn().Err(err).Msg("failed to stop service")
				}
				if err := s.Uninstall(); err != nil {
					log.Warn().Err(err).Msg("failed to uninstall service")
				}
			case service.StatusStopped:
				if !force {
					return fmt.Errorf("%q already installed; use --force to reinstall", cfg.Name)
				}
				if err := s.Uninstall(); err != nil {
					log.Warn().Err(err).Msg("failed to uninstall service")
				}
			}
		}
		return s.Install()
	})
}

// Uninstall stops the service if running and removes it.
func Uninstall(cfg *ServiceConfig) error {
	return manage(cfg, "uninstall", func(s service.Service) error {
		if status, _ := s.Status(); status == service.StatusRunning {
			if err := s.Stop(); err != nil {
				log.Warn().Err(err).Msg("failed to stop service")
			}
		}
		return s.Uninstall()
	})
}

// Start starts the service.
func Start(cfg *ServiceConfig) error {
	return manage(cfg, "start", service.Service.Start)
}

// Stop stops the service.
func Stop(cfg *ServiceConfig) error {
	return manage(cfg, "stop", service.Service.Stop)
}

// Restart restarts the service.
func Restart(cfg *ServiceConfig) error {
	return manage(cfg, "restart", service.Service.Restart)
}

// Status returns the service status.
func Status(cfg *ServiceConfig) (service.Status, error) {
	s, err := CreateService(&Program{ConfigPath: cfg.ConfigPath}, cfg)
	if err != nil {
		return service.StatusUnknown, fmt.Errorf("create service: %w", err)
	}
	return s.Status()
}

// StatusString returns a human-readable status string.
func StatusString(status service.Status) string {
	switch status {
	case service.StatusRunning:
		return "running"
	case service.StatusStopped:
		return "stopped"
	default:
		return "unknown"
	}
}

// Run runs the program under the service manager.
func Run(prg *Program, cfg *ServiceConfig) error {
	s, err := CreateService(prg, cfg)
	if err != nil {
		return fmt.Errorf("create service: %w", err)
	}
	return s.Run()
}

// CheckPrivileges reports whether service management can proceed.
func CheckPrivileges() error {
	if runtime.GOOS != "linux" {
		return fmt.Errorf("service management is only supported on linux")
	}
	if os.Geteuid() != 0 {
		return fmt.Errorf("root privileges required (use sudo)")
	}
	return nil
}

// IsServiceMode reports whether args contain RunFlag.
func IsServiceMode(args []string) bool {
	for _, arg := range args {
		if arg == RunFlag {
			return true
		}
	}
	return false
}
