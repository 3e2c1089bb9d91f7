package svc

import (
	"io"
	"os"
	"os/exec"
	"strconv"
)

// LogOptions configures log viewing behavior.
type LogOptions struct {
	ServiceName string
	Follow      bool
	Lines       int
	Since       string // journalctl --since value, e.g. "1 hour ago"

	Stdout io.Writer
	Stderr io.Writer
}

// JournalArgs returns the journalctl arguments for opts.
func JournalArgs(opts LogOptions) []string {
	if opts.Lines <= 0 {
		opts.Lines = 50
	}
	if opts.ServiceName == "" {
		opts.ServiceName = DefaultName
	}
	args := []string{"-u", opts.ServiceName, "-n", strconv.Itoa(opts.Lines), "--no-pager"}
	if opts.Since != "" {
		args = append(args, "--since", opts.Since)
	}
	if opts.Follow {
		args = append(args, "-f")
	}
	return args
}

// ViewLogs shows the systemd journal for the service.
func ViewLogs(opts LogOptions) error {
	cmd := exec.Command("journalctl", JournalArgs(opts)...)
	cmd.Stdout = opts.Stdout
	cmd.Stderr = opts.Stderr
	if cmd.Stdout == nil {
		cmd.Stdout = os.Stdout
	}
	if cmd.Stderr == nil {
		cmd.Stderr = os.Stderr
	}
	cmd.Stdin = os.Stdin
	return cmd.Run()
}
