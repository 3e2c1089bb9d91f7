package svc

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/kardianos/service"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewServiceConfig(t *testing.T) {
	cfg := DefaultServiceConfig()
	cfg.UserName = "nlagent"

	sc := NewServiceConfig(cfg)
	assert.Equal(t, "nlagent", sc.Name)
	assert.Equal(t, DefaultDisplayName, sc.DisplayName)
	assert.Equal(t, []string{RunFlag, "run", "--config", DefaultConfigPath}, sc.Arguments)
	assert.Equal(t, "nlagent", sc.UserName)
	assert.Equal(t, "on-failure", sc.Option["Restart"])
	assert.Contains(t, sc.Dependencies, "Before=network.target")
}

func TestNewServiceConfigWithoutConfigFile(t *testing.T) {
	cfg := DefaultServiceConfig()
	cfg.ConfigPath = ""
	assert.Equal(t, []string{RunFlag, "run"}, NewServiceConfig(cfg).Arguments)
}

func TestIsServiceMode(t *testing.T) {
	assert.True(t, IsServiceMode([]string{"nlagent", RunFlag, "run"}))
	assert.False(t, IsServiceMode([]string{"nlagent", "run"}))
	assert.False(t, IsServiceMode(nil))
}

func TestStatusString(t *testing.T) {
	assert.Equal(t, "running", StatusString(service.StatusRunning))
	assert.Equal(t, "stopped", StatusString(service.StatusStopped))
	assert.Equal(t, "unknown", StatusString(service.StatusUnknown))
}

func TestProgramStartStop(t *testing.T) {
	started := make(chan string, 1)
	prg := &Program{
		ConfigPath: "/etc/nlagent/test.yaml",
		Run: func(ctx context.Context, configPath string) error {
			started <- configPath
			<-ctx.Done()
			return ctx.Err()
		},
	}

	require.NoError(t, prg.Start(nil))
	select {
	case path := <-started:
		assert.Equal(t, "/etc/nlagent/test.yaml", path)
	case <-time.After(time.Second):
		t.Fatal("run function not called")
	}

	// Cancellation is a clean stop.
	assert.NoError(t, prg.Stop(nil))
}

func TestProgramStopReportsFailure(t *testing.T) {
	prg := &Program{Run: func(context.Context, string) error {
		return errors.New("socket busy")
	}}
	require.NoError(t, prg.Start(nil))
	assert.EqualError(t, prg.Stop(nil), "socket busy")
}

func TestProgramWithoutRun(t *testing.T) {
	prg := &Program{}
	require.NoError(t, prg.Start(nil))
	assert.Error(t, prg.Stop(nil))
}

func TestProgramStopBeforeStart(t *testing.T) {
	assert.NoError(t, (&Program{}).Stop(nil))
}

func TestJournalArgs(t *testing.T) {
	assert.Equal(t,
		[]string{"-u", "nlagent", "-n", "50", "--no-pager"},
		JournalArgs(LogOptions{}))

	assert.Equal(t,
		[]string{"-u", "custom", "-n", "10", "--no-pager", "--since", "1 hour ago", "-f"},
		JournalArgs(LogOptions{ServiceName: "custom", Lines: 10, Since: "1 hour ago", Follow: true}))
}
