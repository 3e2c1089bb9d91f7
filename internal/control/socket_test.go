package control

import (
	"bytes"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nlagent/nlagent/internal/logging/audit"
	"github.com/nlagent/nlagent/internal/registry"
	"github.com/nlagent/nlagent/testutil"
)

func testRegistry(t *testing.T) *registry.Registry {
	t.Helper()
	reg := registry.New(registry.Options{})
	reg.UpsertByIndex(1, "lo")
	reg.SetStatus(1, true)
	reg.UpsertByIndex(2, "eth0")
	require.NoError(t, reg.AddAddress(2, registry.Address{Family: registry.FamilyIPv4, Addr: "10.0.0.5", PrefixLen: 24}))
	require.NoError(t, reg.AddAddress(2, registry.Address{Family: registry.FamilyIPv6, Addr: "fe80::1", PrefixLen: 64}))
	reg.SetCounters(2, registry.Counters{RxBytes: 100, TxBytes: 200, RxErrors: 1, TxErrors: 2})
	return reg
}

func serve(t *testing.T, s *Server, request string) string {
	t.Helper()
	conn := &testutil.MockConn{ReadData: []byte(request)}
	s.ServeConn(conn)
	assert.True(t, conn.Closed)
	assert.False(t, conn.Deadline.IsZero())
	return string(conn.WriteData)
}

func TestServeList(t *testing.T) {
	s := NewServer("", testRegistry(t), Options{})

	want := "lo\tUP\neth0\tDOWN\n  - 10.0.0.5/24\n  - fe80::1/64\n"
	assert.Equal(t, want, serve(t, s, "list\n"))
	assert.Equal(t, want, serve(t, s, "show   interfaces\r\n"))
	assert.Equal(t, want, serve(t, s, "list"))
}

func TestServeCounters(t *testing.T) {
	s := NewServer("", testRegistry(t), Options{})

	got := serve(t, s, "show counters\n")
	assert.Equal(t,
		"lo\trx_bytes=0 tx_bytes=0 rx_errors=0 tx_errors=0\n"+
			"eth0\trx_bytes=100 tx_bytes=200 rx_errors=1 tx_errors=2\n", got)
}

func TestServeUnknownCommand(t *testing.T) {
	var queries []string
	s := NewServer("", testRegistry(t), Options{OnQuery: func(c string) { queries = append(queries, c) }})

	assert.Equal(t, UnknownCommand, serve(t, s, "reboot\n"))
	assert.Equal(t, UnknownCommand, serve(t, s, "\n"))
	assert.Equal(t, []string{"unknown", "unknown"}, queries)
}

func TestServeEmptyConnection(t *testing.T) {
	s := NewServer("", testRegistry(t), Options{})
	assert.Empty(t, serve(t, s, ""))
}

func TestServeOversizedRequest(t *testing.T) {
	s := NewServer("", testRegistry(t), Options{MaxRequest: 16})

	// Only the first 16 bytes are read, which is not a command.
	assert.Equal(t, UnknownCommand, serve(t, s, "list"+strings.Repeat(" x", 100)+"\n"))
}

func TestServeCapsInterfaces(t *testing.T) {
	reg := registry.New(registry.Options{})
	for i := 1; i <= 5; i++ {
		reg.UpsertByIndex(i, "")
	}
	s := NewServer("", reg, Options{MaxInterfaces: 2})

	assert.Equal(t, "if1\tDOWN\nif2\tDOWN\n... 3 more interfaces\n", serve(t, s, "list\n"))
}

func TestServer_StartStop(t *testing.T) {
	dir := t.TempDir()
	socketPath := filepath.Join(dir, "run", "test.sock")

	server := NewServer(socketPath, testRegistry(t), Options{})
	_, err := server.Fd()
	assert.Error(t, err)

	require.NoError(t, server.Start())

	info, err := os.Stat(socketPath)
	require.NoError(t, err)
	assert.Equal(t, os.FileMode(0600), info.Mode().Perm())

	fd, err := server.Fd()
	require.NoError(t, err)
	assert.GreaterOrEqual(t, fd, 0)

	require.NoError(t, server.Stop())
	_, err = os.Stat(socketPath)
	assert.True(t, os.IsNotExist(err))
}

func TestServer_RemovesStaleSocket(t *testing.T) {
	dir := t.TempDir()
	socketPath := testutil.TempFile(t, dir, "stale.sock", "")

	server := NewServer(socketPath, testRegistry(t), Options{})
	require.NoError(t, server.Start())
	defer func() { _ = server.Stop() }()
}

func TestClient_List(t *testing.T) {
	dir := t.TempDir()
	socketPath := filepath.Join(dir, "test.sock")

	server := NewServer(socketPath, testRegistry(t), Options{})
	require.NoError(t, server.Start())
	defer func() { _ = server.Stop() }()

	type result struct {
		out string
		err error
	}
	done := make(chan result, 1)
	go func() {
		out, err := NewClient(socketPath).List()
		done <- result{out, err}
	}()

	deadline := time.After(5 * time.Second)
	for {
		select {
		case r := <-done:
			require.NoError(t, r.err)
			assert.Equal(t, "lo\tUP\neth0\tDOWN\n  - 10.0.0.5/24\n  - fe80::1/64\n", r.out)
			return
		case <-deadline:
			t.Fatal("no response from query socket")
		default:
			// Stands in for the event loop's readiness dispatch.
			server.HandleReadable()
		}
	}
}

func TestClient_NoServer(t *testing.T) {
	_, err := NewClient(filepath.Join(t.TempDir(), "missing.sock")).Send("list")
	assert.Error(t, err)
}

func TestServeAudit(t *testing.T) {
	var buf bytes.Buffer
	s := NewServer("", testRegistry(t), Options{Audit: audit.NewLogger(zerolog.New(&buf))})

	serve(t, s, "list\n")
	serve(t, s, "reboot\n")

	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	require.Len(t, lines, 2)

	var first, second map[string]any
	require.NoError(t, json.Unmarshal([]byte(lines[0]), &first))
	require.NoError(t, json.Unmarshal([]byte(lines[1]), &second))
	assert.Equal(t, "list", first["command"])
	assert.Equal(t, audit.ResultOK, first["result"])
	assert.Equal(t, false, first["peer_known"], "mock connections carry no credentials")
	assert.Equal(t, "unknown", second["command"])
	assert.Equal(t, audit.ResultUnknown, second["result"])
	assert.EqualValues(t, len(UnknownCommand), second["bytes"])
}
