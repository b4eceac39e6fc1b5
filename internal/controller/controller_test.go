//go:build !windows

package controller

import (
	"context"
	"fmt"
	"net"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sid3xyz/irctest/pkg/logging"
)

func TestMain(m *testing.M) {
	logging.InitDefault()
	os.Exit(m.Run())
}

// stubServer writes an executable script standing in for the system under
// test. It ignores the generated config and just stays alive.
func stubServer(t *testing.T, script string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "stub-server")
	require.NoError(t, os.WriteFile(path, []byte("#!/bin/sh\n"+script+"\n"), 0o755))
	return path
}

func newTestManager(t *testing.T, serverBin string) *Manager {
	t.Helper()
	manager, err := NewManager(serverBin, 28000, false)
	require.NoError(t, err)
	t.Cleanup(func() { manager.Close(context.Background()) })
	return manager
}

func TestCreateInstanceWritesConfig(t *testing.T) {
	manager := newTestManager(t, stubServer(t, "exec sleep 60"))

	instance, err := manager.CreateInstance(context.Background(), "config test", Options{})
	require.NoError(t, err)
	defer manager.DestroyInstance(context.Background(), instance)

	config, err := os.ReadFile(filepath.Join(instance.Dir, "config.toml"))
	require.NoError(t, err)
	assert.Contains(t, string(config), `name = "My.Little.Server"`)
	assert.Contains(t, string(config), fmt.Sprintf("address = %q", instance.Addr))
	assert.NotContains(t, string(config), "[tls]")

	// Scenario names are sanitized into instance IDs.
	assert.Contains(t, instance.ID, "config-test-")
}

func TestCreateInstanceTLSMaterial(t *testing.T) {
	manager := newTestManager(t, stubServer(t, "exec sleep 60"))

	instance, err := manager.CreateInstance(context.Background(), "tls", Options{TLS: true})
	require.NoError(t, err)
	defer manager.DestroyInstance(context.Background(), instance)

	require.NotEmpty(t, instance.TLSAddr)
	assert.NotEqual(t, instance.Addr, instance.TLSAddr)

	for _, name := range []string{"cert.pem", "key.pem"} {
		info, err := os.Stat(filepath.Join(instance.Dir, name))
		require.NoError(t, err, name)
		assert.NotZero(t, info.Size())
	}

	config, err := os.ReadFile(filepath.Join(instance.Dir, "config.toml"))
	require.NoError(t, err)
	assert.Contains(t, string(config), "[tls]")
	assert.Contains(t, string(config), fmt.Sprintf("address = %q", instance.TLSAddr))
}

func TestWaitForReady(t *testing.T) {
	manager := newTestManager(t, stubServer(t, "exec sleep 60"))

	instance, err := manager.CreateInstance(context.Background(), "ready", Options{})
	require.NoError(t, err)
	defer manager.DestroyInstance(context.Background(), instance)

	// The stub never listens; stand in for its listener so the probe
	// succeeds.
	listener, err := net.Listen("tcp", instance.Addr)
	require.NoError(t, err)
	defer listener.Close()
	go func() {
		for {
			conn, err := listener.Accept()
			if err != nil {
				return
			}
			conn.Close()
		}
	}()

	require.NoError(t, manager.WaitForReady(context.Background(), instance))
}

func TestWaitForReadyProcessExited(t *testing.T) {
	manager := newTestManager(t, stubServer(t, "exit 3"))

	instance, err := manager.CreateInstance(context.Background(), "crash", Options{})
	require.NoError(t, err)
	defer manager.DestroyInstance(context.Background(), instance)

	start := time.Now()
	err = manager.WaitForReady(context.Background(), instance)
	require.ErrorIs(t, err, ErrProcessExited)
	assert.Less(t, time.Since(start), 10*time.Second)
}

func TestWaitForReadyTimeout(t *testing.T) {
	manager := newTestManager(t, stubServer(t, "exec sleep 60"))

	instance, err := manager.CreateInstance(context.Background(), "timeout", Options{})
	require.NoError(t, err)
	defer manager.DestroyInstance(context.Background(), instance)

	ctx, cancel := context.WithTimeout(context.Background(), 500*time.Millisecond)
	defer cancel()
	err = manager.WaitForReady(ctx, instance)
	require.ErrorIs(t, err, ErrStartupTimeout)
}

func TestDestroyInstanceIdempotent(t *testing.T) {
	manager := newTestManager(t, stubServer(t, "exec sleep 60"))

	instance, err := manager.CreateInstance(context.Background(), "destroy", Options{})
	require.NoError(t, err)

	require.NoError(t, manager.DestroyInstance(context.Background(), instance))
	_, err = os.Stat(instance.Dir)
	assert.True(t, os.IsNotExist(err))

	// Destroying again is a no-op.
	require.NoError(t, manager.DestroyInstance(context.Background(), instance))
	require.NoError(t, manager.DestroyInstance(context.Background(), instance))
}

func TestDestroyInstanceCollectsLogs(t *testing.T) {
	manager := newTestManager(t, stubServer(t, `echo "booting"; echo "oops" >&2; exec sleep 60`))

	instance, err := manager.CreateInstance(context.Background(), "logs", Options{})
	require.NoError(t, err)

	// Give the stub a moment to emit its output.
	time.Sleep(200 * time.Millisecond)

	require.NoError(t, manager.DestroyInstance(context.Background(), instance))
	require.NotNil(t, instance.Logs)
	assert.Contains(t, instance.Logs.Stdout, "booting")
	assert.Contains(t, instance.Logs.Stderr, "oops")
	assert.Contains(t, instance.Logs.Combined, "STDOUT")
}

func TestKillSimulatesCrash(t *testing.T) {
	manager := newTestManager(t, stubServer(t, "exec sleep 60"))

	instance, err := manager.CreateInstance(context.Background(), "kill", Options{})
	require.NoError(t, err)
	defer manager.DestroyInstance(context.Background(), instance)

	require.NoError(t, manager.Kill(instance))

	// The working directory survives an abrupt kill until destroy.
	_, err = os.Stat(instance.Dir)
	require.NoError(t, err)

	// Killing a dead instance is harmless.
	assert.Eventually(t, func() bool { return manager.Kill(instance) == nil },
		5*time.Second, 50*time.Millisecond)
}

func TestReservePortsDistinct(t *testing.T) {
	manager := newTestManager(t, stubServer(t, "exec sleep 60"))

	seen := map[int]bool{}
	for i := 0; i < 5; i++ {
		port, tlsPort, err := manager.reservePorts(fmt.Sprintf("inst-%d", i), i%2 == 0)
		require.NoError(t, err)
		assert.False(t, seen[port], "port %d reserved twice", port)
		seen[port] = true
		if i%2 == 0 {
			assert.Equal(t, port+1, tlsPort)
			assert.False(t, seen[tlsPort])
			seen[tlsPort] = true
		}
	}

	manager.releasePorts("inst-0")
	manager.portMu.Lock()
	for _, owner := range manager.reservedPorts {
		assert.NotEqual(t, "inst-0", owner)
	}
	manager.portMu.Unlock()
}

func TestSanitizeName(t *testing.T) {
	assert.Equal(t, "ping-pong", sanitizeName("ping-pong"))
	assert.Equal(t, "a-b-c", sanitizeName("a b/c"))
	assert.Equal(t, "instance", sanitizeName(""))
}
