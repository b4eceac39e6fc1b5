// Package controller owns the lifecycle of the system under test: it
// writes a generated configuration into an isolated per-instance working
// directory, spawns the server binary in its own process group, polls the
// listening address until it is reachable, and tears the process down with
// a graceful-then-forceful signal sequence.
package controller

import (
	"bufio"
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"os"
	"os/exec"
	"path/filepath"
	"sync"
	"syscall"
	"time"

	"github.com/google/uuid"

	"github.com/sid3xyz/irctest/pkg/logging"
)

var (
	// ErrStartupTimeout reports that the server did not become
	// reachable within the readiness polling bound.
	ErrStartupTimeout = errors.New("server did not become ready in time")
	// ErrProcessExited reports that the server process terminated
	// before becoming reachable.
	ErrProcessExited = errors.New("server process exited before becoming ready")
)

const (
	readyPollInterval = 100 * time.Millisecond
	readyTimeout      = 30 * time.Second
	shutdownTimeout   = 10 * time.Second
)

// InstanceLogs holds captured stdout and stderr of a server process. The
// controller never parses them for protocol correctness; they are
// diagnostic capture only.
type InstanceLogs struct {
	Stdout   string
	Stderr   string
	Combined string
}

// logCapture captures stdout and stderr from a process.
type logCapture struct {
	stdoutBuf    *bytes.Buffer
	stderrBuf    *bytes.Buffer
	stdoutReader *io.PipeReader
	stderrReader *io.PipeReader
	stdoutWriter *io.PipeWriter
	stderrWriter *io.PipeWriter
	wg           sync.WaitGroup
	mu           sync.RWMutex
}

func newLogCapture() *logCapture {
	lc := &logCapture{
		stdoutBuf: &bytes.Buffer{},
		stderrBuf: &bytes.Buffer{},
	}

	lc.stdoutReader, lc.stdoutWriter = io.Pipe()
	lc.stderrReader, lc.stderrWriter = io.Pipe()

	lc.wg.Add(2)
	go lc.captureOutput(lc.stdoutReader, lc.stdoutBuf)
	go lc.captureOutput(lc.stderrReader, lc.stderrBuf)

	return lc
}

func (lc *logCapture) captureOutput(reader io.Reader, buffer *bytes.Buffer) {
	defer lc.wg.Done()

	scanner := bufio.NewScanner(reader)
	for scanner.Scan() {
		line := scanner.Text()
		lc.mu.Lock()
		buffer.WriteString(line + "\n")
		lc.mu.Unlock()
	}
}

func (lc *logCapture) close() {
	lc.stdoutWriter.Close()
	lc.stderrWriter.Close()
	lc.wg.Wait()
}

func (lc *logCapture) getLogs() *InstanceLogs {
	lc.mu.RLock()
	defer lc.mu.RUnlock()

	stdout := lc.stdoutBuf.String()
	stderr := lc.stderrBuf.String()

	combined := ""
	if stdout != "" {
		combined += "=== STDOUT ===\n" + stdout
	}
	if stderr != "" {
		if combined != "" {
			combined += "\n"
		}
		combined += "=== STDERR ===\n" + stderr
	}

	return &InstanceLogs{
		Stdout:   stdout,
		Stderr:   stderr,
		Combined: combined,
	}
}

// managedProcess tracks a spawned server process. The reaper goroutine
// performs the single cmd.Wait call; everyone else observes done.
type managedProcess struct {
	cmd        *exec.Cmd
	logCapture *logCapture
	done       chan struct{}
	waitErr    error
}

func (p *managedProcess) exited() bool {
	select {
	case <-p.done:
		return true
	default:
		return false
	}
}

// Instance is one running server under test.
type Instance struct {
	// ID uniquely identifies the instance across a run.
	ID string
	// Dir is the isolated working directory holding the generated
	// configuration and TLS material.
	Dir string
	// Addr is the plaintext listener address, valid only after
	// WaitForReady succeeded.
	Addr string
	// TLSAddr is the encrypted listener address, empty unless the
	// instance was configured with TLS.
	TLSAddr string
	// Process is the child OS process.
	Process *os.Process
	// StartTime records when the process was spawned.
	StartTime time.Time
	// Logs is populated when the instance is destroyed.
	Logs *InstanceLogs

	port    int
	tlsPort int
}

// Manager creates and destroys server instances. It is safe for use from
// concurrent scenarios; port reservation and the process table are
// synchronized.
type Manager struct {
	serverBin   string
	basePort    int
	tempDir     string
	keepTempDir bool

	mu        sync.RWMutex
	processes map[string]*managedProcess

	portMu        sync.Mutex
	portOffset    int
	reservedPorts map[int]string

	certs *CertPool
}

// NewManager creates a manager spawning the given server binary, with port
// allocation starting at basePort. The manager owns a temp root under
// which every instance gets its own directory.
func NewManager(serverBin string, basePort int, keepTempDir bool) (*Manager, error) {
	if serverBin == "" {
		return nil, fmt.Errorf("server binary path is required")
	}
	tempDir, err := os.MkdirTemp("", "irctest-*")
	if err != nil {
		return nil, fmt.Errorf("failed to create temp directory: %w", err)
	}

	return &Manager{
		serverBin:     serverBin,
		basePort:      basePort,
		tempDir:       tempDir,
		keepTempDir:   keepTempDir,
		processes:     make(map[string]*managedProcess),
		reservedPorts: make(map[int]string),
		certs:         NewCertPool(),
	}, nil
}

// CreateInstance writes the generated configuration for one instance and
// spawns the server process. The returned instance is not reachable until
// WaitForReady succeeds.
func (m *Manager) CreateInstance(ctx context.Context, scenarioName string, opts Options) (*Instance, error) {
	instanceID := fmt.Sprintf("%s-%s", sanitizeName(scenarioName), uuid.NewString()[:8])

	port, tlsPort, err := m.reservePorts(instanceID, opts.TLS)
	if err != nil {
		return nil, fmt.Errorf("failed to reserve ports: %w", err)
	}

	dir := filepath.Join(m.tempDir, instanceID)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		m.releasePorts(instanceID)
		return nil, fmt.Errorf("failed to create instance directory: %w", err)
	}

	logging.Debug("Controller", "creating instance %s in %s (port %d)", instanceID, dir, port)

	configPath, err := m.writeConfig(dir, opts, port, tlsPort)
	if err != nil {
		m.releasePorts(instanceID)
		os.RemoveAll(dir)
		return nil, err
	}

	proc, err := m.startProcess(ctx, configPath, dir, opts)
	if err != nil {
		m.releasePorts(instanceID)
		os.RemoveAll(dir)
		return nil, fmt.Errorf("failed to start server process: %w", err)
	}

	m.mu.Lock()
	m.processes[instanceID] = proc
	m.mu.Unlock()

	instance := &Instance{
		ID:        instanceID,
		Dir:       dir,
		Addr:      fmt.Sprintf("127.0.0.1:%d", port),
		Process:   proc.cmd.Process,
		StartTime: time.Now(),
		port:      port,
		tlsPort:   tlsPort,
	}
	if opts.TLS {
		instance.TLSAddr = fmt.Sprintf("127.0.0.1:%d", tlsPort)
	}

	logging.Debug("Controller", "started instance %s (pid %d)", instanceID, proc.cmd.Process.Pid)
	return instance, nil
}

// startProcess launches `<binary> <config-path>`, optionally under
// faketime for clock-skew injection, in its own process group with captured
// output.
func (m *Manager) startProcess(ctx context.Context, configPath, dir string, opts Options) (*managedProcess, error) {
	argv := []string{m.serverBin, configPath}
	if opts.Faketime != "" {
		faketimeBin, err := exec.LookPath("faketime")
		if err != nil {
			return nil, fmt.Errorf("faketime requested but not installed: %w", err)
		}
		argv = append([]string{faketimeBin, "-f", opts.Faketime}, argv...)
	}

	cmd := exec.Command(argv[0], argv[1:]...)
	cmd.Dir = dir
	configureProcAttr(cmd)

	capture := newLogCapture()
	cmd.Stdout = capture.stdoutWriter
	cmd.Stderr = capture.stderrWriter

	if err := cmd.Start(); err != nil {
		capture.close()
		return nil, err
	}

	proc := &managedProcess{
		cmd:        cmd,
		logCapture: capture,
		done:       make(chan struct{}),
	}
	go func() {
		proc.waitErr = cmd.Wait()
		close(proc.done)
	}()

	return proc, nil
}

// WaitForReady polls the plaintext listener with a bounded retry loop. It
// succeeds as soon as one probe connection is accepted, fails with
// ErrProcessExited if the child terminates first, and with
// ErrStartupTimeout when the bound elapses. The probe connection is closed
// immediately; it is never used for protocol traffic.
func (m *Manager) WaitForReady(ctx context.Context, instance *Instance) error {
	m.mu.RLock()
	proc := m.processes[instance.ID]
	m.mu.RUnlock()
	if proc == nil {
		return fmt.Errorf("unknown instance %s", instance.ID)
	}

	readyCtx, cancel := context.WithTimeout(ctx, readyTimeout)
	defer cancel()

	ticker := time.NewTicker(readyPollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-proc.done:
			logs := ""
			if proc.logCapture != nil {
				proc.logCapture.close()
				instance.Logs = proc.logCapture.getLogs()
				logs = instance.Logs.Combined
			}
			return fmt.Errorf("%w: %v\n%s", ErrProcessExited, proc.waitErr, logs)
		case <-readyCtx.Done():
			return fmt.Errorf("%w (address %s)", ErrStartupTimeout, instance.Addr)
		case <-ticker.C:
			conn, err := net.DialTimeout("tcp", instance.Addr, time.Second)
			if err == nil {
				conn.Close()
				logging.Debug("Controller", "instance %s ready on %s", instance.ID, instance.Addr)
				return nil
			}
		}
	}
}

// DestroyInstance stops the server and cleans up its working directory.
// Stopping an already-destroyed instance is a no-op. Graceful termination
// is attempted first; the entire process group is force-killed after the
// shutdown bound.
func (m *Manager) DestroyInstance(ctx context.Context, instance *Instance) error {
	m.mu.Lock()
	proc, exists := m.processes[instance.ID]
	delete(m.processes, instance.ID)
	m.mu.Unlock()

	if exists && proc != nil {
		m.shutdownProcess(proc, instance.ID)
		if proc.logCapture != nil {
			proc.logCapture.close()
			instance.Logs = proc.logCapture.getLogs()
		}
	}

	m.releasePorts(instance.ID)

	if m.keepTempDir {
		logging.Debug("Controller", "keeping instance directory %s", instance.Dir)
		return nil
	}
	if err := os.RemoveAll(instance.Dir); err != nil {
		return fmt.Errorf("failed to remove instance directory: %w", err)
	}
	return nil
}

// shutdownProcess terminates the process group: SIGTERM, bounded wait,
// SIGKILL fallback. The reaper goroutine spawned at start performs the
// actual wait, so the child is always reaped exactly once.
func (m *Manager) shutdownProcess(proc *managedProcess, instanceID string) {
	if proc.cmd == nil || proc.cmd.Process == nil {
		return
	}
	pid := proc.cmd.Process.Pid

	if !proc.exited() {
		if err := killProcessGroup(pid, syscall.SIGTERM); err != nil {
			logging.Debug("Controller", "SIGTERM of %s failed: %v", instanceID, err)
		}
	}

	select {
	case <-proc.done:
		logging.Debug("Controller", "instance %s exited: %v", instanceID, proc.waitErr)
	case <-time.After(shutdownTimeout):
		logging.Warn("Controller", "instance %s did not exit in %v, killing process group", instanceID, shutdownTimeout)
		if err := killProcessGroup(pid, syscall.SIGKILL); err != nil {
			logging.Error("Controller", err, "failed to kill process group for %s", instanceID)
		}
		<-proc.done
	}
}

// Kill terminates the instance's process abruptly, without the graceful
// path. Tests use it to simulate a crash of the system under test; the
// working directory and port reservations survive until DestroyInstance.
func (m *Manager) Kill(instance *Instance) error {
	m.mu.RLock()
	proc := m.processes[instance.ID]
	m.mu.RUnlock()
	if proc == nil || proc.exited() {
		return nil
	}
	return killProcessGroup(proc.cmd.Process.Pid, syscall.SIGKILL)
}

// Close destroys every remaining instance and removes the manager's temp
// root. It is called once at the end of a run.
func (m *Manager) Close(ctx context.Context) error {
	m.mu.Lock()
	ids := make([]string, 0, len(m.processes))
	for id := range m.processes {
		ids = append(ids, id)
	}
	m.mu.Unlock()

	for _, id := range ids {
		// Reconstruct the minimal instance needed for teardown.
		m.DestroyInstance(ctx, &Instance{ID: id, Dir: filepath.Join(m.tempDir, id)})
	}

	if m.keepTempDir {
		return nil
	}
	return os.RemoveAll(m.tempDir)
}

// reservePorts atomically reserves the plaintext port, plus the adjacent
// TLS port when requested. The probe listener guards against clashing with
// unrelated processes; the reservation map guards against clashing with
// concurrent scenarios of this run.
func (m *Manager) reservePorts(instanceID string, withTLS bool) (port, tlsPort int, err error) {
	m.portMu.Lock()
	defer m.portMu.Unlock()

	const maxAttempts = 200
	for attempt := 0; attempt < maxAttempts; attempt++ {
		candidate := m.basePort + m.portOffset
		m.portOffset++
		if withTLS {
			// The generated config puts the TLS listener on the
			// next port, so both must be free.
			m.portOffset++
		}

		if m.reservedPorts[candidate] != "" || (withTLS && m.reservedPorts[candidate+1] != "") {
			continue
		}
		if !portFree(candidate) || (withTLS && !portFree(candidate+1)) {
			continue
		}

		m.reservedPorts[candidate] = instanceID
		if withTLS {
			m.reservedPorts[candidate+1] = instanceID
			return candidate, candidate + 1, nil
		}
		return candidate, 0, nil
	}
	return 0, 0, fmt.Errorf("no free port found after %d attempts from base %d", maxAttempts, m.basePort)
}

func (m *Manager) releasePorts(instanceID string) {
	m.portMu.Lock()
	defer m.portMu.Unlock()
	for port, owner := range m.reservedPorts {
		if owner == instanceID {
			delete(m.reservedPorts, port)
		}
	}
}

func portFree(port int) bool {
	listener, err := net.Listen("tcp", fmt.Sprintf("127.0.0.1:%d", port))
	if err != nil {
		return false
	}
	listener.Close()
	return true
}

func sanitizeName(name string) string {
	out := make([]rune, 0, len(name))
	for _, r := range name {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '-', r == '_':
			out = append(out, r)
		default:
			out = append(out, '-')
		}
	}
	if len(out) == 0 {
		return "instance"
	}
	return string(out)
}
