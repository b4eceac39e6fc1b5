//go:build !windows

package controller

import (
	"errors"
	"os"
	"os/exec"
	"strconv"
	"strings"
	"syscall"

	"github.com/sid3xyz/irctest/pkg/logging"
)

// CleanupStaleInstances kills server processes left behind by previous
// runs. Stale processes are identified by their config path pointing into
// an irctest temp directory.
//
// Called at the start of a run. Best effort: cleanup failures are logged,
// never fatal, since they must not block test execution.
func CleanupStaleInstances() {
	currentPID := os.Getpid()

	cmd := exec.Command("pgrep", "-f", "/tmp/irctest-.*/config.toml")
	output, err := cmd.Output()
	if err != nil {
		// pgrep exits 1 when nothing matched, which is the normal case.
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) && exitErr.ExitCode() == 1 {
			return
		}
		logging.Debug("Controller", "could not check for stale processes: %v", err)
		return
	}

	killed := 0
	for _, line := range strings.Split(strings.TrimSpace(string(output)), "\n") {
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		pid, err := strconv.Atoi(line)
		if err != nil || pid == currentPID {
			continue
		}
		process, err := os.FindProcess(pid)
		if err != nil {
			continue
		}
		if err := process.Signal(syscall.SIGTERM); err != nil {
			continue
		}
		killed++
	}

	if killed > 0 {
		logging.Info("Controller", "cleaned up %d stale test server process(es)", killed)
	}
}
