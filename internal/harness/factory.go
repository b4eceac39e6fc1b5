package harness

import (
	"context"
	"fmt"
	"time"

	"github.com/sid3xyz/irctest/internal/controller"
)

// Framework holds all components needed for a suite run
type Framework struct {
	Runner   *Runner
	Loader   *scenarioLoader
	Reporter Reporter
	Manager  *controller.Manager
	Logger   Logger
}

// NewFramework creates a fully configured framework from the suite
// configuration.
func NewFramework(config Config) (*Framework, error) {
	if err := ValidateConfiguration(config); err != nil {
		return nil, err
	}

	logger := NewStdoutLogger(config.Verbose, config.Debug)

	manager, err := controller.NewManager(config.ServerBin, config.BasePort, config.KeepTempConfig)
	if err != nil {
		return nil, fmt.Errorf("failed to create instance manager: %w", err)
	}

	loader := NewScenarioLoaderWithLogger(config.Debug, logger)
	reporter := NewCLIReporter(config.Verbose, config.Debug, config.ReportPath)
	runner := NewRunnerWithLogger(manager, loader, reporter, config.Debug, logger)

	return &Framework{
		Runner:   runner,
		Loader:   loader,
		Reporter: reporter,
		Manager:  manager,
		Logger:   logger,
	}, nil
}

// Cleanup destroys any surviving instances and removes the temp root.
func (f *Framework) Cleanup() error {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	return f.Manager.Close(ctx)
}

// ValidateConfiguration validates a suite configuration
func ValidateConfiguration(config Config) error {
	if config.ServerBin == "" {
		return fmt.Errorf("server binary path is required")
	}

	if config.Timeout <= 0 {
		return fmt.Errorf("timeout must be positive")
	}

	if config.Parallel < 1 {
		return fmt.Errorf("parallel workers must be at least 1")
	}

	if config.BasePort < 1024 || config.BasePort > 65535 {
		return fmt.Errorf("base port must be between 1024 and 65535")
	}

	return nil
}
