package cmd

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/briandowns/spinner"
	"github.com/spf13/cobra"

	"github.com/sid3xyz/irctest/internal/controller"
	"github.com/sid3xyz/irctest/internal/harness"
	"github.com/sid3xyz/irctest/pkg/logging"
)

var (
	runServerBin      string
	runTimeout        time.Duration
	runReceiveTimeout time.Duration
	runVerbose        bool
	runDebug          bool
	runQuiet          bool
	runSpec           string
	runScenario       string
	runScenarioPath   string
	runReportPath     string
	runFailFast       bool
	runParallel       int
	runBasePort       int
	runKeepTempConfig bool
	runWatch          bool
)

// completeSpecFlag provides shell completion for the spec flag
func completeSpecFlag(cmd *cobra.Command, args []string, toComplete string) ([]string, cobra.ShellCompDirective) {
	return []string{"RFC1459", "RFC2812", "IRCv3", "Modern"}, cobra.ShellCompDirectiveDefault
}

// completeScenarioFlag provides shell completion for the scenario flag by
// loading available scenarios
func completeScenarioFlag(cmd *cobra.Command, args []string, toComplete string) ([]string, cobra.ShellCompDirective) {
	loader := harness.NewScenarioLoaderWithLogger(false, harness.NewSilentLogger(false, false))
	scenarios, err := loader.LoadScenarios(harness.GetScenarioPath(runScenarioPath))
	if err != nil {
		return []string{}, cobra.ShellCompDirectiveDefault
	}
	return loader.GetScenarioNames(scenarios), cobra.ShellCompDirectiveDefault
}

// runCmd represents the run command
var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Execute conformance scenarios against a server binary",
	Long: `The run command spawns isolated instances of the server under test
and drives them through YAML scenario definitions.

Each scenario gets a freshly generated configuration, its own ports and,
when required, its own TLS material. Scenarios can run sequentially or
through a pool of parallel workers.

Example usage:
  irctest run --server-bin=./slircd                 # Run all scenarios
  irctest run --server-bin=./slircd --spec=RFC2812  # Filter by spec tag
  irctest run --server-bin=./slircd --scenario=ping-token
  irctest run --server-bin=./slircd --parallel=8 --fail-fast
  irctest run --server-bin=./slircd --watch         # Re-run on scenario edits
  irctest run --server-bin=./slircd --report=reports/

Suite results are reported with a summary table and, with --report, a
JSON report suitable for CI integration.`,
	RunE: runSuite,
}

func init() {
	rootCmd.AddCommand(runCmd)

	runCmd.Flags().StringVar(&runServerBin, "server-bin", "", "Path to the server binary under test (required)")
	_ = runCmd.MarkFlagRequired("server-bin")

	// Execution configuration
	runCmd.Flags().DurationVar(&runTimeout, "timeout", 2*time.Minute, "Per-scenario execution timeout")
	runCmd.Flags().DurationVar(&runReceiveTimeout, "receive-timeout", 5*time.Second, "Default timeout for expect steps")
	runCmd.Flags().IntVar(&runBasePort, "base-port", 18000, "Starting port number for server instances")

	// Output and debugging
	runCmd.Flags().BoolVar(&runVerbose, "verbose", false, "Enable verbose output")
	runCmd.Flags().BoolVar(&runDebug, "debug", false, "Enable debug logging, including raw line traffic")
	runCmd.Flags().BoolVar(&runQuiet, "quiet", false, "Only report failures and the final summary")

	// Selection and filtering
	runCmd.Flags().StringVar(&runSpec, "spec", "", "Run scenarios for a specific spec tag (RFC1459, RFC2812, IRCv3, Modern)")
	runCmd.Flags().StringVar(&runScenario, "scenario", "", "Run a specific scenario by name")

	// Scenario location and reporting
	runCmd.Flags().StringVar(&runScenarioPath, "scenarios", "", "Path to scenario definitions (default: built-in scenarios)")
	runCmd.Flags().StringVar(&runReportPath, "report", "", "Path to save the JSON report (default: stdout only)")

	// Execution control
	runCmd.Flags().BoolVar(&runFailFast, "fail-fast", false, "Stop execution on first failure")
	runCmd.Flags().IntVar(&runParallel, "parallel", 1, "Number of parallel workers (1-50)")
	runCmd.Flags().BoolVar(&runKeepTempConfig, "keep-temp-config", false, "Keep instance working directories after execution for debugging")
	runCmd.Flags().BoolVar(&runWatch, "watch", false, "Watch the scenario directory and re-run on changes")

	_ = runCmd.RegisterFlagCompletionFunc("spec", completeSpecFlag)
	_ = runCmd.RegisterFlagCompletionFunc("scenario", completeScenarioFlag)

	runCmd.MarkFlagsMutuallyExclusive("quiet", "verbose")
	runCmd.MarkFlagsMutuallyExclusive("quiet", "debug")
	runCmd.MarkFlagsMutuallyExclusive("watch", "fail-fast")

	runCmd.PreRunE = func(cmd *cobra.Command, args []string) error {
		if runParallel < 1 || runParallel > 50 {
			return fmt.Errorf("parallel workers must be between 1 and 50, got %d", runParallel)
		}
		return nil
	}
}

func runSuite(cmd *cobra.Command, args []string) error {
	ctx, cancel := context.WithCancel(cmd.Context())
	defer cancel()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	go func() {
		<-sigChan
		fmt.Println("\nReceived interrupt signal, stopping gracefully...")
		cancel()
	}()

	if runDebug {
		logging.Init(logging.LevelDebug, os.Stderr)
	} else {
		logging.Init(logging.LevelWarn, os.Stderr)
	}

	// Earlier runs killed with SIGKILL can leave instances behind.
	controller.CleanupStaleInstances()

	config := harness.Config{
		ServerBin:      runServerBin,
		Timeout:        runTimeout,
		ReceiveTimeout: runReceiveTimeout,
		Spec:           runSpec,
		Scenario:       runScenario,
		Parallel:       runParallel,
		FailFast:       runFailFast,
		Verbose:        runVerbose,
		Debug:          runDebug,
		ScenarioPath:   runScenarioPath,
		ReportPath:     runReportPath,
		BasePort:       runBasePort,
		KeepTempConfig: runKeepTempConfig,
	}

	if _, err := os.Stat(runServerBin); err != nil {
		return fmt.Errorf("server binary not found: %w", err)
	}

	framework, err := harness.NewFramework(config)
	if err != nil {
		return fmt.Errorf("failed to create framework: %w", err)
	}
	defer framework.Cleanup()

	if runQuiet {
		framework.Runner = harness.NewRunnerWithLogger(
			framework.Manager, framework.Loader, harness.NewQuietReporter(runReportPath), false,
			harness.NewSilentLogger(false, false))
	}

	runOnce := func(ctx context.Context) error {
		scenarioPath := harness.GetScenarioPath(runScenarioPath)

		var s *spinner.Spinner
		if !runVerbose && !runDebug && !runQuiet {
			s = spinner.New(spinner.CharSets[14], 100*time.Millisecond)
			s.Suffix = " Loading scenarios..."
			s.Start()
		}

		scenarios, err := framework.Loader.LoadScenarios(scenarioPath)
		if s != nil {
			s.Stop()
		}
		if err != nil {
			return fmt.Errorf("failed to load scenarios: %w", err)
		}

		if len(scenarios) == 0 {
			fmt.Printf("⚠️  No scenarios found in %s\n", scenarioPath)
			fmt.Printf("💡 Scenario files live under internal/harness/scenarios/\n")
			return nil
		}

		result, err := framework.Runner.Run(ctx, config, scenarios)
		if err != nil {
			return fmt.Errorf("suite execution failed: %w", err)
		}

		if !runWatch && (result.Failed > 0 || result.Errors > 0) {
			framework.Cleanup()
			os.Exit(ExitCodeFailures)
		}
		return nil
	}

	if runWatch {
		if err := runOnce(ctx); err != nil {
			return err
		}
		err := harness.Watch(ctx, harness.GetScenarioPath(runScenarioPath),
			harness.NewStdoutLogger(true, runDebug), runOnce)
		if err == context.Canceled {
			return nil
		}
		return err
	}

	return runOnce(ctx)
}
