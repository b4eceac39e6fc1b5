package harness

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/jedib0t/go-pretty/v6/text"
)

// Reporter receives progress and results while a suite runs.
type Reporter interface {
	ReportStart(config Config)
	ReportScenarioStart(scenario Scenario)
	ReportStepResult(stepResult StepResult)
	ReportScenarioResult(scenarioResult ScenarioResult)
	ReportSuiteResult(suiteResult SuiteResult)
	SetParallelMode(parallel bool)
}

// cliReporter writes human-readable progress to stdout
type cliReporter struct {
	verbose      bool
	debug        bool
	reportPath   string
	parallelMode bool
	// Buffers scenario start lines so parallel workers do not interleave
	// partial output.
	scenarioBuffers map[string]string
	bufferMutex     sync.RWMutex
}

// NewCLIReporter creates a new CLI reporter
func NewCLIReporter(verbose, debug bool, reportPath string) Reporter {
	return &cliReporter{
		verbose:         verbose,
		debug:           debug,
		reportPath:      reportPath,
		scenarioBuffers: make(map[string]string),
	}
}

// SetParallelMode enables or disables parallel output buffering
func (r *cliReporter) SetParallelMode(parallel bool) {
	r.bufferMutex.Lock()
	defer r.bufferMutex.Unlock()

	r.parallelMode = parallel
	if parallel {
		r.scenarioBuffers = make(map[string]string)
	}
}

// ReportStart is called when suite execution begins
func (r *cliReporter) ReportStart(config Config) {
	fmt.Printf("🧪 Starting protocol conformance suite\n")
	fmt.Printf("🏗️  Server under test: %s (base port: %d)\n", config.ServerBin, config.BasePort)

	if r.verbose {
		fmt.Printf("\n⚙️  Configuration:\n")
		fmt.Printf("   • Spec: %s\n", stringOrDefault(config.Spec, "all"))
		fmt.Printf("   • Scenario: %s\n", stringOrDefault(config.Scenario, "all"))
		fmt.Printf("   • Parallel workers: %d\n", config.Parallel)
		fmt.Printf("   • Fail fast: %t\n", config.FailFast)
		fmt.Printf("   • Timeout: %v\n", config.Timeout)
		fmt.Printf("   • Receive timeout: %v\n", config.ReceiveTimeout)
		if config.ScenarioPath != "" {
			fmt.Printf("   • Scenario path: %s\n", config.ScenarioPath)
		}
		if config.ReportPath != "" {
			fmt.Printf("   • Report path: %s\n", config.ReportPath)
		}
		fmt.Printf("\n")
	}
}

// ReportScenarioStart is called when a scenario begins
func (r *cliReporter) ReportScenarioStart(scenario Scenario) {
	if r.verbose {
		fmt.Printf("🎯 Starting scenario: %s\n", scenario.Name)
		if scenario.Description != "" {
			fmt.Printf("   📝 Description: %s\n", scenario.Description)
		}
		if len(scenario.Specs) > 0 {
			fmt.Printf("   🏷️  Specs: %s\n", strings.Join(scenario.Specs, ", "))
		}
		fmt.Printf("   📋 Steps: %d\n", len(scenario.Steps))
		if scenario.Server.TLS {
			fmt.Printf("   🔒 TLS listener enabled\n")
		}
		if scenario.Server.Faketime != "" {
			fmt.Printf("   🕰️  Faketime: %s\n", scenario.Server.Faketime)
		}
		fmt.Printf("\n")
	} else {
		if r.parallelMode {
			r.bufferMutex.Lock()
			r.scenarioBuffers[scenario.Name] = fmt.Sprintf("🎯 %s... ", scenario.Name)
			r.bufferMutex.Unlock()
		} else {
			fmt.Printf("🎯 %s... ", scenario.Name)
		}
	}
}

// ReportStepResult is called when a step completes
func (r *cliReporter) ReportStepResult(stepResult StepResult) {
	if !r.verbose {
		return
	}

	fmt.Printf("   %s %s (%v)\n", resultSymbol(stepResult.Result), stepResult.Name, stepResult.Duration)
	if stepResult.Error != "" {
		fmt.Printf("      ❌ %s\n", stepResult.Error)
	}
}

// ReportScenarioResult is called when a scenario completes
func (r *cliReporter) ReportScenarioResult(scenarioResult ScenarioResult) {
	symbol := resultSymbol(scenarioResult.Result)

	if r.verbose {
		fmt.Printf("%s Scenario completed: %s (%v)\n", symbol, scenarioResult.Name, scenarioResult.Duration)

		if scenarioResult.Error != "" {
			fmt.Printf("   ❌ %s\n", scenarioResult.Error)
		}

		failed := scenarioResult.Result == ResultFailed || scenarioResult.Result == ResultError
		if scenarioResult.ServerLogs != nil && (r.debug || failed) {
			fmt.Printf("   📄 Server logs:\n")
			if scenarioResult.ServerLogs.Stdout != "" {
				fmt.Printf("   📤 STDOUT:\n%s\n", indentText(trimLogs(scenarioResult.ServerLogs.Stdout, 1000), "      "))
			}
			if scenarioResult.ServerLogs.Stderr != "" {
				fmt.Printf("   📥 STDERR:\n%s\n", indentText(trimLogs(scenarioResult.ServerLogs.Stderr, 1000), "      "))
			}
		}

		fmt.Printf("\n")
	} else {
		if r.parallelMode {
			r.bufferMutex.Lock()
			bufferedStart, exists := r.scenarioBuffers[scenarioResult.Name]
			if exists {
				delete(r.scenarioBuffers, scenarioResult.Name)
			}
			r.bufferMutex.Unlock()

			if exists {
				fmt.Printf("%s%s (%v)\n", bufferedStart, symbol, scenarioResult.Duration)
			} else {
				fmt.Printf("🎯 %s... %s (%v)\n", scenarioResult.Name, symbol, scenarioResult.Duration)
			}
		} else {
			fmt.Printf("%s (%v)\n", symbol, scenarioResult.Duration)
		}
		if scenarioResult.Error != "" {
			fmt.Printf("   ❌ %s\n", scenarioResult.Error)
		}
	}
}

// ReportSuiteResult is called when all scenarios complete
func (r *cliReporter) ReportSuiteResult(suiteResult SuiteResult) {
	fmt.Printf("\n🏁 Suite Complete\n")

	t := table.NewWriter()
	t.SetOutputMirror(os.Stdout)
	t.SetStyle(table.StyleLight)
	t.AppendHeader(table.Row{"Scenario", "Result", "Duration", "Error"})
	for _, sr := range suiteResult.ScenarioResults {
		errMsg := text.WrapSoft(sr.Error, 60)
		t.AppendRow(table.Row{sr.Name, fmt.Sprintf("%s %s", resultSymbol(sr.Result), sr.Result), sr.Duration.Round(time.Millisecond), errMsg})
	}
	t.AppendFooter(table.Row{"Total", fmt.Sprintf("%d passed, %d failed, %d errors, %d skipped",
		suiteResult.Passed, suiteResult.Failed, suiteResult.Errors, suiteResult.Skipped),
		suiteResult.Duration.Round(time.Millisecond), ""})
	t.Render()

	successRate := 0.0
	if suiteResult.TotalScenarios > 0 {
		successRate = float64(suiteResult.Passed) / float64(suiteResult.TotalScenarios) * 100
	}
	fmt.Printf("📏 Success Rate: %.1f%%\n", successRate)

	if suiteResult.Failed == 0 && suiteResult.Errors == 0 {
		fmt.Printf("\n🎉 All scenarios passed!\n")
	} else {
		fmt.Printf("\n💔 Some scenarios failed\n")
	}

	if r.reportPath != "" {
		if err := saveReport(r.reportPath, suiteResult); err != nil {
			fmt.Printf("⚠️  Failed to save report: %v\n", err)
		} else {
			fmt.Printf("📄 Report saved to: %s\n", r.reportPath)
		}
	}
}

// saveReport writes the JSON suite report. A directory path gets a
// timestamped file inside it; anything else is treated as the file name.
func saveReport(path string, suiteResult SuiteResult) error {
	target := path
	if info, err := os.Stat(path); (err == nil && info.IsDir()) || strings.HasSuffix(path, string(os.PathSeparator)) {
		if err := os.MkdirAll(path, 0755); err != nil {
			return fmt.Errorf("failed to create report directory: %w", err)
		}
		timestamp := time.Now().Format("20060102-150405")
		target = filepath.Join(path, fmt.Sprintf("irctest-report-%s.json", timestamp))
	} else if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return fmt.Errorf("failed to create report directory: %w", err)
		}
	}

	jsonData, err := json.MarshalIndent(suiteResult, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal report to JSON: %w", err)
	}

	if err := os.WriteFile(target, jsonData, 0644); err != nil {
		return fmt.Errorf("failed to write report file: %w", err)
	}

	return nil
}

// resultSymbol returns an appropriate symbol for the result
func resultSymbol(result Result) string {
	switch result {
	case ResultPassed:
		return "✅"
	case ResultFailed:
		return "❌"
	case ResultSkipped:
		return "⏭️"
	case ResultError:
		return "💥"
	default:
		return "❓"
	}
}

// trimLogs trims logs to a reasonable length for display
func trimLogs(logs string, maxChars int) string {
	if len(logs) <= maxChars {
		return logs
	}

	truncated := logs[:maxChars]
	lastNewline := strings.LastIndex(truncated, "\n")
	if lastNewline > maxChars/2 {
		truncated = logs[:lastNewline]
	}

	return truncated + "\n... (truncated, see full report for complete logs)"
}

// indentText adds indentation to each line of text
func indentText(s string, indent string) string {
	if s == "" {
		return ""
	}
	lines := strings.Split(s, "\n")
	var indented []string
	for _, line := range lines {
		indented = append(indented, indent+line)
	}
	return strings.Join(indented, "\n")
}

func stringOrDefault(s, defaultValue string) string {
	if s == "" {
		return defaultValue
	}
	return s
}

// NewQuietReporter creates a reporter that only outputs essential
// information, for CI use
func NewQuietReporter(reportPath string) Reporter {
	return &quietReporter{reportPath: reportPath}
}

type quietReporter struct {
	reportPath string
}

func (r *quietReporter) ReportStart(config Config) {
}

func (r *quietReporter) ReportScenarioStart(scenario Scenario) {
}

func (r *quietReporter) ReportStepResult(stepResult StepResult) {
}

func (r *quietReporter) ReportScenarioResult(scenarioResult ScenarioResult) {
	if scenarioResult.Result == ResultFailed || scenarioResult.Result == ResultError {
		fmt.Printf("%s %s: %s\n", resultSymbol(scenarioResult.Result), scenarioResult.Name, scenarioResult.Error)
	}
}

func (r *quietReporter) ReportSuiteResult(suiteResult SuiteResult) {
	if suiteResult.Failed == 0 && suiteResult.Errors == 0 {
		fmt.Printf("✅ All %d scenarios passed (%v)\n", suiteResult.TotalScenarios, suiteResult.Duration)
	} else {
		fmt.Printf("❌ %d/%d scenarios failed (%v)\n",
			suiteResult.Failed+suiteResult.Errors,
			suiteResult.TotalScenarios,
			suiteResult.Duration)
	}

	if r.reportPath != "" {
		if err := saveReport(r.reportPath, suiteResult); err != nil {
			fmt.Printf("⚠️  Failed to save report: %v\n", err)
		}
	}
}

func (r *quietReporter) SetParallelMode(parallel bool) {
}

// NewSilentReporter creates a reporter that discards all output, for
// embedding the runner in tests
func NewSilentReporter() Reporter {
	return &silentReporter{}
}

type silentReporter struct{}

func (r *silentReporter) ReportStart(config Config)                    {}
func (r *silentReporter) ReportScenarioStart(scenario Scenario)        {}
func (r *silentReporter) ReportStepResult(stepResult StepResult)       {}
func (r *silentReporter) ReportScenarioResult(scenario ScenarioResult) {}
func (r *silentReporter) ReportSuiteResult(suiteResult SuiteResult)    {}
func (r *silentReporter) SetParallelMode(parallel bool)                {}
