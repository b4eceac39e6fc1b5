package harness

import (
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"
)

// scenarioLoader reads scenario definitions from YAML files
type scenarioLoader struct {
	debug  bool
	logger Logger
}

// NewScenarioLoader creates a new scenario loader
func NewScenarioLoader(debug bool) *scenarioLoader {
	return &scenarioLoader{
		debug:  debug,
		logger: NewStdoutLogger(false, debug),
	}
}

// NewScenarioLoaderWithLogger creates a new scenario loader with custom logger
func NewScenarioLoaderWithLogger(debug bool, logger Logger) *scenarioLoader {
	return &scenarioLoader{
		debug:  debug,
		logger: logger,
	}
}

// LoadScenarios loads scenarios from the given path, which may be a single
// YAML file or a directory tree of them.
func (l *scenarioLoader) LoadScenarios(configPath string) ([]Scenario, error) {
	var scenarios []Scenario

	if l.debug {
		l.logger.Debug("📁 Loading scenarios from: %s\n", configPath)
	}

	info, err := os.Stat(configPath)
	if os.IsNotExist(err) {
		return nil, fmt.Errorf("scenario path does not exist: %s", configPath)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to stat scenario path: %w", err)
	}

	if info.IsDir() {
		scenarios, err = l.loadScenariosFromDirectory(configPath)
		if err != nil {
			return nil, fmt.Errorf("failed to load scenarios from directory: %w", err)
		}
	} else {
		scenario, err := l.loadScenarioFromFile(configPath)
		if err != nil {
			return nil, fmt.Errorf("failed to load scenario from file: %w", err)
		}
		scenarios = append(scenarios, scenario)
	}

	if l.debug {
		l.logger.Debug("📋 Loaded %d scenarios\n", len(scenarios))
		for _, scenario := range scenarios {
			l.logger.Debug("  • %s (%s) - %d steps\n",
				scenario.Name, strings.Join(scenario.Specs, ","), len(scenario.Steps))
		}
	}

	return scenarios, nil
}

// loadScenariosFromDirectory loads all YAML scenario files from a directory
func (l *scenarioLoader) loadScenariosFromDirectory(dirPath string) ([]Scenario, error) {
	var scenarios []Scenario

	err := filepath.WalkDir(dirPath, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}

		if d.IsDir() {
			return nil
		}

		if !l.isYAMLFile(path) {
			return nil
		}

		if l.debug {
			l.logger.Debug("📄 Loading scenario file: %s\n", path)
		}

		scenario, err := l.loadScenarioFromFile(path)
		if err != nil {
			return fmt.Errorf("failed to load scenario from %s: %w", path, err)
		}

		scenarios = append(scenarios, scenario)
		return nil
	})

	if err != nil {
		return nil, fmt.Errorf("failed to walk directory %s: %w", dirPath, err)
	}

	return scenarios, nil
}

// loadScenarioFromFile loads a single scenario from a YAML file
func (l *scenarioLoader) loadScenarioFromFile(filePath string) (Scenario, error) {
	var scenario Scenario

	content, err := os.ReadFile(filePath)
	if err != nil {
		return scenario, fmt.Errorf("failed to read file %s: %w", filePath, err)
	}

	if err := yaml.Unmarshal(content, &scenario); err != nil {
		return scenario, fmt.Errorf("failed to parse YAML in %s: %w", filePath, err)
	}

	if err := l.validateScenario(scenario); err != nil {
		return scenario, fmt.Errorf("invalid scenario in %s: %w", filePath, err)
	}

	return scenario, nil
}

// validateScenario validates that a scenario has required fields and that
// every step is well formed.
func (l *scenarioLoader) validateScenario(scenario Scenario) error {
	if scenario.Name == "" {
		return fmt.Errorf("scenario name is required")
	}

	if len(scenario.Steps) == 0 {
		return fmt.Errorf("scenario must have at least one step")
	}

	conns := make(map[string]bool)
	for i, step := range scenario.Steps {
		if err := l.validateStep(step, conns); err != nil {
			return fmt.Errorf("step %d: %w", i+1, err)
		}
	}

	return nil
}

// validateStep checks that exactly one action is set and that connection
// references resolve to an earlier connect step.
func (l *scenarioLoader) validateStep(step Step, conns map[string]bool) error {
	actions := 0
	if step.Connect != nil {
		actions++
	}
	if step.Send != nil {
		actions++
	}
	if step.Expect != nil {
		actions++
	}
	if step.ExpectSilence != nil {
		actions++
	}
	if step.AssertEqual != nil {
		actions++
	}
	if step.Disconnect != nil {
		actions++
	}
	if actions == 0 {
		return fmt.Errorf("step has no action")
	}
	if actions > 1 {
		return fmt.Errorf("step has %d actions, exactly one is allowed", actions)
	}

	switch {
	case step.Connect != nil:
		if step.Connect.ID == "" {
			return fmt.Errorf("connect requires an id")
		}
		if conns[step.Connect.ID] {
			return fmt.Errorf("connection %q already exists", step.Connect.ID)
		}
		conns[step.Connect.ID] = true
	case step.Send != nil:
		if step.Send.Line == "" {
			return fmt.Errorf("send requires a line")
		}
		if err := checkConn(conns, step.Send.Conn); err != nil {
			return err
		}
	case step.Expect != nil:
		if step.Expect.Pattern == nil && len(step.Expect.AnyOf) == 0 {
			return fmt.Errorf("expect requires a pattern or any_of alternatives")
		}
		if step.Expect.Pattern != nil && len(step.Expect.AnyOf) > 0 {
			return fmt.Errorf("expect cannot set both pattern and any_of")
		}
		for v, field := range step.Expect.Capture {
			if !validCaptureField(field) {
				return fmt.Errorf("capture %q references unknown field %q", v, field)
			}
		}
		if err := checkConn(conns, step.Expect.Conn); err != nil {
			return err
		}
	case step.ExpectSilence != nil:
		if err := checkConn(conns, step.ExpectSilence.Conn); err != nil {
			return err
		}
	case step.AssertEqual != nil:
		if step.AssertEqual.Left == "" && step.AssertEqual.Right == "" {
			return fmt.Errorf("assert_equal requires left and right operands")
		}
	case step.Disconnect != nil:
		if err := checkConn(conns, step.Disconnect.Conn); err != nil {
			return err
		}
		delete(conns, step.Disconnect.Conn)
	}

	return nil
}

func checkConn(conns map[string]bool, name string) error {
	if name == "" {
		return fmt.Errorf("step requires a conn")
	}
	if !conns[name] {
		return fmt.Errorf("connection %q is not open at this point", name)
	}
	return nil
}

// validCaptureField reports whether a capture target names an addressable
// message field.
func validCaptureField(field string) bool {
	if field == "prefix" || field == "command" {
		return true
	}
	if rest, ok := strings.CutPrefix(field, "param"); ok && rest != "" {
		for _, r := range rest {
			if r < '0' || r > '9' {
				return false
			}
		}
		return true
	}
	return false
}

// FilterScenarios filters scenarios based on the configuration
func (l *scenarioLoader) FilterScenarios(scenarios []Scenario, config Config) []Scenario {
	if l.debug {
		l.logger.Debug("🔍 Filtering scenarios based on configuration\n")
		l.logger.Debug("  • Spec filter: %s\n", config.Spec)
		l.logger.Debug("  • Scenario filter: %s\n", config.Scenario)
	}

	var filtered []Scenario

	for _, scenario := range scenarios {
		if config.Spec != "" && !scenario.HasSpec(config.Spec) {
			continue
		}

		if config.Scenario != "" && scenario.Name != config.Scenario {
			continue
		}

		filtered = append(filtered, scenario)
	}

	if l.debug {
		l.logger.Debug("📊 Filtered to %d scenarios:\n", len(filtered))
		for _, scenario := range filtered {
			l.logger.Debug("  • %s\n", scenario.Name)
		}
	}

	return filtered
}

// isYAMLFile checks if a file has a YAML extension
func (l *scenarioLoader) isYAMLFile(path string) bool {
	ext := strings.ToLower(filepath.Ext(path))
	return ext == ".yaml" || ext == ".yml"
}

// GetAvailableSpecs returns all unique spec tags from scenarios
func (l *scenarioLoader) GetAvailableSpecs(scenarios []Scenario) []string {
	specMap := make(map[string]bool)

	for _, scenario := range scenarios {
		for _, spec := range scenario.Specs {
			specMap[spec] = true
		}
	}

	var specs []string
	for spec := range specMap {
		specs = append(specs, spec)
	}

	return specs
}

// GetScenarioNames returns all scenario names
func (l *scenarioLoader) GetScenarioNames(scenarios []Scenario) []string {
	var names []string
	for _, scenario := range scenarios {
		names = append(names, scenario.Name)
	}
	return names
}

// GetDefaultScenarioPath returns the default path for scenario definitions
func GetDefaultScenarioPath() string {
	return "internal/harness/scenarios"
}

// GetScenarioPath determines the actual scenario path to use, handling
// empty/default cases
func GetScenarioPath(configPath string) string {
	if configPath == "" {
		return GetDefaultScenarioPath()
	}
	return configPath
}

// LoadAndFilterScenarios provides a unified way to load and filter scenarios
func LoadAndFilterScenarios(configPath string, config Config, logger Logger) ([]Scenario, error) {
	actualPath := GetScenarioPath(configPath)

	var loader *scenarioLoader
	if logger != nil {
		loader = NewScenarioLoaderWithLogger(config.Debug, logger)
	} else {
		loader = NewScenarioLoader(config.Debug)
	}

	scenarios, err := loader.LoadScenarios(actualPath)
	if err != nil {
		return nil, fmt.Errorf("failed to load scenarios from %s: %w", actualPath, err)
	}

	return loader.FilterScenarios(scenarios, config), nil
}
