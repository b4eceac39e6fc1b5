package harness

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/sid3xyz/irctest/internal/client"
	"github.com/sid3xyz/irctest/internal/controller"
	"github.com/sid3xyz/irctest/internal/pattern"
)

const (
	dialTimeout       = 5 * time.Second
	registerTimeout   = 10 * time.Second
	burstDrainGrace   = 250 * time.Millisecond
	defaultSilence    = 500 * time.Millisecond
	teardownTimeout   = 30 * time.Second
	welcomeNumeric    = "001"
	errNicknameInUse  = "433"
	errErroneusNick   = "432"
	errPasswdMismatch = "464"
)

// InstanceManager abstracts the process controller so the runner can be
// tested against servers it did not spawn.
type InstanceManager interface {
	CreateInstance(ctx context.Context, scenarioName string, opts controller.Options) (*controller.Instance, error)
	WaitForReady(ctx context.Context, instance *controller.Instance) error
	DestroyInstance(ctx context.Context, instance *controller.Instance) error
}

// Runner executes scenarios against freshly spawned server instances.
type Runner struct {
	manager  InstanceManager
	loader   *scenarioLoader
	reporter Reporter
	debug    bool
	logger   Logger
}

// NewRunner creates a new scenario runner
func NewRunner(manager InstanceManager, loader *scenarioLoader, reporter Reporter, debug bool) *Runner {
	return &Runner{
		manager:  manager,
		loader:   loader,
		reporter: reporter,
		debug:    debug,
		logger:   NewStdoutLogger(false, debug),
	}
}

// NewRunnerWithLogger creates a new scenario runner with custom logger
func NewRunnerWithLogger(manager InstanceManager, loader *scenarioLoader, reporter Reporter, debug bool, logger Logger) *Runner {
	return &Runner{
		manager:  manager,
		loader:   loader,
		reporter: reporter,
		debug:    debug,
		logger:   logger,
	}
}

// Run executes scenarios according to the configuration
func (r *Runner) Run(ctx context.Context, config Config, scenarios []Scenario) (*SuiteResult, error) {
	result := &SuiteResult{
		StartTime:       time.Now(),
		TotalScenarios:  len(scenarios),
		ScenarioResults: make([]ScenarioResult, 0, len(scenarios)),
		Config:          config,
	}

	r.reporter.ReportStart(config)

	filtered := r.loader.FilterScenarios(scenarios, config)
	result.TotalScenarios = len(filtered)

	if len(filtered) == 0 {
		r.reporter.ReportSuiteResult(*result)
		return result, nil
	}

	if config.Parallel <= 1 {
		r.reporter.SetParallelMode(false)
		for _, scenario := range filtered {
			scenarioResult := r.runScenario(ctx, scenario, config)
			result.ScenarioResults = append(result.ScenarioResults, scenarioResult)

			r.updateCounters(result, scenarioResult)
			r.reporter.ReportScenarioResult(scenarioResult)

			if config.FailFast && scenarioResult.Result != ResultPassed {
				break
			}
		}
	} else {
		r.reporter.SetParallelMode(true)
		result.ScenarioResults = r.runScenariosParallel(ctx, filtered, config, result)
	}

	result.EndTime = time.Now()
	result.Duration = result.EndTime.Sub(result.StartTime)

	r.reporter.ReportSuiteResult(*result)

	return result, nil
}

// runScenariosParallel executes scenarios with a worker pool. Each worker
// spawns its own server instance per scenario.
func (r *Runner) runScenariosParallel(ctx context.Context, scenarios []Scenario, config Config, suiteResult *SuiteResult) []ScenarioResult {
	scenarioChan := make(chan Scenario, len(scenarios))
	resultChan := make(chan ScenarioResult, len(scenarios))

	for _, scenario := range scenarios {
		scenarioChan <- scenario
	}
	close(scenarioChan)

	var wg sync.WaitGroup
	numWorkers := config.Parallel
	if numWorkers > len(scenarios) {
		numWorkers = len(scenarios)
	}

	for i := 0; i < numWorkers; i++ {
		wg.Add(1)
		go func(workerID int) {
			defer wg.Done()

			for scenario := range scenarioChan {
				if r.debug {
					r.logger.Debug("🔄 Worker %d executing scenario: %s\n", workerID, scenario.Name)
				}

				resultChan <- r.runScenario(ctx, scenario, config)
			}
		}(i)
	}

	go func() {
		wg.Wait()
		close(resultChan)
	}()

	var results []ScenarioResult
	for result := range resultChan {
		results = append(results, result)

		r.updateCounters(suiteResult, result)
		r.reporter.ReportScenarioResult(result)

		// Fail-fast breaks out of collection; workers still drain the
		// scenario channel without deadlocking.
		if config.FailFast && result.Result != ResultPassed {
			if r.debug {
				r.logger.Debug("🛑 Fail-fast triggered by scenario: %s\n", result.Name)
			}
			break
		}
	}

	if len(results) < len(scenarios) {
		for result := range resultChan {
			results = append(results, result)
		}
	}

	return results
}

// runScenario executes a single scenario against its own server instance.
func (r *Runner) runScenario(ctx context.Context, scenario Scenario, config Config) (scenarioResult ScenarioResult) {
	result := ScenarioResult{
		Scenario:    scenario,
		Name:        scenario.Name,
		StartTime:   time.Now(),
		StepResults: make([]StepResult, 0, len(scenario.Steps)),
		Result:      ResultPassed,
	}

	r.reporter.ReportScenarioStart(scenario)

	scenarioCtx := ctx
	timeout := time.Duration(scenario.Timeout)
	if timeout == 0 {
		timeout = config.Timeout
	}
	if timeout > 0 {
		var cancel context.CancelFunc
		scenarioCtx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	if r.debug {
		r.logger.Debug("🏗️  Creating server instance for scenario: %s\n", scenario.Name)
	}

	instance, err := r.manager.CreateInstance(scenarioCtx, scenario.Name, scenario.Server.ControllerOptions())
	if err != nil {
		return r.finishScenario(result, ResultError, fmt.Sprintf("failed to create server instance: %v", err))
	}

	if r.debug {
		r.logger.Debug("✅ Created server instance %s (%s)\n", instance.ID, instance.Addr)
	}

	defer func() {
		cleanupCtx, cancel := context.WithTimeout(context.Background(), teardownTimeout)
		defer cancel()

		if err := r.manager.DestroyInstance(cleanupCtx, instance); err != nil {
			if r.debug {
				r.logger.Debug("⚠️  Failed to destroy server instance %s: %v\n", instance.ID, err)
			}
		}
		// Captured output only becomes available once the process is down.
		scenarioResult.ServerLogs = instance.Logs
	}()

	if err := r.manager.WaitForReady(scenarioCtx, instance); err != nil {
		return r.finishScenario(result, ResultError, fmt.Sprintf("server instance not ready: %v", err))
	}

	state := newScenarioState(instance, config, r.logger, r.debug)
	defer state.closeAll()

	for _, step := range scenario.Steps {
		stepResult := r.runStep(scenarioCtx, step, state)
		result.StepResults = append(result.StepResults, stepResult)

		r.reporter.ReportStepResult(stepResult)

		if stepResult.Result != ResultPassed {
			result.Result = stepResult.Result
			result.Error = stepResult.Error
			break
		}
	}

	return r.finishScenario(result, result.Result, result.Error)
}

func (r *Runner) finishScenario(result ScenarioResult, outcome Result, errMsg string) ScenarioResult {
	result.Result = outcome
	result.Error = errMsg
	result.Duration = time.Since(result.StartTime)
	return result
}

// runStep executes a single step against the scenario state.
func (r *Runner) runStep(ctx context.Context, step Step, state *scenarioState) StepResult {
	result := StepResult{
		Name:   stepName(step),
		Result: ResultPassed,
	}
	start := time.Now()

	var err error
	switch {
	case step.Connect != nil:
		err = state.connect(ctx, step.Connect)
	case step.Send != nil:
		err = state.send(step.Send)
	case step.Expect != nil:
		err = state.expect(step.Expect)
	case step.ExpectSilence != nil:
		err = state.expectSilence(step.ExpectSilence)
	case step.AssertEqual != nil:
		err = state.assertEqual(step.AssertEqual)
	case step.Disconnect != nil:
		err = state.disconnect(step.Disconnect)
	default:
		err = errors.New("step has no action")
	}

	result.Duration = time.Since(start)
	if err != nil {
		result.Error = err.Error()
		var failure *stepFailure
		if errors.As(err, &failure) {
			result.Result = ResultFailed
		} else {
			result.Result = ResultError
		}
	}

	return result
}

func (r *Runner) updateCounters(suite *SuiteResult, result ScenarioResult) {
	switch result.Result {
	case ResultPassed:
		suite.Passed++
	case ResultFailed:
		suite.Failed++
	case ResultSkipped:
		suite.Skipped++
	case ResultError:
		suite.Errors++
	}
}

// stepFailure marks an unmet expectation, as opposed to a harness error.
type stepFailure struct {
	msg string
}

func (f *stepFailure) Error() string { return f.msg }

func failf(format string, args ...interface{}) error {
	return &stepFailure{msg: fmt.Sprintf(format, args...)}
}

// scenarioState tracks the open connections and captured variables of one
// running scenario.
type scenarioState struct {
	instance *controller.Instance
	config   Config
	logger   Logger
	debug    bool

	conns map[string]*client.Conn
	vars  *scenarioContext
}

func newScenarioState(instance *controller.Instance, config Config, logger Logger, debug bool) *scenarioState {
	return &scenarioState{
		instance: instance,
		config:   config,
		logger:   logger,
		debug:    debug,
		conns:    make(map[string]*client.Conn),
		vars:     newScenarioContext(),
	}
}

func (s *scenarioState) closeAll() {
	for id, conn := range s.conns {
		conn.Close()
		delete(s.conns, id)
	}
}

func (s *scenarioState) conn(id string) (*client.Conn, error) {
	conn, ok := s.conns[id]
	if !ok {
		return nil, fmt.Errorf("connection %q is not open", id)
	}
	return conn, nil
}

func (s *scenarioState) receiveTimeout() time.Duration {
	if s.config.ReceiveTimeout > 0 {
		return s.config.ReceiveTimeout
	}
	return DefaultConfig().ReceiveTimeout
}

// connect dials the instance and optionally registers a client. The
// welcome burst after 001 is drained so later expectations see a quiet
// connection.
func (s *scenarioState) connect(ctx context.Context, step *ConnectStep) error {
	if _, exists := s.conns[step.ID]; exists {
		return fmt.Errorf("connection %q already open", step.ID)
	}

	var conn *client.Conn
	var err error
	if step.TLS {
		if s.instance.TLSAddr == "" {
			return fmt.Errorf("scenario server has no TLS listener")
		}
		// The instance certificate is self-signed per scenario.
		conn, err = client.DialTLS(s.instance.TLSAddr, &tls.Config{InsecureSkipVerify: true}, dialTimeout)
	} else {
		conn, err = client.Dial(s.instance.Addr, dialTimeout)
	}
	if err != nil {
		return fmt.Errorf("failed to connect %q: %w", step.ID, err)
	}
	s.conns[step.ID] = conn

	if s.debug {
		s.logger.Debug("🔗 Connection %q open to %s\n", step.ID, s.instance.Addr)
	}

	if step.Nick == "" {
		return nil
	}
	if err := s.register(ctx, conn, step.Nick); err != nil {
		return fmt.Errorf("failed to register %q: %w", step.ID, err)
	}
	return nil
}

// register performs NICK/USER and waits for the welcome numeric,
// answering PING challenges along the way.
func (s *scenarioState) register(ctx context.Context, conn *client.Conn, nick string) error {
	if err := conn.SendLine("NICK " + nick); err != nil {
		return err
	}
	if err := conn.SendLine(fmt.Sprintf("USER %s 0 * :%s", nick, nick)); err != nil {
		return err
	}

	deadline := time.Now().Add(registerTimeout)
	for {
		if err := ctx.Err(); err != nil {
			return err
		}
		remaining := time.Until(deadline)
		if remaining <= 0 {
			return fmt.Errorf("no welcome after %s", registerTimeout)
		}

		msg, err := conn.ReadMessage(remaining)
		if err != nil {
			return err
		}

		switch msg.Command {
		case welcomeNumeric:
			conn.Drain(burstDrainGrace)
			return nil
		case "PING":
			token := ""
			if len(msg.Params) > 0 {
				token = msg.Params[0]
			}
			if err := conn.SendLine("PONG :" + token); err != nil {
				return err
			}
		case errNicknameInUse, errErroneusNick, errPasswdMismatch, "ERROR":
			return fmt.Errorf("registration rejected: %s", msg.Line())
		}
	}
}

func (s *scenarioState) send(step *SendStep) error {
	conn, err := s.conn(step.Conn)
	if err != nil {
		return err
	}

	line, err := s.vars.Expand(step.Line)
	if err != nil {
		return err
	}

	if s.debug {
		s.logger.Debug("➡️  [%s] %s\n", step.Conn, line)
	}
	return conn.SendLine(line)
}

func (s *scenarioState) expect(step *ExpectStep) error {
	conn, err := s.conn(step.Conn)
	if err != nil {
		return err
	}

	timeout := time.Duration(step.Timeout)
	if timeout == 0 {
		timeout = s.receiveTimeout()
	}

	msg, err := conn.ReadMessage(timeout)
	if errors.Is(err, client.ErrTimeout) {
		return failf("no message received within %s", timeout)
	}
	if errors.Is(err, client.ErrClosed) {
		return failf("connection closed while expecting a message")
	}
	if err != nil {
		return err
	}

	if s.debug {
		s.logger.Debug("⬅️  [%s] %s\n", step.Conn, msg.Line())
	}

	var res *pattern.MatchResult
	if step.Pattern != nil {
		res = pattern.Match(step.Pattern, msg)
	} else {
		res = pattern.MatchAny(step.AnyOf, msg)
	}
	if !res.OK {
		return failf("message %q did not match: %s", msg.Line(), res.Summary())
	}

	for name, field := range step.Capture {
		value, err := messageField(msg.Prefix, msg.Command, msg.Params, field)
		if err != nil {
			return failf("cannot capture %q: %v", name, err)
		}
		s.vars.Set(name, value)
	}
	return nil
}

func (s *scenarioState) expectSilence(step *SilenceStep) error {
	conn, err := s.conn(step.Conn)
	if err != nil {
		return err
	}

	grace := time.Duration(step.Grace)
	if grace == 0 {
		grace = defaultSilence
	}

	msg, err := conn.ReadMessage(grace)
	if err == nil {
		return failf("expected silence but received %q", msg.Line())
	}
	if errors.Is(err, client.ErrTimeout) || errors.Is(err, client.ErrClosed) {
		return nil
	}
	return err
}

func (s *scenarioState) assertEqual(step *AssertEqualStep) error {
	left, err := s.vars.Expand(step.Left)
	if err != nil {
		return err
	}
	right, err := s.vars.Expand(step.Right)
	if err != nil {
		return err
	}
	if left != right {
		return failf("assert_equal: %q != %q", left, right)
	}
	return nil
}

func (s *scenarioState) disconnect(step *DisconnectStep) error {
	conn, err := s.conn(step.Conn)
	if err != nil {
		return err
	}
	delete(s.conns, step.Conn)
	return conn.Close()
}

// messageField resolves a capture field name (prefix, command, paramN)
// against a received message.
func messageField(prefix, command string, params []string, field string) (string, error) {
	switch field {
	case "prefix":
		return prefix, nil
	case "command":
		return command, nil
	}
	if rest, ok := strings.CutPrefix(field, "param"); ok {
		idx, err := strconv.Atoi(rest)
		if err != nil || idx < 0 {
			return "", fmt.Errorf("unknown field %q", field)
		}
		if idx >= len(params) {
			return "", fmt.Errorf("message has %d params, field %q out of range", len(params), field)
		}
		return params[idx], nil
	}
	return "", fmt.Errorf("unknown field %q", field)
}

func stepName(step Step) string {
	if step.Name != "" {
		return step.Name
	}
	switch {
	case step.Connect != nil:
		return "connect " + step.Connect.ID
	case step.Send != nil:
		return "send"
	case step.Expect != nil:
		return "expect"
	case step.ExpectSilence != nil:
		return "expect_silence"
	case step.AssertEqual != nil:
		return "assert_equal"
	case step.Disconnect != nil:
		return "disconnect " + step.Disconnect.Conn
	}
	return "unknown"
}
