package harness

import (
	"fmt"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/sid3xyz/irctest/internal/controller"
	"github.com/sid3xyz/irctest/internal/pattern"
)

// Result represents the outcome of executing a scenario or step.
type Result string

const (
	// ResultPassed indicates the scenario passed.
	ResultPassed Result = "PASSED"
	// ResultFailed indicates an expectation was not met.
	ResultFailed Result = "FAILED"
	// ResultSkipped indicates the scenario was filtered out.
	ResultSkipped Result = "SKIPPED"
	// ResultError indicates the harness could not execute the scenario,
	// for example because the server under test never became ready.
	ResultError Result = "ERROR"
)

// Logger provides the test-facing output channel, separate from the
// structured diagnostics in pkg/logging.
type Logger interface {
	// Debug logs debug-level messages (only shown when debug is on).
	Debug(format string, args ...interface{})
	// Info logs info-level messages (shown when verbose or debug is on).
	Info(format string, args ...interface{})
	// Error logs error-level messages (always shown).
	Error(format string, args ...interface{})
	// IsDebugEnabled returns whether debug logging is enabled.
	IsDebugEnabled() bool
	// IsVerboseEnabled returns whether verbose logging is enabled.
	IsVerboseEnabled() bool
}

// Duration is a time.Duration that unmarshals from the YAML form "30s",
// "250ms" and so on, since scenario files express timeouts as strings.
type Duration time.Duration

func (d *Duration) UnmarshalYAML(node *yaml.Node) error {
	parsed, err := time.ParseDuration(node.Value)
	if err != nil {
		return fmt.Errorf("invalid duration %q (line %d): %w", node.Value, node.Line, err)
	}
	*d = Duration(parsed)
	return nil
}

// Config defines the overall suite execution configuration.
type Config struct {
	// ServerBin is the path of the server binary under test.
	ServerBin string `yaml:"server_bin"`
	// Timeout is the per-scenario execution timeout.
	Timeout time.Duration `yaml:"timeout"`
	// Spec filters scenarios by specification tag (RFC1459, RFC2812,
	// IRCv3, Modern). Empty runs all.
	Spec string `yaml:"spec,omitempty"`
	// Scenario filters execution to one named scenario.
	Scenario string `yaml:"scenario,omitempty"`
	// Parallel is the number of parallel scenario workers.
	Parallel int `yaml:"parallel"`
	// FailFast stops execution on the first failure.
	FailFast bool `yaml:"fail_fast"`
	// Verbose enables detailed output.
	Verbose bool `yaml:"verbose"`
	// Debug enables debug logging, including raw line traffic.
	Debug bool `yaml:"debug"`
	// ScenarioPath is the directory holding scenario definitions.
	ScenarioPath string `yaml:"scenario_path,omitempty"`
	// ReportPath is where the JSON suite report is written.
	ReportPath string `yaml:"report_path,omitempty"`
	// BasePort is the first port allocated to server instances.
	BasePort int `yaml:"base_port,omitempty"`
	// ReceiveTimeout bounds each expect step that does not set its own.
	ReceiveTimeout time.Duration `yaml:"receive_timeout,omitempty"`
	// KeepTempConfig keeps instance working directories for debugging.
	KeepTempConfig bool `yaml:"keep_temp_config,omitempty"`
}

// ServerSpec selects how the server instance for a scenario is configured.
type ServerSpec struct {
	// Name overrides the server identity in the generated config.
	Name string `yaml:"name,omitempty"`
	// TLS enables the encrypted listener.
	TLS bool `yaml:"tls,omitempty"`
	// Password requires a connection password.
	Password string `yaml:"password,omitempty"`
	// Faketime runs the server under the given clock offset, e.g. "+5d".
	Faketime string `yaml:"faketime,omitempty"`
	// MOTD overrides the message-of-the-day block.
	MOTD []string `yaml:"motd,omitempty"`
	// AccountRegistrationBeforeConnect and
	// AccountRegistrationEmailRequired toggle credential policy flags.
	AccountRegistrationBeforeConnect bool `yaml:"account_registration_before_connect,omitempty"`
	AccountRegistrationEmailRequired bool `yaml:"account_registration_email_required,omitempty"`
}

// ControllerOptions maps the scenario's server block onto process
// controller options.
func (s ServerSpec) ControllerOptions() controller.Options {
	return controller.Options{
		ServerName:              s.Name,
		TLS:                     s.TLS,
		Password:                s.Password,
		Faketime:                s.Faketime,
		MOTD:                    s.MOTD,
		AccountRegBeforeConnect: s.AccountRegistrationBeforeConnect,
		AccountRegEmailRequired: s.AccountRegistrationEmailRequired,
	}
}

// Scenario defines a single conformance scenario.
type Scenario struct {
	// Name is the unique identifier for the scenario.
	Name string `yaml:"name"`
	// Description provides a human-readable summary.
	Description string `yaml:"description,omitempty"`
	// Specs are the specification tags this scenario certifies against.
	Specs []string `yaml:"specs,omitempty"`
	// Server configures the instance spawned for this scenario.
	Server ServerSpec `yaml:"server,omitempty"`
	// Steps define the execution sequence.
	Steps []Step `yaml:"steps"`
	// Timeout overrides the suite-level scenario timeout.
	Timeout Duration `yaml:"timeout,omitempty"`
}

// HasSpec reports whether the scenario carries the given spec tag.
func (s *Scenario) HasSpec(tag string) bool {
	for _, spec := range s.Specs {
		if spec == tag {
			return true
		}
	}
	return false
}

// Step is one action in a scenario. Exactly one of its fields is set.
type Step struct {
	// Name optionally labels the step in reports.
	Name string `yaml:"name,omitempty"`

	Connect       *ConnectStep     `yaml:"connect,omitempty"`
	Send          *SendStep        `yaml:"send,omitempty"`
	Expect        *ExpectStep      `yaml:"expect,omitempty"`
	ExpectSilence *SilenceStep     `yaml:"expect_silence,omitempty"`
	AssertEqual   *AssertEqualStep `yaml:"assert_equal,omitempty"`
	Disconnect    *DisconnectStep  `yaml:"disconnect,omitempty"`
}

// ConnectStep opens a connection to the server under test.
type ConnectStep struct {
	// ID names the connection for later steps.
	ID string `yaml:"id"`
	// Nick registers the client under this nickname (NICK/USER, then
	// the welcome burst is consumed). Empty leaves the connection raw.
	Nick string `yaml:"nick,omitempty"`
	// TLS connects to the encrypted listener instead of the plaintext
	// one.
	TLS bool `yaml:"tls,omitempty"`
}

// SendStep writes one raw protocol line.
type SendStep struct {
	Conn string `yaml:"conn"`
	// Line is the raw line to send, template-expanded against captured
	// variables.
	Line string `yaml:"line"`
}

// ExpectStep receives one message and matches it against a pattern, or
// against a set of alternatives.
type ExpectStep struct {
	Conn string `yaml:"conn"`
	// Timeout bounds the receive; zero uses the suite default.
	Timeout Duration `yaml:"timeout,omitempty"`
	// Pattern is the expected message shape.
	Pattern *pattern.MessagePattern `yaml:"pattern,omitempty"`
	// AnyOf accepts the message when any alternative matches.
	AnyOf []*pattern.MessagePattern `yaml:"any_of,omitempty"`
	// Capture stores message fields (prefix, command, param0..paramN)
	// into scenario variables on a successful match.
	Capture map[string]string `yaml:"capture,omitempty"`
}

// SilenceStep asserts that no message arrives within the grace window.
type SilenceStep struct {
	Conn string `yaml:"conn"`
	// Grace is how long the connection must stay quiet.
	Grace Duration `yaml:"grace,omitempty"`
}

// AssertEqualStep compares two template-expanded values.
type AssertEqualStep struct {
	Left  string `yaml:"left"`
	Right string `yaml:"right"`
}

// DisconnectStep closes a connection.
type DisconnectStep struct {
	Conn string `yaml:"conn"`
}

// StepResult captures the outcome of one step.
type StepResult struct {
	Name     string        `json:"name"`
	Result   Result        `json:"result"`
	Error    string        `json:"error,omitempty"`
	Duration time.Duration `json:"duration"`
}

// ScenarioResult captures the outcome of one scenario.
type ScenarioResult struct {
	Scenario    Scenario                 `json:"-"`
	Name        string                   `json:"name"`
	Result      Result                   `json:"result"`
	Error       string                   `json:"error,omitempty"`
	StepResults []StepResult             `json:"steps,omitempty"`
	StartTime   time.Time                `json:"start_time"`
	Duration    time.Duration            `json:"duration"`
	ServerLogs  *controller.InstanceLogs `json:"-"`
}

// SuiteResult aggregates a full run.
type SuiteResult struct {
	StartTime       time.Time        `json:"start_time"`
	EndTime         time.Time        `json:"end_time"`
	Duration        time.Duration    `json:"duration"`
	TotalScenarios  int              `json:"total"`
	Passed          int              `json:"passed"`
	Failed          int              `json:"failed"`
	Skipped         int              `json:"skipped"`
	Errors          int              `json:"errors"`
	ScenarioResults []ScenarioResult `json:"scenarios"`
	Config          Config           `json:"-"`
}

// DefaultConfig returns a suite configuration with defaults suitable for
// local runs.
func DefaultConfig() Config {
	return Config{
		Timeout:        2 * time.Minute,
		Parallel:       1,
		BasePort:       18000,
		ReceiveTimeout: 5 * time.Second,
	}
}
