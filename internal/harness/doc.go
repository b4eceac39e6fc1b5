// Package harness executes protocol conformance scenarios against a
// managed IRC server instance.
//
// A scenario is a YAML file describing a sequence of steps: open client
// connections, send raw protocol lines, and assert on the shape of the
// messages the server replies with. Each scenario runs against its own
// freshly spawned server process, so scenarios are isolated from each
// other and can run in parallel.
//
// # Core Components
//
//   - Scenario / Step (types.go): the YAML scenario model. Steps are
//     connect, send, expect, expect_silence, assert_equal and disconnect.
//   - scenarioLoader (loader.go): reads and validates scenario files and
//     filters them by spec tag or name.
//   - Runner (runner.go): drives scenarios sequentially or through a
//     worker pool, one server instance and connection set per scenario,
//     tearing everything down on every exit path.
//   - Reporter (reporter.go): CLI progress output, a summary table, and
//     an optional JSON report file.
//   - scenarioContext (template.go): variables captured from received
//     messages, available to later steps through templating.
//   - Watch (watch.go): re-runs the suite when scenario files change.
//
// The server process lifecycle (config generation, TLS material, port
// allocation, readiness, shutdown) lives in internal/controller; the
// line-level client in internal/client; message parsing and pattern
// matching in internal/ircmsg and internal/pattern.
package harness
