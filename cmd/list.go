package cmd

import (
	"fmt"
	"os"
	"sort"
	"strings"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"

	"github.com/sid3xyz/irctest/internal/harness"
	pkgstrings "github.com/sid3xyz/irctest/pkg/strings"
)

var (
	listScenarioPath string
	listSpec         string
	listQuiet        bool
)

// listCmd represents the list command
var listCmd = &cobra.Command{
	Use:   "list",
	Short: "List available conformance scenarios",
	Long: `The list command shows the scenarios the run command would execute,
with their spec tags, step counts and server requirements.

Example usage:
  irctest list                         # List all scenarios
  irctest list --spec=RFC2812          # Only scenarios tagged RFC2812
  irctest list --scenarios=./my-tests  # From a custom directory
  irctest list --quiet                 # Names only, for scripting`,
	RunE: runList,
}

func init() {
	rootCmd.AddCommand(listCmd)

	listCmd.Flags().StringVar(&listScenarioPath, "scenarios", "", "Path to scenario definitions (default: built-in scenarios)")
	listCmd.Flags().StringVar(&listSpec, "spec", "", "Only list scenarios for a specific spec tag")
	listCmd.Flags().BoolVar(&listQuiet, "quiet", false, "Print scenario names only")

	_ = listCmd.RegisterFlagCompletionFunc("spec", completeSpecFlag)
}

func runList(cmd *cobra.Command, args []string) error {
	loader := harness.NewScenarioLoaderWithLogger(false, harness.NewSilentLogger(false, false))

	scenarioPath := harness.GetScenarioPath(listScenarioPath)
	scenarios, err := loader.LoadScenarios(scenarioPath)
	if err != nil {
		return fmt.Errorf("failed to load scenarios: %w", err)
	}

	scenarios = loader.FilterScenarios(scenarios, harness.Config{Spec: listSpec})
	sort.Slice(scenarios, func(i, j int) bool {
		return scenarios[i].Name < scenarios[j].Name
	})

	if listQuiet {
		for _, scenario := range scenarios {
			fmt.Println(scenario.Name)
		}
		return nil
	}

	if len(scenarios) == 0 {
		fmt.Printf("⚠️  No scenarios found in %s\n", scenarioPath)
		return nil
	}

	t := table.NewWriter()
	t.SetOutputMirror(os.Stdout)
	t.SetStyle(table.StyleLight)
	t.AppendHeader(table.Row{"Scenario", "Specs", "Steps", "Server", "Description"})
	for _, scenario := range scenarios {
		t.AppendRow(table.Row{
			scenario.Name,
			strings.Join(scenario.Specs, ", "),
			len(scenario.Steps),
			describeServer(scenario.Server),
			pkgstrings.TruncateDescription(scenario.Description, pkgstrings.DefaultDescriptionMaxLen),
		})
	}
	t.AppendFooter(table.Row{"Total", "", len(scenarios), "", ""})
	t.Render()

	return nil
}

// describeServer summarizes the non-default server requirements of a
// scenario.
func describeServer(server harness.ServerSpec) string {
	var parts []string
	if server.TLS {
		parts = append(parts, "tls")
	}
	if server.Password != "" {
		parts = append(parts, "password")
	}
	if server.Faketime != "" {
		parts = append(parts, "faketime "+server.Faketime)
	}
	if server.AccountRegistrationBeforeConnect {
		parts = append(parts, "account-reg")
	}
	if len(parts) == 0 {
		return "default"
	}
	return strings.Join(parts, ", ")
}
