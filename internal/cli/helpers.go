package cli

import (
	"context"
	"fmt"
	"time"

	"github.com/stratus-io/stratus/internal/engine"
	"github.com/stratus-io/stratus/internal/ir"
	"github.com/stratus-io/stratus/internal/provider"
	"github.com/stratus-io/stratus/internal/source"
	"github.com/stratus-io/stratus/internal/state"
	awsprovider "github.com/stratus-io/stratus/providers/aws"
)

// newRegistry wires the provider factories. Providers are constructed
// lazily, so a plan against an empty declaration never touches AWS.
func newRegistry() *provider.Registry {
	registry := provider.NewRegistry()
	registry.RegisterFactory("aws", func() (provider.Provider, error) {
		return awsprovider.New(context.Background(), flagRegion)
	})
	return registry
}

func newEngine(registry *provider.Registry) *engine.Engine {
	eng := engine.New(registry)
	if flagParallelism > 0 {
		eng.Parallelism = flagParallelism
	}
	return eng
}

func openBackend() (state.Backend, error) {
	cfg := &state.BackendConfig{
		Type: flagBackend,
		Config: map[string]string{
			"path":           flagState,
			"bucket":         flagBucket,
			"key":            flagKey,
			"dynamodb_table": flagLockTable,
			"region":         flagRegion,
		},
	}
	return state.NewBackend(cfg)
}

// loadGraph reads the declaration and builds the dependency graph,
// validating every spec along the way.
func loadGraph() (*engine.Graph, error) {
	specs, err := source.Load(flagConfig)
	if err != nil {
		return nil, err
	}
	graph, err := engine.BuildGraph(specs)
	if err != nil {
		return nil, fmt.Errorf("failed to build graph: %w", err)
	}
	return graph, nil
}

func actionSymbol(action ir.Action) (symbol, color string) {
	switch action {
	case ir.ActionCreate:
		return "+", "\033[32m"
	case ir.ActionDelete:
		return "-", "\033[31m"
	case ir.ActionReplace:
		return "-/+", "\033[33m"
	case ir.ActionUpdate:
		return "~", "\033[33m"
	}
	return " ", "\033[0m"
}

// renderPlanChanges prints the detailed change list for a plan.
func renderPlanChanges(plan *ir.Plan) {
	for _, change := range plan.Changes {
		if change.Action == ir.ActionNoop {
			continue
		}
		symbol, color := actionSymbol(change.Action)

		fmt.Printf("\n%s  # %s.%s will be %sd%s\n", color, change.Kind, change.Name, change.Action, "\033[0m")
		fmt.Printf("%s  %s resource %q %q {%s\n", color, symbol, change.Kind, change.Name, "\033[0m")
		for key, diff := range change.Diff {
			switch {
			case diff.Before == nil:
				fmt.Printf("\033[32m      + %s = %v\033[0m\n", key, formatValue(diff.After))
			case diff.After == nil:
				fmt.Printf("\033[31m      - %s = %v\033[0m\n", key, formatValue(diff.Before))
			default:
				note := ""
				if diff.ForcesReplace {
					note = " # forces replacement"
				}
				fmt.Printf("\033[33m      ~ %s = %v -> %v%s\033[0m\n", key, formatValue(diff.Before), formatValue(diff.After), note)
			}
		}
		fmt.Printf("%s    }%s\n", color, "\033[0m")
	}
}

// formatValue returns a human-readable representation of a value.
func formatValue(v any) string {
	if v == nil {
		return "null"
	}
	switch val := v.(type) {
	case string:
		return fmt.Sprintf("%q", val)
	default:
		return fmt.Sprintf("%v", val)
	}
}

// renderPlanSummary prints the plan summary counts.
func renderPlanSummary(plan *ir.Plan) {
	sum := plan.Summary()
	fmt.Println("\nPlan Summary:")
	fmt.Printf("  Create:  %d\n", sum[ir.ActionCreate])
	fmt.Printf("  Update:  %d\n", sum[ir.ActionUpdate])
	fmt.Printf("  Replace: %d\n", sum[ir.ActionReplace])
	fmt.Printf("  Delete:  %d\n", sum[ir.ActionDelete])
	fmt.Printf("  NoOp:    %d\n", sum[ir.ActionNoop])
}

// printEvent streams per-resource progress as the engine works.
func printEvent(ev engine.Event) {
	switch ev.Status {
	case "started":
		fmt.Printf("%s: %s in progress...\n", ev.Name, ev.Action)
	case "failed":
		fmt.Printf("%s: FAILED: %v\n", ev.Name, ev.Err)
	case "skipped":
		fmt.Printf("%s: skipped\n", ev.Name)
	default:
		fmt.Printf("%s: %s (%s)\n", ev.Name, ev.Action, ev.Duration.Round(time.Millisecond))
	}
}

// renderReport prints the final per-resource outcomes and totals.
func renderReport(report *ir.Report) {
	counts := report.Counts()
	fmt.Printf("\nConverged: %d created, %d updated, %d deleted, %d unchanged",
		counts[ir.StatusCreated], counts[ir.StatusUpdated], counts[ir.StatusDeleted], counts[ir.StatusNoChange])
	if counts[ir.StatusFailed] > 0 || counts[ir.StatusSkipped] > 0 {
		fmt.Printf(", %d failed, %d skipped", counts[ir.StatusFailed], counts[ir.StatusSkipped])
	}
	fmt.Println(".")

	for _, res := range report.Results {
		if res.Status != ir.StatusFailed {
			continue
		}
		fmt.Printf("  %s.%s: %v\n", res.Kind, res.Name, res.Err)
	}
	for _, res := range report.Results {
		if res.Status != ir.StatusSkipped {
			continue
		}
		fmt.Printf("  %s.%s: skipped: %s\n", res.Kind, res.Name, res.Reason)
	}
}

func confirm(prompt string) bool {
	fmt.Printf("\n%s (y/n): ", prompt)
	var response string
	fmt.Scanln(&response)
	return response == "y" || response == "yes"
}
