package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/stratus-io/stratus/internal/engine"
	"github.com/stratus-io/stratus/internal/ir"
	"github.com/stratus-io/stratus/internal/source"
)

var destroyAutoApprove bool

var destroyCmd = &cobra.Command{
	Use:   "destroy",
	Short: "Destroy all managed infrastructure",
	Long: `Deletes every resource tracked in state, dependents before their
dependencies, in the exact reverse of apply order.`,
	RunE: runDestroy,
}

func init() {
	destroyCmd.Flags().BoolVar(&destroyAutoApprove, "auto-approve", false, "Skip interactive approval before destroying")
}

func runDestroy(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()

	// The declaration is optional for destroy; state alone carries enough
	// dependency information to order deletions.
	var specs []*ir.ResourceSpec
	if loaded, err := source.Load(flagConfig); err == nil {
		specs = loaded
	}
	graph, err := engine.BuildGraph(specs)
	if err != nil {
		return fmt.Errorf("failed to build graph: %w", err)
	}

	backend, err := openBackend()
	if err != nil {
		return err
	}
	if err := backend.Lock(); err != nil {
		return err
	}
	defer backend.Unlock()

	currentState, err := backend.Read(ctx)
	if err != nil {
		return fmt.Errorf("failed to read state: %w", err)
	}
	if len(currentState.Resources) == 0 {
		fmt.Println("No resources in state. Nothing to destroy.")
		return nil
	}

	registry := newRegistry()
	eng := newEngine(registry)

	plan, err := eng.Plan(graph, currentState, ir.IntentDestroy)
	if err != nil {
		return fmt.Errorf("plan generation failed: %w", err)
	}

	fmt.Println("Stratus will destroy the following resources:")
	renderPlanChanges(plan)
	renderPlanSummary(plan)

	if !destroyAutoApprove {
		if !confirm("Do you really want to destroy all resources?") {
			fmt.Println("Destroy cancelled.")
			return nil
		}
	}

	fmt.Printf("\nDestroying %d resources...\n\n", len(plan.Changes))

	report, err := eng.Converge(ctx, graph, plan, currentState, printEvent)

	if werr := backend.Write(ctx, currentState); werr != nil {
		return fmt.Errorf("failed to write state: %w", werr)
	}
	if err != nil {
		return fmt.Errorf("destroy failed: %w", err)
	}

	renderReport(report)
	if report.Failed() {
		return fmt.Errorf("destroy finished with failures")
	}
	return nil
}
