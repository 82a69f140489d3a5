package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/stratus-io/stratus/internal/ir"
)

var planDestroy bool

var planCmd = &cobra.Command{
	Use:   "plan",
	Short: "Show what an apply would change",
	Long: `Compares the declaration against recorded state and prints the
operations an apply would perform, without touching any resource.`,
	RunE: runPlan,
}

func init() {
	planCmd.Flags().BoolVar(&planDestroy, "destroy", false, "Plan a destroy instead of an apply")
}

func runPlan(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()

	graph, err := loadGraph()
	if err != nil {
		return err
	}

	backend, err := openBackend()
	if err != nil {
		return err
	}
	currentState, err := backend.Read(ctx)
	if err != nil {
		return fmt.Errorf("failed to read state: %w", err)
	}

	intent := ir.IntentApply
	if planDestroy {
		intent = ir.IntentDestroy
	}

	eng := newEngine(newRegistry())
	plan, err := eng.Plan(graph, currentState, intent)
	if err != nil {
		return fmt.Errorf("plan generation failed: %w", err)
	}

	sum := plan.Summary()
	if len(plan.Changes) == sum[ir.ActionNoop] {
		fmt.Println("No changes. Infrastructure is up-to-date.")
		return nil
	}

	fmt.Println("Stratus will perform the following actions:")
	renderPlanChanges(plan)
	renderPlanSummary(plan)

	fmt.Println("\nExecution order:")
	for i, level := range plan.Levels {
		fmt.Printf("  %d: %v\n", i+1, level)
	}
	return nil
}
