package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/stratus-io/stratus/internal/ir"
)

var applyAutoApprove bool

var applyCmd = &cobra.Command{
	Use:   "apply",
	Short: "Converge declared resources",
	Long: `Builds or changes infrastructure to match the declaration.

Independent resources converge in parallel. A resource whose dependency
fails is skipped, but unrelated resources still converge, and every
completed change is recorded in state even when the run partially fails.`,
	RunE: runApply,
}

func init() {
	applyCmd.Flags().BoolVar(&applyAutoApprove, "auto-approve", false, "Skip interactive approval of plan before applying")
}

func runApply(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()

	graph, err := loadGraph()
	if err != nil {
		return err
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

	registry := newRegistry()
	eng := newEngine(registry)

	fmt.Print("Calculating plan... ")
	plan, err := eng.Plan(graph, currentState, ir.IntentApply)
	if err != nil {
		fmt.Println("FAILED")
		return fmt.Errorf("plan generation failed: %w", err)
	}
	fmt.Println("OK")

	sum := plan.Summary()
	if len(plan.Changes) == sum[ir.ActionNoop] {
		fmt.Println("No changes. Infrastructure is up-to-date.")
		return nil
	}

	fmt.Println("\nStratus will perform the following actions:")
	renderPlanChanges(plan)
	renderPlanSummary(plan)

	if !applyAutoApprove {
		if !confirm("Do you want to perform these actions?") {
			fmt.Println("Apply cancelled.")
			return nil
		}
	}

	fmt.Printf("\nApplying %d changes...\n\n", len(plan.Changes)-sum[ir.ActionNoop])

	report, err := eng.Converge(ctx, graph, plan, currentState, printEvent)

	// Completed changes are already reflected in state; persist them even
	// when the run failed partway.
	if werr := backend.Write(ctx, currentState); werr != nil {
		return fmt.Errorf("failed to write state: %w", werr)
	}
	if err != nil {
		return fmt.Errorf("apply failed: %w", err)
	}

	renderReport(report)
	if report.Failed() {
		return fmt.Errorf("apply finished with failures")
	}
	return nil
}
