package cli

import (
	"fmt"

	"github.com/spf13/cobra"
)

var stateCmd = &cobra.Command{
	Use:   "state",
	Short: "Inspect and modify recorded state",
}

var stateListCmd = &cobra.Command{
	Use:   "list",
	Short: "List resources in state",
	RunE:  runStateList,
}

var stateShowCmd = &cobra.Command{
	Use:   "show <name>",
	Short: "Show attributes of a single resource",
	Args:  cobra.ExactArgs(1),
	RunE:  runStateShow,
}

var stateRmCmd = &cobra.Command{
	Use:   "rm <name>",
	Short: "Remove a resource from state (does not destroy)",
	Args:  cobra.ExactArgs(1),
	RunE:  runStateRm,
}

func init() {
	stateCmd.AddCommand(stateListCmd)
	stateCmd.AddCommand(stateShowCmd)
	stateCmd.AddCommand(stateRmCmd)
}

func runStateList(cmd *cobra.Command, args []string) error {
	backend, err := openBackend()
	if err != nil {
		return err
	}
	s, err := backend.Read(cmd.Context())
	if err != nil {
		return fmt.Errorf("failed to read state: %w", err)
	}

	if len(s.Resources) == 0 {
		fmt.Println("No resources in state.")
		return nil
	}

	fmt.Printf("State version: %d, serial: %d, lineage: %s\n\n", s.Version, s.Serial, s.Lineage)
	for _, res := range s.Resources {
		fmt.Printf("  %s.%s (provider: %s, status: %s)\n", res.Kind, res.Name, res.Provider, res.Status)
	}
	fmt.Printf("\nTotal: %d resource(s)\n", len(s.Resources))
	return nil
}

func runStateShow(cmd *cobra.Command, args []string) error {
	backend, err := openBackend()
	if err != nil {
		return err
	}
	s, err := backend.Read(cmd.Context())
	if err != nil {
		return fmt.Errorf("failed to read state: %w", err)
	}

	res := s.Resource(args[0])
	if res == nil {
		return fmt.Errorf("resource %s not found in state", args[0])
	}

	fmt.Printf("# %s.%s\n", res.Kind, res.Name)
	fmt.Printf("  provider = %s\n", res.Provider)
	fmt.Printf("  identity = %s\n", res.Identity)
	fmt.Printf("  status   = %s\n", res.Status)

	if len(res.Attrs) > 0 {
		fmt.Println("\n  Attributes:")
		for k, v := range res.Attrs {
			fmt.Printf("    %s = %v\n", k, v)
		}
	}
	if len(res.Outputs) > 0 {
		fmt.Println("\n  Outputs:")
		for k, v := range res.Outputs {
			fmt.Printf("    %s = %v\n", k, v)
		}
	}
	if len(res.Dependencies) > 0 {
		fmt.Printf("\n  dependencies = %v\n", res.Dependencies)
	}
	return nil
}

func runStateRm(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()

	backend, err := openBackend()
	if err != nil {
		return err
	}
	if err := backend.Lock(); err != nil {
		return err
	}
	defer backend.Unlock()

	s, err := backend.Read(ctx)
	if err != nil {
		return fmt.Errorf("failed to read state: %w", err)
	}

	if s.Resource(args[0]) == nil {
		return fmt.Errorf("resource %s not found in state", args[0])
	}
	s.Remove(args[0])

	// Scrub the removed name from recorded dependency lists so destroy
	// ordering never references a vanished resource.
	for _, res := range s.Resources {
		deps := res.Dependencies[:0]
		for _, dep := range res.Dependencies {
			if dep != args[0] {
				deps = append(deps, dep)
			}
		}
		res.Dependencies = deps
	}

	if err := backend.Write(ctx, s); err != nil {
		return fmt.Errorf("failed to write state: %w", err)
	}

	fmt.Printf("Removed %s from state (resource was NOT destroyed)\n", args[0])
	return nil
}
