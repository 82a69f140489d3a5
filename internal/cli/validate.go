package cli

import (
	"fmt"

	"github.com/spf13/cobra"
)

var validateCmd = &cobra.Command{
	Use:   "validate",
	Short: "Validate the resource declaration",
	Long: `Checks the declaration for unknown kinds, missing required
attributes, duplicate names, dangling references and dependency cycles.`,
	RunE: runValidate,
}

func runValidate(cmd *cobra.Command, args []string) error {
	fmt.Printf("Checking %s... ", flagConfig)

	graph, err := loadGraph()
	if err != nil {
		fmt.Println("FAILED")
		return fmt.Errorf("validation failed: %w", err)
	}

	fmt.Println("OK")
	fmt.Printf("\nConfiguration is valid: %d resource(s), %d execution level(s).\n",
		len(graph.Names()), len(graph.Levels()))
	return nil
}
