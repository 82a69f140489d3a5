package cli

import (
	"fmt"

	"github.com/spf13/cobra"
)

var graphCmd = &cobra.Command{
	Use:   "graph",
	Short: "Output the dependency graph in DOT format",
	Long: `Generates a visual representation of the resource dependency graph
in Graphviz DOT format. Pipe the output to 'dot' to generate an image:

  stratus graph | dot -Tpng > graph.png`,
	RunE: runGraph,
}

func runGraph(cmd *cobra.Command, args []string) error {
	graph, err := loadGraph()
	if err != nil {
		return err
	}

	fmt.Println("digraph stratus {")
	fmt.Println("  rankdir = \"BT\";")
	fmt.Println("  node [shape = rect];")
	fmt.Println()

	for _, name := range graph.Names() {
		spec := graph.Spec(name)
		fmt.Printf("  %q;\n", fmt.Sprintf("%s.%s", spec.Kind, name))
	}
	fmt.Println()

	for _, name := range graph.Names() {
		spec := graph.Spec(name)
		addr := fmt.Sprintf("%s.%s", spec.Kind, name)
		for _, dep := range graph.Dependencies(name) {
			depSpec := graph.Spec(dep)
			fmt.Printf("  %q -> %q;\n", addr, fmt.Sprintf("%s.%s", depSpec.Kind, dep))
		}
	}

	fmt.Println("}")
	return nil
}
