// Package source supplies the initial set of resource specs declared for a
// deployment. The declaration is a plain JSON document; richer declarative
// languages sit in front of this loader, outside the engine's scope.
package source

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/stratus-io/stratus/internal/ir"
)

// Declaration is the top-level shape of a declaration file.
type Declaration struct {
	Resources []*ir.ResourceSpec `json:"resources"`
}

// DefaultProvider is assumed when a resource omits its provider.
const DefaultProvider = "aws"

// Load reads and decodes a declaration file, filling defaults. Validation
// happens later, in the graph builder, so every configuration error is
// reported through the same path.
func Load(path string) ([]*ir.ResourceSpec, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read declaration %s: %w", path, err)
	}
	return Parse(raw)
}

// Parse decodes a declaration document.
func Parse(raw []byte) ([]*ir.ResourceSpec, error) {
	var decl Declaration
	if err := json.Unmarshal(raw, &decl); err != nil {
		return nil, fmt.Errorf("failed to decode declaration: %w", err)
	}
	for _, spec := range decl.Resources {
		if spec.Provider == "" {
			spec.Provider = DefaultProvider
		}
		if spec.Attrs == nil {
			spec.Attrs = map[string]any{}
		}
		// Tags ride along in the attribute map so providers see them and
		// tag changes show up in diffs.
		if len(spec.Tags) > 0 {
			if _, ok := spec.Attrs["tags"]; !ok {
				tags := make(map[string]any, len(spec.Tags))
				for k, v := range spec.Tags {
					tags[k] = v
				}
				spec.Attrs["tags"] = tags
			}
		}
	}
	return decl.Resources, nil
}
