package document

import (
	"fmt"
	"io"
	"strings"

	"gopkg.in/yaml.v3"
)

// Substitution is a single literal replacement.
type Substitution struct {
	From string
	To   string
}

// Table is an ordered list of substitutions. Order matters: a later key may match text
// introduced by an earlier replacement.
type Table []Substitution

// Cascade names a pair of entries where the replacement of Earlier contains the key of Later,
// so Later rewrites text that Earlier produced.
type Cascade struct {
	Earlier string
	Later   string
}

// LoadTable reads a YAML (or JSON) mapping of key to replacement, keeping document order.
func LoadTable(r io.Reader) (Table, error) {
	var root yaml.Node
	if err := yaml.NewDecoder(r).Decode(&root); err != nil {
		if err == io.EOF {
			return Table{}, nil
		}
		return nil, fmt.Errorf("failed to parse substitution table: %w", err)
	}

	node := &root
	if node.Kind == yaml.DocumentNode && len(node.Content) > 0 {
		node = node.Content[0]
	}
	if node.Kind != yaml.MappingNode {
		return nil, fmt.Errorf("substitution table must be a mapping, got yaml kind %d", node.Kind)
	}

	table := make(Table, 0, len(node.Content)/2)
	for i := 0; i+1 < len(node.Content); i += 2 {
		key, val := node.Content[i], node.Content[i+1]
		if key.Kind != yaml.ScalarNode || val.Kind != yaml.ScalarNode {
			return nil, fmt.Errorf("substitution table entry at line %d is not a scalar pair", key.Line)
		}
		if key.Value == "" {
			continue
		}
		table = append(table, Substitution{From: key.Value, To: val.Value})
	}
	return table, nil
}

// Apply runs every substitution in order.
func (t Table) Apply(s string) string {
	for _, sub := range t {
		if strings.Contains(s, sub.From) {
			s = strings.ReplaceAll(s, sub.From, sub.To)
		}
	}
	return s
}

// Cascades reports every pair of entries whose replacements chain into each other.
func (t Table) Cascades() []Cascade {
	var out []Cascade
	for i, earlier := range t {
		for _, later := range t[i+1:] {
			if strings.Contains(earlier.To, later.From) {
				out = append(out, Cascade{Earlier: earlier.From, Later: later.From})
			}
		}
	}
	return out
}
