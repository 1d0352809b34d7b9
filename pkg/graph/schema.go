package graph

import (
	"fmt"
	"maps"

	"github.com/dukex/nodebase/pkg/models"
)

// DeclareFunc reports the context keys a node writes.
type DeclareFunc func(node *models.Node) []models.OutputDeclaration

// Schema records, per node, the context keys it writes and the keys written by
// its ancestors, which are the only ones it may reference.
type Schema struct {
	Order     []string                              `json:"order"`
	Declared  map[string][]models.OutputDeclaration `json:"declared"`
	Available map[string]map[string]string          `json:"available"`
	Keys      map[string]models.OutputDeclaration   `json:"keys"`
	producers map[string]string
}

// BuildSchema sorts the graph and derives its output schema.
func BuildSchema(nodes []*models.Node, connections []*models.Connection, declare DeclareFunc) (*Schema, error) {
	sorted, err := Sort(nodes, connections)
	if err != nil {
		return nil, err
	}

	predecessors := make(map[string][]string, len(sorted))
	for _, conn := range connections {
		predecessors[conn.Target] = append(predecessors[conn.Target], conn.Source)
	}

	schema := &Schema{
		Order:     make([]string, 0, len(sorted)),
		Declared:  make(map[string][]models.OutputDeclaration, len(sorted)),
		Available: make(map[string]map[string]string, len(sorted)),
		Keys:      make(map[string]models.OutputDeclaration),
		producers: make(map[string]string),
	}

	for _, node := range sorted {
		schema.Order = append(schema.Order, node.ID)

		declared := declare(node)
		for _, decl := range declared {
			if producer, dup := schema.producers[decl.Name]; dup {
				return nil, fmt.Errorf("%w: %q by nodes %s and %s", ErrDuplicateOutput, decl.Name, producer, node.ID)
			}

			schema.producers[decl.Name] = node.ID
			schema.Keys[decl.Name] = decl
		}

		schema.Declared[node.ID] = declared

		available := make(map[string]string)

		for _, pred := range predecessors[node.ID] {
			maps.Copy(available, schema.Available[pred])

			for _, decl := range schema.Declared[pred] {
				available[decl.Name] = decl.Type
			}
		}

		schema.Available[node.ID] = available
	}

	return schema, nil
}

// Visible reports whether key is written by an ancestor of nodeID.
func (s *Schema) Visible(nodeID, key string) bool {
	_, ok := s.Available[nodeID][key]

	return ok
}

// Producer returns the node that declares key.
func (s *Schema) Producer(key string) (string, bool) {
	id, ok := s.producers[key]

	return id, ok
}
