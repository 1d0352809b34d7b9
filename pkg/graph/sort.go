package graph

import (
	"slices"

	"github.com/dukex/nodebase/pkg/models"
)

// Sort returns nodes ordered so every connection's source precedes its target.
//
// Without connections the storage order is kept. Nodes that take part in no
// connection are roots and keep their storage position among the other roots.
// Each node appears once, even when reachable through several paths. The
// result is deterministic for a given input.
func Sort(nodes []*models.Node, connections []*models.Connection) ([]*models.Node, error) {
	unique, index := dedupe(nodes)

	if len(connections) == 0 {
		return unique, nil
	}

	inDegree := make([]int, len(unique))
	dependents := make([][]int, len(unique))
	seen := make(map[[2]int]struct{}, len(connections))

	for _, conn := range connections {
		source, ok := index[conn.Source]
		if !ok {
			return nil, &ConnectionError{ConnectionID: conn.ID, NodeID: conn.Source, Err: ErrUnknownConnectionNode}
		}

		target, ok := index[conn.Target]
		if !ok {
			return nil, &ConnectionError{ConnectionID: conn.ID, NodeID: conn.Target, Err: ErrUnknownConnectionNode}
		}

		if source == target {
			return nil, ErrCyclicGraph
		}

		edge := [2]int{source, target}
		if _, dup := seen[edge]; dup {
			continue
		}

		seen[edge] = struct{}{}
		dependents[source] = append(dependents[source], target)
		inDegree[target]++
	}

	queue := make([]int, 0, len(unique))

	for i := range unique {
		if inDegree[i] == 0 {
			queue = append(queue, i)
		}
	}

	ordered := make([]*models.Node, 0, len(unique))

	for len(queue) > 0 {
		current := queue[0]
		queue = queue[1:]

		ordered = append(ordered, unique[current])

		next := dependents[current]
		slices.Sort(next)

		for _, dependent := range next {
			inDegree[dependent]--
			if inDegree[dependent] == 0 {
				queue = append(queue, dependent)
			}
		}
	}

	if len(ordered) != len(unique) {
		return nil, ErrCyclicGraph
	}

	return ordered, nil
}

// dedupe keeps the first node for each ID and indexes the survivors by ID.
func dedupe(nodes []*models.Node) ([]*models.Node, map[string]int) {
	unique := make([]*models.Node, 0, len(nodes))
	index := make(map[string]int, len(nodes))

	for _, node := range nodes {
		if node == nil {
			continue
		}

		if _, ok := index[node.ID]; ok {
			continue
		}

		index[node.ID] = len(unique)
		unique = append(unique, node)
	}

	return unique, index
}
