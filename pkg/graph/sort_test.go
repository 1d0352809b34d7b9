package graph_test

import (
	"fmt"
	"math/rand"
	"testing"

	"github.com/dukex/nodebase/pkg/graph"
	"github.com/dukex/nodebase/pkg/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func nodes(ids ...string) []*models.Node {
	out := make([]*models.Node, 0, len(ids))
	for _, id := range ids {
		out = append(out, &models.Node{ID: id, Type: models.NodeTypeHTTPRequest})
	}

	return out
}

func conn(source, target string) *models.Connection {
	return &models.Connection{ID: source + "->" + target, Source: source, Target: target}
}

func ids(sorted []*models.Node) []string {
	out := make([]string, 0, len(sorted))
	for _, n := range sorted {
		out = append(out, n.ID)
	}

	return out
}

func position(order []string, id string) int {
	for i, v := range order {
		if v == id {
			return i
		}
	}

	return -1
}

func TestSort(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name        string
		nodes       []*models.Node
		connections []*models.Connection
		expected    []string
	}{
		{
			name:     "no connections keeps storage order",
			nodes:    nodes("c", "a", "b"),
			expected: []string{"c", "a", "b"},
		},
		{
			name:        "linear chain",
			nodes:       nodes("c", "b", "a"),
			connections: []*models.Connection{conn("a", "b"), conn("b", "c")},
			expected:    []string{"a", "b", "c"},
		},
		{
			name:        "fan out places root first",
			nodes:       nodes("A", "B", "C"),
			connections: []*models.Connection{conn("A", "B"), conn("A", "C")},
			expected:    []string{"A", "B", "C"},
		},
		{
			name:        "diamond visits join once",
			nodes:       nodes("a", "b", "c", "d"),
			connections: []*models.Connection{conn("a", "b"), conn("a", "c"), conn("b", "d"), conn("c", "d")},
			expected:    []string{"a", "b", "c", "d"},
		},
		{
			name:        "isolated node is kept as a root",
			nodes:       nodes("a", "lonely", "b"),
			connections: []*models.Connection{conn("a", "b")},
			expected:    []string{"a", "lonely", "b"},
		},
		{
			name:        "disconnected subgraphs are both included",
			nodes:       nodes("x1", "y1", "x2", "y2"),
			connections: []*models.Connection{conn("x1", "x2"), conn("y1", "y2")},
			expected:    []string{"x1", "y1", "x2", "y2"},
		},
		{
			name:        "duplicate connections are ignored",
			nodes:       nodes("a", "b"),
			connections: []*models.Connection{conn("a", "b"), conn("a", "b")},
			expected:    []string{"a", "b"},
		},
		{
			name:     "duplicate node ids appear once",
			nodes:    append(nodes("a", "b"), &models.Node{ID: "a"}),
			expected: []string{"a", "b"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			sorted, err := graph.Sort(tt.nodes, tt.connections)
			require.NoError(t, err)
			assert.Equal(t, tt.expected, ids(sorted))
		})
	}
}

func TestSort_FanOutAnyBranchOrderAfterRoot(t *testing.T) {
	t.Parallel()

	sorted, err := graph.Sort(nodes("C", "B", "A"), []*models.Connection{conn("A", "B"), conn("A", "C")})
	require.NoError(t, err)

	order := ids(sorted)
	require.Len(t, order, 3)
	assert.Equal(t, "A", order[0])
	assert.ElementsMatch(t, []string{"B", "C"}, order[1:])
}

func TestSort_Cycles(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name        string
		nodes       []*models.Node
		connections []*models.Connection
	}{
		{
			name:        "two node cycle",
			nodes:       nodes("A", "B"),
			connections: []*models.Connection{conn("A", "B"), conn("B", "A")},
		},
		{
			name:        "self loop",
			nodes:       nodes("A"),
			connections: []*models.Connection{conn("A", "A")},
		},
		{
			name:        "cycle behind a valid prefix",
			nodes:       nodes("root", "a", "b", "c"),
			connections: []*models.Connection{conn("root", "a"), conn("a", "b"), conn("b", "c"), conn("c", "a")},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			sorted, err := graph.Sort(tt.nodes, tt.connections)
			require.Error(t, err)
			assert.Nil(t, sorted)
			assert.ErrorIs(t, err, graph.ErrCyclicGraph)
			assert.True(t, graph.IsCyclicGraph(err))
			assert.Equal(t, "Workflow contains a cycle", err.Error())
		})
	}
}

func TestSort_UnknownConnectionNode(t *testing.T) {
	t.Parallel()

	_, err := graph.Sort(nodes("a"), []*models.Connection{conn("a", "ghost")})
	require.Error(t, err)
	assert.ErrorIs(t, err, graph.ErrUnknownConnectionNode)

	var connErr *graph.ConnectionError
	require.ErrorAs(t, err, &connErr)
	assert.Equal(t, "ghost", connErr.NodeID)
}

// randomDAG builds edges only from lower to higher rank, so it is acyclic.
func randomDAG(rng *rand.Rand, size int) ([]*models.Node, []*models.Connection) {
	rank := rng.Perm(size)
	all := make([]*models.Node, size)

	for i := range size {
		all[i] = &models.Node{ID: fmt.Sprintf("n%d", rank[i])}
	}

	var connections []*models.Connection

	for i := range size {
		for j := i + 1; j < size; j++ {
			if rng.Intn(4) == 0 {
				connections = append(connections, conn(fmt.Sprintf("n%d", i), fmt.Sprintf("n%d", j)))
			}
		}
	}

	return all, connections
}

func TestSort_Properties(t *testing.T) {
	t.Parallel()

	rng := rand.New(rand.NewSource(42))

	for iteration := range 200 {
		all, connections := randomDAG(rng, 1+rng.Intn(12))

		sorted, err := graph.Sort(all, connections)
		require.NoError(t, err, "iteration %d", iteration)

		order := ids(sorted)

		// every node exactly once
		require.Len(t, order, len(all))
		assert.ElementsMatch(t, ids(all), order)

		// every edge respected
		for _, c := range connections {
			assert.Less(t, position(order, c.Source), position(order, c.Target), "edge %s", c.ID)
		}

		// stable across calls
		again, err := graph.Sort(all, connections)
		require.NoError(t, err)
		assert.Equal(t, order, ids(again))
	}
}

func TestSort_DoesNotMutateInput(t *testing.T) {
	t.Parallel()

	input := nodes("b", "a")
	_, err := graph.Sort(input, []*models.Connection{conn("a", "b")})
	require.NoError(t, err)
	assert.Equal(t, []string{"b", "a"}, ids(input))
}
