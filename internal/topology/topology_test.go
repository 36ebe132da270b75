package topology_test

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pog-sim/pogsim/internal/topology"
)

func TestGenerateERIsDeterministicPerSeed(t *testing.T) {
	a := topology.GenerateER(20, 0.3, 42)
	b := topology.GenerateER(20, 0.3, 42)
	assert.Equal(t, a, b)
}

func TestGenerateERProducesNoSelfLoopsOrDuplicates(t *testing.T) {
	g := topology.GenerateER(30, 0.5, 7)
	seen := make(map[[2]int]bool)
	for _, e := range g.Edges {
		assert.NotEqual(t, e.A, e.B)
		key := [2]int{e.A, e.B}
		assert.False(t, seen[key])
		seen[key] = true
	}
}

func TestGenerateBAProducesConnectedCoreAndGrowsByAttachment(t *testing.T) {
	g := topology.GenerateBA(10, 3)
	assert.Equal(t, 10, g.NodeCount)
	adj := g.Neighbors()
	for i := 0; i < 10; i++ {
		assert.NotEmpty(t, adj[i], "node %d should have at least one neighbor", i)
	}
}

func TestGenerateBAHandlesSmallNodeCounts(t *testing.T) {
	g := topology.GenerateBA(1, 1)
	assert.Equal(t, 1, g.NodeCount)
	assert.Empty(t, g.Edges)

	empty := topology.GenerateBA(0, 1)
	assert.Equal(t, 0, empty.NodeCount)
}

func TestNeighborsIsSymmetric(t *testing.T) {
	g := topology.Graph{NodeCount: 3, Edges: []topology.Edge{{A: 0, B: 1}, {A: 1, B: 2}}}
	adj := g.Neighbors()
	assert.Contains(t, adj[0], 1)
	assert.Contains(t, adj[1], 0)
	assert.Contains(t, adj[1], 2)
	assert.Contains(t, adj[2], 1)
}

func TestWriteJSONAndReadJSONRoundTrip(t *testing.T) {
	g := topology.GenerateER(8, 0.4, 5)
	path := filepath.Join(t.TempDir(), "graph.json")

	require.NoError(t, topology.WriteJSON(g, path))
	got, err := topology.ReadJSON(path)
	require.NoError(t, err)
	assert.Equal(t, g, got)
}
