// Package topology generates the synthetic peer-to-peer graphs the
// simulator runs over: Erdős–Rényi and Barabási–Albert.
package topology

import (
	"encoding/json"
	"math/rand"
	"os"
)

// Edge is an undirected edge between two node indices.
type Edge struct {
	A int `json:"a"`
	B int `json:"b"`
}

// Graph is a serializable undirected edge list.
type Graph struct {
	NodeCount int    `json:"node_count"`
	Edges     []Edge `json:"edges"`
}

// Neighbors builds an adjacency list from the edge list, for wiring
// node mailboxes.
func (g Graph) Neighbors() map[int][]int {
	adj := make(map[int][]int, g.NodeCount)
	for _, e := range g.Edges {
		adj[e.A] = append(adj[e.A], e.B)
		adj[e.B] = append(adj[e.B], e.A)
	}
	return adj
}

// GenerateER builds an Erdős–Rényi graph: include edge (i,j)
// independently with probability p.
func GenerateER(nodeCount int, p float64, seed int64) Graph {
	rng := rand.New(rand.NewSource(seed))
	var edges []Edge
	for i := 0; i < nodeCount; i++ {
		for j := i + 1; j < nodeCount; j++ {
			if rng.Float64() < p {
				edges = append(edges, Edge{A: i, B: j})
			}
		}
	}
	return Graph{NodeCount: nodeCount, Edges: edges}
}

// GenerateBA builds a Barabási–Albert graph: start with m0=3 fully
// connected, add each new node with m=2 edges chosen by preferential
// attachment over cumulative degree.
func GenerateBA(nodeCount int, seed int64) Graph {
	const m0 = 3
	const m = 2
	rng := rand.New(rand.NewSource(seed))

	if nodeCount <= 0 {
		return Graph{NodeCount: 0}
	}
	n0 := m0
	if n0 > nodeCount {
		n0 = nodeCount
	}

	var edges []Edge
	degree := make([]int, nodeCount)

	for i := 0; i < n0; i++ {
		for j := i + 1; j < n0; j++ {
			edges = append(edges, Edge{A: i, B: j})
			degree[i]++
			degree[j]++
		}
	}

	// repeatedTargets is the preferential-attachment pool: each existing
	// node appears once per edge-endpoint it holds, so sampling
	// uniformly from it reproduces degree-proportional selection.
	var repeatedTargets []int
	for i := 0; i < n0; i++ {
		for k := 0; k < degree[i]; k++ {
			repeatedTargets = append(repeatedTargets, i)
		}
	}

	for newNode := n0; newNode < nodeCount; newNode++ {
		targets := make(map[int]bool)
		attempts := 0
		for len(targets) < m && len(repeatedTargets) > 0 && attempts < m*50 {
			attempts++
			candidate := repeatedTargets[rng.Intn(len(repeatedTargets))]
			if candidate == newNode {
				continue
			}
			targets[candidate] = true
		}
		if len(targets) == 0 && newNode > 0 {
			targets[rng.Intn(newNode)] = true
		}
		for t := range targets {
			edges = append(edges, Edge{A: newNode, B: t})
			degree[newNode]++
			degree[t]++
			repeatedTargets = append(repeatedTargets, newNode, t)
		}
	}

	return Graph{NodeCount: nodeCount, Edges: edges}
}

// WriteJSON serializes g to path.
func WriteJSON(g Graph, path string) error {
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	defer f.Close()
	enc := json.NewEncoder(f)
	enc.SetIndent("", "  ")
	return enc.Encode(g)
}

// ReadJSON loads a previously serialized graph.json.
func ReadJSON(path string) (Graph, error) {
	var g Graph
	f, err := os.Open(path)
	if err != nil {
		return g, err
	}
	defer f.Close()
	dec := json.NewDecoder(f)
	err = dec.Decode(&g)
	return g, err
}
