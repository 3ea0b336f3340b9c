// Package graphstore persists per-window interaction graphs and derived
// metrics through idempotent upsert operations. Graph writes are expressed
// as typed operation values and rendered to SQL at a single boundary, so the
// codec is testable without a live store and identifiers are always bound as
// parameters.
package graphstore

import (
	"time"
)

// Node is an account participating in a window's interaction graph.
type Node struct {
	// AccountID is the unique account identifier.
	AccountID string `json:"account_id"`

	// DisplayName is the human-readable name attached as a node attribute.
	DisplayName string `json:"display_name"`
}

// Edge is a directed, dated interaction between two accounts.
type Edge struct {
	// Source and Target are account ids.
	Source string `json:"source"`
	Target string `json:"target"`

	// Weight is the interaction count the edge carries.
	Weight float64 `json:"weight"`

	// Date is the snapshot date of the window that produced the edge.
	Date time.Time `json:"date"`
}

// Graph is one window's interaction graph. Graphs are keyed by their window
// snapshot date and never mutated after creation.
type Graph struct {
	Date  time.Time `json:"date"`
	Nodes []Node    `json:"nodes"`
	Edges []Edge    `json:"edges"`
}

// AddEdge appends an edge stamped with the graph's date.
func (g *Graph) AddEdge(source, target string, weight float64) {
	g.Edges = append(g.Edges, Edge{
		Source: source,
		Target: target,
		Weight: weight,
		Date:   g.Date,
	})
}

// NodeIDs returns the account ids of all nodes, in graph order.
func (g *Graph) NodeIDs() []string {
	ids := make([]string, len(g.Nodes))
	for i, n := range g.Nodes {
		ids[i] = n.AccountID
	}
	return ids
}
