package graphstore

import (
	"time"
)

// =============================================================================
// Upsert Operations
// =============================================================================

// OpKind identifies the kind of persistence operation.
type OpKind string

const (
	// OpNodeUpsert creates a graph node if absent, matched by account id.
	OpNodeUpsert OpKind = "node_upsert"

	// OpScopeUpsert binds a node to its containing scope.
	OpScopeUpsert OpKind = "scope_upsert"

	// OpEdgeUpsert creates a dated interaction edge if absent, matched by
	// (source, target, date, scope).
	OpEdgeUpsert OpKind = "edge_upsert"

	// OpMetricUpsert creates a metric value if absent, matched by
	// (scope, date, metric_name, account).
	OpMetricUpsert OpKind = "metric_upsert"

	// OpScopedDelete removes all interaction edges for a scope. Emitted only
	// for full recomputes and always ordered before every upsert in a batch.
	OpScopedDelete OpKind = "scoped_delete"

	// OpMetricDelete removes a metric's rows for one date so a forced
	// recompute can re-persist the value through the idempotent upserts.
	OpMetricDelete OpKind = "metric_delete"
)

// IsValid returns true if the kind is a recognized value.
func (k OpKind) IsValid() bool {
	switch k {
	case OpNodeUpsert, OpScopeUpsert, OpEdgeUpsert, OpMetricUpsert, OpScopedDelete, OpMetricDelete:
		return true
	default:
		return false
	}
}

// IsDelete returns true for deletion operations.
func (k OpKind) IsDelete() bool {
	return k == OpScopedDelete || k == OpMetricDelete
}

// String returns the string representation of the kind.
func (k OpKind) String() string {
	return string(k)
}

// UpsertOperation is a side-effect-free description of one idempotent write.
// Applying the same operation twice yields the same stored state.
type UpsertOperation struct {
	// Kind selects the statement the store renders.
	Kind OpKind

	// Match holds the key fields the operation matches on.
	Match map[string]string

	// OnCreate holds fields set only when the matched row is created.
	OnCreate map[string]any

	// Params holds the remaining bound parameters.
	Params map[string]any
}

// =============================================================================
// Codec
// =============================================================================

// Codec converts an interaction graph into an ordered upsert batch. It is
// pure with respect to graph content and does not decide whether to
// recompute; that is the planner's job.
type Codec struct{}

// Encode produces the operation sequence for one graph within a scope.
// When recompute is set, a single scoped deletion leads the batch so a
// partial failure can never leave the scope half-deleted and half-rebuilt.
func (Codec) Encode(g *Graph, scope string, recompute bool) []UpsertOperation {
	ops := make([]UpsertOperation, 0, 1+2*len(g.Nodes)+len(g.Edges))

	if recompute {
		ops = append(ops, UpsertOperation{
			Kind:  OpScopedDelete,
			Match: map[string]string{"scope": scope},
		})
	}

	now := time.Now().UTC()
	for _, node := range g.Nodes {
		ops = append(ops, UpsertOperation{
			Kind:  OpNodeUpsert,
			Match: map[string]string{"account": node.AccountID},
			OnCreate: map[string]any{
				"display_name": node.DisplayName,
				"created_at":   now,
			},
		})
		ops = append(ops, UpsertOperation{
			Kind: OpScopeUpsert,
			Match: map[string]string{
				"account": node.AccountID,
				"scope":   scope,
			},
		})
	}

	for _, edge := range g.Edges {
		ops = append(ops, UpsertOperation{
			Kind: OpEdgeUpsert,
			Match: map[string]string{
				"source": edge.Source,
				"target": edge.Target,
				"date":   edge.Date.UTC().Format(time.DateOnly),
				"scope":  scope,
			},
			Params: map[string]any{
				"weight": edge.Weight,
			},
		})
	}

	return ops
}

// EncodeMetric produces one idempotent metric upsert. An empty account keys
// scope-level metrics such as the decentralization score.
func (Codec) EncodeMetric(scope, metricName string, date time.Time, account string, value float64) UpsertOperation {
	return UpsertOperation{
		Kind: OpMetricUpsert,
		Match: map[string]string{
			"scope":   scope,
			"metric":  metricName,
			"date":    date.UTC().Format(time.DateOnly),
			"account": account,
		},
		Params: map[string]any{
			"value": value,
		},
	}
}

// EncodeMetricDelete produces the deletion that leads a forced metric
// recompute batch. It clears every row of the metric on the date, account
// and scope level alike, so the following upserts re-create them.
func (Codec) EncodeMetricDelete(scope, metricName string, date time.Time) UpsertOperation {
	return UpsertOperation{
		Kind: OpMetricDelete,
		Match: map[string]string{
			"scope":  scope,
			"metric": metricName,
			"date":   date.UTC().Format(time.DateOnly),
		},
	}
}
