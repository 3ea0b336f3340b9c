package graphstore

import (
	"testing"
	"time"
)

func TestOpKindIsValid(t *testing.T) {
	valid := []OpKind{OpNodeUpsert, OpScopeUpsert, OpEdgeUpsert, OpMetricUpsert, OpScopedDelete, OpMetricDelete}
	for _, k := range valid {
		if !k.IsValid() {
			t.Errorf("expected %s valid", k)
		}
	}
	if OpKind("mystery").IsValid() {
		t.Error("expected unknown kind invalid")
	}
	if !OpScopedDelete.IsDelete() || !OpMetricDelete.IsDelete() || OpEdgeUpsert.IsDelete() {
		t.Error("IsDelete misclassified a kind")
	}
}

func TestEncodeWithoutRecomputeHasNoDelete(t *testing.T) {
	date := time.Date(2025, 1, 10, 0, 0, 0, 0, time.UTC)
	g := &Graph{Date: date, Nodes: []Node{{AccountID: "A"}}}
	g.AddEdge("A", "B", 1)

	for _, op := range (Codec{}).Encode(g, "team-a", false) {
		if op.Kind.IsDelete() {
			t.Fatal("unexpected delete in non-recompute batch")
		}
	}
}

func TestEncodeEdgeKeys(t *testing.T) {
	date := time.Date(2025, 1, 10, 0, 0, 0, 0, time.UTC)
	g := &Graph{Date: date}
	g.AddEdge("A", "B", 2.5)

	ops := (Codec{}).Encode(g, "team-a", false)
	if len(ops) != 1 {
		t.Fatalf("expected 1 op, got %d", len(ops))
	}

	op := ops[0]
	if op.Kind != OpEdgeUpsert {
		t.Fatalf("expected edge upsert, got %s", op.Kind)
	}
	if op.Match["source"] != "A" || op.Match["target"] != "B" {
		t.Errorf("wrong endpoints: %v", op.Match)
	}
	if op.Match["date"] != "2025-01-10" {
		t.Errorf("wrong date encoding: %s", op.Match["date"])
	}
	if op.Match["scope"] != "team-a" {
		t.Errorf("wrong scope: %s", op.Match["scope"])
	}
	if w, _ := op.Params["weight"].(float64); w != 2.5 {
		t.Errorf("wrong weight: %v", op.Params["weight"])
	}
}

func TestEncodeMetricKeys(t *testing.T) {
	date := time.Date(2025, 1, 10, 0, 0, 0, 0, time.UTC)
	op := (Codec{}).EncodeMetric("team-a", "decentralization", date, "", -1)

	if op.Kind != OpMetricUpsert {
		t.Fatalf("expected metric upsert, got %s", op.Kind)
	}
	if op.Match["metric"] != "decentralization" || op.Match["date"] != "2025-01-10" {
		t.Errorf("wrong match keys: %v", op.Match)
	}
	if op.Match["account"] != "" {
		t.Errorf("scope-level metric must key an empty account, got %q", op.Match["account"])
	}
	if v, _ := op.Params["value"].(float64); v != -1 {
		t.Errorf("wrong value: %v", op.Params["value"])
	}
}

func TestEncodeMetricDeleteKeys(t *testing.T) {
	date := time.Date(2025, 1, 10, 0, 0, 0, 0, time.UTC)
	op := (Codec{}).EncodeMetricDelete("team-a", "decentralization", date)

	if op.Kind != OpMetricDelete {
		t.Fatalf("expected metric delete, got %s", op.Kind)
	}
	if !op.Kind.IsDelete() {
		t.Error("metric delete must order before upserts")
	}
	if op.Match["scope"] != "team-a" || op.Match["metric"] != "decentralization" || op.Match["date"] != "2025-01-10" {
		t.Errorf("wrong match keys: %v", op.Match)
	}
}
