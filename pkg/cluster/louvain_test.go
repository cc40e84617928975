package cluster

import (
	"testing"
)

func twoTriangles() *Graph {
	g := NewGraph()
	for _, e := range [][2]string{
		{"aspirin", "cox-1"}, {"aspirin", "platelet aggregation"}, {"cox-1", "platelet aggregation"},
		{"metformin", "insulin resistance"}, {"metformin", "type 2 diabetes"}, {"insulin resistance", "type 2 diabetes"},
		{"platelet aggregation", "metformin"},
	} {
		g.AddEdge(e[0], e[1], 1)
	}
	g.AddNode("zinc")
	return g
}

func TestLouvain_SeparatesDenseGroups(t *testing.T) {
	res := Louvain(twoTriangles(), Options{})

	if res.Count != 3 {
		t.Fatalf("expected 3 communities, got %d (%v)", res.Count, res.Communities)
	}
	c := res.Communities
	if c["aspirin"] != c["cox-1"] || c["aspirin"] != c["platelet aggregation"] {
		t.Fatalf("first triangle split: %v", c)
	}
	if c["metformin"] != c["insulin resistance"] || c["metformin"] != c["type 2 diabetes"] {
		t.Fatalf("second triangle split: %v", c)
	}
	if c["aspirin"] == c["metformin"] {
		t.Fatalf("triangles merged: %v", c)
	}
	if c["aspirin"] != 0 || c["zinc"] != 2 {
		t.Fatalf("ids must follow node name order: %v", c)
	}
	if res.Modularity <= 0.3 {
		t.Fatalf("unexpected modularity %f", res.Modularity)
	}
}

func TestLouvain_Deterministic(t *testing.T) {
	first := Louvain(twoTriangles(), Options{})
	for i := 0; i < 5; i++ {
		again := Louvain(twoTriangles(), Options{})
		for k, v := range first.Communities {
			if again.Communities[k] != v {
				t.Fatalf("run %d differs for %s: %d != %d", i, k, again.Communities[k], v)
			}
		}
	}
}

func TestLouvain_NoEdges(t *testing.T) {
	g := NewGraph()
	g.AddNode("b")
	g.AddNode("a")
	g.AddEdge("a", "a", 1)

	res := Louvain(g, Options{})
	if res.Count != 2 || res.Communities["a"] != 0 || res.Communities["b"] != 1 {
		t.Fatalf("unexpected result: %+v", res)
	}
	if res.Modularity != 0 {
		t.Fatalf("modularity of an edgeless graph must be 0, got %f", res.Modularity)
	}
}

func TestLouvain_Empty(t *testing.T) {
	res := Louvain(NewGraph(), Options{})
	if res.Count != 0 || len(res.Communities) != 0 {
		t.Fatalf("unexpected result for empty graph: %+v", res)
	}
}

func TestLouvain_InsertionOrderDoesNotMatter(t *testing.T) {
	reversed := NewGraph()
	reversed.AddNode("zinc")
	edges := [][2]string{
		{"platelet aggregation", "metformin"},
		{"insulin resistance", "type 2 diabetes"}, {"metformin", "type 2 diabetes"}, {"metformin", "insulin resistance"},
		{"cox-1", "platelet aggregation"}, {"aspirin", "platelet aggregation"}, {"aspirin", "cox-1"},
	}
	for _, e := range edges {
		reversed.AddEdge(e[1], e[0], 1)
	}

	want := Louvain(twoTriangles(), Options{}).Communities
	got := Louvain(reversed, Options{}).Communities
	for k, v := range want {
		if got[k] != v {
			t.Fatalf("%s: got community %d, want %d", k, got[k], v)
		}
	}
}

func TestLouvain_ParallelEdgesSumWeights(t *testing.T) {
	g := NewGraph()
	g.AddEdge("a", "b", 1)
	g.AddEdge("b", "a", 2)
	if g.adj[0][1] != 3 || g.edges != 1 {
		t.Fatalf("weight = %f, edges = %d", g.adj[0][1], g.edges)
	}
	res := Louvain(g, Options{})
	if res.Count != 1 {
		t.Fatalf("expected one community, got %+v", res)
	}
}
