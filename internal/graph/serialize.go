package graph

import (
	"encoding/json"
	"fmt"
)

// snapshotNode is the wire form of a node.
type snapshotNode struct {
	Identifier  string `json:"identifier"`
	SourceFile  string `json:"sourceFile"`
	Kind        Kind   `json:"kind,omitempty"`
	Description string `json:"description,omitempty"`
	EntryPoint  bool   `json:"entryPoint,omitempty"`
	RecordID    string `json:"recordId,omitempty"`

	Methods    []MethodInfo          `json:"methods,omitempty"`
	Parameters []MethodParameterLink `json:"parameters,omitempty"`
}

// snapshotEdge is the wire form of a dependency edge.
type snapshotEdge struct {
	From string `json:"from"`
	To   string `json:"to"`
}

// snapshot is the complete wire form of a ProjectGraph. Nodes are emitted
// in analysis order so deserialization reproduces the same iteration
// order.
type snapshot struct {
	Nodes []snapshotNode `json:"nodes"`
	Edges []snapshotEdge `json:"edges"`
}

// ToJSON serializes the graph into a self-contained snapshot document
// sufficient to reconstruct it without re-parsing any source.
func (g *ProjectGraph) ToJSON() ([]byte, error) {
	doc := snapshot{
		Nodes: make([]snapshotNode, 0, len(g.order)),
	}
	for _, id := range g.order {
		node := g.nodes[id]
		doc.Nodes = append(doc.Nodes, snapshotNode{
			Identifier:  node.Identifier,
			SourceFile:  node.SourceFile,
			Kind:        node.Kind,
			Description: node.Description,
			EntryPoint:  node.EntryPoint,
			RecordID:    node.RecordID,
			Methods:     g.methods[id],
			Parameters:  g.params[id],
		})
		for _, target := range sortedKeys(g.outgoing[id]) {
			doc.Edges = append(doc.Edges, snapshotEdge{From: id, To: target})
		}
	}

	data, err := json.Marshal(doc)
	if err != nil {
		return nil, fmt.Errorf("serializing graph: %w", err)
	}
	return data, nil
}

// FromJSON reconstructs a ProjectGraph from a snapshot produced by ToJSON.
func FromJSON(data []byte) (*ProjectGraph, error) {
	var doc snapshot
	if err := json.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("deserializing graph: %w", err)
	}

	g := NewProjectGraph()
	for _, node := range doc.Nodes {
		g.AddNode(node.Identifier, node.SourceFile)
		if node.Kind != "" {
			g.SetKind(node.Identifier, node.Kind)
		}
		if node.Description != "" {
			g.nodes[node.Identifier].Description = node.Description
		}
		if node.EntryPoint {
			g.MarkAsEntryPoint(node.Identifier)
		}
		if node.RecordID != "" {
			g.BindClassID(node.Identifier, node.RecordID)
		}
		for _, method := range node.Methods {
			g.AddMethod(node.Identifier, method)
		}
		for _, link := range node.Parameters {
			g.AddMethodParameter(node.Identifier, link)
		}
	}
	for _, edge := range doc.Edges {
		g.AddDependency(edge.From, edge.To)
	}
	return g, nil
}
