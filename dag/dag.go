// Package dag is a thin layer over gonum's directed graph that carries DOT
// attributes on the graph and its nodes.
package dag

import (
	"fmt"

	"gonum.org/v1/gonum/graph"
	"gonum.org/v1/gonum/graph/encoding"
	"gonum.org/v1/gonum/graph/encoding/dot"
	"gonum.org/v1/gonum/graph/simple"
)

// Graph is a directed graph whose nodes carry DOT attributes.
type Graph struct {
	*simple.DirectedGraph
	attrs encoding.Attributes
}

// New returns an empty Graph laid out left to right when rendered.
func New() *Graph {
	g := &Graph{DirectedGraph: simple.NewDirectedGraph()}
	_ = g.attrs.SetAttribute(encoding.Attribute{Key: "rankdir", Value: "LR"})
	return g
}

// NewNode returns a new attributed node that is not yet part of the graph.
func (g *Graph) NewNode() *Node {
	return &Node{Node: g.DirectedGraph.NewNode()}
}

// DOTAttributers implements dot.Attributers.
func (g *Graph) DOTAttributers() (graphAttrs, nodeAttrs, edgeAttrs encoding.Attributer) {
	return &g.attrs, &encoding.Attributes{}, &encoding.Attributes{}
}

// Node is a graph node with DOT attributes.
type Node struct {
	graph.Node
	attrs encoding.Attributes
}

// Attributes implements encoding.Attributer.
func (n *Node) Attributes() []encoding.Attribute {
	return n.attrs.Attributes()
}

// SetAttribute sets a DOT attribute on the node.
func (n *Node) SetAttribute(attr encoding.Attribute) error {
	return n.attrs.SetAttribute(attr)
}

// Attribute returns the value of the named attribute, or "" if unset.
func (n *Node) Attribute(key string) string {
	for _, attr := range n.attrs {
		if attr.Key == key {
			return attr.Value
		}
	}
	return ""
}

// ExportToDot exports the graph to Graphviz .dot format.
func (g *Graph) ExportToDot(name string) (string, error) {
	data, err := dot.Marshal(g, name, "", "  ")
	if err != nil {
		return "", fmt.Errorf("failed to export DAG to DOT format: %w", err)
	}
	return string(data), nil
}
