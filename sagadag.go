package feesaga

import (
	"encoding/json"
	"fmt"

	"github.com/fortressi/feesaga/dag"
	"gonum.org/v1/gonum/graph/simple"
)

// SagaDag represents a saga DAG that is built on top of a regular Dag.
type SagaDag struct {
	Graph     *dag.Graph
	SagaName  SagaName
	StartNode int64
	EndNode   int64
	Nodes     map[int64]InternalNode
}

// NewSagaDag creates a new SagaDag by wrapping the DAG with Start and End nodes.
func NewSagaDag(d *Dag, params json.RawMessage) *SagaDag {
	sagaDag := &SagaDag{
		SagaName: d.SagaName,
		Graph:    d.Graph,
		Nodes:    d.nodes,
	}

	startNode := d.AddNode(&StartNode{Params: params})
	endNode := d.AddNode(&EndNode{})
	sagaDag.StartNode = int64(startNode)
	sagaDag.EndNode = int64(endNode)

	for _, firstNode := range d.firstNodes {
		d.SetEdge(simple.Edge{F: d.Node(int64(startNode)), T: d.Node(firstNode)})
	}
	for _, lastNode := range d.lastNodes {
		d.SetEdge(simple.Edge{F: d.Node(lastNode), T: d.Node(int64(endNode))})
	}

	return sagaDag
}

// GetSagaName returns the saga name.
func (s *SagaDag) GetSagaName() SagaName {
	return s.SagaName
}

// GetNode returns a node given its index.
func (s *SagaDag) GetNode(nodeID int64) (InternalNode, error) {
	node, exists := s.Nodes[nodeID]
	if !exists {
		return nil, fmt.Errorf("node not found: %d", nodeID)
	}
	return node, nil
}

// GetNodeIndex returns the index for a given node name.
func (s *SagaDag) GetNodeIndex(name string) (int64, error) {
	for id, node := range s.Nodes {
		if nodeName := node.NodeName(); nodeName != nil && string(*nodeName) == name {
			return id, nil
		}
	}
	return 0, fmt.Errorf("saga has no node named %q", name)
}

// ExportToDot renders the saga in Graphviz format.
func (s *SagaDag) ExportToDot() (string, error) {
	return s.Graph.ExportToDot(string(s.SagaName))
}
