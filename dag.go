package feesaga

import (
	"fmt"

	"github.com/fortressi/feesaga/dag"
	"gonum.org/v1/gonum/graph/encoding"
	"gonum.org/v1/gonum/graph/simple"
)

// SagaName represents a human-readable name for a particular saga.
type SagaName string

// String returns the string representation of the SagaName.
func (s SagaName) String() string {
	return string(s)
}

// NodeName represents a unique name for a saga Node.
type NodeName string

// NodeIndex is the graph ID of a node in a Dag.
type NodeIndex int64

// Dag is a directed acyclic graph of saga nodes under construction.
type Dag struct {
	*dag.Graph
	SagaName   SagaName
	nodes      map[int64]InternalNode
	firstNodes []int64
	lastNodes  []int64
}

// NewDag creates a new empty Dag.
func NewDag(sagaName SagaName) *Dag {
	return &Dag{
		Graph:    dag.New(),
		SagaName: sagaName,
		nodes:    make(map[int64]InternalNode),
	}
}

// AddNode adds an internal node to the DAG.
func (d *Dag) AddNode(node InternalNode) NodeIndex {
	gonumNode := d.NewNode()

	if nodeName := node.NodeName(); nodeName != nil {
		// Attribute errors only happen for empty keys.
		_ = gonumNode.SetAttribute(encoding.Attribute{Key: "node_name", Value: string(*nodeName)})
	}
	_ = gonumNode.SetAttribute(encoding.Attribute{Key: "label", Value: node.Label()})

	d.Graph.AddNode(gonumNode)
	d.nodes[gonumNode.ID()] = node
	return NodeIndex(gonumNode.ID())
}

// AddEdge adds a directed edge between two nodes in the DAG.
func (d *Dag) AddEdge(fromID, toID NodeIndex) error {
	fromNode := d.Node(int64(fromID))
	if fromNode == nil {
		return fmt.Errorf("node %d does not exist", fromID)
	}
	toNode := d.Node(int64(toID))
	if toNode == nil {
		return fmt.Errorf("node %d does not exist", toID)
	}

	d.SetEdge(simple.Edge{F: fromNode, T: toNode})
	return nil
}

// GetNode retrieves an internal node by its graph ID.
func (d *Dag) GetNode(id int64) (InternalNode, error) {
	node, exists := d.nodes[id]
	if !exists {
		return nil, fmt.Errorf("node not found: %d", id)
	}
	return node, nil
}

func toInt64s(in []NodeIndex) []int64 {
	out := make([]int64, len(in))
	for i := range in {
		out[i] = int64(in[i])
	}
	return out
}
