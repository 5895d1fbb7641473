package feesaga

import (
	"encoding/json"
)

// InternalNode represents an internal node in the saga DAG.
type InternalNode interface {
	NodeName() *NodeName
	Label() string
}

// StartNode represents the start of the DAG. It carries the saga parameters.
type StartNode struct {
	Params json.RawMessage
}

func (n *StartNode) NodeName() *NodeName {
	return nil
}

func (n *StartNode) Label() string {
	return "(start node)"
}

// EndNode represents the end of the DAG.
type EndNode struct{}

func (n *EndNode) NodeName() *NodeName {
	return nil
}

func (n *EndNode) Label() string {
	return "(end node)"
}

// ActionNodeInternal represents an action node in the DAG.
type ActionNodeInternal struct {
	Name       NodeName
	LabelValue string
	ActionName ActionName
}

func (n *ActionNodeInternal) NodeName() *NodeName {
	return &n.Name
}

func (n *ActionNodeInternal) Label() string {
	return n.LabelValue
}
