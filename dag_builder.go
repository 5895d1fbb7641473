package feesaga

import (
	"errors"
	"fmt"

	"github.com/fortressi/feesaga/set"
)

// DagBuilder builds a DAG that can be executed as a saga.
type DagBuilder[T any, S SagaType[T]] struct {
	sagaName SagaName
	dag      *Dag

	// the initial set of nodes (root nodes), if any have been added
	firstAdded []NodeIndex

	// the most-recently-added set of nodes (current leaf nodes)
	//
	// Every node added by Append depends on each node in lastAdded, and
	// then becomes the only member of lastAdded.
	lastAdded []NodeIndex

	nodeNames *set.Set[NodeName]
	registry  *ActionRegistry[T, S]
}

// NewDagBuilder creates a new DagBuilder. Appended actions are registered in
// registry if they are not already.
func NewDagBuilder[T any, S SagaType[T]](sagaName SagaName, registry *ActionRegistry[T, S]) *DagBuilder[T, S] {
	return &DagBuilder[T, S]{
		sagaName:  sagaName,
		dag:       NewDag(sagaName),
		nodeNames: &set.Set[NodeName]{},
		registry:  registry,
	}
}

// Append adds a single node that depends on every node added before it.
func (b *DagBuilder[T, S]) Append(userNode Node) error {
	if b.nodeNames.Contains(userNode.nodeName()) {
		return fmt.Errorf("node with name '%s' already exists", userNode.nodeName())
	}

	var id NodeIndex
	switch n := userNode.(type) {
	case *ActionNodeKind[T, S]:
		if n.Action == nil {
			return fmt.Errorf("node '%s' has no action", n.NodeName)
		}
		actionName := n.Action.Name()
		if _, err := b.registry.Get(actionName); err != nil {
			if regErr := b.registry.Register(n.Action); regErr != nil {
				return fmt.Errorf("failed to register action %s: %w", actionName, regErr)
			}
		}

		var err error
		id, err = b.addInternalNode(&ActionNodeInternal{
			Name:       n.NodeName,
			LabelValue: n.Label,
			ActionName: actionName,
		})
		if err != nil {
			return err
		}
	default:
		return fmt.Errorf("node with unrecognised type: %T", n)
	}

	b.nodeNames.Insert(userNode.nodeName())
	if len(b.firstAdded) == 0 {
		b.firstAdded = []NodeIndex{id}
	}
	b.lastAdded = []NodeIndex{id}
	return nil
}

func (b *DagBuilder[T, S]) addInternalNode(n InternalNode) (NodeIndex, error) {
	id := b.dag.AddNode(n)

	for _, node := range b.lastAdded {
		if err := b.dag.AddEdge(node, id); err != nil {
			return 0, fmt.Errorf("dependsOnLast: %w", err)
		}
	}
	return id, nil
}

// Build finalizes the DAG construction and returns the DAG.
func (b *DagBuilder[T, S]) Build() (*Dag, error) {
	if len(b.firstAdded) == 0 {
		return nil, errors.New("DAG has no root nodes")
	}
	if len(b.lastAdded) != 1 {
		return nil, errors.New("DAG must end with exactly one leaf node")
	}

	return &Dag{
		SagaName:   b.sagaName,
		Graph:      b.dag.Graph,
		nodes:      b.dag.nodes,
		firstNodes: toInt64s(b.firstAdded),
		lastNodes:  toInt64s(b.lastAdded),
	}, nil
}
