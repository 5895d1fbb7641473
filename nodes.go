package feesaga

// Node is a node a caller appends to a DagBuilder.
//
// The only kind of node is an action node (ActionNodeKind), which executes a
// particular Action. Each node has a name and produces an output; nodes that
// depend on it (directly or indirectly) read that output by node name with
// LookupTyped.
type Node interface {
	nodeName() NodeName
	isValidNodeKind()
}

// ActionNodeKind is a DAG node that runs an Action.
type ActionNodeKind[T any, S SagaType[T]] struct {
	NodeName NodeName
	Action   Action[T, S]
	Label    string
}

func (a *ActionNodeKind[T, S]) isValidNodeKind() {}
func (a *ActionNodeKind[T, S]) nodeName() NodeName {
	return a.NodeName
}
