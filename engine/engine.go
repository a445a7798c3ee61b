// Package engine provides the minimal execution host for a circuit of
// nodes connected by cables. Nodes expose typed compartments; a cable pulls
// a tensor from a source compartment and clamps it into a destination
// compartment. The circuit sequences everything single-threaded: per step,
// all cables transmit, then every node advances once, in insertion order.
package engine

import (
	"fmt"

	"github.com/openfluke/dendrite/synapse"
)

// Node is a stateful circuit element that advances one discrete step at a
// time. The synapse types satisfy this directly.
type Node interface {
	Name() string
	Step() error
	Reset()
}

// Cable carries a signal between two compartments. Pull reads the source
// compartment; Clamp writes the value into the destination compartment.
type Cable struct {
	Name  string
	Pull  func() *synapse.Tensor
	Clamp func(*synapse.Tensor)
}

// Circuit owns an ordered set of nodes and the cables between them.
type Circuit struct {
	nodes  []Node
	cables []Cable
}

// NewCircuit creates an empty circuit.
func NewCircuit() *Circuit {
	return &Circuit{}
}

// Add appends a node; nodes step in insertion order.
func (c *Circuit) Add(nodes ...Node) {
	c.nodes = append(c.nodes, nodes...)
}

// Connect registers a cable.
func (c *Circuit) Connect(cable Cable) {
	c.cables = append(c.cables, cable)
}

// Nodes returns the circuit's nodes in step order.
func (c *Circuit) Nodes() []Node {
	return c.nodes
}

// Step transmits every cable, then advances every node once.
func (c *Circuit) Step() error {
	for _, cable := range c.cables {
		if v := cable.Pull(); v != nil {
			cable.Clamp(v)
		}
	}
	for _, n := range c.nodes {
		if err := n.Step(); err != nil {
			return fmt.Errorf("node %s: %w", n.Name(), err)
		}
	}
	return nil
}

// Reset clears the transient state of every node between episodes.
func (c *Circuit) Reset() {
	for _, n := range c.nodes {
		n.Reset()
	}
}

// ScaleNode is an operator node that multiplies its input compartment by a
// fixed factor.
type ScaleNode struct {
	name  string
	Scale float32

	In  *synapse.Tensor
	Out *synapse.Tensor
}

// NewScaleNode creates a scaling operator.
func NewScaleNode(name string, scale float32) *ScaleNode {
	return &ScaleNode{name: name, Scale: scale}
}

func (n *ScaleNode) Name() string { return n.name }

func (n *ScaleNode) Step() error {
	if n.In == nil {
		return fmt.Errorf("%w: input compartment is empty", synapse.ErrShapeMismatch)
	}
	n.Out = n.In.Scale(n.Scale)
	return nil
}

func (n *ScaleNode) Reset() {
	if n.In != nil {
		n.In = synapse.ZerosLike(n.In)
	}
	if n.Out != nil {
		n.Out = synapse.ZerosLike(n.Out)
	}
}
