// Package graph holds the dependency graph of a build: named task nodes
// composed into sequences and parallel groups.
//
// A Graph is built once by a Builder and validated before anything runs.
// Composition nodes reference their children by name, so the same task can
// appear under several groups; references must form a DAG.
package graph

import (
	"fmt"
	"io"
	"strings"

	v1 "github.com/kination/assetflow/api/v1"
)

// Kind identifies how a node executes.
type Kind int

const (
	KindTask     Kind = iota // Runs a single task
	KindSequence             // Runs children in order
	KindParallel             // Runs children concurrently
)

func (k Kind) String() string {
	switch k {
	case KindTask:
		return "task"
	case KindSequence:
		return "sequence"
	case KindParallel:
		return "parallel"
	default:
		return "unknown"
	}
}

// Node is one vertex of the graph.
type Node struct {
	Name     string
	Kind     Kind
	Task     *v1.TaskSpec // set for KindTask
	Children []string     // set for KindSequence and KindParallel
}

// Graph is an immutable, validated set of nodes.
type Graph struct {
	nodes map[string]*Node
	order []string
}

// Node returns the node with the given name.
func (g *Graph) Node(name string) (*Node, bool) {
	n, ok := g.nodes[name]
	return n, ok
}

// Nodes returns all nodes in declaration order.
func (g *Graph) Nodes() []*Node {
	out := make([]*Node, 0, len(g.order))
	for _, name := range g.order {
		out = append(out, g.nodes[name])
	}
	return out
}

// Children resolves the children of n.
func (g *Graph) Children(n *Node) []*Node {
	out := make([]*Node, 0, len(n.Children))
	for _, c := range n.Children {
		out = append(out, g.nodes[c])
	}
	return out
}

// Tasks returns the task specs reachable from root, each once, in execution order.
func (g *Graph) Tasks(root string) ([]*v1.TaskSpec, error) {
	n, ok := g.nodes[root]
	if !ok {
		return nil, unknownf("%q", root)
	}
	seen := make(map[string]bool)
	var out []*v1.TaskSpec
	var walk func(n *Node)
	walk = func(n *Node) {
		if n.Kind == KindTask {
			if !seen[n.Name] {
				seen[n.Name] = true
				out = append(out, n.Task)
			}
			return
		}
		for _, c := range g.Children(n) {
			walk(c)
		}
	}
	walk(n)
	return out, nil
}

// Render writes an indented tree of root to w.
func (g *Graph) Render(w io.Writer, root string) error {
	n, ok := g.nodes[root]
	if !ok {
		return unknownf("%q", root)
	}
	var walk func(n *Node, depth int) error
	walk = func(n *Node, depth int) error {
		var label string
		if n.Kind == KindTask {
			label = fmt.Sprintf("%s (%s)", n.Name, n.Task.Type)
		} else {
			label = fmt.Sprintf("%s [%s]", n.Name, n.Kind)
		}
		if _, err := fmt.Fprintf(w, "%s%s\n", strings.Repeat("  ", depth), label); err != nil {
			return err
		}
		for _, c := range g.Children(n) {
			if err := walk(c, depth+1); err != nil {
				return err
			}
		}
		return nil
	}
	return walk(n, 0)
}
