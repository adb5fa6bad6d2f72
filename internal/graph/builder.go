package graph

import (
	v1 "github.com/kination/assetflow/api/v1"
)

// Builder provides a fluent API for declaring a graph.
// Errors are collected and reported by Build.
type Builder struct {
	nodes []*Node
}

// NewBuilder creates an empty builder.
func NewBuilder() *Builder {
	return &Builder{}
}

// AddTask declares a task node named after the task.
func (b *Builder) AddTask(task v1.TaskSpec) *Builder {
	t := task
	b.nodes = append(b.nodes, &Node{
		Name: t.Name,
		Kind: KindTask,
		Task: &t,
	})
	return b
}

// AddSequential declares a node running children one after another.
func (b *Builder) AddSequential(name string, children ...string) *Builder {
	b.nodes = append(b.nodes, &Node{
		Name:     name,
		Kind:     KindSequence,
		Children: append([]string(nil), children...),
	})
	return b
}

// AddParallel declares a node running children concurrently.
func (b *Builder) AddParallel(name string, children ...string) *Builder {
	b.nodes = append(b.nodes, &Node{
		Name:     name,
		Kind:     KindParallel,
		Children: append([]string(nil), children...),
	})
	return b
}

// Build validates the declarations and returns the graph.
func (b *Builder) Build() (*Graph, error) {
	g := &Graph{nodes: make(map[string]*Node, len(b.nodes))}

	for _, n := range b.nodes {
		if n.Name == "" {
			return nil, invalidf("node with empty name")
		}
		if _, dup := g.nodes[n.Name]; dup {
			return nil, invalidf("duplicate node %q", n.Name)
		}
		if n.Kind != KindTask && len(n.Children) == 0 {
			return nil, invalidf("%s %q has no children", n.Kind, n.Name)
		}
		g.nodes[n.Name] = n
		g.order = append(g.order, n.Name)
	}

	for _, name := range g.order {
		for _, c := range g.nodes[name].Children {
			if _, ok := g.nodes[c]; !ok {
				return nil, unknownf("%q referenced by %q", c, name)
			}
		}
	}

	if err := g.validateAcyclic(); err != nil {
		return nil, err
	}
	return g, nil
}
