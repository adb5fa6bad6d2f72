package graph

import (
	v1 "github.com/kination/assetflow/api/v1"
)

// Manifest is a serializable description of the nodes reachable from Root.
type Manifest struct {
	Root  string         `json:"root" yaml:"root"`
	Nodes []ManifestNode `json:"nodes" yaml:"nodes"`
}

// ManifestNode describes one node. Task fields are set for task nodes only.
type ManifestNode struct {
	Name     string           `json:"name" yaml:"name"`
	Kind     string           `json:"kind" yaml:"kind"`
	Children []string         `json:"children,omitempty" yaml:"children,omitempty"`
	Type     v1.TaskType      `json:"type,omitempty" yaml:"type,omitempty"`
	Src      []string         `json:"src,omitempty" yaml:"src,omitempty"`
	Exclude  []string         `json:"exclude,omitempty" yaml:"exclude,omitempty"`
	Dest     string           `json:"dest,omitempty" yaml:"dest,omitempty"`
	Policy   v1.FailurePolicy `json:"policy,omitempty" yaml:"policy,omitempty"`
}

// Manifest lists the nodes reachable from root, parents before children,
// each once.
func (g *Graph) Manifest(root string) (*Manifest, error) {
	n, ok := g.nodes[root]
	if !ok {
		return nil, unknownf("%q", root)
	}

	m := &Manifest{Root: root}
	seen := make(map[string]bool)
	var walk func(n *Node)
	walk = func(n *Node) {
		if seen[n.Name] {
			return
		}
		seen[n.Name] = true

		mn := ManifestNode{Name: n.Name, Kind: n.Kind.String()}
		if n.Kind == KindTask {
			mn.Type = n.Task.Type
			mn.Src = n.Task.Src
			mn.Exclude = n.Task.Exclude
			mn.Dest = n.Task.Dest
			mn.Policy = n.Task.EffectivePolicy()
		} else {
			mn.Children = append([]string(nil), n.Children...)
		}
		m.Nodes = append(m.Nodes, mn)

		for _, c := range g.Children(n) {
			walk(c)
		}
	}
	walk(n)
	return m, nil
}
