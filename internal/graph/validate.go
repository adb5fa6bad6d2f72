package graph

// validateAcyclic runs a DFS over declaration order and reports the first
// back-edge it finds as a cycle path.
func (g *Graph) validateAcyclic() error {
	const (
		white = 0
		gray  = 1
		black = 2
	)

	color := make(map[string]int, len(g.nodes))
	var stack []string
	var cycle []string

	var dfs func(name string) bool
	dfs = func(name string) bool {
		color[name] = gray
		stack = append(stack, name)
		for _, c := range g.nodes[name].Children {
			switch color[c] {
			case white:
				if dfs(c) {
					return true
				}
			case gray:
				// Back-edge name -> c: the cycle is c ... name -> c.
				for i := len(stack) - 1; i >= 0; i-- {
					if stack[i] == c {
						cycle = append(append([]string(nil), stack[i:]...), c)
						break
					}
				}
				return true
			}
		}
		stack = stack[:len(stack)-1]
		color[name] = black
		return false
	}

	for _, name := range g.order {
		if color[name] != white {
			continue
		}
		if dfs(name) {
			return cycleError(cycle)
		}
	}
	return nil
}
