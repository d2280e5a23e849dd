package plan

// Graph 是计划步骤的依赖图。环上的步骤、依赖未知 ID 的步骤以及依赖它们的步骤都不可达。
type Graph struct {
	order      []string
	index      map[string]int
	deps       map[string][]string
	dependents map[string][]string
	reachable  map[string]bool
}

// NewGraph 根据 dependsOn 构建依赖图，并按 Kahn 算法计算可达步骤。
func NewGraph(steps []Step) *Graph {
	g := &Graph{
		order:      make([]string, 0, len(steps)),
		index:      make(map[string]int, len(steps)),
		deps:       make(map[string][]string, len(steps)),
		dependents: make(map[string][]string, len(steps)),
		reachable:  make(map[string]bool, len(steps)),
	}
	for i, step := range steps {
		if _, dup := g.index[step.ID]; dup {
			continue
		}
		g.index[step.ID] = i
		g.order = append(g.order, step.ID)
	}

	pending := make(map[string]int, len(g.order))
	broken := make(map[string]bool)
	for i, step := range steps {
		if g.index[step.ID] != i {
			continue
		}
		seen := make(map[string]struct{}, len(step.DependsOn))
		for _, dep := range step.DependsOn {
			if _, ok := seen[dep]; ok {
				continue
			}
			seen[dep] = struct{}{}
			if _, known := g.index[dep]; !known || dep == step.ID {
				broken[step.ID] = true
				continue
			}
			g.deps[step.ID] = append(g.deps[step.ID], dep)
			g.dependents[dep] = append(g.dependents[dep], step.ID)
		}
		pending[step.ID] = len(g.deps[step.ID])
	}

	queue := make([]string, 0, len(g.order))
	for _, id := range g.order {
		if pending[id] == 0 && !broken[id] {
			queue = append(queue, id)
		}
	}
	for len(queue) > 0 {
		id := queue[0]
		queue = queue[1:]
		g.reachable[id] = true
		for _, next := range g.dependents[id] {
			pending[next]--
			if pending[next] == 0 && !broken[next] {
				queue = append(queue, next)
			}
		}
	}
	return g
}

// Reachable 报告步骤是否可以被执行。
func (g *Graph) Reachable(id string) bool {
	return g.reachable[id]
}

// Unreachable 按声明顺序返回不可达的步骤 ID。
func (g *Graph) Unreachable() []string {
	var out []string
	for _, id := range g.order {
		if !g.reachable[id] {
			out = append(out, id)
		}
	}
	return out
}

// Dependencies 返回步骤的直接依赖。
func (g *Graph) Dependencies(id string) []string {
	return g.deps[id]
}

// Dependents 返回直接依赖该步骤的步骤。
func (g *Graph) Dependents(id string) []string {
	return g.dependents[id]
}

// Roots 按声明顺序返回没有依赖且可达的步骤。
func (g *Graph) Roots() []string {
	var out []string
	for _, id := range g.order {
		if g.reachable[id] && len(g.deps[id]) == 0 {
			out = append(out, id)
		}
	}
	return out
}
