package task

// buildDependencyGraph builds an adjacency map id -> [dependency ids]
// from every task's Dependencies and Relationships.BlockedBy, keyed
// by ID (falling back to UID when ID is blank).
func buildDependencyGraph(all []*Task) map[string][]string {
	graph := make(map[string][]string, len(all))
	for _, t := range all {
		key := t.ID
		if key == "" {
			key = t.UID
		}
		graph[key] = append(append([]string(nil), t.Dependencies...), t.Relationships.BlockedBy...)
	}
	return graph
}

// detectCycleFrom runs a DFS from start and returns the first cycle
// path found reachable from it, or nil if the graph is acyclic from
// that node.
func detectCycleFrom(graph map[string][]string, start string) []string {
	const (
		unvisited = 0
		visiting  = 1
		done      = 2
	)
	state := make(map[string]int)
	var path []string

	var visit func(node string) []string
	visit = func(node string) []string {
		switch state[node] {
		case visiting:
			path = append(path, node)
			return append([]string(nil), path...)
		case done:
			return nil
		}
		state[node] = visiting
		path = append(path, node)
		for _, next := range graph[node] {
			if cyc := visit(next); cyc != nil {
				return cyc
			}
		}
		path = path[:len(path)-1]
		state[node] = done
		return nil
	}
	return visit(start)
}
