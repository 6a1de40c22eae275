package graph

import (
	"context"
	"sort"
)

// pathExists reports whether `to` is reachable from `from` by following
// milestone -> prerequisite edges. Iterative DFS; the edge set is assumed
// acyclic so no visited bookkeeping beyond the seen set is needed.
func pathExists(adj *adjacency, from, to string) bool {
	if from == to {
		return true
	}
	seen := map[string]bool{from: true}
	stack := []string{from}
	for len(stack) > 0 {
		current := stack[len(stack)-1]
		stack = stack[:len(stack)-1]
		for _, edge := range adj.byMilestone[current] {
			next := edge.PrerequisiteID
			if next == to {
				return true
			}
			if !seen[next] {
				seen[next] = true
				stack = append(stack, next)
			}
		}
	}
	return false
}

// DetectAllCycles audits the full edge set with a recursion-stack DFS. Each
// back edge to a node currently on the stack yields one cycle, reported as
// the stack slice from the repeated node back to itself. Normal operation
// never lets a cycle form; this exists for system audits.
func (s *Store) DetectAllCycles(ctx context.Context) ([][]string, error) {
	adj, err := s.load(ctx)
	if err != nil {
		return nil, err
	}

	const (
		unvisited = 0
		onStack   = 1
		done      = 2
	)
	state := make(map[string]int)
	stack := make([]string, 0)
	cycles := make([][]string, 0)

	var visit func(id string)
	visit = func(id string) {
		state[id] = onStack
		stack = append(stack, id)
		for _, edge := range adj.byMilestone[id] {
			next := edge.PrerequisiteID
			switch state[next] {
			case unvisited:
				visit(next)
			case onStack:
				for i, node := range stack {
					if node == next {
						cycle := make([]string, 0, len(stack)-i+1)
						cycle = append(cycle, stack[i:]...)
						cycle = append(cycle, next)
						cycles = append(cycles, cycle)
						break
					}
				}
			}
		}
		stack = stack[:len(stack)-1]
		state[id] = done
	}

	roots := make([]string, 0, len(adj.byMilestone))
	for id := range adj.byMilestone {
		roots = append(roots, id)
	}
	sort.Strings(roots)
	for _, id := range roots {
		if state[id] == unvisited {
			visit(id)
		}
	}
	return cycles, nil
}
