package swarm

import (
	"errors"
	"fmt"
)

// GraphValidation is the outcome of checking a decomposition's dependency
// edges. Errors make the graph unusable (unknown endpoints, cycles);
// warnings flag anomalies the caller may tolerate (duplicate edges).
type GraphValidation struct {
	Errors   []string
	Warnings []string
}

func (v GraphValidation) Valid() bool {
	return len(v.Errors) == 0
}

// ValidateDecomposition checks that every dependency edge references an
// existing subtask id and that the edges form a DAG.
func ValidateDecomposition(d *TaskDecomposition) GraphValidation {
	var v GraphValidation

	known := make(map[string]bool, len(d.SubTasks))
	for _, st := range d.SubTasks {
		known[st.ID] = true
	}

	adj := make(map[string][]string)
	seen := make(map[[2]string]bool)
	for _, dep := range d.Dependencies {
		if !known[dep.FromTaskID] {
			v.Errors = append(v.Errors, fmt.Sprintf("dependency references unknown subtask %q", dep.FromTaskID))
			continue
		}
		if !known[dep.ToTaskID] {
			v.Errors = append(v.Errors, fmt.Sprintf("dependency references unknown subtask %q", dep.ToTaskID))
			continue
		}
		if dep.FromTaskID == dep.ToTaskID {
			v.Errors = append(v.Errors, fmt.Sprintf("subtask %q depends on itself", dep.FromTaskID))
			continue
		}
		key := [2]string{dep.FromTaskID, dep.ToTaskID}
		if seen[key] {
			v.Warnings = append(v.Warnings, fmt.Sprintf("duplicate dependency %s -> %s", dep.FromTaskID, dep.ToTaskID))
			continue
		}
		seen[key] = true
		adj[dep.FromTaskID] = append(adj[dep.FromTaskID], dep.ToTaskID)
	}

	// Cycle detection: DFS with a recursion stack.
	visited := make(map[string]bool)
	onStack := make(map[string]bool)

	var dfs func(node string) bool
	dfs = func(node string) bool {
		visited[node] = true
		onStack[node] = true
		for _, next := range adj[node] {
			if onStack[next] {
				return true
			}
			if !visited[next] && dfs(next) {
				return true
			}
		}
		onStack[node] = false
		return false
	}

	for _, st := range d.SubTasks {
		if !visited[st.ID] && dfs(st.ID) {
			v.Errors = append(v.Errors, "dependency graph contains a cycle")
			break
		}
	}

	return v
}

// OptimizeTaskOrder computes one valid topological order of the subtask
// ids using Kahn's algorithm. Ties between ready subtasks are broken by
// insertion order, so independent subtasks keep their decomposition order
// and can be scheduled in parallel by the caller.
func OptimizeTaskOrder(d *TaskDecomposition) ([]string, error) {
	inDegree := make(map[string]int, len(d.SubTasks))
	adj := make(map[string][]string)
	for _, st := range d.SubTasks {
		inDegree[st.ID] = 0
	}

	seen := make(map[[2]string]bool)
	for _, dep := range d.Dependencies {
		if _, ok := inDegree[dep.FromTaskID]; !ok {
			return nil, fmt.Errorf("dependency references unknown subtask %q", dep.FromTaskID)
		}
		if _, ok := inDegree[dep.ToTaskID]; !ok {
			return nil, fmt.Errorf("dependency references unknown subtask %q", dep.ToTaskID)
		}
		key := [2]string{dep.FromTaskID, dep.ToTaskID}
		if seen[key] {
			continue
		}
		seen[key] = true
		adj[dep.FromTaskID] = append(adj[dep.FromTaskID], dep.ToTaskID)
		inDegree[dep.ToTaskID]++
	}

	order := make([]string, 0, len(d.SubTasks))
	emitted := make(map[string]bool, len(d.SubTasks))

	for len(order) < len(d.SubTasks) {
		progressed := false
		for _, st := range d.SubTasks {
			if emitted[st.ID] || inDegree[st.ID] != 0 {
				continue
			}
			emitted[st.ID] = true
			order = append(order, st.ID)
			for _, next := range adj[st.ID] {
				inDegree[next]--
			}
			progressed = true
			break
		}
		if !progressed {
			return nil, errors.New("dependency graph contains a cycle")
		}
	}

	return order, nil
}
