package swarm

import (
	"testing"
)

func decomposition(ids []string, deps ...TaskDependency) *TaskDecomposition {
	d := &TaskDecomposition{Dependencies: deps}
	for _, id := range ids {
		d.SubTasks = append(d.SubTasks, SubTask{ID: id, Status: SubTaskPending})
	}
	return d
}

func dep(from, to string) TaskDependency {
	return TaskDependency{FromTaskID: from, ToTaskID: to, Kind: DependencySequential}
}

func TestValidateDecomposition_Valid(t *testing.T) {
	d := decomposition([]string{"a", "b", "c"}, dep("a", "b"), dep("b", "c"))
	v := ValidateDecomposition(d)
	if !v.Valid() {
		t.Fatalf("expected valid graph, got errors: %v", v.Errors)
	}
	if len(v.Warnings) != 0 {
		t.Errorf("expected no warnings, got %v", v.Warnings)
	}
}

func TestValidateDecomposition_UnknownEndpoint(t *testing.T) {
	d := decomposition([]string{"a", "b"}, dep("a", "missing"))
	v := ValidateDecomposition(d)
	if v.Valid() {
		t.Fatal("expected error for unknown endpoint")
	}
}

func TestValidateDecomposition_Cycle(t *testing.T) {
	d := decomposition([]string{"a", "b", "c"}, dep("a", "b"), dep("b", "c"), dep("c", "a"))
	v := ValidateDecomposition(d)
	if v.Valid() {
		t.Fatal("expected cycle error")
	}
}

func TestValidateDecomposition_SelfLoop(t *testing.T) {
	d := decomposition([]string{"a", "b"}, dep("a", "a"))
	v := ValidateDecomposition(d)
	if v.Valid() {
		t.Fatal("expected error for self-loop")
	}
}

func TestValidateDecomposition_DuplicateEdgeWarns(t *testing.T) {
	d := decomposition([]string{"a", "b"}, dep("a", "b"), dep("a", "b"))
	v := ValidateDecomposition(d)
	if !v.Valid() {
		t.Fatalf("duplicate edge should not be fatal, got errors: %v", v.Errors)
	}
	if len(v.Warnings) != 1 {
		t.Errorf("expected 1 warning, got %v", v.Warnings)
	}
}

func TestOptimizeTaskOrder_Sequential(t *testing.T) {
	// Research -> summarize -> report, sequential 1->2->3
	d := decomposition([]string{"1", "2", "3"}, dep("1", "2"), dep("2", "3"))
	order, err := OptimizeTaskOrder(d)
	if err != nil {
		t.Fatal(err)
	}
	if len(order) != 3 || order[0] != "1" || order[1] != "2" || order[2] != "3" {
		t.Fatalf("expected [1 2 3], got %v", order)
	}
}

func TestOptimizeTaskOrder_InsertionOrderTieBreak(t *testing.T) {
	// b and c both depend on a; b precedes c in the decomposition.
	d := decomposition([]string{"a", "c", "b"}, dep("a", "b"), dep("a", "c"))
	order, err := OptimizeTaskOrder(d)
	if err != nil {
		t.Fatal(err)
	}
	if order[0] != "a" || order[1] != "c" || order[2] != "b" {
		t.Fatalf("expected insertion-order tie break [a c b], got %v", order)
	}
}

func TestOptimizeTaskOrder_Permutation(t *testing.T) {
	d := decomposition([]string{"a", "b", "c", "d", "e"},
		dep("a", "c"), dep("b", "c"), dep("c", "d"), dep("c", "e"))
	order, err := OptimizeTaskOrder(d)
	if err != nil {
		t.Fatal(err)
	}
	if len(order) != 5 {
		t.Fatalf("expected 5 ids, got %d", len(order))
	}

	pos := make(map[string]int, len(order))
	for i, id := range order {
		if _, dup := pos[id]; dup {
			t.Fatalf("id %s appears twice in %v", id, order)
		}
		pos[id] = i
	}
	for _, e := range d.Dependencies {
		if pos[e.FromTaskID] > pos[e.ToTaskID] {
			t.Errorf("edge %s -> %s violated in order %v", e.FromTaskID, e.ToTaskID, order)
		}
	}
}

func TestOptimizeTaskOrder_Cycle(t *testing.T) {
	d := decomposition([]string{"a", "b"}, dep("a", "b"), dep("b", "a"))
	if _, err := OptimizeTaskOrder(d); err == nil {
		t.Fatal("expected cycle error")
	}
}

func TestSubTaskTransitions(t *testing.T) {
	st := &SubTask{ID: "a", Status: SubTaskPending}

	if err := st.TransitionTo(SubTaskCompleted); err == nil {
		t.Fatal("expected error for pending -> completed")
	}
	if err := st.TransitionTo(SubTaskInProgress); err != nil {
		t.Fatalf("pending -> in_progress: %v", err)
	}
	if st.StartedAt == nil {
		t.Error("expected StartedAt to be set")
	}
	if err := st.TransitionTo(SubTaskCompleted); err != nil {
		t.Fatalf("in_progress -> completed: %v", err)
	}
	if st.CompletedAt == nil {
		t.Error("expected CompletedAt to be set")
	}

	// No regression from a terminal status.
	for _, next := range []SubTaskStatus{SubTaskPending, SubTaskInProgress, SubTaskFailed} {
		if err := st.TransitionTo(next); err == nil {
			t.Errorf("expected error for completed -> %s", next)
		}
	}
}
