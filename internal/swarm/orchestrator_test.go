package swarm

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/mtzanidakis/sminos/internal/config"
)

type fakeDirectory struct {
	agents []SwarmCapableAgent
	err    error
}

func (f *fakeDirectory) FindCandidateAgents(ctx context.Context, criteria AgentCriteria, userID string) ([]SwarmCapableAgent, error) {
	return f.agents, f.err
}

type fakeStore struct {
	mu       sync.Mutex
	sessions map[string]*SwarmSession
}

func newFakeStore() *fakeStore {
	return &fakeStore{sessions: make(map[string]*SwarmSession)}
}

func (f *fakeStore) SaveSession(session *SwarmSession) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sessions[session.ID] = copySession(session)
	return nil
}

func (f *fakeStore) LoadSession(id string) (*SwarmSession, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	s, ok := f.sessions[id]
	if !ok {
		return nil, nil
	}
	return copySession(s), nil
}

func (f *fakeStore) LoadUserSessions(userID string) ([]*SwarmSession, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []*SwarmSession
	for _, s := range f.sessions {
		if s.UserID == userID {
			out = append(out, copySession(s))
		}
	}
	return out, nil
}

func (f *fakeStore) DeleteTerminalSessionsBefore(cutoff time.Time) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	n := 0
	for id, s := range f.sessions {
		if s.Status.Terminal() && s.LastActivity.Before(cutoff) {
			delete(f.sessions, id)
			n++
		}
	}
	return n, nil
}

func (f *fakeStore) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.sessions)
}

const breakdownJSON = `{
	"subtasks": [
		{"id": "1", "description": "Research X", "estimated_minutes": 20},
		{"id": "2", "description": "Summarize X", "estimated_minutes": 10},
		{"id": "3", "description": "Write a report", "estimated_minutes": 25}
	],
	"dependencies": [
		{"from": "1", "to": "2", "kind": "sequential"},
		{"from": "2", "to": "3", "kind": "sequential"}
	],
	"complexity": 6,
	"capabilities": ["research"]
}`

func testAgents() []SwarmCapableAgent {
	return []SwarmCapableAgent{
		{
			ID:   "alpha",
			Name: "alpha",
			Capabilities: []AgentCapability{
				{Name: "research", Proficiency: 90},
			},
			TrustScore:         90,
			CollaborationScore: 90,
			CompletionRate:     90,
			SatisfactionScore:  90,
			MaxLoad:            5,
			Roles:              map[string]float64{CoordinatorRole: 80},
		},
		{
			ID:   "beta",
			Name: "beta",
			Capabilities: []AgentCapability{
				{Name: "summarization", Proficiency: 85},
				{Name: "generation", Proficiency: 80},
			},
			TrustScore:         70,
			CollaborationScore: 70,
			CompletionRate:     70,
			SatisfactionScore:  70,
			MaxLoad:            5,
		},
	}
}

func newTestOrchestrator(t *testing.T, engine stubEngine, dir *fakeDirectory) (*Orchestrator, *fakeTransport, *fakeStore) {
	t.Helper()
	tr := newFakeTransport()
	st := newFakeStore()
	cfg := &config.Config{
		Monitor: config.MonitorConfig{Interval: time.Hour, HistoryCap: 10},
		Sweep:   config.SweepConfig{Schedule: `{"kind":"interval","interval_ms":10}`, Retention: 0},
	}
	o := NewOrchestrator(cfg, engine, dir, tr, st, nil)
	t.Cleanup(o.Close)
	return o, tr, st
}

func TestFormSwarm(t *testing.T) {
	o, tr, st := newTestOrchestrator(t, stubEngine{text: breakdownJSON}, &fakeDirectory{agents: testAgents()})

	task := ComplexTask{Description: "research, summarize and report on X", Priority: PriorityHigh}
	session, err := o.FormSwarm(context.Background(), task, "user-1")
	if err != nil {
		t.Fatal(err)
	}

	if session.Status != SessionActive {
		t.Errorf("expected active session, got %s", session.Status)
	}
	if len(session.AgentIDs) != 2 {
		t.Errorf("expected 2 agents, got %v", session.AgentIDs)
	}
	if session.CoordinatorID != "alpha" {
		t.Errorf("expected alpha as coordinator, got %s", session.CoordinatorID)
	}

	for _, sub := range session.Task.Decomposition.SubTasks {
		if sub.AssignedAgentID == "" {
			t.Errorf("subtask %s left unassigned", sub.ID)
		}
	}

	if len(tr.initialized) != 1 || tr.initialized[0] != session.ID {
		t.Errorf("expected swarm communication initialized, got %v", tr.initialized)
	}
	if st.count() != 1 {
		t.Errorf("expected session persisted, got %d", st.count())
	}

	stored, err := o.GetSession(session.ID)
	if err != nil {
		t.Fatal(err)
	}
	if stored.ID != session.ID {
		t.Errorf("expected same session back, got %s", stored.ID)
	}
}

func TestFormSwarm_NoAgents(t *testing.T) {
	o, tr, st := newTestOrchestrator(t, stubEngine{text: breakdownJSON}, &fakeDirectory{})

	_, err := o.FormSwarm(context.Background(), ComplexTask{Description: "anything"}, "user-1")
	if !errors.Is(err, ErrNoSuitableAgents) {
		t.Fatalf("expected ErrNoSuitableAgents, got %v", err)
	}

	// No partial session anywhere.
	if st.count() != 0 {
		t.Errorf("expected nothing persisted, got %d sessions", st.count())
	}
	if len(tr.initialized) != 0 {
		t.Errorf("expected no communication setup, got %v", tr.initialized)
	}
}

func TestFormSwarm_DirectoryError(t *testing.T) {
	o, _, _ := newTestOrchestrator(t, stubEngine{text: breakdownJSON}, &fakeDirectory{err: errors.New("directory down")})

	if _, err := o.FormSwarm(context.Background(), ComplexTask{Description: "anything"}, "user-1"); err == nil {
		t.Fatal("expected directory error to propagate")
	}
}

func TestCoordinateAgentHandoff(t *testing.T) {
	o, _, _ := newTestOrchestrator(t, stubEngine{text: breakdownJSON}, &fakeDirectory{agents: testAgents()})

	session, err := o.FormSwarm(context.Background(), ComplexTask{Description: "research X"}, "user-1")
	if err != nil {
		t.Fatal(err)
	}

	msg, err := o.CoordinateAgentHandoff(context.Background(), session.ID, "alpha", "beta", []byte(`{"findings":"..."}`))
	if err != nil {
		t.Fatal(err)
	}
	if msg.Type != MessageResultHandoff || msg.Priority != PriorityHigh || !msg.RequiresResponse {
		t.Errorf("unexpected handoff message shape: %+v", msg)
	}

	got, err := o.GetSession(session.ID)
	if err != nil {
		t.Fatal(err)
	}
	if len(got.MessageLog) != 1 || got.MessageLog[0].ID != msg.ID {
		t.Errorf("expected handoff in message log, got %+v", got.MessageLog)
	}
	if !got.LastActivity.After(session.LastActivity.Add(-time.Second)) {
		t.Error("expected activity timestamp touched")
	}

	if _, err := o.CoordinateAgentHandoff(context.Background(), "missing", "a", "b", nil); !errors.Is(err, ErrSessionNotFound) {
		t.Errorf("expected ErrSessionNotFound, got %v", err)
	}
}

func TestDissolveSwarm(t *testing.T) {
	o, tr, _ := newTestOrchestrator(t, stubEngine{text: breakdownJSON}, &fakeDirectory{agents: testAgents()})

	session, err := o.FormSwarm(context.Background(), ComplexTask{Description: "research X"}, "user-1")
	if err != nil {
		t.Fatal(err)
	}

	metrics, err := o.DissolveSwarm(context.Background(), session.ID)
	if err != nil {
		t.Fatal(err)
	}

	// No agent messages were exchanged: zero communication values, no error.
	if metrics.CommunicationEfficiency != 0 || metrics.CollaborationScore != 0 {
		t.Errorf("expected zero communication metrics, got %+v", metrics)
	}
	if metrics.TaskCompletionRate != 0 {
		t.Errorf("expected zero completion rate, got %v", metrics.TaskCompletionRate)
	}
	if metrics.TotalDuration <= 0 {
		t.Errorf("expected positive duration, got %v", metrics.TotalDuration)
	}

	if len(tr.dissolved) != 1 || tr.dissolved[0] != session.ID {
		t.Errorf("expected dissolution notified, got %v", tr.dissolved)
	}

	got, err := o.GetSession(session.ID)
	if err != nil {
		t.Fatal(err)
	}
	if got.Status != SessionDissolved {
		t.Errorf("expected dissolved, got %s", got.Status)
	}
	if got.CompletedAt == nil {
		t.Error("expected completion timestamp set")
	}

	// Dissolving again returns the stored metrics.
	again, err := o.DissolveSwarm(context.Background(), session.ID)
	if err != nil {
		t.Fatal(err)
	}
	if again == nil || again.TotalDuration != metrics.TotalDuration {
		t.Errorf("expected stored metrics on repeat dissolve, got %+v", again)
	}
}

func TestDissolveSwarm_Completed(t *testing.T) {
	o, _, _ := newTestOrchestrator(t, stubEngine{text: breakdownJSON}, &fakeDirectory{agents: testAgents()})

	session, err := o.FormSwarm(context.Background(), ComplexTask{Description: "research X"}, "user-1")
	if err != nil {
		t.Fatal(err)
	}

	for _, sub := range session.Task.Decomposition.SubTasks {
		if err := o.UpdateSubTask(session.ID, sub.ID, SubTaskInProgress); err != nil {
			t.Fatal(err)
		}
		if err := o.UpdateSubTask(session.ID, sub.ID, SubTaskCompleted); err != nil {
			t.Fatal(err)
		}
	}

	metrics, err := o.DissolveSwarm(context.Background(), session.ID)
	if err != nil {
		t.Fatal(err)
	}
	if metrics.TaskCompletionRate != 1 {
		t.Errorf("expected full completion, got %v", metrics.TaskCompletionRate)
	}

	got, err := o.GetSession(session.ID)
	if err != nil {
		t.Fatal(err)
	}
	if got.Status != SessionCompleted {
		t.Errorf("expected completed, got %s", got.Status)
	}
}

func TestDissolveSwarm_NotifyFailure(t *testing.T) {
	o, tr, st := newTestOrchestrator(t, stubEngine{text: breakdownJSON}, &fakeDirectory{agents: testAgents()})

	session, err := o.FormSwarm(context.Background(), ComplexTask{Description: "research X"}, "user-1")
	if err != nil {
		t.Fatal(err)
	}

	tr.mu.Lock()
	tr.dissolveErr = errors.New("nats down")
	tr.mu.Unlock()

	if _, err := o.DissolveSwarm(context.Background(), session.ID); err == nil {
		t.Fatal("expected dissolution error")
	}

	// The errored session is still persisted.
	stored, err := st.LoadSession(session.ID)
	if err != nil {
		t.Fatal(err)
	}
	if stored.Status != SessionError {
		t.Errorf("expected error status persisted, got %s", stored.Status)
	}
}

func TestGetSession_Rehydrates(t *testing.T) {
	o, _, st := newTestOrchestrator(t, stubEngine{text: breakdownJSON}, &fakeDirectory{agents: testAgents()})

	persisted := &SwarmSession{
		ID:           "restored",
		UserID:       "user-1",
		AgentIDs:     []string{"alpha"},
		Status:       SessionActive,
		CreatedAt:    time.Now().Add(-time.Minute),
		LastActivity: time.Now().Add(-time.Minute),
	}
	if err := st.SaveSession(persisted); err != nil {
		t.Fatal(err)
	}

	got, err := o.GetSession("restored")
	if err != nil {
		t.Fatal(err)
	}
	if got.ID != "restored" || got.Status != SessionActive {
		t.Fatalf("unexpected rehydrated session: %+v", got)
	}

	// Rehydrated sessions accept mutations.
	if err := o.UpdateSessionStatus("restored", SessionCompleting); err != nil {
		t.Fatal(err)
	}

	if _, err := o.GetSession("missing"); !errors.Is(err, ErrSessionNotFound) {
		t.Errorf("expected ErrSessionNotFound, got %v", err)
	}
}

func TestUpdateSessionStatus_TerminalRejected(t *testing.T) {
	o, _, _ := newTestOrchestrator(t, stubEngine{text: breakdownJSON}, &fakeDirectory{agents: testAgents()})

	session, err := o.FormSwarm(context.Background(), ComplexTask{Description: "research X"}, "user-1")
	if err != nil {
		t.Fatal(err)
	}
	if _, err := o.DissolveSwarm(context.Background(), session.ID); err != nil {
		t.Fatal(err)
	}

	err = o.UpdateSessionStatus(session.ID, SessionActive)
	if err == nil {
		t.Fatal("expected terminal session to reject status change")
	}
}

func TestAddResult_CompletesSubTask(t *testing.T) {
	o, _, _ := newTestOrchestrator(t, stubEngine{text: breakdownJSON}, &fakeDirectory{agents: testAgents()})

	session, err := o.FormSwarm(context.Background(), ComplexTask{Description: "research X"}, "user-1")
	if err != nil {
		t.Fatal(err)
	}

	subID := session.Task.Decomposition.SubTasks[0].ID
	if err := o.UpdateSubTask(session.ID, subID, SubTaskInProgress); err != nil {
		t.Fatal(err)
	}
	if err := o.AddResult(session.ID, SwarmResult{SubTaskID: subID, AgentID: "alpha", Output: []byte(`{"ok":true}`)}); err != nil {
		t.Fatal(err)
	}

	got, err := o.GetSession(session.ID)
	if err != nil {
		t.Fatal(err)
	}
	if len(got.Results) != 1 {
		t.Fatalf("expected 1 result, got %d", len(got.Results))
	}
	if got.Task.Decomposition.SubTasks[0].Status != SubTaskCompleted {
		t.Errorf("expected subtask completed, got %s", got.Task.Decomposition.SubTasks[0].Status)
	}
}

func TestGetActiveSessionsForUser(t *testing.T) {
	o, _, _ := newTestOrchestrator(t, stubEngine{text: breakdownJSON}, &fakeDirectory{agents: testAgents()})

	first, err := o.FormSwarm(context.Background(), ComplexTask{Description: "research X"}, "user-1")
	if err != nil {
		t.Fatal(err)
	}
	if _, err := o.FormSwarm(context.Background(), ComplexTask{Description: "research Y"}, "user-2"); err != nil {
		t.Fatal(err)
	}

	sessions, err := o.GetActiveSessionsForUser("user-1")
	if err != nil {
		t.Fatal(err)
	}
	if len(sessions) != 1 || sessions[0].ID != first.ID {
		t.Fatalf("expected only user-1's session, got %+v", sessions)
	}

	if _, err := o.DissolveSwarm(context.Background(), first.ID); err != nil {
		t.Fatal(err)
	}
	sessions, err = o.GetActiveSessionsForUser("user-1")
	if err != nil {
		t.Fatal(err)
	}
	if len(sessions) != 0 {
		t.Fatalf("expected no active sessions after dissolve, got %+v", sessions)
	}
}

func TestMonitorSwarmHealth(t *testing.T) {
	o, _, _ := newTestOrchestrator(t, stubEngine{text: breakdownJSON}, &fakeDirectory{agents: testAgents()})

	session, err := o.FormSwarm(context.Background(), ComplexTask{Description: "research X"}, "user-1")
	if err != nil {
		t.Fatal(err)
	}

	report, err := o.MonitorSwarmHealth(session.ID)
	if err != nil {
		t.Fatal(err)
	}
	if report.SessionID != session.ID {
		t.Errorf("expected report for %s, got %s", session.ID, report.SessionID)
	}
	if len(report.Agents) != len(session.AgentIDs) {
		t.Errorf("expected %d agent statuses, got %d", len(session.AgentIDs), len(report.Agents))
	}
	if len(o.HealthHistory(session.ID)) != 1 {
		t.Errorf("expected one stored report")
	}

	if _, err := o.MonitorSwarmHealth("missing"); !errors.Is(err, ErrSessionNotFound) {
		t.Errorf("expected ErrSessionNotFound, got %v", err)
	}
}

func TestRunSweeper(t *testing.T) {
	o, _, st := newTestOrchestrator(t, stubEngine{text: breakdownJSON}, &fakeDirectory{agents: testAgents()})

	done := &SwarmSession{
		ID:           "old",
		UserID:       "user-1",
		Status:       SessionDissolved,
		CreatedAt:    time.Now().Add(-time.Hour),
		LastActivity: time.Now().Add(-time.Hour),
	}
	if err := st.SaveSession(done); err != nil {
		t.Fatal(err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go o.RunSweeper(ctx)

	deadline := time.Now().Add(2 * time.Second)
	for st.count() != 0 {
		if time.Now().After(deadline) {
			t.Fatal("expected sweeper to delete the terminal session")
		}
		time.Sleep(10 * time.Millisecond)
	}
}
