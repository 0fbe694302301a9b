package swarm

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/mtzanidakis/sminos/internal/config"
	"github.com/mtzanidakis/sminos/internal/reason"
	"github.com/mtzanidakis/sminos/internal/schedule"
)

var (
	ErrSessionNotFound  = errors.New("swarm session not found")
	ErrNoSuitableAgents = errors.New("no suitable agents available for task")
	ErrSessionTerminal  = errors.New("swarm session already terminal")
)

// Orchestrator is the facade over the swarm core: it forms swarms for
// complex tasks, owns session lifecycle and persistence, relays
// handoffs, and answers health queries. All session mutations are
// serialized per session.
type Orchestrator struct {
	decomposer *Decomposer
	directory  Directory
	transport  Transport
	store      SessionStore
	monitor    *Monitor
	sweep      config.SweepConfig

	mu       sync.RWMutex
	sessions map[string]*sessionEntry
}

type sessionEntry struct {
	mu      sync.Mutex
	session *SwarmSession
}

func NewOrchestrator(cfg *config.Config, engine reason.Engine, directory Directory, transport Transport, store SessionStore, sampler ErrorRateSampler) *Orchestrator {
	return &Orchestrator{
		decomposer: NewDecomposer(engine),
		directory:  directory,
		transport:  transport,
		store:      store,
		monitor:    NewMonitor(cfg.Monitor, transport, sampler),
		sweep:      cfg.Sweep,
		sessions:   make(map[string]*sessionEntry),
	}
}

// FormSwarm runs the full formation pipeline for a task: decompose,
// order the subtask graph, fetch and select agents, pick a coordinator,
// open communication, assign subtasks, then activate and persist the
// session. A pool with no suitable agents aborts formation; no partial
// session is created or persisted.
func (o *Orchestrator) FormSwarm(ctx context.Context, task ComplexTask, userID string) (*SwarmSession, error) {
	if task.ID == "" {
		task.ID = uuid.New().String()
	}
	if task.Priority == "" {
		task.Priority = PriorityMedium
	}

	decomp := o.decomposer.Decompose(ctx, &task)
	order, err := OptimizeTaskOrder(decomp)
	if err != nil {
		return nil, fmt.Errorf("order subtasks: %w", err)
	}
	reorderSubTasks(decomp, order)
	task.Decomposition = decomp

	candidates, err := o.directory.FindCandidateAgents(ctx, AgentCriteria{
		Capabilities:  decomp.RequiredCapabilities,
		AvailableOnly: true,
		SortBy:        "trust",
	}, userID)
	if err != nil {
		return nil, fmt.Errorf("find candidate agents: %w", err)
	}

	selected := SelectOptimalAgents(decomp, candidates)
	if len(selected) == 0 {
		return nil, ErrNoSuitableAgents
	}
	coordinator, _ := SelectCoordinator(selected)

	now := time.Now()
	session := &SwarmSession{
		ID:            uuid.New().String(),
		UserID:        userID,
		CoordinatorID: coordinator.ID,
		Task:          task,
		Status:        SessionForming,
		CreatedAt:     now,
		LastActivity:  now,
	}
	for _, a := range selected {
		session.AgentIDs = append(session.AgentIDs, a.ID)
	}

	if err := o.transport.InitializeSwarmCommunication(ctx, session); err != nil {
		return nil, fmt.Errorf("initialize swarm communication: %w", err)
	}

	NewAssigner(o.transport).Assign(ctx, session, selected)

	session.Status = SessionActive
	session.LastActivity = time.Now()

	o.mu.Lock()
	o.sessions[session.ID] = &sessionEntry{session: session}
	o.mu.Unlock()

	o.persist(session)
	o.startMonitoring(session.ID)
	o.transport.PublishEvent(session.ID, "swarm_formed", map[string]any{
		"task":        task.ID,
		"agents":      session.AgentIDs,
		"coordinator": session.CoordinatorID,
		"subtasks":    len(decomp.SubTasks),
	})

	slog.Info("swarm formed",
		"session", session.ID,
		"task", task.ID,
		"agents", len(session.AgentIDs),
		"coordinator", session.CoordinatorID)

	return copySession(session), nil
}

// CoordinateAgentHandoff relays a result handoff between two agents in
// the session: a high-priority message requiring acknowledgement,
// appended to the session log on successful delivery.
func (o *Orchestrator) CoordinateAgentHandoff(ctx context.Context, sessionID, fromAgentID, toAgentID string, payload json.RawMessage) (*AgentMessage, error) {
	entry, err := o.entry(sessionID)
	if err != nil {
		return nil, err
	}

	msg := AgentMessage{
		ID:               uuid.New().String(),
		SenderID:         fromAgentID,
		ReceiverID:       toAgentID,
		Type:             MessageResultHandoff,
		Payload:          payload,
		Timestamp:        time.Now(),
		Priority:         PriorityHigh,
		SessionID:        sessionID,
		RequiresResponse: true,
	}

	if err := o.transport.SendMessage(ctx, msg); err != nil {
		return nil, fmt.Errorf("send handoff: %w", err)
	}

	entry.mu.Lock()
	entry.session.MessageLog = append(entry.session.MessageLog, msg)
	entry.session.LastActivity = msg.Timestamp
	o.persist(entry.session)
	entry.mu.Unlock()

	o.transport.PublishEvent(sessionID, "handoff", map[string]any{
		"from": fromAgentID,
		"to":   toAgentID,
	})

	return &msg, nil
}

// RecordMessage appends an observed agent message to the session log.
func (o *Orchestrator) RecordMessage(sessionID string, msg AgentMessage) error {
	entry, err := o.entry(sessionID)
	if err != nil {
		return err
	}

	if msg.ID == "" {
		msg.ID = uuid.New().String()
	}
	if msg.Timestamp.IsZero() {
		msg.Timestamp = time.Now()
	}
	msg.SessionID = sessionID

	entry.mu.Lock()
	entry.session.MessageLog = append(entry.session.MessageLog, msg)
	entry.session.LastActivity = msg.Timestamp
	o.persist(entry.session)
	entry.mu.Unlock()
	return nil
}

// MonitorSwarmHealth computes an on-demand health report for a session.
func (o *Orchestrator) MonitorSwarmHealth(sessionID string) (SwarmHealthReport, error) {
	entry, err := o.entry(sessionID)
	if err != nil {
		return SwarmHealthReport{}, err
	}

	entry.mu.Lock()
	snapshot := copySession(entry.session)
	entry.mu.Unlock()

	return o.monitor.Check(snapshot), nil
}

// HealthHistory returns the stored reports for a session, oldest first.
func (o *Orchestrator) HealthHistory(sessionID string) []SwarmHealthReport {
	return o.monitor.History(sessionID)
}

// DissolveSwarm winds a session down: monitoring stops, agents are
// notified, final performance metrics are computed, and the session
// reaches a terminal status. A notification failure marks the session
// as errored but still persists it. Dissolving an already terminal
// session returns its stored metrics.
func (o *Orchestrator) DissolveSwarm(ctx context.Context, sessionID string) (*SwarmPerformanceMetrics, error) {
	entry, err := o.entry(sessionID)
	if errors.Is(err, ErrSessionNotFound) {
		if stored, lerr := o.store.LoadSession(sessionID); lerr == nil && stored != nil && stored.Status.Terminal() {
			return stored.Metrics, nil
		}
		return nil, err
	}
	if err != nil {
		return nil, err
	}

	entry.mu.Lock()
	defer entry.mu.Unlock()
	session := entry.session

	if session.Status.Terminal() {
		return session.Metrics, nil
	}

	session.Status = SessionCompleting
	o.persist(session)
	o.monitor.Stop(sessionID)
	o.monitor.Forget(sessionID)

	if err := o.transport.NotifySwarmDissolution(ctx, session); err != nil {
		session.Status = SessionError
		session.LastActivity = time.Now()
		o.persist(session)
		o.mu.Lock()
		delete(o.sessions, sessionID)
		o.mu.Unlock()
		return nil, fmt.Errorf("notify dissolution: %w", err)
	}

	now := time.Now()
	metrics := computeMetrics(session, now)
	session.Metrics = metrics
	session.CompletedAt = &now
	session.LastActivity = now
	if metrics.TaskCompletionRate >= 1 {
		session.Status = SessionCompleted
	} else {
		session.Status = SessionDissolved
	}
	o.persist(session)

	o.mu.Lock()
	delete(o.sessions, sessionID)
	o.mu.Unlock()

	o.transport.PublishEvent(sessionID, "swarm_dissolved", map[string]any{
		"status":          session.Status,
		"completion_rate": metrics.TaskCompletionRate,
	})

	slog.Info("swarm dissolved",
		"session", sessionID,
		"status", session.Status,
		"duration", metrics.TotalDuration)

	return metrics, nil
}

// GetSession returns a copy of the session, rehydrating non-terminal
// sessions from the store after a restart.
func (o *Orchestrator) GetSession(sessionID string) (*SwarmSession, error) {
	o.mu.RLock()
	entry, ok := o.sessions[sessionID]
	o.mu.RUnlock()
	if ok {
		entry.mu.Lock()
		defer entry.mu.Unlock()
		return copySession(entry.session), nil
	}

	session, err := o.store.LoadSession(sessionID)
	if err != nil {
		return nil, fmt.Errorf("load session: %w", err)
	}
	if session == nil {
		return nil, ErrSessionNotFound
	}
	if !session.Status.Terminal() {
		o.rehydrate(session)
	}
	return copySession(session), nil
}

// GetActiveSessionsForUser lists the user's non-terminal sessions,
// rehydrating any persisted ones not yet in memory.
func (o *Orchestrator) GetActiveSessionsForUser(userID string) ([]*SwarmSession, error) {
	stored, err := o.store.LoadUserSessions(userID)
	if err != nil {
		return nil, fmt.Errorf("load user sessions: %w", err)
	}
	for _, s := range stored {
		if !s.Status.Terminal() {
			o.rehydrate(s)
		}
	}

	o.mu.RLock()
	entries := make([]*sessionEntry, 0, len(o.sessions))
	for _, e := range o.sessions {
		entries = append(entries, e)
	}
	o.mu.RUnlock()

	var out []*SwarmSession
	for _, e := range entries {
		e.mu.Lock()
		if e.session.UserID == userID && !e.session.Status.Terminal() {
			out = append(out, copySession(e.session))
		}
		e.mu.Unlock()
	}
	return out, nil
}

// UpdateSessionStatus moves a session to a new status. Terminal sessions
// reject further changes; moving into a terminal status stops monitoring
// and drops the session from memory.
func (o *Orchestrator) UpdateSessionStatus(sessionID string, status SessionStatus) error {
	entry, err := o.entry(sessionID)
	if err != nil {
		return err
	}

	entry.mu.Lock()
	session := entry.session
	if session.Status.Terminal() {
		entry.mu.Unlock()
		return ErrSessionTerminal
	}
	session.Status = status
	session.LastActivity = time.Now()
	if status.Terminal() {
		now := time.Now()
		session.CompletedAt = &now
	}
	o.persist(session)
	entry.mu.Unlock()

	if status.Terminal() {
		o.monitor.Stop(sessionID)
		o.monitor.Forget(sessionID)
		o.mu.Lock()
		delete(o.sessions, sessionID)
		o.mu.Unlock()
	}
	return nil
}

// UpdateSubTask advances a subtask's status within its session.
func (o *Orchestrator) UpdateSubTask(sessionID, subTaskID string, status SubTaskStatus) error {
	entry, err := o.entry(sessionID)
	if err != nil {
		return err
	}

	entry.mu.Lock()
	defer entry.mu.Unlock()

	decomp := entry.session.Task.Decomposition
	if decomp == nil {
		return fmt.Errorf("session %s has no decomposition", sessionID)
	}
	for i := range decomp.SubTasks {
		if decomp.SubTasks[i].ID != subTaskID {
			continue
		}
		if err := decomp.SubTasks[i].TransitionTo(status); err != nil {
			return err
		}
		entry.session.LastActivity = time.Now()
		o.persist(entry.session)
		return nil
	}
	return fmt.Errorf("subtask %s not found in session %s", subTaskID, sessionID)
}

// AddResult records an agent's output on the session, completing the
// referenced subtask when one is named and still in progress.
func (o *Orchestrator) AddResult(sessionID string, result SwarmResult) error {
	entry, err := o.entry(sessionID)
	if err != nil {
		return err
	}

	if result.ID == "" {
		result.ID = uuid.New().String()
	}
	if result.CreatedAt.IsZero() {
		result.CreatedAt = time.Now()
	}

	entry.mu.Lock()
	defer entry.mu.Unlock()
	session := entry.session

	session.Results = append(session.Results, result)
	if result.SubTaskID != "" && session.Task.Decomposition != nil {
		for i := range session.Task.Decomposition.SubTasks {
			st := &session.Task.Decomposition.SubTasks[i]
			if st.ID == result.SubTaskID && st.Status == SubTaskInProgress {
				st.Result = result.Output
				if err := st.TransitionTo(SubTaskCompleted); err != nil {
					slog.Warn("subtask completion rejected", "session", sessionID, "subtask", st.ID, "error", err)
				}
			}
		}
	}
	session.LastActivity = time.Now()
	o.persist(session)

	o.transport.PublishEvent(sessionID, "result_added", map[string]any{
		"agent":   result.AgentID,
		"subtask": result.SubTaskID,
	})
	return nil
}

// RunSweeper deletes terminal sessions older than the retention window
// on the configured schedule, until the context is cancelled.
func (o *Orchestrator) RunSweeper(ctx context.Context) {
	for {
		next := schedule.CalculateNextRun(o.sweep.Schedule)
		if next == nil {
			slog.Warn("sweeper disabled, no next run for schedule", "schedule", o.sweep.Schedule)
			return
		}

		select {
		case <-ctx.Done():
			return
		case <-time.After(time.Until(*next)):
		}

		cutoff := time.Now().Add(-o.sweep.Retention)
		n, err := o.store.DeleteTerminalSessionsBefore(cutoff)
		if err != nil {
			slog.Error("session sweep failed", "error", err)
			continue
		}
		if n > 0 {
			slog.Info("swept terminal sessions", "deleted", n, "cutoff", cutoff)
		}
	}
}

// Close stops monitoring for every in-memory session.
func (o *Orchestrator) Close() {
	o.mu.RLock()
	ids := make([]string, 0, len(o.sessions))
	for id := range o.sessions {
		ids = append(ids, id)
	}
	o.mu.RUnlock()

	for _, id := range ids {
		o.monitor.Stop(id)
	}
}

func (o *Orchestrator) entry(sessionID string) (*sessionEntry, error) {
	o.mu.RLock()
	entry, ok := o.sessions[sessionID]
	o.mu.RUnlock()
	if ok {
		return entry, nil
	}

	session, err := o.store.LoadSession(sessionID)
	if err != nil {
		return nil, fmt.Errorf("load session: %w", err)
	}
	if session == nil || session.Status.Terminal() {
		return nil, ErrSessionNotFound
	}
	return o.rehydrate(session), nil
}

// rehydrate registers a persisted session in memory and resumes its
// monitoring. Returns the existing entry if one appeared concurrently.
func (o *Orchestrator) rehydrate(session *SwarmSession) *sessionEntry {
	o.mu.Lock()
	if existing, ok := o.sessions[session.ID]; ok {
		o.mu.Unlock()
		return existing
	}
	entry := &sessionEntry{session: session}
	o.sessions[session.ID] = entry
	o.mu.Unlock()

	o.startMonitoring(session.ID)
	return entry
}

func (o *Orchestrator) startMonitoring(sessionID string) {
	o.monitor.Start(context.Background(), sessionID, func() *SwarmSession {
		o.mu.RLock()
		entry, ok := o.sessions[sessionID]
		o.mu.RUnlock()
		if !ok {
			return nil
		}
		entry.mu.Lock()
		defer entry.mu.Unlock()
		return copySession(entry.session)
	})
}

// persist saves the session, logging failures rather than failing the
// in-memory operation. Caller holds the session lock.
func (o *Orchestrator) persist(session *SwarmSession) {
	if err := o.store.SaveSession(session); err != nil {
		slog.Error("session persist failed", "session", session.ID, "error", err)
	}
}

func reorderSubTasks(decomp *TaskDecomposition, order []string) {
	byID := make(map[string]SubTask, len(decomp.SubTasks))
	for _, st := range decomp.SubTasks {
		byID[st.ID] = st
	}
	ordered := make([]SubTask, 0, len(order))
	for _, id := range order {
		ordered = append(ordered, byID[id])
	}
	decomp.SubTasks = ordered
}

// computeMetrics derives the final performance metrics at dissolution.
// A session with no messages yields zero communication and collaboration
// values, not an error.
func computeMetrics(session *SwarmSession, now time.Time) *SwarmPerformanceMetrics {
	metrics := &SwarmPerformanceMetrics{
		TotalDuration:    now.Sub(session.CreatedAt),
		AgentUtilization: make(map[string]float64, len(session.AgentIDs)),
	}

	total := len(session.MessageLog)
	if total > 0 {
		bySender := make(map[string]int)
		types := make(map[MessageType]bool)
		collaborative := 0
		for _, msg := range session.MessageLog {
			bySender[msg.SenderID]++
			types[msg.Type] = true
			switch msg.Type {
			case MessageCoordination, MessageDataShare, MessageResultHandoff:
				collaborative++
			}
		}
		for _, agentID := range session.AgentIDs {
			metrics.AgentUtilization[agentID] = float64(bySender[agentID]) / float64(total)
		}
		metrics.CommunicationEfficiency = float64(len(types)) / float64(total)
		metrics.CollaborationScore = float64(collaborative) / float64(total)
	} else {
		for _, agentID := range session.AgentIDs {
			metrics.AgentUtilization[agentID] = 0
		}
	}

	if d := session.Task.Decomposition; d != nil && len(d.SubTasks) > 0 {
		completed := 0
		for _, st := range d.SubTasks {
			if st.Status == SubTaskCompleted {
				completed++
			}
		}
		metrics.TaskCompletionRate = float64(completed) / float64(len(d.SubTasks))
	}

	return metrics
}

func copySession(s *SwarmSession) *SwarmSession {
	clone := *s

	clone.AgentIDs = append([]string(nil), s.AgentIDs...)
	clone.MessageLog = append([]AgentMessage(nil), s.MessageLog...)
	clone.Results = append([]SwarmResult(nil), s.Results...)

	if s.Task.Decomposition != nil {
		d := *s.Task.Decomposition
		d.SubTasks = append([]SubTask(nil), s.Task.Decomposition.SubTasks...)
		d.Dependencies = append([]TaskDependency(nil), s.Task.Decomposition.Dependencies...)
		d.RequiredCapabilities = append([]string(nil), s.Task.Decomposition.RequiredCapabilities...)
		clone.Task.Decomposition = &d
	}
	if s.Metrics != nil {
		m := *s.Metrics
		m.AgentUtilization = make(map[string]float64, len(s.Metrics.AgentUtilization))
		for k, v := range s.Metrics.AgentUtilization {
			m.AgentUtilization[k] = v
		}
		clone.Metrics = &m
	}
	return &clone
}
