package swarm

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/mtzanidakis/sminos/internal/config"
)

const (
	unresponsiveAfter   = 5 * time.Minute
	idleAfter           = 1 * time.Minute
	overloadedThreshold = 3
	errorRateThreshold  = 0.2
	latencyThreshold    = 5 * time.Second
	coordEffIssueFloor  = 0.2
	coordEffDeductFloor = 0.3
	bottleneckShare     = 0.4
	timelineOverrun     = 1.5
)

// Monitor periodically computes health reports for active sessions,
// keeps a bounded rolling history per session, and triggers best-effort
// remediation for critical issues. It never raises into the caller's
// request path.
type Monitor struct {
	interval   time.Duration
	historyCap int
	transport  Transport
	sampler    ErrorRateSampler

	mu      sync.Mutex
	history map[string][]SwarmHealthReport
	stops   map[string]context.CancelFunc
}

func NewMonitor(cfg config.MonitorConfig, transport Transport, sampler ErrorRateSampler) *Monitor {
	interval := cfg.Interval
	if interval == 0 {
		interval = 30 * time.Second
	}
	historyCap := cfg.HistoryCap
	if historyCap <= 0 {
		historyCap = 100
	}
	if sampler == nil {
		sampler = NopSampler
	}
	return &Monitor{
		interval:   interval,
		historyCap: historyCap,
		transport:  transport,
		sampler:    sampler,
		history:    make(map[string][]SwarmHealthReport),
		stops:      make(map[string]context.CancelFunc),
	}
}

// Start begins periodic monitoring for a session. snapshot must return a
// consistent copy of the session taken under its lock, or nil once the
// session is gone. Monitoring runs until Stop is called, the context is
// cancelled, or the session reaches a terminal status.
func (m *Monitor) Start(ctx context.Context, sessionID string, snapshot func() *SwarmSession) {
	ctx, cancel := context.WithCancel(ctx)

	m.mu.Lock()
	if _, running := m.stops[sessionID]; running {
		m.mu.Unlock()
		cancel()
		return
	}
	m.stops[sessionID] = cancel
	m.mu.Unlock()

	go m.run(ctx, sessionID, snapshot)
}

// Stop cancels monitoring for a session. Stopping twice is a no-op.
func (m *Monitor) Stop(sessionID string) {
	m.mu.Lock()
	cancel, ok := m.stops[sessionID]
	if ok {
		delete(m.stops, sessionID)
	}
	m.mu.Unlock()
	if ok {
		cancel()
	}
}

func (m *Monitor) run(ctx context.Context, sessionID string, snapshot func() *SwarmSession) {
	ticker := time.NewTicker(m.interval)
	defer ticker.Stop()

	slog.Info("monitoring started", "session", sessionID, "interval", m.interval)

	for {
		select {
		case <-ctx.Done():
			slog.Info("monitoring stopped", "session", sessionID)
			return
		case <-ticker.C:
			session := snapshot()
			if session == nil || session.Status.Terminal() {
				m.Stop(sessionID)
				return
			}
			m.Check(session)
		}
	}
}

// Check computes a health report for the session, stores it in the
// rolling history, and dispatches remediation for critical issues.
func (m *Monitor) Check(session *SwarmSession) SwarmHealthReport {
	report := ComputeHealthReport(session, time.Now(), m.sampler)

	m.mu.Lock()
	h := append(m.history[session.ID], report)
	if len(h) > m.historyCap {
		h = h[len(h)-m.historyCap:]
	}
	m.history[session.ID] = h
	m.mu.Unlock()

	for _, issue := range report.Issues {
		if issue.Severity == SeverityCritical {
			go m.remediate(session, issue)
		}
	}

	if m.transport != nil {
		m.transport.PublishEvent(session.ID, "health_report", map[string]any{
			"overall": report.Overall,
			"score":   report.Score,
			"issues":  len(report.Issues),
		})
	}

	return report
}

// History returns the stored reports for a session, oldest first.
func (m *Monitor) History(sessionID string) []SwarmHealthReport {
	m.mu.Lock()
	defer m.mu.Unlock()
	h := m.history[sessionID]
	out := make([]SwarmHealthReport, len(h))
	copy(out, h)
	return out
}

// Forget drops the stored history for a session.
func (m *Monitor) Forget(sessionID string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.history, sessionID)
}

// remediate attempts an automatic corrective action for a critical
// issue. Attempts are asynchronous and logged; failures never alter the
// session status.
func (m *Monitor) remediate(session *SwarmSession, issue SwarmIssue) {
	if m.transport == nil {
		return
	}

	slog.Info("attempting remediation", "session", session.ID, "issue", issue.Type, "agents", issue.AffectedAgents)

	receiver := BroadcastReceiver
	if len(issue.AffectedAgents) == 1 {
		receiver = issue.AffectedAgents[0]
	}

	payload, _ := json.Marshal(map[string]any{
		"issue":   issue.Type,
		"actions": issue.SuggestedActions,
	})
	msg := AgentMessage{
		ID:         uuid.New().String(),
		SenderID:   session.CoordinatorID,
		ReceiverID: receiver,
		Type:       MessageCoordination,
		Payload:    payload,
		Timestamp:  time.Now(),
		Priority:   PriorityUrgent,
		SessionID:  session.ID,
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := m.transport.SendMessage(ctx, msg); err != nil {
		slog.Warn("remediation attempt failed", "session", session.ID, "issue", issue.Type, "error", err)
		return
	}
	m.transport.PublishEvent(session.ID, "remediation_attempted", map[string]any{"issue": issue.Type})
}

// ComputeHealthReport derives a point-in-time health snapshot from the
// session state. It is pure so the health rules can be tested without
// timers or a running monitor.
func ComputeHealthReport(session *SwarmSession, now time.Time, sampler ErrorRateSampler) SwarmHealthReport {
	if sampler == nil {
		sampler = NopSampler
	}

	agents := agentHealth(session, now, sampler)
	comm := communicationHealth(session)
	progress := progressHealth(session, now)
	issues := detectIssues(session, now, agents, comm, progress)
	score := overallScore(agents, comm, progress, issues)

	return SwarmHealthReport{
		SessionID:       session.ID,
		GeneratedAt:     now,
		Overall:         healthBand(score),
		Score:           score,
		Agents:          agents,
		Communication:   comm,
		Progress:        progress,
		Issues:          issues,
		Recommendations: recommendations(issues),
	}
}

// agentHealth derives each agent's state. Conditions are evaluated in
// fixed priority order: unresponsive, overloaded, idle, error; the first
// match wins.
func agentHealth(session *SwarmSession, now time.Time, sampler ErrorRateSampler) []AgentHealthStatus {
	lastSeen := make(map[string]time.Time, len(session.AgentIDs))
	for _, msg := range session.MessageLog {
		if msg.Timestamp.After(lastSeen[msg.SenderID]) {
			lastSeen[msg.SenderID] = msg.Timestamp
		}
	}

	assigned := make(map[string]int)
	if session.Task.Decomposition != nil {
		for _, st := range session.Task.Decomposition.SubTasks {
			if st.AssignedAgentID != "" && (st.Status == SubTaskPending || st.Status == SubTaskInProgress) {
				assigned[st.AssignedAgentID]++
			}
		}
	}

	statuses := make([]AgentHealthStatus, 0, len(session.AgentIDs))
	for _, agentID := range session.AgentIDs {
		seen, ok := lastSeen[agentID]
		if !ok {
			seen = session.CreatedAt
		}
		age := now.Sub(seen)
		errorRate := sampler.ErrorRate(session.ID, agentID)

		health := AgentActive
		switch {
		case age > unresponsiveAfter:
			health = AgentUnresponsive
		case assigned[agentID] > overloadedThreshold:
			health = AgentOverloaded
		case age > idleAfter:
			health = AgentIdle
		case errorRate > errorRateThreshold:
			health = AgentError
		}

		statuses = append(statuses, AgentHealthStatus{
			AgentID:          agentID,
			Health:           health,
			LastMessageAge:   age,
			AssignedSubTasks: assigned[agentID],
			ErrorRate:        errorRate,
		})
	}
	return statuses
}

func communicationHealth(session *SwarmSession) CommunicationHealth {
	comm := CommunicationHealth{MessageVolume: len(session.MessageLog)}
	if comm.MessageVolume == 0 {
		return comm
	}

	responseTo := make(map[string]time.Time)
	for _, msg := range session.MessageLog {
		if msg.ResponseTo != "" {
			if _, seen := responseTo[msg.ResponseTo]; !seen {
				responseTo[msg.ResponseTo] = msg.Timestamp
			}
		}
	}

	var latencySum time.Duration
	answered, awaiting := 0, 0
	coordinating := 0
	bySender := make(map[string]int)

	for _, msg := range session.MessageLog {
		bySender[msg.SenderID]++

		switch msg.Type {
		case MessageCoordination, MessageResultHandoff, MessageDataShare:
			coordinating++
		}

		if msg.RequiresResponse {
			if at, ok := responseTo[msg.ID]; ok {
				latencySum += at.Sub(msg.Timestamp)
				answered++
			} else {
				awaiting++
			}
		}
	}

	if answered > 0 {
		comm.AvgResponseLatency = latencySum / time.Duration(answered)
	}
	if answered+awaiting > 0 {
		comm.FailedMessageRate = float64(awaiting) / float64(answered+awaiting)
	}
	comm.CoordinationEfficiency = float64(coordinating) / float64(comm.MessageVolume)

	for _, agentID := range session.AgentIDs {
		if float64(bySender[agentID])/float64(comm.MessageVolume) > bottleneckShare {
			comm.Bottlenecks = append(comm.Bottlenecks, agentID)
		}
	}

	return comm
}

func progressHealth(session *SwarmSession, now time.Time) TaskProgressHealth {
	progress := TaskProgressHealth{}
	decomp := session.Task.Decomposition
	if decomp == nil {
		return progress
	}

	progress.TotalSubTasks = len(decomp.SubTasks)

	remainingMinutes := 0.0
	for _, st := range decomp.SubTasks {
		switch st.Status {
		case SubTaskCompleted:
			progress.CompletedSubTasks++
		case SubTaskFailed:
			progress.BlockedTasks = append(progress.BlockedTasks, st.ID)
		case SubTaskInProgress:
			estimated := float64(st.EstimatedMinutes)
			elapsed := 0.0
			if st.StartedAt != nil {
				elapsed = now.Sub(*st.StartedAt).Minutes()
			}
			if left := estimated - elapsed; left > 0 {
				remainingMinutes += left
			}
		case SubTaskPending:
			remainingMinutes += float64(st.EstimatedMinutes)
		}
	}

	progress.EstimatedTimeRemaining = time.Duration(remainingMinutes * float64(time.Minute))
	if progress.TotalSubTasks > 0 {
		progress.CriticalPathProgress = float64(progress.CompletedSubTasks) / float64(progress.TotalSubTasks) * 100
	}
	return progress
}

func detectIssues(session *SwarmSession, now time.Time, agents []AgentHealthStatus, comm CommunicationHealth, progress TaskProgressHealth) []SwarmIssue {
	var issues []SwarmIssue

	var unresponsive, overloaded []string
	for _, a := range agents {
		switch a.Health {
		case AgentUnresponsive:
			unresponsive = append(unresponsive, a.AgentID)
		case AgentOverloaded:
			overloaded = append(overloaded, a.AgentID)
		}
	}

	if len(unresponsive) > 0 {
		severity := SeverityHigh
		if len(unresponsive) == len(agents) {
			severity = SeverityCritical
		}
		issues = append(issues, SwarmIssue{
			Type:           IssuePerformance,
			Severity:       severity,
			Description:    fmt.Sprintf("%d agent(s) unresponsive: %v", len(unresponsive), unresponsive),
			AffectedAgents: unresponsive,
			SuggestedActions: []string{
				"Ping unresponsive agents over the transport",
				"Reassign their pending subtasks to healthy agents",
			},
		})
	}
	if len(overloaded) > 0 {
		issues = append(issues, SwarmIssue{
			Type:           IssueResource,
			Severity:       SeverityMedium,
			Description:    fmt.Sprintf("%d agent(s) overloaded: %v", len(overloaded), overloaded),
			AffectedAgents: overloaded,
			SuggestedActions: []string{
				"Rebalance subtask assignments across the swarm",
			},
		})
	}
	if comm.AvgResponseLatency > latencyThreshold {
		issues = append(issues, SwarmIssue{
			Type:        IssueCommunication,
			Severity:    SeverityMedium,
			Description: fmt.Sprintf("average response latency %s exceeds %s", comm.AvgResponseLatency, latencyThreshold),
			SuggestedActions: []string{
				"Reduce message payload sizes",
				"Check transport connectivity",
			},
		})
	}
	if comm.MessageVolume > 0 && comm.CoordinationEfficiency < coordEffIssueFloor {
		issues = append(issues, SwarmIssue{
			Type:        IssueCommunication,
			Severity:    SeverityLow,
			Description: fmt.Sprintf("coordination efficiency %.0f%% is below %.0f%%", comm.CoordinationEfficiency*100, coordEffIssueFloor*100),
			SuggestedActions: []string{
				"Route shared context through the coordinator",
			},
		})
	}
	for _, taskID := range progress.BlockedTasks {
		affected := blockedTaskAgent(session, taskID)
		issues = append(issues, SwarmIssue{
			Type:           IssueLogic,
			Severity:       SeverityHigh,
			Description:    fmt.Sprintf("subtask %s is blocked (failed)", taskID),
			AffectedAgents: affected,
			SuggestedActions: []string{
				"Retry the failed subtask with a different agent",
			},
		})
	}

	if d := session.Task.Decomposition; d != nil {
		estimated := time.Duration(d.TotalEstimatedMinutes()) * time.Minute
		if estimated > 0 && now.Sub(session.CreatedAt) > time.Duration(timelineOverrun*float64(estimated)) {
			issues = append(issues, SwarmIssue{
				Type:        IssueTimeline,
				Severity:    SeverityMedium,
				Description: fmt.Sprintf("session running beyond %.1fx its estimated duration", timelineOverrun),
				SuggestedActions: []string{
					"Review in-progress subtasks for stalls",
				},
			})
		}
	}

	return issues
}

func blockedTaskAgent(session *SwarmSession, taskID string) []string {
	if session.Task.Decomposition == nil {
		return nil
	}
	for _, st := range session.Task.Decomposition.SubTasks {
		if st.ID == taskID && st.AssignedAgentID != "" {
			return []string{st.AssignedAgentID}
		}
	}
	return nil
}

// overallScore deducts from 100 per the health rules, clamped at 0.
func overallScore(agents []AgentHealthStatus, comm CommunicationHealth, progress TaskProgressHealth, issues []SwarmIssue) float64 {
	score := 100.0

	for _, a := range agents {
		switch a.Health {
		case AgentUnresponsive, AgentError:
			score -= 20
		case AgentOverloaded, AgentIdle:
			score -= 10
		}
	}
	if comm.AvgResponseLatency > latencyThreshold {
		score -= 15
	}
	if comm.MessageVolume > 0 && comm.CoordinationEfficiency < coordEffDeductFloor {
		score -= 10
	}
	score -= 15 * float64(len(progress.BlockedTasks))
	for _, issue := range issues {
		switch issue.Severity {
		case SeverityCritical:
			score -= 25
		case SeverityHigh:
			score -= 15
		}
	}

	if score < 0 {
		score = 0
	}
	return score
}

func healthBand(score float64) HealthBand {
	switch {
	case score >= 90:
		return HealthExcellent
	case score >= 75:
		return HealthGood
	case score >= 60:
		return HealthFair
	case score >= 40:
		return HealthPoor
	default:
		return HealthCritical
	}
}

// recommendations concatenates the suggested actions of critical and
// high severity issues, deduplicated and capped at 5.
func recommendations(issues []SwarmIssue) []string {
	var recs []string
	seen := make(map[string]bool)
	for _, issue := range issues {
		if issue.Severity != SeverityCritical && issue.Severity != SeverityHigh {
			continue
		}
		for _, action := range issue.SuggestedActions {
			if seen[action] || len(recs) >= 5 {
				continue
			}
			seen[action] = true
			recs = append(recs, action)
		}
	}
	if len(issues) == 0 {
		return []string{"Swarm is operating optimally"}
	}
	return recs
}
