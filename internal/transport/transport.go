package transport

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/mtzanidakis/sminos/internal/natsbus"
	"github.com/mtzanidakis/sminos/internal/swarm"
)

// NATS delivers swarm messages over the embedded NATS bus: direct
// messages to per-agent inboxes, broadcasts to the session's broadcast
// topic, and lifecycle events to the session event stream.
type NATS struct {
	client *natsbus.Client
}

func New(client *natsbus.Client) *NATS {
	return &NATS{client: client}
}

// Event is the envelope published on the session event stream.
type Event struct {
	SessionID string         `json:"session_id"`
	Type      string         `json:"type"`
	Data      map[string]any `json:"data,omitempty"`
	Timestamp time.Time      `json:"timestamp"`
}

func (t *NATS) SendMessage(ctx context.Context, msg swarm.AgentMessage) error {
	topic := natsbus.TopicAgentInbox(msg.ReceiverID)
	if msg.ReceiverID == swarm.BroadcastReceiver {
		topic = natsbus.TopicSwarmBroadcast(msg.SessionID)
	}
	if err := t.client.PublishJSON(topic, msg); err != nil {
		return fmt.Errorf("publish message: %w", err)
	}
	return nil
}

// InitializeSwarmCommunication announces the new session to every
// member agent's inbox.
func (t *NATS) InitializeSwarmCommunication(ctx context.Context, session *swarm.SwarmSession) error {
	announcement := map[string]any{
		"session_id":  session.ID,
		"coordinator": session.CoordinatorID,
		"agents":      session.AgentIDs,
		"task":        session.Task.Description,
	}
	for _, agentID := range session.AgentIDs {
		if err := t.client.PublishJSON(natsbus.TopicAgentInbox(agentID), announcement); err != nil {
			return fmt.Errorf("announce to agent %s: %w", agentID, err)
		}
	}
	return t.client.Flush()
}

func (t *NATS) SendTaskAssignment(ctx context.Context, sessionID, agentID string, sub swarm.SubTask) error {
	if err := t.client.PublishJSON(natsbus.TopicSwarmAssign(sessionID, agentID), sub); err != nil {
		return fmt.Errorf("publish assignment: %w", err)
	}
	return nil
}

func (t *NATS) NotifySwarmDissolution(ctx context.Context, session *swarm.SwarmSession) error {
	notice := map[string]any{
		"session_id": session.ID,
		"status":     session.Status,
	}
	if err := t.client.PublishJSON(natsbus.TopicSwarmDissolve(session.ID), notice); err != nil {
		return fmt.Errorf("publish dissolution: %w", err)
	}
	return t.client.Flush()
}

// PublishEvent emits a timestamped event on the session's event stream.
// Event delivery is best-effort; failures are logged, never surfaced.
func (t *NATS) PublishEvent(sessionID, eventType string, data map[string]any) {
	event := Event{
		SessionID: sessionID,
		Type:      eventType,
		Data:      data,
		Timestamp: time.Now(),
	}
	if err := t.client.PublishJSON(natsbus.TopicEventsSwarm(sessionID), event); err != nil {
		slog.Warn("event publish failed", "session", sessionID, "event", eventType, "error", err)
	}
}
