package natsbus

import "fmt"

// Topic patterns for NATS pub/sub communication.

func TopicAgentInbox(agentID string) string {
	return fmt.Sprintf("agent.%s.inbox", agentID)
}

func TopicSwarmBroadcast(sessionID string) string {
	return fmt.Sprintf("swarm.%s.broadcast", sessionID)
}

func TopicSwarmAssign(sessionID, agentID string) string {
	return fmt.Sprintf("swarm.%s.assign.%s", sessionID, agentID)
}

func TopicSwarmDissolve(sessionID string) string {
	return fmt.Sprintf("swarm.%s.dissolve", sessionID)
}

func TopicEventsSwarm(sessionID string) string {
	return fmt.Sprintf("events.swarm.%s", sessionID)
}

const (
	TopicEventsSwarmAny = "events.swarm.*"
	TopicReasonGenerate = "reason.generate"
)
