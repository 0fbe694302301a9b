package reason

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/mtzanidakis/sminos/internal/config"
	"github.com/mtzanidakis/sminos/internal/natsbus"
)

// Engine is the external text-generation oracle used for task
// decomposition. It guarantees no output schema; callers must parse
// defensively and fall back on any failure.
type Engine interface {
	Generate(ctx context.Context, prompt string) (string, error)
}

// NATSEngine reaches a reasoning service over NATS request-reply with a
// bounded timeout.
type NATSEngine struct {
	client  *natsbus.Client
	timeout time.Duration
}

func NewNATSEngine(client *natsbus.Client, cfg config.ReasonConfig) *NATSEngine {
	timeout := cfg.Timeout
	if timeout == 0 {
		timeout = 20 * time.Second
	}
	return &NATSEngine{client: client, timeout: timeout}
}

func (e *NATSEngine) Generate(ctx context.Context, prompt string) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}

	timeout := e.timeout
	if deadline, ok := ctx.Deadline(); ok {
		if remaining := time.Until(deadline); remaining < timeout {
			timeout = remaining
		}
	}

	req := map[string]string{"prompt": prompt}
	resp, err := e.client.RequestJSON(natsbus.TopicReasonGenerate, req, timeout)
	if err != nil {
		return "", fmt.Errorf("reason request: %w", err)
	}

	var result struct {
		Text string `json:"text"`
	}
	if err := json.Unmarshal(resp.Data, &result); err == nil && result.Text != "" {
		return result.Text, nil
	}
	// Try plain text response
	return strings.TrimSpace(string(resp.Data)), nil
}
