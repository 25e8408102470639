package freepik

import (
	"encoding/json"
	"fmt"
	"strings"
)

// Webhook statuses as the provider emits them.
const (
	StatusInProgress = "IN_PROGRESS"
	StatusCompleted  = "COMPLETED"
	StatusFailed     = "FAILED"
)

// WebhookEventKind tags the validated form of the callback payload.
type WebhookEventKind int

const (
	EventInProgress WebhookEventKind = iota
	EventCompleted
	EventFailed
)

// WebhookEvent is the callback payload validated at the boundary into a
// tagged variant instead of being passed around as an untyped map.
type WebhookEvent struct {
	Kind      WebhookEventKind
	TaskID    string
	Generated []string
	Error     string
}

// HasArtifacts reports whether the provider delivered any output URLs.
func (e WebhookEvent) HasArtifacts() bool { return len(e.Generated) > 0 }

type webhookPayload struct {
	TaskID    string   `json:"task_id"`
	RequestID string   `json:"request_id"`
	Status    string   `json:"status"`
	Generated []string `json:"generated"`
	Error     string   `json:"error"`
}

// ParseWebhook decodes and validates a raw callback body.
func ParseWebhook(body []byte) (*WebhookEvent, error) {
	var payload webhookPayload
	if err := json.Unmarshal(body, &payload); err != nil {
		return nil, fmt.Errorf("freepik: decode webhook: %w", err)
	}
	event := &WebhookEvent{
		TaskID:    strings.TrimSpace(payload.TaskID),
		Generated: payload.Generated,
		Error:     payload.Error,
	}
	switch payload.Status {
	case StatusInProgress:
		event.Kind = EventInProgress
	case StatusCompleted:
		event.Kind = EventCompleted
	case StatusFailed:
		event.Kind = EventFailed
	default:
		return nil, fmt.Errorf("freepik: unknown webhook status %q", payload.Status)
	}
	return event, nil
}
