package tasks

import (
	"encoding/json"
	"fmt"

	"github.com/hibiken/asynq"
)

// Task types shared by the API (producer) and the worker (consumer).
const (
	TypeSynopsisGenerate = "synopsis:generate"
)

// SynopsisGeneratePayload identifies the project whose synopsis must be produced.
type SynopsisGeneratePayload struct {
	ProjectID     uint   `json:"project_id"`
	CorrelationID string `json:"correlation_id"`
}

// NewSynopsisGenerateTask builds a background synopsis task for a project.
func NewSynopsisGenerateTask(projectID uint, correlationID string, opts ...asynq.Option) (*asynq.Task, error) {
	payload, err := json.Marshal(SynopsisGeneratePayload{
		ProjectID:     projectID,
		CorrelationID: correlationID,
	})
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(TypeSynopsisGenerate, payload, opts...), nil
}

// ParseSynopsisGeneratePayload decodes a task payload.
func ParseSynopsisGeneratePayload(task *asynq.Task) (SynopsisGeneratePayload, error) {
	var p SynopsisGeneratePayload
	if err := json.Unmarshal(task.Payload(), &p); err != nil {
		return p, fmt.Errorf("unmarshal %s payload: %w", task.Type(), err)
	}
	if p.ProjectID == 0 {
		return p, fmt.Errorf("%s payload without project id", task.Type())
	}
	return p, nil
}

// NotifyChannel is the Redis pub/sub channel that carries a user's task notifications.
func NotifyChannel(userID uint) string {
	return fmt.Sprintf("user_notify:%d", userID)
}
