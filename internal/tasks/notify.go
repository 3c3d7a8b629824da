package tasks

import (
	"encoding/json"
	"errors"
	"fmt"
)

// SynopsisNotifyMessage is published on NotifyChannel when a background synopsis task ends.
type SynopsisNotifyMessage struct {
	Status        string `json:"status"`
	ProjectID     uint   `json:"project_id"`
	CorrelationID string `json:"correlation_id"`
	ErrorCode     int    `json:"error_code"`
	ErrorMessage  string `json:"error_message"`
	Synopsis      string `json:"synopsis,omitempty"`
}

// Notification statuses.
const (
	StatusCompleted = "completed"
	StatusError     = "error"
)

var (
	errUnknownStatus = errors.New("unknown notification status")
	errNoProject     = errors.New("notification without project id")
)

// ParseSynopsisNotification decodes a pub/sub payload and rejects anything that is
// not a finished synopsis task.
func ParseSynopsisNotification(payload []byte) (SynopsisNotifyMessage, error) {
	var msg SynopsisNotifyMessage
	if err := json.Unmarshal(payload, &msg); err != nil {
		return msg, fmt.Errorf("unmarshal synopsis notification: %w", err)
	}
	switch {
	case msg.Status != StatusCompleted && msg.Status != StatusError:
		return msg, fmt.Errorf("%w: %q", errUnknownStatus, msg.Status)
	case msg.ProjectID == 0:
		return msg, errNoProject
	}
	return msg, nil
}
