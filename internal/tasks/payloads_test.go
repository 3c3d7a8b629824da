package tasks

import (
	"testing"

	"github.com/hibiken/asynq"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSynopsisGenerateTask(t *testing.T) {
	task, err := NewSynopsisGenerateTask(42, "corr-1", asynq.MaxRetry(2))
	require.NoError(t, err)
	assert.Equal(t, TypeSynopsisGenerate, task.Type())
	assert.JSONEq(t, `{"project_id":42,"correlation_id":"corr-1"}`, string(task.Payload()))

	payload, err := ParseSynopsisGeneratePayload(task)
	require.NoError(t, err)
	assert.Equal(t, uint(42), payload.ProjectID)
	assert.Equal(t, "corr-1", payload.CorrelationID)
}

func TestParseSynopsisGeneratePayloadRejectsGarbage(t *testing.T) {
	_, err := ParseSynopsisGeneratePayload(asynq.NewTask(TypeSynopsisGenerate, []byte("{")))
	assert.Error(t, err)

	_, err = ParseSynopsisGeneratePayload(asynq.NewTask(TypeSynopsisGenerate, []byte(`{"correlation_id":"x"}`)))
	assert.Error(t, err)
}

func TestNotifyChannel(t *testing.T) {
	assert.Equal(t, "user_notify:7", NotifyChannel(7))
}

func TestParseSynopsisNotification(t *testing.T) {
	msg, err := ParseSynopsisNotification([]byte(`{"status":"completed","project_id":3,"correlation_id":"c","error_code":0,"error_message":"","synopsis":"Done."}`))
	require.NoError(t, err)
	assert.Equal(t, StatusCompleted, msg.Status)
	assert.Equal(t, uint(3), msg.ProjectID)
	assert.Equal(t, "Done.", msg.Synopsis)

	for _, payload := range []string{
		`not json`,
		`{"status":"queued","project_id":3}`,
		`{"status":"error"}`,
		`"plain string"`,
	} {
		_, err := ParseSynopsisNotification([]byte(payload))
		assert.Error(t, err, payload)
	}
}
