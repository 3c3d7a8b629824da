package api

import (
	"context"
	"io"

	"github.com/hibiken/asynq"
	"github.com/minio/minio-go/v7"

	"acadRepo/internal/database"
	"acadRepo/internal/storage"
)

// FileStore is the object storage used for avatars, covers and documents.
type FileStore interface {
	UploadFile(ctx context.Context, objectName string, reader io.Reader, size int64, contentType string) (*minio.UploadInfo, error)
	OpenObject(ctx context.Context, objectKey string) (io.ReadCloser, storage.ObjectInfo, error)
	DeleteObject(ctx context.Context, objectKey string) error
}

// Mailer sends account emails.
type Mailer interface {
	SendWelcome(ctx context.Context, user database.User) error
}

// TaskEnqueuer schedules background work.
type TaskEnqueuer interface {
	Enqueue(task *asynq.Task, opts ...asynq.Option) (*asynq.TaskInfo, error)
}
