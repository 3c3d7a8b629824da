package worker

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"

	"github.com/hibiken/asynq"
	"github.com/redis/go-redis/v9"
	"gorm.io/datatypes"
	"gorm.io/gorm"

	"acadRepo/internal/database"
	"acadRepo/internal/errcode"
	"acadRepo/internal/metrics"
	"acadRepo/internal/storage"
	"acadRepo/internal/synopsis"
	"acadRepo/internal/tasks"
)

// ObjectReader opens stored documents.
type ObjectReader interface {
	OpenObject(ctx context.Context, key string) (io.ReadCloser, storage.ObjectInfo, error)
}

// Publisher is the subset of the Redis client used for notifications.
type Publisher interface {
	Publish(ctx context.Context, channel string, message interface{}) *redis.IntCmd
}

// SynopsisTaskHandler consumes synopsis:generate tasks.
type SynopsisTaskHandler struct {
	db         *gorm.DB
	store      ObjectReader
	summarizer synopsis.Summarizer
	publisher  Publisher
	logger     *slog.Logger
}

// NewSynopsisTaskHandler creates the handler. publisher may be nil to disable notifications.
func NewSynopsisTaskHandler(
	db *gorm.DB,
	store ObjectReader,
	summarizer synopsis.Summarizer,
	publisher Publisher,
	logger *slog.Logger,
) *SynopsisTaskHandler {
	if logger == nil {
		logger = slog.Default()
	}
	return &SynopsisTaskHandler{
		db:         db,
		store:      store,
		summarizer: summarizer,
		publisher:  publisher,
		logger:     logger,
	}
}

// ProcessTask implements asynq.Handler.
func (h *SynopsisTaskHandler) ProcessTask(ctx context.Context, t *asynq.Task) (retErr error) {
	log := h.logger

	payload, err := tasks.ParseSynopsisGeneratePayload(t)
	if err != nil {
		log.Error("unmarshal task payload failed", slog.Any("error", err))
		return fmt.Errorf("%w: %w", err, asynq.SkipRetry)
	}

	log = log.With(
		slog.String("correlation_id", payload.CorrelationID),
		slog.Uint64("project_id", uint64(payload.ProjectID)),
	)
	log.Info("starting background synopsis task")

	var project database.Project
	if err := h.db.WithContext(ctx).First(&project, payload.ProjectID).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			log.Warn("project not found, skipping task")
			return nil
		}
		log.Error("query project failed", slog.Any("error", err))
		return err
	}
	if strings.TrimSpace(project.Synopsis) != "" {
		log.Info("project already has a synopsis, skipping task")
		return nil
	}

	defer func() {
		if retErr == nil || !isFinalAsynqAttempt(ctx) {
			return
		}
		notify := tasks.SynopsisNotifyMessage{
			Status:        tasks.StatusError,
			ProjectID:     project.ID,
			CorrelationID: payload.CorrelationID,
			ErrorCode:     errcode.SynopsisFailed,
			ErrorMessage:  strings.TrimSpace(retErr.Error()),
		}
		if err := h.notify(ctx, project.CreatedByID, notify); err != nil {
			log.Error("publish synopsis error notification failed", slog.Any("error", err))
		}
	}()

	data, err := h.readDocument(ctx, project.DocumentKey)
	if err != nil {
		if !errors.Is(err, storage.ErrObjectNotFound) {
			log.Error("read document failed", slog.Any("error", err))
			return err
		}
		log.Warn("document missing from storage, summarizing title and description")
	}

	res := synopsis.Build(ctx, h.summarizer, project.DocumentName, data, project.Title, project.Description)
	metrics.ObserveSynopsis("worker", res.Failed, res.Meta.FallbackUsed)
	if res.Failed {
		log.Warn("synopsis still unavailable", slog.Any("warnings", res.Warnings))
		return fmt.Errorf("generate synopsis: %s", strings.Join(res.Warnings, "; "))
	}

	update := map[string]any{
		"synopsis":      res.Synopsis,
		"synopsis_meta": datatypes.NewJSONType(res.Meta),
	}
	if err := h.db.WithContext(ctx).Model(&project).Updates(update).Error; err != nil {
		log.Error("update project failed", slog.Any("error", err))
		return err
	}

	notify := tasks.SynopsisNotifyMessage{
		Status:        tasks.StatusCompleted,
		ProjectID:     project.ID,
		CorrelationID: payload.CorrelationID,
		ErrorCode:     errcode.OK,
		Synopsis:      res.Synopsis,
	}
	if err := h.notify(ctx, project.CreatedByID, notify); err != nil {
		// the synopsis is stored, a lost notification is not worth a retry
		log.Warn("publish redis notification failed", slog.Any("error", err))
	}

	log.Info("background synopsis task completed")
	return nil
}

func (h *SynopsisTaskHandler) readDocument(ctx context.Context, key string) ([]byte, error) {
	if !storage.IsValidObjectKey(storage.PrefixDocuments, key) {
		return nil, storage.ErrObjectNotFound
	}
	rc, _, err := h.store.OpenObject(ctx, key)
	if err != nil {
		return nil, err
	}
	defer rc.Close()

	data, err := io.ReadAll(rc)
	if err != nil {
		return nil, fmt.Errorf("read object %q: %w", key, err)
	}
	return data, nil
}

func (h *SynopsisTaskHandler) notify(ctx context.Context, ownerID *uint, notify tasks.SynopsisNotifyMessage) error {
	if h.publisher == nil || ownerID == nil {
		return nil
	}
	data, err := json.Marshal(notify)
	if err != nil {
		return fmt.Errorf("marshal notification payload: %w", err)
	}
	channel := tasks.NotifyChannel(*ownerID)
	if err := h.publisher.Publish(ctx, channel, data).Err(); err != nil {
		return fmt.Errorf("publish redis notification to %q: %w", channel, err)
	}
	return nil
}

func isFinalAsynqAttempt(ctx context.Context) bool {
	retryCount, ok1 := asynq.GetRetryCount(ctx)
	maxRetry, ok2 := asynq.GetMaxRetry(ctx)
	if !ok1 || !ok2 {
		return false
	}
	return retryCount >= maxRetry
}
