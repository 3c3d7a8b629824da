package api

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"mime"
	"net/http"

	"github.com/gin-gonic/gin"

	"acadRepo/internal/storage"
	"acadRepo/internal/upload"
)

// optionalImage returns nil when the form carries no file under field.
func optionalImage(c *gin.Context, v *upload.Validator, field string) (*upload.File, error) {
	fh, err := c.FormFile(field)
	if err != nil {
		if errors.Is(err, http.ErrMissingFile) || errors.Is(err, http.ErrNotMultipart) {
			return nil, nil
		}
		return nil, fmt.Errorf("read %s: %w", field, err)
	}
	return v.Image(field, fh)
}

func optionalDocument(c *gin.Context, v *upload.Validator, field string) (*upload.File, error) {
	fh, err := c.FormFile(field)
	if err != nil {
		if errors.Is(err, http.ErrMissingFile) || errors.Is(err, http.ErrNotMultipart) {
			return nil, nil
		}
		return nil, fmt.Errorf("read %s: %w", field, err)
	}
	return v.Document(field, fh)
}

// collectUploadError records field errors and returns other failures.
func collectUploadError(errs fieldErrors, err error) error {
	if err == nil {
		return nil
	}
	var fe *upload.FieldError
	if errors.As(err, &fe) {
		errs.add(fe.Field, fe.Message)
		return nil
	}
	return err
}

func storeFile(ctx context.Context, store FileStore, prefix string, userID uint, f *upload.File) (string, error) {
	key := storage.NewObjectKey(prefix, userID, f.Name)
	if _, err := store.UploadFile(ctx, key, bytes.NewReader(f.Data), f.Size(), f.ContentType); err != nil {
		return "", err
	}
	return key, nil
}

// deleteObjects removes keys best effort, logging failures.
func deleteObjects(ctx context.Context, store FileStore, logger *slog.Logger, keys ...string) {
	ctx = context.WithoutCancel(ctx)
	for _, key := range keys {
		if key == "" {
			continue
		}
		if err := store.DeleteObject(ctx, key); err != nil {
			logger.Warn("delete stored object failed", slog.String("object_key", key), slog.Any("error", err))
		}
	}
}

// streamObject writes an object to the response. filename switches to an attachment disposition.
func streamObject(c *gin.Context, rc io.ReadCloser, info storage.ObjectInfo, contentType, filename string) {
	defer rc.Close()

	headers := map[string]string{}
	if filename != "" {
		disposition := mime.FormatMediaType("attachment", map[string]string{"filename": filename})
		if disposition == "" {
			disposition = "attachment"
		}
		headers["Content-Disposition"] = disposition
	}
	c.DataFromReader(http.StatusOK, info.Size, contentType, rc, headers)
}
