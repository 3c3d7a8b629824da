// Package upload checks files received from multipart forms before they reach storage.
package upload

import (
	"errors"
	"fmt"
	"io"
	"mime"
	"mime/multipart"
	"path/filepath"
	"strings"
)

// FieldError is a validation failure bound to a form field.
type FieldError struct {
	Field   string
	Message string
}

func (e *FieldError) Error() string {
	return e.Field + ": " + e.Message
}

// File is an accepted upload held in memory.
type File struct {
	Name        string
	Ext         string
	ContentType string
	Data        []byte
}

// Size returns the length of the file in bytes.
func (f *File) Size() int64 {
	return int64(len(f.Data))
}

var imageTypes = map[string]string{
	".png":  "image/png",
	".jpg":  "image/jpeg",
	".jpeg": "image/jpeg",
}

// media types not covered by the builtin mime table on every platform
var documentTypes = map[string]string{
	".pdf":  "application/pdf",
	".doc":  "application/msword",
	".docx": "application/vnd.openxmlformats-officedocument.wordprocessingml.document",
}

// Validator enforces size and type limits and optionally runs an antivirus scan.
type Validator struct {
	MaxImageBytes    int64
	MaxDocumentBytes int64
	Scanner          Scanner
}

// Image accepts png/jpg/jpeg files up to MaxImageBytes.
func (v *Validator) Image(field string, fh *multipart.FileHeader) (*File, error) {
	ext := strings.ToLower(filepath.Ext(fh.Filename))
	contentType, ok := imageTypes[ext]
	if !ok {
		return nil, &FieldError{Field: field, Message: "only png, jpg and jpeg images are allowed"}
	}
	file, err := v.read(field, fh, v.MaxImageBytes)
	if err != nil {
		return nil, err
	}
	file.ContentType = contentType
	return file, nil
}

// Document accepts any file up to MaxDocumentBytes.
func (v *Validator) Document(field string, fh *multipart.FileHeader) (*File, error) {
	file, err := v.read(field, fh, v.MaxDocumentBytes)
	if err != nil {
		return nil, err
	}
	file.ContentType = ContentTypeFor(file.Name, fh.Header.Get("Content-Type"))
	return file, nil
}

func (v *Validator) read(field string, fh *multipart.FileHeader, limit int64) (*File, error) {
	if fh.Size > limit {
		return nil, &FieldError{Field: field, Message: fmt.Sprintf("file exceeds the %s limit", humanSize(limit))}
	}

	f, err := fh.Open()
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", field, err)
	}
	defer f.Close()

	data, err := io.ReadAll(io.LimitReader(f, limit+1))
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", field, err)
	}
	if int64(len(data)) > limit {
		return nil, &FieldError{Field: field, Message: fmt.Sprintf("file exceeds the %s limit", humanSize(limit))}
	}
	if len(data) == 0 {
		return nil, &FieldError{Field: field, Message: "file is empty"}
	}

	if err := scanBytes(v.Scanner, data); err != nil {
		if errors.Is(err, ErrInfected) {
			return nil, &FieldError{Field: field, Message: ErrInfected.Error()}
		}
		return nil, err
	}

	name := filepath.Base(strings.ReplaceAll(fh.Filename, "\\", "/"))
	return &File{
		Name: name,
		Ext:  strings.ToLower(filepath.Ext(name)),
		Data: data,
	}, nil
}

// ContentTypeFor guesses a media type from the file name, then from the declared type.
func ContentTypeFor(name, declared string) string {
	ext := strings.ToLower(filepath.Ext(name))
	if known, ok := documentTypes[ext]; ok {
		return known
	}
	if known, ok := imageTypes[ext]; ok {
		return known
	}
	if byExt := mime.TypeByExtension(ext); byExt != "" {
		return byExt
	}
	if declared = strings.TrimSpace(declared); declared != "" {
		return declared
	}
	return "application/octet-stream"
}

func humanSize(n int64) string {
	const mib = 1024 * 1024
	if n%mib == 0 {
		return fmt.Sprintf("%d MB", n/mib)
	}
	return fmt.Sprintf("%d bytes", n)
}
