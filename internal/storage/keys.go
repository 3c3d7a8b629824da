package storage

import (
	"fmt"
	"path"
	"strings"

	"github.com/google/uuid"
)

// Prefixes of the bucket layout.
const (
	PrefixAvatars   = "avatars"
	PrefixCovers    = "covers"
	PrefixDocuments = "documents"
)

// NewObjectKey builds "<prefix>/<userID>/<uuid><ext>" keeping the lowercase extension of filename.
func NewObjectKey(prefix string, userID uint, filename string) string {
	ext := strings.ToLower(path.Ext(strings.ReplaceAll(filename, "\\", "/")))
	return fmt.Sprintf("%s/%d/%s%s", prefix, userID, uuid.NewString(), ext)
}

// IsValidObjectKey rejects keys that escape their prefix or are implausibly long.
func IsValidObjectKey(prefix, key string) bool {
	if key == "" || len(key) > 200 {
		return false
	}
	if !strings.HasPrefix(key, prefix+"/") {
		return false
	}
	return !strings.Contains(key, "..") && !strings.Contains(key, "\\") && !strings.Contains(key, "//")
}
