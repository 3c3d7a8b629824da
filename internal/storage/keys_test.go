package storage

import (
	"bytes"
	"errors"
	"fmt"
	"image/png"
	"strings"
	"testing"

	"github.com/minio/minio-go/v7"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewObjectKey(t *testing.T) {
	key := NewObjectKey(PrefixDocuments, 7, `C:\tmp\Informe Final.PDF`)
	assert.True(t, strings.HasPrefix(key, "documents/7/"))
	assert.True(t, strings.HasSuffix(key, ".pdf"))
	assert.True(t, IsValidObjectKey(PrefixDocuments, key))

	other := NewObjectKey(PrefixDocuments, 7, "Informe Final.pdf")
	assert.NotEqual(t, key, other)
}

func TestIsValidObjectKey(t *testing.T) {
	assert.False(t, IsValidObjectKey(PrefixAvatars, ""))
	assert.False(t, IsValidObjectKey(PrefixAvatars, "covers/1/a.png"))
	assert.False(t, IsValidObjectKey(PrefixAvatars, "avatars/../secrets"))
	assert.False(t, IsValidObjectKey(PrefixAvatars, "avatars//a.png"))
	assert.False(t, IsValidObjectKey(PrefixAvatars, "avatars/"+strings.Repeat("a", 200)))
	assert.True(t, IsValidObjectKey(PrefixAvatars, "avatars/default.png"))
}

func TestIsNoSuchKey(t *testing.T) {
	assert.False(t, IsNoSuchKey(nil))
	assert.True(t, IsNoSuchKey(ErrObjectNotFound))
	assert.True(t, IsNoSuchKey(fmt.Errorf("wrapped: %w", ErrObjectNotFound)))
	assert.True(t, IsNoSuchKey(minio.ErrorResponse{Code: "NoSuchKey"}))
	assert.True(t, IsNoSuchKey(errors.New("The specified key does not exist.")))
	assert.False(t, IsNoSuchKey(errors.New("connection refused")))
}

func TestPlaceholderAvatarPNG(t *testing.T) {
	data, err := PlaceholderAvatarPNG()
	require.NoError(t, err)
	img, err := png.Decode(bytes.NewReader(data))
	require.NoError(t, err)
	assert.Equal(t, 96, img.Bounds().Dx())
}
