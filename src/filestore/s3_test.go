package filestore

import (
	"context"
	"net/http/httptest"
	"strings"
	"testing"

	"git.handmade.network/hmn/forumdb/src/config"
	"git.handmade.network/hmn/forumdb/src/fakes3"
	"git.handmade.network/hmn/forumdb/src/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestS3Store(t *testing.T) {
	srv := httptest.NewServer(fakes3.Handler(t.TempDir()))
	defer srv.Close()
	ctx := context.Background()

	store, err := NewS3Store(ctx, config.FilesConfig{
		Backend:        config.FileBackendS3,
		S3Endpoint:     srv.URL,
		S3Region:       "us-east-1",
		S3Bucket:       "forum-files",
		S3Key:          "test",
		S3Secret:       "test",
		S3UsePathStyle: true,
	}, "phorum")
	require.NoError(t, err)

	file := &models.File{ID: 7, Filename: "cat picture.png"}

	// The bucket does not exist yet, so the first upload creates it.
	key, err := store.Put(ctx, file, []byte("meow"))
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(key, "phorum/files/"))
	assert.True(t, strings.HasSuffix(key, "/cat_picture.png"))
	file.StorageKey = key

	data, err := store.Get(ctx, file)
	require.NoError(t, err)
	assert.Equal(t, []byte("meow"), data)

	require.NoError(t, store.Delete(ctx, file))
	_, err = store.Get(ctx, file)
	assert.Error(t, err)

	// Files without a key were never uploaded.
	assert.NoError(t, store.Delete(ctx, &models.File{ID: 8}))
	_, err = store.Get(ctx, &models.File{ID: 8})
	assert.Error(t, err)
}
