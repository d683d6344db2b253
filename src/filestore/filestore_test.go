package filestore

import (
	"context"
	"strings"
	"testing"

	"git.handmade.network/hmn/forumdb/src/config"
	"git.handmade.network/hmn/forumdb/src/db"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSanitizeFilename(t *testing.T) {
	assert.Equal(t, "unnamed", SanitizeFilename(""))
	assert.Equal(t, "my_cool_file.png", SanitizeFilename("my cool/file.png"))
	assert.Equal(t, "ok-name_1.tar.gz", SanitizeFilename("ok-name_1.tar.gz"))
}

func TestObjectKey(t *testing.T) {
	id := uuid.MustParse("a0eebc99-9c0b-4ef8-bb6d-6bb9bd380a11")
	key := ObjectKey("phorum", id, "../../etc/passwd")
	assert.Equal(t, "phorum/files/a0eebc99-9c0b-4ef8-bb6d-6bb9bd380a11/.._.._etc_passwd", key)
	assert.False(t, strings.Contains(key[len("phorum/files/"):], "/../"))
}

func TestNew(t *testing.T) {
	tables, err := db.NewTables("phorum")
	require.Nil(t, err)

	store, err := New(context.Background(), config.FilesConfig{Backend: config.FileBackendDB}, nil, tables)
	require.Nil(t, err)
	assert.IsType(t, &DBStore{}, store)

	_, err = New(context.Background(), config.FilesConfig{Backend: "floppy"}, nil, tables)
	assert.NotNil(t, err)
}
