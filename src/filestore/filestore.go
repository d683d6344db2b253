/*
Package filestore holds attachment payloads. The file rows themselves always
live in the files table; a Store only decides where the bytes go.
*/
package filestore

import (
	"context"
	"fmt"
	"regexp"

	"git.handmade.network/hmn/forumdb/src/config"
	"git.handmade.network/hmn/forumdb/src/db"
	"git.handmade.network/hmn/forumdb/src/models"
	"git.handmade.network/hmn/forumdb/src/oops"
)

type Store interface {
	// Stores the payload for an already inserted file row. The returned key
	// is recorded on the row; it is empty for stores that keep the bytes in
	// the row itself.
	Put(ctx context.Context, file *models.File, data []byte) (storageKey string, err error)
	Get(ctx context.Context, file *models.File) ([]byte, error)
	Delete(ctx context.Context, file *models.File) error
}

func New(ctx context.Context, cfg config.FilesConfig, gw *db.Gateway, tables db.Tables) (Store, error) {
	switch cfg.Backend {
	case config.FileBackendS3:
		return NewS3Store(ctx, cfg, tables.Prefix)
	case config.FileBackendDB, "":
		return &DBStore{gw: gw, tables: tables}, nil
	}
	return nil, oops.New(nil, "unknown file backend %q", cfg.Backend)
}

var REIllegalFilenameChars = regexp.MustCompile(`[^\w\-.]`)

func SanitizeFilename(filename string) string {
	if filename == "" {
		return "unnamed"
	}
	return REIllegalFilenameChars.ReplaceAllString(filename, "_")
}

// Keeps payloads in the file_data column of the files table.
type DBStore struct {
	gw     *db.Gateway
	tables db.Tables
}

var _ Store = &DBStore{}

func NewDBStore(gw *db.Gateway, tables db.Tables) *DBStore {
	return &DBStore{gw: gw, tables: tables}
}

func (s *DBStore) Put(ctx context.Context, file *models.File, data []byte) (string, error) {
	_, err := s.gw.Execute(ctx, db.ModeRowCount, db.SQL(
		fmt.Sprintf(`
		---- Store inline file data
		UPDATE %s SET file_data = $1 WHERE file_id = $2
		`, s.tables.Files),
		data, file.ID,
	))
	return "", err
}

func (s *DBStore) Get(ctx context.Context, file *models.File) ([]byte, error) {
	data, err := db.QueryOneScalar[[]byte](ctx, s.gw,
		fmt.Sprintf(`
		---- Fetch inline file data
		SELECT file_data FROM %s WHERE file_id = $1
		`, s.tables.Files),
		file.ID,
	)
	if err != nil {
		return nil, err
	}
	return data, nil
}

// The bytes go away with the row.
func (s *DBStore) Delete(ctx context.Context, file *models.File) error {
	return nil
}
