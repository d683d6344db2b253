package forumdata

import (
	"context"
	"time"

	"git.handmade.network/hmn/forumdb/src/db"
	"git.handmade.network/hmn/forumdb/src/jobs"
	"git.handmade.network/hmn/forumdb/src/logging"
	"git.handmade.network/hmn/forumdb/src/models"
	"git.handmade.network/hmn/forumdb/src/oops"
)

/*
Stores a file. The row goes into the files table and the payload into the
configured file store. On success f.ID and f.StorageKey are set.

Files linked to a message default to the "message" link, others to "user".
*/
func (s *Store) SaveFile(ctx context.Context, f *models.File, data []byte) (int, error) {
	if f.Link == "" {
		switch {
		case f.MessageID > 0:
			f.Link = models.FileLinkMessage
		case f.UserID > 0:
			f.Link = models.FileLinkUser
		default:
			return 0, oops.New(ErrInvalidArgument, "file %q belongs to nobody", f.Filename)
		}
	}
	if f.Filesize == 0 {
		f.Filesize = int64(len(data))
	}
	if f.AddedAt.IsZero() {
		f.AddedAt = s.now()
	}

	var qb db.QueryBuilder
	qb.Add(
		`
		---- Add file
		INSERT INTO {files} (user_id, message_id, link, filename, filesize, add_datetime)
		VALUES ($?, $?, $?, $?, $?, $?)
		`,
		f.UserID, f.MessageID, f.Link, f.Filename, f.Filesize, f.AddedAt,
	)
	f.ID = s.insertReturningID(ctx, &qb)

	key, err := s.files.Put(ctx, f, data)
	if err != nil {
		s.exec(ctx, `
			---- Remove unstored file
			DELETE FROM {files} WHERE file_id = $1
		`, f.ID)
		return 0, oops.New(err, "failed to store file %d", f.ID)
	}
	if key != "" {
		f.StorageKey = key
		s.exec(ctx,
			`
			---- Record file storage key
			UPDATE {files} SET storage_key = $1 WHERE file_id = $2
			`,
			key, f.ID,
		)
	}
	return f.ID, nil
}

func (s *Store) queryFiles(ctx context.Context, qb *db.QueryBuilder) []*models.File {
	sql, args := s.sql(qb)
	files, err := db.Query[models.File](ctx, s.gw, sql, args...)
	if err != nil {
		panic(oops.New(err, "failed to fetch files"))
	}
	return files
}

// Fetches a file row, and with withData its payload too.
func (s *Store) GetFile(ctx context.Context, fileID int, withData bool) (*models.File, error) {
	var qb db.QueryBuilder
	qb.Add(
		`
		---- Fetch file
		SELECT $columns FROM {files} WHERE file_id = $?
		`,
		fileID,
	)
	files := s.queryFiles(ctx, &qb)
	if len(files) == 0 {
		return nil, oops.New(ErrNotFound, "no file with id %d", fileID)
	}
	f := files[0]

	if withData {
		data, err := s.files.Get(ctx, f)
		if err != nil {
			return nil, oops.New(err, "failed to read file %d", fileID)
		}
		f.Data = data
	}
	return f, nil
}

func (s *Store) DeleteFile(ctx context.Context, fileID int) error {
	f, err := s.GetFile(ctx, fileID, false)
	if err != nil {
		return err
	}
	s.deleteFile(ctx, f)
	return nil
}

// Payload first, then the row. A payload that cannot be deleted is logged
// and left behind.
func (s *Store) deleteFile(ctx context.Context, f *models.File) {
	if err := s.files.Delete(ctx, f); err != nil {
		logging.ExtractLogger(ctx).Warn().Err(err).Int("file", f.ID).Msg("failed to delete file payload")
	}
	s.exec(ctx, `
		---- Delete file
		DELETE FROM {files} WHERE file_id = $1
	`, f.ID)
}

// Attaches a file to a message, or with messageID 0 detaches it.
func (s *Store) LinkFile(ctx context.Context, fileID, messageID int, link models.FileLink) error {
	if link == "" {
		return oops.New(ErrInvalidArgument, "empty file link")
	}
	n := s.exec(ctx,
		`
		---- Link file
		UPDATE {files} SET message_id = $1, link = $2 WHERE file_id = $3
		`,
		messageID, link, fileID,
	)
	if n == 0 {
		return oops.New(ErrNotFound, "no file with id %d", fileID)
	}
	return nil
}

// The files in a user's personal file area.
func (s *Store) ListUserFiles(ctx context.Context, userID int) []*models.File {
	var qb db.QueryBuilder
	qb.Add(
		`
		---- List user files
		SELECT $columns
		FROM {files}
		WHERE user_id = $? AND message_id = 0 AND link = $?
		ORDER BY filename
		`,
		userID, models.FileLinkUser,
	)
	return s.queryFiles(ctx, &qb)
}

func (s *Store) ListMessageFiles(ctx context.Context, messageID int) []*models.File {
	var qb db.QueryBuilder
	qb.Add(
		`
		---- List message files
		SELECT $columns
		FROM {files}
		WHERE message_id = $? AND link = $?
		ORDER BY file_id
		`,
		messageID, models.FileLinkMessage,
	)
	return s.queryFiles(ctx, &qb)
}

// Total size of a user's personal files, for quota checks.
func (s *Store) UserFilesizeTotal(ctx context.Context, userID int) int64 {
	var qb db.QueryBuilder
	qb.Add(
		`
		---- Sum user file sizes
		SELECT coalesce(sum(filesize), 0)::bigint
		FROM {files}
		WHERE user_id = $? AND message_id = 0 AND link = $?
		`,
		userID, models.FileLinkUser,
	)
	sql, args := s.sql(&qb)
	total, err := db.QueryOneScalar[int64](ctx, s.gw, sql, args...)
	if err != nil {
		return 0
	}
	return total
}

/*
Finds files uploaded in the editor that never made it into a posted message
within the edit window. With live set they are deleted; either way the
candidates are returned.
*/
func (s *Store) PurgeStaleFiles(ctx context.Context, live bool) []*models.File {
	var qb db.QueryBuilder
	qb.Add(
		`
		---- Find stale editor files
		SELECT $columns
		FROM {files}
		WHERE link = $? AND add_datetime < $?
		ORDER BY file_id
		`,
		models.FileLinkEditor, s.now().Add(-s.cfg.MaxEditTime),
	)
	stale := s.queryFiles(ctx, &qb)
	if live {
		for _, f := range stale {
			s.deleteFile(ctx, f)
		}
	}
	return stale
}

// Purges stale editor files in the background until the job is canceled.
// Gateways are single-connection, so the store should have one of its own.
func PeriodicallyPurgeStaleFiles(store *Store, interval time.Duration) *jobs.Job {
	return jobs.Periodic("purge stale files", interval, true, func(ctx context.Context) error {
		purged := store.PurgeStaleFiles(ctx, true)
		if len(purged) > 0 {
			logging.ExtractLogger(ctx).Info().Int("files", len(purged)).Msg("purged stale files")
		}
		return nil
	})
}
