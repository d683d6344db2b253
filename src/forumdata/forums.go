package forumdata

import (
	"context"

	"git.handmade.network/hmn/forumdb/src/db"
	"git.handmade.network/hmn/forumdb/src/logging"
	"git.handmade.network/hmn/forumdb/src/models"
	"git.handmade.network/hmn/forumdb/src/oops"
)

/*
Which forums to fetch. IDs wins over everything else; then InheritID, then
ParentID (optionally narrowed by VRoot). An empty filter returns all forums.
Inactive forums are left out unless asked for.
*/
type ForumFilter struct {
	IDs       []int
	ParentID  *int
	VRoot     *int
	InheritID *int

	IncludeInactive bool
}

func (s *Store) GetForums(ctx context.Context, filter ForumFilter) []*models.Forum {
	var qb db.QueryBuilder
	qb.Add(
		`
		---- Fetch forums
		SELECT $columns
		FROM {forums}
		WHERE forum_id <> 0
		`,
	)
	switch {
	case len(filter.IDs) > 0:
		qb.Add(`AND forum_id = ANY($?)`, filter.IDs)
	case filter.InheritID != nil:
		qb.Add(`AND inherit_id = $?`, *filter.InheritID)
	case filter.ParentID != nil:
		qb.Add(`AND parent_id = $?`, *filter.ParentID)
		if filter.VRoot != nil {
			qb.Add(`AND vroot = $?`, *filter.VRoot)
		}
	case filter.VRoot != nil:
		qb.Add(`AND vroot = $?`, *filter.VRoot)
	}
	if !filter.IncludeInactive {
		qb.Add(`AND active`)
	}
	qb.Add(`ORDER BY display_order, name`)

	sql, args := s.sql(&qb)
	forums, err := db.Query[models.Forum](ctx, s.gw, sql, args...)
	if err != nil {
		panic(oops.New(err, "failed to fetch forums"))
	}
	return forums
}

func (s *Store) GetForum(ctx context.Context, forumID int) (*models.Forum, error) {
	forums := s.GetForums(ctx, ForumFilter{IDs: []int{forumID}, IncludeInactive: true})
	if len(forums) == 0 {
		return nil, oops.New(ErrNotFound, "no forum with id %d", forumID)
	}
	return forums[0], nil
}

func (s *Store) AddForum(ctx context.Context, fields map[string]any) (int, error) {
	filtered := db.FilterFields(ctx, fields)
	if len(filtered) == 0 {
		return 0, oops.New(ErrInvalidArgument, "no valid forum fields")
	}

	var qb db.QueryBuilder
	qb.Add(`---- Add forum`)
	qb.Add(`INSERT INTO {forums}`)
	qb.AddInsertColumns(filtered)
	return s.insertReturningID(ctx, &qb), nil
}

func (s *Store) UpdateForum(ctx context.Context, forumIDs []int, fields map[string]any) error {
	filtered := db.FilterFields(ctx, fields)
	if len(filtered) == 0 || len(forumIDs) == 0 {
		return oops.New(ErrInvalidArgument, "nothing to update")
	}

	var qb db.QueryBuilder
	qb.Add(`---- Update forums`)
	qb.Add(`UPDATE {forums} SET`)
	qb.AddAssignments(filtered)
	qb.Add(`WHERE forum_id = ANY($?)`, forumIDs)
	sql, args := s.sql(&qb)
	s.exec(ctx, sql, args...)

	// List layout settings live on the forum row, so cached pages are stale.
	if _, explicit := fields["cache_version"]; !explicit {
		s.bumpCacheVersion(ctx, forumIDs...)
	}
	return nil
}

/*
Deletes a forum and everything in it: messages, search entries, permissions,
read markers, subscriptions, group links and ban items. Files attached to
the deleted messages go as well.
*/
func (s *Store) DropForum(ctx context.Context, forumID int) error {
	if forumID <= 0 {
		return oops.New(ErrInvalidArgument, "invalid forum id %d", forumID)
	}

	defer startBlock(ctx, "Drop forum").End()

	for _, table := range []string{
		"{messages}",
		"{search}",
		"{user_permissions}",
		"{user_newflags}",
		"{subscribers}",
		"{forum_group_xref}",
		"{banlists}",
		"{forums}",
	} {
		s.exec(ctx, `
			---- Drop forum rows
			DELETE FROM `+table+` WHERE forum_id = $1
		`, forumID)
	}

	var qb db.QueryBuilder
	qb.Add(
		`
		---- Find orphaned message files
		SELECT $columns{file}
		FROM {files} AS file
		LEFT JOIN {messages} AS message ON message.message_id = file.message_id
		WHERE file.link = $? AND file.message_id > 0 AND message.message_id IS NULL
		`,
		models.FileLinkMessage,
	)
	orphans := s.queryFiles(ctx, &qb)
	for _, f := range orphans {
		s.deleteFile(ctx, f)
	}

	logging.ExtractLogger(ctx).Info().
		Int("forum", forumID).
		Int("files", len(orphans)).
		Msg("dropped forum")
	return nil
}

// Deletes a folder. Whatever was inside moves up to the folder's parent.
func (s *Store) DropFolder(ctx context.Context, folderID int) error {
	var qb db.QueryBuilder
	qb.Add(
		`
		---- Fetch folder parent
		SELECT parent_id FROM {forums} WHERE forum_id = $? AND folder_flag
		`,
		folderID,
	)
	sql, args := s.sql(&qb)
	parentID, err := db.QueryOneScalar[int](ctx, s.gw, sql, args...)
	if err != nil {
		return oops.New(ErrNotFound, "no folder with id %d", folderID)
	}

	s.exec(ctx,
		`
		---- Move folder contents up
		UPDATE {forums} SET parent_id = $1 WHERE parent_id = $2
		`,
		parentID, folderID,
	)
	s.exec(ctx,
		`
		---- Delete folder
		DELETE FROM {forums} WHERE forum_id = $1
		`,
		folderID,
	)
	return nil
}

/*
Returns the users who may moderate messages in a forum, by id, with their
email addresses. Permission can come from the user directly or through an
approved group membership.
*/
func (s *Store) GetModerators(ctx context.Context, forumID int, excludeAdmins bool) map[int]string {
	var qb db.QueryBuilder
	qb.Add(
		`
		---- Fetch forum moderators
		SELECT DISTINCT $columns{usr}
		FROM {users} AS usr
		WHERE
			(
				usr.user_id IN (
					SELECT user_id FROM {user_permissions}
					WHERE forum_id = $? AND permission & $? > 0
				)
				OR usr.user_id IN (
					SELECT membership.user_id
					FROM {user_group_xref} AS membership
					JOIN {forum_group_xref} AS access ON access.group_id = membership.group_id
					WHERE
						access.forum_id = $?
						AND access.permission & $? > 0
						AND membership.status >= $?
				)
			)
		`,
		forumID, models.PermModerateMessages,
		forumID, models.PermModerateMessages, models.MembershipApproved,
	)
	if excludeAdmins {
		qb.Add(`AND NOT usr.admin`)
	}

	type moderator struct {
		UserID int    `db:"user_id"`
		Email  string `db:"email"`
	}
	sql, args := s.sql(&qb)
	rows, err := db.Query[moderator](ctx, s.gw, sql, args...)
	if err != nil {
		panic(oops.New(err, "failed to fetch moderators"))
	}

	result := make(map[int]string, len(rows))
	for _, m := range rows {
		result[m.UserID] = m.Email
	}
	return result
}
