package forumdata

import (
	"context"

	"git.handmade.network/hmn/forumdb/src/db"
	"git.handmade.network/hmn/forumdb/src/models"
	"git.handmade.network/hmn/forumdb/src/oops"
)

/*
Returns the ids of every message below messageID in the reply tree, within
one forum, in ascending order. The message itself is not included; a leaf
has no descendants.
*/
func (s *Store) Descendants(ctx context.Context, messageID, forumID int) []int {
	var qb db.QueryBuilder
	qb.Add(
		`
		---- Fetch message descendants
		WITH RECURSIVE tree (message_id) AS (
			SELECT message_id
			FROM {messages}
			WHERE forum_id = $? AND parent_id = $?
			UNION
			SELECT child.message_id
			FROM {messages} AS child
			JOIN tree ON child.parent_id = tree.message_id
			WHERE child.forum_id = $?
		)
		SELECT message_id FROM tree
		WHERE message_id <> $?
		ORDER BY message_id
		`,
		forumID, messageID, forumID, messageID,
	)
	sql, args := s.sql(&qb)
	ids, err := db.QueryScalar[int](ctx, s.gw, sql, args...)
	if err != nil {
		panic(oops.New(err, "failed to fetch descendants"))
	}
	return ids
}

type DeleteMode int

const (
	// Delete only the message; its replies move up to its parent.
	DeleteReparent DeleteMode = iota
	// Delete the message and every reply below it.
	DeleteSubtree
)

type messageRef struct {
	ID       int `db:"message_id"`
	ForumID  int `db:"forum_id"`
	Thread   int `db:"thread"`
	ParentID int `db:"parent_id"`
}

func (s *Store) fetchMessageRef(ctx context.Context, id int) (*messageRef, error) {
	var qb db.QueryBuilder
	qb.Add(
		`
		---- Fetch message position
		SELECT $columns
		FROM {messages}
		WHERE message_id = $?
		`,
		id,
	)
	sql, args := s.sql(&qb)
	ref, err := db.QueryOne[messageRef](ctx, s.gw, sql, args...)
	if err != nil {
		return nil, oops.New(ErrNotFound, "no message with id %d", id)
	}
	return ref, nil
}

/*
Deletes a message and returns the ids of everything removed.

The affected messages are put on hold first, so they drop out of listings
while the rest of the statements run. This narrows the window for replies to
a message that is being deleted but does not close it; nothing here is
transactional.

Deleting a thread root in DeleteReparent mode promotes its oldest direct
reply to be the new root of the remaining thread.

With a forum in scope, only messages of that forum can be deleted.
*/
func (s *Store) DeleteMessage(ctx context.Context, sc Scope, id int, mode DeleteMode) ([]int, error) {
	rec, err := s.fetchMessageRef(ctx, id)
	if err != nil {
		return nil, err
	}
	if sc.Forum != nil && sc.Forum.ID != rec.ForumID {
		return nil, oops.New(ErrNotFound, "message %d is not in forum %d", id, sc.Forum.ID)
	}

	defer startBlock(ctx, "Delete message").End()

	ids := []int{id}
	if mode == DeleteSubtree {
		ids = append(ids, s.Descendants(ctx, id, rec.ForumID)...)
	}

	s.exec(ctx,
		`
		---- Hold messages for deletion
		UPDATE {messages} SET status = $1 WHERE message_id = ANY($2)
		`,
		models.MessageStatusHold, ids,
	)

	thread := rec.Thread
	if mode == DeleteReparent {
		if rec.ParentID == 0 && rec.Thread == rec.ID {
			if newRoot := s.promoteFirstReply(ctx, rec); newRoot != 0 {
				thread = newRoot
			}
		} else {
			s.exec(ctx,
				`
				---- Reparent replies
				UPDATE {messages}
				SET parent_id = $1
				WHERE forum_id = $2 AND parent_id = $3
				`,
				rec.ParentID, rec.ForumID, rec.ID,
			)
		}
	}

	s.exec(ctx,
		`
		---- Delete messages
		DELETE FROM {messages} WHERE message_id = ANY($1)
		`,
		ids,
	)
	s.exec(ctx,
		`
		---- Delete search entries
		DELETE FROM {search} WHERE message_id = ANY($1)
		`,
		ids,
	)

	s.UpdateThreadInfo(ctx, thread)

	s.exec(ctx,
		`
		---- Delete thread subscriptions
		DELETE FROM {subscribers} WHERE forum_id > 0 AND thread = ANY($1)
		`,
		[]int{rec.Thread, thread},
	)

	s.RecomputeForumStats(ctx, rec.ForumID, StatsUpdate{Refresh: true})

	return ids, nil
}

// Makes the oldest direct reply of a root the root of the whole thread.
// Returns 0 if the root has no replies.
func (s *Store) promoteFirstReply(ctx context.Context, root *messageRef) int {
	var qb db.QueryBuilder
	qb.Add(
		`
		---- Find first reply
		SELECT message_id
		FROM {messages}
		WHERE forum_id = $? AND parent_id = $?
		ORDER BY message_id
		LIMIT 1
		`,
		root.ForumID, root.ID,
	)
	newRoot := s.count(ctx, &qb)
	if newRoot == 0 {
		return 0
	}

	s.exec(ctx,
		`
		---- Reparent replies to new root
		UPDATE {messages}
		SET parent_id = $1
		WHERE forum_id = $2 AND parent_id = $3 AND message_id <> $1
		`,
		newRoot, root.ForumID, root.ID,
	)
	s.exec(ctx,
		`
		---- Promote new thread root
		UPDATE {messages} SET parent_id = 0 WHERE message_id = $1
		`,
		newRoot,
	)
	s.exec(ctx,
		`
		---- Move messages to new thread root
		UPDATE {messages} SET thread = $1 WHERE thread = $2 AND message_id <> $2
		`,
		newRoot, root.ID,
	)
	return newRoot
}

/*
Moves a whole thread to another forum, along with its search entries,
subscriptions and read markers.

Read markers are migrated using the acting user's read state in the
destination forum: markers for messages above that user's lowest marker
there are moved, the rest are deleted for everyone. This is an
approximation; other users may see some moved messages as unread.
*/
func (s *Store) MoveThread(ctx context.Context, sc Scope, threadID, toForumID int) error {
	if threadID <= 0 || toForumID <= 0 {
		return oops.New(ErrInvalidArgument, "cannot move thread %d to forum %d", threadID, toForumID)
	}

	root, err := s.fetchMessageRef(ctx, threadID)
	if err != nil {
		return err
	}
	fromForumID := root.ForumID

	defer startBlock(ctx, "Move thread").End()

	var qb db.QueryBuilder
	qb.Add(
		`
		---- Fetch thread message ids
		SELECT message_id FROM {messages} WHERE thread = $? ORDER BY message_id
		`,
		threadID,
	)
	sql, args := s.sql(&qb)
	messageIDs, err := db.QueryScalar[int](ctx, s.gw, sql, args...)
	if err != nil {
		panic(oops.New(err, "failed to fetch thread message ids"))
	}

	s.exec(ctx,
		`
		---- Move thread messages
		UPDATE {messages} SET forum_id = $1 WHERE thread = $2
		`,
		toForumID, threadID,
	)

	s.RecomputeForumStats(ctx, fromForumID, StatsUpdate{Refresh: true})
	s.RecomputeForumStats(ctx, toForumID, StatsUpdate{Refresh: true})

	baseline := s.GetReadFlags(ctx, sc.UserID, toForumID).MinID
	var moveIDs, deleteIDs []int
	for _, id := range messageIDs {
		if id > baseline {
			moveIDs = append(moveIDs, id)
		} else {
			deleteIDs = append(deleteIDs, id)
		}
	}

	if len(moveIDs) > 0 {
		s.MoveReadMarkersToMessageForum(ctx, moveIDs)
	}
	if len(deleteIDs) > 0 {
		s.exec(ctx,
			`
			---- Delete moved read markers
			DELETE FROM {user_newflags} WHERE message_id = ANY($1)
			`,
			deleteIDs,
		)
	}

	s.exec(ctx,
		`
		---- Move thread subscriptions
		UPDATE {subscribers} SET forum_id = $1 WHERE thread = $2 AND forum_id > 0
		`,
		toForumID, threadID,
	)
	if len(messageIDs) > 0 {
		s.exec(ctx,
			`
			---- Move search entries
			UPDATE {search} SET forum_id = $1 WHERE message_id = ANY($2)
			`,
			toForumID, messageIDs,
		)
	}

	return nil
}

/*
Turns a reply into the root of a new thread. Everything below it moves along
to the new thread; the rest of the old thread stays where it is.
*/
func (s *Store) SplitThread(ctx context.Context, messageID, forumID int) error {
	if messageID <= 0 || forumID <= 0 {
		return oops.New(ErrInvalidArgument, "cannot split message %d in forum %d", messageID, forumID)
	}
	rec, err := s.fetchMessageRef(ctx, messageID)
	if err != nil {
		return err
	}

	tree := s.Descendants(ctx, messageID, forumID)

	s.exec(ctx,
		`
		---- Promote split message
		UPDATE {messages} SET thread = $1, parent_id = 0 WHERE message_id = $1
		`,
		messageID,
	)
	if len(tree) > 0 {
		s.exec(ctx,
			`
			---- Move split replies
			UPDATE {messages} SET thread = $1 WHERE message_id = ANY($2)
			`,
			messageID, tree,
		)
	}

	s.UpdateThreadInfo(ctx, rec.Thread)
	s.UpdateThreadInfo(ctx, messageID)
	s.RecomputeForumStats(ctx, forumID, StatsUpdate{Refresh: true})
	return nil
}

func (s *Store) CloseThread(ctx context.Context, threadID int) error {
	return s.setThreadClosed(ctx, threadID, true)
}

func (s *Store) ReopenThread(ctx context.Context, threadID int) error {
	return s.setThreadClosed(ctx, threadID, false)
}

func (s *Store) setThreadClosed(ctx context.Context, threadID int, closed bool) error {
	if threadID <= 0 {
		return oops.New(ErrInvalidArgument, "invalid thread id %d", threadID)
	}
	res, _ := s.gw.Execute(ctx, db.ModeRows, db.SQL(s.tables.Expand(`
		---- Set thread closed
		UPDATE {messages} SET closed = $1 WHERE thread = $2
		RETURNING forum_id
	`), closed, threadID))
	if len(res.Rows) == 0 {
		return oops.New(ErrNotFound, "no thread with id %d", threadID)
	}
	s.bumpCacheVersion(ctx, asInt(res.Rows[0][0]))
	return nil
}
