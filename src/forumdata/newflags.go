package forumdata

import (
	"context"
	"sort"

	"git.handmade.network/hmn/forumdb/src/db"
	"git.handmade.network/hmn/forumdb/src/models"
	"git.handmade.network/hmn/forumdb/src/oops"
)

/*
Read markers ("newflags") record which messages a user has read. A user's
lowest marker in a forum acts as a watermark: anything at or below it counts
as read, so old markers can be dropped without messages turning unread.
*/

type ReadMarker struct {
	ForumID   int // 0 means the forum passed to MarkRead
	MessageID int
}

/*
Marks messages as read for a user. Marking something twice is harmless and
never evicts anything.

Each user keeps at most the configured number of markers across all forums.
When the batch would push the user past that, their oldest markers (the
lowest message ids) are evicted first; a batch larger than the ceiling only
keeps its newest markers.
*/
func (s *Store) MarkRead(ctx context.Context, userID, forumID int, markers []ReadMarker) {
	if userID == 0 || len(markers) == 0 {
		return
	}

	defer startBlock(ctx, "Mark read").End()

	type key struct{ forum, message int }
	seen := make(map[key]bool, len(markers))
	var batch []key
	for _, m := range markers {
		k := key{forum: m.ForumID, message: m.MessageID}
		if k.forum == 0 {
			k.forum = forumID
		}
		if k.forum == 0 || k.message == 0 || seen[k] {
			continue
		}
		seen[k] = true
		batch = append(batch, k)
	}
	if len(batch) == 0 {
		return
	}

	// Markers the user already has neither count toward the ceiling nor
	// need inserting.
	forumIDs, messageIDs := make([]int, len(batch)), make([]int, len(batch))
	for i, k := range batch {
		forumIDs[i], messageIDs[i] = k.forum, k.message
	}
	res, _ := s.gw.Execute(ctx, db.ModeRows, db.SQL(s.tables.Expand(`
		---- Fetch existing read markers
		SELECT forum_id, message_id
		FROM {user_newflags}
		WHERE user_id = $1 AND (forum_id, message_id) IN (
			SELECT f, m FROM unnest($2::int[], $3::int[]) AS batch (f, m)
		)
	`), userID, forumIDs, messageIDs))
	if len(res.Rows) > 0 {
		existing := make(map[key]bool, len(res.Rows))
		for _, row := range res.Rows {
			existing[key{forum: asInt(row[0]), message: asInt(row[1])}] = true
		}
		fresh := batch[:0]
		for _, k := range batch {
			if !existing[k] {
				fresh = append(fresh, k)
			}
		}
		batch = fresh
		if len(batch) == 0 {
			return
		}
	}

	ceiling := s.cfg.MaxReadMarkers
	if ceiling > 0 && len(batch) > ceiling {
		sort.Slice(batch, func(i, j int) bool {
			return batch[i].message > batch[j].message
		})
		batch = batch[:ceiling]
	}

	if ceiling > 0 {
		current := s.CountReadMarkers(ctx, userID, 0)
		if excess := current + len(batch) - ceiling; excess > 0 {
			s.DeleteReadMarkers(ctx, userID, 0, excess)
		}
	}

	forumIDs, messageIDs = make([]int, len(batch)), make([]int, len(batch))
	for i, k := range batch {
		forumIDs[i] = k.forum
		messageIDs[i] = k.message
	}

	s.exec(ctx,
		`
		---- Insert read markers
		INSERT INTO {user_newflags} (user_id, forum_id, message_id)
		SELECT $1, f, m
		FROM unnest($2::int[], $3::int[]) AS batch (f, m)
		ON CONFLICT DO NOTHING
		`,
		userID, forumIDs, messageIDs,
	)
}

// forumID 0 counts across all forums.
func (s *Store) CountReadMarkers(ctx context.Context, userID, forumID int) int {
	var qb db.QueryBuilder
	qb.Add(
		`
		---- Count read markers
		SELECT count(*) FROM {user_newflags} WHERE user_id = $?
		`,
		userID,
	)
	if forumID > 0 {
		qb.Add(`AND forum_id = $?`, forumID)
	}
	return s.count(ctx, &qb)
}

/*
Deletes a user's oldest read markers, lowest message ids first. forumID 0
covers all forums and limit 0 deletes everything in scope. Returns the
number of markers deleted.
*/
func (s *Store) DeleteReadMarkers(ctx context.Context, userID, forumID, limit int) int {
	var qb db.QueryBuilder
	qb.Add(
		`
		---- Delete read markers
		DELETE FROM {user_newflags}
		WHERE user_id = $? AND (forum_id, message_id) IN (
			SELECT forum_id, message_id
			FROM {user_newflags}
			WHERE user_id = $?
		`,
		userID, userID,
	)
	if forumID > 0 {
		qb.Add(`AND forum_id = $?`, forumID)
	}
	qb.Add(`ORDER BY message_id`)
	if limit > 0 {
		qb.Add(`LIMIT $?`, limit)
	}
	qb.Add(`)`)
	sql, args := s.sql(&qb)
	return int(s.exec(ctx, sql, args...))
}

type ReadFlags struct {
	MinID int // 0 when the user has no markers in the forum
	Read  map[int]bool
}

func (f ReadFlags) IsRead(messageID int) bool {
	return (f.MinID > 0 && messageID <= f.MinID) || f.Read[messageID]
}

func (s *Store) GetReadFlags(ctx context.Context, userID, forumID int) ReadFlags {
	flags := ReadFlags{Read: make(map[int]bool)}
	if userID == 0 {
		return flags
	}

	var qb db.QueryBuilder
	qb.Add(
		`
		---- Fetch read markers
		SELECT message_id
		FROM {user_newflags}
		WHERE user_id = $? AND forum_id = $?
		ORDER BY message_id
		`,
		userID, forumID,
	)
	sql, args := s.sql(&qb)
	ids, err := db.QueryScalar[int](ctx, s.gw, sql, args...)
	if err != nil {
		panic(oops.New(err, "failed to fetch read markers"))
	}
	for i, id := range ids {
		if i == 0 {
			flags.MinID = id
		}
		flags.Read[id] = true
	}
	return flags
}

/*
Counts what the user has not read in a forum, above their watermark: the
number of approved messages, and the number of approved thread roots.
A user with no markers in the forum gets zero for both.
*/
func (s *Store) UnreadCounts(ctx context.Context, userID, forumID int) (newMessages, newThreads int) {
	if userID == 0 {
		return 0, 0
	}

	var minQuery db.QueryBuilder
	minQuery.Add(
		`
		---- Fetch read watermark
		SELECT coalesce(min(message_id), 0)
		FROM {user_newflags}
		WHERE user_id = $? AND forum_id = $?
		`,
		userID, forumID,
	)
	minID := s.count(ctx, &minQuery)
	if minID == 0 {
		return 0, 0
	}

	var threadQuery db.QueryBuilder
	threadQuery.Add(
		`
		---- Count unread threads
		SELECT count(*)
		FROM {messages} AS message
		LEFT JOIN {user_newflags} AS flag
			ON flag.message_id = message.message_id AND flag.user_id = $?
		WHERE
			message.forum_id = $?
			AND message.message_id > $?
			AND message.parent_id = 0
			AND message.status = $?
			AND flag.message_id IS NULL
		`,
		userID, forumID, minID, models.MessageStatusApproved,
	)
	newThreads = s.count(ctx, &threadQuery)

	var messageQuery db.QueryBuilder
	messageQuery.Add(
		`
		---- Count unread messages
		SELECT count(*)
		FROM {messages} AS message
		LEFT JOIN {user_newflags} AS flag
			ON flag.message_id = message.message_id
			AND flag.forum_id = message.forum_id
			AND flag.user_id = $?
		WHERE
			message.forum_id = $?
			AND message.message_id > $?
			AND message.status = $?
			AND flag.message_id IS NULL
		`,
		userID, forumID, minID, models.MessageStatusApproved,
	)
	newMessages = s.count(ctx, &messageQuery)

	return newMessages, newThreads
}

// Drops the user's markers in the forum and leaves a single one at the
// forum's newest message.
func (s *Store) MarkAllRead(ctx context.Context, userID, forumID int) {
	if userID == 0 {
		return
	}
	s.DeleteReadMarkers(ctx, userID, forumID, 0)

	var qb db.QueryBuilder
	qb.Add(
		`
		---- Fetch newest forum message
		SELECT coalesce(max(message_id), 0) FROM {messages} WHERE forum_id = $?
		`,
		forumID,
	)
	if newest := s.count(ctx, &qb); newest > 0 {
		s.MarkRead(ctx, userID, forumID, []ReadMarker{{MessageID: newest}})
	}
}

// Moves every marker on the given messages to whatever forum each message is
// in now.
func (s *Store) MoveReadMarkersToMessageForum(ctx context.Context, messageIDs []int) {
	if len(messageIDs) == 0 {
		return
	}
	s.exec(ctx,
		`
		---- Move read markers to message forum
		UPDATE {user_newflags} AS flag
		SET forum_id = message.forum_id
		FROM {messages} AS message
		WHERE flag.message_id = message.message_id AND flag.message_id = ANY($1)
		`,
		messageIDs,
	)
}
