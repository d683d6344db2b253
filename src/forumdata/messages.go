package forumdata

import (
	"context"
	"fmt"
	"time"

	"git.handmade.network/hmn/forumdb/src/blob"
	"git.handmade.network/hmn/forumdb/src/db"
	"git.handmade.network/hmn/forumdb/src/logging"
	"git.handmade.network/hmn/forumdb/src/metaquery"
	"git.handmade.network/hmn/forumdb/src/models"
	"git.handmade.network/hmn/forumdb/src/oops"
	"git.handmade.network/hmn/forumdb/src/utils"
)

/*
Stores a new message. On success msg.ID is set, and for a new thread
msg.Thread as well. An approved message also updates its thread's info and
the forum's stats.

Returns ErrDuplicate if the same author posted the same subject and body to
the same forum within the configured duplicate window.
*/
func (s *Store) PostMessage(ctx context.Context, msg *models.Message) error {
	msg.Datestamp = s.now()
	msg.ModifyStamp = msg.Datestamp
	return s.postMessage(ctx, msg, false)
}

/*
Stores a message taken from another system. The datestamps are kept as
given, a non-zero ID is kept too, and no duplicate check is done.
*/
func (s *Store) ImportMessage(ctx context.Context, msg *models.Message) error {
	if msg.Datestamp.IsZero() {
		msg.Datestamp = s.now()
	}
	if msg.ModifyStamp.IsZero() {
		msg.ModifyStamp = msg.Datestamp
	}
	return s.postMessage(ctx, msg, true)
}

func (s *Store) postMessage(ctx context.Context, msg *models.Message, imported bool) error {
	if msg.ForumID <= 0 {
		return oops.New(ErrInvalidArgument, "message has no forum")
	}

	defer startBlock(ctx, "Post message").End()

	if !imported && s.cfg.CheckDuplicates && s.isDuplicate(ctx, msg) {
		return oops.New(ErrDuplicate, "%q already posted %q", msg.Author, msg.Subject)
	}

	if msg.Meta != nil {
		raw, err := blob.Encode(msg.Meta)
		if err != nil {
			return oops.New(err, "failed to encode message meta")
		}
		msg.MetaRaw = raw
	}

	columns := "forum_id, thread, parent_id, user_id, author, email, ip, subject, body, msgid, status, sort, moderator_post, closed, datestamp, modifystamp, viewcount, meta"
	values := "$?, $?, $?, $?, $?, $?, $?, $?, $?, $?, $?, $?, $?, $?, $?, $?, $?, $?"
	args := []any{
		msg.ForumID, msg.Thread, msg.ParentID, msg.UserID,
		msg.Author, msg.Email, msg.IP, msg.Subject, msg.Body, msg.MsgID,
		msg.Status, msg.Sort, msg.ModeratorPost, msg.Closed,
		msg.Datestamp, msg.ModifyStamp, msg.ViewCount, msg.MetaRaw,
	}

	var qb db.QueryBuilder
	qb.Add(`---- Insert message`)
	if imported && msg.ID > 0 {
		qb.Add(
			fmt.Sprintf(`INSERT INTO {messages} (message_id, %s) VALUES ($?, %s)`, columns, values),
			append([]any{msg.ID}, args...)...,
		)
		sql, args := s.sql(&qb)
		s.exec(ctx, sql, args...)
		s.syncMessageSequence(ctx)
	} else {
		qb.Add(fmt.Sprintf(`INSERT INTO {messages} (%s) VALUES (%s)`, columns, values), args...)
		msg.ID = s.insertReturningID(ctx, &qb)
	}

	if msg.Thread == 0 {
		msg.Thread = msg.ID
		s.exec(ctx,
			`
			---- Set new thread id
			UPDATE {messages} SET thread = $1 WHERE message_id = $1
			`,
			msg.ID,
		)
	}

	s.exec(ctx,
		`
		---- Insert search entry
		INSERT INTO {search} (message_id, forum_id, search_text)
		VALUES ($1, $2, $3)
		ON CONFLICT (message_id) DO UPDATE
			SET forum_id = EXCLUDED.forum_id, search_text = EXCLUDED.search_text
		`,
		msg.ID, msg.ForumID, msg.SearchText(),
	)

	if msg.Status == models.MessageStatusApproved {
		s.UpdateThreadInfo(ctx, msg.Thread)

		update := StatsUpdate{
			MessageDelta: 1,
			LastPostTime: msg.ModifyStamp,
		}
		if msg.IsRoot() {
			update.ThreadDelta = 1
			if msg.Sort == models.SortSticky {
				update.StickyDelta = 1
			}
		}
		s.RecomputeForumStats(ctx, msg.ForumID, update)
	}

	logging.ExtractLogger(ctx).Debug().
		Int("message", msg.ID).
		Int("forum", msg.ForumID).
		Int("thread", msg.Thread).
		Msg("posted message")

	return nil
}

func (s *Store) isDuplicate(ctx context.Context, msg *models.Message) bool {
	var qb db.QueryBuilder
	qb.Add(
		`
		---- Check for duplicate message
		SELECT count(*)
		FROM {messages}
		WHERE
			forum_id = $?
			AND author = $?
			AND subject = $?
			AND body = $?
			AND datestamp > $?
		`,
		msg.ForumID, msg.Author, msg.Subject, msg.Body,
		msg.Datestamp.Add(-s.cfg.DuplicateWindow),
	)
	return s.count(ctx, &qb) > 0
}

// Imported ids bypass the sequence, so it has to catch up afterwards.
func (s *Store) syncMessageSequence(ctx context.Context) {
	s.exec(ctx,
		`
		---- Sync message id sequence
		SELECT setval(pg_get_serial_sequence($1, 'message_id'), (SELECT max(message_id) FROM {messages}))
		`,
		s.tables.Messages,
	)
}

/*
Updates the given columns of a message. Invalid column names are dropped;
blob.Payload values (such as "meta") are encoded.

The search entry is only rewritten when author, subject and body are all
part of the update.
*/
func (s *Store) UpdateMessage(ctx context.Context, messageID int, fields map[string]any) error {
	for name, value := range fields {
		if payload, ok := value.(blob.Payload); ok {
			raw, err := blob.Encode(payload)
			if err != nil {
				return oops.New(err, "failed to encode %s", name)
			}
			fields[name] = raw
		}
	}

	filtered := db.FilterFields(ctx, fields)
	if len(filtered) == 0 {
		return oops.New(ErrInvalidArgument, "no valid fields to update for message %d", messageID)
	}

	rec, err := s.fetchMessageRef(ctx, messageID)
	if err != nil {
		return err
	}
	forumID := rec.ForumID
	if newForumID, ok := fields["forum_id"].(int); ok {
		forumID = newForumID
	}

	var qb db.QueryBuilder
	qb.Add(`---- Update message`)
	qb.Add(`UPDATE {messages} SET`)
	qb.AddAssignments(filtered)
	qb.Add(`WHERE message_id = $?`, messageID)
	sql, args := s.sql(&qb)
	if s.exec(ctx, sql, args...) == 0 {
		return oops.New(ErrNotFound, "no message with id %d", messageID)
	}

	author, hasAuthor := fields["author"].(string)
	subject, hasSubject := fields["subject"].(string)
	body, hasBody := fields["body"].(string)
	if hasAuthor && hasSubject && hasBody {
		text := (&models.Message{Author: author, Subject: subject, Body: body}).SearchText()
		s.exec(ctx,
			`
			---- Replace search entry
			INSERT INTO {search} (message_id, forum_id, search_text)
			VALUES ($1, $2, $3)
			ON CONFLICT (message_id) DO UPDATE
				SET forum_id = EXCLUDED.forum_id, search_text = EXCLUDED.search_text
			`,
			messageID, forumID, text,
		)
	}

	s.bumpCacheVersion(ctx, utils.SortedUniq([]int{rec.ForumID, forumID})...)
	return nil
}

/*
Refreshes the thread's root: its thread_count becomes the number of
approved messages in the thread and its modifystamp the newest approved
datestamp. A thread with no approved messages keeps its modifystamp.
*/
func (s *Store) UpdateThreadInfo(ctx context.Context, threadID int) {
	s.exec(ctx,
		`
		---- Update thread info
		UPDATE {messages} AS root
		SET
			thread_count = (
				SELECT count(*) FROM {messages} AS m
				WHERE m.thread = root.message_id AND m.status = $1
			),
			modifystamp = COALESCE((
				SELECT max(m.datestamp) FROM {messages} AS m
				WHERE m.thread = root.message_id AND m.status = $1
			), root.modifystamp)
		WHERE root.message_id = $2
		`,
		models.MessageStatusApproved, threadID,
	)
}

func (s *Store) IncrementViewCount(ctx context.Context, messageID int) bool {
	if messageID < 1 {
		return false
	}
	return s.exec(ctx,
		`
		---- Increment view count
		UPDATE {messages} SET viewcount = viewcount + 1 WHERE message_id = $1
		`,
		messageID,
	) > 0
}

type PruneMode int

const (
	PruneByDatestamp PruneMode = iota
	PruneByModifystamp
)

/*
Deletes every thread whose root is older than the cutoff, along with the
threads' subscriptions and search entries. forumID 0 prunes all forums.
Returns the number of messages deleted.
*/
func (s *Store) PruneOldThreads(ctx context.Context, before time.Time, forumID int, mode PruneMode) int {
	defer startBlock(ctx, "Prune old threads").End()

	field := "datestamp"
	if mode == PruneByModifystamp {
		field = "modifystamp"
	}

	var qb db.QueryBuilder
	qb.Add(
		fmt.Sprintf(`
		---- Find prunable threads
		SELECT thread
		FROM {messages}
		WHERE %s < $? AND parent_id = 0
		`, field),
		before,
	)
	if forumID > 0 {
		qb.Add(`AND forum_id = $?`, forumID)
	}
	sql, args := s.sql(&qb)
	threads, err := db.QueryScalar[int](ctx, s.gw, sql, args...)
	if err != nil {
		panic(oops.New(err, "failed to find prunable threads"))
	}
	if len(threads) == 0 {
		return 0
	}

	res, _ := s.gw.Execute(ctx, db.ModeRows, db.SQL(s.tables.Expand(`
		---- Delete pruned messages
		DELETE FROM {messages} WHERE thread = ANY($1)
		RETURNING message_id, forum_id
	`), threads))

	var deleted []int
	var forums []int
	for _, row := range res.Rows {
		deleted = append(deleted, asInt(row[0]))
		forums = append(forums, asInt(row[1]))
	}

	s.exec(ctx,
		`
		---- Delete pruned subscriptions
		DELETE FROM {subscribers} WHERE thread = ANY($1)
		`,
		threads,
	)
	if len(deleted) > 0 {
		s.exec(ctx,
			`
			---- Delete pruned search entries
			DELETE FROM {search} WHERE message_id = ANY($1)
			`,
			deleted,
		)
	}
	for _, id := range utils.SortedUniq(forums) {
		s.RecomputeForumStats(ctx, id, StatsUpdate{Refresh: true})
	}

	return len(deleted)
}

// Rebuilds the search table from scratch. Returns the number of entries.
func (s *Store) RebuildSearchData(ctx context.Context) int {
	defer startBlock(ctx, "Rebuild search data").End()

	s.exec(ctx, `
		---- Clear search data
		TRUNCATE {search}
	`)
	return int(s.exec(ctx, `
		---- Rebuild search data
		INSERT INTO {search} (message_id, forum_id, search_text)
		SELECT message_id, forum_id, concat(author, ' | ', subject, ' | ', body)
		FROM {messages}
	`))
}

// One row of a metaquery search: a message along with facts about its
// thread and author.
type MetaqueryMatch struct {
	MessageID   int
	ForumID     int
	Thread      int
	Subject     string
	Author      string
	UserID      int
	Username    string
	Datestamp   time.Time
	ModifyStamp time.Time
	Status      models.MessageStatus

	ThreadClosed      bool
	ThreadCount       int
	ThreadModifyStamp time.Time
}

/*
Finds messages matching a metaquery condition. Conditions can refer to the
message (message.*), its thread root (thread.*) and its author ("user".*).
*/
func (s *Store) MetaquerySearchMessages(ctx context.Context, tokens []metaquery.Token) ([]MetaqueryMatch, error) {
	pred, err := metaquery.Compile(tokens)
	if err != nil {
		return nil, err
	}

	var qb db.QueryBuilder
	qb.Add(
		`
		---- Metaquery message search
		SELECT
			message.message_id,
			message.forum_id,
			message.thread,
			message.subject,
			message.author,
			message.user_id,
			"user".username AS username,
			message.datestamp,
			message.modifystamp,
			message.status,
			thread.closed AS thread_closed,
			thread.thread_count AS thread_count,
			thread.modifystamp AS thread_modifystamp
		FROM {messages} AS thread
		JOIN {messages} AS message ON message.thread = thread.message_id
		LEFT JOIN {users} AS "user" ON "user".user_id = message.user_id
		WHERE
		`,
	)
	qb.Add("("+pred.SQL+")", pred.Args...)
	qb.Add(`ORDER BY message.message_id`)

	sql, args := s.sql(&qb)
	res, _ := s.gw.Execute(ctx, db.ModeAssoc, db.SQL(sql, args...), db.WithKeyField("message_id"))

	matches := make([]MetaqueryMatch, 0, len(res.Assoc))
	for _, row := range res.Assoc {
		matches = append(matches, MetaqueryMatch{
			MessageID:   asInt(row["message_id"]),
			ForumID:     asInt(row["forum_id"]),
			Thread:      asInt(row["thread"]),
			Subject:     asString(row["subject"]),
			Author:      asString(row["author"]),
			UserID:      asInt(row["user_id"]),
			Username:    asString(row["username"]),
			Datestamp:   asTime(row["datestamp"]),
			ModifyStamp: asTime(row["modifystamp"]),
			Status:      models.MessageStatus(asInt(row["status"])),

			ThreadClosed:      asBool(row["thread_closed"]),
			ThreadCount:       asInt(row["thread_count"]),
			ThreadModifyStamp: asTime(row["thread_modifystamp"]),
		})
	}
	return matches, nil
}

// Conversions for untyped row values as pgx decodes them.

func asInt(v any) int {
	switch n := v.(type) {
	case int:
		return n
	case int16:
		return int(n)
	case int32:
		return int(n)
	case int64:
		return int(n)
	}
	return 0
}

func asString(v any) string {
	s, _ := v.(string)
	return s
}

func asTime(v any) time.Time {
	t, _ := v.(time.Time)
	return t
}

func asBool(v any) bool {
	b, _ := v.(bool)
	return b
}
