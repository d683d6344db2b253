package forumdata

import (
	"context"
	"time"

	"git.handmade.network/hmn/forumdb/src/db"
	"git.handmade.network/hmn/forumdb/src/forumcache"
	"git.handmade.network/hmn/forumdb/src/models"
	"git.handmade.network/hmn/forumdb/src/oops"
	"git.handmade.network/hmn/forumdb/src/utils"
)

func (s *Store) listLength(forum *models.Forum) int {
	if forum.ThreadedList {
		return utils.OrDefault(forum.ListLengthThreaded, s.cfg.ListLengthThreaded)
	}
	return utils.OrDefault(forum.ListLengthFlat, s.cfg.ListLengthFlat)
}

func (s *Store) readLength(forum *models.Forum) int {
	return utils.OrDefault(forum.ReadLength, s.cfg.ReadLength)
}

func threadSortField(forum *models.Forum) string {
	if forum.FloatToTop {
		return "modifystamp"
	}
	return "thread"
}

/*
Fetches one page of the forum's thread list.

The result holds, in order: the sticky threads (page 0 only), then the page's
thread roots from oldest to newest by the forum's sort key. In threaded mode
each root with replies is directly followed by its approved replies, by
sort class, then the forum's sort key descending, then oldest first (newest
first with reverse threading).

Pages are cached by the forum's cache_version when a cache is configured.
*/
func (s *Store) ListThreadPage(ctx context.Context, sc Scope, page int, includeBodies bool) (*models.MessageList, error) {
	if err := sc.requireForum(); err != nil {
		return nil, err
	}
	if page < 0 {
		return nil, oops.New(ErrInvalidArgument, "negative page %d", page)
	}

	forum := sc.Forum
	cacheKey := forumcache.PageKey{
		ForumID:      forum.ID,
		CacheVersion: forum.CacheVersion,
		Page:         page,
		Bodies:       includeBodies,
	}
	if list, ok := s.cache.GetThreadPage(ctx, cacheKey); ok {
		return list, nil
	}

	defer startBlock(ctx, "List thread page").End()

	sortField := threadSortField(forum)
	list := models.NewMessageList()

	if page == 0 {
		var qb db.QueryBuilder
		qb.Add(
			`
			---- Fetch sticky threads
			SELECT $columns
			FROM {messages}
			WHERE
				status = $?
				AND parent_id = 0
				AND sort = $?
				AND forum_id = $?
			`,
			models.MessageStatusApproved,
			models.SortSticky,
			forum.ID,
		)
		qb.Add(`ORDER BY sort, ` + sortField + ` DESC`)
		for _, m := range s.queryMessages(ctx, &qb) {
			list.Add(m)
		}
	}

	length := s.listLength(forum)
	var qb db.QueryBuilder
	qb.Add(
		`
		---- Fetch thread roots
		SELECT $columns
		FROM {messages}
		WHERE
			forum_id = $?
			AND status = $?
			AND parent_id = 0
			AND sort > $?
		`,
		forum.ID,
		models.MessageStatusApproved,
		models.SortSticky,
	)
	qb.Add(`ORDER BY `+sortField+` DESC, message_id DESC LIMIT $? OFFSET $?`, length, page*length)
	roots := s.queryMessages(ctx, &qb)

	// The page is chosen newest first but shown oldest first.
	for i, j := 0, len(roots)-1; i < j; i, j = i+1, j-1 {
		roots[i], roots[j] = roots[j], roots[i]
	}

	repliesByThread := make(map[int][]*models.Message)
	if forum.ThreadedList {
		var withReplies []int
		for _, root := range roots {
			if root.ThreadCount > 1 {
				withReplies = append(withReplies, root.ID)
			}
		}
		if len(withReplies) > 0 {
			order := sortField + " DESC, message_id"
			if forum.ReverseThreading {
				order += " DESC"
			}

			var qb db.QueryBuilder
			qb.Add(
				`
				---- Fetch thread replies
				SELECT $columns
				FROM {messages}
				WHERE
					status = $?
					AND thread = ANY($?)
					AND message_id <> thread
				`,
				models.MessageStatusApproved,
				withReplies,
			)
			qb.Add(`ORDER BY sort, ` + order)
			for _, reply := range s.queryMessages(ctx, &qb) {
				repliesByThread[reply.Thread] = append(repliesByThread[reply.Thread], reply)
			}
		}
	}

	for _, root := range roots {
		list.Add(root)
		for _, reply := range repliesByThread[root.ID] {
			list.Add(reply)
		}
	}

	if !includeBodies {
		for _, m := range list.Messages {
			m.Body = ""
		}
	}
	collectUserIDs(list)

	s.cache.PutThreadPage(ctx, cacheKey, list)
	return list, nil
}

/*
Fetches the messages of one thread, oldest first. Page 0 returns the whole
thread (newest first for reverse-threaded forums); later pages are
read_length messages each. Non-moderators only see approved messages unless
ignoreModeratorPermission is set.

When any message is found, the thread root is always part of the result
(first), even if it falls outside the requested page.
*/
func (s *Store) GetThreadMessages(ctx context.Context, sc Scope, threadID int, page int, ignoreModeratorPermission bool) (*models.MessageList, error) {
	if page < 0 {
		return nil, oops.New(ErrInvalidArgument, "negative page %d", page)
	}

	defer startBlock(ctx, "Get thread messages").End()

	filter := func(qb *db.QueryBuilder) {
		if sc.Forum != nil {
			qb.Add(`AND forum_id = $?`, sc.Forum.ID)
		}
		if !ignoreModeratorPermission && !s.canModerate(ctx, sc) {
			qb.Add(`AND status = $?`, models.MessageStatusApproved)
		}
	}

	var qb db.QueryBuilder
	qb.Add(
		`
		---- Fetch thread messages
		SELECT $columns
		FROM {messages}
		WHERE thread = $?
		`,
		threadID,
	)
	filter(&qb)
	if page > 0 {
		length := s.cfg.ReadLength
		if sc.Forum != nil {
			length = s.readLength(sc.Forum)
		}
		qb.Add(`ORDER BY message_id LIMIT $? OFFSET $?`, length, length*(page-1))
	} else if sc.Forum != nil && sc.Forum.ReverseThreading {
		qb.Add(`ORDER BY message_id DESC`)
	} else {
		qb.Add(`ORDER BY message_id`)
	}

	list := messageList(s.queryMessages(ctx, &qb))

	if list.Len() > 0 {
		if _, ok := list.Messages[threadID]; !ok {
			var qb db.QueryBuilder
			qb.Add(
				`
				---- Fetch thread root
				SELECT $columns
				FROM {messages}
				WHERE message_id = $?
				`,
				threadID,
			)
			filter(&qb)
			if roots := s.queryMessages(ctx, &qb); len(roots) > 0 {
				root := roots[0]
				list.Order = append([]int{root.ID}, list.Order...)
				list.Messages[root.ID] = root
				collectUserIDs(list)
			}
		}
	}

	return list, nil
}

func (s *Store) canModerate(ctx context.Context, sc Scope) bool {
	return sc.resolver().Allowed(ctx, models.PermModerateMessages, sc.ForumID())
}

/*
Which forums GetRecentMessages should look at. The zero value means every
forum the acting user may read.
*/
type ForumSelector struct {
	ForumID  int   // a single forum
	ForumIDs []int // an explicit set; takes precedence over ForumID
}

/*
Fetches the newest approved messages the acting user may read, newest first.
A count of 0 means no limit. With threadsOnly, only thread roots are
returned, ordered by thread. If no selected forum is readable, no query is
made at all.
*/
func (s *Store) GetRecentMessages(ctx context.Context, sc Scope, count int, forums ForumSelector, thread int, threadsOnly bool) (*models.MessageList, error) {
	resolver := sc.resolver()

	var allowed []int
	switch {
	case len(forums.ForumIDs) > 0:
		for _, id := range forums.ForumIDs {
			if resolver.Allowed(ctx, models.PermRead, id) {
				allowed = append(allowed, id)
			}
		}
	case forums.ForumID > 0:
		if resolver.Allowed(ctx, models.PermRead, forums.ForumID) {
			allowed = []int{forums.ForumID}
		}
	default:
		allowed = resolver.AllowedForums(ctx, models.PermRead, nil)
	}
	if len(allowed) == 0 {
		return models.NewMessageList(), nil
	}

	defer startBlock(ctx, "Get recent messages").End()

	var qb db.QueryBuilder
	qb.Add(
		`
		---- Fetch recent messages
		SELECT $columns
		FROM {messages}
		WHERE
			status = $?
			AND forum_id = ANY($?)
		`,
		models.MessageStatusApproved,
		allowed,
	)
	if thread > 0 {
		qb.Add(`AND thread = $?`, thread)
	}
	if threadsOnly {
		qb.Add(`AND parent_id = 0 ORDER BY thread DESC`)
	} else {
		qb.Add(`ORDER BY message_id DESC`)
	}
	if count > 0 {
		qb.Add(`LIMIT $?`, count)
	}

	return messageList(s.queryMessages(ctx, &qb)), nil
}

// Fetches one message by id, restricted to the scope's forum if there is one.
func (s *Store) GetMessage(ctx context.Context, sc Scope, id int) (*models.Message, error) {
	return s.GetMessageByField(ctx, sc, "message_id", id)
}

/*
Fetches the first message whose field equals value. The field name must be a
plain column name.
*/
func (s *Store) GetMessageByField(ctx context.Context, sc Scope, field string, value any) (*models.Message, error) {
	if !db.ValidateFieldName(field) {
		return nil, oops.New(ErrInvalidArgument, "illegal message field %q", field)
	}

	var qb db.QueryBuilder
	qb.Add(
		`
		---- Fetch message
		SELECT $columns
		FROM {messages}
		WHERE `+field+` = $?
		`,
		value,
	)
	if sc.Forum != nil {
		qb.Add(`AND forum_id = $?`, sc.Forum.ID)
	}
	qb.Add(`LIMIT 1`)

	msgs := s.queryMessages(ctx, &qb)
	if len(msgs) == 0 {
		return nil, oops.New(ErrNotFound, "no message with %s = %v", field, value)
	}
	return msgs[0], nil
}

// Fetches several messages by id, ordered by id. Missing ids are skipped.
func (s *Store) GetMessages(ctx context.Context, sc Scope, ids []int) (*models.MessageList, error) {
	if len(ids) == 0 {
		return models.NewMessageList(), nil
	}

	var qb db.QueryBuilder
	qb.Add(
		`
		---- Fetch messages by id
		SELECT $columns
		FROM {messages}
		WHERE message_id = ANY($?)
		`,
		ids,
	)
	if sc.Forum != nil {
		qb.Add(`AND forum_id = $?`, sc.Forum.ID)
	}
	qb.Add(`ORDER BY message_id`)

	return messageList(s.queryMessages(ctx, &qb)), nil
}

/*
Returns the 1-based position of a message within its thread, counting only
the messages the acting user can see. Returns 0 when thread or messageID is 0.
*/
func (s *Store) GetMessageIndex(ctx context.Context, sc Scope, thread, messageID int) int {
	if thread == 0 || messageID == 0 {
		return 0
	}

	var qb db.QueryBuilder
	qb.Add(
		`
		---- Get message index
		SELECT count(*)
		FROM {messages}
		WHERE
			thread = $?
			AND message_id <= $?
		`,
		thread,
		messageID,
	)
	if sc.Forum != nil {
		qb.Add(`AND forum_id = $?`, sc.Forum.ID)
	}
	if !s.canModerate(ctx, sc) {
		qb.Add(`AND status = $?`, models.MessageStatusApproved)
	}
	return s.count(ctx, &qb)
}

type Direction string

const (
	Newer Direction = "newer"
	Older Direction = "older"
)

/*
Finds the thread next to the one with the given sort key, in the forum's
list order. The key is the thread id, or its modify time for float-to-top
forums (pass it as a time.Time). Returns 0 if there is no such thread.
*/
func (s *Store) GetNeighbourThread(ctx context.Context, sc Scope, key any, direction Direction) (int, error) {
	if err := sc.requireForum(); err != nil {
		return 0, err
	}

	var compare, orderDir string
	switch direction {
	case Newer:
		compare, orderDir = ">", "ASC"
	case Older:
		compare, orderDir = "<", "DESC"
	default:
		return 0, oops.New(ErrInvalidDirection, "direction %q", direction)
	}

	sortField := threadSortField(sc.Forum)
	switch key.(type) {
	case time.Time:
		if sortField != "modifystamp" {
			return 0, oops.New(ErrInvalidArgument, "time key given for a forum sorted by thread")
		}
	case int:
		if sortField != "thread" {
			return 0, oops.New(ErrInvalidArgument, "thread key given for a float-to-top forum")
		}
	default:
		return 0, oops.New(ErrInvalidArgument, "unsupported neighbour key %T", key)
	}

	var qb db.QueryBuilder
	qb.Add(
		`
		---- Get neighbour thread
		SELECT thread
		FROM {messages}
		WHERE
			forum_id = $?
			AND parent_id = 0
		`,
		sc.Forum.ID,
	)
	if !s.canModerate(ctx, sc) {
		qb.Add(`AND status = $?`, models.MessageStatusApproved)
	}
	qb.Add(`AND `+sortField+` `+compare+` $?`, key)
	qb.Add(`ORDER BY ` + sortField + ` ` + orderDir + ` LIMIT 1`)

	sql, args := s.sql(&qb)
	thread, err := db.QueryOneScalar[int](ctx, s.gw, sql, args...)
	if err != nil {
		return 0, nil
	}
	return thread, nil
}

type UnapprovedQuery struct {
	ForumIDs   []int // if empty, all forums
	OnHoldOnly bool  // skip messages hidden by moderators
	ModDays    int   // if > 0, only messages posted in the last ModDays days
}

func (s *Store) unapprovedFilter(qb *db.QueryBuilder, q UnapprovedQuery) {
	if len(q.ForumIDs) > 0 {
		qb.Add(`AND forum_id = ANY($?)`, q.ForumIDs)
	}
	if q.ModDays > 0 {
		qb.Add(`AND datestamp > $?`, s.now().Add(-time.Duration(q.ModDays)*24*time.Hour))
	}
	if q.OnHoldOnly {
		qb.Add(`AND status = $?`, models.MessageStatusHold)
	} else {
		qb.Add(`AND status IN ($?, $?)`, models.MessageStatusHold, models.MessageStatusHidden)
	}
}

// Messages awaiting moderation, by thread.
func (s *Store) GetUnapprovedList(ctx context.Context, q UnapprovedQuery) *models.MessageList {
	var qb db.QueryBuilder
	qb.Add(
		`
		---- Fetch unapproved messages
		SELECT $columns
		FROM {messages}
		WHERE TRUE
		`,
	)
	s.unapprovedFilter(&qb, q)
	qb.Add(`ORDER BY thread, message_id`)
	return messageList(s.queryMessages(ctx, &qb))
}

func (s *Store) CountUnapproved(ctx context.Context, q UnapprovedQuery) int {
	var qb db.QueryBuilder
	qb.Add(
		`
		---- Count unapproved messages
		SELECT count(*)
		FROM {messages}
		WHERE TRUE
		`,
	)
	s.unapprovedFilter(&qb, q)
	return s.count(ctx, &qb)
}

func (s *Store) GetMaxMessageID(ctx context.Context) int {
	var qb db.QueryBuilder
	qb.Add(
		`
		---- Get max message id
		SELECT coalesce(max(message_id), 0)
		FROM {messages}
		`,
	)
	return s.count(ctx, &qb)
}
