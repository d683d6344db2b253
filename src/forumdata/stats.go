package forumdata

import (
	"context"
	"time"

	"git.handmade.network/hmn/forumdb/src/db"
	"git.handmade.network/hmn/forumdb/src/models"
)

/*
Describes how a forum's aggregates changed. Zero deltas (and a zero
LastPostTime) mean "unknown, recompute from the messages table".
*/
type StatsUpdate struct {
	Refresh      bool // recompute everything
	MessageDelta int
	LastPostTime time.Time
	ThreadDelta  int
	StickyDelta  int
}

// Invalidates cached thread pages of the forums without touching their stats.
func (s *Store) bumpCacheVersion(ctx context.Context, forumIDs ...int) {
	if len(forumIDs) == 0 {
		return
	}
	s.exec(ctx,
		`
		---- Bump forum cache version
		UPDATE {forums} SET cache_version = cache_version + 1 WHERE forum_id = ANY($1)
		`,
		forumIDs,
	)
}

/*
Updates the forum's message, thread and sticky counts and its last post
time, either by applying the deltas or by recounting. Forums smaller than
the configured threshold are always recounted.

Every call bumps the forum's cache_version by one, which is what makes
cached thread pages for the forum unreachable.
*/
func (s *Store) RecomputeForumStats(ctx context.Context, forumID int, update StatsUpdate) {
	defer startBlock(ctx, "Recompute forum stats").End()

	refresh := update.Refresh
	if !refresh {
		var qb db.QueryBuilder
		qb.Add(
			`
			---- Get forum message count
			SELECT message_count FROM {forums} WHERE forum_id = $?
			`,
			forumID,
		)
		if s.count(ctx, &qb) < s.cfg.StatsRefreshThreshold {
			refresh = true
		}
	}

	var qb db.QueryBuilder
	qb.Add(`---- Update forum stats`)
	qb.Add(`UPDATE {forums} SET cache_version = cache_version + 1,`)

	if refresh || update.MessageDelta == 0 {
		qb.Add(
			`message_count = (SELECT count(*) FROM {messages} WHERE forum_id = $? AND status = $?),`,
			forumID, models.MessageStatusApproved,
		)
	} else {
		qb.Add(`message_count = message_count + $?,`, update.MessageDelta)
	}

	if refresh || update.LastPostTime.IsZero() {
		qb.Add(
			`last_post_time = (SELECT max(modifystamp) FROM {messages} WHERE forum_id = $? AND status = $?),`,
			forumID, models.MessageStatusApproved,
		)
	} else {
		qb.Add(`last_post_time = $?,`, update.LastPostTime)
	}

	if refresh || update.ThreadDelta == 0 {
		qb.Add(
			`thread_count = (SELECT count(*) FROM {messages} WHERE forum_id = $? AND parent_id = 0 AND status = $?),`,
			forumID, models.MessageStatusApproved,
		)
	} else {
		qb.Add(`thread_count = thread_count + $?,`, update.ThreadDelta)
	}

	if refresh || update.StickyDelta == 0 {
		qb.Add(
			`sticky_count = (SELECT count(*) FROM {messages} WHERE forum_id = $? AND sort = $? AND parent_id = 0 AND status = $?)`,
			forumID, models.SortSticky, models.MessageStatusApproved,
		)
	} else {
		qb.Add(`sticky_count = sticky_count + $?`, update.StickyDelta)
	}

	qb.Add(`WHERE forum_id = $?`, forumID)

	sql, args := s.sql(&qb)
	s.gw.Execute(ctx, db.ModeRowCount, db.SQL(sql, args...))
}

// Recounts every forum. Used by maintenance commands.
func (s *Store) RecomputeAllForumStats(ctx context.Context) int {
	var qb db.QueryBuilder
	qb.Add(
		`
		---- List forum ids
		SELECT forum_id FROM {forums} WHERE NOT folder_flag ORDER BY forum_id
		`,
	)
	sql, args := s.sql(&qb)
	ids, err := db.QueryScalar[int](ctx, s.gw, sql, args...)
	if err != nil {
		return 0
	}
	for _, id := range ids {
		s.RecomputeForumStats(ctx, id, StatsUpdate{Refresh: true})
	}
	return len(ids)
}
