package forumdata

import (
	"context"
	"time"

	"git.handmade.network/hmn/forumdb/src/blob"
	"git.handmade.network/hmn/forumdb/src/db"
	"git.handmade.network/hmn/forumdb/src/models"
	"git.handmade.network/hmn/forumdb/src/oops"
)

// Subscribes a user to a thread, or with thread 0 to a whole forum.
// Subscribing again changes the type.
func (s *Store) Subscribe(ctx context.Context, userID, forumID, thread int, subType models.SubscriptionType) {
	s.exec(ctx,
		`
		---- Subscribe
		INSERT INTO {subscribers} (user_id, forum_id, thread, sub_type)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (user_id, forum_id, thread) DO UPDATE SET sub_type = EXCLUDED.sub_type
		`,
		userID, forumID, thread, subType,
	)
}

// forumID 0 unsubscribes from the thread in whatever forum it is in.
func (s *Store) Unsubscribe(ctx context.Context, userID, thread, forumID int) {
	var qb db.QueryBuilder
	qb.Add(
		`
		---- Unsubscribe
		DELETE FROM {subscribers} WHERE user_id = $? AND thread = $?
		`,
		userID, thread,
	)
	if forumID > 0 {
		qb.Add(`AND forum_id = $?`, forumID)
	}
	sql, args := s.sql(&qb)
	s.exec(ctx, sql, args...)
}

func (s *Store) IsSubscribed(ctx context.Context, forumID, thread, userID int, subType models.SubscriptionType) bool {
	var qb db.QueryBuilder
	qb.Add(
		`
		---- Check subscription
		SELECT count(*)
		FROM {subscribers}
		WHERE forum_id = $? AND thread = $? AND user_id = $? AND sub_type = $?
		`,
		forumID, thread, userID, subType,
	)
	return s.count(ctx, &qb) > 0
}

/*
Collects the email addresses of active users subscribed to a thread (or to
its whole forum), grouped by their language. Users without a language get
the configured default.
*/
func (s *Store) GetSubscribedUsers(ctx context.Context, forumID, thread int, subType models.SubscriptionType, excludeUserID int) map[string][]string {
	type subscriber struct {
		Email    string `db:"email"`
		Language string `db:"user_language"`
	}

	var qb db.QueryBuilder
	qb.Add(
		`
		---- Fetch subscribed users
		SELECT DISTINCT $columns{usr}
		FROM {subscribers} AS sub
		JOIN {users} AS usr ON usr.user_id = sub.user_id
		WHERE
			sub.forum_id = $?
			AND (sub.thread = $? OR sub.thread = 0)
			AND sub.sub_type = $?
			AND usr.active = $?
			AND usr.user_id <> $?
		ORDER BY usr.email
		`,
		forumID, thread, subType, models.UserStatusActive, excludeUserID,
	)
	sql, args := s.sql(&qb)
	rows, err := db.Query[subscriber](ctx, s.gw, sql, args...)
	if err != nil {
		panic(oops.New(err, "failed to fetch subscribed users"))
	}

	result := make(map[string][]string)
	for _, r := range rows {
		lang := r.Language
		if lang == "" {
			lang = s.cfg.DefaultLanguage
		}
		result[lang] = append(result[lang], r.Email)
	}
	return result
}

type SubscribedThread struct {
	models.Subscription
	Subject     string
	Author      string
	AuthorID    int
	ModifyStamp time.Time
	Meta        blob.Payload
}

/*
Lists the threads a user follows (message and bookmark subscriptions),
most recently active first. days > 0 only includes threads active within
that many days; forumIDs narrows the forums when non-empty.
*/
func (s *Store) GetMessageSubscriptions(ctx context.Context, userID, days int, forumIDs []int) []SubscribedThread {
	var qb db.QueryBuilder
	qb.Add(
		`
		---- Fetch thread subscriptions
		SELECT
			sub.user_id, sub.forum_id, sub.thread, sub.sub_type,
			root.subject, root.author, root.user_id, root.modifystamp, root.meta
		FROM {subscribers} AS sub
		JOIN {messages} AS root ON root.message_id = sub.thread
		WHERE
			sub.user_id = $?
			AND sub.sub_type = ANY($?)
			AND root.status = $?
		`,
		userID,
		[]int{int(models.SubscriptionMessage), int(models.SubscriptionBookmark)},
		models.MessageStatusApproved,
	)
	if days > 0 {
		qb.Add(`AND root.modifystamp >= $?`, s.now().AddDate(0, 0, -days))
	}
	if len(forumIDs) > 0 {
		qb.Add(`AND sub.forum_id = ANY($?)`, forumIDs)
	}
	qb.Add(`ORDER BY root.modifystamp DESC`)

	sql, args := s.sql(&qb)
	res, _ := s.gw.Execute(ctx, db.ModeRows, db.SQL(sql, args...))

	threads := make([]SubscribedThread, 0, len(res.Rows))
	for _, r := range res.Rows {
		meta, _ := r[8].([]byte)
		threads = append(threads, SubscribedThread{
			Subscription: models.Subscription{
				UserID:  asInt(r[0]),
				ForumID: asInt(r[1]),
				Thread:  asInt(r[2]),
				Type:    models.SubscriptionType(asInt(r[3])),
			},
			Subject:     asString(r[4]),
			Author:      asString(r[5]),
			AuthorID:    asInt(r[6]),
			ModifyStamp: asTime(r[7]),
			Meta:        blob.DecodeOrEmpty(ctx, meta),
		})
	}
	return threads
}
