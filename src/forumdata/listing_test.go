package forumdata

import (
	"context"
	"testing"
	"time"

	"git.handmade.network/hmn/forumdb/src/config"
	"git.handmade.network/hmn/forumdb/src/forumcache"
	"git.handmade.network/hmn/forumdb/src/models"
	"git.handmade.network/hmn/forumdb/src/perms"
	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestListThreadPageThreaded(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	forum := addTestForum(t, s, "Threaded", map[string]any{"threaded_list": true})

	t1 := postTestMessage(t, s, forum.ID, nil, "First", "first thread")
	t2 := postTestMessage(t, s, forum.ID, nil, "Second", "second thread")
	r1 := postTestMessage(t, s, forum.ID, t1, "Re: First", "reply one")
	r2 := postTestMessage(t, s, forum.ID, t2, "Re: Second", "reply two")

	forum = reloadForum(t, s, forum.ID)
	list, err := s.ListThreadPage(ctx, Scope{Forum: forum, Perms: allowAll(forum.ID)}, 0, false)
	require.NoError(t, err)
	assert.Equal(t, []int{t1.ID, r1.ID, t2.ID, r2.ID}, list.Order)
	assert.Equal(t, []int{1}, list.UserIDs)
	for _, m := range list.Slice() {
		assert.Empty(t, m.Body)
	}
}

func TestListThreadPageFloatToTop(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	forum := addTestForum(t, s, "Floating", map[string]any{"threaded_list": true, "float_to_top": true})

	t1 := postTestMessage(t, s, forum.ID, nil, "First", "first thread")
	t2 := postTestMessage(t, s, forum.ID, nil, "Second", "second thread")
	older := postTestMessage(t, s, forum.ID, t1, "Re: First", "older reply")
	newer := postTestMessage(t, s, forum.ID, t1, "Re: First", "newer reply")

	// The replies bumped t1 above t2; within t1 the latest activity leads.
	forum = reloadForum(t, s, forum.ID)
	list, err := s.ListThreadPage(ctx, Scope{Forum: forum, Perms: allowAll(forum.ID)}, 0, false)
	require.NoError(t, err)
	assert.Equal(t, []int{t2.ID, t1.ID, newer.ID, older.ID}, list.Order)
}

func TestListThreadPageCached(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	server, err := miniredis.Run()
	require.NoError(t, err)
	t.Cleanup(server.Close)
	client := redis.NewClient(&redis.Options{Addr: server.Addr()})
	t.Cleanup(func() { client.Close() })
	WithCache(forumcache.NewWithClient(client, s.cfg.TablePrefix, time.Minute))(s)

	forum := addTestForum(t, s, "Cached", nil)
	root := postTestMessage(t, s, forum.ID, nil, "Topic", "root")
	reply := postTestMessage(t, s, forum.ID, root, "Re: Topic", "reply")

	list := func() *models.MessageList {
		t.Helper()
		forum := reloadForum(t, s, forum.ID)
		list, err := s.ListThreadPage(ctx, Scope{Forum: forum, Perms: allowAll(forum.ID)}, 0, false)
		require.NoError(t, err)
		return list
	}

	assert.Equal(t, []int{root.ID}, list().Order)
	assert.NotEmpty(t, server.Keys())

	require.NoError(t, s.CloseThread(ctx, root.ID))
	assert.True(t, list().Messages[root.ID].Closed)

	require.NoError(t, s.UpdateForum(ctx, []int{forum.ID}, map[string]any{"threaded_list": true}))
	assert.Equal(t, []int{root.ID, reply.ID}, list().Order)

	require.NoError(t, s.UpdateMessage(ctx, reply.ID, map[string]any{"status": models.MessageStatusHidden}))
	assert.Equal(t, []int{root.ID}, list().Order)

	require.NoError(t, s.ReopenThread(ctx, root.ID))
	assert.False(t, list().Messages[root.ID].Closed)
}

func TestListThreadPageFlat(t *testing.T) {
	s := newTestStore(t, func(cfg *config.ForumConfig) {
		cfg.ListLengthFlat = 2
	})
	ctx := context.Background()
	forum := addTestForum(t, s, "Flat", nil)

	old := postTestMessage(t, s, forum.ID, nil, "Old", "old thread")
	middle := postTestMessage(t, s, forum.ID, nil, "Middle", "middle thread")
	postTestMessage(t, s, forum.ID, middle, "Re: Middle", "reply")
	sticky := &models.Message{
		ForumID: forum.ID,
		Author:  "mod",
		Subject: "Rules",
		Body:    "be nice",
		Status:  models.MessageStatusApproved,
		Sort:    models.SortSticky,
	}
	require.NoError(t, s.PostMessage(ctx, sticky))
	newest := postTestMessage(t, s, forum.ID, nil, "Newest", "newest thread")

	forum = reloadForum(t, s, forum.ID)
	assert.Equal(t, 1, forum.StickyCount)
	assert.Equal(t, 4, forum.ThreadCount)
	sc := Scope{Forum: forum, Perms: allowAll(forum.ID)}

	first, err := s.ListThreadPage(ctx, sc, 0, true)
	require.NoError(t, err)
	assert.Equal(t, []int{sticky.ID, middle.ID, newest.ID}, first.Order)
	assert.Equal(t, "be nice", first.Messages[sticky.ID].Body)

	second, err := s.ListThreadPage(ctx, sc, 1, true)
	require.NoError(t, err)
	assert.Equal(t, []int{old.ID}, second.Order)

	_, err = s.ListThreadPage(ctx, sc, -1, true)
	assert.ErrorIs(t, err, ErrInvalidArgument)
	_, err = s.ListThreadPage(ctx, Scope{}, 0, true)
	assert.ErrorIs(t, err, ErrNoForum)
}

func TestGetThreadMessages(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	forum := addTestForum(t, s, "General", map[string]any{"read_length": 2})

	root := postTestMessage(t, s, forum.ID, nil, "Topic", "root")
	a := postTestMessage(t, s, forum.ID, root, "Re: Topic", "a")
	b := postTestMessage(t, s, forum.ID, root, "Re: Topic", "b")
	c := postTestMessage(t, s, forum.ID, b, "Re: Re: Topic", "c")
	held := &models.Message{
		ForumID:  forum.ID,
		Thread:   root.Thread,
		ParentID: root.ID,
		Author:   "bob",
		Subject:  "Re: Topic",
		Body:     "held",
		Status:   models.MessageStatusHold,
	}
	require.NoError(t, s.PostMessage(ctx, held))

	forum = reloadForum(t, s, forum.ID)
	sc := Scope{Forum: forum, Perms: perms.Static{forum.ID: models.PermRead}}

	all, err := s.GetThreadMessages(ctx, sc, root.Thread, 0, false)
	require.NoError(t, err)
	assert.Equal(t, []int{root.ID, a.ID, b.ID, c.ID}, all.Order)

	// Later pages still lead with the root.
	page, err := s.GetThreadMessages(ctx, sc, root.Thread, 2, false)
	require.NoError(t, err)
	assert.Equal(t, []int{root.ID, b.ID, c.ID}, page.Order)

	withHeld, err := s.GetThreadMessages(ctx, sc, root.Thread, 0, true)
	require.NoError(t, err)
	assert.Contains(t, withHeld.Order, held.ID)

	moderators := Scope{Forum: forum, Perms: allowAll(forum.ID)}
	moderated, err := s.GetThreadMessages(ctx, moderators, root.Thread, 0, false)
	require.NoError(t, err)
	assert.Len(t, moderated.Order, 5)
}

func TestDuplicatePosts(t *testing.T) {
	s := newTestStore(t)
	forum := addTestForum(t, s, "General", nil)
	postTestMessage(t, s, forum.ID, nil, "Hello", "hello world")

	dupe := &models.Message{
		ForumID: forum.ID,
		Author:  "alice",
		Subject: "Hello",
		Body:    "hello world",
		Status:  models.MessageStatusApproved,
	}
	assert.ErrorIs(t, s.PostMessage(context.Background(), dupe), ErrDuplicate)

	lenient := newTestStore(t, func(cfg *config.ForumConfig) {
		cfg.CheckDuplicates = false
	})
	other := addTestForum(t, lenient, "General", nil)
	postTestMessage(t, lenient, other.ID, nil, "Hello", "hello world")
	postTestMessage(t, lenient, other.ID, nil, "Hello", "hello world")
	assert.Equal(t, 2, reloadForum(t, lenient, other.ID).ThreadCount)
}

func TestRecomputeForumStats(t *testing.T) {
	t.Run("refresh", func(t *testing.T) {
		s := newTestStore(t)
		ctx := context.Background()
		forum := addTestForum(t, s, "General", nil)
		root := postTestMessage(t, s, forum.ID, nil, "One", "one")
		postTestMessage(t, s, forum.ID, root, "Re: One", "two")

		before := reloadForum(t, s, forum.ID)
		s.exec(ctx, `UPDATE {forums} SET message_count = 99, thread_count = 99 WHERE forum_id = $1`, forum.ID)

		// Small forums are recounted even when deltas are given.
		s.RecomputeForumStats(ctx, forum.ID, StatsUpdate{MessageDelta: 5, ThreadDelta: 5})
		after := reloadForum(t, s, forum.ID)
		assert.Equal(t, before.CacheVersion+1, after.CacheVersion)
		assert.Equal(t, 2, after.MessageCount)
		assert.Equal(t, 1, after.ThreadCount)
		assert.Equal(t, 0, after.StickyCount)
	})

	t.Run("deltas", func(t *testing.T) {
		s := newTestStore(t, func(cfg *config.ForumConfig) {
			cfg.StatsRefreshThreshold = 0
		})
		ctx := context.Background()
		forum := addTestForum(t, s, "General", nil)
		postTestMessage(t, s, forum.ID, nil, "One", "one")

		before := reloadForum(t, s, forum.ID)
		assert.Equal(t, 1, before.MessageCount)

		last := time.Date(2030, 1, 1, 0, 0, 0, 0, time.UTC)
		s.RecomputeForumStats(ctx, forum.ID, StatsUpdate{MessageDelta: 3, ThreadDelta: 2, LastPostTime: last})
		after := reloadForum(t, s, forum.ID)
		assert.Equal(t, before.CacheVersion+1, after.CacheVersion)
		assert.Equal(t, 4, after.MessageCount)
		assert.Equal(t, 3, after.ThreadCount)
		require.NotNil(t, after.LastPostTime)
		assert.True(t, last.Equal(*after.LastPostTime))
	})
}
