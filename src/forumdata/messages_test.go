package forumdata

import (
	"context"
	"testing"

	"git.handmade.network/hmn/forumdb/src/metaquery"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestUpdateMessage(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	forum := addTestForum(t, s, "General", nil)
	msg := postTestMessage(t, s, forum.ID, nil, "Typo", "first draft")

	err := s.UpdateMessage(ctx, msg.ID, map[string]any{
		"author":  "alice",
		"subject": "Fixed",
		"body":    "second draft",
		"x; --":   1,
	})
	require.NoError(t, err)

	updated := fetchTestMessage(t, s, msg.ID)
	assert.Equal(t, "Fixed", updated.Subject)
	assert.Equal(t, "second draft", updated.Body)

	res, err := s.Search(ctx, Scope{Forum: forum, Perms: allowAll(forum.ID)}, SearchQuery{
		Text: "draft", Length: 10, Type: SearchAny, Forum: SearchThisForum,
	})
	require.NoError(t, err)
	assert.Equal(t, 1, res.Count)

	err = s.UpdateMessage(ctx, msg.ID, map[string]any{"x; --": 1})
	assert.ErrorIs(t, err, ErrInvalidArgument)
	err = s.UpdateMessage(ctx, msg.ID+100, map[string]any{"subject": "x"})
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestIncrementViewCount(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	forum := addTestForum(t, s, "General", nil)
	msg := postTestMessage(t, s, forum.ID, nil, "Hello", "world")

	assert.True(t, s.IncrementViewCount(ctx, msg.ID))
	assert.True(t, s.IncrementViewCount(ctx, msg.ID))
	assert.False(t, s.IncrementViewCount(ctx, 0))
	assert.Equal(t, 2, fetchTestMessage(t, s, msg.ID).ViewCount)
}

func TestPruneOldThreads(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	forum := addTestForum(t, s, "General", nil)

	old := postTestMessage(t, s, forum.ID, nil, "Old", "old thread")
	postTestMessage(t, s, forum.ID, old, "Re: Old", "old reply")
	keep := postTestMessage(t, s, forum.ID, nil, "Keep", "recent thread")
	s.Subscribe(ctx, 1, forum.ID, old.ID, 0)

	assert.Equal(t, 0, s.PruneOldThreads(ctx, old.Datestamp, forum.ID, PruneByDatestamp))
	assert.Equal(t, 2, s.PruneOldThreads(ctx, keep.Datestamp, forum.ID, PruneByDatestamp))

	_, err := s.GetMessage(ctx, Scope{}, old.ID)
	assert.ErrorIs(t, err, ErrNotFound)
	fetchTestMessage(t, s, keep.ID)

	forum = reloadForum(t, s, forum.ID)
	assert.Equal(t, 1, forum.ThreadCount)
	assert.Equal(t, 1, forum.MessageCount)
	assert.False(t, s.IsSubscribed(ctx, forum.ID, old.ID, 1, 0))
}

func TestMetaquerySearchMessages(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	forum := addTestForum(t, s, "General", nil)

	spam := postTestMessage(t, s, forum.ID, nil, "Cheap watches", "buy now")
	postTestMessage(t, s, forum.ID, nil, "Hello", "hi all")
	reply := postTestMessage(t, s, forum.ID, spam, "Re: Cheap watches", "no thanks")

	parse := func(tokens ...string) []metaquery.Token {
		var result []metaquery.Token
		for _, tok := range tokens {
			parsed, err := metaquery.ParseToken(tok, "watches")
			require.NoError(t, err)
			result = append(result, parsed)
		}
		return result
	}

	matches, err := s.MetaquerySearchMessages(ctx, parse("message.subject = *QUERY"))
	require.NoError(t, err)
	require.Len(t, matches, 2)
	assert.Equal(t, spam.ID, matches[0].MessageID)
	assert.Equal(t, reply.ID, matches[1].MessageID)
	assert.Equal(t, spam.ID, matches[1].Thread)
	assert.Equal(t, 2, matches[1].ThreadCount)

	matches, err = s.MetaquerySearchMessages(ctx, parse("thread.subject = Hello", "OR", "message.body = no*"))
	require.NoError(t, err)
	require.Len(t, matches, 2)
	assert.Equal(t, "Hello", matches[0].Subject)
	assert.Equal(t, reply.ID, matches[1].MessageID)

	_, err = s.MetaquerySearchMessages(ctx, parse("message.subject < *QUERY"))
	assert.ErrorIs(t, err, metaquery.ErrWildcardOperator)
}
