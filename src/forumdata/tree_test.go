package forumdata

import (
	"context"
	"testing"

	"git.handmade.network/hmn/forumdb/src/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// root
// ├── a
// │   └── b
// │       └── d
// └── c
type testTree struct {
	root, a, b, c, d *models.Message
}

func postTestTree(t *testing.T, s *Store, forumID int) testTree {
	var tree testTree
	tree.root = postTestMessage(t, s, forumID, nil, "Root", "the root")
	tree.a = postTestMessage(t, s, forumID, tree.root, "Re: Root (a)", "reply a")
	tree.b = postTestMessage(t, s, forumID, tree.a, "Re: a (b)", "reply b")
	tree.c = postTestMessage(t, s, forumID, tree.root, "Re: Root (c)", "reply c")
	tree.d = postTestMessage(t, s, forumID, tree.b, "Re: b (d)", "reply d")
	return tree
}

func TestDescendants(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	forum := addTestForum(t, s, "General", nil)
	tree := postTestTree(t, s, forum.ID)

	assert.Equal(t, []int{tree.a.ID, tree.b.ID, tree.c.ID, tree.d.ID}, s.Descendants(ctx, tree.root.ID, forum.ID))
	assert.Equal(t, []int{tree.b.ID, tree.d.ID}, s.Descendants(ctx, tree.a.ID, forum.ID))
	assert.Empty(t, s.Descendants(ctx, tree.d.ID, forum.ID))

	other := addTestForum(t, s, "Elsewhere", nil)
	assert.Empty(t, s.Descendants(ctx, tree.root.ID, other.ID))
}

func TestDeleteMessageReparent(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	forum := addTestForum(t, s, "General", nil)

	root := postTestMessage(t, s, forum.ID, nil, "Root", "the root")
	middle := postTestMessage(t, s, forum.ID, root, "Middle", "in the middle")
	child1 := postTestMessage(t, s, forum.ID, middle, "Child 1", "first child")
	child2 := postTestMessage(t, s, forum.ID, middle, "Child 2", "second child")

	deleted, err := s.DeleteMessage(ctx, Scope{Forum: forum}, middle.ID, DeleteReparent)
	require.NoError(t, err)
	assert.Equal(t, []int{middle.ID}, deleted)

	assert.Equal(t, root.ID, fetchTestMessage(t, s, child1.ID).ParentID)
	assert.Equal(t, root.ID, fetchTestMessage(t, s, child2.ID).ParentID)

	_, err = s.GetMessage(ctx, Scope{}, middle.ID)
	assert.ErrorIs(t, err, ErrNotFound)

	result, err := s.Search(ctx, Scope{Forum: forum, Perms: allowAll(forum.ID)}, SearchQuery{
		Text: "middle", Length: 10, Type: SearchAny, Forum: SearchThisForum,
	})
	require.NoError(t, err)
	assert.Zero(t, result.Count)

	assert.Equal(t, 3, fetchTestMessage(t, s, root.ID).ThreadCount)
	assert.Equal(t, 3, reloadForum(t, s, forum.ID).MessageCount)
}

func TestDeleteThreadRootPromotesFirstReply(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	forum := addTestForum(t, s, "General", nil)
	tree := postTestTree(t, s, forum.ID)

	_, err := s.DeleteMessage(ctx, Scope{Forum: forum}, tree.root.ID, DeleteReparent)
	require.NoError(t, err)

	newRoot := fetchTestMessage(t, s, tree.a.ID)
	assert.Zero(t, newRoot.ParentID)
	assert.Equal(t, tree.a.ID, newRoot.Thread)
	assert.Equal(t, 4, newRoot.ThreadCount)

	c := fetchTestMessage(t, s, tree.c.ID)
	assert.Equal(t, tree.a.ID, c.ParentID)
	assert.Equal(t, tree.a.ID, c.Thread)
	assert.Equal(t, tree.a.ID, fetchTestMessage(t, s, tree.d.ID).Thread)

	refreshed := reloadForum(t, s, forum.ID)
	assert.Equal(t, 1, refreshed.ThreadCount)
	assert.Equal(t, 4, refreshed.MessageCount)
}

func TestDeleteSubtree(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	forum := addTestForum(t, s, "General", nil)
	tree := postTestTree(t, s, forum.ID)

	deleted, err := s.DeleteMessage(ctx, Scope{Forum: forum}, tree.a.ID, DeleteSubtree)
	require.NoError(t, err)
	assert.ElementsMatch(t, []int{tree.a.ID, tree.b.ID, tree.d.ID}, deleted)

	list, err := s.GetThreadMessages(ctx, Scope{Forum: forum}, tree.root.ID, 0, false)
	require.NoError(t, err)
	assert.Equal(t, []int{tree.root.ID, tree.c.ID}, list.Order)
	assert.Equal(t, 2, fetchTestMessage(t, s, tree.root.ID).ThreadCount)
}

func TestDeleteMessageOutsideScopeForum(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	forum := addTestForum(t, s, "General", nil)
	other := addTestForum(t, s, "Other", nil)
	msg := postTestMessage(t, s, forum.ID, nil, "Mine", "stays put")

	_, err := s.DeleteMessage(ctx, Scope{Forum: other}, msg.ID, DeleteSubtree)
	assert.ErrorIs(t, err, ErrNotFound)
	fetchTestMessage(t, s, msg.ID)
}

func TestMoveThread(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	from := addTestForum(t, s, "From", nil)
	to := addTestForum(t, s, "To", nil)

	root := postTestMessage(t, s, from.ID, nil, "Moving", "this thread moves")
	ids := []int{root.ID}
	parent := root
	for i := 0; i < 4; i++ {
		parent = postTestMessage(t, s, from.ID, parent, "Re: Moving", "reply "+string(rune('a'+i)))
		ids = append(ids, parent.ID)
	}
	stay := postTestMessage(t, s, from.ID, nil, "Staying", "this one does not")

	const userID = 7
	s.MarkRead(ctx, userID, from.ID, []ReadMarker{{MessageID: root.ID}, {MessageID: ids[2]}})
	s.Subscribe(ctx, userID, from.ID, root.ID, models.SubscriptionMessage)

	fromBefore := reloadForum(t, s, from.ID)
	toBefore := reloadForum(t, s, to.ID)

	require.NoError(t, s.MoveThread(ctx, Scope{Forum: from, UserID: userID}, root.ID, to.ID))

	for _, id := range ids {
		assert.Equal(t, to.ID, fetchTestMessage(t, s, id).ForumID)
	}
	assert.Equal(t, from.ID, fetchTestMessage(t, s, stay.ID).ForumID)

	fromAfter := reloadForum(t, s, from.ID)
	toAfter := reloadForum(t, s, to.ID)
	assert.Equal(t, fromBefore.CacheVersion+1, fromAfter.CacheVersion)
	assert.Equal(t, toBefore.CacheVersion+1, toAfter.CacheVersion)
	assert.Equal(t, 1, fromAfter.MessageCount)
	assert.Equal(t, 1, fromAfter.ThreadCount)
	assert.Equal(t, 5, toAfter.MessageCount)
	assert.Equal(t, 1, toAfter.ThreadCount)

	// The user had nothing read in the destination, so the markers move along.
	flags := s.GetReadFlags(ctx, userID, to.ID)
	assert.True(t, flags.Read[root.ID])
	assert.True(t, flags.Read[ids[2]])
	assert.Empty(t, s.GetReadFlags(ctx, userID, from.ID).Read)

	assert.True(t, s.IsSubscribed(ctx, to.ID, root.ID, userID, models.SubscriptionMessage))
	assert.False(t, s.IsSubscribed(ctx, from.ID, root.ID, userID, models.SubscriptionMessage))
}

func TestMoveThreadDropsMarkersBelowDestinationWatermark(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	from := addTestForum(t, s, "From", nil)
	to := addTestForum(t, s, "To", nil)

	root := postTestMessage(t, s, from.ID, nil, "Moving", "root")
	r1 := postTestMessage(t, s, from.ID, root, "Re: Moving", "reply 1")
	r2 := postTestMessage(t, s, from.ID, r1, "Re: Moving", "reply 2")
	resident := postTestMessage(t, s, to.ID, nil, "Resident", "already in the destination")
	r3 := postTestMessage(t, s, from.ID, r2, "Re: Moving", "reply 3")
	r4 := postTestMessage(t, s, from.ID, r3, "Re: Moving", "reply 4")

	const mover, reader = 7, 8
	s.MarkRead(ctx, mover, to.ID, markers(resident.ID))
	s.MarkRead(ctx, mover, from.ID, markers(r2.ID, r3.ID))
	s.MarkRead(ctx, reader, from.ID, markers(root.ID, r1.ID, r4.ID))

	require.NoError(t, s.MoveThread(ctx, Scope{Forum: from, UserID: mover}, root.ID, to.ID))

	// Markers at or below the mover's destination watermark are gone for
	// everybody; the rest follow the thread.
	assert.ElementsMatch(t, []int{resident.ID, r3.ID}, readIDs(s.GetReadFlags(ctx, mover, to.ID)))
	assert.ElementsMatch(t, []int{r4.ID}, readIDs(s.GetReadFlags(ctx, reader, to.ID)))
	assert.Empty(t, s.GetReadFlags(ctx, mover, from.ID).Read)
	assert.Empty(t, s.GetReadFlags(ctx, reader, from.ID).Read)
}

func TestSplitThread(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	forum := addTestForum(t, s, "General", nil)
	tree := postTestTree(t, s, forum.ID)

	require.NoError(t, s.SplitThread(ctx, tree.a.ID, forum.ID))

	a := fetchTestMessage(t, s, tree.a.ID)
	assert.Zero(t, a.ParentID)
	assert.Equal(t, tree.a.ID, a.Thread)
	assert.Equal(t, 3, a.ThreadCount)
	assert.Equal(t, tree.a.ID, fetchTestMessage(t, s, tree.d.ID).Thread)
	assert.Equal(t, 2, fetchTestMessage(t, s, tree.root.ID).ThreadCount)
	assert.Equal(t, 2, reloadForum(t, s, forum.ID).ThreadCount)
}

func TestCloseThread(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	forum := addTestForum(t, s, "General", nil)
	root := postTestMessage(t, s, forum.ID, nil, "Closing", "soon closed")
	reply := postTestMessage(t, s, forum.ID, root, "Re: Closing", "me too")

	require.NoError(t, s.CloseThread(ctx, root.ID))
	assert.True(t, fetchTestMessage(t, s, root.ID).Closed)
	assert.True(t, fetchTestMessage(t, s, reply.ID).Closed)

	require.NoError(t, s.ReopenThread(ctx, root.ID))
	assert.False(t, fetchTestMessage(t, s, reply.ID).Closed)

	assert.ErrorIs(t, s.CloseThread(ctx, 0), ErrInvalidArgument)
}
