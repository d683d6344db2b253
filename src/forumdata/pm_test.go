package forumdata

import (
	"context"
	"testing"

	"git.handmade.network/hmn/forumdb/src/auth"
	"git.handmade.network/hmn/forumdb/src/db"
	"git.handmade.network/hmn/forumdb/src/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func addTestUser(t *testing.T, s *Store, username string) int {
	t.Helper()
	id, err := s.AddUser(context.Background(), &models.User{
		Username: username,
		Email:    username + "@example.com",
		Password: auth.HashPassword("hunter2").String(),
		Status:   models.UserStatusActive,
	})
	require.NoError(t, err)
	return id
}

func TestPrivateMessages(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	alice := addTestUser(t, s, "alice")
	bob := addTestUser(t, s, "bob")
	carol := addTestUser(t, s, "carol")

	pmID, err := s.SendPrivateMessage(ctx, alice, []int{bob, carol}, "Lunch", "Pizza at noon?", true)
	require.NoError(t, err)

	inbox, err := s.ListPrivateMessages(ctx, bob, PMInbox)
	require.NoError(t, err)
	require.Len(t, inbox, 1)
	assert.Equal(t, pmID, inbox[0].Message.ID)
	assert.Equal(t, "alice", inbox[0].Message.Author)
	assert.False(t, inbox[0].Recipient.Read)

	outbox, err := s.ListPrivateMessages(ctx, alice, PMOutbox)
	require.NoError(t, err)
	require.Len(t, outbox, 1)
	assert.True(t, outbox[0].Recipient.Read)

	require.NoError(t, s.SetPrivateMessageFlag(ctx, bob, pmID, PMReadFlag, true))
	inbox, err = s.ListPrivateMessages(ctx, bob, PMInbox)
	require.NoError(t, err)
	assert.True(t, inbox[0].Recipient.Read)
	assert.ErrorIs(t, s.SetPrivateMessageFlag(ctx, bob, pmID, "deleted", true), ErrInvalidArgument)

	folderID, err := s.CreatePMFolder(ctx, bob, "Food")
	require.NoError(t, err)
	require.NoError(t, s.MovePrivateMessage(ctx, bob, pmID, PMInbox, PMFolderRef{ID: folderID}))
	inbox, err = s.ListPrivateMessages(ctx, bob, PMInbox)
	require.NoError(t, err)
	assert.Empty(t, inbox)
	food, err := s.ListPrivateMessages(ctx, bob, PMFolderRef{ID: folderID})
	require.NoError(t, err)
	assert.Len(t, food, 1)
	assert.ErrorIs(t, s.MovePrivateMessage(ctx, bob, pmID, PMInbox, PMOutbox), ErrNotFound)

	// The message survives until the last copy is gone.
	require.NoError(t, s.DeletePMFolder(ctx, bob, folderID))
	require.NoError(t, s.DeletePrivateMessage(ctx, alice, pmID, PMOutbox))
	carolInbox, err := s.ListPrivateMessages(ctx, carol, PMInbox)
	require.NoError(t, err)
	assert.Len(t, carolInbox, 1)

	require.NoError(t, s.DeletePrivateMessage(ctx, carol, pmID, PMInbox))
	var qb db.QueryBuilder
	qb.Add(`SELECT count(*) FROM {pm_messages}`)
	assert.Zero(t, s.count(ctx, &qb))

	_, err = s.ListPrivateMessages(ctx, bob, PMFolderRef{Special: "trash"})
	assert.ErrorIs(t, err, ErrInvalidArgument)
	_, err = s.SendPrivateMessage(ctx, alice, []int{bob, 9999}, "Hi", "hi", false)
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestBuddies(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	alice := addTestUser(t, s, "alice")
	bob := addTestUser(t, s, "bob")
	carol := addTestUser(t, s, "carol")

	require.NoError(t, s.AddBuddy(ctx, alice, bob))
	require.NoError(t, s.AddBuddy(ctx, alice, bob))
	require.NoError(t, s.AddBuddy(ctx, alice, carol))
	require.NoError(t, s.AddBuddy(ctx, bob, alice))
	assert.ErrorIs(t, s.AddBuddy(ctx, alice, 9999), ErrNotFound)

	assert.Equal(t, map[int]bool{bob: true, carol: false}, s.GetBuddies(ctx, alice))

	s.DeleteBuddy(ctx, bob, alice)
	assert.Equal(t, map[int]bool{bob: false, carol: false}, s.GetBuddies(ctx, alice))
}
