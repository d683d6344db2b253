package perms

import (
	"context"
	"testing"

	"git.handmade.network/hmn/forumdb/src/models"
	"github.com/stretchr/testify/assert"
)

func TestStatic(t *testing.T) {
	ctx := context.Background()
	s := Static{
		1: models.PermRead | models.PermReply,
		2: models.PermRead,
		3: 0,
	}

	assert.True(t, s.Allowed(ctx, models.PermRead, 1))
	assert.False(t, s.Allowed(ctx, models.PermReply, 2))
	assert.False(t, s.Allowed(ctx, models.PermRead, 99))

	assert.Equal(t, []int{1, 2}, s.AllowedForums(ctx, models.PermRead, nil))
	assert.Equal(t, []int{1}, s.AllowedForums(ctx, models.PermReply, []int{1, 2, 3}))
	assert.Equal(t, []int{}, s.AllowedForums(ctx, models.PermRead, []int{3, 4}))
}

func TestUserResolver(t *testing.T) {
	ctx := context.Background()
	forums := map[int]*models.Forum{
		1: {ID: 1, PubPerms: models.PermRead, RegPerms: models.PermRead | models.PermReply | models.PermNewTopic},
		2: {ID: 2, PubPerms: 0, RegPerms: 0},
		3: {ID: 3, Folder: true},
	}
	groupPerms := map[int]map[int]models.Permission{
		10: {2: models.PermRead},
		11: {2: models.PermRead | models.PermModerateMessages},
	}

	t.Run("anonymous", func(t *testing.T) {
		r := &UserResolver{Forums: forums, GroupPerms: groupPerms}
		assert.True(t, r.Allowed(ctx, models.PermRead, 1))
		assert.False(t, r.Allowed(ctx, models.PermReply, 1))
		assert.Equal(t, []int{1}, r.AllowedForums(ctx, models.PermRead, nil))
	})
	t.Run("admin", func(t *testing.T) {
		r := &UserResolver{User: &models.User{Admin: true}, Forums: forums}
		assert.True(t, r.Allowed(ctx, models.PermModerateUsers, 2))
		assert.False(t, r.Allowed(ctx, models.PermRead, 42), "unknown forums are never allowed")
	})
	t.Run("registered", func(t *testing.T) {
		r := &UserResolver{User: &models.User{}, Forums: forums}
		assert.True(t, r.Allowed(ctx, models.PermNewTopic, 1))
		assert.False(t, r.Allowed(ctx, models.PermRead, 2))
	})
	t.Run("explicit user permissions win", func(t *testing.T) {
		r := &UserResolver{
			User: &models.User{
				Permissions: map[int]models.Permission{1: models.PermRead},
				Groups:      map[int]models.GroupMembershipStatus{11: models.MembershipApproved},
			},
			Forums:     forums,
			GroupPerms: groupPerms,
		}
		assert.False(t, r.Allowed(ctx, models.PermReply, 1))
		assert.True(t, r.Allowed(ctx, models.PermModerateMessages, 2))
	})
	t.Run("groups", func(t *testing.T) {
		r := &UserResolver{
			User: &models.User{
				Groups: map[int]models.GroupMembershipStatus{
					10: models.MembershipApproved,
					11: models.MembershipUnapproved,
				},
			},
			Forums:     forums,
			GroupPerms: groupPerms,
		}
		assert.True(t, r.Allowed(ctx, models.PermRead, 2))
		assert.False(t, r.Allowed(ctx, models.PermModerateMessages, 2), "unapproved memberships grant nothing")
		assert.Equal(t, []int{1, 2}, r.AllowedForums(ctx, models.PermRead, nil))
	})
}
