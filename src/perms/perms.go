/*
Package perms answers "may the acting user do X in forum Y". The listing and
search operations only ever see the Resolver interface.
*/
package perms

import (
	"context"
	"sort"

	"git.handmade.network/hmn/forumdb/src/models"
)

type Resolver interface {
	Allowed(ctx context.Context, perm models.Permission, forumID int) bool

	// Filters forumIDs down to the ones where perm is granted. A nil slice
	// means every forum the resolver knows about.
	AllowedForums(ctx context.Context, perm models.Permission, forumIDs []int) []int
}

// A fixed permission table. Mostly for tests and command-line tools.
type Static map[int]models.Permission

var _ Resolver = Static{}

func (s Static) Allowed(ctx context.Context, perm models.Permission, forumID int) bool {
	return s[forumID].Has(perm)
}

func (s Static) AllowedForums(ctx context.Context, perm models.Permission, forumIDs []int) []int {
	if forumIDs == nil {
		for id := range s {
			forumIDs = append(forumIDs, id)
		}
		sort.Ints(forumIDs)
	}
	return filter(forumIDs, func(id int) bool { return s.Allowed(ctx, perm, id) })
}

// Grants everything everywhere, for maintenance commands.
type Everything struct {
	ForumIDs []int
}

var _ Resolver = Everything{}

func (e Everything) Allowed(ctx context.Context, perm models.Permission, forumID int) bool {
	return true
}

func (e Everything) AllowedForums(ctx context.Context, perm models.Permission, forumIDs []int) []int {
	if forumIDs == nil {
		return e.ForumIDs
	}
	return forumIDs
}

/*
Resolves permissions for one user. Lookup order for a forum is:

 1. admins may do anything
 2. explicit user permissions for the forum
 3. the union of permissions from groups the user is an approved member of
 4. the forum's registered-user permissions (or public ones for anonymous users)
*/
type UserResolver struct {
	User       *models.User // nil for anonymous visitors
	Forums     map[int]*models.Forum
	GroupPerms map[int]map[int]models.Permission // group id -> forum id -> perms
}

var _ Resolver = &UserResolver{}

func (r *UserResolver) forumPerms(forumID int) models.Permission {
	forum, ok := r.Forums[forumID]
	if !ok {
		return 0
	}

	if r.User == nil {
		return forum.PubPerms
	}
	if r.User.Admin {
		return models.PermAll
	}
	if p, ok := r.User.Permissions[forumID]; ok {
		return p
	}

	var fromGroups models.Permission
	inGroup := false
	for groupID, status := range r.User.Groups {
		if status < models.MembershipApproved {
			continue
		}
		if p, ok := r.GroupPerms[groupID][forumID]; ok {
			fromGroups |= p
			inGroup = true
		}
	}
	if inGroup {
		return fromGroups
	}

	return forum.RegPerms
}

func (r *UserResolver) Allowed(ctx context.Context, perm models.Permission, forumID int) bool {
	return r.forumPerms(forumID).Has(perm)
}

func (r *UserResolver) AllowedForums(ctx context.Context, perm models.Permission, forumIDs []int) []int {
	if forumIDs == nil {
		for id, forum := range r.Forums {
			if forum.Folder {
				continue
			}
			forumIDs = append(forumIDs, id)
		}
		sort.Ints(forumIDs)
	}
	return filter(forumIDs, func(id int) bool { return r.Allowed(ctx, perm, id) })
}

func filter(ids []int, keep func(id int) bool) []int {
	result := make([]int, 0, len(ids))
	for _, id := range ids {
		if keep(id) {
			result = append(result, id)
		}
	}
	return result
}
