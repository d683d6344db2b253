package forumdata

import (
	"context"

	"git.handmade.network/hmn/forumdb/src/db"
	"git.handmade.network/hmn/forumdb/src/models"
	"git.handmade.network/hmn/forumdb/src/oops"
	"git.handmade.network/hmn/forumdb/src/perms"
)

// Fetches one group, or with groupID 0 all of them, with their forum
// permissions.
func (s *Store) GetGroups(ctx context.Context, groupID int) []*models.Group {
	var qb db.QueryBuilder
	qb.Add(`---- Fetch groups`)
	qb.Add(`SELECT $columns FROM {groups}`)
	if groupID > 0 {
		qb.Add(`WHERE group_id = $?`, groupID)
	}
	qb.Add(`ORDER BY group_id`)
	sql, args := s.sql(&qb)
	groups, err := db.Query[models.Group](ctx, s.gw, sql, args...)
	if err != nil {
		panic(oops.New(err, "failed to fetch groups"))
	}
	if len(groups) == 0 {
		return groups
	}

	byID := make(map[int]*models.Group, len(groups))
	ids := make([]int, 0, len(groups))
	for _, g := range groups {
		g.Permissions = make(map[int]models.Permission)
		byID[g.ID] = g
		ids = append(ids, g.ID)
	}

	res, _ := s.gw.Execute(ctx, db.ModeRows, db.SQL(s.tables.Expand(`
		---- Fetch group permissions
		SELECT group_id, forum_id, permission
		FROM {forum_group_xref}
		WHERE group_id = ANY($1)
	`), ids))
	for _, row := range res.Rows {
		byID[asInt(row[0])].Permissions[asInt(row[1])] = models.Permission(asInt(row[2]))
	}
	return groups
}

type GroupMemberInfo struct {
	models.GroupMember
	Username string
}

/*
Lists the members of the given groups, ordered by username. A non-nil status
only returns memberships with that status.
*/
func (s *Store) GetGroupMembers(ctx context.Context, groupIDs []int, status *models.GroupMembershipStatus) []GroupMemberInfo {
	var qb db.QueryBuilder
	qb.Add(
		`
		---- Fetch group members
		SELECT membership.user_id, membership.group_id, membership.status, usr.username
		FROM {user_group_xref} AS membership
		JOIN {users} AS usr ON usr.user_id = membership.user_id
		WHERE membership.group_id = ANY($?)
		`,
		groupIDs,
	)
	if status != nil {
		qb.Add(`AND membership.status = $?`, *status)
	}
	qb.Add(`ORDER BY usr.username, membership.group_id`)

	sql, args := s.sql(&qb)
	res, _ := s.gw.Execute(ctx, db.ModeRows, db.SQL(sql, args...))
	members := make([]GroupMemberInfo, 0, len(res.Rows))
	for _, r := range res.Rows {
		members = append(members, GroupMemberInfo{
			GroupMember: models.GroupMember{
				UserID:  asInt(r[0]),
				GroupID: asInt(r[1]),
				Status:  models.GroupMembershipStatus(asInt(r[2])),
			},
			Username: asString(r[3]),
		})
	}
	return members
}

func (s *Store) AddGroup(ctx context.Context, name string, open models.GroupOpenness) (int, error) {
	if name == "" {
		return 0, oops.New(ErrInvalidArgument, "group has no name")
	}
	var qb db.QueryBuilder
	qb.Add(
		`
		---- Add group
		INSERT INTO {groups} (name, open) VALUES ($?, $?)
		`,
		name, open,
	)
	return s.insertReturningID(ctx, &qb), nil
}

// Changes to a group. Nil fields are left alone; non-nil Permissions
// replace the group's forum permissions.
type GroupUpdate struct {
	ID          int
	Name        *string
	Open        *models.GroupOpenness
	Permissions map[int]models.Permission
}

func (s *Store) UpdateGroup(ctx context.Context, update GroupUpdate) error {
	if update.ID <= 0 {
		return oops.New(ErrInvalidArgument, "invalid group id %d", update.ID)
	}

	var fields []db.Field
	if update.Name != nil {
		fields = append(fields, db.Field{Name: "name", Value: *update.Name})
	}
	if update.Open != nil {
		fields = append(fields, db.Field{Name: "open", Value: *update.Open})
	}
	if len(fields) > 0 {
		var qb db.QueryBuilder
		qb.Add(`---- Update group`)
		qb.Add(`UPDATE {groups} SET`)
		qb.AddAssignments(fields)
		qb.Add(`WHERE group_id = $?`, update.ID)
		sql, args := s.sql(&qb)
		if s.exec(ctx, sql, args...) == 0 {
			return oops.New(ErrNotFound, "no group with id %d", update.ID)
		}
	}

	if update.Permissions != nil {
		s.exec(ctx, `
			---- Clear group permissions
			DELETE FROM {forum_group_xref} WHERE group_id = $1
		`, update.ID)
		for forumID, perm := range update.Permissions {
			s.exec(ctx,
				`
				---- Save group permission
				INSERT INTO {forum_group_xref} (forum_id, group_id, permission)
				VALUES ($1, $2, $3)
				`,
				forumID, update.ID, perm,
			)
		}
	}
	return nil
}

func (s *Store) DeleteGroup(ctx context.Context, groupID int) error {
	s.exec(ctx, `
		---- Delete group memberships
		DELETE FROM {user_group_xref} WHERE group_id = $1
	`, groupID)
	s.exec(ctx, `
		---- Delete group permissions
		DELETE FROM {forum_group_xref} WHERE group_id = $1
	`, groupID)
	n := s.exec(ctx, `
		---- Delete group
		DELETE FROM {groups} WHERE group_id = $1
	`, groupID)
	if n == 0 {
		return oops.New(ErrNotFound, "no group with id %d", groupID)
	}
	return nil
}

func (s *Store) getMemberships(ctx context.Context, userIDs []int) []*models.GroupMember {
	var qb db.QueryBuilder
	qb.Add(
		`
		---- Fetch group memberships
		SELECT $columns
		FROM {user_group_xref}
		WHERE user_id = ANY($?)
		ORDER BY user_id, group_id
		`,
		userIDs,
	)
	sql, args := s.sql(&qb)
	memberships, err := db.Query[models.GroupMember](ctx, s.gw, sql, args...)
	if err != nil {
		panic(oops.New(err, "failed to fetch group memberships"))
	}
	return memberships
}

func (s *Store) GetUserGroups(ctx context.Context, userID int) map[int]models.GroupMembershipStatus {
	groups := make(map[int]models.GroupMembershipStatus)
	for _, m := range s.getMemberships(ctx, []int{userID}) {
		groups[m.GroupID] = m.Status
	}
	return groups
}

// Replaces all of a user's group memberships.
func (s *Store) SaveUserGroups(ctx context.Context, userID int, groups map[int]models.GroupMembershipStatus) {
	s.exec(ctx, `
		---- Clear user groups
		DELETE FROM {user_group_xref} WHERE user_id = $1
	`, userID)
	for groupID, status := range groups {
		s.exec(ctx,
			`
			---- Save user group
			INSERT INTO {user_group_xref} (user_id, group_id, status)
			VALUES ($1, $2, $3)
			`,
			userID, groupID, status,
		)
	}
}

/*
Builds the permission resolver for a user (nil for an anonymous visitor)
from the current forums and group permissions. A user that is not detailed
is fetched again with details.
*/
func (s *Store) ResolverFor(ctx context.Context, user *models.User) (*perms.UserResolver, error) {
	if user != nil && user.Permissions == nil {
		detailed, err := s.GetUser(ctx, user.ID, true)
		if err != nil {
			return nil, err
		}
		user = detailed
	}

	r := &perms.UserResolver{
		User:       user,
		Forums:     make(map[int]*models.Forum),
		GroupPerms: make(map[int]map[int]models.Permission),
	}
	for _, f := range s.GetForums(ctx, ForumFilter{}) {
		r.Forums[f.ID] = f
	}
	if user != nil && len(user.Groups) > 0 {
		for _, g := range s.GetGroups(ctx, 0) {
			if _, member := user.Groups[g.ID]; member {
				r.GroupPerms[g.ID] = g.Permissions
			}
		}
	}
	return r, nil
}
