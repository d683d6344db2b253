package forumdata

import (
	"context"
	"fmt"

	"git.handmade.network/hmn/forumdb/src/auth"
	"git.handmade.network/hmn/forumdb/src/blob"
	"git.handmade.network/hmn/forumdb/src/db"
	"git.handmade.network/hmn/forumdb/src/logging"
	"git.handmade.network/hmn/forumdb/src/models"
	"git.handmade.network/hmn/forumdb/src/oops"
	"github.com/microcosm-cc/bluemonday"
)

var ErrUsernameTaken = fmt.Errorf("username taken: %w", ErrDuplicate)

var customFieldPolicy = bluemonday.StrictPolicy()

func (s *Store) GetUser(ctx context.Context, userID int, detailed bool) (*models.User, error) {
	users := s.GetUsers(ctx, []int{userID}, detailed)
	if len(users) == 0 {
		return nil, oops.New(ErrNotFound, "no user with id %d", userID)
	}
	return users[0], nil
}

/*
Fetches users by id, ordered by id, with settings and custom fields filled
in. Detailed fetches also load forum permissions and group memberships.
Unknown ids are skipped.
*/
func (s *Store) GetUsers(ctx context.Context, userIDs []int, detailed bool) []*models.User {
	if len(userIDs) == 0 {
		return nil
	}

	var qb db.QueryBuilder
	qb.Add(
		`
		---- Fetch users
		SELECT $columns
		FROM {users}
		WHERE user_id = ANY($?)
		ORDER BY user_id
		`,
		userIDs,
	)
	users := s.queryUsers(ctx, &qb)
	if len(users) == 0 {
		return users
	}

	byID := make(map[int]*models.User, len(users))
	ids := make([]int, 0, len(users))
	for _, u := range users {
		byID[u.ID] = u
		ids = append(ids, u.ID)
	}

	var fieldQuery db.QueryBuilder
	fieldQuery.Add(
		`
		---- Fetch user custom fields
		SELECT $columns
		FROM {user_custom_fields}
		WHERE user_id = ANY($?)
		ORDER BY user_id, type
		`,
		ids,
	)
	sql, args := s.sql(&fieldQuery)
	values, err := db.Query[models.CustomFieldValue](ctx, s.gw, sql, args...)
	if err != nil {
		panic(oops.New(err, "failed to fetch custom fields"))
	}
	for _, v := range values {
		def, ok := s.customFields[v.FieldID]
		if !ok {
			continue
		}
		if def.HTMLDisabled {
			v.Data = customFieldPolicy.Sanitize(v.Data)
		}
		u := byID[v.UserID]
		u.CustomFields = append(u.CustomFields, *v)
	}

	if detailed {
		for _, u := range users {
			u.Permissions = make(map[int]models.Permission)
		}

		var permQuery db.QueryBuilder
		permQuery.Add(
			`
			---- Fetch user permissions
			SELECT user_id, forum_id, permission
			FROM {user_permissions}
			WHERE user_id = ANY($?)
			`,
			ids,
		)
		sql, args := s.sql(&permQuery)
		res, _ := s.gw.Execute(ctx, db.ModeRows, db.SQL(sql, args...))
		for _, row := range res.Rows {
			byID[asInt(row[0])].Permissions[asInt(row[1])] = models.Permission(asInt(row[2]))
		}

		memberships := s.getMemberships(ctx, ids)
		for _, u := range users {
			u.Groups = make(map[int]models.GroupMembershipStatus)
		}
		for _, m := range memberships {
			byID[m.UserID].Groups[m.GroupID] = m.Status
		}
	}

	return users
}

func (s *Store) queryUsers(ctx context.Context, qb *db.QueryBuilder) []*models.User {
	sql, args := s.sql(qb)
	users, err := db.Query[models.User](ctx, s.gw, sql, args...)
	if err != nil {
		panic(oops.New(err, "failed to fetch users"))
	}
	for _, u := range users {
		u.Settings = blob.DecodeOrEmpty(ctx, u.SettingsRaw)
	}
	return users
}

func (s *Store) GetUserByName(ctx context.Context, username string) (*models.User, error) {
	var qb db.QueryBuilder
	qb.Add(
		`
		---- Fetch user by name
		SELECT $columns FROM {users} WHERE username = $?
		`,
		username,
	)
	users := s.queryUsers(ctx, &qb)
	if len(users) == 0 {
		return nil, oops.New(ErrNotFound, "no user named %q", username)
	}
	return users[0], nil
}

/*
Creates a user along with their forum permissions and custom fields.
u.Password must already be a password string from auth.HashPassword.
Returns ErrUsernameTaken if the name is in use.
*/
func (s *Store) AddUser(ctx context.Context, u *models.User) (int, error) {
	if u.Username == "" {
		return 0, oops.New(ErrInvalidArgument, "user has no name")
	}
	if _, err := s.GetUserByName(ctx, u.Username); err == nil {
		return 0, oops.New(ErrUsernameTaken, "%q", u.Username)
	}

	settings, err := blob.Encode(u.Settings)
	if err != nil {
		return 0, oops.New(err, "failed to encode user settings")
	}
	if u.DateAdded.IsZero() {
		u.DateAdded = s.now()
	}

	var qb db.QueryBuilder
	qb.Add(
		`
		---- Add user
		INSERT INTO {users} (username, display_name, email, password, user_language, admin, active, posts, date_added, settings_data)
		VALUES ($?, $?, $?, $?, $?, $?, $?, $?, $?, $?)
		`,
		u.Username, u.DisplayName, u.Email, u.Password, u.Language,
		u.Admin, u.Status, u.Posts, u.DateAdded, settings,
	)
	u.ID = s.insertReturningID(ctx, &qb)

	s.saveUserPermissions(ctx, u.ID, u.Permissions)
	s.saveCustomFields(ctx, u.ID, u.CustomFields)

	logging.ExtractLogger(ctx).Info().Int("user", u.ID).Str("username", u.Username).Msg("added user")
	return u.ID, nil
}

/*
Changes to a user. Fields are plain columns (names are validated); a
blob.Payload under "settings_data" is encoded. Nil Permissions or
CustomFields leave those untouched; non-nil ones replace them.
*/
type UserUpdate struct {
	UserID       int
	Fields       map[string]any
	Permissions  map[int]models.Permission
	CustomFields []models.CustomFieldValue
}

func (s *Store) SaveUser(ctx context.Context, update UserUpdate) error {
	if update.UserID <= 0 {
		return oops.New(ErrInvalidArgument, "invalid user id %d", update.UserID)
	}

	if payload, ok := update.Fields["settings_data"].(blob.Payload); ok {
		raw, err := blob.Encode(payload)
		if err != nil {
			return oops.New(err, "failed to encode user settings")
		}
		update.Fields["settings_data"] = raw
	}

	if fields := db.FilterFields(ctx, update.Fields); len(fields) > 0 {
		var qb db.QueryBuilder
		qb.Add(`---- Update user`)
		qb.Add(`UPDATE {users} SET`)
		qb.AddAssignments(fields)
		qb.Add(`WHERE user_id = $?`, update.UserID)
		sql, args := s.sql(&qb)
		if s.exec(ctx, sql, args...) == 0 {
			return oops.New(ErrNotFound, "no user with id %d", update.UserID)
		}
	}

	if update.Permissions != nil {
		s.exec(ctx, `
			---- Clear user permissions
			DELETE FROM {user_permissions} WHERE user_id = $1
		`, update.UserID)
		s.saveUserPermissions(ctx, update.UserID, update.Permissions)
	}
	if update.CustomFields != nil {
		s.exec(ctx, `
			---- Clear user custom fields
			DELETE FROM {user_custom_fields} WHERE user_id = $1
		`, update.UserID)
		s.saveCustomFields(ctx, update.UserID, update.CustomFields)
	}
	return nil
}

func (s *Store) saveUserPermissions(ctx context.Context, userID int, perms map[int]models.Permission) {
	for forumID, perm := range perms {
		s.exec(ctx,
			`
			---- Save user permission
			INSERT INTO {user_permissions} (user_id, forum_id, permission)
			VALUES ($1, $2, $3)
			ON CONFLICT (user_id, forum_id) DO UPDATE SET permission = EXCLUDED.permission
			`,
			userID, forumID, perm,
		)
	}
}

// Only values for known fields are stored.
func (s *Store) saveCustomFields(ctx context.Context, userID int, values []models.CustomFieldValue) {
	for _, v := range values {
		if _, ok := s.customFields[v.FieldID]; !ok {
			continue
		}
		s.exec(ctx,
			`
			---- Save user custom field
			INSERT INTO {user_custom_fields} (user_id, type, data)
			VALUES ($1, $2, $3)
			ON CONFLICT (user_id, type) DO UPDATE SET data = EXCLUDED.data
			`,
			userID, v.FieldID, v.Data,
		)
	}
}

func (s *Store) SetUserPassword(ctx context.Context, userID int, password string) {
	s.exec(ctx,
		`
		---- Set user password
		UPDATE {users} SET password = $1 WHERE user_id = $2
		`,
		auth.HashPassword(password).String(), userID,
	)
}

/*
Checks a username and password. Returns the user's id, or 0 if there is no
such active user or the password is wrong. A stored hash in an outdated
format is replaced on success.
*/
func (s *Store) CheckUserPassword(ctx context.Context, username, password string) (int, error) {
	u, err := s.GetUserByName(ctx, username)
	if err != nil || u.Status != models.UserStatusActive {
		return 0, nil
	}

	ok, upgraded, err := auth.Verify(password, u.Password)
	if err != nil {
		return 0, oops.New(err, "unreadable password for user %d", u.ID)
	}
	if !ok {
		return 0, nil
	}
	if upgraded != nil {
		s.exec(ctx,
			`
			---- Upgrade password hash
			UPDATE {users} SET password = $1 WHERE user_id = $2
			`,
			upgraded.String(), u.ID,
		)
	}
	return u.ID, nil
}

func (s *Store) IncrementUserPosts(ctx context.Context, userID int) {
	if userID <= 0 {
		return
	}
	s.exec(ctx,
		`
		---- Increment user posts
		UPDATE {users} SET posts = posts + 1 WHERE user_id = $1
		`,
		userID,
	)
}

// Recounts everyone's approved posts. Returns the number of users updated.
func (s *Store) RebuildUserPosts(ctx context.Context) int {
	return int(s.exec(ctx,
		`
		---- Rebuild user posts
		UPDATE {users} AS usr
		SET posts = (
			SELECT count(*) FROM {messages} AS message
			WHERE message.user_id = usr.user_id AND message.status = $1
		)
		`,
		models.MessageStatusApproved,
	))
}

// Users with the given custom field value. With match set, the value is a
// substring pattern instead of an exact match.
func (s *Store) GetCustomFieldUsers(ctx context.Context, fieldID int, content string, match bool) []int {
	var qb db.QueryBuilder
	qb.Add(`---- Find users by custom field`)
	qb.Add(`SELECT user_id FROM {user_custom_fields} WHERE type = $?`, fieldID)
	if match {
		qb.Add(`AND data LIKE $?`, "%"+escapeLike(content)+"%")
	} else {
		qb.Add(`AND data = $?`, content)
	}
	qb.Add(`ORDER BY user_id`)
	sql, args := s.sql(&qb)
	ids, err := db.QueryScalar[int](ctx, s.gw, sql, args...)
	if err != nil {
		panic(oops.New(err, "failed to find users by custom field"))
	}
	return ids
}

// Case-insensitive substring search over usernames, display names and
// email addresses.
func (s *Store) SearchUsers(ctx context.Context, text string, limit int) []*models.User {
	var qb db.QueryBuilder
	pattern := "%" + escapeLike(text) + "%"
	qb.Add(
		`
		---- Search users
		SELECT $columns
		FROM {users}
		WHERE username ILIKE $? OR display_name ILIKE $? OR email ILIKE $?
		ORDER BY username
		LIMIT $?
		`,
		pattern, pattern, pattern, limit,
	)
	return s.queryUsers(ctx, &qb)
}

func (s *Store) GetUnapprovedUsers(ctx context.Context) []*models.User {
	var qb db.QueryBuilder
	qb.Add(
		`
		---- Fetch unapproved users
		SELECT $columns FROM {users} WHERE active = $? ORDER BY username
		`,
		models.UserStatusPending,
	)
	return s.queryUsers(ctx, &qb)
}

/*
Deletes a user. Their messages stay, anonymized; everything else that
belongs to them goes: permissions, memberships, read markers, subscriptions,
custom fields, personal files and private messages.
*/
func (s *Store) DeleteUser(ctx context.Context, userID int) error {
	if userID <= 0 {
		return oops.New(ErrInvalidArgument, "invalid user id %d", userID)
	}

	defer startBlock(ctx, "Delete user").End()

	for _, table := range []string{
		"{user_permissions}",
		"{user_group_xref}",
		"{user_newflags}",
		"{subscribers}",
		"{user_custom_fields}",
		"{pm_folders}",
		"{pm_xref}",
	} {
		s.exec(ctx, `
			---- Delete user rows
			DELETE FROM `+table+` WHERE user_id = $1
		`, userID)
	}
	s.exec(ctx, `
		---- Delete user buddies
		DELETE FROM {pm_buddies} WHERE user_id = $1 OR buddy_user_id = $1
	`, userID)
	s.exec(ctx, `
		---- Delete orphaned private messages
		DELETE FROM {pm_messages} AS pm
		WHERE NOT EXISTS (SELECT 1 FROM {pm_xref} AS xref WHERE xref.pm_message_id = pm.pm_message_id)
	`)

	var qb db.QueryBuilder
	qb.Add(
		`
		---- Fetch personal files
		SELECT $columns FROM {files} WHERE user_id = $? AND message_id = 0
		`,
		userID,
	)
	for _, f := range s.queryFiles(ctx, &qb) {
		s.deleteFile(ctx, f)
	}

	s.exec(ctx, `
		---- Anonymize user messages
		UPDATE {messages} SET user_id = 0, email = '' WHERE user_id = $1
	`, userID)

	n := s.exec(ctx, `
		---- Delete user
		DELETE FROM {users} WHERE user_id = $1
	`, userID)
	if n == 0 {
		return oops.New(ErrNotFound, "no user with id %d", userID)
	}
	return nil
}
