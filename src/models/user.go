package models

import (
	"reflect"
	"time"

	"git.handmade.network/hmn/forumdb/src/blob"
)

var UserType = reflect.TypeOf(User{})

type UserStatus int

const (
	UserStatusPending  UserStatus = -1 // Awaiting email or moderator confirmation
	UserStatusInactive UserStatus = 0
	UserStatusActive   UserStatus = 1
)

type User struct {
	ID int `db:"user_id"`

	Username    string `db:"username"`
	DisplayName string `db:"display_name"`
	Email       string `db:"email"`
	Password    string `db:"password"`
	Language    string `db:"user_language"`

	Admin  bool       `db:"admin"`
	Status UserStatus `db:"active"`
	Posts  int        `db:"posts"`

	DateAdded      time.Time  `db:"date_added"`
	DateLastActive *time.Time `db:"date_last_active"`

	SettingsRaw []byte `db:"settings_data"`

	// Non-db fields, to be filled in by fetch helpers
	Settings     blob.Payload
	CustomFields []CustomFieldValue

	// Only filled in for detailed fetches
	Groups      map[int]GroupMembershipStatus
	Permissions map[int]Permission // By forum id
}

func (u *User) BestName() string {
	if u.DisplayName != "" {
		return u.DisplayName
	}
	return u.Username
}

// Admin-defined profile field. Definitions come from configuration; values
// live in the custom fields side table.
type CustomFieldDef struct {
	ID           int
	Name         string
	HTMLDisabled bool // Values are sanitized when read
}

type CustomFieldValue struct {
	UserID  int    `db:"user_id"`
	FieldID int    `db:"type"`
	Data    string `db:"data"`
}
