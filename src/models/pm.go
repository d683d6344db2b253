package models

import "time"

// Private messages are stored by this layer but not otherwise interpreted.

// Special folders every user has. Messages in them have no folder id.
const (
	PMInbox  = "inbox"
	PMOutbox = "outbox"
)

type PrivateMessage struct {
	ID        int       `db:"pm_message_id"`
	UserID    int       `db:"user_id"`
	Author    string    `db:"author"`
	Subject   string    `db:"subject"`
	Message   string    `db:"message"`
	Datestamp time.Time `db:"datestamp"`
	MetaRaw   []byte    `db:"meta"`
}

type PMFolder struct {
	ID         int    `db:"pm_folder_id"`
	UserID     int    `db:"user_id"`
	FolderName string `db:"foldername"`
}

type PMRecipient struct {
	ID            int    `db:"pm_xref_id"`
	UserID        int    `db:"user_id"`
	FolderID      int    `db:"pm_folder_id"`
	SpecialFolder string `db:"special_folder"`
	MessageID     int    `db:"pm_message_id"`
	Read          bool   `db:"read_flag"`
	Replied       bool   `db:"reply_flag"`
}

type PMBuddy struct {
	ID          int `db:"pm_buddy_id"`
	UserID      int `db:"user_id"`
	BuddyUserID int `db:"buddy_user_id"`
}
