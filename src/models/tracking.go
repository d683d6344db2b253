package models

import "time"

// A read marker. Everything at or below a user's lowest marker in a forum
// counts as read as well.
type NewFlag struct {
	UserID    int `db:"user_id"`
	ForumID   int `db:"forum_id"`
	MessageID int `db:"message_id"`
}

type SubscriptionType int

const (
	SubscriptionMessage  SubscriptionType = 0 // Mail every new message
	SubscriptionDigest   SubscriptionType = 1
	SubscriptionBookmark SubscriptionType = 2
)

type Subscription struct {
	UserID  int              `db:"user_id"`
	ForumID int              `db:"forum_id"`
	Thread  int              `db:"thread"`
	Type    SubscriptionType `db:"sub_type"`
}

type SearchEntry struct {
	MessageID  int    `db:"message_id"`
	ForumID    int    `db:"forum_id"`
	SearchText string `db:"search_text"`
}

type FileLink string

const (
	FileLinkUser    FileLink = "user"
	FileLinkMessage FileLink = "message"
	FileLinkEditor  FileLink = "editor" // Uploaded while composing; stale unless promoted
)

type File struct {
	ID        int       `db:"file_id"`
	UserID    int       `db:"user_id"`
	MessageID int       `db:"message_id"`
	Link      FileLink  `db:"link"`
	Filename  string    `db:"filename"`
	Filesize  int64     `db:"filesize"`
	AddedAt   time.Time `db:"add_datetime"`

	// Where the payload lives; empty when it is stored inline.
	StorageKey string `db:"storage_key"`

	// Non-db fields, to be filled in by fetch helpers
	Data []byte
}

type BanType int

const (
	BanName         BanType = 1
	BanEmail        BanType = 2
	BanIP           BanType = 3
	BanIllegalWords BanType = 4
	BanUserID       BanType = 5
	BanSpamWords    BanType = 6
)

type BanItem struct {
	ID       int     `db:"id"`
	ForumID  int     `db:"forum_id"` // 0 applies everywhere
	Type     BanType `db:"type"`
	Pcre     bool    `db:"pcre"`
	String   string  `db:"string"`
	Comments string  `db:"comments"`
}
