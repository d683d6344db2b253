package models

import (
	"time"
)

type Forum struct {
	ID int `db:"forum_id"`

	Name        string `db:"name"`
	Description string `db:"description"`
	Active      bool   `db:"active"`

	ParentID     int  `db:"parent_id"`
	VRoot        int  `db:"vroot"`      // Virtual root folder this forum is grouped under
	InheritID    *int `db:"inherit_id"` // Forum whose settings this one copies
	Folder       bool `db:"folder_flag"`
	DisplayOrder int  `db:"display_order"`

	FloatToTop       bool `db:"float_to_top"`
	ThreadedList     bool `db:"threaded_list"`
	ThreadedRead     bool `db:"threaded_read"`
	ReverseThreading bool `db:"reverse_threading"`

	// Zero falls back to the configured defaults.
	ListLengthFlat     int `db:"list_length_flat"`
	ListLengthThreaded int `db:"list_length_threaded"`
	ReadLength         int `db:"read_length"`

	PubPerms Permission `db:"pub_perms"`
	RegPerms Permission `db:"reg_perms"`

	MessageCount int        `db:"message_count"`
	ThreadCount  int        `db:"thread_count"`
	StickyCount  int        `db:"sticky_count"`
	LastPostTime *time.Time `db:"last_post_time"`
	CacheVersion int        `db:"cache_version"`
}

type Permission int

const (
	PermRead             Permission = 1 << 0
	PermReply            Permission = 1 << 1
	PermEdit             Permission = 1 << 2
	PermNewTopic         Permission = 1 << 3
	PermAttach           Permission = 1 << 5
	PermModerateMessages Permission = 1 << 6
	PermModerateUsers    Permission = 1 << 7

	PermAll = PermRead | PermReply | PermEdit | PermNewTopic | PermAttach | PermModerateMessages | PermModerateUsers
)

func (p Permission) Has(perm Permission) bool {
	return p&perm == perm
}
