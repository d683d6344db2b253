package models

import (
	"reflect"
	"time"

	"git.handmade.network/hmn/forumdb/src/blob"
)

var MessageType = reflect.TypeOf(Message{})

type MessageStatus int

const (
	MessageStatusHidden   MessageStatus = -2 // Hidden by a moderator
	MessageStatusHold     MessageStatus = -1 // Awaiting moderation, or mid-delete
	MessageStatusApproved MessageStatus = 2
)

type SortClass int

const (
	SortAnnouncement SortClass = 0
	SortSticky       SortClass = 1
	SortDefault      SortClass = 2
)

type Message struct {
	ID int `db:"message_id"`

	ForumID  int `db:"forum_id"`
	Thread   int `db:"thread"`    // Id of the thread root. Equal to ID for roots.
	ParentID int `db:"parent_id"` // 0 for roots
	UserID   int `db:"user_id"`   // 0 for anonymous posts

	Author  string `db:"author"`
	Email   string `db:"email"`
	IP      string `db:"ip"`
	Subject string `db:"subject"`
	Body    string `db:"body"`
	MsgID   string `db:"msgid"`

	Status        MessageStatus `db:"status"`
	Sort          SortClass     `db:"sort"`
	ModeratorPost bool          `db:"moderator_post"`
	Closed        bool          `db:"closed"`

	Datestamp   time.Time `db:"datestamp"`
	ModifyStamp time.Time `db:"modifystamp"`

	ThreadCount int `db:"thread_count"` // Only meaningful on roots
	ViewCount   int `db:"viewcount"`

	MetaRaw []byte `db:"meta"`

	// Non-db fields, to be filled in by fetch helpers
	Meta blob.Payload
}

func (m *Message) IsRoot() bool {
	return m.ParentID == 0
}

// The text stored in the search table for this message.
func (m *Message) SearchText() string {
	return m.Author + " | " + m.Subject + " | " + m.Body
}

// Ordered collection of messages, as returned by the listing and search
// operations. Order holds the ids in display order.
type MessageList struct {
	Order    []int
	Messages map[int]*Message

	// Everyone who authored one of the messages, for callers that want to
	// fetch user records in one go.
	UserIDs []int
}

func NewMessageList() *MessageList {
	return &MessageList{
		Messages: make(map[int]*Message),
	}
}

// Appends the message unless it is already present.
func (l *MessageList) Add(m *Message) {
	if _, ok := l.Messages[m.ID]; ok {
		return
	}
	l.Order = append(l.Order, m.ID)
	l.Messages[m.ID] = m
}

func (l *MessageList) Len() int {
	return len(l.Order)
}

func (l *MessageList) Slice() []*Message {
	result := make([]*Message, 0, len(l.Order))
	for _, id := range l.Order {
		result = append(result, l.Messages[id])
	}
	return result
}

func (l *MessageList) Reverse() {
	for i, j := 0, len(l.Order)-1; i < j; i, j = i+1, j-1 {
		l.Order[i], l.Order[j] = l.Order[j], l.Order[i]
	}
}
