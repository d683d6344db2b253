package models

type GroupOpenness int

const (
	GroupClosed           GroupOpenness = 0
	GroupOpen             GroupOpenness = 1
	GroupRequiresApproval GroupOpenness = 2
)

type GroupMembershipStatus int

const (
	MembershipSuspended  GroupMembershipStatus = -1
	MembershipUnapproved GroupMembershipStatus = 0
	MembershipApproved   GroupMembershipStatus = 1
	MembershipModerator  GroupMembershipStatus = 2
)

type Group struct {
	ID   int           `db:"group_id"`
	Name string        `db:"name"`
	Open GroupOpenness `db:"open"`

	// Non-db fields, to be filled in by fetch helpers
	Permissions map[int]Permission // By forum id
}

type GroupMember struct {
	UserID  int                   `db:"user_id"`
	GroupID int                   `db:"group_id"`
	Status  GroupMembershipStatus `db:"status"`
}
