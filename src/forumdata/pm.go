package forumdata

import (
	"context"

	"git.handmade.network/hmn/forumdb/src/db"
	"git.handmade.network/hmn/forumdb/src/models"
	"git.handmade.network/hmn/forumdb/src/oops"
)

// A user's own folder by id, or with ID 0 one of the special folders.
type PMFolderRef struct {
	ID      int
	Special string
}

var (
	PMInbox  = PMFolderRef{Special: models.PMInbox}
	PMOutbox = PMFolderRef{Special: models.PMOutbox}
)

func (f PMFolderRef) validate() error {
	if f.ID > 0 {
		return nil
	}
	if f.Special == models.PMInbox || f.Special == models.PMOutbox {
		return nil
	}
	return oops.New(ErrInvalidArgument, "no such private message folder %+v", f)
}

func (f PMFolderRef) addCondition(qb *db.QueryBuilder) {
	if f.ID > 0 {
		qb.Add(`AND xref.pm_folder_id = $?`, f.ID)
	} else {
		qb.Add(`AND xref.pm_folder_id = 0 AND xref.special_folder = $?`, f.Special)
	}
}

/*
Delivers a private message to each recipient's inbox. With keepCopy the
sender gets a read copy in their outbox. Returns the message id.
*/
func (s *Store) SendPrivateMessage(ctx context.Context, fromUserID int, to []int, subject, body string, keepCopy bool) (int, error) {
	if len(to) == 0 {
		return 0, oops.New(ErrInvalidArgument, "private message has no recipients")
	}
	from, err := s.GetUser(ctx, fromUserID, false)
	if err != nil {
		return 0, err
	}
	recipients := s.GetUsers(ctx, to, false)
	if len(recipients) != len(to) {
		return 0, oops.New(ErrNotFound, "unknown private message recipient in %v", to)
	}

	var qb db.QueryBuilder
	qb.Add(
		`
		---- Add private message
		INSERT INTO {pm_messages} (user_id, author, subject, message, datestamp)
		VALUES ($?, $?, $?, $?, $?)
		`,
		from.ID, from.Username, subject, body, s.now(),
	)
	pmID := s.insertReturningID(ctx, &qb)

	deliver := func(userID int, folder string, read bool) {
		s.exec(ctx,
			`
			---- Deliver private message
			INSERT INTO {pm_xref} (user_id, pm_folder_id, special_folder, pm_message_id, read_flag)
			VALUES ($1, 0, $2, $3, $4)
			`,
			userID, folder, pmID, read,
		)
	}
	for _, u := range recipients {
		deliver(u.ID, models.PMInbox, false)
	}
	if keepCopy {
		deliver(from.ID, models.PMOutbox, true)
	}
	return pmID, nil
}

// A private message as one user sees it in one of their folders.
type PMListing struct {
	Message   models.PrivateMessage
	Recipient models.PMRecipient
}

// Lists the messages in one of the user's folders, newest first.
func (s *Store) ListPrivateMessages(ctx context.Context, userID int, folder PMFolderRef) ([]PMListing, error) {
	if err := folder.validate(); err != nil {
		return nil, err
	}

	var qb db.QueryBuilder
	qb.Add(
		`
		---- List private messages
		SELECT
			pm.pm_message_id, pm.user_id, pm.author, pm.subject, pm.message, pm.datestamp,
			xref.pm_xref_id, xref.user_id, xref.pm_folder_id, coalesce(xref.special_folder, ''),
			xref.read_flag, xref.reply_flag
		FROM {pm_xref} AS xref
		JOIN {pm_messages} AS pm ON pm.pm_message_id = xref.pm_message_id
		WHERE xref.user_id = $?
		`,
		userID,
	)
	folder.addCondition(&qb)
	qb.Add(`ORDER BY pm.pm_message_id DESC`)

	sql, args := s.sql(&qb)
	res, _ := s.gw.Execute(ctx, db.ModeRows, db.SQL(sql, args...))
	listings := make([]PMListing, 0, len(res.Rows))
	for _, r := range res.Rows {
		listings = append(listings, PMListing{
			Message: models.PrivateMessage{
				ID:        asInt(r[0]),
				UserID:    asInt(r[1]),
				Author:    asString(r[2]),
				Subject:   asString(r[3]),
				Message:   asString(r[4]),
				Datestamp: asTime(r[5]),
			},
			Recipient: models.PMRecipient{
				ID:            asInt(r[6]),
				UserID:        asInt(r[7]),
				FolderID:      asInt(r[8]),
				SpecialFolder: asString(r[9]),
				MessageID:     asInt(r[0]),
				Read:          asBool(r[10]),
				Replied:       asBool(r[11]),
			},
		})
	}
	return listings, nil
}

type PMFlag string

const (
	PMReadFlag  PMFlag = "read_flag"
	PMReplyFlag PMFlag = "reply_flag"
)

func (s *Store) SetPrivateMessageFlag(ctx context.Context, userID, pmID int, flag PMFlag, value bool) error {
	if flag != PMReadFlag && flag != PMReplyFlag {
		return oops.New(ErrInvalidArgument, "no private message flag %q", flag)
	}
	s.exec(ctx, `
		---- Set private message flag
		UPDATE {pm_xref} SET `+string(flag)+` = $1 WHERE pm_message_id = $2 AND user_id = $3
	`, value, pmID, userID)
	return nil
}

func (s *Store) MovePrivateMessage(ctx context.Context, userID, pmID int, from, to PMFolderRef) error {
	if err := from.validate(); err != nil {
		return err
	}
	if err := to.validate(); err != nil {
		return err
	}

	var qb db.QueryBuilder
	qb.Add(`---- Move private message`)
	qb.Add(`UPDATE {pm_xref} AS xref SET pm_folder_id = $?, special_folder = $?`, to.ID, to.Special)
	qb.Add(`WHERE xref.user_id = $? AND xref.pm_message_id = $?`, userID, pmID)
	from.addCondition(&qb)
	sql, args := s.sql(&qb)
	if s.exec(ctx, sql, args...) == 0 {
		return oops.New(ErrNotFound, "private message %d is not in that folder", pmID)
	}
	return nil
}

/*
Removes a private message from one of the user's folders. Once nobody has
the message in any folder, the message itself is deleted.
*/
func (s *Store) DeletePrivateMessage(ctx context.Context, userID, pmID int, folder PMFolderRef) error {
	if err := folder.validate(); err != nil {
		return err
	}

	var qb db.QueryBuilder
	qb.Add(`---- Remove private message from folder`)
	qb.Add(`DELETE FROM {pm_xref} AS xref WHERE xref.user_id = $? AND xref.pm_message_id = $?`, userID, pmID)
	folder.addCondition(&qb)
	sql, args := s.sql(&qb)
	s.exec(ctx, sql, args...)

	s.exec(ctx, `
		---- Delete unreferenced private message
		DELETE FROM {pm_messages} AS pm
		WHERE pm.pm_message_id = $1
			AND NOT EXISTS (SELECT 1 FROM {pm_xref} AS xref WHERE xref.pm_message_id = pm.pm_message_id)
	`, pmID)
	return nil
}

func (s *Store) CreatePMFolder(ctx context.Context, userID int, name string) (int, error) {
	if name == "" {
		return 0, oops.New(ErrInvalidArgument, "folder has no name")
	}
	var qb db.QueryBuilder
	qb.Add(
		`
		---- Create private message folder
		INSERT INTO {pm_folders} (user_id, foldername) VALUES ($?, $?)
		`,
		userID, name,
	)
	return s.insertReturningID(ctx, &qb), nil
}

func (s *Store) GetPMFolders(ctx context.Context, userID int) []*models.PMFolder {
	var qb db.QueryBuilder
	qb.Add(
		`
		---- Fetch private message folders
		SELECT $columns FROM {pm_folders} WHERE user_id = $? ORDER BY foldername
		`,
		userID,
	)
	sql, args := s.sql(&qb)
	folders, err := db.Query[models.PMFolder](ctx, s.gw, sql, args...)
	if err != nil {
		panic(oops.New(err, "failed to fetch private message folders"))
	}
	return folders
}

// Deletes the folder along with the user's copies of the messages in it.
func (s *Store) DeletePMFolder(ctx context.Context, userID, folderID int) error {
	n := s.exec(ctx, `
		---- Delete private message folder
		DELETE FROM {pm_folders} WHERE pm_folder_id = $1 AND user_id = $2
	`, folderID, userID)
	if n == 0 {
		return oops.New(ErrNotFound, "user %d has no folder %d", userID, folderID)
	}
	s.exec(ctx, `
		---- Delete folder contents
		DELETE FROM {pm_xref} WHERE pm_folder_id = $1 AND user_id = $2
	`, folderID, userID)
	s.exec(ctx, `
		---- Delete orphaned private messages
		DELETE FROM {pm_messages} AS pm
		WHERE NOT EXISTS (SELECT 1 FROM {pm_xref} AS xref WHERE xref.pm_message_id = pm.pm_message_id)
	`)
	return nil
}

// Adding a buddy twice is fine. Unknown users are ErrNotFound.
func (s *Store) AddBuddy(ctx context.Context, userID, buddyUserID int) error {
	if _, err := s.GetUser(ctx, buddyUserID, false); err != nil {
		return err
	}
	s.exec(ctx,
		`
		---- Add buddy
		INSERT INTO {pm_buddies} (user_id, buddy_user_id) VALUES ($1, $2)
		ON CONFLICT (user_id, buddy_user_id) DO NOTHING
		`,
		userID, buddyUserID,
	)
	return nil
}

func (s *Store) DeleteBuddy(ctx context.Context, userID, buddyUserID int) {
	s.exec(ctx, `
		---- Delete buddy
		DELETE FROM {pm_buddies} WHERE user_id = $1 AND buddy_user_id = $2
	`, userID, buddyUserID)
}

// The user's buddies, each marked with whether they list the user back.
func (s *Store) GetBuddies(ctx context.Context, userID int) map[int]bool {
	res, _ := s.gw.Execute(ctx, db.ModeRows, db.SQL(s.tables.Expand(`
		---- Fetch buddies
		SELECT a.buddy_user_id, b.pm_buddy_id IS NOT NULL
		FROM {pm_buddies} AS a
		LEFT JOIN {pm_buddies} AS b ON b.user_id = a.buddy_user_id AND b.buddy_user_id = a.user_id
		WHERE a.user_id = $1
	`), userID))

	buddies := make(map[int]bool, len(res.Rows))
	for _, r := range res.Rows {
		buddies[asInt(r[0])] = asBool(r[1])
	}
	return buddies
}
