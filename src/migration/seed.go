package migration

import (
	"context"
	"fmt"
	"math/rand"
	"time"

	"git.handmade.network/hmn/forumdb/src/auth"
	"git.handmade.network/hmn/forumdb/src/db"
	"git.handmade.network/hmn/forumdb/src/forumctl"
	"git.handmade.network/hmn/forumdb/src/models"
	lorem "github.com/HandmadeNetwork/golorem"
	"github.com/jackc/pgx/v5"
	"github.com/spf13/cobra"
)

var seedThreads int

func init() {
	seedCommand := &cobra.Command{
		Use:   "seed",
		Short: "Migrate to the latest version and fill the forum with sample data",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := context.Background()
			conn, tables, err := connect(ctx)
			if err != nil {
				return err
			}
			defer conn.Close(ctx)

			if err := Migrate(ctx, conn, tables, LatestVersion()); err != nil {
				return err
			}
			return SampleSeed(ctx, conn, tables, seedThreads)
		},
	}
	seedCommand.Flags().IntVar(&seedThreads, "threads", 20, "Number of threads to create")

	forumctl.Command.AddCommand(seedCommand)
}

/*
Creates an admin, a few regular users, one folder with two forums, and
numThreads threads of lorem ipsum spread over them. Everything is approved
and the forum stats and search rows are filled in, so the result behaves
like a real installation.
*/
func SampleSeed(ctx context.Context, conn *pgx.Conn, tables db.Tables, numThreads int) error {
	tx, err := conn.Begin(ctx)
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx)

	fmt.Println("Creating admin user (\"admin\"/\"password\")...")
	admin, err := seedUser(ctx, tx, tables, "admin", true)
	if err != nil {
		return err
	}

	fmt.Println("Creating normal users (all with password \"password\")...")
	users := []seededUser{admin}
	for _, name := range []string{"alice", "bob", "charlie"} {
		u, err := seedUser(ctx, tx, tables, name, false)
		if err != nil {
			return err
		}
		users = append(users, u)
	}

	fmt.Println("Creating forums...")
	folderID, err := seedForum(ctx, tx, tables, "Community", 0, true)
	if err != nil {
		return err
	}
	var forumIDs []int
	for _, name := range []string{"General", "Announcements"} {
		id, err := seedForum(ctx, tx, tables, name, folderID, false)
		if err != nil {
			return err
		}
		forumIDs = append(forumIDs, id)
	}

	fmt.Printf("Creating %d threads...\n", numThreads)
	stamp := time.Now().Add(-time.Duration(numThreads) * time.Hour)
	for i := 0; i < numThreads; i++ {
		forumID := forumIDs[rand.Intn(len(forumIDs))]
		author := users[rand.Intn(len(users))]
		rootID, err := seedMessage(ctx, tx, tables, forumID, 0, 0, author, lorem.Sentence(3, 8), stamp)
		if err != nil {
			return err
		}

		parentID := rootID
		for r := rand.Intn(6); r > 0; r-- {
			stamp = stamp.Add(time.Duration(rand.Intn(40)+1) * time.Minute)
			replier := users[rand.Intn(len(users))]
			replyID, err := seedMessage(ctx, tx, tables, forumID, rootID, parentID, replier, "Re: "+lorem.Sentence(2, 5), stamp)
			if err != nil {
				return err
			}
			if randomBool() {
				parentID = replyID
			}
		}
		stamp = stamp.Add(time.Hour)
	}

	fmt.Println("Filling in thread info, search data, and forum stats...")
	err = execExpanded(ctx, tx, tables,
		`
		UPDATE {messages} AS root
		SET
			thread_count = (SELECT count(*) FROM {messages} AS m WHERE m.thread = root.message_id),
			modifystamp = (SELECT max(m.datestamp) FROM {messages} AS m WHERE m.thread = root.message_id)
		WHERE root.parent_id = 0
		`,
		`
		INSERT INTO {search} (message_id, forum_id, search_text)
		SELECT message_id, forum_id, concat(author, ' | ', subject, ' | ', body)
		FROM {messages}
		ON CONFLICT (message_id) DO NOTHING
		`,
		`
		UPDATE {forums} AS f
		SET
			message_count = (SELECT count(*) FROM {messages} AS m WHERE m.forum_id = f.forum_id),
			thread_count = (SELECT count(*) FROM {messages} AS m WHERE m.forum_id = f.forum_id AND m.parent_id = 0),
			last_post_time = (SELECT max(m.modifystamp) FROM {messages} AS m WHERE m.forum_id = f.forum_id),
			cache_version = cache_version + 1
		WHERE NOT f.folder_flag
		`,
		`
		UPDATE {users} AS u
		SET posts = (SELECT count(*) FROM {messages} AS m WHERE m.user_id = u.user_id)
		`,
	)
	if err != nil {
		return err
	}

	return tx.Commit(ctx)
}

type seededUser struct {
	ID       int
	Username string
	Email    string
}

func seedUser(ctx context.Context, tx pgx.Tx, tables db.Tables, username string, admin bool) (seededUser, error) {
	u := seededUser{Username: username, Email: fmt.Sprintf("%s@example.com", username)}
	err := tx.QueryRow(ctx, tables.Expand(`
		INSERT INTO {users} (username, email, password, admin, active)
		VALUES ($1, $2, $3, $4, $5)
		RETURNING user_id
		`),
		u.Username, u.Email, auth.HashPassword("password").String(), admin, models.UserStatusActive,
	).Scan(&u.ID)
	return u, err
}

func seedForum(ctx context.Context, tx pgx.Tx, tables db.Tables, name string, parentID int, folder bool) (int, error) {
	var id int
	err := tx.QueryRow(ctx, tables.Expand(`
		INSERT INTO {forums} (name, description, parent_id, folder_flag, pub_perms, reg_perms)
		VALUES ($1, $2, $3, $4, $5, $6)
		RETURNING forum_id
		`),
		name, lorem.Sentence(4, 10), parentID, folder,
		models.PermRead, models.PermRead|models.PermReply|models.PermNewTopic|models.PermEdit,
	).Scan(&id)
	return id, err
}

// thread 0 makes a new thread root.
func seedMessage(ctx context.Context, tx pgx.Tx, tables db.Tables, forumID, thread, parentID int, author seededUser, subject string, stamp time.Time) (int, error) {
	var id int
	err := tx.QueryRow(ctx, tables.Expand(`
		INSERT INTO {messages} (forum_id, thread, parent_id, user_id, author, email, subject, body, status, datestamp, modifystamp)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $10)
		RETURNING message_id
		`),
		forumID, thread, parentID, author.ID, author.Username, author.Email,
		subject, lorem.Paragraph(1, 3), models.MessageStatusApproved, stamp,
	).Scan(&id)
	if err != nil || thread != 0 {
		return id, err
	}
	_, err = tx.Exec(ctx, tables.Expand(`UPDATE {messages} SET thread = $1 WHERE message_id = $1`), id)
	return id, err
}

func execExpanded(ctx context.Context, tx pgx.Tx, tables db.Tables, statements ...string) error {
	for _, stmt := range statements {
		if _, err := tx.Exec(ctx, tables.Expand(stmt)); err != nil {
			return err
		}
	}
	return nil
}

func randomBool() bool {
	return rand.Intn(2) == 1
}
