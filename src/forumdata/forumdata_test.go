package forumdata

import (
	"context"
	"flag"
	"log"
	"os"
	"strconv"
	"strings"
	"testing"
	"time"

	"git.handmade.network/hmn/forumdb/src/config"
	"git.handmade.network/hmn/forumdb/src/db"
	"git.handmade.network/hmn/forumdb/src/migration"
	"git.handmade.network/hmn/forumdb/src/models"
	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/modules/postgres"
	"github.com/testcontainers/testcontainers-go/wait"
)

// Nil when there is no database to test against.
var testPostgres *config.PostgresConfig

func TestMain(m *testing.M) {
	flag.Parse()
	if testing.Short() {
		os.Exit(m.Run())
	}

	ctx := context.Background()
	container, err := postgres.Run(ctx,
		"postgres:15.3-alpine",
		postgres.WithDatabase("forumdb"),
		postgres.WithUsername("forumdb"),
		postgres.WithPassword("password"),
		testcontainers.WithWaitStrategy(
			// Postgres restarts once after initdb, so it reports ready twice.
			wait.ForLog("database system is ready to accept connections").
				WithOccurrence(2).
				WithStartupTimeout(30*time.Second),
		),
	)
	if err != nil {
		log.Printf("no postgres container, skipping database tests: %s", err)
		os.Exit(m.Run())
	}

	host, err := container.Host(ctx)
	if err != nil {
		log.Fatalf("failed to obtain container host: %s", err)
	}
	mappedPort, err := container.MappedPort(ctx, "5432/tcp")
	if err != nil {
		log.Fatalf("failed to obtain container port: %s", err)
	}
	port, err := strconv.Atoi(mappedPort.Port())
	if err != nil {
		log.Fatalf("failed to obtain int container port: %s", err)
	}

	testPostgres = &config.PostgresConfig{
		User:     "forumdb",
		Password: "password",
		Hostname: host,
		Port:     port,
		DbName:   "forumdb",
	}

	code := m.Run()
	if err := container.Terminate(ctx); err != nil {
		log.Printf("failed to terminate container: %s", err)
	}
	os.Exit(code)
}

/*
Creates a store on a freshly migrated, uniquely prefixed set of tables, so
tests never see each other's rows. The store's clock starts at a fixed time
and advances one minute per reading.
*/
func newTestStore(t *testing.T, modify ...func(cfg *config.ForumConfig)) *Store {
	t.Helper()
	if testPostgres == nil {
		t.Skip("needs a postgres container")
	}
	ctx := context.Background()

	cfg := config.Default().Forum
	cfg.TablePrefix = "t" + strings.ReplaceAll(uuid.NewString(), "-", "")[:12]
	for _, f := range modify {
		f(&cfg)
	}

	tables, err := db.NewTables(cfg.TablePrefix)
	require.NoError(t, err)
	conn, err := db.Connect(ctx, *testPostgres)
	require.NoError(t, err)
	require.NoError(t, migration.Migrate(ctx, conn, tables, migration.LatestVersion()))
	require.NoError(t, conn.Close(ctx))

	gw := db.NewGateway(*testPostgres)
	t.Cleanup(func() { gw.Close(ctx) })

	store, err := New(gw, cfg)
	require.NoError(t, err)

	clock := time.Date(2026, 1, 5, 12, 0, 0, 0, time.UTC)
	store.now = func() time.Time {
		clock = clock.Add(time.Minute)
		return clock
	}
	return store
}

func addTestForum(t *testing.T, s *Store, name string, fields map[string]any) *models.Forum {
	t.Helper()
	ctx := context.Background()

	values := map[string]any{"name": name, "active": true}
	for k, v := range fields {
		values[k] = v
	}
	id, err := s.AddForum(ctx, values)
	require.NoError(t, err)
	forum, err := s.GetForum(ctx, id)
	require.NoError(t, err)
	return forum
}

// Refetches the forum, for its current aggregates.
func reloadForum(t *testing.T, s *Store, forumID int) *models.Forum {
	t.Helper()
	forum, err := s.GetForum(context.Background(), forumID)
	require.NoError(t, err)
	return forum
}

// Posts an approved message, as a reply to parent unless it is nil.
func postTestMessage(t *testing.T, s *Store, forumID int, parent *models.Message, subject, body string) *models.Message {
	t.Helper()
	msg := &models.Message{
		ForumID: forumID,
		UserID:  1,
		Author:  "alice",
		Subject: subject,
		Body:    body,
		Status:  models.MessageStatusApproved,
		Sort:    models.SortDefault,
	}
	if parent != nil {
		msg.Thread = parent.Thread
		msg.ParentID = parent.ID
	}
	require.NoError(t, s.PostMessage(context.Background(), msg))
	return msg
}

func fetchTestMessage(t *testing.T, s *Store, id int) *models.Message {
	t.Helper()
	msg, err := s.GetMessage(context.Background(), Scope{}, id)
	require.NoError(t, err)
	return msg
}
