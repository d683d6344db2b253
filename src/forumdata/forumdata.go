/*
Package forumdata is the forum's data layer: thread listings, search, thread
surgery, per-forum aggregates, read tracking, and the supporting user, group,
file and settings records.

Every statement goes through a db.Gateway. Statement failures therefore panic
with a *db.StatementError; this package only returns errors for caller
mistakes (bad arguments, missing records, duplicates). Recover at the edge of
the operation, like the forumctl commands and jobs do.

Operations take their forum and user context explicitly as a Scope.
*/
package forumdata

import (
	"context"
	"errors"
	"time"

	"git.handmade.network/hmn/forumdb/src/blob"
	"git.handmade.network/hmn/forumdb/src/config"
	"git.handmade.network/hmn/forumdb/src/db"
	"git.handmade.network/hmn/forumdb/src/filestore"
	"git.handmade.network/hmn/forumdb/src/forumcache"
	"git.handmade.network/hmn/forumdb/src/models"
	"git.handmade.network/hmn/forumdb/src/oops"
	"git.handmade.network/hmn/forumdb/src/perf"
	"git.handmade.network/hmn/forumdb/src/perms"
)

var (
	ErrNotFound          = errors.New("not found")
	ErrNoForum           = errors.New("operation requires a forum")
	ErrDuplicate         = errors.New("duplicate message")
	ErrInvalidArgument   = errors.New("invalid argument")
	ErrInvalidSearchType = errors.New("invalid search type")
	ErrInvalidDirection  = errors.New("invalid direction")
)

type Store struct {
	gw     *db.Gateway
	tables db.Tables
	cfg    config.ForumConfig

	cache        forumcache.Cache
	files        filestore.Store
	customFields map[int]models.CustomFieldDef

	now func() time.Time
}

type Option func(s *Store)

func WithCache(cache forumcache.Cache) Option {
	return func(s *Store) {
		s.cache = cache
	}
}

func WithFileStore(files filestore.Store) Option {
	return func(s *Store) {
		s.files = files
	}
}

func WithCustomFields(defs []models.CustomFieldDef) Option {
	return func(s *Store) {
		for _, def := range defs {
			s.customFields[def.ID] = def
		}
	}
}

func New(gw *db.Gateway, cfg config.ForumConfig, opts ...Option) (*Store, error) {
	tables, err := db.NewTables(cfg.TablePrefix)
	if err != nil {
		return nil, err
	}

	s := &Store{
		gw:           gw,
		tables:       tables,
		cfg:          cfg,
		cache:        forumcache.Nop{},
		customFields: make(map[int]models.CustomFieldDef),
		now:          time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.files == nil {
		s.files = filestore.NewDBStore(gw, tables)
	}
	return s, nil
}

func (s *Store) Tables() db.Tables {
	return s.tables
}

func (s *Store) Gateway() *db.Gateway {
	return s.gw
}

/*
Who is asking, and from where. Forum is nil for operations outside any
particular forum; UserID is 0 for anonymous visitors.
*/
type Scope struct {
	Forum  *models.Forum
	UserID int
	Perms  perms.Resolver
}

func (sc Scope) ForumID() int {
	if sc.Forum == nil {
		return 0
	}
	return sc.Forum.ID
}

func (sc Scope) resolver() perms.Resolver {
	if sc.Perms == nil {
		return perms.Static{}
	}
	return sc.Perms
}

func (sc Scope) requireForum() error {
	if sc.Forum == nil {
		return ErrNoForum
	}
	return nil
}

func (s *Store) sql(qb *db.QueryBuilder) (string, []any) {
	return s.tables.Expand(qb.String()), qb.Args()
}

// Runs a one-off statement that needs no result. Table placeholders are
// expanded.
func (s *Store) exec(ctx context.Context, sql string, args ...any) int64 {
	res, _ := s.gw.Execute(ctx, db.ModeRowCount, db.SQL(s.tables.Expand(sql), args...))
	return res.RowCount
}

func (s *Store) insertReturningID(ctx context.Context, qb *db.QueryBuilder) int {
	sql, args := s.sql(qb)
	res, _ := s.gw.Execute(ctx, db.ModeNewID, db.SQL(sql, args...))
	return res.NewID
}

func (s *Store) count(ctx context.Context, qb *db.QueryBuilder) int {
	sql, args := s.sql(qb)
	n, err := db.QueryOneScalar[int](ctx, s.gw, sql, args...)
	if err != nil {
		return 0
	}
	return n
}

func (s *Store) queryMessages(ctx context.Context, qb *db.QueryBuilder) []*models.Message {
	sql, args := s.sql(qb)
	msgs, err := db.Query[models.Message](ctx, s.gw, sql, args...)
	if err != nil {
		// Only reachable through a closed iterator; the gateway panics on real failures.
		panic(oops.New(err, "failed to fetch messages"))
	}
	for _, m := range msgs {
		m.Meta = blob.DecodeOrEmpty(ctx, m.MetaRaw)
	}
	return msgs
}

func messageList(msgs []*models.Message) *models.MessageList {
	list := models.NewMessageList()
	for _, m := range msgs {
		list.Add(m)
	}
	collectUserIDs(list)
	return list
}

func collectUserIDs(list *models.MessageList) {
	seen := make(map[int]bool)
	list.UserIDs = list.UserIDs[:0]
	for _, id := range list.Order {
		userID := list.Messages[id].UserID
		if userID == 0 || seen[userID] {
			continue
		}
		seen[userID] = true
		list.UserIDs = append(list.UserIDs, userID)
	}
}

func startBlock(ctx context.Context, description string) *perf.BlockHandle {
	return perf.ExtractPerf(ctx).StartBlock("FORUMDATA", description)
}
