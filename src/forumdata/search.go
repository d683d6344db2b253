package forumdata

import (
	"context"
	"fmt"
	"regexp"
	"slices"
	"strconv"
	"strings"
	"time"

	"git.handmade.network/hmn/forumdb/src/db"
	"git.handmade.network/hmn/forumdb/src/models"
	"git.handmade.network/hmn/forumdb/src/oops"
)

type SearchType string

const (
	SearchAuthor SearchType = "AUTHOR"
	SearchUserID SearchType = "USER_ID"
	SearchAll    SearchType = "ALL"
	SearchAny    SearchType = "ANY"
	SearchPhrase SearchType = "PHRASE"
)

type SearchScope string

const (
	SearchThisForum SearchScope = "THISONE"
	SearchAllForums SearchScope = "ALL"
)

type SearchQuery struct {
	Text   string
	Offset int // in pages of Length results
	Length int
	Type   SearchType
	Days   int // 0 searches all time
	Forum  SearchScope
}

type SearchResult struct {
	Count    int
	Messages *models.MessageList
}

func emptySearchResult() *SearchResult {
	return &SearchResult{Messages: models.NewMessageList()}
}

var reQuotedTerm = regexp.MustCompile(`-*"(.*?)"`)

/*
Splits search text into terms. Quoted phrases, optionally prefixed with - to
exclude them, are kept whole, quotes included. The remaining text is split
on whitespace. Words come first in the result, then phrases.
*/
func ParseSearchTerms(text string) []string {
	phrases := reQuotedTerm.FindAllString(text, -1)
	rest := reQuotedTerm.ReplaceAllString(text, " ")
	return append(strings.Fields(rest), phrases...)
}

/*
Searches the messages the scope's user can read. Results come newest first,
one page at a time; Count is the total number of matches.

With full text search enabled, matching goes through the search table's
text index, with web search syntax: terms are ANDed, "or" separates
alternatives, - excludes and quotes make phrases. Otherwise terms are
matched as substrings of author, subject and body.
*/
func (s *Store) Search(ctx context.Context, sc Scope, q SearchQuery) (*SearchResult, error) {
	switch q.Type {
	case SearchAuthor, SearchUserID, SearchAll, SearchAny, SearchPhrase:
	default:
		return nil, oops.New(ErrInvalidSearchType, "search type %q", q.Type)
	}
	switch q.Forum {
	case SearchThisForum:
		if err := sc.requireForum(); err != nil {
			return nil, err
		}
	case SearchAllForums:
	default:
		return nil, oops.New(ErrInvalidArgument, "search scope %q", q.Forum)
	}
	if q.Length <= 0 || q.Offset < 0 {
		return nil, oops.New(ErrInvalidArgument, "search page %d of length %d", q.Offset, q.Length)
	}

	allowed := sc.resolver().AllowedForums(ctx, models.PermRead, nil)
	if len(allowed) == 0 {
		return emptySearchResult(), nil
	}
	if sc.Forum != nil && !slices.Contains(allowed, sc.Forum.ID) {
		return emptySearchResult(), nil
	}

	text := strings.TrimSpace(q.Text)
	if text == "" {
		return emptySearchResult(), nil
	}

	defer startBlock(ctx, "Search").End()

	filter := searchFilter{
		start: q.Offset * q.Length,
		limit: q.Length,
	}
	if q.Forum == SearchThisForum {
		filter.forumIDs = []int{sc.Forum.ID}
	} else {
		filter.forumIDs = allowed
	}
	if q.Days > 0 {
		filter.since = s.now().AddDate(0, 0, -q.Days)
	}

	var count int
	var ids []int
	var err error
	if s.cfg.FullTextSearch {
		count, ids, err = s.searchIndexed(ctx, q, text, filter)
	} else {
		count, ids, err = s.searchBasic(ctx, q, text, filter)
	}
	if err != nil {
		return nil, err
	}

	result := &SearchResult{Count: count, Messages: models.NewMessageList()}
	if len(ids) == 0 {
		return result, nil
	}

	var qb db.QueryBuilder
	qb.Add(
		`
		---- Fetch search results
		SELECT $columns
		FROM {messages}
		WHERE message_id = ANY($?)
		ORDER BY datestamp DESC
		`,
		ids,
	)
	result.Messages = messageList(s.queryMessages(ctx, &qb))
	return result, nil
}

type searchFilter struct {
	forumIDs []int
	since    time.Time
	start    int
	limit    int
}

// Adds the approval, forum and time window conditions on the given alias.
func (f searchFilter) apply(qb *db.QueryBuilder, alias string) {
	qb.Add(fmt.Sprintf(`AND %s.status = $?`, alias), models.MessageStatusApproved)
	qb.Add(fmt.Sprintf(`AND %s.forum_id = ANY($?)`, alias), f.forumIDs)
	if !f.since.IsZero() {
		qb.Add(fmt.Sprintf(`AND %s.datestamp >= $?`, alias), f.since)
	}
}

func (s *Store) searchIndexed(ctx context.Context, q SearchQuery, text string, filter searchFilter) (int, []int, error) {
	matches := db.TempTable("ids")
	results := db.TempTable("results")
	defer s.exec(ctx, fmt.Sprintf(`
		---- Drop search tables
		DROP TABLE IF EXISTS %s, %s
	`, matches, results))

	s.exec(ctx, fmt.Sprintf(`
		---- Create search match table
		CREATE TEMPORARY TABLE %s (message_id integer PRIMARY KEY)
	`, matches))

	var match db.QueryBuilder
	match.Add(`---- Find search matches`)
	match.Add(fmt.Sprintf(`INSERT INTO %s (message_id)`, matches))
	switch q.Type {
	case SearchAuthor:
		match.Add(`SELECT message_id FROM {messages} WHERE author = $?`, text)
	case SearchUserID:
		userID, err := strconv.Atoi(text)
		if err != nil {
			return 0, nil, oops.New(ErrInvalidArgument, "user id %q", text)
		}
		match.Add(`SELECT message_id FROM {messages} WHERE user_id = $?`, userID)
	default:
		match.Add(
			`
			SELECT message_id
			FROM {search}
			WHERE to_tsvector('simple', search_text) @@ websearch_to_tsquery('simple', $?)
			`,
			webSearchQuery(q.Type, text),
		)
	}
	sql, args := s.sql(&match)
	s.exec(ctx, sql, args...)

	s.exec(ctx, fmt.Sprintf(`
		---- Create search result table
		CREATE TEMPORARY TABLE %s (
			message_id integer PRIMARY KEY,
			datestamp timestamptz NOT NULL
		)
	`, results))

	var narrow db.QueryBuilder
	narrow.Add(`---- Narrow search matches`)
	narrow.Add(fmt.Sprintf(
		`
		INSERT INTO %s (message_id, datestamp)
		SELECT message.message_id, message.datestamp
		FROM {messages} AS message
		JOIN %s AS matched ON matched.message_id = message.message_id
		WHERE true
		`,
		results, matches,
	))
	filter.apply(&narrow, "message")
	sql, args = s.sql(&narrow)
	s.exec(ctx, sql, args...)

	var countQuery db.QueryBuilder
	countQuery.Add(fmt.Sprintf(`
		---- Count search results
		SELECT count(*) FROM %s
	`, results))
	count := s.count(ctx, &countQuery)
	if count == 0 {
		return 0, nil, nil
	}

	var page db.QueryBuilder
	page.Add(
		fmt.Sprintf(`
		---- Page search results
		SELECT message_id FROM %s
		ORDER BY datestamp DESC, message_id DESC
		LIMIT $? OFFSET $?
		`, results),
		filter.limit, filter.start,
	)
	sql, args = s.sql(&page)
	ids, err := db.QueryScalar[int](ctx, s.gw, sql, args...)
	if err != nil {
		panic(oops.New(err, "failed to page search results"))
	}
	return count, ids, nil
}

// Turns parsed terms into a websearch_to_tsquery string.
func webSearchQuery(t SearchType, text string) string {
	if t == SearchPhrase {
		return `"` + strings.ReplaceAll(text, `"`, "") + `"`
	}

	terms := ParseSearchTerms(text)
	for i, term := range terms {
		terms[i] = strings.TrimPrefix(term, "+")
	}
	if t == SearchAny {
		return strings.Join(terms, " or ")
	}
	return strings.Join(terms, " ")
}

func (s *Store) searchBasic(ctx context.Context, q SearchQuery, text string, filter searchFilter) (int, []int, error) {
	where, err := basicCondition(q, text)
	if err != nil {
		return 0, nil, err
	}

	var countQuery db.QueryBuilder
	countQuery.Add(`---- Count basic search results`)
	countQuery.Add(`SELECT count(*) FROM {messages} AS message WHERE`)
	where(&countQuery)
	filter.apply(&countQuery, "message")
	count := s.count(ctx, &countQuery)
	if count == 0 {
		return 0, nil, nil
	}

	var page db.QueryBuilder
	page.Add(`---- Page basic search results`)
	page.Add(`SELECT message.message_id FROM {messages} AS message WHERE`)
	where(&page)
	filter.apply(&page, "message")
	page.Add(
		`ORDER BY message.datestamp DESC, message.message_id DESC LIMIT $? OFFSET $?`,
		filter.limit, filter.start,
	)
	sql, args := s.sql(&page)
	ids, err := db.QueryScalar[int](ctx, s.gw, sql, args...)
	if err != nil {
		panic(oops.New(err, "failed to page search results"))
	}
	return count, ids, nil
}

// Returns something that adds the match condition to a query, so the count
// and page queries can share it.
func basicCondition(q SearchQuery, text string) (func(qb *db.QueryBuilder), error) {
	switch q.Type {
	case SearchAuthor:
		return func(qb *db.QueryBuilder) {
			qb.Add(`message.author = $?`, text)
		}, nil
	case SearchUserID:
		userID, err := strconv.Atoi(text)
		if err != nil {
			return nil, oops.New(ErrInvalidArgument, "user id %q", text)
		}
		return func(qb *db.QueryBuilder) {
			qb.Add(`message.user_id = $?`, userID)
		}, nil
	}

	terms := []string{text}
	if q.Type != SearchPhrase {
		terms = ParseSearchTerms(text)
	}
	joiner := "AND"
	if q.Type == SearchAny {
		joiner = "OR"
	}

	return func(qb *db.QueryBuilder) {
		qb.Add(`(`)
		for i, term := range terms {
			if i > 0 {
				qb.Add(joiner)
			}
			op := "LIKE"
			if strings.HasPrefix(term, "-") && q.Type != SearchPhrase {
				op = "NOT LIKE"
			}
			pattern := strings.Trim(strings.TrimLeft(term, "-+"), `"`)
			qb.Add(
				fmt.Sprintf(`concat(message.author, message.subject, message.body) %s $?`, op),
				"%"+escapeLike(pattern)+"%",
			)
		}
		qb.Add(`)`)
	}, nil
}

var likeEscaper = strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)

func escapeLike(s string) string {
	return likeEscaper.Replace(s)
}
