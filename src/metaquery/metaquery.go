/*
Package metaquery compiles administrator-authored filter descriptions into a
SQL predicate.

A description is a sequence of tokens: conditions such as

	message.subject = *QUERY*

joined by AND/OR and optionally grouped with parentheses. The result uses
$? placeholders so it can be added straight to a db.QueryBuilder.
*/
package metaquery

import (
	"errors"
	"fmt"
	"regexp"
	"strings"

	"git.handmade.network/hmn/forumdb/src/oops"
	"github.com/lib/pq"
)

var (
	ErrBadCondition     = errors.New("condition does not match the required format")
	ErrWildcardOperator = errors.New("wildcard match only combines with = and !=")
	ErrNullOperator     = errors.New("NULL match only combines with = and !=")
	ErrUnexpectedToken  = errors.New("unexpected token")
	ErrUnclosedGroup    = errors.New("unclosed group")
)

type Token interface {
	isToken()
}

type Condition struct {
	Field string
	Op    string
	Match string

	// Substituted for every QUERY marker in Match.
	Query string
}

type structural string

const (
	Group   structural = "("
	Ungroup structural = ")"
	And     structural = "AND"
	Or      structural = "OR"
)

func (Condition) isToken()  {}
func (structural) isToken() {}

var reCondition = regexp.MustCompile(`^([\w_\.]+)\s+(!?=|<=?|>=?)\s+(\S*)$`)

// Parses a condition written as "field op match".
func ParseCondition(cond string, query string) (Condition, error) {
	cond = strings.TrimSpace(cond)
	m := reCondition.FindStringSubmatch(cond)
	if m == nil {
		return Condition{}, oops.New(ErrBadCondition, "illegal metaquery token %q", cond)
	}
	return Condition{
		Field: m[1],
		Op:    m[2],
		Match: m[3],
		Query: query,
	}, nil
}

// Turns the strings AND, OR, ( and ) into structural tokens; anything else
// is parsed as a condition.
func ParseToken(s string, query string) (Token, error) {
	switch strings.ToUpper(strings.TrimSpace(s)) {
	case "(":
		return Group, nil
	case ")":
		return Ungroup, nil
	case "AND":
		return And, nil
	case "OR":
		return Or, nil
	}
	return ParseCondition(s, query)
}

type Predicate struct {
	SQL  string
	Args []any
}

var reMatchMarkers = regexp.MustCompile(`\*|QUERY|NULL`)

/*
Compiles tokens into a predicate. The grammar alternates conditions and
AND/OR, with ( allowed wherever a condition is and ) allowed after a
condition while a group is open. An empty token list compiles to a predicate
that matches everything.
*/
func Compile(tokens []Token) (Predicate, error) {
	var sql strings.Builder
	var args []any

	expectCondition := true
	expectGroupStart := true
	expectGroupEnd := false
	expectCombine := false
	depth := 0

	for i, tok := range tokens {
		switch t := tok.(type) {
		case Condition:
			if !expectCondition {
				return Predicate{}, unexpected(i, "condition")
			}
			condSQL, arg, err := compileCondition(t)
			if err != nil {
				return Predicate{}, err
			}
			sql.WriteString(condSQL)
			if arg != nil {
				args = append(args, arg)
			}

			expectCondition = false
			expectGroupStart = false
			expectGroupEnd = depth > 0
			expectCombine = true

		case structural:
			switch {
			case t == Group && expectGroupStart:
				sql.WriteString("(")
				depth++

				expectCondition = true
				expectGroupStart = false
				expectGroupEnd = false
				expectCombine = false

			case t == Ungroup && expectGroupEnd:
				sql.WriteString(") ")
				depth--

				expectCondition = false
				expectGroupStart = false
				expectGroupEnd = depth > 0
				expectCombine = true

			case (t == And || t == Or) && expectCombine:
				sql.WriteString(string(t) + " ")

				expectCondition = true
				expectGroupStart = true
				expectGroupEnd = false
				expectCombine = false

			default:
				return Predicate{}, unexpected(i, string(t))
			}

		default:
			return Predicate{}, unexpected(i, fmt.Sprintf("%T", tok))
		}
	}

	if depth > 0 {
		return Predicate{}, oops.New(ErrUnclosedGroup, "%d group(s) left open", depth)
	}
	if expectCondition && len(tokens) > 0 {
		return Predicate{}, oops.New(ErrUnexpectedToken, "metaquery ends with a dangling combiner")
	}

	if sql.Len() == 0 {
		return Predicate{SQL: "1 = 1"}, nil
	}
	return Predicate{SQL: sql.String(), Args: args}, nil
}

func unexpected(idx int, what string) error {
	return oops.New(ErrUnexpectedToken, "unexpected %s at position %d", what, idx)
}

func compileCondition(c Condition) (string, any, error) {
	if !reCondition.MatchString(c.Field + " " + c.Op + " " + c.Match) {
		return "", nil, oops.New(ErrBadCondition, "illegal metaquery token %q", c.Field+" "+c.Op+" "+c.Match)
	}

	for _, part := range strings.Split(c.Field, ".") {
		if part == "" {
			return "", nil, oops.New(ErrBadCondition, "empty name in field %q", c.Field)
		}
	}
	field := quoteField(c.Field)

	if c.Match == "NULL" {
		switch c.Op {
		case "=":
			return field + " IS NULL ", nil, nil
		case "!=":
			return field + " IS NOT NULL ", nil, nil
		default:
			return "", nil, oops.New(ErrNullOperator, "operator %s", c.Op)
		}
	}

	var match strings.Builder
	isLike := false
	last := 0
	for _, loc := range reMatchMarkers.FindAllStringIndex(c.Match, -1) {
		match.WriteString(c.Match[last:loc[0]])
		switch c.Match[loc[0]:loc[1]] {
		case "*":
			isLike = true
			match.WriteString("%")
		case "QUERY":
			match.WriteString(c.Query)
		case "NULL":
			match.WriteString("NULL")
		}
		last = loc[1]
	}
	match.WriteString(c.Match[last:])

	op := c.Op
	if isLike {
		switch op {
		case "=":
			op = "LIKE"
		case "!=":
			op = "NOT LIKE"
		default:
			return "", nil, oops.New(ErrWildcardOperator, "wildcard match %q with operator %s", c.Match, c.Op)
		}
	}

	return fmt.Sprintf("%s %s $? ", field, op), match.String(), nil
}

// message.subject -> "message"."subject"
func quoteField(field string) string {
	parts := strings.Split(field, ".")
	for i, p := range parts {
		parts[i] = pq.QuoteIdentifier(p)
	}
	return strings.Join(parts, ".")
}
