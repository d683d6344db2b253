package metaquery

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func cond(t *testing.T, s string, query string) Condition {
	t.Helper()
	c, err := ParseCondition(s, query)
	require.Nil(t, err)
	return c
}

func TestCompileEmpty(t *testing.T) {
	p, err := Compile(nil)
	require.Nil(t, err)
	assert.Equal(t, "1 = 1", p.SQL)
	assert.Empty(t, p.Args)
}

func TestCompileCombined(t *testing.T) {
	p, err := Compile([]Token{
		cond(t, "message.forum_id = 3", ""),
		And,
		cond(t, "message.status != 2", ""),
	})
	require.Nil(t, err)
	assert.Equal(t, `"message"."forum_id" = $? AND "message"."status" != $? `, p.SQL)
	assert.Equal(t, []any{"3", "2"}, p.Args)
}

func TestCompileGroups(t *testing.T) {
	p, err := Compile([]Token{
		cond(t, "message.subject = *QUERY*", "spam"),
		And,
		Group,
		cond(t, "user.username = casey", ""),
		Or,
		cond(t, "user.username = martins", ""),
		Ungroup,
	})
	require.Nil(t, err)
	assert.Equal(t, `"message"."subject" LIKE $? AND ("user"."username" = $? OR "user"."username" = $? ) `, p.SQL)
	assert.Equal(t, []any{"%spam%", "casey", "martins"}, p.Args)
}

func TestCompileNestedGroups(t *testing.T) {
	p, err := Compile([]Token{
		Group,
		Group,
		cond(t, "a = 1", ""),
		Ungroup,
		Or,
		cond(t, "b = 2", ""),
		Ungroup,
	})
	require.Nil(t, err)
	assert.Equal(t, `(("a" = $? ) OR "b" = $? ) `, p.SQL)
}

func TestCompileQueryIsBoundNotInterpolated(t *testing.T) {
	p, err := Compile([]Token{cond(t, "message.author = QUERY", "o'brien; DROP TABLE x")})
	require.Nil(t, err)
	assert.Equal(t, `"message"."author" = $? `, p.SQL)
	assert.Equal(t, []any{"o'brien; DROP TABLE x"}, p.Args)
}

func TestCompileNull(t *testing.T) {
	p, err := Compile([]Token{cond(t, "thread.closed != NULL", "")})
	require.Nil(t, err)
	assert.Equal(t, `"thread"."closed" IS NOT NULL `, p.SQL)
	assert.Empty(t, p.Args)

	_, err = Compile([]Token{cond(t, "thread.closed < NULL", "")})
	assert.ErrorIs(t, err, ErrNullOperator)
}

func TestCompileErrors(t *testing.T) {
	t.Run("unclosed group", func(t *testing.T) {
		_, err := Compile([]Token{Group, cond(t, "a = 1", "")})
		assert.ErrorIs(t, err, ErrUnclosedGroup)
	})
	t.Run("wildcard with inequality", func(t *testing.T) {
		_, err := Compile([]Token{cond(t, "message.subject < abc*", "")})
		assert.ErrorIs(t, err, ErrWildcardOperator)
	})
	t.Run("close without open", func(t *testing.T) {
		_, err := Compile([]Token{cond(t, "a = 1", ""), Ungroup})
		assert.ErrorIs(t, err, ErrUnexpectedToken)
	})
	t.Run("two conditions in a row", func(t *testing.T) {
		_, err := Compile([]Token{cond(t, "a = 1", ""), cond(t, "b = 1", "")})
		assert.ErrorIs(t, err, ErrUnexpectedToken)
	})
	t.Run("leading combiner", func(t *testing.T) {
		_, err := Compile([]Token{Or, cond(t, "a = 1", "")})
		assert.ErrorIs(t, err, ErrUnexpectedToken)
	})
	t.Run("trailing combiner", func(t *testing.T) {
		_, err := Compile([]Token{cond(t, "a = 1", ""), And})
		assert.ErrorIs(t, err, ErrUnexpectedToken)
	})
	t.Run("bad condition struct", func(t *testing.T) {
		_, err := Compile([]Token{Condition{Field: "a; DROP", Op: "=", Match: "1"}})
		assert.ErrorIs(t, err, ErrBadCondition)
	})
	t.Run("empty field part", func(t *testing.T) {
		_, err := Compile([]Token{Condition{Field: "message..id", Op: "=", Match: "1"}})
		assert.ErrorIs(t, err, ErrBadCondition)
	})
}

func TestParseCondition(t *testing.T) {
	c, err := ParseCondition("  message.datestamp <= 2024-01-01 ", "")
	require.Nil(t, err)
	assert.Equal(t, Condition{Field: "message.datestamp", Op: "<=", Match: "2024-01-01"}, c)

	for _, bad := range []string{"", "subject", "subject == x", "subject = two words", "sub-ject = x"} {
		_, err := ParseCondition(bad, "")
		assert.ErrorIs(t, err, ErrBadCondition, bad)
	}
}

func TestParseToken(t *testing.T) {
	tok, err := ParseToken("and", "")
	require.Nil(t, err)
	assert.Equal(t, And, tok)

	tok, err = ParseToken("(", "")
	require.Nil(t, err)
	assert.Equal(t, Group, tok)

	tok, err = ParseToken("a = 1", "")
	require.Nil(t, err)
	assert.IsType(t, Condition{}, tok)
}
