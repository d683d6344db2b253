package db

import (
	"reflect"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPaths(t *testing.T) {
	type CustomInt int
	type S struct {
		I   int        `db:"I"`
		PI  *int       `db:"PI"`
		CI  CustomInt  `db:"CI"`
		PCI *CustomInt `db:"PCI"`
		B   bool       `db:"B"`
		PB  *bool      `db:"PB"`

		NoTag int
	}
	type Nested struct {
		S  S  `db:"S"`
		PS *S `db:"PS"`

		NoTag S
	}

	names, paths := getColumnNamesAndPaths(reflect.TypeOf(Nested{}), nil, nil)

	var joined []string
	for _, n := range names {
		joined = append(joined, strings.Join(n, "."))
	}
	assert.Equal(t, []string{
		"S.I", "S.PI",
		"S.CI", "S.PCI",
		"S.B", "S.PB",
		"PS.I", "PS.PI",
		"PS.CI", "PS.PCI",
		"PS.B", "PS.PB",
	}, joined)

	var rawPaths [][]int
	for _, p := range paths {
		rawPaths = append(rawPaths, []int(p))
	}
	assert.Equal(t, [][]int{
		{0, 0}, {0, 1}, {0, 2}, {0, 3}, {0, 4}, {0, 5},
		{1, 0}, {1, 1}, {1, 2}, {1, 3}, {1, 4}, {1, 5},
	}, rawPaths)

	testStruct := Nested{}
	for i, path := range paths {
		val, field := followPathThroughStructs(reflect.ValueOf(&testStruct), path)
		assert.True(t, val.IsValid())
		assert.True(t, strings.Contains(joined[i], field.Name))
	}
}

func TestCompileQuery(t *testing.T) {
	type Forum struct {
		ID   int    `db:"forum_id"`
		Name string `db:"name"`
	}

	t.Run("no placeholder", func(t *testing.T) {
		c := compileQuery("SELECT forum_id FROM f", reflect.TypeOf(0))
		assert.Equal(t, "SELECT forum_id FROM f", c.query)
		assert.Nil(t, c.fieldPaths)
	})
	t.Run("columns", func(t *testing.T) {
		c := compileQuery("SELECT $columns FROM f", reflect.TypeOf(Forum{}))
		assert.Equal(t, "SELECT forum_id, name FROM f", c.query)
		assert.Len(t, c.fieldPaths, 2)
	})
	t.Run("prefixed columns", func(t *testing.T) {
		c := compileQuery("SELECT $columns{forum} FROM f AS forum", reflect.TypeOf(Forum{}))
		assert.Equal(t, "SELECT forum.forum_id, forum.name FROM f AS forum", c.query)
	})
	t.Run("columns into a scalar", func(t *testing.T) {
		assert.Panics(t, func() {
			compileQuery("SELECT $columns FROM f", reflect.TypeOf(0))
		})
	})
}

func TestTypeIsQueryable(t *testing.T) {
	type Status int
	type Thing struct{ A int }

	assert.True(t, typeIsQueryable(reflect.TypeOf(0)))
	assert.True(t, typeIsQueryable(reflect.TypeOf("")))
	assert.True(t, typeIsQueryable(reflect.TypeOf(Status(0))))
	assert.True(t, typeIsQueryable(reflect.TypeOf([]byte(nil))))
	assert.False(t, typeIsQueryable(reflect.TypeOf(Thing{})))
}

func TestSetValueFromDB(t *testing.T) {
	type Status int

	var s Status
	setValueFromDB(reflect.ValueOf(&s).Elem(), reflect.ValueOf(int32(-2)))
	assert.Equal(t, Status(-2), s)

	var i int
	setValueFromDB(reflect.ValueOf(&i).Elem(), reflect.ValueOf(int64(42)))
	assert.Equal(t, 42, i)

	type Name string
	var n Name
	setValueFromDB(reflect.ValueOf(&n).Elem(), reflect.ValueOf("casey"))
	require.Equal(t, Name("casey"), n)
}
