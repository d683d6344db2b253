package db

import (
	"context"
	"regexp"
	"sort"

	"git.handmade.network/hmn/forumdb/src/logging"
)

var reFieldName = regexp.MustCompile(`^[A-Za-z0-9_]+$`)

// Reports whether name is safe to interpolate into SQL as a column name.
func ValidateFieldName(name string) bool {
	return reFieldName.MatchString(name)
}

type Field struct {
	Name  string
	Value any
}

/*
Turns a column→value map into a list of fields suitable for the QueryBuilder
assignment helpers. Names that fail ValidateFieldName are dropped, not
rejected; callers that need to know should validate first. The result is
sorted by name so generated SQL is stable.
*/
func FilterFields(ctx context.Context, values map[string]any) []Field {
	fields := make([]Field, 0, len(values))
	for name, value := range values {
		if !ValidateFieldName(name) {
			logging.ExtractLogger(ctx).Debug().Str("field", name).Msg("dropping invalid field name")
			continue
		}
		fields = append(fields, Field{Name: name, Value: value})
	}
	sort.Slice(fields, func(i, j int) bool { return fields[i].Name < fields[j].Name })
	return fields
}
