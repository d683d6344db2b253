package db

import (
	"errors"
	"strings"

	"git.handmade.network/hmn/forumdb/src/oops"
	"github.com/google/uuid"
	"github.com/lib/pq"
)

var ErrInvalidPrefix = errors.New("invalid table prefix")

/*
The table namespace of one installation. Every table is named
<prefix>_<suffix>; the fields hold the quoted names, ready to interpolate.
*/
type Tables struct {
	Prefix string

	Messages         string
	Search           string
	Forums           string
	Users            string
	UserPermissions  string
	Groups           string
	ForumGroupXref   string
	UserGroupXref    string
	UserCustomFields string
	UserNewflags     string
	Subscribers      string
	Files            string
	Settings         string
	Banlists         string
	PMMessages       string
	PMFolders        string
	PMXref           string
	PMBuddies        string

	expander *strings.Replacer
}

func NewTables(prefix string) (Tables, error) {
	if !ValidateFieldName(prefix) {
		return Tables{}, oops.New(ErrInvalidPrefix, "prefix %q", prefix)
	}

	var pairs []string
	name := func(suffix string) string {
		quoted := pq.QuoteIdentifier(prefix + "_" + suffix)
		pairs = append(pairs, "{"+suffix+"}", quoted)
		return quoted
	}

	t := Tables{
		Prefix: prefix,

		Messages:         name("messages"),
		Search:           name("search"),
		Forums:           name("forums"),
		Users:            name("users"),
		UserPermissions:  name("user_permissions"),
		Groups:           name("groups"),
		ForumGroupXref:   name("forum_group_xref"),
		UserGroupXref:    name("user_group_xref"),
		UserCustomFields: name("user_custom_fields"),
		UserNewflags:     name("user_newflags"),
		Subscribers:      name("subscribers"),
		Files:            name("files"),
		Settings:         name("settings"),
		Banlists:         name("banlists"),
		PMMessages:       name("pm_messages"),
		PMFolders:        name("pm_folders"),
		PMXref:           name("pm_xref"),
		PMBuddies:        name("pm_buddies"),
	}
	t.expander = strings.NewReplacer(pairs...)
	return t, nil
}

/*
Replaces table placeholders such as {messages} or {user_newflags} with the
quoted table names. Aliases passed to $columns{...} must therefore never be
spelled like a table suffix.
*/
func (t Tables) Expand(sql string) string {
	if t.expander == nil {
		return sql
	}
	return t.expander.Replace(sql)
}

/*
Names a disposable table, e.g. for one search's intermediate results. These
are session TEMPORARY tables, so they need no installation prefix; the name
stays well inside the 63 byte identifier limit whatever the kind.
*/
func TempTable(kind string) string {
	id := strings.ReplaceAll(uuid.NewString(), "-", "")[:16]
	return pq.QuoteIdentifier("tmp_search_" + kind + "_" + id)
}
