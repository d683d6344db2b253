package forumdata

import (
	"context"

	"git.handmade.network/hmn/forumdb/src/db"
	"git.handmade.network/hmn/forumdb/src/models"
	"git.handmade.network/hmn/forumdb/src/oops"
)

/*
Fetches the ban items that apply to a forum: its own, the global ones
(forum 0), and with vroot > 0 those of its virtual root. With ordered set,
items within a type are sorted by their string.
*/
func (s *Store) GetBanlists(ctx context.Context, forumID, vroot int, ordered bool) map[models.BanType][]*models.BanItem {
	forums := []int{0, forumID}
	if vroot > 0 {
		forums = append(forums, vroot)
	}

	var qb db.QueryBuilder
	qb.Add(
		`
		---- Fetch ban lists
		SELECT $columns
		FROM {banlists}
		WHERE forum_id = ANY($?)
		`,
		forums,
	)
	if ordered {
		qb.Add(`ORDER BY type, string`)
	} else {
		qb.Add(`ORDER BY id`)
	}

	sql, args := s.sql(&qb)
	items, err := db.Query[models.BanItem](ctx, s.gw, sql, args...)
	if err != nil {
		panic(oops.New(err, "failed to fetch ban lists"))
	}

	result := make(map[models.BanType][]*models.BanItem)
	for _, item := range items {
		result[item.Type] = append(result[item.Type], item)
	}
	return result
}

func (s *Store) GetBanItem(ctx context.Context, id int) (*models.BanItem, error) {
	var qb db.QueryBuilder
	qb.Add(
		`
		---- Fetch ban item
		SELECT $columns FROM {banlists} WHERE id = $?
		`,
		id,
	)
	sql, args := s.sql(&qb)
	item, err := db.QueryOne[models.BanItem](ctx, s.gw, sql, args...)
	if err != nil {
		return nil, oops.New(ErrNotFound, "no ban item with id %d", id)
	}
	return item, nil
}

// Inserts the item, or updates it when it has an id. Returns the item's id.
func (s *Store) SaveBanItem(ctx context.Context, item models.BanItem) (int, error) {
	if item.String == "" {
		return 0, oops.New(ErrInvalidArgument, "empty ban item")
	}

	if item.ID > 0 {
		n := s.exec(ctx,
			`
			---- Update ban item
			UPDATE {banlists}
			SET forum_id = $1, type = $2, pcre = $3, string = $4, comments = $5
			WHERE id = $6
			`,
			item.ForumID, item.Type, item.Pcre, item.String, item.Comments, item.ID,
		)
		if n == 0 {
			return 0, oops.New(ErrNotFound, "no ban item with id %d", item.ID)
		}
		return item.ID, nil
	}

	var qb db.QueryBuilder
	qb.Add(
		`
		---- Add ban item
		INSERT INTO {banlists} (forum_id, type, pcre, string, comments)
		VALUES ($?, $?, $?, $?, $?)
		`,
		item.ForumID, item.Type, item.Pcre, item.String, item.Comments,
	)
	return s.insertReturningID(ctx, &qb), nil
}

func (s *Store) DeleteBanItem(ctx context.Context, id int) bool {
	return s.exec(ctx, `
		---- Delete ban item
		DELETE FROM {banlists} WHERE id = $1
	`, id) > 0
}
