package forumdata

import (
	"context"
	"errors"
	"sort"

	"git.handmade.network/hmn/forumdb/src/blob"
	"git.handmade.network/hmn/forumdb/src/db"
	"git.handmade.network/hmn/forumdb/src/logging"
	"git.handmade.network/hmn/forumdb/src/oops"
)

// Installation-wide settings by name. Strings are stored as plain text,
// anything else as an encoded payload.
type Settings map[string]any

const (
	settingValue      = "V"
	settingSerialized = "S"
)

/*
Loads every setting. A database without a settings table (not installed
yet) yields empty settings rather than an error.
*/
func (s *Store) LoadSettings(ctx context.Context) (Settings, error) {
	res, err := s.gw.Execute(ctx, db.ModeRows,
		db.SQL(s.tables.Expand(`
			---- Load settings
			SELECT name, type, data FROM {settings}
		`)),
		db.WithFlags(db.MissingTableOK),
	)
	if errors.Is(err, db.ErrMissingTable) {
		return Settings{}, nil
	} else if err != nil {
		return nil, err
	}

	settings := make(Settings, len(res.Rows))
	for _, row := range res.Rows {
		name := asString(row[0])
		data, _ := row[2].([]byte)
		if asString(row[1]) == settingSerialized {
			payload, err := blob.Decode(data)
			if err != nil {
				logging.ExtractLogger(ctx).Warn().Err(err).Str("setting", name).Msg("unreadable setting")
				continue
			}
			settings[name] = payload["value"]
		} else {
			settings[name] = string(data)
		}
	}
	return settings, nil
}

func (s *Store) UpdateSettings(ctx context.Context, settings Settings) error {
	if len(settings) == 0 {
		return oops.New(ErrInvalidArgument, "no settings to update")
	}

	names := make([]string, 0, len(settings))
	for name := range settings {
		names = append(names, name)
	}
	sort.Strings(names)

	for _, name := range names {
		kind := settingValue
		var data []byte
		if str, ok := settings[name].(string); ok {
			data = []byte(str)
		} else {
			kind = settingSerialized
			encoded, err := blob.Encode(blob.Payload{"value": settings[name]})
			if err != nil {
				return oops.New(err, "failed to encode setting %s", name)
			}
			data = encoded
		}

		s.exec(ctx,
			`
			---- Save setting
			INSERT INTO {settings} (name, type, data)
			VALUES ($1, $2, $3)
			ON CONFLICT (name) DO UPDATE SET type = EXCLUDED.type, data = EXCLUDED.data
			`,
			name, kind, data,
		)
	}
	return nil
}
