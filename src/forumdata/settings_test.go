package forumdata

import (
	"context"
	"strings"
	"testing"

	"git.handmade.network/hmn/forumdb/src/config"
	"git.handmade.network/hmn/forumdb/src/db"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSettingsRoundTrip(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, s.UpdateSettings(ctx, Settings{
		"title":     "Handmade Forums",
		"languages": []any{"en", "de"},
	}))

	settings, err := s.LoadSettings(ctx)
	require.NoError(t, err)
	assert.Equal(t, "Handmade Forums", settings["title"])
	assert.Equal(t, []any{"en", "de"}, settings["languages"])

	// Overwriting switches the stored kind.
	require.NoError(t, s.UpdateSettings(ctx, Settings{"languages": "en"}))
	settings, err = s.LoadSettings(ctx)
	require.NoError(t, err)
	assert.Equal(t, "en", settings["languages"])
	assert.Len(t, settings, 2)

	assert.ErrorIs(t, s.UpdateSettings(ctx, Settings{}), ErrInvalidArgument)
}

func TestSettingsBeforeInstall(t *testing.T) {
	if testPostgres == nil {
		t.Skip("needs a postgres container")
	}
	ctx := context.Background()

	cfg := config.Default().Forum
	cfg.TablePrefix = "fresh" + strings.ReplaceAll(uuid.NewString(), "-", "")[:8]
	gw := db.NewGateway(*testPostgres)
	defer gw.Close(ctx)

	s, err := New(gw, cfg)
	require.NoError(t, err)
	settings, err := s.LoadSettings(ctx)
	require.NoError(t, err)
	assert.Empty(t, settings)
}
