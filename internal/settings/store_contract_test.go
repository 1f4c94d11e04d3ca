package settings

import (
	"context"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"promptgate/internal/core"
)

func ptr[T any](v T) *T { return &v }

func messageOf(t *testing.T, err error) string {
	t.Helper()
	var ce *core.Error
	require.ErrorAs(t, err, &ce)
	return ce.Message
}

// runStoreContract exercises behaviour every backend must share.
func runStoreContract(t *testing.T, store Store) {
	t.Helper()
	ctx := context.Background()

	t.Run("RoundTrip", func(t *testing.T) {
		userID := "user-" + uuid.NewString()
		in := core.NewUserSettings("", userID, &core.SettingsPatch{APIKey: ptr("sk-test-1234")})

		created, err := store.Create(ctx, in)
		require.NoError(t, err)
		assert.NotEmpty(t, created.ID)

		got, err := store.Get(ctx, userID)
		require.NoError(t, err)
		assert.Equal(t, created, got)
		assert.Equal(t, core.DefaultModel, got.PreferredModel)
		assert.False(t, got.IsCacheEnabled)
		assert.Equal(t, core.DefaultCacheExpirationTime, got.CacheExpirationTime)
	})

	t.Run("PartialUpdate", func(t *testing.T) {
		userID := "user-" + uuid.NewString()
		_, err := store.Create(ctx, core.NewUserSettings("", userID, &core.SettingsPatch{
			APIKey:         ptr("sk-original"),
			PreferredModel: ptr("gpt-3.5-turbo-instruct"),
		}))
		require.NoError(t, err)

		updated, err := store.Update(ctx, userID, &core.SettingsPatch{
			IsCacheEnabled:      ptr(true),
			CacheExpirationTime: ptr(60),
		})
		require.NoError(t, err)
		assert.Equal(t, "sk-original", updated.APIKey)
		assert.Equal(t, "gpt-3.5-turbo-instruct", updated.PreferredModel)
		assert.True(t, updated.IsCacheEnabled)
		assert.Equal(t, 60, updated.CacheExpirationTime)

		got, err := store.Get(ctx, userID)
		require.NoError(t, err)
		assert.Equal(t, updated, got)
	})

	t.Run("DeleteThenGetNotFound", func(t *testing.T) {
		userID := "user-" + uuid.NewString()
		_, err := store.Create(ctx, core.NewUserSettings("", userID, &core.SettingsPatch{APIKey: ptr("sk-x")}))
		require.NoError(t, err)

		require.NoError(t, store.Delete(ctx, userID))

		_, err = store.Get(ctx, userID)
		require.Error(t, err)
		assert.Equal(t, core.KindNotFound, core.KindOf(err))
		assert.Equal(t, "Settings not found", messageOf(t, err))
	})

	t.Run("MissingUser", func(t *testing.T) {
		userID := "missing-" + uuid.NewString()

		_, err := store.Get(ctx, userID)
		assert.True(t, core.IsNotFound(err))

		_, err = store.Update(ctx, userID, &core.SettingsPatch{IsCacheEnabled: ptr(true)})
		assert.True(t, core.IsNotFound(err))

		err = store.Delete(ctx, userID)
		assert.True(t, core.IsNotFound(err))
	})

	t.Run("DuplicateCreateRejected", func(t *testing.T) {
		userID := "user-" + uuid.NewString()
		first, err := store.Create(ctx, core.NewUserSettings("", userID, &core.SettingsPatch{APIKey: ptr("sk-first")}))
		require.NoError(t, err)

		_, err = store.Create(ctx, core.NewUserSettings("", userID, &core.SettingsPatch{APIKey: ptr("sk-second")}))
		require.Error(t, err)
		assert.Equal(t, core.KindPersistence, core.KindOf(err))
		assert.Equal(t, "Failed to create settings.", messageOf(t, err))

		got, err := store.Get(ctx, userID)
		require.NoError(t, err)
		assert.Equal(t, first.ID, got.ID)
		assert.Equal(t, "sk-first", got.APIKey)
	})
}
