package requests

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"promptgate/internal/core"
	"promptgate/internal/settings"
)

func ptr[T any](v T) *T { return &v }

func messageOf(t *testing.T, err error) string {
	t.Helper()
	var ce *core.Error
	require.ErrorAs(t, err, &ce)
	return ce.Message
}

// seedUser creates settings for a fresh user and returns them.
func seedUser(t *testing.T, store settings.Store) *core.UserSettings {
	t.Helper()
	s, err := store.Create(context.Background(),
		core.NewUserSettings("", "user-"+uuid.NewString(), &core.SettingsPatch{APIKey: ptr("sk-test")}))
	require.NoError(t, err)
	return s
}

func newRecord(userID, prompt string) *core.RequestRecord {
	return &core.RequestRecord{
		UserID: userID,
		Prompt: prompt,
		Model:  core.DefaultModel,
		Parameters: map[string]interface{}{
			"temperature": 0.7,
			"max_tokens":  float64(64),
		},
	}
}

// runStoreContract exercises behaviour every backend must share.
func runStoreContract(t *testing.T, store Store, users settings.Store) {
	t.Helper()
	ctx := context.Background()

	t.Run("CreateDefaultsAndRoundTrip", func(t *testing.T) {
		userID := seedUser(t, users).ID

		created, err := store.Create(ctx, newRecord(userID, "Say hi"))
		require.NoError(t, err)
		assert.NotEmpty(t, created.ID)
		assert.Equal(t, core.StatusPending, created.Status)
		assert.False(t, created.CreatedAt.IsZero())

		got, err := store.Get(ctx, created.ID)
		require.NoError(t, err)
		assert.Equal(t, created.ID, got.ID)
		assert.Equal(t, userID, got.UserID)
		assert.Equal(t, "Say hi", got.Prompt)
		assert.Equal(t, created.Parameters, got.Parameters)
		assert.Nil(t, got.Response)
		assert.True(t, created.CreatedAt.Equal(got.CreatedAt))
	})

	t.Run("UpdateMovesToSuccess", func(t *testing.T) {
		userID := seedUser(t, users).ID
		created, err := store.Create(ctx, newRecord(userID, "Tell a joke"))
		require.NoError(t, err)

		updated, err := store.Update(ctx, created.ID, &core.RecordPatch{
			Status:   ptr(core.StatusSuccess),
			Response: map[string]interface{}{"text": "Why did the gopher..."},
		})
		require.NoError(t, err)
		assert.Equal(t, core.StatusSuccess, updated.Status)
		assert.Equal(t, "Tell a joke", updated.Prompt)

		got, err := store.Get(ctx, created.ID)
		require.NoError(t, err)
		assert.Equal(t, core.StatusSuccess, got.Status)
		assert.Equal(t, "Why did the gopher...", got.Response["text"])
		assert.Equal(t, created.Parameters, got.Parameters)
	})

	t.Run("DeleteThenGetNotFound", func(t *testing.T) {
		userID := seedUser(t, users).ID
		created, err := store.Create(ctx, newRecord(userID, "bye"))
		require.NoError(t, err)

		require.NoError(t, store.Delete(ctx, created.ID))

		_, err = store.Get(ctx, created.ID)
		assert.True(t, core.IsNotFound(err))
		assert.Equal(t, "Request not found", messageOf(t, err))

		err = store.Delete(ctx, created.ID)
		assert.True(t, core.IsNotFound(err))

		_, err = store.Update(ctx, created.ID, &core.RecordPatch{Status: ptr(core.StatusError)})
		assert.True(t, core.IsNotFound(err))
	})

	t.Run("UnknownUserRejected", func(t *testing.T) {
		_, err := store.Create(ctx, newRecord("no-such-settings-id", "orphan"))
		require.Error(t, err)
		assert.Equal(t, core.KindPersistence, core.KindOf(err))
		assert.Equal(t, "Failed to create request.", messageOf(t, err))
	})

	t.Run("EmptyPromptRejected", func(t *testing.T) {
		userID := seedUser(t, users).ID
		_, err := store.Create(ctx, newRecord(userID, "   "))
		assert.Equal(t, core.KindPersistence, core.KindOf(err))
	})

	t.Run("DuplicateIDRejected", func(t *testing.T) {
		userID := seedUser(t, users).ID
		rec := newRecord(userID, "first")
		rec.ID = uuid.NewString()
		_, err := store.Create(ctx, rec)
		require.NoError(t, err)

		dup := newRecord(userID, "second")
		dup.ID = rec.ID
		_, err = store.Create(ctx, dup)
		assert.Equal(t, core.KindPersistence, core.KindOf(err))

		got, err := store.Get(ctx, rec.ID)
		require.NoError(t, err)
		assert.Equal(t, "first", got.Prompt)
	})

	t.Run("ListByUserNewestFirst", func(t *testing.T) {
		userID := seedUser(t, users).ID
		other := seedUser(t, users).ID
		base := time.Now().UTC().Add(-time.Hour)
		for i, prompt := range []string{"one", "two", "three"} {
			rec := newRecord(userID, prompt)
			rec.CreatedAt = base.Add(time.Duration(i) * time.Minute)
			_, err := store.Create(ctx, rec)
			require.NoError(t, err)
		}
		_, err := store.Create(ctx, newRecord(other, "not mine"))
		require.NoError(t, err)

		items, err := store.ListByUser(ctx, userID, 0)
		require.NoError(t, err)
		require.Len(t, items, 3)
		assert.Equal(t, "three", items[0].Prompt)
		assert.Equal(t, "one", items[2].Prompt)

		limited, err := store.ListByUser(ctx, userID, 2)
		require.NoError(t, err)
		assert.Len(t, limited, 2)
	})

	t.Run("DeletingSettingsRemovesRecords", func(t *testing.T) {
		owner := seedUser(t, users)
		created, err := store.Create(ctx, newRecord(owner.ID, "ephemeral"))
		require.NoError(t, err)

		require.NoError(t, users.Delete(ctx, owner.UserID))

		_, err = store.Get(ctx, created.ID)
		assert.True(t, core.IsNotFound(err))
	})
}
