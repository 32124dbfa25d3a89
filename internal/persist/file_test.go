package persist

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/inquire-x/reflective-chat/internal/model"
	"github.com/inquire-x/reflective-chat/internal/store"
)

func TestFilePersisterRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "data", "state.json")
	p, err := NewFilePersister(path)
	require.NoError(t, err)

	snap := &store.Snapshot{
		Conversations: []model.Conversation{
			{ID: "c1", Title: "hello", Messages: []model.Message{
				{ID: "m1", Role: model.RoleUser, Content: "hi"},
			}},
		},
		Settings: model.DefaultSettings(),
	}
	require.NoError(t, p.Save(snap))

	got, err := p.Load()
	require.NoError(t, err)
	require.NotNil(t, got)
	require.Equal(t, "c1", got.Conversations[0].ID)
	require.Equal(t, "hi", got.Conversations[0].Messages[0].Content)
	require.Equal(t, model.DefaultSettings().Model, got.Settings.Model)
}

func TestFilePersisterMissingFile(t *testing.T) {
	p, err := NewFilePersister(filepath.Join(t.TempDir(), "state.json"))
	require.NoError(t, err)

	got, err := p.Load()
	require.NoError(t, err)
	require.Nil(t, got)
}

func TestFilePersisterOverwrites(t *testing.T) {
	path := filepath.Join(t.TempDir(), "state.json")
	p, err := NewFilePersister(path)
	require.NoError(t, err)

	require.NoError(t, p.Save(&store.Snapshot{Settings: model.DefaultSettings()}))
	snap := &store.Snapshot{
		Conversations: []model.Conversation{{ID: "c2"}},
		Settings:      model.DefaultSettings(),
	}
	require.NoError(t, p.Save(snap))

	got, err := p.Load()
	require.NoError(t, err)
	require.Len(t, got.Conversations, 1)

	// No leftover temp file after the atomic replace.
	_, err = os.Stat(path + ".tmp")
	require.True(t, os.IsNotExist(err))
}

func TestFilePersisterCorruptBlob(t *testing.T) {
	path := filepath.Join(t.TempDir(), "state.json")
	require.NoError(t, os.WriteFile(path, []byte("{not json"), 0o600))

	p, err := NewFilePersister(path)
	require.NoError(t, err)

	_, err = p.Load()
	require.Error(t, err)
}
