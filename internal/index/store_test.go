package index_test

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/spellruntime/spell/internal/index"
	"github.com/spellruntime/spell/internal/receipt"
)

func TestFileStorePutGet(t *testing.T) {
	home := t.TempDir()
	store, err := index.NewFileStore(home)
	require.NoError(t, err)

	rec := &index.Record{
		ExecutionID: "20260101T000000Z_acme__demo_1.0.0",
		ButtonID:    "deploy", SpellID: "acme/demo", TenantID: "acme",
		Status: index.StatusSucceeded, Receipt: &receipt.Receipt{Success: true},
	}
	require.NoError(t, store.Put(rec))

	got, ok, err := store.Get(rec.ExecutionID)
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, "deploy", got.ButtonID)

	_, err = os.Stat(filepath.Join(home, "logs", "index.json"))
	require.NoError(t, err)
}

func TestFileStoreSurvivesRestart(t *testing.T) {
	home := t.TempDir()
	store, err := index.NewFileStore(home)
	require.NoError(t, err)
	require.NoError(t, store.Put(&index.Record{ExecutionID: "e1", Status: index.StatusSucceeded}))

	reopened, err := index.NewFileStore(home)
	require.NoError(t, err)
	_, ok, err := reopened.Get("e1")
	require.NoError(t, err)
	require.True(t, ok)
}

func TestFileStoreIdempotencyLookup(t *testing.T) {
	home := t.TempDir()
	store, err := index.NewFileStore(home)
	require.NoError(t, err)
	require.NoError(t, store.Put(&index.Record{
		ExecutionID: "e1", TenantID: "acme", IdempotencyKey: "k1", Status: index.StatusQueued,
	}))

	got, ok, err := store.FindByIdempotencyKey("acme", "k1")
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, "e1", got.ExecutionID)

	_, ok, err = store.FindByIdempotencyKey("other-tenant", "k1")
	require.NoError(t, err)
	require.False(t, ok)
}

func TestFileStorePruneByMaxFiles(t *testing.T) {
	home := t.TempDir()
	store, err := index.NewFileStore(home)
	require.NoError(t, err)

	now := time.Now().UTC()
	for i := 0; i < 5; i++ {
		rec := &index.Record{ExecutionID: string(rune('a' + i)), Status: index.StatusSucceeded}
		require.NoError(t, store.Put(rec))
		rec.CreatedAt = now.Add(time.Duration(i) * time.Minute)
	}
	require.NoError(t, store.Prune(2, 0))

	list, err := store.List(index.Filter{})
	require.NoError(t, err)
	require.Len(t, list, 2)
}
