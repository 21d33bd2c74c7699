package db

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/banachtech/riskcube/util"
	"github.com/stretchr/testify/require"
)

func TestMemStore(t *testing.T) {
	ctx := context.Background()
	store := NewMemStore()

	_, err := store.GetAPIKey(ctx, "abcdefgh")
	require.ErrorIs(t, err, ErrNotFound)
	store.AddAPIKey(APIKey{Prefix: "abcdefgh", Token: "hash"})
	k, err := store.GetAPIKey(ctx, "abcdefgh")
	require.NoError(t, err)
	require.Equal(t, "hash", k.Token)

	now := time.Date(2025, 1, 2, 12, 0, 0, 0, time.UTC)
	for i, id := range []string{"r1", "r2", "r3"} {
		run := Run{ID: id, Status: RunSucceeded, Cube: []byte("cube"), CreatedAt: now.Add(time.Duration(i) * time.Minute)}
		require.NoError(t, store.SaveRun(ctx, run))
	}
	require.Error(t, store.SaveRun(ctx, Run{ID: "r1"}))

	r, err := store.GetRun(ctx, "r2")
	require.NoError(t, err)
	require.Equal(t, []byte("cube"), r.Cube)
	_, err = store.GetRun(ctx, "missing")
	require.ErrorIs(t, err, ErrNotFound)

	runs, err := store.ListRuns(ctx, 2)
	require.NoError(t, err)
	require.Len(t, runs, 2)
	require.Equal(t, "r3", runs[0].ID)
	require.Equal(t, "r2", runs[1].ID)
	require.Nil(t, runs[0].Cube)
}

func TestSQLStore(t *testing.T) {
	dsn := os.Getenv("RISKCUBE_TEST_DSN")
	if dsn == "" {
		t.Skip("RISKCUBE_TEST_DSN not set")
	}
	ctx := context.Background()
	store, err := Open(ctx, dsn)
	require.NoError(t, err)
	defer store.Close()

	prefix := util.RandomString(8)
	key := APIKey{
		Prefix:       prefix,
		Token:        util.RandomString(20),
		EmailAddress: "test@example.com",
		GeneratedAt:  time.Now().UTC().Truncate(time.Second),
		ExpiredAt:    time.Now().UTC().Add(24 * time.Hour).Truncate(time.Second),
	}
	require.NoError(t, store.InsertAPIKey(ctx, key))
	got, err := store.GetAPIKey(ctx, prefix)
	require.NoError(t, err)
	require.Equal(t, key.Token, got.Token)
	require.WithinDuration(t, key.ExpiredAt, got.ExpiredAt, time.Second)

	run := Run{
		ID:        util.RandomString(12),
		Asof:      time.Date(2025, 1, 2, 0, 0, 0, 0, time.UTC),
		Status:    RunSucceeded,
		Summary:   []byte(`{"trades":1}`),
		Cube:      []byte("#Id,NettingSet,DateIndex,Date,Sample,Depth,Value\n"),
		CreatedAt: time.Now().UTC(),
	}
	require.NoError(t, store.SaveRun(ctx, run))
	stored, err := store.GetRun(ctx, run.ID)
	require.NoError(t, err)
	require.Equal(t, run.Cube, stored.Cube)
	require.Equal(t, RunSucceeded, stored.Status)
	require.JSONEq(t, string(run.Summary), string(stored.Summary))

	// the duplicate insert rolls back, leaving the first run in place
	require.Error(t, store.SaveRun(ctx, run))
	_, err = store.GetRun(ctx, util.RandomString(12))
	require.ErrorIs(t, err, ErrNotFound)

	runs, err := store.ListRuns(ctx, 5)
	require.NoError(t, err)
	require.NotEmpty(t, runs)
}
