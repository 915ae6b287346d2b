package userstate

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func newTestPebbleStore(t *testing.T) *PebbleStore {
	t.Helper()
	s, err := OpenPebbleStore(t.TempDir())
	require.NoError(t, err)
	t.Cleanup(func() {
		require.NoError(t, s.Close())
	})
	return s
}

func TestPebbleStoreUserRoundTrip(t *testing.T) {
	s := newTestPebbleStore(t)
	ctx := context.Background()

	in := User{
		ID:           201,
		Nickname:     "Bob",
		RegisteredAt: time.Date(2026, 4, 2, 9, 0, 0, 0, time.UTC),
		Status:       StatusVerified,
	}
	require.NoError(t, s.PutUser(ctx, in))

	got, ok, err := s.GetUser(ctx, 201)
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, in, got)

	_, ok, err = s.GetUser(ctx, 404)
	require.NoError(t, err)
	require.False(t, ok)
}

func TestPebbleStoreListUsersOrdered(t *testing.T) {
	s := newTestPebbleStore(t)
	ctx := context.Background()
	now := time.Now().UTC()

	for _, id := range []int64{30, 10, 20} {
		require.NoError(t, s.PutUser(ctx, User{ID: id, Status: StatusUnverified, RegisteredAt: now}))
	}

	users, err := s.ListUsers(ctx)
	require.NoError(t, err)
	require.Len(t, users, 3)
	require.Equal(t, int64(10), users[0].ID)
	require.Equal(t, int64(20), users[1].ID)
	require.Equal(t, int64(30), users[2].ID)
}

func TestPebbleStoreListBlocked(t *testing.T) {
	s := newTestPebbleStore(t)
	ctx := context.Background()
	now := time.Now().UTC()

	require.NoError(t, s.PutUser(ctx, User{ID: 1, Status: StatusVerified, RegisteredAt: now}))
	require.NoError(t, s.PutUser(ctx, User{ID: 2, Blocked: true, BlockReason: "abuse", Status: StatusUnverified, RegisteredAt: now}))

	blocked, err := s.ListBlocked(ctx)
	require.NoError(t, err)
	require.Len(t, blocked, 1)
	require.Equal(t, int64(2), blocked[0].ID)
	require.Equal(t, "abuse", blocked[0].BlockReason)
}

func TestPebbleStoreUpdateUser(t *testing.T) {
	s := newTestPebbleStore(t)
	ctx := context.Background()

	require.NoError(t, s.PutUser(ctx, User{ID: 9, Status: StatusChallenged, Attempts: 1, RegisteredAt: time.Now().UTC()}))

	updated, ok, err := s.UpdateUser(ctx, 9, func(cur User) User {
		cur.Attempts++
		return cur
	})
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, 2, updated.Attempts)

	got, ok, err := s.GetUser(ctx, 9)
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, 2, got.Attempts)

	_, ok, err = s.UpdateUser(ctx, 404, func(cur User) User { return cur })
	require.NoError(t, err)
	require.False(t, ok)
}

func TestPebbleStoreUpdateSettings(t *testing.T) {
	s := newTestPebbleStore(t)
	ctx := context.Background()

	updated, err := s.UpdateSettings(ctx, func(cur Settings) Settings {
		cur.Difficulty = 3
		cur.CurrentTarget = 55
		return cur
	})
	require.NoError(t, err)
	require.Equal(t, 3, updated.Difficulty)

	got, err := s.GetSettings(ctx)
	require.NoError(t, err)
	require.Equal(t, updated, got)
}

func TestPebbleStoreSettingsAndReset(t *testing.T) {
	s := newTestPebbleStore(t)
	ctx := context.Background()

	settings, err := s.GetSettings(ctx)
	require.NoError(t, err)
	require.Equal(t, DefaultSettings(), settings)

	in := Settings{VerificationEnabled: false, Difficulty: 3, CurrentTarget: 77}
	require.NoError(t, s.PutSettings(ctx, in))
	settings, err = s.GetSettings(ctx)
	require.NoError(t, err)
	require.Equal(t, in, settings)

	require.NoError(t, s.PutUser(ctx, User{ID: 77, Status: StatusVerified, RegisteredAt: time.Now().UTC()}))
	require.NoError(t, s.Reset(ctx))

	users, err := s.ListUsers(ctx)
	require.NoError(t, err)
	require.Empty(t, users)
	settings, err = s.GetSettings(ctx)
	require.NoError(t, err)
	require.Equal(t, DefaultSettings(), settings)
}
