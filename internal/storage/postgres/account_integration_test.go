package postgres_test

import (
	"context"
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cory-johannsen/floe/internal/auth"
	"github.com/cory-johannsen/floe/internal/datamodel"
	"github.com/cory-johannsen/floe/internal/storage/postgres"
	"github.com/cory-johannsen/floe/internal/testutil"
)

func uniqueName(prefix string) string {
	return fmt.Sprintf("%s_%d", prefix, time.Now().UnixNano())
}

func TestAccountRepository(t *testing.T) {
	repo := postgres.NewAccountRepository(testutil.NewPool(t))
	ctx := context.Background()

	t.Run("create and authenticate", func(t *testing.T) {
		name := uniqueName("user")
		acct, err := repo.Create(ctx, name, "", "hunter2")
		require.NoError(t, err)
		assert.Greater(t, acct.ID, int64(0))
		assert.Equal(t, name, acct.Nickname)
		assert.False(t, acct.CreatedAt.IsZero())

		got, err := repo.Authenticate(ctx, name, "hunter2")
		require.NoError(t, err)
		assert.Equal(t, acct.ID, got.ID)

		_, err = repo.Authenticate(ctx, name, "wrong")
		assert.ErrorIs(t, err, postgres.ErrInvalidCredentials)
	})

	t.Run("duplicate username ignores case", func(t *testing.T) {
		name := uniqueName("dup")
		_, err := repo.Create(ctx, name, "", "pw")
		require.NoError(t, err)
		_, err = repo.Create(ctx, name, "", "pw")
		assert.ErrorIs(t, err, postgres.ErrAccountExists)
		_, err = repo.Create(ctx, strings.ToUpper(name), "", "pw")
		assert.ErrorIs(t, err, postgres.ErrAccountExists)

		got, err := repo.GetByUsername(ctx, strings.ToUpper(name))
		require.NoError(t, err)
		assert.Equal(t, name, got.Username)
	})

	t.Run("validate maps errors", func(t *testing.T) {
		name := uniqueName("val")
		acct, err := repo.Create(ctx, name, "Nick", "pw")
		require.NoError(t, err)

		id, err := repo.Validate(ctx, name, "pw")
		require.NoError(t, err)
		assert.Equal(t, auth.Identity{PlayerID: datamodel.PlayerID(acct.ID), Username: name, Nickname: "Nick"}, id)

		_, err = repo.Validate(ctx, name, "nope")
		assert.ErrorIs(t, err, auth.ErrWrongPassword)
		_, err = repo.Validate(ctx, uniqueName("ghost"), "pw")
		assert.ErrorIs(t, err, auth.ErrUnknownUser)
	})

	t.Run("set password and nickname", func(t *testing.T) {
		name := uniqueName("upd")
		acct, err := repo.Create(ctx, name, "", "old")
		require.NoError(t, err)

		require.NoError(t, repo.SetPassword(ctx, acct.ID, "new"))
		_, err = repo.Authenticate(ctx, name, "new")
		assert.NoError(t, err)

		require.NoError(t, repo.SetNickname(ctx, acct.ID, "Renamed"))
		got, err := repo.GetByUsername(ctx, name)
		require.NoError(t, err)
		assert.Equal(t, "Renamed", got.Nickname)

		assert.ErrorIs(t, repo.SetPassword(ctx, -1, "x"), postgres.ErrAccountNotFound)
		assert.ErrorIs(t, repo.SetNickname(ctx, -1, "x"), postgres.ErrAccountNotFound)

		assert.ErrorIs(t, repo.SetNickname(ctx, acct.ID, "Re|named"), datamodel.ErrInvalidNickname)
		got, err = repo.GetByUsername(ctx, name)
		require.NoError(t, err)
		assert.Equal(t, "Renamed", got.Nickname)
	})
}

func TestPool_HealthAgainstDatabase(t *testing.T) {
	pc := testutil.NewPostgresContainer(t)
	require.NoError(t, pc.Pool.Health(context.Background()))

	pc.Pool.Stop(context.Background())
	assert.Error(t, pc.Pool.Health(context.Background()))
}
