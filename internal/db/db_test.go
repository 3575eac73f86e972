package db

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go/modules/postgres"

	"github.com/udisondev/wowcore/internal/model"
)

func setupTestDB(t *testing.T) *DB {
	t.Helper()
	ctx := context.Background()

	container, err := postgres.Run(ctx, "postgres:16-alpine",
		postgres.WithDatabase("wowcore_test"),
		postgres.WithUsername("test"),
		postgres.WithPassword("test"),
	)
	require.NoError(t, err)
	t.Cleanup(func() {
		_ = container.Terminate(context.Background())
	})

	dsn, err := container.ConnectionString(ctx, "sslmode=disable")
	require.NoError(t, err)

	require.NoError(t, RunMigrations(ctx, dsn))

	database, err := New(ctx, dsn)
	require.NoError(t, err)
	t.Cleanup(database.Close)

	return database
}

func TestUserRepository_ByUsername_RoundTrip(t *testing.T) {
	database := setupTestDB(t)
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	_, err := database.Pool().Exec(ctx,
		`INSERT INTO users (username, salt, verifier, pin_method) VALUES ($1, $2, $3, 0)`,
		"ALICE", []byte{0x01, 0x02}, []byte{0x03, 0x04})
	require.NoError(t, err)

	repo := NewUserRepository(database)
	u, err := repo.ByUsername(ctx, "alice")
	require.NoError(t, err)
	require.Equal(t, "ALICE", u.Username)
	require.Equal(t, model.PINMethodNone, u.PINMethod)

	_, err = repo.ByUsername(ctx, "nobody")
	require.ErrorIs(t, err, ErrUserNotFound)
}

func TestUserRepository_UpdateVerifier(t *testing.T) {
	database := setupTestDB(t)
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	_, err := database.Pool().Exec(ctx,
		`INSERT INTO users (username, salt, verifier, pin_method) VALUES ($1, $2, $3, 0)`,
		"BOB", []byte{0x01}, []byte{0x02})
	require.NoError(t, err)

	repo := NewUserRepository(database)
	newSalt := []byte{0xAA, 0xBB}
	newVerifier := []byte{0xCC, 0xDD}
	require.NoError(t, repo.UpdateVerifier(ctx, "bob", newSalt, newVerifier))

	u, err := repo.ByUsername(ctx, "BOB")
	require.NoError(t, err)
	require.Equal(t, newSalt, u.Salt)
	require.Equal(t, newVerifier, u.Verifier)

	require.ErrorIs(t, repo.UpdateVerifier(ctx, "nobody", newSalt, newVerifier), ErrUserNotFound)
}

func TestRealmRepository_AllStartsOffline(t *testing.T) {
	database := setupTestDB(t)
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	_, err := database.Pool().Exec(ctx,
		`INSERT INTO realms (name, ip, port, type, category, region) VALUES ($1, $2, $3, 0, 1, 1)`,
		"Azshara", "127.0.0.1", 8085)
	require.NoError(t, err)

	repo := NewRealmRepository(database)
	realms, err := repo.All(ctx)
	require.NoError(t, err)
	require.Len(t, realms, 1)
	require.True(t, realms[0].Flags.Offline)
	require.Equal(t, "Azshara", realms[0].Name)
}

func TestPatchRepository_AllAndUpdateComputed(t *testing.T) {
	database := setupTestDB(t)
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	_, err := database.Pool().Exec(ctx,
		`INSERT INTO patches (build_from, build_to, locale, platform, os, path) VALUES ($1, $2, $3, $4, $5, $6)`,
		5875, 5875, "enUS", "x86", "Win", "5875-enUS.patch")
	require.NoError(t, err)

	repo := NewPatchRepository(database)
	patches, err := repo.All(ctx)
	require.NoError(t, err)
	require.Len(t, patches, 1)
	require.Equal(t, int64(0), patches[0].Size)

	updated := patches[0]
	updated.Size = 1024
	updated.MD5 = [16]byte{0x01, 0x02, 0x03}
	require.NoError(t, repo.UpdateComputed(ctx, updated))

	patches, err = repo.All(ctx)
	require.NoError(t, err)
	require.Equal(t, int64(1024), patches[0].Size)
}

func TestIPBanRepository_All(t *testing.T) {
	database := setupTestDB(t)
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	_, err := database.Pool().Exec(ctx,
		`INSERT INTO ip_bans (ip, cidr) VALUES ($1, $2)`, "198.51.106.51", 8)
	require.NoError(t, err)

	repo := NewIPBanRepository(database)
	bans, err := repo.All(ctx)
	require.NoError(t, err)
	require.Len(t, bans, 1)
	require.Equal(t, "198.51.106.51", bans[0].IP)
	require.Equal(t, 8, bans[0].CIDR)

	list := model.NewIPBanList(bans)
	require.True(t, list.IsBanned("198.51.106.200"))
	require.False(t, list.IsBanned("199.0.0.0"))
}
