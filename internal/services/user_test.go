package services

import (
	"context"
	"path/filepath"
	"sync"
	"testing"

	"github.com/notezilla/apiserver/config"
	"github.com/notezilla/apiserver/internal/db"
	"github.com/notezilla/apiserver/internal/store"
	"github.com/notezilla/apiserver/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"
)

func newUserService(t *testing.T) (*UserService, *store.UserRepository) {
	t.Helper()
	cfg := config.DatabaseConfig{Driver: db.DriverSQLite, Path: filepath.Join(t.TempDir(), "services.db")}
	require.NoError(t, db.MigrateUp(cfg))
	conn, err := db.Open(context.Background(), cfg)
	require.NoError(t, err)
	t.Cleanup(func() { _ = conn.Close() })

	repo := store.NewUserRepository(conn, cfg.Driver)
	return NewUserService(repo).WithBcryptCost(bcrypt.MinCost), repo
}

func consumeCalls(t *testing.T, svc *UserService, userID, n int) {
	t.Helper()
	for i := 0; i < n; i++ {
		_, err := svc.ConsumeAPICall(context.Background(), userID)
		require.NoError(t, err)
	}
}

func TestRegisterHashesPassword(t *testing.T) {
	svc, _ := newUserService(t)

	user, err := svc.Register(context.Background(), types.User{
		FirstName: "A",
		LastName:  "B",
		Email:     " a@b.com ",
	}, "secret1")
	require.NoError(t, err)

	assert.NotZero(t, user.ID)
	assert.Equal(t, "a@b.com", user.Email)
	assert.Equal(t, types.RoleUser, user.Role)
	assert.NotEqual(t, "secret1", user.PasswordHash)
	assert.NoError(t, bcrypt.CompareHashAndPassword([]byte(user.PasswordHash), []byte("secret1")))
}

func TestRegisterDuplicateEmailIgnoresCase(t *testing.T) {
	svc, _ := newUserService(t)
	ctx := context.Background()

	_, err := svc.Register(ctx, types.User{FirstName: "A", LastName: "B", Email: "A@x.com"}, "secret1")
	require.NoError(t, err)

	_, err = svc.Register(ctx, types.User{FirstName: "C", LastName: "D", Email: "a@x.com"}, "secret2")
	assert.ErrorIs(t, err, store.ErrConflict)
}

func TestAuthenticate(t *testing.T) {
	svc, _ := newUserService(t)
	ctx := context.Background()

	registered, err := svc.Register(ctx, types.User{FirstName: "A", LastName: "B", Email: "login@x.com"}, "secret1")
	require.NoError(t, err)

	user, err := svc.Authenticate(ctx, "LOGIN@x.com", "secret1")
	require.NoError(t, err)
	assert.Equal(t, registered.ID, user.ID)

	_, err = svc.Authenticate(ctx, "login@x.com", "wrong")
	assert.ErrorIs(t, err, ErrInvalidCredentials)

	_, err = svc.Authenticate(ctx, "nobody@x.com", "secret1")
	assert.ErrorIs(t, err, ErrInvalidCredentials)
}

func TestConsumeAPICallAtLimit(t *testing.T) {
	svc, repo := newUserService(t)
	ctx := context.Background()

	user, err := svc.Register(ctx, types.User{FirstName: "A", LastName: "B", Email: "q@x.com"}, "secret1")
	require.NoError(t, err)

	consumeCalls(t, svc, user.ID, 19)
	usage, err := svc.ConsumeAPICall(ctx, user.ID)
	require.NoError(t, err)
	assert.Equal(t, types.Usage{Total: 20, Remaining: 0}, usage)

	_, err = svc.ConsumeAPICall(ctx, user.ID)
	var quotaErr *QuotaExceededError
	require.ErrorAs(t, err, &quotaErr)
	assert.Equal(t, 20, quotaErr.Current)
	assert.Equal(t, MaxAPICalls, quotaErr.Max)

	calls, err := repo.GetAPICalls(ctx, user.ID)
	require.NoError(t, err)
	assert.Equal(t, 20, calls)
}

func TestConsumeAPICallConcurrentNeverExceedsLimit(t *testing.T) {
	svc, repo := newUserService(t)
	ctx := context.Background()

	user, err := svc.Register(ctx, types.User{FirstName: "A", LastName: "B", Email: "race@x.com"}, "secret1")
	require.NoError(t, err)
	consumeCalls(t, svc, user.ID, 15)

	var wg sync.WaitGroup
	var mu sync.Mutex
	succeeded := 0
	for i := 0; i < 12; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := svc.ConsumeAPICall(ctx, user.ID); err == nil {
				mu.Lock()
				succeeded++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, 5, succeeded)
	calls, err := repo.GetAPICalls(ctx, user.ID)
	require.NoError(t, err)
	assert.Equal(t, MaxAPICalls, calls)
}

func TestUsage(t *testing.T) {
	assert.Equal(t, types.Usage{Total: 3, Remaining: 17}, Usage(3))
	assert.Equal(t, types.Usage{Total: 25, Remaining: 0}, Usage(25))
}

func TestEnsureAdminIsIdempotent(t *testing.T) {
	svc, repo := newUserService(t)
	ctx := context.Background()

	require.NoError(t, svc.EnsureAdmin(ctx, "admin@admin.admin", "admin"))
	require.NoError(t, svc.EnsureAdmin(ctx, "admin@admin.admin", "admin"))

	users, err := repo.List(ctx)
	require.NoError(t, err)
	require.Len(t, users, 1)
	assert.Equal(t, types.RoleAdmin, users[0].Role)

	admin, err := svc.Authenticate(ctx, "admin@admin.admin", "admin")
	require.NoError(t, err)
	assert.Equal(t, types.RoleAdmin, admin.Role)
}
