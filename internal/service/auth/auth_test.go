package auth

import (
	"context"
	"testing"

	"github.com/glebarez/sqlite"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	"github.com/andrelucass/fruteira/internal/db"
	"github.com/andrelucass/fruteira/internal/models"
)

func newTestService(t *testing.T) *Service {
	t.Helper()

	gdb, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{})
	require.NoError(t, err)

	sqlDB, err := gdb.DB()
	require.NoError(t, err)
	sqlDB.SetMaxOpenConns(1)

	require.NoError(t, db.Migrate(gdb))

	return &Service{
		DB:            gdb,
		JWTSecret:     []byte("test-jwt-secret"),
		RefreshSecret: []byte("test-refresh-secret"),
	}
}

func TestRegister(t *testing.T) {
	svc := newTestService(t)
	ctx := context.Background()

	user, err := svc.Register(ctx, "Ana", "ana@example.com", "11999999999", "secret")
	require.NoError(t, err)
	assert.NotZero(t, user.ID)
	assert.Equal(t, "ana@example.com", user.Email)
	assert.NotEqual(t, "secret", user.PasswordHash, "password must be stored hashed")
	assert.False(t, user.Admin)
}

func TestRegister_RequiredFields(t *testing.T) {
	svc := newTestService(t)
	ctx := context.Background()

	_, err := svc.Register(ctx, "", "ana@example.com", "", "secret")
	require.ErrorIs(t, err, ErrValidation)

	_, err = svc.Register(ctx, "Ana", "ana@example.com", "", "")
	require.ErrorIs(t, err, ErrValidation)
}

func TestRegister_DuplicateEmail(t *testing.T) {
	svc := newTestService(t)
	ctx := context.Background()

	_, err := svc.Register(ctx, "Ana", "ana@example.com", "", "secret")
	require.NoError(t, err)

	_, err = svc.Register(ctx, "Other Ana", "ana@example.com", "", "different")
	require.ErrorIs(t, err, ErrDuplicateEmail)

	var count int64
	svc.DB.Model(&models.User{}).Count(&count)
	assert.EqualValues(t, 1, count)
}

func TestLogin(t *testing.T) {
	svc := newTestService(t)
	ctx := context.Background()

	_, err := svc.Register(ctx, "Ana", "ana@example.com", "", "secret")
	require.NoError(t, err)

	res, err := svc.Login(ctx, "ana@example.com", "secret")
	require.NoError(t, err)
	require.NotEmpty(t, res.AccessToken)
	require.NotEmpty(t, res.RefreshToken)

	claims, err := svc.ParseAccess(res.AccessToken)
	require.NoError(t, err)
	assert.Equal(t, res.User.ID, claims.UserID)
	assert.False(t, claims.Admin)

	// refresh token is persisted for rotation
	var stored models.RefreshToken
	require.NoError(t, svc.DB.Where("token = ?", res.RefreshToken).First(&stored).Error)
	assert.Equal(t, res.User.ID, stored.UserID)
	assert.False(t, stored.Revoked)
}

func TestLogin_InvalidCredentials(t *testing.T) {
	svc := newTestService(t)
	ctx := context.Background()

	_, err := svc.Register(ctx, "Ana", "ana@example.com", "", "secret")
	require.NoError(t, err)

	_, err = svc.Login(ctx, "ana@example.com", "wrong")
	require.ErrorIs(t, err, ErrInvalidCredentials)

	_, err = svc.Login(ctx, "nobody@example.com", "secret")
	require.ErrorIs(t, err, ErrInvalidCredentials)
}

func TestLogin_AdminClaim(t *testing.T) {
	svc := newTestService(t)
	ctx := context.Background()

	user, err := svc.Register(ctx, "Root", "root@example.com", "", "secret")
	require.NoError(t, err)
	require.NoError(t, svc.DB.Model(&models.User{}).Where("id = ?", user.ID).Update("admin", true).Error)

	res, err := svc.Login(ctx, "root@example.com", "secret")
	require.NoError(t, err)

	claims, err := svc.ParseAccess(res.AccessToken)
	require.NoError(t, err)
	assert.True(t, claims.Admin)
}

func TestRefresh_RotatesAndRevokes(t *testing.T) {
	svc := newTestService(t)
	ctx := context.Background()

	_, err := svc.Register(ctx, "Ana", "ana@example.com", "", "secret")
	require.NoError(t, err)
	res, err := svc.Login(ctx, "ana@example.com", "secret")
	require.NoError(t, err)

	rotated, err := svc.Refresh(ctx, res.RefreshToken)
	require.NoError(t, err)
	assert.NotEqual(t, res.RefreshToken, rotated.RefreshToken)

	// the consumed token is revoked and cannot be replayed
	_, err = svc.Refresh(ctx, res.RefreshToken)
	require.ErrorIs(t, err, ErrInvalidToken)
}

func TestRefresh_RejectsGarbage(t *testing.T) {
	svc := newTestService(t)

	_, err := svc.Refresh(context.Background(), "not-a-token")
	require.ErrorIs(t, err, ErrInvalidToken)
}

func TestLogout_RevokesRefresh(t *testing.T) {
	svc := newTestService(t)
	ctx := context.Background()

	_, err := svc.Register(ctx, "Ana", "ana@example.com", "", "secret")
	require.NoError(t, err)
	res, err := svc.Login(ctx, "ana@example.com", "secret")
	require.NoError(t, err)

	require.NoError(t, svc.Logout(ctx, res.RefreshToken))

	_, err = svc.Refresh(ctx, res.RefreshToken)
	require.ErrorIs(t, err, ErrInvalidToken)
}

func TestParseAccess_RejectsWrongSecret(t *testing.T) {
	svc := newTestService(t)
	other := newTestService(t)
	other.JWTSecret = []byte("different-secret")
	ctx := context.Background()

	_, err := svc.Register(ctx, "Ana", "ana@example.com", "", "secret")
	require.NoError(t, err)
	res, err := svc.Login(ctx, "ana@example.com", "secret")
	require.NoError(t, err)

	_, err = other.ParseAccess(res.AccessToken)
	require.ErrorIs(t, err, ErrInvalidToken)
}
