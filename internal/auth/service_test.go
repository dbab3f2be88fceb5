package auth_test

import (
	"context"
	"testing"

	"github.com/google/uuid"
	"github.com/hugh/scanhub/internal/auth"
	"github.com/hugh/scanhub/internal/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestService_RegisterAndLogin(t *testing.T) {
	db := testutil.SetupTestDB(t)
	jwtService := testutil.CreateTestJWTService()
	svc := auth.NewService(db, jwtService)
	ctx := context.Background()

	resp, err := svc.Register(ctx, auth.RegisterInput{
		Email:    "  Alice@Example.com ",
		Password: "password123",
		Name:     "Alice",
	})
	require.NoError(t, err)
	assert.Equal(t, "alice@example.com", resp.User.Email)
	assert.NotEqual(t, uuid.Nil, resp.User.ID)

	claims, err := jwtService.ValidateToken(resp.Token)
	require.NoError(t, err)
	assert.Equal(t, resp.User.ID, claims.UserID)

	t.Run("duplicate email", func(t *testing.T) {
		_, err := svc.Register(ctx, auth.RegisterInput{Email: "alice@example.com", Password: "password123"})
		assert.ErrorIs(t, err, auth.ErrUserExists)
	})

	t.Run("login", func(t *testing.T) {
		login, err := svc.Login(ctx, auth.LoginInput{Email: "ALICE@example.com", Password: "password123"})
		require.NoError(t, err)
		assert.Equal(t, resp.User.ID, login.User.ID)
		assert.NotEmpty(t, login.Token)
	})

	t.Run("wrong password", func(t *testing.T) {
		_, err := svc.Login(ctx, auth.LoginInput{Email: "alice@example.com", Password: "nope"})
		assert.ErrorIs(t, err, auth.ErrInvalidCredentials)
	})

	t.Run("unknown user", func(t *testing.T) {
		_, err := svc.Login(ctx, auth.LoginInput{Email: "bob@example.com", Password: "password123"})
		assert.ErrorIs(t, err, auth.ErrInvalidCredentials)
	})

	t.Run("inactive user", func(t *testing.T) {
		require.NoError(t, db.Model(resp.User).Update("is_active", false).Error)
		_, err := svc.Login(ctx, auth.LoginInput{Email: "alice@example.com", Password: "password123"})
		assert.ErrorIs(t, err, auth.ErrInactiveUser)
	})

	t.Run("get user by id", func(t *testing.T) {
		user, err := svc.GetUserByID(ctx, resp.User.ID)
		require.NoError(t, err)
		assert.Equal(t, "Alice", user.Name)

		_, err = svc.GetUserByID(ctx, uuid.New())
		assert.ErrorIs(t, err, auth.ErrUserNotFound)
	})
}
