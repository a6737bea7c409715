package service

import (
	"context"
	"database/sql"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"

	"github.com/codetribe/bootcamp-api/internal/models"
	"github.com/codetribe/bootcamp-api/pkg/config"
	appErrors "github.com/codetribe/bootcamp-api/pkg/errors"
)

type mockUserRepo struct {
	users  map[string]models.User
	tokens map[string]models.RefreshToken
	audits []models.AuditLog
}

func newMockUserRepo() *mockUserRepo {
	return &mockUserRepo{
		users:  make(map[string]models.User),
		tokens: make(map[string]models.RefreshToken),
	}
}

func (m *mockUserRepo) FindByEmail(ctx context.Context, email string) (*models.User, error) {
	for _, u := range m.users {
		if u.Email == email {
			return &u, nil
		}
	}
	return nil, sql.ErrNoRows
}

func (m *mockUserRepo) FindByID(ctx context.Context, id string) (*models.User, error) {
	if u, ok := m.users[id]; ok {
		return &u, nil
	}
	return nil, sql.ErrNoRows
}

func (m *mockUserRepo) UpdateLastLogin(ctx context.Context, id string, ts time.Time) error {
	if u, ok := m.users[id]; ok {
		u.LastLogin = &ts
		m.users[id] = u
	}
	return nil
}

func (m *mockUserRepo) UpdatePassword(ctx context.Context, id, passwordHash string, updatedAt time.Time) error {
	if u, ok := m.users[id]; ok {
		u.PasswordHash = passwordHash
		m.users[id] = u
	}
	return nil
}

func (m *mockUserRepo) CreateRefreshToken(ctx context.Context, token *models.RefreshToken) error {
	m.tokens[token.Token] = *token
	return nil
}

func (m *mockUserRepo) FindRefreshToken(ctx context.Context, token string) (*models.RefreshToken, error) {
	if t, ok := m.tokens[token]; ok {
		return &t, nil
	}
	return nil, sql.ErrNoRows
}

func (m *mockUserRepo) RevokeRefreshToken(ctx context.Context, id string, revokedAt time.Time) error {
	for key, t := range m.tokens {
		if t.ID == id {
			t.Revoked = true
			t.RevokedAt = &revokedAt
			m.tokens[key] = t
		}
	}
	return nil
}

func (m *mockUserRepo) RevokeUserRefreshTokens(ctx context.Context, userID string) error {
	for key, t := range m.tokens {
		if t.UserID == userID {
			t.Revoked = true
			m.tokens[key] = t
		}
	}
	return nil
}

func (m *mockUserRepo) CreateAuditLog(ctx context.Context, log *models.AuditLog) error {
	m.audits = append(m.audits, *log)
	return nil
}

func jwtConfigFixture() config.JWTConfig {
	return config.JWTConfig{
		Secret:            "test-secret",
		Expiration:        time.Hour,
		RefreshExpiration: 24 * time.Hour,
		Issuer:            "bootcamp-api",
	}
}

func seedUser(t *testing.T, repo *mockUserRepo, role models.UserRole, active bool) models.User {
	t.Helper()
	hash, err := bcrypt.GenerateFromPassword([]byte("secret123"), bcrypt.MinCost)
	require.NoError(t, err)
	user := models.User{
		ID:           "user-" + string(role),
		Email:        string(role) + "@example.com",
		PasswordHash: string(hash),
		FullName:     "Test " + string(role),
		Role:         role,
		Active:       active,
	}
	repo.users[user.ID] = user
	return user
}

func TestLoginIssuesTokensAndRoleHome(t *testing.T) {
	repo := newMockUserRepo()
	user := seedUser(t, repo, models.RoleTPO, true)
	svc := NewAuthService(repo, jwtConfigFixture(), nil, nil)

	result, err := svc.Login(context.Background(), models.LoginRequest{Email: user.Email, Password: "secret123"})
	require.NoError(t, err)
	assert.NotEmpty(t, result.AccessToken)
	assert.NotEmpty(t, result.RefreshToken)
	assert.Equal(t, CollegeHome, result.RoleHome)

	claims, err := svc.ValidateToken(result.AccessToken)
	require.NoError(t, err)
	assert.Equal(t, user.ID, claims.UserID)
	assert.Equal(t, models.RoleTPO, claims.Role)

	require.NotEmpty(t, repo.audits)
	assert.Equal(t, models.AuditActionLogin, repo.audits[0].Action)
}

func TestLoginRejectsWrongPassword(t *testing.T) {
	repo := newMockUserRepo()
	user := seedUser(t, repo, models.RoleUser, true)
	svc := NewAuthService(repo, jwtConfigFixture(), nil, nil)

	_, err := svc.Login(context.Background(), models.LoginRequest{Email: user.Email, Password: "wrong"})
	require.Error(t, err)
	assert.True(t, appErrors.HasCode(err, appErrors.ErrInvalidCredentials))
}

func TestLoginRejectsInactiveAccount(t *testing.T) {
	repo := newMockUserRepo()
	user := seedUser(t, repo, models.RoleUser, false)
	svc := NewAuthService(repo, jwtConfigFixture(), nil, nil)

	_, err := svc.Login(context.Background(), models.LoginRequest{Email: user.Email, Password: "secret123"})
	require.Error(t, err)
	assert.True(t, appErrors.HasCode(err, appErrors.ErrInactiveAccount))
}

func TestRefreshRotatesToken(t *testing.T) {
	repo := newMockUserRepo()
	user := seedUser(t, repo, models.RoleUser, true)
	svc := NewAuthService(repo, jwtConfigFixture(), nil, nil)

	login, err := svc.Login(context.Background(), models.LoginRequest{Email: user.Email, Password: "secret123"})
	require.NoError(t, err)

	refreshed, err := svc.Refresh(context.Background(), models.RefreshTokenRequest{RefreshToken: login.RefreshToken})
	require.NoError(t, err)
	assert.NotEqual(t, login.RefreshToken, refreshed.RefreshToken)

	// The consumed token is revoked and can not be replayed.
	_, err = svc.Refresh(context.Background(), models.RefreshTokenRequest{RefreshToken: login.RefreshToken})
	require.Error(t, err)
	assert.True(t, appErrors.HasCode(err, appErrors.ErrUnauthorized))
}

func TestChangePasswordRevokesSessions(t *testing.T) {
	repo := newMockUserRepo()
	user := seedUser(t, repo, models.RoleUser, true)
	svc := NewAuthService(repo, jwtConfigFixture(), nil, nil)

	login, err := svc.Login(context.Background(), models.LoginRequest{Email: user.Email, Password: "secret123"})
	require.NoError(t, err)

	err = svc.ChangePassword(context.Background(), user.ID, models.ChangePasswordRequest{
		OldPassword: "secret123",
		NewPassword: "evenbetter456",
	})
	require.NoError(t, err)

	_, err = svc.Refresh(context.Background(), models.RefreshTokenRequest{RefreshToken: login.RefreshToken})
	require.Error(t, err)

	_, err = svc.Login(context.Background(), models.LoginRequest{Email: user.Email, Password: "evenbetter456"})
	require.NoError(t, err)
}

func TestValidateTokenRejectsTampered(t *testing.T) {
	repo := newMockUserRepo()
	user := seedUser(t, repo, models.RoleUser, true)
	svc := NewAuthService(repo, jwtConfigFixture(), nil, nil)

	login, err := svc.Login(context.Background(), models.LoginRequest{Email: user.Email, Password: "secret123"})
	require.NoError(t, err)

	_, err = svc.ValidateToken(login.AccessToken + "x")
	require.Error(t, err)
	assert.True(t, appErrors.HasCode(err, appErrors.ErrUnauthorized))

	other := NewAuthService(repo, config.JWTConfig{Secret: "other-secret", Expiration: time.Hour, RefreshExpiration: time.Hour}, nil, nil)
	_, err = other.ValidateToken(login.AccessToken)
	require.Error(t, err)
}
