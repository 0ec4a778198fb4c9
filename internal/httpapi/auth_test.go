package httpapi

import (
	"context"
	"strings"
	"sync"
	"testing"
	"time"

	jwtlib "github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"tillbook/backend/internal/domain"
	"tillbook/backend/internal/store"
	"tillbook/backend/internal/validation"
)

type userStoreStub struct {
	mu      sync.Mutex
	users   map[string]domain.UserAccount
	updates int
}

func (s *userStoreStub) CreateUser(_ context.Context, user domain.UserAccount) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.users == nil {
		s.users = make(map[string]domain.UserAccount)
	}
	s.users[user.Username] = user
	return nil
}

func (s *userStoreStub) ListUsers(_ context.Context) ([]domain.UserAccount, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]domain.UserAccount, 0, len(s.users))
	for _, user := range s.users {
		out = append(out, user)
	}
	return out, nil
}

func (s *userStoreStub) UpdateUserPassword(_ context.Context, username string, password string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	user := s.users[username]
	user.Password = password
	s.users[username] = user
	s.updates++
	return nil
}

func plainAdminStore() *userStoreStub {
	return &userStoreStub{
		users: map[string]domain.UserAccount{
			"admin": {Username: "admin", Password: "admin123", Role: "admin", Active: true, CreatedAt: time.Now().UTC()},
		},
	}
}

func TestAuthManagerUpgradesLegacyPlainPassword(t *testing.T) {
	users := plainAdminStore()
	manager := NewAuthManager("test-secret", time.Hour, "main-store", "T1", users)

	_, err := manager.Login(context.Background(), domain.LoginRequest{Username: "admin", Password: "admin123"})
	require.NoError(t, err)

	stored, err := users.ListUsers(context.Background())
	require.NoError(t, err)
	require.Len(t, stored, 1)
	assert.NotEqual(t, "admin123", stored[0].Password)
	assert.True(t, strings.HasPrefix(stored[0].Password, "$2"))
}

func TestCreateCashierStoresPasswordHash(t *testing.T) {
	users := plainAdminStore()
	manager := NewAuthManager("test-secret", time.Hour, "main-store", "T1", users)

	cashier, err := manager.CreateCashier(context.Background(), domain.CashierCreateRequest{Username: "KasirBaru", Password: "pass1234"})
	require.NoError(t, err)
	assert.Equal(t, "kasirbaru", cashier.Username)

	found, ok := users.users["kasirbaru"]
	require.True(t, ok)
	assert.True(t, strings.HasPrefix(found.Password, "$2"))

	resp, err := manager.Login(context.Background(), domain.LoginRequest{Username: "kasirbaru", Password: "pass1234", TerminalID: "T2"})
	require.NoError(t, err)
	assert.Equal(t, "cashier", resp.Role)

	_, err = manager.CreateCashier(context.Background(), domain.CashierCreateRequest{Username: "abc", Password: "pass1234"})
	require.Error(t, err)
	_, err = manager.CreateCashier(context.Background(), domain.CashierCreateRequest{Username: "kasir2", Password: "123"})
	require.Error(t, err)
}

func TestLoginFallsBackToDefaultTerminal(t *testing.T) {
	manager := NewAuthManager("test-secret", time.Hour, "toko-2", "T9", plainAdminStore())

	resp, err := manager.Login(context.Background(), domain.LoginRequest{Username: "admin", Password: "admin123"})
	require.NoError(t, err)
	assert.Equal(t, "T9", resp.TerminalID)

	actor, err := manager.ParseToken(resp.AccessToken)
	require.NoError(t, err)
	assert.Equal(t, domain.Actor{Username: "admin", Role: "admin", StoreID: "toko-2", TerminalID: "T9"}, actor)
}

func TestInactiveAccountCannotLogin(t *testing.T) {
	users := plainAdminStore()
	admin := users.users["admin"]
	admin.Active = false
	users.users["admin"] = admin
	manager := NewAuthManager("test-secret", time.Hour, "main-store", "T1", users)

	_, err := manager.Login(context.Background(), domain.LoginRequest{Username: "admin", Password: "admin123"})
	require.ErrorIs(t, err, ErrInactiveAccount)
	_, err = manager.Login(context.Background(), domain.LoginRequest{Username: "ghost", Password: "admin123"})
	require.ErrorIs(t, err, ErrInvalidCredentials)
}

func TestParseTokenRejectsForeignOrUnscopedTokens(t *testing.T) {
	manager := NewAuthManager("test-secret", time.Hour, "main-store", "T1", nil)

	other := NewAuthManager("other-secret", time.Hour, "main-store", "T1", nil)
	foreign, err := other.issue(domain.Actor{Username: "admin", Role: "admin", StoreID: "main-store", TerminalID: "T1"}, time.Now().Add(time.Hour))
	require.NoError(t, err)
	_, err = manager.ParseToken(foreign)
	require.ErrorIs(t, err, ErrInvalidToken)

	expired, err := manager.issue(domain.Actor{Username: "admin", Role: "admin", StoreID: "main-store", TerminalID: "T1"}, time.Now().Add(-time.Minute))
	require.NoError(t, err)
	_, err = manager.ParseToken(expired)
	require.ErrorIs(t, err, ErrInvalidToken)

	unscoped := jwtlib.NewWithClaims(jwtlib.SigningMethodHS256, tillClaims{
		RegisteredClaims: jwtlib.RegisteredClaims{
			Subject:   "admin",
			Issuer:    "tillbook",
			ExpiresAt: jwtlib.NewNumericDate(time.Now().Add(time.Hour)),
		},
		Role: "admin",
	})
	raw, err := unscoped.SignedString([]byte("test-secret"))
	require.NoError(t, err)
	_, err = manager.ParseToken(raw)
	require.ErrorIs(t, err, ErrInvalidToken)
}

func TestLoginRejectsMalformedTerminal(t *testing.T) {
	manager := NewAuthManager("test-secret", time.Hour, "main-store", "T1", plainAdminStore())

	_, err := manager.Login(context.Background(), domain.LoginRequest{Username: "admin", Password: "admin123", TerminalID: "T1; drop"})
	var verrs validation.Errors
	require.ErrorAs(t, err, &verrs)
}

func TestCreateCashierRejectsTakenUsername(t *testing.T) {
	manager := NewAuthManager("test-secret", time.Hour, "main-store", "T1", plainAdminStore())

	_, err := manager.CreateCashier(context.Background(), domain.CashierCreateRequest{Username: "Admin", Password: "pass1234"})
	require.ErrorIs(t, err, store.ErrConflict)
	assert.Empty(t, manager.ListCashiers(context.Background()))
}
