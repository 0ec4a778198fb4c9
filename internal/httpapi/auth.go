package httpapi

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"strings"
	"sync"
	"time"

	jwtlib "github.com/golang-jwt/jwt/v5"
	"github.com/rs/zerolog/log"
	"golang.org/x/crypto/bcrypt"

	"tillbook/backend/internal/domain"
	"tillbook/backend/internal/store"
	"tillbook/backend/internal/validation"
	"tillbook/backend/internal/xid"
)

const tokenIssuer = "tillbook"

var (
	ErrInvalidCredentials = errors.New("invalid credentials")
	ErrInactiveAccount    = errors.New("account is inactive")
	ErrInvalidToken       = errors.New("invalid or expired token")
)

// UserStore is the slice of the repository the auth manager needs.
type UserStore interface {
	CreateUser(ctx context.Context, user domain.UserAccount) error
	ListUsers(ctx context.Context) ([]domain.UserAccount, error)
	UpdateUserPassword(ctx context.Context, username string, password string) error
}

// AuthManager issues tokens scoped to one store and a terminal. Every login
// lands on the configured store; the terminal comes from the login request.
type AuthManager struct {
	secret          []byte
	tokenTTL        time.Duration
	storeID         string
	defaultTerminal string
	users           UserStore
	accounts        *accountCache
}

// tillClaims scopes a token to the store and terminal the session runs on.
type tillClaims struct {
	jwtlib.RegisteredClaims
	Role       string `json:"role"`
	StoreID    string `json:"store_id"`
	TerminalID string `json:"terminal_id"`
}

func NewAuthManager(secret string, tokenTTL time.Duration, storeID string, defaultTerminal string, users UserStore) *AuthManager {
	if secret == "" {
		secret = "dev-change-me"
	}
	if tokenTTL <= 0 {
		tokenTTL = 8 * time.Hour
	}
	if storeID = strings.TrimSpace(storeID); storeID == "" {
		storeID = "main-store"
	}
	if defaultTerminal = strings.TrimSpace(defaultTerminal); defaultTerminal == "" {
		defaultTerminal = "T1"
	}

	m := &AuthManager{
		secret:          []byte(secret),
		tokenTTL:        tokenTTL,
		storeID:         storeID,
		defaultTerminal: defaultTerminal,
		users:           users,
		accounts:        &accountCache{byName: make(map[string]domain.UserAccount)},
	}
	m.refresh(context.Background())
	return m
}

func (m *AuthManager) Login(ctx context.Context, req domain.LoginRequest) (domain.LoginResponse, error) {
	if err := validation.Struct(req); err != nil {
		return domain.LoginResponse{}, err
	}
	loadCtx, cancel := context.WithTimeout(ctx, 3*time.Second)
	defer cancel()
	m.refresh(loadCtx)

	username := normalizeUsername(req.Username)
	account, ok := m.accounts.get(username)
	if !ok || !verifyPassword(account.Password, req.Password) {
		return domain.LoginResponse{}, ErrInvalidCredentials
	}
	if !account.Active {
		return domain.LoginResponse{}, ErrInactiveAccount
	}

	actor := domain.Actor{
		Username:   username,
		Role:       account.Role,
		StoreID:    m.storeID,
		TerminalID: strings.TrimSpace(req.TerminalID),
	}
	if actor.TerminalID == "" {
		actor.TerminalID = m.defaultTerminal
	}

	expiresAt := time.Now().UTC().Add(m.tokenTTL)
	token, err := m.issue(actor, expiresAt)
	if err != nil {
		return domain.LoginResponse{}, err
	}
	return domain.LoginResponse{
		AccessToken: token,
		Role:        actor.Role,
		StoreID:     actor.StoreID,
		TerminalID:  actor.TerminalID,
		ExpiresAt:   expiresAt.Format(time.RFC3339),
	}, nil
}

// ParseToken accepts HS256 tokens from this issuer that carry a store and a
// terminal. Anything else cannot open a session.
func (m *AuthManager) ParseToken(raw string) (domain.Actor, error) {
	claims := &tillClaims{}
	token, err := jwtlib.ParseWithClaims(raw, claims, func(*jwtlib.Token) (any, error) {
		return m.secret, nil
	}, jwtlib.WithValidMethods([]string{jwtlib.SigningMethodHS256.Alg()}), jwtlib.WithIssuer(tokenIssuer), jwtlib.WithExpirationRequired())
	if err != nil || !token.Valid {
		return domain.Actor{}, ErrInvalidToken
	}
	if claims.Subject == "" {
		return domain.Actor{}, fmt.Errorf("%w: missing subject", ErrInvalidToken)
	}
	if claims.StoreID == "" || claims.TerminalID == "" {
		return domain.Actor{}, fmt.Errorf("%w: missing store or terminal scope", ErrInvalidToken)
	}
	return domain.Actor{
		Username:   claims.Subject,
		Role:       claims.Role,
		StoreID:    claims.StoreID,
		TerminalID: claims.TerminalID,
	}, nil
}

func (m *AuthManager) issue(actor domain.Actor, expiresAt time.Time) (string, error) {
	now := time.Now().UTC()
	claims := tillClaims{
		RegisteredClaims: jwtlib.RegisteredClaims{
			ID:        xid.New("tok"),
			Subject:   actor.Username,
			Issuer:    tokenIssuer,
			IssuedAt:  jwtlib.NewNumericDate(now),
			NotBefore: jwtlib.NewNumericDate(now.Add(-time.Minute)),
			ExpiresAt: jwtlib.NewNumericDate(expiresAt),
		},
		Role:       actor.Role,
		StoreID:    actor.StoreID,
		TerminalID: actor.TerminalID,
	}
	return jwtlib.NewWithClaims(jwtlib.SigningMethodHS256, claims).SignedString(m.secret)
}

// CreateCashier registers an active cashier account. A taken username is
// reported as store.ErrConflict.
func (m *AuthManager) CreateCashier(ctx context.Context, req domain.CashierCreateRequest) (domain.CashierUser, error) {
	if err := validation.Struct(req); err != nil {
		return domain.CashierUser{}, err
	}
	m.refresh(ctx)

	username := normalizeUsername(req.Username)
	if _, taken := m.accounts.get(username); taken {
		return domain.CashierUser{}, fmt.Errorf("%w: username %q already exists", store.ErrConflict, username)
	}

	hash, err := hashPassword(req.Password)
	if err != nil {
		return domain.CashierUser{}, fmt.Errorf("hash password: %w", err)
	}
	account := domain.UserAccount{
		Username:  username,
		Password:  hash,
		Role:      "cashier",
		Active:    true,
		CreatedAt: time.Now().UTC(),
	}
	if m.users != nil {
		if err := m.users.CreateUser(ctx, account); err != nil {
			return domain.CashierUser{}, err
		}
	}
	m.accounts.put(account)
	return cashierView(account), nil
}

func (m *AuthManager) ListCashiers(ctx context.Context) []domain.CashierUser {
	m.refresh(ctx)
	out := make([]domain.CashierUser, 0)
	for _, account := range m.accounts.all() {
		if account.Role == "cashier" {
			out = append(out, cashierView(account))
		}
	}
	slices.SortFunc(out, func(a, b domain.CashierUser) int {
		return strings.Compare(a.Username, b.Username)
	})
	return out
}

// refresh reloads accounts from the user store. Accounts still holding a
// plain-text password are rehashed and written back.
func (m *AuthManager) refresh(ctx context.Context) {
	if m.users == nil {
		return
	}
	users, err := m.users.ListUsers(ctx)
	if err != nil {
		log.Warn().Str("component", "auth").Err(err).Msg("failed to load users")
		return
	}
	for _, user := range users {
		user.Username = normalizeUsername(user.Username)
		if user.Username == "" {
			continue
		}
		if !isPasswordHash(user.Password) {
			hash, err := hashPassword(user.Password)
			if err != nil {
				continue
			}
			user.Password = hash
			if err := m.users.UpdateUserPassword(ctx, user.Username, hash); err != nil {
				log.Warn().Str("component", "auth").Err(err).Str("username", user.Username).Msg("failed to upgrade password hash")
			}
		}
		m.accounts.put(user)
	}
}

type accountCache struct {
	mu     sync.RWMutex
	byName map[string]domain.UserAccount
}

func (c *accountCache) get(username string) (domain.UserAccount, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	account, ok := c.byName[username]
	return account, ok
}

func (c *accountCache) put(account domain.UserAccount) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.byName[account.Username] = account
}

func (c *accountCache) all() []domain.UserAccount {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make([]domain.UserAccount, 0, len(c.byName))
	for _, account := range c.byName {
		out = append(out, account)
	}
	return out
}

func cashierView(account domain.UserAccount) domain.CashierUser {
	return domain.CashierUser{
		Username:  account.Username,
		Role:      account.Role,
		Active:    account.Active,
		CreatedAt: account.CreatedAt,
	}
}

func normalizeUsername(raw string) string {
	return strings.ToLower(strings.TrimSpace(raw))
}

func verifyPassword(hash string, input string) bool {
	if strings.TrimSpace(input) == "" || !isPasswordHash(hash) {
		return false
	}
	return bcrypt.CompareHashAndPassword([]byte(hash), []byte(input)) == nil
}

func hashPassword(password string) (string, error) {
	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return "", err
	}
	return string(hash), nil
}

func isPasswordHash(value string) bool {
	for _, prefix := range []string{"$2a$", "$2b$", "$2y$"} {
		if strings.HasPrefix(value, prefix) {
			return true
		}
	}
	return false
}
