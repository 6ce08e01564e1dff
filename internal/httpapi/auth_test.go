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
	"go.uber.org/zap/zaptest"

	"posoffice/backend/internal/domain"
	"posoffice/backend/internal/store"
)

type staffStoreStub struct {
	mu      sync.Mutex
	staff   map[string]domain.StaffAccount
	updates int
}

func (s *staffStoreStub) GetStaff(_ context.Context, username string) (*domain.StaffAccount, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	account, ok := s.staff[username]
	if !ok {
		return nil, store.ErrNotFound
	}
	return &account, nil
}

func (s *staffStoreStub) CreateStaff(_ context.Context, account domain.StaffAccount) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.staff == nil {
		s.staff = make(map[string]domain.StaffAccount)
	}
	if _, ok := s.staff[account.Username]; ok {
		return store.ErrDuplicate
	}
	s.staff[account.Username] = account
	return nil
}

func (s *staffStoreStub) UpdateStaffPassword(_ context.Context, username string, password string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	account := s.staff[username]
	account.Password = password
	s.staff[username] = account
	s.updates++
	return nil
}

const testSecret = "test-secret-key-0123456789abcdef"

func TestAuthManagerUpgradesLegacyPlainPassword(t *testing.T) {
	stub := &staffStoreStub{staff: map[string]domain.StaffAccount{
		"legacy": {Username: "legacy", Password: "plain-pass", Role: domain.RoleCashier, BusinessID: "biz-1", Active: true},
	}}
	auth := NewAuthManager(testSecret, time.Hour, stub, zaptest.NewLogger(t))

	resp, err := auth.Login(context.Background(), domain.LoginRequest{Username: "Legacy", Password: "plain-pass"})
	require.NoError(t, err)
	assert.Equal(t, "biz-1", resp.BusinessID)
	assert.Equal(t, 1, stub.updates)
	assert.True(t, strings.HasPrefix(stub.staff["legacy"].Password, "$2"), "password re-hashed")

	_, err = auth.Login(context.Background(), domain.LoginRequest{Username: "legacy", Password: "plain-pass"})
	require.NoError(t, err)
	assert.Equal(t, 1, stub.updates, "hashed passwords are not upgraded again")
}

func TestAuthManagerRejectsBadCredentialsAndInactiveAccounts(t *testing.T) {
	stub := &staffStoreStub{staff: map[string]domain.StaffAccount{
		"gone": {Username: "gone", Password: mustHashPassword(t, "gone-pass"), Role: domain.RoleCashier, BusinessID: "biz-1", Active: false},
	}}
	auth := NewAuthManager(testSecret, time.Hour, stub, nil)
	ctx := context.Background()

	_, err := auth.Login(ctx, domain.LoginRequest{Username: "nobody", Password: "x"})
	assert.ErrorIs(t, err, errInvalidCredentials)

	_, err = auth.Login(ctx, domain.LoginRequest{Username: "gone", Password: "wrong"})
	assert.ErrorIs(t, err, errInvalidCredentials)

	_, err = auth.Login(ctx, domain.LoginRequest{Username: "gone", Password: "gone-pass"})
	assert.ErrorIs(t, err, errInactiveAccount)
}

func TestParseTokenRoundTrip(t *testing.T) {
	auth := NewAuthManager(testSecret, time.Hour, &staffStoreStub{}, nil)

	token, err := auth.sign("alice", domain.RoleManager, "biz-9", time.Now().Add(time.Hour))
	require.NoError(t, err)

	actor, err := auth.ParseToken(token)
	require.NoError(t, err)
	assert.Equal(t, domain.Actor{Username: "alice", Role: domain.RoleManager, BusinessID: "biz-9"}, actor)
}

func TestParseTokenRejectsExpiredForeignAndBusinesslessTokens(t *testing.T) {
	auth := NewAuthManager(testSecret, time.Hour, &staffStoreStub{}, nil)

	expired, err := auth.sign("alice", domain.RoleManager, "biz-9", time.Now().Add(-time.Minute))
	require.NoError(t, err)
	_, err = auth.ParseToken(expired)
	assert.Error(t, err)

	other := NewAuthManager("another-secret-0123456789abcdefgh", time.Hour, &staffStoreStub{}, nil)
	foreign, err := other.sign("alice", domain.RoleManager, "biz-9", time.Now().Add(time.Hour))
	require.NoError(t, err)
	_, err = auth.ParseToken(foreign)
	assert.Error(t, err)

	noBusiness, err := auth.sign("alice", domain.RoleManager, "", time.Now().Add(time.Hour))
	require.NoError(t, err)
	_, err = auth.ParseToken(noBusiness)
	assert.Error(t, err)

	none := jwtlib.NewWithClaims(jwtlib.SigningMethodNone, posCustomClaims{
		RegisteredClaims: jwtlib.RegisteredClaims{Subject: "alice", ExpiresAt: jwtlib.NewNumericDate(time.Now().Add(time.Hour))},
		Role:             domain.RoleAdmin,
		BusinessID:       "biz-9",
	})
	unsigned, err := none.SignedString(jwtlib.UnsafeAllowNoneSignatureType)
	require.NoError(t, err)
	_, err = auth.ParseToken(unsigned)
	assert.Error(t, err)
}

func TestEnsureStaffCreatesOnce(t *testing.T) {
	stub := &staffStoreStub{}
	auth := NewAuthManager(testSecret, time.Hour, stub, nil)
	ctx := context.Background()
	account := domain.StaffAccount{Username: " Boss ", Role: domain.RoleAdmin, BusinessID: "biz-1", Active: true}

	require.NoError(t, auth.EnsureStaff(ctx, account, "boss-pass"))
	first := stub.staff["boss"].Password
	require.True(t, isPasswordHash(first))

	require.NoError(t, auth.EnsureStaff(ctx, account, "other-pass"))
	assert.Equal(t, first, stub.staff["boss"].Password, "existing accounts are untouched")

	assert.Error(t, auth.EnsureStaff(ctx, domain.StaffAccount{Username: "short"}, "123"))
}
