package backendstub

import (
	"context"
	"errors"
	"strings"
	"sync"
	"time"

	"github.com/golang-jwt/jwt/v5"

	pkgcrypto "github.com/daktarihub/daktari-client/internal/crypto"
	"github.com/daktarihub/daktari-client/internal/errs"
	"github.com/daktarihub/daktari-client/internal/limiter"
	"github.com/daktarihub/daktari-client/internal/model"
)

// authService registers accounts, checks passwords and issues access tokens.
type authService struct {
	store     *memStore
	signKey   []byte
	accessTTL time.Duration
	lim       limiter.Limiter
	now       func() time.Time

	mu      sync.Mutex
	revoked map[string]time.Time // token id -> expiry
}

func newAuthService(store *memStore, signKey []byte, accessTTL time.Duration, lim limiter.Limiter) *authService {
	return &authService{
		store:     store,
		signKey:   signKey,
		accessTTL: accessTTL,
		lim:       lim,
		now:       time.Now,
		revoked:   map[string]time.Time{},
	}
}

var errBadCredentials = errors.New("invalid email or password")

func (s *authService) register(r model.Registration) (*model.AuthPayload, error) {
	hash, err := pkgcrypto.Encode(r.Password)
	if err != nil {
		return nil, err
	}
	a := &account{
		user: model.User{
			ID:    newID(),
			Name:  strings.TrimSpace(r.Name),
			Email: strings.TrimSpace(r.Email),
			Role:  r.Role,
		},
		profile: model.Profile{Phone: r.Phone, Gender: r.Gender, Age: r.Age},
		pwdHash: hash,
	}
	if err := s.store.createAccount(a); err != nil {
		return nil, err
	}
	return s.payload(*a)
}

// login authenticates with rate limiting by (email, ip).
func (s *authService) login(ctx context.Context, cr model.Credentials, ip string) (*model.AuthPayload, error) {
	ipHash := limiter.HashIP(ip)
	email := strings.ToLower(strings.TrimSpace(cr.Email))

	allowed, _, err := s.lim.Allow(ctx, email, ipHash)
	if err != nil {
		return nil, err
	}
	if !allowed {
		return nil, errs.ErrRateLimited
	}

	a, err := s.store.accountByEmail(email)
	ok := false
	if err == nil {
		ok, err = pkgcrypto.Verify(cr.Password, a.pwdHash)
		if err != nil {
			return nil, err
		}
	}
	if !ok {
		if blocked, _, ferr := s.lim.Failure(ctx, email, ipHash); ferr == nil && blocked {
			return nil, errs.ErrRateLimited
		}
		// unknown email and wrong password look the same
		return nil, errBadCredentials
	}

	_ = s.lim.Success(ctx, email, ipHash)
	return s.payload(a)
}

func (s *authService) payload(a account) (*model.AuthPayload, error) {
	tok, err := s.issueAccessToken(a.user.ID)
	if err != nil {
		return nil, err
	}
	u, p := a.user, a.profile
	return &model.AuthPayload{User: &u, Profile: &p, AccessToken: tok}, nil
}

// issueAccessToken creates a signed HS256 JWT for the given subject.
func (s *authService) issueAccessToken(userID string) (string, error) {
	now := s.now()
	claims := jwt.RegisteredClaims{
		ID:        newID(),
		Subject:   userID,
		IssuedAt:  jwt.NewNumericDate(now),
		ExpiresAt: jwt.NewNumericDate(now.Add(s.accessTTL)),
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(s.signKey)
}

// verify checks signature, expiry and revocation and returns the claims.
func (s *authService) verify(tok string) (*jwt.RegisteredClaims, error) {
	var claims jwt.RegisteredClaims
	parsed, err := jwt.ParseWithClaims(tok, &claims, func(t *jwt.Token) (any, error) {
		if t.Method != jwt.SigningMethodHS256 {
			return nil, errors.New("unexpected signing method")
		}
		return s.signKey, nil
	}, jwt.WithTimeFunc(s.now), jwt.WithLeeway(30*time.Second), jwt.WithExpirationRequired())
	if err != nil || !parsed.Valid {
		return nil, errors.New("invalid token")
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.revoked[claims.ID]; ok {
		return nil, errors.New("token revoked")
	}
	return &claims, nil
}

// revoke blacklists the token id until it would have expired anyway.
func (s *authService) revoke(c *jwt.RegisteredClaims) {
	s.mu.Lock()
	defer s.mu.Unlock()
	now := s.now()
	for id, exp := range s.revoked {
		if exp.Before(now) {
			delete(s.revoked, id)
		}
	}
	var exp time.Time
	if c.ExpiresAt != nil {
		exp = c.ExpiresAt.Time
	}
	s.revoked[c.ID] = exp
}
