package identity

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"slices"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"

	"github.com/nkiryanov/creatorledger/internal/apperrors"
	"github.com/nkiryanov/creatorledger/internal/models"
	"github.com/nkiryanov/creatorledger/internal/repository"
)

const (
	defaultSigningMethod = "HS256"
	defaultTokenTTL      = 15 * time.Minute
)

// Claims issued by the identity provider
// Subject is the external user id
type Claims struct {
	jwt.RegisteredClaims
	Email string `json:"email"`
}

type Config struct {
	// Secret shared with the identity provider
	// Required to be set
	SecretKey string

	// JWT MAC algorithm. If not set than default is used
	Alg string

	// Lifetime of tokens issued by Issue. If not set than default is used
	TTL time.Duration

	// Emails treated as admins even without the persisted flag
	AdminEmails []string
}

// Provider validates bearer tokens and resolves them to local users
type Provider struct {
	key         string
	alg         jwt.SigningMethod
	ttl         time.Duration
	adminEmails []string

	users repository.UserRepo
}

func New(cfg Config, users repository.UserRepo) (*Provider, error) {
	if cfg.SecretKey == "" {
		return nil, errors.New("secret key must not be empty")
	}

	if cfg.Alg == "" {
		cfg.Alg = defaultSigningMethod
	}
	alg := jwt.GetSigningMethod(cfg.Alg)
	if alg == nil {
		return nil, fmt.Errorf("unknown signing method %q", cfg.Alg)
	}

	if cfg.TTL == 0 {
		cfg.TTL = defaultTokenTTL
	}

	emails := make([]string, 0, len(cfg.AdminEmails))
	for _, email := range cfg.AdminEmails {
		if email = strings.ToLower(strings.TrimSpace(email)); email != "" {
			emails = append(emails, email)
		}
	}

	return &Provider{
		key:         cfg.SecretKey,
		alg:         alg,
		ttl:         cfg.TTL,
		adminEmails: emails,
		users:       users,
	}, nil
}

// Issue signed token for the external user
// Used by local tooling, production tokens come from the identity provider
func (p *Provider) Issue(externalID string, email string) (string, time.Time, error) {
	now := time.Now().Truncate(time.Second)
	expiresAt := now.Add(p.ttl)

	token := jwt.NewWithClaims(p.alg, Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			ID:        uuid.NewString(),
			Subject:   externalID,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(expiresAt),
		},
		Email: email,
	})

	signed, err := token.SignedString([]byte(p.key))
	if err != nil {
		return "", time.Time{}, fmt.Errorf("error while signing token. Err: %w", err)
	}
	return signed, expiresAt, nil
}

// Parse and validate token
func (p *Provider) Parse(raw string) (Claims, error) {
	claims := Claims{}
	token, err := jwt.ParseWithClaims(
		raw,
		&claims,
		func(t *jwt.Token) (any, error) { return []byte(p.key), nil },
		jwt.WithValidMethods([]string{p.alg.Alg()}),
		jwt.WithExpirationRequired(),
	)

	switch {
	case err != nil:
		return Claims{}, fmt.Errorf("error parsing token. Err: %w", err)
	case !token.Valid:
		return Claims{}, errors.New("token is not valid")
	case claims.Subject == "":
		return Claims{}, errors.New("token subject is empty")
	default:
		return claims, nil
	}
}

// Authenticate request by its bearer token and return the local user mirror
// All failures wrap apperrors.ErrUnauthorized
func (p *Provider) Authenticate(ctx context.Context, r *http.Request) (models.User, error) {
	raw, ok := bearerToken(r)
	if !ok {
		return models.User{}, fmt.Errorf("%w: bearer token required", apperrors.ErrUnauthorized)
	}

	claims, err := p.Parse(raw)
	if err != nil {
		return models.User{}, fmt.Errorf("%w: %w", apperrors.ErrUnauthorized, err)
	}

	user, err := p.users.GetOrCreateUser(ctx, claims.Subject, claims.Email)
	if err != nil {
		return models.User{}, fmt.Errorf("%w: %w", apperrors.ErrUnauthorized, err)
	}
	return user, nil
}

func (p *Provider) IsAdmin(user models.User) bool {
	if user.IsAdmin {
		return true
	}
	// TODO: drop the email allow-list once admin flags are managed through the identity provider
	return user.Email != "" && slices.Contains(p.adminEmails, strings.ToLower(user.Email))
}

func bearerToken(r *http.Request) (string, bool) {
	scheme, token, ok := strings.Cut(r.Header.Get("Authorization"), " ")
	if !ok || !strings.EqualFold(scheme, "Bearer") {
		return "", false
	}
	token = strings.TrimSpace(token)
	return token, token != ""
}
