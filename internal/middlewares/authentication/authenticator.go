package authentication

import (
	"context"
	"crypto/subtle"
	"errors"
	"fmt"
	"sync"

	"github.com/coreos/go-oidc/v3/oidc"
	"github.com/golang-jwt/jwt/v5"
	"github.com/the127/upyard/internal/config"
	"github.com/the127/upyard/internal/utils/apiError"
)

// Authenticator checks bearer tokens presented by uploaders.
type Authenticator interface {
	// Required reports whether requests without credentials are rejected.
	Required() bool
	Authenticate(ctx context.Context, token string) (*CurrentUser, error)
}

func NewAuthenticator(c config.AuthConfig) (Authenticator, error) {
	switch c.Mode {
	case config.AuthModeNone:
		return &anonymousAuthenticator{}, nil

	case config.AuthModeStatic:
		return NewStaticAuthenticator(c.Tokens), nil

	case config.AuthModeJwt:
		return NewJwtAuthenticator(c.Jwt.Secret, c.Jwt.Issuer, c.Jwt.Audience), nil

	case config.AuthModeOidc:
		return NewOidcAuthenticator(c.Oidc.Issuer, c.Oidc.ClientId), nil

	default:
		return nil, fmt.Errorf("unsupported auth mode: %s", c.Mode)
	}
}

type anonymousAuthenticator struct{}

func (a *anonymousAuthenticator) Required() bool {
	return false
}

func (a *anonymousAuthenticator) Authenticate(_ context.Context, _ string) (*CurrentUser, error) {
	return &CurrentUser{}, nil
}

type staticAuthenticator struct {
	tokens [][]byte
}

// NewStaticAuthenticator accepts a fixed list of shared tokens.
func NewStaticAuthenticator(tokens []string) Authenticator {
	converted := make([][]byte, len(tokens))
	for i, token := range tokens {
		converted[i] = []byte(token)
	}

	return &staticAuthenticator{
		tokens: converted,
	}
}

func (a *staticAuthenticator) Required() bool {
	return true
}

func (a *staticAuthenticator) Authenticate(_ context.Context, token string) (*CurrentUser, error) {
	presented := []byte(token)

	matched := 0
	for _, known := range a.tokens {
		matched |= subtle.ConstantTimeCompare(presented, known)
	}

	if matched != 1 {
		return nil, fmt.Errorf("unknown token: %w", apiError.ErrApiForbidden)
	}

	return &CurrentUser{
		IsAuthenticated: true,
	}, nil
}

type jwtAuthenticator struct {
	secret   []byte
	issuer   string
	audience string
}

// NewJwtAuthenticator accepts HS256 tokens signed with secret. Issuer and
// audience are only checked when set.
func NewJwtAuthenticator(secret string, issuer string, audience string) Authenticator {
	return &jwtAuthenticator{
		secret:   []byte(secret),
		issuer:   issuer,
		audience: audience,
	}
}

func (a *jwtAuthenticator) Required() bool {
	return true
}

func (a *jwtAuthenticator) Authenticate(_ context.Context, token string) (*CurrentUser, error) {
	options := []jwt.ParserOption{
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithExpirationRequired(),
	}
	if a.issuer != "" {
		options = append(options, jwt.WithIssuer(a.issuer))
	}
	if a.audience != "" {
		options = append(options, jwt.WithAudience(a.audience))
	}

	claims := &jwt.RegisteredClaims{}
	_, err := jwt.ParseWithClaims(token, claims, func(_ *jwt.Token) (any, error) {
		return a.secret, nil
	}, options...)
	if err != nil {
		return nil, fmt.Errorf("invalid token: %s: %w", err.Error(), apiError.ErrApiForbidden)
	}

	return &CurrentUser{
		Subject:         claims.Subject,
		IsAuthenticated: true,
	}, nil
}

type oidcAuthenticator struct {
	issuer   string
	clientId string

	mu       sync.Mutex
	verifier *oidc.IDTokenVerifier
}

// NewOidcAuthenticator verifies id tokens against the issuer's published
// keys. Discovery happens on first use and is retried until it succeeds.
func NewOidcAuthenticator(issuer string, clientId string) Authenticator {
	return &oidcAuthenticator{
		issuer:   issuer,
		clientId: clientId,
	}
}

func (a *oidcAuthenticator) Required() bool {
	return true
}

func (a *oidcAuthenticator) getVerifier(ctx context.Context) (*oidc.IDTokenVerifier, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	if a.verifier != nil {
		return a.verifier, nil
	}

	provider, err := oidc.NewProvider(context.WithoutCancel(ctx), a.issuer)
	if err != nil {
		return nil, fmt.Errorf("failed to create oidc provider: %w", err)
	}

	a.verifier = provider.Verifier(&oidc.Config{
		ClientID: a.clientId,
	})

	return a.verifier, nil
}

func (a *oidcAuthenticator) Authenticate(ctx context.Context, token string) (*CurrentUser, error) {
	verifier, err := a.getVerifier(ctx)
	if err != nil {
		return nil, err
	}

	idToken, err := verifier.Verify(ctx, token)
	if err != nil {
		var expired *oidc.TokenExpiredError
		if errors.As(err, &expired) {
			return nil, fmt.Errorf("token expired at %s: %w", expired.Expiry, apiError.ErrApiForbidden)
		}
		return nil, fmt.Errorf("failed to verify token: %w", apiError.ErrApiForbidden)
	}

	return &CurrentUser{
		Subject:         idToken.Subject,
		IsAuthenticated: true,
	}, nil
}
