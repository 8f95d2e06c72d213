// Package identity derives the local user from the bearer token the client keeps.
package identity

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strings"

	"github.com/golang-jwt/jwt/v5"
	"github.com/sharetube/watchparty/internal/domain"
)

var (
	ErrNoToken      = errors.New("no token")
	ErrInvalidToken = errors.New("invalid token")
)

// TokenSource returns the raw JWT, or ErrNoToken.
type TokenSource interface {
	Token(ctx context.Context) (string, error)
}

type StaticToken string

func (t StaticToken) Token(context.Context) (string, error) {
	if strings.TrimSpace(string(t)) == "" {
		return "", ErrNoToken
	}

	return strings.TrimSpace(string(t)), nil
}

// FileToken reads the token from a file on every call, so a re-login is picked up.
type FileToken string

func (f FileToken) Token(context.Context) (string, error) {
	data, err := os.ReadFile(string(f))
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return "", ErrNoToken
		}
		return "", fmt.Errorf("failed to read token file: %w", err)
	}

	return StaticToken(data).Token(context.Background())
}

type Claims struct {
	AvatarURL string `json:"avt_url"`
	jwt.RegisteredClaims
}

type Resolver struct {
	source TokenSource
	parser *jwt.Parser
	logger *slog.Logger
}

func NewResolver(source TokenSource, logger *slog.Logger) *Resolver {
	if logger == nil {
		logger = slog.Default()
	}

	return &Resolver{
		source: source,
		parser: jwt.NewParser(),
		logger: logger,
	}
}

// Parse decodes the claims of token without verifying its signature.
func (r *Resolver) Parse(token string) (domain.User, error) {
	var claims Claims
	if _, _, err := r.parser.ParseUnverified(token, &claims); err != nil {
		return domain.User{}, fmt.Errorf("%w: %w", ErrInvalidToken, err)
	}

	if claims.Subject == "" {
		return domain.User{}, fmt.Errorf("%w: missing subject", ErrInvalidToken)
	}

	avatarURL := claims.AvatarURL
	if avatarURL == "" {
		avatarURL = domain.DefaultAvatarURL
	}

	return domain.User{
		Username:  claims.Subject,
		AvatarURL: avatarURL,
	}, nil
}

// Resolve never fails: a missing or malformed token yields the anonymous user.
func (r *Resolver) Resolve(ctx context.Context) domain.User {
	token, err := r.source.Token(ctx)
	if err != nil {
		r.logger.InfoContext(ctx, "no identity token, continuing anonymously", "error", err)
		return domain.AnonymousUser()
	}

	user, err := r.Parse(token)
	if err != nil {
		r.logger.WarnContext(ctx, "failed to parse identity token", "error", err)
		return domain.AnonymousUser()
	}

	return user
}
