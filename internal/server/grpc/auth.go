package grpcserver

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"google.golang.org/grpc/metadata"

	"github.com/and161185/lms-core/internal/model"
)

// Claims are the JWT claims the server understands: sub is the user id and
// role "admin" grants the admin override.
type Claims struct {
	Role string `json:"role,omitempty"`
	jwt.RegisteredClaims
}

// Authenticator verifies HS256 bearer tokens issued by the identity provider.
type Authenticator struct {
	key    []byte
	leeway time.Duration
}

// NewAuthenticator constructs an Authenticator for the shared signing key.
func NewAuthenticator(key []byte) *Authenticator {
	return &Authenticator{key: key, leeway: 30 * time.Second}
}

// Identify extracts "authorization: Bearer <JWT>", verifies it and returns the caller.
func (a *Authenticator) Identify(ctx context.Context) (Identity, error) {
	tok, err := bearerTokenFromMD(ctx)
	if err != nil {
		return Identity{}, err
	}

	var claims Claims
	parsed, err := jwt.ParseWithClaims(tok, &claims, func(t *jwt.Token) (any, error) {
		if t.Method != jwt.SigningMethodHS256 {
			return nil, errors.New("unexpected signing method")
		}
		return a.key, nil
	}, jwt.WithLeeway(a.leeway))
	if err != nil || !parsed.Valid {
		return Identity{}, errors.New("invalid token")
	}
	if claims.Subject == "" {
		return Identity{}, errors.New("bad subject")
	}
	return Identity{UserID: claims.Subject, Admin: claims.Role == model.RoleAdmin}, nil
}

func bearerTokenFromMD(ctx context.Context) (string, error) {
	md, ok := metadata.FromIncomingContext(ctx)
	if !ok {
		return "", errors.New("no metadata")
	}
	for _, v := range md.Get("authorization") {
		v = strings.TrimSpace(v)
		if len(v) >= 7 && strings.EqualFold(v[:7], "bearer ") {
			t := strings.TrimSpace(v[7:])
			if t != "" {
				return t, nil
			}
		}
	}
	return "", errors.New("no bearer token")
}
