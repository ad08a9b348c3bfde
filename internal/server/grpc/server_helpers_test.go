package grpcserver

import (
	"context"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"google.golang.org/grpc/metadata"
)

func makeJWT(t *testing.T, sub, role string, key []byte, method jwt.SigningMethod, iat time.Time, ttl time.Duration) string {
	t.Helper()
	claims := Claims{
		Role: role,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   sub,
			IssuedAt:  jwt.NewNumericDate(iat),
			NotBefore: jwt.NewNumericDate(iat),
			ExpiresAt: jwt.NewNumericDate(iat.Add(ttl)),
		},
	}
	s, err := jwt.NewWithClaims(method, claims).SignedString(key)
	if err != nil {
		t.Fatalf("SignedString: %v", err)
	}
	return s
}

func ctxWithAuth(token string) context.Context {
	md := metadata.New(map[string]string{
		"authorization": "Bearer " + token,
	})
	return metadata.NewIncomingContext(context.Background(), md)
}

func Test_bearerTokenFromMD_OkAndErrors(t *testing.T) {
	t.Parallel()

	ctx := metadata.NewIncomingContext(context.Background(), metadata.Pairs("authorization", "Bearer abc.def.ghi"))
	got, err := bearerTokenFromMD(ctx)
	if err != nil || got != "abc.def.ghi" {
		t.Fatalf("ok: got=%q err=%v", got, err)
	}

	ctx = metadata.NewIncomingContext(context.Background(), metadata.Pairs("authorization", "Basic foo"))
	if _, err := bearerTokenFromMD(ctx); err == nil {
		t.Fatalf("want error on non-bearer")
	}

	ctx = metadata.NewIncomingContext(context.Background(), metadata.Pairs("authorization", "Bearer   "))
	if _, err := bearerTokenFromMD(ctx); err == nil {
		t.Fatalf("want error on empty token")
	}

	if _, err := bearerTokenFromMD(context.Background()); err == nil {
		t.Fatalf("want error on no metadata")
	}
}

func TestAuthenticator_Identify_Valid(t *testing.T) {
	t.Parallel()

	key := []byte("secret")
	a := NewAuthenticator(key)
	j := makeJWT(t, "u-42", "", key, jwt.SigningMethodHS256, time.Now().UTC().Add(-time.Minute), 10*time.Minute)

	id, err := a.Identify(ctxWithAuth(j))
	if err != nil {
		t.Fatalf("Identify: %v", err)
	}
	if id.UserID != "u-42" || id.Admin {
		t.Fatalf("identity mismatch: %+v", id)
	}
}

func TestAuthenticator_Identify_AdminRole(t *testing.T) {
	t.Parallel()

	key := []byte("secret")
	a := NewAuthenticator(key)
	j := makeJWT(t, "boss", "admin", key, jwt.SigningMethodHS256, time.Now().UTC(), time.Hour)

	id, err := a.Identify(ctxWithAuth(j))
	if err != nil || !id.Admin {
		t.Fatalf("want admin identity, got %+v err=%v", id, err)
	}

	j = makeJWT(t, "boss", "editor", key, jwt.SigningMethodHS256, time.Now().UTC(), time.Hour)
	if id, _ := a.Identify(ctxWithAuth(j)); id.Admin {
		t.Fatalf("only role=admin grants the override")
	}
}

func TestAuthenticator_Identify_Rejects(t *testing.T) {
	t.Parallel()

	key := []byte("secret")
	a := NewAuthenticator(key)
	now := time.Now().UTC()

	cases := map[string]context.Context{
		"no metadata":   context.Background(),
		"expired":       ctxWithAuth(makeJWT(t, "u1", "", key, jwt.SigningMethodHS256, now.Add(-2*time.Hour), -time.Hour)),
		"empty subject": ctxWithAuth(makeJWT(t, "", "", key, jwt.SigningMethodHS256, now, time.Hour)),
		"wrong alg":     ctxWithAuth(makeJWT(t, "u1", "", key, jwt.SigningMethodHS384, now, time.Hour)),
		"wrong key":     ctxWithAuth(makeJWT(t, "u1", "", []byte("other"), jwt.SigningMethodHS256, now, time.Hour)),
		"garbage":       ctxWithAuth("this-is-not-a-jwt"),
	}
	for name, ctx := range cases {
		if _, err := a.Identify(ctx); err == nil {
			t.Fatalf("%s: want error", name)
		}
	}
}
