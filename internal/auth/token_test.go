package auth

import (
	"testing"
	"time"

	"github.com/lestrrat-go/jwx/v2/jwa"
	"github.com/lestrrat-go/jwx/v2/jwt"

	"github.com/voxlate/voxlate/internal/config"
)

const testSecret = "test-secret"

func signToken(t *testing.T, sub string, exp time.Time, secret string) string {
	t.Helper()
	builder := jwt.NewBuilder().Expiration(exp)
	if sub != "" {
		builder = builder.Subject(sub)
	}
	tok, err := builder.Build()
	if err != nil {
		t.Fatalf("build token: %v", err)
	}
	signed, err := jwt.Sign(tok, jwt.WithKey(jwa.HS256, []byte(secret)))
	if err != nil {
		t.Fatalf("sign token: %v", err)
	}
	return string(signed)
}

func newVerifier() *Verifier {
	return NewVerifier(config.Config{AuthJWTSecret: testSecret})
}

func TestVerifyBearer(t *testing.T) {
	v := newVerifier()
	raw := signToken(t, "user-1", time.Now().Add(time.Hour), testSecret)

	sub, err := v.VerifyBearer("Bearer " + raw)
	if err != nil {
		t.Fatalf("verify: %v", err)
	}
	if sub != "user-1" {
		t.Fatalf("subject = %s, want user-1", sub)
	}
}

func TestVerifyRejects(t *testing.T) {
	v := newVerifier()

	cases := []struct {
		name   string
		header string
		want   error
	}{
		{"empty header", "", ErrMissingToken},
		{"no bearer prefix", "Token abc", ErrInvalidToken},
		{"garbage token", "Bearer not-a-jwt", ErrInvalidToken},
		{"expired", "Bearer " + signToken(t, "user-1", time.Now().Add(-time.Hour), testSecret), ErrInvalidToken},
		{"wrong secret", "Bearer " + signToken(t, "user-1", time.Now().Add(time.Hour), "other-secret"), ErrInvalidToken},
		{"missing subject", "Bearer " + signToken(t, "", time.Now().Add(time.Hour), testSecret), ErrInvalidToken},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if _, err := v.VerifyBearer(tc.header); err != tc.want {
				t.Fatalf("err = %v, want %v", err, tc.want)
			}
		})
	}
}
