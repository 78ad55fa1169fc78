// Package auth verifies the bearer tokens issued by the account service.
package auth

import (
	"errors"
	"strings"

	"github.com/lestrrat-go/jwx/v2/jwa"
	"github.com/lestrrat-go/jwx/v2/jwt"

	"github.com/voxlate/voxlate/internal/config"
)

var (
	ErrMissingToken = errors.New("missing_token")
	ErrInvalidToken = errors.New("invalid_token")
)

// Verifier checks HS256 signatures and standard claims on access tokens.
type Verifier struct {
	secret []byte
}

func NewVerifier(cfg config.Config) *Verifier {
	return &Verifier{secret: []byte(cfg.AuthJWTSecret)}
}

// VerifyBearer validates an Authorization header value and returns the
// subject user id.
func (v *Verifier) VerifyBearer(header string) (string, error) {
	header = strings.TrimSpace(header)
	if header == "" {
		return "", ErrMissingToken
	}
	const prefix = "Bearer "
	if !strings.HasPrefix(header, prefix) {
		return "", ErrInvalidToken
	}
	return v.Verify(strings.TrimSpace(header[len(prefix):]))
}

// Verify validates a raw compact JWS token. Expiry is honored; a token
// without a subject is rejected.
func (v *Verifier) Verify(raw string) (string, error) {
	if raw == "" {
		return "", ErrMissingToken
	}
	tok, err := jwt.Parse([]byte(raw),
		jwt.WithKey(jwa.HS256, v.secret),
		jwt.WithValidate(true),
	)
	if err != nil {
		return "", ErrInvalidToken
	}
	sub := strings.TrimSpace(tok.Subject())
	if sub == "" {
		return "", ErrInvalidToken
	}
	return sub, nil
}
