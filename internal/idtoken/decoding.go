package idtoken

import (
	"context"
	"errors"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// DecodingReader читает claims без проверки подписи. Подходит только когда
// подлинность токена уже проверена upstream (API gateway).
type DecodingReader struct {
	usernameClaims []string
	leeway         time.Duration
	parser         *jwt.Parser
}

// NewDecodingReader создаёт Reader без проверки подписи.
// Пустой usernameClaims — DefaultUsernameClaims.
func NewDecodingReader(usernameClaims []string, leeway time.Duration) *DecodingReader {
	if len(usernameClaims) == 0 {
		usernameClaims = DefaultUsernameClaims
	}
	return &DecodingReader{
		usernameClaims: usernameClaims,
		leeway:         leeway,
		parser:         jwt.NewParser(),
	}
}

// Decode разбирает payload и проверяет срок действия.
func (d *DecodingReader) Decode(_ context.Context, token string) (*Claims, error) {
	if token == "" {
		return nil, invalid(errors.New("пустой токен"))
	}

	m := jwt.MapClaims{}
	if _, _, err := d.parser.ParseUnverified(token, m); err != nil {
		return nil, invalid(err)
	}

	c := claimsFromMap(m, d.usernameClaims)
	if c.ExpiresAt.IsZero() {
		return nil, invalid(errors.New("отсутствует exp"))
	}
	if time.Now().After(c.ExpiresAt.Add(d.leeway)) {
		return nil, invalid(jwt.ErrTokenExpired)
	}
	return c, nil
}

// IsExpired — true для просроченного или нечитаемого токена.
func (d *DecodingReader) IsExpired(token string) bool {
	return isExpired(token, d.leeway)
}
