// Пакет idtoken — чтение claims из bearer-токенов IdP.
// Два режима: DecodingReader (без проверки подписи, доверие upstream)
// и VerifyingReader (подпись RS256 по JWKS издателя, ключи в LRU-кэше).
package idtoken

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// Ошибки чтения токенов.
var (
	// ErrInvalidToken — любой сбой декодирования или проверки токена.
	ErrInvalidToken = errors.New("невалидный токен")
	// ErrTokenExpired — срок действия истёк. Всегда сопровождается ErrInvalidToken.
	ErrTokenExpired = errors.New("срок действия токена истёк")
	// ErrInconsistentTokens — access и ID токены принадлежат разным пользователям.
	ErrInconsistentTokens = errors.New("токены не принадлежат одному пользователю")
)

// DefaultUsernameClaims — claims с именем пользователя, в порядке приоритета.
var DefaultUsernameClaims = []string{"username", "cognito:username", "preferred_username"}

// Claims — извлечённые из токена данные субъекта.
type Claims struct {
	Subject   string
	Username  string
	Name      string
	Email     string
	Groups    []string
	ExpiresAt time.Time
	// TokenUse — token_use (access/id), если IdP его выставляет.
	TokenUse string
	ClientID string
}

// Reader — чтение claims из токена.
type Reader interface {
	// Decode возвращает claims или ошибку, сопоставимую с ErrInvalidToken.
	Decode(ctx context.Context, token string) (*Claims, error)
	// IsExpired — true для просроченного, нечитаемого или бессрочного токена.
	IsExpired(token string) bool
}

// CheckPair проверяет, что оба токена принадлежат одному пользователю.
func CheckPair(access, id *Claims) error {
	if access == nil || id == nil {
		return ErrInconsistentTokens
	}
	if access.Username == "" || id.Username == "" {
		return fmt.Errorf("%w: в токене отсутствует имя пользователя", ErrInconsistentTokens)
	}
	if access.Username != id.Username {
		return fmt.Errorf("%w: %q != %q", ErrInconsistentTokens, access.Username, id.Username)
	}
	return nil
}

// invalid оборачивает причину в ErrInvalidToken, сохраняя ErrTokenExpired.
func invalid(cause error) error {
	if errors.Is(cause, jwt.ErrTokenExpired) {
		return fmt.Errorf("%w: %w", ErrInvalidToken, ErrTokenExpired)
	}
	return fmt.Errorf("%w: %v", ErrInvalidToken, cause)
}

// claimsFromMap собирает Claims из разобранного payload.
func claimsFromMap(m jwt.MapClaims, usernameClaims []string) *Claims {
	c := &Claims{
		Subject:  stringClaim(m, "sub"),
		Name:     stringClaim(m, "name"),
		Email:    stringClaim(m, "email"),
		TokenUse: stringClaim(m, "token_use"),
		ClientID: stringClaim(m, "client_id"),
	}
	if c.ClientID == "" {
		c.ClientID = stringClaim(m, "azp")
	}

	for _, name := range usernameClaims {
		if v := stringClaim(m, name); v != "" {
			c.Username = v
			break
		}
	}

	c.Groups = stringsClaim(m, "cognito:groups")
	if len(c.Groups) == 0 {
		c.Groups = stringsClaim(m, "groups")
	}

	if exp, err := m.GetExpirationTime(); err == nil && exp != nil {
		c.ExpiresAt = exp.Time
	}
	return c
}

func stringClaim(m jwt.MapClaims, name string) string {
	s, _ := m[name].(string)
	return s
}

func stringsClaim(m jwt.MapClaims, name string) []string {
	raw, ok := m[name].([]any)
	if !ok {
		return nil
	}
	out := make([]string, 0, len(raw))
	for _, v := range raw {
		if s, ok := v.(string); ok {
			out = append(out, s)
		}
	}
	return out
}

// isExpired разбирает токен без проверки подписи и сверяет exp с текущим временем.
func isExpired(token string, leeway time.Duration) bool {
	m := jwt.MapClaims{}
	if _, _, err := jwt.NewParser().ParseUnverified(token, m); err != nil {
		return true
	}
	exp, err := m.GetExpirationTime()
	if err != nil || exp == nil {
		return true
	}
	return time.Now().After(exp.Add(leeway))
}
