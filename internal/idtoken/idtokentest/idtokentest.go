// Пакет idtokentest — вспомогательные функции для тестов: RSA-ключ,
// JWKS и подписанные токены.
package idtokentest

import (
	"crypto/rand"
	"crypto/rsa"
	"encoding/base64"
	"encoding/json"
	"math/big"
	"testing"
	"time"

	"github.com/MicahParks/keyfunc/v3"
	"github.com/golang-jwt/jwt/v5"
)

// KeyID — kid тестового ключа.
const KeyID = "test-key-dp"

// Issuer — iss тестовых токенов.
const Issuer = "https://idp.test/realms/docportal"

// Signer подписывает тестовые токены.
type Signer struct {
	Key *rsa.PrivateKey
	KID string
}

// NewSigner генерирует RSA ключ для тестов.
func NewSigner(t testing.TB) *Signer {
	t.Helper()
	key, err := rsa.GenerateKey(rand.Reader, 2048)
	if err != nil {
		t.Fatal(err)
	}
	return &Signer{Key: key, KID: KeyID}
}

// JWKS строит JWKS JSON из публичного ключа.
func (s *Signer) JWKS() json.RawMessage {
	pub := &s.Key.PublicKey
	jwks := map[string]any{
		"keys": []map[string]any{
			{
				"kty": "RSA",
				"kid": s.KID,
				"use": "sig",
				"alg": "RS256",
				"n":   base64.RawURLEncoding.EncodeToString(pub.N.Bytes()),
				"e":   base64.RawURLEncoding.EncodeToString(big.NewInt(int64(pub.E)).Bytes()),
			},
		},
	}
	data, _ := json.Marshal(jwks)
	return data
}

// Keyfunc возвращает keyfunc по статическому JWKS.
func (s *Signer) Keyfunc(t testing.TB) keyfunc.Keyfunc {
	t.Helper()
	kf, err := keyfunc.NewJWKSetJSON(s.JWKS())
	if err != nil {
		t.Fatalf("не удалось создать keyfunc: %v", err)
	}
	return kf
}

// Sign подписывает claims алгоритмом RS256 с kid в заголовке.
func (s *Signer) Sign(t testing.TB, claims jwt.MapClaims) string {
	t.Helper()
	token := jwt.NewWithClaims(jwt.SigningMethodRS256, claims)
	token.Header["kid"] = s.KID
	signed, err := token.SignedString(s.Key)
	if err != nil {
		t.Fatalf("не удалось подписать токен: %v", err)
	}
	return signed
}

// UserClaims — типовые claims пользователя со сроком действия ttl
// (отрицательный ttl — просроченный токен).
func UserClaims(username string, ttl time.Duration) jwt.MapClaims {
	now := time.Now()
	return jwt.MapClaims{
		"sub":                "sub-" + username,
		"iss":                Issuer,
		"preferred_username": username,
		"name":               "Usuario " + username,
		"email":              username + "@example.test",
		"exp":                jwt.NewNumericDate(now.Add(ttl)),
		"iat":                jwt.NewNumericDate(now),
	}
}

// Pair возвращает access и ID токены одного пользователя.
func (s *Signer) Pair(t testing.TB, username string) (access, id string) {
	t.Helper()
	return s.Sign(t, UserClaims(username, time.Hour)), s.Sign(t, UserClaims(username, time.Hour))
}
