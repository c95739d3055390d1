package idtoken

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/bigkaa/docportal/internal/idtoken/idtokentest"
)

func TestDecodingReader(t *testing.T) {
	signer := idtokentest.NewSigner(t)
	r := NewDecodingReader(nil, 0)
	ctx := context.Background()

	valid := signer.Sign(t, idtokentest.UserClaims("alice", time.Hour))
	c, err := r.Decode(ctx, valid)
	if err != nil {
		t.Fatalf("Decode() ошибка: %v", err)
	}
	if c.Username != "alice" || c.Email != "alice@example.test" || c.Name != "Usuario alice" {
		t.Errorf("claims = %+v", c)
	}
	if r.IsExpired(valid) {
		t.Error("IsExpired() = true для действующего токена")
	}

	expired := signer.Sign(t, idtokentest.UserClaims("alice", -time.Hour))
	_, err = r.Decode(ctx, expired)
	if !errors.Is(err, ErrInvalidToken) || !errors.Is(err, ErrTokenExpired) {
		t.Errorf("Decode() просроченного = %v, ожидались ErrInvalidToken и ErrTokenExpired", err)
	}
	if !r.IsExpired(expired) {
		t.Error("IsExpired() = false для просроченного токена")
	}
}

func TestDecodingReader_Malformed(t *testing.T) {
	r := NewDecodingReader(nil, 0)
	signer := idtokentest.NewSigner(t)

	noExp := signer.Sign(t, jwt.MapClaims{"username": "alice"})

	for _, token := range []string{"", "abc", "a.b.c", "Bearer x.y.z", noExp} {
		t.Run(token, func(t *testing.T) {
			_, err := r.Decode(context.Background(), token)
			if !errors.Is(err, ErrInvalidToken) {
				t.Errorf("Decode(%q) = %v, ожидался ErrInvalidToken", token, err)
			}
			if errors.Is(err, ErrTokenExpired) {
				t.Errorf("Decode(%q) ошибочно помечен как просроченный", token)
			}
			if !r.IsExpired(token) {
				t.Errorf("IsExpired(%q) = false, нечитаемый токен считается просроченным", token)
			}
		})
	}
}

func TestUsernameClaimPriority(t *testing.T) {
	signer := idtokentest.NewSigner(t)
	claims := idtokentest.UserClaims("pref", time.Hour)
	claims["cognito:username"] = "cognito"
	claims["cognito:groups"] = []string{"admins", "viewers"}

	token := signer.Sign(t, claims)

	c, err := NewDecodingReader(nil, 0).Decode(context.Background(), token)
	if err != nil {
		t.Fatalf("Decode() ошибка: %v", err)
	}
	if c.Username != "cognito" {
		t.Errorf("Username = %q, ожидался cognito:username", c.Username)
	}
	if len(c.Groups) != 2 || c.Groups[0] != "admins" {
		t.Errorf("Groups = %v", c.Groups)
	}

	c, err = NewDecodingReader([]string{"preferred_username"}, 0).Decode(context.Background(), token)
	if err != nil {
		t.Fatalf("Decode() ошибка: %v", err)
	}
	if c.Username != "pref" {
		t.Errorf("Username = %q, ожидался preferred_username", c.Username)
	}
}

func TestVerifyingReader(t *testing.T) {
	signer := idtokentest.NewSigner(t)
	cache := NewKeyCache(5, time.Minute)
	r := NewVerifyingReader(signer.Keyfunc(t), cache, VerifyOptions{Issuer: idtokentest.Issuer})
	ctx := context.Background()

	token := signer.Sign(t, idtokentest.UserClaims("alice", time.Hour))
	c, err := r.Decode(ctx, token)
	if err != nil {
		t.Fatalf("Decode() ошибка: %v", err)
	}
	if c.Username != "alice" || c.Subject != "sub-alice" {
		t.Errorf("claims = %+v", c)
	}
	if cache.Len() != 1 {
		t.Errorf("ключей в кэше %d, ожидался 1", cache.Len())
	}

	// Чужой ключ с тем же kid
	other := idtokentest.NewSigner(t)
	forged := other.Sign(t, idtokentest.UserClaims("alice", time.Hour))
	if _, err := r.Decode(ctx, forged); !errors.Is(err, ErrInvalidToken) {
		t.Errorf("Decode() поддельного = %v, ожидался ErrInvalidToken", err)
	}

	expired := signer.Sign(t, idtokentest.UserClaims("alice", -time.Hour))
	if _, err := r.Decode(ctx, expired); !errors.Is(err, ErrTokenExpired) {
		t.Errorf("Decode() просроченного = %v, ожидался ErrTokenExpired", err)
	}

	wrongIss := idtokentest.UserClaims("alice", time.Hour)
	wrongIss["iss"] = "https://evil.test"
	if _, err := r.Decode(ctx, signer.Sign(t, wrongIss)); !errors.Is(err, ErrInvalidToken) {
		t.Errorf("Decode() с чужим iss = %v, ожидался ErrInvalidToken", err)
	}

	// Подпись HS256 отклоняется
	hs := jwt.NewWithClaims(jwt.SigningMethodHS256, idtokentest.UserClaims("alice", time.Hour))
	hs.Header["kid"] = signer.KID
	hsToken, _ := hs.SignedString([]byte("secret"))
	if _, err := r.Decode(ctx, hsToken); !errors.Is(err, ErrInvalidToken) {
		t.Errorf("Decode() HS256 = %v, ожидался ErrInvalidToken", err)
	}
}

func TestVerifyingReader_Audience(t *testing.T) {
	signer := idtokentest.NewSigner(t)
	r := NewVerifyingReader(signer.Keyfunc(t), nil, VerifyOptions{Audience: "docportal-web"})

	claims := idtokentest.UserClaims("alice", time.Hour)
	claims["aud"] = "docportal-web"
	if _, err := r.Decode(context.Background(), signer.Sign(t, claims)); err != nil {
		t.Errorf("Decode() с верным aud: %v", err)
	}

	claims["aud"] = "other"
	if _, err := r.Decode(context.Background(), signer.Sign(t, claims)); !errors.Is(err, ErrInvalidToken) {
		t.Errorf("Decode() с чужим aud = %v, ожидался ErrInvalidToken", err)
	}
}

func TestKeyCache(t *testing.T) {
	var calls atomic.Int32
	next := func(token *jwt.Token) (any, error) {
		calls.Add(1)
		return []byte("key-" + token.Header["kid"].(string)), nil
	}

	cache := NewKeyCache(2, time.Minute)
	kf := cache.Keyfunc(next)

	tok := func(kid string) *jwt.Token {
		return &jwt.Token{Header: map[string]any{"kid": kid}}
	}

	for range 3 {
		if _, err := kf(tok("a")); err != nil {
			t.Fatalf("Keyfunc() ошибка: %v", err)
		}
	}
	if calls.Load() != 1 {
		t.Errorf("next вызван %d раз, ожидался 1", calls.Load())
	}

	// Вытеснение: размер 2
	_, _ = kf(tok("b"))
	_, _ = kf(tok("c"))
	if cache.Len() != 2 {
		t.Errorf("Len() = %d, ожидалось 2", cache.Len())
	}

	if _, err := kf(tok("")); !errors.Is(err, errMissingKID) {
		t.Errorf("Keyfunc() без kid = %v", err)
	}

	failing := NewKeyCache(2, time.Minute).Keyfunc(func(*jwt.Token) (any, error) {
		return nil, fmt.Errorf("ключ не найден")
	})
	if _, err := failing(tok("x")); err == nil {
		t.Error("ошибка next не передана")
	}
}

func TestKeyCache_TTL(t *testing.T) {
	var calls atomic.Int32
	cache := NewKeyCache(5, 50*time.Millisecond)
	kf := cache.Keyfunc(func(*jwt.Token) (any, error) {
		calls.Add(1)
		return []byte("k"), nil
	})
	tok := &jwt.Token{Header: map[string]any{"kid": "a"}}

	_, _ = kf(tok)
	time.Sleep(100 * time.Millisecond)
	_, _ = kf(tok)

	if calls.Load() != 2 {
		t.Errorf("next вызван %d раз, ожидалось 2 после истечения TTL", calls.Load())
	}
}

// Ключи загружаются с HTTP JWKS endpoint.
func TestNewJWKSKeyfunc(t *testing.T) {
	signer := idtokentest.NewSigner(t)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write(signer.JWKS())
	}))
	defer srv.Close()

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	kf, err := NewJWKSKeyfunc(srv.URL, srv.Client(), time.Hour, logger)
	if err != nil {
		t.Fatalf("NewJWKSKeyfunc() ошибка: %v", err)
	}

	r := NewVerifyingReader(kf, NewKeyCache(5, time.Minute), VerifyOptions{})
	if _, err := r.Decode(context.Background(), signer.Sign(t, idtokentest.UserClaims("alice", time.Hour))); err != nil {
		t.Errorf("Decode() ошибка: %v", err)
	}
}

// Токены разных пользователей отклоняются как несогласованные.
func TestCheckPair(t *testing.T) {
	alice := &Claims{Username: "alice"}
	bob := &Claims{Username: "bob"}

	if err := CheckPair(alice, &Claims{Username: "alice"}); err != nil {
		t.Errorf("CheckPair(alice, alice) = %v", err)
	}
	if err := CheckPair(alice, bob); !errors.Is(err, ErrInconsistentTokens) {
		t.Errorf("CheckPair(alice, bob) = %v, ожидался ErrInconsistentTokens", err)
	}
	if err := CheckPair(&Claims{}, &Claims{}); !errors.Is(err, ErrInconsistentTokens) {
		t.Errorf("CheckPair() пустых имён = %v", err)
	}
	if err := CheckPair(nil, alice); !errors.Is(err, ErrInconsistentTokens) {
		t.Errorf("CheckPair(nil) = %v", err)
	}
}
