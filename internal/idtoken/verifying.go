package idtoken

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/MicahParks/jwkset"
	"github.com/MicahParks/keyfunc/v3"
	"github.com/golang-jwt/jwt/v5"
)

// VerifyOptions — параметры проверки токена.
type VerifyOptions struct {
	// Issuer — ожидаемый iss (пусто — не проверяется).
	Issuer string
	// Audience — ожидаемый aud (для ID-токена — client id; пусто — не проверяется).
	Audience string
	// Leeway — допустимое отклонение часов.
	Leeway time.Duration
	// UsernameClaims — claims с именем пользователя, по приоритету.
	UsernameClaims []string
}

// VerifyingReader проверяет подпись RS256 по ключам издателя.
type VerifyingReader struct {
	jwks   keyfunc.Keyfunc
	cache  *KeyCache
	opts   VerifyOptions
	parser *jwt.Parser
}

// NewVerifyingReader создаёт Reader с проверкой подписи.
// cache может быть nil — тогда ключи берутся напрямую из jwks.
func NewVerifyingReader(jwks keyfunc.Keyfunc, cache *KeyCache, opts VerifyOptions) *VerifyingReader {
	if len(opts.UsernameClaims) == 0 {
		opts.UsernameClaims = DefaultUsernameClaims
	}

	parserOpts := []jwt.ParserOption{
		jwt.WithValidMethods([]string{"RS256"}),
		jwt.WithExpirationRequired(),
		jwt.WithLeeway(opts.Leeway),
	}
	if opts.Issuer != "" {
		parserOpts = append(parserOpts, jwt.WithIssuer(opts.Issuer))
	}
	if opts.Audience != "" {
		parserOpts = append(parserOpts, jwt.WithAudience(opts.Audience))
	}

	return &VerifyingReader{
		jwks:   jwks,
		cache:  cache,
		opts:   opts,
		parser: jwt.NewParser(parserOpts...),
	}
}

// Decode проверяет подпись, iss, aud, exp и возвращает claims.
func (v *VerifyingReader) Decode(ctx context.Context, token string) (*Claims, error) {
	if token == "" {
		return nil, invalid(errors.New("пустой токен"))
	}

	kf := v.jwks.KeyfuncCtx(ctx)
	if v.cache != nil {
		kf = v.cache.Keyfunc(kf)
	}

	m := jwt.MapClaims{}
	parsed, err := v.parser.ParseWithClaims(token, m, kf)
	if err != nil {
		return nil, invalid(err)
	}
	if !parsed.Valid {
		return nil, invalid(errors.New("подпись не прошла проверку"))
	}

	return claimsFromMap(m, v.opts.UsernameClaims), nil
}

// IsExpired — true для просроченного или нечитаемого токена.
// Подпись не проверяется: для отказа достаточно любого сбоя.
func (v *VerifyingReader) IsExpired(token string) bool {
	return isExpired(token, v.opts.Leeway)
}

// NewJWKSKeyfunc создаёт keyfunc по JWKS endpoint с фоновым обновлением.
// Старт не блокируется недоступностью IdP (NoErrorReturnFirstHTTPReq).
func NewJWKSKeyfunc(jwksURL string, client *http.Client, refresh time.Duration, logger *slog.Logger) (keyfunc.Keyfunc, error) {
	if client == nil {
		client = http.DefaultClient
	}

	storage, err := jwkset.NewStorageFromHTTP(jwksURL, jwkset.HTTPClientStorageOptions{
		Client:                    client,
		NoErrorReturnFirstHTTPReq: true,
		RefreshInterval:           refresh,
		RefreshErrorHandler: func(_ context.Context, err error) {
			logger.Error("Ошибка обновления JWKS",
				slog.String("error", err.Error()),
				slog.String("url", jwksURL),
			)
		},
	})
	if err != nil {
		return nil, fmt.Errorf("создание JWKS storage: %w", err)
	}

	k, err := keyfunc.New(keyfunc.Options{Storage: storage})
	if err != nil {
		return nil, fmt.Errorf("создание keyfunc: %w", err)
	}
	return k, nil
}
