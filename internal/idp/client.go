// Пакет idp — HTTP-клиент к OIDC identity provider (Keycloak-совместимый):
// вход по логину и паролю (password grant) и проверка доступности JWKS.
package idp

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"
)

// Ошибки входа.
var (
	// ErrInvalidCredentials — IdP отклонил логин или пароль.
	ErrInvalidCredentials = errors.New("неверное имя пользователя или пароль")
	// ErrUnavailable — IdP недоступен или вернул неожиданный ответ.
	ErrUnavailable = errors.New("identity provider недоступен")
)

// TokenSet — токены, выданные IdP при входе.
type TokenSet struct {
	AccessToken  string `json:"access_token"`  //nolint:gosec // G117: структура токена OAuth2
	IDToken      string `json:"id_token"`      //nolint:gosec // G117: структура токена OAuth2
	RefreshToken string `json:"refresh_token"` //nolint:gosec // G117: структура токена OAuth2
	TokenType    string `json:"token_type"`
	ExpiresIn    int    `json:"expires_in"`
}

// errorResponse — тело ошибки OAuth2.
type errorResponse struct {
	Error            string `json:"error"`
	ErrorDescription string `json:"error_description"`
}

// Client — клиент к IdP.
type Client struct {
	baseURL      string
	realm        string
	clientID     string
	clientSecret string

	httpClient *http.Client
	logger     *slog.Logger
}

// New создаёт клиент IdP.
// timeout ограничивает каждый запрос (DP_IDP_TIMEOUT).
func New(baseURL, realm, clientID, clientSecret string, timeout time.Duration, logger *slog.Logger) *Client {
	return &Client{
		baseURL:      strings.TrimRight(baseURL, "/"),
		realm:        realm,
		clientID:     clientID,
		clientSecret: clientSecret,
		httpClient:   &http.Client{Timeout: timeout},
		logger:       logger.With(slog.String("component", "idp_client")),
	}
}

// tokenEndpoint возвращает URL endpoint'а получения токена.
func (c *Client) tokenEndpoint() string {
	return fmt.Sprintf("%s/realms/%s/protocol/openid-connect/token", c.baseURL, c.realm)
}

// JWKSURL возвращает URL JWKS endpoint realm.
func (c *Client) JWKSURL() string {
	return fmt.Sprintf("%s/realms/%s/protocol/openid-connect/certs", c.baseURL, c.realm)
}

// Login выполняет password grant и возвращает access, ID и refresh токены.
func (c *Client) Login(ctx context.Context, username, password string) (*TokenSet, error) {
	data := url.Values{
		"grant_type": {"password"},
		"client_id":  {c.clientID},
		"username":   {username},
		"password":   {password},
		"scope":      {"openid"},
	}
	if c.clientSecret != "" {
		data.Set("client_secret", c.clientSecret)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.tokenEndpoint(), strings.NewReader(data.Encode()))
	if err != nil {
		return nil, fmt.Errorf("создание запроса токена: %w", err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusOK:
	case resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusBadRequest:
		var e errorResponse
		_ = json.NewDecoder(resp.Body).Decode(&e)
		c.logger.Info("IdP отклонил вход",
			slog.String("username", username),
			slog.Int("status", resp.StatusCode),
			slog.String("error", e.Error),
		)
		return nil, ErrInvalidCredentials
	default:
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		return nil, fmt.Errorf("%w: статус %d: %s", ErrUnavailable, resp.StatusCode, string(body))
	}

	var tokens TokenSet
	if err := json.NewDecoder(resp.Body).Decode(&tokens); err != nil {
		return nil, fmt.Errorf("%w: декодирование ответа: %v", ErrUnavailable, err)
	}
	if tokens.AccessToken == "" || tokens.IDToken == "" {
		return nil, fmt.Errorf("%w: ответ без access_token или id_token", ErrUnavailable)
	}

	c.logger.Debug("Пользователь вошёл через IdP", slog.String("username", username))
	return &tokens, nil
}

const statusFail = "fail"

// CheckReady проверяет доступность JWKS endpoint IdP.
func (c *Client) CheckReady() (status, message string) {
	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.JWKSURL(), http.NoBody)
	if err != nil {
		return statusFail, "ошибка создания запроса: " + err.Error()
	}
	resp, err := c.httpClient.Do(req) //nolint:gosec // G704: URL из конфигурации IdP
	if err != nil {
		return statusFail, fmt.Sprintf("IdP JWKS недоступен: %v", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return statusFail, fmt.Sprintf("IdP JWKS вернул статус %d", resp.StatusCode)
	}

	var jwksResp struct {
		Keys []json.RawMessage `json:"keys"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&jwksResp); err != nil {
		return "degraded", fmt.Sprintf("IdP JWKS: невалидный JSON: %v", err)
	}
	if len(jwksResp.Keys) == 0 {
		return "degraded", "IdP JWKS: нет ключей"
	}

	return "ok", fmt.Sprintf("JWKS доступен, ключей: %d", len(jwksResp.Keys))
}
