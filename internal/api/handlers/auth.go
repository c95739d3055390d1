package handlers

import (
	"log/slog"
	"net/http"

	apierrors "github.com/bigkaa/docportal/internal/api/errors"
)

// loginRequest — тело POST /api/v1/auth/login.
type loginRequest struct {
	Username string `json:"username"`
	Password string `json:"password"` //nolint:gosec // G117: пароль пользователя, не логируется
}

// loginResponse — токены, выданные IdP. Имена полей совместимы с клиентом портала.
type loginResponse struct {
	Username     string `json:"username"`
	AccessToken  string `json:"AccessToken"`  //nolint:gosec // G117: структура токена OAuth2
	IDToken      string `json:"IdToken"`      //nolint:gosec // G117: структура токена OAuth2
	RefreshToken string `json:"RefreshToken"` //nolint:gosec // G117: структура токена OAuth2
	ExpiresIn    int    `json:"expiresIn,omitempty"`
}

// Login — вход по логину и паролю через IdP (POST /api/v1/auth/login).
func (h *APIHandler) Login(w http.ResponseWriter, r *http.Request) {
	var req loginRequest
	if err := decodeJSON(w, r, &req); err != nil {
		apierrors.WriteServiceError(w, h.logger, err)
		return
	}

	tokens, err := h.auth.Login(r.Context(), req.Username, req.Password)
	if err != nil {
		apierrors.WriteServiceError(w, h.logger, err)
		return
	}

	writeJSON(w, http.StatusOK, loginResponse{
		Username:     req.Username,
		AccessToken:  tokens.AccessToken,
		IDToken:      tokens.IDToken,
		RefreshToken: tokens.RefreshToken,
		ExpiresIn:    tokens.ExpiresIn,
	})
}

// meResponse — текущий пользователь и его активные гранты.
type meResponse struct {
	Username    string          `json:"username"`
	DisplayName string          `json:"displayName"`
	Email       string          `json:"email,omitempty"`
	Groups      []string        `json:"groups,omitempty"`
	IsAdmin     bool            `json:"isAdmin"`
	Grants      []grantResponse `json:"grants"`
}

// Me — информация о текущем пользователе (GET /api/v1/me).
// Пользователь без грантов получает пустой список, а не ошибку.
func (h *APIHandler) Me(w http.ResponseWriter, r *http.Request) {
	identity, ok := h.identity(w, r)
	if !ok {
		return
	}

	grants, err := h.resolver.ActiveGrants(r.Context(), identity.Username)
	if err != nil {
		apierrors.WriteServiceError(w, h.logger, err)
		return
	}
	isAdmin, err := h.resolver.IsAdmin(r.Context(), identity.Username)
	if err != nil {
		apierrors.WriteServiceError(w, h.logger, err)
		return
	}

	resp := meResponse{
		Username:    identity.Username,
		DisplayName: identity.DisplayName,
		Email:       identity.Email,
		Groups:      identity.Groups,
		IsAdmin:     isAdmin,
		Grants:      make([]grantResponse, 0, len(grants)),
	}
	for _, g := range grants {
		resp.Grants = append(resp.Grants, grantToResponse(g))
	}

	h.logger.Debug("Запрошен профиль",
		slog.String("username", identity.Username),
		slog.Int("grants", len(grants)),
	)
	writeJSON(w, http.StatusOK, resp)
}
