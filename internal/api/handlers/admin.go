// admin.go — обработчики /api/v1/admin: пользователи портала и гранты.
// Доступ проверяется middleware RequireAdmin.
package handlers

import (
	"fmt"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	apierrors "github.com/bigkaa/docportal/internal/api/errors"
	"github.com/bigkaa/docportal/internal/domain/model"
	"github.com/bigkaa/docportal/internal/service"
)

// identityResponse — пользователь портала в ответе API.
type identityResponse struct {
	Username  string `json:"username"`
	IsAdmin   bool   `json:"isAdmin"`
	IsActive  bool   `json:"isActive"`
	CreatedAt string `json:"createdAt"`
}

func identityToResponse(u *model.Identity) identityResponse {
	return identityResponse{
		Username:  u.Username,
		IsAdmin:   u.IsAdmin,
		IsActive:  u.IsActive,
		CreatedAt: u.CreatedAt.UTC().Format(timeLayout),
	}
}

type identityListResponse struct {
	Items []identityResponse `json:"items"`
	Total int                `json:"total"`
}

// ListIdentities — GET /api/v1/admin/identities.
func (h *APIHandler) ListIdentities(w http.ResponseWriter, r *http.Request) {
	list, err := h.admin.ListIdentities(r.Context())
	if err != nil {
		apierrors.WriteServiceError(w, h.logger, err)
		return
	}

	items := make([]identityResponse, len(list))
	for i, u := range list {
		items[i] = identityToResponse(u)
	}
	writeJSON(w, http.StatusOK, identityListResponse{Items: items, Total: len(items)})
}

// createIdentityRequest — тело POST /api/v1/admin/identities.
type createIdentityRequest struct {
	Username string `json:"username"`
	IsAdmin  bool   `json:"isAdmin"`
}

// CreateIdentity — POST /api/v1/admin/identities.
func (h *APIHandler) CreateIdentity(w http.ResponseWriter, r *http.Request) {
	var req createIdentityRequest
	if err := decodeJSON(w, r, &req); err != nil {
		apierrors.WriteServiceError(w, h.logger, err)
		return
	}

	u, err := h.admin.CreateIdentity(r.Context(), req.Username, req.IsAdmin)
	if err != nil {
		apierrors.WriteServiceError(w, h.logger, err)
		return
	}
	writeJSON(w, http.StatusCreated, identityToResponse(u))
}

// updateIdentityRequest — тело PATCH /api/v1/admin/identities/{username}.
// Допустимы только isAdmin и isActive.
type updateIdentityRequest struct {
	IsAdmin  *bool `json:"isAdmin"`
	IsActive *bool `json:"isActive"`
}

// UpdateIdentity — PATCH /api/v1/admin/identities/{username}.
func (h *APIHandler) UpdateIdentity(w http.ResponseWriter, r *http.Request) {
	username := chi.URLParam(r, "username")

	var req updateIdentityRequest
	if err := decodeJSON(w, r, &req); err != nil {
		apierrors.WriteServiceError(w, h.logger, err)
		return
	}

	u, err := h.admin.UpdateIdentity(r.Context(), username, model.IdentityPatch{
		IsAdmin:  req.IsAdmin,
		IsActive: req.IsActive,
	})
	if err != nil {
		apierrors.WriteServiceError(w, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, identityToResponse(u))
}

// DeleteIdentity — DELETE /api/v1/admin/identities/{username}.
func (h *APIHandler) DeleteIdentity(w http.ResponseWriter, r *http.Request) {
	if err := h.admin.DeleteIdentity(r.Context(), chi.URLParam(r, "username")); err != nil {
		apierrors.WriteServiceError(w, h.logger, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// DeactivateGrant — POST /api/v1/admin/identities/{username}/deactivate-grant.
// Деактивирует основной (самый свежий активный) грант пользователя.
func (h *APIHandler) DeactivateGrant(w http.ResponseWriter, r *http.Request) {
	g, err := h.admin.DeactivateGrant(r.Context(), chi.URLParam(r, "username"))
	if err != nil {
		apierrors.WriteServiceError(w, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, grantToResponse(g))
}

// --- Гранты ---

type grantListResponse struct {
	Items []grantResponse `json:"items"`
	Total int             `json:"total"`
}

// ListGrants — GET /api/v1/admin/grants.
func (h *APIHandler) ListGrants(w http.ResponseWriter, r *http.Request) {
	list, err := h.admin.ListGrants(r.Context())
	if err != nil {
		apierrors.WriteServiceError(w, h.logger, err)
		return
	}

	items := make([]grantResponse, len(list))
	for i, g := range list {
		items[i] = grantToResponse(&g.Grant)
		items[i].OwnerIsAdmin = &g.OwnerIsAdmin
		items[i].OwnerIsActive = &g.OwnerIsActive
	}
	writeJSON(w, http.StatusOK, grantListResponse{Items: items, Total: len(items)})
}

// createGrantRequest — тело POST /api/v1/admin/grants.
type createGrantRequest struct {
	Username          string `json:"username"`
	Bucket            string `json:"bucket"`
	DocumentGroupPath string `json:"documentGroupPath"`
}

// CreateGrant — POST /api/v1/admin/grants. Повторное создание идемпотентно.
func (h *APIHandler) CreateGrant(w http.ResponseWriter, r *http.Request) {
	var req createGrantRequest
	if err := decodeJSON(w, r, &req); err != nil {
		apierrors.WriteServiceError(w, h.logger, err)
		return
	}

	g, err := h.admin.CreateGrant(r.Context(), req.Username, req.Bucket, req.DocumentGroupPath)
	if err != nil {
		apierrors.WriteServiceError(w, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, grantToResponse(g))
}

// updateGrantRequest — тело PATCH /api/v1/admin/grants/{id}.
type updateGrantRequest struct {
	Bucket            *string `json:"bucket"`
	DocumentGroupPath *string `json:"documentGroupPath"`
	IsActive          *bool   `json:"isActive"`
}

// UpdateGrant — PATCH /api/v1/admin/grants/{id}.
func (h *APIHandler) UpdateGrant(w http.ResponseWriter, r *http.Request) {
	id, err := grantIDParam(r)
	if err != nil {
		apierrors.WriteServiceError(w, h.logger, err)
		return
	}

	var req updateGrantRequest
	if err := decodeJSON(w, r, &req); err != nil {
		apierrors.WriteServiceError(w, h.logger, err)
		return
	}

	g, err := h.admin.UpdateGrant(r.Context(), id, model.GrantPatch{
		Bucket:            req.Bucket,
		DocumentGroupPath: req.DocumentGroupPath,
		IsActive:          req.IsActive,
	})
	if err != nil {
		apierrors.WriteServiceError(w, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, grantToResponse(g))
}

// DeleteGrant — DELETE /api/v1/admin/grants/{id}.
func (h *APIHandler) DeleteGrant(w http.ResponseWriter, r *http.Request) {
	id, err := grantIDParam(r)
	if err != nil {
		apierrors.WriteServiceError(w, h.logger, err)
		return
	}
	if err := h.admin.DeleteGrant(r.Context(), id); err != nil {
		apierrors.WriteServiceError(w, h.logger, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func grantIDParam(r *http.Request) (int64, error) {
	raw := chi.URLParam(r, "id")
	id, err := strconv.ParseInt(raw, 10, 64)
	if err != nil || id <= 0 {
		return 0, fmt.Errorf("%w: некорректный идентификатор гранта %q", service.ErrValidation, raw)
	}
	return id, nil
}
