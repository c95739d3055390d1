// documents.go — проверка наличия и скачивание документов по idDocumento.
package handlers

import (
	"io"
	"log/slog"
	"mime"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	apierrors "github.com/bigkaa/docportal/internal/api/errors"
)

type documentExistsResponse struct {
	DocumentID string `json:"documentId"`
	Exists     bool   `json:"exists"`
}

// DocumentExists — наличие документа (GET /api/v1/documents/{documentId}/exists).
func (h *APIHandler) DocumentExists(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "documentId")
	_, grant, ok := h.resolveGrant(w, r, "")
	if !ok {
		return
	}

	exists, err := h.files.DocumentExists(r.Context(), grant, id)
	if err != nil {
		apierrors.WriteServiceError(w, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, documentExistsResponse{DocumentID: id, Exists: exists})
}

// DownloadDocument — скачивание документа (GET /api/v1/documents/{documentId}).
// Содержимое передаётся потоком, без буферизации в памяти.
func (h *APIHandler) DownloadDocument(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "documentId")
	identity, grant, ok := h.resolveGrant(w, r, "")
	if !ok {
		return
	}

	obj, err := h.files.OpenDocument(r.Context(), grant, id)
	if err != nil {
		apierrors.WriteServiceError(w, h.logger, err)
		return
	}
	defer obj.Close()

	contentType := obj.ContentType
	if contentType == "" {
		contentType = "application/octet-stream"
	}
	w.Header().Set("Content-Type", contentType)
	w.Header().Set("Content-Disposition", mime.FormatMediaType("attachment", map[string]string{"filename": id}))
	if obj.Size >= 0 {
		w.Header().Set("Content-Length", strconv.FormatInt(obj.Size, 10))
	}
	w.WriteHeader(http.StatusOK)

	// Заголовки уже отправлены: ошибку потока можно только залогировать
	n, err := io.Copy(w, obj)
	if err != nil {
		h.logger.Warn("Прервана передача документа",
			slog.String("document_id", id),
			slog.String("username", identity.Username),
			slog.Int64("bytes", n),
			slog.String("error", err.Error()),
		)
		return
	}
	h.logger.Info("Документ скачан",
		slog.String("document_id", id),
		slog.String("username", identity.Username),
		slog.String("bucket", grant.Bucket),
		slog.Int64("bytes", n),
	)
}
