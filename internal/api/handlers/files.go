// files.go — обработчики папок и манифестов: листинг, содержимое, обработка.
package handlers

import (
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	apierrors "github.com/bigkaa/docportal/internal/api/errors"
	"github.com/bigkaa/docportal/internal/domain/model"
	"github.com/bigkaa/docportal/internal/service"
)

// folderResponse — дочерняя папка.
type folderResponse struct {
	Name     string `json:"name"`
	Path     string `json:"path"`
	FullPath string `json:"fullPath"`
}

type foldersResponse struct {
	Bucket  string           `json:"bucket"`
	Folder  string           `json:"folder"`
	Folders []folderResponse `json:"folders"`
}

// ListFolders — дочерние папки (GET /api/v1/folders?folder=).
// Без папки — корень группы документов гранта.
func (h *APIHandler) ListFolders(w http.ResponseWriter, r *http.Request) {
	folder := r.URL.Query().Get("folder")
	_, grant, ok := h.resolveGrant(w, r, folder)
	if !ok {
		return
	}

	folders, err := h.files.ListFolders(r.Context(), grant, folder)
	if err != nil {
		apierrors.WriteServiceError(w, h.logger, err)
		return
	}

	resp := foldersResponse{
		Bucket:  grant.Bucket,
		Folder:  folder,
		Folders: make([]folderResponse, 0, len(folders)),
	}
	if resp.Folder == "" {
		resp.Folder = grant.DocumentGroupPath
	}
	for _, f := range folders {
		resp.Folders = append(resp.Folders, folderResponse{
			Name:     f.Name,
			Path:     strings.TrimSuffix(f.Prefix, "/"),
			FullPath: f.Prefix,
		})
	}
	writeJSON(w, http.StatusOK, resp)
}

type filesResponse struct {
	Bucket string                  `json:"bucket"`
	Folder string                  `json:"folder,omitempty"`
	Files  []service.ManifestEntry `json:"files"`
}

// ListFiles — манифесты папки (GET /api/v1/files?folder=).
// Без папки — legacy-листинг SourcePrefix с фильтром по типологии.
func (h *APIHandler) ListFiles(w http.ResponseWriter, r *http.Request) {
	folder := r.URL.Query().Get("folder")
	_, grant, ok := h.resolveGrant(w, r, folder)
	if !ok {
		return
	}

	var (
		files []service.ManifestEntry
		err   error
	)
	if folder == "" {
		files, err = h.files.ListManifestsByTypology(r.Context(), grant)
	} else {
		files, err = h.files.ListManifests(r.Context(), grant, folder)
	}
	if err != nil {
		apierrors.WriteServiceError(w, h.logger, err)
		return
	}

	writeJSON(w, http.StatusOK, filesResponse{
		Bucket: grant.Bucket,
		Folder: folder,
		Files:  files,
	})
}

// fileResponse — содержимое манифеста.
type fileResponse struct {
	FileName    string              `json:"fileName"`
	Key         string              `json:"key"`
	Bucket      string              `json:"bucket"`
	Tipologia   string              `json:"tipologia"`
	Descripcion string              `json:"descripcion"`
	Header      []string            `json:"header"`
	Data        []map[string]string `json:"data"`
	RowsTotal   int                 `json:"rowsTotal"`
	DocumentIDs []string            `json:"documentIds"`
	UserGroup   string              `json:"userGroup"`
}

// GetFile — строки манифеста (GET /api/v1/files/{fileName}?folder=).
func (h *APIHandler) GetFile(w http.ResponseWriter, r *http.Request) {
	fileName := chi.URLParam(r, "fileName")
	folder := r.URL.Query().Get("folder")
	_, grant, ok := h.resolveGrant(w, r, folder)
	if !ok {
		return
	}

	detail, err := h.files.GetManifest(r.Context(), grant, folder, fileName)
	if err != nil {
		apierrors.WriteServiceError(w, h.logger, err)
		return
	}

	writeJSON(w, http.StatusOK, fileResponse{
		FileName:    detail.FileName,
		Key:         detail.Key,
		Bucket:      detail.Bucket,
		Tipologia:   detail.Typology.Code,
		Descripcion: detail.Typology.Description,
		Header:      detail.Header,
		Data:        detail.Data,
		RowsTotal:   detail.RowsTotal,
		DocumentIDs: detail.DocumentIDs,
		UserGroup:   detail.UserGroup,
	})
}

// processRequest — тело POST /api/v1/files/{fileName}/process.
type processRequest struct {
	FolderPath string `json:"folderPath"`
	Resultado  string `json:"resultado"`

	// Поля старого клиента, не используются
	IDSpool       string `json:"idSpool,omitempty"`
	TipoDocumento string `json:"tipoDocumento,omitempty"`
}

type processResponse struct {
	Success bool   `json:"success"`
	Message string `json:"message"`
	*model.ProcessingResult
	UserGroup string `json:"userGroup"`
}

// ProcessFile — решение по манифесту (POST /api/v1/files/{fileName}/process).
// Сбои перемещения отдельных документов возвращаются в documentsFailed
// при статусе 200.
func (h *APIHandler) ProcessFile(w http.ResponseWriter, r *http.Request) {
	fileName := chi.URLParam(r, "fileName")

	var req processRequest
	if err := decodeJSON(w, r, &req); err != nil {
		apierrors.WriteServiceError(w, h.logger, err)
		return
	}
	folder := req.FolderPath
	if folder == "" {
		folder = r.URL.Query().Get("folder")
	}

	identity, grant, ok := h.resolveGrant(w, r, folder)
	if !ok {
		return
	}

	result, err := h.processing.Process(r.Context(), service.ProcessRequest{
		Grant:       grant,
		Username:    identity.Username,
		DisplayName: identity.DisplayName,
		Folder:      folder,
		FileName:    fileName,
		Outcome:     req.Resultado,
	})
	if err != nil {
		apierrors.WriteServiceError(w, h.logger, err)
		return
	}

	writeJSON(w, http.StatusOK, processResponse{
		Success:          true,
		Message:          "Файл " + fileName + " обработан и перенесён в " + result.DestinationKey,
		ProcessingResult: result,
		UserGroup:        grant.DocumentGroupPath,
	})
}
