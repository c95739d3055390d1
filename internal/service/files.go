// files.go — просмотр папок и манифестов, доступ к документам в пределах гранта.
package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/bigkaa/docportal/internal/domain/model"
	"github.com/bigkaa/docportal/internal/domain/scope"
	"github.com/bigkaa/docportal/internal/domain/typology"
	"github.com/bigkaa/docportal/internal/manifest"
	"github.com/bigkaa/docportal/internal/storage"
)

// Layout — раскладка ключей в bucket.
type Layout struct {
	// SourcePrefix — исходные манифесты (legacy-режим без папки)
	SourcePrefix string
	// ResultPrefix — обработанные манифесты
	ResultPrefix string
	// DocumentPrefix — документы по idDocumento
	DocumentPrefix string
	// DocumentArchivePrefix — архив обработанных документов
	DocumentArchivePrefix string
}

// SourceKey возвращает ключ исходного манифеста.
// Без папки — SourcePrefix + имя файла, иначе — папка + "/" + имя файла.
func (l Layout) SourceKey(folder, fileName string) string {
	if folder == "" {
		return l.SourcePrefix + fileName
	}
	return strings.TrimRight(folder, "/") + "/" + fileName
}

// ResultKey возвращает ключ обработанного манифеста. Не зависит от гранта.
func (l Layout) ResultKey(fileName string) string {
	return l.ResultPrefix + fileName
}

// InResult сообщает, что ключ лежит под ResultPrefix.
func (l Layout) InResult(key string) bool {
	return l.ResultPrefix != "" && strings.HasPrefix(key, l.ResultPrefix)
}

// DocumentKey возвращает ключ документа.
func (l Layout) DocumentKey(id string) string {
	return l.DocumentPrefix + id
}

// ArchiveKey возвращает ключ документа в архиве.
func (l Layout) ArchiveKey(id string) string {
	return l.DocumentArchivePrefix + id
}

// ManifestEntry — манифест в листинге.
type ManifestEntry struct {
	model.ObjectInfo
	typology.Entry
}

// ManifestDetail — содержимое манифеста.
type ManifestDetail struct {
	FileName    string              `json:"fileName"`
	Key         string              `json:"key"`
	Bucket      string              `json:"bucket"`
	Typology    typology.Entry      `json:"typology"`
	Header      []string            `json:"header"`
	Data        []map[string]string `json:"data"`
	RowsTotal   int                 `json:"rowsTotal"`
	DocumentIDs []string            `json:"documentIds"`
	UserGroup   string              `json:"userGroup"`
}

// FileService — чтение объектного хранилища в пределах гранта.
type FileService struct {
	store    storage.Gateway
	enforcer *scope.Enforcer
	layout   Layout
	logger   *slog.Logger
}

// NewFileService создаёт FileService.
func NewFileService(store storage.Gateway, enforcer *scope.Enforcer, layout Layout, logger *slog.Logger) *FileService {
	return &FileService{
		store:    store,
		enforcer: enforcer,
		layout:   layout,
		logger:   logger.With(slog.String("component", "files_service")),
	}
}

// validName отклоняет имена, которые выходят за пределы одного сегмента ключа.
func validName(kind, name string) error {
	switch {
	case strings.TrimSpace(name) == "":
		return fmt.Errorf("%w: пустое %s", ErrValidation, kind)
	case strings.Contains(name, "/"), strings.Contains(name, `\`):
		return fmt.Errorf("%w: %s %q содержит разделитель пути", ErrValidation, kind, name)
	case name == "." || strings.Contains(name, ".."):
		return fmt.Errorf("%w: %s %q содержит '..'", ErrValidation, kind, name)
	}
	return nil
}

// folderPrefix проверяет папку по области гранта и возвращает префикс листинга.
// Пустая папка — корень группы документов гранта.
func (s *FileService) folderPrefix(grant *model.Grant, folder string) (string, error) {
	if folder == "" {
		folder = grant.DocumentGroupPath
	}
	if err := s.enforcer.CheckScope(grant, folder); err != nil {
		return "", fmt.Errorf("%w: %v", ErrForbidden, err)
	}
	return strings.TrimRight(folder, "/") + "/", nil
}

// authorizeManifest проверяет доступ к манифесту и возвращает его ключ.
// С папкой — проверка области по префиксу, без папки — legacy-проверка
// по типологии в SourcePrefix.
func (s *FileService) authorizeManifest(grant *model.Grant, folder, fileName string) (string, typology.Entry, error) {
	if err := validName("имя файла", fileName); err != nil {
		return "", typology.Entry{}, err
	}
	key := s.layout.SourceKey(folder, fileName)

	if folder == "" {
		entry, err := s.enforcer.CheckTypology(grant, fileName)
		if err != nil {
			return "", entry, fmt.Errorf("%w: %v", ErrForbidden, err)
		}
		return key, entry, nil
	}

	if err := s.enforcer.CheckScope(grant, key); err != nil {
		return "", typology.Entry{}, fmt.Errorf("%w: %v", ErrForbidden, err)
	}
	return key, typology.Classify(fileName), nil
}

// ListFolders возвращает дочерние папки.
func (s *FileService) ListFolders(ctx context.Context, grant *model.Grant, folder string) ([]model.FolderInfo, error) {
	prefix, err := s.folderPrefix(grant, folder)
	if err != nil {
		return nil, err
	}
	folders, err := s.store.ListFolders(ctx, grant.Bucket, prefix)
	if err != nil {
		return nil, storageErr("листинг папок", err)
	}
	return folders, nil
}

// ListManifests возвращает манифесты папки с их типологиями.
func (s *FileService) ListManifests(ctx context.Context, grant *model.Grant, folder string) ([]ManifestEntry, error) {
	prefix, err := s.folderPrefix(grant, folder)
	if err != nil {
		return nil, err
	}
	objects, err := s.store.List(ctx, grant.Bucket, prefix)
	if err != nil {
		return nil, storageErr("листинг манифестов", err)
	}

	out := make([]ManifestEntry, 0, len(objects))
	for _, obj := range objects {
		out = append(out, ManifestEntry{ObjectInfo: obj, Entry: typology.Classify(obj.Name)})
	}
	return out, nil
}

// ListManifestsByTypology — legacy-листинг SourcePrefix: только манифесты,
// чья типология относится к группе документов гранта.
func (s *FileService) ListManifestsByTypology(ctx context.Context, grant *model.Grant) ([]ManifestEntry, error) {
	objects, err := s.store.List(ctx, grant.Bucket, s.layout.SourcePrefix)
	if err != nil {
		return nil, storageErr("листинг манифестов", err)
	}

	out := make([]ManifestEntry, 0, len(objects))
	for _, obj := range objects {
		entry, err := s.enforcer.CheckTypology(grant, obj.Name)
		if err != nil {
			continue
		}
		out = append(out, ManifestEntry{ObjectInfo: obj, Entry: entry})
	}

	s.logger.Debug("Манифесты отфильтрованы по типологии",
		slog.String("group", grant.DocumentGroupPath),
		slog.Int("total", len(objects)),
		slog.Int("allowed", len(out)),
	)
	return out, nil
}

// GetManifest читает и разбирает манифест.
func (s *FileService) GetManifest(ctx context.Context, grant *model.Grant, folder, fileName string) (*ManifestDetail, error) {
	key, entry, err := s.authorizeManifest(grant, folder, fileName)
	if err != nil {
		return nil, err
	}

	data, err := s.store.Get(ctx, grant.Bucket, key)
	if err != nil {
		return nil, storageErr("чтение манифеста "+key, err)
	}

	tbl, err := manifest.Parse(data)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrValidation, err)
	}

	return &ManifestDetail{
		FileName:    fileName,
		Key:         key,
		Bucket:      grant.Bucket,
		Typology:    entry,
		Header:      tbl.Header,
		Data:        tbl.Records(),
		RowsTotal:   tbl.Len(),
		DocumentIDs: tbl.DocumentIDs(),
		UserGroup:   storage.BaseName(grant.DocumentGroupPath),
	}, nil
}

// DocumentExists проверяет наличие документа в bucket гранта.
func (s *FileService) DocumentExists(ctx context.Context, grant *model.Grant, id string) (bool, error) {
	if err := validName("idDocumento", id); err != nil {
		return false, err
	}
	ok, err := s.store.Exists(ctx, grant.Bucket, s.layout.DocumentKey(id))
	if err != nil {
		return false, storageErr("проверка документа "+id, err)
	}
	return ok, nil
}

// OpenDocument открывает документ на чтение. Вызывающий закрывает объект.
func (s *FileService) OpenDocument(ctx context.Context, grant *model.Grant, id string) (*storage.Object, error) {
	if err := validName("idDocumento", id); err != nil {
		return nil, err
	}
	obj, err := s.store.Open(ctx, grant.Bucket, s.layout.DocumentKey(id))
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return nil, fmt.Errorf("%w: документ %s", ErrNotFound, id)
		}
		return nil, storageErr("открытие документа "+id, err)
	}
	return obj, nil
}
