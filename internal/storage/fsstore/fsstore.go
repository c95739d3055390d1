// Пакет fsstore — объектное хранилище на локальном диске: bucket —
// поддиректория корня, ключ — относительный путь внутри неё.
// Используется в dev-режиме и в тестах вместо S3.
package fsstore

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"mime"
	"os"
	"path"
	"path/filepath"
	"sort"
	"strings"

	"github.com/google/uuid"

	"github.com/bigkaa/docportal/internal/domain/model"
	"github.com/bigkaa/docportal/internal/storage"
)

// tmpPrefix — префикс временных файлов атомарной записи (скрыты из листинга).
const tmpPrefix = ".dp-tmp-"

// Store — файловое хранилище.
type Store struct {
	root string
}

// New создаёт хранилище. Корневая директория создаётся при отсутствии.
func New(root string) (*Store, error) {
	if err := os.MkdirAll(root, 0o750); err != nil {
		return nil, fmt.Errorf("не удалось создать директорию хранилища %s: %w", root, err)
	}
	return &Store{root: root}, nil
}

// resolve превращает (bucket, key) в путь на диске, не выходящий за корень.
func (s *Store) resolve(bucket, key string) (string, error) {
	if bucket == "" || !filepath.IsLocal(bucket) || strings.ContainsRune(bucket, '/') {
		return "", fmt.Errorf("недопустимое имя bucket %q", bucket)
	}
	rel := filepath.FromSlash(strings.TrimSuffix(key, "/"))
	if rel != "" && !filepath.IsLocal(rel) {
		return "", fmt.Errorf("недопустимый ключ %q", key)
	}
	return filepath.Join(s.root, bucket, rel), nil
}

// splitPrefix делит prefix на директорию и префикс имени внутри неё.
func splitPrefix(prefix string) (dir, namePrefix string) {
	if prefix == "" || strings.HasSuffix(prefix, "/") {
		return prefix, ""
	}
	d, n := path.Split(prefix)
	return d, n
}

// readDir читает записи директории, соответствующие prefix.
func (s *Store) readDir(bucket, prefix string) (string, []fs.DirEntry, error) {
	dir, namePrefix := splitPrefix(prefix)
	full, err := s.resolve(bucket, dir)
	if err != nil {
		return "", nil, err
	}

	entries, err := os.ReadDir(full)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return dir, nil, nil
		}
		return "", nil, fmt.Errorf("ошибка чтения директории %s: %w", dir, err)
	}

	matched := entries[:0]
	for _, e := range entries {
		if strings.HasPrefix(e.Name(), tmpPrefix) || !strings.HasPrefix(e.Name(), namePrefix) {
			continue
		}
		matched = append(matched, e)
	}
	return dir, matched, nil
}

func (s *Store) List(_ context.Context, bucket, prefix string) ([]model.ObjectInfo, error) {
	dir, entries, err := s.readDir(bucket, prefix)
	if err != nil {
		return nil, err
	}

	result := make([]model.ObjectInfo, 0, len(entries))
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		info, err := e.Info()
		if err != nil {
			continue
		}
		result = append(result, model.ObjectInfo{
			Key:          dir + e.Name(),
			Name:         e.Name(),
			Size:         info.Size(),
			LastModified: info.ModTime().UTC(),
		})
	}
	sort.Slice(result, func(i, j int) bool { return result[i].Key < result[j].Key })
	return result, nil
}

func (s *Store) ListFolders(_ context.Context, bucket, prefix string) ([]model.FolderInfo, error) {
	dir, entries, err := s.readDir(bucket, prefix)
	if err != nil {
		return nil, err
	}

	var result []model.FolderInfo
	for _, e := range entries {
		if !e.IsDir() {
			continue
		}
		result = append(result, model.FolderInfo{Prefix: dir + e.Name() + "/", Name: e.Name()})
	}
	sort.Slice(result, func(i, j int) bool { return result[i].Prefix < result[j].Prefix })
	return result, nil
}

// regularFile проверяет, что по пути лежит обычный файл.
func regularFile(full, key string) (os.FileInfo, error) {
	info, err := os.Stat(full)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("%s: %w", key, storage.ErrNotFound)
		}
		return nil, fmt.Errorf("ошибка получения информации о %s: %w", key, err)
	}
	if info.IsDir() {
		return nil, fmt.Errorf("%s: %w", key, storage.ErrNotFound)
	}
	return info, nil
}

func (s *Store) Get(ctx context.Context, bucket, key string) ([]byte, error) {
	obj, err := s.Open(ctx, bucket, key)
	if err != nil {
		return nil, err
	}
	defer obj.Close()

	data, err := io.ReadAll(obj)
	if err != nil {
		return nil, fmt.Errorf("ошибка чтения %s: %w", key, err)
	}
	return data, nil
}

func (s *Store) Open(_ context.Context, bucket, key string) (*storage.Object, error) {
	full, err := s.resolve(bucket, key)
	if err != nil {
		return nil, err
	}
	info, err := regularFile(full, key)
	if err != nil {
		return nil, err
	}

	f, err := os.Open(full)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("%s: %w", key, storage.ErrNotFound)
		}
		return nil, fmt.Errorf("ошибка открытия %s: %w", key, err)
	}

	contentType := mime.TypeByExtension(path.Ext(key))
	if contentType == "" {
		contentType = "application/octet-stream"
	}
	return &storage.Object{ReadCloser: f, Size: info.Size(), ContentType: contentType}, nil
}

// Put записывает объект атомарно: temp файл, fsync, rename.
func (s *Store) Put(_ context.Context, bucket, key string, data []byte, _ string) error {
	full, err := s.resolve(bucket, key)
	if err != nil {
		return err
	}
	return writeAtomic(full, func(w io.Writer) error {
		_, err := w.Write(data)
		return err
	})
}

func writeAtomic(full string, write func(io.Writer) error) error {
	dir := filepath.Dir(full)
	if err := os.MkdirAll(dir, 0o750); err != nil {
		return fmt.Errorf("ошибка создания директории %s: %w", dir, err)
	}

	tmpPath := filepath.Join(dir, tmpPrefix+uuid.NewString())
	f, err := os.Create(tmpPath)
	if err != nil {
		return fmt.Errorf("ошибка создания временного файла: %w", err)
	}

	if err := write(f); err != nil {
		f.Close()
		os.Remove(tmpPath)
		return fmt.Errorf("ошибка записи данных: %w", err)
	}

	if err := f.Sync(); err != nil {
		f.Close()
		os.Remove(tmpPath)
		return fmt.Errorf("ошибка fsync: %w", err)
	}

	if err := f.Close(); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("ошибка закрытия файла: %w", err)
	}

	if err := os.Rename(tmpPath, full); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("ошибка атомарного переименования: %w", err)
	}
	return nil
}

func (s *Store) Delete(_ context.Context, bucket, key string) error {
	full, err := s.resolve(bucket, key)
	if err != nil {
		return err
	}
	if _, err := regularFile(full, key); err != nil {
		return err
	}
	if err := os.Remove(full); err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return fmt.Errorf("%s: %w", key, storage.ErrNotFound)
		}
		return fmt.Errorf("ошибка удаления %s: %w", key, err)
	}
	return nil
}

func (s *Store) Exists(_ context.Context, bucket, key string) (bool, error) {
	full, err := s.resolve(bucket, key)
	if err != nil {
		return false, err
	}
	if _, err := regularFile(full, key); err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return false, nil
		}
		return false, err
	}
	return true, nil
}

func (s *Store) Copy(_ context.Context, bucket, srcKey, dstKey string) error {
	src, err := s.resolve(bucket, srcKey)
	if err != nil {
		return err
	}
	dst, err := s.resolve(bucket, dstKey)
	if err != nil {
		return err
	}
	if _, err := regularFile(src, srcKey); err != nil {
		return err
	}

	in, err := os.Open(src)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return fmt.Errorf("%s: %w", srcKey, storage.ErrNotFound)
		}
		return fmt.Errorf("ошибка открытия %s: %w", srcKey, err)
	}
	defer in.Close()

	return writeAtomic(dst, func(w io.Writer) error {
		_, err := io.Copy(w, in)
		return err
	})
}

// CheckReady проверяет доступность корневой директории.
func (s *Store) CheckReady() (status, message string) {
	info, err := os.Stat(s.root)
	if err != nil || !info.IsDir() {
		return "fail", fmt.Sprintf("директория хранилища недоступна: %v", err)
	}
	return "ok", "директория хранилища доступна"
}

var _ storage.Gateway = (*Store)(nil)
