// Пакет storage — контракт объектного хранилища (bucket, key) и общие
// обёртки: Move (copy, затем delete) и TimeoutGateway (таймаут на вызов,
// однократный повтор идемпотентных операций).
package storage

import (
	"context"
	"errors"
	"fmt"
	"io"
	"path"
	"strings"

	"github.com/bigkaa/docportal/internal/domain/model"
)

// ErrNotFound — объект отсутствует (чтение, копирование, удаление).
var ErrNotFound = errors.New("объект не найден")

// Object — открытый на чтение объект. Вызывающий обязан закрыть его.
type Object struct {
	io.ReadCloser
	Size        int64
	ContentType string
}

// Gateway — операции над объектным хранилищем.
type Gateway interface {
	// List возвращает только прямых потомков prefix: без псевдо-директорий
	// и без ключей, содержащих ещё один разделитель после prefix.
	List(ctx context.Context, bucket, prefix string) ([]model.ObjectInfo, error)
	// ListFolders возвращает прямые дочерние «папки» prefix.
	ListFolders(ctx context.Context, bucket, prefix string) ([]model.FolderInfo, error)
	Get(ctx context.Context, bucket, key string) ([]byte, error)
	Open(ctx context.Context, bucket, key string) (*Object, error)
	Put(ctx context.Context, bucket, key string, data []byte, contentType string) error
	Delete(ctx context.Context, bucket, key string) error
	Exists(ctx context.Context, bucket, key string) (bool, error)
	Copy(ctx context.Context, bucket, srcKey, dstKey string) error
}

// Move копирует объект и удаляет исходный. Операция не атомарна: сбой
// между шагами оставляет обе копии. Удаление не выполняется, если
// копирование завершилось ошибкой.
func Move(ctx context.Context, g Gateway, bucket, srcKey, dstKey string) error {
	if err := g.Copy(ctx, bucket, srcKey, dstKey); err != nil {
		return fmt.Errorf("копирование %s -> %s: %w", srcKey, dstKey, err)
	}
	if err := g.Delete(ctx, bucket, srcKey); err != nil {
		return fmt.Errorf("удаление %s после копирования: %w", srcKey, err)
	}
	return nil
}

// BaseName возвращает последний сегмент ключа («папка/» -> «папка»).
func BaseName(key string) string {
	return path.Base(strings.TrimSuffix(key, "/"))
}

// DirectChild сообщает, является ли key прямым потомком prefix
// (и не псевдо-директорией).
func DirectChild(prefix, key string) bool {
	if !strings.HasPrefix(key, prefix) {
		return false
	}
	rest := key[len(prefix):]
	return rest != "" && !strings.Contains(rest, "/")
}
