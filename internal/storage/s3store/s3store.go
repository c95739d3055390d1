// Пакет s3store — объектное хранилище S3 через minio-go.
package s3store

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"

	"github.com/bigkaa/docportal/internal/domain/model"
	"github.com/bigkaa/docportal/internal/storage"
)

// Config — параметры подключения к S3.
type Config struct {
	Endpoint     string
	Region       string
	AccessKey    string
	SecretKey    string
	SessionToken string
	UseSSL       bool
	// HealthCheckInterval — период фоновой проверки доступности (0 — выключена).
	HealthCheckInterval time.Duration
}

// Store — хранилище S3.
type Store struct {
	client      *minio.Client
	logger      *slog.Logger
	stopHealth  context.CancelFunc
	healthCheck bool
}

// New создаёт клиент S3. Без статических ключей используется цепочка
// учётных данных окружения: переменные AWS_*, файл credentials, IAM.
func New(cfg Config, logger *slog.Logger) (*Store, error) {
	var creds *credentials.Credentials
	if cfg.AccessKey != "" {
		creds = credentials.NewStaticV4(cfg.AccessKey, cfg.SecretKey, cfg.SessionToken)
	} else {
		creds = credentials.NewChainCredentials([]credentials.Provider{
			&credentials.EnvAWS{},
			&credentials.FileAWSCredentials{},
			&credentials.IAM{Client: &http.Client{Transport: http.DefaultTransport}},
		})
	}

	client, err := minio.New(cfg.Endpoint, &minio.Options{
		Creds:  creds,
		Secure: cfg.UseSSL,
		Region: cfg.Region,
	})
	if err != nil {
		return nil, fmt.Errorf("ошибка создания S3-клиента: %w", err)
	}

	s := &Store{
		client: client,
		logger: logger.With(slog.String("component", "s3store")),
	}

	if cfg.HealthCheckInterval > 0 {
		stop, err := client.HealthCheck(cfg.HealthCheckInterval)
		if err != nil {
			return nil, fmt.Errorf("ошибка запуска проверки доступности S3: %w", err)
		}
		s.stopHealth = stop
		s.healthCheck = true
	}

	logger.Info("S3-клиент создан",
		slog.String("endpoint", cfg.Endpoint),
		slog.String("region", cfg.Region),
		slog.Bool("ssl", cfg.UseSSL),
	)
	return s, nil
}

// Close останавливает фоновую проверку доступности.
func (s *Store) Close() {
	if s.stopHealth != nil {
		s.stopHealth()
	}
}

// isNotFound — объект отсутствует. Отсутствующий bucket — ошибка конфигурации,
// а не NotFound.
func isNotFound(err error) bool {
	resp := minio.ToErrorResponse(err)
	if resp.Code == "NoSuchKey" {
		return true
	}
	return resp.StatusCode == http.StatusNotFound && resp.Code != "NoSuchBucket"
}

func wrap(op, key string, err error) error {
	if isNotFound(err) {
		return fmt.Errorf("%s: %w", key, storage.ErrNotFound)
	}
	return fmt.Errorf("S3 %s %s: %w", op, key, err)
}

// listing перебирает непосредственное содержимое prefix (без рекурсии).
func (s *Store) listing(ctx context.Context, bucket, prefix string, fn func(minio.ObjectInfo)) error {
	for obj := range s.client.ListObjects(ctx, bucket, minio.ListObjectsOptions{
		Prefix:    prefix,
		Recursive: false,
	}) {
		if obj.Err != nil {
			return fmt.Errorf("S3 list %s/%s: %w", bucket, prefix, obj.Err)
		}
		fn(obj)
	}
	return nil
}

func (s *Store) List(ctx context.Context, bucket, prefix string) ([]model.ObjectInfo, error) {
	var result []model.ObjectInfo
	err := s.listing(ctx, bucket, prefix, func(obj minio.ObjectInfo) {
		if !storage.DirectChild(prefix, obj.Key) {
			return
		}
		result = append(result, model.ObjectInfo{
			Key:          obj.Key,
			Name:         storage.BaseName(obj.Key),
			Size:         obj.Size,
			LastModified: obj.LastModified.UTC(),
		})
	})
	return result, err
}

func (s *Store) ListFolders(ctx context.Context, bucket, prefix string) ([]model.FolderInfo, error) {
	var result []model.FolderInfo
	err := s.listing(ctx, bucket, prefix, func(obj minio.ObjectInfo) {
		if !strings.HasSuffix(obj.Key, "/") || obj.Key == prefix {
			return
		}
		if !storage.DirectChild(prefix, strings.TrimSuffix(obj.Key, "/")) {
			return
		}
		result = append(result, model.FolderInfo{Prefix: obj.Key, Name: storage.BaseName(obj.Key)})
	})
	return result, err
}

func (s *Store) Get(ctx context.Context, bucket, key string) ([]byte, error) {
	obj, err := s.Open(ctx, bucket, key)
	if err != nil {
		return nil, err
	}
	defer obj.Close()

	data, err := io.ReadAll(obj)
	if err != nil {
		return nil, wrap("get", key, err)
	}
	return data, nil
}

func (s *Store) Open(ctx context.Context, bucket, key string) (*storage.Object, error) {
	obj, err := s.client.GetObject(ctx, bucket, key, minio.GetObjectOptions{})
	if err != nil {
		return nil, wrap("get", key, err)
	}
	// GetObject ленивый: ошибка отсутствия приходит при первом обращении
	info, err := obj.Stat()
	if err != nil {
		obj.Close()
		return nil, wrap("get", key, err)
	}
	return &storage.Object{ReadCloser: obj, Size: info.Size, ContentType: info.ContentType}, nil
}

func (s *Store) Put(ctx context.Context, bucket, key string, data []byte, contentType string) error {
	_, err := s.client.PutObject(ctx, bucket, key, bytes.NewReader(data), int64(len(data)),
		minio.PutObjectOptions{ContentType: contentType})
	if err != nil {
		return fmt.Errorf("S3 put %s: %w", key, err)
	}
	return nil
}

// Delete удаляет объект. S3 не сообщает об отсутствии ключа при удалении,
// поэтому сначала выполняется StatObject.
func (s *Store) Delete(ctx context.Context, bucket, key string) error {
	if _, err := s.client.StatObject(ctx, bucket, key, minio.StatObjectOptions{}); err != nil {
		return wrap("stat", key, err)
	}
	if err := s.client.RemoveObject(ctx, bucket, key, minio.RemoveObjectOptions{}); err != nil {
		return wrap("delete", key, err)
	}
	return nil
}

func (s *Store) Exists(ctx context.Context, bucket, key string) (bool, error) {
	_, err := s.client.StatObject(ctx, bucket, key, minio.StatObjectOptions{})
	if err == nil {
		return true, nil
	}
	if isNotFound(err) {
		return false, nil
	}
	return false, fmt.Errorf("S3 stat %s: %w", key, err)
}

func (s *Store) Copy(ctx context.Context, bucket, srcKey, dstKey string) error {
	_, err := s.client.CopyObject(ctx,
		minio.CopyDestOptions{Bucket: bucket, Object: dstKey},
		minio.CopySrcOptions{Bucket: bucket, Object: srcKey},
	)
	if err != nil {
		return wrap("copy", srcKey, err)
	}
	return nil
}

// CheckReady сообщает состояние по фоновой проверке доступности.
func (s *Store) CheckReady() (status, message string) {
	if !s.healthCheck {
		return "ok", "проверка доступности S3 выключена"
	}
	if s.client.IsOffline() {
		return "fail", fmt.Sprintf("S3 endpoint %s недоступен", s.client.EndpointURL().Host)
	}
	return "ok", "S3 endpoint доступен"
}

// Endpoint возвращает URL endpoint'а (для меток мониторинга).
func (s *Store) Endpoint() string {
	return s.client.EndpointURL().String()
}

var _ storage.Gateway = (*Store)(nil)
