// processing.go — обработка манифеста: отметка строк, перенос манифеста
// в Resultado и архивирование документов.
package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"golang.org/x/sync/errgroup"

	"github.com/bigkaa/docportal/internal/domain/model"
	"github.com/bigkaa/docportal/internal/lease"
	"github.com/bigkaa/docportal/internal/manifest"
	"github.com/bigkaa/docportal/internal/storage"
)

var (
	manifestsProcessed = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "dp_manifest_processed_total",
			Help: "Количество обработанных манифестов по решению",
		},
		[]string{"outcome"},
	)

	manifestFailures = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "dp_manifest_failures_total",
			Help: "Количество прерванных обработок манифестов по этапу",
		},
		[]string{"stage"},
	)

	documentsMoved = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "dp_documents_moved_total",
			Help: "Количество документов, перенесённых в архив (moved) или пропущенных (failed)",
		},
		[]string{"result"},
	)
)

// timestampLayout — ISO-8601 UTC с миллисекундами.
const timestampLayout = "2006-01-02T15:04:05.000Z07:00"

// ProcessingOptions — параметры обработки.
type ProcessingOptions struct {
	// Workers — параллелизм перемещения документов
	Workers int
	// AllowEmpty — манифест без строк допустим
	AllowEmpty bool
	// LeaseTTL — время жизни лизы на манифест
	LeaseTTL time.Duration
}

// ProcessRequest — решение пользователя по манифесту.
type ProcessRequest struct {
	Grant *model.Grant
	// Username — matriculaValidador
	Username string
	// DisplayName — nombreValidador (по умолчанию Username)
	DisplayName string
	// Folder — папка манифеста; пусто — legacy SourcePrefix
	Folder   string
	FileName string
	Outcome  string
}

// ProcessingService — обработка манифестов.
type ProcessingService struct {
	store  storage.Gateway
	files  *FileService
	leaser lease.Leaser
	layout Layout
	opts   ProcessingOptions
	now    func() time.Time
	logger *slog.Logger
}

// NewProcessingService создаёт ProcessingService.
func NewProcessingService(
	store storage.Gateway,
	files *FileService,
	leaser lease.Leaser,
	layout Layout,
	opts ProcessingOptions,
	logger *slog.Logger,
) *ProcessingService {
	if opts.Workers < 1 {
		opts.Workers = 1
	}
	if opts.LeaseTTL <= 0 {
		opts.LeaseTTL = 5 * time.Minute
	}
	return &ProcessingService{
		store:  store,
		files:  files,
		leaser: leaser,
		layout: layout,
		opts:   opts,
		now:    time.Now,
		logger: logger.With(slog.String("component", "processing")),
	}
}

// Process выполняет обработку манифеста.
//
// Этапы строго последовательны: чтение, разбор, отметка, запись результата,
// удаление исходника. Сбой любого из них прерывает обработку. Документы
// переносятся независимо друг от друга, их сбои попадают в результат.
// Отключение клиента обработку не прерывает.
func (s *ProcessingService) Process(ctx context.Context, req ProcessRequest) (*model.ProcessingResult, error) {
	if !model.ValidOutcome(req.Outcome) {
		return nil, fmt.Errorf("%w: resultado %q, допустимые: %s, %s, %s",
			ErrValidation, req.Outcome, model.OutcomeOK, model.OutcomeKO, model.OutcomeKOPartial)
	}
	if req.Grant == nil {
		return nil, ErrNotAuthorized
	}
	sourceKey, _, err := s.files.authorizeManifest(req.Grant, req.Folder, req.FileName)
	if err != nil {
		return nil, err
	}
	// Иначе запись результата перезапишет исходник, а удаление сотрёт единственную копию
	if sourceKey == s.layout.ResultKey(req.FileName) || s.layout.InResult(sourceKey) {
		return nil, fmt.Errorf("%w: манифест %s уже находится в папке результатов", ErrValidation, sourceKey)
	}
	if req.DisplayName == "" {
		req.DisplayName = req.Username
	}

	ctx = context.WithoutCancel(ctx)
	bucket := req.Grant.Bucket
	log := s.logger.With(
		slog.String("bucket", bucket),
		slog.String("source_key", sourceKey),
		slog.String("username", req.Username),
	)

	if s.leaser != nil {
		release, err := s.leaser.Acquire(ctx, lease.Key(bucket, sourceKey), s.opts.LeaseTTL)
		if err != nil {
			if errors.Is(err, lease.ErrHeld) {
				return nil, fmt.Errorf("%w: манифест %s уже обрабатывается", ErrConflict, req.FileName)
			}
			return nil, fmt.Errorf("%w: %w: лиза: %v", ErrInternal, ErrUnavailable, err)
		}
		defer release()
	}

	// FETCH_SOURCE
	data, err := s.store.Get(ctx, bucket, sourceKey)
	if err != nil {
		manifestFailures.WithLabelValues("fetch").Inc()
		return nil, storageErr("чтение манифеста "+sourceKey, err)
	}

	// PARSE
	tbl, err := manifest.Parse(data)
	if err != nil {
		manifestFailures.WithLabelValues("parse").Inc()
		return nil, fmt.Errorf("%w: %v", ErrValidation, err)
	}
	if tbl.Len() == 0 && !s.opts.AllowEmpty {
		manifestFailures.WithLabelValues("parse").Inc()
		return nil, fmt.Errorf("%w: манифест %s не содержит строк", ErrValidation, req.FileName)
	}

	// STAMP_ROWS: одна отметка времени на весь манифест
	processedAt := s.now().UTC().Truncate(time.Millisecond)
	tbl.Stamp(manifest.Stamp{
		Outcome:      req.Outcome,
		OperatorID:   req.Username,
		OperatorName: req.DisplayName,
		Timestamp:    processedAt.Format(timestampLayout),
	})

	// SERIALIZE + UPLOAD_DESTINATION
	destKey := s.layout.ResultKey(req.FileName)
	if err := s.store.Put(ctx, bucket, destKey, tbl.Serialize(), "text/csv"); err != nil {
		manifestFailures.WithLabelValues("upload").Inc()
		return nil, fmt.Errorf("%w: %w: запись %s: %v", ErrInternal, ErrUnavailable, destKey, err)
	}

	// DELETE_SOURCE — только после подтверждённой записи
	if err := s.store.Delete(ctx, bucket, sourceKey); err != nil {
		manifestFailures.WithLabelValues("delete").Inc()
		return nil, fmt.Errorf("%w: %w: удаление %s: %v", ErrInternal, ErrUnavailable, sourceKey, err)
	}
	log.Info("Манифест перенесён", slog.String("destination_key", destKey), slog.Int("rows", tbl.Len()))

	moved, failed := s.moveDocuments(ctx, bucket, tbl.DocumentIDs(), log)

	manifestsProcessed.WithLabelValues(req.Outcome).Inc()
	log.Info("Манифест обработан",
		slog.String("outcome", req.Outcome),
		slog.Int("documents_moved", len(moved)),
		slog.Int("documents_failed", len(failed)),
	)

	return &model.ProcessingResult{
		SourceKey:       sourceKey,
		SourceDeleted:   true,
		DestinationKey:  destKey,
		RowsTotal:       tbl.Len(),
		DocumentsMoved:  moved,
		DocumentsFailed: failed,
		Outcome:         req.Outcome,
		ProcessedBy:     req.DisplayName,
		ProcessedAt:     processedAt,
	}, nil
}

// moveDocuments переносит документы в архив с ограниченным параллелизмом.
// Результаты упорядочены как в манифесте.
func (s *ProcessingService) moveDocuments(ctx context.Context, bucket string, ids []string, log *slog.Logger) ([]string, []model.DocumentFailure) {
	reasons := make([]string, len(ids))

	var g errgroup.Group
	g.SetLimit(s.opts.Workers)
	for i, id := range ids {
		g.Go(func() error {
			reasons[i] = s.moveDocument(ctx, bucket, id)
			return nil
		})
	}
	_ = g.Wait()

	moved := make([]string, 0, len(ids))
	failed := make([]model.DocumentFailure, 0)
	for i, id := range ids {
		if reasons[i] == "" {
			moved = append(moved, id)
			documentsMoved.WithLabelValues("moved").Inc()
			continue
		}
		failed = append(failed, model.DocumentFailure{ID: id, Reason: reasons[i]})
		documentsMoved.WithLabelValues("failed").Inc()
		log.Warn("Документ не перенесён", slog.String("document_id", id), slog.String("reason", reasons[i]))
	}
	return moved, failed
}

// moveDocument переносит один документ. Пустая строка — успех, иначе причина отказа.
func (s *ProcessingService) moveDocument(ctx context.Context, bucket, id string) string {
	if err := validName("idDocumento", id); err != nil {
		return err.Error()
	}
	src := s.layout.DocumentKey(id)

	ok, err := s.store.Exists(ctx, bucket, src)
	if err != nil {
		return err.Error()
	}
	if !ok {
		return model.ReasonNotFound
	}

	if err := storage.Move(ctx, s.store, bucket, src, s.layout.ArchiveKey(id)); err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return model.ReasonNotFound
		}
		return err.Error()
	}
	return ""
}
