package storage

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"time"

	"github.com/bigkaa/docportal/internal/domain/model"
)

// TimeoutGateway ограничивает каждый вызов хранилища таймаутом.
// Идемпотентные операции (List, ListFolders, Get, Open, Exists) при
// истечении таймаута повторяются один раз; изменяющие (Put, Delete, Copy)
// не повторяются.
type TimeoutGateway struct {
	next    Gateway
	timeout time.Duration
	logger  *slog.Logger
}

// NewTimeoutGateway оборачивает next.
func NewTimeoutGateway(next Gateway, timeout time.Duration, logger *slog.Logger) *TimeoutGateway {
	return &TimeoutGateway{
		next:    next,
		timeout: timeout,
		logger:  logger.With(slog.String("component", "storage")),
	}
}

// retryable — повтор имеет смысл: истёк собственный таймаут вызова,
// а контекст вызывающего ещё жив.
func retryable(parent context.Context, err error) bool {
	return errors.Is(err, context.DeadlineExceeded) && parent.Err() == nil
}

// readOnce выполняет идемпотентную операцию с таймаутом и одним повтором.
func readOnce[T any](ctx context.Context, g *TimeoutGateway, op string, fn func(context.Context) (T, error)) (T, error) {
	call := func() (T, error) {
		cctx, cancel := context.WithTimeout(ctx, g.timeout)
		defer cancel()
		return fn(cctx)
	}

	v, err := call()
	if err != nil && retryable(ctx, err) {
		g.logger.Warn("Таймаут вызова хранилища, повтор",
			slog.String("op", op),
			slog.Duration("timeout", g.timeout),
		)
		v, err = call()
	}
	return v, err
}

// write выполняет изменяющую операцию с таймаутом, без повтора.
func (g *TimeoutGateway) write(ctx context.Context, fn func(context.Context) error) error {
	cctx, cancel := context.WithTimeout(ctx, g.timeout)
	defer cancel()
	return fn(cctx)
}

func (g *TimeoutGateway) List(ctx context.Context, bucket, prefix string) ([]model.ObjectInfo, error) {
	return readOnce(ctx, g, "list", func(c context.Context) ([]model.ObjectInfo, error) {
		return g.next.List(c, bucket, prefix)
	})
}

func (g *TimeoutGateway) ListFolders(ctx context.Context, bucket, prefix string) ([]model.FolderInfo, error) {
	return readOnce(ctx, g, "list_folders", func(c context.Context) ([]model.FolderInfo, error) {
		return g.next.ListFolders(c, bucket, prefix)
	})
}

func (g *TimeoutGateway) Get(ctx context.Context, bucket, key string) ([]byte, error) {
	return readOnce(ctx, g, "get", func(c context.Context) ([]byte, error) {
		return g.next.Get(c, bucket, key)
	})
}

func (g *TimeoutGateway) Exists(ctx context.Context, bucket, key string) (bool, error) {
	return readOnce(ctx, g, "exists", func(c context.Context) (bool, error) {
		return g.next.Exists(c, bucket, key)
	})
}

// Open ограничивает таймаутом только открытие объекта. Контекст потока
// живёт до Close.
func (g *TimeoutGateway) Open(ctx context.Context, bucket, key string) (*Object, error) {
	open := func() (*Object, error) {
		cctx, cancel := context.WithCancelCause(ctx)
		timer := time.AfterFunc(g.timeout, func() { cancel(context.DeadlineExceeded) })

		obj, err := g.next.Open(cctx, bucket, key)
		if !timer.Stop() {
			// Таймаут сработал во время открытия
			if err == nil {
				obj.Close()
			}
			cancel(nil)
			return nil, context.DeadlineExceeded
		}
		if err != nil {
			cancel(nil)
			return nil, err
		}
		obj.ReadCloser = &cancelOnClose{ReadCloser: obj.ReadCloser, cancel: func() { cancel(nil) }}
		return obj, nil
	}

	obj, err := open()
	if err != nil && retryable(ctx, err) {
		g.logger.Warn("Таймаут вызова хранилища, повтор",
			slog.String("op", "open"),
			slog.Duration("timeout", g.timeout),
		)
		obj, err = open()
	}
	return obj, err
}

// cancelOnClose освобождает контекст потока при закрытии.
type cancelOnClose struct {
	io.ReadCloser
	cancel func()
}

func (c *cancelOnClose) Close() error {
	err := c.ReadCloser.Close()
	c.cancel()
	return err
}

func (g *TimeoutGateway) Put(ctx context.Context, bucket, key string, data []byte, contentType string) error {
	return g.write(ctx, func(c context.Context) error {
		return g.next.Put(c, bucket, key, data, contentType)
	})
}

func (g *TimeoutGateway) Delete(ctx context.Context, bucket, key string) error {
	return g.write(ctx, func(c context.Context) error {
		return g.next.Delete(c, bucket, key)
	})
}

func (g *TimeoutGateway) Copy(ctx context.Context, bucket, srcKey, dstKey string) error {
	return g.write(ctx, func(c context.Context) error {
		return g.next.Copy(c, bucket, srcKey, dstKey)
	})
}
