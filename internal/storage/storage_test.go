package storage

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/bigkaa/docportal/internal/domain/model"
)

// slowGateway блокируется до отмены контекста первые block вызовов.
type slowGateway struct {
	block   int32
	calls   atomic.Int32
	deletes atomic.Int32
	copyErr error
}

func (g *slowGateway) wait(ctx context.Context) error {
	if g.calls.Add(1) <= g.block {
		<-ctx.Done()
		return ctx.Err()
	}
	return nil
}

func (g *slowGateway) List(ctx context.Context, _, _ string) ([]model.ObjectInfo, error) {
	if err := g.wait(ctx); err != nil {
		return nil, err
	}
	return []model.ObjectInfo{{Key: "a"}}, nil
}

func (g *slowGateway) ListFolders(ctx context.Context, _, _ string) ([]model.FolderInfo, error) {
	return nil, g.wait(ctx)
}

func (g *slowGateway) Get(ctx context.Context, _, _ string) ([]byte, error) {
	if err := g.wait(ctx); err != nil {
		return nil, err
	}
	return []byte("data"), nil
}

func (g *slowGateway) Open(ctx context.Context, _, _ string) (*Object, error) {
	if err := g.wait(ctx); err != nil {
		return nil, err
	}
	return &Object{ReadCloser: io.NopCloser(strings.NewReader("stream")), Size: 6}, nil
}

func (g *slowGateway) Put(ctx context.Context, _, _ string, _ []byte, _ string) error {
	return g.wait(ctx)
}

func (g *slowGateway) Delete(ctx context.Context, _, _ string) error {
	g.deletes.Add(1)
	return g.wait(ctx)
}

func (g *slowGateway) Exists(ctx context.Context, _, _ string) (bool, error) {
	if err := g.wait(ctx); err != nil {
		return false, err
	}
	return true, nil
}

func (g *slowGateway) Copy(ctx context.Context, _, _, _ string) error {
	if g.copyErr != nil {
		return g.copyErr
	}
	return g.wait(ctx)
}

func newTimeout(g Gateway) *TimeoutGateway {
	return NewTimeoutGateway(g, 30*time.Millisecond, slog.New(slog.NewTextHandler(io.Discard, nil)))
}

// Идемпотентные операции повторяются один раз после таймаута.
func TestTimeoutGateway_RetriesReads(t *testing.T) {
	ctx := context.Background()

	slow := &slowGateway{block: 1}
	objs, err := newTimeout(slow).List(ctx, "b", "p/")
	if err != nil || len(objs) != 1 {
		t.Fatalf("List() = %v, %v; ожидался успех после повтора", objs, err)
	}
	if slow.calls.Load() != 2 {
		t.Errorf("вызовов %d, ожидалось 2", slow.calls.Load())
	}

	slow = &slowGateway{block: 1}
	if ok, err := newTimeout(slow).Exists(ctx, "b", "k"); !ok || err != nil {
		t.Errorf("Exists() = %v, %v", ok, err)
	}

	// Два таймаута подряд — ошибка, третьего вызова нет
	slow = &slowGateway{block: 2}
	if _, err := newTimeout(slow).Get(ctx, "b", "k"); !errors.Is(err, context.DeadlineExceeded) {
		t.Errorf("Get() = %v, ожидался DeadlineExceeded", err)
	}
	if slow.calls.Load() != 2 {
		t.Errorf("вызовов %d, ожидалось 2", slow.calls.Load())
	}
}

// Изменяющие операции не повторяются.
func TestTimeoutGateway_NoRetryForWrites(t *testing.T) {
	ctx := context.Background()

	slow := &slowGateway{block: 1}
	if err := newTimeout(slow).Put(ctx, "b", "k", nil, ""); !errors.Is(err, context.DeadlineExceeded) {
		t.Errorf("Put() = %v, ожидался DeadlineExceeded", err)
	}
	if slow.calls.Load() != 1 {
		t.Errorf("Put вызван %d раз, ожидался 1", slow.calls.Load())
	}

	slow = &slowGateway{block: 1}
	_ = newTimeout(slow).Delete(ctx, "b", "k")
	if slow.calls.Load() != 1 {
		t.Errorf("Delete вызван %d раз, ожидался 1", slow.calls.Load())
	}
}

// Отменённый вызывающим контекст не повторяется.
func TestTimeoutGateway_CallerCancel(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	slow := &slowGateway{block: 5}
	if _, err := newTimeout(slow).List(ctx, "b", "p/"); err == nil {
		t.Error("List() с отменённым контекстом должен вернуть ошибку")
	}
	if slow.calls.Load() != 1 {
		t.Errorf("вызовов %d, ожидался 1", slow.calls.Load())
	}
}

func TestTimeoutGateway_Open(t *testing.T) {
	slow := &slowGateway{block: 1}
	obj, err := newTimeout(slow).Open(context.Background(), "b", "k")
	if err != nil {
		t.Fatalf("Open() ошибка: %v", err)
	}
	// Чтение после истечения таймаута открытия
	time.Sleep(50 * time.Millisecond)
	data, err := io.ReadAll(obj)
	if err != nil || string(data) != "stream" {
		t.Errorf("чтение = %q, %v", data, err)
	}
	if err := obj.Close(); err != nil {
		t.Errorf("Close() ошибка: %v", err)
	}
}

// Move не удаляет исходник, если копирование не удалось.
func TestMove_CopyFailureKeepsSource(t *testing.T) {
	g := &slowGateway{copyErr: errors.New("сбой копирования")}
	if err := Move(context.Background(), g, "b", "src", "dst"); err == nil {
		t.Fatal("Move() должен вернуть ошибку")
	}
	if g.deletes.Load() != 0 {
		t.Error("Delete вызван после неудачного Copy")
	}
}

func TestDirectChild(t *testing.T) {
	tests := []struct {
		prefix, key string
		want        bool
	}{
		{"Recepcion/Muestreo/", "Recepcion/Muestreo/a.csv", true},
		{"Recepcion/Muestreo/", "Recepcion/Muestreo/Cartas/a.csv", false},
		{"Recepcion/Muestreo/", "Recepcion/Muestreo/", false},
		{"Recepcion/Muestreo/", "Recepcion/Muestreo/Cartas/", false},
		{"Recepcion/Muestreo/", "Otro/a.csv", false},
	}
	for _, tt := range tests {
		if got := DirectChild(tt.prefix, tt.key); got != tt.want {
			t.Errorf("DirectChild(%q, %q) = %v, ожидалось %v", tt.prefix, tt.key, got, tt.want)
		}
	}
}

func TestBaseName(t *testing.T) {
	if got := BaseName("Recepcion/Muestreo/Cartas/"); got != "Cartas" {
		t.Errorf("BaseName() = %q", got)
	}
	if got := BaseName("a/b.csv"); got != "b.csv" {
		t.Errorf("BaseName() = %q", got)
	}
}
