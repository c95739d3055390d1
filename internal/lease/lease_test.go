package lease

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"
)

func TestKey(t *testing.T) {
	if got := Key("b", "Recepcion/Muestreo/f.csv"); got != "b/Recepcion/Muestreo/f.csv" {
		t.Errorf("Key() = %q", got)
	}
}

func TestMemoryLeaser(t *testing.T) {
	l := NewMemoryLeaser()
	ctx := context.Background()

	release, err := l.Acquire(ctx, "k", time.Minute)
	if err != nil {
		t.Fatalf("Acquire() ошибка: %v", err)
	}
	if _, err := l.Acquire(ctx, "k", time.Minute); !errors.Is(err, ErrHeld) {
		t.Errorf("повторный Acquire() = %v, ожидался ErrHeld", err)
	}
	if r, err := l.Acquire(ctx, "other", time.Minute); err != nil {
		t.Errorf("Acquire() другого ключа: %v", err)
	} else {
		r()
	}

	release()
	release()

	r2, err := l.Acquire(ctx, "k", time.Minute)
	if err != nil {
		t.Fatalf("Acquire() после release: %v", err)
	}
	r2()
}

func TestMemoryLeaser_Expiry(t *testing.T) {
	l := NewMemoryLeaser()
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	l.now = func() time.Time { return now }
	ctx := context.Background()

	stale, err := l.Acquire(ctx, "k", time.Second)
	if err != nil {
		t.Fatalf("Acquire() ошибка: %v", err)
	}

	now = now.Add(2 * time.Second)
	fresh, err := l.Acquire(ctx, "k", time.Minute)
	if err != nil {
		t.Fatalf("Acquire() просроченной лизы: %v", err)
	}

	// Старый владелец не снимает чужую лизу
	stale()
	if _, err := l.Acquire(ctx, "k", time.Minute); !errors.Is(err, ErrHeld) {
		t.Errorf("Acquire() = %v, лиза нового владельца должна сохраниться", err)
	}
	fresh()
}

func TestMemoryLeaser_Concurrent(t *testing.T) {
	l := NewMemoryLeaser()
	var won atomic.Int32
	var wg sync.WaitGroup
	for range 20 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := l.Acquire(context.Background(), "k", time.Minute); err == nil {
				won.Add(1)
			}
		}()
	}
	wg.Wait()
	if won.Load() != 1 {
		t.Errorf("лизу получили %d обработчиков, ожидался 1", won.Load())
	}
}

func setupRedis(t *testing.T) *RedisLeaser {
	t.Helper()

	if os.Getenv("TEST_INTEGRATION") == "" {
		t.Skip("Пропуск интеграционного теста: TEST_INTEGRATION не установлена")
	}

	ctx := context.Background()
	container, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
		ContainerRequest: testcontainers.ContainerRequest{
			Image:        "docker.io/redis:7-alpine",
			ExposedPorts: []string{"6379/tcp"},
			WaitingFor:   wait.ForLog("Ready to accept connections").WithStartupTimeout(30 * time.Second),
		},
		Started: true,
	})
	if err != nil {
		t.Fatalf("Не удалось запустить Redis контейнер: %v", err)
	}
	t.Cleanup(func() {
		if err := container.Terminate(ctx); err != nil {
			t.Logf("Ошибка остановки контейнера: %v", err)
		}
	})

	host, err := container.Host(ctx)
	if err != nil {
		t.Fatalf("Не удалось получить host контейнера: %v", err)
	}
	port, err := container.MappedPort(ctx, "6379")
	if err != nil {
		t.Fatalf("Не удалось получить port контейнера: %v", err)
	}

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	client, err := ConnectRedis(ctx, fmt.Sprintf("%s:%s", host, port.Port()), "", 0, logger)
	if err != nil {
		t.Fatalf("ConnectRedis() ошибка: %v", err)
	}
	t.Cleanup(func() { client.Close() })

	return NewRedisLeaser(client, logger)
}

func TestRedisLeaser(t *testing.T) {
	l := setupRedis(t)
	ctx := context.Background()

	release, err := l.Acquire(ctx, "b/f.csv", time.Minute)
	if err != nil {
		t.Fatalf("Acquire() ошибка: %v", err)
	}
	if _, err := l.Acquire(ctx, "b/f.csv", time.Minute); !errors.Is(err, ErrHeld) {
		t.Errorf("повторный Acquire() = %v, ожидался ErrHeld", err)
	}
	release()

	r2, err := l.Acquire(ctx, "b/f.csv", time.Minute)
	if err != nil {
		t.Fatalf("Acquire() после release: %v", err)
	}
	r2()

	if status, msg := l.CheckReady(); status != "ok" {
		t.Errorf("CheckReady() = %q, %q", status, msg)
	}
}

func TestRedisLeaser_Expiry(t *testing.T) {
	l := setupRedis(t)
	ctx := context.Background()

	stale, err := l.Acquire(ctx, "k", 100*time.Millisecond)
	if err != nil {
		t.Fatalf("Acquire() ошибка: %v", err)
	}
	time.Sleep(300 * time.Millisecond)

	fresh, err := l.Acquire(ctx, "k", time.Minute)
	if err != nil {
		t.Fatalf("Acquire() просроченной лизы: %v", err)
	}
	stale()
	if _, err := l.Acquire(ctx, "k", time.Minute); !errors.Is(err, ErrHeld) {
		t.Errorf("Acquire() = %v, старый владелец снял чужую лизу", err)
	}
	fresh()
}
