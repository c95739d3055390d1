// Пакет lease — кратковременные лизы на обработку манифеста.
// Ключ лизы — (bucket, ключ исходного манифеста).
package lease

import (
	"context"
	"errors"
	"sync"
	"time"
)

// ErrHeld — лиза уже занята другим обработчиком.
var ErrHeld = errors.New("лиза уже занята")

// Leaser выдаёт лизы. release освобождает лизу; повторный вызов — no-op.
type Leaser interface {
	Acquire(ctx context.Context, key string, ttl time.Duration) (release func(), err error)
}

// Key формирует ключ лизы для манифеста.
func Key(bucket, sourceKey string) string {
	return bucket + "/" + sourceKey
}

// MemoryLeaser — лизы в памяти процесса (один экземпляр сервиса).
type MemoryLeaser struct {
	mu      sync.Mutex
	holders map[string]memoryHolder
	now     func() time.Time
	seq     uint64
}

type memoryHolder struct {
	id      uint64
	expires time.Time
}

// NewMemoryLeaser создаёт MemoryLeaser.
func NewMemoryLeaser() *MemoryLeaser {
	return &MemoryLeaser{
		holders: make(map[string]memoryHolder),
		now:     time.Now,
	}
}

// Acquire занимает лизу. Просроченная лиза считается свободной.
func (l *MemoryLeaser) Acquire(_ context.Context, key string, ttl time.Duration) (func(), error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	if h, ok := l.holders[key]; ok && now.Before(h.expires) {
		return nil, ErrHeld
	}

	l.seq++
	id := l.seq
	l.holders[key] = memoryHolder{id: id, expires: now.Add(ttl)}

	var once sync.Once
	return func() {
		once.Do(func() {
			l.mu.Lock()
			defer l.mu.Unlock()
			// Лиза могла истечь и достаться другому
			if h, ok := l.holders[key]; ok && h.id == id {
				delete(l.holders, key)
			}
		})
	}, nil
}
