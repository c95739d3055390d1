package idtoken

import (
	"errors"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/hashicorp/golang-lru/v2/expirable"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Prometheus-метрики кэша ключей.
var (
	keyCacheHitsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "dp_jwks_cache_hits_total",
		Help: "Общее количество попаданий в кэш ключей подписи.",
	})
	keyCacheMissesTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "dp_jwks_cache_misses_total",
		Help: "Общее количество промахов кэша ключей подписи.",
	})
)

// errMissingKID — в заголовке токена нет kid.
var errMissingKID = errors.New("отсутствует kid в заголовке токена")

// KeyCache — ограниченный кэш ключей подписи по kid: не более size
// записей, каждая живёт ttl с момента добавления.
type KeyCache struct {
	cache *expirable.LRU[string, any]
}

// NewKeyCache создаёт кэш ключей.
func NewKeyCache(size int, ttl time.Duration) *KeyCache {
	return &KeyCache{cache: expirable.NewLRU[string, any](size, nil, ttl)}
}

// Keyfunc оборачивает next: ключ сначала ищется в кэше, при промахе
// запрашивается у next и кэшируется.
func (c *KeyCache) Keyfunc(next jwt.Keyfunc) jwt.Keyfunc {
	return func(token *jwt.Token) (any, error) {
		kid, _ := token.Header["kid"].(string)
		if kid == "" {
			return nil, errMissingKID
		}

		if key, ok := c.cache.Get(kid); ok {
			keyCacheHitsTotal.Inc()
			return key, nil
		}
		keyCacheMissesTotal.Inc()

		key, err := next(token)
		if err != nil {
			return nil, err
		}
		c.cache.Add(kid, key)
		return key, nil
	}
}

// Len возвращает число ключей в кэше.
func (c *KeyCache) Len() int {
	return c.cache.Len()
}
