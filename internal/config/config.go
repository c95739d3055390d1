// Пакет config — загрузка и валидация конфигурации Document Portal
// из переменных окружения (префикс DP_).
package config

import (
	"fmt"
	"log/slog"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"
)

// Версия приложения, задаётся при сборке через -ldflags.
var Version = "dev"

// Драйверы хранилища авторизаций.
const (
	StoreDriverPostgres = "postgres"
	StoreDriverSQLite   = "sqlite"
)

// Драйверы объектного хранилища.
const (
	StorageDriverS3 = "s3"
	StorageDriverFS = "fs"
)

// Режимы чтения токенов.
const (
	// TokenModeVerify — проверка подписи по JWKS издателя.
	TokenModeVerify = "verify"
	// TokenModeDecode — только декодирование claims (доверие upstream).
	TokenModeDecode = "decode"
)

// Драйверы лиз обработки манифестов.
const (
	LeaseDriverMemory = "memory"
	LeaseDriverRedis  = "redis"
)

// Config содержит все параметры конфигурации Document Portal.
type Config struct {
	// --- Сервер ---

	// Порт HTTP-сервера
	Port int
	// Уровень логирования (debug, info, warn, error)
	LogLevel slog.Level
	// Формат логов (json, text)
	LogFormat string
	// Таймаут graceful shutdown HTTP-сервера
	ShutdownTimeout time.Duration

	// --- Хранилище авторизаций ---

	// postgres или sqlite
	StoreDriver string
	DBHost      string
	DBPort      int
	DBName      string
	DBUser      string
	DBPassword  string
	// Режим SSL: disable, require, verify-ca, verify-full
	DBSSLMode string
	// Путь к файлу SQLite (для StoreDriver=sqlite)
	SQLitePath string
	// Заполнить хранилище демонстрационными данными при старте
	SeedDemoData bool

	// --- Identity Provider ---

	// URL IdP (Keycloak-совместимый OIDC)
	IDPURL          string
	IDPRealm        string
	IDPClientID     string
	IDPClientSecret string
	// Таймаут запросов к IdP (логин, readiness)
	IDPTimeout time.Duration

	// --- Токены ---

	// verify или decode
	TokenMode string
	// Issuer JWT (авто-вычисляется из IDPURL, если не задан)
	JWTIssuer string
	// URL JWKS endpoint (авто-вычисляется из IDPURL, если не задан)
	JWTJWKSURL string
	// Интервал фонового обновления JWKS
	JWKSRefreshInterval time.Duration
	// Максимум ключей в кэше (по kid)
	JWKSCacheSize int
	// Время жизни ключа в кэше
	JWKSCacheTTL time.Duration
	// Допустимое отклонение часов при проверке exp/nbf
	JWTLeeway time.Duration
	// Claims, из которых берётся имя пользователя (по порядку)
	UsernameClaims []string

	// --- Объектное хранилище ---

	// s3 или fs
	StorageDriver  string
	S3Endpoint     string
	S3Region       string
	S3AccessKey    string
	S3SecretKey    string
	S3SessionToken string
	S3UseSSL       bool
	// Корневая директория для StorageDriver=fs (поддиректория на каждый bucket)
	FSRoot string
	// Таймаут одного вызова хранилища
	StorageTimeout time.Duration

	// --- Обработка манифестов ---

	// Префикс исходных манифестов (legacy-листинг без папки)
	SourcePrefix string
	// Префикс результата обработки
	ResultPrefix string
	// Префикс, где лежат документы (idDocumento)
	DocumentPrefix string
	// Префикс архива документов
	DocumentArchivePrefix string
	// Параллелизм перемещения документов
	DocumentWorkers int
	// Считать манифест без строк допустимым
	AllowEmptyManifest bool

	// --- Политика авторизации ---

	// prefix (строковый префикс) или segment (граница сегмента пути)
	ScopeMatch string
	// Требовать явный выбор гранта при нескольких активных
	RequireExplicitGrant bool

	// --- Лизы ---

	LeaseDriver   string
	RedisAddr     string
	RedisPassword string
	RedisDB       int
	LeaseTTL      time.Duration

	// --- Мониторинг ---

	// Группа в метриках topologymetrics
	DephealthGroup string
	// Интервал проверки зависимостей topologymetrics
	DephealthCheckInterval time.Duration
}

// Load загружает конфигурацию из переменных окружения, валидирует
// обязательные поля и возвращает Config или ошибку.
func Load() (*Config, error) {
	cfg := &Config{}
	var err error

	// --- Сервер ---

	cfg.Port, err = getEnvInt("DP_PORT", 8080)
	if err != nil {
		return nil, fmt.Errorf("DP_PORT: %w", err)
	}
	if cfg.Port < 1 || cfg.Port > 65535 {
		return nil, fmt.Errorf("DP_PORT: значение %d вне допустимого диапазона 1-65535", cfg.Port)
	}

	cfg.LogLevel, err = parseLogLevel(getEnvDefault("DP_LOG_LEVEL", "info"))
	if err != nil {
		return nil, fmt.Errorf("DP_LOG_LEVEL: %w", err)
	}

	cfg.LogFormat = getEnvDefault("DP_LOG_FORMAT", "json")
	if cfg.LogFormat != "json" && cfg.LogFormat != "text" {
		return nil, fmt.Errorf("DP_LOG_FORMAT: недопустимое значение %q, допустимые: json, text", cfg.LogFormat)
	}

	cfg.ShutdownTimeout, err = getEnvDuration("DP_SHUTDOWN_TIMEOUT", 5*time.Second)
	if err != nil {
		return nil, fmt.Errorf("DP_SHUTDOWN_TIMEOUT: %w", err)
	}

	// --- Хранилище авторизаций ---

	if err := loadStore(cfg); err != nil {
		return nil, err
	}

	// --- Identity Provider ---

	cfg.IDPURL, err = getEnvRequired("DP_IDP_URL")
	if err != nil {
		return nil, err
	}
	cfg.IDPURL = strings.TrimRight(cfg.IDPURL, "/")

	cfg.IDPRealm = getEnvDefault("DP_IDP_REALM", "docportal")

	cfg.IDPClientID, err = getEnvRequired("DP_IDP_CLIENT_ID")
	if err != nil {
		return nil, err
	}
	// Секрет опционален: public client допустим
	cfg.IDPClientSecret = getEnvDefault("DP_IDP_CLIENT_SECRET", "")

	cfg.IDPTimeout, err = getEnvDuration("DP_IDP_TIMEOUT", 10*time.Second)
	if err != nil {
		return nil, fmt.Errorf("DP_IDP_TIMEOUT: %w", err)
	}

	// --- Токены ---

	cfg.TokenMode = getEnvDefault("DP_TOKEN_MODE", TokenModeVerify)
	if cfg.TokenMode != TokenModeVerify && cfg.TokenMode != TokenModeDecode {
		return nil, fmt.Errorf("DP_TOKEN_MODE: недопустимое значение %q, допустимые: verify, decode", cfg.TokenMode)
	}

	cfg.JWTIssuer = getEnvDefault("DP_JWT_ISSUER",
		fmt.Sprintf("%s/realms/%s", cfg.IDPURL, cfg.IDPRealm))

	cfg.JWTJWKSURL = getEnvDefault("DP_JWT_JWKS_URL",
		fmt.Sprintf("%s/realms/%s/protocol/openid-connect/certs", cfg.IDPURL, cfg.IDPRealm))

	cfg.JWKSRefreshInterval, err = getEnvDuration("DP_JWKS_REFRESH_INTERVAL", 15*time.Minute)
	if err != nil {
		return nil, fmt.Errorf("DP_JWKS_REFRESH_INTERVAL: %w", err)
	}

	cfg.JWKSCacheSize, err = getEnvInt("DP_JWKS_CACHE_SIZE", 5)
	if err != nil {
		return nil, fmt.Errorf("DP_JWKS_CACHE_SIZE: %w", err)
	}
	if cfg.JWKSCacheSize < 1 {
		return nil, fmt.Errorf("DP_JWKS_CACHE_SIZE: значение %d должно быть >= 1", cfg.JWKSCacheSize)
	}

	cfg.JWKSCacheTTL, err = getEnvDuration("DP_JWKS_CACHE_TTL", 10*time.Minute)
	if err != nil {
		return nil, fmt.Errorf("DP_JWKS_CACHE_TTL: %w", err)
	}

	cfg.JWTLeeway, err = getEnvDuration("DP_JWT_LEEWAY", 5*time.Second)
	if err != nil {
		return nil, fmt.Errorf("DP_JWT_LEEWAY: %w", err)
	}

	cfg.UsernameClaims = parseCSV(getEnvDefault("DP_USERNAME_CLAIMS",
		"username,cognito:username,preferred_username"))
	if len(cfg.UsernameClaims) == 0 {
		return nil, fmt.Errorf("DP_USERNAME_CLAIMS: список claims пуст")
	}

	// --- Объектное хранилище ---

	if err := loadStorage(cfg); err != nil {
		return nil, err
	}

	// --- Обработка манифестов ---

	cfg.SourcePrefix = ensureTrailingSlash(getEnvDefault("DP_SOURCE_PREFIX", "Recepcion/Muestreo/"))
	cfg.ResultPrefix = ensureTrailingSlash(getEnvDefault("DP_RESULT_PREFIX", "Recepcion/Muestreo/Resultado/"))
	cfg.DocumentPrefix = ensureTrailingSlash(getEnvDefault("DP_DOCUMENT_PREFIX", "Recepcion/"))
	cfg.DocumentArchivePrefix = ensureTrailingSlash(getEnvDefault("DP_DOCUMENT_ARCHIVE_PREFIX", "Recepcion/Procesados/"))
	if cfg.ResultPrefix == cfg.SourcePrefix {
		return nil, fmt.Errorf("DP_RESULT_PREFIX: не может совпадать с DP_SOURCE_PREFIX")
	}
	if cfg.DocumentArchivePrefix == cfg.DocumentPrefix {
		return nil, fmt.Errorf("DP_DOCUMENT_ARCHIVE_PREFIX: не может совпадать с DP_DOCUMENT_PREFIX")
	}

	cfg.DocumentWorkers, err = getEnvInt("DP_DOCUMENT_WORKERS", 4)
	if err != nil {
		return nil, fmt.Errorf("DP_DOCUMENT_WORKERS: %w", err)
	}
	if cfg.DocumentWorkers < 1 || cfg.DocumentWorkers > 64 {
		return nil, fmt.Errorf("DP_DOCUMENT_WORKERS: значение %d вне допустимого диапазона 1-64", cfg.DocumentWorkers)
	}

	cfg.AllowEmptyManifest, err = getEnvBool("DP_ALLOW_EMPTY_MANIFEST", false)
	if err != nil {
		return nil, fmt.Errorf("DP_ALLOW_EMPTY_MANIFEST: %w", err)
	}

	// --- Политика авторизации ---

	cfg.ScopeMatch = getEnvDefault("DP_SCOPE_MATCH", "prefix")
	if cfg.ScopeMatch != "prefix" && cfg.ScopeMatch != "segment" {
		return nil, fmt.Errorf("DP_SCOPE_MATCH: недопустимое значение %q, допустимые: prefix, segment", cfg.ScopeMatch)
	}

	cfg.RequireExplicitGrant, err = getEnvBool("DP_REQUIRE_EXPLICIT_GRANT", false)
	if err != nil {
		return nil, fmt.Errorf("DP_REQUIRE_EXPLICIT_GRANT: %w", err)
	}

	// --- Лизы ---

	if err := loadLease(cfg); err != nil {
		return nil, err
	}

	// --- Мониторинг ---

	cfg.DephealthGroup = getEnvDefault("DP_DEPHEALTH_GROUP", "docportal")

	cfg.DephealthCheckInterval, err = getEnvDuration("DP_DEPHEALTH_CHECK_INTERVAL", 15*time.Second)
	if err != nil {
		return nil, fmt.Errorf("DP_DEPHEALTH_CHECK_INTERVAL: %w", err)
	}

	return cfg, nil
}

// loadStore читает параметры хранилища авторизаций.
func loadStore(cfg *Config) error {
	var err error

	cfg.StoreDriver = getEnvDefault("DP_STORE_DRIVER", StoreDriverPostgres)

	cfg.SeedDemoData, err = getEnvBool("DP_SEED_DEMO_DATA", false)
	if err != nil {
		return fmt.Errorf("DP_SEED_DEMO_DATA: %w", err)
	}

	switch cfg.StoreDriver {
	case StoreDriverSQLite:
		cfg.SQLitePath = getEnvDefault("DP_SQLITE_PATH", "docportal.db")
		return nil
	case StoreDriverPostgres:
	default:
		return fmt.Errorf("DP_STORE_DRIVER: недопустимое значение %q, допустимые: postgres, sqlite", cfg.StoreDriver)
	}

	if cfg.DBHost, err = getEnvRequired("DP_DB_HOST"); err != nil {
		return err
	}

	cfg.DBPort, err = getEnvInt("DP_DB_PORT", 5432)
	if err != nil {
		return fmt.Errorf("DP_DB_PORT: %w", err)
	}

	if cfg.DBName, err = getEnvRequired("DP_DB_NAME"); err != nil {
		return err
	}
	if cfg.DBUser, err = getEnvRequired("DP_DB_USER"); err != nil {
		return err
	}
	if cfg.DBPassword, err = getEnvRequired("DP_DB_PASSWORD"); err != nil {
		return err
	}

	cfg.DBSSLMode = getEnvDefault("DP_DB_SSL_MODE", "disable")
	validSSLModes := map[string]bool{
		"disable": true, "require": true, "verify-ca": true, "verify-full": true,
	}
	if !validSSLModes[cfg.DBSSLMode] {
		return fmt.Errorf("DP_DB_SSL_MODE: недопустимое значение %q, допустимые: disable, require, verify-ca, verify-full", cfg.DBSSLMode)
	}
	return nil
}

// loadStorage читает параметры объектного хранилища.
func loadStorage(cfg *Config) error {
	var err error

	cfg.StorageDriver = getEnvDefault("DP_STORAGE_DRIVER", StorageDriverS3)

	cfg.StorageTimeout, err = getEnvDuration("DP_STORAGE_TIMEOUT", 30*time.Second)
	if err != nil {
		return fmt.Errorf("DP_STORAGE_TIMEOUT: %w", err)
	}
	if cfg.StorageTimeout <= 0 {
		return fmt.Errorf("DP_STORAGE_TIMEOUT: значение должно быть положительным")
	}

	switch cfg.StorageDriver {
	case StorageDriverFS:
		cfg.FSRoot, err = getEnvRequired("DP_FS_ROOT")
		return err
	case StorageDriverS3:
	default:
		return fmt.Errorf("DP_STORAGE_DRIVER: недопустимое значение %q, допустимые: s3, fs", cfg.StorageDriver)
	}

	cfg.S3Endpoint = getEnvDefault("DP_S3_ENDPOINT", "s3.amazonaws.com")
	cfg.S3Region = getEnvDefault("DP_S3_REGION", "eu-west-1")
	// Пустые ключи — цепочка учётных данных окружения (IAM)
	cfg.S3AccessKey = getEnvDefault("DP_S3_ACCESS_KEY", "")
	cfg.S3SecretKey = getEnvDefault("DP_S3_SECRET_KEY", "")
	cfg.S3SessionToken = getEnvDefault("DP_S3_SESSION_TOKEN", "")
	if (cfg.S3AccessKey == "") != (cfg.S3SecretKey == "") {
		return fmt.Errorf("DP_S3_ACCESS_KEY и DP_S3_SECRET_KEY задаются только вместе")
	}

	cfg.S3UseSSL, err = getEnvBool("DP_S3_USE_SSL", true)
	if err != nil {
		return fmt.Errorf("DP_S3_USE_SSL: %w", err)
	}
	return nil
}

// loadLease читает параметры лиз обработки.
func loadLease(cfg *Config) error {
	var err error

	cfg.LeaseDriver = getEnvDefault("DP_LEASE_DRIVER", LeaseDriverMemory)

	cfg.LeaseTTL, err = getEnvDuration("DP_LEASE_TTL", 5*time.Minute)
	if err != nil {
		return fmt.Errorf("DP_LEASE_TTL: %w", err)
	}

	switch cfg.LeaseDriver {
	case LeaseDriverMemory:
		return nil
	case LeaseDriverRedis:
	default:
		return fmt.Errorf("DP_LEASE_DRIVER: недопустимое значение %q, допустимые: memory, redis", cfg.LeaseDriver)
	}

	if cfg.RedisAddr, err = getEnvRequired("DP_REDIS_ADDR"); err != nil {
		return err
	}
	cfg.RedisPassword = getEnvDefault("DP_REDIS_PASSWORD", "")
	cfg.RedisDB, err = getEnvInt("DP_REDIS_DB", 0)
	if err != nil {
		return fmt.Errorf("DP_REDIS_DB: %w", err)
	}
	return nil
}

// DatabaseDSN возвращает строку подключения к PostgreSQL.
func (c *Config) DatabaseDSN() string {
	return fmt.Sprintf(
		"host=%s port=%d dbname=%s user=%s password=%s sslmode=%s",
		c.DBHost, c.DBPort, c.DBName, c.DBUser, c.DBPassword, c.DBSSLMode,
	)
}

// DatabaseURL возвращает URL PostgreSQL без пароля (для меток topologymetrics).
func (c *Config) DatabaseURL() string {
	u := url.URL{
		Scheme: "postgres",
		User:   url.User(c.DBUser),
		Host:   fmt.Sprintf("%s:%d", c.DBHost, c.DBPort),
		Path:   "/" + c.DBName,
	}
	return u.String()
}

// SetupLogger настраивает глобальный slog-логгер на основе конфигурации.
func SetupLogger(cfg *Config) *slog.Logger {
	opts := &slog.HandlerOptions{
		Level: cfg.LogLevel,
	}

	var handler slog.Handler
	if cfg.LogFormat == "json" {
		handler = slog.NewJSONHandler(os.Stdout, opts)
	} else {
		handler = slog.NewTextHandler(os.Stdout, opts)
	}

	logger := slog.New(handler)
	slog.SetDefault(logger)
	return logger
}

// --- Вспомогательные функции ---

// getEnvRequired возвращает значение переменной окружения или ошибку, если она не задана.
func getEnvRequired(key string) (string, error) {
	val := os.Getenv(key)
	if val == "" {
		return "", fmt.Errorf("%s: обязательная переменная окружения не задана", key)
	}
	return val, nil
}

// getEnvDefault возвращает значение переменной окружения или значение по умолчанию.
func getEnvDefault(key, defaultVal string) string {
	val := os.Getenv(key)
	if val == "" {
		return defaultVal
	}
	return val
}

// getEnvInt возвращает целочисленное значение переменной окружения или значение по умолчанию.
func getEnvInt(key string, defaultVal int) (int, error) {
	val := os.Getenv(key)
	if val == "" {
		return defaultVal, nil
	}
	n, err := strconv.Atoi(val)
	if err != nil {
		return 0, fmt.Errorf("некорректное целое число: %q", val)
	}
	return n, nil
}

// getEnvBool возвращает логическое значение переменной окружения или значение по умолчанию.
func getEnvBool(key string, defaultVal bool) (bool, error) {
	val := os.Getenv(key)
	if val == "" {
		return defaultVal, nil
	}
	b, err := strconv.ParseBool(val)
	if err != nil {
		return false, fmt.Errorf("некорректное логическое значение: %q", val)
	}
	return b, nil
}

// getEnvDuration возвращает time.Duration из переменной окружения или значение по умолчанию.
func getEnvDuration(key string, defaultVal time.Duration) (time.Duration, error) {
	val := os.Getenv(key)
	if val == "" {
		return defaultVal, nil
	}
	d, err := time.ParseDuration(val)
	if err != nil {
		return 0, fmt.Errorf("некорректная длительность: %q (используйте формат Go: 30s, 1h, 15m)", val)
	}
	return d, nil
}

// parseLogLevel преобразует строку уровня логирования в slog.Level.
func parseLogLevel(level string) (slog.Level, error) {
	switch strings.ToLower(level) {
	case "debug":
		return slog.LevelDebug, nil
	case "info":
		return slog.LevelInfo, nil
	case "warn", "warning":
		return slog.LevelWarn, nil
	case "error":
		return slog.LevelError, nil
	default:
		return slog.LevelInfo, fmt.Errorf("недопустимый уровень %q, допустимые: debug, info, warn, error", level)
	}
}

// parseCSV разбирает строку, разделённую запятыми, на срез строк.
// Пробелы вокруг элементов убираются, пустые элементы игнорируются.
func parseCSV(s string) []string {
	if s == "" {
		return nil
	}
	parts := strings.Split(s, ",")
	result := make([]string, 0, len(parts))
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p != "" {
			result = append(result, p)
		}
	}
	return result
}

// ensureTrailingSlash добавляет завершающий "/" к префиксу ключей.
func ensureTrailingSlash(prefix string) string {
	if prefix == "" || strings.HasSuffix(prefix, "/") {
		return prefix
	}
	return prefix + "/"
}
