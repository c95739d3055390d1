// Точка входа Document Portal — портал проверки манифестов документов.
// Загружает конфигурацию, открывает хранилище авторизаций (PostgreSQL
// или SQLite), подключает IdP, объектное хранилище и лизы обработки,
// создаёт сервисный слой и API handlers, запускает topologymetrics
// и HTTP-сервер с проверкой пары токенов и graceful shutdown.
package main

import (
	"context"
	"database/sql"
	"log/slog"
	"net/http"
	"os"

	"github.com/jackc/pgx/v5/stdlib"

	"github.com/bigkaa/docportal/internal/api/handlers"
	"github.com/bigkaa/docportal/internal/api/middleware"
	"github.com/bigkaa/docportal/internal/config"
	"github.com/bigkaa/docportal/internal/database"
	"github.com/bigkaa/docportal/internal/domain/scope"
	"github.com/bigkaa/docportal/internal/idp"
	"github.com/bigkaa/docportal/internal/idtoken"
	"github.com/bigkaa/docportal/internal/lease"
	"github.com/bigkaa/docportal/internal/repository"
	"github.com/bigkaa/docportal/internal/server"
	"github.com/bigkaa/docportal/internal/service"
	"github.com/bigkaa/docportal/internal/storage"
	"github.com/bigkaa/docportal/internal/storage/fsstore"
	"github.com/bigkaa/docportal/internal/storage/s3store"
)

func main() {
	// 1. Загрузка конфигурации из переменных окружения
	cfg, err := config.Load()
	if err != nil {
		slog.Error("Ошибка загрузки конфигурации", slog.String("error", err.Error()))
		os.Exit(1)
	}

	// 2. Настройка логирования
	logger := config.SetupLogger(cfg)
	logger.Info("Document Portal запускается",
		slog.String("version", config.Version),
		slog.Int("port", cfg.Port),
		slog.String("store_driver", cfg.StoreDriver),
		slog.String("storage_driver", cfg.StorageDriver),
		slog.String("token_mode", cfg.TokenMode),
	)

	if os.Getenv("DP_DEPHEALTH_GROUP") == "" {
		logger.Warn("DP_DEPHEALTH_GROUP не задана, используется значение по умолчанию",
			slog.String("default", cfg.DephealthGroup),
		)
	}

	ctx := context.Background()

	// 3. Хранилище авторизаций
	var (
		repo         repository.AuthorizationRepository
		storeChecker handlers.ReadinessChecker
		// pgDB — адаптер пула для topologymetrics; nil для SQLite
		pgDB *sql.DB
	)
	switch cfg.StoreDriver {
	case config.StoreDriverSQLite:
		db, openErr := database.OpenSQLite(cfg.SQLitePath, logger)
		if openErr != nil {
			logger.Error("Ошибка открытия SQLite", slog.String("error", openErr.Error()))
			os.Exit(1)
		}
		defer db.Close()

		repo, err = repository.NewSQLiteAuthorizationRepository(db)
		storeChecker = database.NewSQLiteReadinessChecker(db)
	default:
		// 3.1 Применение миграций БД
		logger.Info("Применение миграций БД...")
		if migrateErr := database.Migrate(cfg, logger); migrateErr != nil {
			logger.Error("Ошибка миграций БД", slog.String("error", migrateErr.Error()))
			os.Exit(1)
		}

		// 3.2 Подключение к PostgreSQL (pgxpool)
		pool, connErr := database.Connect(ctx, cfg, logger)
		if connErr != nil {
			logger.Error("Ошибка подключения к PostgreSQL", slog.String("error", connErr.Error()))
			os.Exit(1)
		}
		defer pool.Close()

		// 3.3 Адаптер pgxpool → *sql.DB для topologymetrics.
		// Проверка здоровья идёт через существующий пул соединений.
		pgDB = stdlib.OpenDBFromPool(pool)
		defer pgDB.Close()

		repo, err = repository.NewPostgresAuthorizationRepository(pool)
		storeChecker = database.NewReadinessChecker(pool)
	}
	if err != nil {
		logger.Error("Ошибка создания репозитория авторизаций", slog.String("error", err.Error()))
		os.Exit(1)
	}

	// 3.4 Демонстрационные данные (опционально)
	if cfg.SeedDemoData {
		if seedErr := repository.SeedDemoData(ctx, repo, logger); seedErr != nil {
			logger.Error("Ошибка заполнения демонстрационными данными", slog.String("error", seedErr.Error()))
			os.Exit(1)
		}
	}

	// 4. IdP клиент (вход и JWKS)
	idpClient := idp.New(cfg.IDPURL, cfg.IDPRealm, cfg.IDPClientID, cfg.IDPClientSecret, cfg.IDPTimeout, logger)
	logger.Info("IdP клиент создан",
		slog.String("url", cfg.IDPURL),
		slog.String("realm", cfg.IDPRealm),
	)

	// 5. Чтение токенов
	var accessReader, idReader idtoken.Reader
	switch cfg.TokenMode {
	case config.TokenModeDecode:
		reader := idtoken.NewDecodingReader(cfg.UsernameClaims, cfg.JWTLeeway)
		accessReader, idReader = reader, reader
		logger.Warn("Подпись токенов не проверяется (DP_TOKEN_MODE=decode)")
	default:
		jwks, jwksErr := idtoken.NewJWKSKeyfunc(
			cfg.JWTJWKSURL,
			&http.Client{Timeout: cfg.IDPTimeout},
			cfg.JWKSRefreshInterval,
			logger,
		)
		if jwksErr != nil {
			logger.Error("Ошибка загрузки JWKS", slog.String("error", jwksErr.Error()))
			os.Exit(1)
		}
		cache := idtoken.NewKeyCache(cfg.JWKSCacheSize, cfg.JWKSCacheTTL)
		accessReader = idtoken.NewVerifyingReader(jwks, cache, idtoken.VerifyOptions{
			Issuer:         cfg.JWTIssuer,
			Leeway:         cfg.JWTLeeway,
			UsernameClaims: cfg.UsernameClaims,
		})
		// ID-токен выпущен для клиента портала
		idReader = idtoken.NewVerifyingReader(jwks, cache, idtoken.VerifyOptions{
			Issuer:         cfg.JWTIssuer,
			Audience:       cfg.IDPClientID,
			Leeway:         cfg.JWTLeeway,
			UsernameClaims: cfg.UsernameClaims,
		})
		logger.Info("Проверка токенов по JWKS включена",
			slog.String("jwks_url", cfg.JWTJWKSURL),
			slog.String("issuer", cfg.JWTIssuer),
		)
	}

	// 6. Объектное хранилище
	var (
		gateway        storage.Gateway
		storageChecker handlers.ReadinessChecker
	)
	switch cfg.StorageDriver {
	case config.StorageDriverFS:
		fs, fsErr := fsstore.New(cfg.FSRoot)
		if fsErr != nil {
			logger.Error("Ошибка открытия файлового хранилища", slog.String("error", fsErr.Error()))
			os.Exit(1)
		}
		gateway, storageChecker = fs, fs
		logger.Info("Файловое хранилище открыто", slog.String("root", cfg.FSRoot))
	default:
		s3, s3Err := s3store.New(s3store.Config{
			Endpoint:            cfg.S3Endpoint,
			Region:              cfg.S3Region,
			AccessKey:           cfg.S3AccessKey,
			SecretKey:           cfg.S3SecretKey,
			SessionToken:        cfg.S3SessionToken,
			UseSSL:              cfg.S3UseSSL,
			HealthCheckInterval: cfg.DephealthCheckInterval,
		}, logger)
		if s3Err != nil {
			logger.Error("Ошибка создания S3-клиента", slog.String("error", s3Err.Error()))
			os.Exit(1)
		}
		defer s3.Close()
		gateway, storageChecker = s3, s3
	}
	gateway = storage.NewTimeoutGateway(gateway, cfg.StorageTimeout, logger)

	// 7. Лизы обработки манифестов
	var (
		leaser       lease.Leaser
		redisChecker handlers.ReadinessChecker
	)
	switch cfg.LeaseDriver {
	case config.LeaseDriverRedis:
		rdb, redisErr := lease.ConnectRedis(ctx, cfg.RedisAddr, cfg.RedisPassword, cfg.RedisDB, logger)
		if redisErr != nil {
			logger.Error("Ошибка подключения к Redis", slog.String("error", redisErr.Error()))
			os.Exit(1)
		}
		defer rdb.Close()
		rl := lease.NewRedisLeaser(rdb, logger)
		leaser, redisChecker = rl, rl
	default:
		leaser = lease.NewMemoryLeaser()
	}

	// 8. Политика области грантов
	mode, err := scope.ParseMode(cfg.ScopeMatch)
	if err != nil {
		logger.Error("Недопустимый режим сопоставления области", slog.String("error", err.Error()))
		os.Exit(1)
	}
	enforcer := scope.NewEnforcer(mode)

	// 9. Services
	layout := service.Layout{
		SourcePrefix:          cfg.SourcePrefix,
		ResultPrefix:          cfg.ResultPrefix,
		DocumentPrefix:        cfg.DocumentPrefix,
		DocumentArchivePrefix: cfg.DocumentArchivePrefix,
	}
	resolver := service.NewResolver(repo, enforcer, cfg.RequireExplicitGrant, logger)
	filesSvc := service.NewFileService(gateway, enforcer, layout, logger)
	processingSvc := service.NewProcessingService(gateway, filesSvc, leaser, layout, service.ProcessingOptions{
		Workers:    cfg.DocumentWorkers,
		AllowEmpty: cfg.AllowEmptyManifest,
		LeaseTTL:   cfg.LeaseTTL,
	}, logger)
	adminSvc := service.NewAdminService(repo, logger)
	authSvc := service.NewAuthService(idpClient, logger)

	// 10. Readiness checkers
	checks := []handlers.Check{
		{Name: "store", Checker: storeChecker},
		{Name: "idp", Checker: idpClient},
		{Name: "storage", Checker: storageChecker},
	}
	if redisChecker != nil {
		checks = append(checks, handlers.Check{Name: "redis", Checker: redisChecker})
	}
	healthHandler := handlers.NewHealthHandler(checks...)

	// 11. API handler
	apiHandler := handlers.NewAPIHandler(
		healthHandler,
		authSvc,
		resolver,
		filesSvc,
		processingSvc,
		adminSvc,
		logger,
	)

	// 12. Проверка пары токенов
	tokenAuth := middleware.NewTokenAuth(accessReader, idReader, logger)

	// 13. topologymetrics — мониторинг зависимостей (PostgreSQL + IdP)
	dephealthSvc, dephealthErr := service.NewDephealthService(service.DephealthConfig{
		ServiceID:     "docportal",
		Group:         cfg.DephealthGroup,
		DB:            pgDB,
		PostgresURL:   cfg.DatabaseURL(),
		JWKSURL:       cfg.JWTJWKSURL,
		CheckInterval: cfg.DephealthCheckInterval,
	}, logger)
	if dephealthErr != nil {
		logger.Warn("topologymetrics недоступен, запуск без мониторинга зависимостей",
			slog.String("error", dephealthErr.Error()),
		)
		dephealthSvc = nil
	} else if startErr := dephealthSvc.Start(ctx); startErr != nil {
		logger.Warn("Ошибка запуска topologymetrics",
			slog.String("error", startErr.Error()),
		)
	} else {
		logger.Info("topologymetrics запущен",
			slog.String("group", cfg.DephealthGroup),
			slog.String("check_interval", cfg.DephealthCheckInterval.String()),
		)
	}

	// 14. Создание и запуск HTTP-сервера
	srv := server.New(cfg, logger, apiHandler, tokenAuth, resolver)
	if err := srv.Run(); err != nil {
		logger.Error("Ошибка сервера", slog.String("error", err.Error()))
		os.Exit(1)
	}

	// 15. Остановка фоновых задач
	if dephealthSvc != nil {
		dephealthSvc.Stop()
	}

	logger.Info("Document Portal остановлен")
}
