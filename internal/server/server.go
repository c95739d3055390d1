// Пакет server — HTTP-сервер портала с graceful shutdown.
// Без TLS — HTTP внутри кластера, TLS termination на ingress.
package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"

	apierrors "github.com/bigkaa/docportal/internal/api/errors"
	"github.com/bigkaa/docportal/internal/api/handlers"
	"github.com/bigkaa/docportal/internal/api/middleware"
	"github.com/bigkaa/docportal/internal/config"
)

// Server — HTTP-сервер портала.
type Server struct {
	httpServer *http.Server
	logger     *slog.Logger
	cfg        *config.Config
}

// New создаёт HTTP-сервер с настроенными routes и middleware.
// auth — проверка пары токенов, admin — проверка прав администратора.
func New(
	cfg *config.Config,
	logger *slog.Logger,
	handler *handlers.APIHandler,
	auth *middleware.TokenAuth,
	admin middleware.AdminChecker,
) *Server {
	srv := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Port),
		Handler:      NewRouter(logger, handler, auth, admin),
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 10 * time.Minute, // скачивание документов идёт потоком
		IdleTimeout:  120 * time.Second,
	}

	return &Server{
		httpServer: srv,
		logger:     logger,
		cfg:        cfg,
	}
}

// NewRouter собирает маршруты API.
// Health и metrics публичны, остальное требует пару токенов, /admin — прав администратора.
func NewRouter(
	logger *slog.Logger,
	handler *handlers.APIHandler,
	auth *middleware.TokenAuth,
	admin middleware.AdminChecker,
) http.Handler {
	router := chi.NewRouter()

	// Глобальные middleware (применяются ко ВСЕМ маршрутам)
	router.Use(middleware.MetricsMiddleware())
	router.Use(middleware.RequestLogger(logger))

	router.NotFound(func(w http.ResponseWriter, r *http.Request) {
		apierrors.NotFound(w, "Маршрут не найден: "+r.URL.Path)
	})
	router.MethodNotAllowed(func(w http.ResponseWriter, r *http.Request) {
		apierrors.WriteError(w, http.StatusMethodNotAllowed, "METHOD_NOT_ALLOWED", "Метод не поддерживается: "+r.Method)
	})

	router.Get("/health/live", handler.HealthLive)
	router.Get("/health/ready", handler.HealthReady)
	router.Get("/metrics", handler.GetMetrics)

	router.Route("/api/v1", func(r chi.Router) {
		r.Post("/auth/login", handler.Login)

		r.Group(func(r chi.Router) {
			r.Use(auth.Middleware())

			r.Get("/me", handler.Me)
			r.Get("/folders", handler.ListFolders)
			r.Get("/files", handler.ListFiles)
			r.Get("/files/{fileName}", handler.GetFile)
			r.Post("/files/{fileName}/process", handler.ProcessFile)
			r.Get("/documents/{documentId}/exists", handler.DocumentExists)
			r.Get("/documents/{documentId}", handler.DownloadDocument)

			r.Route("/admin", func(r chi.Router) {
				r.Use(middleware.RequireAdmin(admin, logger))

				r.Get("/identities", handler.ListIdentities)
				r.Post("/identities", handler.CreateIdentity)
				r.Patch("/identities/{username}", handler.UpdateIdentity)
				r.Delete("/identities/{username}", handler.DeleteIdentity)
				r.Post("/identities/{username}/deactivate-grant", handler.DeactivateGrant)

				r.Get("/grants", handler.ListGrants)
				r.Post("/grants", handler.CreateGrant)
				r.Patch("/grants/{id}", handler.UpdateGrant)
				r.Delete("/grants/{id}", handler.DeleteGrant)
			})
		})
	})

	return router
}

// Run запускает сервер и ожидает сигнала завершения (SIGINT, SIGTERM).
// При получении сигнала выполняется graceful shutdown.
func (s *Server) Run() error {
	// Канал для ошибок сервера
	errCh := make(chan error, 1)

	go func() {
		s.logger.Info("HTTP-сервер запущен",
			slog.String("addr", s.httpServer.Addr),
		)

		err := s.httpServer.ListenAndServe()
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	// Ожидание сигнала завершения
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	select {
	case sig := <-quit:
		s.logger.Info("Получен сигнал завершения", slog.String("signal", sig.String()))
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("ошибка HTTP-сервера: %w", err)
		}
	}

	// Graceful shutdown
	ctx, cancel := context.WithTimeout(context.Background(), s.cfg.ShutdownTimeout)
	defer cancel()

	s.logger.Info("Выполняется graceful shutdown...")
	if err := s.httpServer.Shutdown(ctx); err != nil {
		return fmt.Errorf("ошибка при graceful shutdown: %w", err)
	}

	s.logger.Info("HTTP-сервер остановлен")
	return nil
}
