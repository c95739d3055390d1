package repository

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/modules/postgres"
	"github.com/testcontainers/testcontainers-go/wait"

	"github.com/bigkaa/docportal/internal/config"
	"github.com/bigkaa/docportal/internal/database"
	"github.com/bigkaa/docportal/internal/domain/model"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// setupSQLite открывает SQLite-хранилище во временной директории.
func setupSQLite(t *testing.T) AuthorizationRepository {
	t.Helper()

	db, err := database.OpenSQLite(filepath.Join(t.TempDir(), "auth.db"), discardLogger())
	if err != nil {
		t.Fatalf("Ошибка открытия SQLite: %v", err)
	}
	t.Cleanup(func() { db.Close() })

	repo, err := NewSQLiteAuthorizationRepository(db)
	if err != nil {
		t.Fatalf("NewSQLiteAuthorizationRepository() ошибка: %v", err)
	}
	return repo
}

// setupPostgres запускает PostgreSQL контейнер и применяет миграции.
func setupPostgres(t *testing.T) AuthorizationRepository {
	t.Helper()

	if os.Getenv("TEST_INTEGRATION") == "" {
		t.Skip("Пропуск интеграционного теста: TEST_INTEGRATION не установлена")
	}

	ctx := context.Background()

	container, err := postgres.Run(ctx,
		"docker.io/postgres:17-alpine",
		postgres.WithDatabase("docportal_test"),
		postgres.WithUsername("docportal"),
		postgres.WithPassword("test-password"),
		testcontainers.WithWaitStrategy(
			wait.ForLog("database system is ready to accept connections").
				WithOccurrence(2).
				WithStartupTimeout(30*time.Second),
		),
	)
	if err != nil {
		t.Fatalf("Не удалось запустить PostgreSQL контейнер: %v", err)
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
	port, err := container.MappedPort(ctx, "5432")
	if err != nil {
		t.Fatalf("Не удалось получить port контейнера: %v", err)
	}

	t.Setenv("DP_DB_HOST", host)
	t.Setenv("DP_DB_PORT", port.Port())
	t.Setenv("DP_DB_NAME", "docportal_test")
	t.Setenv("DP_DB_USER", "docportal")
	t.Setenv("DP_DB_PASSWORD", "test-password")
	t.Setenv("DP_DB_SSL_MODE", "disable")
	t.Setenv("DP_IDP_URL", "http://localhost:8180")
	t.Setenv("DP_IDP_CLIENT_ID", "test")
	t.Setenv("DP_STORAGE_DRIVER", "fs")
	t.Setenv("DP_FS_ROOT", t.TempDir())

	cfg, err := config.Load()
	if err != nil {
		t.Fatalf("Ошибка загрузки конфигурации: %v", err)
	}

	logger := discardLogger()
	if err := database.Migrate(cfg, logger); err != nil {
		t.Fatalf("Ошибка миграций: %v", err)
	}

	pool, err := database.Connect(ctx, cfg, logger)
	if err != nil {
		t.Fatalf("Ошибка подключения: %v", err)
	}
	t.Cleanup(func() { pool.Close() })

	repo, err := NewPostgresAuthorizationRepository(pool)
	if err != nil {
		t.Fatalf("NewPostgresAuthorizationRepository() ошибка: %v", err)
	}
	return repo
}

// Одинаковый набор проверок для обеих реализаций.
var contractTests = []struct {
	name string
	fn   func(t *testing.T, repo AuthorizationRepository)
}{
	{"CreateGrantIdempotent", testCreateGrantIdempotent},
	{"CreateGrantReactivates", testCreateGrantReactivates},
	{"CreateGrantValidation", testCreateGrantValidation},
	{"ActiveGrantOrdering", testActiveGrantOrdering},
	{"UpdateGrant", testUpdateGrant},
	{"UpdateGrantConflict", testUpdateGrantConflict},
	{"DeactivateGrant", testDeactivateGrant},
	{"DeleteGrant", testDeleteGrant},
	{"ListAll", testListAll},
	{"IdentityLifecycle", testIdentityLifecycle},
	{"DeactivatedIdentityHasNoGrants", testDeactivatedIdentityHasNoGrants},
	{"DeleteIdentityCascades", testDeleteIdentityCascades},
	{"SeedDemoData", testSeedDemoData},
}

func TestSQLiteRepository(t *testing.T) {
	for _, tc := range contractTests {
		t.Run(tc.name, func(t *testing.T) {
			tc.fn(t, setupSQLite(t))
		})
	}
}

func TestPostgresRepository(t *testing.T) {
	repo := setupPostgres(t)
	for _, tc := range contractTests {
		t.Run(tc.name, func(t *testing.T) {
			tc.fn(t, repo)
		})
	}
}

// uniq делает имена уникальными внутри общей PostgreSQL-базы.
func uniq(t *testing.T, s string) string {
	return s + "-" + filepath.Base(t.Name())
}

func testCreateGrantIdempotent(t *testing.T, repo AuthorizationRepository) {
	ctx := context.Background()
	user := uniq(t, "ana")

	first, err := repo.CreateGrant(ctx, user, "bucket-a", "Recepcion/Muestreo/Cartas")
	if err != nil {
		t.Fatalf("CreateGrant() ошибка: %v", err)
	}
	if !first.IsActive || first.ID == 0 {
		t.Errorf("грант создан некорректно: %+v", first)
	}

	second, err := repo.CreateGrant(ctx, user, "bucket-a", "Recepcion/Muestreo/Cartas")
	if err != nil {
		t.Fatalf("повторный CreateGrant() ошибка: %v", err)
	}
	if second.ID != first.ID {
		t.Errorf("повторный CreateGrant() создал новую запись: %d != %d", second.ID, first.ID)
	}
	if !second.CreatedAt.Equal(first.CreatedAt) {
		t.Errorf("created_at активного гранта изменился: %v -> %v", first.CreatedAt, second.CreatedAt)
	}

	grants, err := repo.ListActiveGrants(ctx, user)
	if err != nil {
		t.Fatalf("ListActiveGrants() ошибка: %v", err)
	}
	if len(grants) != 1 {
		t.Errorf("активных грантов %d, ожидался 1", len(grants))
	}

	// Пользователь создан неявно
	ident, err := repo.GetIdentity(ctx, user)
	if err != nil {
		t.Fatalf("GetIdentity() ошибка: %v", err)
	}
	if ident.IsAdmin || !ident.IsActive {
		t.Errorf("неявно созданный пользователь: %+v", ident)
	}
}

func testCreateGrantReactivates(t *testing.T, repo AuthorizationRepository) {
	ctx := context.Background()
	user := uniq(t, "bea")

	g, err := repo.CreateGrant(ctx, user, "bucket-a", "Recepcion/Muestreo/Facturas")
	if err != nil {
		t.Fatalf("CreateGrant() ошибка: %v", err)
	}
	if _, err := repo.DeactivateGrant(ctx, user); err != nil {
		t.Fatalf("DeactivateGrant() ошибка: %v", err)
	}

	again, err := repo.CreateGrant(ctx, user, "bucket-a", "Recepcion/Muestreo/Facturas")
	if err != nil {
		t.Fatalf("CreateGrant() после деактивации ошибка: %v", err)
	}
	if again.ID != g.ID {
		t.Errorf("реактивация создала новую запись: %d != %d", again.ID, g.ID)
	}
	if !again.IsActive {
		t.Error("грант не реактивирован")
	}
	if again.CreatedAt.Before(g.CreatedAt) {
		t.Errorf("created_at не обновлён: %v < %v", again.CreatedAt, g.CreatedAt)
	}
}

func testCreateGrantValidation(t *testing.T, repo AuthorizationRepository) {
	_, err := repo.CreateGrant(context.Background(), uniq(t, "x"), " ", "Recepcion")
	if !errors.Is(err, ErrValidation) {
		t.Errorf("CreateGrant() с пустым bucket = %v, ожидался ErrValidation", err)
	}
}

func testActiveGrantOrdering(t *testing.T, repo AuthorizationRepository) {
	ctx := context.Background()
	user := uniq(t, "carla")

	if _, err := repo.GetActiveGrant(ctx, user); !errors.Is(err, ErrNotFound) {
		t.Errorf("GetActiveGrant() без грантов = %v, ожидался ErrNotFound", err)
	}

	older, err := repo.CreateGrant(ctx, user, "bucket-a", "Recepcion/Muestreo/Cartas")
	if err != nil {
		t.Fatalf("CreateGrant() ошибка: %v", err)
	}
	newer, err := repo.CreateGrant(ctx, user, "bucket-a", "Recepcion/Muestreo/Facturas")
	if err != nil {
		t.Fatalf("CreateGrant() ошибка: %v", err)
	}

	grants, err := repo.ListActiveGrants(ctx, user)
	if err != nil {
		t.Fatalf("ListActiveGrants() ошибка: %v", err)
	}
	if len(grants) != 2 || grants[0].ID != newer.ID || grants[1].ID != older.ID {
		t.Fatalf("порядок грантов нарушен: %+v", grants)
	}

	primary, err := repo.GetActiveGrant(ctx, user)
	if err != nil {
		t.Fatalf("GetActiveGrant() ошибка: %v", err)
	}
	if primary.ID != newer.ID {
		t.Errorf("основной грант = %d, ожидался самый свежий %d", primary.ID, newer.ID)
	}

	found, err := repo.FindGrant(ctx, user, "bucket-a", "Recepcion/Muestreo/Cartas")
	if err != nil || found.ID != older.ID {
		t.Errorf("FindGrant() = %+v, %v", found, err)
	}
	if _, err := repo.FindGrant(ctx, user, "bucket-b", "Recepcion/Muestreo/Cartas"); !errors.Is(err, ErrNotFound) {
		t.Errorf("FindGrant() по чужому bucket = %v, ожидался ErrNotFound", err)
	}
}

func testUpdateGrant(t *testing.T, repo AuthorizationRepository) {
	ctx := context.Background()
	user := uniq(t, "dora")

	g, err := repo.CreateGrant(ctx, user, "bucket-a", "Recepcion/Muestreo/Cartas")
	if err != nil {
		t.Fatalf("CreateGrant() ошибка: %v", err)
	}

	if _, err := repo.UpdateGrant(ctx, g.ID, model.GrantPatch{}); !errors.Is(err, ErrValidation) {
		t.Errorf("UpdateGrant() с пустым патчем = %v, ожидался ErrValidation", err)
	}

	empty := ""
	if _, err := repo.UpdateGrant(ctx, g.ID, model.GrantPatch{Bucket: &empty}); !errors.Is(err, ErrValidation) {
		t.Errorf("UpdateGrant() с пустым bucket = %v, ожидался ErrValidation", err)
	}

	bucket := "bucket-b"
	inactive := false
	updated, err := repo.UpdateGrant(ctx, g.ID, model.GrantPatch{Bucket: &bucket, IsActive: &inactive})
	if err != nil {
		t.Fatalf("UpdateGrant() ошибка: %v", err)
	}
	if updated.Bucket != "bucket-b" || updated.IsActive {
		t.Errorf("UpdateGrant() = %+v", updated)
	}
	if updated.DocumentGroupPath != g.DocumentGroupPath {
		t.Errorf("путь изменился без запроса: %q", updated.DocumentGroupPath)
	}

	if _, err := repo.UpdateGrant(ctx, -1, model.GrantPatch{Bucket: &bucket}); !errors.Is(err, ErrNotFound) {
		t.Errorf("UpdateGrant() несуществующего = %v, ожидался ErrNotFound", err)
	}
}

func testUpdateGrantConflict(t *testing.T, repo AuthorizationRepository) {
	ctx := context.Background()
	user := uniq(t, "eva")

	if _, err := repo.CreateGrant(ctx, user, "bucket-a", "Recepcion/Muestreo/Cartas"); err != nil {
		t.Fatalf("CreateGrant() ошибка: %v", err)
	}
	g2, err := repo.CreateGrant(ctx, user, "bucket-a", "Recepcion/Muestreo/Facturas")
	if err != nil {
		t.Fatalf("CreateGrant() ошибка: %v", err)
	}

	path := "Recepcion/Muestreo/Cartas"
	if _, err := repo.UpdateGrant(ctx, g2.ID, model.GrantPatch{DocumentGroupPath: &path}); !errors.Is(err, ErrConflict) {
		t.Errorf("UpdateGrant() в дубликат = %v, ожидался ErrConflict", err)
	}
}

func testDeactivateGrant(t *testing.T, repo AuthorizationRepository) {
	ctx := context.Background()
	user := uniq(t, "fede")

	if _, err := repo.DeactivateGrant(ctx, user); !errors.Is(err, ErrNotFound) {
		t.Errorf("DeactivateGrant() без грантов = %v, ожидался ErrNotFound", err)
	}

	older, _ := repo.CreateGrant(ctx, user, "bucket-a", "Recepcion/Muestreo/Cartas")
	newer, _ := repo.CreateGrant(ctx, user, "bucket-a", "Recepcion/Muestreo/Facturas")

	deactivated, err := repo.DeactivateGrant(ctx, user)
	if err != nil {
		t.Fatalf("DeactivateGrant() ошибка: %v", err)
	}
	if deactivated.ID != newer.ID || deactivated.IsActive {
		t.Errorf("деактивирован не основной грант: %+v", deactivated)
	}

	primary, err := repo.GetActiveGrant(ctx, user)
	if err != nil || primary.ID != older.ID {
		t.Errorf("после деактивации основной грант = %+v, %v", primary, err)
	}
}

func testDeleteGrant(t *testing.T, repo AuthorizationRepository) {
	ctx := context.Background()
	user := uniq(t, "gala")

	g, _ := repo.CreateGrant(ctx, user, "bucket-a", "Recepcion/Muestreo/Cartas")
	if err := repo.DeleteGrant(ctx, g.ID); err != nil {
		t.Fatalf("DeleteGrant() ошибка: %v", err)
	}
	if _, err := repo.GetGrant(ctx, g.ID); !errors.Is(err, ErrNotFound) {
		t.Errorf("GetGrant() после удаления = %v, ожидался ErrNotFound", err)
	}
	if err := repo.DeleteGrant(ctx, g.ID); !errors.Is(err, ErrNotFound) {
		t.Errorf("повторный DeleteGrant() = %v, ожидался ErrNotFound", err)
	}
}

func testListAll(t *testing.T, repo AuthorizationRepository) {
	ctx := context.Background()
	admin := uniq(t, "hugo")

	if _, err := repo.CreateIdentity(ctx, admin, true); err != nil {
		t.Fatalf("CreateIdentity() ошибка: %v", err)
	}
	g, err := repo.CreateGrant(ctx, admin, "bucket-a", "Recepcion")
	if err != nil {
		t.Fatalf("CreateGrant() ошибка: %v", err)
	}

	all, err := repo.ListAll(ctx)
	if err != nil {
		t.Fatalf("ListAll() ошибка: %v", err)
	}
	var found *model.GrantWithOwner
	for _, item := range all {
		if item.ID == g.ID {
			found = item
		}
	}
	if found == nil {
		t.Fatal("ListAll() не вернул созданный грант")
	}
	if !found.OwnerIsAdmin || !found.OwnerIsActive {
		t.Errorf("поля владельца не заполнены: %+v", found)
	}
}

func testIdentityLifecycle(t *testing.T, repo AuthorizationRepository) {
	ctx := context.Background()
	user := uniq(t, "ines")

	created, err := repo.CreateIdentity(ctx, user, true)
	if err != nil {
		t.Fatalf("CreateIdentity() ошибка: %v", err)
	}
	if !created.IsAdmin || !created.IsActive {
		t.Errorf("CreateIdentity() = %+v", created)
	}

	if _, err := repo.CreateIdentity(ctx, user, false); !errors.Is(err, ErrConflict) {
		t.Errorf("CreateIdentity() активного = %v, ожидался ErrConflict", err)
	}

	isAdmin, err := repo.IsAdmin(ctx, user)
	if err != nil || !isAdmin {
		t.Errorf("IsAdmin() = %v, %v", isAdmin, err)
	}

	inactive := false
	if _, err := repo.UpdateIdentity(ctx, user, model.IdentityPatch{IsActive: &inactive}); err != nil {
		t.Fatalf("UpdateIdentity() ошибка: %v", err)
	}
	if isAdmin, _ := repo.IsAdmin(ctx, user); isAdmin {
		t.Error("деактивированный пользователь считается администратором")
	}

	// Реактивация через создание: флаг администратора переписывается
	revived, err := repo.CreateIdentity(ctx, user, false)
	if err != nil {
		t.Fatalf("CreateIdentity() неактивного ошибка: %v", err)
	}
	if revived.IsAdmin || !revived.IsActive {
		t.Errorf("реактивированный пользователь = %+v", revived)
	}

	if _, err := repo.UpdateIdentity(ctx, user, model.IdentityPatch{}); !errors.Is(err, ErrValidation) {
		t.Errorf("UpdateIdentity() с пустым патчем = %v, ожидался ErrValidation", err)
	}
	yes := true
	if _, err := repo.UpdateIdentity(ctx, uniq(t, "nobody"), model.IdentityPatch{IsAdmin: &yes}); !errors.Is(err, ErrNotFound) {
		t.Errorf("UpdateIdentity() несуществующего = %v, ожидался ErrNotFound", err)
	}

	if isAdmin, err := repo.IsAdmin(ctx, uniq(t, "nobody")); err != nil || isAdmin {
		t.Errorf("IsAdmin() неизвестного = %v, %v", isAdmin, err)
	}

	list, err := repo.ListIdentities(ctx)
	if err != nil {
		t.Fatalf("ListIdentities() ошибка: %v", err)
	}
	found := false
	for _, u := range list {
		if u.Username == user {
			found = true
		}
	}
	if !found {
		t.Error("ListIdentities() не вернул пользователя")
	}
}

func testDeactivatedIdentityHasNoGrants(t *testing.T, repo AuthorizationRepository) {
	ctx := context.Background()
	user := uniq(t, "juan")

	if _, err := repo.CreateGrant(ctx, user, "bucket-a", "Recepcion/Muestreo/Cartas"); err != nil {
		t.Fatalf("CreateGrant() ошибка: %v", err)
	}
	inactive := false
	if _, err := repo.UpdateIdentity(ctx, user, model.IdentityPatch{IsActive: &inactive}); err != nil {
		t.Fatalf("UpdateIdentity() ошибка: %v", err)
	}

	grants, err := repo.ListActiveGrants(ctx, user)
	if err != nil {
		t.Fatalf("ListActiveGrants() ошибка: %v", err)
	}
	if len(grants) != 0 {
		t.Errorf("у деактивированного пользователя %d активных грантов", len(grants))
	}
}

func testDeleteIdentityCascades(t *testing.T, repo AuthorizationRepository) {
	ctx := context.Background()
	user := uniq(t, "kike")

	g, err := repo.CreateGrant(ctx, user, "bucket-a", "Recepcion/Muestreo/Cartas")
	if err != nil {
		t.Fatalf("CreateGrant() ошибка: %v", err)
	}
	if err := repo.DeleteIdentity(ctx, user); err != nil {
		t.Fatalf("DeleteIdentity() ошибка: %v", err)
	}
	if _, err := repo.GetGrant(ctx, g.ID); !errors.Is(err, ErrNotFound) {
		t.Errorf("грант не удалён каскадно: %v", err)
	}
	if err := repo.DeleteIdentity(ctx, user); !errors.Is(err, ErrNotFound) {
		t.Errorf("повторный DeleteIdentity() = %v, ожидался ErrNotFound", err)
	}
}

func testSeedDemoData(t *testing.T, repo AuthorizationRepository) {
	ctx := context.Background()

	for range 2 {
		if err := SeedDemoData(ctx, repo, discardLogger()); err != nil {
			t.Fatalf("SeedDemoData() ошибка: %v", err)
		}
	}

	grants, err := repo.ListActiveGrants(ctx, "usuario1")
	if err != nil {
		t.Fatalf("ListActiveGrants() ошибка: %v", err)
	}
	if len(grants) != 2 {
		t.Errorf("у usuario1 %d грантов, ожидалось 2", len(grants))
	}
	for _, g := range grants {
		if g.Bucket != demoBucket {
			t.Errorf("bucket = %q", g.Bucket)
		}
	}
}
