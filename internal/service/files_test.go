package service

import (
	"context"
	"errors"
	"io"
	"testing"

	"github.com/bigkaa/docportal/internal/domain/model"
)

func newFilesFixture(t *testing.T) (*FileService, *model.Grant) {
	t.Helper()
	store := newTestStore(t)
	layout := testLayout()

	put(t, store, testFolder+"/"+testManifest, testCSV)
	put(t, store, testFolder+"/Lote2/C002_lote.csv", testCSV)
	put(t, store, "Recepcion/Muestreo/Facturas/F001_lote.csv", testCSV)
	put(t, store, layout.SourcePrefix+"C003_legacy.csv", testCSV)
	put(t, store, layout.SourcePrefix+"F002_legacy.csv", testCSV)
	put(t, store, "Recepcion/D1", "contenido")

	grant := &model.Grant{
		ID:                1,
		OwnerUsername:     "usuario1",
		Bucket:            testBucket,
		DocumentGroupPath: testFolder,
		IsActive:          true,
	}
	return NewFileService(store, newTestEnforcer(), layout, testLogger()), grant
}

func TestFileService_ListFolders(t *testing.T) {
	svc, grant := newFilesFixture(t)

	folders, err := svc.ListFolders(context.Background(), grant, "")
	if err != nil {
		t.Fatalf("ListFolders() ошибка: %v", err)
	}
	if len(folders) != 1 || folders[0].Name != "Lote2" {
		t.Errorf("ListFolders() = %+v, ожидалась папка Lote2", folders)
	}

	if _, err := svc.ListFolders(context.Background(), grant, "Recepcion/Muestreo/Facturas"); !errors.Is(err, ErrForbidden) {
		t.Errorf("ListFolders(вне области) = %v, ожидался ErrForbidden", err)
	}
}

func TestFileService_ListManifests(t *testing.T) {
	svc, grant := newFilesFixture(t)

	list, err := svc.ListManifests(context.Background(), grant, testFolder)
	if err != nil {
		t.Fatalf("ListManifests() ошибка: %v", err)
	}
	// Только прямые потомки папки
	if len(list) != 1 || list[0].Name != testManifest || list[0].Code != "C001" {
		t.Errorf("ListManifests() = %+v, ожидался %s", list, testManifest)
	}

	list, err = svc.ListManifests(context.Background(), grant, testFolder+"/Lote2")
	if err != nil || len(list) != 1 {
		t.Errorf("ListManifests(Lote2) = %+v, %v", list, err)
	}
}

func TestFileService_ListManifestsByTypology(t *testing.T) {
	svc, grant := newFilesFixture(t)

	list, err := svc.ListManifestsByTypology(context.Background(), grant)
	if err != nil {
		t.Fatalf("ListManifestsByTypology() ошибка: %v", err)
	}
	if len(list) != 1 || list[0].Name != "C003_legacy.csv" {
		t.Errorf("ListManifestsByTypology() = %+v, ожидался только C003_legacy.csv", list)
	}
}

func TestFileService_GetManifest(t *testing.T) {
	svc, grant := newFilesFixture(t)
	ctx := context.Background()

	detail, err := svc.GetManifest(ctx, grant, testFolder, testManifest)
	if err != nil {
		t.Fatalf("GetManifest() ошибка: %v", err)
	}
	if detail.RowsTotal != 3 || len(detail.Data) != 3 || detail.Data[1]["cliente"] != "Luis" {
		t.Errorf("GetManifest() данные = %+v", detail.Data)
	}
	if detail.UserGroup != "Cartas" || detail.Typology.Code != "C001" {
		t.Errorf("UserGroup = %q, Typology = %+v", detail.UserGroup, detail.Typology)
	}
	if len(detail.DocumentIDs) != 3 {
		t.Errorf("DocumentIDs = %v", detail.DocumentIDs)
	}

	if _, err := svc.GetManifest(ctx, grant, testFolder, "nope.csv"); !errors.Is(err, ErrNotFound) {
		t.Errorf("GetManifest(отсутствует) = %v, ожидался ErrNotFound", err)
	}
	if _, err := svc.GetManifest(ctx, grant, "Recepcion/Muestreo/Facturas", "F001_lote.csv"); !errors.Is(err, ErrForbidden) {
		t.Errorf("GetManifest(вне области) = %v, ожидался ErrForbidden", err)
	}
	if _, err := svc.GetManifest(ctx, grant, testFolder, "../x.csv"); !errors.Is(err, ErrValidation) {
		t.Errorf("GetManifest(../x.csv) = %v, ожидался ErrValidation", err)
	}
	if _, err := svc.GetManifest(ctx, grant, "", "C003_legacy.csv"); err != nil {
		t.Errorf("GetManifest(legacy) = %v", err)
	}
}

func TestFileService_Documents(t *testing.T) {
	svc, grant := newFilesFixture(t)
	ctx := context.Background()

	ok, err := svc.DocumentExists(ctx, grant, "D1")
	if err != nil || !ok {
		t.Errorf("DocumentExists(D1) = %v, %v", ok, err)
	}
	ok, err = svc.DocumentExists(ctx, grant, "D9")
	if err != nil || ok {
		t.Errorf("DocumentExists(D9) = %v, %v", ok, err)
	}
	if _, err := svc.DocumentExists(ctx, grant, ".."); !errors.Is(err, ErrValidation) {
		t.Errorf("DocumentExists(..) = %v, ожидался ErrValidation", err)
	}

	obj, err := svc.OpenDocument(ctx, grant, "D1")
	if err != nil {
		t.Fatalf("OpenDocument(D1) ошибка: %v", err)
	}
	defer obj.Close()
	body, _ := io.ReadAll(obj)
	if string(body) != "contenido" || obj.Size != int64(len("contenido")) {
		t.Errorf("OpenDocument(D1) = %q, size %d", body, obj.Size)
	}

	if _, err := svc.OpenDocument(ctx, grant, "D9"); !errors.Is(err, ErrNotFound) {
		t.Errorf("OpenDocument(D9) = %v, ожидался ErrNotFound", err)
	}
}

func TestLayout(t *testing.T) {
	l := testLayout()
	tests := []struct {
		got, want string
	}{
		{l.SourceKey("", "a.csv"), "Recepcion/Muestreo/a.csv"},
		{l.SourceKey("X/Y/", "a.csv"), "X/Y/a.csv"},
		{l.SourceKey("X/Y", "a.csv"), "X/Y/a.csv"},
		{l.ResultKey("a.csv"), "Recepcion/Muestreo/Resultado/a.csv"},
		{l.DocumentKey("D1"), "Recepcion/D1"},
		{l.ArchiveKey("D1"), "Recepcion/Procesados/D1"},
	}
	for _, tt := range tests {
		if tt.got != tt.want {
			t.Errorf("ключ = %q, ожидалось %q", tt.got, tt.want)
		}
	}
}
