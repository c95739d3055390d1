package repository

import (
	"context"
	"fmt"
	"log/slog"
)

// Демонстрационный bucket dev-окружения.
const demoBucket = "rgpdintcomer-des-deltasmile-servinform"

var demoGrants = []struct {
	username string
	path     string
}{
	{"usuario1", "Recepcion/Muestreo/Cartas"},
	{"usuario1", "Recepcion/Muestreo/Facturas"},
	{"usuario2", "Recepcion/Muestreo/Cartas"},
}

// SeedDemoData заполняет хранилище демонстрационными грантами.
// Повторный вызов безопасен: CreateGrant идемпотентен.
func SeedDemoData(ctx context.Context, repo GrantRepository, logger *slog.Logger) error {
	for _, d := range demoGrants {
		g, err := repo.CreateGrant(ctx, d.username, demoBucket, d.path)
		if err != nil {
			return fmt.Errorf("ошибка заполнения демо-данных (%s, %s): %w", d.username, d.path, err)
		}
		logger.Debug("Демо-грант создан",
			slog.String("username", g.OwnerUsername),
			slog.Int64("grant_id", g.ID),
			slog.String("path", g.DocumentGroupPath),
		)
	}
	logger.Info("Демонстрационные данные загружены", slog.Int("grants", len(demoGrants)))
	return nil
}
