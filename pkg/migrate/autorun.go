package migrate

import (
	"context"
	"fmt"

	"gorm.io/gorm"

	"github.com/angelmondragon/visitorpass-backend/pkg/config"
	"github.com/angelmondragon/visitorpass-backend/pkg/db"
	"github.com/angelmondragon/visitorpass-backend/pkg/db/models"
	"github.com/angelmondragon/visitorpass-backend/pkg/logger"
)

// MaybeRunDev applies the schema automatically when the auto-migrate flag is
// set. SQLite databases are built from the models; Postgres runs the embedded
// goose migrations and only in dev.
func MaybeRunDev(ctx context.Context, cfg *config.Config, logg *logger.Logger, client *db.Client) error {
	if !cfg.FeatureFlags.AutoMigrate {
		return nil
	}

	if client.Dialect() == "sqlite" {
		logg.Info(logg.WithField(ctx, "dialect", "sqlite"), "auto-migrating sqlite schema")
		return AutoMigrate(client.DB())
	}

	if !cfg.App.IsDev() {
		return nil
	}

	sqlDB, err := client.DB().DB()
	if err != nil {
		return fmt.Errorf("extracting sql.DB: %w", err)
	}

	ctx = logg.WithFields(ctx, map[string]any{"env": cfg.App.Env, "dir": EmbeddedDir})
	migrator, err := New(sqlDB, EmbeddedDir, logg)
	if err != nil {
		return err
	}
	logg.Info(ctx, "applying embedded migrations")
	return migrator.Up(ctx)
}

// AutoMigrate creates every table from the gorm models.
func AutoMigrate(conn *gorm.DB) error {
	if err := conn.AutoMigrate(models.All()...); err != nil {
		return fmt.Errorf("auto-migrate models: %w", err)
	}
	return nil
}
