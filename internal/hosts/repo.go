package hosts

import (
	"context"

	"gorm.io/gorm"

	"github.com/angelmondragon/visitorpass-backend/pkg/db/models"
)

// Repository reads the host directory.
type Repository struct {
	db *gorm.DB
}

func NewRepository(db *gorm.DB) *Repository {
	return &Repository{db: db}
}

// List returns every host ordered by name.
func (r *Repository) List(ctx context.Context) ([]models.Host, error) {
	var hosts []models.Host
	if err := r.db.WithContext(ctx).Order("name ASC").Find(&hosts).Error; err != nil {
		return nil, err
	}
	return hosts, nil
}

// FindByID loads a host by its directory id.
func (r *Repository) FindByID(ctx context.Context, id string) (*models.Host, error) {
	var host models.Host
	if err := r.db.WithContext(ctx).Where("id = ?", id).First(&host).Error; err != nil {
		return nil, err
	}
	return &host, nil
}
