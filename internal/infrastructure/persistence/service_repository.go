package persistence

import (
	"context"
	"errors"

	"gorm.io/gorm"

	"github.com/xpgateway/backend/internal/domain/gateway"
	"github.com/xpgateway/backend/internal/infrastructure/persistence/models"
)

// ServiceRepository implements gateway.ServiceRepository
type ServiceRepository struct {
	db *gorm.DB
}

// NewServiceRepository creates a new service repository
func NewServiceRepository(db *gorm.DB) *ServiceRepository {
	return &ServiceRepository{db: db}
}

func orderedInstances(db *gorm.DB) *gorm.DB {
	return db.Order("position ASC")
}

// Save replaces the service row and its instance set in one transaction
func (r *ServiceRepository) Save(ctx context.Context, svc *gateway.Service) error {
	model := models.ServiceModelFromEntity(svc)
	instances := model.Instances
	model.Instances = nil

	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Save(model).Error; err != nil {
			return err
		}
		if err := tx.Where("service_id = ?", model.ID).Delete(&models.ServiceInstanceModel{}).Error; err != nil {
			return err
		}
		if len(instances) == 0 {
			return nil
		}
		return tx.Create(&instances).Error
	})
}

// FindByID implements gateway.ServiceRepository
func (r *ServiceRepository) FindByID(ctx context.Context, id string) (*gateway.Service, error) {
	var model models.ServiceModel
	err := r.db.WithContext(ctx).
		Preload("Instances", orderedInstances).
		First(&model, "id = ?", id).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, gateway.ErrServiceNotFound
		}
		return nil, err
	}
	return model.ToEntity(), nil
}

// FindAll implements gateway.ServiceRepository
func (r *ServiceRepository) FindAll(ctx context.Context) ([]gateway.Service, error) {
	var rows []models.ServiceModel
	err := r.db.WithContext(ctx).
		Preload("Instances", orderedInstances).
		Order("name ASC").
		Find(&rows).Error
	if err != nil {
		return nil, err
	}
	services := make([]gateway.Service, len(rows))
	for i := range rows {
		services[i] = *rows[i].ToEntity()
	}
	return services, nil
}

// Delete implements gateway.ServiceRepository
func (r *ServiceRepository) Delete(ctx context.Context, id string) error {
	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Where("service_id = ?", id).Delete(&models.ServiceInstanceModel{}).Error; err != nil {
			return err
		}
		result := tx.Where("id = ?", id).Delete(&models.ServiceModel{})
		if result.Error != nil {
			return result.Error
		}
		if result.RowsAffected == 0 {
			return gateway.ErrServiceNotFound
		}
		return nil
	})
}

var _ gateway.ServiceRepository = (*ServiceRepository)(nil)
