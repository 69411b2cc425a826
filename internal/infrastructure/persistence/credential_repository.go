package persistence

import (
	"context"
	"errors"
	"fmt"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/xpgateway/backend/internal/domain/gateway"
	"github.com/xpgateway/backend/internal/infrastructure/persistence/models"
)

// KeyHasher turns a raw API key into its stored form
type KeyHasher interface {
	Hash(key string) (string, error)
}

// APIKeyRepository implements gateway.APIKeyRepository. Raw keys never
// reach the database; only their keyed hash does.
type APIKeyRepository struct {
	db     *gorm.DB
	hasher KeyHasher
}

// NewAPIKeyRepository creates a new API key repository
func NewAPIKeyRepository(db *gorm.DB, hasher KeyHasher) *APIKeyRepository {
	return &APIKeyRepository{db: db, hasher: hasher}
}

// FindByKey implements gateway.APIKeyRepository
func (r *APIKeyRepository) FindByKey(ctx context.Context, rawKey string) (*gateway.APIKey, error) {
	hash, err := r.hasher.Hash(rawKey)
	if err != nil {
		return nil, gateway.ErrCredentialNotFound
	}
	var model models.APIKeyModel
	if err := r.db.WithContext(ctx).Where("key_hash = ?", hash).First(&model).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, gateway.ErrCredentialNotFound
		}
		return nil, err
	}
	return model.ToEntity(), nil
}

// Create stores key under the hash of rawKey
func (r *APIKeyRepository) Create(ctx context.Context, key *gateway.APIKey, rawKey string) error {
	hash, err := r.hasher.Hash(rawKey)
	if err != nil {
		return fmt.Errorf("failed to hash api key: %w", err)
	}
	return r.db.WithContext(ctx).Create(models.APIKeyModelFromEntity(key, hash)).Error
}

// UpdateStatus changes the lifecycle state of a key
func (r *APIKeyRepository) UpdateStatus(ctx context.Context, id string, status gateway.APIKeyStatus) error {
	result := r.db.WithContext(ctx).Model(&models.APIKeyModel{}).
		Where("id = ?", id).
		Update("status", string(status))
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return gateway.ErrCredentialNotFound
	}
	return nil
}

// TouchLastUsed records when a key was last accepted
func (r *APIKeyRepository) TouchLastUsed(ctx context.Context, id string, at time.Time) error {
	return r.db.WithContext(ctx).Model(&models.APIKeyModel{}).
		Where("id = ?", id).
		UpdateColumn("last_used_at", at).Error
}

// UserRepository implements gateway.UserRepository
type UserRepository struct {
	db *gorm.DB
}

// NewUserRepository creates a new user repository
func NewUserRepository(db *gorm.DB) *UserRepository {
	return &UserRepository{db: db}
}

// FindByID implements gateway.UserRepository
func (r *UserRepository) FindByID(ctx context.Context, id string) (*gateway.User, error) {
	var model models.UserModel
	if err := r.db.WithContext(ctx).First(&model, "id = ?", id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, gateway.ErrCredentialNotFound
		}
		return nil, err
	}
	return model.ToEntity(), nil
}

// Save inserts or updates a user
func (r *UserRepository) Save(ctx context.Context, user *gateway.User) error {
	return r.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "id"}},
		DoUpdates: clause.AssignmentColumns([]string{"username", "active", "scopes", "updated_at"}),
	}).Create(models.UserModelFromEntity(user)).Error
}

var (
	_ gateway.APIKeyRepository = (*APIKeyRepository)(nil)
	_ gateway.UserRepository   = (*UserRepository)(nil)
)
