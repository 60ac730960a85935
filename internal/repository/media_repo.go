package repository

import (
	"context"
	"errors"

	"github.com/kursadbilgin/whatsapp-dispatch/internal/domain"
	"gorm.io/gorm"
)

// MediaRepository reads stored media assets. Rows are written by the wider backend.
type MediaRepository interface {
	GetByID(ctx context.Context, id string) (*domain.Media, error)
	GetBySrc(ctx context.Context, src string) (*domain.Media, error)
}

type GormMediaRepo struct {
	db *gorm.DB
}

func NewGormMediaRepo(db *gorm.DB) *GormMediaRepo {
	return &GormMediaRepo{db: db}
}

func (r *GormMediaRepo) GetByID(ctx context.Context, id string) (*domain.Media, error) {
	return r.first(ctx, "id = ?", id)
}

func (r *GormMediaRepo) GetBySrc(ctx context.Context, src string) (*domain.Media, error) {
	return r.first(ctx, "src = ?", src)
}

func (r *GormMediaRepo) first(ctx context.Context, query string, arg string) (*domain.Media, error) {
	var model MediaModel
	err := r.db.WithContext(ctx).Where(query, arg).Order("created_at DESC").First(&model).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, domain.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return mediaModelToDomain(&model), nil
}
