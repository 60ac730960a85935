package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/kursadbilgin/whatsapp-dispatch/internal/domain"
	"gorm.io/gorm"
)

type ListParams struct {
	Status   *domain.Status
	Robot    *int
	From     *time.Time
	To       *time.Time
	Page     int
	PageSize int
}

type MessageRepository interface {
	Create(ctx context.Context, m *domain.MessageNotification) error
	CreateBatch(ctx context.Context, messages []*domain.MessageNotification) error
	GetByID(ctx context.Context, id string) (*domain.MessageNotification, error)
	FindDue(ctx context.Context, now time.Time, limit int) ([]domain.MessageNotification, error)
	Claim(ctx context.Context, id string, now time.Time) (bool, error)
	ReleaseClaim(ctx context.Context, id string) error
	MarkStatus(ctx context.Context, id string, status domain.Status) error
	FailStaleClaims(ctx context.Context, olderThan time.Time) (int64, error)
	List(ctx context.Context, params ListParams) ([]domain.MessageNotification, int64, error)
}

type GormMessageRepo struct {
	db *gorm.DB
}

func NewGormMessageRepo(db *gorm.DB) *GormMessageRepo {
	return &GormMessageRepo{db: db}
}

func (r *GormMessageRepo) Create(ctx context.Context, m *domain.MessageNotification) error {
	if m == nil {
		return fmt.Errorf("%w: message is required", domain.ErrValidation)
	}

	model := messageModelFromDomain(withCreateDefaults(m, time.Now().UTC()))
	if err := r.db.WithContext(ctx).Create(model).Error; err != nil {
		return err
	}
	*m = *messageModelToDomain(model)
	return nil
}

func (r *GormMessageRepo) CreateBatch(ctx context.Context, messages []*domain.MessageNotification) error {
	now := time.Now().UTC()
	models := make([]MessageNotificationModel, 0, len(messages))
	modelIndexes := make([]int, 0, len(messages))
	for i, m := range messages {
		if m == nil {
			continue
		}
		models = append(models, *messageModelFromDomain(withCreateDefaults(m, now)))
		modelIndexes = append(modelIndexes, i)
	}

	if len(models) == 0 {
		return nil
	}

	if err := r.db.WithContext(ctx).CreateInBatches(&models, 100).Error; err != nil {
		return err
	}

	for i := range models {
		*messages[modelIndexes[i]] = *messageModelToDomain(&models[i])
	}

	return nil
}

func (r *GormMessageRepo) GetByID(ctx context.Context, id string) (*domain.MessageNotification, error) {
	var model MessageNotificationModel
	err := r.db.WithContext(ctx).First(&model, "id = ?", id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, domain.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return messageModelToDomain(&model), nil
}

// FindDue returns pending messages whose schedule has passed, oldest first.
func (r *GormMessageRepo) FindDue(ctx context.Context, now time.Time, limit int) ([]domain.MessageNotification, error) {
	query := r.db.WithContext(ctx).
		Where("status = ? AND scheduled_at <= ?", domain.StatusPending, now.UTC()).
		Order("scheduled_at ASC").
		Order("created_at ASC")
	if limit > 0 {
		query = query.Limit(limit)
	}

	var models []MessageNotificationModel
	if err := query.Find(&models).Error; err != nil {
		return nil, err
	}

	messages := make([]domain.MessageNotification, 0, len(models))
	for i := range models {
		messages = append(messages, *messageModelToDomain(&models[i]))
	}
	return messages, nil
}

// Claim moves a pending message to in_progress. It reports false when another
// claimant got there first or the message already left pending.
func (r *GormMessageRepo) Claim(ctx context.Context, id string, now time.Time) (bool, error) {
	result := r.db.WithContext(ctx).
		Model(&MessageNotificationModel{}).
		Where("id = ? AND status = ?", id, domain.StatusPending).
		Updates(map[string]any{
			"status":     domain.StatusInProgress,
			"claimed_at": now.UTC(),
		})
	if result.Error != nil {
		return false, result.Error
	}
	if result.RowsAffected == 1 {
		return true, nil
	}

	if _, err := r.GetByID(ctx, id); err != nil {
		return false, err
	}
	return false, nil
}

func (r *GormMessageRepo) ReleaseClaim(ctx context.Context, id string) error {
	result := r.db.WithContext(ctx).
		Model(&MessageNotificationModel{}).
		Where("id = ? AND status = ?", id, domain.StatusInProgress).
		Updates(map[string]any{
			"status":     domain.StatusPending,
			"claimed_at": nil,
		})
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		if _, err := r.GetByID(ctx, id); err != nil {
			return err
		}
		return domain.ErrConflict
	}
	return nil
}

// MarkStatus records the terminal outcome of a delivery. Repeating the stored
// terminal status is a no-op; overwriting a different one is a conflict.
func (r *GormMessageRepo) MarkStatus(ctx context.Context, id string, status domain.Status) error {
	if !status.IsTerminal() {
		return fmt.Errorf("%w: status %q is not terminal", domain.ErrValidation, status)
	}

	result := r.db.WithContext(ctx).
		Model(&MessageNotificationModel{}).
		Where("id = ? AND status IN ?", id, []domain.Status{domain.StatusPending, domain.StatusInProgress}).
		Update("status", status)
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 1 {
		return nil
	}

	current, err := r.GetByID(ctx, id)
	if err != nil {
		return err
	}
	if current.Status == status {
		return nil
	}
	return fmt.Errorf("%w: message %s is already %s", domain.ErrConflict, id, current.Status)
}

func (r *GormMessageRepo) FailStaleClaims(ctx context.Context, olderThan time.Time) (int64, error) {
	result := r.db.WithContext(ctx).
		Model(&MessageNotificationModel{}).
		Where("status = ? AND claimed_at < ?", domain.StatusInProgress, olderThan.UTC()).
		Update("status", domain.StatusFailed)
	if result.Error != nil {
		return 0, result.Error
	}
	return result.RowsAffected, nil
}

func (r *GormMessageRepo) List(ctx context.Context, params ListParams) ([]domain.MessageNotification, int64, error) {
	query := r.db.WithContext(ctx).Model(&MessageNotificationModel{})

	if params.Status != nil {
		query = query.Where("status = ?", *params.Status)
	}
	if params.Robot != nil {
		query = query.Where("robot = ?", *params.Robot)
	}
	if params.From != nil {
		query = query.Where("created_at >= ?", params.From.UTC())
	}
	if params.To != nil {
		query = query.Where("created_at <= ?", params.To.UTC())
	}

	var total int64
	if err := query.Count(&total).Error; err != nil {
		return nil, 0, err
	}

	page := max(params.Page, 1)
	pageSize := params.PageSize
	if pageSize < 1 {
		pageSize = 50
	}
	pageSize = min(pageSize, 100)

	var models []MessageNotificationModel
	err := query.
		Order("created_at DESC").
		Offset((page - 1) * pageSize).
		Limit(pageSize).
		Find(&models).Error
	if err != nil {
		return nil, 0, err
	}

	messages := make([]domain.MessageNotification, 0, len(models))
	for i := range models {
		messages = append(messages, *messageModelToDomain(&models[i]))
	}

	return messages, total, nil
}

func withCreateDefaults(m *domain.MessageNotification, now time.Time) *domain.MessageNotification {
	if m.ID == "" {
		m.ID = uuid.NewString()
	}
	if m.Robot == 0 {
		m.Robot = domain.DefaultRobot
	}
	if m.Method == "" {
		m.Method = domain.MethodQueued
	}
	if m.Status == "" {
		m.Status = domain.StatusPending
	}
	if m.ScheduledAt.IsZero() {
		m.ScheduledAt = now
	}
	if m.CreatedAt.IsZero() {
		m.CreatedAt = now
	}
	if m.UpdatedAt.IsZero() {
		m.UpdatedAt = m.CreatedAt
	}
	m.ScheduledAt = m.ScheduledAt.UTC()
	return m
}
