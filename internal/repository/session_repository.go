package repository

import (
	"errors"
	"fmt"

	"road-labeler-go/internal/model"

	"gorm.io/gorm"
)

// ErrNotFound запись не найдена
var ErrNotFound = errors.New("record not found")

// SessionRepository интерфейс для работы с индексом сессий и историей распространения
type SessionRepository interface {
	Create(session *model.Session) error
	GetByID(id string) (*model.Session, error)
	FindOpenByFrameDir(frameDir string) (*model.Session, error)
	List(page, pageSize int) ([]*model.Session, int64, error)
	Update(session *model.Session) error
	Delete(id string) error

	CreateRun(run *model.PropagationRun) error
	UpdateRun(run *model.PropagationRun) error
	ListRuns(sessionID string, limit int) ([]*model.PropagationRun, error)
}

// sessionRepository реализация SessionRepository
type sessionRepository struct {
	db *gorm.DB
}

// NewSessionRepository создает новый instance SessionRepository
func NewSessionRepository(db *gorm.DB) SessionRepository {
	return &sessionRepository{
		db: db,
	}
}

// Create создает запись сессии
func (r *sessionRepository) Create(session *model.Session) error {
	if err := r.db.Create(session).Error; err != nil {
		return fmt.Errorf("failed to create session: %w", err)
	}
	return nil
}

// GetByID получает сессию по ID
func (r *sessionRepository) GetByID(id string) (*model.Session, error) {
	var session model.Session
	err := r.db.Where("id = ?", id).First(&session).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, fmt.Errorf("session with id %s: %w", id, ErrNotFound)
		}
		return nil, fmt.Errorf("failed to get session: %w", err)
	}
	return &session, nil
}

// FindOpenByFrameDir ищет незакрытую сессию для каталога кадров
func (r *sessionRepository) FindOpenByFrameDir(frameDir string) (*model.Session, error) {
	var session model.Session
	err := r.db.Where("frame_dir = ? AND closed_at IS NULL", frameDir).
		Order("created_at DESC").
		First(&session).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, fmt.Errorf("open session for %s: %w", frameDir, ErrNotFound)
		}
		return nil, fmt.Errorf("failed to find session: %w", err)
	}
	return &session, nil
}

// List получает список сессий с пагинацией
func (r *sessionRepository) List(page, pageSize int) ([]*model.Session, int64, error) {
	var sessions []*model.Session
	var total int64

	// Подсчитываем общее количество
	if err := r.db.Model(&model.Session{}).Count(&total).Error; err != nil {
		return nil, 0, fmt.Errorf("failed to count sessions: %w", err)
	}

	offset := (page - 1) * pageSize
	err := r.db.Offset(offset).
		Limit(pageSize).
		Order("created_at DESC").
		Find(&sessions).Error
	if err != nil {
		return nil, 0, fmt.Errorf("failed to list sessions: %w", err)
	}

	return sessions, total, nil
}

// Update сохраняет сводку сессии
func (r *sessionRepository) Update(session *model.Session) error {
	if err := r.db.Save(session).Error; err != nil {
		return fmt.Errorf("failed to update session: %w", err)
	}
	return nil
}

// Delete удаляет сессию вместе с историей распространения
func (r *sessionRepository) Delete(id string) error {
	tx := r.db.Begin()
	if tx.Error != nil {
		return fmt.Errorf("failed to begin transaction: %w", tx.Error)
	}

	// Сначала удаляем запуски
	if err := tx.Where("session_id = ?", id).Delete(&model.PropagationRun{}).Error; err != nil {
		tx.Rollback()
		return fmt.Errorf("failed to delete propagation runs: %w", err)
	}

	result := tx.Where("id = ?", id).Delete(&model.Session{})
	if result.Error != nil {
		tx.Rollback()
		return fmt.Errorf("failed to delete session: %w", result.Error)
	}
	if result.RowsAffected == 0 {
		tx.Rollback()
		return fmt.Errorf("session with id %s: %w", id, ErrNotFound)
	}

	if err := tx.Commit().Error; err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	return nil
}

// CreateRun записывает начало запуска распространения
func (r *sessionRepository) CreateRun(run *model.PropagationRun) error {
	if err := r.db.Create(run).Error; err != nil {
		return fmt.Errorf("failed to create propagation run: %w", err)
	}
	return nil
}

// UpdateRun сохраняет итог запуска
func (r *sessionRepository) UpdateRun(run *model.PropagationRun) error {
	if err := r.db.Save(run).Error; err != nil {
		return fmt.Errorf("failed to update propagation run: %w", err)
	}
	return nil
}

// ListRuns последние запуски распространения сессии
func (r *sessionRepository) ListRuns(sessionID string, limit int) ([]*model.PropagationRun, error) {
	var runs []*model.PropagationRun
	err := r.db.Where("session_id = ?", sessionID).
		Order("created_at DESC").
		Limit(limit).
		Find(&runs).Error
	if err != nil {
		return nil, fmt.Errorf("failed to list propagation runs: %w", err)
	}
	return runs, nil
}
