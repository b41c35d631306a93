package model

import (
	"time"

	"gorm.io/gorm"
)

// Статусы запуска распространения
const (
	RunStatusRunning   = "running"
	RunStatusSucceeded = "succeeded"
	RunStatusFailed    = "failed"
	RunStatusCanceled  = "canceled"
)

// Session представляет сессию разметки в базе данных.
// Сами аннотации живут в документе сессии, здесь только индекс и сводка.
type Session struct {
	ID           string `gorm:"primaryKey;type:varchar(36)" json:"id"`
	FrameDir     string `gorm:"type:varchar(500);not null;index" json:"frame_dir"`
	DocumentPath string `gorm:"type:varchar(500);not null" json:"document_path"`

	// Сводка на момент последнего сохранения
	TotalFrames       int     `gorm:"not null;default:0" json:"total_frames"`
	MarkedFrames      int     `gorm:"not null;default:0" json:"marked_frames"`
	Observations      int     `gorm:"not null;default:0" json:"observations"`
	TotalIntervals    int     `gorm:"not null;default:0" json:"total_intervals"`
	IntervalsWithData int     `gorm:"not null;default:0" json:"intervals_with_data"`
	AverageCoverage   float64 `gorm:"not null;default:0" json:"average_coverage"`

	ClosedAt  *time.Time     `json:"closed_at,omitempty"`
	CreatedAt time.Time      `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt time.Time      `gorm:"autoUpdateTime" json:"updated_at"`
	DeletedAt gorm.DeletedAt `gorm:"index" json:"deleted_at,omitempty"`

	// Связь с запусками распространения
	Runs []PropagationRun `gorm:"foreignKey:SessionID;constraint:OnDelete:CASCADE" json:"runs,omitempty"`
}

// PropagationRun представляет запуск распространения маски по интервалу
type PropagationRun struct {
	ID            string `gorm:"primaryKey;type:varchar(36)" json:"id"`
	SessionID     string `gorm:"type:varchar(36);not null;index" json:"session_id"`
	Observation   string `gorm:"type:varchar(255);not null" json:"observation"`
	IntervalStart int    `gorm:"not null" json:"interval_start"`
	IntervalEnd   int    `gorm:"not null" json:"interval_end"`
	Seeds         int    `gorm:"not null;default:0" json:"seeds"`
	FramesWritten int    `gorm:"not null;default:0" json:"frames_written"`
	EmptyFilled   int    `gorm:"not null;default:0" json:"empty_filled"`
	Status        string `gorm:"type:varchar(16);not null" json:"status"`
	Error         string `gorm:"type:text" json:"error,omitempty"`

	FinishedAt *time.Time     `json:"finished_at,omitempty"`
	CreatedAt  time.Time      `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt  time.Time      `gorm:"autoUpdateTime" json:"updated_at"`
	DeletedAt  gorm.DeletedAt `gorm:"index" json:"deleted_at,omitempty"`
}

// TableName указывает имя таблицы для Session
func (Session) TableName() string {
	return "sessions"
}

// TableName указывает имя таблицы для PropagationRun
func (PropagationRun) TableName() string {
	return "propagation_runs"
}
