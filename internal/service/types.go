package service

import (
	"fmt"
	"image/color"
	"time"

	"road-labeler-go/internal/annotation"
	"road-labeler-go/internal/model"
)

// OpenSessionRequest запрос на открытие сессии разметки
type OpenSessionRequest struct {
	FrameDir  string `json:"frame_dir" binding:"required"`
	OnCorrupt string `json:"on_corrupt,omitempty"` // fail, skip или discard
}

// ObservationResponse наблюдение сессии
type ObservationResponse struct {
	Name       string `json:"name"`
	Color      string `json:"color"`
	IsSelected bool   `json:"is_selected"`
	IsVisible  bool   `json:"is_visible"`
}

// PendingSplit начатый жест разбиения
type PendingSplit struct {
	Observation string `json:"observation"`
	Start       int    `json:"start"`
}

// SessionResponse состояние открытой сессии
type SessionResponse struct {
	ID             string                           `json:"id"`
	FrameDir       string                           `json:"frame_dir"`
	DocumentPath   string                           `json:"document_path"`
	Frames         []int                            `json:"frames"`
	Observations   []ObservationResponse            `json:"observations"`
	MarkedFrames   []int                            `json:"marked_frames"`
	Intervals      map[string][]annotation.Interval `json:"intervals"`
	PendingSplit   *PendingSplit                    `json:"pending_split,omitempty"`
	SegmenterState string                           `json:"segmenter_state"`
	RunningJob     string                           `json:"running_job,omitempty"`
	CreatedAt      time.Time                        `json:"created_at"`
}

// AnnotationResponse аннотация наблюдения на кадре
type AnnotationResponse struct {
	PositivePoints    []annotation.Point   `json:"positive_points"`
	NegativePoints    []annotation.Point   `json:"negative_points"`
	MaskPolygon       []annotation.Polygon `json:"mask_polygon"`
	IsShown           bool                 `json:"is_shown"`
	IsSelected        bool                 `json:"is_selected"`
	IsStartOfInterval bool                 `json:"is_start_of_interval"`
	IsEndOfInterval   bool                 `json:"is_end_of_interval"`
}

// FrameResponse кадр со всеми аннотациями
type FrameResponse struct {
	FrameNumber int                           `json:"frame_number"`
	Index       int                           `json:"index"`
	FileName    string                        `json:"file_name"`
	IsMarked    bool                          `json:"is_marked"`
	Annotations map[string]AnnotationResponse `json:"annotations"`
}

// AddObservationRequest запрос на добавление наблюдения
type AddObservationRequest struct {
	Name string `json:"name" binding:"required"`
}

// RemoveObservationsRequest запрос на удаление наблюдений
type RemoveObservationsRequest struct {
	Names []string `json:"names" binding:"required"`
}

// VisibilityRequest видимость маски наблюдения
type VisibilityRequest struct {
	Visible bool `json:"visible"`
}

// ShownRequest отображение аннотации на кадре
type ShownRequest struct {
	Shown bool `json:"shown"`
}

// SetPointsRequest точки аннотации
type SetPointsRequest struct {
	Positive []annotation.Point `json:"positive"`
	Negative []annotation.Point `json:"negative"`
}

// SetPolygonRequest маска аннотации
type SetPolygonRequest struct {
	Polygons []annotation.Polygon `json:"polygons"`
}

// SplitResponse результат клика жеста разбиения
type SplitResponse struct {
	Outcome  string               `json:"outcome"`
	Interval *annotation.Interval `json:"interval,omitempty"`
}

// PropagateRequest запрос на распространение. Без границ берутся все интервалы наблюдения.
type PropagateRequest struct {
	Start *int `json:"start,omitempty"`
	End   *int `json:"end,omitempty"`
}

// IntervalResult итог распространения по интервалу
type IntervalResult struct {
	Interval      annotation.Interval `json:"interval"`
	RunID         string              `json:"run_id"`
	Seeds         int                 `json:"seeds"`
	Pivot         int                 `json:"pivot"`
	FramesWritten int                 `json:"frames_written"`
	EmptyFilled   int                 `json:"empty_filled"`
	Status        string              `json:"status"`
	Error         string              `json:"error,omitempty"`
}

// JobResponse состояние задачи распространения
type JobResponse struct {
	ID          string           `json:"id"`
	SessionID   string           `json:"session_id"`
	Observation string           `json:"observation"`
	Status      string           `json:"status"`
	Current     *IntervalResult  `json:"current,omitempty"`
	Done        int              `json:"done"`
	Total       int              `json:"total"`
	Results     []IntervalResult `json:"results"`
	Error       string           `json:"error,omitempty"`
	StartedAt   time.Time        `json:"started_at"`
	FinishedAt  *time.Time       `json:"finished_at,omitempty"`
}

// ListSessionsResponse ответ со списком сессий
type ListSessionsResponse struct {
	Sessions []*model.Session `json:"sessions"`
	Total    int64            `json:"total"`
	Page     int              `json:"page"`
	Size     int              `json:"size"`
}

func observationToResponse(obs *annotation.Observation) ObservationResponse {
	return ObservationResponse{
		Name:       obs.Name,
		Color:      hexColor(obs.DisplayColor),
		IsSelected: obs.IsSelected,
		IsVisible:  obs.IsVisible,
	}
}

func hexColor(c color.RGBA) string {
	return fmt.Sprintf("#%02x%02x%02x", c.R, c.G, c.B)
}

func orEmptyPoints(points []annotation.Point) []annotation.Point {
	if points == nil {
		return []annotation.Point{}
	}
	return points
}

func orEmptyPolygons(polygons []annotation.Polygon) []annotation.Polygon {
	if polygons == nil {
		return []annotation.Polygon{}
	}
	return polygons
}
