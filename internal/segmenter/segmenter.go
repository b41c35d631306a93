package segmenter

import (
	"context"
	"errors"

	"road-labeler-go/internal/annotation"
)

// Ошибки сегментатора
var (
	ErrNotLoaded      = errors.New("segmenter: frames are not loaded")
	ErrResetRequired  = errors.New("segmenter: reset required before seeding")
	ErrNotSeeded      = errors.New("segmenter: no seed points")
	ErrSegmenterBusy  = errors.New("segmenter: concurrent call")
	ErrOracle         = errors.New("segmenter: oracle failure")
	ErrStreamFinished = errors.New("segmenter: propagation stream already consumed")
)

// Mask маска, которую вернул сегментатор.
// Contours контуры маски в координатах кадра, если сервис их посчитал.
type Mask struct {
	Width    int
	Height   int
	Contours []annotation.Polygon
}

// Empty в маске нет ни одного контура
func (m Mask) Empty() bool {
	return len(m.Contours) == 0
}

// MaskFrame один шаг распространения
type MaskFrame struct {
	FrameIndex int
	Mask       Mask
}

// Stream ленивая конечная последовательность шагов распространения.
// Next возвращает io.EOF после последнего шага.
type Stream interface {
	Next() (MaskFrame, error)
	Close() error
}

// Backend внешний сегментатор с состоянием (SAM2 или аналог)
type Backend interface {
	// Load привязывает сегментатор к последовательности кадров и сбрасывает все затравки
	Load(ctx context.Context, frameDir string) error
	// ResetState очищает затравки без перезагрузки кадров
	ResetState(ctx context.Context) error
	// AddPoint добавляет точки объекта на кадре и возвращает маску этого кадра
	AddPoint(ctx context.Context, frameIndex, objectID int, points []annotation.Point, labels []int) (Mask, error)
	// Propagate распространяет маску от startIndex на maxSteps кадров вперед или назад
	Propagate(ctx context.Context, startIndex, maxSteps int, reverse bool) (Stream, error)
}
