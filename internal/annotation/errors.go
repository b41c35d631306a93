package annotation

import "github.com/pkg/errors"

// Ошибки аннотаций. Ожидаемые "не найдено" возвращаются как (значение, false),
// эти значения предназначены для настоящих сбоев.
var (
	ErrCorruptDocument        = errors.New("corrupt session document")
	ErrUnknownFrame           = errors.New("unknown frame")
	ErrUnknownObservation     = errors.New("unknown observation")
	ErrDuplicateObservation   = errors.New("observation already exists")
	ErrInvalidObservationName = errors.New("invalid observation name")
	ErrDegeneratePolygon      = errors.New("polygon has less than 3 vertices")
	ErrOverlappingIntervals   = errors.New("instance intervals overlap")
	ErrEmptyInterval          = errors.New("no loaded frames in interval")
	ErrNoFrames               = errors.New("frame directory has no frames")
)

// corrupt оборачивает причину так, чтобы errors.Is(err, ErrCorruptDocument) был true.
func corrupt(format string, args ...interface{}) error {
	return errors.Wrapf(ErrCorruptDocument, format, args...)
}
