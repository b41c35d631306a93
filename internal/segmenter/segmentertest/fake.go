// Package segmentertest содержит сценарный сегментатор для тестов
package segmentertest

import (
	"context"
	"fmt"
	"io"
	"sync"

	"road-labeler-go/internal/annotation"
	"road-labeler-go/internal/segmenter"
)

// Call запись одного вызова сегментатора
type Call struct {
	Method     string
	FrameIndex int
	ObjectID   int
	MaxSteps   int
	Reverse    bool
	Points     int
}

// MaskFunc маска для индекса кадра
type MaskFunc func(frameIndex int) segmenter.Mask

// SquareMask квадрат со стороной size в углу кадра
func SquareMask(size float64) MaskFunc {
	return func(int) segmenter.Mask {
		return segmenter.Mask{
			Width:  640,
			Height: 480,
			Contours: []annotation.Polygon{
				{{X: 0, Y: 0}, {X: size, Y: 0}, {X: size, Y: size}, {X: 0, Y: size}},
			},
		}
	}
}

// Backend сегментатор без модели: записывает вызовы и отдает маски из MaskFunc.
// Потоки распространения ограничены FrameCount кадрами.
type Backend struct {
	FrameCount int
	Masks      MaskFunc
	// FailAt индекс кадра, на котором поток распространения возвращает ошибку; -1 выключено
	FailAt int
	// BlockAt индекс кадра, перед которым поток ждет Release
	BlockAt int
	Release chan struct{}
	// LoadStarted получает сигнал при входе в Load, после чего Load ждет LoadRelease
	LoadStarted chan struct{}
	LoadRelease chan struct{}

	mu     sync.Mutex
	calls  []Call
	loaded string
}

// New сегментатор на frameCount кадров с квадратными масками
func New(frameCount int) *Backend {
	return &Backend{
		FrameCount: frameCount,
		Masks:      SquareMask(10),
		FailAt:     -1,
		BlockAt:    -1,
	}
}

func (b *Backend) record(c Call) {
	b.mu.Lock()
	b.calls = append(b.calls, c)
	b.mu.Unlock()
}

// Calls копия журнала вызовов
func (b *Backend) Calls() []Call {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := make([]Call, len(b.calls))
	copy(out, b.calls)
	return out
}

// Methods имена вызванных методов по порядку
func (b *Backend) Methods() []string {
	calls := b.Calls()
	out := make([]string, 0, len(calls))
	for _, c := range calls {
		out = append(out, c.Method)
	}
	return out
}

// Loaded каталог последнего Load
func (b *Backend) Loaded() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.loaded
}

func (b *Backend) Load(ctx context.Context, frameDir string) error {
	b.record(Call{Method: "load"})
	if b.LoadRelease != nil {
		if b.LoadStarted != nil {
			b.LoadStarted <- struct{}{}
		}
		select {
		case <-b.LoadRelease:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	b.mu.Lock()
	b.loaded = frameDir
	b.mu.Unlock()
	return ctx.Err()
}

func (b *Backend) ResetState(ctx context.Context) error {
	b.record(Call{Method: "reset"})
	return nil
}

func (b *Backend) AddPoint(ctx context.Context, frameIndex, objectID int, points []annotation.Point, labels []int) (segmenter.Mask, error) {
	b.record(Call{Method: "add_point", FrameIndex: frameIndex, ObjectID: objectID, Points: len(points)})
	if err := ctx.Err(); err != nil {
		return segmenter.Mask{}, err
	}
	if frameIndex < 0 || frameIndex >= b.FrameCount {
		return segmenter.Mask{}, fmt.Errorf("%w: frame index %d out of range", segmenter.ErrOracle, frameIndex)
	}
	return b.Masks(frameIndex), nil
}

func (b *Backend) Propagate(ctx context.Context, startIndex, maxSteps int, reverse bool) (segmenter.Stream, error) {
	b.record(Call{Method: "propagate", FrameIndex: startIndex, MaxSteps: maxSteps, Reverse: reverse})
	if startIndex < 0 || startIndex >= b.FrameCount {
		return nil, fmt.Errorf("%w: start index %d out of range", segmenter.ErrOracle, startIndex)
	}
	return &stream{backend: b, ctx: ctx, next: startIndex, left: maxSteps + 1, reverse: reverse}, nil
}

// stream выдает startIndex и еще maxSteps кадров, не выходя за границы последовательности
type stream struct {
	backend *Backend
	ctx     context.Context
	next    int
	left    int
	reverse bool
	closed  bool
}

func (s *stream) Next() (segmenter.MaskFrame, error) {
	if s.closed {
		return segmenter.MaskFrame{}, segmenter.ErrStreamFinished
	}
	if s.left <= 0 || s.next < 0 || s.next >= s.backend.FrameCount {
		return segmenter.MaskFrame{}, io.EOF
	}
	idx := s.next
	if idx == s.backend.BlockAt && s.backend.Release != nil {
		select {
		case <-s.backend.Release:
		case <-s.ctx.Done():
			return segmenter.MaskFrame{}, s.ctx.Err()
		}
	}
	if err := s.ctx.Err(); err != nil {
		return segmenter.MaskFrame{}, err
	}
	if idx == s.backend.FailAt {
		return segmenter.MaskFrame{}, fmt.Errorf("%w: scripted failure at frame %d", segmenter.ErrOracle, idx)
	}
	s.left--
	if s.reverse {
		s.next--
	} else {
		s.next++
	}
	return segmenter.MaskFrame{FrameIndex: idx, Mask: s.backend.Masks(idx)}, nil
}

func (s *stream) Close() error {
	s.closed = true
	return nil
}
