package segmenter

import (
	"context"
	"fmt"
	"io"
	"sync"

	"github.com/sirupsen/logrus"

	"road-labeler-go/internal/annotation"
)

// State состояние клиента сегментатора
type State int

const (
	StateUnloaded State = iota
	StateLoaded
	StateSeeded
	StatePropagating
)

func (s State) String() string {
	switch s {
	case StateLoaded:
		return "loaded"
	case StateSeeded:
		return "seeded"
	case StatePropagating:
		return "propagating"
	}
	return "unloaded"
}

// Target то, для чего накоплены затравки: наблюдение и его интервал
type Target struct {
	Observation string
	Interval    annotation.Interval
}

// Client обертка над Backend, которая следит за дисциплиной сброса:
// Unloaded → Loaded → Seeded → Propagating → Seeded. Reset возвращает в Loaded.
// Затравки для другого наблюдения или интервала требуют Reset.
// Параллельные вызовы не ждут, а возвращают ErrSegmenterBusy.
type Client struct {
	backend Backend
	logger  logrus.FieldLogger
	mu      sync.Mutex
	target  Target

	// state и frameDir меняются только под mu, читаются под stateMu
	stateMu  sync.RWMutex
	state    State
	frameDir string
}

// NewClient создает клиента в состоянии Unloaded
func NewClient(backend Backend, logger logrus.FieldLogger) *Client {
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	return &Client{backend: backend, logger: logger}
}

// State текущее состояние
func (c *Client) State() State {
	c.stateMu.RLock()
	defer c.stateMu.RUnlock()
	return c.state
}

// FrameDir каталог, к которому привязан сегментатор
func (c *Client) FrameDir() string {
	c.stateMu.RLock()
	defer c.stateMu.RUnlock()
	return c.frameDir
}

func (c *Client) setState(state State) {
	c.stateMu.Lock()
	c.state = state
	c.stateMu.Unlock()
}

func (c *Client) setLoaded(state State, frameDir string) {
	c.stateMu.Lock()
	c.state = state
	c.frameDir = frameDir
	c.stateMu.Unlock()
}

// Load привязывает сегментатор к каталогу кадров. Допустим из любого состояния.
func (c *Client) Load(ctx context.Context, frameDir string) error {
	if !c.mu.TryLock() {
		return ErrSegmenterBusy
	}
	defer c.mu.Unlock()

	c.setLoaded(StateUnloaded, "")
	c.target = Target{}
	if err := c.backend.Load(ctx, frameDir); err != nil {
		return fmt.Errorf("load %s: %w", frameDir, err)
	}
	c.setLoaded(StateLoaded, frameDir)
	c.logger.WithField("frame_dir", frameDir).Debug("Кадры загружены в сегментатор")
	return nil
}

// Reset очищает затравки. Единственный путь обратно после ошибки распространения.
func (c *Client) Reset(ctx context.Context) error {
	if !c.mu.TryLock() {
		return ErrSegmenterBusy
	}
	defer c.mu.Unlock()

	if c.state == StateUnloaded {
		return ErrNotLoaded
	}
	c.target = Target{}
	if err := c.backend.ResetState(ctx); err != nil {
		// Состояние сервиса неизвестно: следующий вызов снова потребует сброса
		c.setState(StatePropagating)
		return fmt.Errorf("reset: %w", err)
	}
	c.setState(StateLoaded)
	return nil
}

// AddPoint добавляет затравочные точки кадра
func (c *Client) AddPoint(ctx context.Context, target Target, frameIndex, objectID int, points []annotation.Point, labels []int) (Mask, error) {
	if !c.mu.TryLock() {
		return Mask{}, ErrSegmenterBusy
	}
	defer c.mu.Unlock()

	switch c.state {
	case StateUnloaded:
		return Mask{}, ErrNotLoaded
	case StateLoaded:
	case StateSeeded:
		if c.target != target {
			return Mask{}, ErrResetRequired
		}
	default:
		return Mask{}, ErrResetRequired
	}
	if len(points) != len(labels) {
		return Mask{}, fmt.Errorf("points and labels differ in length: %d != %d", len(points), len(labels))
	}

	mask, err := c.backend.AddPoint(ctx, frameIndex, objectID, points, labels)
	if err != nil {
		c.setState(StatePropagating)
		return Mask{}, fmt.Errorf("add point on frame %d: %w", frameIndex, err)
	}
	c.setState(StateSeeded)
	c.target = target
	return mask, nil
}

// Propagate проходит поток распространения до конца, передавая каждый шаг в fn.
// Ошибка backend или fn оставляет клиента в состоянии, требующем Reset.
func (c *Client) Propagate(ctx context.Context, startIndex, maxSteps int, reverse bool, fn func(MaskFrame) error) error {
	if !c.mu.TryLock() {
		return ErrSegmenterBusy
	}
	defer c.mu.Unlock()

	switch c.state {
	case StateUnloaded:
		return ErrNotLoaded
	case StateLoaded:
		return ErrNotSeeded
	case StatePropagating:
		return ErrResetRequired
	}

	c.setState(StatePropagating)
	stream, err := c.backend.Propagate(ctx, startIndex, maxSteps, reverse)
	if err != nil {
		return fmt.Errorf("start propagation: %w", err)
	}
	defer stream.Close()

	for {
		frame, err := stream.Next()
		if err == io.EOF {
			break
		}
		if err != nil {
			return fmt.Errorf("propagation step: %w", err)
		}
		if err := fn(frame); err != nil {
			return err
		}
	}
	c.setState(StateSeeded)
	return nil
}
