package annotation

import (
	"encoding/json"
	"fmt"
	"sort"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
)

// Interval диапазон номеров кадров одного экземпляра объекта, границы включительно
type Interval struct {
	Start int
	End   int
}

// Contains входит ли номер кадра в интервал
func (iv Interval) Contains(frameNumber int) bool {
	return frameNumber >= iv.Start && frameNumber <= iv.End
}

// Overlaps есть ли общий кадр
func (iv Interval) Overlaps(other Interval) bool {
	return iv.Start <= other.End && other.Start <= iv.End
}

func (iv Interval) String() string {
	return fmt.Sprintf("[%d,%d]", iv.Start, iv.End)
}

// MarshalJSON сериализует интервал как [start, end]
func (iv Interval) MarshalJSON() ([]byte, error) {
	return json.Marshal([2]int{iv.Start, iv.End})
}

// UnmarshalJSON разбирает [start, end]
func (iv *Interval) UnmarshalJSON(data []byte) error {
	var se []int
	if err := json.Unmarshal(data, &se); err != nil {
		return err
	}
	if len(se) != 2 {
		return fmt.Errorf("interval must have 2 bounds, got %d", len(se))
	}
	iv.Start, iv.End = se[0], se[1]
	return nil
}

// SplitOutcome результат клика жеста разбиения
type SplitOutcome int

const (
	SplitAborted SplitOutcome = iota
	SplitStarted
	SplitCommitted
)

func (o SplitOutcome) String() string {
	switch o {
	case SplitStarted:
		return "started"
	case SplitCommitted:
		return "committed"
	}
	return "aborted"
}

type pendingSplit struct {
	observation string
	start       int
}

// IntervalTracker интервалы экземпляров по наблюдениям.
// После любой операции интервалы наблюдения, отсортированные по началу,
// не пересекаются: конец каждого меньше начала следующего.
type IntervalTracker struct {
	intervals map[string][]Interval
	pending   *pendingSplit
	logger    logrus.FieldLogger
}

// NewIntervalTracker создает пустой трекер
func NewIntervalTracker(logger logrus.FieldLogger) *IntervalTracker {
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	return &IntervalTracker{
		intervals: make(map[string][]Interval),
		logger:    logger,
	}
}

// Intervals копия интервалов наблюдения по возрастанию
func (t *IntervalTracker) Intervals(observation string) []Interval {
	ivs := t.intervals[observation]
	if len(ivs) == 0 {
		return nil
	}
	out := make([]Interval, len(ivs))
	copy(out, ivs)
	return out
}

// All копия всех непустых списков интервалов
func (t *IntervalTracker) All() map[string][]Interval {
	out := make(map[string][]Interval, len(t.intervals))
	for name := range t.intervals {
		if ivs := t.Intervals(name); len(ivs) > 0 {
			out[name] = ivs
		}
	}
	return out
}

// Set заменяет интервалы наблюдения после проверки
func (t *IntervalTracker) Set(observation string, ivs []Interval) error {
	sorted := make([]Interval, len(ivs))
	copy(sorted, ivs)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].Start < sorted[j].Start })
	for i, iv := range sorted {
		if iv.Start > iv.End {
			return errors.Errorf("interval %s of %q has start after end", iv, observation)
		}
		if i > 0 && sorted[i-1].End >= iv.Start {
			return errors.Wrapf(ErrOverlappingIntervals, "%q: %s and %s", observation, sorted[i-1], iv)
		}
	}
	if len(sorted) == 0 {
		delete(t.intervals, observation)
		return nil
	}
	t.intervals[observation] = sorted
	return nil
}

// Find интервал, содержащий кадр
func (t *IntervalTracker) Find(observation string, frameNumber int) (Interval, bool) {
	for _, iv := range t.intervals[observation] {
		if iv.Contains(frameNumber) {
			return iv, true
		}
	}
	return Interval{}, false
}

// Pending начатый, но не завершенный жест разбиения
func (t *IntervalTracker) Pending() (observation string, start int, ok bool) {
	if t.pending == nil {
		return "", 0, false
	}
	return t.pending.observation, t.pending.start, true
}

// StartSplit первый клик жеста. Кадр внутри существующего интервала отменяет жест.
func (t *IntervalTracker) StartSplit(observation string, frameNumber int) bool {
	t.pending = nil
	if iv, inside := t.Find(observation, frameNumber); inside {
		t.logger.WithFields(logrus.Fields{
			"observation": observation,
			"frame":       frameNumber,
			"interval":    iv.String(),
		}).Info("Начало разбиения внутри существующего интервала, жест отменен")
		return false
	}
	t.pending = &pendingSplit{observation: observation, start: frameNumber}
	return true
}

// EndSplit второй клик жеста. Фиксирует интервал, если он корректен и ни с чем не пересекается.
func (t *IntervalTracker) EndSplit(observation string, frameNumber int) (Interval, bool) {
	pending := t.pending
	t.pending = nil
	if pending == nil || pending.observation != observation {
		return Interval{}, false
	}
	candidate := Interval{Start: pending.start, End: frameNumber}
	fields := logrus.Fields{"observation": observation, "interval": candidate.String()}
	if candidate.End < candidate.Start {
		t.logger.WithFields(fields).Info("Конец разбиения раньше начала, жест отменен")
		return Interval{}, false
	}
	for _, iv := range t.intervals[observation] {
		if iv.Overlaps(candidate) {
			t.logger.WithFields(fields).Infof("Разбиение пересекает интервал %s, жест отменен", iv)
			return Interval{}, false
		}
	}
	ivs := append(t.Intervals(observation), candidate)
	if err := t.Set(observation, ivs); err != nil {
		// Пересечения проверены выше
		panic(err)
	}
	return candidate, true
}

// Click двухкликовый жест: первый клик начинает разбиение, второй завершает
func (t *IntervalTracker) Click(observation string, frameNumber int) (SplitOutcome, Interval) {
	if t.pending != nil && t.pending.observation == observation {
		iv, ok := t.EndSplit(observation, frameNumber)
		if !ok {
			return SplitAborted, Interval{}
		}
		return SplitCommitted, iv
	}
	if !t.StartSplit(observation, frameNumber) {
		return SplitAborted, Interval{}
	}
	return SplitStarted, Interval{Start: frameNumber, End: frameNumber}
}

// CancelSplit сбрасывает начатый жест
func (t *IntervalTracker) CancelSplit() {
	t.pending = nil
}

// Delete удаляет интервал, содержащий кадр
func (t *IntervalTracker) Delete(observation string, frameNumber int) (Interval, bool) {
	ivs := t.intervals[observation]
	for i, iv := range ivs {
		if iv.Contains(frameNumber) {
			rest := append(ivs[:i:i], ivs[i+1:]...)
			if len(rest) == 0 {
				delete(t.intervals, observation)
			} else {
				t.intervals[observation] = rest
			}
			return iv, true
		}
	}
	return Interval{}, false
}

// Remove забывает все интервалы наблюдения
func (t *IntervalTracker) Remove(observation string) {
	delete(t.intervals, observation)
	if t.pending != nil && t.pending.observation == observation {
		t.pending = nil
	}
}

// Effective интервалы для распространения маски. Если наблюдение не разбито,
// это один интервал на весь загруженный диапазон кадров.
func (t *IntervalTracker) Effective(observation string, frames *FrameCollection) []Interval {
	if ivs := t.Intervals(observation); len(ivs) > 0 {
		return ivs
	}
	first, last, ok := frames.Bounds()
	if !ok {
		return nil
	}
	return []Interval{{Start: first, End: last}}
}

// Renormalize подгоняет интервалы под текущий набор кадров: границы за пределами
// загруженного диапазона прижимаются к крайним кадрам, пропущенные кадры заменяются
// ближайшими загруженными внутри интервала. Интервалы без загруженных кадров не меняются.
// Возвращает число измененных интервалов.
func (t *IntervalTracker) Renormalize(frames *FrameCollection) int {
	first, last, ok := frames.Bounds()
	if !ok {
		return 0
	}
	changed := 0
	for name, ivs := range t.intervals {
		for i, iv := range ivs {
			if iv.End < first || iv.Start > last {
				continue
			}
			lo, okLo := frames.SnapForward(max(iv.Start, first))
			hi, okHi := frames.SnapBackward(min(iv.End, last))
			if !okLo || !okHi || lo > hi {
				continue
			}
			next := Interval{Start: lo, End: hi}
			if next != iv {
				t.logger.WithFields(logrus.Fields{
					"observation": name,
					"from":        iv.String(),
					"to":          next.String(),
				}).Info("Граница интервала перенесена на загруженный кадр")
				ivs[i] = next
				changed++
			}
		}
	}
	return changed
}

// Edges является ли кадр первым/последним загруженным кадром своего интервала
func (t *IntervalTracker) Edges(observation string, frames *FrameCollection, frameNumber int) (isStart, isEnd bool) {
	iv, ok := t.Find(observation, frameNumber)
	if !ok {
		return false, false
	}
	start, end := iv.Start, iv.End
	if lo, ok := frames.SnapForward(iv.Start); ok && lo <= iv.End {
		start = lo
	}
	if hi, ok := frames.SnapBackward(iv.End); ok && hi >= iv.Start {
		end = hi
	}
	return frameNumber == start, frameNumber == end
}
