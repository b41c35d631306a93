package annotation

import "github.com/pkg/errors"

// Seed кадр с точками, которые передаются сегментатору перед распространением
type Seed struct {
	Index       int
	FrameNumber int
	Points      []Point
	Labels      []int
}

// SeedPlan снимок всего, что нужно для распространения маски по интервалу
type SeedPlan struct {
	Observation string
	// ObjectID идентификатор объекта для сегментатора
	ObjectID int
	Interval Interval
	// StartIndex и EndIndex индексы крайних загруженных кадров интервала
	StartIndex int
	EndIndex   int
	// Seeds кадры с точками по возрастанию индекса
	Seeds []Seed
	// FrameNumbers номера кадров от StartIndex до EndIndex
	FrameNumbers []int
}

// FrameNumberAt номер кадра по индексу, только внутри интервала
func (p *SeedPlan) FrameNumberAt(index int) (int, bool) {
	if index < p.StartIndex || index > p.EndIndex {
		return 0, false
	}
	return p.FrameNumbers[index-p.StartIndex], true
}

// Pivot затравочный кадр, ближайший к началу интервала
func (p *SeedPlan) Pivot() (Seed, bool) {
	if len(p.Seeds) == 0 {
		return Seed{}, false
	}
	return p.Seeds[0], true
}

// SeedPlan собирает затравочные кадры интервала: все кадры, где у наблюдения есть хотя бы одна точка.
// Кадры перебираются по индексу.
func (s *Session) SeedPlan(observation string, iv Interval) (*SeedPlan, error) {
	idx, ok := s.observations.IndexOf(observation)
	if !ok {
		return nil, errors.Wrap(ErrUnknownObservation, observation)
	}
	lo, hi, ok := s.frames.IndexRange(iv)
	if !ok {
		return nil, errors.Wrapf(ErrEmptyInterval, "%q %s", observation, iv)
	}
	plan := &SeedPlan{
		Observation:  observation,
		ObjectID:     idx + 1,
		Interval:     iv,
		StartIndex:   lo,
		EndIndex:     hi,
		FrameNumbers: make([]int, 0, hi-lo+1),
	}
	for i := lo; i <= hi; i++ {
		frame, _ := s.frames.At(i)
		plan.FrameNumbers = append(plan.FrameNumbers, frame.FrameNumber)
		info, ok := s.store.Get(frame.FrameNumber, observation)
		if !ok || !info.HasPoints() {
			continue
		}
		points, labels := info.PromptPoints()
		plan.Seeds = append(plan.Seeds, Seed{
			Index:       i,
			FrameNumber: frame.FrameNumber,
			Points:      points,
			Labels:      labels,
		})
	}
	return plan, nil
}
