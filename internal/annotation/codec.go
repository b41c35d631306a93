package annotation

import (
	"encoding/json"

	"github.com/pkg/errors"
)

// ToDocument снимок сессии в формате документа
func (s *Session) ToDocument() *Document {
	doc := NewDocument()
	for _, n := range s.store.FrameNumbers() {
		entry := s.store.frames[n]
		frame := FrameDocument{
			FileName:     entry.fileName,
			Observations: make(map[string]DamageDocument, len(entry.observations)),
		}
		for name, info := range entry.observations {
			frame.Observations[name] = damageToDocument(info)
		}
		doc.Frames[n] = frame
	}
	doc.Info.MarkedFrames = s.store.MarkedFrames()
	doc.Info.InstanceIntervals = s.intervals.All()
	doc.Info.Observations = s.observations.Names()
	for key, raw := range s.store.provenance {
		doc.Info.Provenance[key] = append(json.RawMessage(nil), raw...)
	}
	return doc
}

// LoadDocument заменяет состояние сессии содержимым документа.
// Наблюдения, которых нет в реестре, регистрируются автоматически.
// При ошибке состояние сессии не меняется.
func (s *Session) LoadDocument(doc *Document) error {
	if err := doc.Validate(); err != nil {
		return err
	}

	registry := NewObservationRegistry(s.observations.Policy())
	for _, name := range doc.ObservationOrder() {
		if _, err := registry.register(name); err != nil {
			return corrupt("observation %q: %v", name, err)
		}
	}
	names := registry.Names()

	store := NewAnnotationStore()
	for n, frame := range doc.Frames {
		store.EnsureFrame(n, frame.FileName, nil)
		entry := store.frames[n]
		for name, damage := range frame.Observations {
			entry.observations[name] = damageFromDocument(damage)
		}
	}
	for _, f := range s.frames.Frames() {
		store.EnsureFrame(f.FrameNumber, f.FileName(), nil)
	}
	for _, name := range names {
		store.EnsureObservation(name)
	}
	for _, n := range doc.Info.MarkedFrames {
		store.marked[n] = struct{}{}
	}
	for key, raw := range doc.Info.Provenance {
		store.provenance[key] = append(json.RawMessage(nil), raw...)
	}

	tracker := NewIntervalTracker(s.logger)
	for name, ivs := range doc.Info.InstanceIntervals {
		if err := tracker.Set(name, ivs); err != nil {
			return errors.Wrap(ErrCorruptDocument, err.Error())
		}
	}

	s.observations = registry
	s.store = store
	s.intervals = tracker
	s.ensureLoadedFrames()
	s.logger.WithField("observations", len(names)).Info("Документ сессии загружен")
	return nil
}

func damageToDocument(info *DamageInfo) DamageDocument {
	return DamageDocument{
		Points: PointsDocument{
			Positive: orEmptyPoints(info.PositivePoints),
			Negative: orEmptyPoints(info.NegativePoints),
		},
		MaskPolygon: orEmptyPolygons(info.MaskPolygon),
	}
}

func damageFromDocument(damage DamageDocument) *DamageInfo {
	info := NewDamageInfo()
	info.PositivePoints = clonePoints(damage.Points.Positive)
	info.NegativePoints = clonePoints(damage.Points.Negative)
	info.MaskPolygon = clonePolygons(damage.MaskPolygon)
	return info
}

func orEmptyPoints(points []Point) []Point {
	if len(points) == 0 {
		return []Point{}
	}
	return clonePoints(points)
}

func orEmptyPolygons(polygons []Polygon) []Polygon {
	if len(polygons) == 0 {
		return []Polygon{}
	}
	return clonePolygons(polygons)
}
