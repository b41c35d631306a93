package annotation

import (
	"encoding/json"
	"sort"

	"github.com/pkg/errors"
)

type frameEntry struct {
	fileName     string
	observations map[string]*DamageInfo
}

// AnnotationStore сетка аннотаций кадр × наблюдение и отмеченные кадры.
// Хранит и кадры, которых сейчас нет в FrameCollection, чтобы не терять разметку
// при повторном извлечении кадров.
type AnnotationStore struct {
	frames     map[int]*frameEntry
	marked     map[int]struct{}
	provenance map[string]json.RawMessage
}

// NewAnnotationStore создает пустое хранилище
func NewAnnotationStore() *AnnotationStore {
	return &AnnotationStore{
		frames:     make(map[int]*frameEntry),
		marked:     make(map[int]struct{}),
		provenance: make(map[string]json.RawMessage),
	}
}

// EnsureFrame заводит запись кадра с пустыми аннотациями для каждого наблюдения
func (s *AnnotationStore) EnsureFrame(frameNumber int, fileName string, observations []string) {
	entry, ok := s.frames[frameNumber]
	if !ok {
		entry = &frameEntry{observations: make(map[string]*DamageInfo, len(observations))}
		s.frames[frameNumber] = entry
	}
	if fileName != "" {
		entry.fileName = fileName
	}
	for _, name := range observations {
		if _, ok := entry.observations[name]; !ok {
			entry.observations[name] = NewDamageInfo()
		}
	}
}

// EnsureObservation добавляет пустую аннотацию наблюдения на каждый кадр
func (s *AnnotationStore) EnsureObservation(name string) {
	for _, entry := range s.frames {
		if _, ok := entry.observations[name]; !ok {
			entry.observations[name] = NewDamageInfo()
		}
	}
}

// RemoveObservation удаляет аннотации наблюдения со всех кадров
func (s *AnnotationStore) RemoveObservation(name string) {
	for _, entry := range s.frames {
		delete(entry.observations, name)
	}
}

// Get аннотация кадра. Возвращается внутренний указатель.
func (s *AnnotationStore) Get(frameNumber int, observation string) (*DamageInfo, bool) {
	entry, ok := s.frames[frameNumber]
	if !ok {
		return nil, false
	}
	info, ok := entry.observations[observation]
	return info, ok
}

// FileName имя файла кадра, как оно записано в документе
func (s *AnnotationStore) FileName(frameNumber int) (string, bool) {
	entry, ok := s.frames[frameNumber]
	if !ok {
		return "", false
	}
	return entry.fileName, true
}

// SetPoints заменяет точки аннотации
func (s *AnnotationStore) SetPoints(frameNumber int, observation string, positive, negative []Point) bool {
	info, ok := s.Get(frameNumber, observation)
	if !ok {
		return false
	}
	info.PositivePoints = clonePoints(positive)
	info.NegativePoints = clonePoints(negative)
	return true
}

// SetPolygon заменяет полигоны маски
func (s *AnnotationStore) SetPolygon(frameNumber int, observation string, polygons []Polygon) (bool, error) {
	if err := ValidatePolygons(polygons); err != nil {
		return false, err
	}
	info, ok := s.Get(frameNumber, observation)
	if !ok {
		return false, nil
	}
	info.MaskPolygon = clonePolygons(polygons)
	return true, nil
}

// ResetRange очищает аннотации наблюдения на кадрах интервала, возвращает число кадров
func (s *AnnotationStore) ResetRange(observation string, iv Interval) int {
	n := 0
	for frameNumber, entry := range s.frames {
		if !iv.Contains(frameNumber) {
			continue
		}
		if info, ok := entry.observations[observation]; ok {
			info.Reset()
			n++
		}
	}
	return n
}

// ClearSelection снимает выделение со всех аннотаций
func (s *AnnotationStore) ClearSelection() {
	for _, entry := range s.frames {
		for _, info := range entry.observations {
			info.IsSelected = false
		}
	}
}

// SelectAnnotation выделяет одну аннотацию, снимая выделение с остальных
func (s *AnnotationStore) SelectAnnotation(frameNumber int, observation string) bool {
	info, ok := s.Get(frameNumber, observation)
	if !ok {
		return false
	}
	s.ClearSelection()
	info.IsSelected = true
	return true
}

// SetShown показывает или скрывает аннотацию на кадре
func (s *AnnotationStore) SetShown(frameNumber int, observation string, shown bool) bool {
	info, ok := s.Get(frameNumber, observation)
	if !ok {
		return false
	}
	info.IsShown = shown
	return true
}

// HasFrame есть ли запись кадра
func (s *AnnotationStore) HasFrame(frameNumber int) bool {
	_, ok := s.frames[frameNumber]
	return ok
}

// ToggleMarked переключает отметку кадра "на проверку"
func (s *AnnotationStore) ToggleMarked(frameNumber int) (marked bool, ok bool) {
	if !s.HasFrame(frameNumber) {
		return false, false
	}
	if _, was := s.marked[frameNumber]; was {
		delete(s.marked, frameNumber)
		return false, true
	}
	s.marked[frameNumber] = struct{}{}
	return true, true
}

// IsMarked отмечен ли кадр
func (s *AnnotationStore) IsMarked(frameNumber int) bool {
	_, ok := s.marked[frameNumber]
	return ok
}

// MarkedFrames отмеченные кадры по возрастанию
func (s *AnnotationStore) MarkedFrames() []int {
	out := make([]int, 0, len(s.marked))
	for n := range s.marked {
		out = append(out, n)
	}
	sort.Ints(out)
	return out
}

// FrameNumbers все номера кадров хранилища по возрастанию
func (s *AnnotationStore) FrameNumbers() []int {
	out := make([]int, 0, len(s.frames))
	for n := range s.frames {
		out = append(out, n)
	}
	sort.Ints(out)
	return out
}

// SetProvenance записывает произвольное поле в "Info" документа
func (s *AnnotationStore) SetProvenance(key string, value interface{}) error {
	if reservedInfoKey(key) {
		return errors.Errorf("info key %q is reserved", key)
	}
	raw, err := json.Marshal(value)
	if err != nil {
		return errors.Wrapf(err, "marshal provenance %q", key)
	}
	s.provenance[key] = raw
	return nil
}

// Provenance сырое значение поля "Info"
func (s *AnnotationStore) Provenance(key string) (json.RawMessage, bool) {
	raw, ok := s.provenance[key]
	return raw, ok
}
