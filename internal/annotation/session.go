package annotation

import (
	"io/fs"
	"os"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
)

// CorruptPolicy поведение при испорченном документе сессии
type CorruptPolicy int

const (
	// CorruptFail вернуть ошибку, сессия не открывается
	CorruptFail CorruptPolicy = iota
	// CorruptSkip открыть сессию пустой, файл не трогать до следующей записи
	CorruptSkip
	// CorruptDiscard открыть сессию пустой и сразу перезаписать файл
	CorruptDiscard
)

// ParseCorruptPolicy разбирает "fail", "skip" или "discard"
func ParseCorruptPolicy(s string) (CorruptPolicy, error) {
	switch s {
	case "", "fail":
		return CorruptFail, nil
	case "skip":
		return CorruptSkip, nil
	case "discard":
		return CorruptDiscard, nil
	}
	return CorruptFail, errors.Errorf("unknown corrupt document policy %q", s)
}

// Options параметры сессии
type Options struct {
	DuplicatePolicy DuplicatePolicy
	OnCorrupt       CorruptPolicy
	// DocumentPath переопределяет путь документа (по умолчанию DocumentPath(dir))
	DocumentPath string
	Logger       logrus.FieldLogger
}

// Session состояние разметки одного клипа: кадры, наблюдения, аннотации и интервалы.
// Не потокобезопасна, вызывающий сериализует доступ.
type Session struct {
	frames       *FrameCollection
	observations *ObservationRegistry
	store        *AnnotationStore
	intervals    *IntervalTracker
	documentPath string
	logger       logrus.FieldLogger
}

// NewSession создает пустую сессию над набором кадров
func NewSession(frames *FrameCollection, opts Options) *Session {
	logger := opts.Logger
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	path := opts.DocumentPath
	if path == "" {
		path = DocumentPath(frames.Dir())
	}
	s := &Session{
		frames:       frames,
		observations: NewObservationRegistry(opts.DuplicatePolicy),
		store:        NewAnnotationStore(),
		intervals:    NewIntervalTracker(logger),
		documentPath: path,
		logger:       logger,
	}
	s.ensureLoadedFrames()
	return s
}

// Open открывает каталог кадров и загружает документ сессии, если он есть.
// Новый документ создается сразу.
func Open(frameDir string, opts Options) (*Session, error) {
	frames, err := ScanFrameDir(frameDir)
	if err != nil {
		return nil, err
	}
	s := NewSession(frames, opts)

	doc, err := ReadDocument(s.documentPath)
	switch {
	case err == nil:
		if err := s.LoadDocument(doc); err != nil {
			return s.recoverCorrupt(opts.OnCorrupt, err)
		}
		// Каталог мог быть извлечен заново после сохранения документа
		if n := s.intervals.Renormalize(s.frames); n > 0 {
			s.logger.WithField("intervals", n).Info("Интервалы подогнаны под новый диапазон кадров")
			if err := s.Flush(); err != nil {
				return nil, err
			}
		}
		return s, nil
	case errors.Is(err, fs.ErrNotExist):
		s.logger.WithField("path", s.documentPath).Info("Документ сессии не найден, создаем новый")
		if err := s.Flush(); err != nil {
			return nil, err
		}
		return s, nil
	case errors.Is(err, ErrCorruptDocument):
		return s.recoverCorrupt(opts.OnCorrupt, err)
	default:
		return nil, err
	}
}

func (s *Session) recoverCorrupt(policy CorruptPolicy, cause error) (*Session, error) {
	log := s.logger.WithField("path", s.documentPath).WithError(cause)
	switch policy {
	case CorruptSkip:
		log.Warn("Документ сессии испорчен, загрузка пропущена")
		return s, nil
	case CorruptDiscard:
		log.Warn("Документ сессии испорчен, создаем заново")
		if err := os.Rename(s.documentPath, s.documentPath+".corrupt"); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return nil, errors.Wrap(err, "move corrupt document aside")
		}
		if err := s.Flush(); err != nil {
			return nil, err
		}
		return s, nil
	}
	return nil, cause
}

// Frames текущий набор кадров
func (s *Session) Frames() *FrameCollection {
	return s.frames
}

// Observations реестр наблюдений
func (s *Session) Observations() *ObservationRegistry {
	return s.observations
}

// Store сетка аннотаций
func (s *Session) Store() *AnnotationStore {
	return s.store
}

// Intervals трекер интервалов
func (s *Session) Intervals() *IntervalTracker {
	return s.intervals
}

// DocumentPath путь документа сессии
func (s *Session) DocumentPath() string {
	return s.documentPath
}

// AddObservation добавляет наблюдение с пустыми аннотациями на каждом кадре и сохраняет документ
func (s *Session) AddObservation(name string) (*Observation, error) {
	obs, err := s.observations.Add(name)
	if err != nil {
		return nil, err
	}
	s.store.EnsureObservation(obs.Name)
	s.logger.WithField("observation", obs.Name).Info("Наблюдение добавлено")
	return obs, s.Flush()
}

// RemoveObservations удаляет наблюдения вместе с аннотациями и интервалами.
// Отсутствующие имена только логируются.
func (s *Session) RemoveObservations(names ...string) ([]string, error) {
	removed := s.observations.Remove(names...)
	gone := make(map[string]struct{}, len(removed))
	for _, name := range removed {
		gone[name] = struct{}{}
		s.store.RemoveObservation(name)
		s.intervals.Remove(name)
	}
	for _, name := range names {
		if _, ok := gone[name]; !ok {
			s.logger.WithField("observation", name).Warn("Удаление неизвестного наблюдения пропущено")
		}
	}
	if len(removed) == 0 {
		return nil, nil
	}
	return removed, s.Flush()
}

// SelectObservation выбирает наблюдение для трекинга и снимает выделение аннотаций
func (s *Session) SelectObservation(name string) bool {
	s.store.ClearSelection()
	if !s.observations.Select(name) {
		s.logger.WithField("observation", name).Warn("Выбор неизвестного наблюдения, выбор снят")
		return false
	}
	return true
}

// SetVisible включает или выключает отрисовку наблюдения
func (s *Session) SetVisible(name string, visible bool) bool {
	return s.observations.SetVisible(name, visible)
}

// SelectAnnotation выделяет аннотацию кадра; ее наблюдение становится выбранным
func (s *Session) SelectAnnotation(frameNumber int, observation string) bool {
	if !s.known(frameNumber, observation) {
		return false
	}
	s.SelectObservation(observation)
	return s.store.SelectAnnotation(frameNumber, observation)
}

// SetShown показывает или скрывает аннотацию на одном кадре
func (s *Session) SetShown(frameNumber int, observation string, shown bool) bool {
	if !s.known(frameNumber, observation) {
		return false
	}
	return s.store.SetShown(frameNumber, observation, shown)
}

// SetPoints заменяет точки аннотации и отменяет начатый жест разбиения
func (s *Session) SetPoints(frameNumber int, observation string, positive, negative []Point) bool {
	if !s.known(frameNumber, observation) {
		return false
	}
	s.intervals.CancelSplit()
	return s.store.SetPoints(frameNumber, observation, positive, negative)
}

// ClearPoints удаляет все точки аннотации
func (s *Session) ClearPoints(frameNumber int, observation string) bool {
	return s.SetPoints(frameNumber, observation, nil, nil)
}

// SetPolygon заменяет маску аннотации
func (s *Session) SetPolygon(frameNumber int, observation string, polygons []Polygon) (bool, error) {
	if !s.known(frameNumber, observation) {
		return false, nil
	}
	return s.store.SetPolygon(frameNumber, observation, polygons)
}

// CommitPolygons записывает результат трекинга на кадр
func (s *Session) CommitPolygons(frameNumber int, observation string, polygons []Polygon) error {
	ok, err := s.SetPolygon(frameNumber, observation, polygons)
	if err != nil {
		return err
	}
	if !ok {
		return errors.Wrapf(ErrUnknownFrame, "frame %d observation %q", frameNumber, observation)
	}
	return nil
}

// Damage копия аннотации
func (s *Session) Damage(frameNumber int, observation string) (*DamageInfo, bool) {
	info, ok := s.store.Get(frameNumber, observation)
	if !ok {
		return nil, false
	}
	return info.Clone(), true
}

// IntervalEdges флаги начала/конца интервала для аннотации кадра
func (s *Session) IntervalEdges(frameNumber int, observation string) (isStart, isEnd bool) {
	return s.intervals.Edges(observation, s.frames, frameNumber)
}

// ToggleMarked переключает отметку загруженного кадра
func (s *Session) ToggleMarked(frameNumber int) (marked bool, ok bool) {
	frame, loaded := s.frames.ByNumber(frameNumber)
	if !loaded {
		s.logger.WithField("frame", frameNumber).Warn("Отметка несуществующего кадра пропущена")
		return false, false
	}
	marked, ok = s.store.ToggleMarked(frameNumber)
	frame.IsMarked = marked
	return marked, ok
}

// SplitClick клик жеста разбиения на интервалы. Зафиксированный интервал сохраняется.
func (s *Session) SplitClick(observation string, frameNumber int) (SplitOutcome, Interval, error) {
	if !s.known(frameNumber, observation) {
		s.intervals.CancelSplit()
		return SplitAborted, Interval{}, nil
	}
	outcome, iv := s.intervals.Click(observation, frameNumber)
	if outcome == SplitCommitted {
		s.logger.WithFields(logrus.Fields{
			"observation": observation,
			"interval":    iv.String(),
		}).Info("Интервал экземпляра создан")
		return outcome, iv, s.Flush()
	}
	return outcome, iv, nil
}

// DeleteInterval удаляет интервал, содержащий кадр, вместе с его результатом трекинга
func (s *Session) DeleteInterval(observation string, frameNumber int) (Interval, bool, error) {
	iv, ok := s.intervals.Delete(observation, frameNumber)
	if !ok {
		s.logger.WithFields(logrus.Fields{
			"observation": observation,
			"frame":       frameNumber,
		}).Warn("Интервал для удаления не найден")
		return Interval{}, false, nil
	}
	n := s.store.ResetRange(observation, iv)
	s.logger.WithFields(logrus.Fields{
		"observation": observation,
		"interval":    iv.String(),
		"frames":      n,
	}).Info("Интервал удален, аннотации очищены")
	return iv, true, s.Flush()
}

// EffectiveIntervals интервалы для распространения (явные или весь диапазон)
func (s *Session) EffectiveIntervals(observation string) []Interval {
	return s.intervals.Effective(observation, s.frames)
}

// ReloadFrames подменяет набор кадров (повторное извлечение или расширение диапазона),
// сохраняя аннотации и отметки по номерам кадров
func (s *Session) ReloadFrames(frames *FrameCollection) error {
	s.frames = frames
	s.ensureLoadedFrames()
	if n := s.intervals.Renormalize(frames); n > 0 {
		s.logger.WithField("intervals", n).Info("Интервалы подогнаны под новый диапазон кадров")
	}
	return s.Flush()
}

// Rescan перечитывает каталог кадров
func (s *Session) Rescan() error {
	frames, err := ScanFrameDir(s.frames.Dir())
	if err != nil {
		return err
	}
	return s.ReloadFrames(frames)
}

// SetProvenance записывает произвольное поле "Info"
func (s *Session) SetProvenance(key string, value interface{}) error {
	return s.store.SetProvenance(key, value)
}

// Flush записывает документ сессии на диск
func (s *Session) Flush() error {
	if err := WriteDocument(s.documentPath, s.ToDocument()); err != nil {
		s.logger.WithError(err).Error("Ошибка записи документа сессии")
		return err
	}
	s.logger.WithField("path", s.documentPath).Debug("Документ сессии записан")
	return nil
}

// Close сохраняет сессию и освобождает изображения
func (s *Session) Close() error {
	for _, f := range s.frames.Frames() {
		f.Release()
	}
	return s.Flush()
}

func (s *Session) known(frameNumber int, observation string) bool {
	if _, ok := s.observations.Get(observation); !ok {
		s.logger.WithField("observation", observation).Warn("Неизвестное наблюдение, операция пропущена")
		return false
	}
	if !s.store.HasFrame(frameNumber) {
		s.logger.WithField("frame", frameNumber).Warn("Неизвестный кадр, операция пропущена")
		return false
	}
	return true
}

func (s *Session) ensureLoadedFrames() {
	names := s.observations.Names()
	for _, f := range s.frames.Frames() {
		s.store.EnsureFrame(f.FrameNumber, f.FileName(), names)
		f.IsMarked = s.store.IsMarked(f.FrameNumber)
	}
}
