package service

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"sync"
	"time"

	"road-labeler-go/internal/annotation"
	"road-labeler-go/internal/metrics"
	"road-labeler-go/internal/model"
	"road-labeler-go/internal/propagation"
	"road-labeler-go/internal/repository"
	"road-labeler-go/internal/segmenter"
	"road-labeler-go/internal/stats"
	"road-labeler-go/pkg/models"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
)

// Ошибки сервиса сессий
var (
	ErrSessionNotFound  = errors.New("session not found")
	ErrSessionBusy      = errors.New("session is busy with a propagation job")
	ErrJobNotFound      = errors.New("propagation job not found")
	ErrIntervalNotFound = errors.New("interval not found")
	ErrInvalidRequest   = errors.New("invalid request")
)

// keptJobs сколько последних задач сессии доступно через GetJob.
// Полная история остается в propagation_runs.
const keptJobs = 10

// BackendFactory создает сегментатор для новой сессии
type BackendFactory func(sessionID string) segmenter.Backend

// SessionOptions параметры сессий
type SessionOptions struct {
	DuplicatePolicy annotation.DuplicatePolicy
	CorruptPolicy   annotation.CorruptPolicy
	Vectorizer      propagation.Vectorizer
}

// openSession открытая сессия. mu сериализует доступ к doc между запросами и фоновой задачей.
// Порядок блокировок: SessionService.mu, затем openSession.mu.
type openSession struct {
	id        string
	frameDir  string
	createdAt time.Time
	segmenter *segmenter.Client
	logger    *logrus.Entry

	mu       sync.Mutex
	doc      *annotation.Session
	record   *model.Session
	needLoad bool
	running  *Job
	jobs     map[string]*Job
	jobOrder []string
}

// lockedWorkspace дает оркестратору доступ к сессии под ее мьютексом
type lockedWorkspace struct {
	s *openSession
}

func (w lockedWorkspace) SeedPlan(observation string, iv annotation.Interval) (*annotation.SeedPlan, error) {
	w.s.mu.Lock()
	defer w.s.mu.Unlock()
	return w.s.doc.SeedPlan(observation, iv)
}

func (w lockedWorkspace) CommitPolygons(frameNumber int, observation string, polygons []annotation.Polygon) error {
	w.s.mu.Lock()
	defer w.s.mu.Unlock()
	return w.s.doc.CommitPolygons(frameNumber, observation, polygons)
}

func (w lockedWorkspace) Flush() error {
	w.s.mu.Lock()
	defer w.s.mu.Unlock()
	return w.s.doc.Flush()
}

// SessionService сервис для работы с сессиями разметки
type SessionService struct {
	repo     repository.SessionRepository
	backends BackendFactory
	metrics  *metrics.Metrics
	calc     *stats.Calculator
	logger   *logrus.Logger
	opts     SessionOptions

	openMu   sync.Mutex
	mu       sync.RWMutex
	sessions map[string]*openSession
	wg       sync.WaitGroup
}

// NewSessionService создает новый сервис для работы с сессиями
func NewSessionService(repo repository.SessionRepository, backends BackendFactory, m *metrics.Metrics, logger *logrus.Logger, opts SessionOptions) *SessionService {
	if m == nil {
		m = metrics.New()
	}
	return &SessionService{
		repo:     repo,
		backends: backends,
		metrics:  m,
		calc:     stats.NewCalculator(),
		logger:   logger,
		opts:     opts,
		sessions: make(map[string]*openSession),
	}
}

// OpenSession открывает сессию для каталога кадров. Повторное открытие того же каталога
// возвращает уже открытую сессию.
func (s *SessionService) OpenSession(ctx context.Context, req OpenSessionRequest) (*SessionResponse, error) {
	frameDir := filepath.Clean(req.FrameDir)
	s.logger.Infof("Открываем сессию разметки для %s", frameDir)

	policy := s.opts.CorruptPolicy
	if req.OnCorrupt != "" {
		p, err := annotation.ParseCorruptPolicy(req.OnCorrupt)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrInvalidRequest, err)
		}
		policy = p
	}

	s.openMu.Lock()
	defer s.openMu.Unlock()

	if existing := s.findByFrameDir(frameDir); existing != nil {
		s.logger.Infof("Сессия для %s уже открыта: %s", frameDir, existing.id)
		return existing.response(), nil
	}

	if stale, err := s.repo.FindOpenByFrameDir(frameDir); err == nil {
		now := time.Now()
		stale.ClosedAt = &now
		if err := s.repo.Update(stale); err != nil {
			s.logger.Warnf("Не удалось закрыть устаревшую запись сессии %s: %v", stale.ID, err)
		}
	}

	id := uuid.New().String()
	logger := s.logger.WithField("session", id)
	doc, err := annotation.Open(frameDir, annotation.Options{
		DuplicatePolicy: s.opts.DuplicatePolicy,
		OnCorrupt:       policy,
		Logger:          logger,
	})
	if err != nil {
		s.logger.Errorf("Ошибка открытия сессии %s: %v", frameDir, err)
		return nil, fmt.Errorf("failed to open session: %w", err)
	}

	o := &openSession{
		id:        id,
		frameDir:  frameDir,
		createdAt: time.Now(),
		segmenter: segmenter.NewClient(s.backends(id), logger),
		logger:    logger,
		doc:       doc,
		needLoad:  true,
		jobs:      make(map[string]*Job),
	}
	o.record = &model.Session{
		ID:           id,
		FrameDir:     frameDir,
		DocumentPath: doc.DocumentPath(),
	}
	s.fillSummary(o)
	if err := s.repo.Create(o.record); err != nil {
		s.logger.Errorf("Ошибка сохранения сессии в БД: %v", err)
		return nil, fmt.Errorf("failed to save session: %w", err)
	}

	if err := o.segmenter.Load(ctx, frameDir); err != nil {
		logger.Warnf("Сегментатор недоступен, кадры будут загружены перед распространением: %v", err)
	} else {
		o.needLoad = false
	}

	s.mu.Lock()
	s.sessions[id] = o
	s.mu.Unlock()
	s.metrics.OpenSessions.Add(1)

	logger.Infof("Сессия открыта: %d кадров, %d наблюдений", doc.Frames().Len(), doc.Observations().Len())
	return o.response(), nil
}

// GetSession возвращает состояние открытой сессии
func (s *SessionService) GetSession(id string) (*SessionResponse, error) {
	o, err := s.get(id)
	if err != nil {
		return nil, err
	}
	return o.response(), nil
}

// ListSessions получает список сессий из индекса с пагинацией
func (s *SessionService) ListSessions(page, pageSize int) ([]*model.Session, int64, error) {
	s.logger.Infof("Получаем список сессий: страница %d, размер %d", page, pageSize)

	sessions, total, err := s.repo.List(page, pageSize)
	if err != nil {
		s.logger.Errorf("Ошибка получения списка сессий: %v", err)
		return nil, 0, fmt.Errorf("failed to list sessions: %w", err)
	}
	return sessions, total, nil
}

// ListRuns история распространения сессии
func (s *SessionService) ListRuns(id string, limit int) ([]*model.PropagationRun, error) {
	runs, err := s.repo.ListRuns(id, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list propagation runs: %w", err)
	}
	return runs, nil
}

// CloseSession сохраняет и закрывает сессию. С purge запись удаляется и из индекса,
// документ сессии на диске остается.
func (s *SessionService) CloseSession(id string, purge bool) error {
	s.logger.Infof("Закрываем сессию %s", id)

	o, err := s.get(id)
	if err == nil {
		if err := s.closeOpen(o); err != nil {
			return err
		}
	} else if !purge {
		return err
	}

	if purge {
		if err := s.repo.Delete(id); err != nil {
			if errors.Is(err, repository.ErrNotFound) {
				return fmt.Errorf("%w: %s", ErrSessionNotFound, id)
			}
			s.logger.Errorf("Ошибка удаления сессии из БД: %v", err)
			return fmt.Errorf("failed to delete session: %w", err)
		}
	}
	return nil
}

func (s *SessionService) closeOpen(o *openSession) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	o.mu.Lock()
	defer o.mu.Unlock()
	if _, ok := s.sessions[o.id]; !ok {
		return fmt.Errorf("%w: %s", ErrSessionNotFound, o.id)
	}
	if o.running != nil {
		return ErrSessionBusy
	}
	if err := o.doc.Close(); err != nil {
		return fmt.Errorf("failed to save session document: %w", err)
	}
	now := time.Now()
	o.record.ClosedAt = &now
	s.saveSummary(o)

	delete(s.sessions, o.id)
	s.metrics.OpenSessions.Add(-1)
	o.logger.Info("Сессия закрыта")
	return nil
}

// ReloadFrames перечитывает каталог кадров сессии
func (s *SessionService) ReloadFrames(id string) (*SessionResponse, error) {
	o, err := s.get(id)
	if err != nil {
		return nil, err
	}
	err = o.structural(func() error {
		if err := o.doc.Rescan(); err != nil {
			return fmt.Errorf("failed to reload frames: %w", err)
		}
		o.needLoad = true
		s.saveSummary(o)
		return nil
	})
	if err != nil {
		return nil, err
	}
	return o.response(), nil
}

// Document текущий документ сессии
func (s *SessionService) Document(id string) (*annotation.Document, error) {
	o, err := s.get(id)
	if err != nil {
		return nil, err
	}
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.doc.ToDocument(), nil
}

// Stats статистика разметки по интервалам
func (s *SessionService) Stats(id string) (*models.SessionStats, error) {
	o, err := s.get(id)
	if err != nil {
		return nil, err
	}
	o.mu.Lock()
	defer o.mu.Unlock()
	result := s.calc.CalculateSession(o.doc)
	return &result, nil
}

// AddObservation добавляет наблюдение
func (s *SessionService) AddObservation(id, name string) (*ObservationResponse, error) {
	o, err := s.get(id)
	if err != nil {
		return nil, err
	}
	var resp ObservationResponse
	err = o.structural(func() error {
		obs, err := o.doc.AddObservation(name)
		if err != nil {
			return err
		}
		resp = observationToResponse(obs)
		return nil
	})
	if err != nil {
		return nil, err
	}
	return &resp, nil
}

// RemoveObservations удаляет наблюдения вместе с аннотациями и интервалами
func (s *SessionService) RemoveObservations(id string, names []string) ([]string, error) {
	o, err := s.get(id)
	if err != nil {
		return nil, err
	}
	var removed []string
	err = o.structural(func() error {
		removed, err = o.doc.RemoveObservations(names...)
		return err
	})
	if removed == nil {
		removed = []string{}
	}
	return removed, err
}

// SelectObservation выбирает наблюдение. Неизвестное имя снимает выбор.
func (s *SessionService) SelectObservation(id, name string) (bool, error) {
	o, err := s.get(id)
	if err != nil {
		return false, err
	}
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.doc.SelectObservation(name), nil
}

// SetVisible включает или выключает отрисовку маски наблюдения
func (s *SessionService) SetVisible(id, name string, visible bool) error {
	o, err := s.get(id)
	if err != nil {
		return err
	}
	o.mu.Lock()
	defer o.mu.Unlock()
	if !o.doc.SetVisible(name, visible) {
		return fmt.Errorf("%w: %q", annotation.ErrUnknownObservation, name)
	}
	return nil
}

// Frame кадр со всеми аннотациями
func (s *SessionService) Frame(id string, frameNumber int) (*FrameResponse, error) {
	o, err := s.get(id)
	if err != nil {
		return nil, err
	}
	o.mu.Lock()
	defer o.mu.Unlock()

	frame, ok := o.doc.Frames().ByNumber(frameNumber)
	if !ok {
		return nil, fmt.Errorf("%w: %d", annotation.ErrUnknownFrame, frameNumber)
	}
	resp := &FrameResponse{
		FrameNumber: frame.FrameNumber,
		Index:       frame.Index,
		FileName:    frame.FileName(),
		IsMarked:    frame.IsMarked,
		Annotations: make(map[string]AnnotationResponse),
	}
	for _, name := range o.doc.Observations().Names() {
		if a, ok := o.annotation(frameNumber, name); ok {
			resp.Annotations[name] = a
		}
	}
	return resp, nil
}

// SetPoints заменяет точки аннотации
func (s *SessionService) SetPoints(id string, frameNumber int, observation string, req SetPointsRequest) (*AnnotationResponse, error) {
	o, err := s.get(id)
	if err != nil {
		return nil, err
	}
	o.mu.Lock()
	defer o.mu.Unlock()
	if err := o.check(frameNumber, observation); err != nil {
		return nil, err
	}
	o.doc.SetPoints(frameNumber, observation, req.Positive, req.Negative)
	return o.commit(frameNumber, observation)
}

// SelectAnnotation выделяет аннотацию кадра и выбирает ее наблюдение
func (s *SessionService) SelectAnnotation(id string, frameNumber int, observation string) (*AnnotationResponse, error) {
	o, err := s.get(id)
	if err != nil {
		return nil, err
	}
	o.mu.Lock()
	defer o.mu.Unlock()
	if err := o.check(frameNumber, observation); err != nil {
		return nil, err
	}
	o.doc.SelectAnnotation(frameNumber, observation)
	a, _ := o.annotation(frameNumber, observation)
	return &a, nil
}

// SetShown показывает или скрывает аннотацию на кадре
func (s *SessionService) SetShown(id string, frameNumber int, observation string, shown bool) (*AnnotationResponse, error) {
	o, err := s.get(id)
	if err != nil {
		return nil, err
	}
	o.mu.Lock()
	defer o.mu.Unlock()
	if err := o.check(frameNumber, observation); err != nil {
		return nil, err
	}
	o.doc.SetShown(frameNumber, observation, shown)
	a, _ := o.annotation(frameNumber, observation)
	return &a, nil
}

// SetPolygon заменяет маску аннотации
func (s *SessionService) SetPolygon(id string, frameNumber int, observation string, req SetPolygonRequest) (*AnnotationResponse, error) {
	o, err := s.get(id)
	if err != nil {
		return nil, err
	}
	o.mu.Lock()
	defer o.mu.Unlock()
	if err := o.check(frameNumber, observation); err != nil {
		return nil, err
	}
	if _, err := o.doc.SetPolygon(frameNumber, observation, req.Polygons); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidRequest, err)
	}
	return o.commit(frameNumber, observation)
}

// ToggleMark переключает отметку кадра
func (s *SessionService) ToggleMark(id string, frameNumber int) (bool, error) {
	o, err := s.get(id)
	if err != nil {
		return false, err
	}
	o.mu.Lock()
	defer o.mu.Unlock()
	marked, ok := o.doc.ToggleMarked(frameNumber)
	if !ok {
		return false, fmt.Errorf("%w: %d", annotation.ErrUnknownFrame, frameNumber)
	}
	return marked, o.doc.Flush()
}

// SplitClick клик жеста разбиения на интервалы
func (s *SessionService) SplitClick(id, observation string, frameNumber int) (*SplitResponse, error) {
	o, err := s.get(id)
	if err != nil {
		return nil, err
	}
	o.mu.Lock()
	defer o.mu.Unlock()
	outcome, iv, err := o.doc.SplitClick(observation, frameNumber)
	if err != nil {
		return nil, err
	}
	resp := &SplitResponse{Outcome: outcome.String()}
	if outcome == annotation.SplitCommitted {
		resp.Interval = &iv
	}
	return resp, nil
}

// DeleteInterval удаляет интервал, содержащий кадр
func (s *SessionService) DeleteInterval(id, observation string, frameNumber int) (*annotation.Interval, error) {
	o, err := s.get(id)
	if err != nil {
		return nil, err
	}
	var deleted annotation.Interval
	err = o.structural(func() error {
		iv, ok, err := o.doc.DeleteInterval(observation, frameNumber)
		if err != nil {
			return err
		}
		if !ok {
			return fmt.Errorf("%w: %q frame %d", ErrIntervalNotFound, observation, frameNumber)
		}
		deleted = iv
		return nil
	})
	if err != nil {
		return nil, err
	}
	return &deleted, nil
}

// StartPropagation запускает фоновое распространение маски наблюдения.
// Без границ в запросе берутся все интервалы наблюдения (или весь диапазон кадров);
// интервалы без точек пропускаются.
func (s *SessionService) StartPropagation(id, observation string, req PropagateRequest) (*JobResponse, error) {
	o, err := s.get(id)
	if err != nil {
		return nil, err
	}

	o.mu.Lock()
	if o.running != nil {
		o.mu.Unlock()
		return nil, ErrSessionBusy
	}
	if _, ok := o.doc.Observations().Get(observation); !ok {
		o.mu.Unlock()
		return nil, fmt.Errorf("%w: %q", annotation.ErrUnknownObservation, observation)
	}

	var intervals []annotation.Interval
	switch {
	case req.Start == nil && req.End == nil:
		intervals = o.doc.EffectiveIntervals(observation)
	case req.Start == nil || req.End == nil || *req.Start > *req.End:
		o.mu.Unlock()
		return nil, fmt.Errorf("%w: both start and end are required, start <= end", ErrInvalidRequest)
	default:
		intervals = []annotation.Interval{{Start: *req.Start, End: *req.End}}
	}

	var seeded []annotation.Interval
	for _, iv := range intervals {
		if plan, err := o.doc.SeedPlan(observation, iv); err == nil && len(plan.Seeds) > 0 {
			seeded = append(seeded, iv)
		}
	}
	if len(seeded) == 0 {
		o.mu.Unlock()
		return nil, fmt.Errorf("%w: %q", propagation.ErrNoSeedPoints, observation)
	}

	ctx, cancel := context.WithCancel(context.Background())
	job := newJob(uuid.New().String(), o.id, observation, seeded, cancel)
	o.running = job
	o.addJob(job)
	needLoad := o.needLoad
	o.needLoad = false
	frameDir := o.frameDir
	o.mu.Unlock()

	o.logger.Infof("Запуск распространения %q по %d интервалам", observation, len(seeded))
	s.metrics.RunningJobs.Add(1)
	s.wg.Add(1)
	go s.runJob(ctx, o, job, needLoad, frameDir)

	resp := job.Snapshot()
	return &resp, nil
}

func (s *SessionService) runJob(ctx context.Context, o *openSession, job *Job, needLoad bool, frameDir string) {
	defer s.wg.Done()
	logger := o.logger.WithFields(logrus.Fields{
		"job":         job.id,
		"observation": job.observation,
	})

	status := model.RunStatusSucceeded
	var jobErr error
	defer func() {
		o.mu.Lock()
		o.running = nil
		if status == model.RunStatusFailed && needLoad {
			o.needLoad = true
		}
		s.saveSummary(o)
		o.mu.Unlock()
		s.metrics.RunningJobs.Add(-1)
		job.finish(status, jobErr)
		job.cancel()
	}()

	if needLoad {
		if err := o.segmenter.Load(ctx, frameDir); err != nil {
			status, jobErr = model.RunStatusFailed, fmt.Errorf("failed to load frames into segmenter: %w", err)
			logger.Errorf("Ошибка загрузки кадров в сегментатор: %v", err)
			return
		}
	}

	orchestrator := propagation.NewOrchestrator(o.segmenter, s.opts.Vectorizer, logger)
	orchestrator.OnProgress = job.onProgress
	ws := lockedWorkspace{s: o}

	for _, iv := range job.intervals {
		run := &model.PropagationRun{
			ID:            uuid.New().String(),
			SessionID:     o.id,
			Observation:   job.observation,
			IntervalStart: iv.Start,
			IntervalEnd:   iv.End,
			Status:        model.RunStatusRunning,
		}
		if err := s.repo.CreateRun(run); err != nil {
			logger.Warnf("Не удалось записать запуск распространения: %v", err)
		}
		job.begin(IntervalResult{Interval: iv, RunID: run.ID, Status: model.RunStatusRunning})

		res, err := orchestrator.Run(ctx, ws, job.observation, iv)
		runStatus := model.RunStatusSucceeded
		switch {
		case err == nil:
		case errors.Is(err, context.Canceled):
			runStatus = model.RunStatusCanceled
		default:
			runStatus = model.RunStatusFailed
		}

		result := IntervalResult{Interval: iv, RunID: run.ID, Status: runStatus}
		if res != nil {
			result.Seeds = res.Seeds
			result.Pivot = res.Pivot
			result.FramesWritten = res.FramesWritten
			result.EmptyFilled = res.EmptyFilled
			s.metrics.ObserveRun(runStatus, res.FramesWritten, res.EmptyFilled, res.Duration)
		}
		finished := time.Now()
		run.Status = runStatus
		run.Seeds = result.Seeds
		run.FramesWritten = result.FramesWritten
		run.EmptyFilled = result.EmptyFilled
		run.FinishedAt = &finished
		if err != nil {
			result.Error = err.Error()
			run.Error = err.Error()
		}
		if err := s.repo.UpdateRun(run); err != nil {
			logger.Warnf("Не удалось обновить запуск распространения: %v", err)
		}
		job.complete(result)

		if err != nil {
			status, jobErr = runStatus, err
			logger.Errorf("Распространение по интервалу %s прервано: %v", iv, err)
			return
		}
	}
	logger.Info("Распространение завершено")
}

// GetJob состояние задачи распространения
func (s *SessionService) GetJob(id, jobID string) (*JobResponse, error) {
	job, err := s.job(id, jobID)
	if err != nil {
		return nil, err
	}
	resp := job.Snapshot()
	return &resp, nil
}

// CancelJob просит задачу остановиться. Уже записанные кадры остаются.
func (s *SessionService) CancelJob(id, jobID string) (*JobResponse, error) {
	job, err := s.job(id, jobID)
	if err != nil {
		return nil, err
	}
	job.Cancel()
	resp := job.Snapshot()
	return &resp, nil
}

func (s *SessionService) job(id, jobID string) (*Job, error) {
	o, err := s.get(id)
	if err != nil {
		return nil, err
	}
	o.mu.Lock()
	defer o.mu.Unlock()
	job, ok := o.jobs[jobID]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrJobNotFound, jobID)
	}
	return job, nil
}

// Shutdown отменяет задачи, дожидается их и закрывает все сессии
func (s *SessionService) Shutdown(ctx context.Context) error {
	s.mu.RLock()
	open := make([]*openSession, 0, len(s.sessions))
	for _, o := range s.sessions {
		open = append(open, o)
	}
	s.mu.RUnlock()

	for _, o := range open {
		o.mu.Lock()
		if o.running != nil {
			o.running.Cancel()
		}
		o.mu.Unlock()
	}

	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-ctx.Done():
		return ctx.Err()
	}

	var firstErr error
	for _, o := range open {
		if err := s.closeOpen(o); err != nil && !errors.Is(err, ErrSessionNotFound) && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

func (s *SessionService) get(id string) (*openSession, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	o, ok := s.sessions[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrSessionNotFound, id)
	}
	return o, nil
}

func (s *SessionService) findByFrameDir(frameDir string) *openSession {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, o := range s.sessions {
		if o.frameDir == frameDir {
			return o
		}
	}
	return nil
}

// fillSummary переносит сводку документа в запись индекса. Вызывается под o.mu.
func (s *SessionService) fillSummary(o *openSession) {
	summary := s.calc.CalculateSession(o.doc).OverallStats
	o.record.TotalFrames = summary.TotalFrames
	o.record.MarkedFrames = summary.MarkedFrames
	o.record.Observations = summary.Observations
	o.record.TotalIntervals = summary.TotalIntervals
	o.record.IntervalsWithData = summary.IntervalsWithData
	o.record.AverageCoverage = summary.AverageCoverage
}

func (s *SessionService) saveSummary(o *openSession) {
	s.fillSummary(o)
	if err := s.repo.Update(o.record); err != nil {
		o.logger.Warnf("Не удалось обновить сводку сессии: %v", err)
	}
}

// addJob запоминает задачу и забывает самые старые. Вызывается под o.mu,
// когда других задач не выполняется.
func (o *openSession) addJob(job *Job) {
	o.jobs[job.id] = job
	o.jobOrder = append(o.jobOrder, job.id)
	for len(o.jobOrder) > keptJobs {
		delete(o.jobs, o.jobOrder[0])
		o.jobOrder = o.jobOrder[1:]
	}
}

// structural выполняет изменение структуры сессии, недопустимое во время распространения
func (o *openSession) structural(fn func() error) error {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.running != nil {
		return ErrSessionBusy
	}
	return fn()
}

func (o *openSession) check(frameNumber int, observation string) error {
	if _, ok := o.doc.Observations().Get(observation); !ok {
		return fmt.Errorf("%w: %q", annotation.ErrUnknownObservation, observation)
	}
	if !o.doc.Store().HasFrame(frameNumber) {
		return fmt.Errorf("%w: %d", annotation.ErrUnknownFrame, frameNumber)
	}
	return nil
}

func (o *openSession) commit(frameNumber int, observation string) (*AnnotationResponse, error) {
	if err := o.doc.Flush(); err != nil {
		return nil, fmt.Errorf("failed to save session document: %w", err)
	}
	a, _ := o.annotation(frameNumber, observation)
	return &a, nil
}

func (o *openSession) annotation(frameNumber int, observation string) (AnnotationResponse, bool) {
	info, ok := o.doc.Damage(frameNumber, observation)
	if !ok {
		return AnnotationResponse{}, false
	}
	isStart, isEnd := o.doc.IntervalEdges(frameNumber, observation)
	return AnnotationResponse{
		PositivePoints:    orEmptyPoints(info.PositivePoints),
		NegativePoints:    orEmptyPoints(info.NegativePoints),
		MaskPolygon:       orEmptyPolygons(info.MaskPolygon),
		IsShown:           info.IsShown,
		IsSelected:        info.IsSelected,
		IsStartOfInterval: isStart,
		IsEndOfInterval:   isEnd,
	}, true
}

func (o *openSession) response() *SessionResponse {
	o.mu.Lock()
	defer o.mu.Unlock()
	doc := o.doc
	resp := &SessionResponse{
		ID:             o.id,
		FrameDir:       doc.Frames().Dir(),
		DocumentPath:   doc.DocumentPath(),
		Frames:         doc.Frames().Numbers(),
		Observations:   []ObservationResponse{},
		MarkedFrames:   doc.Store().MarkedFrames(),
		Intervals:      doc.Intervals().All(),
		SegmenterState: o.segmenter.State().String(),
		CreatedAt:      o.createdAt,
	}
	for _, name := range doc.Observations().Names() {
		if obs, ok := doc.Observations().Get(name); ok {
			resp.Observations = append(resp.Observations, observationToResponse(obs))
		}
	}
	if name, start, ok := doc.Intervals().Pending(); ok {
		resp.PendingSplit = &PendingSplit{Observation: name, Start: start}
	}
	if o.running != nil {
		resp.RunningJob = o.running.id
	}
	return resp
}
