package service

import (
	"context"
	"sync"
	"time"

	"road-labeler-go/internal/annotation"
	"road-labeler-go/internal/model"
	"road-labeler-go/internal/propagation"
)

// Job фоновая задача распространения маски одного наблюдения
type Job struct {
	id          string
	sessionID   string
	observation string
	intervals   []annotation.Interval
	cancel      context.CancelFunc
	done        chan struct{}

	mu         sync.Mutex
	status     string
	current    *IntervalResult
	progress   propagation.Progress
	results    []IntervalResult
	err        error
	startedAt  time.Time
	finishedAt *time.Time
}

func newJob(id, sessionID, observation string, intervals []annotation.Interval, cancel context.CancelFunc) *Job {
	return &Job{
		id:          id,
		sessionID:   sessionID,
		observation: observation,
		intervals:   intervals,
		cancel:      cancel,
		done:        make(chan struct{}),
		status:      model.RunStatusRunning,
		startedAt:   time.Now(),
	}
}

// ID идентификатор задачи
func (j *Job) ID() string {
	return j.id
}

// Done закрывается по завершении задачи
func (j *Job) Done() <-chan struct{} {
	return j.done
}

// Cancel просит задачу остановиться в ближайшей контрольной точке
func (j *Job) Cancel() {
	j.cancel()
}

func (j *Job) begin(result IntervalResult) {
	j.mu.Lock()
	defer j.mu.Unlock()
	j.current = &result
	j.progress = propagation.Progress{}
}

func (j *Job) onProgress(p propagation.Progress) {
	j.mu.Lock()
	defer j.mu.Unlock()
	j.progress = p
}

func (j *Job) complete(result IntervalResult) {
	j.mu.Lock()
	defer j.mu.Unlock()
	j.current = nil
	j.results = append(j.results, result)
}

func (j *Job) finish(status string, err error) {
	j.mu.Lock()
	now := time.Now()
	j.status = status
	j.err = err
	j.current = nil
	j.finishedAt = &now
	j.mu.Unlock()
	close(j.done)
}

// Snapshot копия состояния задачи для ответа API
func (j *Job) Snapshot() JobResponse {
	j.mu.Lock()
	defer j.mu.Unlock()
	resp := JobResponse{
		ID:          j.id,
		SessionID:   j.sessionID,
		Observation: j.observation,
		Status:      j.status,
		Done:        j.progress.Done,
		Total:       j.progress.Total,
		Results:     append([]IntervalResult{}, j.results...),
		StartedAt:   j.startedAt,
		FinishedAt:  j.finishedAt,
	}
	if j.current != nil {
		current := *j.current
		resp.Current = &current
	}
	if j.err != nil {
		resp.Error = j.err.Error()
	}
	return resp
}
