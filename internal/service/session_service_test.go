package service

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"road-labeler-go/internal/annotation"
	"road-labeler-go/internal/database"
	"road-labeler-go/internal/metrics"
	"road-labeler-go/internal/model"
	"road-labeler-go/internal/propagation"
	"road-labeler-go/internal/repository"
	"road-labeler-go/internal/segmenter"
	"road-labeler-go/internal/segmenter/segmentertest"
)

type testEnv struct {
	svc     *SessionService
	repo    repository.SessionRepository
	backend *segmentertest.Backend
	metrics *metrics.Metrics
	dir     string
}

func quietLogger() *logrus.Logger {
	logger := logrus.New()
	logger.SetOutput(io.Discard)
	return logger
}

func writeFrames(t *testing.T, count int) string {
	t.Helper()
	dir := filepath.Join(t.TempDir(), "clip")
	require.NoError(t, os.MkdirAll(dir, 0755))
	for n := 0; n < count; n++ {
		require.NoError(t, os.WriteFile(filepath.Join(dir, fmt.Sprintf("%05d.jpg", n)), nil, 0644))
	}
	return dir
}

func newTestEnv(t *testing.T, frames int) *testEnv {
	t.Helper()
	db, err := database.Open(":memory:")
	require.NoError(t, err)
	require.NoError(t, database.AutoMigrate(db))
	t.Cleanup(func() {
		sqlDB, _ := db.DB()
		sqlDB.Close()
	})

	env := &testEnv{
		repo:    repository.NewSessionRepository(db),
		backend: segmentertest.New(frames),
		metrics: metrics.New(),
		dir:     writeFrames(t, frames),
	}
	env.svc = NewSessionService(env.repo, func(string) segmenter.Backend { return env.backend },
		env.metrics, quietLogger(), SessionOptions{})
	return env
}

func (e *testEnv) open(t *testing.T) *SessionResponse {
	t.Helper()
	resp, err := e.svc.OpenSession(context.Background(), OpenSessionRequest{FrameDir: e.dir})
	require.NoError(t, err)
	return resp
}

func (e *testEnv) waitJob(t *testing.T, sessionID, jobID string) *JobResponse {
	t.Helper()
	job, err := e.svc.job(sessionID, jobID)
	require.NoError(t, err)
	select {
	case <-job.Done():
	case <-time.After(5 * time.Second):
		t.Fatalf("job %s did not finish", jobID)
	}
	resp := job.Snapshot()
	return &resp
}

func TestOpenSession(t *testing.T) {
	env := newTestEnv(t, 10)
	resp := env.open(t)

	assert.Len(t, resp.Frames, 10)
	assert.Empty(t, resp.Observations)
	assert.Equal(t, "loaded", resp.SegmenterState)
	assert.Equal(t, env.dir, env.backend.Loaded())
	assert.Equal(t, int64(1), env.metrics.OpenSessions.Load())

	again := env.open(t)
	assert.Equal(t, resp.ID, again.ID)
	assert.Equal(t, []string{"load"}, env.backend.Methods())

	record, err := env.repo.GetByID(resp.ID)
	require.NoError(t, err)
	assert.Equal(t, 10, record.TotalFrames)
	assert.Nil(t, record.ClosedAt)
}

func TestOpenSessionInvalidPolicy(t *testing.T) {
	env := newTestEnv(t, 3)
	_, err := env.svc.OpenSession(context.Background(), OpenSessionRequest{FrameDir: env.dir, OnCorrupt: "ignore"})
	assert.ErrorIs(t, err, ErrInvalidRequest)
}

func TestOpenSessionMissingDir(t *testing.T) {
	env := newTestEnv(t, 3)
	_, err := env.svc.OpenSession(context.Background(), OpenSessionRequest{FrameDir: filepath.Join(env.dir, "nope")})
	assert.Error(t, err)
	assert.Equal(t, int64(0), env.metrics.OpenSessions.Load())
}

func TestAnnotationEditing(t *testing.T) {
	env := newTestEnv(t, 10)
	sess := env.open(t)

	obs, err := env.svc.AddObservation(sess.ID, "Crack")
	require.NoError(t, err)
	assert.Equal(t, "Crack", obs.Name)
	assert.Regexp(t, `^#[0-9a-f]{6}$`, obs.Color)

	ann, err := env.svc.SetPoints(sess.ID, 3, "Crack", SetPointsRequest{
		Positive: []annotation.Point{{X: 1, Y: 2}},
	})
	require.NoError(t, err)
	assert.Len(t, ann.PositivePoints, 1)
	assert.NotNil(t, ann.NegativePoints)

	_, err = env.svc.SetPoints(sess.ID, 3, "Pothole", SetPointsRequest{})
	assert.ErrorIs(t, err, annotation.ErrUnknownObservation)
	_, err = env.svc.SetPoints(sess.ID, 42, "Crack", SetPointsRequest{})
	assert.ErrorIs(t, err, annotation.ErrUnknownFrame)

	_, err = env.svc.SetPolygon(sess.ID, 3, "Crack", SetPolygonRequest{
		Polygons: []annotation.Polygon{{{X: 0, Y: 0}, {X: 1, Y: 1}}},
	})
	assert.ErrorIs(t, err, ErrInvalidRequest)

	marked, err := env.svc.ToggleMark(sess.ID, 4)
	require.NoError(t, err)
	assert.True(t, marked)
	_, err = env.svc.ToggleMark(sess.ID, 99)
	assert.ErrorIs(t, err, annotation.ErrUnknownFrame)

	split, err := env.svc.SplitClick(sess.ID, "Crack", 2)
	require.NoError(t, err)
	assert.Equal(t, "started", split.Outcome)
	split, err = env.svc.SplitClick(sess.ID, "Crack", 6)
	require.NoError(t, err)
	assert.Equal(t, "committed", split.Outcome)
	require.NotNil(t, split.Interval)
	assert.Equal(t, annotation.Interval{Start: 2, End: 6}, *split.Interval)

	frame, err := env.svc.Frame(sess.ID, 2)
	require.NoError(t, err)
	assert.True(t, frame.Annotations["Crack"].IsStartOfInterval)

	state, err := env.svc.GetSession(sess.ID)
	require.NoError(t, err)
	assert.Equal(t, []int{4}, state.MarkedFrames)
	assert.Equal(t, []annotation.Interval{{Start: 2, End: 6}}, state.Intervals["Crack"])

	deleted, err := env.svc.DeleteInterval(sess.ID, "Crack", 4)
	require.NoError(t, err)
	assert.Equal(t, 2, deleted.Start)
	_, err = env.svc.DeleteInterval(sess.ID, "Crack", 4)
	assert.ErrorIs(t, err, ErrIntervalNotFound)

	doc, err := env.svc.Document(sess.ID)
	require.NoError(t, err)
	assert.Len(t, doc.Frames, 10)

	removed, err := env.svc.RemoveObservations(sess.ID, []string{"Crack", "Pothole"})
	require.NoError(t, err)
	assert.Equal(t, []string{"Crack"}, removed)
}

func TestStartPropagation(t *testing.T) {
	env := newTestEnv(t, 21)
	sess := env.open(t)
	_, err := env.svc.AddObservation(sess.ID, "Crack")
	require.NoError(t, err)
	_, err = env.svc.SetPoints(sess.ID, 5, "Crack", SetPointsRequest{Positive: []annotation.Point{{X: 3, Y: 3}}})
	require.NoError(t, err)

	job, err := env.svc.StartPropagation(sess.ID, "Crack", PropagateRequest{})
	require.NoError(t, err)
	assert.Equal(t, model.RunStatusRunning, job.Status)

	done := env.waitJob(t, sess.ID, job.ID)
	assert.Equal(t, model.RunStatusSucceeded, done.Status)
	require.Len(t, done.Results, 1)
	result := done.Results[0]
	assert.Equal(t, annotation.Interval{Start: 0, End: 20}, result.Interval)
	assert.Equal(t, 1, result.Seeds)
	assert.Equal(t, 5, result.Pivot)
	assert.Equal(t, 21, result.FramesWritten)
	assert.Equal(t, int64(0), env.metrics.RunningJobs.Load())
	assert.Equal(t, uint64(21), env.metrics.FramesWritten.Load())

	frame, err := env.svc.Frame(sess.ID, 20)
	require.NoError(t, err)
	assert.Len(t, frame.Annotations["Crack"].MaskPolygon, 1)

	runs, err := env.svc.ListRuns(sess.ID, 10)
	require.NoError(t, err)
	require.Len(t, runs, 1)
	assert.Equal(t, model.RunStatusSucceeded, runs[0].Status)
	assert.Equal(t, 21, runs[0].FramesWritten)
	assert.NotNil(t, runs[0].FinishedAt)

	state, err := env.svc.GetSession(sess.ID)
	require.NoError(t, err)
	assert.Empty(t, state.RunningJob)
	assert.Equal(t, "loaded", state.SegmenterState)
}

func TestStartPropagationExplicitRange(t *testing.T) {
	env := newTestEnv(t, 21)
	sess := env.open(t)
	_, err := env.svc.AddObservation(sess.ID, "Crack")
	require.NoError(t, err)
	_, err = env.svc.SetPoints(sess.ID, 12, "Crack", SetPointsRequest{Positive: []annotation.Point{{X: 3, Y: 3}}})
	require.NoError(t, err)

	start, end := 10, 15
	job, err := env.svc.StartPropagation(sess.ID, "Crack", PropagateRequest{Start: &start, End: &end})
	require.NoError(t, err)
	done := env.waitJob(t, sess.ID, job.ID)
	require.Len(t, done.Results, 1)
	assert.Equal(t, 6, done.Results[0].FramesWritten)

	_, err = env.svc.StartPropagation(sess.ID, "Crack", PropagateRequest{Start: &end, End: &start})
	assert.ErrorIs(t, err, ErrInvalidRequest)
	_, err = env.svc.StartPropagation(sess.ID, "Crack", PropagateRequest{Start: &start})
	assert.ErrorIs(t, err, ErrInvalidRequest)
}

func TestStartPropagationPreflight(t *testing.T) {
	env := newTestEnv(t, 10)
	sess := env.open(t)
	_, err := env.svc.AddObservation(sess.ID, "Crack")
	require.NoError(t, err)

	_, err = env.svc.StartPropagation(sess.ID, "Crack", PropagateRequest{})
	assert.ErrorIs(t, err, propagation.ErrNoSeedPoints)
	_, err = env.svc.StartPropagation(sess.ID, "Pothole", PropagateRequest{})
	assert.ErrorIs(t, err, annotation.ErrUnknownObservation)
	_, err = env.svc.StartPropagation("missing", "Crack", PropagateRequest{})
	assert.ErrorIs(t, err, ErrSessionNotFound)

	assert.Equal(t, []string{"load"}, env.backend.Methods())
}

func TestFinishedJobsArePruned(t *testing.T) {
	env := newTestEnv(t, 5)
	sess := env.open(t)
	_, err := env.svc.AddObservation(sess.ID, "Crack")
	require.NoError(t, err)
	_, err = env.svc.SetPoints(sess.ID, 2, "Crack", SetPointsRequest{Positive: []annotation.Point{{X: 3, Y: 3}}})
	require.NoError(t, err)

	var ids []string
	for i := 0; i < keptJobs+2; i++ {
		job, err := env.svc.StartPropagation(sess.ID, "Crack", PropagateRequest{})
		require.NoError(t, err)
		env.waitJob(t, sess.ID, job.ID)
		ids = append(ids, job.ID)
	}

	for _, id := range ids[:2] {
		_, err := env.svc.GetJob(sess.ID, id)
		assert.ErrorIs(t, err, ErrJobNotFound)
	}
	for _, id := range ids[2:] {
		_, err := env.svc.GetJob(sess.ID, id)
		assert.NoError(t, err)
	}

	runs, err := env.svc.ListRuns(sess.ID, 100)
	require.NoError(t, err)
	assert.Len(t, runs, keptJobs+2)
}

func TestStructuralOperationsBusyDuringJob(t *testing.T) {
	env := newTestEnv(t, 10)
	env.backend.BlockAt = 7
	env.backend.Release = make(chan struct{})
	sess := env.open(t)
	_, err := env.svc.AddObservation(sess.ID, "Crack")
	require.NoError(t, err)
	_, err = env.svc.SetPoints(sess.ID, 2, "Crack", SetPointsRequest{Positive: []annotation.Point{{X: 3, Y: 3}}})
	require.NoError(t, err)

	job, err := env.svc.StartPropagation(sess.ID, "Crack", PropagateRequest{})
	require.NoError(t, err)

	_, err = env.svc.AddObservation(sess.ID, "Pothole")
	assert.ErrorIs(t, err, ErrSessionBusy)
	_, err = env.svc.StartPropagation(sess.ID, "Crack", PropagateRequest{})
	assert.ErrorIs(t, err, ErrSessionBusy)
	_, err = env.svc.ReloadFrames(sess.ID)
	assert.ErrorIs(t, err, ErrSessionBusy)
	assert.ErrorIs(t, env.svc.CloseSession(sess.ID, false), ErrSessionBusy)

	// точечные правки разрешены
	_, err = env.svc.ToggleMark(sess.ID, 1)
	assert.NoError(t, err)

	state, err := env.svc.GetSession(sess.ID)
	require.NoError(t, err)
	assert.Equal(t, job.ID, state.RunningJob)

	close(env.backend.Release)
	done := env.waitJob(t, sess.ID, job.ID)
	assert.Equal(t, model.RunStatusSucceeded, done.Status)

	_, err = env.svc.AddObservation(sess.ID, "Pothole")
	assert.NoError(t, err)
}

func TestCancelJob(t *testing.T) {
	env := newTestEnv(t, 10)
	env.backend.BlockAt = 6
	env.backend.Release = make(chan struct{})
	sess := env.open(t)
	_, err := env.svc.AddObservation(sess.ID, "Crack")
	require.NoError(t, err)
	_, err = env.svc.SetPoints(sess.ID, 2, "Crack", SetPointsRequest{Positive: []annotation.Point{{X: 3, Y: 3}}})
	require.NoError(t, err)

	job, err := env.svc.StartPropagation(sess.ID, "Crack", PropagateRequest{})
	require.NoError(t, err)
	_, err = env.svc.CancelJob(sess.ID, job.ID)
	require.NoError(t, err)

	done := env.waitJob(t, sess.ID, job.ID)
	assert.Equal(t, model.RunStatusCanceled, done.Status)
	require.Len(t, done.Results, 1)
	assert.Equal(t, model.RunStatusCanceled, done.Results[0].Status)
	assert.Contains(t, env.backend.Methods(), "reset")

	_, err = env.svc.GetJob(sess.ID, "unknown")
	assert.ErrorIs(t, err, ErrJobNotFound)
}

func TestPropagationFailure(t *testing.T) {
	env := newTestEnv(t, 10)
	env.backend.FailAt = 4
	sess := env.open(t)
	_, err := env.svc.AddObservation(sess.ID, "Crack")
	require.NoError(t, err)
	_, err = env.svc.SetPoints(sess.ID, 1, "Crack", SetPointsRequest{Positive: []annotation.Point{{X: 3, Y: 3}}})
	require.NoError(t, err)

	job, err := env.svc.StartPropagation(sess.ID, "Crack", PropagateRequest{})
	require.NoError(t, err)
	done := env.waitJob(t, sess.ID, job.ID)

	assert.Equal(t, model.RunStatusFailed, done.Status)
	assert.Contains(t, done.Error, "scripted failure")
	require.Len(t, done.Results, 1)
	assert.Equal(t, 3, done.Results[0].FramesWritten)

	// кадры до сбоя сохранены
	frame, err := env.svc.Frame(sess.ID, 3)
	require.NoError(t, err)
	assert.NotEmpty(t, frame.Annotations["Crack"].MaskPolygon)
}

func TestReloadFramesRequiresSegmenterLoad(t *testing.T) {
	env := newTestEnv(t, 10)
	sess := env.open(t)
	_, err := env.svc.AddObservation(sess.ID, "Crack")
	require.NoError(t, err)
	_, err = env.svc.SetPoints(sess.ID, 1, "Crack", SetPointsRequest{Positive: []annotation.Point{{X: 3, Y: 3}}})
	require.NoError(t, err)

	_, err = env.svc.ReloadFrames(sess.ID)
	require.NoError(t, err)

	job, err := env.svc.StartPropagation(sess.ID, "Crack", PropagateRequest{})
	require.NoError(t, err)
	env.waitJob(t, sess.ID, job.ID)

	methods := env.backend.Methods()
	assert.Equal(t, []string{"load", "load", "reset"}, methods[:3])
}

func TestCloseSession(t *testing.T) {
	env := newTestEnv(t, 5)
	sess := env.open(t)

	require.NoError(t, env.svc.CloseSession(sess.ID, false))
	assert.Equal(t, int64(0), env.metrics.OpenSessions.Load())
	_, err := env.svc.GetSession(sess.ID)
	assert.ErrorIs(t, err, ErrSessionNotFound)

	record, err := env.repo.GetByID(sess.ID)
	require.NoError(t, err)
	assert.NotNil(t, record.ClosedAt)
	_, err = os.Stat(record.DocumentPath)
	assert.NoError(t, err)

	require.NoError(t, env.svc.CloseSession(sess.ID, true))
	_, err = env.repo.GetByID(sess.ID)
	assert.ErrorIs(t, err, repository.ErrNotFound)

	assert.ErrorIs(t, env.svc.CloseSession(sess.ID, false), ErrSessionNotFound)
}

func TestFindByFrameDirDoesNotWaitForSessionLock(t *testing.T) {
	env := newTestEnv(t, 5)
	sess := env.open(t)
	o, err := env.svc.get(sess.ID)
	require.NoError(t, err)

	o.mu.Lock()
	found := make(chan *openSession, 1)
	go func() { found <- env.svc.findByFrameDir("/elsewhere") }()
	select {
	case got := <-found:
		assert.Nil(t, got)
	case <-time.After(2 * time.Second):
		t.Fatal("findByFrameDir blocked on a session mutex")
	}
	o.mu.Unlock()

	assert.Same(t, o, env.svc.findByFrameDir(env.dir))
}

func TestConcurrentOpenAndClose(t *testing.T) {
	env := newTestEnv(t, 5)
	dirs := make([]string, 8)
	for i := range dirs {
		dirs[i] = writeFrames(t, 5)
	}

	var wg sync.WaitGroup
	errs := make(chan error, 2*len(dirs))
	for round := 0; round < 5; round++ {
		for _, dir := range dirs {
			wg.Add(1)
			go func(dir string) {
				defer wg.Done()
				resp, err := env.svc.OpenSession(context.Background(), OpenSessionRequest{FrameDir: dir})
				if err != nil {
					errs <- err
					return
				}
				if err := env.svc.CloseSession(resp.ID, false); err != nil && !errors.Is(err, ErrSessionNotFound) {
					errs <- err
				}
			}(dir)
		}
	}

	done := make(chan struct{})
	go func() {
		wg.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(10 * time.Second):
		t.Fatal("concurrent open and close did not finish")
	}
	close(errs)
	for err := range errs {
		assert.NoError(t, err)
	}
	assert.Equal(t, int64(0), env.metrics.OpenSessions.Load())
}

func TestShutdownCancelsJobs(t *testing.T) {
	env := newTestEnv(t, 10)
	env.backend.BlockAt = 5
	env.backend.Release = make(chan struct{})
	sess := env.open(t)
	_, err := env.svc.AddObservation(sess.ID, "Crack")
	require.NoError(t, err)
	_, err = env.svc.SetPoints(sess.ID, 1, "Crack", SetPointsRequest{Positive: []annotation.Point{{X: 3, Y: 3}}})
	require.NoError(t, err)
	_, err = env.svc.StartPropagation(sess.ID, "Crack", PropagateRequest{})
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, env.svc.Shutdown(ctx))
	assert.Equal(t, int64(0), env.metrics.OpenSessions.Load())
	assert.Equal(t, int64(0), env.metrics.RunningJobs.Load())
}
