// Package propagation распространяет маску наблюдения по интервалу кадров через сегментатор
package propagation

import (
	"context"
	"time"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"

	"road-labeler-go/internal/annotation"
	"road-labeler-go/internal/segmenter"
)

// ErrNoSeedPoints в интервале нет ни одного кадра с точками
var ErrNoSeedPoints = errors.New("no seed points in interval")

// Workspace состояние сессии, в которое пишется результат распространения
type Workspace interface {
	SeedPlan(observation string, iv annotation.Interval) (*annotation.SeedPlan, error)
	CommitPolygons(frameNumber int, observation string, polygons []annotation.Polygon) error
	Flush() error
}

// Progress прогресс распространения по интервалу
type Progress struct {
	Observation string
	Interval    annotation.Interval
	Done        int
	Total       int
}

// Result итог распространения по одному интервалу
type Result struct {
	Observation string
	Interval    annotation.Interval
	Seeds       int
	// Pivot номер затравочного кадра, ближайшего к началу интервала
	Pivot int
	// FramesWritten кадры, маску которых вернул сегментатор
	FramesWritten int
	// EmptyFilled кадры интервала без ответа сегментатора, записанные пустыми
	EmptyFilled int
	Duration    time.Duration
}

// Orchestrator ведет сегментатор через сброс, затравку и проходы вперед/назад
type Orchestrator struct {
	client     *segmenter.Client
	vectorizer Vectorizer
	logger     logrus.FieldLogger
	// OnProgress вызывается после каждого записанного кадра
	OnProgress func(Progress)
}

// NewOrchestrator создает оркестратор. vectorizer по умолчанию ContourVectorizer.
func NewOrchestrator(client *segmenter.Client, vectorizer Vectorizer, logger logrus.FieldLogger) *Orchestrator {
	if vectorizer == nil {
		vectorizer = ContourVectorizer{}
	}
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	return &Orchestrator{client: client, vectorizer: vectorizer, logger: logger}
}

// Run распространяет маску наблюдения по интервалу.
//
// При пустом наборе затравок сегментатор не вызывается. При ошибке посреди прохода
// уже записанные кадры остаются, дальше ничего не пишется, сегментатор сбрасывается.
// Отмена ctx проверяется между проходами и между кадрами.
func (o *Orchestrator) Run(ctx context.Context, ws Workspace, observation string, iv annotation.Interval) (*Result, error) {
	started := time.Now()
	plan, err := ws.SeedPlan(observation, iv)
	if err != nil {
		return nil, err
	}
	res := &Result{Observation: observation, Interval: iv, Seeds: len(plan.Seeds)}
	pivot, ok := plan.Pivot()
	if !ok {
		return res, errors.Wrapf(ErrNoSeedPoints, "%q %s", observation, iv)
	}
	res.Pivot = pivot.FrameNumber

	log := o.logger.WithFields(logrus.Fields{
		"observation": observation,
		"interval":    iv.String(),
		"seeds":       len(plan.Seeds),
	})

	if err := o.client.Reset(ctx); err != nil {
		return res, errors.Wrap(err, "reset segmenter")
	}
	defer func() {
		// Сброс и запись документа выполняются и после отмены
		if err := o.client.Reset(context.WithoutCancel(ctx)); err != nil {
			log.WithError(err).Warn("Не удалось сбросить сегментатор после распространения")
		}
		if err := ws.Flush(); err != nil {
			log.WithError(err).Warn("Не удалось сохранить документ после распространения")
		}
		res.Duration = time.Since(started)
	}()

	target := segmenter.Target{Observation: observation, Interval: iv}
	for _, seed := range plan.Seeds {
		if err := ctx.Err(); err != nil {
			return res, err
		}
		if _, err := o.client.AddPoint(ctx, target, seed.Index, plan.ObjectID, seed.Points, seed.Labels); err != nil {
			return res, errors.Wrapf(err, "seed frame %d", seed.FrameNumber)
		}
	}

	total := len(plan.FrameNumbers)
	visited := make(map[int]struct{}, total)
	commit := func(step segmenter.MaskFrame) error {
		if err := ctx.Err(); err != nil {
			return err
		}
		frameNumber, ok := plan.FrameNumberAt(step.FrameIndex)
		if !ok {
			log.WithField("frame_index", step.FrameIndex).Debug("Кадр вне интервала пропущен")
			return nil
		}
		if err := ws.CommitPolygons(frameNumber, observation, o.vectorizer.Polygons(step.Mask)); err != nil {
			return errors.Wrapf(err, "commit frame %d", frameNumber)
		}
		if _, seen := visited[frameNumber]; !seen {
			visited[frameNumber] = struct{}{}
			res.FramesWritten++
			if o.OnProgress != nil {
				o.OnProgress(Progress{Observation: observation, Interval: iv, Done: res.FramesWritten, Total: total})
			}
		}
		return nil
	}

	log.WithField("pivot", pivot.FrameNumber).Info("Распространение маски вперед")
	if err := o.client.Propagate(ctx, pivot.Index, plan.EndIndex-pivot.Index, false, commit); err != nil {
		return res, errors.Wrap(err, "forward pass")
	}
	if err := ctx.Err(); err != nil {
		return res, err
	}
	if steps := pivot.Index - plan.StartIndex; steps > 0 {
		log.WithField("pivot", pivot.FrameNumber).Info("Распространение маски назад")
		if err := o.client.Propagate(ctx, pivot.Index, steps, true, commit); err != nil {
			return res, errors.Wrap(err, "backward pass")
		}
	}

	for _, frameNumber := range plan.FrameNumbers {
		if _, seen := visited[frameNumber]; seen {
			continue
		}
		if err := ws.CommitPolygons(frameNumber, observation, nil); err != nil {
			return res, errors.Wrapf(err, "commit frame %d", frameNumber)
		}
		res.EmptyFilled++
	}

	log.WithFields(logrus.Fields{
		"frames": res.FramesWritten,
		"empty":  res.EmptyFilled,
	}).Info("Распространение завершено")
	return res, nil
}

// RunObservation распространяет маску по всем интервалам наблюдения: явным или,
// если их нет, по всему диапазону кадров. Интервалы без затравок пропускаются.
func (o *Orchestrator) RunObservation(ctx context.Context, ws Workspace, observation string, intervals []annotation.Interval) ([]*Result, error) {
	var results []*Result
	ran := false
	for _, iv := range intervals {
		res, err := o.Run(ctx, ws, observation, iv)
		if errors.Is(err, ErrNoSeedPoints) {
			o.logger.WithFields(logrus.Fields{
				"observation": observation,
				"interval":    iv.String(),
			}).Warn("В интервале нет точек, распространение пропущено")
			continue
		}
		if res != nil {
			results = append(results, res)
		}
		if err != nil {
			return results, err
		}
		ran = true
	}
	if !ran {
		return results, errors.Wrapf(ErrNoSeedPoints, "%q", observation)
	}
	return results, nil
}
