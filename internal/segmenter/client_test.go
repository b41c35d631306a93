package segmenter_test

import (
	"context"
	"errors"
	"io"
	"testing"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"road-labeler-go/internal/annotation"
	"road-labeler-go/internal/segmenter"
	"road-labeler-go/internal/segmenter/segmentertest"
)

func quietLogger() *logrus.Logger {
	logger := logrus.New()
	logger.SetOutput(io.Discard)
	return logger
}

var crack = segmenter.Target{Observation: "Crack", Interval: annotation.Interval{Start: 0, End: 9}}

func onePoint() ([]annotation.Point, []int) {
	return []annotation.Point{{X: 1, Y: 2}}, []int{annotation.LabelPositive}
}

func TestClientRequiresLoad(t *testing.T) {
	c := segmenter.NewClient(segmentertest.New(10), quietLogger())
	assert.Equal(t, segmenter.StateUnloaded, c.State())

	pts, labels := onePoint()
	_, err := c.AddPoint(context.Background(), crack, 0, 1, pts, labels)
	assert.ErrorIs(t, err, segmenter.ErrNotLoaded)
	assert.ErrorIs(t, c.Reset(context.Background()), segmenter.ErrNotLoaded)
	err = c.Propagate(context.Background(), 0, 1, false, func(segmenter.MaskFrame) error { return nil })
	assert.ErrorIs(t, err, segmenter.ErrNotLoaded)
}

func TestClientSeedingDiscipline(t *testing.T) {
	ctx := context.Background()
	backend := segmentertest.New(10)
	c := segmenter.NewClient(backend, quietLogger())
	require.NoError(t, c.Load(ctx, "/frames/clip"))
	assert.Equal(t, "/frames/clip", c.FrameDir())

	err := c.Propagate(ctx, 0, 3, false, func(segmenter.MaskFrame) error { return nil })
	assert.ErrorIs(t, err, segmenter.ErrNotSeeded)

	pts, labels := onePoint()
	mask, err := c.AddPoint(ctx, crack, 2, 1, pts, labels)
	require.NoError(t, err)
	assert.False(t, mask.Empty())
	_, err = c.AddPoint(ctx, crack, 4, 1, pts, labels)
	require.NoError(t, err)
	assert.Equal(t, segmenter.StateSeeded, c.State())

	other := segmenter.Target{Observation: "Pothole", Interval: crack.Interval}
	_, err = c.AddPoint(ctx, other, 4, 2, pts, labels)
	assert.ErrorIs(t, err, segmenter.ErrResetRequired)

	_, err = c.AddPoint(ctx, crack, 4, 1, pts, nil)
	assert.Error(t, err)

	require.NoError(t, c.Reset(ctx))
	assert.Equal(t, segmenter.StateLoaded, c.State())
	_, err = c.AddPoint(ctx, other, 4, 2, pts, labels)
	require.NoError(t, err)
}

func TestClientPropagateVisitsStream(t *testing.T) {
	ctx := context.Background()
	backend := segmentertest.New(10)
	c := segmenter.NewClient(backend, quietLogger())
	require.NoError(t, c.Load(ctx, "clip"))
	pts, labels := onePoint()
	_, err := c.AddPoint(ctx, crack, 5, 1, pts, labels)
	require.NoError(t, err)

	var forward []int
	require.NoError(t, c.Propagate(ctx, 5, 100, false, func(f segmenter.MaskFrame) error {
		forward = append(forward, f.FrameIndex)
		return nil
	}))
	assert.Equal(t, []int{5, 6, 7, 8, 9}, forward)

	var backward []int
	require.NoError(t, c.Propagate(ctx, 5, 2, true, func(f segmenter.MaskFrame) error {
		backward = append(backward, f.FrameIndex)
		return nil
	}))
	assert.Equal(t, []int{5, 4, 3}, backward)
	assert.Equal(t, segmenter.StateSeeded, c.State())
}

func TestClientFailureRequiresReset(t *testing.T) {
	ctx := context.Background()
	backend := segmentertest.New(10)
	backend.FailAt = 3
	c := segmenter.NewClient(backend, quietLogger())
	require.NoError(t, c.Load(ctx, "clip"))
	pts, labels := onePoint()
	_, err := c.AddPoint(ctx, crack, 0, 1, pts, labels)
	require.NoError(t, err)

	var seen []int
	err = c.Propagate(ctx, 0, 9, false, func(f segmenter.MaskFrame) error {
		seen = append(seen, f.FrameIndex)
		return nil
	})
	assert.ErrorIs(t, err, segmenter.ErrOracle)
	assert.Equal(t, []int{0, 1, 2}, seen)

	_, err = c.AddPoint(ctx, crack, 0, 1, pts, labels)
	assert.ErrorIs(t, err, segmenter.ErrResetRequired)
	err = c.Propagate(ctx, 0, 1, false, func(segmenter.MaskFrame) error { return nil })
	assert.ErrorIs(t, err, segmenter.ErrResetRequired)

	require.NoError(t, c.Reset(ctx))
	_, err = c.AddPoint(ctx, crack, 0, 1, pts, labels)
	assert.NoError(t, err)
}

func TestClientCallbackErrorStopsStream(t *testing.T) {
	ctx := context.Background()
	c := segmenter.NewClient(segmentertest.New(10), quietLogger())
	require.NoError(t, c.Load(ctx, "clip"))
	pts, labels := onePoint()
	_, err := c.AddPoint(ctx, crack, 0, 1, pts, labels)
	require.NoError(t, err)

	stop := errors.New("stop")
	calls := 0
	err = c.Propagate(ctx, 0, 9, false, func(segmenter.MaskFrame) error {
		calls++
		if calls == 2 {
			return stop
		}
		return nil
	})
	assert.ErrorIs(t, err, stop)
	assert.Equal(t, 2, calls)
	assert.Equal(t, segmenter.StatePropagating, c.State())
}

func TestClientRejectsConcurrentUse(t *testing.T) {
	ctx := context.Background()
	backend := segmentertest.New(10)
	backend.BlockAt = 2
	backend.Release = make(chan struct{})
	c := segmenter.NewClient(backend, quietLogger())
	require.NoError(t, c.Load(ctx, "clip"))
	pts, labels := onePoint()
	_, err := c.AddPoint(ctx, crack, 0, 1, pts, labels)
	require.NoError(t, err)

	reached := make(chan struct{})
	done := make(chan error, 1)
	go func() {
		done <- c.Propagate(ctx, 0, 5, false, func(f segmenter.MaskFrame) error {
			if f.FrameIndex == 1 {
				close(reached)
			}
			return nil
		})
	}()
	<-reached

	_, err = c.AddPoint(ctx, crack, 0, 1, pts, labels)
	assert.ErrorIs(t, err, segmenter.ErrSegmenterBusy)
	assert.ErrorIs(t, c.Reset(ctx), segmenter.ErrSegmenterBusy)
	assert.ErrorIs(t, c.Load(ctx, "other"), segmenter.ErrSegmenterBusy)

	close(backend.Release)
	require.NoError(t, <-done)
	assert.Equal(t, "clip", backend.Loaded())
}

func TestClientStateDuringBlockedCalls(t *testing.T) {
	ctx := context.Background()
	backend := segmentertest.New(10)
	c := segmenter.NewClient(backend, quietLogger())
	require.NoError(t, c.Load(ctx, "clip"))

	backend.LoadStarted = make(chan struct{}, 1)
	backend.LoadRelease = make(chan struct{})
	done := make(chan error, 1)
	go func() { done <- c.Load(ctx, "other") }()
	<-backend.LoadStarted

	assert.Equal(t, segmenter.StateUnloaded, c.State())
	assert.Equal(t, "", c.FrameDir())
	close(backend.LoadRelease)
	require.NoError(t, <-done)
	assert.Equal(t, segmenter.StateLoaded, c.State())
	assert.Equal(t, "other", c.FrameDir())

	backend.BlockAt = 1
	backend.Release = make(chan struct{})
	pts, labels := onePoint()
	_, err := c.AddPoint(ctx, crack, 0, 1, pts, labels)
	require.NoError(t, err)
	reached := make(chan struct{})
	go func() {
		done <- c.Propagate(ctx, 0, 3, false, func(f segmenter.MaskFrame) error {
			if f.FrameIndex == 0 {
				close(reached)
			}
			return nil
		})
	}()
	<-reached
	assert.Equal(t, segmenter.StatePropagating, c.State())
	close(backend.Release)
	require.NoError(t, <-done)
	assert.Equal(t, segmenter.StateSeeded, c.State())
}
