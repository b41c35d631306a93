package annotation

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSeedPlan(t *testing.T) {
	s := newTestSession(t, 0, 2, 4, 6, 8, 10)
	s.AddObservation("Pothole")
	s.AddObservation("Crack")
	s.SetPoints(6, "Crack", nil, []Point{{50, 50}})
	s.SetPoints(4, "Crack", []Point{{10, 10}}, []Point{{50, 50}})
	s.SetPoints(10, "Crack", []Point{{1, 1}}, nil)
	s.SetPoints(4, "Pothole", []Point{{7, 7}}, nil)

	plan, err := s.SeedPlan("Crack", Interval{Start: 1, End: 8})
	require.NoError(t, err)
	assert.Equal(t, 2, plan.ObjectID)
	assert.Equal(t, 1, plan.StartIndex)
	assert.Equal(t, 4, plan.EndIndex)
	assert.Equal(t, []int{2, 4, 6, 8}, plan.FrameNumbers)
	require.Len(t, plan.Seeds, 2)

	pivot, ok := plan.Pivot()
	require.True(t, ok)
	assert.Equal(t, 4, pivot.FrameNumber)
	assert.Equal(t, 2, pivot.Index)
	assert.Equal(t, []Point{{10, 10}, {50, 50}}, pivot.Points)
	assert.Equal(t, []int{LabelPositive, LabelNegative}, pivot.Labels)
	assert.Equal(t, 6, plan.Seeds[1].FrameNumber)

	n, ok := plan.FrameNumberAt(3)
	require.True(t, ok)
	assert.Equal(t, 6, n)
	_, ok = plan.FrameNumberAt(5)
	assert.False(t, ok)
}

func TestSeedPlanErrors(t *testing.T) {
	s := newTestSession(t, 0, 1, 2)
	s.AddObservation("Crack")

	_, err := s.SeedPlan("Missing", Interval{0, 2})
	assert.ErrorIs(t, err, ErrUnknownObservation)
	_, err = s.SeedPlan("Crack", Interval{5, 9})
	assert.ErrorIs(t, err, ErrEmptyInterval)

	plan, err := s.SeedPlan("Crack", Interval{0, 2})
	require.NoError(t, err)
	assert.Empty(t, plan.Seeds)
}

func TestSeedSetMonotonic(t *testing.T) {
	s := newTestSession(t, frameRange(0, 20)...)
	s.AddObservation("Crack")
	iv := Interval{0, 20}
	s.SetPoints(5, "Crack", []Point{{1, 1}}, nil)

	seedFrames := func() []int {
		plan, err := s.SeedPlan("Crack", iv)
		require.NoError(t, err)
		var out []int
		for _, seed := range plan.Seeds {
			out = append(out, seed.FrameNumber)
		}
		return out
	}
	require.Equal(t, []int{5}, seedFrames())

	info, _ := s.Damage(5, "Crack")
	s.SetPoints(5, "Crack", append(info.PositivePoints, Point{2, 2}), []Point{{3, 3}})
	s.SetPoints(12, "Crack", []Point{{4, 4}}, nil)
	_, err := s.SetPolygon(5, "Crack", nil)
	require.NoError(t, err)
	assert.Equal(t, []int{5, 12}, seedFrames())

	s.ClearPoints(5, "Crack")
	assert.Equal(t, []int{12}, seedFrames())
}
