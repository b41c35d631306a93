package annotation

import (
	"fmt"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestOpenCreatesDocument(t *testing.T) {
	s := newTestSession(t, frameRange(0, 4)...)
	_, err := os.Stat(s.DocumentPath())
	require.NoError(t, err)

	doc, err := ReadDocument(s.DocumentPath())
	require.NoError(t, err)
	assert.Len(t, doc.Frames, 5)
	assert.Equal(t, "00003.jpg", doc.Frames[3].FileName)
	assert.Equal(t, SchemaVersion, doc.Info.SchemaVersion)
}

func TestAddObservationCreatesPlaceholders(t *testing.T) {
	s := newTestSession(t, frameRange(0, 9)...)
	obs, err := s.AddObservation("Crack")
	require.NoError(t, err)
	assert.Equal(t, "Crack", obs.Name)
	assert.Equal(t, Palette[0], obs.DisplayColor)

	for n := 0; n <= 9; n++ {
		info, ok := s.Damage(n, "Crack")
		require.True(t, ok, "frame %d", n)
		assert.True(t, info.IsEmpty())
	}

	doc, err := ReadDocument(s.DocumentPath())
	require.NoError(t, err)
	assert.Contains(t, doc.Frames[7].Observations, "Crack")
	assert.Equal(t, []string{"Crack"}, doc.Info.Observations)
}

func TestAddDuplicateObservation(t *testing.T) {
	s := newTestSession(t, 0, 1)
	_, err := s.AddObservation("Crack")
	require.NoError(t, err)
	second, err := s.AddObservation("Crack")
	require.NoError(t, err)
	assert.Equal(t, "Crack_2", second.Name)
	third, err := s.AddObservation("Crack")
	require.NoError(t, err)
	assert.Equal(t, "Crack_3", third.Name)
	assert.Equal(t, []string{"Crack", "Crack_2", "Crack_3"}, s.Observations().Names())

	registry := NewObservationRegistry(DuplicateReject)
	_, err = registry.Add("Crack")
	require.NoError(t, err)
	_, err = registry.Add("Crack")
	assert.ErrorIs(t, err, ErrDuplicateObservation)
	_, err = registry.Add("  ")
	assert.ErrorIs(t, err, ErrInvalidObservationName)
}

func TestRemoveObservationsCascades(t *testing.T) {
	s := newTestSession(t, frameRange(0, 20)...)
	_, err := s.AddObservation("Crack")
	require.NoError(t, err)
	_, err = s.AddObservation("Pothole")
	require.NoError(t, err)
	require.True(t, s.SetPoints(5, "Crack", []Point{{10, 10}}, nil))
	s.SplitClick("Crack", 0)
	_, _, err = s.SplitClick("Crack", 10)
	require.NoError(t, err)

	removed, err := s.RemoveObservations("Crack", "Missing")
	require.NoError(t, err)
	assert.Equal(t, []string{"Crack"}, removed)
	assert.Equal(t, []string{"Pothole"}, s.Observations().Names())
	assert.Equal(t, Palette[0], s.Observations().items[0].DisplayColor)
	_, ok := s.Damage(5, "Crack")
	assert.False(t, ok)
	assert.Empty(t, s.Intervals().Intervals("Crack"))

	removed, err = s.RemoveObservations("Crack")
	require.NoError(t, err)
	assert.Empty(t, removed)
}

func TestSelectObservation(t *testing.T) {
	s := newTestSession(t, 0, 1)
	s.AddObservation("Crack")
	s.AddObservation("Pothole")
	info, _ := s.Store().Get(1, "Crack")
	info.IsSelected = true

	assert.True(t, s.SelectObservation("Pothole"))
	selected, ok := s.Observations().Selected()
	require.True(t, ok)
	assert.Equal(t, "Pothole", selected.Name)
	assert.False(t, info.IsSelected)

	assert.True(t, s.SelectObservation("Crack"))
	crack, _ := s.Observations().Get("Crack")
	pothole, _ := s.Observations().Get("Pothole")
	assert.True(t, crack.IsSelected)
	assert.False(t, pothole.IsSelected)

	assert.False(t, s.SelectObservation("Nope"))
	_, ok = s.Observations().Selected()
	assert.False(t, ok)
}

func TestSetVisibleDoesNotTouchSelection(t *testing.T) {
	s := newTestSession(t, 0, 1)
	s.AddObservation("Crack")
	require.True(t, s.SelectObservation("Crack"))

	assert.True(t, s.SetVisible("Crack", false))
	crack, _ := s.Observations().Get("Crack")
	assert.False(t, crack.IsVisible)
	assert.True(t, crack.IsSelected)
	assert.False(t, s.SetVisible("Nope", true))
}

func TestSelectAnnotationAndShown(t *testing.T) {
	s := newTestSession(t, 0, 1, 2)
	s.AddObservation("Crack")
	s.AddObservation("Pothole")

	require.True(t, s.SelectAnnotation(1, "Crack"))
	crack, _ := s.Store().Get(1, "Crack")
	assert.True(t, crack.IsSelected)
	selected, ok := s.Observations().Selected()
	require.True(t, ok)
	assert.Equal(t, "Crack", selected.Name)

	require.True(t, s.SelectAnnotation(2, "Pothole"))
	assert.False(t, crack.IsSelected)
	pothole, _ := s.Store().Get(2, "Pothole")
	assert.True(t, pothole.IsSelected)

	assert.False(t, s.SelectAnnotation(7, "Crack"))
	assert.False(t, s.SelectAnnotation(1, "Nope"))
	assert.True(t, pothole.IsSelected)

	assert.True(t, crack.IsShown)
	require.True(t, s.SetShown(1, "Crack", false))
	assert.False(t, crack.IsShown)
	other, _ := s.Store().Get(2, "Crack")
	assert.True(t, other.IsShown)
	assert.False(t, s.SetShown(7, "Crack", false))
}

func TestSetPointsAndPolygonReplace(t *testing.T) {
	s := newTestSession(t, 0, 1, 2)
	s.AddObservation("Crack")

	require.True(t, s.SetPoints(1, "Crack", []Point{{1, 1}, {2, 2}}, []Point{{3, 3}}))
	require.True(t, s.SetPoints(1, "Crack", []Point{{9, 9}}, nil))
	info, _ := s.Damage(1, "Crack")
	assert.Equal(t, []Point{{9, 9}}, info.PositivePoints)
	assert.Nil(t, info.NegativePoints)

	square := Polygon{{0, 0}, {4, 0}, {4, 4}, {0, 4}}
	ok, err := s.SetPolygon(1, "Crack", []Polygon{square})
	require.NoError(t, err)
	require.True(t, ok)
	info, _ = s.Damage(1, "Crack")
	assert.Equal(t, []Polygon{square}, info.MaskPolygon)
	assert.True(t, info.HasPoints())

	_, err = s.SetPolygon(1, "Crack", []Polygon{{{0, 0}, {1, 1}}})
	assert.ErrorIs(t, err, ErrDegeneratePolygon)

	assert.False(t, s.SetPoints(99, "Crack", []Point{{1, 1}}, nil))
	assert.False(t, s.SetPoints(1, "Missing", []Point{{1, 1}}, nil))
	assert.True(t, s.ClearPoints(1, "Crack"))
	info, _ = s.Damage(1, "Crack")
	assert.False(t, info.HasPoints())
}

func TestSetPointsCancelsPendingSplit(t *testing.T) {
	s := newTestSession(t, frameRange(0, 5)...)
	s.AddObservation("Crack")
	outcome, _, err := s.SplitClick("Crack", 1)
	require.NoError(t, err)
	require.Equal(t, SplitStarted, outcome)

	s.SetPoints(2, "Crack", []Point{{1, 1}}, nil)
	outcome, _, err = s.SplitClick("Crack", 4)
	require.NoError(t, err)
	assert.Equal(t, SplitStarted, outcome)
	assert.Empty(t, s.Intervals().Intervals("Crack"))
}

func TestToggleMarked(t *testing.T) {
	s := newTestSession(t, 0, 1, 2)
	marked, ok := s.ToggleMarked(1)
	assert.True(t, ok)
	assert.True(t, marked)
	f, _ := s.Frames().ByNumber(1)
	assert.True(t, f.IsMarked)

	marked, ok = s.ToggleMarked(1)
	assert.True(t, ok)
	assert.False(t, marked)
	assert.False(t, f.IsMarked)

	_, ok = s.ToggleMarked(42)
	assert.False(t, ok)
}

func TestScenarioDeleteIntervalResetsAnnotations(t *testing.T) {
	s := newTestSession(t, frameRange(0, 30)...)
	s.AddObservation("Crack")
	s.SplitClick("Crack", 0)
	s.SplitClick("Crack", 10)
	s.SplitClick("Crack", 15)
	s.SplitClick("Crack", 25)
	require.Equal(t, []Interval{{0, 10}, {15, 25}}, s.Intervals().Intervals("Crack"))

	square := Polygon{{0, 0}, {4, 0}, {4, 4}}
	for n := 0; n <= 25; n++ {
		s.SetPoints(n, "Crack", []Point{{1, 1}}, nil)
		_, err := s.SetPolygon(n, "Crack", []Polygon{square})
		require.NoError(t, err)
	}

	iv, ok, err := s.DeleteInterval("Crack", 4)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, Interval{0, 10}, iv)
	assert.Equal(t, []Interval{{15, 25}}, s.Intervals().Intervals("Crack"))

	for n := 0; n <= 10; n++ {
		info, _ := s.Damage(n, "Crack")
		assert.True(t, info.IsEmpty(), "frame %d", n)
		isStart, isEnd := s.IntervalEdges(n, "Crack")
		assert.False(t, isStart || isEnd)
	}
	info, _ := s.Damage(15, "Crack")
	assert.False(t, info.IsEmpty())

	_, ok, err = s.DeleteInterval("Crack", 12)
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestReloadFramesKeepsAnnotationsAndMarks(t *testing.T) {
	root := t.TempDir()
	dir := writeFrames(t, root, frameRange(0, 10)...)
	s, err := Open(dir, Options{Logger: quietLogger()})
	require.NoError(t, err)
	s.AddObservation("Crack")
	s.SetPoints(2, "Crack", []Point{{5, 5}}, nil)
	s.ToggleMarked(2)
	s.SplitClick("Crack", 0)
	s.SplitClick("Crack", 20)
	require.Empty(t, s.Intervals().Intervals("Crack"))
	s.SplitClick("Crack", 0)
	s.SplitClick("Crack", 10)

	// Кадры 0..3 пропали, добавились 11..15
	for n := 0; n <= 3; n++ {
		require.NoError(t, os.Remove(s.Frames().Frames()[n].ImagePath))
	}
	writeFrames(t, root, frameRange(11, 15)...)
	require.NoError(t, s.Rescan())

	assert.Equal(t, frameRange(4, 15), s.Frames().Numbers())
	info, ok := s.Damage(2, "Crack")
	require.True(t, ok)
	assert.Equal(t, []Point{{5, 5}}, info.PositivePoints)
	assert.Equal(t, []int{2}, s.Store().MarkedFrames())
	assert.Equal(t, []Interval{{4, 10}}, s.Intervals().Intervals("Crack"))
	isStart, _ := s.IntervalEdges(4, "Crack")
	assert.True(t, isStart)

	_, ok = s.Damage(13, "Crack")
	assert.True(t, ok)

	// Кадр 2 вернулся: отметка восстановлена
	writeFrames(t, root, 2)
	require.NoError(t, s.Rescan())
	f, ok := s.Frames().ByNumber(2)
	require.True(t, ok)
	assert.True(t, f.IsMarked)
}

func TestOpenRenormalizesStoredIntervals(t *testing.T) {
	root := t.TempDir()
	dir := writeFrames(t, root, frameRange(0, 20)...)
	s, err := Open(dir, Options{Logger: quietLogger()})
	require.NoError(t, err)
	s.AddObservation("Crack")
	s.SplitClick("Crack", 0)
	s.SplitClick("Crack", 20)
	require.Equal(t, []Interval{{0, 20}}, s.Intervals().Intervals("Crack"))
	require.NoError(t, s.Close())

	// Каталог извлечен заново: кадры 5..30
	for n := 0; n < 5; n++ {
		require.NoError(t, os.Remove(filepath.Join(dir, fmt.Sprintf("%05d.jpg", n))))
	}
	writeFrames(t, root, frameRange(21, 30)...)

	s, err = Open(dir, Options{Logger: quietLogger()})
	require.NoError(t, err)
	assert.Equal(t, []Interval{{5, 20}}, s.Intervals().Intervals("Crack"))
	isStart, _ := s.IntervalEdges(5, "Crack")
	assert.True(t, isStart)

	doc, err := ReadDocument(s.DocumentPath())
	require.NoError(t, err)
	saved := NewSession(s.Frames(), Options{Logger: quietLogger()})
	require.NoError(t, saved.LoadDocument(doc))
	assert.Equal(t, []Interval{{5, 20}}, saved.Intervals().Intervals("Crack"))
}

func TestOpenCorruptDocument(t *testing.T) {
	root := t.TempDir()
	dir := writeFrames(t, root, 0, 1, 2)
	path := DocumentPath(dir)
	require.NoError(t, os.WriteFile(path, []byte(`{"0": {"File Name": "00000.jpg", "Observ`), 0644))

	_, err := Open(dir, Options{Logger: quietLogger()})
	assert.ErrorIs(t, err, ErrCorruptDocument)

	s, err := Open(dir, Options{Logger: quietLogger(), OnCorrupt: CorruptSkip})
	require.NoError(t, err)
	assert.Equal(t, 0, s.Observations().Len())
	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(data), "Observ")

	s, err = Open(dir, Options{Logger: quietLogger(), OnCorrupt: CorruptDiscard})
	require.NoError(t, err)
	_, err = ReadDocument(path)
	require.NoError(t, err)
	_, err = os.Stat(path + ".corrupt")
	assert.NoError(t, err)
	assert.Equal(t, 3, s.Frames().Len())
}

func TestOpenRejectsOverlappingIntervals(t *testing.T) {
	root := t.TempDir()
	dir := writeFrames(t, root, 0, 1, 2)
	doc := `{"Info": {"Instance Intervals": {"Crack": [[0, 2], [1, 1]]}}}`
	require.NoError(t, os.WriteFile(DocumentPath(dir), []byte(doc), 0644))

	_, err := Open(dir, Options{Logger: quietLogger()})
	assert.ErrorIs(t, err, ErrCorruptDocument)
}
