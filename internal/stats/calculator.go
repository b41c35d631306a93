package stats

import (
	"math"

	"road-labeler-go/internal/annotation"
	"road-labeler-go/pkg/models"
)

// PolygonArea площадь многоугольника по формуле шнурования
func PolygonArea(poly annotation.Polygon) float64 {
	if len(poly) < 3 {
		return 0
	}
	sum := 0.0
	for i := range poly {
		j := (i + 1) % len(poly)
		sum += poly[i].X*poly[j].Y - poly[j].X*poly[i].Y
	}
	return math.Abs(sum) / 2
}

// MaskArea суммарная площадь полигонов маски
func MaskArea(polygons []annotation.Polygon) float64 {
	total := 0.0
	for _, poly := range polygons {
		total += PolygonArea(poly)
	}
	return total
}

// Calculator считает статистику разметки
type Calculator struct{}

// NewCalculator создает новый калькулятор
func NewCalculator() *Calculator {
	return &Calculator{}
}

// CalculateInterval считает статистику по загруженным кадрам интервала
func (c *Calculator) CalculateInterval(frames *annotation.FrameCollection, store *annotation.AnnotationStore, observation string, iv annotation.Interval) models.IntervalStats {
	result := models.IntervalStats{
		Observation: observation,
		Start:       iv.Start,
		End:         iv.End,
	}
	lo, hi, ok := frames.IndexRange(iv)
	if !ok {
		return result
	}

	totalArea := 0.0
	for i := lo; i <= hi; i++ {
		frame, _ := frames.At(i)
		result.FramesCount++
		info, ok := store.Get(frame.FrameNumber, observation)
		if !ok {
			continue
		}
		if info.HasPoints() {
			result.FramesWithPoints++
		}
		if info.HasMask() {
			result.FramesWithMask++
			totalArea += MaskArea(info.MaskPolygon)
		}
	}

	if result.FramesWithMask > 0 {
		coverage := float64(result.FramesWithMask) / float64(result.FramesCount) * 100
		result.CoveragePercentage = math.Round(coverage*10) / 10 // Округляем до 1 знака
		result.MeanMaskArea = math.Round(totalArea/float64(result.FramesWithMask)*100) / 100
		result.HasData = true
	}
	return result
}

// CalculateSession считает статистику по всем интервалам всех наблюдений сессии
func (c *Calculator) CalculateSession(s *annotation.Session) models.SessionStats {
	var out models.SessionStats
	for _, name := range s.Observations().Names() {
		explicit := len(s.Intervals().Intervals(name)) > 0
		for _, iv := range s.EffectiveIntervals(name) {
			item := c.CalculateInterval(s.Frames(), s.Store(), name, iv)
			item.Explicit = explicit
			out.Intervals = append(out.Intervals, item)
		}
	}
	if out.Intervals == nil {
		out.Intervals = []models.IntervalStats{}
	}
	out.OverallStats = c.CalculateOverallStats(out.Intervals, s.Frames().Len(), len(s.Store().MarkedFrames()), s.Observations().Len())
	return out
}

// CalculateOverallStats вычисляет общую статистику
func (c *Calculator) CalculateOverallStats(intervals []models.IntervalStats, totalFrames, markedFrames, observations int) models.OverallStats {
	var validCoverages []float64
	for _, iv := range intervals {
		if iv.HasData {
			validCoverages = append(validCoverages, iv.CoveragePercentage)
		}
	}

	var averageCoverage float64
	if len(validCoverages) > 0 {
		sum := 0.0
		for _, coverage := range validCoverages {
			sum += coverage
		}
		averageCoverage = math.Round((sum/float64(len(validCoverages)))*10) / 10
	}

	return models.OverallStats{
		TotalFrames:       totalFrames,
		MarkedFrames:      markedFrames,
		Observations:      observations,
		TotalIntervals:    len(intervals),
		IntervalsWithData: len(validCoverages),
		AverageCoverage:   averageCoverage,
	}
}
