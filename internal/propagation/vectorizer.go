package propagation

import (
	"road-labeler-go/internal/annotation"
	"road-labeler-go/internal/segmenter"
	"road-labeler-go/internal/stats"
)

// Vectorizer превращает маску сегментатора в набор полигонов
type Vectorizer interface {
	Polygons(mask segmenter.Mask) []annotation.Polygon
}

// ContourVectorizer берет контуры, которые посчитал сервис сегментации.
// Вершины прижимаются к границам кадра, вырожденные и слишком мелкие контуры отбрасываются.
type ContourVectorizer struct {
	// MinArea минимальная площадь контура в пикселях
	MinArea float64
}

func (v ContourVectorizer) Polygons(mask segmenter.Mask) []annotation.Polygon {
	var out []annotation.Polygon
	for _, poly := range annotation.CleanPolygons(mask.Contours) {
		if mask.Width > 0 && mask.Height > 0 {
			for i := range poly {
				poly[i].X = clamp(poly[i].X, 0, float64(mask.Width-1))
				poly[i].Y = clamp(poly[i].Y, 0, float64(mask.Height-1))
			}
		}
		if v.MinArea > 0 && stats.PolygonArea(poly) < v.MinArea {
			continue
		}
		out = append(out, poly)
	}
	return out
}

func clamp(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
