package annotation

import (
	"encoding/json"
	"fmt"
	"slices"

	"github.com/pkg/errors"
)

// Point точка в координатах кадра (пиксели)
type Point struct {
	X float64
	Y float64
}

// MarshalJSON сериализует точку как пару [x, y]
func (p Point) MarshalJSON() ([]byte, error) {
	return json.Marshal([2]float64{p.X, p.Y})
}

// UnmarshalJSON разбирает пару [x, y]
func (p *Point) UnmarshalJSON(data []byte) error {
	var xy []float64
	if err := json.Unmarshal(data, &xy); err != nil {
		return err
	}
	if len(xy) != 2 {
		return fmt.Errorf("point must have 2 coordinates, got %d", len(xy))
	}
	p.X, p.Y = xy[0], xy[1]
	return nil
}

// Polygon простой многоугольник маски
type Polygon []Point

// Метки точек, как их понимает сегментатор
const (
	LabelNegative = 0
	LabelPositive = 1
)

// DamageInfo аннотация одного наблюдения на одном кадре.
// Флаги начала/конца интервала здесь не хранятся: они вычисляются из IntervalTracker.
type DamageInfo struct {
	PositivePoints []Point
	NegativePoints []Point
	MaskPolygon    []Polygon
	IsShown        bool
	IsSelected     bool
}

// NewDamageInfo создает пустую аннотацию
func NewDamageInfo() *DamageInfo {
	return &DamageInfo{IsShown: true}
}

// HasPoints есть ли хотя бы одна точка
func (d *DamageInfo) HasPoints() bool {
	return len(d.PositivePoints) > 0 || len(d.NegativePoints) > 0
}

// HasMask есть ли полигоны маски
func (d *DamageInfo) HasMask() bool {
	return len(d.MaskPolygon) > 0
}

// IsEmpty нет ни точек, ни маски
func (d *DamageInfo) IsEmpty() bool {
	return !d.HasPoints() && !d.HasMask()
}

// Reset очищает точки, маску и выделение
func (d *DamageInfo) Reset() {
	d.PositivePoints = nil
	d.NegativePoints = nil
	d.MaskPolygon = nil
	d.IsSelected = false
}

// PromptPoints точки и метки в порядке: сначала позитивные, затем негативные
func (d *DamageInfo) PromptPoints() ([]Point, []int) {
	points := make([]Point, 0, len(d.PositivePoints)+len(d.NegativePoints))
	labels := make([]int, 0, cap(points))
	for _, p := range d.PositivePoints {
		points = append(points, p)
		labels = append(labels, LabelPositive)
	}
	for _, p := range d.NegativePoints {
		points = append(points, p)
		labels = append(labels, LabelNegative)
	}
	return points, labels
}

// Clone глубокая копия
func (d *DamageInfo) Clone() *DamageInfo {
	return &DamageInfo{
		PositivePoints: clonePoints(d.PositivePoints),
		NegativePoints: clonePoints(d.NegativePoints),
		MaskPolygon:    clonePolygons(d.MaskPolygon),
		IsShown:        d.IsShown,
		IsSelected:     d.IsSelected,
	}
}

// SameAnnotation сравнивает сохраняемые данные (точки и маску), без флагов отображения
func (d *DamageInfo) SameAnnotation(other *DamageInfo) bool {
	if !slices.Equal(d.PositivePoints, other.PositivePoints) || !slices.Equal(d.NegativePoints, other.NegativePoints) {
		return false
	}
	return slices.EqualFunc(d.MaskPolygon, other.MaskPolygon, func(a, b Polygon) bool {
		return slices.Equal(a, b)
	})
}

// ValidatePolygons проверяет, что у каждого полигона не меньше 3 вершин
func ValidatePolygons(polygons []Polygon) error {
	for i, poly := range polygons {
		if len(poly) < 3 {
			return errors.Wrapf(ErrDegeneratePolygon, "polygon %d has %d vertices", i, len(poly))
		}
	}
	return nil
}

// CleanPolygons отбрасывает вырожденные полигоны
func CleanPolygons(polygons []Polygon) []Polygon {
	var out []Polygon
	for _, poly := range polygons {
		if len(poly) >= 3 {
			out = append(out, slices.Clone(poly))
		}
	}
	return out
}

func clonePoints(points []Point) []Point {
	if len(points) == 0 {
		return nil
	}
	return slices.Clone(points)
}

func clonePolygons(polygons []Polygon) []Polygon {
	if len(polygons) == 0 {
		return nil
	}
	out := make([]Polygon, len(polygons))
	for i, poly := range polygons {
		out[i] = slices.Clone(poly)
	}
	return out
}
