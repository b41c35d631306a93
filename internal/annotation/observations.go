package annotation

import (
	"image/color"
	"strconv"
	"strings"

	"github.com/pkg/errors"
)

// DuplicatePolicy что делать при добавлении уже существующего имени
type DuplicatePolicy int

const (
	// DuplicateSuffix добавляет числовой суффикс: Crack, Crack_2, Crack_3...
	DuplicateSuffix DuplicatePolicy = iota
	// DuplicateReject возвращает ErrDuplicateObservation
	DuplicateReject
)

// ParseDuplicatePolicy разбирает значение из конфигурации
func ParseDuplicatePolicy(s string) (DuplicatePolicy, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "suffix":
		return DuplicateSuffix, nil
	case "reject":
		return DuplicateReject, nil
	}
	return DuplicateSuffix, errors.Errorf("unknown duplicate policy %q", s)
}

func (p DuplicatePolicy) String() string {
	if p == DuplicateReject {
		return "reject"
	}
	return "suffix"
}

// Palette цвета наблюдений, выбираются по индексу по модулю длины
var Palette = []color.RGBA{
	{R: 230, G: 25, B: 75, A: 255},
	{R: 60, G: 180, B: 75, A: 255},
	{R: 255, G: 225, B: 25, A: 255},
	{R: 0, G: 130, B: 200, A: 255},
	{R: 245, G: 130, B: 48, A: 255},
	{R: 145, G: 30, B: 180, A: 255},
	{R: 70, G: 240, B: 240, A: 255},
	{R: 240, G: 50, B: 230, A: 255},
	{R: 210, G: 245, B: 60, A: 255},
	{R: 250, G: 190, B: 212, A: 255},
}

// Observation размечаемый класс объектов/повреждений
type Observation struct {
	Name         string
	DisplayColor color.RGBA
	IsSelected   bool
	IsVisible    bool
}

// ObservationRegistry набор наблюдений сессии в порядке создания.
// Выбрано не больше одного наблюдения.
type ObservationRegistry struct {
	items  []*Observation
	policy DuplicatePolicy
}

// NewObservationRegistry создает пустой реестр
func NewObservationRegistry(policy DuplicatePolicy) *ObservationRegistry {
	return &ObservationRegistry{policy: policy}
}

// Policy политика дубликатов
func (r *ObservationRegistry) Policy() DuplicatePolicy {
	return r.policy
}

// Add добавляет наблюдение. Для существующего имени действует политика дубликатов.
func (r *ObservationRegistry) Add(name string) (*Observation, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return nil, errors.Wrap(ErrInvalidObservationName, "empty name")
	}
	if _, exists := r.Get(name); exists {
		if r.policy == DuplicateReject {
			return nil, errors.Wrap(ErrDuplicateObservation, name)
		}
		name = r.freeName(name)
	}
	return r.register(name)
}

// register добавляет имя как есть, без суффиксов
func (r *ObservationRegistry) register(name string) (*Observation, error) {
	if name == "" {
		return nil, errors.Wrap(ErrInvalidObservationName, "empty name")
	}
	if _, exists := r.Get(name); exists {
		return nil, errors.Wrap(ErrDuplicateObservation, name)
	}
	obs := &Observation{Name: name, IsVisible: true}
	r.items = append(r.items, obs)
	r.recolor()
	return obs, nil
}

func (r *ObservationRegistry) freeName(base string) string {
	for n := 2; ; n++ {
		candidate := base + "_" + strconv.Itoa(n)
		if _, exists := r.Get(candidate); !exists {
			return candidate
		}
	}
}

// Remove удаляет наблюдения, возвращает реально удаленные имена
func (r *ObservationRegistry) Remove(names ...string) []string {
	drop := make(map[string]struct{}, len(names))
	for _, name := range names {
		drop[name] = struct{}{}
	}
	var removed []string
	kept := r.items[:0]
	for _, obs := range r.items {
		if _, ok := drop[obs.Name]; ok {
			removed = append(removed, obs.Name)
			continue
		}
		kept = append(kept, obs)
	}
	for i := len(kept); i < len(r.items); i++ {
		r.items[i] = nil
	}
	r.items = kept
	r.recolor()
	return removed
}

// Select делает наблюдение единственным выбранным.
// Неизвестное имя снимает выбор со всех и возвращает false.
func (r *ObservationRegistry) Select(name string) bool {
	found := false
	for _, obs := range r.items {
		obs.IsSelected = obs.Name == name
		found = found || obs.IsSelected
	}
	return found
}

// Selected выбранное наблюдение
func (r *ObservationRegistry) Selected() (*Observation, bool) {
	for _, obs := range r.items {
		if obs.IsSelected {
			return obs, true
		}
	}
	return nil, false
}

// SetVisible управляет отрисовкой маски наблюдения
func (r *ObservationRegistry) SetVisible(name string, visible bool) bool {
	obs, ok := r.Get(name)
	if !ok {
		return false
	}
	obs.IsVisible = visible
	return true
}

// Get наблюдение по имени
func (r *ObservationRegistry) Get(name string) (*Observation, bool) {
	for _, obs := range r.items {
		if obs.Name == name {
			return obs, true
		}
	}
	return nil, false
}

// IndexOf позиция наблюдения в порядке создания
func (r *ObservationRegistry) IndexOf(name string) (int, bool) {
	for i, obs := range r.items {
		if obs.Name == name {
			return i, true
		}
	}
	return -1, false
}

// Names имена в порядке создания
func (r *ObservationRegistry) Names() []string {
	out := make([]string, len(r.items))
	for i, obs := range r.items {
		out[i] = obs.Name
	}
	return out
}

// Len количество наблюдений
func (r *ObservationRegistry) Len() int {
	return len(r.items)
}

func (r *ObservationRegistry) recolor() {
	for i, obs := range r.items {
		obs.DisplayColor = Palette[i%len(Palette)]
	}
}
