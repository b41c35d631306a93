package annotation

import (
	"bytes"
	"encoding/json"
	"os"
	"path/filepath"
	"sort"
	"strconv"

	"github.com/pkg/errors"
)

// SchemaVersion версия формата документа сессии
const SchemaVersion = 1

// Ключи документа
const (
	infoKey              = "Info"
	infoMarkedFrames     = "Marked Frames"
	infoInstanceInterval = "Instance Intervals"
	infoObservations     = "Observations"
	infoSchemaVersion    = "Schema Version"
)

func reservedInfoKey(key string) bool {
	switch key {
	case infoMarkedFrames, infoInstanceInterval, infoObservations, infoSchemaVersion:
		return true
	}
	return false
}

// PointsDocument точки аннотации: "1" позитивные, "0" негативные
type PointsDocument struct {
	Positive []Point `json:"1"`
	Negative []Point `json:"0"`
}

// DamageDocument аннотация наблюдения на кадре
type DamageDocument struct {
	Points      PointsDocument `json:"Points"`
	MaskPolygon []Polygon      `json:"Mask Polygon"`
}

// FrameDocument запись одного кадра
type FrameDocument struct {
	FileName     string                    `json:"File Name"`
	Observations map[string]DamageDocument `json:"Observations"`
}

// InfoDocument метаданные сессии под ключом "Info"
type InfoDocument struct {
	SchemaVersion     int
	MarkedFrames      []int
	InstanceIntervals map[string][]Interval
	Observations      []string
	// Provenance прочие поля, сохраняются как есть
	Provenance map[string]json.RawMessage
}

// Document документ сессии: кадры по номеру и "Info"
type Document struct {
	Frames map[int]FrameDocument
	Info   InfoDocument
}

// NewDocument пустой документ текущей версии
func NewDocument() *Document {
	return &Document{
		Frames: make(map[int]FrameDocument),
		Info: InfoDocument{
			SchemaVersion:     SchemaVersion,
			InstanceIntervals: make(map[string][]Interval),
			Provenance:        make(map[string]json.RawMessage),
		},
	}
}

// MarshalJSON собирает "Info" из типизированных полей и provenance
func (i InfoDocument) MarshalJSON() ([]byte, error) {
	out := make(map[string]interface{}, len(i.Provenance)+4)
	for key, raw := range i.Provenance {
		out[key] = raw
	}
	marked := i.MarkedFrames
	if marked == nil {
		marked = []int{}
	}
	intervals := i.InstanceIntervals
	if intervals == nil {
		intervals = map[string][]Interval{}
	}
	observations := i.Observations
	if observations == nil {
		observations = []string{}
	}
	out[infoSchemaVersion] = i.SchemaVersion
	out[infoMarkedFrames] = marked
	out[infoInstanceInterval] = intervals
	out[infoObservations] = observations
	return json.Marshal(out)
}

// UnmarshalJSON разбирает "Info"; отсутствующие поля получают значения по умолчанию
func (i *InfoDocument) UnmarshalJSON(data []byte) error {
	var raw map[string]json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	*i = InfoDocument{
		SchemaVersion:     SchemaVersion,
		InstanceIntervals: make(map[string][]Interval),
		Provenance:        make(map[string]json.RawMessage),
	}
	for key, value := range raw {
		var err error
		switch key {
		case infoSchemaVersion:
			err = json.Unmarshal(value, &i.SchemaVersion)
		case infoMarkedFrames:
			err = json.Unmarshal(value, &i.MarkedFrames)
		case infoInstanceInterval:
			err = json.Unmarshal(value, &i.InstanceIntervals)
		case infoObservations:
			err = json.Unmarshal(value, &i.Observations)
		default:
			i.Provenance[key] = value
		}
		if err != nil {
			return errors.Wrapf(err, "info field %q", key)
		}
	}
	if i.InstanceIntervals == nil {
		i.InstanceIntervals = make(map[string][]Interval)
	}
	return nil
}

// MarshalJSON пишет кадры под строковыми номерами рядом с "Info"
func (d Document) MarshalJSON() ([]byte, error) {
	out := make(map[string]interface{}, len(d.Frames)+1)
	for n, frame := range d.Frames {
		if frame.Observations == nil {
			frame.Observations = map[string]DamageDocument{}
		}
		out[strconv.Itoa(n)] = frame
	}
	out[infoKey] = d.Info
	return json.Marshal(out)
}

// UnmarshalJSON разбирает документ; любой нечисловой ключ кроме "Info" считается порчей
func (d *Document) UnmarshalJSON(data []byte) error {
	var raw map[string]json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	doc := NewDocument()
	for key, value := range raw {
		if key == infoKey {
			if err := json.Unmarshal(value, &doc.Info); err != nil {
				return err
			}
			continue
		}
		n, err := strconv.Atoi(key)
		if err != nil {
			return errors.Errorf("unexpected key %q", key)
		}
		var frame FrameDocument
		if err := json.Unmarshal(value, &frame); err != nil {
			return errors.Wrapf(err, "frame %s", key)
		}
		doc.Frames[n] = frame
	}
	*d = *doc
	return nil
}

// Validate проверяет инварианты документа
func (d *Document) Validate() error {
	if d.Info.SchemaVersion > SchemaVersion {
		return corrupt("unsupported schema version %d", d.Info.SchemaVersion)
	}
	for n, frame := range d.Frames {
		for name, damage := range frame.Observations {
			if err := ValidatePolygons(damage.MaskPolygon); err != nil {
				return corrupt("frame %d observation %q: %v", n, name, err)
			}
		}
	}
	check := NewIntervalTracker(nil)
	for name, ivs := range d.Info.InstanceIntervals {
		if err := check.Set(name, ivs); err != nil {
			return corrupt("%v", err)
		}
	}
	seen := make(map[string]struct{}, len(d.Info.Observations))
	for _, name := range d.Info.Observations {
		if name == "" {
			return corrupt("empty observation name")
		}
		if _, dup := seen[name]; dup {
			return corrupt("observation %q listed twice", name)
		}
		seen[name] = struct{}{}
	}
	return nil
}

// ObservationOrder имена наблюдений документа: сначала из "Info", затем по первому
// появлению в кадрах (по возрастанию номера), затем из интервалов
func (d *Document) ObservationOrder() []string {
	var order []string
	seen := make(map[string]struct{})
	add := func(name string) {
		if _, ok := seen[name]; ok {
			return
		}
		seen[name] = struct{}{}
		order = append(order, name)
	}
	for _, name := range d.Info.Observations {
		add(name)
	}
	numbers := make([]int, 0, len(d.Frames))
	for n := range d.Frames {
		numbers = append(numbers, n)
	}
	sort.Ints(numbers)
	for _, n := range numbers {
		names := make([]string, 0, len(d.Frames[n].Observations))
		for name := range d.Frames[n].Observations {
			names = append(names, name)
		}
		sort.Strings(names)
		for _, name := range names {
			add(name)
		}
	}
	names := make([]string, 0, len(d.Info.InstanceIntervals))
	for name := range d.Info.InstanceIntervals {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		add(name)
	}
	return order
}

// DocumentPath путь документа сессии: уровнем выше каталога кадров, по имени каталога
func DocumentPath(frameDir string) string {
	clean := filepath.Clean(frameDir)
	return filepath.Join(filepath.Dir(clean), filepath.Base(clean)+".json")
}

// ReadDocument читает и проверяет документ. Отсутствие файла возвращается как
// ошибка os.ErrNotExist, испорченный файл как ErrCorruptDocument.
func ReadDocument(path string) (*Document, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.Wrap(err, "read session document")
	}
	if len(bytes.TrimSpace(data)) == 0 {
		return nil, corrupt("%s is empty", path)
	}
	var doc Document
	if err := json.Unmarshal(data, &doc); err != nil {
		return nil, corrupt("%s: %v", path, err)
	}
	if err := doc.Validate(); err != nil {
		return nil, errors.Wrap(err, path)
	}
	return &doc, nil
}

// WriteDocument атомарно записывает документ: во временный файл и переименование
func WriteDocument(path string, doc *Document) error {
	data, err := json.MarshalIndent(doc, "", "  ")
	if err != nil {
		return errors.Wrap(err, "marshal session document")
	}
	tmp, err := os.CreateTemp(filepath.Dir(path), filepath.Base(path)+".*.tmp")
	if err != nil {
		return errors.Wrap(err, "create temp document")
	}
	tmpName := tmp.Name()
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return errors.Wrap(err, "write temp document")
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return errors.Wrap(err, "close temp document")
	}
	if err := os.Rename(tmpName, path); err != nil {
		os.Remove(tmpName)
		return errors.Wrap(err, "replace session document")
	}
	return nil
}
