package annotation

import (
	"image"
	_ "image/jpeg"
	_ "image/png"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"

	"github.com/pkg/errors"
)

// FrameRecord кадр сессии разметки
type FrameRecord struct {
	// Index позиция в упорядоченной последовательности кадров
	Index int
	// FrameNumber номер кадра в исходном видео, ключ документа и основа для интервалов
	FrameNumber int
	ImagePath   string
	IsMarked    bool

	image image.Image
}

// FileName имя файла кадра без каталога
func (f *FrameRecord) FileName() string {
	return filepath.Base(f.ImagePath)
}

// Image лениво загружает изображение кадра
func (f *FrameRecord) Image() (image.Image, error) {
	if f.image != nil {
		return f.image, nil
	}
	file, err := os.Open(f.ImagePath)
	if err != nil {
		return nil, errors.Wrapf(err, "open frame %d", f.FrameNumber)
	}
	defer file.Close()

	img, _, err := image.Decode(file)
	if err != nil {
		return nil, errors.Wrapf(err, "decode frame %d", f.FrameNumber)
	}
	f.image = img
	return img, nil
}

// Release освобождает загруженное изображение
func (f *FrameRecord) Release() {
	f.image = nil
}

// FrameCollection упорядоченный набор кадров одной сессии.
// Номера кадров строго возрастают вместе с индексом, пропуски допустимы.
type FrameCollection struct {
	dir      string
	frames   []*FrameRecord
	byNumber map[int]int
}

// NewFrameCollection создает коллекцию из записей, упорядоченных по номеру кадра.
// Индексы назначаются заново.
func NewFrameCollection(dir string, records []FrameRecord) (*FrameCollection, error) {
	c := &FrameCollection{
		dir:      dir,
		frames:   make([]*FrameRecord, 0, len(records)),
		byNumber: make(map[int]int, len(records)),
	}
	for i := range records {
		rec := records[i]
		if i > 0 && rec.FrameNumber <= records[i-1].FrameNumber {
			return nil, errors.Errorf("frame numbers must strictly increase: %d after %d", rec.FrameNumber, records[i-1].FrameNumber)
		}
		rec.Index = i
		rec.image = nil
		c.frames = append(c.frames, &rec)
		c.byNumber[rec.FrameNumber] = i
	}
	return c, nil
}

// ScanFrameDir читает каталог кадров вида 00042.jpg.
// Файлы с нечисловым именем и подкаталоги (например masks/) пропускаются.
func ScanFrameDir(dir string) (*FrameCollection, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, errors.Wrap(err, "read frame directory")
	}

	var records []FrameRecord
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		name := entry.Name()
		ext := strings.ToLower(filepath.Ext(name))
		if ext != ".jpg" && ext != ".jpeg" && ext != ".png" {
			continue
		}
		number, err := strconv.Atoi(strings.TrimSuffix(name, filepath.Ext(name)))
		if err != nil {
			continue
		}
		records = append(records, FrameRecord{
			FrameNumber: number,
			ImagePath:   filepath.Join(dir, name),
		})
	}
	if len(records) == 0 {
		return nil, errors.Wrap(ErrNoFrames, dir)
	}

	sort.Slice(records, func(i, j int) bool {
		return records[i].FrameNumber < records[j].FrameNumber
	})
	for i := 1; i < len(records); i++ {
		if records[i].FrameNumber == records[i-1].FrameNumber {
			return nil, errors.Errorf("duplicate frame number %d in %s", records[i].FrameNumber, dir)
		}
	}
	return NewFrameCollection(dir, records)
}

// Dir каталог кадров
func (c *FrameCollection) Dir() string {
	return c.dir
}

// Len количество кадров
func (c *FrameCollection) Len() int {
	return len(c.frames)
}

// At кадр по индексу
func (c *FrameCollection) At(index int) (*FrameRecord, bool) {
	if index < 0 || index >= len(c.frames) {
		return nil, false
	}
	return c.frames[index], true
}

// ByNumber кадр по номеру
func (c *FrameCollection) ByNumber(frameNumber int) (*FrameRecord, bool) {
	i, ok := c.byNumber[frameNumber]
	if !ok {
		return nil, false
	}
	return c.frames[i], true
}

// Frames все кадры по порядку
func (c *FrameCollection) Frames() []*FrameRecord {
	out := make([]*FrameRecord, len(c.frames))
	copy(out, c.frames)
	return out
}

// Numbers номера кадров по порядку
func (c *FrameCollection) Numbers() []int {
	out := make([]int, len(c.frames))
	for i, f := range c.frames {
		out[i] = f.FrameNumber
	}
	return out
}

// Bounds номера первого и последнего кадра
func (c *FrameCollection) Bounds() (first, last int, ok bool) {
	if len(c.frames) == 0 {
		return 0, 0, false
	}
	return c.frames[0].FrameNumber, c.frames[len(c.frames)-1].FrameNumber, true
}

// SnapForward первый загруженный кадр с номером >= frameNumber
func (c *FrameCollection) SnapForward(frameNumber int) (int, bool) {
	i := sort.Search(len(c.frames), func(i int) bool {
		return c.frames[i].FrameNumber >= frameNumber
	})
	if i == len(c.frames) {
		return 0, false
	}
	return c.frames[i].FrameNumber, true
}

// SnapBackward последний загруженный кадр с номером <= frameNumber
func (c *FrameCollection) SnapBackward(frameNumber int) (int, bool) {
	i := sort.Search(len(c.frames), func(i int) bool {
		return c.frames[i].FrameNumber > frameNumber
	})
	if i == 0 {
		return 0, false
	}
	return c.frames[i-1].FrameNumber, true
}

// IndexRange индексы первого и последнего загруженного кадра внутри интервала
func (c *FrameCollection) IndexRange(iv Interval) (lo, hi int, ok bool) {
	first, ok1 := c.SnapForward(iv.Start)
	last, ok2 := c.SnapBackward(iv.End)
	if !ok1 || !ok2 || first > last {
		return 0, 0, false
	}
	return c.byNumber[first], c.byNumber[last], true
}
