package annotation

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"testing"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/require"
)

func quietLogger() *logrus.Logger {
	logger := logrus.New()
	logger.SetOutput(io.Discard)
	return logger
}

// writeFrames создает каталог clip с пустыми файлами кадров
func writeFrames(t *testing.T, root string, numbers ...int) string {
	t.Helper()
	dir := filepath.Join(root, "clip")
	require.NoError(t, os.MkdirAll(dir, 0755))
	for _, n := range numbers {
		name := filepath.Join(dir, fmt.Sprintf("%05d.jpg", n))
		require.NoError(t, os.WriteFile(name, nil, 0644))
	}
	return dir
}

func frameRange(from, to int) []int {
	var out []int
	for n := from; n <= to; n++ {
		out = append(out, n)
	}
	return out
}

func newTestSession(t *testing.T, numbers ...int) *Session {
	t.Helper()
	dir := writeFrames(t, t.TempDir(), numbers...)
	s, err := Open(dir, Options{Logger: quietLogger()})
	require.NoError(t, err)
	return s
}

func testCollection(t *testing.T, numbers ...int) *FrameCollection {
	t.Helper()
	records := make([]FrameRecord, len(numbers))
	for i, n := range numbers {
		records[i] = FrameRecord{FrameNumber: n, ImagePath: fmt.Sprintf("/frames/%05d.jpg", n)}
	}
	c, err := NewFrameCollection("/frames", records)
	require.NoError(t, err)
	return c
}
