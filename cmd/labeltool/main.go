package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"time"

	"road-labeler-go/internal/annotation"
	"road-labeler-go/internal/client"
	"road-labeler-go/internal/propagation"
	"road-labeler-go/internal/segmenter"
	"road-labeler-go/internal/stats"
	"road-labeler-go/pkg/models"

	"github.com/akamensky/argparse"
	"github.com/sirupsen/logrus"
)

func main() {
	parser := argparse.NewParser("labeltool", "Inspect and maintain a frame labeling session")
	frameDir := parser.String("d", "dir", &argparse.Options{Help: "Frame directory (00042.jpg, ...)", Required: true})
	renormalize := parser.Flag("r", "renormalize", &argparse.Options{Help: "Rescan frames, fit intervals to the current frame range and save the document"})
	policy := parser.String("p", "policy", &argparse.Options{Help: "Duplicate observation policy: suffix or reject", Default: "suffix"})
	onCorrupt := parser.String("c", "corrupt", &argparse.Options{Help: "Corrupt document policy: fail, skip or discard", Default: "fail"})
	observation := parser.String("o", "observation", &argparse.Options{Help: "Propagate masks of this observation over its intervals"})
	segmenterURL := parser.String("u", "url", &argparse.Options{Help: "Segmentation service URL", Default: "http://localhost:8000"})
	timeout := parser.Int("t", "timeout", &argparse.Options{Help: "Segmentation request timeout, seconds", Default: 300})
	asJSON := parser.Flag("j", "json", &argparse.Options{Help: "Print statistics as JSON"})
	verbose := parser.Flag("v", "verbose", &argparse.Options{Help: "Debug logging"})
	if err := parser.Parse(os.Args); err != nil {
		fmt.Print(parser.Usage(err))
		os.Exit(1)
	}

	logger := logrus.New()
	logger.SetOutput(os.Stderr)
	if *verbose {
		logger.SetLevel(logrus.DebugLevel)
	}

	duplicates, err := annotation.ParseDuplicatePolicy(*policy)
	if err != nil {
		logger.Fatalf("Неверная политика дубликатов: %v", err)
	}
	corrupt, err := annotation.ParseCorruptPolicy(*onCorrupt)
	if err != nil {
		logger.Fatalf("Неверная политика испорченного документа: %v", err)
	}

	session, err := annotation.Open(*frameDir, annotation.Options{
		DuplicatePolicy: duplicates,
		OnCorrupt:       corrupt,
		Logger:          logger,
	})
	if err != nil {
		logger.Fatalf("Ошибка открытия сессии %s: %v", *frameDir, err)
	}
	defer func() {
		if err := session.Close(); err != nil {
			logger.Errorf("Ошибка сохранения документа: %v", err)
		}
	}()

	if *renormalize {
		if err := session.Rescan(); err != nil {
			logger.Fatalf("Ошибка перечитывания кадров: %v", err)
		}
		logger.Infof("Документ сохранен: %s", session.DocumentPath())
	}

	if *observation != "" {
		ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
		backend := client.NewSegmenterAPIClient(*segmenterURL, "labeltool", time.Duration(*timeout)*time.Second, logger)
		if err := propagate(ctx, session, backend, *observation, logger); err != nil {
			logger.Errorf("Распространение не выполнено: %v", err)
		}
		stop()
	}

	summary := stats.NewCalculator().CalculateSession(session)
	if *asJSON {
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		if err := enc.Encode(summary); err != nil {
			logger.Fatalf("Ошибка вывода статистики: %v", err)
		}
		return
	}
	printSummary(session, summary)
}

func propagate(ctx context.Context, session *annotation.Session, backend segmenter.Backend, observation string, logger *logrus.Logger) error {
	if _, ok := session.Observations().Get(observation); !ok {
		return fmt.Errorf("%w: %q", annotation.ErrUnknownObservation, observation)
	}

	seg := segmenter.NewClient(backend, logger)
	if err := seg.Load(ctx, session.Frames().Dir()); err != nil {
		return err
	}
	orchestrator := propagation.NewOrchestrator(seg, propagation.ContourVectorizer{}, logger)
	orchestrator.OnProgress = func(p propagation.Progress) {
		logger.Debugf("%s %s: %d/%d", p.Observation, p.Interval, p.Done, p.Total)
	}

	results, err := orchestrator.RunObservation(ctx, session, observation, session.EffectiveIntervals(observation))
	for _, res := range results {
		logger.Infof("%s %s: затравок %d, записано %d, пустых %d за %v",
			observation, res.Interval, res.Seeds, res.FramesWritten, res.EmptyFilled, res.Duration.Round(time.Millisecond))
	}
	if err != nil {
		return err
	}
	return session.SetProvenance("Last Propagation", map[string]interface{}{
		"observation": observation,
		"finished_at": time.Now().UTC().Format(time.RFC3339),
	})
}

func printSummary(session *annotation.Session, summary models.SessionStats) {
	overall := summary.OverallStats
	fmt.Printf("Каталог:     %s\n", session.Frames().Dir())
	fmt.Printf("Документ:    %s\n", session.DocumentPath())
	fmt.Printf("Кадров:      %d (отмечено %d)\n", overall.TotalFrames, overall.MarkedFrames)
	if marked := session.Store().MarkedFrames(); len(marked) > 0 {
		fmt.Printf("Отмеченные:  %s\n", joinInts(marked))
	}
	fmt.Printf("Наблюдений:  %d, интервалов %d, с масками %d, среднее покрытие %.1f%%\n",
		overall.Observations, overall.TotalIntervals, overall.IntervalsWithData, overall.AverageCoverage)

	for _, iv := range summary.Intervals {
		kind := "весь диапазон"
		if iv.Explicit {
			kind = "интервал"
		}
		fmt.Printf("  %-20s [%d, %d] %-13s кадров %4d  масок %4d  точек %3d  покрытие %5.1f%%  площадь %.0f\n",
			iv.Observation, iv.Start, iv.End, kind, iv.FramesCount, iv.FramesWithMask, iv.FramesWithPoints,
			iv.CoveragePercentage, iv.MeanMaskArea)
	}
}

func joinInts(values []int) string {
	parts := make([]string, len(values))
	for i, v := range values {
		parts[i] = fmt.Sprint(v)
	}
	return strings.Join(parts, ", ")
}
