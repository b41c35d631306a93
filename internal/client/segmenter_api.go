package client

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"github.com/sirupsen/logrus"

	"road-labeler-go/internal/annotation"
	"road-labeler-go/internal/segmenter"
	"road-labeler-go/pkg/models"
)

// SegmenterAPIClient клиент для Python сервиса сегментации (SAM2).
// Состояние сегментатора на стороне сервиса привязано к sessionID.
type SegmenterAPIClient struct {
	baseURL    string
	sessionID  string
	httpClient *http.Client
	// streamClient без общего таймаута: поток распространения длится пропорционально интервалу
	streamClient *http.Client
	logger       *logrus.Logger
}

var _ segmenter.Backend = (*SegmenterAPIClient)(nil)

// NewSegmenterAPIClient создает новый клиент для Python API
func NewSegmenterAPIClient(baseURL, sessionID string, timeout time.Duration, logger *logrus.Logger) *SegmenterAPIClient {
	return &SegmenterAPIClient{
		baseURL:   baseURL,
		sessionID: sessionID,
		httpClient: &http.Client{
			Timeout: timeout,
		},
		streamClient: &http.Client{},
		logger:       logger,
	}
}

func (c *SegmenterAPIClient) sessionURL(action string) string {
	return fmt.Sprintf("%s/sessions/%s/%s", c.baseURL, url.PathEscape(c.sessionID), action)
}

// Load загружает каталог кадров в сегментатор
func (c *SegmenterAPIClient) Load(ctx context.Context, frameDir string) error {
	c.logger.WithField("frame_dir", frameDir).Info("Загрузка кадров в сервис сегментации")
	var resp models.StatusResponse
	return c.postJSON(ctx, c.sessionURL("load"), models.LoadRequest{FrameDir: frameDir}, &resp)
}

// ResetState сбрасывает затравки сегментатора
func (c *SegmenterAPIClient) ResetState(ctx context.Context) error {
	c.logger.Debug("Сброс состояния сегментатора")
	var resp models.StatusResponse
	return c.postJSON(ctx, c.sessionURL("reset"), struct{}{}, &resp)
}

// AddPoint отправляет точки кадра и возвращает маску этого кадра
func (c *SegmenterAPIClient) AddPoint(ctx context.Context, frameIndex, objectID int, points []annotation.Point, labels []int) (segmenter.Mask, error) {
	request := models.PointsRequest{
		FrameIndex: frameIndex,
		ObjectID:   objectID,
		Points:     make([]models.Point, len(points)),
		Labels:     labels,
	}
	for i, p := range points {
		request.Points[i] = models.Point{p.X, p.Y}
	}

	var resp models.PointsResponse
	if err := c.postJSON(ctx, c.sessionURL("points"), request, &resp); err != nil {
		return segmenter.Mask{}, err
	}
	return maskFromPayload(resp.Mask), nil
}

// Propagate запускает распространение. Ответ читается лениво, строка NDJSON за шаг.
func (c *SegmenterAPIClient) Propagate(ctx context.Context, startIndex, maxSteps int, reverse bool) (segmenter.Stream, error) {
	body, err := json.Marshal(models.PropagateRequest{
		StartIndex: startIndex,
		MaxSteps:   maxSteps,
		Reverse:    reverse,
	})
	if err != nil {
		return nil, fmt.Errorf("ошибка сериализации запроса: %w", err)
	}

	target := c.sessionURL("propagate")
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, target, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("ошибка создания HTTP запроса: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/x-ndjson")

	c.logger.WithFields(logrus.Fields{
		"start":   startIndex,
		"steps":   maxSteps,
		"reverse": reverse,
	}).Debugf("Отправка POST запроса на %s", target)
	resp, err := c.streamClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("ошибка отправки HTTP запроса: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		defer resp.Body.Close()
		respBody, _ := io.ReadAll(resp.Body)
		return nil, fmt.Errorf("%w: статус %d, тело: %s", segmenter.ErrOracle, resp.StatusCode, string(respBody))
	}
	return &propagateStream{body: resp.Body, decoder: json.NewDecoder(resp.Body)}, nil
}

// CheckHealth проверяет состояние Python API
func (c *SegmenterAPIClient) CheckHealth(ctx context.Context) (*models.HealthResponse, error) {
	c.logger.Debug("Проверка здоровья Python API")

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/health", nil)
	if err != nil {
		return nil, fmt.Errorf("ошибка создания HTTP запроса: %w", err)
	}

	var healthResponse models.HealthResponse
	if err := c.do(req, &healthResponse); err != nil {
		return nil, err
	}
	return &healthResponse, nil
}

func (c *SegmenterAPIClient) postJSON(ctx context.Context, target string, payload, out interface{}) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("ошибка сериализации запроса: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, target, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("ошибка создания HTTP запроса: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	c.logger.Debugf("Отправка POST запроса на %s", target)
	return c.do(req, out)
}

func (c *SegmenterAPIClient) do(req *http.Request, out interface{}) error {
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("ошибка отправки HTTP запроса: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("ошибка чтения ответа: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("%w: статус %d, тело: %s", segmenter.ErrOracle, resp.StatusCode, string(respBody))
	}
	if len(respBody) == 0 {
		return nil
	}

	var status models.StatusResponse
	if err := json.Unmarshal(respBody, &status); err == nil && status.Status == "error" {
		return fmt.Errorf("%w: %s", segmenter.ErrOracle, status.Message)
	}
	if err := json.Unmarshal(respBody, out); err != nil {
		return fmt.Errorf("ошибка парсинга JSON ответа: %w", err)
	}
	return nil
}

// propagateStream поток шагов распространения из тела ответа
type propagateStream struct {
	body    io.ReadCloser
	decoder *json.Decoder
	done    bool
}

func (s *propagateStream) Next() (segmenter.MaskFrame, error) {
	if s.done {
		return segmenter.MaskFrame{}, segmenter.ErrStreamFinished
	}
	var line models.PropagateFrame
	if err := s.decoder.Decode(&line); err != nil {
		s.done = true
		if err == io.EOF {
			return segmenter.MaskFrame{}, io.EOF
		}
		return segmenter.MaskFrame{}, fmt.Errorf("ошибка чтения потока распространения: %w", err)
	}
	if line.Status == "error" {
		s.done = true
		return segmenter.MaskFrame{}, fmt.Errorf("%w: %s", segmenter.ErrOracle, line.Message)
	}
	return segmenter.MaskFrame{FrameIndex: line.FrameIndex, Mask: maskFromPayload(line.Mask)}, nil
}

func (s *propagateStream) Close() error {
	s.done = true
	return s.body.Close()
}

func maskFromPayload(p models.MaskPayload) segmenter.Mask {
	mask := segmenter.Mask{Width: p.Width, Height: p.Height}
	for _, contour := range p.Contours {
		poly := make(annotation.Polygon, len(contour))
		for i, pt := range contour {
			poly[i] = annotation.Point{X: pt[0], Y: pt[1]}
		}
		mask.Contours = append(mask.Contours, poly)
	}
	return mask
}
