package handler

import (
	"errors"
	"net/http"
	"os"
	"strconv"

	"road-labeler-go/internal/annotation"
	"road-labeler-go/internal/propagation"
	"road-labeler-go/internal/segmenter"
	"road-labeler-go/internal/service"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"
)

// statusFor HTTP статус для ошибки сервиса
func statusFor(err error) int {
	switch {
	case errors.Is(err, service.ErrSessionNotFound),
		errors.Is(err, service.ErrJobNotFound),
		errors.Is(err, service.ErrIntervalNotFound),
		errors.Is(err, annotation.ErrUnknownFrame),
		errors.Is(err, annotation.ErrUnknownObservation),
		errors.Is(err, os.ErrNotExist):
		return http.StatusNotFound
	case errors.Is(err, service.ErrSessionBusy),
		errors.Is(err, segmenter.ErrSegmenterBusy),
		errors.Is(err, annotation.ErrDuplicateObservation):
		return http.StatusConflict
	case errors.Is(err, propagation.ErrNoSeedPoints):
		return http.StatusUnprocessableEntity
	case errors.Is(err, service.ErrInvalidRequest),
		errors.Is(err, annotation.ErrInvalidObservationName),
		errors.Is(err, annotation.ErrDegeneratePolygon),
		errors.Is(err, annotation.ErrOverlappingIntervals),
		errors.Is(err, annotation.ErrEmptyInterval),
		errors.Is(err, annotation.ErrNoFrames),
		errors.Is(err, annotation.ErrCorruptDocument):
		return http.StatusBadRequest
	case errors.Is(err, segmenter.ErrOracle):
		return http.StatusBadGateway
	}
	return http.StatusInternalServerError
}

// respondError пишет ошибку в ответ. Детали отдаются только для ошибок клиента.
func respondError(c *gin.Context, logger *logrus.Logger, err error, message string) {
	status := statusFor(err)
	body := gin.H{"error": message}
	if status < http.StatusInternalServerError {
		body["details"] = err.Error()
		logger.Warnf("%s: %v", message, err)
	} else {
		logger.Errorf("%s: %v", message, err)
	}
	c.JSON(status, body)
}

// frameParam номер кадра из пути
func frameParam(c *gin.Context) (int, bool) {
	frame, err := strconv.Atoi(c.Param("frame"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Неверный формат номера кадра"})
		return 0, false
	}
	return frame, true
}
