package models

// IntervalStats статистика разметки одного интервала наблюдения
type IntervalStats struct {
	Observation        string  `json:"observation"`          // Наблюдение
	Start              int     `json:"start"`                // Первый кадр интервала
	End                int     `json:"end"`                  // Последний кадр интервала
	Explicit           bool    `json:"explicit"`             // Интервал задан пользователем, а не весь диапазон
	FramesCount        int     `json:"frames_count"`         // Загруженные кадры в интервале
	FramesWithMask     int     `json:"frames_with_mask"`     // Кадры с маской
	FramesWithPoints   int     `json:"frames_with_points"`   // Затравочные кадры
	CoveragePercentage float64 `json:"coverage_percentage"`  // Процент кадров с маской
	MeanMaskArea       float64 `json:"mean_mask_area"`       // Средняя площадь маски в пикселях
	HasData            bool    `json:"has_data"`             // Есть ли в интервале хоть одна маска
}

// OverallStats общая статистика сессии
type OverallStats struct {
	TotalFrames       int     `json:"total_frames"`        // Загруженные кадры
	MarkedFrames      int     `json:"marked_frames"`       // Отмеченные кадры
	Observations      int     `json:"observations"`        // Количество наблюдений
	TotalIntervals    int     `json:"total_intervals"`     // Количество интервалов
	IntervalsWithData int     `json:"intervals_with_data"` // Интервалы с масками
	AverageCoverage   float64 `json:"average_coverage"`    // Среднее покрытие по интервалам с данными
}

// SessionStats статистика сессии по интервалам
type SessionStats struct {
	Intervals    []IntervalStats `json:"intervals"`
	OverallStats OverallStats    `json:"overall_stats"`
}
