package models

// Point точка на кадре в пикселях, сериализуется как [x, y]
type Point [2]float64

// Contour замкнутый контур маски
type Contour []Point

// LoadRequest запрос на загрузку каталога кадров в сегментатор
type LoadRequest struct {
	FrameDir string `json:"frame_dir"` // Каталог кадров, доступный сервису сегментации
}

// PointsRequest запрос на добавление затравочных точек
type PointsRequest struct {
	FrameIndex int     `json:"frame_index"` // Индекс кадра в загруженной последовательности
	ObjectID   int     `json:"object_id"`   // Идентификатор объекта
	Points     []Point `json:"points"`      // Координаты точек
	Labels     []int   `json:"labels"`      // Метки точек (1 - объект, 0 - фон)
}

// PropagateRequest запрос на распространение маски
type PropagateRequest struct {
	StartIndex int  `json:"start_index"` // Кадр, с которого начинается проход
	MaxSteps   int  `json:"max_steps"`   // Сколько кадров пройти после стартового
	Reverse    bool `json:"reverse"`     // Проход к началу последовательности
}

// MaskPayload маска в ответе сервиса
type MaskPayload struct {
	Width    int       `json:"width"`    // Ширина кадра
	Height   int       `json:"height"`   // Высота кадра
	Contours []Contour `json:"contours"` // Внешние контуры маски
}

// StatusResponse общий ответ сервиса сегментации
type StatusResponse struct {
	Status  string `json:"status"`  // Статус выполнения (success/error)
	Message string `json:"message"` // Сообщение
}

// PointsResponse ответ на добавление точек
type PointsResponse struct {
	Status  string      `json:"status"`
	Message string      `json:"message"`
	Mask    MaskPayload `json:"mask"` // Маска кадра с точками
}

// PropagateFrame одна строка NDJSON потока распространения.
// Строка со статусом error завершает поток ошибкой.
type PropagateFrame struct {
	FrameIndex int         `json:"frame_index"`
	Mask       MaskPayload `json:"mask"`
	Status     string      `json:"status,omitempty"`
	Message    string      `json:"message,omitempty"`
}

// HealthResponse представляет ответ проверки здоровья сервиса
type HealthResponse struct {
	Status      string `json:"status"`       // Статус сервиса (healthy/unhealthy)
	ModelLoaded bool   `json:"model_loaded"` // Загружена ли модель сегментации
	Version     string `json:"version"`      // Версия сервиса
}
