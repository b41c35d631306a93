package config

import (
	"fmt"
	"os"
	"strconv"

	"github.com/pelletier/go-toml/v2"
	"github.com/sirupsen/logrus"

	"road-labeler-go/internal/annotation"
)

// Config структура конфигурации приложения
type Config struct {
	Server struct {
		Port        int    `toml:"port"`
		Host        string `toml:"host"`
		GRPCPort    int    `toml:"grpc_port"`
		Environment string `toml:"environment"`
	} `toml:"server"`
	SegmenterAPI struct {
		BaseURL    string `toml:"base_url"`
		Timeout    int    `toml:"timeout_seconds"`     // в секундах
		HealthPoll int    `toml:"health_poll_seconds"` // период опроса /health
	} `toml:"segmenter_api"`
	Database struct {
		DSN string `toml:"dsn"`
	} `toml:"database"`
	Annotation struct {
		DuplicatePolicy string `toml:"duplicate_policy"` // suffix или reject
		CorruptPolicy   string `toml:"corrupt_policy"`   // fail, skip или discard
	} `toml:"annotation"`
	Logging struct {
		Level string `toml:"level"`
	} `toml:"logging"`
}

// Default конфигурация по умолчанию
func Default() *Config {
	cfg := &Config{}
	cfg.Server.Port = 8080
	cfg.Server.Host = "0.0.0.0"
	cfg.Server.GRPCPort = 9090
	cfg.Server.Environment = "development"
	cfg.SegmenterAPI.BaseURL = "http://localhost:8000"
	cfg.SegmenterAPI.Timeout = 300 // 5 минут по умолчанию
	cfg.SegmenterAPI.HealthPoll = 15
	cfg.Database.DSN = "road_labeler.db"
	cfg.Annotation.DuplicatePolicy = "suffix"
	cfg.Annotation.CorruptPolicy = "fail"
	cfg.Logging.Level = "info"
	return cfg
}

// LoadConfig загружает конфигурацию: значения по умолчанию, затем TOML файл из
// CONFIG_FILE (если задан), затем переменные окружения
func LoadConfig() (*Config, error) {
	cfg := Default()

	if path := os.Getenv("CONFIG_FILE"); path != "" {
		if err := cfg.loadFile(path); err != nil {
			return nil, err
		}
	}

	// Конфигурация сервера
	cfg.Server.Port = getEnvInt("SERVER_PORT", cfg.Server.Port)
	cfg.Server.Host = getEnv("SERVER_HOST", cfg.Server.Host)
	cfg.Server.GRPCPort = getEnvInt("GRPC_PORT", cfg.Server.GRPCPort)
	cfg.Server.Environment = getEnv("ENVIRONMENT", cfg.Server.Environment)

	// Конфигурация сервиса сегментации
	cfg.SegmenterAPI.BaseURL = getEnv("SEGMENTER_API_BASE_URL", cfg.SegmenterAPI.BaseURL)
	cfg.SegmenterAPI.Timeout = getEnvInt("SEGMENTER_API_TIMEOUT_SECONDS", cfg.SegmenterAPI.Timeout)
	cfg.SegmenterAPI.HealthPoll = getEnvInt("HEALTH_POLL_SECONDS", cfg.SegmenterAPI.HealthPoll)

	cfg.Database.DSN = getEnv("DB_DSN", cfg.Database.DSN)
	cfg.Annotation.DuplicatePolicy = getEnv("DUPLICATE_POLICY", cfg.Annotation.DuplicatePolicy)
	cfg.Annotation.CorruptPolicy = getEnv("CORRUPT_POLICY", cfg.Annotation.CorruptPolicy)

	// Конфигурация логирования
	cfg.Logging.Level = getEnv("LOG_LEVEL", cfg.Logging.Level)

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) loadFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("failed to read config file: %w", err)
	}
	if err := toml.Unmarshal(data, c); err != nil {
		return fmt.Errorf("failed to parse config file %s: %w", path, err)
	}
	return nil
}

// Validate проверяет значения, которые нельзя исправить молча
func (c *Config) Validate() error {
	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		return fmt.Errorf("invalid server port %d", c.Server.Port)
	}
	if c.Server.GRPCPort < 0 || c.Server.GRPCPort > 65535 {
		return fmt.Errorf("invalid grpc port %d", c.Server.GRPCPort)
	}
	if c.SegmenterAPI.Timeout <= 0 {
		return fmt.Errorf("invalid segmenter api timeout %d", c.SegmenterAPI.Timeout)
	}
	if _, err := annotation.ParseDuplicatePolicy(c.Annotation.DuplicatePolicy); err != nil {
		return err
	}
	if _, err := annotation.ParseCorruptPolicy(c.Annotation.CorruptPolicy); err != nil {
		return err
	}
	if _, err := logrus.ParseLevel(c.Logging.Level); err != nil {
		return fmt.Errorf("invalid log level: %w", err)
	}
	return nil
}

// DuplicatePolicy политика повторяющихся имен наблюдений
func (c *Config) DuplicatePolicy() annotation.DuplicatePolicy {
	p, _ := annotation.ParseDuplicatePolicy(c.Annotation.DuplicatePolicy)
	return p
}

// CorruptPolicy реакция на поврежденный документ сессии
func (c *Config) CorruptPolicy() annotation.CorruptPolicy {
	p, _ := annotation.ParseCorruptPolicy(c.Annotation.CorruptPolicy)
	return p
}

// LogLevel уровень логирования, info при ошибке разбора
func (c *Config) LogLevel() logrus.Level {
	level, err := logrus.ParseLevel(c.Logging.Level)
	if err != nil {
		return logrus.InfoLevel
	}
	return level
}

// getEnv получает значение переменной окружения или возвращает значение по умолчанию
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// getEnvInt получает int значение переменной окружения или возвращает значение по умолчанию
func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intValue, err := strconv.Atoi(value); err == nil {
			return intValue
		}
	}
	return defaultValue
}
