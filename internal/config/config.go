package config

import (
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"
)

// Config корневая структура конфигурации сервиса заявок на территорию.
// Все секции опциональны; значения по умолчанию подставляются в геттерах.

type Config struct {
	Storage  StorageConfig  `yaml:"storage"`
	Claims   ClaimsConfig   `yaml:"claims"`
	Server   ServerConfig   `yaml:"server"`
	EventBus EventBusConfig `yaml:"eventbus"`
	Cache    CacheConfig    `yaml:"cache"`
	Users    UsersConfig    `yaml:"users"`
}

// StorageConfig выбирает и настраивает бэкенд хранилища.
type StorageConfig struct {
	// Backend: "file" (основной), "badger" или "maria" (legacy).
	Backend string `yaml:"backend"`
	// DataPath базовая директория файлового бэкенда.
	DataPath string `yaml:"data_path"`
	// Compress включает gzip для файловых записей заявок.
	Compress bool `yaml:"compress"`
	// MariaDSN строка подключения user:pass@tcp(host:port)/dbname.
	MariaDSN string `yaml:"maria_dsn"`
}

// ClaimsConfig содержит игровые правила заявок.
type ClaimsConfig struct {
	// WorldModes: идентификатор мира -> режим ("survival", "creative",
	// "survival_requiring_claims"). Отсутствующий мир считается survival.
	WorldModes map[string]string `yaml:"world_modes"`
	// BlocksAccruedPerHour скорость начисления блоков онлайн-игрокам.
	BlocksAccruedPerHour int `yaml:"blocks_accrued_per_hour"`
	// MaxAccruedBlocks потолок накопленных блоков.
	MaxAccruedBlocks int `yaml:"max_accrued_blocks"`
	// InitialBlocks стартовый баланс нового игрока.
	InitialBlocks int `yaml:"initial_blocks"`
	// BannedActions: ключ действия -> причина запрета, показываемая игроку.
	// Сопоставление по подстроке без учёта регистра.
	BannedActions map[string]string `yaml:"banned_actions"`
	// AlwaysIgnoreClaims список идентификаторов, для которых заявки прозрачны.
	AlwaysIgnoreClaims []string `yaml:"always_ignore_claims"`
}

type ServerConfig struct {
	RESTPort    int    `yaml:"rest_port"`
	MetricsPort int    `yaml:"metrics_port"`
	JWTSecret   string `yaml:"jwt_secret"`
}

type EventBusConfig struct {
	URL       string `yaml:"url"`
	Stream    string `yaml:"stream"`
	Retention int    `yaml:"retention_hours"`
}

type CacheConfig struct {
	RedisURL      string        `yaml:"redis_url"`
	RedisPassword string        `yaml:"redis_password"`
	RedisDB       int           `yaml:"redis_db"`
	DefaultTTL    time.Duration `yaml:"default_ttl"`
}

// UsersConfig настраивает справочник пользователей (MongoDB),
// нужный для однократной миграции имён в идентификаторы.
type UsersConfig struct {
	MongoURI        string `yaml:"mongo_uri"`
	MongoDatabase   string `yaml:"mongo_database"`
	MongoCollection string `yaml:"mongo_collection"`
}

// GetBackend возвращает бэкенд хранилища с приоритетом: config -> env -> "file"
func (s *StorageConfig) GetBackend() string {
	if s.Backend != "" {
		return s.Backend
	}
	if env := os.Getenv("CLAIMS_STORAGE_BACKEND"); env != "" {
		return env
	}
	return "file"
}

// GetDataPath возвращает директорию данных файлового бэкенда
func (s *StorageConfig) GetDataPath() string {
	if s.DataPath != "" {
		return s.DataPath
	}
	if env := os.Getenv("CLAIMS_DATA_PATH"); env != "" {
		return env
	}
	return "data/claims"
}

// GetRESTPort возвращает REST API порт с поддержкой fallback значений
func (s *ServerConfig) GetRESTPort() int {
	return getPortWithEnvFallback(s.RESTPort, "CLAIMS_REST_PORT", 8090)
}

// GetMetricsPort возвращает Prometheus метрики порт с поддержкой fallback значений
func (s *ServerConfig) GetMetricsPort() int {
	return getPortWithEnvFallback(s.MetricsPort, "CLAIMS_METRICS_PORT", 2112)
}

// GetBlocksAccruedPerHour возвращает скорость начисления (0 отключает задачу)
func (c *ClaimsConfig) GetBlocksAccruedPerHour() int {
	if c.BlocksAccruedPerHour > 0 {
		return c.BlocksAccruedPerHour
	}
	return 100
}

// GetMaxAccruedBlocks возвращает потолок накопленных блоков
func (c *ClaimsConfig) GetMaxAccruedBlocks() int {
	if c.MaxAccruedBlocks > 0 {
		return c.MaxAccruedBlocks
	}
	return 80000
}

// GetInitialBlocks возвращает стартовый баланс нового игрока
func (c *ClaimsConfig) GetInitialBlocks() int {
	if c.InitialBlocks > 0 {
		return c.InitialBlocks
	}
	return 100
}

// getPortWithEnvFallback возвращает порт с приоритетом: config -> env -> default
func getPortWithEnvFallback(configPort int, envVar string, defaultPort int) int {
	if configPort > 0 {
		return configPort
	}

	if envVal := os.Getenv(envVar); envVal != "" {
		if port, err := strconv.Atoi(envVal); err == nil && port > 0 {
			return port
		}
	}

	return defaultPort
}

// Load читает YAML файл конфигурации.
// Если path == "", пытается прочитать из ENV CLAIMS_CONFIG или возвращает nil, nil.
func Load(path string) (*Config, error) {
	if path == "" {
		path = os.Getenv("CLAIMS_CONFIG")
		if path == "" {
			return nil, nil // конфиг не задан — использовать дефолты
		}
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, err
	}

	return &cfg, nil
}
