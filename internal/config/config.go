package config

import (
	"strings"

	"github.com/labreserve/service-booking/pkg/config"
)

// Storage drivers.
const (
	StoragePostgres = "postgres"
	StorageMemory   = "memory"
)

// ServiceConfig holds all configuration for the booking service.
type ServiceConfig struct {
	Port          string
	AppEnv        string
	StorageDriver string
	CORSOrigins   []string
	DBConfig      config.DatabaseConfig
	JWTConfig     config.JWTConfig
	KafkaConfig   config.KafkaConfig
	RedisConfig   config.RedisConfig
}

// Load reads configuration from LABBOOK_* environment variables.
func Load() (*ServiceConfig, error) {
	v, err := config.Load("LABBOOK")
	if err != nil {
		return nil, err
	}
	v.SetDefault("DB_NAME", "labbook")
	v.SetDefault("STORAGE_DRIVER", StoragePostgres)

	return &ServiceConfig{
		Port:          config.GetServicePort(v, "SERVICE_PORT"),
		AppEnv:        config.GetAppEnv(v),
		StorageDriver: strings.ToLower(v.GetString("STORAGE_DRIVER")),
		CORSOrigins:   config.SplitList(v.GetString("CORS_ORIGINS")),
		DBConfig:      config.LoadDatabaseConfig(v, "DB_NAME"),
		JWTConfig:     config.LoadJWTConfig(v),
		KafkaConfig:   config.LoadKafkaConfig(v),
		RedisConfig:   config.LoadRedisConfig(v),
	}, nil
}
