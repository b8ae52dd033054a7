package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
)

type Config struct {
	AppEnv   string
	AppName  string
	LogLevel string

	GRPCPort string
	HTTPPort string

	DBHost                   string
	DBPort                   string
	DBUser                   string
	DBPassword               string
	DBName                   string
	DBSSLMode                string
	DBMaxOpenConns           int
	DBMaxIdleConns           int
	DBConnMaxLifetimeMinutes int

	ConsulHost string
	ConsulPort string

	ApicurioURL string

	KafkaBrokers []string

	RedisHost         string
	RedisPort         string
	RedisPassword     string
	RedisDB           int
	RedisPoolSize     int
	RedisMinIdleConns int

	StaleScanIntervalSeconds  int
	SchemaSyncIntervalSeconds int

	SelfRegistrationEnabled      bool
	SelfRegistrationServiceName  string
	SelfRegistrationDescription  string
	SelfRegistrationServiceType  string
	SelfRegistrationHost         string
	SelfRegistrationPort         int
	SelfRegistrationVersion      string
	SelfRegistrationCapabilities []string
	SelfRegistrationTags         []string
}

func Load() (*Config, error) {
	cfg := &Config{
		AppEnv:        os.Getenv("APP_ENV"),
		AppName:       os.Getenv("APP_NAME"),
		LogLevel:      os.Getenv("LOG_LEVEL"),
		GRPCPort:      os.Getenv("GRPC_PORT"),
		HTTPPort:      os.Getenv("HTTP_PORT"),
		DBHost:        os.Getenv("DB_HOST"),
		DBPort:        os.Getenv("DB_PORT"),
		DBUser:        os.Getenv("DB_USER"),
		DBPassword:    os.Getenv("DB_PASSWORD"),
		DBName:        os.Getenv("DB_NAME"),
		DBSSLMode:     os.Getenv("DB_SSL_MODE"),
		ConsulHost:    os.Getenv("CONSUL_HOST"),
		ConsulPort:    os.Getenv("CONSUL_PORT"),
		ApicurioURL:   os.Getenv("APICURIO_URL"),
		RedisHost:     os.Getenv("REDIS_HOST"),
		RedisPort:     os.Getenv("REDIS_PORT"),
		RedisPassword: os.Getenv("REDIS_PASSWORD"),
	}
	if cfg.AppEnv == "" {
		cfg.AppEnv = "development"
	}
	if cfg.AppName == "" {
		cfg.AppName = "registration-hub"
	}
	if cfg.GRPCPort == "" {
		cfg.GRPCPort = "50051"
	}
	if cfg.HTTPPort == "" {
		cfg.HTTPPort = "8081"
	}
	if cfg.DBSSLMode == "" {
		cfg.DBSSLMode = "disable"
	}
	if cfg.ConsulHost == "" {
		cfg.ConsulHost = "localhost"
	}
	if cfg.ConsulPort == "" {
		cfg.ConsulPort = "8500"
	}
	if cfg.ApicurioURL == "" {
		cfg.ApicurioURL = "http://localhost:8081/apis/registry/v3"
	}
	if cfg.RedisPort == "" {
		cfg.RedisPort = "6379"
	}

	cfg.KafkaBrokers = splitCSV(os.Getenv("KAFKA_BROKERS"))
	if len(cfg.KafkaBrokers) == 0 {
		cfg.KafkaBrokers = []string{"localhost:9092"}
	}

	var err error
	cfg.DBMaxOpenConns, err = intEnv("DB_MAX_OPEN_CONNS", 25)
	if err != nil {
		return nil, err
	}
	cfg.DBMaxIdleConns, err = intEnv("DB_MAX_IDLE_CONNS", 5)
	if err != nil {
		return nil, err
	}
	cfg.DBConnMaxLifetimeMinutes, err = intEnv("DB_CONN_MAX_LIFETIME_MINUTES", 5)
	if err != nil {
		return nil, err
	}
	cfg.RedisDB, err = intEnv("REDIS_DB", 0)
	if err != nil {
		return nil, err
	}
	cfg.RedisPoolSize, err = intEnv("REDIS_POOL_SIZE", 10)
	if err != nil {
		return nil, err
	}
	cfg.RedisMinIdleConns, err = intEnv("REDIS_MIN_IDLE_CONNS", 2)
	if err != nil {
		return nil, err
	}
	cfg.StaleScanIntervalSeconds, err = intEnv("STALE_SCAN_INTERVAL_SECONDS", 15)
	if err != nil {
		return nil, err
	}
	cfg.SchemaSyncIntervalSeconds, err = intEnv("SCHEMA_SYNC_INTERVAL_SECONDS", 60)
	if err != nil {
		return nil, err
	}

	if v := os.Getenv("SERVICE_REGISTRATION_ENABLED"); v != "" {
		cfg.SelfRegistrationEnabled, err = strconv.ParseBool(v)
		if err != nil {
			return nil, fmt.Errorf("invalid SERVICE_REGISTRATION_ENABLED: %w", err)
		}
	}
	cfg.SelfRegistrationServiceName = os.Getenv("SERVICE_REGISTRATION_SERVICE_NAME")
	if cfg.SelfRegistrationServiceName == "" {
		cfg.SelfRegistrationServiceName = cfg.AppName
	}
	cfg.SelfRegistrationDescription = os.Getenv("SERVICE_REGISTRATION_DESCRIPTION")
	cfg.SelfRegistrationServiceType = os.Getenv("SERVICE_REGISTRATION_SERVICE_TYPE")
	if cfg.SelfRegistrationServiceType == "" {
		cfg.SelfRegistrationServiceType = "APPLICATION"
	}
	// PLATFORM_REGISTRATION_HOST wins so container schedulers can inject the
	// routable address without touching the rest of the block.
	cfg.SelfRegistrationHost = os.Getenv("PLATFORM_REGISTRATION_HOST")
	if cfg.SelfRegistrationHost == "" {
		cfg.SelfRegistrationHost = os.Getenv("SERVICE_REGISTRATION_HOST")
	}
	if cfg.SelfRegistrationHost == "" {
		cfg.SelfRegistrationHost = "localhost"
	}
	cfg.SelfRegistrationPort, err = intEnv("SERVICE_REGISTRATION_PORT", 0)
	if err != nil {
		return nil, err
	}
	if cfg.SelfRegistrationPort == 0 {
		cfg.SelfRegistrationPort, err = strconv.Atoi(cfg.GRPCPort)
		if err != nil {
			return nil, fmt.Errorf("invalid GRPC_PORT: %w", err)
		}
	}
	cfg.SelfRegistrationVersion = os.Getenv("SERVICE_REGISTRATION_VERSION")
	if cfg.SelfRegistrationVersion == "" {
		cfg.SelfRegistrationVersion = "1.0.0"
	}
	cfg.SelfRegistrationCapabilities = splitCSV(os.Getenv("SERVICE_REGISTRATION_CAPABILITIES"))
	cfg.SelfRegistrationTags = splitCSV(os.Getenv("SERVICE_REGISTRATION_TAGS"))

	if cfg.DBHost == "" || cfg.DBPort == "" || cfg.DBUser == "" || cfg.DBPassword == "" || cfg.DBName == "" {
		return nil, fmt.Errorf("missing required environment variables")
	}
	return cfg, nil
}

func intEnv(key string, def int) (int, error) {
	v := os.Getenv(key)
	if v == "" {
		return def, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, fmt.Errorf("invalid %s: %w", key, err)
	}
	return n, nil
}

func splitCSV(v string) []string {
	if v == "" {
		return nil
	}
	var out []string
	for _, part := range strings.Split(v, ",") {
		if p := strings.TrimSpace(part); p != "" {
			out = append(out, p)
		}
	}
	return out
}
