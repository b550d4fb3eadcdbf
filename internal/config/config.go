package config

import (
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"
)

// Transport names accepted in TRANSPORTS.
const (
	TransportMQTT  = "mqtt"
	TransportKafka = "kafka"
	TransportSQL   = "sql"
	TransportFile  = "file"
)

type Config struct {
	AppEnv   string
	LogLevel slog.Level
	HTTPAddr string

	HomeID         string
	SensorsFile    string
	PollInterval   time.Duration
	AttemptTimeout time.Duration
	BatchSize      int
	Dataset        string
	BLEAdapter     string

	Transports []string

	MQTTBroker      string
	MQTTPort        int
	MQTTClientID    string
	MQTTTopicPrefix string

	KafkaBrokers []string
	KafkaTopic   string

	Driver          string
	DSN             string
	Path            string
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration

	FileSinkDir string
}

// HasTransport reports whether name is enabled.
func (c Config) HasTransport(name string) bool {
	return containsTransport(c.Transports, name)
}

func LoadFromEnv() (Config, error) {
	appEnv := strings.TrimSpace(os.Getenv("APP_ENV"))
	if appEnv == "" {
		appEnv = "dev"
	}
	switch appEnv {
	case "dev", "prod":
	default:
		return Config{}, fmt.Errorf("invalid APP_ENV %q (allowed: dev, prod)", appEnv)
	}

	level, err := parseLogLevel(envOr("LOG_LEVEL", "info"))
	if err != nil {
		return Config{}, err
	}

	// Empty HTTP_ADDR disables the status server, so only an unset
	// variable gets the default.
	httpAddr, ok := os.LookupEnv("HTTP_ADDR")
	if !ok {
		httpAddr = ":8080"
	}
	httpAddr = strings.TrimSpace(httpAddr)

	homeID := strings.TrimSpace(os.Getenv("HOME_ID"))
	if homeID == "" {
		return Config{}, fmt.Errorf("HOME_ID is required")
	}

	pollInterval, err := positiveDuration("POLL_INTERVAL", "60s")
	if err != nil {
		return Config{}, err
	}
	attemptTimeout, err := positiveDuration("ATTEMPT_TIMEOUT", "20s")
	if err != nil {
		return Config{}, err
	}

	batchSizeStr := envOr("BATCH_SIZE", "10")
	batchSize, err := strconv.Atoi(batchSizeStr)
	if err != nil {
		return Config{}, fmt.Errorf("invalid BATCH_SIZE %q: %w", batchSizeStr, err)
	}
	if batchSize < 0 {
		return Config{}, fmt.Errorf("BATCH_SIZE must not be negative, got %d", batchSize)
	}

	transports, err := parseTransports(envOr("TRANSPORTS", TransportMQTT))
	if err != nil {
		return Config{}, err
	}

	mqttPortStr := envOr("MQTT_PORT", "1883")
	mqttPort, err := strconv.Atoi(mqttPortStr)
	if err != nil {
		return Config{}, fmt.Errorf("invalid MQTT_PORT %q: %w", mqttPortStr, err)
	}

	kafkaBrokers := splitList(envOr("KAFKA_BROKERS", "localhost:9092"))
	kafkaTopic := envOr("KAFKA_TOPIC", "thermopoll.readings")

	dbCfg, err := LoadDatabaseFromEnv()
	if err != nil {
		return Config{}, err
	}
	if dbCfg.Driver != "sqlite3" && dbCfg.DSN == "" && containsTransport(transports, TransportSQL) {
		return Config{}, fmt.Errorf("DB_DSN is required for DB_DRIVER %q", dbCfg.Driver)
	}

	return Config{
		AppEnv:   appEnv,
		LogLevel: level,
		HTTPAddr: httpAddr,

		HomeID:         homeID,
		SensorsFile:    envOr("SENSORS_FILE", "sensors.yaml"),
		PollInterval:   pollInterval,
		AttemptTimeout: attemptTimeout,
		BatchSize:      batchSize,
		Dataset:        envOr("SENSOR_DATASET", "sensors"),
		BLEAdapter:     envOr("BLE_ADAPTER", "hci0"),

		Transports: transports,

		MQTTBroker:      envOr("MQTT_BROKER", "localhost"),
		MQTTPort:        mqttPort,
		MQTTClientID:    envOr("MQTT_CLIENT_ID", "thermopoll"),
		MQTTTopicPrefix: envOr("MQTT_TOPIC_PREFIX", "thermopoll"),

		KafkaBrokers: kafkaBrokers,
		KafkaTopic:   kafkaTopic,

		Driver:          dbCfg.Driver,
		DSN:             dbCfg.DSN,
		Path:            dbCfg.Path,
		MaxOpenConns:    dbCfg.MaxOpenConns,
		MaxIdleConns:    dbCfg.MaxIdleConns,
		ConnMaxLifetime: dbCfg.ConnMaxLifetime,

		FileSinkDir: envOr("FILE_SINK_DIR", "data/batches"),
	}, nil
}

// LoadDatabaseFromEnv reads only the DB_* and SQLITE_PATH settings.
func LoadDatabaseFromEnv() (Config, error) {
	driver := envOr("DB_DRIVER", "sqlite3")
	switch driver {
	case "sqlite3", "postgres", "mysql":
	default:
		return Config{}, fmt.Errorf("invalid DB_DRIVER %q (allowed: sqlite3, postgres, mysql)", driver)
	}

	maxOpenConnsStr := envOr("DB_MAX_OPEN_CONNS", "1")
	maxOpenConns, err := strconv.Atoi(maxOpenConnsStr)
	if err != nil {
		return Config{}, fmt.Errorf("invalid DB_MAX_OPEN_CONNS %q: %w", maxOpenConnsStr, err)
	}
	maxIdleConnsStr := envOr("DB_MAX_IDLE_CONNS", "1")
	maxIdleConns, err := strconv.Atoi(maxIdleConnsStr)
	if err != nil {
		return Config{}, fmt.Errorf("invalid DB_MAX_IDLE_CONNS %q: %w", maxIdleConnsStr, err)
	}
	connMaxLifetimeStr := envOr("DB_CONN_MAX_LIFETIME", "0s")
	connMaxLifetime, err := time.ParseDuration(connMaxLifetimeStr)
	if err != nil {
		return Config{}, fmt.Errorf("invalid DB_CONN_MAX_LIFETIME %q: %w", connMaxLifetimeStr, err)
	}

	return Config{
		Driver:          driver,
		DSN:             strings.TrimSpace(os.Getenv("DB_DSN")),
		Path:            envOr("SQLITE_PATH", "data/thermopoll.db"),
		MaxOpenConns:    maxOpenConns,
		MaxIdleConns:    maxIdleConns,
		ConnMaxLifetime: connMaxLifetime,
	}, nil
}

func envOr(key, def string) string {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return def
	}
	return v
}

func positiveDuration(key, def string) (time.Duration, error) {
	s := envOr(key, def)
	d, err := time.ParseDuration(s)
	if err != nil {
		return 0, fmt.Errorf("invalid %s %q: %w", key, s, err)
	}
	if d <= 0 {
		return 0, fmt.Errorf("%s must be positive, got %v", key, d)
	}
	return d, nil
}

func splitList(s string) []string {
	var out []string
	for _, p := range strings.Split(s, ",") {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}

func parseTransports(s string) ([]string, error) {
	var out []string
	for _, t := range splitList(strings.ToLower(s)) {
		switch t {
		case TransportMQTT, TransportKafka, TransportSQL, TransportFile:
		default:
			return nil, fmt.Errorf("invalid TRANSPORTS entry %q (allowed: mqtt, kafka, sql, file)", t)
		}
		if !containsTransport(out, t) {
			out = append(out, t)
		}
	}
	if len(out) == 0 {
		return nil, fmt.Errorf("TRANSPORTS must name at least one transport")
	}
	return out, nil
}

func containsTransport(list []string, t string) bool {
	for _, x := range list {
		if x == t {
			return true
		}
	}
	return false
}

func parseLogLevel(s string) (slog.Level, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "debug":
		return slog.LevelDebug, nil
	case "info":
		return slog.LevelInfo, nil
	case "warn", "warning":
		return slog.LevelWarn, nil
	case "error":
		return slog.LevelError, nil
	default:
		return slog.LevelInfo, fmt.Errorf("invalid LOG_LEVEL %q (allowed: debug, info, warn, error)", s)
	}
}
