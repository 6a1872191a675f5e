package config

import (
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

type Config struct {
	AppEnv   string
	LogLevel slog.Level
	HTTPAddr string

	MQTTBroker   string
	MQTTPort     int
	MQTTClientID string

	BLEAdapter string
	// BLECompanyID filters manufacturer data during scanning; 0 disables the filter.
	BLECompanyID uint16
	// PollAddresses lists device addresses to query over GATT. Empty disables polling.
	PollAddresses []string
	PollInterval  time.Duration

	// HardwareID selects the decoding profile when the revision is known
	// out-of-band; empty means identify from the frames themselves.
	HardwareID string

	// ReplayPath feeds frames from a file instead of a radio when set.
	ReplayPath string

	SQLitePath            string
	SQLiteMaxOpenConns    int
	SQLiteMaxIdleConns    int
	SQLiteConnMaxLifetime time.Duration
}

func LoadFromEnv() (Config, error) {
	// Best-effort .env for local development; real deployments set the
	// environment directly.
	_ = godotenv.Load()

	appEnv := strings.TrimSpace(os.Getenv("APP_ENV"))
	if appEnv == "" {
		appEnv = "dev"
	}
	switch appEnv {
	case "dev", "prod":
	default:
		return Config{}, fmt.Errorf("invalid APP_ENV %q (allowed: dev, prod)", appEnv)
	}

	logLevelStr := strings.TrimSpace(os.Getenv("LOG_LEVEL"))
	if logLevelStr == "" {
		logLevelStr = "info"
	}
	level, err := parseLogLevel(logLevelStr)
	if err != nil {
		return Config{}, err
	}

	httpAddr := strings.TrimSpace(os.Getenv("HTTP_ADDR"))
	if httpAddr == "" {
		httpAddr = ":8080"
	}

	mqttBroker := strings.TrimSpace(os.Getenv("MQTT_BROKER"))
	if mqttBroker == "" {
		mqttBroker = "localhost"
	}

	mqttPortStr := strings.TrimSpace(os.Getenv("MQTT_PORT"))
	if mqttPortStr == "" {
		mqttPortStr = "1883"
	}
	mqttPort, err := strconv.Atoi(mqttPortStr)
	if err != nil {
		return Config{}, fmt.Errorf("invalid MQTT_PORT %q: %w", mqttPortStr, err)
	}

	mqttClientID := strings.TrimSpace(os.Getenv("MQTT_CLIENT_ID"))
	if mqttClientID == "" {
		mqttClientID = "blueconnect-gateway"
	}

	bleAdapter := strings.TrimSpace(os.Getenv("BLE_ADAPTER"))
	if bleAdapter == "" {
		bleAdapter = "hci0"
	}

	companyIDStr := strings.TrimSpace(os.Getenv("BLE_COMPANY_ID"))
	if companyIDStr == "" {
		companyIDStr = "0x0757"
	}
	companyID, err := strconv.ParseUint(companyIDStr, 0, 16)
	if err != nil {
		return Config{}, fmt.Errorf("invalid BLE_COMPANY_ID %q: %w", companyIDStr, err)
	}

	var pollAddresses []string
	for _, a := range strings.Split(os.Getenv("POLL_ADDRESSES"), ",") {
		if s := strings.TrimSpace(a); s != "" {
			pollAddresses = append(pollAddresses, s)
		}
	}

	pollIntervalStr := strings.TrimSpace(os.Getenv("POLL_INTERVAL"))
	if pollIntervalStr == "" {
		pollIntervalStr = "10m"
	}
	pollInterval, err := time.ParseDuration(pollIntervalStr)
	if err != nil {
		return Config{}, fmt.Errorf("invalid POLL_INTERVAL %q: %w", pollIntervalStr, err)
	}
	if pollInterval <= 0 {
		return Config{}, fmt.Errorf("POLL_INTERVAL must be positive, got %v", pollInterval)
	}

	hardwareID := strings.TrimSpace(os.Getenv("DEVICE_HARDWARE_ID"))
	replayPath := strings.TrimSpace(os.Getenv("REPLAY_PATH"))

	sqlitePath := strings.TrimSpace(os.Getenv("SQLITE_PATH"))
	if sqlitePath == "" {
		sqlitePath = "data/blueconnect.db"
	}

	maxOpenConnsStr := strings.TrimSpace(os.Getenv("DB_MAX_OPEN_CONNS"))
	if maxOpenConnsStr == "" {
		maxOpenConnsStr = "1"
	}
	maxOpenConns, err := strconv.Atoi(maxOpenConnsStr)
	if err != nil {
		return Config{}, fmt.Errorf("invalid DB_MAX_OPEN_CONNS %q: %w", maxOpenConnsStr, err)
	}

	maxIdleConnsStr := strings.TrimSpace(os.Getenv("DB_MAX_IDLE_CONNS"))
	if maxIdleConnsStr == "" {
		maxIdleConnsStr = "1"
	}
	maxIdleConns, err := strconv.Atoi(maxIdleConnsStr)
	if err != nil {
		return Config{}, fmt.Errorf("invalid DB_MAX_IDLE_CONNS %q: %w", maxIdleConnsStr, err)
	}

	connMaxLifetimeStr := strings.TrimSpace(os.Getenv("DB_CONN_MAX_LIFETIME"))
	if connMaxLifetimeStr == "" {
		connMaxLifetimeStr = "0s"
	}
	connMaxLifetime, err := time.ParseDuration(connMaxLifetimeStr)
	if err != nil {
		return Config{}, fmt.Errorf("invalid DB_CONN_MAX_LIFETIME %q: %w", connMaxLifetimeStr, err)
	}

	return Config{
		AppEnv:                appEnv,
		LogLevel:              level,
		HTTPAddr:              httpAddr,
		MQTTBroker:            mqttBroker,
		MQTTPort:              mqttPort,
		MQTTClientID:          mqttClientID,
		BLEAdapter:            bleAdapter,
		BLECompanyID:          uint16(companyID),
		PollAddresses:         pollAddresses,
		PollInterval:          pollInterval,
		HardwareID:            hardwareID,
		ReplayPath:            replayPath,
		SQLitePath:            sqlitePath,
		SQLiteMaxOpenConns:    maxOpenConns,
		SQLiteMaxIdleConns:    maxIdleConns,
		SQLiteConnMaxLifetime: connMaxLifetime,
	}, nil
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
