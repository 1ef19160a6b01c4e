package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// AgentConfig captures all tunable parameters for the driver agent process.
// Values are primarily loaded from environment variables with sane defaults
// so the binary can run locally without excessive setup.
type AgentConfig struct {
	DriverID    string
	DriverName  string
	VehicleType string

	APIBase      string
	ChannelURL   string
	OSRMEndpoint string

	RedisAddr     string
	RedisPassword string
	SnapshotDir   string

	KafkaBrokers []string
	KafkaTopic   string

	PGDSN string

	TimerPollInterval     time.Duration
	PassengerPollInterval time.Duration
	LocationSendEvery     int

	MetricsAddr string
	LogLevel    string
}

func defaultAgentConfig() AgentConfig {
	return AgentConfig{
		VehicleType:           "TAXI",
		APIBase:               "http://localhost:5001",
		ChannelURL:            "ws://localhost:5001/socket",
		OSRMEndpoint:          "https://router.project-osrm.org",
		SnapshotDir:           ".driver-agent",
		KafkaTopic:            "driver-locations",
		TimerPollInterval:     5 * time.Second,
		PassengerPollInterval: 10 * time.Second,
		LocationSendEvery:     3,
		MetricsAddr:           ":2112",
		LogLevel:              "info",
	}
}

func LoadAgentConfig() (AgentConfig, error) {
	cfg := defaultAgentConfig()
	var errs []error

	cfg.DriverID = strings.TrimSpace(os.Getenv("DRIVER_ID"))
	cfg.DriverName = strings.TrimSpace(os.Getenv("DRIVER_NAME"))
	if v := strings.TrimSpace(os.Getenv("DRIVER_VEHICLE_TYPE")); v != "" {
		cfg.VehicleType = strings.ToUpper(v)
	}

	setStringFromEnv(&cfg.APIBase, "API_BASE")
	setStringFromEnv(&cfg.ChannelURL, "CHANNEL_URL")
	setStringFromEnv(&cfg.OSRMEndpoint, "OSRM_ENDPOINT")

	cfg.RedisAddr = strings.TrimSpace(os.Getenv("REDIS_ADDR"))
	cfg.RedisPassword = os.Getenv("REDIS_PASSWORD")
	setStringFromEnv(&cfg.SnapshotDir, "SNAPSHOT_DIR")

	if brokers := os.Getenv("KAFKA_BROKERS"); brokers != "" {
		cfg.KafkaBrokers = splitAndTrim(brokers)
	}
	setStringFromEnv(&cfg.KafkaTopic, "KAFKA_TOPIC")

	cfg.PGDSN = os.Getenv("PG_DSN")

	setDurationFromEnv(&cfg.TimerPollInterval, "TIMER_POLL_INTERVAL", &errs)
	setDurationFromEnv(&cfg.PassengerPollInterval, "PASSENGER_POLL_INTERVAL", &errs)
	setIntFromEnv(&cfg.LocationSendEvery, "LOCATION_SEND_EVERY", &errs)

	setStringFromEnv(&cfg.MetricsAddr, "METRICS_ADDR")
	if v := os.Getenv("LOG_LEVEL"); v != "" {
		cfg.LogLevel = strings.ToLower(v)
	}

	if cfg.DriverID == "" {
		errs = append(errs, fmt.Errorf("DRIVER_ID is required"))
	}
	if cfg.TimerPollInterval <= 0 {
		errs = append(errs, fmt.Errorf("TIMER_POLL_INTERVAL must be > 0"))
	}
	if cfg.LocationSendEvery <= 0 {
		errs = append(errs, fmt.Errorf("LOCATION_SEND_EVERY must be > 0"))
	}

	return cfg, errors.Join(errs...)
}

func setDurationFromEnv(target *time.Duration, key string, errs *[]error) {
	if v := os.Getenv(key); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil {
			*errs = append(*errs, fmt.Errorf("invalid %s: %w", key, err))
			return
		}
		*target = d
	}
}

func setIntFromEnv(target *int, key string, errs *[]error) {
	if v := os.Getenv(key); v != "" {
		i, err := strconv.Atoi(v)
		if err != nil {
			*errs = append(*errs, fmt.Errorf("invalid %s: %w", key, err))
			return
		}
		*target = i
	}
}

func setStringFromEnv(target *string, key string) {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		*target = v
	}
}

func splitAndTrim(v string) []string {
	raw := strings.Split(v, ",")
	out := make([]string, 0, len(raw))
	for _, r := range raw {
		r = strings.TrimSpace(r)
		if r == "" {
			continue
		}
		out = append(out, r)
	}
	return out
}
