package config

import (
	"log"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

type Config struct {
	App       AppConfig
	TA2       TA2Config
	Search    SearchConfig
	Artifacts ArtifactConfig
	Events    EventConfig
}

type AppConfig struct {
	Port               string
	Environment        string
	LogFilePath        string
	GatewayLogFilePath string
	CorsAllowedOrigins string
	OtelEnabled        bool
	OtelEndpoint       string
}

type TA2Config struct {
	Address           string
	UserAgent         string
	ProtocolVersion   string
	AllowedValueTypes []string
	ConnectTimeout    time.Duration
}

type SearchConfig struct {
	Deadline         time.Duration
	TimeBoundMinutes int
	Priority         int
	ProblemPath      string // JSON problem document sent verbatim to the TA2
	DatasetURI       string
	Metrics          []string // fixed metric set scored after every search
	RankCutoff       int      // only ranks 1..RankCutoff are considered (lower is better)
	RankMetric       string
}

type ArtifactConfig struct {
	Backend  string // "file" or "redis"
	Dir      string
	CacheTTL time.Duration
	RedisURL string
}

type EventConfig struct {
	NatsURL string // empty disables the NATS mirror
}

func Load() *Config {
	if err := godotenv.Load(); err != nil {
		log.Println("Note: .env file not found, usage system environment")
	}

	return &Config{
		App: AppConfig{
			Port:               getEnv("APP_PORT", "9090"),
			Environment:        getEnv("GO_ENV", "development"),
			LogFilePath:        getEnv("LOG_FILE_PATH", "logs/relay.log"),
			GatewayLogFilePath: getEnv("GATEWAY_LOG_FILE_PATH", "logs/gateway.log"),
			CorsAllowedOrigins: getEnv("CORS_ALLOWED_ORIGINS", "*"),
			OtelEnabled:        getEnvAsBool("OTEL_ENABLED", false),
			OtelEndpoint:       getEnv("OTEL_EXPORTER_OTLP_ENDPOINT", "localhost:4318"),
		},
		TA2: TA2Config{
			Address:           getEnv("TA2_ADDRESS", "localhost:50051"),
			UserAgent:         getEnv("TA2_USER_AGENT", "TA3-TGW"),
			ProtocolVersion:   getEnv("TA2_PROTOCOL_VERSION", "2018.7.7"),
			AllowedValueTypes: getEnvAsList("TA2_ALLOWED_VALUE_TYPES", []string{"1", "2", "3"}),
			ConnectTimeout:    getEnvAsDuration("TA2_CONNECT_TIMEOUT", 5*time.Second),
		},
		Search: SearchConfig{
			Deadline:         getEnvAsDuration("SEARCH_DEADLINE", 10*time.Minute),
			TimeBoundMinutes: getEnvAsInt("SEARCH_TIME_BOUND_MINUTES", 1),
			Priority:         getEnvAsInt("SEARCH_PRIORITY", 0),
			ProblemPath:      getEnv("SEARCH_PROBLEM_PATH", ""),
			DatasetURI:       getEnv("SEARCH_DATASET_URI", ""),
			Metrics:          getEnvAsList("SCORE_METRICS", []string{"accuracy"}),
			RankCutoff:       getEnvAsInt("RANK_CUTOFF", 20),
			RankMetric:       getEnv("RANK_METRIC", "accuracy"),
		},
		Artifacts: ArtifactConfig{
			Backend:  getEnv("ARTIFACT_BACKEND", "file"),
			Dir:      getEnv("ARTIFACT_DIR", "./responses/describeSolutionResponses"),
			CacheTTL: getEnvAsDuration("ARTIFACT_CACHE_TTL", 10*time.Minute),
			RedisURL: getEnv("REDIS_URL", "redis://localhost:6379"),
		},
		Events: EventConfig{
			NatsURL: getEnv("NATS_URL", ""),
		},
	}
}

func getEnv(key, fallback string) string {
	if value, exists := os.LookupEnv(key); exists {
		return value
	}
	return fallback
}

func getEnvAsInt(key string, fallback int) int {
	strValue := getEnv(key, "")
	if value, err := strconv.Atoi(strValue); err == nil {
		return value
	}
	return fallback
}

func getEnvAsBool(key string, fallback bool) bool {
	strValue := getEnv(key, "")
	if value, err := strconv.ParseBool(strValue); err == nil {
		return value
	}
	return fallback
}

func getEnvAsDuration(key string, fallback time.Duration) time.Duration {
	strValue := getEnv(key, "")
	if value, err := time.ParseDuration(strValue); err == nil && value > 0 {
		return value
	}
	return fallback
}

// getEnvAsList splits a comma separated value, dropping blanks.
func getEnvAsList(key string, fallback []string) []string {
	strValue := getEnv(key, "")
	if strings.TrimSpace(strValue) == "" {
		return fallback
	}
	var out []string
	for _, part := range strings.Split(strValue, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	if len(out) == 0 {
		return fallback
	}
	return out
}
