package config

import (
	"bufio"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"
)

type Config struct {
	HTTPAddr    string
	DataDir     string
	ArchivePath string

	// WorkflowBaseURL is the base used to build deep links in outbound
	// workflow_created messages.
	WorkflowBaseURL string

	// ValidatorEnabled turns the event-sequence monitors on. They are
	// diagnostic-only and intended for non-production builds.
	ValidatorEnabled bool

	// SessionDurationCeiling is the wall-clock budget from the first
	// enrichment start to workflow creation before the monitor warns.
	SessionDurationCeiling time.Duration

	LogLevel  string
	LogPretty bool
}

func Load() Config {
	loadDotEnv(".env")
	dataDir := getEnv("PLANWEAVE_DATA_DIR", "data")
	return Config{
		HTTPAddr:    getEnv("PLANWEAVE_HTTP_ADDR", ":8080"),
		DataDir:     dataDir,
		ArchivePath: getEnv("PLANWEAVE_ARCHIVE_PATH", filepath.Join(dataDir, "planweave.db")),

		WorkflowBaseURL: getEnv("PLANWEAVE_WORKFLOW_BASE_URL", "https://app.planweave.dev"),

		ValidatorEnabled:       getBool("PLANWEAVE_VALIDATOR_ENABLED", true),
		SessionDurationCeiling: getDuration("PLANWEAVE_SESSION_DURATION_CEILING", 30*time.Second),

		LogLevel:  getEnv("PLANWEAVE_LOG_LEVEL", "info"),
		LogPretty: getBool("PLANWEAVE_LOG_PRETTY", false),
	}
}

func getEnv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func getBool(key string, fallback bool) bool {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	parsed, err := strconv.ParseBool(v)
	if err != nil {
		return fallback
	}
	return parsed
}

func getDuration(key string, fallback time.Duration) time.Duration {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	parsed, err := time.ParseDuration(v)
	if err != nil || parsed <= 0 {
		return fallback
	}
	return parsed
}

func loadDotEnv(path string) {
	file, err := os.Open(path)
	if err != nil {
		return
	}
	defer file.Close()

	scanner := bufio.NewScanner(file)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		if strings.HasPrefix(line, "export ") {
			line = strings.TrimSpace(strings.TrimPrefix(line, "export "))
		}
		key, value, ok := strings.Cut(line, "=")
		if !ok {
			continue
		}
		key = strings.TrimSpace(key)
		if key == "" {
			continue
		}
		value = strings.TrimSpace(value)
		value = strings.Trim(value, `"'`)
		if _, exists := os.LookupEnv(key); exists {
			continue
		}
		_ = os.Setenv(key, value)
	}
}
