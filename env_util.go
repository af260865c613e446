package ravendb

import (
	"os"
	"strings"
)

// Environment variables consulted by LoadConfig.
const (
	EnvURL      = "RAVENDB_URL"
	EnvDatabase = "RAVENDB_DATABASE"
)

func GetEnvOrDefault(key, defaultValue string) string {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}

	return value
}

// GetEnvListOrDefault splits a comma separated variable, dropping blanks.
func GetEnvListOrDefault(key string, defaultValue []string) []string {
	value := GetEnvOrDefault(key, "")
	if value == "" {
		return defaultValue
	}

	var out []string
	for _, part := range strings.Split(value, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	if len(out) == 0 {
		return defaultValue
	}
	return out
}
