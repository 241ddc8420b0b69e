package envutil

import (
	"fmt"
	"os"
	"strconv"
	"time"
)

func GetStr(key string, defaultValue string) string {
	if value, ok := os.LookupEnv(key); ok {
		return value
	}
	return defaultValue
}

func GetInt(key string, defaultValue int) int {
	strValue, ok := os.LookupEnv(key)
	if !ok {
		return defaultValue
	}
	value, err := strconv.Atoi(strValue)
	if err != nil {
		warn(key, defaultValue, err)
		return defaultValue
	}
	return value
}

func GetInt64(key string, defaultValue int64) int64 {
	strValue, ok := os.LookupEnv(key)
	if !ok {
		return defaultValue
	}
	value, err := strconv.ParseInt(strValue, 10, 64)
	if err != nil {
		warn(key, defaultValue, err)
		return defaultValue
	}
	return value
}

func GetBool(key string, defaultValue bool) bool {
	strValue, ok := os.LookupEnv(key)
	if !ok {
		return defaultValue
	}
	value, err := strconv.ParseBool(strValue)
	if err != nil {
		warn(key, defaultValue, err)
		return defaultValue
	}
	return value
}

// GetDuration accepts anything time.ParseDuration does, e.g. "30s".
func GetDuration(key string, defaultValue time.Duration) time.Duration {
	strValue, ok := os.LookupEnv(key)
	if !ok {
		return defaultValue
	}
	value, err := time.ParseDuration(strValue)
	if err != nil {
		warn(key, defaultValue, err)
		return defaultValue
	}
	return value
}

func warn(key string, defaultValue any, err error) {
	fmt.Fprintf(os.Stderr, "envutil: error parsing %s, defaulting to %v: %s\n", key, defaultValue, err)
}
