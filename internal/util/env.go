package util

import "os"

// GetEnv returns the value of key, or defaultValue when unset or empty.
func GetEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}
