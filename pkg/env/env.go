// Package env reads raw environment variables for the few settings
// needed before the typed config is loaded.
package env

import "os"

// Get returns the environment value for key, or fallback when unset
// or empty.
func Get(key, fallback string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return fallback
}
