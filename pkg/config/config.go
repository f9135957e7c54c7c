// Package config reads the gateway's environment-driven settings. The
// helpers are shared by the server wiring and the storage backends.
package config

import (
	"os"
	"strconv"
	"time"
)

func Env(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func EnvInt(key string, def int) int {
	if v := os.Getenv(key); v != "" {
		if i, err := strconv.Atoi(v); err == nil {
			return i
		}
	}
	return def
}

func EnvDurationSec(key string, def int) time.Duration {
	return time.Second * time.Duration(EnvInt(key, def))
}

// Addr assembles the listen address from GATEWAY_BIND and GATEWAY_PORT.
func Addr() string {
	return Env("GATEWAY_BIND", "0.0.0.0") + ":" + Env("GATEWAY_PORT", "8080")
}
