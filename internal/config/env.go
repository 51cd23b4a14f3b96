package config

import (
	"os"
	"strconv"
	"strings"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// lookupEnv returns the trimmed value of EnvPrefix+name, if set and not
// blank.
func lookupEnv(name string) (string, bool) {
	value, ok := os.LookupEnv(EnvPrefix + name)
	if !ok {
		return "", false
	}
	value = strings.TrimSpace(value)
	return value, value != ""
}

func warnInvalidEnv(name, value string, err error) {
	log.Warn().Err(err).Str("var", EnvPrefix+name).Str("value", value).Msg("Ignoring invalid environment value")
}

// GetEnvString returns RIVER_<name>, or def when unset. An explicitly empty
// value is kept so that settings like the API key can be cleared.
func GetEnvString(name, def string) string {
	if value, ok := os.LookupEnv(EnvPrefix + name); ok {
		return value
	}
	return def
}

// GetEnvInt returns RIVER_<name> parsed as an int, or def.
func GetEnvInt(name string, def int) int {
	raw, ok := lookupEnv(name)
	if !ok {
		return def
	}
	n, err := strconv.Atoi(raw)
	if err != nil {
		warnInvalidEnv(name, raw, err)
		return def
	}
	return n
}

// GetEnvBool returns RIVER_<name> parsed as a bool, or def. Besides the
// strconv forms it accepts yes/no and y/n.
func GetEnvBool(name string, def bool) bool {
	raw, ok := lookupEnv(name)
	if !ok {
		return def
	}
	switch strings.ToLower(raw) {
	case "y", "yes":
		return true
	case "n", "no":
		return false
	}
	b, err := strconv.ParseBool(raw)
	if err != nil {
		warnInvalidEnv(name, raw, err)
		return def
	}
	return b
}

// GetEnvLogLevel returns RIVER_<name> parsed as a zerolog level, or def.
func GetEnvLogLevel(name string, def zerolog.Level) zerolog.Level {
	raw, ok := lookupEnv(name)
	if !ok {
		return def
	}
	level, err := zerolog.ParseLevel(strings.ToLower(raw))
	if err != nil {
		warnInvalidEnv(name, raw, err)
		return def
	}
	return level
}
