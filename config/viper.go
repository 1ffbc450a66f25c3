package config

import (
	"strings"

	"github.com/spf13/viper"
)

// SettingDefaults is the typed allowlist of recognized setting names from
// §3 (Settings), each mapped to its default value. The settings store
// (C4) uses this to bootstrap viper before any persisted override is
// applied.
var SettingDefaults = map[string]string{
	"AGGREGATION_INTERVAL":   "1m",
	"RETENTION_DAYS":         "30",
	"LOG_TRIM_INTERVAL":      "10m",
	"MAX_LOGS_PER_FUNCTION":  "2000",
	"ROTATION_CHECK_INTERVAL": "5m",
	"ROTATION_INTERVAL_DAYS": "90",
	"ROTATION_BATCH_SIZE":    "100",
	"ROTATION_BATCH_SLEEP_MS": "50",
	"API_ACCESS_GROUPS":      "",
	"LOG_LEVEL":              "info",
	"API_RATE_LIMIT_RPS":     "0",
}

// EncryptedSettingNames lists the settings whose values are marked
// encrypted per §3 and must be transparently encrypted/decrypted via C1.
// None of the current allowlist entries are sensitive values (intervals,
// counts, a log level, a list of group names), so the set starts empty;
// a future recognized name holding a credential-like value would be added
// here with a true value.
var EncryptedSettingNames = map[string]bool{}

// NewViper builds a viper instance seeded with SettingDefaults and
// overridable by FNRELAY_-prefixed environment variables, grounding the
// settings store's bootstrap layer the way the teacher's config package
// layers environment loading beneath persisted configuration.
func NewViper() *viper.Viper {
	v := viper.New()
	v.SetEnvPrefix("FNRELAY")
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	v.AutomaticEnv()
	for name, def := range SettingDefaults {
		v.SetDefault(name, def)
	}
	return v
}
