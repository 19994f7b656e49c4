package config

import (
	"fmt"
	"os"

	"github.com/spf13/cast"
	"github.com/subosito/gotenv"
)

const (
	EnvHost     = "RETHINKDB_HOST"
	EnvPort     = "RETHINKDB_PORT"
	EnvDB       = "RETHINKDB_DB"
	EnvAuthKey  = "RETHINKDB_AUTH_KEY"
	EnvUsername = "RETHINKDB_USERNAME"
	EnvPassword = "RETHINKDB_PASSWORD"
	EnvPoolMin  = "RETHINKDB_POOL_MIN"
	EnvPoolMax  = "RETHINKDB_POOL_MAX"
)

// LoadEnv loads .env style files into the process environment without
// overriding variables that are already set. Missing files are skipped.
func LoadEnv(files ...string) error {
	if len(files) == 0 {
		files = []string{".env"}
	}
	for _, f := range files {
		if _, err := os.Stat(f); os.IsNotExist(err) {
			continue
		}
		if err := gotenv.Load(f); err != nil {
			return fmt.Errorf("config: load %s: %w", f, err)
		}
	}
	return nil
}

// ApplyEnv overrides cfg with the RETHINKDB_* variables that are set.
func ApplyEnv(cfg *Config) error {
	strs := map[string]*string{
		EnvHost:     &cfg.Host,
		EnvDB:       &cfg.DB,
		EnvAuthKey:  &cfg.AuthKey,
		EnvUsername: &cfg.Username,
		EnvPassword: &cfg.Password,
	}
	for key, dst := range strs {
		if v, ok := os.LookupEnv(key); ok {
			*dst = v
		}
	}

	ints := map[string]*int{
		EnvPort:    &cfg.Port,
		EnvPoolMin: &cfg.Min,
		EnvPoolMax: &cfg.Max,
	}
	for key, dst := range ints {
		v, ok := os.LookupEnv(key)
		if !ok {
			continue
		}
		n, err := cast.ToIntE(v)
		if err != nil {
			return fmt.Errorf("config: %s: %w", key, err)
		}
		*dst = n
	}
	return nil
}
