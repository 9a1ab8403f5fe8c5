// Package config layers the service configuration from three sources, in
// increasing precedence: values already set on the struct (defaults), the
// optional YAML file, and environment variables.
package config

import (
	"fmt"
	"strings"

	"github.com/mitchellh/mapstructure"
	"github.com/spf13/viper"
)

// Load fills config, which must be a pointer to a struct. An empty file path
// skips the file layer, so env-only deployments work. Environment variable
// names are the nested keys with dots replaced by underscores
// (redis.session.prefix -> REDIS_SESSION_PREFIX).
func Load(file string, config any) error {
	v := viper.New()

	// Seed viper with the defaults so every key is known to AutomaticEnv.
	defaults := make(map[string]any)
	if err := mapstructure.Decode(config, &defaults); err != nil {
		return fmt.Errorf("decode defaults: %v", err)
	}
	if err := v.MergeConfigMap(defaults); err != nil {
		return fmt.Errorf("merge defaults: %v", err)
	}

	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if file != "" {
		v.SetConfigFile(file)
		if err := v.MergeInConfig(); err != nil {
			return fmt.Errorf("read config from file %s: %v", file, err)
		}
	}

	if err := v.Unmarshal(config); err != nil {
		return fmt.Errorf("unmarshal config: %v", err)
	}

	return nil
}
