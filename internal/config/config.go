// Package config loads engine configuration from a YAML file with
// TRINITY_-prefixed environment overrides.
package config

import (
	"fmt"
	"reflect"
	"strings"

	"github.com/mitchellh/mapstructure"
	"github.com/shopspring/decimal"
	"github.com/spf13/viper"
	"go.uber.org/zap"

	"github.com/wolverine-quant/trinity-engine/pkg/types"
)

// Load reads the configuration at path on top of the built-in defaults.
// An empty path loads defaults plus environment overrides only.
func Load(logger *zap.Logger, path string) (*types.EngineConfig, error) {
	v := viper.New()
	v.SetEnvPrefix("TRINITY")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	cfg := types.DefaultEngineConfig()

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("reading config %s: %w", path, err)
		}
		// A file-provided instrument list replaces the defaults wholesale.
		// Decoding into the pre-populated slice would merge entries by index
		// and leak leftover default baskets into shorter lists.
		if v.IsSet("instruments") {
			cfg.Instruments = nil
		}
		if err := v.Unmarshal(cfg, viper.DecodeHook(mapstructure.ComposeDecodeHookFunc(
			decimalDecodeHook(),
			mapstructure.StringToSliceHookFunc(","),
		))); err != nil {
			return nil, fmt.Errorf("decoding config: %w", err)
		}
		logger.Info("configuration loaded", zap.String("path", v.ConfigFileUsed()))
	} else {
		logger.Info("using default configuration")
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// decimalDecodeHook converts YAML scalars into decimal.Decimal fields.
func decimalDecodeHook() mapstructure.DecodeHookFuncType {
	return func(from reflect.Type, to reflect.Type, data interface{}) (interface{}, error) {
		if to != reflect.TypeOf(decimal.Decimal{}) {
			return data, nil
		}
		switch value := data.(type) {
		case string:
			return decimal.NewFromString(value)
		case float64:
			return decimal.NewFromFloat(value), nil
		case int:
			return decimal.NewFromInt(int64(value)), nil
		case int64:
			return decimal.NewFromInt(value), nil
		default:
			return data, nil
		}
	}
}
