package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	jsoniter "github.com/json-iterator/go"
	"github.com/mitchellh/mapstructure"
	"github.com/pelletier/go-toml"
	log "github.com/sirupsen/logrus"
	"gopkg.in/yaml.v3"
)

// Decode applies options on top of a copy of base. Unknown keys are
// ignored and logged.
func Decode(base *Config, options map[string]interface{}) (*Config, error) {
	if base == nil {
		base = Default()
	}
	if v, ok := options["migrate"]; ok {
		if _, isString := v.(string); !isString {
			return nil, errors.New("config: options.migrate must be a string")
		}
	}

	out := *base
	var md mapstructure.Metadata
	decoder, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		DecodeHook:       mapstructure.StringToTimeDurationHookFunc(),
		WeaklyTypedInput: true,
		Metadata:         &md,
		Result:           &out,
	})
	if err != nil {
		return nil, err
	}
	if err := decoder.Decode(options); err != nil {
		return nil, fmt.Errorf("config: %w", err)
	}
	if len(md.Unused) > 0 {
		log.WithField("keys", md.Unused).Debug("config: ignoring unknown keys")
	}
	return &out, nil
}

// Configure decodes options onto the current settings, or onto the
// defaults when strict is set, and validates the result.
func Configure(current *Config, options map[string]interface{}, strict bool) (*Config, error) {
	if options == nil {
		return nil, errors.New("config: options must be an object")
	}
	base := current
	if strict || base == nil {
		base = Default()
	}
	cfg, err := Decode(base, options)
	if err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Load reads a config file on top of the defaults. The format follows
// the file extension.
func Load(path string) (*Config, error) {
	raw, err := ReadFile(path)
	if err != nil {
		return nil, err
	}
	cfg, err := Decode(Default(), raw)
	if err != nil {
		return nil, err
	}
	return cfg, nil
}

// ReadFile opens a .json, .yaml/.yml or .toml file as a generic map.
func ReadFile(path string) (map[string]interface{}, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	raw := map[string]interface{}{}
	switch ext := strings.ToLower(filepath.Ext(path)); ext {
	case ".json":
		var json = jsoniter.ConfigFastest
		err = json.Unmarshal(data, &raw)
	case ".yaml", ".yml":
		err = yaml.Unmarshal(data, &raw)
	case ".toml":
		var tree *toml.Tree
		tree, err = toml.LoadBytes(data)
		if err == nil {
			raw = tree.ToMap()
		}
	default:
		return nil, fmt.Errorf("config: unsupported file type %q", ext)
	}
	if err != nil {
		return nil, fmt.Errorf("config: read %s: %w", path, err)
	}
	return raw, nil
}
