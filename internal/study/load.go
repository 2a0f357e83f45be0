package study

import (
	"fmt"
	"path/filepath"
	"strings"

	"github.com/go-viper/mapstructure/v2"
	"github.com/knadh/koanf/parsers/json"
	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/confmap"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"

	"github.com/leapstack-labs/leapcohort/pkg/core"
)

// keyDelim separates nested keys inside koanf. Category labels and
// codelist names may contain dots, so the usual "." is not safe here.
const keyDelim = "::"

// Format is the encoding of a definition file.
type Format string

// Supported formats.
const (
	FormatYAML Format = "yaml"
	FormatJSON Format = "json"
)

// FormatFromPath picks a format from the file extension. Anything that is
// not .json is read as YAML.
func FormatFromPath(path string) Format {
	if strings.EqualFold(filepath.Ext(path), ".json") {
		return FormatJSON
	}
	return FormatYAML
}

func parserFor(f Format) koanf.Parser {
	if f == FormatJSON {
		return json.Parser()
	}
	return yaml.Parser()
}

// Load reads and validates a definition file. Relative codelist paths are
// resolved against the file's directory.
func Load(path string) (*Definition, error) {
	k := koanf.New(keyDelim)
	if err := k.Load(file.Provider(path), parserFor(FormatFromPath(path))); err != nil {
		return nil, &core.LoadError{Source: path, Err: err}
	}
	def, err := decode(k)
	if err != nil {
		return nil, &core.LoadError{Source: path, Err: err}
	}
	def.BaseDir = filepath.Dir(path)
	if err := def.Validate(); err != nil {
		return nil, err
	}
	return def, nil
}

// Parse decodes and validates a definition held in memory.
func Parse(data []byte, format Format) (*Definition, error) {
	raw, err := parserFor(format).Unmarshal(data)
	if err != nil {
		return nil, &core.LoadError{Source: "study definition", Err: err}
	}
	k := koanf.New(keyDelim)
	if err := k.Load(confmap.Provider(raw, keyDelim), nil); err != nil {
		return nil, &core.LoadError{Source: "study definition", Err: err}
	}
	def, err := decode(k)
	if err != nil {
		return nil, &core.LoadError{Source: "study definition", Err: err}
	}
	if err := def.Validate(); err != nil {
		return nil, err
	}
	return def, nil
}

func decode(k *koanf.Koanf) (*Definition, error) {
	var def Definition
	err := k.UnmarshalWithConf("", &def, koanf.UnmarshalConf{
		Tag: "koanf",
		DecoderConfig: &mapstructure.DecoderConfig{
			Result:           &def,
			TagName:          "koanf",
			ErrorUnused:      true,
			Squash:           true,
			WeaklyTypedInput: true,
		},
	})
	if err != nil {
		return nil, fmt.Errorf("decode: %w", err)
	}
	return &def, nil
}
