// Package config reads the application configuration file and binds sections of it into typed
// structs. YAML and TOML files are supported; values may contain ${prefix:key} placeholders that
// are resolved through the secrets registry when a section is bound.
package config

import (
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/animalet/sargantana-ksm/internal/expansion"
	"github.com/pelletier/go-toml/v2"
	"github.com/pkg/errors"
	"gopkg.in/yaml.v3"
)

// Validatable is implemented by every bound section.
type Validatable interface {
	Validate() error
}

// ClientFactory is a section that can build the client it configures.
//
//	client, err := cfg.Vault.CreateClient()
type ClientFactory[T any] interface {
	Validatable
	CreateClient() (T, error)
}

// Format is a configuration file syntax.
type Format string

const (
	YAML Format = "yaml"
	TOML Format = "toml"
)

// FormatOf picks the format from the file extension.
func FormatOf(path string) (Format, error) {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		return YAML, nil
	case ".toml":
		return TOML, nil
	}
	return "", errors.Errorf("unsupported configuration file %q: expected .yaml, .yml or .toml", path)
}

// Source is a parsed configuration tree. It is never modified after parsing.
type Source struct {
	tree map[string]any
}

// ReadConfig reads and parses file.
func ReadConfig(file string) (*Source, error) {
	format, err := FormatOf(file)
	if err != nil {
		return nil, err
	}
	// #nosec G304 -- the configuration path is chosen by the operator
	data, err := os.ReadFile(file)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to read configuration file %q", file)
	}
	src, err := Parse(data, format)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to parse configuration file %q", file)
	}
	return src, nil
}

// Parse parses data as format.
func Parse(data []byte, format Format) (*Source, error) {
	tree := map[string]any{}
	var err error
	switch format {
	case YAML:
		err = yaml.Unmarshal(data, &tree)
	case TOML:
		err = toml.Unmarshal(data, &tree)
	default:
		return nil, errors.Errorf("unsupported configuration format %q", format)
	}
	if err != nil {
		return nil, err
	}
	if tree == nil {
		tree = map[string]any{}
	}
	return &Source{tree: tree}, nil
}

// FromMap builds a source over tree.
func FromMap(tree map[string]any) *Source {
	if tree == nil {
		tree = map[string]any{}
	}
	return &Source{tree: tree}
}

// Lookup returns the raw value at a dotted path such as "keeper.ksm.secret_path". Keys that
// contain dots themselves are matched as well.
func (s *Source) Lookup(path string) (any, bool) {
	if s == nil || path == "" {
		return nil, false
	}
	return lookup(s.tree, strings.Split(path, "."))
}

func lookup(node any, parts []string) (any, bool) {
	if len(parts) == 0 {
		return node, true
	}
	m, ok := node.(map[string]any)
	if !ok {
		return nil, false
	}
	// Longest key first so that "a.b" as a literal key wins over nested a → b.
	for i := len(parts); i > 0; i-- {
		child, ok := m[strings.Join(parts[:i], ".")]
		if !ok {
			continue
		}
		if v, found := lookup(child, parts[i:]); found {
			return v, true
		}
	}
	return nil, false
}

// Has reports whether path is set.
func (s *Source) Has(path string) bool {
	_, ok := s.Lookup(path)
	return ok
}

// String returns the scalar at path as a string with placeholders expanded, or def when unset.
func (s *Source) String(path, def string) (string, error) {
	v, ok := s.Lookup(path)
	if !ok || v == nil {
		return def, nil
	}
	var raw string
	switch t := v.(type) {
	case string:
		raw = t
	case bool:
		raw = strconv.FormatBool(t)
	case int:
		raw = strconv.Itoa(t)
	case int64:
		raw = strconv.FormatInt(t, 10)
	case float64:
		raw = strconv.FormatFloat(t, 'f', -1, 64)
	default:
		return "", errors.Errorf("configuration value %q is not a scalar", path)
	}
	value, err := expansion.String(raw)
	if err != nil {
		return "", errors.Wrapf(err, "failed to expand %q", path)
	}
	return value, nil
}

// Get binds the section at key into a new T, expands its placeholders and validates it.
func Get[T Validatable](src *Source, key string) (*T, error) {
	section, ok := src.Lookup(key)
	if !ok {
		return nil, errors.Errorf("no configuration found for %q", key)
	}
	return bind[T](section, key)
}

// GetOrDefault is Get with an empty section when key is unset.
func GetOrDefault[T Validatable](src *Source, key string) (*T, error) {
	section, ok := src.Lookup(key)
	if !ok {
		section = map[string]any{}
	}
	return bind[T](section, key)
}

func bind[T Validatable](section any, key string) (*T, error) {
	// Round trip through YAML so that TOML sources bind with the same struct tags.
	data, err := yaml.Marshal(section)
	if err != nil {
		return nil, errors.Wrapf(err, "error marshalling %q to YAML", key)
	}
	var out T
	if err = yaml.Unmarshal(data, &out); err != nil {
		return nil, errors.Wrapf(err, "configuration %q does not match the expected structure", key)
	}
	if err = expansion.ExpandVariables(&out); err != nil {
		return nil, errors.Wrapf(err, "failed to expand configuration %q", key)
	}
	if err = out.Validate(); err != nil {
		return nil, errors.Wrapf(err, "configuration %q is invalid", key)
	}
	return &out, nil
}
