package secrets

import (
	"github.com/pkg/errors"
)

// PropertyLookup is a read-only property set, such as the projected KSM records.
type PropertyLookup interface {
	Get(key string) (string, bool)
	Name() string
}

// PropertiesResolver exposes a property set to placeholders:
//
//	password: ${ksm:<uid>.password}
type PropertiesResolver struct {
	source PropertyLookup
}

// NewPropertiesResolver creates a resolver over source.
func NewPropertiesResolver(source PropertyLookup) *PropertiesResolver {
	return &PropertiesResolver{source: source}
}

// Resolve returns the property named key, failing when it is missing.
func (p *PropertiesResolver) Resolve(key string) (string, error) {
	value, ok := p.source.Get(key)
	if !ok {
		return "", errors.Errorf("property %q is not defined in %s", key, p.source.Name())
	}
	return value, nil
}

// Name names the underlying property source.
func (p *PropertiesResolver) Name() string {
	return "Properties(" + p.source.Name() + ")"
}
