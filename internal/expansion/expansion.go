// Package expansion replaces ${prefix:key} placeholders in bound configuration values.
package expansion

import (
	"os"
	"reflect"
	"strings"

	"github.com/animalet/sargantana-ksm/pkg/secrets"
	"github.com/pkg/errors"
)

// String expands every placeholder in s through the secrets registry. The first resolution
// failure is returned.
func String(s string) (string, error) {
	var expandErr error
	expanded := os.Expand(strings.TrimSpace(s), func(property string) string {
		if expandErr != nil {
			return ""
		}
		value, err := secrets.Resolve(property)
		if err != nil {
			expandErr = errors.Wrap(err, "error resolving property")
			return ""
		}
		return value
	})
	if expandErr != nil {
		return "", expandErr
	}
	return expanded, nil
}

// ExpandVariables walks toExpand, a pointer, and expands every settable string it reaches
// through structs, pointers, slices, maps and interface values.
func ExpandVariables(toExpand any) error {
	if toExpand == nil {
		return nil
	}
	v := reflect.ValueOf(toExpand)
	if v.Kind() == reflect.Ptr {
		if v.IsNil() {
			return nil
		}
		v = v.Elem()
	}
	return expandValue(v)
}

func expandValue(val reflect.Value) error {
	switch val.Kind() {
	case reflect.String:
		if !val.CanSet() {
			return nil
		}
		expanded, err := String(val.String())
		if err != nil {
			return err
		}
		val.SetString(expanded)

	case reflect.Struct:
		for i := 0; i < val.NumField(); i++ {
			if err := expandValue(val.Field(i)); err != nil {
				return err
			}
		}

	case reflect.Ptr:
		if !val.IsNil() {
			return expandValue(val.Elem())
		}

	case reflect.Interface:
		if val.IsNil() || !val.CanSet() {
			return nil
		}
		inner := reflect.New(val.Elem().Type()).Elem()
		inner.Set(val.Elem())
		if err := expandValue(inner); err != nil {
			return err
		}
		val.Set(inner)

	case reflect.Slice:
		for j := 0; j < val.Len(); j++ {
			if err := expandValue(val.Index(j)); err != nil {
				return err
			}
		}

	case reflect.Map:
		for _, key := range val.MapKeys() {
			// map elements are not addressable
			elem := reflect.New(val.Type().Elem()).Elem()
			elem.Set(val.MapIndex(key))
			if err := expandValue(elem); err != nil {
				return err
			}
			val.SetMapIndex(key, elem)
		}
	}
	return nil
}
