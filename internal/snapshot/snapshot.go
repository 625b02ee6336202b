// Package snapshot takes deep copies of values that must not change once handed out.
package snapshot

import (
	"github.com/pkg/errors"
	"github.com/tiendc/go-deepcopy"
)

// Of returns a deep copy of src. Slices, maps and pointers are copied recursively.
func Of[T any](src T) (T, error) {
	var dst T
	if err := deepcopy.Copy(&dst, src); err != nil {
		return dst, errors.Wrapf(err, "failed to deep copy %T", src)
	}
	return dst, nil
}

// MustOf is Of for values that are always copyable. It panics otherwise.
func MustOf[T any](src T) T {
	dst, err := Of(src)
	if err != nil {
		panic("failed to take snapshot: " + err.Error())
	}
	return dst
}
