package records

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/animalet/sargantana-ksm/pkg/ksm"
	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"
)

// Project flattens records into "<uid>.<name>" properties. Every record contributes its title
// and type, its notes when present, and one property per field named after the field label, or
// the field type when the label is blank. Multiple values are joined with commas. Custom fields
// are projected after standard ones and win on name clashes.
//
// A field whose value cannot be rendered is logged and left out.
func Project(records []ksm.Record) map[string]string {
	props := make(map[string]string)
	for _, r := range records {
		prefix := r.UID + "."
		props[prefix+"title"] = r.Data.Title
		props[prefix+"type"] = r.Data.Type
		if r.Data.Notes != "" {
			props[prefix+"notes"] = r.Data.Notes
		}
		for _, fields := range [][]ksm.Field{r.Data.Fields, r.Data.Custom} {
			for _, f := range fields {
				name := fieldName(f)
				value, err := joinValues(f.Value)
				if err != nil {
					log.Warn().Err(err).Str("record", r.UID).Str("field", name).Msg("Failed to extract value from field")
					continue
				}
				props[prefix+name] = value
			}
		}
	}
	return props
}

func fieldName(f ksm.Field) string {
	if strings.TrimSpace(f.Label) != "" {
		return f.Label
	}
	return f.Type
}

func joinValues(values []any) (string, error) {
	parts := make([]string, 0, len(values))
	for _, v := range values {
		s, err := render(v)
		if err != nil {
			return "", err
		}
		parts = append(parts, s)
	}
	return strings.Join(parts, ","), nil
}

// render formats scalars as text and anything else as JSON.
func render(v any) (string, error) {
	switch t := v.(type) {
	case nil:
		return "", nil
	case string:
		return t, nil
	case json.Number:
		return t.String(), nil
	case bool, int, int8, int16, int32, int64, uint, uint8, uint16, uint32, uint64, float32, float64:
		return fmt.Sprint(t), nil
	case fmt.Stringer:
		return t.String(), nil
	}
	data, err := json.Marshal(v)
	if err != nil {
		return "", errors.Wrapf(err, "unrenderable %T value", v)
	}
	return string(data), nil
}
