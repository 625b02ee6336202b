package records

import (
	"context"
	"encoding/json"
	"regexp"
	"strconv"
	"strings"

	"github.com/animalet/sargantana-ksm/pkg/ksm"
	"github.com/animalet/sargantana-ksm/pkg/ksmerr"
	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"
)

// Selector is the part of a record a notation reads.
type Selector string

const (
	SelectType        Selector = "type"
	SelectTitle       Selector = "title"
	SelectNotes       Selector = "notes"
	SelectField       Selector = "field"
	SelectCustomField Selector = "custom_field"
)

// NotationPrefix is the resolver prefix of keeper notation.
const NotationPrefix = "keeper"

// Notation addresses a value in a record:
//
//	keeper://<uid|title>/<type|title|notes>
//	keeper://<uid|title>/<field|custom_field>/<name>[<index>][<property>]
//
// An empty index ("[]") selects every value as a JSON array.
type Notation struct {
	Record   string
	Selector Selector
	Field    string
	// Index is -1 when not given.
	Index    int
	All      bool
	Property string
}

var fieldParameter = regexp.MustCompile(`^([^\[\]]+)(?:\[(\d*)\])?(?:\[([^\[\]]+)\])?$`)

// ParseNotation parses keeper notation. The "keeper:" prefix and the "//" are optional.
func ParseNotation(s string) (Notation, error) {
	raw := strings.TrimPrefix(s, NotationPrefix+":")
	raw = strings.TrimPrefix(raw, "//")
	parts := strings.Split(raw, "/")
	if len(parts) < 2 || parts[0] == "" {
		return Notation{}, errors.Errorf("invalid keeper notation %q: expected <record>/<selector>", s)
	}

	n := Notation{Record: parts[0], Selector: Selector(strings.ToLower(parts[1])), Index: -1}
	switch n.Selector {
	case SelectType, SelectTitle, SelectNotes:
		if len(parts) != 2 {
			return Notation{}, errors.Errorf("invalid keeper notation %q: %s takes no parameter", s, n.Selector)
		}
		return n, nil
	case SelectField, SelectCustomField:
	default:
		return Notation{}, errors.Errorf("invalid keeper notation %q: unknown selector %q", s, parts[1])
	}

	if len(parts) != 3 {
		return Notation{}, errors.Errorf("invalid keeper notation %q: %s needs a field name", s, n.Selector)
	}
	m := fieldParameter.FindStringSubmatch(parts[2])
	if m == nil {
		return Notation{}, errors.Errorf("invalid keeper notation %q: malformed field parameter %q", s, parts[2])
	}
	n.Field = m[1]
	n.Property = m[3]
	if strings.Contains(parts[2], "[") {
		if m[2] == "" {
			n.All = true
		} else {
			// the pattern only admits digits
			n.Index, _ = strconv.Atoi(m[2])
		}
	}
	return n, nil
}

// String formats n back to keeper notation.
func (n Notation) String() string {
	var b strings.Builder
	b.WriteString("keeper://")
	b.WriteString(n.Record)
	b.WriteByte('/')
	b.WriteString(string(n.Selector))
	if n.Field == "" {
		return b.String()
	}
	b.WriteByte('/')
	b.WriteString(n.Field)
	switch {
	case n.All:
		b.WriteString("[]")
	case n.Index >= 0:
		b.WriteString("[" + strconv.Itoa(n.Index) + "]")
	}
	if n.Property != "" {
		b.WriteString("[" + n.Property + "]")
	}
	return b.String()
}

// Evaluate reads the value n addresses from records. The record is matched by UID first, then
// by title; the first match wins.
func (n Notation) Evaluate(records []ksm.Record) (string, error) {
	r, ok := findRecord(records, n.Record)
	if !ok {
		return "", resolutionError(n.String(), "Record '%s' not found", n.Record)
	}
	switch n.Selector {
	case SelectType:
		return r.Data.Type, nil
	case SelectTitle:
		return r.Data.Title, nil
	case SelectNotes:
		return r.Data.Notes, nil
	}

	fields := r.Data.Fields
	if n.Selector == SelectCustomField {
		fields = r.Data.Custom
	}
	f, ok := findField(fields, n.Field)
	if !ok {
		return "", resolutionError(n.String(), "Field '%s' not found in record '%s'", n.Field, r.UID)
	}

	if n.All {
		values := f.Value
		if n.Property != "" {
			values = make([]any, 0, len(f.Value))
			for _, v := range f.Value {
				p, err := property(v, n.Property)
				if err != nil {
					return "", resolutionError(n.String(), "%s", err.Error())
				}
				values = append(values, p)
			}
		}
		data, err := json.Marshal(values)
		if err != nil {
			return "", errors.Wrapf(err, "failed to encode %s", n)
		}
		return string(data), nil
	}

	idx := n.Index
	if idx < 0 {
		idx = 0
	}
	if idx >= len(f.Value) {
		return "", resolutionError(n.String(), "Field '%s' has no value at index %d", n.Field, idx)
	}
	v := f.Value[idx]
	if n.Property != "" {
		var err error
		if v, err = property(v, n.Property); err != nil {
			return "", resolutionError(n.String(), "%s", err.Error())
		}
	}
	return render(v)
}

func findRecord(records []ksm.Record, key string) (ksm.Record, bool) {
	for _, r := range records {
		if r.UID == key {
			return r, true
		}
	}
	for _, r := range records {
		if r.Data.Title == key {
			return r, true
		}
	}
	return ksm.Record{}, false
}

func findField(fields []ksm.Field, name string) (ksm.Field, bool) {
	for _, f := range fields {
		if f.Label == name || f.Type == name {
			return f, true
		}
	}
	return ksm.Field{}, false
}

func property(v any, name string) (any, error) {
	m, ok := v.(map[string]any)
	if !ok {
		return nil, errors.Errorf("value is not an object, cannot read property %q", name)
	}
	p, ok := m[name]
	if !ok {
		return nil, errors.Errorf("property %q not found", name)
	}
	return p, nil
}

// NotationResolver resolves keeper notation placeholders such as ${keeper://UID/field/password}
// against live records.
type NotationResolver struct {
	ctx  context.Context
	sm   ksm.SecretsManager
	opts ksm.Options
}

// NewNotationResolver creates a resolver reading through sm. ctx bounds every lookup.
func NewNotationResolver(ctx context.Context, sm ksm.SecretsManager, opts ksm.Options) *NotationResolver {
	return &NotationResolver{ctx: ctx, sm: sm, opts: opts}
}

// Resolve evaluates key, the notation without its "keeper:" prefix.
func (r *NotationResolver) Resolve(key string) (string, error) {
	n, err := ParseNotation(key)
	if err != nil {
		return "", ksmerr.WrapConfig(err, "", "invalid keeper notation")
	}
	var uids []string
	if IsOpaqueID(n.Record) {
		uids = []string{n.Record}
	}
	secrets, err := r.sm.GetSecrets(r.ctx, r.opts, uids)
	if err != nil {
		return "", errors.Wrapf(err, "failed to read records for %s", n)
	}
	value, err := n.Evaluate(secrets.Records)
	if err != nil {
		return "", err
	}
	log.Debug().Str("notation", n.String()).Msg("Resolved keeper notation")
	return value, nil
}

// Name returns "Keeper".
func (r *NotationResolver) Name() string {
	return "Keeper"
}
