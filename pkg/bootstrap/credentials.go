package bootstrap

import (
	"bytes"
	"encoding/json"
	"strings"

	"github.com/animalet/sargantana-ksm/pkg/ksm"
	"github.com/pkg/errors"
	"github.com/xeipuuv/gojsonschema"
)

// Credentials are the application credentials produced by redeeming a one-time token.
// They hold exactly the bootstrap keys and are immutable.
type Credentials struct {
	values map[string]string
}

// NewCredentials keeps the bootstrap keys of values. Missing keys are stored empty.
func NewCredentials(values map[string]string) Credentials {
	c := Credentials{values: make(map[string]string, len(ksm.BootstrapKeys))}
	for _, k := range ksm.BootstrapKeys {
		c.values[k] = values[k]
	}
	return c
}

// FromStorage extracts the bootstrap keys from storage.
func FromStorage(storage ksm.KeyValueStorage) Credentials {
	values := make(map[string]string, len(ksm.BootstrapKeys))
	for _, k := range ksm.BootstrapKeys {
		if v, ok := storage.GetString(k); ok {
			values[k] = v
		}
	}
	return NewCredentials(values)
}

// Get returns the value of a bootstrap key.
func (c Credentials) Get(key string) string {
	return c.values[key]
}

// Missing lists the bootstrap keys without a value.
func (c Credentials) Missing() []string {
	var missing []string
	for _, k := range ksm.BootstrapKeys {
		if c.values[k] == "" {
			missing = append(missing, k)
		}
	}
	return missing
}

// Storage returns an in-memory KSM storage seeded with the credentials.
func (c Credentials) Storage() *ksm.InMemoryStorage {
	return ksm.NewInMemoryStorage(c.values)
}

// MarshalJSON writes the keys in their canonical order.
func (c Credentials) MarshalJSON() ([]byte, error) {
	var buf bytes.Buffer
	buf.WriteByte('{')
	for i, k := range ksm.BootstrapKeys {
		if i > 0 {
			buf.WriteByte(',')
		}
		key, _ := json.Marshal(k)
		value, err := json.Marshal(c.values[k])
		if err != nil {
			return nil, err
		}
		buf.Write(key)
		buf.WriteByte(':')
		buf.Write(value)
	}
	buf.WriteByte('}')
	return buf.Bytes(), nil
}

const credentialsSchema = `{
  "$schema": "http://json-schema.org/draft-07/schema#",
  "type": "object",
  "required": ["hostname", "clientId", "privateKey", "appKey"],
  "properties": {
    "hostname": {"type": "string", "minLength": 1},
    "clientId": {"type": "string", "minLength": 1},
    "privateKey": {"type": "string", "minLength": 1},
    "appKey": {"type": "string", "minLength": 1},
    "clientKey": {"type": "string"},
    "appOwnerPublicKey": {"type": "string"},
    "publicKey": {"type": "string"},
    "serverPublicKeyId": {"type": "string"}
  },
  "additionalProperties": {"type": "string"}
}`

var schemaLoader = gojsonschema.NewStringLoader(credentialsSchema)

// ParseCredentials validates stored credentials against the credentials schema and decodes them.
func ParseCredentials(data []byte) (Credentials, error) {
	result, err := gojsonschema.Validate(schemaLoader, gojsonschema.NewBytesLoader(data))
	if err != nil {
		return Credentials{}, errors.Wrap(err, "stored credentials are not valid JSON")
	}
	if !result.Valid() {
		problems := make([]string, 0, len(result.Errors()))
		for _, e := range result.Errors() {
			problems = append(problems, e.String())
		}
		return Credentials{}, errors.Errorf("stored credentials are invalid: %s", strings.Join(problems, "; "))
	}
	var values map[string]string
	if err = json.Unmarshal(data, &values); err != nil {
		return Credentials{}, errors.Wrap(err, "failed to decode stored credentials")
	}
	return NewCredentials(values), nil
}
