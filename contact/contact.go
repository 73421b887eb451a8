package contact

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"
)

// Field names every contact record must carry
const (
	FieldName  = "name"
	FieldEmail = "email"
)

// Output envelope fields. The stored record sits under valueField untouched,
// so none of its own fields can collide with the primary key.
const (
	keyField   = "key"
	valueField = "value"
)

// Contact is a decoded contact record.
// Fields other than name and email are kept in Extra and written back on output.
type Contact struct {
	Key   uint64
	Name  string
	Email string
	Extra map[string]interface{}
}

// DecodeContact decodes a stored JSON object into a Contact.
// The object must have string name and email fields.
func DecodeContact(key uint64, data []byte) (Contact, error) {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()

	var fields map[string]interface{}
	if err := dec.Decode(&fields); err != nil {
		return Contact{}, fmt.Errorf("%w: %v", ErrMalformedRecord, err)
	}
	if err := dec.Decode(&json.RawMessage{}); !errors.Is(err, io.EOF) {
		return Contact{}, fmt.Errorf("%w: trailing data after object", ErrMalformedRecord)
	}
	if fields == nil {
		return Contact{}, fmt.Errorf("%w: record is not an object", ErrMalformedRecord)
	}

	c := Contact{Key: key}
	var err error
	if c.Name, err = stringField(fields, FieldName); err != nil {
		return Contact{}, err
	}
	if c.Email, err = stringField(fields, FieldEmail); err != nil {
		return Contact{}, err
	}

	delete(fields, FieldName)
	delete(fields, FieldEmail)
	if len(fields) > 0 {
		c.Extra = fields
	}
	return c, nil
}

func stringField(fields map[string]interface{}, name string) (string, error) {
	raw, ok := fields[name]
	if !ok {
		return "", fmt.Errorf("%w: missing %q field", ErrMalformedRecord, name)
	}
	s, ok := raw.(string)
	if !ok {
		return "", fmt.Errorf("%w: field %q is %T, not a string", ErrMalformedRecord, name, raw)
	}
	return s, nil
}

// Encode returns the stored form of the contact, without its key
func (c Contact) Encode() ([]byte, error) {
	return json.Marshal(c.fields())
}

// MarshalJSON writes {"key": <primary key>, "value": <stored record>}
func (c Contact) MarshalJSON() ([]byte, error) {
	return json.Marshal(map[string]interface{}{
		keyField:   c.Key,
		valueField: c.fields(),
	})
}

// UnmarshalJSON reads the form written by MarshalJSON
func (c *Contact) UnmarshalJSON(data []byte) error {
	var envelope struct {
		Key   json.Number     `json:"key"`
		Value json.RawMessage `json:"value"`
	}
	if err := json.Unmarshal(data, &envelope); err != nil {
		return err
	}

	var key uint64
	if envelope.Key != "" {
		parsed, err := strconv.ParseUint(envelope.Key.String(), 10, 64)
		if err != nil {
			return fmt.Errorf("invalid contact key %q: %w", envelope.Key, err)
		}
		key = parsed
	}
	if len(envelope.Value) == 0 {
		return fmt.Errorf("%w: missing %q", ErrMalformedRecord, valueField)
	}

	decoded, err := DecodeContact(key, envelope.Value)
	if err != nil {
		return err
	}
	*c = decoded
	return nil
}

func (c Contact) fields() map[string]interface{} {
	out := make(map[string]interface{}, len(c.Extra)+2)
	for k, v := range c.Extra {
		out[k] = v
	}
	out[FieldName] = c.Name
	out[FieldEmail] = c.Email
	return out
}

// Matches reports whether query is a case-insensitive substring of the
// contact's name or email. The empty query matches every contact.
func (c Contact) Matches(query string) bool {
	return c.matchesLower(strings.ToLower(query))
}

func (c Contact) matchesLower(needle string) bool {
	return strings.Contains(strings.ToLower(c.Name), needle) ||
		strings.Contains(strings.ToLower(c.Email), needle)
}
