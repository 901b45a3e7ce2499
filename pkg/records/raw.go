package records

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"
)

// RawRecord is one upstream page item: external field name to untyped
// scalar, in the order the fields arrived on the wire.
type RawRecord struct {
	keys   []string
	values map[string]any
}

// NewRawRecord builds a RawRecord from alternating key/value pairs.
func NewRawRecord(pairs ...any) RawRecord {
	var r RawRecord
	for i := 0; i+1 < len(pairs); i += 2 {
		r.Set(fmt.Sprint(pairs[i]), pairs[i+1])
	}
	return r
}

// Set assigns a value, keeping the original position of existing keys.
func (r *RawRecord) Set(key string, value any) {
	if r.values == nil {
		r.values = make(map[string]any)
	}
	if _, ok := r.values[key]; !ok {
		r.keys = append(r.keys, key)
	}
	r.values[key] = value
}

// Get returns the value stored under the exact key.
func (r RawRecord) Get(key string) (any, bool) {
	v, ok := r.values[key]
	return v, ok
}

// Lookup returns the value for key, falling back to a case-insensitive
// match. The returned name is the key as it appeared upstream.
func (r RawRecord) Lookup(key string) (value any, name string, ok bool) {
	if v, found := r.values[key]; found {
		return v, key, true
	}
	for _, k := range r.keys {
		if strings.EqualFold(k, key) {
			return r.values[k], k, true
		}
	}
	return nil, "", false
}

// Keys returns field names in wire order.
func (r RawRecord) Keys() []string {
	return append([]string(nil), r.keys...)
}

// Len returns the number of fields.
func (r RawRecord) Len() int {
	return len(r.keys)
}

// UnmarshalJSON decodes a flat JSON object preserving key order.
// Numbers decode as json.Number so integer precision survives.
func (r *RawRecord) UnmarshalJSON(data []byte) error {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()

	tok, err := dec.Token()
	if err != nil {
		return err
	}
	if delim, ok := tok.(json.Delim); !ok || delim != '{' {
		return fmt.Errorf("raw record must be a JSON object, got %v", tok)
	}

	*r = RawRecord{}
	for dec.More() {
		tok, err := dec.Token()
		if err != nil {
			return err
		}
		key, ok := tok.(string)
		if !ok {
			return fmt.Errorf("unexpected object key %v", tok)
		}
		var value any
		if err := dec.Decode(&value); err != nil {
			return fmt.Errorf("decoding field %s: %w", key, err)
		}
		r.Set(key, value)
	}

	_, err = dec.Token()
	return err
}

// MarshalJSON encodes the record as an object in wire order.
func (r RawRecord) MarshalJSON() ([]byte, error) {
	var buf bytes.Buffer
	buf.WriteByte('{')
	for i, k := range r.keys {
		if i > 0 {
			buf.WriteByte(',')
		}
		kb, err := json.Marshal(k)
		if err != nil {
			return nil, err
		}
		vb, err := json.Marshal(r.values[k])
		if err != nil {
			return nil, err
		}
		buf.Write(kb)
		buf.WriteByte(':')
		buf.Write(vb)
	}
	buf.WriteByte('}')
	return buf.Bytes(), nil
}
