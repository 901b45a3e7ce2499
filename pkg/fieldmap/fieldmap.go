// Package fieldmap translates upstream field names into the canonical
// schema. Each record kind has an explicit, auditable table instead of
// struct tags, so an upstream rename shows up as a table diff.
package fieldmap

import (
	_ "embed"
	"fmt"
	"os"
	"slices"

	"github.com/goccy/go-yaml"

	"github.com/agentstation/kstartup/pkg/errors"
	"github.com/agentstation/kstartup/pkg/records"
	"github.com/agentstation/kstartup/pkg/taxonomy"
)

//go:embed mappings.yaml
var defaultMappings []byte

// Mapping is one external to canonical field entry.
type Mapping struct {
	External  string            `yaml:"external" json:"external"`
	Aliases   []string          `yaml:"aliases,omitempty" json:"aliases,omitempty"`
	Canonical string            `yaml:"canonical" json:"canonical"`
	Type      records.FieldType `yaml:"type" json:"type"`
	Required  bool              `yaml:"required" json:"required"`

	// Formats are accepted date layouts, tried in order. Empty means the
	// table defaults.
	Formats []string `yaml:"formats,omitempty" json:"formats,omitempty"`

	// Domain marks a classification-bearing field.
	Domain taxonomy.Domain `yaml:"domain,omitempty" json:"domain,omitempty"`

	// MultiValued fields carry comma separated lists upstream.
	MultiValued bool `yaml:"multi_valued,omitempty" json:"multi_valued,omitempty"`
}

// Names returns the external name followed by its aliases.
func (m Mapping) Names() []string {
	return append([]string{m.External}, m.Aliases...)
}

// KindTable is the mapping of one record kind.
type KindTable struct {
	Kind records.Kind `yaml:"kind" json:"kind"`

	// NaturalKey is the canonical name of the stable identifier field.
	NaturalKey string    `yaml:"natural_key" json:"natural_key"`
	Fields     []Mapping `yaml:"fields" json:"fields"`
}

// Field returns the mapping of a canonical field.
func (kt *KindTable) Field(canonical string) (Mapping, bool) {
	for _, m := range kt.Fields {
		if m.Canonical == canonical {
			return m, true
		}
	}
	return Mapping{}, false
}

// Classified returns the classification-bearing fields.
func (kt *KindTable) Classified() []Mapping {
	var out []Mapping
	for _, m := range kt.Fields {
		if m.Domain != "" {
			out = append(out, m)
		}
	}
	return out
}

// Table holds every kind's mapping. It is immutable after Load.
type Table struct {
	DateFormats []string     `yaml:"date_formats" json:"date_formats"`
	Kinds       []*KindTable `yaml:"kinds" json:"kinds"`

	byKind map[records.Kind]*KindTable
}

// Default returns the embedded mapping table.
func Default() (*Table, error) {
	return Load(defaultMappings)
}

// LoadFile reads a mapping table from a YAML file.
func LoadFile(path string) (*Table, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.WrapIO("read", path, err)
	}
	t, err := Load(data)
	if err != nil {
		return nil, fmt.Errorf("loading field mapping %s: %w", path, err)
	}
	return t, nil
}

// Load parses and validates a mapping document.
func Load(data []byte) (*Table, error) {
	var t Table
	if err := yaml.Unmarshal(data, &t); err != nil {
		return nil, errors.WrapParse("yaml", "field mapping", err)
	}
	if err := t.Validate(); err != nil {
		return nil, err
	}
	return &t, nil
}

// Validate checks the table and builds its index.
func (t *Table) Validate() error {
	t.byKind = make(map[records.Kind]*KindTable, len(t.Kinds))
	for _, kt := range t.Kinds {
		if !kt.Kind.Valid() {
			return errors.NewValidationError("kind", kt.Kind, "unknown record kind")
		}
		if _, dup := t.byKind[kt.Kind]; dup {
			return errors.NewValidationError("kind", kt.Kind, "kind mapped twice")
		}
		if err := t.validateKind(kt); err != nil {
			return err
		}
		t.byKind[kt.Kind] = kt
	}
	return nil
}

func (t *Table) validateKind(kt *KindTable) error {
	canonical := make(map[string]bool, len(kt.Fields))
	external := make(map[string]bool, len(kt.Fields))
	for _, m := range kt.Fields {
		field := fmt.Sprintf("%s.%s", kt.Kind, m.Canonical)
		switch {
		case m.External == "" || m.Canonical == "":
			return errors.NewValidationError(field, m, "external and canonical names are required")
		case !m.Type.Valid():
			return errors.NewValidationError(field, m.Type, "unsupported field type")
		case canonical[m.Canonical]:
			return errors.NewValidationError(field, m.Canonical, "canonical name mapped twice")
		case m.Type == records.TypeDate && len(m.Formats) == 0 && len(t.DateFormats) == 0:
			return errors.NewValidationError(field, nil, "date field without accepted formats")
		case m.Domain != "" && !m.Domain.Valid():
			return errors.NewValidationError(field, m.Domain, "unknown taxonomy domain")
		case m.Type == records.TypeNullableString && m.Required:
			return errors.NewValidationError(field, nil, "nullable field cannot be required")
		}
		for _, name := range m.Names() {
			if external[name] {
				return errors.NewValidationError(field, name, "external name mapped twice")
			}
			external[name] = true
		}
		canonical[m.Canonical] = true
	}

	key, ok := kt.Field(kt.NaturalKey)
	if !ok {
		return errors.NewValidationError(string(kt.Kind)+".natural_key", kt.NaturalKey, "natural key field is not mapped")
	}
	if !key.Required {
		return errors.NewValidationError(string(kt.Kind)+".natural_key", kt.NaturalKey, "natural key field must be required")
	}
	return nil
}

// Kind returns the mapping of one record kind.
func (t *Table) Kind(k records.Kind) (*KindTable, bool) {
	kt, ok := t.byKind[k]
	return kt, ok
}

// Formats returns the accepted layouts for a date field.
func (t *Table) Formats(m Mapping) []string {
	if len(m.Formats) > 0 {
		return m.Formats
	}
	return t.DateFormats
}

// KindNames returns the mapped kinds in table order.
func (t *Table) KindNames() []records.Kind {
	out := make([]records.Kind, 0, len(t.Kinds))
	for _, kt := range t.Kinds {
		out = append(out, kt.Kind)
	}
	return slices.Clip(out)
}
