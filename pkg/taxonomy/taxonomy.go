// Package taxonomy holds the internally maintained classification codes
// that upstream values are reconciled against. Tables are read-only after
// load and safe to share across goroutines.
package taxonomy

import (
	_ "embed"
	"fmt"
	"os"
	"slices"
	"sort"

	"github.com/goccy/go-yaml"

	"github.com/agentstation/kstartup/pkg/errors"
)

//go:embed taxonomy.yaml
var defaultTaxonomy []byte

// Domain names a classification vocabulary.
type Domain string

// Classification domains.
const (
	DomainBusinessCategory Domain = "business_category"
	DomainContentType      Domain = "content_type"
	DomainRegion           Domain = "region"
	DomainInstitution      Domain = "institution"
)

// Domains returns every known domain.
func Domains() []Domain {
	return []Domain{DomainBusinessCategory, DomainContentType, DomainRegion, DomainInstitution}
}

// Valid reports whether d is a known domain.
func (d Domain) Valid() bool {
	return slices.Contains(Domains(), d)
}

// Entry is one canonical code.
type Entry struct {
	Code        string `yaml:"code" json:"code"`
	Description string `yaml:"description" json:"description"`
	Domain      Domain `yaml:"-" json:"domain"`
}

// Table is an immutable taxonomy indexed by domain and code.
type Table struct {
	entries map[Domain][]Entry
	byCode  map[Domain]map[string]Entry
}

type file struct {
	Domains map[Domain][]Entry `yaml:"domains"`
}

// Default returns the embedded taxonomy.
func Default() (*Table, error) {
	return Load(defaultTaxonomy)
}

// LoadFile reads a taxonomy from a YAML file.
func LoadFile(path string) (*Table, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.WrapIO("read", path, err)
	}
	t, err := Load(data)
	if err != nil {
		return nil, fmt.Errorf("loading taxonomy %s: %w", path, err)
	}
	return t, nil
}

// Load parses a taxonomy document.
func Load(data []byte) (*Table, error) {
	var f file
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, errors.WrapParse("yaml", "taxonomy", err)
	}

	t := &Table{
		entries: make(map[Domain][]Entry),
		byCode:  make(map[Domain]map[string]Entry),
	}
	for domain, entries := range f.Domains {
		if !domain.Valid() {
			return nil, errors.NewValidationError("domain", domain, "unknown taxonomy domain")
		}
		t.byCode[domain] = make(map[string]Entry, len(entries))
		for _, e := range entries {
			if e.Code == "" || e.Description == "" {
				return nil, errors.NewValidationError("code", e.Code, fmt.Sprintf("entry in %s needs code and description", domain))
			}
			if _, dup := t.byCode[domain][e.Code]; dup {
				return nil, errors.NewValidationError("code", e.Code, fmt.Sprintf("duplicate code in %s", domain))
			}
			e.Domain = domain
			t.byCode[domain][e.Code] = e
			t.entries[domain] = append(t.entries[domain], e)
		}
		sort.Slice(t.entries[domain], func(i, j int) bool {
			return t.entries[domain][i].Code < t.entries[domain][j].Code
		})
	}
	return t, nil
}

// Entries returns the entries of a domain sorted by code.
func (t *Table) Entries(d Domain) []Entry {
	return slices.Clone(t.entries[d])
}

// Lookup finds an entry by exact code.
func (t *Table) Lookup(d Domain, code string) (Entry, bool) {
	e, ok := t.byCode[d][code]
	return e, ok
}

// Len returns the total number of entries.
func (t *Table) Len() int {
	n := 0
	for _, entries := range t.entries {
		n += len(entries)
	}
	return n
}
