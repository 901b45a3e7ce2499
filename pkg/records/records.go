// Package records defines the data model shared by every ingestion stage:
// raw upstream items, typed canonical records, validation failures, and the
// document shape handed to the persistence gateway.
package records

import (
	"fmt"
	"slices"
	"strings"

	"github.com/agentstation/kstartup/pkg/errors"
)

// Kind identifies one family of upstream payloads.
type Kind string

// Record kinds served by the K-Startup open data API.
const (
	KindAnnouncement Kind = "announcement"
	KindBusiness     Kind = "business"
	KindContent      Kind = "content"
	KindStatistics   Kind = "statistics"
)

// Kinds returns every known kind in a stable order.
func Kinds() []Kind {
	return []Kind{KindAnnouncement, KindBusiness, KindContent, KindStatistics}
}

// String returns the string representation of a kind.
func (k Kind) String() string {
	return string(k)
}

// Valid reports whether k is a known kind.
func (k Kind) Valid() bool {
	return slices.Contains(Kinds(), k)
}

// ParseKind parses a kind name case-insensitively.
func ParseKind(s string) (Kind, error) {
	k := Kind(strings.ToLower(strings.TrimSpace(s)))
	if !k.Valid() {
		return "", &errors.ValidationError{
			Field:   "kind",
			Value:   s,
			Message: fmt.Sprintf("unknown record kind (want one of %v)", Kinds()),
		}
	}
	return k, nil
}
