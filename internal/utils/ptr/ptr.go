// Package ptr has helpers for optional values held as pointers, such as
// the nearest taxonomy code of a mismatch.
package ptr

// To returns a pointer to a copy of v.
func To[T any](v T) *T {
	return &v
}

// String returns a pointer to s.
func String(s string) *string {
	return &s
}

// Value returns *p, or the zero value when p is nil.
func Value[T any](p *T) T {
	if p == nil {
		var zero T
		return zero
	}
	return *p
}

// Or returns *p, or fallback when p is nil.
func Or[T any](p *T, fallback T) T {
	if p == nil {
		return fallback
	}
	return *p
}
