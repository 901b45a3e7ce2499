package transport

import (
	"net/http"
)

// Auth schemes a source can declare.
const (
	AuthQuery  = "query"
	AuthHeader = "header"
	AuthNone   = "none"
)

// Authenticator applies authentication to HTTP requests.
type Authenticator interface {
	Apply(req *http.Request, apiKey string)
	// Method names the scheme for error reports.
	Method() string
}

// NoAuth implements no authentication.
type NoAuth struct{}

// Apply implements the Authenticator interface for NoAuth.
func (a *NoAuth) Apply(_ *http.Request, _ string) {}

// Method implements the Authenticator interface for NoAuth.
func (a *NoAuth) Method() string { return AuthNone }

// HeaderAuth sends the key in a request header.
type HeaderAuth struct {
	Header string
}

// Apply implements the Authenticator interface for HeaderAuth.
func (a *HeaderAuth) Apply(req *http.Request, apiKey string) {
	req.Header.Set(a.Header, apiKey)
}

// Method implements the Authenticator interface for HeaderAuth.
func (a *HeaderAuth) Method() string { return AuthHeader }

// QueryAuth sends the key as a query parameter. The public data portal
// issues keys that are already URL-encoded, so the value is appended
// verbatim instead of being encoded a second time.
type QueryAuth struct {
	Param string
}

// Apply implements the Authenticator interface for QueryAuth.
func (a *QueryAuth) Apply(req *http.Request, apiKey string) {
	if req.URL == nil {
		return
	}

	query := req.URL.Query()
	query.Del(a.Param)
	encoded := query.Encode()
	if encoded != "" {
		encoded += "&"
	}
	req.URL.RawQuery = encoded + a.Param + "=" + apiKey
}

// Method implements the Authenticator interface for QueryAuth.
func (a *QueryAuth) Method() string { return AuthQuery }

// NewAuthenticator returns the authenticator for a declared scheme. An empty
// scheme means query authentication under param.
func NewAuthenticator(scheme, param string) Authenticator {
	switch scheme {
	case AuthNone:
		return &NoAuth{}
	case AuthHeader:
		if param == "" {
			param = "Authorization"
		}
		return &HeaderAuth{Header: param}
	default:
		if param == "" {
			param = "serviceKey"
		}
		return &QueryAuth{Param: param}
	}
}
