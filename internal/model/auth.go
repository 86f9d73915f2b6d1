package model

import (
	"encoding/base64"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
)

// AuthType discriminates the Auth variants in their persisted form.
type AuthType string

const (
	AuthNone   AuthType = "no-auth"
	AuthHeader AuthType = "header"
	AuthBasic  AuthType = "http-basic-auth"
)

// DefaultAuthHeader is used when a variant leaves its header name empty.
const DefaultAuthHeader = "Authorization"

// Auth is the closed set of ways a subscription authenticates deliveries.
// Implementations live in this package only.
type Auth interface {
	// Type returns the variant discriminator.
	Type() AuthType
	// Apply sets the authentication header on h, if the variant has one.
	Apply(h http.Header)

	sealedAuth()
}

// NoAuth adds no header.
type NoAuth struct{}

func (NoAuth) Type() AuthType    { return AuthNone }
func (NoAuth) Apply(http.Header) {}
func (NoAuth) sealedAuth()       {}

// HeaderAuth sends a static header value verbatim.
type HeaderAuth struct {
	HeaderName  string `json:"header_name,omitempty"`
	HeaderValue string `json:"header_value"`
}

func (HeaderAuth) Type() AuthType { return AuthHeader }

func (a HeaderAuth) Apply(h http.Header) {
	h.Set(headerOrDefault(a.HeaderName), a.HeaderValue)
}

func (HeaderAuth) sealedAuth() {}

// BasicAuth sends HTTP basic credentials, optionally under a custom header.
type BasicAuth struct {
	HeaderName string `json:"header_name,omitempty"`
	Username   string `json:"username"`
	Password   string `json:"password"`
}

func (BasicAuth) Type() AuthType { return AuthBasic }

func (a BasicAuth) Apply(h http.Header) {
	creds := base64.StdEncoding.EncodeToString([]byte(a.Username + ":" + a.Password))
	h.Set(headerOrDefault(a.HeaderName), "Basic "+creds)
}

func (BasicAuth) sealedAuth() {}

func headerOrDefault(name string) string {
	if strings.TrimSpace(name) == "" {
		return DefaultAuthHeader
	}
	return name
}

// authEnvelope is the flattened JSON form stored in the auth column and
// exchanged over the admin API.
type authEnvelope struct {
	Type        AuthType `json:"type"`
	HeaderName  string   `json:"header_name,omitempty"`
	HeaderValue string   `json:"header_value,omitempty"`
	Username    string   `json:"username,omitempty"`
	Password    string   `json:"password,omitempty"`
}

// MarshalAuth encodes a into its tagged JSON form. A nil Auth encodes as no-auth.
func MarshalAuth(a Auth) ([]byte, error) {
	var env authEnvelope
	switch v := a.(type) {
	case nil, NoAuth:
		env.Type = AuthNone
	case HeaderAuth:
		env = authEnvelope{Type: AuthHeader, HeaderName: v.HeaderName, HeaderValue: v.HeaderValue}
	case BasicAuth:
		env = authEnvelope{Type: AuthBasic, HeaderName: v.HeaderName, Username: v.Username, Password: v.Password}
	default:
		return nil, fmt.Errorf("unsupported auth variant %T", a)
	}
	return json.Marshal(env)
}

// UnmarshalAuth decodes the tagged JSON form. Empty input yields NoAuth.
func UnmarshalAuth(data []byte) (Auth, error) {
	if len(data) == 0 || string(data) == "null" {
		return NoAuth{}, nil
	}
	var env authEnvelope
	if err := json.Unmarshal(data, &env); err != nil {
		return nil, fmt.Errorf("decode auth: %w", err)
	}
	switch env.Type {
	case AuthNone, "":
		return NoAuth{}, nil
	case AuthHeader:
		return HeaderAuth{HeaderName: env.HeaderName, HeaderValue: env.HeaderValue}, nil
	case AuthBasic:
		return BasicAuth{HeaderName: env.HeaderName, Username: env.Username, Password: env.Password}, nil
	default:
		return nil, fmt.Errorf("unknown auth type %q", env.Type)
	}
}

// Redacted returns a copy of a with secrets masked, for API responses.
func Redacted(a Auth) Auth {
	switch v := a.(type) {
	case HeaderAuth:
		v.HeaderValue = "****"
		return v
	case BasicAuth:
		v.Password = "****"
		return v
	case nil:
		return NoAuth{}
	default:
		return a
	}
}
