// Copyright 2025 Google LLC
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//	http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package apikey implements the built-in api-key AuthService: a shared
// secret read from the X-MCP-API-Key header or the api_key query parameter,
// checked with a constant-time comparison.
package apikey

import (
	"context"
	"crypto/subtle"
	"net/http"

	"github.com/mcplane/mcp-runtime/internal/auth"
)

const AuthServiceKind string = "apikey"

const (
	// HeaderName is the header carrying the key on an HTTP request.
	HeaderName = "X-MCP-API-Key"
	// QueryParam is the query string key carrying the key when the header is absent.
	QueryParam = "api_key"
)

var _ auth.AuthServiceConfig = Config{}

// Config configures an api-key auth service.
type Config struct {
	Name string `yaml:"name" validate:"required"`
	Kind string `yaml:"kind" validate:"required"`
	Key  string `yaml:"key" validate:"required"`
}

func (cfg Config) AuthServiceConfigKind() string {
	return AuthServiceKind
}

func (cfg Config) Initialize() (auth.AuthService, error) {
	a := &AuthService{
		Name: cfg.Name,
		Kind: AuthServiceKind,
		Key:  cfg.Key,
	}
	return a, nil
}

var _ auth.AuthService = AuthService{}

// AuthService checks a caller-supplied key against a configured secret.
type AuthService struct {
	Name string `yaml:"name"`
	Kind string `yaml:"kind"`
	Key  string `yaml:"key"`
}

func (a AuthService) AuthServiceKind() string {
	return AuthServiceKind
}

func (a AuthService) GetName() string {
	return a.Name
}

// GetClaimsFromHeader reports an empty-but-non-nil claims map when the
// presented key matches, nil when no key was presented (so other auth
// services on the request still get a chance), and an error when a key was
// presented but doesn't match.
func (a AuthService) GetClaimsFromHeader(ctx context.Context, h http.Header) (map[string]any, error) {
	presented := h.Get(HeaderName)
	if presented == "" {
		return nil, nil
	}
	if subtle.ConstantTimeCompare([]byte(presented), []byte(a.Key)) != 1 {
		return nil, auth.ErrInvalidAPIKey
	}
	return map[string]any{}, nil
}

// KeyFromRequest extracts the presented key from a header or, failing that,
// the api_key query parameter, for transports that see the raw *http.Request
// rather than just its header (the header-only GetClaimsFromHeader contract
// can't reach the query string).
func KeyFromRequest(r *http.Request) string {
	if v := r.Header.Get(HeaderName); v != "" {
		return v
	}
	return r.URL.Query().Get(QueryParam)
}
