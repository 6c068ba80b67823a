// Copyright 2024 Google LLC
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package auth defines the interfaces every auth service kind (Google ID
// tokens, API keys, ...) implements so the server can verify request headers
// against a named auth service without knowing its concrete kind.
package auth

import (
	"context"
	"errors"
	"net/http"
)

// ErrInvalidAPIKey is returned by an AuthService when a caller presented a
// key or token that doesn't match what the service expects, as opposed to
// presenting none at all.
var ErrInvalidAPIKey = errors.New("invalid api key")

// AuthServiceConfig is the parsed, not-yet-initialized configuration for one
// auth service entry. Each kind package defines its own config shape that
// implements this interface; server.AuthServiceConfigs selects the shape to
// decode by switching on the entry's kind.
type AuthServiceConfig interface {
	// AuthServiceConfigKind returns the `kind` discriminator this config was
	// parsed under.
	AuthServiceConfigKind() string
	// Initialize creates the live AuthService this config describes.
	Initialize() (AuthService, error)
}

// AuthService verifies a request header against one named auth provider and
// returns the verified claims.
type AuthService interface {
	// AuthServiceKind returns the kind of auth service.
	AuthServiceKind() string
	// GetName returns the name this auth service was registered under.
	GetName() string
	// GetClaimsFromHeader inspects h for this auth service's token header
	// (conventionally "<name>_token") and verifies it, returning the
	// decoded claims. Returns a nil map and nil error if the header is
	// absent rather than invalid.
	GetClaimsFromHeader(ctx context.Context, h http.Header) (map[string]any, error)
}
