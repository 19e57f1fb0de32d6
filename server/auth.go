// Copyright 2025 SQL Studio Contributors
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

package server

import (
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/golang-jwt/jwt/v5"
)

// ErrUnauthorized is returned by auth providers when a request carries no
// valid credentials
var ErrUnauthorized = errors.New("unauthorized")

// AuthProvider validates the credentials on an incoming request
type AuthProvider interface {
	Authenticate(r *http.Request) error
}

// NoopAuth accepts every request. Used when no JWT secret is configured,
// which is the expected setup for local development.
type NoopAuth struct{}

func (NoopAuth) Authenticate(*http.Request) error { return nil }

// JWTAuth validates a bearer token signed with an HMAC secret
type JWTAuth struct {
	secret []byte
}

// NewJWTAuth creates a provider validating HS256 tokens against secret
func NewJWTAuth(secret string) *JWTAuth {
	return &JWTAuth{secret: []byte(secret)}
}

// Authenticate checks the Authorization header for a valid bearer token
func (a *JWTAuth) Authenticate(r *http.Request) error {
	header := r.Header.Get("Authorization")
	if header == "" {
		return fmt.Errorf("%w: missing Authorization header", ErrUnauthorized)
	}

	tokenString := strings.TrimPrefix(header, "Bearer ")
	if tokenString == header {
		return fmt.Errorf("%w: Authorization header is not a bearer token", ErrUnauthorized)
	}

	token, err := jwt.Parse(tokenString, func(t *jwt.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", t.Header["alg"])
		}
		return a.secret, nil
	})
	if err != nil {
		return fmt.Errorf("%w: %v", ErrUnauthorized, err)
	}
	if !token.Valid {
		return fmt.Errorf("%w: invalid token", ErrUnauthorized)
	}

	return nil
}
