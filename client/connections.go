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

package client

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"sqlstudio/backend/dbpool"
)

// SavedConnection is a named connection profile held in the local store
type SavedConnection struct {
	ID        string                  `json:"id"`
	Name      string                  `json:"name"`
	Config    dbpool.ConnectionConfig `json:"config"`
	CreatedAt time.Time               `json:"createdAt"`
	UpdatedAt time.Time               `json:"updatedAt"`
}

// ConnectionTester verifies that a profile can reach its database.
// Satisfied by dbpool.Manager; substituted with fakes in tests.
type ConnectionTester interface {
	TestConnection(ctx context.Context, cfg dbpool.ConnectionConfig) (*dbpool.TestResult, error)
}

// ConnectionStore is an in-memory registry of saved connection profiles.
// Passwords live only in memory; Export strips them so serialized profiles
// never carry credentials.
type ConnectionStore struct {
	mu          sync.RWMutex
	connections map[string]SavedConnection
	tester      ConnectionTester
}

// NewConnectionStore creates an empty store. tester may be nil if Test is
// never used.
func NewConnectionStore(tester ConnectionTester) *ConnectionStore {
	return &ConnectionStore{
		connections: make(map[string]SavedConnection),
		tester:      tester,
	}
}

// Save adds or updates a profile. A zero ID gets a generated one. Returns
// the stored profile.
func (s *ConnectionStore) Save(conn SavedConnection) SavedConnection {
	now := time.Now()
	if conn.ID == "" {
		conn.ID = uuid.New().String()
	}
	if conn.CreatedAt.IsZero() {
		conn.CreatedAt = now
	}
	conn.UpdatedAt = now

	s.mu.Lock()
	if existing, ok := s.connections[conn.ID]; ok {
		conn.CreatedAt = existing.CreatedAt
		// Keep the stored password when the update omits one
		if conn.Config.Password == "" {
			conn.Config.Password = existing.Config.Password
		}
	}
	s.connections[conn.ID] = conn
	s.mu.Unlock()

	return conn
}

// Get returns the profile for id, if present
func (s *ConnectionStore) Get(id string) (SavedConnection, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	conn, ok := s.connections[id]
	return conn, ok
}

// Delete removes the profile for id and reports whether it existed
func (s *ConnectionStore) Delete(id string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.connections[id]
	delete(s.connections, id)
	return ok
}

// List returns all profiles sorted by name
func (s *ConnectionStore) List() []SavedConnection {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]SavedConnection, 0, len(s.connections))
	for _, conn := range s.connections {
		out = append(out, conn)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// Test probes connectivity for the stored profile
func (s *ConnectionStore) Test(ctx context.Context, id string) (*dbpool.TestResult, error) {
	conn, ok := s.Get(id)
	if !ok {
		return nil, fmt.Errorf("no connection saved with id '%s'", id)
	}
	if s.tester == nil {
		return nil, fmt.Errorf("no connection tester configured")
	}
	return s.tester.TestConnection(ctx, conn.Config)
}

// Export serializes all profiles as JSON with passwords stripped
func (s *ConnectionStore) Export() ([]byte, error) {
	profiles := s.List()
	for i := range profiles {
		profiles[i].Config.Password = ""
	}
	return json.MarshalIndent(profiles, "", "  ")
}

// Import merges serialized profiles into the store. Imported profiles never
// carry passwords; existing stored passwords for matching IDs are kept.
// Returns the number of profiles imported.
func (s *ConnectionStore) Import(data []byte) (int, error) {
	var profiles []SavedConnection
	if err := json.Unmarshal(data, &profiles); err != nil {
		return 0, fmt.Errorf("failed to parse connection export: %w", err)
	}

	for _, p := range profiles {
		p.Config.Password = ""
		s.Save(p)
	}
	return len(profiles), nil
}
