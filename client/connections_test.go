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
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"sqlstudio/backend/dbpool"
)

type fakeTester struct {
	lastConfig dbpool.ConnectionConfig
	result     *dbpool.TestResult
	err        error
}

func (f *fakeTester) TestConnection(_ context.Context, cfg dbpool.ConnectionConfig) (*dbpool.TestResult, error) {
	f.lastConfig = cfg
	return f.result, f.err
}

func sampleConnection(name string) SavedConnection {
	return SavedConnection{
		Name: name,
		Config: dbpool.ConnectionConfig{
			Host:     "localhost",
			Port:     5432,
			Database: "appdb",
			Username: "app",
			Password: "hunter2",
		},
	}
}

func TestSaveAssignsIDAndTimestamps(t *testing.T) {
	store := NewConnectionStore(nil)

	saved := store.Save(sampleConnection("local"))

	assert.NotEmpty(t, saved.ID)
	assert.False(t, saved.CreatedAt.IsZero())
	assert.False(t, saved.UpdatedAt.IsZero())

	got, ok := store.Get(saved.ID)
	require.True(t, ok)
	assert.Equal(t, "local", got.Name)
}

func TestSaveUpdateKeepsPasswordWhenOmitted(t *testing.T) {
	store := NewConnectionStore(nil)
	saved := store.Save(sampleConnection("local"))

	update := saved
	update.Name = "local-renamed"
	update.Config.Password = ""
	store.Save(update)

	got, _ := store.Get(saved.ID)
	assert.Equal(t, "local-renamed", got.Name)
	assert.Equal(t, "hunter2", got.Config.Password, "stored password survives a password-less update")
}

func TestDeleteAndList(t *testing.T) {
	store := NewConnectionStore(nil)

	a := store.Save(sampleConnection("beta"))
	store.Save(sampleConnection("alpha"))

	list := store.List()
	require.Len(t, list, 2)
	assert.Equal(t, "alpha", list[0].Name, "list is sorted by name")
	assert.Equal(t, "beta", list[1].Name)

	assert.True(t, store.Delete(a.ID))
	assert.False(t, store.Delete(a.ID))
	assert.Len(t, store.List(), 1)
}

func TestTestDelegatesToTester(t *testing.T) {
	tester := &fakeTester{result: &dbpool.TestResult{Version: "PostgreSQL 16.2"}}
	store := NewConnectionStore(tester)
	saved := store.Save(sampleConnection("local"))

	result, err := store.Test(context.Background(), saved.ID)
	require.NoError(t, err)
	assert.Equal(t, "PostgreSQL 16.2", result.Version)
	assert.Equal(t, "hunter2", tester.lastConfig.Password, "probe uses the stored credentials")

	_, err = store.Test(context.Background(), "missing")
	assert.Error(t, err)
}

func TestExportStripsPasswords(t *testing.T) {
	store := NewConnectionStore(nil)
	store.Save(sampleConnection("local"))

	data, err := store.Export()
	require.NoError(t, err)
	assert.NotContains(t, string(data), "hunter2")

	var profiles []SavedConnection
	require.NoError(t, json.Unmarshal(data, &profiles))
	require.Len(t, profiles, 1)
	assert.Empty(t, profiles[0].Config.Password)
	assert.Equal(t, "localhost", profiles[0].Config.Host)
}

func TestImportRoundTripKeepsStoredPasswords(t *testing.T) {
	source := NewConnectionStore(nil)
	saved := source.Save(sampleConnection("local"))

	data, err := source.Export()
	require.NoError(t, err)

	// Importing into the same store must not wipe the held password
	n, err := source.Import(data)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	got, _ := source.Get(saved.ID)
	assert.Equal(t, "hunter2", got.Config.Password)

	// Importing into a fresh store yields credential-less profiles
	dest := NewConnectionStore(nil)
	n, err = dest.Import(data)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	imported, ok := dest.Get(saved.ID)
	require.True(t, ok)
	assert.Equal(t, "local", imported.Name)
	assert.Empty(t, imported.Config.Password)
}

func TestImportRejectsGarbage(t *testing.T) {
	store := NewConnectionStore(nil)
	_, err := store.Import([]byte("not json at all"))
	assert.Error(t, err)
}
