// Copyright (C) NHR@FAU, University Erlangen-Nuremberg.
// All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package config_test

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/loadtrace/backend/internal/config"
	"github.com/loadtrace/backend/internal/schema"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestInitMissingFileKeepsDefaults(t *testing.T) {
	err := config.Init("", filepath.Join(t.TempDir(), "missing.json"))
	require.NoError(t, err)
	assert.Equal(t, "sqlite3", config.Keys.DBDriver)
}

func TestInitValidatesAndDecodes(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.json")
	body := `{
		"db-driver": "pgx",
		"db-dsn": "postgres://localhost/loadtrace",
		"broker": {"address": "nats://localhost:4222", "subject": "loadtrace.tasks", "queue-group": "workers"},
		"blob": {"backend": "file", "directory": "/tmp/uploads"}
	}`
	require.NoError(t, os.WriteFile(path, []byte(body), 0o644))

	require.NoError(t, config.Init("", path))
	assert.Equal(t, "pgx", config.Keys.DBDriver)
	assert.Equal(t, "nats://localhost:4222", config.Keys.Broker.Address)
	assert.Equal(t, schema.BlobConfig{Backend: "file", Directory: "/tmp/uploads"}, config.Keys.Blob)
}

func TestInitRejectsUnknownDriver(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.json")
	body := `{
		"db-driver": "oracle",
		"db-dsn": "x",
		"broker": {"address": "a", "subject": "b", "queue-group": "c"},
		"blob": {"backend": "file"}
	}`
	require.NoError(t, os.WriteFile(path, []byte(body), 0o644))
	assert.Error(t, config.Init("", path))
}
