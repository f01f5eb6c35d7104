// Copyright (C) NHR@FAU, University Erlangen-Nuremberg.
// All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package blobstore

import (
	"context"
	"io"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFileStorePutGetDelete(t *testing.T) {
	store, err := NewFileStore(t.TempDir())
	require.NoError(t, err)

	ctx := context.Background()
	n, err := store.Put(ctx, "uploads/a.csv", strings.NewReader("hello world"))
	require.NoError(t, err)
	assert.EqualValues(t, 11, n)

	r, err := store.Get(ctx, "uploads/a.csv")
	require.NoError(t, err)
	defer r.Close()

	data, err := io.ReadAll(r)
	require.NoError(t, err)
	assert.Equal(t, "hello world", string(data))

	require.NoError(t, store.Delete(ctx, "uploads/a.csv"))

	_, err = store.Get(ctx, "uploads/a.csv")
	assert.Error(t, err)
}

func TestFileStoreDeleteMissingKeyIsNotAnError(t *testing.T) {
	store, err := NewFileStore(t.TempDir())
	require.NoError(t, err)

	assert.NoError(t, store.Delete(context.Background(), "does-not-exist"))
}

func TestNewFileStoreRequiresDirectory(t *testing.T) {
	_, err := NewFileStore("")
	assert.Error(t, err)
}
