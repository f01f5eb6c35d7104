// Copyright (C) NHR@FAU, University Erlangen-Nuremberg.
// All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package blobstore

import (
	"context"
	"testing"

	"github.com/loadtrace/backend/internal/schema"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewS3StoreRequiresBucket(t *testing.T) {
	_, err := NewS3Store(context.Background(), schema.BlobConfig{})
	assert.Error(t, err)
}

func TestNewS3StoreDefaultsRegion(t *testing.T) {
	store, err := NewS3Store(context.Background(), schema.BlobConfig{
		Bucket:    "loadtrace-uploads",
		AccessKey: "test",
		SecretKey: "test",
	})
	require.NoError(t, err)
	assert.Equal(t, "loadtrace-uploads", store.bucket)
	assert.Equal(t, "us-east-1", store.client.Options().Region)
}

func TestNewS3StoreHonorsEndpointAndPathStyle(t *testing.T) {
	store, err := NewS3Store(context.Background(), schema.BlobConfig{
		Bucket:       "loadtrace-uploads",
		Endpoint:     "http://localhost:9000",
		UsePathStyle: true,
		AccessKey:    "test",
		SecretKey:    "test",
	})
	require.NoError(t, err)
	assert.NotNil(t, store.client)
}
