// Copyright (C) NHR@FAU, University Erlangen-Nuremberg.
// All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package broker_test

import (
	"testing"

	"github.com/loadtrace/backend/internal/broker"
	"github.com/loadtrace/backend/internal/schema"
	"github.com/stretchr/testify/assert"
)

func TestNewClientRequiresAddress(t *testing.T) {
	_, err := broker.NewClient(&schema.BrokerConfig{})
	assert.Error(t, err)
}

func TestNewTaskEnvelope(t *testing.T) {
	env := broker.NewTaskEnvelope("ingestion", 42)
	assert.Equal(t, broker.CurrentEnvelopeVersion, env.Version)
	assert.Equal(t, "ingestion", env.Kind)
	assert.Equal(t, int64(42), env.JobID)
}
