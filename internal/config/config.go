// Copyright (C) NHR@FAU, University Erlangen-Nuremberg.
// All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

// Package config loads and validates the on-disk JSON configuration, the
// same two-step shape: validate the
// raw bytes against an embedded JSON-Schema, then decode with
// DisallowUnknownFields into the typed ProgramConfig.
package config

import (
	"bytes"
	"encoding/json"
	"fmt"
	"os"

	"github.com/joho/godotenv"
	"github.com/loadtrace/backend/internal/schema"
	"github.com/loadtrace/backend/pkg/log"
)

// Keys holds the process-wide configuration once Init has run.
var Keys = schema.ProgramConfig{
	Addr:                 ":8080",
	DBDriver:             "sqlite3",
	DBDSN:                "./var/loadtrace.db",
	ReservoirSize:        50_000,
	StagingRetentionMinutes: 60,
	MaxConcurrentUploads: 4,
	WorkerCount:          0, // 0 means runtime.NumCPU()*2, see internal/workerpool
	SoftTimeoutSeconds:   1800,
	HardTimeoutSeconds:   2100,
	JobMaxRetries:        3,
	Blob: schema.BlobConfig{
		Backend:   "file",
		Directory: "./var/uploads",
	},
}

// Init loads an optional .env file into the process environment (variables
// already set are kept), then reads, validates and decodes flagConfigFile
// into Keys. No field of Keys is read from the environment: broker and S3
// credentials come from the config file. A missing config file is not an
// error: Keys keeps its defaults.
func Init(envFile, flagConfigFile string) error {
	if envFile != "" {
		if err := godotenv.Load(envFile); err != nil && !os.IsNotExist(err) {
			return fmt.Errorf("loading %s: %w", envFile, err)
		}
	}

	raw, err := os.ReadFile(flagConfigFile)
	if err != nil {
		if os.IsNotExist(err) {
			log.Warnf("config: %s does not exist, using defaults", flagConfigFile)
			return nil
		}
		return err
	}

	if err := Validate(schema.ConfigSchema, raw); err != nil {
		return fmt.Errorf("validating %s: %w", flagConfigFile, err)
	}

	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.DisallowUnknownFields()
	if err := dec.Decode(&Keys); err != nil {
		return fmt.Errorf("decoding %s: %w", flagConfigFile, err)
	}

	return nil
}
