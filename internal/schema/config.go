// Copyright (C) NHR@FAU, University Erlangen-Nuremberg.
// All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package schema

// ProgramConfig is the on-disk JSON configuration, validated against
// ConfigSchema before being decoded into this struct (see internal/config).
type ProgramConfig struct {
	Addr     string `json:"addr"`
	DBDriver string `json:"db-driver"`
	DBDSN    string `json:"db-dsn"`

	Broker BrokerConfig `json:"broker"`
	Blob   BlobConfig   `json:"blob"`

	// Aliases maps a raw endpoint value to the canonical URL it should be
	// reported under, by exact match. Unmatched values pass through
	// unchanged.
	Aliases map[string]string `json:"aliases"`

	ReservoirSize int `json:"reservoir-size"`

	StagingRetentionMinutes int `json:"staging-retention-minutes"`

	MaxConcurrentUploads int `json:"max-concurrent-uploads"`
	WorkerCount          int `json:"worker-count"`

	SoftTimeoutSeconds int `json:"soft-timeout-seconds"`
	HardTimeoutSeconds int `json:"hard-timeout-seconds"`

	JobMaxRetries int `json:"job-max-retries"`
}

// BrokerConfig configures the NATS connection shared by the API (publisher)
// and worker (queue subscriber) processes.
type BrokerConfig struct {
	Address       string `json:"address"`
	Username      string `json:"username"`
	Password      string `json:"password"`
	CredsFilePath string `json:"creds-file-path"`
	Subject       string `json:"subject"`
	QueueGroup    string `json:"queue-group"`
}

// BlobConfig selects and configures the raw-upload storage backend.
type BlobConfig struct {
	// Backend is "file" or "s3".
	Backend string `json:"backend"`

	Directory string `json:"directory"`

	Endpoint     string `json:"endpoint"`
	Bucket       string `json:"bucket"`
	Region       string `json:"region"`
	AccessKey    string `json:"access-key"`
	SecretKey    string `json:"secret-key"`
	UsePathStyle bool   `json:"use-path-style"`
}

// ConfigSchema is the JSON-Schema document ProgramConfig is validated
// against before being decoded, using the same two-step style as
// config/broker schema strings.
const ConfigSchema = `{
	"type": "object",
	"properties": {
		"addr": { "type": "string" },
		"db-driver": { "type": "string", "enum": ["sqlite3", "pgx"] },
		"db-dsn": { "type": "string" },
		"broker": {
			"type": "object",
			"properties": {
				"address": { "type": "string" },
				"subject": { "type": "string" },
				"queue-group": { "type": "string" }
			},
			"required": ["address", "subject", "queue-group"]
		},
		"blob": {
			"type": "object",
			"properties": {
				"backend": { "type": "string", "enum": ["file", "s3"] }
			},
			"required": ["backend"]
		},
		"aliases": { "type": "object" },
		"reservoir-size": { "type": "integer", "minimum": 1 },
		"staging-retention-minutes": { "type": "integer", "minimum": 1 },
		"max-concurrent-uploads": { "type": "integer", "minimum": 1 },
		"worker-count": { "type": "integer", "minimum": 1 },
		"soft-timeout-seconds": { "type": "integer", "minimum": 1 },
		"hard-timeout-seconds": { "type": "integer", "minimum": 1 },
		"job-max-retries": { "type": "integer", "minimum": 0 }
	},
	"required": ["db-driver", "db-dsn", "broker", "blob"]
}`
