// Copyright (C) NHR@FAU, University Erlangen-Nuremberg.
// All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package config

import (
	"encoding/json"
	"fmt"

	"github.com/santhosh-tekuri/jsonschema/v5"
)

// Validate checks instance against the given JSON-Schema document. Unlike
// a Fatal-on-failure validator,
// this one returns the error so callers in both cmd/loadtrace-api and
// cmd/loadtrace-worker can decide how to report a bad config rather than
// have the library itself kill the process.
func Validate(schemaDoc string, instance json.RawMessage) error {
	sch, err := jsonschema.CompileString("config.json", schemaDoc)
	if err != nil {
		return fmt.Errorf("compiling config schema: %w", err)
	}

	var v any
	if err := json.Unmarshal(instance, &v); err != nil {
		return fmt.Errorf("parsing config: %w", err)
	}

	if err := sch.Validate(v); err != nil {
		return fmt.Errorf("config does not match schema: %w", err)
	}

	return nil
}
