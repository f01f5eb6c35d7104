// Copyright (C) NHR@FAU, University Erlangen-Nuremberg.
// All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package broker

// TaskEnvelope is the versioned payload every task is published and
// received as. A tagged, versioned struct keeps publishers and
// subscribers honest instead of passing around an untyped map.
type TaskEnvelope struct {
	Version int    `json:"version"`
	Kind    string `json:"kind"`
	JobID   int64  `json:"job_id"`
}

// CurrentEnvelopeVersion is the version stamped on every envelope this
// process publishes. workerpool.Pool logs and drops any envelope whose
// version differs from this one rather than guess at the schema; it is not
// requeued.
const CurrentEnvelopeVersion = 1

// NewTaskEnvelope builds an envelope for the given job at the current
// version.
func NewTaskEnvelope(kind string, jobID int64) *TaskEnvelope {
	return &TaskEnvelope{Version: CurrentEnvelopeVersion, Kind: kind, JobID: jobID}
}
