// Copyright (C) NHR@FAU, University Erlangen-Nuremberg.
// All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

// Package workerpool is the worker process's task dispatcher: it
// queue-subscribes to the broker, fans incoming task envelopes out across a
// fixed number of goroutines, and runs each task under a context that
// expires after the soft timeout. The hard limit is not enforced here: the
// scheduler's periodic sweep (scheduler.go) marks jobs that stay in_progress
// past it as failed, and does not stop the goroutine still running them.
package workerpool

import (
	"context"
	"encoding/json"
	"runtime"
	"sync"
	"time"

	"github.com/loadtrace/backend/internal/apperr"
	"github.com/loadtrace/backend/internal/broker"
	"github.com/loadtrace/backend/internal/repository"
	"github.com/loadtrace/backend/internal/schema"
	"github.com/loadtrace/backend/pkg/log"
)

// Config controls pool sizing and the per-task timeouts.
type Config struct {
	// WorkerCount is the number of tasks processed concurrently. Zero
	// means runtime.NumCPU()*2.
	WorkerCount int

	SoftTimeout time.Duration
	// HardTimeout is not read by the pool; see the package doc.
	HardTimeout time.Duration
}

func (c Config) workerCount() int {
	if c.WorkerCount > 0 {
		return c.WorkerCount
	}
	return runtime.NumCPU() * 2
}

// Pool dispatches broker task envelopes across a bounded set of goroutines.
type Pool struct {
	cfg     Config
	client  *broker.Client
	sem     chan struct{}
	wg      sync.WaitGroup
	metrics PoolMetrics
}

// PoolMetrics receives per-job outcome observations. Implementations must
// be safe for concurrent use; httpapi.Collector satisfies this via its
// JobsCompleted/JobsFailed/JobDuration fields.
type PoolMetrics interface {
	ObserveJobCompleted(kind string, elapsed time.Duration)
	ObserveJobFailed(kind string, elapsed time.Duration)
}

// New builds a Pool. Call Start to begin consuming tasks. metrics may be
// nil, in which case job outcomes are only logged.
func New(cfg Config, client *broker.Client, metrics PoolMetrics) *Pool {
	return &Pool{
		cfg:     cfg,
		client:  client,
		sem:     make(chan struct{}, cfg.workerCount()),
		metrics: metrics,
	}
}

// Start queue-subscribes to subject/queue and begins dispatching. It
// returns once the subscription is registered; tasks are processed
// asynchronously until Stop is called.
func (p *Pool) Start(subject, queue string) error {
	return p.client.SubscribeQueue(subject, queue, func(_ string, data []byte) {
		var env broker.TaskEnvelope
		if err := json.Unmarshal(data, &env); err != nil {
			log.Errorf("workerpool: malformed task envelope: %v", err)
			return
		}
		if env.Version != broker.CurrentEnvelopeVersion {
			log.Warnf("workerpool: task envelope version %d unsupported (want %d), requeueing is not supported; dropping", env.Version, broker.CurrentEnvelopeVersion)
			return
		}

		p.sem <- struct{}{}
		p.wg.Add(1)
		go func() {
			defer func() { <-p.sem; p.wg.Done() }()
			p.run(env)
		}()
	})
}

// Stop waits for in-flight tasks to finish processing.
func (p *Pool) Stop() {
	p.wg.Wait()
}

func (p *Pool) run(env broker.TaskEnvelope) {
	jobRepo := repository.GetJobRepository()

	if err := jobRepo.Claim(env.JobID); err != nil {
		log.Warnf("workerpool: job %d could not be claimed: %v", env.JobID, err)
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), p.cfg.SoftTimeout)
	defer cancel()

	start := time.Now()
	resultBlob, err := dispatch(ctx, env)
	elapsed := time.Since(start)

	if err != nil {
		detail := err.Error()
		if appErr, ok := err.(*apperr.Error); ok {
			detail = appErr.Kind.JobFailureText(appErr.Message)
		}
		if failErr := jobRepo.Fail(env.JobID, detail); failErr != nil {
			log.Errorf("workerpool: marking job %d failed: %v", env.JobID, failErr)
		}
		if p.metrics != nil {
			p.metrics.ObserveJobFailed(env.Kind, elapsed)
		}
		log.Warnf("workerpool: job %d (%s) failed after %s: %v", env.JobID, env.Kind, elapsed, err)
		return
	}

	if err := jobRepo.Complete(env.JobID, resultBlob); err != nil {
		log.Errorf("workerpool: marking job %d complete: %v", env.JobID, err)
	}
	if p.metrics != nil {
		p.metrics.ObserveJobCompleted(env.Kind, elapsed)
	}
	log.Infof("workerpool: job %d (%s) completed in %s", env.JobID, env.Kind, elapsed)
}

// dispatch routes a task envelope to its pipeline body by kind, returning
// the result blob key the job should be completed with, if any.
func dispatch(ctx context.Context, env broker.TaskEnvelope) (*string, error) {
	switch schema.JobKind(env.Kind) {
	case schema.JobKindIngestion:
		return runIngestion(ctx, env.JobID)
	case schema.JobKindAnalysis:
		return runAnalysis(ctx, env.JobID)
	case schema.JobKindQA:
		return runQA(ctx, env.JobID)
	default:
		return nil, apperr.New(apperr.KindValidationFailure, "unknown job kind %q", env.Kind)
	}
}
