// Copyright (C) NHR@FAU, University Erlangen-Nuremberg.
// All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package workerpool

import (
	"runtime"
	"time"

	"github.com/go-co-op/gocron/v2"
	"github.com/loadtrace/backend/internal/config"
	"github.com/loadtrace/backend/internal/repository"
	"github.com/loadtrace/backend/pkg/log"
)

// Scheduler runs the periodic housekeeping jobs every worker process needs
// regardless of which tasks it happens to be consuming: sweeping jobs and
// ingestion jobs stuck past their hard timeout, and purging staging rows
// left behind by a job that crashed before it could promote or discard
// them.
type Scheduler struct {
	s gocron.Scheduler
}

// NewScheduler builds and starts the housekeeping scheduler.
func NewScheduler() (*Scheduler, error) {
	s, err := gocron.NewScheduler()
	if err != nil {
		return nil, err
	}
	sched := &Scheduler{s: s}
	sched.registerTimeoutSweep()
	sched.registerStagingPurge()
	s.Start()
	return sched, nil
}

// Shutdown stops the scheduler, waiting for any in-flight run to finish.
func (sched *Scheduler) Shutdown() error {
	return sched.s.Shutdown()
}

func (sched *Scheduler) registerTimeoutSweep() {
	jobRepo := repository.GetJobRepository()
	ingestionRepo := repository.GetIngestionJobRepository()

	if _, err := sched.s.NewJob(
		gocron.DurationJob(time.Minute),
		gocron.NewTask(func() {
			if n, err := jobRepo.FailTimedOut(config.Keys.HardTimeoutSeconds); err != nil {
				log.Warnf("workerpool: sweeping timed-out jobs: %v", err)
			} else if n > 0 {
				log.Infof("workerpool: failed %d job(s) stuck past their hard timeout", n)
			}

			if n, err := ingestionRepo.FailTimedOut(config.Keys.HardTimeoutSeconds); err != nil {
				log.Warnf("workerpool: sweeping timed-out ingestion jobs: %v", err)
			} else if n > 0 {
				log.Infof("workerpool: failed %d ingestion job(s) stuck past their hard timeout", n)
			}

			runtime.GC()
		}),
	); err != nil {
		log.Errorf("workerpool: registering timeout sweep: %v", err)
	}
}

func (sched *Scheduler) registerStagingPurge() {
	staging := repository.GetStagingRepository()
	retention := time.Duration(config.Keys.StagingRetentionMinutes) * time.Minute

	if _, err := sched.s.NewJob(
		gocron.DurationJob(15*time.Minute),
		gocron.NewTask(func() {
			cutoff := time.Now().Add(-retention)
			n, err := staging.PurgeStaleStaging(cutoff)
			if err != nil {
				log.Warnf("workerpool: purging stale staging rows: %v", err)
				return
			}
			if n > 0 {
				log.Infof("workerpool: purged %d stale staging row(s) older than %s", n, cutoff)
			}
		}),
	); err != nil {
		log.Errorf("workerpool: registering staging purge: %v", err)
	}
}
