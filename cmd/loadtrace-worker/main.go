// Copyright (C) NHR@FAU, University Erlangen-Nuremberg.
// All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package main

import (
	"flag"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/loadtrace/backend/internal/blobstore"
	"github.com/loadtrace/backend/internal/broker"
	"github.com/loadtrace/backend/internal/config"
	"github.com/loadtrace/backend/internal/httpapi"
	"github.com/loadtrace/backend/internal/repository"
	"github.com/loadtrace/backend/internal/runtimeEnv"
	"github.com/loadtrace/backend/internal/workerpool"
	"github.com/loadtrace/backend/pkg/log"

	_ "github.com/mattn/go-sqlite3"
)

func main() {
	var flagConfigFile, flagEnvFile string
	flag.StringVar(&flagConfigFile, "config", "./config.json", "Overwrite the default configuration with the options in `config.json`")
	flag.StringVar(&flagEnvFile, "env", "./.env", "Load environment variables from `file`")
	flag.Parse()

	if err := config.Init(flagEnvFile, flagConfigFile); err != nil {
		log.Fatal(err)
	}

	// Same init order as the API process: persistence before anything that
	// queries it, the blob store and broker before the pool that needs them.
	if err := repository.Connect(config.Keys.DBDriver, config.Keys.DBDSN); err != nil {
		log.Fatal(err)
	}

	store, err := blobstore.New(config.Keys.Blob)
	if err != nil {
		log.Fatal(err)
	}
	workerpool.SetBlobStore(store)

	brokerClient, err := broker.NewClient(&config.Keys.Broker)
	if err != nil {
		log.Fatal(err)
	}
	defer brokerClient.Close()

	metrics := httpapi.NewCollector()

	pool := workerpool.New(workerpool.Config{
		WorkerCount: config.Keys.WorkerCount,
		SoftTimeout: time.Duration(config.Keys.SoftTimeoutSeconds) * time.Second,
		HardTimeout: time.Duration(config.Keys.HardTimeoutSeconds) * time.Second,
	}, brokerClient, metrics)

	if err := pool.Start(config.Keys.Broker.Subject, config.Keys.Broker.QueueGroup); err != nil {
		log.Fatal(err)
	}

	scheduler, err := workerpool.NewScheduler()
	if err != nil {
		log.Fatal(err)
	}

	log.Printf("worker listening on subject %q, queue group %q", config.Keys.Broker.Subject, config.Keys.Broker.QueueGroup)
	runtimeEnv.SystemdNotifiy(true, "running")

	sigs := make(chan os.Signal, 1)
	signal.Notify(sigs, syscall.SIGINT, syscall.SIGTERM)
	<-sigs

	runtimeEnv.SystemdNotifiy(false, "shutting down")
	pool.Stop()
	if err := scheduler.Shutdown(); err != nil {
		log.Errorf("shutting down scheduler: %v", err)
	}
	log.Print("Graceful shutdown completed!")
}
