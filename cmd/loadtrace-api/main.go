// Copyright (C) NHR@FAU, University Erlangen-Nuremberg.
// All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package main

import (
	"context"
	"flag"
	"io"
	"net"
	"net/http"
	"os"
	"os/signal"
	"runtime/debug"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/gorilla/handlers"
	"github.com/gorilla/mux"
	"github.com/loadtrace/backend/internal/blobstore"
	"github.com/loadtrace/backend/internal/broker"
	"github.com/loadtrace/backend/internal/config"
	"github.com/loadtrace/backend/internal/httpapi"
	"github.com/loadtrace/backend/internal/repository"
	"github.com/loadtrace/backend/internal/runtimeEnv"
	"github.com/loadtrace/backend/pkg/log"

	_ "github.com/mattn/go-sqlite3"
)

func main() {
	var flagConfigFile, flagEnvFile string
	var flagUser, flagGroup string
	flag.StringVar(&flagConfigFile, "config", "./config.json", "Overwrite the default configuration with the options in `config.json`")
	flag.StringVar(&flagEnvFile, "env", "./.env", "Load environment variables from `file`")
	flag.StringVar(&flagUser, "user", "", "Drop root privileges to this user once the listener is bound")
	flag.StringVar(&flagGroup, "group", "", "Drop root privileges to this group once the listener is bound")
	flag.Parse()

	if err := config.Init(flagEnvFile, flagConfigFile); err != nil {
		log.Fatal(err)
	}

	// Initialize sub-modules in dependency order: persistence, then the
	// blob store and broker connection the HTTP handlers need, then the
	// router that ties them together.
	if err := repository.Connect(config.Keys.DBDriver, config.Keys.DBDSN); err != nil {
		log.Fatal(err)
	}

	store, err := blobstore.New(config.Keys.Blob)
	if err != nil {
		log.Fatal(err)
	}

	brokerClient, err := broker.NewClient(&config.Keys.Broker)
	if err != nil {
		log.Fatal(err)
	}
	defer brokerClient.Close()

	api := &httpapi.RestApi{
		JobRepo:       repository.GetJobRepository(),
		IngestionRepo: repository.GetIngestionJobRepository(),
		StatsRepo:     repository.GetStatsRepository(),
		Blob:          store,
		Broker:        brokerClient,
		Metrics:       httpapi.NewCollector(),
	}

	r := mux.NewRouter()
	api.MountRoutes(r)

	r.Use(handlers.CompressHandler)
	r.Use(handlers.RecoveryHandler(handlers.PrintRecoveryStack(true)))
	r.Use(handlers.CORS(
		handlers.AllowedHeaders([]string{"X-Requested-With", "Content-Type", "Authorization", "Origin"}),
		handlers.AllowedMethods([]string{"GET", "POST", "HEAD", "OPTIONS"}),
		handlers.AllowedOrigins([]string{"*"})))
	loggedRouter := handlers.CustomLoggingHandler(io.Discard, r, func(_ io.Writer, params handlers.LogFormatterParams) {
		log.Infof("%s %s (%d, %.02fkb, %dms)",
			params.Request.Method, params.URL.RequestURI(),
			params.StatusCode, float32(params.Size)/1024,
			time.Since(params.TimeStamp).Milliseconds())
	})

	var wg sync.WaitGroup
	server := http.Server{
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 10 * time.Second,
		Handler:      loggedRouter,
		Addr:         config.Keys.Addr,
	}

	listener, err := net.Listen("tcp", config.Keys.Addr)
	if err != nil {
		log.Fatal(err)
	}

	// The listener must be established before privileges are dropped, and
	// privileges dropped before the server actually starts serving.
	if flagUser != "" || flagGroup != "" {
		if err := runtimeEnv.DropPrivileges(flagUser, flagGroup); err != nil {
			log.Fatalf("error while changing user: %s", err.Error())
		}
	}

	log.Printf("HTTP server listening at %s...", config.Keys.Addr)

	wg.Add(1)
	go func() {
		defer wg.Done()
		if err := server.Serve(listener); err != nil && err != http.ErrServerClosed {
			log.Fatal(err)
		}
	}()

	wg.Add(1)
	sigs := make(chan os.Signal, 1)
	signal.Notify(sigs, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		defer wg.Done()
		<-sigs
		runtimeEnv.SystemdNotifiy(false, "shutting down")
		server.Shutdown(context.Background())
	}()

	if strings.TrimSpace(os.Getenv("GOGC")) == "" {
		debug.SetGCPercent(25)
	}
	runtimeEnv.SystemdNotifiy(true, "running")
	wg.Wait()
	log.Print("Graceful shutdown completed!")
}
