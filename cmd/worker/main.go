// Copyright 2020 Google LLC
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     https://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Command worker runs one pod's pull worker (C5): it polls the Work
// Item Store for the configured service, drives the sidecar runner,
// and reports outcomes until the pod is signalled to terminate.
package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-kit/log/level"
	"github.com/oklog/run"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	ctrl "sigs.k8s.io/controller-runtime"

	"k8s.io/client-go/kubernetes"

	"github.com/nasa/harmony/internal/config"
	"github.com/nasa/harmony/internal/logging"
	"github.com/nasa/harmony/pkg/objectstore"
	"github.com/nasa/harmony/pkg/sidecar"
	"github.com/nasa/harmony/pkg/worker"
)

func main() {
	cfg, err := config.FromEnvironment()
	if err != nil {
		fmt.Fprintf(os.Stderr, "loading configuration failed: %s\n", err)
		os.Exit(2)
	}

	logger := logging.New(os.Getenv("LOG_LEVEL"))
	logger = logging.WithRequest(logger, "", "")

	restConfig, err := ctrl.GetConfig()
	if err != nil {
		_ = level.Error(logger).Log("msg", "loading kubeconfig failed", "err", err)
		os.Exit(1)
	}
	clientset, err := kubernetes.NewForConfig(restConfig)
	if err != nil {
		_ = level.Error(logger).Log("msg", "building kubernetes client failed", "err", err)
		os.Exit(1)
	}

	objects, err := objectstore.NewS3Store(context.Background(), "", false)
	if err != nil {
		_ = level.Error(logger).Log("msg", "building object store client failed", "err", err)
		os.Exit(1)
	}

	runner := sidecar.NewRunner(clientset, restConfig, objects, cfg.HarmonyService, logger)

	metrics := prometheus.NewRegistry()
	metrics.MustRegister(
		prometheus.NewGoCollector(),
		prometheus.NewProcessCollector(prometheus.ProcessCollectorOpts{}),
	)
	workItemsPolled := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "harmony_worker_work_items_polled_total",
		Help: "Number of work items successfully polled from the Work Item Store.",
	})
	metrics.MustRegister(workItemsPolled)

	source := &worker.HTTPWorkSource{
		BaseURL:    fmt.Sprintf("%s://%s:%d/workItems", backendScheme(cfg.BackendHost), cfg.BackendHost, cfg.BackendPort),
		Logger:     logger,
		MaxRetries: cfg.MaxPutWorkRetries,
		Backoff:    worker.DefaultPollBackoff(),
	}
	sentinel := worker.NewSentinel(cfg.WorkingDir)
	executor := worker.NewRetryingExecutor(&execAdapter{
		runner:   runner,
		cmrQuery: sidecar.NewCMRQueryClient(cfg.WorkerPort),
		cfg:      cfg,
	})

	var g run.Group
	{
		ctx, cancel := context.WithCancel(context.Background())
		g.Add(func() error {
			return worker.Run(ctx, logger, worker.Options{
				ServiceID:     cfg.HarmonyService,
				PodName:       cfg.MyPodName,
				Source:        source,
				Executor:      executor,
				Sentinel:      sentinel,
				WorkerTimeout: cfg.WorkerTimeout,
			})
		}, func(error) {
			cancel()
		})
	}
	{
		term := make(chan os.Signal, 1)
		cancel := make(chan struct{})
		signal.Notify(term, os.Interrupt, syscall.SIGTERM)
		g.Add(func() error {
			select {
			case <-term:
				_ = level.Info(logger).Log("msg", "received SIGTERM, waiting for in-flight work item")
			case <-cancel:
			}
			return nil
		}, func(error) {
			close(cancel)
		})
	}
	{
		addr := fmt.Sprintf(":%d", cfg.MetricsPort)
		server := &http.Server{Addr: addr}
		http.Handle("/metrics", promhttp.HandlerFor(metrics, promhttp.HandlerOpts{Registry: metrics}))
		g.Add(func() error {
			_ = level.Info(logger).Log("msg", "starting metrics server", "addr", addr)
			return server.ListenAndServe()
		}, func(error) {
			ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
			defer cancel()
			_ = server.Shutdown(ctx)
		})
	}

	if err := g.Run(); err != nil {
		_ = level.Error(logger).Log("msg", "worker exited with error", "err", err)
		os.Exit(1)
	}
}

// backendScheme implements §6's URL-scheme rule: the backend is
// reached over plain http only for the two known local/dev hostnames;
// every other host is assumed to require TLS.
func backendScheme(backendHost string) string {
	switch backendHost {
	case "harmony", "host.docker.internal":
		return "http"
	default:
		return "https"
	}
}
