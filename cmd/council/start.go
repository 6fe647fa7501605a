package main

import (
	"context"
	"fmt"
	"net/http"
	"net/http/pprof"
	"os"
	"os/signal"
	"path/filepath"
	"sync"
	"syscall"
	"time"

	"github.com/axiomesh/axiom-kit/log"
	"github.com/axiomesh/council"
	"github.com/axiomesh/council/core"
	"github.com/axiomesh/council/repo"
	"github.com/axiomesh/council/storage"
	"github.com/axiomesh/council/transport"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/sirupsen/logrus"
	"github.com/urfave/cli/v2"
)

func start(ctx *cli.Context) error {
	p, err := getRootPath(ctx)
	if err != nil {
		return err
	}
	r, err := repo.Load(p)
	if err != nil {
		return err
	}

	err = log.Initialize(
		log.WithReportCaller(r.Config.Log.ReportCaller),
		log.WithPersist(true),
		log.WithFilePath(filepath.Join(r.Config.RepoRoot, repo.LogsDirName)),
		log.WithFileName(r.Config.Log.Filename),
		log.WithMaxAge(r.Config.Log.MaxAge),
		log.WithRotationTime(r.Config.Log.RotationTime),
	)
	if err != nil {
		return fmt.Errorf("log initialize: %w", err)
	}

	printVersion()

	logger := log.New()
	logger.SetLevel(log.ParseLevel(r.Config.Log.Level))

	store, err := storage.OpenStore(r.Config)
	if err != nil {
		return fmt.Errorf("open store: %w", err)
	}

	nc, err := transport.Connect(r.Config.Transport, logger.WithField("module", "transport"))
	if err != nil {
		store.Close()
		return err
	}

	metrics := core.NewMetrics()
	engine, err := core.NewCouncil(ctx.Context, r.Config, nc, store, metrics)
	if err != nil {
		nc.Close()
		store.Close()
		return fmt.Errorf("new council error: %w", err)
	}

	var metricsServer *http.Server
	if r.Config.Metrics.Enable {
		metricsServer = serveMetrics(r.Config.Metrics.Listen, metrics, logger)
	}

	var wg sync.WaitGroup
	wg.Add(1)
	handleShutdown(engine, nc, metricsServer, &wg)

	if err := engine.Start(); err != nil {
		return fmt.Errorf("start council failed: %w", err)
	}

	fmt.Println("=============Council is ready=============")

	wg.Wait()

	return nil
}

func serveMetrics(listen string, metrics *core.Metrics, logger logrus.FieldLogger) *http.Server {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(metrics.Registry, promhttp.HandlerOpts{}))
	mux.HandleFunc("/debug/pprof/", pprof.Index)
	mux.HandleFunc("/debug/pprof/cmdline", pprof.Cmdline)
	mux.HandleFunc("/debug/pprof/profile", pprof.Profile)
	mux.HandleFunc("/debug/pprof/symbol", pprof.Symbol)
	mux.HandleFunc("/debug/pprof/trace", pprof.Trace)
	srv := &http.Server{
		Addr:              listen,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}
	go func() {
		logger.Infof("metrics listening on %s", listen)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Errorf("metrics server: %s", err)
		}
	}()
	return srv
}

func printVersion() {
	fmt.Printf("Council version: %s-%s-%s\n", council.CurrentVersion, council.CurrentBranch, council.CurrentCommit)
	fmt.Printf("App build date: %s\n", council.BuildDate)
	fmt.Printf("System version: %s\n", council.Platform)
	fmt.Printf("Golang version: %s\n", council.GoVersion)
	fmt.Println()
}

func handleShutdown(node *core.Council, nc *transport.NATS, metricsServer *http.Server, wg *sync.WaitGroup) {
	var stop = make(chan os.Signal, 2)
	signal.Notify(stop, syscall.SIGTERM)
	signal.Notify(stop, syscall.SIGINT)

	go func() {
		<-stop
		fmt.Println("received interrupt signal, shutting down...")
		if err := node.Stop(); err != nil {
			fmt.Println("stop council:", err)
		}
		if err := nc.Close(); err != nil {
			fmt.Println("close transport:", err)
		}
		if metricsServer != nil {
			ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
			_ = metricsServer.Shutdown(ctx)
			cancel()
		}
		wg.Done()
		os.Exit(0)
	}()
}
