// Copyright 2025 Redpanda Data, Inc.

package main

import (
	"context"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/redpanda-data/edgestream/internal/config"
	"github.com/redpanda-data/edgestream/internal/core"
	"github.com/redpanda-data/edgestream/internal/ingress/kafkaingress"
	"github.com/redpanda-data/edgestream/internal/ingress/natsingress"
	"github.com/redpanda-data/edgestream/internal/log"
	"github.com/redpanda-data/edgestream/internal/message"
	"github.com/redpanda-data/edgestream/internal/metricsexport"
	"github.com/redpanda-data/edgestream/internal/sink/amqpsink"
	"github.com/redpanda-data/edgestream/internal/worker"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func run() error {
	confPath := flag.String("config", "./edgestream.yaml", "path to the pipeline configuration file")
	ingressKind := flag.String("ingress", "nats", "ingress source: nats or kafka")
	sinkKind := flag.String("sink", "stdout", "sink: amqp or stdout")
	metricsAddr := flag.String("metrics-addr", ":2112", "address to serve Prometheus metrics on, empty to disable")
	flag.Parse()

	reader := config.NewReader(*confPath, nil)
	ctx := context.Background()
	confType, err := reader.Read(ctx)
	if err != nil {
		return fmt.Errorf("edgestream: load config: %w", err)
	}

	logger, err := log.New(os.Stdout, confType.Log)
	if err != nil {
		return fmt.Errorf("edgestream: build logger: %w", err)
	}

	coreConf, err := confType.ToCoreConfig()
	if err != nil {
		return fmt.Errorf("edgestream: resolve config: %w", err)
	}

	sink, closeSink, err := buildSink(*sinkKind)
	if err != nil {
		return err
	}
	defer closeSink()

	pipeline, err := core.New(coreConf, passthroughExecutor{}, sink, core.OptLogger(logger))
	if err != nil {
		return fmt.Errorf("edgestream: build pipeline: %w", err)
	}
	if err := pipeline.StartBackgroundSweeps(confType.Sweeps.IdleSweepInterval, confType.Sweeps.TickInterval); err != nil {
		return fmt.Errorf("edgestream: start background sweeps: %w", err)
	}

	var metricsServer *http.Server
	if *metricsAddr != "" {
		exporter := metricsexport.New(pipeline)
		go exporter.Run(5 * time.Second)
		mux := http.NewServeMux()
		mux.Handle("/metrics", exporter.Handler())
		metricsServer = &http.Server{Addr: *metricsAddr, Handler: mux}
		go func() {
			if err := metricsServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				logger.Error("metrics server stopped: %v", err)
			}
		}()
	}

	ingressSrc, closeIngress, err := buildIngress(*ingressKind, coreConf)
	if err != nil {
		return err
	}
	defer closeIngress()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)

	ingestCtx, cancelIngest := context.WithCancel(context.Background())
	ingestDone := make(chan struct{})
	go func() {
		defer close(ingestDone)
		for {
			msg, err := ingressSrc.Recv(ingestCtx)
			if err != nil {
				if ingestCtx.Err() != nil {
					return
				}
				logger.Error("ingress receive failed: %v", err)
				continue
			}
			if err := pipeline.Ingest(msg); err != nil {
				logger.With("key", msg.Key).Error("ingest failed: %v", err)
			}
		}
	}()

	<-sigChan
	logger.Info("shutting down")
	cancelIngest()
	<-ingestDone

	pipeline.Shutdown(30 * time.Second)
	if metricsServer != nil {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = metricsServer.Shutdown(shutdownCtx)
	}
	return nil
}

func buildIngress(kind string, coreConf core.Config) (core.IngressSource, func(), error) {
	switch kind {
	case "nats":
		src, err := natsingress.Connect(natsingress.DefaultConfig())
		if err != nil {
			return nil, nil, fmt.Errorf("edgestream: connect nats ingress: %w", err)
		}
		return src, func() { _ = src.Close() }, nil
	case "kafka":
		src, err := kafkaingress.Connect(kafkaingress.DefaultConfig())
		if err != nil {
			return nil, nil, fmt.Errorf("edgestream: connect kafka ingress: %w", err)
		}
		return src, func() { _ = src.Close() }, nil
	default:
		return nil, nil, fmt.Errorf("edgestream: unknown ingress kind %q", kind)
	}
}

func buildSink(kind string) (core.Sink, func(), error) {
	switch kind {
	case "amqp":
		snk, err := amqpsink.Connect(amqpsink.DefaultConfig())
		if err != nil {
			return nil, nil, fmt.Errorf("edgestream: connect amqp sink: %w", err)
		}
		return snk, func() { _ = snk.Close() }, nil
	case "stdout":
		return core.SinkFunc(func(_ context.Context, key string, output any) error {
			_, err := fmt.Fprintf(os.Stdout, "%s -> %v\n", key, output)
			return err
		}), func() {}, nil
	default:
		return nil, nil, fmt.Errorf("edgestream: unknown sink kind %q", kind)
	}
}

// passthroughExecutor is the default algorithm executor: it reports the
// number of payloads in the batch as its output. Real deployments supply
// their own worker.Executor — a C++ FFI call, an ML inference runtime, or
// a WASM guest can all implement the same interface.
type passthroughExecutor struct{}

func (passthroughExecutor) Execute(_ context.Context, batch message.WindowBatch) (any, error) {
	return len(batch.Payloads), nil
}
