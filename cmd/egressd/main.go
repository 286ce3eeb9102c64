// Command egressd is the composition root for the partitioned batching
// egress sink: it loads configuration, wires a downstream transport, an
// acker, a partitioner and the sink core together, exposes an HTTP ingest
// and metrics surface, and drives the core's cooperative flush loop until a
// shutdown signal arrives. Grounded on the teacher's cmd/main.go entry
// point and internal/app/app.go's New/Start/Run lifecycle, trimmed to the
// components this repo actually has: no dispatcher, DLQ, anomaly
// detection, or enterprise subsystems.
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

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/sirupsen/logrus"

	"ssw-egress-sink/internal/config"
	"ssw-egress-sink/internal/egresssink"
	"ssw-egress-sink/internal/ingest"
	"ssw-egress-sink/internal/transport/httpservice"
	"ssw-egress-sink/internal/transport/kafkaservice"
	"ssw-egress-sink/pkg/acker"
	"ssw-egress-sink/pkg/errors"
	"ssw-egress-sink/pkg/rendezvous"
	"ssw-egress-sink/pkg/sinkcore"
)

const version = "v1.0.0"

func main() {
	var configFile string
	flag.StringVar(&configFile, "config", "", "Path to configuration file")
	flag.Parse()

	if configFile == "" {
		if envConfigFile := os.Getenv("EGRESS_CONFIG_FILE"); envConfigFile != "" {
			configFile = envConfigFile
		} else {
			configFile = "/etc/egress-sink/config.yaml"
		}
	}

	if _, statErr := os.Stat(configFile); statErr != nil {
		configFile = ""
	}

	cfg, err := config.Load(configFile)
	if err != nil {
		fmt.Fprintf(os.Stderr, "egressd: %v\n", errors.ConfigError("load", err.Error()).Wrap(err))
		os.Exit(1)
	}

	logger := newLogger(cfg.Log)
	logger.WithField("config_file", configFile).Info("egressd: starting")

	if err := run(logger, cfg); err != nil {
		logFatal(logger, err)
		os.Exit(1)
	}
}

// logFatal logs err with structured AppError fields (component, operation,
// severity) when the failure traces back to one of the domain-stack
// integrations or the acker, and falls back to a plain error log otherwise.
func logFatal(logger *logrus.Logger, err error) {
	if appErr, ok := errors.AsAppError(err); ok {
		entry := logger.WithFields(logrus.Fields(appErr.ToMap()))
		if appErr.IsCritical() {
			entry.Error("egressd: fatal (critical, not recoverable)")
		} else {
			entry.Error("egressd: fatal")
		}
		return
	}
	logger.WithError(err).Error("egressd: fatal")
}

func newLogger(cfg config.LogConfig) *logrus.Logger {
	logger := logrus.New()
	level, err := logrus.ParseLevel(cfg.Level)
	if err != nil {
		level = logrus.InfoLevel
	}
	logger.SetLevel(level)
	if cfg.Format == "text" {
		logger.SetFormatter(&logrus.TextFormatter{})
	} else {
		logger.SetFormatter(&logrus.JSONFormatter{})
	}
	return logger
}

func run(logger *logrus.Logger, cfg *config.Config) error {
	service, err := buildService(cfg, logger)
	if err != nil {
		return errors.SystemError("build_service", err.Error()).Wrap(err)
	}

	ack, err := acker.NewPositionAcker(cfg.PositionDir, "egress-sink", logger)
	if err != nil {
		return errors.ConfigError("build_acker", err.Error()).Wrap(err)
	}

	sinkCfg := egresssink.Config{
		MaxEvents: cfg.Batch.MaxEvents,
		MaxBytes:  cfg.Batch.MaxBytes,
		Timeout:   cfg.Batch.Timeout,
		Ordered:   cfg.Batch.Ordered,
	}
	partitioner := buildPartitioner(cfg)
	sink := egresssink.New[string](sinkCfg, partitioner, service, ack, ingest.Encode, logger)

	driverCtx, cancelDriver := context.WithCancel(context.Background())
	driverDone := make(chan struct{})
	go driveFlushLoop(driverCtx, sink, logger, driverDone)

	httpServer := buildHTTPServer(cfg, sink, logger)
	metricsServer := buildMetricsServer(cfg)

	serveErrs := make(chan error, 2)
	go serve(httpServer, "http", serveErrs)
	go serve(metricsServer, "metrics", serveErrs)

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	select {
	case <-sigChan:
		logger.Info("egressd: shutdown signal received")
	case err := <-serveErrs:
		logger.WithError(err).Error("egressd: server failed")
	}

	shutdownCtx, cancelShutdown := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancelShutdown()

	httpServer.Shutdown(shutdownCtx)
	metricsServer.Shutdown(shutdownCtx)

	closeErr := sink.Close(shutdownCtx)

	cancelDriver()
	<-driverDone

	return closeErr
}

// driveFlushLoop is the external driver the sink core's cooperative model
// needs: the core only transitions state when FlushStep is called, so
// something has to call it on a schedule (spec §4.4's flush_step is polled,
// not event-driven).
func driveFlushLoop(ctx context.Context, sink *egresssink.Sink[string], logger *logrus.Logger, done chan<- struct{}) {
	defer close(done)
	ticker := time.NewTicker(20 * time.Millisecond)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := sink.FlushStep(ctx); err != nil {
				logger.WithError(err).Error("egressd: flush step failed")
			}
		}
	}
}

// buildPartitioner returns a per-key partitioner when cfg.Partition.Shards
// is empty (one partition per distinct ingest.PartitionKey), or a
// rendezvous-hashed partitioner over a fixed shard set otherwise, bounding
// the live partition count regardless of key cardinality.
func buildPartitioner(cfg *config.Config) sinkcore.Partitioner[sinkcore.Event, string] {
	if len(cfg.Partition.Shards) == 0 {
		return sinkcore.PartitionerFunc[sinkcore.Event, string](ingest.PartitionKey)
	}
	return rendezvous.New[sinkcore.Event](cfg.Partition.Shards, ingest.PartitionKey)
}

func buildService(cfg *config.Config, logger *logrus.Logger) (sinkcore.Service, error) {
	switch {
	case cfg.Kafka.Enabled && cfg.HTTP.Enabled:
		return nil, fmt.Errorf("exactly one of kafka.enabled or http.enabled must be set")
	case cfg.Kafka.Enabled:
		return kafkaservice.New(kafkaservice.Config{
			Brokers:          cfg.Kafka.Brokers,
			Topic:            cfg.Kafka.Topic,
			Compression:      cfg.Kafka.Compression,
			SASLEnabled:      cfg.Kafka.SASLEnabled,
			SASLUser:         cfg.Kafka.SASLUser,
			SASLPassword:     cfg.Kafka.SASLPassword,
			SASLMechanism:    cfg.Kafka.SASLMechanism,
			BreakerThreshold: cfg.Kafka.BreakerThreshold,
			BreakerTimeout:   cfg.Kafka.BreakerTimeout,
		}, logger)
	case cfg.HTTP.Enabled:
		return httpservice.New(httpservice.Config{
			Endpoint:       cfg.HTTP.Endpoint,
			RequestTimeout: cfg.HTTP.RequestTimeout,
		}, logger), nil
	default:
		return nil, fmt.Errorf("exactly one of kafka.enabled or http.enabled must be set")
	}
}

func buildHTTPServer(cfg *config.Config, sink *egresssink.Sink[string], logger *logrus.Logger) *http.Server {
	router := mux.NewRouter()
	router.Handle("/api/v1/events", ingest.NewHandler(sink, logger)).Methods("POST")
	router.HandleFunc("/health", ingest.HealthHandler(time.Now(), version)).Methods("GET")

	return &http.Server{
		Addr:    cfg.Server.Addr,
		Handler: router,
	}
}

func buildMetricsServer(cfg *config.Config) *http.Server {
	router := mux.NewRouter()
	router.Handle(cfg.Metrics.Path, promhttp.Handler())
	return &http.Server{
		Addr:    cfg.Metrics.Addr,
		Handler: router,
	}
}

func serve(server *http.Server, name string, errs chan<- error) {
	if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		errs <- fmt.Errorf("%s server: %w", name, err)
	}
}
