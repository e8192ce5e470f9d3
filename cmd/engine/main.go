package main

import (
	"context"
	"flag"
	"os"
	"os/signal"
	"syscall"

	"github.com/meshrtc/engine/pkg/config"
	"github.com/meshrtc/engine/pkg/gateway"
	"github.com/meshrtc/engine/pkg/profiling"
	"github.com/meshrtc/engine/pkg/telemetry"
	"github.com/sirupsen/logrus"
)

func main() {
	// Parse command line flags.
	var (
		configFilePath = flag.String("config", "config.yaml", "configuration file path")
		cpuProfile     = flag.String("cpuProfile", "", "write CPU profile to `file`")
		memProfile     = flag.String("memProfile", "", "write memory profile to `file`")
	)
	flag.Parse()

	// Initialize logging subsystem (formatting, global logging framework etc).
	logrus.SetFormatter(&logrus.TextFormatter{FullTimestamp: true, ForceColors: true})

	// Define functions that are called before exiting.
	// This is useful to stop the profiler if it's enabled.
	deferredFunctions := []func(){}
	if *cpuProfile != "" {
		deferredFunctions = append(deferredFunctions, profiling.InitCPUProfiling(cpuProfile))
	}
	if *memProfile != "" {
		deferredFunctions = append(deferredFunctions, profiling.InitMemoryProfiling(memProfile))
	}

	// Handle signal interruptions.
	c := make(chan os.Signal, 2)
	signal.Notify(c, os.Interrupt, syscall.SIGTERM)
	go func() {
		<-c
		for _, function := range deferredFunctions {
			function()
		}
		os.Exit(0)
	}()

	// Load the config file from the environment variable or path.
	cfg, err := config.LoadConfig(*configFilePath)
	if err != nil {
		logrus.WithError(err).Fatal("could not load config")
		return
	}

	switch cfg.LogLevel {
	case "debug":
		logrus.SetLevel(logrus.DebugLevel)
	case "info":
		logrus.SetLevel(logrus.InfoLevel)
	case "warn":
		logrus.SetLevel(logrus.WarnLevel)
	case "error":
		logrus.SetLevel(logrus.ErrorLevel)
	case "fatal":
		logrus.SetLevel(logrus.FatalLevel)
	case "panic":
		logrus.SetLevel(logrus.PanicLevel)
	default:
		logrus.SetLevel(logrus.InfoLevel)
	}

	// Set up tracing if an exporter is configured.
	if cfg.Telemetry.Enabled() {
		provider, err := telemetry.Setup(context.Background(), cfg.Telemetry)
		if err != nil {
			logrus.WithError(err).Fatal("could not set up telemetry")
			return
		}
		defer func() {
			if err := provider.Shutdown(context.Background()); err != nil {
				logrus.WithError(err).Error("failed to shut down telemetry")
			}
		}()
	}

	logger := logrus.NewEntry(logrus.StandardLogger())
	sessions := gateway.NewSessions(cfg.DisplayManager, logger)
	defer sessions.Close()

	// Serve peer connections. This function blocks until the listener fails.
	if err := gateway.New(cfg.Gateway, sessions, logger).Serve(); err != nil {
		logrus.WithError(err).Fatal("gateway terminated")
	}
}
