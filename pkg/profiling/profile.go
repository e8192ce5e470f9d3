// Package profiling wires pprof CPU and heap captures into the engine
// binary behind command line flags.
package profiling

import (
	"os"
	"runtime"
	"runtime/pprof"

	"github.com/sirupsen/logrus"
)

// InitCPUProfiling starts a CPU profile written to the given path. The
// returned closure stops the profiler and flushes the file; call it on
// shutdown.
func InitCPUProfiling(cpuProfile *string) func() {
	logrus.Infof("writing CPU profile to %s", *cpuProfile)

	file, err := os.Create(*cpuProfile)
	if err != nil {
		logrus.WithError(err).Fatal("failed to create CPU profile file")
	}

	if err := pprof.StartCPUProfile(file); err != nil {
		logrus.WithError(err).Fatal("failed to start the CPU profiler")
	}

	return func() {
		pprof.StopCPUProfile()

		if err := file.Close(); err != nil {
			logrus.WithError(err).Fatal("failed to flush the CPU profile")
		}
	}
}

// InitMemoryProfiling arranges a heap profile at the given path. The
// snapshot is taken when the returned closure runs, after a forced GC so
// the profile reflects live allocations only.
func InitMemoryProfiling(memProfile *string) func() {
	logrus.Infof("heap profile will be written to %s", *memProfile)

	return func() {
		file, err := os.Create(*memProfile)
		if err != nil {
			logrus.WithError(err).Fatal("failed to create heap profile file")
		}

		runtime.GC()

		if err := pprof.WriteHeapProfile(file); err != nil {
			logrus.WithError(err).Fatal("failed to write the heap profile")
		}

		if err = file.Close(); err != nil {
			logrus.WithError(err).Fatal("failed to flush the heap profile")
		}
	}
}
