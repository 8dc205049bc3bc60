package cmd

import (
	"fmt"
	"os"
	"runtime"
	"runtime/pprof"
	"runtime/trace"

	"github.com/spiffcs/testdeck/internal/log"
)

// Profiler writes the CPU profile, heap profile and execution trace
// requested with --cpuprofile, --memprofile and --trace.
type Profiler struct {
	cpuProfile string
	memProfile string
	tracePath  string

	// stops run in reverse order of start.
	stops []func()
}

// NewProfiler creates a profiler. Empty paths disable the corresponding
// output.
func NewProfiler(cpuProfile, memProfile, tracePath string) *Profiler {
	return &Profiler{
		cpuProfile: cpuProfile,
		memProfile: memProfile,
		tracePath:  tracePath,
	}
}

// Start begins CPU profiling and tracing. On error nothing is left running.
func (p *Profiler) Start() error {
	if p.cpuProfile != "" {
		if err := p.startWith(p.cpuProfile, "CPU profile", pprof.StartCPUProfile, pprof.StopCPUProfile); err != nil {
			return err
		}
	}
	if p.tracePath != "" {
		if err := p.startWith(p.tracePath, "trace", trace.Start, trace.Stop); err != nil {
			p.stopAll()
			return err
		}
	}
	return nil
}

func (p *Profiler) startWith(path, what string, start func(*os.File) error, stop func()) error {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("could not create %s: %w", what, err)
	}
	if err := start(f); err != nil {
		f.Close()
		return fmt.Errorf("could not start %s: %w", what, err)
	}
	p.stops = append(p.stops, func() {
		stop()
		if err := f.Close(); err != nil {
			log.Warn("could not close "+what, "path", path, "error", err)
		}
	})
	return nil
}

func (p *Profiler) stopAll() {
	for i := len(p.stops) - 1; i >= 0; i-- {
		p.stops[i]()
	}
	p.stops = nil
}

// Stop ends profiling and writes the heap profile if one was requested.
func (p *Profiler) Stop() {
	p.stopAll()
	if p.memProfile == "" {
		return
	}

	f, err := os.Create(p.memProfile)
	if err != nil {
		log.Warn("could not create memory profile", "path", p.memProfile, "error", err)
		return
	}
	defer f.Close()
	runtime.GC()
	if err := pprof.WriteHeapProfile(f); err != nil {
		log.Warn("could not write memory profile", "path", p.memProfile, "error", err)
	}
}
