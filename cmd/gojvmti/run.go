package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"path/filepath"
	"strconv"
	"strings"
	"syscall"

	"github.com/fatih/color"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/daimatz/gojvmti/pkg/agent/faketime"
	"github.com/daimatz/gojvmti/pkg/agent/heapsampler"
	"github.com/daimatz/gojvmti/pkg/agent/npe"
	"github.com/daimatz/gojvmti/pkg/agent/vmtrace"
	"github.com/daimatz/gojvmti/pkg/vm"
)

var runFlags struct {
	classpath    string
	jmod         string
	config       string
	npe          bool
	trace        bool
	traceOutput  string
	timeOffset   string
	heapSampler  bool
	heapInterval int64
	heapDump     string
}

var runCmd = &cobra.Command{
	Use:   "run <classfile>",
	Short: "Execute a class file's main method with the configured agents attached",
	Args:  cobra.ExactArgs(1),
	RunE:  runMain,
}

func init() {
	f := runCmd.Flags()
	f.StringVar(&runFlags.classpath, "classpath", "", "directory to load user classes from (default: the class file's directory)")
	f.StringVar(&runFlags.jmod, "jmod", "", "path to java.base.jmod (default: autodiscover)")
	f.StringVar(&runFlags.config, "config", "", "TOML agent configuration file")
	f.BoolVar(&runFlags.npe, "npe", false, "annotate NullPointerException messages")
	f.BoolVar(&runFlags.trace, "trace", false, "log host events")
	f.StringVar(&runFlags.traceOutput, "trace-output", "", "trace log file (default: stderr)")
	f.StringVar(&runFlags.timeOffset, "time-offset", "", "shift the guest clock by this many milliseconds")
	f.BoolVar(&runFlags.heapSampler, "heap-sampler", false, "sample object allocations")
	f.Int64Var(&runFlags.heapInterval, "heap-interval", 512*1024, "average allocated bytes between samples (0 samples every allocation)")
	f.StringVar(&runFlags.heapDump, "heap-dump", "", "write an allocation snapshot to this file on exit")
}

// findJmodPath locates java.base.jmod: explicit env var, then JAVA_HOME,
// then a glob over common install locations.
func findJmodPath() string {
	if env := os.Getenv("JAVA_BASE_JMOD"); env != "" {
		return env
	}
	if javaHome := os.Getenv("JAVA_HOME"); javaHome != "" {
		p := filepath.Join(javaHome, "jmods", "java.base.jmod")
		if _, err := os.Stat(p); err == nil {
			return p
		}
	}
	matches, _ := filepath.Glob("/usr/lib/jvm/java-*-openjdk-*/jmods/java.base.jmod")
	if len(matches) > 0 {
		return matches[0]
	}
	return ""
}

// mergeConfig folds the config file into the flag values. Flags set
// explicitly on the command line win.
func mergeConfig(cmd *cobra.Command, cfg *Config) {
	if !cmd.Flags().Changed("npe") {
		runFlags.npe = cfg.NPE.Enabled
	}
	if !cmd.Flags().Changed("trace") {
		runFlags.trace = cfg.Trace.Enabled
	}
	if !cmd.Flags().Changed("trace-output") {
		runFlags.traceOutput = cfg.Trace.Output
	}
	if !cmd.Flags().Changed("time-offset") && cfg.Faketime.OffsetMillis != 0 {
		runFlags.timeOffset = strconv.FormatInt(cfg.Faketime.OffsetMillis, 10)
	}
	if !cmd.Flags().Changed("heap-sampler") {
		runFlags.heapSampler = cfg.HeapSampler.Enabled
	}
	if !cmd.Flags().Changed("heap-interval") && cfg.HeapSampler.Interval != 0 {
		runFlags.heapInterval = cfg.HeapSampler.Interval
	}
	if !cmd.Flags().Changed("heap-dump") {
		runFlags.heapDump = cfg.HeapSampler.Dump
	}
}

func runMain(cmd *cobra.Command, args []string) error {
	if runFlags.config != "" {
		cfg, err := LoadConfig(runFlags.config)
		if err != nil {
			return err
		}
		mergeConfig(cmd, cfg)
	}

	filename := args[0]
	className := strings.TrimSuffix(filepath.Base(filename), ".class")
	classpath := runFlags.classpath
	if classpath == "" {
		classpath = filepath.Dir(filename)
	}

	jmodPath := runFlags.jmod
	if jmodPath == "" {
		jmodPath = findJmodPath()
	}
	if jmodPath == "" {
		return fmt.Errorf("could not find java.base.jmod: set JAVA_HOME or JAVA_BASE_JMOD, or pass --jmod")
	}

	bootstrap := vm.NewJmodClassLoader(jmodPath)
	userCL := vm.NewUserClassLoader(classpath, bootstrap)
	v := vm.NewVM(userCL)

	// Attach order matters for the clock: faketime must see the native
	// bind before anything resolves the clock.
	if runFlags.timeOffset != "" {
		if err := faketime.Load(v.AttachAgent(), runFlags.timeOffset); err != nil {
			return err
		}
	}
	if runFlags.npe {
		if err := npe.Load(v.AttachAgent()); err != nil {
			return err
		}
	}
	if runFlags.trace {
		var w io.Writer = os.Stderr
		if runFlags.traceOutput != "" {
			f, err := os.Create(runFlags.traceOutput)
			if err != nil {
				return fmt.Errorf("opening trace output: %w", err)
			}
			defer f.Close()
			w = f
		}
		if err := vmtrace.Load(v.AttachAgent(), w); err != nil {
			return err
		}
	}
	var sampler *heapsampler.Agent
	if runFlags.heapSampler || runFlags.heapDump != "" {
		var err error
		sampler, err = heapsampler.Load(v.AttachAgent(), os.Stderr, runFlags.heapInterval)
		if err != nil {
			return err
		}
	}

	ctx, cancel := context.WithCancel(cmd.Context())
	defer cancel()
	g, ctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		defer cancel()
		return v.Execute(className)
	})
	// SIGQUIT triggers a data dump, the way jstack pokes a JVM.
	g.Go(func() error {
		sig := make(chan os.Signal, 1)
		signal.Notify(sig, syscall.SIGQUIT)
		defer signal.Stop(sig)
		for {
			select {
			case <-ctx.Done():
				return nil
			case <-sig:
				v.RequestDataDump()
			}
		}
	})

	runErr := g.Wait()

	if sampler != nil && runFlags.heapDump != "" {
		f, err := os.Create(runFlags.heapDump)
		if err != nil {
			return fmt.Errorf("opening heap dump: %w", err)
		}
		defer f.Close()
		if err := sampler.WriteSnapshot(f); err != nil {
			return err
		}
	}

	if runErr != nil {
		color.New(color.FgRed).Fprintf(os.Stderr, "Error executing: %v\n", runErr)
		return runErr
	}
	return nil
}
