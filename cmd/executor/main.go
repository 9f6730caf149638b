// Command executor is the on-device forkserver that drives a TEE's vendor
// client library on behalf of a remote fuzzer (spec §1, §6). Usage:
//
//	executor <target> <port> [flags]
//
// target is one of optee, qsee, tc, beanpod. port is the status port; the
// data port is port+1.
package main

import (
	"context"
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/spf13/cobra"

	executor "github.com/behrlich/tee-executor"
	"github.com/behrlich/tee-executor/internal/constants"
	"github.com/behrlich/tee-executor/internal/coverage"
	"github.com/behrlich/tee-executor/internal/forkserver"
	"github.com/behrlich/tee-executor/internal/interfaces"
	"github.com/behrlich/tee-executor/internal/logging"
	"github.com/behrlich/tee-executor/internal/promexport"
	"github.com/behrlich/tee-executor/internal/session"
)

func main() {
	// forkserver.IsChild() gates whether this process is a re-exec'd child
	// (spec §4.7's fork substitute); childMain never returns to cobra.
	if forkserver.IsChild() {
		os.Exit(childMain())
	}
	os.Exit(run())
}

func run() int {
	var (
		verbose     bool
		libPath     string
		metricsAddr string
	)

	cmd := &cobra.Command{
		Use:   "executor <target> <port>",
		Short: "TEE fuzzing harness executor",
		Args:  cobra.ExactArgs(2),
		SilenceUsage: true,
	}
	exitCode := 1
	cmd.RunE = func(_ *cobra.Command, args []string) error {
		target := args[0]
		port, err := strconv.Atoi(args[1])
		if err != nil {
			return fmt.Errorf("invalid port %q: %w", args[1], err)
		}

		logLevel := logging.LevelInfo
		if verbose {
			logLevel = logging.LevelDebug
		}
		log := logging.NewLogger(&logging.Config{Level: logLevel, Output: os.Stderr})
		logging.SetDefault(log)

		if libPath == "" {
			libPath = constants.DefaultLibPaths[target]
		}

		exitCode = runExecutor(target, port, libPath, metricsAddr, log)
		return nil
	}

	cmd.Flags().BoolVarP(&verbose, "verbose", "v", false, "enable debug logging")
	cmd.Flags().StringVar(&libPath, "lib", "", "override the vendor TEE client library path")
	cmd.Flags().StringVar(&metricsAddr, "metrics-addr", "", "expose Prometheus metrics on this address (disabled if empty)")

	if err := cmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		return 1
	}
	return exitCode
}

// runExecutor wires together metrics, coverage, and the forkserver for one
// backend target, then runs until the process should stop (spec §4.7).
func runExecutor(target string, port int, libPath, metricsAddr string, log *logging.Logger) int {
	if executor.BackendIndex(target) < 0 {
		log.Errorf("unrecognized target %q (want optee, qsee, tc, or beanpod)", target)
		return 1
	}

	metrics := executor.NewMetrics()
	exp := promexport.New()
	observer := interfaces.Observer(multiObserver{exp, executor.NewMetricsObserver(metrics)})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if metricsAddr != "" {
		go func() {
			if err := exp.Serve(ctx, metricsAddr); err != nil {
				log.Warnf("metrics server stopped: %v", err)
			}
		}()
	}

	cov, err := coverage.NewControllerFromEnv()
	if err != nil {
		log.Errorf("configure coverage: %v", err)
		return 1
	}
	if target != "optee" && target != "beanpod" && cov.Enabled() {
		log.Warnf("coverage plumbing is OP-TEE/Beanpod-only; ignoring SHMSZ/COVFEEDBACK/COVCOLLECTDIR for %s", target)
		cov = &coverage.Controller{Mode: coverage.ModeDisabled}
	}

	srv := forkserver.New(forkserver.Config{
		Target:     target,
		StatusPort: port,
		NewBackend: func() (interfaces.Backend, error) {
			return newBackend(target, libPath, cov, observer, log)
		},
		Coverage: cov,
		Log:      log,
		Observer: observer,
	})

	return srv.Run(ctx)
}

func newBackend(target, libPath string, cov *coverage.Controller, obs interfaces.Observer, log interfaces.Logger) (interfaces.Backend, error) {
	switch target {
	case "optee":
		return session.NewOPTEEBackend(libPath, cov, obs, log), nil
	case "beanpod":
		return session.NewBeanpodBackend(libPath, cov, obs, log), nil
	case "qsee":
		return session.NewQSEEBackend(libPath, obs, log), nil
	case "tc":
		return session.NewTCBackend(libPath, obs, log), nil
	default:
		return nil, fmt.Errorf("unrecognized target %q", target)
	}
}

// multiObserver fans an Observer call out to every wrapped Observer.
type multiObserver []interfaces.Observer

func (m multiObserver) ObserveSession(backend string, success bool) {
	for _, o := range m {
		o.ObserveSession(backend, success)
	}
}

func (m multiObserver) ObserveCommand(backend, command string, latencyNs uint64, success bool) {
	for _, o := range m {
		o.ObserveCommand(backend, command, latencyNs, success)
	}
}

func (m multiObserver) ObserveCoverage(backend string, newCoverage bool) {
	for _, o := range m {
		o.ObserveCoverage(backend, newCoverage)
	}
}

var _ interfaces.Observer = multiObserver(nil)

// childMain runs in the re-exec'd child. It never consults b.Coverage (only
// PreExecute/PostExecute, which run in the parent, read that field): the
// child instead recovers the inherited coverage region itself, inside
// Backend.Execute, via coverage.FromInheritedEnv.
func childMain() int {
	target, _ := childTargetAndPort()
	libPath := childLibPath(constants.DefaultLibPaths[target])

	return forkserver.RunChild(forkserver.Config{
		Target: target,
		NewBackend: func() (interfaces.Backend, error) {
			return newBackend(target, libPath, nil, executor.NoOpObserver{}, logging.Default())
		},
	})
}

// childLibPath scans the re-exec'd argv for --lib, since the child process
// bypasses cobra parsing entirely (see main).
func childLibPath(fallback string) string {
	for i, arg := range os.Args {
		if arg == "--lib" && i+1 < len(os.Args) {
			return os.Args[i+1]
		}
		if strings.HasPrefix(arg, "--lib=") {
			return strings.TrimPrefix(arg, "--lib=")
		}
	}
	return fallback
}

// childTargetAndPort recovers the CLI's positional args, which os/exec
// re-invokes the child with verbatim (see forkserver.spawnChild).
func childTargetAndPort() (string, int) {
	if len(os.Args) < 3 {
		return "", 0
	}
	port, _ := strconv.Atoi(os.Args[2])
	return os.Args[1], port
}
