// Package forkserver implements the dual-socket forkserver dispatch loop
// (spec §4.7): a status listener and a data listener, one accepted status
// connection held for the process lifetime, and one fresh child per
// accepted data connection. Go has no first-class fork() that is safe to
// call from a multi-threaded, garbage-collected runtime, so each "fork" is
// a re-exec of the running binary (IsChild/RunChild) with the accepted
// connection and, when coverage is enabled, the coverage shared-memory fd
// passed across as inherited files.
package forkserver

import (
	"context"
	"errors"
	"fmt"
	"net"
	"os"
	"os/exec"
	"os/signal"
	"sync/atomic"
	"syscall"

	"golang.org/x/sys/unix"

	"github.com/behrlich/tee-executor/internal/constants"
	"github.com/behrlich/tee-executor/internal/coverage"
	"github.com/behrlich/tee-executor/internal/interfaces"
	"github.com/behrlich/tee-executor/internal/logging"
)

// Child ExtraFiles slots, fixed by convention between Server.Run and
// RunChild. os/exec places ExtraFiles starting at fd 3; the resulting fd
// numbers (constants.ChildDataFD/ChildCoverageFD) are shared with
// internal/coverage and internal/session, which is why only the slice
// indices — meaningful solely within spawnChild — stay local here.
const (
	dataFileSlot     = 0 // constants.ChildDataFD
	coverageFileSlot = 1 // constants.ChildCoverageFD, present only when coverage is enabled
)

// Config configures one forkserver process.
type Config struct {
	Target     string
	StatusPort int

	// NewBackend constructs a fresh Backend. The parent calls it once and
	// drives Init/PreExecute/PostExecute/Deinit; each re-exec'd child calls
	// it once and drives only Execute — the two halves never share a Go
	// object because they are different processes.
	NewBackend func() (interfaces.Backend, error)

	Coverage *coverage.Controller // nil disables coverage entirely

	Log      interfaces.Logger
	Observer interfaces.Observer
}

// Server runs the forkserver parent loop.
type Server struct {
	cfg      Config
	stopSoon atomic.Bool

	statusLn net.Listener
	dataLn   net.Listener
}

// New constructs a Server for cfg. Call Run to serve.
func New(cfg Config) *Server {
	return &Server{cfg: cfg}
}

// Stop requests a graceful shutdown: the in-flight accept (if any) is
// unblocked and the loop exits once the current request finishes.
func (s *Server) Stop() {
	s.stopSoon.Store(true)
	if s.dataLn != nil {
		_ = s.dataLn.Close()
	}
}

// IsChild reports whether the current process was re-exec'd as a forkserver
// child (spec §4.7's fork substitute), i.e. whether it should call RunChild
// instead of Server.Run.
func IsChild() bool {
	return os.Getenv(constants.EnvForkserverChild) == "1"
}

// Run binds the status and data listening sockets, accepts one status
// connection, and serves the request loop until stop_soon is set (by
// SIGHUP/SIGINT/SIGTERM or a child exiting 130) or ctx is canceled. It
// returns the process exit code (spec §4.7: 0 clean stop, 1 setup failure).
func (s *Server) Run(ctx context.Context) int {
	log := s.log()

	statusLn, err := net.Listen("tcp", fmt.Sprintf(":%d", s.cfg.StatusPort))
	if err != nil {
		log.Errorf("listen status port %d: %v", s.cfg.StatusPort, err)
		return 1
	}
	defer statusLn.Close()
	s.statusLn = statusLn

	dataLn, err := net.Listen("tcp", fmt.Sprintf(":%d", s.cfg.StatusPort+1))
	if err != nil {
		log.Errorf("listen data port %d: %v", s.cfg.StatusPort+1, err)
		return 1
	}
	defer dataLn.Close()
	s.dataLn = dataLn

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGHUP, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(sigCh)

	stopCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	go func() {
		select {
		case sig := <-sigCh:
			log.Infof("received signal %v, stopping soon", sig)
			s.stopSoon.Store(true)
			cancel()
		case <-stopCtx.Done():
		}
	}()

	backend, err := s.cfg.NewBackend()
	if err != nil {
		log.Errorf("construct backend: %v", err)
		return 1
	}
	if err := backend.Init(); err != nil {
		log.Errorf("backend init: %v", err)
		return 1
	}
	defer func() {
		if err := backend.Deinit(); err != nil {
			log.Errorf("backend deinit: %v", err)
		}
	}()

	statusConn, err := acceptWithCancel(stopCtx, statusLn)
	if err != nil {
		log.Errorf("accept status connection: %v", err)
		return 1
	}
	defer statusConn.Close()

	for !s.stopSoon.Load() {
		if err := backend.PreExecute(statusConn); err != nil {
			log.Errorf("pre_execute: %v", err)
		}

		dataConn, err := acceptWithCancel(stopCtx, dataLn)
		if err != nil {
			if s.stopSoon.Load() || ctx.Err() != nil {
				break
			}
			log.Errorf("accept data connection: %v", err)
			return 1
		}

		exitCode, err := s.spawnChild(dataConn)
		dataConn.Close()
		if err != nil {
			log.Errorf("spawn child: %v", err)
			s.stopSoon.Store(true)
		} else {
			log.Debugf("child exited: %d", exitCode)
			if exitCode == 130 {
				s.stopSoon.Store(true)
			}
		}

		if err := backend.PostExecute(statusConn); err != nil {
			log.Errorf("post_execute: %v", err)
		}
	}

	log.Infof("forkserver stopped")
	return 0
}

// spawnChild re-execs the running binary in child mode, handing it the
// accepted data connection (and the coverage region, if enabled) as
// inherited files, and waits for it to exit.
func (s *Server) spawnChild(dataConn net.Conn) (int, error) {
	tcpConn, ok := dataConn.(*net.TCPConn)
	if !ok {
		return 0, fmt.Errorf("forkserver: data connection is not a TCP conn")
	}
	dataFile, err := tcpConn.File()
	if err != nil {
		return 0, fmt.Errorf("forkserver: dup data connection fd: %w", err)
	}
	defer dataFile.Close()

	exe, err := os.Executable()
	if err != nil {
		exe = "/proc/self/exe"
	}

	cmd := exec.Command(exe, os.Args[1:]...)
	cmd.Stdout = os.Stdout
	cmd.Stderr = os.Stderr
	cmd.Env = append(os.Environ(), constants.EnvForkserverChild+"=1")
	cmd.ExtraFiles = []*os.File{dataFileSlot: dataFile}

	if s.cfg.Coverage.Enabled() {
		// Dup the memfd before wrapping it: os.File.Close on the wrapper
		// closes the underlying fd, and the original must stay open in this
		// process across every child spawned for the forkserver's lifetime.
		dupFD, err := unix.Dup(s.cfg.Coverage.Region.FD())
		if err != nil {
			return 0, fmt.Errorf("forkserver: dup coverage fd: %w", err)
		}
		covFile := os.NewFile(uintptr(dupFD), "coverage")
		defer covFile.Close()
		cmd.ExtraFiles = append(cmd.ExtraFiles, covFile)
		cmd.Env = append(cmd.Env, fmt.Sprintf("%s=%d", constants.EnvInheritedCovSize, len(s.cfg.Coverage.Region.Bytes())))
	}

	if err := cmd.Start(); err != nil {
		return 0, fmt.Errorf("forkserver: start child: %w", err)
	}

	err = cmd.Wait()
	if err == nil {
		return 0, nil
	}
	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) {
		return exitErr.ExitCode(), nil
	}
	return 0, fmt.Errorf("forkserver: wait for child: %w", err)
}

// acceptWithCancel accepts one connection from ln, returning early if ctx
// is canceled first.
func acceptWithCancel(ctx context.Context, ln net.Listener) (net.Conn, error) {
	type result struct {
		conn net.Conn
		err  error
	}
	ch := make(chan result, 1)
	go func() {
		conn, err := ln.Accept()
		ch <- result{conn, err}
	}()

	select {
	case r := <-ch:
		return r.conn, r.err
	case <-ctx.Done():
		// Unblock the pending Accept by closing the listener; the
		// goroutine above will observe the resulting error and exit.
		_ = ln.Close()
		<-ch
		return nil, ctx.Err()
	}
}

func (s *Server) log() interfaces.Logger {
	if s.cfg.Log != nil {
		return s.cfg.Log
	}
	return logging.Default()
}
