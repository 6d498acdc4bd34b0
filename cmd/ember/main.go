/*
 * MIT License
 *
 * Copyright (c) 2022 Nicolas JUHEL
 *
 * Permission is hereby granted, free of charge, to any person obtaining a copy
 * of this software and associated documentation files (the "Software"), to deal
 * in the Software without restriction, including without limitation the rights
 * to use, copy, modify, merge, publish, distribute, sublicense, and/or sell
 * copies of the Software, and to permit persons to whom the Software is
 * furnished to do so, subject to the following conditions:
 *
 * The above copyright notice and this permission notice shall be included in all
 * copies or substantial portions of the Software.
 *
 * THE SOFTWARE IS PROVIDED "AS IS", WITHOUT WARRANTY OF ANY KIND, EXPRESS OR
 * IMPLIED, INCLUDING BUT NOT LIMITED TO THE WARRANTIES OF MERCHANTABILITY,
 * FITNESS FOR A PARTICULAR PURPOSE AND NONINFRINGEMENT. IN NO EVENT SHALL THE
 * AUTHORS OR COPYRIGHT HOLDERS BE LIABLE FOR ANY CLAIM, DAMAGES OR OTHER
 * LIABILITY, WHETHER IN AN ACTION OF CONTRACT, TORT OR OTHERWISE, ARISING FROM,
 * OUT OF OR IN CONNECTION WITH THE SOFTWARE OR THE USE OR OTHER DEALINGS IN THE
 * SOFTWARE.
 *
 *
 */

// Command ember is the reference binary for the runtime lifecycle core:
// a master process that builds a Cycle from its configuration, spawns a
// cohort of worker processes bound to it, and reacts to signals and
// SIGHUP reloads. Workers are separate OS
// processes (re-exec'd copies of this same binary, not forked children
// of the running Go runtime - see the spawnWorker doc comment), reached
// over the channel IPC and signals the supervisor package implements.
package main

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"runtime"
	"strconv"
	"time"

	spfcbr "github.com/spf13/cobra"
	"golang.org/x/sys/unix"

	libver "github.com/nabbar/golib/version"

	"github.com/sabouaram/ember/internal/channel"
	"github.com/sabouaram/ember/internal/config"
	internalconsole "github.com/sabouaram/ember/internal/console"
	"github.com/sabouaram/ember/internal/cycle"
	"github.com/sabouaram/ember/internal/listener"
	"github.com/sabouaram/ember/internal/logging"
	"github.com/sabouaram/ember/internal/metrics"
	"github.com/sabouaram/ember/internal/module"
	"github.com/sabouaram/ember/internal/perr"
	"github.com/sabouaram/ember/internal/supervisor"
	"github.com/sabouaram/ember/internal/worker"
)

// Build metadata; set via -ldflags "-X main.buildDate=... -X main.buildHash=..."
// at release time, same convention the version package's doc comment
// assumes. Left at their zero values, NewVersion falls back to "now"/"dev".
var (
	buildDate string
	buildHash string
)

// envRole/envSlot are the re-exec markers a worker process reads at
// startup in place of actually forking: the same "inherited descriptors
// via environment variable" mechanism the binary upgrade uses serves
// ordinary worker spawn too, since Go cannot fork() without exec()
// while keeping its own runtime alive in the child - see spawnWorker.
const (
	envRole = "EMBER_ROLE"
	envSlot = "EMBER_SLOT"

	roleWorker = "worker"

	// workerChannelExtraFD is the fd the re-exec'd child sees its
	// channel descriptor on: cmd.ExtraFiles always renumbers to 3, 4, 5...
	// regardless of the parent's own numbering, and the channel file is
	// always placed first in that slice.
	workerChannelExtraFD = 3
)

func main() {
	os.Exit(run())
}

func run() int {
	if os.Getenv(envRole) == roleWorker {
		return runWorker()
	}
	return runMaster()
}

type cliOptions struct {
	confFile string
	prefix   string
	extra    string
	testOnly bool
	quiet    bool
	signal   string
	version  bool
	versionV bool
	dumpConf bool
}

func appVersion() libver.Version {
	return libver.NewVersion(
		libver.License_MIT,
		"ember", "runtime lifecycle core for a high-performance network server",
		buildDate, buildHash, "0.1.0", "sabouaram", "/etc/ember",
		appVersion, 1,
	)
}

// buildRegistry registers the core's static module set. It must produce
// byte-identical registration order in every process (master and every
// re-exec'd worker), since indices are assigned purely by call order,
// once, before any context is built.
func buildRegistry() *module.Registry {
	reg := &module.Registry{}
	registerCoreModule(reg)
	return reg
}

func newCommand(opts *cliOptions) *spfcbr.Command {
	c := &spfcbr.Command{
		Use:   "ember",
		Short: "ember runtime lifecycle core",
		RunE: func(cmd *spfcbr.Command, args []string) error {
			switch {
			case opts.versionV:
				fmt.Println(appVersion().GetInfo())
				return nil
			case opts.version:
				fmt.Println(appVersion().GetHeader())
				return nil
			case opts.signal != "":
				return sendSignal(opts)
			default:
				return masterMain(opts)
			}
		},
		SilenceUsage: true,
	}

	f := c.Flags()
	f.StringVarP(&opts.confFile, "conf", "c", "", "configuration file path")
	f.StringVarP(&opts.prefix, "prefix", "p", "", "prefix directory")
	f.StringVarP(&opts.extra, "global", "g", "", "extra configuration directives")
	f.BoolVarP(&opts.testOnly, "test", "t", false, "test configuration and exit")
	f.BoolVarP(&opts.quiet, "quiet", "q", false, "suppress the configuration-ok message in test mode")
	f.StringVarP(&opts.signal, "signal", "s", "", "send stop|quit|reopen|reload to the running master")
	f.BoolVarP(&opts.version, "version", "v", false, "print version")
	f.BoolVarP(&opts.versionV, "version-verbose", "V", false, "print version and build info")
	f.BoolVarP(&opts.dumpConf, "dump-config", "T", false, "dump the fully resolved configuration as YAML and exit")
	return c
}

// runMaster parses the CLI and, for every path except a bare -v/-V/-s
// invocation, runs the master. Exit codes: 0 success, 1 signal-send
// failure, 2 fatal startup failure.
func runMaster() int {
	opts := &cliOptions{}
	cmd := newCommand(opts)

	masterErr := make(chan error, 1)
	cmd.RunE = wrapMasterRunE(opts, masterErr)

	if err := cmd.Execute(); err != nil {
		select {
		case ferr := <-masterErr:
			return exitCodeFor(ferr)
		default:
		}
		if opts.signal != "" {
			return 1
		}
		return exitCodeFor(err)
	}
	return 0
}

func wrapMasterRunE(opts *cliOptions, errCh chan error) func(cmd *spfcbr.Command, args []string) error {
	return func(cmd *spfcbr.Command, args []string) error {
		switch {
		case opts.versionV:
			fmt.Println(appVersion().GetInfo())
			return nil
		case opts.version:
			fmt.Println(appVersion().GetHeader())
			return nil
		case opts.signal != "":
			return sendSignal(opts)
		default:
			err := masterMain(opts)
			if err != nil {
				errCh <- err
			}
			return err
		}
	}
}

// exitCodeFor maps a startup error to an exit code: Fatal errors
// (committed state may already be visible to siblings) exit 2,
// everything else exits 1.
func exitCodeFor(err error) int {
	if hasCode(err, perr.Fatal) {
		return 2
	}
	return 1
}

// hasCode reports whether err (or one of its parents) was raised with
// code, unwrapping so a plain wrapped error doesn't defeat the check.
func hasCode(err error, code perr.CodeError) bool {
	return perr.HasCode(err, code)
}

// masterMain builds the first Cycle, and - unless -t was given - runs
// the supervisor loop until it exits.
func masterMain(opts *cliOptions) error {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	log := logging.New(ctx)
	met := metrics.New("ember")
	reg := buildRegistry()

	buildOpts := cycle.Options{
		ConfFile:         opts.confFile,
		Prefix:           opts.prefix,
		ExtraDirectives:  opts.extra,
		TestOnly:         opts.testOnly,
		Quiet:            opts.quiet,
		DefaultPidPath:   defaultPidPath(opts.prefix),
		InheritListenEnv: os.Getenv(cycle.EnvListenFDs),
	}

	sup := supervisor.New(supervisor.Options{
		Registry:  reg,
		Parser:    config.Parser{Log: log},
		BuildOpts: buildOpts,
		Spawn:     spawnWorker,
		WorkerCount: func(cyc *cycle.Cycle) int {
			return workerCountFromConf(reg, cyc)
		},
		Log:         log,
		Metrics:     met,
		ConfigWatch: configWatchDir(opts.confFile),
	})

	cyc, err := sup.Bootstrap(ctx)
	if err != nil {
		return err
	}

	if opts.dumpConf {
		out, derr := dumpConfig(reg, cyc)
		if derr != nil {
			return derr
		}
		fmt.Println(out)
		return nil
	}

	if opts.testOnly {
		if !opts.quiet {
			internalconsole.OK("configuration ok")
		}
		return nil
	}

	if err := sup.SpawnInitialCohort(); err != nil {
		return err
	}

	runErr := sup.Run(ctx)
	sup.Shutdown()
	return runErr
}

func defaultPidPath(prefix string) string {
	if prefix == "" {
		return "/var/run/ember.pid"
	}
	return prefix + "/ember.pid"
}

// configWatchDir returns the directory to hand the supervisor's fsnotify
// watch: the config file's own directory, so a deploy tool replacing the
// file (rename over, not write-in-place) still triggers a reconfigure.
// Returns "" when no config file was given, leaving the watch disabled.
func configWatchDir(confFile string) string {
	if confFile == "" {
		return ""
	}
	return filepath.Dir(confFile)
}

// sendSignal implements -s: read the pid file, translate the
// named signal, deliver it, and report the outcome in color.
func sendSignal(opts *cliOptions) error {
	path := defaultPidPath(opts.prefix)
	raw, err := os.ReadFile(path)
	if err != nil {
		internalconsole.Fail("reading pid file %s: %v", path, err)
		return err
	}
	pid, err := strconv.Atoi(trimNewline(string(raw)))
	if err != nil {
		internalconsole.Fail("invalid pid file %s: %v", path, err)
		return err
	}

	var sig unix.Signal
	switch opts.signal {
	case "stop":
		sig = unix.SIGTERM
	case "quit":
		sig = unix.SIGQUIT
	case "reopen":
		sig = unix.SIGUSR1
	case "reload":
		sig = unix.SIGHUP
	default:
		err := fmt.Errorf("unknown signal %q", opts.signal)
		internalconsole.Fail("%v", err)
		return err
	}

	if err := unix.Kill(pid, sig); err != nil {
		internalconsole.Fail("signaling pid %d: %v", pid, err)
		return err
	}
	internalconsole.OK("sent %s to pid %d", opts.signal, pid)
	return nil
}

func trimNewline(s string) string {
	for len(s) > 0 && (s[len(s)-1] == '\n' || s[len(s)-1] == '\r') {
		s = s[:len(s)-1]
	}
	return s
}

// newExecCmd builds the exec.Cmd a worker spawn or binary upgrade runs:
// the same executable, with the same arguments the master itself was
// launched with, so the child re-derives its Cycle from the same -c/-p/-g
// flags instead of needing its own copy of them threaded through.
func newExecCmd(exe string) *exec.Cmd {
	return exec.Command(exe, os.Args[1:]...)
}

// spawnWorker launches one worker as a fresh OS process running this
// same executable, rather than calling fork(2) directly: the Go runtime
// does not support continuing to run goroutines, GC and the scheduler in
// a forked child, so the only safe way to get a second process sharing
// this one's binary is fork+exec. The child is handed its channel fd and
// the master's live listening sockets as inherited descriptors over
// cmd.ExtraFiles, using the same NGINX environment-variable wire format
// the binary upgrade path emits.
func spawnWorker(slot int, cyc *cycle.Cycle, workerChannelFD int) (int, error) {
	exe, err := os.Executable()
	if err != nil {
		return 0, perr.New(perr.ChildSpawnError, err)
	}

	live := make([]*listener.Listening, 0)
	for _, l := range cyc.Listening.Listeners() {
		if l.Open() && l.FD >= 0 {
			live = append(live, l)
		}
	}

	extra := make([]*os.File, 0, len(live)+1)
	extra = append(extra, os.NewFile(uintptr(workerChannelFD), "channel"))

	renumbered := make([]*listener.Listening, 0, len(live))
	for i, l := range live {
		extra = append(extra, os.NewFile(uintptr(l.FD), l.AddrText))
		renumbered = append(renumbered, &listener.Listening{
			FD: workerChannelExtraFD + 1 + i, AddrText: l.AddrText, SockType: l.SockType, Flags: l.Flags,
		})
	}

	cmd := newExecCmd(exe)
	cmd.ExtraFiles = extra
	cmd.Env = append(os.Environ(),
		envRole+"="+roleWorker,
		envSlot+"="+strconv.Itoa(slot),
		cycle.EnvListenFDs+"="+listener.EmitEnv(renumbered),
	)
	cmd.Stdout = os.Stdout
	cmd.Stderr = os.Stderr

	if err := cmd.Start(); err != nil {
		return 0, perr.New(perr.ChildSpawnError, err)
	}

	// These *os.File wrappers share an fd with a socket this process
	// still owns; cancel their finalizer so a later GC doesn't close it
	// out from under the still-running worker (same caveat beginBinaryUpgrade
	// handles for its own ExtraFiles).
	for _, f := range extra {
		runtime.SetFinalizer(f, nil)
	}

	return cmd.Process.Pid, nil
}

// runWorker is the re-exec'd child's entry point: it never reaches
// spfcbr.Command.Execute (main branches before that), but os.Args still
// carries the same -c/-p/-g flags the master was launched with, so it
// re-derives its own Cycle from the same configuration, reusing the
// master's listening sockets via InheritListenEnv instead of rebinding
// them.
func runWorker() int {
	opts := &cliOptions{}
	cmd := newCommand(opts)
	cmd.RunE = func(*spfcbr.Command, []string) error { return nil }
	_ = cmd.ParseFlags(os.Args[1:])
	_ = cmd.Flags().Parse(os.Args[1:])

	slot, _ := strconv.Atoi(os.Getenv(envSlot))

	ctx := context.Background()
	log := logging.New(ctx)
	reg := buildRegistry()

	buildOpts := cycle.Options{
		ConfFile:         opts.confFile,
		Prefix:           opts.prefix,
		ExtraDirectives:  opts.extra,
		InheritListenEnv: os.Getenv(cycle.EnvListenFDs),
	}

	cyc, err := cycle.Build(ctx, nil, reg, config.Parser{Log: log}, buildOpts)
	if err != nil {
		log.Entry(logging.Crit, "", 0, "worker %d: build_cycle failed: %v", slot, err)
		return 2
	}

	wcfg := worker.Config{
		Role:        worker.RoleWorker,
		ConnectionN: workerConnectionsFromConf(reg, cyc),
	}
	if err := worker.Init(cyc, reg, wcfg); err != nil {
		log.Entry(logging.Crit, "", 0, "worker %d: init failed: %v", slot, err)
		return 2
	}

	w := &worker.Worker{
		Slot:      slot,
		Cfg:       wcfg,
		Cycle:     cyc,
		Registry:  reg,
		ChannelFD: workerChannelExtraFD,
	}

	go channelReader(w)

	if err := w.Run(&idleEventProcessor{}); err != nil {
		log.Entry(logging.Error, "", 0, "worker %d: run exited with error: %v", slot, err)
		return 1
	}
	return 0
}

// channelReader is the worker's one background goroutine: it blocks on
// the channel fd and dispatches every received command into the
// worker's flags, the way a signal handler would, so the handling code
// path is identical for both triggers.
func channelReader(w *worker.Worker) {
	defer func() {
		if r := recover(); r != nil {
			logging.RecoveryCaller("worker.channelReader", r)
		}
	}()
	for {
		m, err := channel.Recv(w.ChannelFD)
		if err != nil {
			return
		}
		w.HandleChannel(m)
	}
}

// idleEventProcessor is the default EventProcessor when no domain module
// registers a richer one: it has no connections to serve, so it reports
// idle immediately and just paces the worker loop.
type idleEventProcessor struct{}

func (idleEventProcessor) ProcessEventsAndTimers(*cycle.Cycle) error {
	time.Sleep(50 * time.Millisecond)
	return nil
}

func (idleEventProcessor) Idle() bool { return true }
