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

package supervisor

import (
	"os"
	"os/exec"
	"runtime"

	"github.com/sabouaram/ember/internal/cycle"
	"github.com/sabouaram/ember/internal/listener"
	"github.com/sabouaram/ember/internal/perr"
)

// oldBinSuffix is appended to the pid-file path during a binary
// upgrade: the running master's pid file is renamed aside so the new
// master can claim the plain path.
const oldBinSuffix = ".oldbin"

// beginBinaryUpgrade implements SIGUSR2:
// rename the pid file, launch a fresh copy of the running executable
// with the current listening sockets passed down through the NGINX
// environment variable and cmd.ExtraFiles, and roll the pid-file rename
// back if the launch itself fails. The new master's own bootstrap
// inherits the sockets and takes over; ember never waits for it to
// signal back.
func (s *Supervisor) beginBinaryUpgrade() error {
	if s.State() != MasterRunning {
		return nil
	}

	c := s.Current()
	if c == nil || c.PidPath == "" {
		return perr.New(perr.Fatal)
	}

	oldPath := c.PidPath + oldBinSuffix
	if err := os.Rename(c.PidPath, oldPath); err != nil {
		return perr.New(perr.IoError, err)
	}

	exe, err := os.Executable()
	if err != nil {
		_ = os.Rename(oldPath, c.PidPath)
		return perr.New(perr.ChildSpawnError, err)
	}

	// cmd.ExtraFiles always lands at child fd 3, 4, 5... regardless of
	// the parent's own fd numbers, so the NGINX value emitted to the
	// child must name those renumbered descriptors, not l.FD.
	live := make([]*listener.Listening, 0)
	for _, l := range c.Listening.Listeners() {
		if l.Open() && l.FD >= 0 {
			live = append(live, l)
		}
	}
	extra := make([]*os.File, 0, len(live))
	renumbered := make([]*listener.Listening, 0, len(live))
	for i, l := range live {
		extra = append(extra, os.NewFile(uintptr(l.FD), l.AddrText))
		renumbered = append(renumbered, &listener.Listening{
			FD: 3 + i, AddrText: l.AddrText, SockType: l.SockType, Flags: l.Flags,
		})
	}

	cmd := exec.Command(exe, os.Args[1:]...)
	cmd.ExtraFiles = extra
	cmd.Env = append(os.Environ(), cycle.EnvListenFDs+"="+listener.EmitEnv(renumbered))
	cmd.Stdout = os.Stdout
	cmd.Stderr = os.Stderr

	if err := cmd.Start(); err != nil {
		_ = os.Rename(oldPath, c.PidPath)
		return perr.New(perr.ChildSpawnError, err)
	}

	// These *os.File wrappers share an fd with a live listener this
	// process still owns; cancel their finalizer so a later GC doesn't
	// close the socket out from under us.
	for _, f := range extra {
		runtime.SetFinalizer(f, nil)
	}

	s.newBinary = true
	s.newBinaryPid = cmd.Process.Pid
	if s.opts.Metrics != nil {
		s.opts.Metrics.BinaryUpgrades.Inc()
	}
	return nil
}

// reapUpgradeChild handles the upgraded binary exiting while this master
// is still alive - the handover failed. The ".oldbin" pid-file rename is
// rolled back so this master owns the plain path again, and if accept
// had been suspended (WINCH before the upgrade), a restart is armed so a
// fresh worker cohort resumes accepting.
func (s *Supervisor) reapUpgradeChild() {
	s.newBinary = false
	s.newBinaryPid = 0

	if c := s.Current(); c != nil && c.PidPath != "" {
		_ = os.Rename(c.PidPath+oldBinSuffix, c.PidPath)
	}

	if s.noAccept {
		s.noAccept = false
		s.pendingRestartAfterUpgrade = true
	}
}
