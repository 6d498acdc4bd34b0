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

// Package supervisor implements the master state machine:
// the master loop, signal-to-flag translation, worker spawn/respawn,
// graceful and forced shutdown, configuration reload and binary upgrade.
package supervisor

// State is one of the master's states.
type State uint8

const (
	MasterRunning State = iota
	MasterShuttingDown
	MasterTerminating
	MasterReloading
	MasterBinaryUpgrading
	MasterExit
)

func (s State) String() string {
	switch s {
	case MasterRunning:
		return "running"
	case MasterShuttingDown:
		return "shutting-down"
	case MasterTerminating:
		return "terminating"
	case MasterReloading:
		return "reloading"
	case MasterBinaryUpgrading:
		return "binary-upgrading"
	case MasterExit:
		return "exit"
	default:
		return "unknown"
	}
}

// flag names for the supervisor's nctx.SignalFlags set. Each flag has a
// single writer (the signal dispatcher) and a single reader (tick).
const (
	flagReap         = "reap"
	flagQuit         = "quit"
	flagTerminate    = "terminate"
	flagReconfigure  = "reconfigure"
	flagReopen       = "reopen"
	flagChangeBinary = "change_binary"
	flagNoAccept     = "no_accept"
	flagSigAlrm      = "sigalrm"
)
