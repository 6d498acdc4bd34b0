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

package logging

import (
	"context"
	"fmt"
	"os"
	"sync"

	"github.com/sirupsen/logrus"
	jww "github.com/spf13/jwalterweatherman"

	liblog "github.com/nabbar/golib/logger"
)

// Logger is the leveled sink used by every component of the lifecycle
// core: a thin Severity-keyed wrapper directly over logrus, in place of
// a second abstraction layer on top of it.
type Logger struct {
	entry *logrus.Entry

	ctx     context.Context
	rawOnce sync.Once
	raw     liblog.Logger
}

// New builds a Logger bound to ctx (retained for the Raw adapter) and
// bridges jwalterweatherman - the stream cobra/viper log their own
// internal diagnostics through - into the same logrus output, so flag
// and config parsing report through the one sink everything else uses.
func New(ctx context.Context) *Logger {
	l := logrus.New()
	l.SetOutput(os.Stderr)
	lg := &Logger{entry: logrus.NewEntry(l), ctx: ctx}
	lg.bridgeSPF13()
	return lg
}

// Raw returns a logger satisfying the library Logger interface, for
// collaborators (the Viper configuration wrapper) whose diagnostics
// callbacks expect that type. Built lazily and cached; it writes to the
// same stderr stream as the rest of this package.
func (lg *Logger) Raw() liblog.Logger {
	lg.rawOnce.Do(func() {
		ctx := lg.ctx
		if ctx == nil {
			ctx = context.Background()
		}
		lg.raw = liblog.New(func() context.Context { return ctx })
	})
	return lg.raw
}

// bridgeSPF13 routes jwalterweatherman's log and stdout streams through
// this logger's underlying writer, at INFO threshold.
func (lg *Logger) bridgeSPF13() {
	w := lg.entry.Logger.Writer()
	jww.SetLogOutput(w)
	jww.SetLogThreshold(jww.LevelInfo)
	jww.SetStdoutOutput(w)
	jww.SetStdoutThreshold(jww.LevelInfo)
}

// Entry logs message at the given severity, with a "file:line: " prefix
// added automatically when sev is Error or more severe and file is
// non-empty, matching the file:line prefix configuration errors carry.
func (lg *Logger) Entry(sev Severity, file string, line int, message string, args ...interface{}) {
	msg := message
	if len(args) > 0 {
		msg = fmt.Sprintf(message, args...)
	}
	if sev >= Error && file != "" {
		msg = fmt.Sprintf("%s:%d: %s", file, line, msg)
	}
	lg.entry.WithField("severity", sev.String()).Log(sev.logrusLevel(), msg)
}

// RecoveryCaller turns a value recovered from a panic into a structured
// log line instead of a crashed process, tagging it with the
// caller-supplied name so the origin goroutine can be identified. r may
// be nil, in which case RecoveryCaller is a no-op - this lets call
// sites defer it unconditionally right after recover().
func RecoveryCaller(name string, r interface{}) {
	if r == nil {
		return
	}
	logrus.WithFields(logrus.Fields{"caller": name}).Errorf("recovered panic: %v", r)
}
