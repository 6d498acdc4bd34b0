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
// Package nctx binds the lifecycle core's shared tables - the
// per-module config table, the per-worker process table, and the
// supervisor's signal-flag set - onto the library's context-bound
// atomic map, so all three share one primitive and one cancellation
// story instead of three hand-rolled maps.
package nctx

import (
	"context"

	libctx "github.com/nabbar/golib/context"
)

// NewMap builds an empty context-bound atomic map keyed by K.
func NewMap[K comparable](ctx context.Context) libctx.Config[K] {
	return libctx.NewConfig[K](func() context.Context { return ctx })
}

// ModuleConfigs holds one config value per module index, keyed by the
// module's assigned integer index.
type ModuleConfigs = libctx.Config[int]

// NewModuleConfigs builds an empty module-config table bound to ctx.
func NewModuleConfigs(ctx context.Context) ModuleConfigs {
	return NewMap[int](ctx)
}

// WorkerTable tracks live workers by pid.
type WorkerTable = libctx.Config[int]

// NewWorkerTable builds an empty worker table bound to ctx.
func NewWorkerTable(ctx context.Context) WorkerTable {
	return NewMap[int](ctx)
}

// SignalFlags is the supervisor's set of single-writer/single-reader
// signal flags, keyed by flag name.
type SignalFlags = libctx.Config[string]

// NewSignalFlags builds an empty signal-flag set bound to ctx.
func NewSignalFlags(ctx context.Context) SignalFlags {
	return NewMap[string](ctx)
}
