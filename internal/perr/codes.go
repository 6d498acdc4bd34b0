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

// Package perr is the runtime's error-code taxonomy: every failure
// surfaced by the lifecycle core carries a stable numeric CodeError
// plus an optional parent chain, instead of a bare error string.
package perr

import "errors"

// CodeError is a stable numeric classification for a failure, offset
// above the low range so application codes never collide with 0 (no
// code).
type CodeError uint16

const (
	AllocError CodeError = iota + 4000
	IoError
	ConfigError
	ZoneConflict
	ReloadError
	BindError
	ChildSpawnError
	Fatal
	NotFound
)

var messages = map[CodeError]string{
	AllocError:      "memory allocation failed",
	IoError:         "file or socket i/o error",
	ConfigError:     "configuration error",
	ZoneConflict:    "shared zone tag or size mismatch",
	ReloadError:     "run context reload failed",
	BindError:       "socket bind failed",
	ChildSpawnError: "worker process spawn failed",
	Fatal:           "non-recoverable error",
	NotFound:        "no matching entry",
}

// String returns the registered message for the code, or a generic
// fallback for an unregistered one.
func (c CodeError) String() string {
	if m, ok := messages[c]; ok {
		return m
	}
	return "unclassified error"
}

// Error is a CodeError paired with an optional chain of parent errors.
// It implements the standard error interface and supports errors.As /
// errors.Unwrap so callers can walk the chain with stdlib helpers.
type Error struct {
	code   CodeError
	parent []error
}

// New builds an *Error for code, optionally wrapping one or more
// parent errors (e.g. a syscall errno or a config-parser failure).
// Nil parents are dropped.
func New(code CodeError, parent ...error) *Error {
	e := &Error{code: code}
	for _, p := range parent {
		if p != nil {
			e.parent = append(e.parent, p)
		}
	}
	return e
}

func (e *Error) Error() string {
	if e == nil {
		return ""
	}
	if len(e.parent) == 0 {
		return e.code.String()
	}
	msg := e.code.String()
	for _, p := range e.parent {
		msg += ": " + p.Error()
	}
	return msg
}

// Code returns the error's own classification.
func (e *Error) Code() CodeError {
	if e == nil {
		return 0
	}
	return e.code
}

// Unwrap exposes the first parent so errors.Is/errors.As can keep
// walking past this node.
func (e *Error) Unwrap() error {
	if e == nil || len(e.parent) == 0 {
		return nil
	}
	return e.parent[0]
}

// HasCode reports whether code appears anywhere in e's own code or
// its parent chain.
func HasCode(err error, code CodeError) bool {
	for err != nil {
		var coded *Error
		if errors.As(err, &coded) {
			if coded.code == code {
				return true
			}
			err = coded.Unwrap()
			continue
		}
		return false
	}
	return false
}

// HasCode is the method form, usable once the caller already holds a
// *Error (e.g. after an errors.As extraction).
func (e *Error) HasCode(code CodeError) bool {
	if e == nil {
		return false
	}
	return HasCode(e, code)
}
