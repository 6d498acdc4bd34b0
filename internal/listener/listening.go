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

// Package listener owns the listening-socket registry:
// one entry per bound address, diffed and matched by address across a
// reload so an unchanged listener keeps its file descriptor and an
// unmatched one is closed or freshly bound.
package listener

import (
	"time"
)

// Flags bits carried by a Listening entry.
type Flags uint16

const (
	FlagOpen Flags = 1 << iota
	FlagRemain
	FlagIgnore
	FlagBound
	FlagInherited
	FlagListen
	FlagNonblocking
	FlagShared
	FlagKeepalive
	FlagDeferredAccept // platform-conditional: Linux TCP_DEFER_ACCEPT
	FlagFastOpen       // platform-conditional: Linux TCP_FASTOPEN
	FlagIPv6Only       // platform-conditional: IPV6_V6ONLY
)

func (f Flags) has(bit Flags) bool { return f&bit != 0 }

// Listening is one entry in the listening-socket registry.
type Listening struct {
	FD       int
	AddrText string
	SockType int // unix.SOCK_STREAM or unix.SOCK_DGRAM

	Backlog           int
	RcvBuf            int
	SndBuf            int
	PoolSize          int
	PostAcceptTimeout time.Duration

	Previous *Listening
	Flags    Flags
}

func (l *Listening) Open() bool        { return l.Flags.has(FlagOpen) }
func (l *Listening) Remain() bool      { return l.Flags.has(FlagRemain) }
func (l *Listening) Bound() bool       { return l.Flags.has(FlagBound) }
func (l *Listening) Inherited() bool   { return l.Flags.has(FlagInherited) }
func (l *Listening) Listen() bool      { return l.Flags.has(FlagListen) }
func (l *Listening) Ignore() bool      { return l.Flags.has(FlagIgnore) }
