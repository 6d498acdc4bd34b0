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

package listener

import (
	"fmt"
	"net"
	"runtime"
	"strconv"
	"strings"

	"golang.org/x/sys/unix"

	"github.com/sabouaram/ember/internal/perr"
)

// Registry is the ordered, per-Cycle set of declared listening sockets.
type Registry struct {
	declared []*Listening
}

// Declare records a listener a module wants bound in the Cycle being
// built; it is not bound until Commit runs.
func (r *Registry) Declare(addrText string, sockType int) *Listening {
	l := &Listening{AddrText: addrText, SockType: sockType, FD: -1}
	r.declared = append(r.declared, l)
	return l
}

// Commit resolves every declared listener against old: a declared entry
// whose address matches an old one reuses its fd (marking the old entry
// Remain so it survives the old Cycle's teardown); every other declared
// entry is freshly bound. Unmatched old entries are closed. Reports the
// closed entries for logging.
func (r *Registry) Commit(old *Registry) ([]*Listening, error) {
	var oldEntries []*Listening
	if old != nil {
		oldEntries = old.declared
	}
	matched := make(map[*Listening]bool, len(oldEntries))

	for _, l := range r.declared {
		var reused *Listening
		for _, o := range oldEntries {
			if !matched[o] && o.AddrText == l.AddrText && o.SockType == l.SockType {
				reused = o
				break
			}
		}

		if reused != nil {
			matched[reused] = true
			reused.Flags |= FlagRemain
			l.FD = reused.FD
			l.Previous = reused
			l.Flags |= FlagOpen | FlagBound | FlagListen
			continue
		}

		if err := l.bind(); err != nil {
			r.rollback()
			return nil, err
		}
		l.Flags |= FlagOpen
	}

	var closed []*Listening
	for _, o := range oldEntries {
		if !matched[o] {
			_ = unix.Close(o.FD)
			closed = append(closed, o)
		}
	}
	return closed, nil
}

// rollback closes every freshly bound entry in r, used when Commit fails
// partway through so the caller's old Cycle remains the only live one
// - on failure, old is unchanged and no new sockets remain open.
func (r *Registry) rollback() {
	for _, l := range r.declared {
		if l.Previous != nil {
			// Reused from old: the fd is old's, so hand it back untouched.
			l.Previous.Flags &^= FlagRemain
			l.Previous = nil
			l.FD = -1
			l.Flags &^= FlagBound | FlagOpen | FlagListen
			continue
		}
		if l.Bound() && !l.Remain() {
			_ = unix.Close(l.FD)
			l.FD = -1
			l.Flags &^= FlagBound | FlagOpen | FlagListen
		}
	}
}

// Listeners returns the registry's declared listeners in declaration order.
func (r *Registry) Listeners() []*Listening { return r.declared }

// FromInherited builds a Registry whose declared set is exactly
// entries, so it can stand in for "old" in Commit - the usual path for
// a freshly exec'd process seeded from the NGINX environment variable
// rather than from an in-process prior Cycle.
func FromInherited(entries []*Listening) *Registry {
	return &Registry{declared: entries}
}

func (l *Listening) bind() error {
	host, portStr, err := splitHostPort(l.AddrText)
	if err != nil {
		return perr.New(perr.BindError, err)
	}
	port, err := strconv.Atoi(portStr)
	if err != nil {
		return perr.New(perr.BindError, err)
	}

	domain := unix.AF_INET
	var sa unix.Sockaddr
	ip := net.ParseIP(strings.Trim(host, "[]"))
	if strings.Contains(host, ":") {
		domain = unix.AF_INET6
		var addr [16]byte
		copy(addr[:], ip.To16())
		sa = &unix.SockaddrInet6{Port: port, Addr: addr}
	} else {
		var addr [4]byte
		copy(addr[:], ip.To4())
		sa = &unix.SockaddrInet4{Port: port, Addr: addr}
	}

	fd, err := unix.Socket(domain, l.SockType, 0)
	if err != nil {
		return perr.New(perr.BindError, err)
	}

	if err := unix.SetsockoptInt(fd, unix.SOL_SOCKET, unix.SO_REUSEADDR, 1); err != nil {
		_ = unix.Close(fd)
		return perr.New(perr.BindError, err)
	}
	if l.RcvBuf > 0 {
		_ = unix.SetsockoptInt(fd, unix.SOL_SOCKET, unix.SO_RCVBUF, l.RcvBuf)
	}
	if l.SndBuf > 0 {
		_ = unix.SetsockoptInt(fd, unix.SOL_SOCKET, unix.SO_SNDBUF, l.SndBuf)
	}
	if l.Flags.has(FlagKeepalive) && l.SockType == unix.SOCK_STREAM {
		_ = unix.SetsockoptInt(fd, unix.SOL_SOCKET, unix.SO_KEEPALIVE, 1)
	}
	if domain == unix.AF_INET6 && l.Flags.has(FlagIPv6Only) {
		_ = unix.SetsockoptInt(fd, unix.IPPROTO_IPV6, unix.IPV6_V6ONLY, 1)
	}
	if runtime.GOOS == "linux" && l.Flags.has(FlagDeferredAccept) && l.SockType == unix.SOCK_STREAM {
		_ = unix.SetsockoptInt(fd, unix.IPPROTO_TCP, unix.TCP_DEFER_ACCEPT, 1)
	}
	if runtime.GOOS == "linux" && l.Flags.has(FlagFastOpen) && l.SockType == unix.SOCK_STREAM {
		backlog := l.Backlog
		if backlog <= 0 {
			backlog = 511
		}
		_ = unix.SetsockoptInt(fd, unix.IPPROTO_TCP, unix.TCP_FASTOPEN, backlog)
	}

	if err := unix.Bind(fd, sa); err != nil {
		_ = unix.Close(fd)
		return perr.New(perr.BindError, err)
	}

	if l.SockType == unix.SOCK_STREAM {
		backlog := l.Backlog
		if backlog <= 0 {
			backlog = 511
		}
		if err := unix.Listen(fd, backlog); err != nil {
			_ = unix.Close(fd)
			return perr.New(perr.BindError, err)
		}
		l.Flags |= FlagListen
	}

	if err := unix.SetNonblock(fd, true); err != nil {
		_ = unix.Close(fd)
		return perr.New(perr.BindError, err)
	}
	l.Flags |= FlagNonblocking | FlagBound

	l.FD = fd
	return nil
}

func splitHostPort(addrText string) (string, string, error) {
	i := strings.LastIndex(addrText, ":")
	if i < 0 {
		return "", "", fmt.Errorf("listener address %q missing port", addrText)
	}
	return addrText[:i], addrText[i+1:], nil
}

// InheritEnv parses the NGINX environment variable wire format -
// "fd:addr;fd:addr;..." - into declared, inherited listening entries.
func InheritEnv(value string) []*Listening {
	if value == "" {
		return nil
	}

	var out []*Listening
	for _, pair := range strings.Split(value, ";") {
		if pair == "" {
			continue
		}
		parts := strings.SplitN(pair, ":", 2)
		if len(parts) != 2 {
			continue
		}
		fd, err := strconv.Atoi(parts[0])
		if err != nil {
			continue
		}
		out = append(out, &Listening{
			FD:       fd,
			AddrText: parts[1],
			SockType: unix.SOCK_STREAM,
			Flags:    FlagOpen | FlagBound | FlagListen | FlagInherited,
		})
	}
	return out
}

// EmitEnv renders the registry's bound listeners back into the NGINX
// environment variable wire format, for a binary-upgrade child to inherit.
func EmitEnv(listeners []*Listening) string {
	parts := make([]string, 0, len(listeners))
	for _, l := range listeners {
		if !l.Open() {
			continue
		}
		parts = append(parts, fmt.Sprintf("%d:%s", l.FD, l.AddrText))
	}
	return strings.Join(parts, ";")
}
