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

// Package channel implements the per-worker Unix-domain socketpair IPC:
// a fixed-layout {command, pid, slot, fd} record, with fd optionally
// passed out-of-band via SCM_RIGHTS.
package channel

import (
	"encoding/binary"

	"golang.org/x/sys/unix"

	"github.com/sabouaram/ember/internal/perr"
)

// Command is one of the fixed channel commands.
type Command uint32

const (
	OpenChannel Command = iota + 1
	CloseChannel
	Quit
	Terminate
	Reopen
)

// wireSize is the fixed byte layout of one record: command, pid, slot,
// fd, each a native-endian int32. The pair never crosses a host or
// binary boundary, so no byte-order conversion is done.
const wireSize = 4 * 4

// Message is one channel record.
type Message struct {
	Command Command
	Pid     int32
	Slot    int32
	FD      int32 // -1 when absent
}

// NewPair opens a connected Unix-domain socketpair for one worker's
// channel: index 0 is kept by the master, index 1 is handed to the
// child before fork.
func NewPair() (master, worker int, err error) {
	fds, serr := unix.Socketpair(unix.AF_UNIX, unix.SOCK_STREAM, 0)
	if serr != nil {
		return -1, -1, perr.New(perr.IoError, serr)
	}
	return fds[0], fds[1], nil
}

// Send writes m to fd, passing m.FD as an ancillary SCM_RIGHTS
// descriptor when it is >= 0; a negative FD means no descriptor rides
// along.
func Send(fd int, m Message) error {
	buf := make([]byte, wireSize)
	binary.NativeEndian.PutUint32(buf[0:4], uint32(m.Command))
	binary.NativeEndian.PutUint32(buf[4:8], uint32(m.Pid))
	binary.NativeEndian.PutUint32(buf[8:12], uint32(m.Slot))
	binary.NativeEndian.PutUint32(buf[12:16], uint32(m.FD))

	var oob []byte
	if m.FD >= 0 {
		oob = unix.UnixRights(int(m.FD))
	}

	if err := unix.Sendmsg(fd, buf, oob, nil, 0); err != nil {
		return perr.New(perr.IoError, err)
	}
	return nil
}

// Recv reads one Message from fd, decoding any ancillary SCM_RIGHTS
// descriptor it carries into the returned Message's FD.
func Recv(fd int) (Message, error) {
	buf := make([]byte, wireSize)
	oob := make([]byte, unix.CmsgSpace(4))

	n, oobn, _, _, err := unix.Recvmsg(fd, buf, oob, 0)
	if err != nil {
		return Message{}, perr.New(perr.IoError, err)
	}
	if n == 0 {
		return Message{}, perr.New(perr.IoError, unix.ECONNRESET)
	}

	m := Message{
		Command: Command(binary.NativeEndian.Uint32(buf[0:4])),
		Pid:     int32(binary.NativeEndian.Uint32(buf[4:8])),
		Slot:    int32(binary.NativeEndian.Uint32(buf[8:12])),
		FD:      int32(binary.NativeEndian.Uint32(buf[12:16])),
	}

	if oobn > 0 {
		cmsgs, perr2 := unix.ParseSocketControlMessage(oob[:oobn])
		if perr2 == nil {
			for _, cm := range cmsgs {
				if fds, ferr := unix.ParseUnixRights(&cm); ferr == nil && len(fds) > 0 {
					m.FD = int32(fds[0])
				}
			}
		}
	}

	return m, nil
}
