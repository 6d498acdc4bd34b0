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

package cycle

import (
	"bytes"
	"encoding/binary"
)

// openFileSlotSize is the fixed byte layout of one OpenFile entry in the
// Cycle's open-files list: a 128-byte null-terminated name, a 4-byte fd,
// and a 1-byte flush flag.
const openFileSlotSize = 128 + 4 + 1

// OpenFile is a handle onto one pool-allocated slot in a Cycle's
// open-files list, addressed by field offset
// instead of a Go struct so the backing storage stays a plain byte slot
// the arena owns.
type OpenFile struct {
	slot []byte
}

// FD returns the file descriptor, or -1 if not yet opened.
func (o OpenFile) FD() int32 { return int32(binary.LittleEndian.Uint32(o.slot[128:132])) }

// SetFD stores fd.
func (o OpenFile) SetFD(fd int32) { binary.LittleEndian.PutUint32(o.slot[128:132], uint32(fd)) }

// Flush reports whether this file has a flush-on-reopen callback armed.
func (o OpenFile) Flush() bool { return o.slot[132] != 0 }

// SetFlush arms or disarms the flush-on-reopen behavior.
func (o OpenFile) SetFlush(v bool) {
	if v {
		o.slot[132] = 1
	} else {
		o.slot[132] = 0
	}
}

// Name returns the configured path.
func (o OpenFile) Name() string {
	n := bytes.IndexByte(o.slot[:128], 0)
	if n < 0 {
		n = 128
	}
	return string(o.slot[:n])
}

func encodeOpenFileName(slot []byte, name string) {
	n := copy(slot[:128], name)
	for i := n; i < 128; i++ {
		slot[i] = 0
	}
	binary.LittleEndian.PutUint32(slot[128:132], ^uint32(0))
	slot[132] = 0
}
