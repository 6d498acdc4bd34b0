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

package shmzone

import (
	"sync/atomic"
	"unsafe"

	"golang.org/x/sys/unix"
)

const (
	mutexUnlocked uint32 = 0
	mutexLocked   uint32 = 1
	mutexWaiting  uint32 = 2
)

// Linux futex(2) operation codes. Not exported by golang.org/x/sys/unix,
// which only provides the syscall numbers (SYS_FUTEX).
const (
	futexWait int = 0
	futexWake int = 1
)

// mutexInit zeroes the zone's futex word, living in the first four bytes
// of the shared region. The word is the zone's cross-process mutex and
// the only metadata written into the region; no slab header follows it.
func (z *Zone) mutexInit() {
	if len(z.Addr) < 4 {
		return
	}
	atomic.StoreUint32(z.word(), mutexUnlocked)
}

func (z *Zone) word() *uint32 {
	return (*uint32)(unsafe.Pointer(&z.Addr[0]))
}

func futex(word *uint32, op int, val uint32) error {
	_, _, errno := unix.Syscall6(
		unix.SYS_FUTEX,
		uintptr(unsafe.Pointer(word)),
		uintptr(op),
		uintptr(val),
		0, 0, 0,
	)
	if errno != 0 {
		return errno
	}
	return nil
}

// Lock acquires the zone's cross-process mutex, blocking via FUTEX_WAIT
// when contended. Safe to call from any process mapping the same zone.
func (z *Zone) Lock() {
	w := z.word()
	if atomic.CompareAndSwapUint32(w, mutexUnlocked, mutexLocked) {
		return
	}
	for atomic.SwapUint32(w, mutexWaiting) != mutexUnlocked {
		_ = futex(w, futexWait, mutexWaiting)
	}
}

// Unlock releases the zone's cross-process mutex, waking one waiter via
// FUTEX_WAKE if any are registered.
func (z *Zone) Unlock() {
	w := z.word()
	if atomic.SwapUint32(w, mutexUnlocked) == mutexWaiting {
		_ = futex(w, futexWake, 1)
	}
}
