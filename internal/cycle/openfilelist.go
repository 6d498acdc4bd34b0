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
	"os"

	"golang.org/x/sys/unix"

	"github.com/sabouaram/ember/internal/arena"
	"github.com/sabouaram/ember/internal/container"
	"github.com/sabouaram/ember/internal/perr"
)

// OpenFileList is the chunked list of open files a Cycle carries.
// Entries are registered while a
// Cycle is being built and opened in append mode during commit; element
// addresses never move, matching the List contract pool-allocated
// elements rely on.
type OpenFileList struct {
	list *container.List
}

func newOpenFileList(pool *arena.Pool, hint int) (*OpenFileList, error) {
	l, err := container.NewList(pool, openFileSlotSize, nodeChunk(hint, defaultOpenFiles))
	if err != nil {
		return nil, err
	}
	return &OpenFileList{list: l}, nil
}

// Register declares a file a module wants append-opened and reopened on
// the "reopen" signal. It is not opened until the Cycle commits.
func (o *OpenFileList) Register(name string) (OpenFile, error) {
	slot, err := o.list.Push()
	if err != nil {
		return OpenFile{}, err
	}
	encodeOpenFileName(slot, name)
	return OpenFile{slot: slot}, nil
}

// Each visits every registered entry in registration order, stopping
// early if fn returns false.
func (o *OpenFileList) Each(fn func(OpenFile) bool) {
	o.list.Each(func(slot []byte) bool { return fn(OpenFile{slot: slot}) })
}

// Len returns the number of registered entries.
func (o *OpenFileList) Len() int { return o.list.Len() }

// OpenAll opens every registered entry in append mode with close-on-exec
// set. On
// any failure it closes everything opened so far and returns the error,
// leaving the Cycle's open-files list with some entries still fd==-1 -
// the caller must treat that as a failed build and never commit it.
func (o *OpenFileList) OpenAll() error {
	var opened []OpenFile
	var openErr error

	o.Each(func(f OpenFile) bool {
		fd, err := os.OpenFile(f.Name(), os.O_WRONLY|os.O_CREATE|os.O_APPEND, 0644)
		if err != nil {
			openErr = perr.New(perr.IoError, err)
			return false
		}
		if err := unix.SetNonblock(int(fd.Fd()), false); err != nil {
			_ = fd.Close()
			openErr = perr.New(perr.IoError, err)
			return false
		}
		flags, err := unix.FcntlInt(fd.Fd(), unix.F_GETFD, 0)
		if err == nil {
			_, _ = unix.FcntlInt(fd.Fd(), unix.F_SETFD, flags|unix.FD_CLOEXEC)
		}
		f.SetFD(int32(fd.Fd()))
		opened = append(opened, f)
		return true
	})

	if openErr != nil {
		for _, f := range opened {
			_ = unix.Close(int(f.FD()))
			f.SetFD(-1)
		}
		return openErr
	}
	return nil
}

// CloseAll closes every open entry's fd, used when retiring the Cycle
// these files belong to.
func (o *OpenFileList) CloseAll() {
	o.Each(func(f OpenFile) bool {
		if f.FD() >= 0 {
			_ = unix.Close(int(f.FD()))
			f.SetFD(-1)
		}
		return true
	})
}

// Reopen closes and reopens every entry in place,
// preserving fd slot identity so modules
// holding an *OpenFile handle observe the new descriptor without
// re-registering.
func (o *OpenFileList) Reopen() error {
	var firstErr error
	o.Each(func(f OpenFile) bool {
		if f.FD() >= 0 {
			_ = unix.Close(int(f.FD()))
		}
		fd, err := os.OpenFile(f.Name(), os.O_WRONLY|os.O_CREATE|os.O_APPEND, 0644)
		if err != nil {
			if firstErr == nil {
				firstErr = perr.New(perr.IoError, err)
			}
			f.SetFD(-1)
			return true
		}
		f.SetFD(int32(fd.Fd()))
		return true
	})
	return firstErr
}
