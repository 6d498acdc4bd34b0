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

package channel_test

import (
	"os"

	"golang.org/x/sys/unix"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/sabouaram/ember/internal/channel"
)

var _ = Describe("Channel", func() {
	It("round-trips a command with no descriptor", func() {
		master, worker, err := channel.NewPair()
		Expect(err).ToNot(HaveOccurred())
		defer unix.Close(master)
		defer unix.Close(worker)

		Expect(channel.Send(master, channel.Message{Command: channel.Quit, Pid: 42, Slot: 3, FD: -1})).To(Succeed())

		got, err := channel.Recv(worker)
		Expect(err).ToNot(HaveOccurred())
		Expect(got.Command).To(Equal(channel.Quit))
		Expect(got.Pid).To(Equal(int32(42)))
		Expect(got.Slot).To(Equal(int32(3)))
		Expect(got.FD).To(Equal(int32(-1)))
	})

	It("passes a descriptor out of band", func() {
		master, worker, err := channel.NewPair()
		Expect(err).ToNot(HaveOccurred())
		defer unix.Close(master)
		defer unix.Close(worker)

		tmp, err := os.CreateTemp("", "ember-channel-*")
		Expect(err).ToNot(HaveOccurred())
		defer os.Remove(tmp.Name())
		defer tmp.Close()

		Expect(channel.Send(master, channel.Message{
			Command: channel.OpenChannel, Pid: 7, Slot: 1, FD: int32(tmp.Fd()),
		})).To(Succeed())

		got, err := channel.Recv(worker)
		Expect(err).ToNot(HaveOccurred())
		Expect(got.Command).To(Equal(channel.OpenChannel))
		Expect(got.FD).To(BeNumerically(">=", 0))
		unix.Close(int(got.FD))
	})
})
