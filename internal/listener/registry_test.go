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

package listener_test

import (
	"golang.org/x/sys/unix"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/sabouaram/ember/internal/listener"
)

var _ = Describe("Registry", func() {
	It("marks every new entry open when there are zero old entries", func() {
		var r listener.Registry
		r.Declare("127.0.0.1:0", unix.SOCK_STREAM)

		closed, err := r.Commit(nil)
		Expect(err).ToNot(HaveOccurred())
		Expect(closed).To(BeEmpty())

		l := r.Listeners()[0]
		Expect(l.Open()).To(BeTrue())
		Expect(l.Bound()).To(BeTrue())
		Expect(l.Inherited()).To(BeFalse())

		Expect(unix.Close(l.FD)).To(Succeed())
	})

	It("reuses the old fd for a listener whose address is unchanged", func() {
		var first listener.Registry
		first.Declare("127.0.0.1:18080", unix.SOCK_STREAM)
		_, err := first.Commit(nil)
		Expect(err).ToNot(HaveOccurred())
		oldFD := first.Listeners()[0].FD

		var second listener.Registry
		second.Declare("127.0.0.1:18080", unix.SOCK_STREAM)
		closed, err := second.Commit(&first)
		Expect(err).ToNot(HaveOccurred())
		Expect(closed).To(BeEmpty())

		Expect(second.Listeners()[0].FD).To(Equal(oldFD))
		Expect(first.Listeners()[0].Remain()).To(BeTrue())

		Expect(unix.Close(oldFD)).To(Succeed())
	})

	It("closes an old listener the new declaration set drops", func() {
		var first listener.Registry
		first.Declare("127.0.0.1:18081", unix.SOCK_STREAM)
		_, err := first.Commit(nil)
		Expect(err).ToNot(HaveOccurred())

		var second listener.Registry
		closed, err := second.Commit(&first)
		Expect(err).ToNot(HaveOccurred())
		Expect(closed).To(HaveLen(1))
		Expect(closed[0].AddrText).To(Equal("127.0.0.1:18081"))
	})

	It("round-trips the NGINX env wire format", func() {
		entries := []*listener.Listening{
			{FD: 7, AddrText: "0.0.0.0:8080", Flags: listener.FlagOpen},
			{FD: 8, AddrText: "0.0.0.0:8443", Flags: listener.FlagOpen},
		}
		encoded := listener.EmitEnv(entries)
		Expect(encoded).To(Equal("7:0.0.0.0:8080;8:0.0.0.0:8443"))

		decoded := listener.InheritEnv(encoded)
		Expect(decoded).To(HaveLen(2))
		Expect(decoded[0].FD).To(Equal(7))
		Expect(decoded[0].Inherited()).To(BeTrue())
		Expect(decoded[1].AddrText).To(Equal("0.0.0.0:8443"))
	})
})
