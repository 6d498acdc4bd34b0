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

package shmzone_test

import (
	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/sabouaram/ember/internal/shmzone"
)

var _ = Describe("Registry", func() {
	It("rejects a zero-size declaration with ZoneConflict", func() {
		var r shmzone.Registry
		_, err := r.Declare("z1", 0, "T", nil)
		Expect(err).To(HaveOccurred())
	})

	It("rejects redeclaring the same name under a different tag", func() {
		var r shmzone.Registry
		_, err := r.Declare("z1", 4096, "T", nil)
		Expect(err).ToNot(HaveOccurred())
		_, err = r.Declare("z1", 4096, "OTHER", nil)
		Expect(err).To(HaveOccurred())
	})

	It("cold-starts every declared zone with Exists=false and init(new, nil)", func() {
		var r shmzone.Registry
		var gotOld interface{} = "unset"
		_, err := r.Declare("z1", 4096, "T", func(z *shmzone.Zone, old interface{}) error {
			gotOld = old
			z.Data = "ready"
			return nil
		})
		Expect(err).ToNot(HaveOccurred())

		closed, err := r.Commit(nil)
		Expect(err).ToNot(HaveOccurred())
		Expect(closed).To(BeEmpty())

		z := r.Zones()[0]
		Expect(z.Exists).To(BeFalse())
		Expect(z.Addr).ToNot(BeNil())
		Expect(gotOld).To(BeNil())
		Expect(z.Data).To(Equal("ready"))

		Expect(z.Close()).To(Succeed())
	})

	It("preserves a matching zone's mapping and data across a reload", func() {
		var first shmzone.Registry
		_, err := first.Declare("z1", 4096, "T", func(z *shmzone.Zone, old interface{}) error {
			z.Data = "gen-1"
			return nil
		})
		Expect(err).ToNot(HaveOccurred())
		_, err = first.Commit(nil)
		Expect(err).ToNot(HaveOccurred())
		firstAddr := first.Zones()[0].Addr

		var second shmzone.Registry
		var gotOld interface{}
		_, err = second.Declare("z1", 4096, "T", func(z *shmzone.Zone, old interface{}) error {
			gotOld = old
			z.Data = "gen-2"
			return nil
		})
		Expect(err).ToNot(HaveOccurred())

		closed, err := second.Commit(&first)
		Expect(err).ToNot(HaveOccurred())
		Expect(closed).To(BeEmpty())

		z := second.Zones()[0]
		Expect(z.Exists).To(BeTrue())
		Expect(&z.Addr[0]).To(Equal(&firstAddr[0]))
		Expect(gotOld).To(Equal("gen-1"))

		Expect(z.Close()).To(Succeed())
	})

	It("closes an old zone that the new declaration set drops", func() {
		var first shmzone.Registry
		_, err := first.Declare("dropped", 4096, "T", nil)
		Expect(err).ToNot(HaveOccurred())
		_, err = first.Commit(nil)
		Expect(err).ToNot(HaveOccurred())

		var second shmzone.Registry
		closed, err := second.Commit(&first)
		Expect(err).ToNot(HaveOccurred())
		Expect(closed).To(HaveLen(1))
		Expect(closed[0].Name).To(Equal("dropped"))
	})

	It("remaps a zone whose size changed instead of reusing the old mapping", func() {
		var first shmzone.Registry
		_, err := first.Declare("z1", 4096, "T", nil)
		Expect(err).ToNot(HaveOccurred())
		_, err = first.Commit(nil)
		Expect(err).ToNot(HaveOccurred())
		oldAddr := first.Zones()[0].Addr

		var second shmzone.Registry
		_, err = second.Declare("z1", 8192, "T", nil)
		Expect(err).ToNot(HaveOccurred())
		closed, err := second.Commit(&first)
		Expect(err).ToNot(HaveOccurred())
		Expect(closed).To(HaveLen(1))

		z := second.Zones()[0]
		Expect(z.Exists).To(BeFalse())
		Expect(&z.Addr[0]).ToNot(Equal(&oldAddr[0]))

		Expect(z.Close()).To(Succeed())
	})
})
