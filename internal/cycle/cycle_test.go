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
package cycle_test

import (
	"context"
	"os"
	"path/filepath"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/sabouaram/ember/internal/cycle"
	"github.com/sabouaram/ember/internal/module"
)

func buildPlain(dir string) *cycle.Cycle {
	c, err := cycle.Build(context.Background(), nil, &module.Registry{}, nil, cycle.Options{
		DefaultPidPath: filepath.Join(dir, "ember.pid"),
	})
	Expect(err).ToNot(HaveOccurred())
	return c
}

var _ = Describe("Cycle", func() {
	var dir string

	BeforeEach(func() {
		dir = GinkgoT().TempDir()
	})

	It("is not retirable until marked, nor while references remain", func() {
		c := buildPlain(dir)
		Expect(c.Retirable()).To(BeFalse())

		c.IncRef()
		c.MarkRetiring(1)
		Expect(c.Retirable()).To(BeFalse())

		c.DecRef()
		Expect(c.Retirable()).To(BeTrue())
		Expect(c.Destroy()).To(Succeed())
	})

	It("registers, opens and reopens files preserving slot identity", func() {
		c := buildPlain(dir)
		name := filepath.Join(dir, "access.log")

		f, err := c.OpenFiles.Register(name)
		Expect(err).ToNot(HaveOccurred())
		Expect(f.Name()).To(Equal(name))
		Expect(c.OpenFiles.Len()).To(Equal(1))

		Expect(c.OpenFiles.OpenAll()).To(Succeed())
		first := f.FD()
		Expect(first).To(BeNumerically(">=", 0))

		// Rotate the file away; reopen must create a fresh one in place.
		Expect(os.Rename(name, name+".1")).To(Succeed())
		Expect(c.OpenFiles.Reopen()).To(Succeed())
		Expect(f.FD()).To(BeNumerically(">=", 0))
		Expect(name).To(BeAnExistingFile())

		c.OpenFiles.CloseAll()
		Expect(f.FD()).To(Equal(int32(-1)))
		Expect(c.Destroy()).To(Succeed())
	})

	It("rolls every opened fd back when one registered file cannot open", func() {
		c := buildPlain(dir)

		ok, err := c.OpenFiles.Register(filepath.Join(dir, "a.log"))
		Expect(err).ToNot(HaveOccurred())
		_, err = c.OpenFiles.Register(filepath.Join(dir, "missing-dir", "b.log"))
		Expect(err).ToNot(HaveOccurred())

		Expect(c.OpenFiles.OpenAll()).ToNot(Succeed())
		Expect(ok.FD()).To(Equal(int32(-1)))
		Expect(c.Destroy()).To(Succeed())
	})
})
