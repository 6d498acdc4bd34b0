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
package worker_test

import (
	"context"
	"path/filepath"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/sabouaram/ember/internal/channel"
	"github.com/sabouaram/ember/internal/cycle"
	"github.com/sabouaram/ember/internal/module"
	"github.com/sabouaram/ember/internal/worker"
)

// fakeProc counts loop iterations and flips idle after drainAfter calls,
// standing in for the external event processor.
type fakeProc struct {
	calls      int
	drainAfter int
	onCall     func(n int)
}

func (p *fakeProc) ProcessEventsAndTimers(*cycle.Cycle) error {
	p.calls++
	if p.onCall != nil {
		p.onCall(p.calls)
	}
	return nil
}

func (p *fakeProc) Idle() bool { return p.calls >= p.drainAfter }

func buildCycle(dir string, reg *module.Registry) *cycle.Cycle {
	c, err := cycle.Build(context.Background(), nil, reg, nil, cycle.Options{
		DefaultPidPath: filepath.Join(dir, "ember.pid"),
	})
	Expect(err).ToNot(HaveOccurred())
	return c
}

var _ = Describe("Worker", func() {
	var (
		dir string
		reg *module.Registry
	)

	BeforeEach(func() {
		dir = GinkgoT().TempDir()
		reg = &module.Registry{}
	})

	It("exits immediately on terminate without draining", func() {
		w := &worker.Worker{Cycle: buildCycle(dir, reg), Registry: reg}
		w.Term.Store(true)

		proc := &fakeProc{drainAfter: 1 << 30}
		Expect(w.Run(proc)).To(Succeed())
		Expect(proc.calls).To(Equal(0))
	})

	It("drains to idle before exiting on quit", func() {
		w := &worker.Worker{Cycle: buildCycle(dir, reg), Registry: reg}
		w.Quit.Store(true)

		proc := &fakeProc{drainAfter: 3}
		Expect(w.Run(proc)).To(Succeed())
		Expect(proc.calls).To(Equal(3))
	})

	It("runs exit_process hooks in reverse registration order", func() {
		var order []string
		reg.Register(&module.Descriptor{Name: "first", ExitProcess: func(interface{}) {
			order = append(order, "first")
		}})
		reg.Register(&module.Descriptor{Name: "second", ExitProcess: func(interface{}) {
			order = append(order, "second")
		}})

		w := &worker.Worker{Cycle: buildCycle(dir, reg), Registry: reg}
		w.Term.Store(true)
		Expect(w.Run(&fakeProc{})).To(Succeed())
		Expect(order).To(Equal([]string{"second", "first"}))
	})

	It("maps channel commands onto the same flags signals set", func() {
		w := &worker.Worker{}

		w.HandleChannel(channel.Message{Command: channel.Quit})
		Expect(w.Quit.Load()).To(BeTrue())

		w.HandleChannel(channel.Message{Command: channel.Terminate})
		Expect(w.Term.Load()).To(BeTrue())

		w.HandleChannel(channel.Message{Command: channel.Reopen})
		Expect(w.Reopen.Load()).To(BeTrue())
	})

	It("survives a panicking event processor iteration", func() {
		w := &worker.Worker{Cycle: buildCycle(dir, reg), Registry: reg}

		proc := &fakeProc{drainAfter: 2, onCall: func(n int) {
			if n == 1 {
				w.Quit.Store(true)
				panic("handler blew up")
			}
		}}
		Expect(w.Run(proc)).To(Succeed())
		Expect(proc.calls).To(BeNumerically(">=", 2))
	})
})
