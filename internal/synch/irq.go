// Copyright 2015 Google Inc. All Rights Reserved.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package synch

// InterruptController abstracts the architecture layer's
// interrupts_enable/disable/read/restore primitives (spec.md §6, "consumed
// contracts only"). The kernel proper never talks to hardware directly; it
// goes through this interface so that IRQSpinLock is testable on a normal
// goroutine scheduler, where "interrupts" are a simulated per-CPU flag
// rather than a real CPU register.
type InterruptController interface {
	// Read returns whether interrupts are currently enabled.
	Read() bool

	// Disable turns interrupts off and returns the previous state.
	Disable() bool

	// Restore sets the interrupt-enable state back to a previously observed
	// value.
	Restore(enabled bool)
}

// noopInterrupts is the default InterruptController for hosted (non-kernel)
// use: there are no real interrupts to mask, so it just remembers the
// requested state for API parity with the real architecture layer.
type noopInterrupts struct {
	enabled bool
}

func (n *noopInterrupts) Read() bool    { return n.enabled }
func (n *noopInterrupts) Disable() bool { prev := n.enabled; n.enabled = false; return prev }
func (n *noopInterrupts) Restore(v bool) { n.enabled = v }

// DefaultInterrupts is shared by IRQSpinLocks that are not given an explicit
// InterruptController; it starts "interrupts enabled", matching a running
// system.
var DefaultInterrupts InterruptController = &noopInterrupts{enabled: true}

// IRQSpinLock layers the "disable interrupts, then take the inner lock"
// discipline on top of SpinLock. Cf. kernel/generic/include/synch/spinlock.h's
// irq_spinlock_t, which stashes the pre-acquire interrupt-enable state
// (ipl_t) alongside the plain spinlock.
type IRQSpinLock struct {
	inner SpinLock
	arch  InterruptController
}

// Init names the lock, assigns its class, and binds it to an
// InterruptController. A nil controller uses DefaultInterrupts.
func (l *IRQSpinLock) Init(name string, class LockClass, arch InterruptController) {
	l.inner.Init(name, class)
	if arch == nil {
		arch = DefaultInterrupts
	}
	l.arch = arch
}

// Guard is returned by Lock/Pass/Exchange and consumed by Unlock/Pass/Exchange.
// It exists so that "never re-enable interrupts between a chain of IRQ
// spinlock handoffs" is enforced by the type system: the only way to get rid
// of a Guard is to hand it to another IRQSpinLock operation or to Unlock it.
type Guard struct {
	lock         *IRQSpinLock
	priorEnabled bool
	valid        bool
}

// Lock disables interrupts (if disableIRQ is true) and takes the inner
// spinlock, returning a Guard that remembers the interrupt state to restore.
func (l *IRQSpinLock) Lock(disableIRQ bool) Guard {
	var prior bool
	if disableIRQ {
		prior = l.arch.Disable()
	} else {
		prior = l.arch.Read()
	}

	l.inner.Lock()

	return Guard{lock: l, priorEnabled: prior, valid: true}
}

// TryLock is the non-blocking counterpart of Lock.
func (l *IRQSpinLock) TryLock(disableIRQ bool) (Guard, bool) {
	var prior bool
	if disableIRQ {
		prior = l.arch.Disable()
	} else {
		prior = l.arch.Read()
	}

	if !l.inner.TryLock() {
		if disableIRQ {
			l.arch.Restore(prior)
		}
		return Guard{}, false
	}

	return Guard{lock: l, priorEnabled: prior, valid: true}, true
}

// Unlock releases the inner lock and, if restoreIRQ is true, restores the
// interrupt-enable state captured at Lock time.
func (g *Guard) Unlock(restoreIRQ bool) {
	if !g.valid {
		panic("synch: Unlock of zero-value Guard")
	}

	g.lock.inner.Unlock()
	if restoreIRQ {
		g.lock.arch.Restore(g.priorEnabled)
	}
	g.valid = false
}

// Pass atomically transfers ownership of a chain of IRQ spinlocks from g's
// lock to `to`, without ever re-enabling interrupts in between — so the
// invariant "interrupts are disabled while any IRQ spinlock in this chain is
// held" holds across the handoff. It consumes g and returns a new Guard for
// `to`.
func (g *Guard) Pass(to *IRQSpinLock) Guard {
	if !g.valid {
		panic("synch: Pass of zero-value Guard")
	}

	to.inner.Lock()
	g.lock.inner.Unlock()

	out := Guard{lock: to, priorEnabled: g.priorEnabled, valid: true}
	g.valid = false
	return out
}

// Exchange swaps which of two IRQ spinlocks is currently held: it acquires
// `other` and releases g's lock, carrying the saved interrupt state along
// exactly like Pass. The two differ only in caller intent (Exchange is used
// when the two locks are peers being swapped, Pass when handing a chain
// forward) — mechanically they are the same operation.
func (g *Guard) Exchange(other *IRQSpinLock) Guard {
	return g.Pass(other)
}
