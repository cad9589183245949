package vm

import (
	"github.com/Tell-dev/TixTrust/core"
	"github.com/Tell-dev/TixTrust/events"
)

// Payer performs the external payment transfer at the end of a purchase.
// Implementations may hand control to arbitrary code before returning, so
// handlers must commit their own bookkeeping before calling it and must
// hold the reentrancy guard across the call.
type Payer interface {
	Transfer(st core.State, from, to string, amount uint64) error
}

// Guard rejects nested invocations of guarded operations. It is not a
// lock: concurrency is excluded by the engine's serialization, so the
// only way Enter can find the guard held is a reentrant call from
// within an external collaborator.
type Guard struct {
	held bool
}

// Enter acquires the guard, failing with ErrReentrantCall if it is
// already held by the operation in progress.
func (g *Guard) Enter() error {
	if g.held {
		return core.ErrReentrantCall
	}
	g.held = true
	return nil
}

// Exit releases the guard.
func (g *Guard) Exit() {
	g.held = false
}

// Context is passed to every Handler and provides access to the
// marketplace state, the triggering transaction, the operation clock,
// the payment collaborator, and the reentrancy guard.
//
// Handlers do not emit events directly: they queue them via Notify and
// the engine emits the queue only after the operation's mutations have
// been committed. A failed operation's queue is discarded.
type Context struct {
	State core.State
	Tx    *core.Transaction
	Time  int64 // unix seconds, fixed for the whole operation
	Payer Payer
	Guard *Guard

	queued []events.Event
}

// Notify queues ev for emission after commit.
func (c *Context) Notify(ev events.Event) {
	ev.TxID = c.Tx.ID
	c.queued = append(c.queued, ev)
}

// Queued returns the events notified so far.
func (c *Context) Queued() []events.Event {
	return c.queued
}
